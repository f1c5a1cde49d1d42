package llm

import (
	"encoding/json"
	"unicode/utf8"
)

// Rough token accounting for context trimming. ASCII text averages about
// four bytes per token; other scripts are closer to one token per rune.
const (
	asciiPerToken      = 4
	messageOverhead    = 4 // role and delimiters
	toolCallOverhead   = 4
	toolResultOverhead = 2
	toolDefOverhead    = 10
)

// EstimateTokens returns a rough token count for s, rounded up.
func EstimateTokens(s string) int {
	ascii, other := 0, 0
	for i := 0; i < len(s); {
		if s[i] < utf8.RuneSelf {
			ascii++
			i++
			continue
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		other++
		i += size
	}
	return (ascii+asciiPerToken-1)/asciiPerToken + other
}

// EstimateMessageTokens estimates one message including its tool calls and
// framing.
func EstimateMessageTokens(m Message) int {
	n := messageOverhead + EstimateTokens(m.Content) + EstimateTokens(m.Name)
	for _, tc := range m.ToolCalls {
		n += toolCallOverhead + EstimateTokens(tc.Name) + EstimateTokens(tc.Arguments)
	}
	if m.ToolCallID != "" {
		n += toolResultOverhead + EstimateTokens(m.ToolCallID)
	}
	return n
}

func EstimateMessagesTokens(messages []Message) int {
	n := 0
	for _, m := range messages {
		n += EstimateMessageTokens(m)
	}
	return n
}

// EstimateToolsTokens estimates tool definitions as sent in a request.
func EstimateToolsTokens(tools []Tool) int {
	n := 0
	for _, t := range tools {
		n += toolDefOverhead + EstimateTokens(t.Name) + EstimateTokens(t.Description)
		if len(t.Parameters) == 0 {
			continue
		}
		if schema, err := json.Marshal(t.Parameters); err == nil {
			n += EstimateTokens(string(schema))
		}
	}
	return n
}
