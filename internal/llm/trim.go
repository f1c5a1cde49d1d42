package llm

// TrimMessages returns the newest suffix of messages whose estimated size
// fits in maxTokens. The caller accounts for the system prompt and tool
// definitions separately.
//
// Messages are kept or dropped in whole units: an assistant message with
// tool calls travels with the tool results that follow it. The newest unit
// is always kept, even when it alone exceeds the limit. Tool results left
// without their assistant call at the front of the window are dropped.
func TrimMessages(messages []Message, maxTokens int) []Message {
	if len(messages) == 0 || EstimateMessagesTokens(messages) <= maxTokens {
		return messages
	}

	units := spans(messages)
	start := units[len(units)-1].start
	used := units[len(units)-1].tokens
	for i := len(units) - 2; i >= 0; i-- {
		if used+units[i].tokens > maxTokens {
			break
		}
		used += units[i].tokens
		start = units[i].start
	}

	for start < len(messages)-1 && messages[start].Role == RoleTool {
		start++
	}
	return messages[start:]
}

// span is a half-open range of messages that must be kept or dropped
// together.
type span struct {
	start, end int
	tokens     int
}

// spans splits messages into units: an assistant message with tool calls
// plus the tool results after it, or any other single message.
func spans(messages []Message) []span {
	var out []span
	for i := 0; i < len(messages); {
		s := span{start: i, tokens: EstimateMessageTokens(messages[i])}
		i++
		if m := messages[s.start]; m.Role == RoleAssistant && len(m.ToolCalls) > 0 {
			for i < len(messages) && messages[i].Role == RoleTool {
				s.tokens += EstimateMessageTokens(messages[i])
				i++
			}
		}
		s.end = i
		out = append(out, s)
	}
	return out
}
