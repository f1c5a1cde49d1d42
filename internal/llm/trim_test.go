package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conversation() []Message {
	return []Message{
		{Role: RoleUser, Content: "old question"},
		{Role: RoleAssistant, Content: "old answer"},
		{Role: RoleUser, Content: "what's in notes.md?"},
		{Role: RoleAssistant, ToolCalls: []MessageToolCall{{ID: "call_1", Name: "read_file", Arguments: `{"path":"notes.md"}`}}},
		{Role: RoleTool, Content: "buy milk", ToolCallID: "call_1"},
		{Role: RoleAssistant, Content: "The note says: buy milk."},
	}
}

func TestTrimMessages_FitsUnchanged(t *testing.T) {
	msgs := conversation()
	assert.Equal(t, msgs, TrimMessages(msgs, 100000))
	assert.Empty(t, TrimMessages(nil, 100))
}

func TestTrimMessages_DropsOldestFirst(t *testing.T) {
	msgs := conversation()
	got := TrimMessages(msgs, EstimateMessagesTokens(msgs[2:]))
	assert.Equal(t, msgs[2:], got)
}

func TestTrimMessages_KeepsToolExchangeWhole(t *testing.T) {
	msgs := conversation()
	// Room for the tool result and final answer but not the call itself:
	// the exchange is dropped as a unit.
	got := TrimMessages(msgs, EstimateMessagesTokens(msgs[4:]))
	assert.Equal(t, msgs[5:], got)
}

func TestTrimMessages_AlwaysKeepsNewest(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "short"},
		{Role: RoleUser, Content: strings.Repeat("x", 10000)},
	}
	got := TrimMessages(msgs, 1)
	require.Len(t, got, 1)
	assert.Equal(t, msgs[1], got[0])
}

func TestTrimMessages_DropsLeadingToolResults(t *testing.T) {
	// History that already starts mid-exchange.
	msgs := []Message{
		{Role: RoleTool, Content: strings.Repeat("r", 400), ToolCallID: "gone"},
		{Role: RoleUser, Content: "next"},
		{Role: RoleAssistant, Content: "ok"},
	}
	got := TrimMessages(msgs, EstimateMessagesTokens(msgs)-1)
	assert.Equal(t, msgs[1:], got)
}

func TestSpans(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "do two things"},
		{Role: RoleAssistant, ToolCalls: []MessageToolCall{
			{ID: "call_a", Name: "get_time", Arguments: "{}"},
			{ID: "call_b", Name: "get_note", Arguments: `{"key":"todo"}`},
		}},
		{Role: RoleTool, Content: "2026-10-18T09:00:00Z", ToolCallID: "call_a"},
		{Role: RoleTool, Content: "buy milk", ToolCallID: "call_b"},
		{Role: RoleAssistant, Content: "Done."},
	}

	got := spans(msgs)
	require.Len(t, got, 4)
	assert.Equal(t, span{start: 2, end: 5, tokens: EstimateMessagesTokens(msgs[2:5])}, got[2])

	total := 0
	for _, s := range got {
		total += s.tokens
	}
	assert.Equal(t, EstimateMessagesTokens(msgs), total)
}
