package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   string
		wantOK bool
	}{
		{"nil", nil, "", false},
		{"string", "hello", "hello", true},
		{"empty string", "", "", true},
		{"parts joined without separator", []any{"a", map[string]any{"text": "b"}}, "ab", true},
		{"nested content field", []any{map[string]any{"content": []any{"x", "y"}}}, "xy", true},
		{"object without text is dropped in list", []any{map[string]any{"type": "image"}, "z"}, "z", true},
		{"all parts empty", []any{"", map[string]any{"type": "image"}}, "", false},
		{"object with text", map[string]any{"type": "text", "text": "hi"}, "hi", true},
		{"assistants text value", map[string]any{"type": "text", "text": map[string]any{"value": "hi"}}, "hi", true},
		{"assistants text value in list", []any{map[string]any{"text": map[string]any{"value": "hi"}}}, "hi", true},
		{"object without text", map[string]any{"k": "v"}, `{"k":"v"}`, true},
		{"number", 3.5, "3.5", true},
		{"bool", true, "true", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeContent(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestNormalizeRawContent(t *testing.T) {
	got, ok := NormalizeRawContent(json.RawMessage(`null`))
	assert.False(t, ok)
	assert.Empty(t, got)

	got, ok = NormalizeRawContent(nil)
	assert.False(t, ok)
	assert.Empty(t, got)

	got, ok = NormalizeRawContent(json.RawMessage(`[{"type":"text","text":"one"},{"type":"text","text":"two"}]`))
	assert.True(t, ok)
	assert.Equal(t, "onetwo", got)

	got, ok = NormalizeRawContent(json.RawMessage(`not json`))
	assert.True(t, ok)
	assert.Equal(t, "not json", got)
}

func TestSafeParseArguments(t *testing.T) {
	assert.Equal(t, map[string]any{"path": "a.txt"}, SafeParseArguments(`{"path":"a.txt"}`))
	assert.Equal(t, map[string]any{}, SafeParseArguments(""))
	assert.Equal(t, map[string]any{}, SafeParseArguments(`{"path":`))
	assert.Equal(t, map[string]any{}, SafeParseArguments(`[1,2]`))
	assert.Equal(t, map[string]any{}, SafeParseArguments(`null`))
	assert.Equal(t, map[string]any{}, SafeParseArguments(`"text"`))
}

func TestParseRawArguments(t *testing.T) {
	assert.Equal(t, map[string]any{"n": float64(1)}, ParseRawArguments(json.RawMessage(`"{\"n\":1}"`)))
	assert.Equal(t, map[string]any{"n": float64(1)}, ParseRawArguments(json.RawMessage(`{"n":1}`)))
	assert.Equal(t, map[string]any{}, ParseRawArguments(json.RawMessage(`"oops"`)))
	assert.Equal(t, map[string]any{}, ParseRawArguments(nil))
}

func TestToolCallRecord(t *testing.T) {
	rec := ToolCall{ID: "c1", Name: "get_note", Arguments: map[string]any{"key": "todo"}}.Record()
	assert.Equal(t, MessageToolCall{ID: "c1", Name: "get_note", Arguments: `{"key":"todo"}`}, rec)

	rec = ToolCall{ID: "c2", Name: "get_time"}.Record()
	assert.Equal(t, "{}", rec.Arguments)
}
