package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizeContent flattens a decoded "content" value into text. The boolean
// is false when the value carries no content at all.
//
// Strings are returned as-is. Lists are normalized part by part and joined
// without a separator, dropping empty parts. Objects yield their text or
// content field. Anything else is rendered as JSON.
func NormalizeContent(v any) (string, bool) {
	switch c := v.(type) {
	case nil:
		return "", false
	case string:
		return c, true
	case []any:
		var b strings.Builder
		found := false
		for _, part := range c {
			s, ok := normalizePart(part)
			if !ok || s == "" {
				continue
			}
			b.WriteString(s)
			found = true
		}
		if !found {
			return "", false
		}
		return b.String(), true
	case map[string]any:
		if s, ok := fieldContent(c); ok {
			return s, true
		}
		return marshalFallback(c), true
	default:
		return marshalFallback(c), true
	}
}

// NormalizeRawContent decodes raw JSON and normalizes it. Invalid JSON is
// treated as plain text.
func NormalizeRawContent(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw), true
	}
	return NormalizeContent(v)
}

// normalizePart handles one element of a content list. Objects without a
// text or content field are dropped.
func normalizePart(part any) (string, bool) {
	switch p := part.(type) {
	case map[string]any:
		return fieldContent(p)
	case []any, string, nil:
		return NormalizeContent(p)
	default:
		return marshalFallback(p), true
	}
}

// fieldContent reads the text of a content part. The Assistants shape nests
// it one level deeper as {"text": {"value": "..."}}.
func fieldContent(obj map[string]any) (string, bool) {
	for _, key := range []string{"text", "value", "content"} {
		if v, ok := obj[key]; ok {
			if s, ok := NormalizeContent(v); ok {
				return s, true
			}
		}
	}
	return "", false
}

func marshalFallback(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// SafeParseArguments parses tool-call arguments. It returns an empty map for
// anything that is not a JSON object.
func SafeParseArguments(text string) map[string]any {
	text = strings.TrimSpace(text)
	if text == "" {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return map[string]any{}
	}
	m, ok := v.(map[string]any)
	if !ok || m == nil {
		return map[string]any{}
	}
	return m
}

// ParseRawArguments accepts arguments either as a JSON string holding JSON
// text (OpenAI) or as an inline JSON object (Anthropic, some compatible
// servers).
func ParseRawArguments(raw json.RawMessage) map[string]any {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return map[string]any{}
		}
		return SafeParseArguments(s)
	}
	return SafeParseArguments(string(raw))
}
