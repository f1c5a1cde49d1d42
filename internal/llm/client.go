package llm

import (
	"context"
	"encoding/json"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation context. An empty Content is the
// null content.
type Message struct {
	Role       Role              `json:"role"`
	Content    string            `json:"content,omitempty"`
	Name       string            `json:"name,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"` // for tool result messages
	ToolCalls  []MessageToolCall `json:"tool_calls,omitempty"`
}

// MessageToolCall is a tool call as recorded in history, with the arguments
// kept as JSON text.
type MessageToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a tool invocation requested by the model. Arguments is never nil.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Record converts the call into its history form.
func (tc ToolCall) Record() MessageToolCall {
	args := tc.Arguments
	if args == nil {
		args = map[string]any{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		b = []byte("{}")
	}
	return MessageToolCall{ID: tc.ID, Name: tc.Name, Arguments: string(b)}
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed model answer, or one fragment of a streamed answer.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *Usage
}

type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request is one provider call. An empty Model selects the client's default.
type Request struct {
	Model    string
	Messages []Message
	Tools    []Tool
}

// Provider is a vendor adapter.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (*Stream, error)
}
