package agent

import "fmt"

type EventKind string

const (
	EventStatus     EventKind = "status"
	EventDelta      EventKind = "delta"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventToolError  EventKind = "tool_error"
)

// Event reports progress within a turn. Which fields are set depends on
// Kind.
type Event struct {
	Kind      EventKind
	Iteration int
	Text      string // status message or text delta
	Tool      string
	CallID    string
	Args      map[string]any
	Result    string
	Err       error
}

// Handler receives events synchronously, in order.
type Handler func(Event)

// ToolError ends a turn when a tool call fails.
type ToolError struct {
	Tool   string
	CallID string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }
