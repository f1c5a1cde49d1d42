package agent

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0324wy/yana/internal/llm"
	"github.com/0324wy/yana/internal/session"
	"github.com/0324wy/yana/internal/tools"
)

// scripted replays canned responses and records every request it sees.
type scripted struct {
	mu        sync.Mutex
	responses []*llm.Response
	err       error
	requests  []llm.Request
}

func (p *scripted) Name() string { return "scripted" }

func (p *scripted) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := make([]llm.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.responses) == 0 {
		return &llm.Response{Content: "done", FinishReason: "stop"}, nil
	}
	r := p.responses[0]
	if len(p.responses) > 1 {
		p.responses = p.responses[1:]
	}
	return r, nil
}

func (p *scripted) Stream(ctx context.Context, req llm.Request) (*llm.Stream, error) {
	return nil, errors.New("not supported")
}

func callTool(id, name string, args map[string]any) *llm.Response {
	return &llm.Response{
		ToolCalls:    []llm.ToolCall{{ID: id, Name: name, Arguments: args}},
		FinishReason: "tool_calls",
	}
}

func newStore(t *testing.T) *session.FileStore {
	t.Helper()
	store, err := session.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func TestRunOnce_Hello(t *testing.T) {
	p := &scripted{responses: []*llm.Response{{Content: "Hi there!", FinishReason: "stop"}}}
	store := newStore(t)
	a := New(p, tools.NewRegistry(), store, Config{}, nil)

	out, err := a.RunOnce(context.Background(), "cli:default", "Hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", out)

	require.Len(t, p.requests, 1)
	msgs := p.requests[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, llm.DefaultSystemPrompt, msgs[0].Content)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "Hello"}, msgs[1])

	data, err := os.ReadFile(store.Path("cli:default"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))

	sess, err := store.GetOrCreate("cli:default")
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "Hello"},
		{Role: llm.RoleAssistant, Content: "Hi there!"},
	}, sess.History)
}

func TestRunOnce_HistoryCarriesOver(t *testing.T) {
	p := &scripted{responses: []*llm.Response{{Content: "first"}, {Content: "second"}}}
	a := New(p, tools.NewRegistry(), newStore(t), Config{SystemPrompt: "sys"}, nil)

	_, err := a.RunOnce(context.Background(), "k", "one", nil)
	require.NoError(t, err)
	_, err = a.RunOnce(context.Background(), "k", "two", nil)
	require.NoError(t, err)

	require.Len(t, p.requests, 2)
	msgs := p.requests[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "sys", msgs[0].Content)
	assert.Equal(t, "one", msgs[1].Content)
	assert.Equal(t, "first", msgs[2].Content)
	assert.Equal(t, "two", msgs[3].Content)
}

func TestRunOnce_ToolRoundTrip(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("contents"), 0o644))
	policy, err := tools.NewPathPolicy(root)
	require.NoError(t, err)

	p := &scripted{responses: []*llm.Response{
		callTool("call_1", "read_file", map[string]any{"path": "a.txt"}),
		{Content: "The file says: contents", FinishReason: "stop"},
	}}
	store := newStore(t)
	a := New(p, tools.NewRegistry(tools.Builtins(policy, nil)...), store, Config{}, nil)

	out, err := a.RunOnce(context.Background(), "k", "read a.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "The file says: contents", out)

	require.Len(t, p.requests, 2)
	names := make([]string, 0, len(p.requests[0].Tools))
	for _, def := range p.requests[0].Tools {
		names = append(names, def.Name)
	}
	assert.Contains(t, names, "read_file")

	second := p.requests[1].Messages
	require.Len(t, second, 4)
	assistant := second[2]
	assert.Equal(t, llm.RoleAssistant, assistant.Role)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "call_1", assistant.ToolCalls[0].ID)
	assert.JSONEq(t, `{"path":"a.txt"}`, assistant.ToolCalls[0].Arguments)

	result := second[3]
	assert.Equal(t, llm.RoleTool, result.Role)
	assert.Equal(t, "call_1", result.ToolCallID)
	assert.Equal(t, "read_file", result.Name)
	assert.Equal(t, "contents", result.Content)

	// Only the user message and final answer are stored.
	sess, err := store.GetOrCreate("k")
	require.NoError(t, err)
	require.Len(t, sess.History, 2)
	assert.Equal(t, "The file says: contents", sess.History[1].Content)
}

func TestRunOnce_IterationLimit(t *testing.T) {
	loop := callTool("c", "get_time", map[string]any{})
	p := &scripted{responses: []*llm.Response{loop}}
	store := newStore(t)
	a := New(p, tools.NewRegistry(tools.Builtins(nil, nil)...), store, Config{}, nil)

	out, err := a.RunOnce(context.Background(), "k", "loop forever", nil)
	require.NoError(t, err)
	assert.Equal(t, "", out)
	assert.Len(t, p.requests, DefaultMaxIterations)

	sess, err := store.GetOrCreate("k")
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{
		{Role: llm.RoleUser, Content: "loop forever"},
		{Role: llm.RoleAssistant},
	}, sess.History)
}

func TestRunOnce_CustomIterationLimit(t *testing.T) {
	p := &scripted{responses: []*llm.Response{callTool("c", "get_time", nil)}}
	a := New(p, tools.NewRegistry(tools.Builtins(nil, nil)...), newStore(t), Config{MaxIterations: 2}, nil)

	_, err := a.RunOnce(context.Background(), "k", "x", nil)
	require.NoError(t, err)
	assert.Len(t, p.requests, 2)
}

func TestRunOnce_ToolErrorFailsTurn(t *testing.T) {
	p := &scripted{responses: []*llm.Response{
		callTool("c1", "read_file", map[string]any{"path": "/etc/passwd"}),
	}}
	policy, err := tools.NewPathPolicy(t.TempDir())
	require.NoError(t, err)
	store := newStore(t)
	a := New(p, tools.NewRegistry(tools.Builtins(policy, nil)...), store, Config{}, nil)

	var events []Event
	_, err = a.RunOnce(context.Background(), "k", "read it", func(e Event) { events = append(events, e) })
	require.Error(t, err)

	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "read_file", te.Tool)
	assert.ErrorIs(t, err, tools.ErrPermissionDenied)

	last := events[len(events)-1]
	assert.Equal(t, EventToolError, last.Kind)
	assert.Equal(t, "c1", last.CallID)

	assert.NoFileExists(t, store.Path("k"))
}

func TestRunOnce_UnknownTool(t *testing.T) {
	p := &scripted{responses: []*llm.Response{callTool("c1", "launch_rockets", nil)}}
	a := New(p, tools.NewRegistry(), newStore(t), Config{}, nil)

	_, err := a.RunOnce(context.Background(), "k", "x", nil)
	assert.ErrorIs(t, err, tools.ErrNotFound)
}

func TestRunOnce_ProviderErrorPersistsNothing(t *testing.T) {
	p := &scripted{err: errors.New("boom")}
	store := newStore(t)
	a := New(p, tools.NewRegistry(), store, Config{}, nil)

	_, err := a.RunOnce(context.Background(), "k", "x", nil)
	require.ErrorContains(t, err, "boom")
	assert.NoFileExists(t, store.Path("k"))
}

func TestRunOnce_EventOrder(t *testing.T) {
	p := &scripted{responses: []*llm.Response{
		callTool("c1", "get_time", map[string]any{}),
		{Content: "It is morning."},
	}}
	a := New(p, tools.NewRegistry(tools.Builtins(nil, nil)...), newStore(t), Config{}, nil)

	var kinds []EventKind
	_, err := a.RunOnce(context.Background(), "k", "time?", func(e Event) { kinds = append(kinds, e.Kind) })
	require.NoError(t, err)
	assert.Equal(t, []EventKind{EventStatus, EventToolCall, EventToolResult, EventStatus}, kinds)
}

func TestRunOnce_TrimsHistory(t *testing.T) {
	store := newStore(t)
	sess, err := store.GetOrCreate("k")
	require.NoError(t, err)
	long := strings.Repeat("x", 4000)
	for i := 0; i < 10; i++ {
		sess.Append(
			llm.Message{Role: llm.RoleUser, Content: long},
			llm.Message{Role: llm.RoleAssistant, Content: long},
		)
	}
	require.NoError(t, store.Save(sess))

	p := &scripted{}
	a := New(p, tools.NewRegistry(), store, Config{MaxContextTokens: 3000}, nil)
	_, err = a.RunOnce(context.Background(), "k", "latest", nil)
	require.NoError(t, err)

	require.Len(t, p.requests, 1)
	msgs := p.requests[0].Messages
	assert.Less(t, len(msgs), 22)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "latest", msgs[len(msgs)-1].Content)
}

func TestRunOnceStream(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		var events []string
		if n == 1 {
			events = []string{
				`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_time","arguments":""}}]}}]}`,
				`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{}"}}]}}]}`,
				`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
				`data: [DONE]`,
			}
		} else {
			events = []string{
				`data: {"choices":[{"delta":{"content":"Good"}}]}`,
				`data: {"choices":[{"delta":{"content":" morning"}}]}`,
				`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
				`data: [DONE]`,
			}
		}
		for _, e := range events {
			io.WriteString(w, e+"\n\n")
		}
	}))
	t.Cleanup(srv.Close)

	provider := llm.NewOpenAIClient("openai", llm.ClientOptions{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "gpt-test",
		Timeout: 5 * time.Second,
	})
	store := newStore(t)
	a := New(provider, tools.NewRegistry(tools.Builtins(nil, nil)...), store, Config{}, nil)

	var deltas []string
	var kinds []EventKind
	out, err := a.RunOnceStream(context.Background(), "k", "good morning?", func(e Event) {
		kinds = append(kinds, e.Kind)
		if e.Kind == EventDelta {
			deltas = append(deltas, e.Text)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "Good morning", out)
	assert.Equal(t, []string{"Good", " morning"}, deltas)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []EventKind{EventStatus, EventToolCall, EventToolResult, EventStatus, EventDelta, EventDelta}, kinds)

	sess, err := store.GetOrCreate("k")
	require.NoError(t, err)
	require.Len(t, sess.History, 2)
	assert.Equal(t, "Good morning", sess.History[1].Content)
}

func TestRunOnceStream_ToolErrorFailsTurn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range []string{
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"/etc/passwd\"}"}}]}}]}`,
			`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
			`data: [DONE]`,
		} {
			io.WriteString(w, e+"\n\n")
		}
	}))
	t.Cleanup(srv.Close)

	provider := llm.NewOpenAIClient("openai", llm.ClientOptions{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	})
	policy, err := tools.NewPathPolicy(t.TempDir())
	require.NoError(t, err)
	store := newStore(t)
	a := New(provider, tools.NewRegistry(tools.Builtins(policy, nil)...), store, Config{}, nil)

	var events []Event
	_, err = a.RunOnceStream(context.Background(), "k", "read it", func(e Event) { events = append(events, e) })

	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "read_file", te.Tool)
	assert.ErrorIs(t, err, tools.ErrPermissionDenied)

	last := events[len(events)-1]
	assert.Equal(t, EventToolError, last.Kind)
	assert.Equal(t, "call_1", last.CallID)

	assert.NoFileExists(t, store.Path("k"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "héll...", truncate("héllo", 4))
	assert.Equal(t, "日本...", truncate("日本語", 2))
}
