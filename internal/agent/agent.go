// Package agent runs the bounded reason-act loop: call the model, execute
// the tools it asks for, feed the results back, repeat.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/0324wy/yana/internal/llm"
	"github.com/0324wy/yana/internal/session"
)

const (
	DefaultMaxIterations = 4

	// minMessageBudget is the floor for history trimming so the current turn
	// always fits.
	minMessageBudget = 1000
)

// Tools is the registry the loop dispatches tool calls through.
type Tools interface {
	Definitions() []llm.Tool
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

type Config struct {
	// MaxIterations caps provider calls per turn. Zero means
	// DefaultMaxIterations.
	MaxIterations int
	// SystemPrompt is prepended to every request. Empty means
	// llm.DefaultSystemPrompt.
	SystemPrompt string
	// Model overrides the provider's default model.
	Model string
	// MaxContextTokens enables history trimming when positive.
	MaxContextTokens int
}

type Agent struct {
	provider llm.Provider
	tools    Tools
	sessions session.Store
	cfg      Config
	logger   *slog.Logger
}

func New(provider llm.Provider, tools Tools, sessions session.Store, cfg Config, logger *slog.Logger) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = llm.DefaultSystemPrompt
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		provider: provider,
		tools:    tools,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
	}
}

// Sessions returns the store the agent persists turns to.
func (a *Agent) Sessions() session.Store { return a.sessions }

// RunOnce runs one turn for the session key using batch completions and
// returns the final answer. The answer is "" when the iteration cap is hit.
func (a *Agent) RunOnce(ctx context.Context, key, input string, onEvent Handler) (string, error) {
	return a.run(ctx, key, input, false, onEvent)
}

// RunOnceStream is RunOnce with streamed completions. Text deltas are
// reported as EventDelta as they arrive.
func (a *Agent) RunOnceStream(ctx context.Context, key, input string, onEvent Handler) (string, error) {
	return a.run(ctx, key, input, true, onEvent)
}

func (a *Agent) run(ctx context.Context, key, input string, stream bool, onEvent Handler) (string, error) {
	emit := func(e Event) {
		if onEvent != nil {
			onEvent(e)
		}
	}
	log := a.logger.With("session", key, "provider", a.provider.Name())

	sess, err := a.sessions.GetOrCreate(key)
	if err != nil {
		return "", fmt.Errorf("loading session: %w", err)
	}

	user := llm.Message{Role: llm.RoleUser, Content: input}
	turn := make([]llm.Message, 0, len(sess.History)+1)
	turn = append(turn, sess.History...)
	turn = append(turn, user)

	system := llm.Message{Role: llm.RoleSystem, Content: a.cfg.SystemPrompt}
	defs := a.tools.Definitions()
	budget := a.messageBudget(defs)

	var final string
	finished := false
	for i := 1; i <= a.cfg.MaxIterations; i++ {
		emit(Event{Kind: EventStatus, Iteration: i, Text: "waiting for " + a.provider.Name()})

		history := turn
		if budget > 0 {
			history = llm.TrimMessages(turn, budget)
			if len(history) < len(turn) {
				log.Debug("context trimmed", "from", len(turn), "to", len(history))
			}
		}
		req := llm.Request{
			Model:    a.cfg.Model,
			Messages: append([]llm.Message{system}, history...),
			Tools:    defs,
		}

		resp, err := a.complete(ctx, req, stream, i, emit)
		if err != nil {
			return "", fmt.Errorf("llm chat: %w", err)
		}
		if resp.Usage != nil {
			log.Debug("completion", "iteration", i, "finish_reason", resp.FinishReason,
				"prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)
		}

		// No tool calls: we have a final answer
		if len(resp.ToolCalls) == 0 {
			final = resp.Content
			finished = true
			break
		}

		records := make([]llm.MessageToolCall, len(resp.ToolCalls))
		for j, tc := range resp.ToolCalls {
			records[j] = tc.Record()
		}
		turn = append(turn, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: records,
		})

		for _, tc := range resp.ToolCalls {
			emit(Event{Kind: EventToolCall, Iteration: i, Tool: tc.Name, CallID: tc.ID, Args: tc.Arguments})
			result, err := a.tools.Execute(ctx, tc.Name, tc.Arguments)
			if err != nil {
				emit(Event{Kind: EventToolError, Iteration: i, Tool: tc.Name, CallID: tc.ID, Args: tc.Arguments, Err: err})
				log.Warn("tool failed", "tool", tc.Name, "error", err)
				return "", &ToolError{Tool: tc.Name, CallID: tc.ID, Err: err}
			}
			log.Debug("tool", "tool", tc.Name, "result", truncate(result, 200))
			emit(Event{Kind: EventToolResult, Iteration: i, Tool: tc.Name, CallID: tc.ID, Result: result})
			turn = append(turn, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				Name:       tc.Name,
				ToolCallID: tc.ID,
			})
		}
	}
	if !finished {
		log.Warn("iteration limit reached", "max_iterations", a.cfg.MaxIterations)
	}

	// Intermediate tool traffic stays out of the stored history.
	sess.Append(user, llm.Message{Role: llm.RoleAssistant, Content: final})
	if err := a.sessions.Save(sess); err != nil {
		return "", fmt.Errorf("saving session: %w", err)
	}
	return final, nil
}

func (a *Agent) complete(ctx context.Context, req llm.Request, stream bool, iteration int, emit Handler) (*llm.Response, error) {
	if !stream {
		return a.provider.Chat(ctx, req)
	}
	s, err := a.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return llm.Drain(s, func(text string) {
		emit(Event{Kind: EventDelta, Iteration: iteration, Text: text})
	})
}

// messageBudget is the token budget left for history once the system
// prompt and tool schemas are accounted for. Zero disables trimming.
func (a *Agent) messageBudget(defs []llm.Tool) int {
	if a.cfg.MaxContextTokens <= 0 {
		return 0
	}
	fixed := llm.EstimateTokens(a.cfg.SystemPrompt) + llm.EstimateToolsTokens(defs)
	budget := a.cfg.MaxContextTokens - fixed
	if budget < minMessageBudget {
		budget = minMessageBudget
	}
	return budget
}

// truncate shortens s to at most n runes for logging.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
