// Package tools holds the actions the agent can take and the registry the
// agent loop dispatches through.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/0324wy/yana/internal/llm"
)

var (
	ErrNotFound         = errors.New("tool not found")
	ErrPermissionDenied = errors.New("permission denied")
)

// Tool is one callable action. Run receives the parsed arguments, which are
// never nil but may be missing required keys.
type Tool interface {
	Definition() llm.Tool
	Run(ctx context.Context, args map[string]any) (string, error)
}

// Func adapts a plain function to Tool.
type Func struct {
	Def llm.Tool
	Fn  func(ctx context.Context, args map[string]any) (string, error)
}

func (f Func) Definition() llm.Tool { return f.Def }

func (f Func) Run(ctx context.Context, args map[string]any) (string, error) {
	return f.Fn(ctx, args)
}

// Registry maps tool names to tools. Definitions are returned in
// registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	name := t.Definition().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

func (r *Registry) Definitions() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Execute runs the named tool. Unknown names fail with ErrNotFound.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	return t.Run(ctx, args)
}
