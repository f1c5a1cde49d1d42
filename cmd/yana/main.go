package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/0324wy/yana/config"
	"github.com/0324wy/yana/internal/agent"
	"github.com/0324wy/yana/internal/db"
	"github.com/0324wy/yana/internal/llm"
	"github.com/0324wy/yana/internal/session"
	"github.com/0324wy/yana/internal/tools"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// runtime holds what subcommands share: configuration, the logger and a
// lazily opened database.
type runtime struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *db.DB
}

func newRootCmd() *cobra.Command {
	rt := &runtime{}
	root := &cobra.Command{
		Use:          "yana",
		Short:        "A personal assistant that can call tools",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.setup(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return rt.close()
		},
	}
	root.AddCommand(
		newChatCmd(rt),
		newAskCmd(rt),
		newBotCmd(rt),
		newScheduleCmd(rt),
		newServiceCmd(rt),
	)
	return root
}

func (rt *runtime) setup(logOut io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	rt.cfg = cfg
	rt.logger = slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(rt.logger)
	return nil
}

func (rt *runtime) close() error {
	if rt.db == nil {
		return nil
	}
	err := rt.db.Close()
	rt.db = nil
	return err
}

func (rt *runtime) database() (*db.DB, error) {
	if rt.db != nil {
		return rt.db, nil
	}
	path := rt.cfg.DatabasePath
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	rt.db = d
	return d, nil
}

func (rt *runtime) sessions(d *db.DB) (session.Store, error) {
	if rt.cfg.SessionBackend == config.SessionBackendSQLite {
		return d.Sessions(), nil
	}
	return session.NewFileStore(rt.cfg.SessionDir, rt.logger)
}

// agent wires the provider, tools and session store from the config.
func (rt *runtime) agent() (*agent.Agent, error) {
	provider, err := llm.NewClient(rt.cfg.ProviderConfig(rt.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	d, err := rt.database()
	if err != nil {
		return nil, err
	}
	store, err := rt.sessions(d)
	if err != nil {
		return nil, err
	}

	var policy *tools.PathPolicy
	if len(rt.cfg.AllowedPaths) > 0 {
		policy, err = tools.NewPathPolicy(rt.cfg.AllowedPaths...)
		if err != nil {
			return nil, fmt.Errorf("allowed paths: %w", err)
		}
	}
	registry := tools.NewRegistry(tools.Builtins(policy, d)...)

	return agent.New(provider, registry, store, agent.Config{
		MaxIterations:    rt.cfg.MaxIterations,
		SystemPrompt:     rt.cfg.SystemPrompt,
		MaxContextTokens: rt.cfg.MaxContextTokens,
	}, rt.logger), nil
}
