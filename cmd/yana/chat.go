package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/0324wy/yana/internal/agent"
)

const (
	prompt        = "yana> "
	defaultCLIKey = "cli:default"
	exhaustedNote = "(no answer: the iteration limit was reached)"
)

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func newChatCmd(rt *runtime) *cobra.Command {
	var stream bool
	var key string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to yana interactively",
		Long:  "Talk to yana interactively. /reset clears the conversation, exit or quit leaves.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ag, err := rt.agent()
			if err != nil {
				return err
			}
			c := &chatLoop{
				in:          cmd.InOrStdin(),
				out:         cmd.OutOrStdout(),
				errOut:      cmd.ErrOrStderr(),
				interactive: stdinIsTerminal(),
				turn:        turnFunc(ag, key, stream || rt.cfg.Stream),
				reset:       func() error { return ag.Sessions().Clear(key) },
			}
			return c.run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "Print the answer as it is generated")
	cmd.Flags().StringVarP(&key, "session", "s", defaultCLIKey, "Session key to continue")
	return cmd
}

type turn func(ctx context.Context, input string, onEvent agent.Handler) (string, error)

func turnFunc(ag *agent.Agent, key string, stream bool) turn {
	return func(ctx context.Context, input string, onEvent agent.Handler) (string, error) {
		if stream {
			return ag.RunOnceStream(ctx, key, input, onEvent)
		}
		return ag.RunOnce(ctx, key, input, onEvent)
	}
}

// chatLoop is the REPL. Piped input gets a single exchange.
type chatLoop struct {
	in          io.Reader
	out, errOut io.Writer
	interactive bool
	turn        turn
	reset       func() error
}

func (c *chatLoop) run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	c.prompt()
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			c.prompt()
			continue
		case "exit", "quit":
			return nil
		case "/reset":
			if err := c.reset(); err != nil {
				fmt.Fprintf(c.errOut, "error: %v\n", err)
			} else {
				fmt.Fprintln(c.out, "conversation cleared")
			}
			c.prompt()
			continue
		}

		c.exchange(ctx, input)

		if !c.interactive {
			return nil // single exchange in pipe mode
		}
		c.prompt()
	}
	return scanner.Err()
}

func (c *chatLoop) prompt() {
	if c.interactive {
		fmt.Fprint(c.out, prompt)
	}
}

func (c *chatLoop) exchange(ctx context.Context, input string) {
	streamed := false
	reply, err := c.turn(ctx, input, func(e agent.Event) {
		switch e.Kind {
		case agent.EventDelta:
			streamed = true
			fmt.Fprint(c.out, e.Text)
		case agent.EventToolCall:
			if c.interactive {
				fmt.Fprintf(c.errOut, "[%s]\n", e.Tool)
			}
		}
	})
	if streamed {
		fmt.Fprintln(c.out)
	}
	if err != nil {
		fmt.Fprintf(c.errOut, "error: %v\n", err)
		return
	}
	switch {
	case reply == "":
		fmt.Fprintln(c.errOut, exhaustedNote)
	case !streamed:
		fmt.Fprintln(c.out, reply)
	}
}
