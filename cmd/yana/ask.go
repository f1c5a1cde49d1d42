package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/0324wy/yana/internal/agent"
)

func newAskCmd(rt *runtime) *cobra.Command {
	var stream bool
	var key string
	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Ask a single question",
		Long:  "Ask a single question. With no arguments the prompt is read from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := askInput(args, cmd.InOrStdin(), stdinIsTerminal())
			if err != nil {
				return err
			}
			ag, err := rt.agent()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			streamed := false
			run := turnFunc(ag, key, stream || rt.cfg.Stream)
			reply, err := run(cmd.Context(), input, func(e agent.Event) {
				if e.Kind == agent.EventDelta {
					streamed = true
					fmt.Fprint(out, e.Text)
				}
			})
			if streamed {
				fmt.Fprintln(out)
			}
			if err != nil {
				return err
			}
			if reply == "" {
				return errors.New(exhaustedNote)
			}
			if !streamed {
				fmt.Fprintln(out, reply)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "Print the answer as it is generated")
	cmd.Flags().StringVarP(&key, "session", "s", "cli:ask", "Session key to continue")
	return cmd
}

// askInput joins the arguments, or reads piped stdin when there are none.
func askInput(args []string, stdin io.Reader, terminal bool) (string, error) {
	input := strings.TrimSpace(strings.Join(args, " "))
	if input == "" && !terminal {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		input = strings.TrimSpace(string(data))
	}
	if input == "" {
		return "", errors.New("nothing to ask: pass a prompt or pipe one in")
	}
	return input, nil
}
