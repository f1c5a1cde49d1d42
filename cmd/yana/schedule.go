package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/0324wy/yana/internal/db"
	"github.com/0324wy/yana/internal/scheduler"
)

func newScheduleCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage scheduled prompts",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List schedules",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				d, err := rt.database()
				if err != nil {
					return err
				}
				schedules, err := d.ListSchedules(false)
				if err != nil {
					return err
				}
				return printSchedules(cmd.OutOrStdout(), schedules, time.Now())
			},
		},
		&cobra.Command{
			Use:   "add <name> <cron> <prompt...>",
			Short: "Add a schedule",
			Example: `  yana schedule add standup "0 9 * * MON-FRI" "What's on my notes for today?"
  yana schedule add weekly @weekly "Summarize my notes."`,
			Args: cobra.MinimumNArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				name, expr := args[0], args[1]
				if err := scheduler.Validate(expr); err != nil {
					return err
				}
				d, err := rt.database()
				if err != nil {
					return err
				}
				id, err := d.CreateSchedule(name, expr, strings.Join(args[2:], " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added schedule %q (id %d)\n", name, id)
				return nil
			},
		},
		&cobra.Command{
			Use:     "rm <name>",
			Aliases: []string{"remove", "delete"},
			Short:   "Remove a schedule",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := rt.database()
				if err != nil {
					return err
				}
				if err := d.DeleteSchedule(args[0]); err != nil {
					return fmt.Errorf("schedule %q: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed schedule %q\n", args[0])
				return nil
			},
		},
		newScheduleToggleCmd(rt, "enable", true),
		newScheduleToggleCmd(rt, "disable", false),
		&cobra.Command{
			Use:   "run <name>",
			Short: "Run a schedule now and deliver the result",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := rt.database()
				if err != nil {
					return err
				}
				sched, err := d.GetSchedule(args[0])
				if err != nil {
					return fmt.Errorf("schedule %q: %w", args[0], err)
				}
				ag, err := rt.agent()
				if err != nil {
					return err
				}
				s := scheduler.New(d, ag, rt.cfg.DiscordWebhook, nil, rt.logger)
				reply, err := s.RunSchedule(cmd.Context(), sched)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), reply)
				return nil
			},
		},
	)
	return cmd
}

func newScheduleToggleCmd(rt *runtime, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := rt.database()
			if err != nil {
				return err
			}
			if err := d.SetScheduleEnabled(args[0], enabled); err != nil {
				return fmt.Errorf("schedule %q: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%sd schedule %q\n", verb, args[0])
			return nil
		},
	}
}

func printSchedules(w io.Writer, schedules []db.Schedule, now time.Time) error {
	if len(schedules) == 0 {
		_, err := fmt.Fprintln(w, "no schedules")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCRON\tENABLED\tLAST RUN\tPROMPT")
	for _, s := range schedules {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", s.Name, s.CronExpr, s.Enabled, lastRun(s.LastRun, now), ellipsis(s.Prompt, 48))
	}
	return tw.Flush()
}

// lastRun renders SQLite's datetime('now') text relative to now.
func lastRun(s string, now time.Time) string {
	if s == "" {
		return "never"
	}
	t, err := time.ParseInLocation(time.DateTime, s, time.UTC)
	if err != nil {
		return s
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func ellipsis(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
