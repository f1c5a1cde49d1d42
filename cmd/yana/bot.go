package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/0324wy/yana/internal/discord"
	"github.com/0324wy/yana/internal/scheduler"
)

func newBotCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the Discord bot and the scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := rt.cfg
			if cfg.DiscordToken == "" && cfg.DiscordWebhook == "" {
				return errors.New("bot needs DISCORD_BOT_TOKEN or DISCORD_WEBHOOK_URL")
			}
			ag, err := rt.agent()
			if err != nil {
				return err
			}
			d, err := rt.database()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, ctx := errgroup.WithContext(ctx)

			var dm scheduler.DMSender
			if cfg.DiscordToken != "" {
				bot, err := discord.NewBot(cfg.DiscordToken, ag, ag.Sessions(), d, rt.logger)
				if err != nil {
					return err
				}
				dm = bot.SendDM
				g.Go(func() error { return bot.Run(ctx) })
			}

			sched := scheduler.New(d, ag, cfg.DiscordWebhook, dm, rt.logger)
			if err := sched.SeedDefaultSchedule(cfg.CheckInCron); err != nil {
				rt.logger.Warn("default schedule not seeded", "error", err)
			}
			g.Go(func() error { return sched.Run(ctx) })

			rt.logger.Info("bot is running, press Ctrl+C to exit")
			err = g.Wait()
			rt.logger.Info("shutting down")
			return err
		},
	}
}
