package main

import (
	"github.com/spf13/cobra"

	"github.com/0324wy/yana/internal/service"
)

func newServiceCmd(_ *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the launchd service that runs `yana bot`",
	}
	action := func(use, short string, fn func(*service.Installer) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return fn(service.New(cmd.OutOrStdout()))
			},
		}
	}
	cmd.AddCommand(
		action("install", "Install and load the service", (*service.Installer).Install),
		action("uninstall", "Unload and remove the service", (*service.Installer).Uninstall),
		action("status", "Show whether the service is loaded", (*service.Installer).Status),
		action("start", "Start the service", (*service.Installer).Start),
		action("stop", "Stop the service", (*service.Installer).Stop),
		action("restart", "Restart the service", (*service.Installer).Restart),
		action("logs", "Tail the service logs", (*service.Installer).Logs),
	)
	return cmd
}
