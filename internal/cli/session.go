package cli

import (
	"github.com/spf13/cobra"

	"refi-rate-alerts/internal/app"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage monitor sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create <user-id>",
	Short: "Start monitoring for a user and run the first evaluation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CreateSession(cmd.Context(), args[0], false)
	},
}

var sessionStartOverCmd = &cobra.Command{
	Use:   "start-over <user-id>",
	Short: "Stop the user's live session and start a new one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CreateSession(cmd.Context(), args[0], true)
	},
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status <user-id>",
	Short: "Show the user's current session, runs and rate history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Status(cmd.Context(), args[0])
	},
}

func sessionCommand(use, short string, command app.SessionCommand) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getApp().ApplySession(cmd.Context(), args[0], command)
		},
	}
}

func init() {
	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionStartOverCmd)
	sessionCmd.AddCommand(sessionStatusCmd)
	sessionCmd.AddCommand(sessionCommand("pause", "Pause an active session", app.CommandPause))
	sessionCmd.AddCommand(sessionCommand("resume", "Resume a paused session and evaluate it", app.CommandResume))
	sessionCmd.AddCommand(sessionCommand("stop", "Stop an active, paused or errored session", app.CommandStop))
}
