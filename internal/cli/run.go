package cli

import (
	"github.com/spf13/cobra"

	"refi-rate-alerts/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the daily evaluation scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context())
	},
}

var runDailyCmd = &cobra.Command{
	Use:   "run-daily",
	Short: "Evaluate every active session once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RunDaily(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run <session-id>",
	Short: "Evaluate one session now, ignoring the cooldown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ApplySession(cmd.Context(), args[0], app.CommandRun)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context())
	},
}

var sendTestEmailCmd = &cobra.Command{
	Use:   "send-test-email <user-id>",
	Short: "Send a diagnostic email to a user's address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SendTestEmail(cmd.Context(), args[0])
	},
}
