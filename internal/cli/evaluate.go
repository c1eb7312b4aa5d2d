package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"refi-rate-alerts/internal/app"
)

var (
	evaluateRate  string
	evaluateUser  string
	evaluateFlags profileFlags
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Dry-run the threshold evaluator against a benchmark rate",
	RunE: func(cmd *cobra.Command, args []string) error {
		rate, err := decimal.NewFromString(evaluateRate)
		if err != nil {
			return fmt.Errorf("invalid --rate: %w", err)
		}

		opts := app.EvaluateOptions{Rate: rate, UserID: evaluateUser}
		if evaluateUser == "" {
			in, err := evaluateFlags.input(cmd.Flags())
			if err != nil {
				return err
			}
			opts.Profile = &in
		}
		return getApp().Evaluate(cmd.Context(), opts)
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateRate, "rate", "", "Benchmark rate in percent to evaluate")
	evaluateCmd.Flags().StringVar(&evaluateUser, "user", "", "Use this user's saved profile")
	evaluateFlags.register(evaluateCmd.Flags())
	_ = evaluateCmd.MarkFlagRequired("rate")
}
