package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"refi-rate-alerts/internal/service"
)

// profileFlags binds the threshold profile fields to a flag set. Optional
// fields count as set only when their flag was given.
type profileFlags struct {
	currentRate   string
	rateThreshold string
	breakEven     int
	emailEnabled  bool
	loanBalance   string
	termMonths    int
	closingCost   string
	closingPct    string
}

func (p *profileFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&p.currentRate, "current-rate", "", "Current mortgage rate in percent (e.g. 6.5)")
	fs.StringVar(&p.rateThreshold, "rate-threshold", "", "Alert when the benchmark rate is at or below this percent")
	fs.IntVar(&p.breakEven, "break-even-months", 0, "Alert when refinancing breaks even within this many months")
	fs.BoolVar(&p.emailEnabled, "email", true, "Send an email when the session triggers")
	fs.StringVar(&p.loanBalance, "loan-balance", "", "Outstanding loan balance in dollars")
	fs.IntVar(&p.termMonths, "term-months", 0, "Remaining loan term in months")
	fs.StringVar(&p.closingCost, "closing-cost", "", "Refinance closing cost in dollars")
	fs.StringVar(&p.closingPct, "closing-cost-pct", "", "Refinance closing cost as a percent of the balance")
}

func (p *profileFlags) input(fs *pflag.FlagSet) (service.ProfileInput, error) {
	var in service.ProfileInput
	rate, err := decimal.NewFromString(p.currentRate)
	if err != nil {
		return in, fmt.Errorf("invalid --current-rate: %w", err)
	}
	in.CurrentRate = rate
	in.EmailEnabled = p.emailEnabled

	for _, opt := range []struct {
		flag  string
		value string
		dst   **decimal.Decimal
	}{
		{"rate-threshold", p.rateThreshold, &in.BenchmarkRateThreshold},
		{"loan-balance", p.loanBalance, &in.LoanBalance},
		{"closing-cost", p.closingCost, &in.ClosingCostDollars},
		{"closing-cost-pct", p.closingPct, &in.ClosingCostPercent},
	} {
		if !fs.Changed(opt.flag) {
			continue
		}
		d, err := decimal.NewFromString(opt.value)
		if err != nil {
			return in, fmt.Errorf("invalid --%s: %w", opt.flag, err)
		}
		*opt.dst = &d
	}
	if fs.Changed("break-even-months") {
		months := p.breakEven
		in.BreakEvenMonthsThreshold = &months
	}
	if fs.Changed("term-months") {
		months := p.termMonths
		in.RemainingTermMonths = &months
	}
	return in, nil
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage a user's refinance thresholds",
}

var profileSetFlags profileFlags

var profileSetCmd = &cobra.Command{
	Use:   "set <user-id>",
	Short: "Validate and save a threshold profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := profileSetFlags.input(cmd.Flags())
		if err != nil {
			return err
		}
		return getApp().SetProfile(cmd.Context(), args[0], in)
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Print a saved threshold profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowProfile(cmd.Context(), args[0])
	},
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userRegisterCmd = &cobra.Command{
	Use:   "register <user-id> <email>",
	Short: "Create a user or update the contact address",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RegisterUser(cmd.Context(), args[0], args[1])
	},
}

func init() {
	profileSetFlags.register(profileSetCmd.Flags())
	_ = profileSetCmd.MarkFlagRequired("current-rate")
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileShowCmd)
	userCmd.AddCommand(userRegisterCmd)
}
