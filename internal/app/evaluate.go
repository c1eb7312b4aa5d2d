package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"refi-rate-alerts/internal/evaluator"
	"refi-rate-alerts/internal/service"
	"refi-rate-alerts/internal/storage"
)

// EvaluateOptions configure a dry-run evaluation. Either UserID or Profile
// supplies the thresholds.
type EvaluateOptions struct {
	Rate    decimal.Decimal
	UserID  string
	Profile *service.ProfileInput
}

type evaluation struct {
	Rate      decimal.Decimal   `json:"benchmark_rate"`
	Triggered bool              `json:"triggered"`
	Reason    string            `json:"reason,omitempty"`
	Metrics   evaluator.Metrics `json:"metrics"`
}

// Evaluate runs the threshold evaluator against a supplied rate without
// touching sessions, runs or notifications.
func (a *App) Evaluate(ctx context.Context, opts EvaluateOptions) error {
	if !opts.Rate.IsPositive() {
		return errors.New("--rate must be greater than zero")
	}

	var profile storage.ThresholdProfile
	switch {
	case opts.UserID != "":
		store, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()
		if profile, err = store.GetProfile(ctx, opts.UserID); err != nil {
			return err
		}
	case opts.Profile != nil:
		if err := opts.Profile.Validate(); err != nil {
			return err
		}
		profile = opts.Profile.Profile("", time.Now().UTC())
	default:
		return errors.New("either --user or --current-rate must be provided")
	}

	decision := evaluator.Evaluate(profile.Criteria(), opts.Rate)
	return a.printJSON(evaluation{
		Rate:      opts.Rate,
		Triggered: decision.Triggered,
		Reason:    decision.Reason,
		Metrics:   decision.Metrics,
	})
}
