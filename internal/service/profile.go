package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"refi-rate-alerts/internal/storage"
)

var (
	maxRatePct         = decimal.NewFromInt(25)
	maxClosingCostPct  = decimal.NewFromInt(10)
	maxBreakEvenMonths = 600
	maxTermMonths      = 480
)

// ProfileInput is a user-submitted threshold profile.
type ProfileInput struct {
	CurrentRate              decimal.Decimal  `json:"current_rate"`
	BenchmarkRateThreshold   *decimal.Decimal `json:"benchmark_rate_threshold,omitempty"`
	BreakEvenMonthsThreshold *int             `json:"break_even_months_threshold,omitempty"`
	EmailEnabled             bool             `json:"email_enabled"`
	LoanBalance              *decimal.Decimal `json:"loan_balance,omitempty"`
	RemainingTermMonths      *int             `json:"remaining_term_months,omitempty"`
	ClosingCostDollars       *decimal.Decimal `json:"closing_cost_dollars,omitempty"`
	ClosingCostPercent       *decimal.Decimal `json:"closing_cost_percent,omitempty"`
}

// FieldError is one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem with a submitted profile.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid profile: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// Validate checks the ranges and combinations a profile must satisfy.
func (in ProfileInput) Validate() error {
	v := &ValidationError{}

	if !in.CurrentRate.IsPositive() || in.CurrentRate.GreaterThan(maxRatePct) {
		v.add("current_rate", "must be greater than 0 and at most 25")
	}
	if t := in.BenchmarkRateThreshold; t != nil && (!t.IsPositive() || t.GreaterThan(maxRatePct)) {
		v.add("benchmark_rate_threshold", "must be greater than 0 and at most 25")
	}
	if in.BenchmarkRateThreshold == nil && in.BreakEvenMonthsThreshold == nil {
		v.add("thresholds", "set a benchmark rate threshold, a break-even threshold, or both")
	}

	hasBalance := in.LoanBalance != nil
	hasTerm := in.RemainingTermMonths != nil
	if hasBalance != hasTerm {
		v.add("loan", "loan_balance and remaining_term_months must be set together")
	}
	if in.LoanBalance != nil && !in.LoanBalance.IsPositive() {
		v.add("loan_balance", "must be greater than 0")
	}
	if m := in.RemainingTermMonths; m != nil && (*m < 1 || *m > maxTermMonths) {
		v.add("remaining_term_months", fmt.Sprintf("must be between 1 and %d", maxTermMonths))
	}
	if m := in.BreakEvenMonthsThreshold; m != nil {
		if *m < 1 || *m > maxBreakEvenMonths {
			v.add("break_even_months_threshold", fmt.Sprintf("must be between 1 and %d", maxBreakEvenMonths))
		}
		if !hasBalance || !hasTerm {
			v.add("break_even_months_threshold", "requires loan_balance and remaining_term_months")
		}
	}
	if in.ClosingCostDollars != nil && in.ClosingCostPercent != nil {
		v.add("closing_cost", "set closing_cost_dollars or closing_cost_percent, not both")
	}
	if d := in.ClosingCostDollars; d != nil && d.IsNegative() {
		v.add("closing_cost_dollars", "must not be negative")
	}
	if p := in.ClosingCostPercent; p != nil && (p.IsNegative() || p.GreaterThan(maxClosingCostPct)) {
		v.add("closing_cost_percent", "must be between 0 and 10")
	}

	if len(v.Fields) > 0 {
		return v
	}
	return nil
}

// Profile converts the input into the stored representation.
func (in ProfileInput) Profile(userID string, at time.Time) storage.ThresholdProfile {
	return storage.ThresholdProfile{
		UserID:                   userID,
		CurrentRate:              in.CurrentRate,
		BenchmarkRateThreshold:   in.BenchmarkRateThreshold,
		BreakEvenMonthsThreshold: in.BreakEvenMonthsThreshold,
		EmailEnabled:             in.EmailEnabled,
		LoanBalance:              in.LoanBalance,
		RemainingTermMonths:      in.RemainingTermMonths,
		ClosingCostDollars:       in.ClosingCostDollars,
		ClosingCostPercent:       in.ClosingCostPercent,
		UpdatedAt:                at,
	}
}

// RegisterUser creates or updates the user's contact record.
func (s *Service) RegisterUser(ctx context.Context, userID, email string) (storage.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.User{}, &ValidationError{Fields: []FieldError{{Field: "user_id", Message: "required"}}}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return storage.User{}, &ValidationError{Fields: []FieldError{{Field: "email", Message: "must be a valid address"}}}
	}

	existing, err := s.store.GetUser(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		existing = storage.User{ID: userID, CreatedAt: s.clock()}
	case err != nil:
		return storage.User{}, fmt.Errorf("load user: %w", err)
	}
	existing.Email = addr.Address

	if err := s.store.UpsertUser(ctx, existing); err != nil {
		return storage.User{}, err
	}
	return existing, nil
}

// UpdateProfile validates and saves the profile, then bumps threshold_version
// on the user's live session.
func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (storage.ThresholdProfile, error) {
	if err := in.Validate(); err != nil {
		return storage.ThresholdProfile{}, err
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ThresholdProfile{}, ErrMissingContact
		}
		return storage.ThresholdProfile{}, fmt.Errorf("load user: %w", err)
	}

	now := s.clock()
	profile := in.Profile(userID, now)
	if err := s.store.UpsertProfile(ctx, profile); err != nil {
		return storage.ThresholdProfile{}, err
	}

	bumped, err := s.store.BumpThresholdVersion(ctx, userID, now)
	if err != nil {
		return profile, err
	}
	s.logger.Info().Str("user_id", userID).Int64("sessions_bumped", bumped).Msg("threshold profile saved")
	return profile, nil
}

// Profile returns the user's saved profile.
func (s *Service) Profile(ctx context.Context, userID string) (storage.ThresholdProfile, error) {
	profile, err := s.store.GetProfile(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.ThresholdProfile{}, ErrMissingProfile
	}
	return profile, err
}
