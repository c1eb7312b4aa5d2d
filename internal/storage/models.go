package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"refi-rate-alerts/internal/evaluator"
)

// SessionStatus is the lifecycle state of a monitor session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusStopped   SessionStatus = "stopped"
	StatusError     SessionStatus = "error"
)

// Terminal reports whether no further transition can leave the status.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusError:
		return true
	}
	return false
}

// Live reports whether the session still counts as the user's current campaign.
func (s SessionStatus) Live() bool {
	return s == StatusActive || s == StatusPaused
}

// ParseSessionStatus validates a status read from storage or user input.
func ParseSessionStatus(v string) (SessionStatus, error) {
	s := SessionStatus(v)
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusStopped, StatusError:
		return s, nil
	}
	return "", fmt.Errorf("unknown session status %q", v)
}

// RunOutcome is the result recorded for one evaluation cycle.
type RunOutcome string

const (
	OutcomeTriggered    RunOutcome = "triggered"
	OutcomeNotTriggered RunOutcome = "not_triggered"
	OutcomeError        RunOutcome = "error"
)

// NotificationStatus tracks a dedupe reservation through provider delivery.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
)

// User is the contact record for a monitored borrower.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// RateObservation is one published point of a benchmark series. Immutable once stored.
type RateObservation struct {
	Series          string          `json:"series"`
	ObservationDate time.Time       `json:"observation_date"`
	Value           decimal.Decimal `json:"value"`
	FetchedAt       time.Time       `json:"fetched_at"`
}

// ThresholdProfile is the user's refinance configuration.
type ThresholdProfile struct {
	UserID                   string           `json:"user_id"`
	CurrentRate              decimal.Decimal  `json:"current_rate"`
	BenchmarkRateThreshold   *decimal.Decimal `json:"benchmark_rate_threshold"`
	BreakEvenMonthsThreshold *int             `json:"break_even_months_threshold"`
	EmailEnabled             bool             `json:"email_enabled"`
	LoanBalance              *decimal.Decimal `json:"loan_balance"`
	RemainingTermMonths      *int             `json:"remaining_term_months"`
	ClosingCostDollars       *decimal.Decimal `json:"closing_cost_dollars"`
	ClosingCostPercent       *decimal.Decimal `json:"closing_cost_percent"`
	UpdatedAt                time.Time        `json:"updated_at"`
}

// HasLoan reports whether the amortization inputs are complete.
func (p ThresholdProfile) HasLoan() bool {
	return p.LoanBalance != nil && p.RemainingTermMonths != nil
}

// Criteria projects the profile onto the evaluator's input.
func (p ThresholdProfile) Criteria() evaluator.Criteria {
	c := evaluator.Criteria{
		CurrentRate:              p.CurrentRate,
		BenchmarkRateThreshold:   p.BenchmarkRateThreshold,
		BreakEvenMonthsThreshold: p.BreakEvenMonthsThreshold,
	}
	if p.HasLoan() {
		c.Loan = &evaluator.Loan{
			Balance:             *p.LoanBalance,
			RemainingTermMonths: *p.RemainingTermMonths,
			ClosingCostDollars:  p.ClosingCostDollars,
			ClosingCostPercent:  p.ClosingCostPercent,
		}
	}
	return c
}

// TriggerMetadata snapshots the winning evaluation on a completed session.
type TriggerMetadata struct {
	Series          string            `json:"series"`
	ObservationDate time.Time         `json:"observation_date"`
	BenchmarkRate   decimal.Decimal   `json:"benchmark_rate"`
	Reason          string            `json:"reason"`
	Metrics         evaluator.Metrics `json:"metrics"`
	TriggeredAt     time.Time         `json:"triggered_at"`
}

// MonitorSession is one monitoring campaign for one user.
type MonitorSession struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	Status           SessionStatus    `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	CompletedAt      *time.Time       `json:"completed_at"`
	LastCheckAt      *time.Time       `json:"last_check_at"`
	LastSuccessAt    *time.Time       `json:"last_success_at"`
	LastError        *string          `json:"last_error"`
	ThresholdVersion int              `json:"threshold_version"`
	TriggerMetadata  *TriggerMetadata `json:"trigger_metadata"`
}

// Transition describes the side fields written atomically with a status change.
type Transition struct {
	At              time.Time
	LastError       *string
	CheckedAt       *time.Time
	TriggerMetadata *TriggerMetadata
}

// EvaluationRun is the audit row for one evaluation cycle attempt.
type EvaluationRun struct {
	ID              string             `json:"id"`
	SessionID       string             `json:"session_id"`
	RanAt           time.Time          `json:"ran_at"`
	Outcome         RunOutcome         `json:"outcome"`
	Metrics         *evaluator.Metrics `json:"computed_metrics"`
	TriggeredReason *string            `json:"triggered_reason"`
	NotifiedAt      *time.Time         `json:"notified_at"`
	ObservationDate *time.Time         `json:"observation_date"`
	Error           *string            `json:"error"`
}

// NotificationEvent records a delivered (or reserved) user notification.
type NotificationEvent struct {
	ID                string             `json:"id"`
	SessionID         string             `json:"session_id"`
	DedupeKey         string             `json:"dedupe_key"`
	Status            NotificationStatus `json:"status"`
	CreatedAt         time.Time          `json:"created_at"`
	SentAt            *time.Time         `json:"sent_at"`
	Subject           string             `json:"subject"`
	BodyPreview       string             `json:"body_preview"`
	ProviderMessageID *string            `json:"provider_message_id"`
}

func encodeOptionalJSON[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeMetrics(raw []byte) (*evaluator.Metrics, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var m evaluator.Metrics
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode computed metrics: %w", err)
	}
	return &m, nil
}

func decodeTriggerMetadata(raw []byte) (*TriggerMetadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var m TriggerMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode trigger metadata: %w", err)
	}
	return &m, nil
}

func parseOptionalDecimal(v *string, field string) (*decimal.Decimal, error) {
	if v == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*v)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return &d, nil
}

func optionalDecimalString(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func fillProfileDecimals(p *ThresholdProfile, currentRate string, rateThreshold, balance, closingDollars, closingPercent *string) error {
	rate, err := decimal.NewFromString(currentRate)
	if err != nil {
		return fmt.Errorf("parse current_rate: %w", err)
	}
	p.CurrentRate = rate
	if p.BenchmarkRateThreshold, err = parseOptionalDecimal(rateThreshold, "benchmark_rate_threshold"); err != nil {
		return err
	}
	if p.LoanBalance, err = parseOptionalDecimal(balance, "loan_balance"); err != nil {
		return err
	}
	if p.ClosingCostDollars, err = parseOptionalDecimal(closingDollars, "closing_cost_dollars"); err != nil {
		return err
	}
	if p.ClosingCostPercent, err = parseOptionalDecimal(closingPercent, "closing_cost_percent"); err != nil {
		return err
	}
	return nil
}

// dateOnly truncates t to its UTC calendar day.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func reverseObservations(obs []RateObservation) {
	for i, j := 0, len(obs)-1; i < j; i, j = i+1, j-1 {
		obs[i], obs[j] = obs[j], obs[i]
	}
}

func statusStrings(statuses []SessionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// nullableJSON keeps an absent document a true NULL rather than an empty blob.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
