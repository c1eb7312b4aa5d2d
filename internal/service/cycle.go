package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"refi-rate-alerts/internal/alerting"
	"refi-rate-alerts/internal/evaluator"
	"refi-rate-alerts/internal/storage"
)

// Outcome of one evaluation cycle as reported to callers.
const (
	OutcomeSkipped      = "skipped"
	OutcomeTriggered    = string(storage.OutcomeTriggered)
	OutcomeNotTriggered = string(storage.OutcomeNotTriggered)
	OutcomeError        = string(storage.OutcomeError)
)

// Skip reasons.
const (
	SkipNotActive = "not_active"
	SkipCooldown  = "cooldown"
)

// CycleResult describes what one evaluation cycle did.
type CycleResult struct {
	SessionID     string                   `json:"session_id"`
	Outcome       string                   `json:"outcome"`
	Triggered     bool                     `json:"triggered"`
	SkipReason    string                   `json:"skip_reason,omitempty"`
	SessionStatus storage.SessionStatus    `json:"session_status"`
	Reason        string                   `json:"reason,omitempty"`
	Metrics       *evaluator.Metrics       `json:"metrics,omitempty"`
	Observation   *storage.RateObservation `json:"-"`
	Notified      bool                     `json:"notified"`
	ProviderID    string                   `json:"provider_message_id,omitempty"`
	RunID         string                   `json:"run_id,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

// RunEvaluation executes one evaluation cycle for sessionID. Non-active
// sessions are skipped without side effects. A missing rate ends the cycle in
// the error outcome rather than an error return; errors are reserved for
// missing preconditions and storage failures, which leave the session as it was.
func (s *Service) RunEvaluation(ctx context.Context, sessionID string, bypassCooldown bool) (CycleResult, error) {
	result := CycleResult{SessionID: sessionID}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return result, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	result.SessionStatus = session.Status

	if session.Status != storage.StatusActive {
		result.Outcome = OutcomeSkipped
		result.SkipReason = SkipNotActive
		return result, nil
	}

	now := s.clock()
	if !bypassCooldown && s.cooldown > 0 && session.LastCheckAt != nil && now.Sub(*session.LastCheckAt) < s.cooldown {
		result.Outcome = OutcomeSkipped
		result.SkipReason = SkipCooldown
		return result, nil
	}

	profile, err := s.store.GetProfile(ctx, session.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return result, fmt.Errorf("session %s: %w", sessionID, ErrMissingProfile)
	}
	if err != nil {
		return result, fmt.Errorf("load profile: %w", err)
	}

	user, err := s.store.GetUser(ctx, session.UserID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && strings.TrimSpace(user.Email) == "") {
		return result, fmt.Errorf("session %s: %w", sessionID, ErrMissingContact)
	}
	if err != nil {
		return result, fmt.Errorf("load user: %w", err)
	}

	logger := s.logger.With().Str("session_id", sessionID).Str("series", s.series).Logger()

	latest, ok := s.source.Latest(ctx, s.series)
	if !ok {
		return s.recordRateFailure(ctx, result, now, fmt.Sprintf("benchmark rate %s unavailable", s.series))
	}

	stored, _, err := s.store.InsertObservation(ctx, storage.RateObservation{
		Series:          s.series,
		ObservationDate: latest.Date,
		Value:           latest.Value,
		FetchedAt:       now,
	})
	if err != nil {
		return result, fmt.Errorf("store observation: %w", err)
	}
	result.Observation = &stored

	if err := s.store.MarkSessionChecked(ctx, sessionID, now); err != nil {
		return result, fmt.Errorf("mark session checked: %w", err)
	}

	decision := evaluator.Evaluate(profile.Criteria(), stored.Value)
	metrics := decision.Metrics
	result.Metrics = &metrics
	observed := stored.ObservationDate

	run := storage.EvaluationRun{
		ID:              s.newID(),
		SessionID:       sessionID,
		RanAt:           now,
		Metrics:         &metrics,
		ObservationDate: &observed,
	}
	result.RunID = run.ID

	if !decision.Triggered {
		run.Outcome = storage.OutcomeNotTriggered
		if err := s.store.InsertRun(ctx, run); err != nil {
			return result, fmt.Errorf("record run: %w", err)
		}
		result.Outcome = OutcomeNotTriggered
		logger.Info().
			Str("outcome", result.Outcome).
			Str("benchmark_rate", stored.Value.String()).
			Msg("evaluation cycle complete")
		return result, nil
	}

	result.Triggered = true
	result.Reason = decision.Reason

	if profile.EmailEnabled && s.notifier != nil {
		sent, err := s.notifier.Notify(ctx, sessionID, user.Email, alerting.Payload{
			Series:          s.series,
			ObservationDate: stored.ObservationDate,
			BenchmarkRate:   stored.Value,
			Reason:          decision.Reason,
			Metrics:         metrics,
		})
		if err != nil {
			logger.Error().Err(err).Msg("trigger notification failed")
		}
		if sent.Sent {
			notifiedAt := s.clock()
			run.NotifiedAt = &notifiedAt
			result.Notified = true
			result.ProviderID = sent.ProviderID
		}
	}

	reason := decision.Reason
	run.Outcome = storage.OutcomeTriggered
	run.TriggeredReason = &reason
	if err := s.store.InsertRun(ctx, run); err != nil {
		return result, fmt.Errorf("record run: %w", err)
	}

	moved, err := s.store.TransitionSession(ctx, sessionID, []storage.SessionStatus{storage.StatusActive}, storage.StatusCompleted, storage.Transition{
		At: s.clock(),
		TriggerMetadata: &storage.TriggerMetadata{
			Series:          s.series,
			ObservationDate: stored.ObservationDate,
			BenchmarkRate:   stored.Value,
			Reason:          decision.Reason,
			Metrics:         metrics,
			TriggeredAt:     now,
		},
	})
	if err != nil {
		return result, fmt.Errorf("complete session: %w", err)
	}
	if moved {
		result.SessionStatus = storage.StatusCompleted
	} else {
		logger.Warn().Msg("session left active state during cycle; completion not applied")
	}

	result.Outcome = OutcomeTriggered
	logger.Info().
		Str("outcome", result.Outcome).
		Str("benchmark_rate", stored.Value.String()).
		Bool("notified", result.Notified).
		Msg("evaluation cycle complete")
	return result, nil
}

func (s *Service) recordRateFailure(ctx context.Context, result CycleResult, now time.Time, msg string) (CycleResult, error) {
	run := storage.EvaluationRun{
		ID:        s.newID(),
		SessionID: result.SessionID,
		RanAt:     now,
		Outcome:   storage.OutcomeError,
		Error:     &msg,
	}
	if err := s.store.InsertRun(ctx, run); err != nil {
		return result, fmt.Errorf("record run: %w", err)
	}

	moved, err := s.store.TransitionSession(ctx, result.SessionID, []storage.SessionStatus{storage.StatusActive}, storage.StatusError, storage.Transition{
		At:        now,
		LastError: &msg,
		CheckedAt: &now,
	})
	if err != nil {
		return result, fmt.Errorf("mark session error: %w", err)
	}
	if moved {
		result.SessionStatus = storage.StatusError
	}

	result.RunID = run.ID
	result.Outcome = OutcomeError
	result.Error = msg
	s.logger.Warn().
		Str("session_id", result.SessionID).
		Str("series", s.series).
		Str("outcome", result.Outcome).
		Msg(msg)
	return result, nil
}
