package service

import (
	"context"
	"errors"
	"fmt"

	"refi-rate-alerts/internal/storage"
)

// SessionChange is the outcome of a lifecycle command. Cycle is set when the
// command requested an evaluation and the cycle ran.
type SessionChange struct {
	Session         storage.MonitorSession `json:"session"`
	StoppedSessions []string               `json:"stopped_sessions,omitempty"`
	Cycle           *CycleResult           `json:"cycle,omitempty"`
}

// CreateSession starts the user's first (or next) monitor. It fails with
// ErrSessionActive when an active or paused session already exists.
func (s *Service) CreateSession(ctx context.Context, userID string) (SessionChange, error) {
	return s.createSession(ctx, userID, false)
}

// StartOver stops any live session and creates a replacement atomically.
func (s *Service) StartOver(ctx context.Context, userID string) (SessionChange, error) {
	return s.createSession(ctx, userID, true)
}

func (s *Service) createSession(ctx context.Context, userID string, replace bool) (SessionChange, error) {
	if _, err := s.store.GetProfile(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return SessionChange{}, ErrMissingProfile
		}
		return SessionChange{}, fmt.Errorf("load profile: %w", err)
	}

	now := s.clock()
	session := storage.MonitorSession{
		ID:               s.newID(),
		UserID:           userID,
		Status:           storage.StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
		ThresholdVersion: 1,
	}

	stopped, err := s.store.CreateSession(ctx, session, replace)
	switch {
	case errors.Is(err, storage.ErrLiveSessionExists):
		return SessionChange{}, ErrSessionActive
	case errors.Is(err, storage.ErrNotFound):
		return SessionChange{}, ErrMissingContact
	case err != nil:
		return SessionChange{}, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("user_id", userID).
		Strs("stopped", stopped).
		Msg("monitor session created")

	change := SessionChange{Session: session, StoppedSessions: stopped}
	s.followWithCycle(ctx, &change)
	return change, nil
}

// Pause moves an active session to paused.
func (s *Service) Pause(ctx context.Context, sessionID string) (storage.MonitorSession, error) {
	return s.transition(ctx, sessionID, []storage.SessionStatus{storage.StatusActive}, storage.StatusPaused)
}

// Resume reactivates a paused session and runs a fresh cycle.
func (s *Service) Resume(ctx context.Context, sessionID string) (SessionChange, error) {
	session, err := s.transition(ctx, sessionID, []storage.SessionStatus{storage.StatusPaused}, storage.StatusActive)
	if err != nil {
		return SessionChange{}, err
	}
	change := SessionChange{Session: session}
	s.followWithCycle(ctx, &change)
	return change, nil
}

// Stop ends an active, paused or errored session.
func (s *Service) Stop(ctx context.Context, sessionID string) (storage.MonitorSession, error) {
	return s.transition(ctx, sessionID,
		[]storage.SessionStatus{storage.StatusActive, storage.StatusPaused, storage.StatusError},
		storage.StatusStopped)
}

func (s *Service) transition(ctx context.Context, sessionID string, from []storage.SessionStatus, to storage.SessionStatus) (storage.MonitorSession, error) {
	moved, err := s.store.TransitionSession(ctx, sessionID, from, to, storage.Transition{At: s.clock()})
	if err != nil {
		return storage.MonitorSession{}, fmt.Errorf("transition session: %w", err)
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return storage.MonitorSession{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if !moved {
		return session, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, session.Status, to)
	}

	s.logger.Info().Str("session_id", sessionID).Str("status", string(to)).Msg("session transitioned")
	return session, nil
}

// followWithCycle runs the evaluation a create or resume requests. A failing
// cycle does not undo the command.
func (s *Service) followWithCycle(ctx context.Context, change *SessionChange) {
	result, err := s.RunEvaluation(ctx, change.Session.ID, true)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", change.Session.ID).Msg("follow-up evaluation failed")
		return
	}
	change.Cycle = &result
	if refreshed, err := s.store.GetSession(ctx, change.Session.ID); err == nil {
		change.Session = refreshed
	}
}
