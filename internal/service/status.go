package service

import (
	"context"
	"errors"
	"fmt"

	"refi-rate-alerts/internal/storage"
)

// StatusView is the read-only dashboard payload for one user.
type StatusView struct {
	Session       *storage.MonitorSession     `json:"session"`
	Runs          []storage.EvaluationRun     `json:"runs"`
	RateHistory   []storage.RateObservation   `json:"rate_history"`
	Notifications []storage.NotificationEvent `json:"notifications"`
}

// Status loads the user's current session, its runs newest first, and the
// rates observed since the session was created.
func (s *Service) Status(ctx context.Context, userID string) (StatusView, error) {
	view := StatusView{
		Runs:          []storage.EvaluationRun{},
		RateHistory:   []storage.RateObservation{},
		Notifications: []storage.NotificationEvent{},
	}

	session, err := s.store.CurrentSession(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return view, nil
	}
	if err != nil {
		return view, fmt.Errorf("current session: %w", err)
	}
	view.Session = &session

	if view.Runs, err = s.store.ListRuns(ctx, session.ID, s.historyLimit); err != nil {
		return view, fmt.Errorf("list runs: %w", err)
	}
	since := session.CreatedAt
	if view.RateHistory, err = s.store.ObservationHistory(ctx, s.series, &since, s.historyLimit); err != nil {
		return view, fmt.Errorf("rate history: %w", err)
	}
	if view.Notifications, err = s.store.ListNotifications(ctx, session.ID); err != nil {
		return view, fmt.Errorf("list notifications: %w", err)
	}
	return view, nil
}

// Session loads one session.
func (s *Service) Session(ctx context.Context, sessionID string) (storage.MonitorSession, error) {
	return s.store.GetSession(ctx, sessionID)
}
