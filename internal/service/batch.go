package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"refi-rate-alerts/internal/alerting"
	"refi-rate-alerts/internal/storage"
)

// SessionResult is one entry of a batch.
type SessionResult struct {
	SessionID string       `json:"session_id"`
	Result    *CycleResult `json:"result,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// BatchResult summarises a run over every active session.
type BatchResult struct {
	Checked         int             `json:"checked"`
	Triggered       int             `json:"triggered"`
	Failed          int             `json:"failed"`
	LockedElsewhere bool            `json:"locked_elsewhere,omitempty"`
	Results         []SessionResult `json:"results"`
}

// RunAllActive evaluates every active session with bounded concurrency. A
// failing session never aborts the batch.
func (s *Service) RunAllActive(ctx context.Context) (BatchResult, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return BatchResult{}, err
	}
	if !proceed {
		s.logger.Info().Msg("skip batch because advisory lock held elsewhere")
		return BatchResult{LockedElsewhere: true, Results: []SessionResult{}}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	started := s.clock()
	sessions, err := s.store.ListSessionsByStatus(ctx, storage.StatusActive)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list active sessions: %w", err)
	}

	results := make([]SessionResult, len(sessions))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, session := range sessions {
		g.Go(func() error {
			res, err := s.RunEvaluation(ctx, session.ID, false)
			entry := SessionResult{SessionID: session.ID}
			if err != nil {
				entry.Error = err.Error()
				s.logger.Error().Err(err).Str("session_id", session.ID).Msg("evaluation cycle failed")
			} else {
				entry.Result = &res
			}
			results[i] = entry
			return nil
		})
	}
	_ = g.Wait()

	batch := BatchResult{Checked: len(results), Results: results}
	var failedIDs []string
	for _, r := range results {
		switch {
		case r.Error != "":
			batch.Failed++
			failedIDs = append(failedIDs, r.SessionID)
		case r.Result.Outcome == OutcomeError:
			batch.Failed++
			failedIDs = append(failedIDs, r.SessionID)
		case r.Result.Triggered:
			batch.Triggered++
		}
	}

	s.logger.Info().
		Int("checked", batch.Checked).
		Int("triggered", batch.Triggered).
		Int("failed", batch.Failed).
		Msg("batch complete")

	if s.digest != nil {
		digest := alerting.Digest{
			RanAt:          started,
			Duration:       s.clock().Sub(started),
			Checked:        batch.Checked,
			Triggered:      batch.Triggered,
			Failed:         batch.Failed,
			FailedSessions: failedIDs,
		}
		if err := s.digest.PostDigest(ctx, digest); err != nil {
			s.logger.Error().Err(err).Msg("failed to post batch digest")
		}
	}

	return batch, nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryBatchLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
