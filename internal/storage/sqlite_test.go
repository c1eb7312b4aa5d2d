package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refi-rate-alerts/internal/evaluator"
)

var baseTime = time.Date(2025, 3, 6, 14, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func seedUser(t *testing.T, store *SQLiteStore, id string) {
	t.Helper()
	require.NoError(t, store.UpsertUser(context.Background(), User{ID: id, Email: id + "@example.com", CreatedAt: baseTime}))
}

func seedSession(t *testing.T, store *SQLiteStore, id, userID string, at time.Time) {
	t.Helper()
	_, err := store.CreateSession(context.Background(), MonitorSession{
		ID:               id,
		UserID:           userID,
		Status:           StatusActive,
		CreatedAt:        at,
		UpdatedAt:        at,
		ThresholdVersion: 1,
	}, true)
	require.NoError(t, err)
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestInsertObservationKeepsFirstValue(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	day := time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC)
	first, inserted, err := store.InsertObservation(ctx, RateObservation{
		Series:          "MORTGAGE30US",
		ObservationDate: day,
		Value:           decimal.RequireFromString("6.63"),
		FetchedAt:       baseTime,
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.True(t, first.Value.Equal(decimal.RequireFromString("6.63")))

	second, inserted, err := store.InsertObservation(ctx, RateObservation{
		Series:          "MORTGAGE30US",
		ObservationDate: day,
		Value:           decimal.RequireFromString("6.10"),
		FetchedAt:       baseTime.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.True(t, second.Value.Equal(decimal.RequireFromString("6.63")))
	assert.True(t, second.FetchedAt.Equal(baseTime))

	latest, err := store.LatestObservation(ctx, "MORTGAGE30US")
	require.NoError(t, err)
	assert.True(t, latest.ObservationDate.Equal(day))
}

func TestLatestObservationMissingSeries(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LatestObservation(context.Background(), "MORTGAGE15US")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestObservationHistoryChronologicalAndLimited(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	start := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, _, err := store.InsertObservation(ctx, RateObservation{
			Series:          "MORTGAGE30US",
			ObservationDate: start.AddDate(0, 0, 7*i),
			Value:           decimal.NewFromFloat(7.0 - 0.1*float64(i)),
			FetchedAt:       start.AddDate(0, 0, 7*i).Add(14 * time.Hour),
		})
		require.NoError(t, err)
	}

	history, err := store.ObservationHistory(ctx, "MORTGAGE30US", nil, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.True(t, history[0].ObservationDate.Equal(start.AddDate(0, 0, 14)))
	assert.True(t, history[2].ObservationDate.Equal(start.AddDate(0, 0, 28)))

	since := start.AddDate(0, 0, 21)
	recent, err := store.ObservationHistory(ctx, "MORTGAGE30US", &since, 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	between, err := store.ObservationsBetween(ctx, "MORTGAGE30US", start, start.AddDate(0, 0, 14))
	require.NoError(t, err)
	assert.Len(t, between, 2)
}

func TestProfileRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedUser(t, store, "u1")

	threshold := decimal.RequireFromString("5.5")
	balance := decimal.RequireFromString("300000")
	months := 24
	term := 300
	require.NoError(t, store.UpsertProfile(ctx, ThresholdProfile{
		UserID:                   "u1",
		CurrentRate:              decimal.RequireFromString("6.5"),
		BenchmarkRateThreshold:   &threshold,
		BreakEvenMonthsThreshold: &months,
		EmailEnabled:             true,
		LoanBalance:              &balance,
		RemainingTermMonths:      &term,
		UpdatedAt:                baseTime,
	}))

	got, err := store.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.CurrentRate.Equal(decimal.RequireFromString("6.5")))
	require.NotNil(t, got.BenchmarkRateThreshold)
	assert.True(t, got.BenchmarkRateThreshold.Equal(threshold))
	assert.Equal(t, 24, *got.BreakEvenMonthsThreshold)
	assert.Equal(t, 300, *got.RemainingTermMonths)
	assert.Nil(t, got.ClosingCostDollars)
	assert.Nil(t, got.ClosingCostPercent)
	assert.True(t, got.EmailEnabled)
	assert.True(t, got.HasLoan())

	_, err = store.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSessionEnforcesSingleLiveSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedUser(t, store, "u1")
	seedSession(t, store, "s1", "u1", baseTime)

	_, err := store.CreateSession(ctx, MonitorSession{
		ID: "s2", UserID: "u1", Status: StatusActive,
		CreatedAt: baseTime.Add(time.Minute), UpdatedAt: baseTime.Add(time.Minute), ThresholdVersion: 1,
	}, false)
	assert.ErrorIs(t, err, ErrLiveSessionExists)

	stopped, err := store.CreateSession(ctx, MonitorSession{
		ID: "s2", UserID: "u1", Status: StatusActive,
		CreatedAt: baseTime.Add(time.Minute), UpdatedAt: baseTime.Add(time.Minute), ThresholdVersion: 1,
	}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, stopped)

	old, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, old.Status)

	current, err := store.CurrentSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "s2", current.ID)

	active, err := store.ListSessionsByStatus(ctx, StatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "s2", active[0].ID)
}

func TestCreateSessionUnknownUser(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateSession(context.Background(), MonitorSession{
		ID: "s1", UserID: "ghost", Status: StatusActive, CreatedAt: baseTime, UpdatedAt: baseTime, ThresholdVersion: 1,
	}, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionSessionIsConditional(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedUser(t, store, "u1")
	seedSession(t, store, "s1", "u1", baseTime)

	ok, err := store.TransitionSession(ctx, "s1", []SessionStatus{StatusPaused}, StatusActive, Transition{At: baseTime})
	require.NoError(t, err)
	assert.False(t, ok)

	observed := time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC)
	meta := &TriggerMetadata{
		Series:          "MORTGAGE30US",
		ObservationDate: observed,
		BenchmarkRate:   decimal.RequireFromString("5.4"),
		Reason:          "Benchmark rate 5.400% is at or below your 5.500% threshold",
		Metrics:         evaluator.Metrics{BenchmarkRate: decimal.RequireFromString("5.4"), TriggeredByRate: true},
		TriggeredAt:     baseTime.Add(time.Hour),
	}
	checked := baseTime.Add(time.Hour)
	ok, err = store.TransitionSession(ctx, "s1", []SessionStatus{StatusActive}, StatusCompleted, Transition{
		At:              baseTime.Add(time.Hour),
		CheckedAt:       &checked,
		TriggerMetadata: meta,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(baseTime.Add(time.Hour)))
	require.NotNil(t, got.LastCheckAt)
	require.NotNil(t, got.TriggerMetadata)
	assert.Equal(t, meta.Reason, got.TriggerMetadata.Reason)
	assert.True(t, got.TriggerMetadata.BenchmarkRate.Equal(meta.BenchmarkRate))

	ok, err = store.TransitionSession(ctx, "s1", []SessionStatus{StatusActive, StatusPaused}, StatusStopped, Transition{At: baseTime.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransitionToErrorKeepsLastError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedUser(t, store, "u1")
	seedSession(t, store, "s1", "u1", baseTime)

	msg := "benchmark rate unavailable"
	ok, err := store.TransitionSession(ctx, "s1", []SessionStatus{StatusActive}, StatusError, Transition{At: baseTime, LastError: &msg})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, msg, *got.LastError)
	assert.Nil(t, got.CompletedAt)
}

func TestMarkCheckedAndBumpVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedUser(t, store, "u1")
	seedSession(t, store, "s1", "u1", baseTime)

	require.NoError(t, store.MarkSessionChecked(ctx, "s1", baseTime.Add(time.Hour)))
	assert.ErrorIs(t, store.MarkSessionChecked(ctx, "nope", baseTime), ErrNotFound)

	n, err := store.BumpThresholdVersion(ctx, "u1", baseTime.Add(2*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ThresholdVersion)
	require.NotNil(t, got.LastSuccessAt)
	assert.True(t, got.LastSuccessAt.Equal(baseTime.Add(time.Hour)))
}

func TestRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedUser(t, store, "u1")
	seedSession(t, store, "s1", "u1", baseTime)

	day := time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC)
	reason := "Benchmark rate 5.400% is at or below your 5.500% threshold"
	errMsg := "fetch failed"
	require.NoError(t, store.InsertRun(ctx, EvaluationRun{
		ID: "r1", SessionID: "s1", RanAt: baseTime, Outcome: OutcomeError, Error: &errMsg,
	}))
	require.NoError(t, store.InsertRun(ctx, EvaluationRun{
		ID: "r2", SessionID: "s1", RanAt: baseTime.Add(time.Hour), Outcome: OutcomeTriggered,
		Metrics:         &evaluator.Metrics{BenchmarkRate: decimal.RequireFromString("5.4")},
		TriggeredReason: &reason,
		ObservationDate: &day,
	}))

	runs, err := store.ListRuns(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)
	assert.Equal(t, OutcomeTriggered, runs[0].Outcome)
	require.NotNil(t, runs[0].Metrics)
	assert.True(t, runs[0].Metrics.BenchmarkRate.Equal(decimal.RequireFromString("5.4")))
	require.NotNil(t, runs[0].ObservationDate)
	assert.True(t, runs[0].ObservationDate.Equal(day))
	assert.Nil(t, runs[1].Metrics)
	require.NotNil(t, runs[1].Error)
	assert.Equal(t, errMsg, *runs[1].Error)
}

func TestNotificationReservation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedUser(t, store, "u1")
	seedSession(t, store, "s1", "u1", baseTime)

	event := NotificationEvent{
		ID: "n1", SessionID: "s1", DedupeKey: "monitor-session:s1:trigger",
		CreatedAt: baseTime, Subject: "Rates dropped", BodyPreview: "preview",
	}
	ok, err := store.ReserveNotification(ctx, event)
	require.NoError(t, err)
	assert.True(t, ok)

	event.ID = "n2"
	ok, err = store.ReserveNotification(ctx, event)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.ReleaseNotification(ctx, event.DedupeKey))
	_, err = store.GetNotification(ctx, event.DedupeKey)
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err = store.ReserveNotification(ctx, event)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.ConfirmNotification(ctx, event.DedupeKey, "msg_123", baseTime.Add(time.Second)))

	// Confirmed events are never released.
	require.NoError(t, store.ReleaseNotification(ctx, event.DedupeKey))
	got, err := store.GetNotification(ctx, event.DedupeKey)
	require.NoError(t, err)
	assert.Equal(t, NotificationSent, got.Status)
	require.NotNil(t, got.ProviderMessageID)
	assert.Equal(t, "msg_123", *got.ProviderMessageID)

	events, err := store.ListNotifications(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestOpenSQLiteRequiresDSN(t *testing.T) {
	_, err := OpenSQLite("")
	assert.Error(t, err)
}
