package alerting

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refi-rate-alerts/internal/evaluator"
	"refi-rate-alerts/internal/storage"
)

type countingProvider struct {
	calls atomic.Int32
	err   error
}

func (p *countingProvider) Send(_ context.Context, msg Message) (string, error) {
	p.calls.Add(1)
	if p.err != nil {
		return "", p.err
	}
	return "msg-" + msg.To, nil
}

var fixedNow = time.Date(2025, 3, 6, 14, 0, 0, 0, time.UTC)

func newLedger(t *testing.T, sessionID string) *storage.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	store, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.UpsertUser(ctx, storage.User{ID: "u1", Email: "a@example.com", CreatedAt: fixedNow}))
	_, err = store.CreateSession(ctx, storage.MonitorSession{
		ID: sessionID, UserID: "u1", Status: storage.StatusActive,
		CreatedAt: fixedNow, UpdatedAt: fixedNow, ThresholdVersion: 1,
	}, false)
	require.NoError(t, err)
	return store
}

func samplePayload() Payload {
	rate := decimal.RequireFromString("5.5")
	return Payload{
		Series:          "MORTGAGE30US",
		ObservationDate: time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC),
		BenchmarkRate:   rate,
		Reason:          "Benchmark rate 5.500% is at or below your 5.500% threshold",
		Metrics: evaluator.Metrics{
			BenchmarkRate:   rate,
			CurrentRate:     decimal.RequireFromString("6.5"),
			RateSpread:      decimal.RequireFromString("1"),
			TriggeredByRate: true,
		},
	}
}

func TestNotifyTwiceSendsOnce(t *testing.T) {
	ctx := context.Background()
	store := newLedger(t, "s1")
	provider := &countingProvider{}
	n := NewNotifier(store, provider, 20, testLogger()).WithClock(func() time.Time { return fixedNow })

	first, err := n.Notify(ctx, "s1", "a@example.com", samplePayload())
	require.NoError(t, err)
	assert.True(t, first.Sent)
	assert.Equal(t, "msg-a@example.com", first.ProviderID)

	second, err := n.Notify(ctx, "s1", "a@example.com", samplePayload())
	require.NoError(t, err)
	assert.False(t, second.Sent)

	assert.EqualValues(t, 1, provider.calls.Load())
	events, err := store.ListNotifications(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, storage.NotificationSent, events[0].Status)
	assert.Equal(t, DedupeKey("s1"), events[0].DedupeKey)
	assert.Len(t, []rune(events[0].BodyPreview), 20)
}

func TestConcurrentNotifySendsOnce(t *testing.T) {
	ctx := context.Background()
	store := newLedger(t, "s1")
	provider := &countingProvider{}
	n := NewNotifier(store, provider, 200, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = n.Notify(ctx, "s1", "a@example.com", samplePayload())
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, provider.calls.Load())
}

func TestProviderFailureReleasesReservation(t *testing.T) {
	ctx := context.Background()
	store := newLedger(t, "s1")
	provider := &countingProvider{err: errors.New("smtp down")}
	n := NewNotifier(store, provider, 200, testLogger())

	_, err := n.Notify(ctx, "s1", "a@example.com", samplePayload())
	require.Error(t, err)

	_, err = store.GetNotification(ctx, DedupeKey("s1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	provider.err = nil
	res, err := n.Notify(ctx, "s1", "a@example.com", samplePayload())
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.EqualValues(t, 2, provider.calls.Load())
}

func TestSendTestEmailBypassesDedupe(t *testing.T) {
	ctx := context.Background()
	store := newLedger(t, "s1")
	provider := &countingProvider{}
	n := NewNotifier(store, provider, 200, testLogger())

	for i := 0; i < 2; i++ {
		res, err := n.SendTestEmail(ctx, "a@example.com")
		require.NoError(t, err)
		assert.True(t, res.Sent)
	}
	assert.EqualValues(t, 2, provider.calls.Load())

	events, err := store.ListNotifications(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDedupeKeyIsDeterministic(t *testing.T) {
	assert.Equal(t, DedupeKey("abc"), DedupeKey("abc"))
	assert.NotEqual(t, DedupeKey("abc"), DedupeKey("abd"))
}
