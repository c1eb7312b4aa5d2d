package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refi-rate-alerts/internal/config"
	"refi-rate-alerts/internal/storage"
)

func TestRunAllActiveIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// A session whose user has no profile fails fatally.
	require.NoError(t, h.store.UpsertUser(ctx, storage.User{ID: "broken", Email: "b@example.com", CreatedAt: h.clock.Now()}))
	broken := h.seedSession(t, "broken", storage.StatusActive)

	h.seedUser(t, "hit", rateProfile())
	hit := h.seedSession(t, "hit", storage.StatusActive)

	miss := rateProfile()
	miss.BenchmarkRateThreshold = dec("4.0")
	h.seedUser(t, "miss", miss)
	missID := h.seedSession(t, "miss", storage.StatusActive)

	h.seedUser(t, "idle", rateProfile())
	h.seedSession(t, "idle", storage.StatusPaused)

	h.source.set("5.25", true)

	batch, err := h.svc.RunAllActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, batch.Checked)
	assert.Equal(t, 1, batch.Triggered)
	assert.Equal(t, 1, batch.Failed)
	require.Len(t, batch.Results, 3)

	byID := map[string]SessionResult{}
	for _, r := range batch.Results {
		byID[r.SessionID] = r
	}
	assert.NotEmpty(t, byID[broken].Error)
	require.NotNil(t, byID[hit].Result)
	assert.True(t, byID[hit].Result.Triggered)
	require.NotNil(t, byID[missID].Result)
	assert.Equal(t, OutcomeNotTriggered, byID[missID].Result.Outcome)

	require.Len(t, h.digest.digests, 1)
	digest := h.digest.digests[0]
	assert.Equal(t, 3, digest.Checked)
	assert.Equal(t, 1, digest.Triggered)
	assert.Equal(t, []string{broken}, digest.FailedSessions)
}

func TestRunAllActiveOutageContinues(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(c *config.Config) { c.Scheduler.Concurrency = 3 })

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		user := fmt.Sprintf("u%d", i)
		h.seedUser(t, user, rateProfile())
		ids = append(ids, h.seedSession(t, user, storage.StatusActive))
	}
	h.source.set("", false)

	batch, err := h.svc.RunAllActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, batch.Checked)
	assert.Equal(t, 5, batch.Failed)
	assert.Equal(t, 5, h.source.callCount())

	for _, id := range ids {
		session, err := h.store.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, storage.StatusError, session.Status)
	}
	assert.Zero(t, h.provider.calls.Load())
}

func TestRunAllActiveHonoursBatchLock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(c *config.Config) { c.Scheduler.AdvisoryLockKey = 7 })
	h.seedUser(t, "u1", rateProfile())
	h.seedSession(t, "u1", storage.StatusActive)
	h.source.set("6.0", true)

	held := &fakeLocker{acquired: false}
	h.svc.locker = held
	batch, err := h.svc.RunAllActive(ctx)
	require.NoError(t, err)
	assert.True(t, batch.LockedElsewhere)
	assert.Zero(t, h.source.callCount())
	assert.Empty(t, h.digest.digests)

	free := &fakeLocker{acquired: true}
	h.svc.locker = free
	batch, err = h.svc.RunAllActive(ctx)
	require.NoError(t, err)
	assert.False(t, batch.LockedElsewhere)
	assert.Equal(t, 1, batch.Checked)
	assert.True(t, free.unlocked)
}

func TestRunAllActiveEmpty(t *testing.T) {
	h := newHarness(t)
	batch, err := h.svc.RunAllActive(context.Background())
	require.NoError(t, err)
	assert.Zero(t, batch.Checked)
	assert.Empty(t, batch.Results)
}
