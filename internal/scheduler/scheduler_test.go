package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(Options{Schedule: "every day"}, zerolog.Nop())
	require.Error(t, err)
}

func TestNextHonoursLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	s, err := New(Options{Schedule: "0 14 * * *", Location: loc}, zerolog.Nop())
	require.NoError(t, err)

	// 2025-03-06 12:00 New York is 17:00 UTC.
	now := time.Date(2025, 3, 6, 17, 0, 0, 0, time.UTC)
	next := s.Next(now)
	assert.True(t, next.Equal(time.Date(2025, 3, 6, 14, 0, 0, 0, loc)), "got %s", next)
	assert.Equal(t, loc.String(), next.Location().String())

	after := s.Next(next)
	assert.True(t, after.Equal(time.Date(2025, 3, 7, 14, 0, 0, 0, loc)), "got %s", after)
}

func TestNextSkipsWeekend(t *testing.T) {
	s, err := New(Options{Schedule: "30 9 * * 1-5"}, zerolog.Nop())
	require.NoError(t, err)

	friday := time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC)
	next := s.Next(friday)
	assert.True(t, next.Equal(time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)), "got %s", next)
}

func TestRunStopsDuringStartupDelay(t *testing.T) {
	s, err := New(Options{Schedule: "0 0 * * *", StartupDelay: time.Hour}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	err = s.Run(ctx, func(context.Context, time.Time) error {
		called = true
		return nil
	})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, called)
}

func TestRunStopsWhileWaiting(t *testing.T) {
	s, err := New(Options{Schedule: "0 0 1 1 *"}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error { return nil })
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
}
