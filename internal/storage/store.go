package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"refi-rate-alerts/internal/config"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
	// ErrNotFound is returned when a keyed lookup matches no row.
	ErrNotFound = errors.New("storage: not found")
	// ErrLiveSessionExists is returned when a user already has an active or paused session.
	ErrLiveSessionExists = errors.New("storage: user already has a live session")
)

// RateStore persists benchmark observations keyed by (series, observation_date).
type RateStore interface {
	// InsertObservation stores obs unless the natural key exists. It returns the
	// persisted row (the first writer's value) and whether this call inserted it.
	InsertObservation(ctx context.Context, obs RateObservation) (RateObservation, bool, error)
	LatestObservation(ctx context.Context, series string) (RateObservation, error)
	// ObservationHistory returns at most limit of the newest observations,
	// fetched at or after since when given, in chronological order.
	ObservationHistory(ctx context.Context, series string, since *time.Time, limit int) ([]RateObservation, error)
	ObservationsBetween(ctx context.Context, series string, from, to time.Time) ([]RateObservation, error)
}

// UserStore holds contact records.
type UserStore interface {
	UpsertUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
}

// ProfileStore holds one threshold profile per user.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, profile ThresholdProfile) error
	GetProfile(ctx context.Context, userID string) (ThresholdProfile, error)
}

// SessionStore persists monitor sessions. Status changes go through
// TransitionSession, which only applies when the row is in one of from.
type SessionStore interface {
	// CreateSession inserts session for its user. With replaceLive, any live
	// session is stopped in the same transaction and its id returned; without it
	// a live session yields ErrLiveSessionExists.
	CreateSession(ctx context.Context, session MonitorSession, replaceLive bool) ([]string, error)
	GetSession(ctx context.Context, id string) (MonitorSession, error)
	CurrentSession(ctx context.Context, userID string) (MonitorSession, error)
	ListSessionsByStatus(ctx context.Context, status SessionStatus) ([]MonitorSession, error)
	TransitionSession(ctx context.Context, id string, from []SessionStatus, to SessionStatus, t Transition) (bool, error)
	MarkSessionChecked(ctx context.Context, id string, at time.Time) error
	BumpThresholdVersion(ctx context.Context, userID string, at time.Time) (int64, error)
}

// RunStore is the append-only evaluation log.
type RunStore interface {
	InsertRun(ctx context.Context, run EvaluationRun) error
	ListRuns(ctx context.Context, sessionID string, limit int) ([]EvaluationRun, error)
}

// NotificationStore implements the dedupe ledger. ReserveNotification is an
// atomic insert-if-absent on the dedupe key.
type NotificationStore interface {
	ReserveNotification(ctx context.Context, event NotificationEvent) (bool, error)
	ConfirmNotification(ctx context.Context, dedupeKey, providerMessageID string, sentAt time.Time) error
	ReleaseNotification(ctx context.Context, dedupeKey string) error
	GetNotification(ctx context.Context, dedupeKey string) (NotificationEvent, error)
	ListNotifications(ctx context.Context, sessionID string) ([]NotificationEvent, error)
}

// BatchLocker exposes a cross-process exclusive lock for the daily batch.
type BatchLocker interface {
	TryBatchLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates every persistence concern.
type Store interface {
	RateStore
	UserStore
	ProfileStore
	SessionStore
	RunStore
	NotificationStore

	Migrate(ctx context.Context) error
	Close()
}

// Open connects to the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(pool), nil
	case config.DriverSQLite:
		return OpenSQLite(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
