package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"refi-rate-alerts/internal/alerting"
	"refi-rate-alerts/internal/config"
	"refi-rate-alerts/internal/fetcher"
	"refi-rate-alerts/internal/storage"
)

var (
	// ErrInvalidTransition is returned when a lifecycle command does not apply to the session's status.
	ErrInvalidTransition = errors.New("service: transition not allowed from current status")
	// ErrSessionActive is returned when creating a session while a live one exists.
	ErrSessionActive = errors.New("service: user already has an active or paused session")
	// ErrMissingProfile means the user has no threshold profile.
	ErrMissingProfile = errors.New("service: threshold profile missing")
	// ErrMissingContact means the user has no contact address.
	ErrMissingContact = errors.New("service: contact address missing")
)

// TriggerNotifier sends the one trigger email a session may produce.
type TriggerNotifier interface {
	Notify(ctx context.Context, sessionID, recipient string, payload alerting.Payload) (alerting.Result, error)
}

// TestMailer sends a diagnostic message outside the dedupe ledger.
type TestMailer interface {
	SendTestEmail(ctx context.Context, recipient string) (alerting.Result, error)
}

// Service is the session lifecycle manager.
type Service struct {
	store    storage.Store
	source   fetcher.RateSource
	notifier TriggerNotifier
	mailer   TestMailer
	digest   alerting.DigestPoster
	locker   storage.BatchLocker
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string

	series       string
	cooldown     time.Duration
	concurrency  int
	lockKey      int64
	historyLimit int
}

// New constructs the lifecycle manager. digest may be nil.
func New(cfg *config.Config, store storage.Store, source fetcher.RateSource, notifier TriggerNotifier, digest alerting.DigestPoster, logger zerolog.Logger) *Service {
	var locker storage.BatchLocker
	if l, ok := store.(storage.BatchLocker); ok {
		locker = l
	}
	var mailer TestMailer
	if m, ok := notifier.(TestMailer); ok {
		mailer = m
	}

	concurrency := cfg.Scheduler.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	historyLimit := cfg.Monitor.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 90
	}

	return &Service{
		store:        store,
		source:       source,
		notifier:     notifier,
		mailer:       mailer,
		digest:       digest,
		locker:       locker,
		logger:       logger.With().Str("component", "service").Logger(),
		now:          time.Now,
		newID:        uuid.NewString,
		series:       cfg.FRED.SeriesID,
		cooldown:     cfg.Monitor.Cooldown,
		concurrency:  concurrency,
		lockKey:      cfg.Scheduler.AdvisoryLockKey,
		historyLimit: historyLimit,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Series is the benchmark series evaluated by every cycle.
func (s *Service) Series() string {
	return s.series
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}
