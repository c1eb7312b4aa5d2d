package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"refi-rate-alerts/internal/config"
)

const (
	insertObservationSQL = `INSERT INTO rate_observations (
        series,
        observation_date,
        value,
        fetched_at
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (series, observation_date) DO NOTHING
    RETURNING series, observation_date, value::text, fetched_at;`

	getObservationSQL = `SELECT series, observation_date, value::text, fetched_at
    FROM rate_observations
    WHERE series = $1 AND observation_date = $2;`

	latestObservationSQL = `SELECT series, observation_date, value::text, fetched_at
    FROM rate_observations
    WHERE series = $1
    ORDER BY observation_date DESC
    LIMIT 1;`

	observationHistorySQL = `SELECT series, observation_date, value::text, fetched_at
    FROM rate_observations
    WHERE series = $1
      AND ($2::timestamptz IS NULL OR fetched_at >= $2::timestamptz)
    ORDER BY observation_date DESC
    LIMIT $3;`

	observationsBetweenSQL = `SELECT series, observation_date, value::text, fetched_at
    FROM rate_observations
    WHERE series = $1
      AND observation_date >= $2
      AND observation_date < $3
    ORDER BY observation_date;`

	upsertUserSQL = `INSERT INTO users (id, email, created_at)
    VALUES ($1,$2,$3)
    ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email;`

	getUserSQL = `SELECT id, email, created_at FROM users WHERE id = $1;`

	lockUserSQL = `SELECT id FROM users WHERE id = $1 FOR UPDATE;`

	upsertProfileSQL = `INSERT INTO threshold_profiles (
        user_id,
        current_rate,
        benchmark_rate_threshold,
        break_even_months_threshold,
        email_enabled,
        loan_balance,
        remaining_term_months,
        closing_cost_dollars,
        closing_cost_percent,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (user_id) DO UPDATE
    SET
        current_rate                = EXCLUDED.current_rate,
        benchmark_rate_threshold    = EXCLUDED.benchmark_rate_threshold,
        break_even_months_threshold = EXCLUDED.break_even_months_threshold,
        email_enabled               = EXCLUDED.email_enabled,
        loan_balance                = EXCLUDED.loan_balance,
        remaining_term_months       = EXCLUDED.remaining_term_months,
        closing_cost_dollars        = EXCLUDED.closing_cost_dollars,
        closing_cost_percent        = EXCLUDED.closing_cost_percent,
        updated_at                  = EXCLUDED.updated_at;`

	getProfileSQL = `SELECT
        user_id,
        current_rate::text,
        benchmark_rate_threshold::text,
        break_even_months_threshold,
        email_enabled,
        loan_balance::text,
        remaining_term_months,
        closing_cost_dollars::text,
        closing_cost_percent::text,
        updated_at
    FROM threshold_profiles
    WHERE user_id = $1;`

	sessionColumns = `id,
        user_id,
        status,
        created_at,
        updated_at,
        completed_at,
        last_check_at,
        last_success_at,
        last_error,
        threshold_version,
        trigger_metadata`

	stopLiveSessionsSQL = `UPDATE monitor_sessions
    SET status = 'stopped', updated_at = $2
    WHERE user_id = $1 AND status IN ('active', 'paused')
    RETURNING id;`

	countLiveSessionsSQL = `SELECT COUNT(*) FROM monitor_sessions
    WHERE user_id = $1 AND status IN ('active', 'paused');`

	insertSessionSQL = `INSERT INTO monitor_sessions (
        id,
        user_id,
        status,
        created_at,
        updated_at,
        threshold_version
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	getSessionSQL = `SELECT ` + sessionColumns + ` FROM monitor_sessions WHERE id = $1;`

	currentSessionSQL = `SELECT ` + sessionColumns + ` FROM monitor_sessions
    WHERE user_id = $1
    ORDER BY created_at DESC
    LIMIT 1;`

	listSessionsByStatusSQL = `SELECT ` + sessionColumns + ` FROM monitor_sessions
    WHERE status = $1
    ORDER BY created_at;`

	transitionSessionSQL = `UPDATE monitor_sessions
    SET
        status           = $3::text,
        updated_at       = $4,
        completed_at     = CASE WHEN $3::text = 'completed' THEN $4 ELSE completed_at END,
        last_error       = COALESCE($5::text, last_error),
        last_check_at    = COALESCE($6::timestamptz, last_check_at),
        trigger_metadata = COALESCE($7::jsonb, trigger_metadata)
    WHERE id = $1 AND status = ANY($2::text[]);`

	markSessionCheckedSQL = `UPDATE monitor_sessions
    SET last_check_at = $2, last_success_at = $2, updated_at = $2
    WHERE id = $1;`

	bumpThresholdVersionSQL = `UPDATE monitor_sessions
    SET threshold_version = threshold_version + 1, updated_at = $2
    WHERE user_id = $1 AND status IN ('active', 'paused');`

	insertRunSQL = `INSERT INTO evaluation_runs (
        id,
        session_id,
        ran_at,
        outcome,
        computed_metrics,
        triggered_reason,
        notified_at,
        observation_date,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9
    );`

	listRunsSQL = `SELECT
        id,
        session_id,
        ran_at,
        outcome,
        computed_metrics,
        triggered_reason,
        notified_at,
        observation_date,
        error
    FROM evaluation_runs
    WHERE session_id = $1
    ORDER BY ran_at DESC
    LIMIT $2;`

	reserveNotificationSQL = `INSERT INTO notification_events (
        id,
        session_id,
        dedupe_key,
        status,
        created_at,
        subject,
        body_preview
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (dedupe_key) DO NOTHING;`

	confirmNotificationSQL = `UPDATE notification_events
    SET status = 'sent', sent_at = $2, provider_message_id = $3
    WHERE dedupe_key = $1;`

	releaseNotificationSQL = `DELETE FROM notification_events
    WHERE dedupe_key = $1 AND status = 'pending';`

	notificationColumns = `id,
        session_id,
        dedupe_key,
        status,
        created_at,
        sent_at,
        subject,
        body_preview,
        provider_message_id`

	getNotificationSQL = `SELECT ` + notificationColumns + ` FROM notification_events WHERE dedupe_key = $1;`

	listNotificationsSQL = `SELECT ` + notificationColumns + ` FROM notification_events
    WHERE session_id = $1
    ORDER BY created_at;`

	tryBatchLockSQL = `SELECT pg_try_advisory_xact_lock($1);`

	ensureMigrationsTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
        filename   TEXT PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	appliedMigrationsSQL = `SELECT filename FROM schema_migrations;`
	recordMigrationSQL   = `INSERT INTO schema_migrations (filename) VALUES ($1);`
)

// PgxPool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool PgxPool
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// NewPostgresStore wires a pool into a PostgresStore.
func NewPostgresStore(pool PgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *PostgresStore) getPool() (PgxPool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate applies pending embedded migrations, each in its own transaction.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	migrations, err := loadMigrations("postgres")
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, ensureMigrationsTableSQL); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	rows, err := pool.Query(ctx, appliedMigrationsSQL)
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("scan applied migration: %w", err)
		}
		applied[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Name] {
			continue
		}
		if err := s.applyMigration(ctx, pool, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) applyMigration(ctx context.Context, pool PgxPool, m migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.Name, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return fmt.Errorf("apply migration %s: %w", m.Name, err)
	}
	if _, err := tx.Exec(ctx, recordMigrationSQL, m.Name); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.Name, err)
	}
	return nil
}

// TryBatchLock takes a transaction-scoped advisory lock; unlock ends the transaction.
func (s *PostgresStore) TryBatchLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin lock transaction: %w", err)
	}

	var acquired bool
	if err := tx.QueryRow(ctx, tryBatchLockSQL, key).Scan(&acquired); err != nil {
		_ = tx.Rollback(ctx)
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		_ = tx.Rollback(ctx)
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tx.Rollback(ctxUnlock)
	}
	return unlock, true, nil
}

// InsertObservation stores obs if (series, observation_date) is new.
func (s *PostgresStore) InsertObservation(ctx context.Context, obs RateObservation) (RateObservation, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return RateObservation{}, false, err
	}

	day := dateOnly(obs.ObservationDate)
	stored, err := scanObservation(pool.QueryRow(ctx, insertObservationSQL,
		obs.Series,
		day,
		obs.Value.String(),
		obs.FetchedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return RateObservation{}, false, fmt.Errorf("insert observation: %w", err)
	}

	existing, err := scanObservation(pool.QueryRow(ctx, getObservationSQL, obs.Series, day))
	if err != nil {
		return RateObservation{}, false, fmt.Errorf("load existing observation: %w", err)
	}
	return existing, false, nil
}

// LatestObservation returns the newest observation of series.
func (s *PostgresStore) LatestObservation(ctx context.Context, series string) (RateObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return RateObservation{}, err
	}
	obs, err := scanObservation(pool.QueryRow(ctx, latestObservationSQL, series))
	if errors.Is(err, pgx.ErrNoRows) {
		return RateObservation{}, ErrNotFound
	}
	if err != nil {
		return RateObservation{}, fmt.Errorf("latest observation: %w", err)
	}
	return obs, nil
}

// ObservationHistory lists the newest observations, oldest first.
func (s *PostgresStore) ObservationHistory(ctx context.Context, series string, since *time.Time, limit int) ([]RateObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, observationHistorySQL, series, since, limit)
	if err != nil {
		return nil, fmt.Errorf("observation history: %w", err)
	}
	observations, err := collectObservations(rows)
	if err != nil {
		return nil, err
	}
	reverseObservations(observations)
	return observations, nil
}

// ObservationsBetween lists observations dated in [from, to).
func (s *PostgresStore) ObservationsBetween(ctx context.Context, series string, from, to time.Time) ([]RateObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, observationsBetweenSQL, series, dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("observations between: %w", err)
	}
	return collectObservations(rows)
}

// UpsertUser creates the user or updates its email.
func (s *PostgresStore) UpsertUser(ctx context.Context, user User) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, upsertUserSQL, user.ID, user.Email, user.CreatedAt); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUser loads a user by id.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	pool, err := s.getPool()
	if err != nil {
		return User{}, err
	}
	var u User
	err = pool.QueryRow(ctx, getUserSQL, id).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// UpsertProfile writes the user's threshold profile.
func (s *PostgresStore) UpsertProfile(ctx context.Context, p ThresholdProfile) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, upsertProfileSQL,
		p.UserID,
		p.CurrentRate.String(),
		optionalDecimalString(p.BenchmarkRateThreshold),
		p.BreakEvenMonthsThreshold,
		p.EmailEnabled,
		optionalDecimalString(p.LoanBalance),
		p.RemainingTermMonths,
		optionalDecimalString(p.ClosingCostDollars),
		optionalDecimalString(p.ClosingCostPercent),
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// GetProfile loads the user's threshold profile.
func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (ThresholdProfile, error) {
	pool, err := s.getPool()
	if err != nil {
		return ThresholdProfile{}, err
	}

	var (
		p                                                 ThresholdProfile
		currentRate                                       string
		rateThreshold, balance, closingDollars, closingPc *string
	)
	err = pool.QueryRow(ctx, getProfileSQL, userID).Scan(
		&p.UserID,
		&currentRate,
		&rateThreshold,
		&p.BreakEvenMonthsThreshold,
		&p.EmailEnabled,
		&balance,
		&p.RemainingTermMonths,
		&closingDollars,
		&closingPc,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ThresholdProfile{}, ErrNotFound
	}
	if err != nil {
		return ThresholdProfile{}, fmt.Errorf("get profile: %w", err)
	}

	if err := fillProfileDecimals(&p, currentRate, rateThreshold, balance, closingDollars, closingPc); err != nil {
		return ThresholdProfile{}, err
	}
	return p, nil
}

// CreateSession inserts a session, optionally stopping the user's live one.
func (s *PostgresStore) CreateSession(ctx context.Context, session MonitorSession, replaceLive bool) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create session: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var locked string
	if err := tx.QueryRow(ctx, lockUserSQL, session.UserID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock user: %w", err)
	}

	var stopped []string
	if replaceLive {
		rows, err := tx.Query(ctx, stopLiveSessionsSQL, session.UserID, session.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("stop live sessions: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan stopped session: %w", err)
			}
			stopped = append(stopped, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	} else {
		var live int64
		if err := tx.QueryRow(ctx, countLiveSessionsSQL, session.UserID).Scan(&live); err != nil {
			return nil, fmt.Errorf("count live sessions: %w", err)
		}
		if live > 0 {
			return nil, ErrLiveSessionExists
		}
	}

	if _, err := tx.Exec(ctx, insertSessionSQL,
		session.ID,
		session.UserID,
		string(session.Status),
		session.CreatedAt,
		session.UpdatedAt,
		session.ThresholdVersion,
	); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create session: %w", err)
	}
	return stopped, nil
}

// GetSession loads a session by id.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (MonitorSession, error) {
	pool, err := s.getPool()
	if err != nil {
		return MonitorSession{}, err
	}
	session, err := scanPgSession(pool.QueryRow(ctx, getSessionSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return MonitorSession{}, ErrNotFound
	}
	if err != nil {
		return MonitorSession{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// CurrentSession returns the user's most recently created session.
func (s *PostgresStore) CurrentSession(ctx context.Context, userID string) (MonitorSession, error) {
	pool, err := s.getPool()
	if err != nil {
		return MonitorSession{}, err
	}
	session, err := scanPgSession(pool.QueryRow(ctx, currentSessionSQL, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return MonitorSession{}, ErrNotFound
	}
	if err != nil {
		return MonitorSession{}, fmt.Errorf("current session: %w", err)
	}
	return session, nil
}

// ListSessionsByStatus lists sessions in status, oldest first.
func (s *PostgresStore) ListSessionsByStatus(ctx context.Context, status SessionStatus) ([]MonitorSession, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listSessionsByStatusSQL, string(status))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]MonitorSession, 0)
	for rows.Next() {
		session, err := scanPgSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return sessions, nil
}

// TransitionSession moves a session to `to` if its status is one of from.
func (s *PostgresStore) TransitionSession(ctx context.Context, id string, from []SessionStatus, to SessionStatus, t Transition) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	metadata, err := encodeOptionalJSON(t.TriggerMetadata)
	if err != nil {
		return false, fmt.Errorf("encode trigger metadata: %w", err)
	}

	tag, err := pool.Exec(ctx, transitionSessionSQL,
		id,
		statusStrings(from),
		string(to),
		t.At,
		t.LastError,
		t.CheckedAt,
		nullableJSON(metadata),
	)
	if err != nil {
		return false, fmt.Errorf("transition session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSessionChecked records a successful rate check.
func (s *PostgresStore) MarkSessionChecked(ctx context.Context, id string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, markSessionCheckedSQL, id, at)
	if err != nil {
		return fmt.Errorf("mark session checked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// BumpThresholdVersion increments threshold_version on the user's live sessions.
func (s *PostgresStore) BumpThresholdVersion(ctx context.Context, userID string, at time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, bumpThresholdVersionSQL, userID, at)
	if err != nil {
		return 0, fmt.Errorf("bump threshold version: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertRun appends an evaluation run.
func (s *PostgresStore) InsertRun(ctx context.Context, run EvaluationRun) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	metrics, err := encodeOptionalJSON(run.Metrics)
	if err != nil {
		return fmt.Errorf("encode computed metrics: %w", err)
	}

	var observed any
	if run.ObservationDate != nil {
		observed = dateOnly(*run.ObservationDate)
	}

	_, err = pool.Exec(ctx, insertRunSQL,
		run.ID,
		run.SessionID,
		run.RanAt,
		string(run.Outcome),
		nullableJSON(metrics),
		run.TriggeredReason,
		run.NotifiedAt,
		observed,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("insert evaluation run: %w", err)
	}
	return nil
}

// ListRuns lists a session's runs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, sessionID string, limit int) ([]EvaluationRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRunsSQL, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]EvaluationRun, 0, limit)
	for rows.Next() {
		var (
			run     EvaluationRun
			outcome string
			metrics []byte
		)
		if err := rows.Scan(
			&run.ID,
			&run.SessionID,
			&run.RanAt,
			&outcome,
			&metrics,
			&run.TriggeredReason,
			&run.NotifiedAt,
			&run.ObservationDate,
			&run.Error,
		); err != nil {
			return nil, err
		}
		run.Outcome = RunOutcome(outcome)
		if run.Metrics, err = decodeMetrics(metrics); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

// ReserveNotification inserts a pending event unless the dedupe key exists.
func (s *PostgresStore) ReserveNotification(ctx context.Context, event NotificationEvent) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, err := pool.Exec(ctx, reserveNotificationSQL,
		event.ID,
		event.SessionID,
		event.DedupeKey,
		string(NotificationPending),
		event.CreatedAt,
		event.Subject,
		event.BodyPreview,
	)
	if err != nil {
		return false, fmt.Errorf("reserve notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ConfirmNotification marks a reservation as delivered.
func (s *PostgresStore) ConfirmNotification(ctx context.Context, dedupeKey, providerMessageID string, sentAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, confirmNotificationSQL, dedupeKey, sentAt, providerMessageID)
	if err != nil {
		return fmt.Errorf("confirm notification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseNotification drops a pending reservation so a later cycle may retry.
func (s *PostgresStore) ReleaseNotification(ctx context.Context, dedupeKey string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, releaseNotificationSQL, dedupeKey); err != nil {
		return fmt.Errorf("release notification: %w", err)
	}
	return nil
}

// GetNotification loads an event by dedupe key.
func (s *PostgresStore) GetNotification(ctx context.Context, dedupeKey string) (NotificationEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return NotificationEvent{}, err
	}
	event, err := scanPgNotification(pool.QueryRow(ctx, getNotificationSQL, dedupeKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return NotificationEvent{}, ErrNotFound
	}
	if err != nil {
		return NotificationEvent{}, fmt.Errorf("get notification: %w", err)
	}
	return event, nil
}

// ListNotifications lists a session's events in creation order.
func (s *PostgresStore) ListNotifications(ctx context.Context, sessionID string) ([]NotificationEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listNotificationsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	events := make([]NotificationEvent, 0)
	for rows.Next() {
		event, err := scanPgNotification(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

func scanObservation(row pgx.Row) (RateObservation, error) {
	var (
		obs   RateObservation
		value string
	)
	if err := row.Scan(&obs.Series, &obs.ObservationDate, &value, &obs.FetchedAt); err != nil {
		return RateObservation{}, err
	}
	parsed, err := decimal.NewFromString(value)
	if err != nil {
		return RateObservation{}, fmt.Errorf("parse observation value: %w", err)
	}
	obs.Value = parsed
	return obs, nil
}

func collectObservations(rows pgx.Rows) ([]RateObservation, error) {
	defer rows.Close()

	observations := make([]RateObservation, 0)
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

func scanPgSession(row pgx.Row) (MonitorSession, error) {
	var (
		session  MonitorSession
		status   string
		metadata []byte
	)
	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&status,
		&session.CreatedAt,
		&session.UpdatedAt,
		&session.CompletedAt,
		&session.LastCheckAt,
		&session.LastSuccessAt,
		&session.LastError,
		&session.ThresholdVersion,
		&metadata,
	); err != nil {
		return MonitorSession{}, err
	}

	parsed, err := ParseSessionStatus(status)
	if err != nil {
		return MonitorSession{}, err
	}
	session.Status = parsed
	if session.TriggerMetadata, err = decodeTriggerMetadata(metadata); err != nil {
		return MonitorSession{}, err
	}
	return session, nil
}

func scanPgNotification(row pgx.Row) (NotificationEvent, error) {
	var (
		event  NotificationEvent
		status string
	)
	if err := row.Scan(
		&event.ID,
		&event.SessionID,
		&event.DedupeKey,
		&status,
		&event.CreatedAt,
		&event.SentAt,
		&event.Subject,
		&event.BodyPreview,
		&event.ProviderMessageID,
	); err != nil {
		return NotificationEvent{}, err
	}
	event.Status = NotificationStatus(status)
	return event, nil
}

var (
	_ Store       = (*PostgresStore)(nil)
	_ BatchLocker = (*PostgresStore)(nil)
)
