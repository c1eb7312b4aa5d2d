package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed width so TEXT comparison orders chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteDateLayout = "2006-01-02"

const (
	sqliteInsertObservationSQL = `INSERT INTO rate_observations (series, observation_date, value, fetched_at)
    VALUES (?,?,?,?)
    ON CONFLICT (series, observation_date) DO NOTHING;`

	sqliteGetObservationSQL = `SELECT series, observation_date, value, fetched_at
    FROM rate_observations
    WHERE series = ? AND observation_date = ?;`

	sqliteLatestObservationSQL = `SELECT series, observation_date, value, fetched_at
    FROM rate_observations
    WHERE series = ?
    ORDER BY observation_date DESC
    LIMIT 1;`

	sqliteObservationHistorySQL = `SELECT series, observation_date, value, fetched_at
    FROM rate_observations
    WHERE series = ?
      AND (? IS NULL OR fetched_at >= ?)
    ORDER BY observation_date DESC
    LIMIT ?;`

	sqliteObservationsBetweenSQL = `SELECT series, observation_date, value, fetched_at
    FROM rate_observations
    WHERE series = ? AND observation_date >= ? AND observation_date < ?
    ORDER BY observation_date;`

	sqliteUpsertUserSQL = `INSERT INTO users (id, email, created_at) VALUES (?,?,?)
    ON CONFLICT (id) DO UPDATE SET email = excluded.email;`

	sqliteGetUserSQL = `SELECT id, email, created_at FROM users WHERE id = ?;`

	sqliteUpsertProfileSQL = `INSERT INTO threshold_profiles (
        user_id, current_rate, benchmark_rate_threshold, break_even_months_threshold,
        email_enabled, loan_balance, remaining_term_months, closing_cost_dollars,
        closing_cost_percent, updated_at
    ) VALUES (?,?,?,?,?,?,?,?,?,?)
    ON CONFLICT (user_id) DO UPDATE SET
        current_rate                = excluded.current_rate,
        benchmark_rate_threshold    = excluded.benchmark_rate_threshold,
        break_even_months_threshold = excluded.break_even_months_threshold,
        email_enabled               = excluded.email_enabled,
        loan_balance                = excluded.loan_balance,
        remaining_term_months       = excluded.remaining_term_months,
        closing_cost_dollars        = excluded.closing_cost_dollars,
        closing_cost_percent        = excluded.closing_cost_percent,
        updated_at                  = excluded.updated_at;`

	sqliteGetProfileSQL = `SELECT user_id, current_rate, benchmark_rate_threshold,
        break_even_months_threshold, email_enabled, loan_balance, remaining_term_months,
        closing_cost_dollars, closing_cost_percent, updated_at
    FROM threshold_profiles WHERE user_id = ?;`

	sqliteUserExistsSQL = `SELECT COUNT(*) FROM users WHERE id = ?;`

	sqliteLiveSessionIDsSQL = `SELECT id FROM monitor_sessions
    WHERE user_id = ? AND status IN ('active', 'paused');`

	sqliteStopSessionSQL = `UPDATE monitor_sessions SET status = 'stopped', updated_at = ? WHERE id = ?;`

	sqliteInsertSessionSQL = `INSERT INTO monitor_sessions (id, user_id, status, created_at, updated_at, threshold_version)
    VALUES (?,?,?,?,?,?);`

	sqliteGetSessionSQL = `SELECT ` + sessionColumns + ` FROM monitor_sessions WHERE id = ?;`

	sqliteCurrentSessionSQL = `SELECT ` + sessionColumns + ` FROM monitor_sessions
    WHERE user_id = ?
    ORDER BY created_at DESC, rowid DESC
    LIMIT 1;`

	sqliteListSessionsByStatusSQL = `SELECT ` + sessionColumns + ` FROM monitor_sessions
    WHERE status = ?
    ORDER BY created_at, rowid;`

	sqliteTransitionSessionSQL = `UPDATE monitor_sessions
    SET
        status           = ?,
        updated_at       = ?,
        completed_at     = CASE WHEN ? = 'completed' THEN ? ELSE completed_at END,
        last_error       = COALESCE(?, last_error),
        last_check_at    = COALESCE(?, last_check_at),
        trigger_metadata = COALESCE(?, trigger_metadata)
    WHERE id = ? AND status IN (%s);`

	sqliteMarkSessionCheckedSQL = `UPDATE monitor_sessions
    SET last_check_at = ?, last_success_at = ?, updated_at = ?
    WHERE id = ?;`

	sqliteBumpThresholdVersionSQL = `UPDATE monitor_sessions
    SET threshold_version = threshold_version + 1, updated_at = ?
    WHERE user_id = ? AND status IN ('active', 'paused');`

	sqliteInsertRunSQL = `INSERT INTO evaluation_runs (
        id, session_id, ran_at, outcome, computed_metrics, triggered_reason,
        notified_at, observation_date, error
    ) VALUES (?,?,?,?,?,?,?,?,?);`

	sqliteListRunsSQL = `SELECT id, session_id, ran_at, outcome, computed_metrics,
        triggered_reason, notified_at, observation_date, error
    FROM evaluation_runs
    WHERE session_id = ?
    ORDER BY ran_at DESC, rowid DESC
    LIMIT ?;`

	sqliteReserveNotificationSQL = `INSERT INTO notification_events (
        id, session_id, dedupe_key, status, created_at, subject, body_preview
    ) VALUES (?,?,?,?,?,?,?)
    ON CONFLICT (dedupe_key) DO NOTHING;`

	sqliteConfirmNotificationSQL = `UPDATE notification_events
    SET status = 'sent', sent_at = ?, provider_message_id = ?
    WHERE dedupe_key = ?;`

	sqliteReleaseNotificationSQL = `DELETE FROM notification_events WHERE dedupe_key = ? AND status = 'pending';`

	sqliteGetNotificationSQL = `SELECT ` + notificationColumns + ` FROM notification_events WHERE dedupe_key = ?;`

	sqliteListNotificationsSQL = `SELECT ` + notificationColumns + ` FROM notification_events
    WHERE session_id = ?
    ORDER BY created_at, rowid;`

	sqliteEnsureMigrationsTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
        filename   TEXT PRIMARY KEY,
        applied_at TEXT NOT NULL
    );`

	sqliteAppliedMigrationSQL = `SELECT COUNT(*) FROM schema_migrations WHERE filename = ?;`
	sqliteRecordMigrationSQL  = `INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?);`
)

// SQLiteStore implements Store on a single-file (or in-memory) SQLite database.
// One connection serializes all writers.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens the database at dsn. Pass ":memory:" for tests.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite pragma %q: %w", pragma, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// Migrate applies pending embedded migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	migrations, err := loadMigrations("sqlite")
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, sqliteEnsureMigrationsTableSQL); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var applied int
		if err := db.QueryRowContext(ctx, sqliteAppliedMigrationSQL, m.Name).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if applied > 0 {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		if _, err := tx.ExecContext(ctx, sqliteRecordMigrationSQL, m.Name, formatSQLiteTime(time.Now())); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.Name, err)
		}
	}
	return nil
}

// InsertObservation stores obs if (series, observation_date) is new.
func (s *SQLiteStore) InsertObservation(ctx context.Context, obs RateObservation) (RateObservation, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return RateObservation{}, false, err
	}

	day := formatSQLiteDate(obs.ObservationDate)
	res, err := db.ExecContext(ctx, sqliteInsertObservationSQL,
		obs.Series, day, obs.Value.String(), formatSQLiteTime(obs.FetchedAt))
	if err != nil {
		return RateObservation{}, false, fmt.Errorf("insert observation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return RateObservation{}, false, fmt.Errorf("insert observation: %w", err)
	}

	stored, err := scanSQLiteObservation(db.QueryRowContext(ctx, sqliteGetObservationSQL, obs.Series, day))
	if err != nil {
		return RateObservation{}, false, fmt.Errorf("load observation: %w", err)
	}
	return stored, affected == 1, nil
}

// LatestObservation returns the newest observation of series.
func (s *SQLiteStore) LatestObservation(ctx context.Context, series string) (RateObservation, error) {
	db, err := s.getDB()
	if err != nil {
		return RateObservation{}, err
	}
	obs, err := scanSQLiteObservation(db.QueryRowContext(ctx, sqliteLatestObservationSQL, series))
	if errors.Is(err, sql.ErrNoRows) {
		return RateObservation{}, ErrNotFound
	}
	if err != nil {
		return RateObservation{}, fmt.Errorf("latest observation: %w", err)
	}
	return obs, nil
}

// ObservationHistory lists the newest observations, oldest first.
func (s *SQLiteStore) ObservationHistory(ctx context.Context, series string, since *time.Time, limit int) ([]RateObservation, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	sinceArg := nullSQLiteTime(since)
	rows, err := db.QueryContext(ctx, sqliteObservationHistorySQL, series, sinceArg, sinceArg, limit)
	if err != nil {
		return nil, fmt.Errorf("observation history: %w", err)
	}
	observations, err := collectSQLiteObservations(rows)
	if err != nil {
		return nil, err
	}
	reverseObservations(observations)
	return observations, nil
}

// ObservationsBetween lists observations dated in [from, to).
func (s *SQLiteStore) ObservationsBetween(ctx context.Context, series string, from, to time.Time) ([]RateObservation, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, sqliteObservationsBetweenSQL, series, formatSQLiteDate(from), formatSQLiteDate(to))
	if err != nil {
		return nil, fmt.Errorf("observations between: %w", err)
	}
	return collectSQLiteObservations(rows)
}

// UpsertUser creates the user or updates its email.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user User) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, sqliteUpsertUserSQL, user.ID, user.Email, formatSQLiteTime(user.CreatedAt)); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// GetUser loads a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (User, error) {
	db, err := s.getDB()
	if err != nil {
		return User{}, err
	}
	var (
		u       User
		created string
	)
	err = db.QueryRowContext(ctx, sqliteGetUserSQL, id).Scan(&u.ID, &u.Email, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	if u.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return User{}, err
	}
	return u, nil
}

// UpsertProfile writes the user's threshold profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p ThresholdProfile) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, sqliteUpsertProfileSQL,
		p.UserID,
		p.CurrentRate.String(),
		optionalDecimalString(p.BenchmarkRateThreshold),
		optionalInt(p.BreakEvenMonthsThreshold),
		p.EmailEnabled,
		optionalDecimalString(p.LoanBalance),
		optionalInt(p.RemainingTermMonths),
		optionalDecimalString(p.ClosingCostDollars),
		optionalDecimalString(p.ClosingCostPercent),
		formatSQLiteTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// GetProfile loads the user's threshold profile.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (ThresholdProfile, error) {
	db, err := s.getDB()
	if err != nil {
		return ThresholdProfile{}, err
	}

	var (
		p                                                  ThresholdProfile
		currentRate, updated                               string
		rateThreshold, balance, closingDollars, closingPct sql.NullString
		breakEvenThreshold, remainingTerm                  sql.NullInt64
	)
	err = db.QueryRowContext(ctx, sqliteGetProfileSQL, userID).Scan(
		&p.UserID,
		&currentRate,
		&rateThreshold,
		&breakEvenThreshold,
		&p.EmailEnabled,
		&balance,
		&remainingTerm,
		&closingDollars,
		&closingPct,
		&updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ThresholdProfile{}, ErrNotFound
	}
	if err != nil {
		return ThresholdProfile{}, fmt.Errorf("get profile: %w", err)
	}

	if err := fillProfileDecimals(&p, currentRate,
		nullStringPtr(rateThreshold), nullStringPtr(balance),
		nullStringPtr(closingDollars), nullStringPtr(closingPct)); err != nil {
		return ThresholdProfile{}, err
	}
	p.BreakEvenMonthsThreshold = nullIntPtr(breakEvenThreshold)
	p.RemainingTermMonths = nullIntPtr(remainingTerm)
	if p.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return ThresholdProfile{}, err
	}
	return p, nil
}

// CreateSession inserts a session, optionally stopping the user's live one.
func (s *SQLiteStore) CreateSession(ctx context.Context, session MonitorSession, replaceLive bool) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create session: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var users int
	if err := tx.QueryRowContext(ctx, sqliteUserExistsSQL, session.UserID).Scan(&users); err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if users == 0 {
		return nil, ErrNotFound
	}

	rows, err := tx.QueryContext(ctx, sqliteLiveSessionIDsSQL, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}
	var live []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan live session: %w", err)
		}
		live = append(live, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(live) > 0 && !replaceLive {
		return nil, ErrLiveSessionExists
	}
	now := formatSQLiteTime(session.CreatedAt)
	for _, id := range live {
		if _, err := tx.ExecContext(ctx, sqliteStopSessionSQL, now, id); err != nil {
			return nil, fmt.Errorf("stop live session: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, sqliteInsertSessionSQL,
		session.ID,
		session.UserID,
		string(session.Status),
		now,
		formatSQLiteTime(session.UpdatedAt),
		session.ThresholdVersion,
	); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create session: %w", err)
	}
	return live, nil
}

// GetSession loads a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (MonitorSession, error) {
	db, err := s.getDB()
	if err != nil {
		return MonitorSession{}, err
	}
	session, err := scanSQLiteSession(db.QueryRowContext(ctx, sqliteGetSessionSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return MonitorSession{}, ErrNotFound
	}
	if err != nil {
		return MonitorSession{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// CurrentSession returns the user's most recently created session.
func (s *SQLiteStore) CurrentSession(ctx context.Context, userID string) (MonitorSession, error) {
	db, err := s.getDB()
	if err != nil {
		return MonitorSession{}, err
	}
	session, err := scanSQLiteSession(db.QueryRowContext(ctx, sqliteCurrentSessionSQL, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return MonitorSession{}, ErrNotFound
	}
	if err != nil {
		return MonitorSession{}, fmt.Errorf("current session: %w", err)
	}
	return session, nil
}

// ListSessionsByStatus lists sessions in status, oldest first.
func (s *SQLiteStore) ListSessionsByStatus(ctx context.Context, status SessionStatus) ([]MonitorSession, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, sqliteListSessionsByStatusSQL, string(status))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]MonitorSession, 0)
	for rows.Next() {
		session, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// TransitionSession moves a session to `to` if its status is one of from.
func (s *SQLiteStore) TransitionSession(ctx context.Context, id string, from []SessionStatus, to SessionStatus, t Transition) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}
	if len(from) == 0 {
		return false, nil
	}

	metadata, err := encodeOptionalJSON(t.TriggerMetadata)
	if err != nil {
		return false, fmt.Errorf("encode trigger metadata: %w", err)
	}

	at := formatSQLiteTime(t.At)
	args := []any{
		string(to),
		at,
		string(to), at,
		nullString(t.LastError),
		nullSQLiteTime(t.CheckedAt),
		nullJSONText(metadata),
		id,
	}
	for _, status := range from {
		args = append(args, string(status))
	}
	query := fmt.Sprintf(sqliteTransitionSessionSQL, placeholders(len(from)))

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition session: %w", err)
	}
	return affected == 1, nil
}

// MarkSessionChecked records a successful rate check.
func (s *SQLiteStore) MarkSessionChecked(ctx context.Context, id string, at time.Time) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	ts := formatSQLiteTime(at)
	res, err := db.ExecContext(ctx, sqliteMarkSessionCheckedSQL, ts, ts, ts, id)
	if err != nil {
		return fmt.Errorf("mark session checked: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// BumpThresholdVersion increments threshold_version on the user's live sessions.
func (s *SQLiteStore) BumpThresholdVersion(ctx context.Context, userID string, at time.Time) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, sqliteBumpThresholdVersionSQL, formatSQLiteTime(at), userID)
	if err != nil {
		return 0, fmt.Errorf("bump threshold version: %w", err)
	}
	return res.RowsAffected()
}

// InsertRun appends an evaluation run.
func (s *SQLiteStore) InsertRun(ctx context.Context, run EvaluationRun) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	metrics, err := encodeOptionalJSON(run.Metrics)
	if err != nil {
		return fmt.Errorf("encode computed metrics: %w", err)
	}

	var observed any
	if run.ObservationDate != nil {
		observed = formatSQLiteDate(*run.ObservationDate)
	}

	_, err = db.ExecContext(ctx, sqliteInsertRunSQL,
		run.ID,
		run.SessionID,
		formatSQLiteTime(run.RanAt),
		string(run.Outcome),
		nullJSONText(metrics),
		nullString(run.TriggeredReason),
		nullSQLiteTime(run.NotifiedAt),
		observed,
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("insert evaluation run: %w", err)
	}
	return nil
}

// ListRuns lists a session's runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, sessionID string, limit int) ([]EvaluationRun, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, sqliteListRunsSQL, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]EvaluationRun, 0)
	for rows.Next() {
		var (
			run                                   EvaluationRun
			ranAt, outcome                        string
			metrics, reason, notified, obs, errTx sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.SessionID, &ranAt, &outcome, &metrics, &reason, &notified, &obs, &errTx); err != nil {
			return nil, err
		}
		if run.RanAt, err = parseSQLiteTime(ranAt); err != nil {
			return nil, err
		}
		run.Outcome = RunOutcome(outcome)
		if run.Metrics, err = decodeMetrics([]byte(metrics.String)); err != nil {
			return nil, err
		}
		run.TriggeredReason = nullStringPtr(reason)
		if run.NotifiedAt, err = parseNullSQLiteTime(notified); err != nil {
			return nil, err
		}
		if obs.Valid {
			day, err := time.Parse(sqliteDateLayout, obs.String)
			if err != nil {
				return nil, fmt.Errorf("parse observation_date: %w", err)
			}
			run.ObservationDate = &day
		}
		run.Error = nullStringPtr(errTx)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ReserveNotification inserts a pending event unless the dedupe key exists.
func (s *SQLiteStore) ReserveNotification(ctx context.Context, event NotificationEvent) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, sqliteReserveNotificationSQL,
		event.ID,
		event.SessionID,
		event.DedupeKey,
		string(NotificationPending),
		formatSQLiteTime(event.CreatedAt),
		event.Subject,
		event.BodyPreview,
	)
	if err != nil {
		return false, fmt.Errorf("reserve notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve notification: %w", err)
	}
	return affected == 1, nil
}

// ConfirmNotification marks a reservation as delivered.
func (s *SQLiteStore) ConfirmNotification(ctx context.Context, dedupeKey, providerMessageID string, sentAt time.Time) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, sqliteConfirmNotificationSQL, formatSQLiteTime(sentAt), providerMessageID, dedupeKey)
	if err != nil {
		return fmt.Errorf("confirm notification: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseNotification drops a pending reservation so a later cycle may retry.
func (s *SQLiteStore) ReleaseNotification(ctx context.Context, dedupeKey string) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, sqliteReleaseNotificationSQL, dedupeKey); err != nil {
		return fmt.Errorf("release notification: %w", err)
	}
	return nil
}

// GetNotification loads an event by dedupe key.
func (s *SQLiteStore) GetNotification(ctx context.Context, dedupeKey string) (NotificationEvent, error) {
	db, err := s.getDB()
	if err != nil {
		return NotificationEvent{}, err
	}
	event, err := scanSQLiteNotification(db.QueryRowContext(ctx, sqliteGetNotificationSQL, dedupeKey))
	if errors.Is(err, sql.ErrNoRows) {
		return NotificationEvent{}, ErrNotFound
	}
	if err != nil {
		return NotificationEvent{}, fmt.Errorf("get notification: %w", err)
	}
	return event, nil
}

// ListNotifications lists a session's events in creation order.
func (s *SQLiteStore) ListNotifications(ctx context.Context, sessionID string) ([]NotificationEvent, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, sqliteListNotificationsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	events := make([]NotificationEvent, 0)
	for rows.Next() {
		event, err := scanSQLiteNotification(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteObservation(row rowScanner) (RateObservation, error) {
	var (
		obs                   RateObservation
		day, value, fetchedAt string
	)
	if err := row.Scan(&obs.Series, &day, &value, &fetchedAt); err != nil {
		return RateObservation{}, err
	}
	parsedDay, err := time.Parse(sqliteDateLayout, day)
	if err != nil {
		return RateObservation{}, fmt.Errorf("parse observation_date: %w", err)
	}
	obs.ObservationDate = parsedDay
	if obs.Value, err = decimal.NewFromString(value); err != nil {
		return RateObservation{}, fmt.Errorf("parse observation value: %w", err)
	}
	if obs.FetchedAt, err = parseSQLiteTime(fetchedAt); err != nil {
		return RateObservation{}, err
	}
	return obs, nil
}

func collectSQLiteObservations(rows *sql.Rows) ([]RateObservation, error) {
	defer rows.Close()
	observations := make([]RateObservation, 0)
	for rows.Next() {
		obs, err := scanSQLiteObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

func scanSQLiteSession(row rowScanner) (MonitorSession, error) {
	var (
		session                                         MonitorSession
		status, created, updated                        string
		completed, lastCheck, lastSuccess, lastErr, raw sql.NullString
	)
	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&status,
		&created,
		&updated,
		&completed,
		&lastCheck,
		&lastSuccess,
		&lastErr,
		&session.ThresholdVersion,
		&raw,
	); err != nil {
		return MonitorSession{}, err
	}

	var err error
	if session.Status, err = ParseSessionStatus(status); err != nil {
		return MonitorSession{}, err
	}
	if session.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return MonitorSession{}, err
	}
	if session.UpdatedAt, err = parseSQLiteTime(updated); err != nil {
		return MonitorSession{}, err
	}
	if session.CompletedAt, err = parseNullSQLiteTime(completed); err != nil {
		return MonitorSession{}, err
	}
	if session.LastCheckAt, err = parseNullSQLiteTime(lastCheck); err != nil {
		return MonitorSession{}, err
	}
	if session.LastSuccessAt, err = parseNullSQLiteTime(lastSuccess); err != nil {
		return MonitorSession{}, err
	}
	session.LastError = nullStringPtr(lastErr)
	if session.TriggerMetadata, err = decodeTriggerMetadata([]byte(raw.String)); err != nil {
		return MonitorSession{}, err
	}
	return session, nil
}

func scanSQLiteNotification(row rowScanner) (NotificationEvent, error) {
	var (
		event            NotificationEvent
		status, created  string
		sent, providerID sql.NullString
	)
	if err := row.Scan(
		&event.ID,
		&event.SessionID,
		&event.DedupeKey,
		&status,
		&created,
		&sent,
		&event.Subject,
		&event.BodyPreview,
		&providerID,
	); err != nil {
		return NotificationEvent{}, err
	}
	event.Status = NotificationStatus(status)
	var err error
	if event.CreatedAt, err = parseSQLiteTime(created); err != nil {
		return NotificationEvent{}, err
	}
	if event.SentAt, err = parseNullSQLiteTime(sent); err != nil {
		return NotificationEvent{}, err
	}
	event.ProviderMessageID = nullStringPtr(providerID)
	return event, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatSQLiteDate(t time.Time) string {
	return dateOnly(t).Format(sqliteDateLayout)
}

func parseSQLiteTime(v string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}

func parseNullSQLiteTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseSQLiteTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullSQLiteTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatSQLiteTime(*t)
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullJSONText(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func optionalInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

var _ Store = (*SQLiteStore)(nil)
