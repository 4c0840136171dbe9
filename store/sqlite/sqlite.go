/*
Package sqlite provides a SQLite-backed implementation of store.Store.

PURPOSE:
  Persists users, attendance records, scheduled events and alert runs for
  a single facility. The engine reads whole months at a time, so the hot
  paths are date-range scans.

KEY TABLES:
  users:              Entitlement profile (受給者証 fields), nullable where optional
  attendance_records: One row per scan or manual entry; duplicates allowed
  scheduled_events:   Expected visits from the facility calendar
  alert_runs:         History of scheduled reconciliation passes

COLUMN ENCODING:
  Dates are TEXT "YYYY-MM-DD" so lexical comparison is date order.
  Times of day are INTEGER minutes since midnight, NULL when unset.

INDEXES:
  - idx_attendance_date:      month scans (hot path)
  - idx_attendance_user_date: per-user lookups; deliberately NOT unique
  - idx_events_date:          reconciliation window scans

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's own locking.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  st, err := sqlite.New("./data/dayservice.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - store/store.go: Interface definition
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kizuna/dayservice/attendance"
	"github.com/kizuna/dayservice/billing"
	"github.com/kizuna/dayservice/generic"
	"github.com/kizuna/dayservice/store"
)

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ store.Store = (*Store)(nil)

// runTimeLayout is fixed width so alert-run timestamps sort as text.
// RFC3339Nano trims trailing zeros, which sorts ":05Z" after ":05.1Z".
const runTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// each connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		jukyusha_no TEXT NOT NULL DEFAULT '',
		city_no TEXT NOT NULL DEFAULT '',
		days_specified INTEGER,
		decision_end_date TEXT,
		upper_limit_amount INTEGER,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- No UNIQUE(user_id, date): duplicates are collapsed by the engine
	CREATE TABLE IF NOT EXISTS attendance_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		month TEXT NOT NULL,
		usage_status TEXT NOT NULL,
		arrival_minutes INTEGER,
		departure_minutes INTEGER,
		notes TEXT NOT NULL DEFAULT '',
		extension_class INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_date
		ON attendance_records(date);
	CREATE INDEX IF NOT EXISTS idx_attendance_user_date
		ON attendance_records(user_id, date);

	CREATE TABLE IF NOT EXISTS scheduled_events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		type TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_date
		ON scheduled_events(date);

	CREATE TABLE IF NOT EXISTS alert_runs (
		id TEXT PRIMARY KEY,
		from_date TEXT NOT NULL DEFAULT '',
		as_of TEXT NOT NULL,
		missing_departure INTEGER NOT NULL DEFAULT 0,
		missing_attendance INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_alert_runs_started
		ON alert_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// USERS
// =============================================================================

// SaveUser inserts or updates a user.
func (s *Store) SaveUser(ctx context.Context, u billing.UserEntitlement) (billing.UserEntitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.UserID == "" {
		u.UserID = store.NewUserID()
	}

	query := `
		INSERT INTO users
		(id, display_name, jukyusha_no, city_no, days_specified, decision_end_date,
		 upper_limit_amount, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			jukyusha_no = excluded.jukyusha_no,
			city_no = excluded.city_no,
			days_specified = excluded.days_specified,
			decision_end_date = excluded.decision_end_date,
			upper_limit_amount = excluded.upper_limit_amount,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query,
		u.UserID,
		u.DisplayName,
		u.JukyushaNo,
		u.CityNo,
		nullInt(u.DaysSpecified),
		nullDate(u.DecisionEndDate),
		nullInt64(u.UpperLimitAmount),
		u.Active,
		now, now,
	)
	if err != nil {
		return billing.UserEntitlement{}, fmt.Errorf("failed to save user: %w", err)
	}
	return u, nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(ctx context.Context, id generic.UserID) (billing.UserEntitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectUsers+" WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.UserEntitlement{}, fmt.Errorf("user %s: %w", id, generic.ErrUserNotFound)
	}
	return u, err
}

// ListUsers returns all users ordered by ID.
func (s *Store) ListUsers(ctx context.Context) ([]billing.UserEntitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectUsers+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []billing.UserEntitlement{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const selectUsers = `
	SELECT id, display_name, jukyusha_no, city_no, days_specified,
	       decision_end_date, upper_limit_amount, active
	FROM users`

func scanUser(row scanner) (billing.UserEntitlement, error) {
	var (
		u             billing.UserEntitlement
		daysSpecified sql.NullInt64
		decisionEnd   sql.NullString
		upperLimit    sql.NullInt64
	)

	err := row.Scan(&u.UserID, &u.DisplayName, &u.JukyushaNo, &u.CityNo,
		&daysSpecified, &decisionEnd, &upperLimit, &u.Active)
	if err != nil {
		return u, err
	}

	if daysSpecified.Valid {
		v := int(daysSpecified.Int64)
		u.DaysSpecified = &v
	}
	if decisionEnd.Valid && decisionEnd.String != "" {
		d, err := generic.ParseDate(decisionEnd.String)
		if err != nil {
			return u, fmt.Errorf("user %s decision_end_date: %w", u.UserID, err)
		}
		u.DecisionEndDate = &d
	}
	if upperLimit.Valid {
		v := upperLimit.Int64
		u.UpperLimitAmount = &v
	}
	return u, nil
}

// =============================================================================
// ATTENDANCE RECORDS
// =============================================================================

// SaveAttendance inserts a record, assigning an ID when empty.
func (s *Store) SaveAttendance(ctx context.Context, rec attendance.AttendanceRecord) (attendance.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = store.NewRecordID()
	}
	if rec.Month.IsZero() {
		rec.Month = rec.Date.YearMonth()
	}

	query := `
		INSERT INTO attendance_records
		(id, user_id, user_name, date, month, usage_status, arrival_minutes,
		 departure_minutes, notes, extension_class, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		rec.UserName,
		rec.Date.String(),
		rec.Month.String(),
		rec.UsageStatus,
		nullMinutes(rec.ArrivalTime),
		nullMinutes(rec.DepartureTime),
		rec.Notes,
		int(rec.ExtensionClass),
		now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return attendance.AttendanceRecord{}, fmt.Errorf("attendance %s already exists: %w", rec.ID, err)
		}
		return attendance.AttendanceRecord{}, fmt.Errorf("failed to save attendance: %w", err)
	}
	return rec, nil
}

// GetAttendance retrieves a record by ID.
func (s *Store) GetAttendance(ctx context.Context, id generic.RecordID) (attendance.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, selectAttendance+" WHERE id = ?", id)
	rec, err := scanAttendance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.AttendanceRecord{}, fmt.Errorf("attendance %s: %w", id, generic.ErrRecordNotFound)
	}
	return rec, err
}

// UpdateAttendance replaces every mutable column of an existing record.
func (s *Store) UpdateAttendance(ctx context.Context, rec attendance.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Month.IsZero() {
		rec.Month = rec.Date.YearMonth()
	}

	query := `
		UPDATE attendance_records SET
			user_id = ?, user_name = ?, date = ?, month = ?, usage_status = ?,
			arrival_minutes = ?, departure_minutes = ?, notes = ?,
			extension_class = ?, updated_at = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		rec.UserID,
		rec.UserName,
		rec.Date.String(),
		rec.Month.String(),
		rec.UsageStatus,
		nullMinutes(rec.ArrivalTime),
		nullMinutes(rec.DepartureTime),
		rec.Notes,
		int(rec.ExtensionClass),
		time.Now().UTC().Format(time.RFC3339),
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update attendance: %w", err)
	}
	return requireAffected(res, fmt.Errorf("attendance %s: %w", rec.ID, generic.ErrRecordNotFound))
}

// DeleteAttendance removes a record.
func (s *Store) DeleteAttendance(ctx context.Context, id generic.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM attendance_records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete attendance: %w", err)
	}
	return requireAffected(res, fmt.Errorf("attendance %s: %w", id, generic.ErrRecordNotFound))
}

// ListAttendance returns records dated within [from, to].
func (s *Store) ListAttendance(ctx context.Context, from, to generic.Date) ([]attendance.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		selectAttendance+" WHERE date >= ? AND date <= ? ORDER BY date ASC, id ASC",
		from.String(), to.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer rows.Close()

	var records []attendance.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const selectAttendance = `
	SELECT id, user_id, user_name, date, month, usage_status, arrival_minutes,
	       departure_minutes, notes, extension_class
	FROM attendance_records`

func scanAttendance(row scanner) (attendance.AttendanceRecord, error) {
	var (
		rec       attendance.AttendanceRecord
		date      string
		month     string
		arrival   sql.NullInt64
		departure sql.NullInt64
		extension int
	)

	err := row.Scan(&rec.ID, &rec.UserID, &rec.UserName, &date, &month,
		&rec.UsageStatus, &arrival, &departure, &rec.Notes, &extension)
	if err != nil {
		return rec, err
	}

	if rec.Date, err = generic.ParseDate(date); err != nil {
		return rec, fmt.Errorf("attendance %s date: %w", rec.ID, err)
	}
	if rec.Month, err = generic.ParseYearMonth(month); err != nil {
		rec.Month = rec.Date.YearMonth()
	}
	rec.ArrivalTime = minutesOf(arrival)
	rec.DepartureTime = minutesOf(departure)
	if c := attendance.ExtensionClass(extension); c.Valid() {
		rec.ExtensionClass = c
	}
	return rec, nil
}

// =============================================================================
// SCHEDULED EVENTS
// =============================================================================

// SaveEvent inserts an event, assigning an ID when empty.
func (s *Store) SaveEvent(ctx context.Context, ev attendance.ScheduledEvent) (attendance.ScheduledEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" {
		ev.ID = store.NewRecordID()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO scheduled_events (id, user_id, date, type, created_at) VALUES (?, ?, ?, ?, ?)",
		ev.ID, ev.UserID, ev.Date.String(), ev.Type, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return attendance.ScheduledEvent{}, fmt.Errorf("failed to save event: %w", err)
	}
	return ev, nil
}

// ListEvents returns events dated within [from, to].
func (s *Store) ListEvents(ctx context.Context, from, to generic.Date) ([]attendance.ScheduledEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, date, type FROM scheduled_events
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC, id ASC
	`, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []attendance.ScheduledEvent
	for rows.Next() {
		var (
			ev   attendance.ScheduledEvent
			date string
		)
		if err := rows.Scan(&ev.ID, &ev.UserID, &date, &ev.Type); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if ev.Date, err = generic.ParseDate(date); err != nil {
			return nil, fmt.Errorf("event %s date: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// =============================================================================
// ALERT RUNS
// =============================================================================

// SaveAlertRun records one reconciliation pass.
func (s *Store) SaveAlertRun(ctx context.Context, run store.AlertRun) (store.AlertRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = string(store.NewRecordID())
	}

	query := `
		INSERT INTO alert_runs
		(id, from_date, as_of, missing_departure, missing_attendance, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	from := ""
	if !run.From.IsZero() {
		from = run.From.String()
	}
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		from,
		run.AsOf.String(),
		run.MissingDeparture,
		run.MissingAttendance,
		nullString(run.Error),
		run.StartedAt.UTC().Format(runTimeLayout),
		run.CompletedAt.UTC().Format(runTimeLayout),
	)
	if err != nil {
		return store.AlertRun{}, fmt.Errorf("failed to save alert run: %w", err)
	}
	return run, nil
}

// ListAlertRuns returns the most recent runs first.
func (s *Store) ListAlertRuns(ctx context.Context, limit int) ([]store.AlertRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, from_date, as_of, missing_departure, missing_attendance, error, started_at, completed_at
		FROM alert_runs
		ORDER BY started_at DESC, rowid DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert runs: %w", err)
	}
	defer rows.Close()

	runs := []store.AlertRun{}
	for rows.Next() {
		var (
			run                    store.AlertRun
			from, asOf             string
			errText                sql.NullString
			startedAt, completedAt string
		)
		if err := rows.Scan(&run.ID, &from, &asOf, &run.MissingDeparture,
			&run.MissingAttendance, &errText, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert run: %w", err)
		}
		if from != "" {
			run.From, _ = generic.ParseDate(from)
		}
		run.AsOf, _ = generic.ParseDate(asOf)
		run.Error = errText.String
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		run.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Helper functions

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullDate(d *generic.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullMinutes(t *generic.TimeOfDay) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*t), Valid: true}
}

func minutesOf(v sql.NullInt64) *generic.TimeOfDay {
	if !v.Valid {
		return nil
	}
	t := generic.TimeOfDay(v.Int64)
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
