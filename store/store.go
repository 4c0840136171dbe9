/*
Package store defines persistence for users, attendance records and
scheduled events.

PURPOSE:
  The reconciliation engine is pure; it works on slices handed to it. This
  package is the boundary that loads those slices and saves what the API
  receives. Two implementations exist:

  store/memory: maps behind a RWMutex, for tests and local development
  store/sqlite: mattn/go-sqlite3 with WAL, for a single facility

NO DAY UNIQUENESS:
  Neither implementation rejects a second record for the same (user, date).
  Duplicates happen in practice (double scans, manual fixes) and the
  attendance package owns the rule for collapsing them.

IDS:
  Save* assigns a UUIDv4 when the caller leaves ID empty and returns the
  stored value.

ERRORS:
  Lookups of unknown IDs return generic.ErrUserNotFound or
  generic.ErrRecordNotFound, wrapped with context.
*/
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kizuna/dayservice/attendance"
	"github.com/kizuna/dayservice/billing"
	"github.com/kizuna/dayservice/generic"
)

// Store is the persistence interface the API depends on.
type Store interface {
	SaveUser(ctx context.Context, user billing.UserEntitlement) (billing.UserEntitlement, error)
	GetUser(ctx context.Context, id generic.UserID) (billing.UserEntitlement, error)
	ListUsers(ctx context.Context) ([]billing.UserEntitlement, error)

	SaveAttendance(ctx context.Context, rec attendance.AttendanceRecord) (attendance.AttendanceRecord, error)
	GetAttendance(ctx context.Context, id generic.RecordID) (attendance.AttendanceRecord, error)
	UpdateAttendance(ctx context.Context, rec attendance.AttendanceRecord) error
	DeleteAttendance(ctx context.Context, id generic.RecordID) error
	// ListAttendance returns records dated within [from, to], ordered by
	// date then ID.
	ListAttendance(ctx context.Context, from, to generic.Date) ([]attendance.AttendanceRecord, error)

	SaveEvent(ctx context.Context, ev attendance.ScheduledEvent) (attendance.ScheduledEvent, error)
	// ListEvents returns events dated within [from, to], ordered by date
	// then ID.
	ListEvents(ctx context.Context, from, to generic.Date) ([]attendance.ScheduledEvent, error)

	SaveAlertRun(ctx context.Context, run AlertRun) (AlertRun, error)
	// ListAlertRuns returns the most recent runs first, at most limit
	// (all when limit <= 0).
	ListAlertRuns(ctx context.Context, limit int) ([]AlertRun, error)

	Close() error
}

// AlertRun records one pass of the scheduled attendance reconciliation.
type AlertRun struct {
	ID                string       `json:"id"`
	From              generic.Date `json:"from"`
	AsOf              generic.Date `json:"asOf"`
	MissingDeparture  int          `json:"missingDeparture"`
	MissingAttendance int          `json:"missingAttendance"`
	Error             string       `json:"error,omitempty"`
	StartedAt         time.Time    `json:"startedAt"`
	CompletedAt       time.Time    `json:"completedAt"`
}

// NewRecordID returns a fresh UUIDv4 record ID.
func NewRecordID() generic.RecordID {
	return generic.RecordID(uuid.NewString())
}

// NewUserID returns a fresh UUIDv4 user ID.
func NewUserID() generic.UserID {
	return generic.UserID(uuid.NewString())
}
