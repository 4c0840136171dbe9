// Package memory provides an in-memory Store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kizuna/dayservice/attendance"
	"github.com/kizuna/dayservice/billing"
	"github.com/kizuna/dayservice/generic"
	"github.com/kizuna/dayservice/store"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	users   map[generic.UserID]billing.UserEntitlement
	records map[generic.RecordID]attendance.AttendanceRecord
	events  map[generic.RecordID]attendance.ScheduledEvent
	runs    []store.AlertRun
}

var _ store.Store = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		users:   make(map[generic.UserID]billing.UserEntitlement),
		records: make(map[generic.RecordID]attendance.AttendanceRecord),
		events:  make(map[generic.RecordID]attendance.ScheduledEvent),
	}
}

func (m *Memory) Close() error { return nil }

// =============================================================================
// USERS
// =============================================================================

// SaveUser inserts or replaces a user.
func (m *Memory) SaveUser(_ context.Context, user billing.UserEntitlement) (billing.UserEntitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.UserID == "" {
		user.UserID = store.NewUserID()
	}
	user = copyUser(user)
	m.users[user.UserID] = user
	return copyUser(user), nil
}

func (m *Memory) GetUser(_ context.Context, id generic.UserID) (billing.UserEntitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return billing.UserEntitlement{}, fmt.Errorf("user %s: %w", id, generic.ErrUserNotFound)
	}
	return copyUser(u), nil
}

// ListUsers returns users ordered by ID.
func (m *Memory) ListUsers(_ context.Context) ([]billing.UserEntitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]billing.UserEntitlement, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, copyUser(u))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

// copyUser detaches the pointer fields so callers can't mutate stored state.
func copyUser(u billing.UserEntitlement) billing.UserEntitlement {
	if u.DaysSpecified != nil {
		v := *u.DaysSpecified
		u.DaysSpecified = &v
	}
	if u.DecisionEndDate != nil {
		v := *u.DecisionEndDate
		u.DecisionEndDate = &v
	}
	if u.UpperLimitAmount != nil {
		v := *u.UpperLimitAmount
		u.UpperLimitAmount = &v
	}
	return u
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func (m *Memory) SaveAttendance(_ context.Context, rec attendance.AttendanceRecord) (attendance.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = store.NewRecordID()
	}
	if rec.Month.IsZero() {
		rec.Month = rec.Date.YearMonth()
	}
	rec = copyRecord(rec)
	m.records[rec.ID] = rec
	return copyRecord(rec), nil
}

func (m *Memory) GetAttendance(_ context.Context, id generic.RecordID) (attendance.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return attendance.AttendanceRecord{}, fmt.Errorf("attendance %s: %w", id, generic.ErrRecordNotFound)
	}
	return copyRecord(rec), nil
}

func (m *Memory) UpdateAttendance(_ context.Context, rec attendance.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.ID]; !ok {
		return fmt.Errorf("attendance %s: %w", rec.ID, generic.ErrRecordNotFound)
	}
	if rec.Month.IsZero() {
		rec.Month = rec.Date.YearMonth()
	}
	m.records[rec.ID] = copyRecord(rec)
	return nil
}

func (m *Memory) DeleteAttendance(_ context.Context, id generic.RecordID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("attendance %s: %w", id, generic.ErrRecordNotFound)
	}
	delete(m.records, id)
	return nil
}

func (m *Memory) ListAttendance(_ context.Context, from, to generic.Date) ([]attendance.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []attendance.AttendanceRecord
	for _, rec := range m.records {
		if from.BeforeOrEqual(rec.Date) && rec.Date.BeforeOrEqual(to) {
			result = append(result, copyRecord(rec))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func copyRecord(r attendance.AttendanceRecord) attendance.AttendanceRecord {
	if r.ArrivalTime != nil {
		v := *r.ArrivalTime
		r.ArrivalTime = &v
	}
	if r.DepartureTime != nil {
		v := *r.DepartureTime
		r.DepartureTime = &v
	}
	return r
}

// =============================================================================
// EVENTS
// =============================================================================

func (m *Memory) SaveEvent(_ context.Context, ev attendance.ScheduledEvent) (attendance.ScheduledEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.ID == "" {
		ev.ID = store.NewRecordID()
	}
	m.events[ev.ID] = ev
	return ev, nil
}

func (m *Memory) ListEvents(_ context.Context, from, to generic.Date) ([]attendance.ScheduledEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []attendance.ScheduledEvent
	for _, ev := range m.events {
		if from.BeforeOrEqual(ev.Date) && ev.Date.BeforeOrEqual(to) {
			result = append(result, ev)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// =============================================================================
// ALERT RUNS
// =============================================================================

func (m *Memory) SaveAlertRun(_ context.Context, run store.AlertRun) (store.AlertRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if run.ID == "" {
		run.ID = string(store.NewRecordID())
	}
	m.runs = append(m.runs, run)
	return run, nil
}

func (m *Memory) ListAlertRuns(_ context.Context, limit int) ([]store.AlertRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]store.AlertRun, 0, len(m.runs))
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, m.runs[i])
	}
	return result, nil
}
