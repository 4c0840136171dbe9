package api_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kizuna/dayservice/api"
	"github.com/kizuna/dayservice/attendance"
	"github.com/kizuna/dayservice/config"
	"github.com/kizuna/dayservice/generic"
	"github.com/kizuna/dayservice/store"
	"github.com/kizuna/dayservice/store/memory"
)

// brokenEvents fails every event listing.
type brokenEvents struct {
	store.Store
}

func (brokenEvents) ListEvents(context.Context, generic.Date, generic.Date) ([]attendance.ScheduledEvent, error) {
	return nil, errors.New("disk on fire")
}

func TestAlertScheduler_RunOnce(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	defer st.Close()

	// GIVEN: a missed scheduled visit and a visit never checked out
	_, err := st.SaveEvent(ctx, attendance.ScheduledEvent{UserID: "U1", Date: generic.NewDate(2025, 2, 3), Type: attendance.EventAfterSchool})
	require.NoError(t, err)
	arrival := generic.TimeOfDay(13 * 60)
	_, err = st.SaveAttendance(ctx, attendance.AttendanceRecord{
		UserID:      "U2",
		Date:        generic.NewDate(2025, 2, 4),
		UsageStatus: attendance.StatusAfterSchool,
		ArrivalTime: &arrival,
	})
	require.NoError(t, err)

	rec := &recorder{}
	s := api.NewAlertScheduler(st, config.SchedulerConfig{Interval: time.Hour, LookbackDays: 31}, time.UTC, zap.NewNop(), rec)

	// WHEN: running one pass as of 2025-02-10
	run, err := s.RunOnce(ctx, generic.NewDate(2025, 2, 10))
	require.NoError(t, err)

	// THEN: the run is recorded with both counts and the gauge is published
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, generic.NewDate(2025, 1, 10), run.From)
	assert.Equal(t, 1, run.MissingDeparture)
	assert.Equal(t, 1, run.MissingAttendance)
	assert.Empty(t, run.Error)
	assert.False(t, run.CompletedAt.Before(run.StartedAt))
	assert.Equal(t, map[attendance.AnomalyKind]int{
		attendance.AnomalyMissingDeparture:  1,
		attendance.AnomalyMissingAttendance: 1,
	}, rec.anomalies)

	runs, err := st.ListAlertRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}

func TestAlertScheduler_FailedRunIsRecorded(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	defer st.Close()

	rec := &recorder{}
	s := api.NewAlertScheduler(brokenEvents{st}, config.SchedulerConfig{Interval: time.Hour, LookbackDays: 7}, nil, nil, rec)

	_, err := s.RunOnce(ctx, generic.NewDate(2025, 2, 10))
	require.Error(t, err)

	runs, err := st.ListAlertRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Contains(t, runs[0].Error, "disk on fire")
	assert.Nil(t, rec.anomalies, "a failed pass must not reset the gauge")
}

func TestAlertScheduler_StartStop(t *testing.T) {
	st := memory.New()
	defer st.Close()

	s := api.NewAlertScheduler(st, config.SchedulerConfig{Enabled: true, Interval: 10 * time.Millisecond, LookbackDays: 7}, time.UTC, nil, nil)
	s.Start()
	s.Start() // second start is a no-op

	require.Eventually(t, func() bool {
		runs, err := st.ListAlertRuns(context.Background(), 0)
		return err == nil && len(runs) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	runs, err := st.ListAlertRuns(context.Background(), 0)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	after, err := st.ListAlertRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, after, len(runs), "no runs after Stop")

	s.Stop() // second stop is a no-op
}

func TestAlertScheduler_DisabledDoesNothing(t *testing.T) {
	st := memory.New()
	defer st.Close()

	s := api.NewAlertScheduler(st, config.SchedulerConfig{Enabled: false, Interval: time.Millisecond}, time.UTC, nil, nil)
	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	runs, err := st.ListAlertRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
