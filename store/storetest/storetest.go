// Package storetest holds the behaviour every store.Store must share.
// Implementations call Run from their own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kizuna/dayservice/attendance"
	"github.com/kizuna/dayservice/billing"
	"github.com/kizuna/dayservice/generic"
	"github.com/kizuna/dayservice/store"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("attendance", func(t *testing.T) { testAttendance(t, newStore(t)) })
	t.Run("duplicates allowed", func(t *testing.T) { testDuplicates(t, newStore(t)) })
	t.Run("events", func(t *testing.T) { testEvents(t, newStore(t)) })
	t.Run("alert runs", func(t *testing.T) { testAlertRuns(t, newStore(t)) })
}

func day(d int) generic.Date { return generic.NewDate(2025, time.March, d) }

func clock(s string) *generic.TimeOfDay {
	t, err := generic.ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return &t
}

func testUsers(t *testing.T, st store.Store) {
	ctx := context.Background()
	days := 10
	end := generic.NewDate(2026, time.March, 31)
	limit := int64(0)

	saved, err := st.SaveUser(ctx, billing.UserEntitlement{
		DisplayName:      "山田 太郎",
		JukyushaNo:       "1234567890",
		DaysSpecified:    &days,
		DecisionEndDate:  &end,
		UpperLimitAmount: &limit,
		Active:           true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, saved.UserID)

	got, err := st.GetUser(ctx, saved.UserID)
	require.NoError(t, err)
	assert.Equal(t, "山田 太郎", got.DisplayName)
	require.NotNil(t, got.DaysSpecified)
	assert.Equal(t, 10, *got.DaysSpecified)
	require.NotNil(t, got.DecisionEndDate)
	assert.Equal(t, "2026-03-31", got.DecisionEndDate.String())
	require.NotNil(t, got.UpperLimitAmount, "zero cap survives a round trip")
	assert.Equal(t, int64(0), *got.UpperLimitAmount)
	assert.Equal(t, "", got.CityNo)
	assert.True(t, got.Active)

	got.CityNo = "131016"
	got.DaysSpecified = nil
	_, err = st.SaveUser(ctx, got)
	require.NoError(t, err)

	updated, err := st.GetUser(ctx, saved.UserID)
	require.NoError(t, err)
	assert.Equal(t, "131016", updated.CityNo)
	assert.Nil(t, updated.DaysSpecified)

	users, err := st.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	_, err = st.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, generic.ErrUserNotFound)
}

func testAttendance(t *testing.T, st store.Store) {
	ctx := context.Background()

	rec, err := st.SaveAttendance(ctx, attendance.AttendanceRecord{
		UserID:      "U1",
		UserName:    "山田",
		Date:        day(10),
		Month:       day(10).YearMonth(),
		UsageStatus: attendance.StatusAfterSchool,
		ArrivalTime: clock("14:00"),
		Notes:       "迎え 17時",
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	got, err := st.GetAttendance(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Nil(t, got.DepartureTime)

	got.DepartureTime = clock("17:45")
	got.ExtensionClass = attendance.ExtensionClass2
	require.NoError(t, st.UpdateAttendance(ctx, got))

	again, err := st.GetAttendance(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, again.DepartureTime)
	assert.Equal(t, "17:45", again.DepartureTime.String())
	assert.Equal(t, attendance.ExtensionClass2, again.ExtensionClass)

	_, err = st.SaveAttendance(ctx, attendance.AttendanceRecord{UserID: "U1", Date: day(1), UsageStatus: attendance.StatusAbsent})
	require.NoError(t, err)
	_, err = st.SaveAttendance(ctx, attendance.AttendanceRecord{UserID: "U1", Date: generic.NewDate(2025, time.April, 1), UsageStatus: attendance.StatusAbsent})
	require.NoError(t, err)

	march, err := st.ListAttendance(ctx, day(1), day(31))
	require.NoError(t, err)
	require.Len(t, march, 2)
	assert.Equal(t, "2025-03-01", march[0].Date.String())
	assert.Equal(t, "2025-03-10", march[1].Date.String())

	require.NoError(t, st.DeleteAttendance(ctx, rec.ID))
	_, err = st.GetAttendance(ctx, rec.ID)
	assert.ErrorIs(t, err, generic.ErrRecordNotFound)
	assert.ErrorIs(t, st.DeleteAttendance(ctx, rec.ID), generic.ErrRecordNotFound)
	assert.ErrorIs(t, st.UpdateAttendance(ctx, rec), generic.ErrRecordNotFound)
}

func testDuplicates(t *testing.T, st store.Store) {
	// GIVEN: two scans of the same user on the same day
	// WHEN: both are saved
	// THEN: both are kept; collapsing them is the engine's job
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := st.SaveAttendance(ctx, attendance.AttendanceRecord{
			UserID: "U1", Date: day(10), UsageStatus: attendance.StatusAfterSchool,
		})
		require.NoError(t, err)
	}

	got, err := st.ListAttendance(ctx, day(10), day(10))
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Len(t, attendance.Dedupe(got), 1)
}

func testEvents(t *testing.T, st store.Store) {
	ctx := context.Background()

	for _, d := range []int{12, 3, 31} {
		_, err := st.SaveEvent(ctx, attendance.ScheduledEvent{UserID: "U1", Date: day(d), Type: attendance.EventAfterSchool})
		require.NoError(t, err)
	}

	got, err := st.ListEvents(ctx, day(1), day(30))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2025-03-03", got[0].Date.String())
	assert.Equal(t, "2025-03-12", got[1].Date.String())
	assert.Equal(t, attendance.EventAfterSchool, got[0].Type)
	assert.NotEmpty(t, got[0].ID)
}

func testAlertRuns(t *testing.T, st store.Store) {
	ctx := context.Background()
	base := time.Date(2025, time.March, 15, 6, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := st.SaveAlertRun(ctx, store.AlertRun{
			From:              day(1),
			AsOf:              day(15 + i),
			MissingAttendance: i,
			StartedAt:         base.Add(time.Duration(i) * time.Hour),
			CompletedAt:       base.Add(time.Duration(i)*time.Hour + time.Second),
		})
		require.NoError(t, err)
	}

	runs, err := st.ListAlertRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "2025-03-17", runs[0].AsOf.String())
	assert.Equal(t, 2, runs[0].MissingAttendance)
	assert.Equal(t, "2025-03-01", runs[0].From.String())
	assert.True(t, runs[0].StartedAt.Equal(base.Add(2*time.Hour)))

	all, err := st.ListAlertRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// GIVEN: two later runs a tenth of a second apart, the first on a whole second
	whole := base.Add(3 * time.Hour)
	for _, started := range []time.Time{whole, whole.Add(100 * time.Millisecond)} {
		_, err := st.SaveAlertRun(ctx, store.AlertRun{AsOf: day(20), StartedAt: started, CompletedAt: started})
		require.NoError(t, err)
	}

	// WHEN: listing the newest
	latest, err := st.ListAlertRuns(ctx, 1)
	require.NoError(t, err)

	// THEN: the sub-second run comes first
	require.Len(t, latest, 1)
	assert.True(t, latest[0].StartedAt.Equal(whole.Add(100*time.Millisecond)), "got %s", latest[0].StartedAt)
}
