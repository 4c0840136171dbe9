package billing_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kizuna/dayservice/attendance"
	"github.com/kizuna/dayservice/billing"
	"github.com/kizuna/dayservice/generic"
)

func newAggregator() *billing.Aggregator {
	return billing.NewAggregator(billing.DefaultRateConfig(), attendance.DefaultExtensionPolicy())
}

func TestAggregate_FiltersToUsersWithRecordsOrActive(t *testing.T) {
	withRecords := completeUser("U1", "佐藤")
	withRecords.Active = false
	activeOnly := completeUser("U2", "鈴木")
	inactive := completeUser("U3", "田中")
	inactive.Active = false

	records := visits("U1", feb2025, 3)
	records = append(records, visits("U3", generic.YearMonth{Year: 2025, Month: time.January}, 10)...)
	records = append(records, visits("U9", feb2025, 3)...) // no profile

	got := newAggregator().Aggregate([]billing.UserEntitlement{withRecords, activeOnly, inactive}, records, feb2025)

	require.Len(t, got, 2)
	ids := []generic.UserID{got[0].UserID, got[1].UserID}
	assert.ElementsMatch(t, []generic.UserID{"U1", "U2"}, ids)
	for _, r := range got {
		assert.Equal(t, feb2025, r.Month)
	}
}

func TestAggregate_ExtensionDays(t *testing.T) {
	records := []attendance.AttendanceRecord{
		{UserID: "U1", Date: date(2025, time.February, 3), UsageStatus: attendance.StatusAfterSchool, ArrivalTime: clock("14:00"), DepartureTime: clock("17:30")},   // 210 -> class 1
		{UserID: "U1", Date: date(2025, time.February, 4), UsageStatus: attendance.StatusAfterSchool, ArrivalTime: clock("14:00"), DepartureTime: clock("18:00")},   // 240 -> class 2
		{UserID: "U1", Date: date(2025, time.February, 8), UsageStatus: attendance.StatusHolidaySchool, ArrivalTime: clock("09:00"), DepartureTime: clock("18:00")}, // 540 -> class 3
		{UserID: "U1", Date: date(2025, time.February, 5), UsageStatus: attendance.StatusAfterSchool, ArrivalTime: clock("14:00"), DepartureTime: clock("16:00")},   // none
		{UserID: "U1", Date: date(2025, time.February, 6), UsageStatus: attendance.StatusAfterSchool, ExtensionClass: attendance.ExtensionClass1},                   // stored
		{UserID: "U1", Date: date(2025, time.February, 7), UsageStatus: attendance.StatusAbsent, ExtensionClass: attendance.ExtensionClass3},                        // absent
	}

	got := newAggregator().Aggregate([]billing.UserEntitlement{completeUser("U1", "佐藤")}, records, feb2025)

	require.Len(t, got, 1)
	assert.Equal(t, billing.ExtensionDays{Class1: 2, Class2: 1, Class3: 1}, got[0].ExtensionDays)
	assert.Equal(t, 4, got[0].ExtensionDays.Total())
	assert.Equal(t, 5, got[0].UsageCount)
}

func TestAggregate_SortedByNameThenUserID(t *testing.T) {
	users := []billing.UserEntitlement{
		completeUser("U3", "いとう"),
		completeUser("U2", "あべ"),
		completeUser("U1", "いとう"),
		completeUser("U4", "うえだ"),
	}

	got := newAggregator().Aggregate(users, nil, feb2025)

	require.Len(t, got, 4)
	assert.Equal(t, generic.UserID("U2"), got[0].UserID)
	assert.Equal(t, generic.UserID("U1"), got[1].UserID)
	assert.Equal(t, generic.UserID("U3"), got[2].UserID)
	assert.Equal(t, generic.UserID("U4"), got[3].UserID)
}

func TestAggregate_InputOrderDoesNotMatter(t *testing.T) {
	// GIVEN: a fixed set of users and records
	// WHEN: aggregating several shuffles of the same inputs
	// THEN: every run produces the identical report
	users := []billing.UserEntitlement{
		completeUser("U1", "山田"),
		completeUser("U2", "佐藤"),
		completeUser("U3", "鈴木"),
		completeUser("U4", "佐藤"),
	}
	var records []attendance.AttendanceRecord
	records = append(records, visits("U1", feb2025, 3, 4, 5)...)
	records = append(records, visits("U2", feb2025, 10)...)
	records = append(records, visits("U4", feb2025, 10, 11, 12, 13)...)
	records = append(records, attendance.AttendanceRecord{UserID: "U1", Date: date(2025, time.February, 3), UsageStatus: attendance.StatusAbsent})

	agg := newAggregator()
	want := agg.Aggregate(users, records, feb2025)
	require.Len(t, want, 4)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		u := append([]billing.UserEntitlement(nil), users...)
		r := append([]attendance.AttendanceRecord(nil), records...)
		rng.Shuffle(len(u), func(a, b int) { u[a], u[b] = u[b], u[a] })
		rng.Shuffle(len(r), func(a, b int) { r[a], r[b] = r[b], r[a] })

		assert.Equal(t, want, agg.Aggregate(u, r, feb2025), "shuffle %d", i)
	}
}

func TestAggregate_SameDayTieIndependentOfOrder(t *testing.T) {
	// GIVEN: two equally complete records for one user and day, differing
	// only in status, and two differing only in a stored extension class
	day := date(2025, time.February, 3)
	a := attendance.AttendanceRecord{ID: "a", UserID: "U1", Date: day, UsageStatus: attendance.StatusAfterSchool}
	b := attendance.AttendanceRecord{ID: "b", UserID: "U1", Date: day, UsageStatus: attendance.StatusHolidaySchool}
	other := date(2025, time.February, 4)
	c := attendance.AttendanceRecord{ID: "c", UserID: "U1", Date: other, UsageStatus: attendance.StatusAfterSchool, ExtensionClass: attendance.ExtensionClass2}
	d := attendance.AttendanceRecord{ID: "d", UserID: "U1", Date: other, UsageStatus: attendance.StatusAfterSchool, ExtensionClass: attendance.ExtensionClass1}
	users := []billing.UserEntitlement{completeUser("U1", "佐藤")}
	agg := newAggregator()

	// WHEN: aggregating both orders
	forward := agg.Aggregate(users, []attendance.AttendanceRecord{a, b, c, d}, feb2025)
	backward := agg.Aggregate(users, []attendance.AttendanceRecord{d, c, b, a}, feb2025)

	// THEN: both agree, holiday school wins the status tie and the higher
	// extension class wins the class tie
	require.Len(t, forward, 1)
	assert.Equal(t, forward, backward)
	assert.Equal(t, 1, forward[0].HolidaySchoolDays)
	assert.Equal(t, 1, forward[0].AfterSchoolDays)
	assert.Equal(t, 2, forward[0].UsageCount)
	assert.Equal(t, billing.ExtensionDays{Class2: 1}, forward[0].ExtensionDays)
}

// =============================================================================
// MULTI-MONTH
// =============================================================================

func TestAggregateMonths_OrderedAndMatchesSingleMonth(t *testing.T) {
	users := []billing.UserEntitlement{completeUser("U1", "山田"), completeUser("U2", "佐藤")}
	jan := generic.YearMonth{Year: 2025, Month: time.January}
	mar := generic.YearMonth{Year: 2025, Month: time.March}

	var records []attendance.AttendanceRecord
	records = append(records, visits("U1", jan, 6, 7)...)
	records = append(records, visits("U1", feb2025, 3)...)
	records = append(records, visits("U2", mar, 3, 4, 5)...)

	agg := newAggregator()
	reports, err := agg.AggregateMonths(context.Background(), users, records, []generic.YearMonth{mar, jan, feb2025}, 2)

	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, jan, reports[0].Month)
	assert.Equal(t, feb2025, reports[1].Month)
	assert.Equal(t, mar, reports[2].Month)
	for _, rep := range reports {
		assert.Equal(t, agg.Aggregate(users, records, rep.Month), rep.Results)
	}
}

func TestAggregateMonths_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newAggregator().AggregateMonths(ctx, nil, nil, []generic.YearMonth{feb2025}, 1)

	assert.ErrorIs(t, err, context.Canceled)
}
