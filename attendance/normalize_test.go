package attendance_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kizuna/dayservice/attendance"
	"github.com/kizuna/dayservice/generic"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func tokyo(t *testing.T) *time.Location {
	t.Helper()
	return time.FixedZone("Asia/Tokyo", 9*60*60)
}

func date(y int, m time.Month, d int) generic.Date {
	return generic.NewDate(y, m, d)
}

func clock(s string) *generic.TimeOfDay {
	t, err := generic.ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return &t
}

// =============================================================================
// DATE FORMATS
// =============================================================================

func TestNormalize_AcceptsHeterogeneousDates(t *testing.T) {
	n := attendance.NewNormalizer(tokyo(t))

	// 2025-03-10T00:30:00+09:00 is 2025-03-09T15:30:00Z.
	ts := time.Date(2025, time.March, 9, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		date any
	}{
		{"iso dash", "2025-03-10"},
		{"slash padded", "2025/03/10"},
		{"slash unpadded", "2025/3/10"},
		{"rfc3339 utc", "2025-03-09T15:30:00Z"},
		{"time.Time", ts},
		{"firestore timestamp", map[string]any{"seconds": float64(ts.Unix()), "nanoseconds": float64(0)}},
		{"admin sdk timestamp", map[string]any{"_seconds": ts.Unix(), "_nanoseconds": 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := n.Normalize(attendance.RawRecord{
				"userId":      "U1",
				"date":        tt.date,
				"usageStatus": "放課後",
			})
			require.NoError(t, err)
			assert.Equal(t, "2025-03-10", rec.Date.String())
			assert.Equal(t, "2025-03", rec.Month.String())
		})
	}
}

func TestNormalize_StructurallyInvalidInputIsRejected(t *testing.T) {
	n := attendance.NewNormalizer(nil)

	_, err := n.Normalize(attendance.RawRecord{"date": "2025-03-10"})
	assert.ErrorIs(t, err, generic.ErrMissingUserID)

	_, err = n.Normalize(attendance.RawRecord{"userId": "U1"})
	assert.ErrorIs(t, err, generic.ErrMissingDate)

	_, err = n.Normalize(attendance.RawRecord{"userId": "U1", "date": "next tuesday"})
	assert.ErrorIs(t, err, generic.ErrInvalidDate)
}

// =============================================================================
// STATUS / OPTIONAL FIELDS
// =============================================================================

func TestNormalize_UnknownStatusFailsClosed(t *testing.T) {
	// GIVEN: a status string nobody recognises
	// WHEN: normalized
	// THEN: it is unresolved, not silently a countable visit
	n := attendance.NewNormalizer(nil)

	rec, err := n.Normalize(attendance.RawRecord{
		"userId": "U1", "date": "2025-03-10", "usageStatus": "ほうかご",
	})
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusUnresolved, rec.UsageStatus)
	assert.False(t, rec.UsageStatus.Countable())
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, attendance.StatusAfterSchool, attendance.ParseStatus("放課後"))
	assert.Equal(t, attendance.StatusHolidaySchool, attendance.ParseStatus("休校日"))
	assert.Equal(t, attendance.StatusAbsent, attendance.ParseStatus("欠席"))
	assert.Equal(t, attendance.StatusAfterSchool, attendance.ParseStatus(" After_School "))
	assert.Equal(t, attendance.StatusUnresolved, attendance.ParseStatus(""))
}

func TestNormalize_OptionalFields(t *testing.T) {
	n := attendance.NewNormalizer(nil)

	rec, err := n.Normalize(attendance.RawRecord{
		"userId":         "U1",
		"userName":       "山田 太郎",
		"date":           "2025-03-10",
		"usageStatus":    "放課後",
		"arrivalTime":    "14:30",
		"departureTime":  "bad",
		"extensionClass": float64(2),
	})
	require.NoError(t, err)

	assert.Equal(t, "", rec.Notes)
	require.NotNil(t, rec.ArrivalTime)
	assert.Equal(t, "14:30", rec.ArrivalTime.String())
	assert.Nil(t, rec.DepartureTime, "unreadable departure degrades to unset")
	assert.Equal(t, attendance.ExtensionClass2, rec.ExtensionClass)
}

func TestNormalize_DepartureRequiresArrivalAndPresence(t *testing.T) {
	n := attendance.NewNormalizer(nil)

	noArrival, err := n.Normalize(attendance.RawRecord{
		"userId": "U1", "date": "2025-03-10", "usageStatus": "放課後", "departureTime": "17:00",
	})
	require.NoError(t, err)
	assert.Nil(t, noArrival.DepartureTime)

	absent, err := n.Normalize(attendance.RawRecord{
		"userId": "U1", "date": "2025-03-10", "usageStatus": "欠席",
		"arrivalTime": "14:00", "departureTime": "17:00",
	})
	require.NoError(t, err)
	assert.Nil(t, absent.DepartureTime)
}

func TestNormalize_InvalidExtensionClassIsNone(t *testing.T) {
	n := attendance.NewNormalizer(nil)

	for _, v := range []any{float64(7), "x", float64(1.5), true} {
		rec, err := n.Normalize(attendance.RawRecord{
			"userId": "U1", "date": "2025-03-10", "extensionClass": v,
		})
		require.NoError(t, err)
		assert.Equal(t, attendance.ExtensionNone, rec.ExtensionClass, "value %v", v)
	}
}

func TestNormalizeAll_CollectsRejectsWithoutAborting(t *testing.T) {
	n := attendance.NewNormalizer(nil)

	records, rejects := n.NormalizeAll([]attendance.RawRecord{
		{"userId": "U1", "date": "2025-03-10", "usageStatus": "放課後"},
		{"date": "2025-03-10"},
		{"userId": "U2", "date": "2025-03-11", "usageStatus": "欠席"},
	})

	require.Len(t, records, 2)
	require.Len(t, rejects, 1)

	var invalid *generic.InvalidRecordError
	require.True(t, errors.As(rejects[0], &invalid))
	assert.Equal(t, 1, invalid.Index)
	assert.Equal(t, "userId", invalid.Field)
	assert.ErrorIs(t, rejects[0], generic.ErrMissingUserID)
}

func TestNormalizeEvent(t *testing.T) {
	n := attendance.NewNormalizer(nil)

	ev, err := n.NormalizeEvent(attendance.RawRecord{"userId": "U1", "date": "2025/3/10", "type": "休校日"})
	require.NoError(t, err)
	assert.Equal(t, attendance.EventHolidaySchool, ev.Type)
	assert.True(t, ev.Type.Countable())

	other, err := n.NormalizeEvent(attendance.RawRecord{"userId": "U1", "date": "2025-03-10", "type": "面談"})
	require.NoError(t, err)
	assert.Equal(t, attendance.EventOther, other.Type)
	assert.False(t, other.Type.Countable())
}

// =============================================================================
// DEDUPLICATION
// =============================================================================

func TestDedupe_PrefersMostCompleteRecord(t *testing.T) {
	absent := attendance.AttendanceRecord{ID: "a", UserID: "U1", Date: date(2025, time.March, 10), UsageStatus: attendance.StatusAbsent}
	arrived := attendance.AttendanceRecord{ID: "b", UserID: "U1", Date: date(2025, time.March, 10), UsageStatus: attendance.StatusAfterSchool, ArrivalTime: clock("14:00")}
	done := attendance.AttendanceRecord{ID: "c", UserID: "U1", Date: date(2025, time.March, 10), UsageStatus: attendance.StatusAfterSchool, ArrivalTime: clock("14:00"), DepartureTime: clock("17:00")}
	other := attendance.AttendanceRecord{ID: "d", UserID: "U2", Date: date(2025, time.March, 10), UsageStatus: attendance.StatusAfterSchool}

	input := []attendance.AttendanceRecord{absent, arrived, other, done}
	out := attendance.Dedupe(input)

	require.Len(t, out, 2)
	assert.Equal(t, generic.RecordID("c"), out[0].ID)
	assert.Equal(t, generic.RecordID("d"), out[1].ID)
	assert.Equal(t, generic.RecordID("a"), input[0].ID, "input untouched")

	dups := attendance.FindDuplicates(input)
	require.Len(t, dups, 1)
	assert.Equal(t, generic.UserID("U1"), dups[0].UserID)
}

func TestDedupe_TiesBrokenByRecordID(t *testing.T) {
	day := date(2025, time.March, 10)
	first := attendance.AttendanceRecord{ID: "r2", UserID: "U1", Date: day, UsageStatus: attendance.StatusAfterSchool, Notes: "second entry"}
	second := attendance.AttendanceRecord{ID: "r1", UserID: "U1", Date: day, UsageStatus: attendance.StatusAfterSchool, Notes: "first entry"}

	for _, input := range [][]attendance.AttendanceRecord{{first, second}, {second, first}} {
		out := attendance.Dedupe(input)
		require.Len(t, out, 1)
		assert.Equal(t, generic.RecordID("r1"), out[0].ID)
	}
}
