package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kizuna/dayservice/attendance"
	"github.com/kizuna/dayservice/generic"
	"github.com/kizuna/dayservice/store"
	"github.com/kizuna/dayservice/store/memory"
	"github.com/kizuna/dayservice/store/storetest"
)

func TestMemory_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return memory.New() })
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := memory.New()

	arrival := generic.TimeOfDay(14 * 60)
	saved, err := m.SaveAttendance(ctx, attendance.AttendanceRecord{
		UserID:      "U1",
		Date:        generic.NewDate(2025, 3, 10),
		UsageStatus: attendance.StatusAfterSchool,
		ArrivalTime: &arrival,
	})
	require.NoError(t, err)

	*saved.ArrivalTime = 0
	arrival = 0

	got, err := m.GetAttendance(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "14:00", got.ArrivalTime.String())
}
