package attendance

import (
	"github.com/kizuna/dayservice/generic"
)

// =============================================================================
// USAGE STATISTICS - Fiscal-year dashboard tables
// =============================================================================

// MonthStat is one row of the fiscal-year table.
type MonthStat struct {
	Month         generic.YearMonth `json:"month"`
	AfterSchool   int               `json:"afterSchool"`
	HolidaySchool int               `json:"holidaySchool"`
	Absent        int               `json:"absent"`
}

// UsageReport aggregates one fiscal year of attendance.
type UsageReport struct {
	FiscalYear int `json:"fiscalYear"`
	// ByMonth is in fiscal order (April first with the default calendar).
	ByMonth []MonthStat `json:"byMonth"`
	// ByWeekday counts countable days per weekday bucket, Sunday first.
	ByWeekday [7]int `json:"byWeekday"`
	// Users is the number of distinct users with at least one countable day.
	Users int `json:"users"`
	Total int `json:"total"`
}

// UsageStats builds the fiscal-year report for fy. Records outside the
// fiscal year are ignored; duplicates per (user, date) count once.
func UsageStats(records []AttendanceRecord, fc generic.FiscalCalendar, fy int) UsageReport {
	months := fc.Months(fy)
	report := UsageReport{FiscalYear: fy, ByMonth: make([]MonthStat, len(months))}
	for i, m := range months {
		report.ByMonth[i].Month = m
	}

	users := make(map[generic.UserID]bool)
	for _, r := range Dedupe(records) {
		if fc.FiscalYearOf(r.Date) != fy {
			continue
		}
		row := &report.ByMonth[fc.FiscalMonthIndex(r.Date)-1]
		switch r.UsageStatus {
		case StatusAfterSchool:
			row.AfterSchool++
		case StatusHolidaySchool:
			row.HolidaySchool++
		case StatusAbsent:
			row.Absent++
		}
		if r.UsageStatus.Countable() {
			report.ByWeekday[fc.WeekdayOf(r.Date)]++
			report.Total++
			users[r.UserID] = true
		}
	}
	report.Users = len(users)
	return report
}
