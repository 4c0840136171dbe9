package generic

import "time"

// =============================================================================
// PERIOD - Inclusive date range
// =============================================================================

// Period is an inclusive range of days.
//
// Examples:
//   - Billing month March 2025: Mar 1 - Mar 31
//   - Fiscal year 2024: Apr 1 2024 - Mar 31 2025
//   - Alert window: the 14 days before today
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if d is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Days returns every day in the period in ascending order.
func (p Period) Days() []Date {
	var days []Date
	for current := p.Start; current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

// Validate rejects periods whose end is before their start.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// FISCAL CALENDAR - Japanese fiscal years run April through March
// =============================================================================

// FiscalCalendar maps dates to fiscal-year and weekday buckets.
type FiscalCalendar struct {
	// StartMonth is the first month of a fiscal year (1-12).
	StartMonth time.Month
}

// DefaultFiscalCalendar starts the fiscal year in April.
func DefaultFiscalCalendar() FiscalCalendar {
	return FiscalCalendar{StartMonth: time.April}
}

func (fc FiscalCalendar) startMonth() time.Month {
	if fc.StartMonth < time.January || fc.StartMonth > time.December {
		return time.April
	}
	return fc.StartMonth
}

// FiscalYearOf returns the fiscal year a date belongs to, named after the
// calendar year in which it starts. With an April start, 2025-03-31 is in
// FY2024 and 2025-04-01 is in FY2025.
func (fc FiscalCalendar) FiscalYearOf(d Date) int {
	if d.Month() >= fc.startMonth() {
		return d.Year()
	}
	return d.Year() - 1
}

// PeriodOf returns the fiscal year period for fiscal year fy.
func (fc FiscalCalendar) PeriodOf(fy int) Period {
	start := NewDate(fy, fc.startMonth(), 1)
	return Period{Start: start, End: start.AddMonths(12).AddDays(-1)}
}

// FiscalMonthIndex returns 1 for the first month of the fiscal year through 12.
func (fc FiscalCalendar) FiscalMonthIndex(d Date) int {
	return (int(d.Month())-int(fc.startMonth())+12)%12 + 1
}

// Months returns the twelve months of fiscal year fy in fiscal order.
func (fc FiscalCalendar) Months(fy int) []YearMonth {
	months := make([]YearMonth, 0, 12)
	current := NewDate(fy, fc.startMonth(), 1)
	for i := 0; i < 12; i++ {
		months = append(months, current.YearMonth())
		current = current.AddMonths(1)
	}
	return months
}

// =============================================================================
// WEEKDAY BUCKETS
// =============================================================================

// WeekdayBuckets is the fixed column order used by aggregation tables.
var WeekdayBuckets = [7]time.Weekday{
	time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
	time.Thursday, time.Friday, time.Saturday,
}

var weekdayLabels = [7]string{"日", "月", "火", "水", "木", "金", "土"}

// WeekdayOf returns the bucket index (0 = Sunday .. 6 = Saturday) of d.
func (fc FiscalCalendar) WeekdayOf(d Date) int {
	return int(d.Weekday())
}

// WeekdayLabel returns the short Japanese label for a bucket index.
func WeekdayLabel(bucket int) string {
	if bucket < 0 || bucket > 6 {
		return ""
	}
	return weekdayLabels[bucket]
}
