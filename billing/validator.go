package billing

import (
	"github.com/kizuna/dayservice/attendance"
	"github.com/kizuna/dayservice/generic"
)

// =============================================================================
// SUBSIDY VALIDATOR
// =============================================================================

// Validator checks one user's month against their entitlement.
type Validator struct {
	Rates RateConfig
}

func NewValidator(rates RateConfig) *Validator {
	return &Validator{Rates: rates}
}

// Validate computes the subsidy findings for user in the month ending at
// monthEnd.
//
// Only records of this user dated in that month are considered, and each
// date counts once, so stray or duplicated records never inflate usage.
//
//   - usageCount:  distinct dates with a countable status
//   - isOverLimit: daysSpecified > 0 and usageCount > daysSpecified
//   - isExpired:   decisionEndDate missing, or before monthEnd
//   - finalBurden: min(estimatedCost, upperLimitAmount) when the cap is > 0,
//     otherwise 0
//
// ExtensionDays is left zero; the aggregator fills it in.
func (v *Validator) Validate(user UserEntitlement, records []attendance.AttendanceRecord, monthEnd generic.Date) ValidationResult {
	month := monthEnd.YearMonth()
	result := ValidationResult{
		UserID:        user.UserID,
		UserName:      user.DisplayName,
		Month:         month,
		MissingFields: user.MissingFields(),
	}

	for _, r := range monthRecords(user.UserID, month, records) {
		switch r.UsageStatus {
		case attendance.StatusAfterSchool:
			result.AfterSchoolDays++
		case attendance.StatusHolidaySchool:
			result.HolidaySchoolDays++
		}
	}
	result.UsageCount = result.AfterSchoolDays + result.HolidaySchoolDays

	if user.DaysSpecified != nil && *user.DaysSpecified > 0 {
		result.LimitCount = *user.DaysSpecified
		result.IsOverLimit = result.UsageCount > result.LimitCount
	}

	result.IsExpired = user.DecisionEndDate == nil ||
		user.DecisionEndDate.IsZero() ||
		user.DecisionEndDate.Before(monthEnd)

	result.ServiceUnits = v.Rates.ServiceUnits(result.UsageCount).Floor().IntPart()
	result.TotalCost = v.Rates.TotalCost(result.UsageCount).Floor().IntPart()
	estimated := v.Rates.EstimatedBurden(result.UsageCount)
	result.EstimatedCost = estimated.IntPart()

	if user.UpperLimitAmount != nil && *user.UpperLimitAmount > 0 {
		limit := generic.NewAmountFromInt(*user.UpperLimitAmount, generic.UnitYen)
		result.FinalBurden = estimated.Min(limit).IntPart()
	}

	return result
}

// monthRecords returns this user's records in month, one per date.
func monthRecords(userID generic.UserID, month generic.YearMonth, records []attendance.AttendanceRecord) []attendance.AttendanceRecord {
	var mine []attendance.AttendanceRecord
	for _, r := range records {
		if r.UserID == userID && r.Date.YearMonth() == month {
			mine = append(mine, r)
		}
	}
	return attendance.Dedupe(mine)
}
