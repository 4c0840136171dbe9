/*
Package billing validates monthly service usage against each user's subsidy
entitlement (受給者証) and assembles the billing report.

PURPOSE:
  Every month the facility checks, per user, that billed days stay within
  the specified day count, that the certificate is still valid, and that the
  profile has every field the claim form needs. It also estimates the user's
  co-payment, capped by their monthly upper limit.

KEY CONCEPTS IN THIS FILE (types.go):
  - UserEntitlement: the billing-relevant subset of a user profile
  - RateConfig: units per visit, yen per unit, co-pay rate
  - ValidationResult: per user per month findings (the export contract)

FINDINGS, NOT ERRORS:
  Over-limit usage, expired certificates and missing fields are flags on
  the result. Nothing in this package returns an error for them.

SEE ALSO:
  - validator.go: SubsidyValidator
  - aggregator.go: BillingAggregator
  - export/: CSV and XLSX renderers of ValidationResult
*/
package billing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kizuna/dayservice/generic"
)

// =============================================================================
// USER ENTITLEMENT
// =============================================================================

// UserEntitlement carries the profile fields billing depends on.
// Pointer fields are optional: nil means the field was never entered.
type UserEntitlement struct {
	UserID      generic.UserID `json:"userId"`
	DisplayName string         `json:"displayName"`

	JukyushaNo string `json:"jukyushaNo"` // 受給者証番号
	CityNo     string `json:"cityNo"`     // 市町村番号

	// DaysSpecified is the monthly subsidized day count (支給量).
	DaysSpecified *int `json:"daysSpecified,omitempty"`
	// DecisionEndDate is the certificate expiry (支給決定期間の終了日).
	DecisionEndDate *generic.Date `json:"decisionEndDate,omitempty"`
	// UpperLimitAmount is the monthly co-pay cap in yen (負担上限月額).
	// Zero is a valid cap.
	UpperLimitAmount *int64 `json:"upperLimitAmount,omitempty"`

	// Active marks users in service even in months with no records.
	Active bool `json:"active"`
}

// Required field names, in the order they are reported.
const (
	FieldJukyushaNo       = "jukyushaNo"
	FieldCityNo           = "cityNo"
	FieldDaysSpecified    = "daysSpecified"
	FieldDecisionEndDate  = "decisionEndDate"
	FieldUpperLimitAmount = "upperLimitAmount"
)

// RequiredFields lists every field a billable profile must carry.
var RequiredFields = []string{
	FieldJukyushaNo,
	FieldCityNo,
	FieldDaysSpecified,
	FieldDecisionEndDate,
	FieldUpperLimitAmount,
}

// MissingFields returns the required fields that are empty. A zero day count
// is empty; a zero upper limit is not.
func (u UserEntitlement) MissingFields() []string {
	missing := []string{}
	if strings.TrimSpace(u.JukyushaNo) == "" {
		missing = append(missing, FieldJukyushaNo)
	}
	if strings.TrimSpace(u.CityNo) == "" {
		missing = append(missing, FieldCityNo)
	}
	if u.DaysSpecified == nil || *u.DaysSpecified <= 0 {
		missing = append(missing, FieldDaysSpecified)
	}
	if u.DecisionEndDate == nil || u.DecisionEndDate.IsZero() {
		missing = append(missing, FieldDecisionEndDate)
	}
	if u.UpperLimitAmount == nil {
		missing = append(missing, FieldUpperLimitAmount)
	}
	return missing
}

// =============================================================================
// RATE CONFIG
// =============================================================================

// RateConfig prices a visit. The defaults (600 units x ¥10 x 10%) are a
// rough estimate, not the official unit-price table; facilities override
// them in configuration.
type RateConfig struct {
	UnitsPerVisit decimal.Decimal
	YenPerUnit    decimal.Decimal
	CopayRate     decimal.Decimal
}

func DefaultRateConfig() RateConfig {
	return RateConfig{
		UnitsPerVisit: decimal.NewFromInt(600),
		YenPerUnit:    decimal.NewFromInt(10),
		CopayRate:     decimal.NewFromFloat(0.1),
	}
}

func (rc RateConfig) Validate() error {
	if rc.UnitsPerVisit.IsNegative() || rc.YenPerUnit.IsNegative() {
		return fmt.Errorf("rate config: units and unit price must not be negative")
	}
	if rc.CopayRate.IsNegative() || rc.CopayRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("rate config: copay rate must be within [0, 1]")
	}
	return nil
}

// ServiceUnits returns usage days x units per visit.
func (rc RateConfig) ServiceUnits(usageCount int) generic.Amount {
	return generic.NewAmountFromInt(int64(usageCount), generic.UnitServiceUnits).Mul(rc.UnitsPerVisit)
}

// TotalCost converts service units to yen.
func (rc RateConfig) TotalCost(usageCount int) generic.Amount {
	return rc.ServiceUnits(usageCount).Convert(rc.YenPerUnit, generic.UnitYen)
}

// EstimatedBurden is floor(usage x units x yen/unit x co-pay rate).
func (rc RateConfig) EstimatedBurden(usageCount int) generic.Amount {
	return rc.TotalCost(usageCount).Mul(rc.CopayRate).Floor()
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// ExtensionDays counts days per extension-support tier.
type ExtensionDays struct {
	Class1 int `json:"class1"`
	Class2 int `json:"class2"`
	Class3 int `json:"class3"`
}

func (e ExtensionDays) Total() int { return e.Class1 + e.Class2 + e.Class3 }

// ValidationResult is the per user per month outcome. Its JSON field names
// are the stable contract CSV and print renderers depend on.
type ValidationResult struct {
	UserID   generic.UserID    `json:"userId"`
	UserName string            `json:"userName"`
	Month    generic.YearMonth `json:"month"`

	UsageCount    int      `json:"usageCount"`
	LimitCount    int      `json:"limitCount"`
	IsOverLimit   bool     `json:"isOverLimit"`
	IsExpired     bool     `json:"isExpired"`
	MissingFields []string `json:"missingFields"`

	ServiceUnits  int64 `json:"serviceUnits"`
	TotalCost     int64 `json:"totalCost"`
	EstimatedCost int64 `json:"estimatedCost"`
	FinalBurden   int64 `json:"finalBurden"`

	AfterSchoolDays   int           `json:"afterSchoolDays"`
	HolidaySchoolDays int           `json:"holidaySchoolDays"`
	ExtensionDays     ExtensionDays `json:"extensionDays"`
}

// Passed reports a result with no findings.
func (r ValidationResult) Passed() bool {
	return !r.IsOverLimit && !r.IsExpired && len(r.MissingFields) == 0
}

// Reasons lists the findings as printed on the check sheet.
func (r ValidationResult) Reasons() []string {
	var reasons []string
	if r.IsOverLimit {
		reasons = append(reasons, fmt.Sprintf("利用日数が支給量を超えています（%d/%d日）", r.UsageCount, r.LimitCount))
	}
	if r.IsExpired {
		reasons = append(reasons, "受給者証の支給決定期間が終了しています")
	}
	if len(r.MissingFields) > 0 {
		reasons = append(reasons, "必須項目が未入力です: "+strings.Join(r.MissingFields, ", "))
	}
	return reasons
}
