/*
Package generic provides the domain-agnostic building blocks of the billing
and attendance engine.

PURPOSE:
  Attendance and billing computations are date arithmetic plus money
  arithmetic over plain records. This package owns both so that the domain
  packages never touch raw strings or floats past their input boundary.

KEY CONCEPTS:
  - Date / YearMonth / TimeOfDay: canonical value types (time.go)
  - Period / FiscalCalendar: date ranges and April-March buckets (period.go)
  - Amount: decimal quantity with a unit (yen, service units)
  - Errors: sentinels and structured errors (errors.go)

DESIGN PRINCIPLES:
  1. Precision: amounts use decimal.Decimal, never float64
  2. Explicitness: dates are a value type, not "2025/3/1" strings
  3. Purity: nothing here holds state or performs I/O

USAGE:
  units := generic.NewAmountFromInt(600, generic.UnitServiceUnits)
  yen := units.Convert(decimal.NewFromInt(10), generic.UnitYen)

SEE ALSO:
  - attendance/: normalization, durations, reconciliation
  - billing/: subsidy validation and aggregation
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const (
	UnitYen          Unit = "yen"
	UnitServiceUnits Unit = "units" // 単位: the subsidy system's billing unit
)

func NewAmount(value decimal.Decimal, unit Unit) Amount {
	return Amount{Value: value, Unit: unit}
}

func NewAmountFromInt(value int64, unit Unit) Amount {
	return Amount{Value: decimal.NewFromInt(value), Unit: unit}
}

// MustParseDecimal parses s or returns zero. Use only with literals.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Unit: a.Unit} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Unit: a.Unit} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Unit: a.Unit} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) Floor() Amount                { return Amount{Value: a.Value.Floor(), Unit: a.Unit} }
func (a Amount) IntPart() int64               { return a.Value.IntPart() }

func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Convert multiplies by rate and relabels the unit, e.g. units -> yen.
func (a Amount) Convert(rate decimal.Decimal, to Unit) Amount {
	return Amount{Value: a.Value.Mul(rate), Unit: to}
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type RecordID string
