/*
Package attendance turns raw attendance documents into canonical records and
derives everything that depends on a single day: service durations, the
extension-support classification, and scheduled-vs-actual anomalies.

PURPOSE:
  Check-in and check-out screens write loosely shaped documents. This
  package is the one boundary where those shapes are parsed. Past it, dates
  are generic.Date, times are generic.TimeOfDay and statuses are a closed
  enum.

KEY CONCEPTS IN THIS FILE (types.go):
  - UsageStatus: after-school day, school-holiday day, absent, unresolved
  - EventType: what a scheduled visit was planned as
  - ExtensionClass: 延長支援加算 tier 1-3 (or none)
  - AttendanceRecord / ScheduledEvent: the canonical records

SEE ALSO:
  - normalize.go: RawRecord -> AttendanceRecord
  - duration.go: elapsed minutes and extension tiers
  - reconcile.go: missing departure / missing attendance alerts
*/
package attendance

import (
	"github.com/kizuna/dayservice/generic"
)

// =============================================================================
// USAGE STATUS
// =============================================================================

type UsageStatus string

const (
	StatusAfterSchool   UsageStatus = "after_school"   // 放課後
	StatusHolidaySchool UsageStatus = "holiday_school" // 休校日
	StatusAbsent        UsageStatus = "absent"         // 欠席

	// StatusUnresolved marks a status string that could not be read. It is
	// never counted as usage.
	StatusUnresolved UsageStatus = "unresolved"
)

// Countable reports whether the status is a billable day of service.
func (s UsageStatus) Countable() bool {
	return s == StatusAfterSchool || s == StatusHolidaySchool
}

// Label returns the label used on facility forms.
func (s UsageStatus) Label() string {
	switch s {
	case StatusAfterSchool:
		return "放課後"
	case StatusHolidaySchool:
		return "休校日"
	case StatusAbsent:
		return "欠席"
	default:
		return "未判定"
	}
}

// =============================================================================
// EVENT TYPE
// =============================================================================

type EventType string

const (
	EventAfterSchool   EventType = "after_school"
	EventHolidaySchool EventType = "holiday_school"
	EventOther         EventType = "other" // meetings, trial visits, anything not billed
)

// Countable reports whether a missing visit of this type should be alerted.
func (t EventType) Countable() bool {
	return t == EventAfterSchool || t == EventHolidaySchool
}

// =============================================================================
// EXTENSION CLASS
// =============================================================================

type ExtensionClass int

const (
	ExtensionNone ExtensionClass = iota
	ExtensionClass1
	ExtensionClass2
	ExtensionClass3
)

func (c ExtensionClass) Valid() bool {
	return c >= ExtensionNone && c <= ExtensionClass3
}

// Label returns the addon name as printed on the billing sheet.
func (c ExtensionClass) Label() string {
	switch c {
	case ExtensionClass1:
		return "延長支援加算1（30分以上1時間未満）"
	case ExtensionClass2:
		return "延長支援加算2（1時間以上2時間未満）"
	case ExtensionClass3:
		return "延長支援加算3（2時間以上）"
	default:
		return ""
	}
}

// =============================================================================
// RECORDS
// =============================================================================

// AttendanceRecord is one user's presence on one date.
//
// DepartureTime is only meaningful when ArrivalTime is set and the status is
// countable; the normalizer clears it otherwise.
type AttendanceRecord struct {
	ID             generic.RecordID   `json:"id,omitempty"`
	UserID         generic.UserID     `json:"userId"`
	UserName       string             `json:"userName"`
	Date           generic.Date       `json:"date"`
	Month          generic.YearMonth  `json:"month"`
	UsageStatus    UsageStatus        `json:"usageStatus"`
	ArrivalTime    *generic.TimeOfDay `json:"arrivalTime,omitempty"`
	DepartureTime  *generic.TimeOfDay `json:"departureTime,omitempty"`
	Notes          string             `json:"notes"`
	ExtensionClass ExtensionClass     `json:"extensionClass,omitempty"`
}

// HasArrival and HasDeparture are nil-safe accessors.
func (r AttendanceRecord) HasArrival() bool   { return r.ArrivalTime != nil }
func (r AttendanceRecord) HasDeparture() bool { return r.DepartureTime != nil }

// ScheduledEvent is an expected visit, whether or not it happened.
type ScheduledEvent struct {
	ID     generic.RecordID `json:"id,omitempty"`
	UserID generic.UserID   `json:"userId"`
	Date   generic.Date     `json:"date"`
	Type   EventType        `json:"type"`
}

// dayKey identifies the (user, date) pair a record or event belongs to.
type dayKey struct {
	UserID generic.UserID
	Date   string
}

func keyOf(userID generic.UserID, d generic.Date) dayKey {
	return dayKey{UserID: userID, Date: d.String()}
}
