package attendance

import (
	"fmt"

	"github.com/kizuna/dayservice/generic"
)

// =============================================================================
// ELAPSED MINUTES
// =============================================================================

// ElapsedMinutes returns the minutes between two "HH:MM" readings on the
// same day. When end is not after start it returns
// generic.ErrNonPositiveDuration; it never wraps past midnight and never
// returns a negative duration.
func ElapsedMinutes(start, end string) (int, error) {
	s, err := generic.ParseTimeOfDay(start)
	if err != nil {
		return 0, err
	}
	e, err := generic.ParseTimeOfDay(end)
	if err != nil {
		return 0, err
	}
	return Elapsed(s, e)
}

// Elapsed is ElapsedMinutes over parsed readings.
func Elapsed(start, end generic.TimeOfDay) (int, error) {
	if end <= start {
		return 0, fmt.Errorf("%w: %s -> %s", generic.ErrNonPositiveDuration, start, end)
	}
	return int(end - start), nil
}

// =============================================================================
// EXTENSION POLICY - 延長支援加算
// =============================================================================

// ExtensionPolicy decides when a stay counts as extended support.
//
// A stay is extended once it passes the baseline for its service type; the
// minutes beyond the baseline pick the tier:
//
//	< Class1From              -> none
//	[Class1From, Class2From)  -> class 1
//	[Class2From, Class3From)  -> class 2
//	>= Class3From             -> class 3
type ExtensionPolicy struct {
	AfterSchoolBaseline   int `mapstructure:"after_school_baseline"`
	HolidaySchoolBaseline int `mapstructure:"holiday_school_baseline"`
	Class1From            int `mapstructure:"class1_from"`
	Class2From            int `mapstructure:"class2_from"`
	Class3From            int `mapstructure:"class3_from"`
}

// DefaultExtensionPolicy: 3h baseline after school, 5h on school holidays,
// tiers at 30 / 60 / 120 extra minutes.
func DefaultExtensionPolicy() ExtensionPolicy {
	return ExtensionPolicy{
		AfterSchoolBaseline:   180,
		HolidaySchoolBaseline: 300,
		Class1From:            30,
		Class2From:            60,
		Class3From:            120,
	}
}

// Validate checks that tiers are ordered, which keeps classification
// monotonic in elapsed minutes.
func (p ExtensionPolicy) Validate() error {
	if p.AfterSchoolBaseline <= 0 || p.HolidaySchoolBaseline <= 0 {
		return fmt.Errorf("extension policy: baselines must be positive")
	}
	if p.Class1From <= 0 || p.Class1From > p.Class2From || p.Class2From > p.Class3From {
		return fmt.Errorf("extension policy: tiers must satisfy 0 < class1 <= class2 <= class3")
	}
	return nil
}

// Baseline returns the service-type threshold in minutes.
func (p ExtensionPolicy) Baseline(status UsageStatus) (int, bool) {
	switch status {
	case StatusAfterSchool:
		return p.AfterSchoolBaseline, true
	case StatusHolidaySchool:
		return p.HolidaySchoolBaseline, true
	default:
		return 0, false
	}
}

// Extension is a computed extension-support classification.
type Extension struct {
	Class ExtensionClass `json:"class"`
	Label string         `json:"label"`
	// Minutes beyond the baseline.
	Minutes int `json:"minutes"`
}

// Classify maps elapsed service minutes to a tier. ok is false when the stay
// does not reach the first tier or the status has no baseline.
func (p ExtensionPolicy) Classify(elapsed int, status UsageStatus) (Extension, bool) {
	baseline, ok := p.Baseline(status)
	if !ok || elapsed <= baseline {
		return Extension{}, false
	}
	extra := elapsed - baseline

	var class ExtensionClass
	switch {
	case extra >= p.Class3From:
		class = ExtensionClass3
	case extra >= p.Class2From:
		class = ExtensionClass2
	case extra >= p.Class1From:
		class = ExtensionClass1
	default:
		return Extension{}, false
	}
	return Extension{Class: class, Label: class.Label(), Minutes: extra}, true
}

// ClassifyExtension applies the default policy.
func ClassifyExtension(elapsed int, status UsageStatus) (Extension, bool) {
	return DefaultExtensionPolicy().Classify(elapsed, status)
}

// ClassifyRecord classifies a record from its own arrival/departure times.
func (p ExtensionPolicy) ClassifyRecord(r AttendanceRecord) (Extension, bool) {
	if !r.HasArrival() || !r.HasDeparture() {
		return Extension{}, false
	}
	elapsed, err := Elapsed(*r.ArrivalTime, *r.DepartureTime)
	if err != nil {
		return Extension{}, false
	}
	return p.Classify(elapsed, r.UsageStatus)
}

// Apply returns a copy of r with ExtensionClass recomputed from its times.
func (p ExtensionPolicy) Apply(r AttendanceRecord) AttendanceRecord {
	ext, ok := p.ClassifyRecord(r)
	if !ok {
		r.ExtensionClass = ExtensionNone
		return r
	}
	r.ExtensionClass = ext.Class
	return r
}

// EffectiveClass prefers a class stored on the record (it may have been set
// by hand on the edit screen) and falls back to computing one.
func (p ExtensionPolicy) EffectiveClass(r AttendanceRecord) ExtensionClass {
	if !r.UsageStatus.Countable() {
		return ExtensionNone
	}
	if r.ExtensionClass != ExtensionNone {
		return r.ExtensionClass
	}
	ext, ok := p.ClassifyRecord(r)
	if !ok {
		return ExtensionNone
	}
	return ext.Class
}
