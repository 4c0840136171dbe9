package attendance

import (
	"sort"

	"github.com/kizuna/dayservice/generic"
)

// =============================================================================
// ANOMALIES - Scheduled vs actual
// =============================================================================

type AnomalyKind string

const (
	// AnomalyMissingDeparture: arrived on a past day, never checked out.
	AnomalyMissingDeparture AnomalyKind = "missing_departure"

	// AnomalyMissingAttendance: a countable visit was scheduled on a past day
	// and no non-absent record exists for it.
	AnomalyMissingAttendance AnomalyKind = "missing_attendance"
)

// Anomaly is one dashboard alert.
type Anomaly struct {
	Kind     AnomalyKind      `json:"kind"`
	UserID   generic.UserID   `json:"userId"`
	UserName string           `json:"userName,omitempty"`
	Date     generic.Date     `json:"date"`
	RecordID generic.RecordID `json:"recordId,omitempty"`
	Message  string           `json:"message"`
}

// Reconcile cross-references scheduled events and attendance records for all
// dates strictly before asOf. asOf itself is never flagged since the day is
// still in progress. Results are most recent first. Inputs are not modified.
func Reconcile(events []ScheduledEvent, records []AttendanceRecord, asOf generic.Date) []Anomaly {
	return ReconcileSince(events, records, generic.Date{}, asOf)
}

// ReconcileSince is Reconcile limited to dates on or after from. A zero from
// means no lower bound.
func ReconcileSince(events []ScheduledEvent, records []AttendanceRecord, from, asOf generic.Date) []Anomaly {
	inWindow := func(d generic.Date) bool {
		if !d.Before(asOf) {
			return false
		}
		return from.IsZero() || d.AfterOrEqual(from)
	}

	attended := make(map[dayKey]bool, len(records))
	names := make(map[generic.UserID]string)
	for _, r := range records {
		if r.UsageStatus.Countable() {
			attended[keyOf(r.UserID, r.Date)] = true
		}
		if r.UserName != "" {
			names[r.UserID] = r.UserName
		}
	}

	var anomalies []Anomaly

	for _, r := range Dedupe(records) {
		if !inWindow(r.Date) || !r.UsageStatus.Countable() {
			continue
		}
		if r.HasArrival() && !r.HasDeparture() {
			anomalies = append(anomalies, Anomaly{
				Kind:     AnomalyMissingDeparture,
				UserID:   r.UserID,
				UserName: r.UserName,
				Date:     r.Date,
				RecordID: r.ID,
				Message:  "退所時刻が未入力です",
			})
		}
	}

	flagged := make(map[dayKey]bool)
	for _, ev := range events {
		if !inWindow(ev.Date) || !ev.Type.Countable() {
			continue
		}
		k := keyOf(ev.UserID, ev.Date)
		if attended[k] || flagged[k] {
			continue
		}
		flagged[k] = true
		anomalies = append(anomalies, Anomaly{
			Kind:     AnomalyMissingAttendance,
			UserID:   ev.UserID,
			UserName: names[ev.UserID],
			Date:     ev.Date,
			RecordID: ev.ID,
			Message:  "利用予定がありますが出欠記録がありません",
		})
	}

	sort.SliceStable(anomalies, func(i, j int) bool {
		a, b := anomalies[i], anomalies[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.UserID < b.UserID
	})
	return anomalies
}

// CountByKind tallies anomalies per kind.
func CountByKind(anomalies []Anomaly) map[AnomalyKind]int {
	counts := map[AnomalyKind]int{
		AnomalyMissingDeparture:  0,
		AnomalyMissingAttendance: 0,
	}
	for _, a := range anomalies {
		counts[a.Kind]++
	}
	return counts
}
