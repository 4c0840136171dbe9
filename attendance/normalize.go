package attendance

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kizuna/dayservice/generic"
)

// =============================================================================
// RAW RECORD - Document shape as read from the document store
// =============================================================================

// RawRecord is an attendance or event document before normalization. Keys
// follow the document store's camelCase field names.
type RawRecord map[string]any

// dateLayouts are tried in order for string dates. "1" and "2" accept one or
// two digits, so "2025/3/1" and "2025/03/01" both parse.
var dateLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	time.RFC3339,
	time.RFC3339Nano,
}

// =============================================================================
// NORMALIZER
// =============================================================================

// Normalizer is the single parsing boundary for attendance documents.
type Normalizer struct {
	// Location is the facility time zone used to read timestamps as dates.
	Location *time.Location
}

// NewNormalizer creates a normalizer. A nil loc means UTC.
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{Location: loc}
}

// Normalize converts one document into a canonical record.
//
// Only a missing user or an unreadable date is an error. Unknown statuses
// become StatusUnresolved, unreadable times are dropped, missing notes
// become "".
func (n *Normalizer) Normalize(raw RawRecord) (AttendanceRecord, error) {
	userID := firstString(raw, "userId", "user_id")
	if userID == "" {
		return AttendanceRecord{}, generic.ErrMissingUserID
	}

	date, err := n.parseDateValue(first(raw, "date"))
	if err != nil {
		return AttendanceRecord{}, err
	}

	rec := AttendanceRecord{
		ID:          generic.RecordID(firstString(raw, "id")),
		UserID:      generic.UserID(userID),
		UserName:    firstString(raw, "userName", "user_name"),
		Date:        date,
		Month:       date.YearMonth(),
		UsageStatus: ParseStatus(firstString(raw, "usageStatus", "usage_status", "status")),
		Notes:       firstString(raw, "notes"),
	}

	rec.ArrivalTime = parseOptionalTime(first(raw, "arrivalTime", "arrival_time"))
	rec.DepartureTime = parseOptionalTime(first(raw, "departureTime", "departure_time"))
	if rec.ArrivalTime == nil || !rec.UsageStatus.Countable() {
		rec.DepartureTime = nil
	}

	rec.ExtensionClass = parseExtensionClass(first(raw, "extensionClass", "extension_class"))
	return rec, nil
}

// NormalizeAll normalizes a batch. Rejected documents are reported as
// *generic.InvalidRecordError and never abort the batch.
func (n *Normalizer) NormalizeAll(raws []RawRecord) ([]AttendanceRecord, []error) {
	records := make([]AttendanceRecord, 0, len(raws))
	var rejects []error
	for i, raw := range raws {
		rec, err := n.Normalize(raw)
		if err != nil {
			rejects = append(rejects, &generic.InvalidRecordError{Index: i, Field: fieldOf(err), Err: err})
			continue
		}
		records = append(records, rec)
	}
	return records, rejects
}

// NormalizeEvent converts one scheduled-event document.
func (n *Normalizer) NormalizeEvent(raw RawRecord) (ScheduledEvent, error) {
	userID := firstString(raw, "userId", "user_id")
	if userID == "" {
		return ScheduledEvent{}, generic.ErrMissingUserID
	}
	date, err := n.parseDateValue(first(raw, "date"))
	if err != nil {
		return ScheduledEvent{}, err
	}
	return ScheduledEvent{
		ID:     generic.RecordID(firstString(raw, "id")),
		UserID: generic.UserID(userID),
		Date:   date,
		Type:   ParseEventType(firstString(raw, "type", "eventType")),
	}, nil
}

// NormalizeEvents is the batch form of NormalizeEvent.
func (n *Normalizer) NormalizeEvents(raws []RawRecord) ([]ScheduledEvent, []error) {
	events := make([]ScheduledEvent, 0, len(raws))
	var rejects []error
	for i, raw := range raws {
		ev, err := n.NormalizeEvent(raw)
		if err != nil {
			rejects = append(rejects, &generic.InvalidRecordError{Index: i, Field: fieldOf(err), Err: err})
			continue
		}
		events = append(events, ev)
	}
	return events, rejects
}

// =============================================================================
// ENUM PARSING
// =============================================================================

// ParseStatus maps a status label to UsageStatus. Anything unrecognised is
// StatusUnresolved, so a typo can never be billed as a visit.
func ParseStatus(s string) UsageStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "放課後", "after_school", "afterschool":
		return StatusAfterSchool
	case "休校日", "holiday_school", "holidayschool":
		return StatusHolidaySchool
	case "欠席", "absent":
		return StatusAbsent
	default:
		return StatusUnresolved
	}
}

// ParseEventType maps an event label to EventType.
func ParseEventType(s string) EventType {
	switch ParseStatus(s) {
	case StatusAfterSchool:
		return EventAfterSchool
	case StatusHolidaySchool:
		return EventHolidaySchool
	default:
		return EventOther
	}
}

// =============================================================================
// FIELD PARSING
// =============================================================================

func (n *Normalizer) parseDateValue(v any) (generic.Date, error) {
	switch val := v.(type) {
	case nil:
		return generic.Date{}, generic.ErrMissingDate
	case generic.Date:
		if val.IsZero() {
			return generic.Date{}, generic.ErrMissingDate
		}
		return val, nil
	case time.Time:
		if val.IsZero() {
			return generic.Date{}, generic.ErrMissingDate
		}
		return generic.DateOf(val.In(n.Location)), nil
	case *time.Time:
		if val == nil || val.IsZero() {
			return generic.Date{}, generic.ErrMissingDate
		}
		return generic.DateOf(val.In(n.Location)), nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return generic.Date{}, generic.ErrMissingDate
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				if layout == time.RFC3339 || layout == time.RFC3339Nano {
					t = t.In(n.Location)
				}
				return generic.DateOf(t), nil
			}
		}
		return generic.Date{}, fmt.Errorf("%w: %q", generic.ErrInvalidDate, s)
	case map[string]any:
		return n.parseTimestamp(val)
	case RawRecord:
		return n.parseTimestamp(val)
	default:
		return generic.Date{}, fmt.Errorf("%w: unsupported type %T", generic.ErrInvalidDate, v)
	}
}

// parseTimestamp reads a serialized document-store timestamp, which appears
// as {seconds, nanoseconds} or {_seconds, _nanoseconds} depending on the SDK.
func (n *Normalizer) parseTimestamp(m map[string]any) (generic.Date, error) {
	secs, ok := toInt64(firstOf(m, "seconds", "_seconds"))
	if !ok {
		return generic.Date{}, fmt.Errorf("%w: timestamp without seconds", generic.ErrInvalidDate)
	}
	nanos, _ := toInt64(firstOf(m, "nanoseconds", "_nanoseconds"))
	return generic.DateOf(time.Unix(secs, nanos).In(n.Location)), nil
}

func parseOptionalTime(v any) *generic.TimeOfDay {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	t, err := generic.ParseTimeOfDay(s)
	if err != nil {
		return nil
	}
	return &t
}

func parseExtensionClass(v any) ExtensionClass {
	var n int64
	switch val := v.(type) {
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return ExtensionNone
		}
		n = parsed
	default:
		parsed, ok := toInt64(v)
		if !ok {
			return ExtensionNone
		}
		n = parsed
	}
	c := ExtensionClass(n)
	if !c.Valid() {
		return ExtensionNone
	}
	return c
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

func first(raw RawRecord, keys ...string) any {
	return firstOf(raw, keys...)
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(raw RawRecord, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func fieldOf(err error) string {
	if errors.Is(err, generic.ErrMissingUserID) {
		return "userId"
	}
	return "date"
}

// =============================================================================
// DEDUPLICATION
// =============================================================================

// Dedupe keeps one record per (user, date). Preference: countable status,
// then a record with a departure, then one with an arrival. Remaining ties
// go to holiday school over after school, then the higher extension class,
// then the lower ID, so the survivor never depends on input order. Output
// order is the input order of first occurrence. The input slice is not
// modified.
func Dedupe(records []AttendanceRecord) []AttendanceRecord {
	index := make(map[dayKey]int, len(records))
	out := make([]AttendanceRecord, 0, len(records))
	for _, r := range records {
		k := keyOf(r.UserID, r.Date)
		i, seen := index[k]
		if !seen {
			index[k] = len(out)
			out = append(out, r)
			continue
		}
		if preferred(r, out[i]) {
			out[i] = r
		}
	}
	return out
}

// FindDuplicates returns the (user, date) pairs that have more than one
// record, in input order of first occurrence.
func FindDuplicates(records []AttendanceRecord) []AttendanceRecord {
	counts := make(map[dayKey]int, len(records))
	for _, r := range records {
		counts[keyOf(r.UserID, r.Date)]++
	}
	var dups []AttendanceRecord
	reported := make(map[dayKey]bool)
	for _, r := range records {
		k := keyOf(r.UserID, r.Date)
		if counts[k] > 1 && !reported[k] {
			reported[k] = true
			dups = append(dups, r)
		}
	}
	return dups
}

// preferred reports whether a should replace b as the record of their day.
// It is a strict order: for distinct records exactly one direction holds.
func preferred(a, b AttendanceRecord) bool {
	if ca, cb := completeness(a), completeness(b); ca != cb {
		return ca > cb
	}
	if ra, rb := statusRank(a.UsageStatus), statusRank(b.UsageStatus); ra != rb {
		return ra > rb
	}
	if a.ExtensionClass != b.ExtensionClass {
		return a.ExtensionClass > b.ExtensionClass
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	if ta, tb := minutesOr(a.ArrivalTime, 24*60), minutesOr(b.ArrivalTime, 24*60); ta != tb {
		return ta < tb
	}
	if ta, tb := minutesOr(a.DepartureTime, -1), minutesOr(b.DepartureTime, -1); ta != tb {
		return ta > tb
	}
	if a.UserName != b.UserName {
		return a.UserName < b.UserName
	}
	return a.Notes < b.Notes
}

func statusRank(s UsageStatus) int {
	switch s {
	case StatusHolidaySchool:
		return 4
	case StatusAfterSchool:
		return 3
	case StatusAbsent:
		return 2
	default:
		return 1
	}
}

func minutesOr(t *generic.TimeOfDay, missing int) int {
	if t == nil {
		return missing
	}
	return int(*t)
}

func completeness(r AttendanceRecord) int {
	score := 0
	if r.UsageStatus.Countable() {
		score += 4
	}
	if r.HasDeparture() {
		score += 2
	}
	if r.HasArrival() {
		score++
	}
	return score
}
