/*
handlers.go - HTTP API handlers for the day-service back office

PURPOSE:
  Exposes attendance entry, profile maintenance, the monthly billing check
  and dashboard alerts via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the attendance and billing packages.

ENDPOINTS:
  Users:
    GET    /api/users                       List profiles
    POST   /api/users                       Create or replace a profile
    GET    /api/users/{id}                  Get one profile

  Attendance:
    GET    /api/attendance?month=YYYY-MM    Records of a month
    POST   /api/attendance                  Enter one raw record
    POST   /api/attendance/import           Enter a batch of raw records
    POST   /api/attendance/{id}/checkout    Record a departure
    DELETE /api/attendance/{id}             Delete a record

  Events:
    GET    /api/events?month=YYYY-MM        Scheduled visits of a month
    POST   /api/events                      Schedule a visit

  Billing:
    GET    /api/billing?from=&to=           Reports for a range of months
    GET    /api/billing/{month}             Monthly check sheet
    GET    /api/billing/{month}/export.csv  CSV (encoding=utf8|sjis)
    GET    /api/billing/{month}/export.xlsx Excel workbook

  Dashboard:
    GET    /api/alerts?asOf=&from=          Scheduled vs actual anomalies
    GET    /api/alerts/runs?limit=          Scheduler history
    GET    /api/stats/{fiscalYear}          Fiscal-year usage tables

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input (validator tags, or the normalizer for raw documents)
  3. Load from the store
  4. Call domain logic (normalize, aggregate, reconcile)
  5. Serialize response

ERROR HANDLING:
  Errors are returned as JSON {error, details} with:
  - 400: Validation errors, unreadable dates/times
  - 404: User or record not found
  - 500: Store failures

SECURITY NOTE:
  No authentication. The service is meant to sit behind the facility's
  own access control.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Periodic alert reconciliation
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kizuna/dayservice/attendance"
	"github.com/kizuna/dayservice/billing"
	"github.com/kizuna/dayservice/export"
	"github.com/kizuna/dayservice/generic"
	"github.com/kizuna/dayservice/metrics"
	"github.com/kizuna/dayservice/store"
)

// maxMonthRange bounds GET /api/billing?from=&to=.
const maxMonthRange = 24

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      store.Store
	Normalizer *attendance.Normalizer
	Aggregator *billing.Aggregator
	Extensions attendance.ExtensionPolicy
	Calendar   generic.FiscalCalendar
	Location   *time.Location

	// Workers bounds the month-level fan-out of range reports.
	Workers int
	// LookbackDays is the default alert window when no from is given.
	LookbackDays int

	Logger  *zap.Logger
	Metrics metrics.Recorder

	validate *validator.Validate
}

// Options configures NewHandler. Nil Logger, Metrics and Location fall back
// to no-op logging, no-op metrics and UTC.
type Options struct {
	Rates        billing.RateConfig
	Extensions   attendance.ExtensionPolicy
	Calendar     generic.FiscalCalendar
	Location     *time.Location
	Workers      int
	LookbackDays int
	Logger       *zap.Logger
	Metrics      metrics.Recorder
}

// NewHandler creates a handler backed by st.
func NewHandler(st store.Store, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 31
	}

	return &Handler{
		Store:        st,
		Normalizer:   attendance.NewNormalizer(opts.Location),
		Aggregator:   billing.NewAggregator(opts.Rates, opts.Extensions),
		Extensions:   opts.Extensions,
		Calendar:     opts.Calendar,
		Location:     opts.Location,
		Workers:      opts.Workers,
		LookbackDays: opts.LookbackDays,
		Logger:       opts.Logger,
		Metrics:      opts.Metrics,
		validate:     validator.New(),
	}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all profiles with their missing required fields.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		h.writeStoreError(w, "failed to list users", err)
		return
	}

	dtos := make([]UserDTO, 0, len(users))
	for _, u := range users {
		dtos = append(dtos, toUserDTO(u))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetUser returns one profile.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := generic.UserID(chi.URLParam(r, "id"))

	user, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, "failed to get user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// CreateUser creates a profile, or replaces it when userId already exists.
// Incomplete profiles are accepted; billing reports what they lack.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.Store.SaveUser(r.Context(), req.toEntitlement())
	if err != nil {
		h.writeStoreError(w, "failed to save user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// =============================================================================
// ATTENDANCE HANDLERS
// =============================================================================

// ListAttendance returns the records of ?month= (default: current month),
// optionally narrowed to ?userId=.
func (h *Handler) ListAttendance(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r.URL.Query().Get("month"))
	if !ok {
		return
	}

	records, err := h.Store.ListAttendance(r.Context(), month.Start(), month.End())
	if err != nil {
		h.writeStoreError(w, "failed to list attendance", err)
		return
	}

	if userID := r.URL.Query().Get("userId"); userID != "" {
		filtered := records[:0]
		for _, rec := range records {
			if rec.UserID == generic.UserID(userID) {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []attendance.AttendanceRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// CreateAttendance accepts one raw attendance document, in any of the
// shapes the normalizer understands, and stores the canonical record.
func (h *Handler) CreateAttendance(w http.ResponseWriter, r *http.Request) {
	var raw attendance.RawRecord
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	records, rejects := h.Normalizer.NormalizeAll([]attendance.RawRecord{raw})
	if len(rejects) > 0 {
		h.recordRejects(rejects)
		writeError(w, http.StatusBadRequest, "invalid attendance record", rejects[0])
		return
	}

	rec, err := h.saveRecord(r, records[0])
	if err != nil {
		h.writeStoreError(w, "failed to save attendance", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ImportAttendance accepts a JSON array of raw documents. Valid documents
// are stored; rejected ones, and ones the store failed to save, are reported
// with their index. The import is not atomic: records saved before a store
// failure stay saved, so resubmitting the whole batch stores them twice.
// Resubmit only the failed indexes.
func (h *Handler) ImportAttendance(w http.ResponseWriter, r *http.Request) {
	var raws []attendance.RawRecord
	if err := json.NewDecoder(r.Body).Decode(&raws); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	records, rejects := h.Normalizer.NormalizeAll(raws)
	h.recordRejects(rejects)

	result := ImportResultDTO{
		Saved:    make([]attendance.AttendanceRecord, 0, len(records)),
		Rejected: make([]RejectDTO, 0, len(rejects)),
	}
	for _, err := range rejects {
		dto := RejectDTO{Error: err.Error()}
		var invalid *generic.InvalidRecordError
		if errors.As(err, &invalid) {
			dto.Index = invalid.Index
			dto.Field = invalid.Field
		}
		result.Rejected = append(result.Rejected, dto)
	}

	indexes := acceptedIndexes(len(raws), result.Rejected)
	for i, rec := range records {
		saved, err := h.saveRecord(r, rec)
		if err != nil {
			h.Logger.Error("failed to save imported attendance",
				zap.Int("index", indexes[i]),
				zap.String("user_id", string(rec.UserID)),
				zap.Error(err))
			result.Rejected = append(result.Rejected, RejectDTO{
				Index: indexes[i],
				Error: fmt.Sprintf("save failed: %v", err),
			})
			continue
		}
		result.Saved = append(result.Saved, saved)
	}
	sort.SliceStable(result.Rejected, func(i, j int) bool {
		return result.Rejected[i].Index < result.Rejected[j].Index
	})

	h.Logger.Info("attendance imported",
		zap.Int("saved", len(result.Saved)),
		zap.Int("rejected", len(result.Rejected)))
	writeJSON(w, http.StatusOK, result)
}

// acceptedIndexes maps each normalized record back to its position in a
// batch of n documents, given the documents the normalizer rejected.
func acceptedIndexes(n int, rejected []RejectDTO) []int {
	skip := make(map[int]bool, len(rejected))
	for _, r := range rejected {
		skip[r.Index] = true
	}
	indexes := make([]int, 0, n-len(skip))
	for i := 0; i < n; i++ {
		if !skip[i] {
			indexes = append(indexes, i)
		}
	}
	return indexes
}

// Checkout sets the departure time of a record and reclassifies its
// extension tier.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	id := generic.RecordID(chi.URLParam(r, "id"))

	var req CheckoutRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	departure, err := generic.ParseTimeOfDay(req.DepartureTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid departure time", err)
		return
	}

	rec, err := h.Store.GetAttendance(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, "failed to get attendance", err)
		return
	}
	if !rec.HasArrival() || !rec.UsageStatus.Countable() {
		writeError(w, http.StatusBadRequest, "record has no arrival to check out from", nil)
		return
	}
	if _, err := attendance.Elapsed(*rec.ArrivalTime, departure); err != nil {
		writeError(w, http.StatusBadRequest, "departure must be after arrival", err)
		return
	}

	rec.DepartureTime = &departure
	rec = h.Extensions.Apply(rec)
	if err := h.Store.UpdateAttendance(r.Context(), rec); err != nil {
		h.writeStoreError(w, "failed to update attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteAttendance removes a record.
func (h *Handler) DeleteAttendance(w http.ResponseWriter, r *http.Request) {
	id := generic.RecordID(chi.URLParam(r, "id"))

	if err := h.Store.DeleteAttendance(r.Context(), id); err != nil {
		h.writeStoreError(w, "failed to delete attendance", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// saveRecord fills the display name from the profile when the document
// lacks one and classifies the extension tier when both times are known.
func (h *Handler) saveRecord(r *http.Request, rec attendance.AttendanceRecord) (attendance.AttendanceRecord, error) {
	if rec.UserName == "" {
		if user, err := h.Store.GetUser(r.Context(), rec.UserID); err == nil {
			rec.UserName = user.DisplayName
		}
	}
	if rec.HasDeparture() {
		rec = h.Extensions.Apply(rec)
	}
	return h.Store.SaveAttendance(r.Context(), rec)
}

func (h *Handler) recordRejects(rejects []error) {
	for _, err := range rejects {
		var invalid *generic.InvalidRecordError
		if errors.As(err, &invalid) {
			h.Metrics.RecordNormalizeReject(invalid.Field)
		}
		h.Logger.Warn("attendance document rejected", zap.Error(err))
	}
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// ListEvents returns the scheduled visits of ?month=.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	month, ok := h.monthParam(w, r.URL.Query().Get("month"))
	if !ok {
		return
	}

	events, err := h.Store.ListEvents(r.Context(), month.Start(), month.End())
	if err != nil {
		h.writeStoreError(w, "failed to list events", err)
		return
	}
	if events == nil {
		events = []attendance.ScheduledEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// CreateEvent schedules a visit from a raw document.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var raw attendance.RawRecord
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	ev, err := h.Normalizer.NormalizeEvent(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event", err)
		return
	}

	saved, err := h.Store.SaveEvent(r.Context(), ev)
	if err != nil {
		h.writeStoreError(w, "failed to save event", err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// GetBilling returns the monthly check sheet for {month}.
func (h *Handler) GetBilling(w http.ResponseWriter, r *http.Request) {
	month, results, ok := h.monthlyResults(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toBillingReportDTO(month, results))
}

// ListBilling returns one report per month in [?from, ?to].
func (h *Handler) ListBilling(w http.ResponseWriter, r *http.Request) {
	from, err := generic.ParseYearMonth(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from month", err)
		return
	}
	to, err := generic.ParseYearMonth(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to month", err)
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from", nil)
		return
	}

	var months []generic.YearMonth
	for m := from; !to.Before(m); m = m.Next() {
		months = append(months, m)
		if len(months) > maxMonthRange {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d months per request", maxMonthRange), nil)
			return
		}
	}

	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		h.writeStoreError(w, "failed to list users", err)
		return
	}
	records, err := h.Store.ListAttendance(r.Context(), from.Start(), to.End())
	if err != nil {
		h.writeStoreError(w, "failed to list attendance", err)
		return
	}

	start := time.Now()
	reports, err := h.Aggregator.AggregateMonths(r.Context(), users, records, months, h.Workers)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to aggregate", err)
		return
	}
	h.Metrics.RecordAggregateLatency(time.Since(start))

	dtos := make([]BillingReportDTO, 0, len(reports))
	for _, report := range reports {
		dtos = append(dtos, toBillingReportDTO(report.Month, report.Results))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ExportCSV downloads the check sheet as CSV. ?encoding=sjis writes
// Shift_JIS for spreadsheet tools that expect it.
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	enc, err := export.ParseEncoding(r.URL.Query().Get("encoding"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid encoding", err)
		return
	}
	month, results, ok := h.monthlyResults(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, results, export.Options{Encoding: enc}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to write CSV", err)
		return
	}

	w.Header().Set("Content-Type", enc.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="billing_%s.csv"`, month))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.Logger.Warn("csv export write failed", zap.Error(err))
	}
}

// ExportXLSX downloads the check sheet as an Excel workbook.
func (h *Handler) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	month, results, ok := h.monthlyResults(w, r)
	if !ok {
		return
	}

	buf, err := export.WriteXLSX(results, month)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to write workbook", err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.XLSXFilename(month)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.Logger.Warn("xlsx export write failed", zap.Error(err))
	}
}

// monthlyResults loads and aggregates the month named by {month}, recording
// latency and one validation per result. It writes the error response
// itself and reports false on failure.
func (h *Handler) monthlyResults(w http.ResponseWriter, r *http.Request) (generic.YearMonth, []billing.ValidationResult, bool) {
	month, err := generic.ParseYearMonth(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid month", err)
		return generic.YearMonth{}, nil, false
	}

	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		h.writeStoreError(w, "failed to list users", err)
		return generic.YearMonth{}, nil, false
	}
	records, err := h.Store.ListAttendance(r.Context(), month.Start(), month.End())
	if err != nil {
		h.writeStoreError(w, "failed to list attendance", err)
		return generic.YearMonth{}, nil, false
	}

	start := time.Now()
	results := h.Aggregator.Aggregate(users, records, month)
	h.Metrics.RecordAggregateLatency(time.Since(start))
	for _, res := range results {
		h.Metrics.RecordValidation(res)
	}
	return month, results, true
}

// =============================================================================
// DASHBOARD HANDLERS
// =============================================================================

// ListAlerts reconciles scheduled visits against attendance for dates in
// [?from, ?asOf). asOf defaults to today in the facility time zone and from
// to LookbackDays before it.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	asOf := generic.Today(h.Location)
	if s := r.URL.Query().Get("asOf"); s != "" {
		d, err := generic.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid asOf", err)
			return
		}
		asOf = d
	}
	from := asOf.AddDays(-h.LookbackDays)
	if s := r.URL.Query().Get("from"); s != "" {
		d, err := generic.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from", err)
			return
		}
		from = d
	}
	if asOf.Before(from) {
		writeError(w, http.StatusBadRequest, "asOf is before from", generic.ErrInvalidPeriod)
		return
	}

	// asOf itself is never flagged, so the store window stops the day before.
	until := asOf.AddDays(-1)
	events, err := h.Store.ListEvents(r.Context(), from, until)
	if err != nil {
		h.writeStoreError(w, "failed to list events", err)
		return
	}
	records, err := h.Store.ListAttendance(r.Context(), from, until)
	if err != nil {
		h.writeStoreError(w, "failed to list attendance", err)
		return
	}

	anomalies := attendance.ReconcileSince(events, records, from, asOf)
	if anomalies == nil {
		anomalies = []attendance.Anomaly{}
	}
	writeJSON(w, http.StatusOK, AlertsDTO{
		From:      from,
		AsOf:      asOf,
		Counts:    attendance.CountByKind(anomalies),
		Anomalies: anomalies,
	})
}

// ListAlertRuns returns recent scheduler passes, newest first.
func (h *Handler) ListAlertRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListAlertRuns(r.Context(), limit)
	if err != nil {
		h.writeStoreError(w, "failed to list alert runs", err)
		return
	}
	if runs == nil {
		runs = []store.AlertRun{}
	}
	writeJSON(w, http.StatusOK, AlertRunsDTO{Runs: runs})
}

// GetStats returns the usage tables of fiscal year {fiscalYear}.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	fy, err := strconv.Atoi(chi.URLParam(r, "fiscalYear"))
	if err != nil || fy < 1900 || fy > 9999 {
		writeError(w, http.StatusBadRequest, "invalid fiscal year", err)
		return
	}

	period := h.Calendar.PeriodOf(fy)
	records, err := h.Store.ListAttendance(r.Context(), period.Start, period.End)
	if err != nil {
		h.writeStoreError(w, "failed to list attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, attendance.UsageStats(records, h.Calendar, fy))
}

// =============================================================================
// HELPERS
// =============================================================================

// monthParam parses a YYYY-MM query value; empty means the current month.
func (h *Handler) monthParam(w http.ResponseWriter, s string) (generic.YearMonth, bool) {
	if s == "" {
		return generic.Today(h.Location).YearMonth(), true
	}
	month, err := generic.ParseYearMonth(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid month", err)
		return generic.YearMonth{}, false
	}
	return month, true
}

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

// writeStoreError maps store errors to a status: 404 for missing users or
// records, 400 for invalid input, 500 for everything else.
func (h *Handler) writeStoreError(w http.ResponseWriter, message string, err error) {
	switch {
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Logger.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
