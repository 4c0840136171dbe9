// Package metrics collects and exposes Prometheus metrics for billing
// checks, attendance anomalies and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kizuna/dayservice/attendance"
	"github.com/kizuna/dayservice/billing"
)

// Recorder is what the API and the alert scheduler report to.
type Recorder interface {
	RecordValidation(result billing.ValidationResult)
	RecordAggregateLatency(duration time.Duration)
	RecordAnomalies(counts map[attendance.AnomalyKind]int)
	RecordNormalizeReject(field string)
	RecordHTTPStatus(statusCode int)
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	validations      prometheus.Counter
	overLimit        prometheus.Counter
	expired          prometheus.Counter
	missingFields    prometheus.Counter
	aggregateLatency prometheus.Histogram
	openAnomalies    *prometheus.GaugeVec
	normalizeRejects *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector registers every metric with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		validations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dayservice_validations_total",
			Help: "Per-user monthly subsidy validations performed.",
		}),
		overLimit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dayservice_validation_over_limit_total",
			Help: "Validations where usage exceeded the specified day count.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dayservice_validation_expired_total",
			Help: "Validations against an expired or undated certificate.",
		}),
		missingFields: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dayservice_validation_missing_fields_total",
			Help: "Validations with at least one required profile field missing.",
		}),
		aggregateLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dayservice_aggregate_duration_seconds",
			Help:    "Time to build one monthly billing report.",
			Buckets: prometheus.DefBuckets,
		}),
		openAnomalies: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dayservice_open_anomalies",
			Help: "Anomalies found by the latest reconciliation, by kind.",
		}, []string{"kind"}),
		normalizeRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dayservice_normalize_rejects_total",
			Help: "Raw documents rejected at normalization, by field.",
		}, []string{"field"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dayservice_http_responses_total",
			Help: "HTTP responses by status code.",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.validations,
		c.overLimit,
		c.expired,
		c.missingFields,
		c.aggregateLatency,
		c.openAnomalies,
		c.normalizeRejects,
		c.httpStatus,
	)

	return c
}

func (c *Collector) RecordValidation(r billing.ValidationResult) {
	c.validations.Inc()
	if r.IsOverLimit {
		c.overLimit.Inc()
	}
	if r.IsExpired {
		c.expired.Inc()
	}
	if len(r.MissingFields) > 0 {
		c.missingFields.Inc()
	}
}

func (c *Collector) RecordAggregateLatency(d time.Duration) {
	c.aggregateLatency.Observe(d.Seconds())
}

// RecordAnomalies replaces the gauge values; kinds absent from counts are
// reset to zero.
func (c *Collector) RecordAnomalies(counts map[attendance.AnomalyKind]int) {
	for _, kind := range []attendance.AnomalyKind{attendance.AnomalyMissingDeparture, attendance.AnomalyMissingAttendance} {
		c.openAnomalies.WithLabelValues(string(kind)).Set(float64(counts[kind]))
	}
}

func (c *Collector) RecordNormalizeReject(field string) {
	c.normalizeRejects.WithLabelValues(field).Inc()
}

func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// =============================================================================
// NOP
// =============================================================================

// Nop discards everything. Used when metrics are not wired, e.g. in tests.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordValidation(billing.ValidationResult)      {}
func (Nop) RecordAggregateLatency(time.Duration)           {}
func (Nop) RecordAnomalies(map[attendance.AnomalyKind]int) {}
func (Nop) RecordNormalizeReject(string)                   {}
func (Nop) RecordHTTPStatus(int)                           {}
