package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kizuna/dayservice/attendance"
	"github.com/kizuna/dayservice/billing"
	"github.com/kizuna/dayservice/metrics"
)

func TestCollector_RecordValidation(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordValidation(billing.ValidationResult{IsOverLimit: true, IsExpired: true, MissingFields: []string{}})
	c.RecordValidation(billing.ValidationResult{MissingFields: []string{"cityNo"}})
	c.RecordValidation(billing.ValidationResult{MissingFields: []string{}})

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		if m := mf.GetMetric(); len(m) == 1 && m[0].GetCounter() != nil {
			values[mf.GetName()] = m[0].GetCounter().GetValue()
		}
	}

	assert.Equal(t, float64(3), values["dayservice_validations_total"])
	assert.Equal(t, float64(1), values["dayservice_validation_over_limit_total"])
	assert.Equal(t, float64(1), values["dayservice_validation_expired_total"])
	assert.Equal(t, float64(1), values["dayservice_validation_missing_fields_total"])
}

func TestCollector_RecordAnomaliesResetsMissingKinds(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordAnomalies(map[attendance.AnomalyKind]int{
		attendance.AnomalyMissingDeparture:  2,
		attendance.AnomalyMissingAttendance: 5,
	})
	c.RecordAnomalies(map[attendance.AnomalyKind]int{attendance.AnomalyMissingAttendance: 1})

	count, err := testutil.GatherAndCount(reg, "dayservice_open_anomalies")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	families, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "dayservice_open_anomalies" {
			continue
		}
		for _, m := range mf.GetMetric() {
			got[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"missing_departure": 0, "missing_attendance": 1}, got)
}

func TestCollector_LabelledCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordNormalizeReject("date")
	c.RecordNormalizeReject("date")
	c.RecordHTTPStatus(http.StatusBadRequest)
	c.RecordAggregateLatency(15 * time.Millisecond)

	count, err := testutil.GatherAndCount(reg, "dayservice_normalize_rejects_total", "dayservice_http_responses_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(reg, "dayservice_aggregate_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestHandler_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	c.RecordHTTPStatus(http.StatusOK)

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `dayservice_http_responses_total{status_code="200"} 1`)
}

func TestNop_ImplementsRecorder(t *testing.T) {
	var r metrics.Recorder = metrics.Nop{}
	r.RecordValidation(billing.ValidationResult{})
	r.RecordAnomalies(nil)
}
