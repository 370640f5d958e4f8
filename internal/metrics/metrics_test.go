package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ckdtjq0011/saas-survey/internal/services"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metric:
		for _, mt := range f.GetMetric() {
			for _, lp := range mt.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metric
				}
			}
			return mt.GetCounter().GetValue()
		}
	}
	return 0
}

func TestSubmissionCounters(t *testing.T) {
	m := New()
	m.ResponseAccepted("S1")
	m.ResponseAccepted("S2")
	m.ResponseRejected(services.ReasonDuplicateResponse)
	m.ResponseRejected(services.ReasonDuplicateResponse)
	m.ResponseRejected(services.ReasonDeadlinePassed)
	m.StatisticsServed("S1")

	assert.Equal(t, 2.0, counterValue(t, m, "survey_responses_accepted_total", nil))
	assert.Equal(t, 2.0, counterValue(t, m, "survey_responses_rejected_total", map[string]string{"reason": "duplicate_response"}))
	assert.Equal(t, 1.0, counterValue(t, m, "survey_responses_rejected_total", map[string]string{"reason": "deadline_passed"}))
	assert.Equal(t, 1.0, counterValue(t, m, "survey_statistics_requests_total", nil))
}

func TestHandlerExposesHistogram(t *testing.T) {
	m := New()
	m.ObserveHTTP("POST", "POST /api/surveys/{id}/responses", "201", 15*time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rr.Code)
	assert.True(t, strings.Contains(string(body), `survey_http_request_duration_seconds_count{method="POST",route="POST /api/surveys/{id}/responses",status="201"} 1`))
	assert.Contains(t, string(body), "survey_boot_time_seconds")
}
