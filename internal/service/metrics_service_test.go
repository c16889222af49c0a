package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServiceRecordsWorkflowCounters(t *testing.T) {
	metrics := NewMetricsService()

	metrics.RecordSubmission("change")
	metrics.RecordSubmission("change")
	metrics.RecordDecision("registration", "approve", decisionResultSuccess)
	metrics.RecordDecision("", "reject", "ALREADY_DECIDED")
	metrics.SetPending("change", 3)
	metrics.ObserveHTTPRequest(http.MethodGet, "/api/v1/admin/pending", http.StatusOK, 10*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.submissions.WithLabelValues("change")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.decisions.WithLabelValues("registration", "approve", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.decisions.WithLabelValues("unknown", "reject", "already_decided")))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.pending.WithLabelValues("change")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requestTotal.WithLabelValues(http.MethodGet, "/api/v1/admin/pending", "200")))

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "approval_submissions_total")
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var metrics *MetricsService
	metrics.RecordSubmission("change")
	metrics.RecordDecision("change", "approve", "success")
	metrics.SetPending("change", 1)
	metrics.RecordAuditDropped()
	metrics.RecordCacheOperation(true, time.Millisecond)
	assert.Nil(t, metrics.Registry())

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
