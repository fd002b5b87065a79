package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsServiceObserveGeneration(t *testing.T) {
	m := NewMetricsService()
	m.ObserveGeneration(outcomeSuccess, 120*time.Millisecond, 4200, 3.5)
	m.ObserveGeneration("infeasible", 5*time.Millisecond, 0, 0)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.generations.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.generations.WithLabelValues("infeasible")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.searchSteps))

	m.MoveJob("", "queued")
	m.MoveJob("queued", "running")
	assert.Equal(t, float64(0), testutil.ToFloat64(m.jobs.WithLabelValues("queued")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobs.WithLabelValues("running")))

	m.ObserveHTTPRequest(http.MethodPost, "/api/v1/schools/:schoolId/timetables/generate", http.StatusOK, time.Second)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "timetable_generations_total"))
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	assert.NotPanics(t, func() {
		m.ObserveGeneration(outcomeSuccess, time.Second, 1, 1)
		m.MoveJob("", "queued")
		m.RecordCacheOperation(true, time.Millisecond)
		m.ObserveHTTPRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
