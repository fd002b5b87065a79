package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable/internal/service"
)

func healthRouter(h *HealthHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", h.Prometheus)
	return router
}

func TestHealthHandlerReady(t *testing.T) {
	up := PingFunc(func(ctx context.Context) error { return nil })
	down := PingFunc(func(ctx context.Context) error { return errors.New("connection refused") })

	cases := []struct {
		name   string
		deps   map[string]Pinger
		status int
		checks map[string]string
	}{
		{name: "all up", deps: map[string]Pinger{"postgres": up, "redis": up}, status: http.StatusOK, checks: map[string]string{"postgres": "up", "redis": "up"}},
		{name: "redis down", deps: map[string]Pinger{"postgres": up, "redis": down}, status: http.StatusServiceUnavailable, checks: map[string]string{"postgres": "up", "redis": "down"}},
		{name: "cache disabled", deps: map[string]Pinger{"postgres": up, "redis": nil}, status: http.StatusOK, checks: map[string]string{"postgres": "up"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := healthRouter(NewHealthHandler(nil, tc.deps, nil))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			require.Equal(t, tc.status, w.Code)
			var body struct {
				Checks map[string]string `json:"checks"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.checks, body.Checks)
		})
	}
}

func TestHealthHandlerLivenessAndMetrics(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.ObserveGeneration("success", 0, 10, 1)
	router := healthRouter(NewHealthHandler(metrics, nil, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `timetable_generations_total{outcome="success"} 1`))

	noMetrics := healthRouter(NewHealthHandler(nil, nil, nil))
	w = httptest.NewRecorder()
	noMetrics.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
