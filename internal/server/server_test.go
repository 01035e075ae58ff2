package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angrmgmt/cliparino/internal/health"
	"github.com/angrmgmt/cliparino/internal/logger"
)

func newTestServer(t *testing.T) (*Server, *health.Reporter) {
	t.Helper()
	log := logger.New(logger.Config{Level: slog.LevelError})
	registry := prometheus.NewRegistry()
	reporter := health.NewReporter(log, registry)
	return New(0, reporter, registry, time.Second, log), reporter
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestPlayerPageServed(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(s, "/player?clip=AbcDef")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "clips.twitch.tv/embed")
}

func TestHealthEndpointReflectsComponents(t *testing.T) {
	s, reporter := newTestServer(t)

	reporter.SetStatus("obs", health.StatusHealthy, nil)
	reporter.SetStatus("chat_events", health.StatusHealthy, nil)

	rec := get(s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status     string                            `json:"status"`
		Instance   string                            `json:"instance"`
		Components map[string]health.ComponentHealth `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, logger.GetInstanceID(), body.Instance)
	assert.Len(t, body.Components, 2)

	reporter.SetStatus("obs", health.StatusUnhealthy, errors.New("gone"))
	rec = get(s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpointServed(t *testing.T) {
	s, reporter := newTestServer(t)
	reporter.SetStatus("obs", health.StatusHealthy, nil)

	rec := get(s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cliparino_component_health")
}
