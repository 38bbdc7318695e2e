package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/api"
	"github.com/BaSui01/counselflow/internal/metrics"
)

type stubLatency map[string]metrics.StageSummary

func (s stubLatency) Snapshot() map[string]metrics.StageSummary { return s }

func TestHealthHandler_Healthz(t *testing.T) {
	h := NewHealthHandler("1.2.3", nil, zap.NewNop())
	w := httptest.NewRecorder()
	h.HandleHealthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp api.HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
}

func TestHealthHandler_Ready(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		wantStatus int
		want       string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{"all pass", []HealthCheck{
			NewPingCheck("redis", func(context.Context) error { return nil }),
			NewPingCheck("database", func(context.Context) error { return nil }),
		}, http.StatusOK, "ok"},
		{"one fails", []HealthCheck{
			NewPingCheck("redis", func(context.Context) error { return nil }),
			NewPingCheck("qdrant", func(context.Context) error { return errors.New("connection refused") }),
		}, http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("", nil, nil)
			for _, c := range tt.checks {
				h.RegisterCheck(c)
			}
			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp api.HealthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checks))
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, "fail", resp.Checks["qdrant"].Status)
				assert.Equal(t, "connection refused", resp.Checks["qdrant"].Message)
			}
		})
	}
}

func TestHealthHandler_ReadyRespectsTimeout(t *testing.T) {
	h := NewHealthHandler("", nil, nil)
	h.timeout = 20 * time.Millisecond
	h.RegisterCheck(NewPingCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHealthHandler_ConcurrentReady(t *testing.T) {
	h := NewHealthHandler("", nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.RegisterCheck(NewPingCheck("c", func(context.Context) error { return nil }))
		}()
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		}()
	}
	wg.Wait()
	assert.Len(t, h.checks, 10)
}

func TestHealthHandler_Latency(t *testing.T) {
	h := NewHealthHandler("", stubLatency{"Analyzing": {Count: 2, AvgMS: 12.5, MaxMS: 20, P95MS: 20}}, nil)
	w := httptest.NewRecorder()
	h.HandleLatency(w, httptest.NewRequest(http.MethodGet, "/metrics/latency", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Latency map[string]metrics.StageSummary `json:"latency"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, int64(2), body.Latency["Analyzing"].Count)

	w = httptest.NewRecorder()
	NewHealthHandler("", nil, nil).HandleLatency(w, httptest.NewRequest(http.MethodGet, "/metrics/latency", nil))
	assert.JSONEq(t, `{"latency":{}}`, w.Body.String())
}

func TestHealthHandler_Version(t *testing.T) {
	h := NewHealthHandler("1.0.0", nil, nil)
	w := httptest.NewRecorder()
	h.HandleVersion("2026-01-01T00:00:00Z", "abc123")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1.0.0", data["version"])
	assert.Equal(t, "abc123", data["git_commit"])
}
