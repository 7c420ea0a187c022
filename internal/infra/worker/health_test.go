package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHealthServer(t *testing.T) (*HealthServer, *Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	return NewHealthServer("127.0.0.1:0", slog.New(slog.NewTextHandler(io.Discard, nil)), reg), metrics
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthServer_Liveness(t *testing.T) {
	hs, _ := newTestHealthServer(t)

	rec := get(t, hs.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestHealthServer_Readiness(t *testing.T) {
	hs, _ := newTestHealthServer(t)
	h := hs.Handler()

	rec := get(t, h, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"not ready"}`, rec.Body.String())

	hs.SetReady(true)
	rec = get(t, h, "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	hs.SetReady(false)
	rec = get(t, h, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthServer_Metrics(t *testing.T) {
	hs, metrics := newTestHealthServer(t)
	metrics.RecordRun(StatusSuccess, time.Second)

	rec := get(t, hs.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `worker_ingest_runs_total{status="success"} 1`)
}

func TestHealthServer_RejectsOtherMethods(t *testing.T) {
	hs, _ := newTestHealthServer(t)
	rec := httptest.NewRecorder()
	hs.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthServer_StartAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	hs := NewHealthServer(addr, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- hs.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, http.ErrServerClosed))
	case <-time.After(10 * time.Second):
		t.Fatal("health server did not stop")
	}
}
