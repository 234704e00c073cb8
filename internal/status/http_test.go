package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybertec-postgresql/fitlog_sync/internal/sync"
)

func TestStatusEndpoint(t *testing.T) {
	syncer := &stubSyncer{result: successResult()}
	tr, _ := newTestTracker(syncer, &switchProbe{})
	tr.poll(t.Context())

	rec := httptest.NewRecorder()
	NewHandler(tr).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["isOnline"])
	assert.Equal(t, map[string]any{"workout": 2.0, "lifestyle": 1.0}, body["pendingByCollection"])
	assert.NotNil(t, body["lastSyncTime"])
}

func TestSyncEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		result sync.Result
		code   int
	}{
		{"success", successResult(), http.StatusOK},
		{"partial", sync.Result{Errors: []string{"workout 1: boom"}}, http.StatusOK},
		{"unauthenticated", sync.Result{Fatal: sync.ErrAuth}, http.StatusUnauthorized},
		{"busy", sync.Result{Fatal: sync.ErrInProgress}, http.StatusConflict},
		{"offline", sync.Result{Fatal: sync.ErrNetwork}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTestTracker(&stubSyncer{result: tt.result}, &switchProbe{})
			rec := httptest.NewRecorder()
			NewHandler(tr).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/sync", nil))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestSyncEndpointRejectsGet(t *testing.T) {
	tr, _ := newTestTracker(&stubSyncer{}, &switchProbe{})
	rec := httptest.NewRecorder()
	NewHandler(tr).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sync", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	tr, _ := newTestTracker(&stubSyncer{result: successResult()}, &switchProbe{})
	tr.poll(t.Context())
	h := NewHandler(tr)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "fitlog_sync_tracker_pending_records"))
}
