package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthProbeAcceptsAnyResponse(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	require.NoError(t, NewHealthProbe(srv.URL+"/", 0).Probe(context.Background()))
	assert.Equal(t, http.MethodHead, method)
	assert.Equal(t, "/api/health", path)
}

func TestHealthProbeTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := NewHealthProbe(srv.URL, 50*time.Millisecond).Probe(context.Background())
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHealthProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	assert.Error(t, NewHealthProbe(url, time.Second).Probe(context.Background()))
}

func TestDefaultProbeTimeout(t *testing.T) {
	assert.Equal(t, 3*time.Second, NewHealthProbe("http://localhost", 0).timeout)
}
