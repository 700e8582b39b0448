package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func probe(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, metrics.ProbeStatus) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, nil))

	var st metrics.ProbeStatus
	if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound && path != "/metrics" {
		require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	}
	return w, st
}

func TestHealthServerRoutes(t *testing.T) {
	metrics.SetCritical()
	h := NewHealthServer(nil).Handler()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodPost, "/health", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/ready", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nonexistent", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w, _ := probe(t, h, tt.method, tt.path)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestReadyProbesStorage(t *testing.T) {
	metrics.SetCritical("storage")
	t.Cleanup(func() {
		metrics.SetCritical()
		metrics.UpdateComponent("storage", true, "")
	})

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	h := NewHealthServer(store).Handler()

	w, st := probe(t, h, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, metrics.StatusReady, st.Status)

	require.NoError(t, store.Close())
	w, st = probe(t, h, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, metrics.StatusNotReady, st.Status)
	assert.Equal(t, "waiting for storage", st.Message)

	// Liveness only degrades
	w, st = probe(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, metrics.StatusDegraded, st.Status)
}

func TestServerMountsProbes(t *testing.T) {
	metrics.SetCritical()
	_, _, ts := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func BenchmarkHealth(b *testing.B) {
	h := NewHealthServer(nil).Handler()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
}
