package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetProbes(t *testing.T, version string, critical ...string) {
	t.Helper()
	registry = newProbes()
	registry.version = version
	registry.critical = critical
	t.Cleanup(func() { registry = newProbes() })
}

func TestLivenessDegrades(t *testing.T) {
	resetProbes(t, "1.0.0")
	UpdateComponent("controller", true, "")
	UpdateComponent("convergence", true, "")

	st := Liveness()
	assert.Equal(t, StatusHealthy, st.Status)
	assert.Equal(t, map[string]string{"controller": "ok", "convergence": "ok"}, st.Components)
	assert.Equal(t, "1.0.0", st.Version)

	UpdateComponent("controller", false, "connection refused")
	st = Liveness()
	assert.Equal(t, StatusDegraded, st.Status)
	assert.True(t, strings.HasPrefix(st.Components["controller"], "failing since "))
	assert.True(t, strings.HasSuffix(st.Components["controller"], ": connection refused"))
}

func TestUpdateComponentKeepsSinceUntilFlip(t *testing.T) {
	resetProbes(t, "")
	UpdateComponent("controller", false, "first")
	first := registry.components["controller"].since

	time.Sleep(5 * time.Millisecond)
	UpdateComponent("controller", false, "second")
	assert.Equal(t, first, registry.components["controller"].since)
	assert.Equal(t, "second", registry.components["controller"].message)

	UpdateComponent("controller", true, "")
	assert.True(t, registry.components["controller"].since.After(first))
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name        string
		components  map[string]bool
		wantStatus  string
		wantMessage string
	}{
		{"all ready", map[string]bool{"storage": true, "controller": true}, StatusReady, ""},
		{"missing critical", map[string]bool{"controller": true}, StatusNotReady, "waiting for storage"},
		{"critical failing", map[string]bool{"storage": false, "controller": false}, StatusNotReady, "waiting for controller, storage"},
		{"other components ignored", map[string]bool{"storage": true, "controller": true, "convergence": false}, StatusReady, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetProbes(t, "", "storage", "controller")
			for name, healthy := range tt.components {
				UpdateComponent(name, healthy, "down")
			}

			st := Readiness()
			assert.Equal(t, tt.wantStatus, st.Status)
			assert.Equal(t, tt.wantMessage, st.Message)
			assert.Len(t, st.Components, 2)
		})
	}
}

func TestProbeHandlers(t *testing.T) {
	resetProbes(t, "test", "storage")
	UpdateComponent("controller", false, "timeout")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var st ProbeStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, StatusDegraded, st.Status)
	assert.Equal(t, "test", st.Version)
	assert.False(t, st.CheckedAt.IsZero())

	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	UpdateComponent("storage", true, "")
	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
