package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Probe states
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// ProbeStatus is the JSON body of /health and /ready
type ProbeStatus struct {
	Status     string            `json:"status"`
	Message    string            `json:"message,omitempty"`
	Components map[string]string `json:"components,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime"`
	CheckedAt  time.Time         `json:"checked_at"`
}

type component struct {
	healthy bool
	message string
	since   time.Time
}

func (c component) String() string {
	if c.healthy {
		return "ok"
	}
	return "failing since " + c.since.UTC().Format(time.RFC3339) + ": " + c.message
}

type probes struct {
	mu         sync.RWMutex
	components map[string]component
	critical   []string
	started    time.Time
	version    string
}

var registry = newProbes()

func newProbes() *probes {
	return &probes{
		components: make(map[string]component),
		started:    time.Now(),
	}
}

// SetVersion sets the version reported by both probes
func SetVersion(version string) {
	registry.mu.Lock()
	registry.version = version
	registry.mu.Unlock()
}

// SetCritical names the components /ready waits on
func SetCritical(names ...string) {
	registry.mu.Lock()
	registry.critical = append([]string(nil), names...)
	registry.mu.Unlock()
}

// UpdateComponent records the state of a component. The "since" time only
// moves when the state flips.
func UpdateComponent(name string, healthy bool, message string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	prev, ok := registry.components[name]
	c := component{healthy: healthy, message: message, since: time.Now()}
	if ok && prev.healthy == healthy {
		c.since = prev.since
	}
	registry.components[name] = c
}

func (p *probes) status(state string) ProbeStatus {
	return ProbeStatus{
		Status:     state,
		Components: make(map[string]string),
		Version:    p.version,
		Uptime:     time.Since(p.started).Round(time.Second).String(),
		CheckedAt:  time.Now().UTC(),
	}
}

// Liveness lists every component. A failing component degrades the
// process but does not make it dead.
func Liveness() ProbeStatus {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	st := registry.status(StatusHealthy)
	for name, c := range registry.components {
		st.Components[name] = c.String()
		if !c.healthy {
			st.Status = StatusDegraded
		}
	}
	return st
}

// Readiness requires every critical component to be registered and healthy
func Readiness() ProbeStatus {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	st := registry.status(StatusReady)
	var waiting []string
	for _, name := range registry.critical {
		c, ok := registry.components[name]
		switch {
		case !ok:
			st.Components[name] = "not registered"
		case !c.healthy:
			st.Components[name] = c.String()
		default:
			st.Components[name] = "ok"
			continue
		}
		waiting = append(waiting, name)
	}

	if len(waiting) > 0 {
		sort.Strings(waiting)
		st.Status = StatusNotReady
		st.Message = "waiting for " + strings.Join(waiting, ", ")
	}
	return st
}

func writeProbe(w http.ResponseWriter, code int, st ProbeStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(st)
}

// HealthHandler serves /health. It answers 200 while the process can serve.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeProbe(w, http.StatusOK, Liveness())
	}
}

// ReadyHandler serves /ready
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Readiness()
		code := http.StatusOK
		if st.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeProbe(w, code, st)
	}
}
