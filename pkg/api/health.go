package api

import (
	"net/http"
	"time"

	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/storage"
	"github.com/go-chi/chi/v5"
)

// HealthServer serves /health, /ready and /metrics. The coordination
// server mounts its routes; agents run it standalone on their metrics
// address.
type HealthServer struct {
	store storage.Store
}

// NewHealthServer creates the probe handlers. A nil store skips the
// storage probe.
func NewHealthServer(store storage.Store) *HealthServer {
	return &HealthServer{store: store}
}

// Routes registers the probe endpoints on r. Other methods get a 405.
func (hs *HealthServer) Routes(r chi.Router) {
	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", hs.ready)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
}

// Handler returns a router carrying only the probe endpoints
func (hs *HealthServer) Handler() http.Handler {
	r := chi.NewRouter()
	hs.Routes(r)
	return r
}

// Start serves the probe endpoints on addr until the listener fails
func (hs *HealthServer) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           hs.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return srv.ListenAndServe()
}

func (hs *HealthServer) ready(w http.ResponseWriter, r *http.Request) {
	if hs.store != nil {
		_, err := hs.store.ListStatuses()
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		metrics.UpdateComponent("storage", err == nil, msg)
	}
	metrics.ReadyHandler()(w, r)
}
