package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/fleetd/pkg/events"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/storage"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const (
	// DefaultPollTimeout applies when a poll names no timeout
	DefaultPollTimeout = 30 * time.Second

	// MaxPollTimeout caps how long a poll may be held open
	MaxPollTimeout = 60 * time.Second

	// DefaultReportRetention is how many reports are kept per host
	DefaultReportRetention = 100

	maxBodyBytes = 16 << 20
)

// Options tunes a Server
type Options struct {
	MaxPollTimeout  time.Duration
	ReportRetention int
}

// Server is the coordination server agents poll and report to
type Server struct {
	store  storage.Store
	queue  *CommandQueue
	broker *events.Broker
	health *HealthServer
	opts   Options
	router chi.Router
	logger zerolog.Logger

	mu       sync.Mutex
	servers  []*http.Server
	done     chan struct{}
	stopOnce sync.Once
}

// commandBody is the JSON body carrying a command
type commandBody struct {
	Command types.Command `json:"command"`
}

// errorBody is the JSON body of every error response
type errorBody struct {
	Error string `json:"error"`
}

// NewServer creates a new API server
func NewServer(store storage.Store, opts Options) *Server {
	if opts.MaxPollTimeout <= 0 {
		opts.MaxPollTimeout = MaxPollTimeout
	}
	if opts.ReportRetention <= 0 {
		opts.ReportRetention = DefaultReportRetention
	}

	s := &Server{
		store:  store,
		queue:  NewCommandQueue(),
		broker: events.NewBroker(),
		health: NewHealthServer(store),
		opts:   opts,
		logger: log.WithComponent("api"),
		done:   make(chan struct{}),
	}
	s.router = s.routes()
	s.broker.Start()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestLogger)
	r.Use(Instrument)

	s.health.Routes(r)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/agents", s.listAgents)
		r.Get("/agents/{host}/command", s.pollCommand)
		r.Post("/agents/{host}/command", s.enqueueCommand)
		r.Get("/agents/{host}/reports", s.listReports)
		r.Post("/status", s.postStatus)
		r.Post("/reports", s.postReport)
		r.Get("/events", s.streamEvents)
	})
	return r
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Queue exposes the per-host command queue
func (s *Server) Queue() *CommandQueue {
	return s.queue
}

// Events exposes the server's event broker
func (s *Server) Events() *events.Broker {
	return s.broker
}

// Start serves the full API on addr. It blocks until the server stops.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("API listening")
	return s.serve(lis, s.router)
}

// StartReadOnly serves a read-only view of the API on a unix socket
func (s *Server) StartReadOnly(socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if err := os.Chmod(socketPath, 0660); err != nil {
		lis.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}
	s.logger.Info().Str("socket", socketPath).Msg("Read-only API listening")
	return s.serve(lis, ReadOnly(s.router))
}

func (s *Server) serve(lis net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:     h,
		ReadTimeout: 10 * time.Second,
		// Polls are held open up to the max poll window
		WriteTimeout: s.opts.MaxPollTimeout + 10*time.Second,
		IdleTimeout:  90 * time.Second,
	}
	s.mu.Lock()
	s.servers = append(s.servers, srv)
	s.mu.Unlock()

	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops every listener and ends event streams
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.done)
		s.broker.Stop()
	})

	s.mu.Lock()
	servers := s.servers
	s.servers = nil
	s.mu.Unlock()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// pollTimeout reads ?timeout=<seconds>, clamped to the max poll window
func (s *Server) pollTimeout(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("timeout")
	if raw == "" {
		return min(DefaultPollTimeout, s.opts.MaxPollTimeout), nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("invalid timeout %q", raw)
	}
	return min(time.Duration(secs)*time.Second, s.opts.MaxPollTimeout), nil
}

func (s *Server) pollCommand(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	timeout, err := s.pollTimeout(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	cmd, ok := s.queue.Next(ctx, host)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.logger.Info().Str("host", host).Str("command", string(cmd)).Msg("Command delivered")
	s.broker.Publish(&events.Event{Type: events.EventCommandDelivered, Host: host, Message: string(cmd)})
	writeJSON(w, http.StatusOK, commandBody{Command: cmd})
}

func (s *Server) enqueueCommand(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	var body commandBody
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if !body.Command.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid command %q", body.Command))
		return
	}

	if s.queue.Enqueue(host, body.Command) {
		metrics.CommandsEnqueued.WithLabelValues(string(body.Command)).Inc()
		s.logger.Info().Str("host", host).Str("command", string(body.Command)).Msg("Command queued")
		s.broker.Publish(&events.Event{Type: events.EventCommandQueued, Host: host, Message: string(body.Command)})
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"pending": s.queue.Pending(host)})
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.store.ListStatuses()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if statuses == nil {
		statuses = []types.StatusUpdate{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	host := chi.URLParam(r, "host")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	reports, err := s.store.ListReports(host, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reports == nil {
		reports = []types.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) postStatus(w http.ResponseWriter, r *http.Request) {
	var update types.StatusUpdate
	if err := decodeBody(w, r, &update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if update.Hostname == "" {
		writeError(w, http.StatusBadRequest, "hostname is required")
		return
	}
	switch update.Status {
	case types.AgentStatusStandby, types.AgentStatusUpdating, types.AgentStatusShutdown:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", update.Status))
		return
	}
	if update.Date.IsZero() {
		update.Date = time.Now().UTC()
	}

	if err := s.store.PutStatus(&update); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info().Str("host", update.Hostname).Str("status", string(update.Status)).Msg("Agent status")
	s.broker.Publish(&events.Event{Type: events.EventAgentStatus, Host: update.Hostname, Message: string(update.Status)})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postReport(w http.ResponseWriter, r *http.Request) {
	var report types.Report
	if err := decodeBody(w, r, &report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if report.Hostname == "" {
		writeError(w, http.StatusBadRequest, "hostname is required")
		return
	}
	switch report.Reason {
	case types.ReportUpdateSuccess, types.ReportUpdateNoChange, types.ReportUpdateFailure, types.ReportSystemStatus:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid reason %q", report.Reason))
		return
	}
	if report.Date.IsZero() {
		report.Date = time.Now().UTC()
	}

	if err := s.store.PutReport(&report); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if n, err := s.store.PruneReports(report.Hostname, s.opts.ReportRetention); err != nil {
		s.logger.Warn().Err(err).Str("host", report.Hostname).Msg("Failed to prune reports")
	} else if n > 0 {
		s.logger.Debug().Str("host", report.Hostname).Int("pruned", n).Msg("Pruned reports")
	}

	metrics.ReportsReceived.WithLabelValues(string(report.Reason)).Inc()
	s.logger.Info().Str("host", report.Hostname).Str("reason", string(report.Reason)).Msg("Report received")
	s.broker.Publish(&events.Event{Type: events.EventReportReceived, Host: report.Hostname, Message: string(report.Reason)})
	w.WriteHeader(http.StatusNoContent)
}

// streamEvents writes one JSON event per line until the client goes away.
// ?host= filters on one host.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	sub := s.broker.Subscribe(events.ForHost(r.URL.Query().Get("host")))
	defer s.broker.Unsubscribe(sub)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
