package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Agent metrics
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_runs_total",
			Help: "Convergence runs by outcome (success, nochange, failure)",
		},
		[]string{"result"},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetd_run_duration_seconds",
			Help:    "Convergence run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	ModuleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetd_module_duration_seconds",
			Help:    "Per-module deploy duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"module"},
	)

	ModulesChanged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_module_changes_total",
			Help: "Number of runs in which a module changed the host",
		},
		[]string{"module"},
	)

	LastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetd_last_run_timestamp_seconds",
			Help: "Unix time the last convergence run finished",
		},
	)

	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_polls_total",
			Help: "Control-channel polls by returned command or error",
		},
		[]string{"result"},
	)

	ReportsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_reports_sent_total",
			Help: "Reports sent to the server by reason",
		},
		[]string{"reason"},
	)

	// Server metrics
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetd_agents_total",
			Help: "Known agents by last reported status",
		},
		[]string{"status"},
	)

	CommandsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_commands_enqueued_total",
			Help: "Commands queued for agents",
		},
		[]string{"command"},
	)

	ReportsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_reports_received_total",
			Help: "Reports received from agents by reason",
		},
		[]string{"reason"},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetd_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetd_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(ModuleDuration)
	prometheus.MustRegister(ModulesChanged)
	prometheus.MustRegister(LastRunTimestamp)
	prometheus.MustRegister(PollsTotal)
	prometheus.MustRegister(ReportsSent)
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(CommandsEnqueued)
	prometheus.MustRegister(ReportsReceived)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
