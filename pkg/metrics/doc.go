/*
Package metrics exposes fleetd's Prometheus metrics and probe handlers.

Agent-side collectors count convergence runs by outcome, time runs and
individual modules, and count polls and reports. Server-side collectors
count queued commands and received reports; Collector refreshes the
per-status agent gauge from the store.

Timer wraps the common pattern of observing an elapsed duration:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RunDuration)

HealthHandler and ReadyHandler serve /health and /ready from component
states recorded with UpdateComponent. A failing component degrades
/health without failing it; /ready answers 503 until every component
named by SetCritical is healthy. The server marks "storage" critical,
a long-running agent marks "controller" critical.
*/
package metrics
