/*
Package api implements the fleetd coordination server.

Agents long-poll the server for commands and post status transitions and
deployment reports back to it. Operators queue commands and read what
agents reported. Everything is JSON over HTTP, routed with chi:

	GET  /api/v1/agents                        latest status per host
	GET  /api/v1/agents/{host}/command         long-poll (204 when the window lapses)
	POST /api/v1/agents/{host}/command         queue RUN, REPORT or SHUTDOWN
	GET  /api/v1/agents/{host}/reports         stored reports, newest first
	POST /api/v1/status                        agent state transition
	POST /api/v1/reports                       deployment report
	GET  /api/v1/events[?host=]                NDJSON event stream
	GET  /health, /ready, /metrics             probes and Prometheus metrics

# Command queue

Each host has a FIFO of pending commands held in memory. A poll pops the
oldest command or waits until one is queued, up to the requested timeout
(capped at MaxPollTimeout). Queuing a command that is already pending for
the host is a no-op. Queues do not survive a restart; agents simply keep
polling.

# Listeners

Start serves the full API over TCP. StartReadOnly serves the same routes
on a unix socket behind the ReadOnly middleware, which refuses writes and
command polls, for local inspection tools.

# Events

Every status, report, queued and delivered command is published on an
events.Broker. /api/v1/events holds the connection open and writes one
JSON event per line until the client disconnects or the server stops.

Statuses and reports are persisted through a storage.Store; reports are
pruned to Options.ReportRetention per host.
*/
package api
