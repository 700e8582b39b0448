/*
Package log provides structured logging for fleetd using zerolog.

A single global logger is configured once at process start via Init. Packages
derive component loggers from it so every line carries the subsystem that
emitted it:

	logger := log.WithComponent("packages")
	logger.Info().Str("package", "nginx").Msg("queued for install")

Convergence code uses WithModule so a run's output can be filtered per module:

	logger := log.WithModule("deploy", "nova-compute")

# Output

JSON output is meant for journald or log shippers. Console output is the
default for interactive `fleetd agent --once` runs:

	10:30AM INF file updated component=files module=ntp target=/etc/ntp.conf

# Levels

Debug logs every drift comparison, info logs applied changes and state
transitions, warn logs recovered transport failures, error logs failed runs.
*/
package log
