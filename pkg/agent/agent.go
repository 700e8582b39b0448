package agent

import (
	"context"
	"time"

	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/reconciler"
	"github.com/cuemby/fleetd/pkg/report"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultBackoff is the wait after a failed poll
const DefaultBackoff = 10 * time.Second

// FinalUploadTimeout bounds the report and status that close a run. They
// are sent even when the run was interrupted by a signal.
const FinalUploadTimeout = 30 * time.Second

// Controller is the agent's side of the control channel
type Controller interface {
	Poll(ctx context.Context) (types.Command, error)
	SendStatus(ctx context.Context, status types.AgentStatus) error
	SendReport(ctx context.Context, reason types.ReportReason, content string) error
}

// Converger performs convergence runs
type Converger interface {
	Run(ctx context.Context, role string) (*reconciler.Result, error)
	Last() *reconciler.Result
}

// Config configures an Agent
type Config struct {
	Hostname string
	Role     string
	Once     bool
	LockPath string
	Backoff  time.Duration
}

// Agent is the per-host control loop
type Agent struct {
	cfg    Config
	ctl    Controller
	conv   Converger
	logger zerolog.Logger

	// Sleep waits between failed polls; replaced in tests
	Sleep func(ctx context.Context, d time.Duration) error
}

// New creates an agent
func New(cfg Config, ctl Controller, conv Converger) *Agent {
	if cfg.LockPath == "" {
		cfg.LockPath = DefaultLockPath
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Agent{
		cfg:    cfg,
		ctl:    ctl,
		conv:   conv,
		logger: log.WithComponent("agent").With().Str("host", cfg.Hostname).Str("role", cfg.Role).Logger(),
		Sleep:  sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run holds the host lock and runs the control loop until SHUTDOWN, ctx
// cancellation or, in single-shot mode, the end of the one run. In
// single-shot mode the run error is returned.
func (a *Agent) Run(ctx context.Context) error {
	lock, err := AcquireLock(a.cfg.LockPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to release host lock")
		}
	}()

	a.status(ctx, types.AgentStatusStandby)

	if a.cfg.Once {
		a.logger.Info().Msg("Single-shot run")
		return a.converge(ctx)
	}

	a.logger.Info().Msg("Waiting for commands")
	for {
		cmd, err := a.ctl.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.PollsTotal.WithLabelValues("error").Inc()
			metrics.UpdateComponent("controller", false, err.Error())
			a.logger.Warn().Err(err).Dur("backoff", a.cfg.Backoff).Msg("Poll failed")
			if err := a.Sleep(ctx, a.cfg.Backoff); err != nil {
				return nil
			}
			continue
		}
		metrics.PollsTotal.WithLabelValues(string(cmd)).Inc()
		metrics.UpdateComponent("controller", true, "")

		switch cmd {
		case types.CommandTimeout:
			continue
		case types.CommandRun:
			// Failures are already reported; the loop keeps going
			_ = a.converge(ctx)
		case types.CommandReport:
			a.systemStatus(ctx)
		case types.CommandShutdown:
			a.logger.Info().Msg("Shutdown requested")
			a.status(ctx, types.AgentStatusShutdown)
			return nil
		default:
			a.logger.Warn().Str("command", string(cmd)).Msg("Ignoring unknown command")
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// converge runs once and sends exactly one report for it
func (a *Agent) converge(ctx context.Context) error {
	a.status(ctx, types.AgentStatusUpdating)

	res, err := a.conv.Run(ctx, a.cfg.Role)
	if res == nil {
		now := time.Now().UTC()
		res = &reconciler.Result{Role: a.cfg.Role, Started: now, Finished: now, Err: err}
	}
	if err != nil && res.Err == nil {
		res.Err = err
	}
	if res.Err != nil {
		metrics.UpdateComponent("convergence", false, res.Err.Error())
	} else {
		metrics.UpdateComponent("convergence", true, "")
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FinalUploadTimeout)
	defer cancel()
	a.send(flushCtx, res.Reason(), res)
	a.status(flushCtx, types.AgentStatusStandby)
	return res.Err
}

// systemStatus answers REPORT with the last run's snapshot
func (a *Agent) systemStatus(ctx context.Context) {
	last := a.conv.Last()
	if last == nil {
		a.logger.Info().Msg("No run yet, nothing to report")
		return
	}
	a.send(ctx, types.ReportSystemStatus, last)
}

func (a *Agent) send(ctx context.Context, reason types.ReportReason, res *reconciler.Result) {
	content, err := report.Encode(res.Snapshot(a.cfg.Hostname))
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to encode snapshot, reporting without it")
		content = ""
	}
	if err := a.ctl.SendReport(ctx, reason, content); err != nil {
		a.logger.Error().Err(err).Str("reason", string(reason)).Msg("Failed to send report")
		return
	}
	metrics.ReportsSent.WithLabelValues(string(reason)).Inc()
	a.logger.Info().Str("reason", string(reason)).Msg("Report sent")
}

func (a *Agent) status(ctx context.Context, status types.AgentStatus) {
	if err := a.ctl.SendStatus(ctx, status); err != nil {
		a.logger.Warn().Err(err).Str("status", string(status)).Msg("Failed to send status")
		return
	}
	a.logger.Debug().Str("status", string(status)).Msg("Status sent")
}
