package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/fleetd/pkg/deploy"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/cuemby/fleetd/pkg/plan"
	"github.com/cuemby/fleetd/pkg/report"
	"github.com/cuemby/fleetd/pkg/repository"
	"github.com/cuemby/fleetd/pkg/system"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ModuleResult is the outcome of one module in a run
type ModuleResult struct {
	Name     string
	Kind     types.ModuleKind
	Variant  string
	Changed  bool
	Steps    []string
	Duration time.Duration
	Err      error
}

// Result is the outcome of one convergence run
type Result struct {
	ID             string
	Role           string
	Revision       string
	Changed        bool
	Modules        []ModuleResult
	Started        time.Time
	Finished       time.Time
	PackageManager string
	Err            error
}

// Reason maps the result onto the report reason the server expects
func (r *Result) Reason() types.ReportReason {
	switch {
	case r.Err != nil:
		return types.ReportUpdateFailure
	case r.Changed:
		return types.ReportUpdateSuccess
	default:
		return types.ReportUpdateNoChange
	}
}

// Snapshot builds the diagnostic payload of a report
func (r *Result) Snapshot(hostname string) *report.Snapshot {
	s := &report.Snapshot{
		ID:       r.ID,
		Hostname: hostname,
		Role:     r.Role,
		Revision: r.Revision,
		Changed:  r.Changed,
		Started:  r.Started,
		Finished: r.Finished,
		Host:     report.CollectHostFacts(r.PackageManager),
	}
	for _, m := range r.Modules {
		ms := report.ModuleSnapshot{
			Name:     m.Name,
			Kind:     string(m.Kind),
			Variant:  m.Variant,
			Changed:  m.Changed,
			Steps:    m.Steps,
			Duration: m.Duration,
		}
		if m.Err != nil {
			ms.Error = m.Err.Error()
		}
		s.Modules = append(s.Modules, ms)
	}
	if r.Err != nil {
		s.ErrorKind = ErrorKind(r.Err)
		s.Error = r.Err.Error()
	}
	return s
}

// ErrorKind names the class of a run error for reports and metrics
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case types.IsConfiguration(err):
		return "configuration"
	case types.IsValidation(err):
		return "validation"
	case types.IsApply(err):
		return "apply"
	case types.IsTransport(err):
		return "transport"
	default:
		return "internal"
	}
}

// Config holds the collaborators of a Reconciler
type Config struct {
	Hostname   string
	Repository repository.Repository
	Registry   *plan.Registry
	EnvDir     string
	Runner     system.Runner
	Runtime    deploy.RuntimeFactory
	Packages   deploy.PackageFactory
}

// Reconciler converges the host towards one role of the desired state
type Reconciler struct {
	cfg      Config
	compiler *plan.Compiler
	logger   zerolog.Logger

	mu   sync.RWMutex
	last *Result
}

// NewReconciler creates a new reconciler
func NewReconciler(cfg Config) *Reconciler {
	if cfg.Registry == nil {
		cfg.Registry = plan.DefaultRegistry()
	}
	if cfg.Runner == nil {
		cfg.Runner = system.NewExecRunner()
	}
	return &Reconciler{
		cfg:      cfg,
		compiler: plan.NewCompiler(cfg.Registry, cfg.EnvDir),
		logger:   log.WithComponent("reconciler").With().Str("host", cfg.Hostname).Logger(),
	}
}

// Last returns the result of the most recent run, or nil before the first
func (r *Reconciler) Last() *Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// Plan syncs the checkout and compiles role without touching the host
func (r *Reconciler) Plan(ctx context.Context, role string) (*plan.Plan, error) {
	_, _, p, err := r.prepare(ctx, role)
	return p, err
}

func (r *Reconciler) prepare(ctx context.Context, role string) (repository.Checkout, map[string]string, *plan.Plan, error) {
	co, err := r.cfg.Repository.Sync(ctx)
	if err != nil {
		return co, nil, nil, types.NewApplyError("repository", err)
	}
	props, err := repository.LoadProperties(co, r.cfg.Hostname, role)
	if err != nil {
		return co, nil, nil, err
	}
	p, err := r.compiler.Compile(ctx, co.Path, role, props)
	if err != nil {
		return co, props, nil, err
	}
	return co, props, p, nil
}

// Run performs one convergence run. Modules run strictly in plan order and
// the first failure stops the run. The returned Result is never nil, even
// when err is not.
func (r *Reconciler) Run(ctx context.Context, role string) (*Result, error) {
	timer := metrics.NewTimer()
	res := &Result{ID: uuid.NewString(), Role: role, Started: time.Now().UTC()}

	defer func() {
		res.Finished = time.Now().UTC()
		timer.ObserveDuration(metrics.RunDuration)
		metrics.RunsTotal.WithLabelValues(resultLabel(res)).Inc()
		metrics.LastRunTimestamp.Set(float64(res.Finished.Unix()))

		r.mu.Lock()
		r.last = res
		r.mu.Unlock()
	}()

	res.Err = r.run(ctx, role, res)
	if res.Err != nil {
		r.logger.Error().Err(res.Err).Str("role", role).Str("revision", res.Revision).Msg("Run failed")
		return res, res.Err
	}
	r.logger.Info().
		Str("role", role).
		Str("revision", res.Revision).
		Bool("changed", res.Changed).
		Int("modules", len(res.Modules)).
		Msg("Run complete")
	return res, nil
}

func (r *Reconciler) run(ctx context.Context, role string, res *Result) error {
	co, props, p, err := r.prepare(ctx, role)
	res.Revision = co.Revision
	if err != nil {
		return err
	}

	rc := deploy.NewRunContext(deploy.Options{
		Hostname:   r.cfg.Hostname,
		Role:       role,
		Revision:   p.Revision,
		Checkout:   co.Path,
		Properties: props,
		EnvDir:     r.cfg.EnvDir,
		Runner:     r.cfg.Runner,
		Runtime:    r.cfg.Runtime,
		Packages:   r.cfg.Packages,
	})
	defer func() {
		if err := rc.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to close run context")
		}
	}()

	for _, cm := range p.Modules {
		if err := ctx.Err(); err != nil {
			return err
		}
		mr, err := r.deployModule(ctx, rc, cm)
		res.Modules = append(res.Modules, mr)
		res.Changed = res.Changed || mr.Changed
		if err != nil {
			return fmt.Errorf("module %s: %w", cm.Module.Name, err)
		}
	}

	for _, cm := range p.Modules {
		if err := deploy.Validate(ctx, rc, cm.Module); err != nil {
			return fmt.Errorf("module %s: %w", cm.Module.Name, err)
		}
	}

	res.PackageManager = rc.Packages().Name()
	return nil
}

func (r *Reconciler) deployModule(ctx context.Context, rc *deploy.RunContext, cm *plan.CompiledModule) (ModuleResult, error) {
	timer := metrics.NewTimer()
	m := cm.Module

	out, err := deploy.Deploy(ctx, rc, m, cm.Variant.Pre, cm.Variant.Post)
	timer.ObserveDurationVec(metrics.ModuleDuration, m.Name)
	if out.Changed {
		metrics.ModulesChanged.WithLabelValues(m.Name).Inc()
	}

	return ModuleResult{
		Name:     m.Name,
		Kind:     m.Kind,
		Variant:  cm.Variant.Name,
		Changed:  out.Changed,
		Steps:    out.Steps,
		Duration: timer.Duration(),
		Err:      err,
	}, err
}

func resultLabel(res *Result) string {
	switch res.Reason() {
	case types.ReportUpdateFailure:
		return "failure"
	case types.ReportUpdateSuccess:
		return "success"
	default:
		return "nochange"
	}
}
