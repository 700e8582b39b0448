package deploy

import (
	"context"
	"fmt"

	"github.com/cuemby/fleetd/pkg/health"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/types"
)

// StepFunc runs extra behaviour around the generic driver. changed is the
// module's result so far; the returned bool is OR-ed into it.
type StepFunc func(ctx context.Context, rc *RunContext, m *types.Module, changed bool) (bool, error)

// Step is a named pre or post action contributed by a module variant
type Step struct {
	Name string
	Run  StepFunc
}

// Outcome is the result of deploying one module
type Outcome struct {
	Module  string
	Changed bool
	Steps   []string // Steps that ran, in order
}

// Deploy runs pre steps, the generic driver for the module's kind, then
// post steps. The first error aborts the module.
func Deploy(ctx context.Context, rc *RunContext, m *types.Module, pre, post []Step) (Outcome, error) {
	out := Outcome{Module: m.Name}
	logger := log.WithModule("deploy", m.Name)

	runSteps := func(steps []Step) error {
		for _, step := range steps {
			changed, err := step.Run(ctx, rc, m, out.Changed)
			out.Steps = append(out.Steps, step.Name)
			if err != nil {
				return fmt.Errorf("step %s: %w", step.Name, err)
			}
			if changed {
				logger.Info().Str("step", step.Name).Msg("step changed host")
			}
			out.Changed = out.Changed || changed
		}
		return nil
	}

	if err := runSteps(pre); err != nil {
		return out, err
	}

	var (
		changed bool
		err     error
	)
	switch m.Kind {
	case types.ModuleKindSystem:
		changed, err = ApplyHost(ctx, rc, m)
	case types.ModuleKindContainer:
		changed, err = ApplyContainer(ctx, rc, m)
	default:
		err = types.NewConfigurationError("module "+m.Name, "unknown kind %q", m.Kind)
	}
	out.Changed = out.Changed || changed
	if err != nil {
		return out, err
	}

	if err := runSteps(post); err != nil {
		return out, err
	}

	logger.Debug().Bool("changed", out.Changed).Msg("module deployed")
	return out, nil
}

// ApplyHost converges files, then packages, then services. Services are
// restarted when anything before them changed.
func ApplyHost(ctx context.Context, rc *RunContext, m *types.Module) (bool, error) {
	changed, err := rc.Files().Apply(ctx, m.Files)
	if err != nil {
		return changed, err
	}

	if len(m.Packages) > 0 {
		c, err := rc.Packages().Install(ctx, m.Packages)
		changed = changed || c
		if err != nil {
			return changed, err
		}
	}
	if len(m.Purge) > 0 {
		c, err := rc.Packages().Remove(ctx, m.Purge)
		changed = changed || c
		if err != nil {
			return changed, err
		}
	}

	if len(m.Services) > 0 {
		c, err := rc.Services().Ensure(ctx, m.Services, changed)
		changed = changed || c
		if err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// ApplyContainer converges the module's files then its container
func ApplyContainer(ctx context.Context, rc *RunContext, m *types.Module) (bool, error) {
	if m.Container == nil {
		return false, types.NewConfigurationError("module "+m.Name, "container module has no container")
	}

	changed, err := rc.Files().Apply(ctx, m.Files)
	if err != nil {
		return changed, err
	}

	conv, err := rc.Containers(ctx)
	if err != nil {
		return changed, types.NewApplyError("container "+m.Container.Name, err)
	}
	_, recreated, err := conv.Ensure(ctx, m.Container)
	if recreated {
		rc.MarkRecreated(m.Container.Name)
	}
	return changed || recreated, err
}

// Validate checks that the module's services are active, its container
// is running and its declared checks pass
func Validate(ctx context.Context, rc *RunContext, m *types.Module) error {
	for _, unit := range m.Services {
		active, err := rc.Services().IsActive(ctx, unit)
		if err != nil {
			return types.NewApplyError("service "+unit, err)
		}
		if !active {
			return &types.ValidationFailure{Check: "service " + unit, Message: "unit is not active"}
		}
	}

	if m.Container != nil {
		conv, err := rc.Containers(ctx)
		if err != nil {
			return types.NewApplyError("container "+m.Container.Name, err)
		}
		running, err := conv.Running(ctx, m.Container.Name)
		if err != nil {
			return types.NewApplyError("container "+m.Container.Name, err)
		}
		if !running {
			return &types.ValidationFailure{Check: "container " + m.Container.Name, Message: "container is not running"}
		}
	}

	for _, spec := range m.Checks {
		checker, err := health.FromSpec(spec, rc.Runner)
		if err != nil {
			return err
		}
		if err := health.Validate(ctx, checker, health.Config{Timeout: spec.Timeout}); err != nil {
			return err
		}
	}
	return nil
}
