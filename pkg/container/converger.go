package container

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/rs/zerolog"
)

// StopTimeout is the grace period given to a container before it is killed
const StopTimeout = 30 * time.Second

// Decision is the outcome of comparing a declared container with the host
type Decision struct {
	NeedPull    bool
	NeedRestart bool
	Reasons     []string
}

// Converger drives a Runtime until a declared container matches the host
type Converger struct {
	rt     Runtime
	envDir string
	logger zerolog.Logger
}

// NewConverger creates a converger reading env files from envDir
func NewConverger(rt Runtime, envDir string) *Converger {
	if envDir == "" {
		envDir = DefaultEnvDir
	}
	return &Converger{
		rt:     rt,
		envDir: envDir,
		logger: log.WithComponent("container"),
	}
}

// Runtime exposes the underlying runtime
func (c *Converger) Runtime() Runtime {
	return c.rt
}

func isLatest(spec *types.ContainerSpec) bool {
	return spec.Tag == "" || spec.Tag == "latest"
}

// Decide compares spec with the host without mutating anything. The
// returned state is nil when the container does not exist.
func (c *Converger) Decide(ctx context.Context, spec *types.ContainerSpec, env []string) (Decision, *State, error) {
	var d Decision
	resource := "container " + spec.Name

	if isLatest(spec) {
		d.NeedPull = true
		d.Reasons = append(d.Reasons, "floating tag")
	} else if _, err := c.rt.ImageID(ctx, spec.Ref()); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return d, nil, types.NewApplyError(resource, err)
		}
		d.NeedPull = true
		d.Reasons = append(d.Reasons, "image absent")
	}

	st, err := c.rt.Inspect(ctx, spec.Name)
	switch {
	case errors.Is(err, ErrNotFound):
		d.NeedRestart = true
		d.Reasons = append(d.Reasons, "container absent")
		return d, nil, nil
	case err != nil:
		return d, nil, types.NewApplyError(resource, err)
	}

	if !st.Running {
		d.NeedRestart = true
		d.Reasons = append(d.Reasons, "container not running")
		return d, st, nil
	}

	if drift := Drift(spec, env, st); len(drift) > 0 {
		d.NeedRestart = true
		d.Reasons = append(d.Reasons, drift...)
	}
	return d, st, nil
}

// Ensure converges the named container to spec, returning the decision
// taken and whether the host changed
func (c *Converger) Ensure(ctx context.Context, spec *types.ContainerSpec) (Decision, bool, error) {
	resource := "container " + spec.Name
	logger := c.logger.With().Str("container", spec.Name).Str("image", spec.Ref()).Logger()

	env, err := LoadEnv(c.envDir, spec.Environments)
	if err != nil {
		return Decision{}, false, err
	}

	d, st, err := c.Decide(ctx, spec, env)
	if err != nil {
		return d, false, err
	}
	if !d.NeedPull && !d.NeedRestart {
		logger.Debug().Msg("container converged")
		return d, false, nil
	}

	if d.NeedPull {
		id, err := c.rt.Pull(ctx, spec.Ref())
		if err != nil {
			return d, false, types.NewApplyError(resource, fmt.Errorf("pull %s: %w", spec.Ref(), err))
		}
		logger.Debug().Str("image_id", id).Msg("image pulled")

		if !d.NeedRestart {
			if st != nil && st.ImageID == id {
				logger.Debug().Msg("image unchanged")
				return d, false, nil
			}
			d.NeedRestart = true
			d.Reasons = append(d.Reasons, "image changed")
		}
	}

	logger.Info().Strs("reasons", d.Reasons).Msg("recreating container")

	if st != nil {
		if err := c.rt.Stop(ctx, spec.Name, StopTimeout); err != nil {
			return d, true, types.NewApplyError(resource, fmt.Errorf("stop: %w", err))
		}
		if err := c.rt.Remove(ctx, spec.Name); err != nil {
			return d, true, types.NewApplyError(resource, fmt.Errorf("remove: %w", err))
		}
	}
	if err := c.rt.Create(ctx, spec, env, nil); err != nil {
		return d, true, types.NewApplyError(resource, fmt.Errorf("create: %w", err))
	}
	if err := c.rt.Start(ctx, spec.Name); err != nil {
		return d, true, types.NewApplyError(resource, fmt.Errorf("start: %w", err))
	}

	logger.Info().Msg("container started")
	return d, true, nil
}

// RunEphemeral runs cmd to completion in a throwaway copy of spec. When
// user is set the command runs under sudo as that user. The container is
// removed whatever the outcome.
func (c *Converger) RunEphemeral(ctx context.Context, spec *types.ContainerSpec, user string, cmd []string, timeout time.Duration) (string, error) {
	eph := spec.EphemeralCopy()
	resource := "ephemeral container " + eph.Name
	logger := c.logger.With().Str("container", eph.Name).Str("image", eph.Ref()).Logger()

	env, err := LoadEnv(c.envDir, eph.Environments)
	if err != nil {
		return "", err
	}

	if _, err := c.rt.ImageID(ctx, eph.Ref()); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return "", types.NewApplyError(resource, err)
		}
		if _, err := c.rt.Pull(ctx, eph.Ref()); err != nil {
			return "", types.NewApplyError(resource, fmt.Errorf("pull %s: %w", eph.Ref(), err))
		}
	}

	args := cmd
	if user != "" {
		args = append([]string{"sudo", "-E", "-u", user}, cmd...)
	}

	if err := c.rt.Create(ctx, eph, env, args); err != nil {
		return "", types.NewApplyError(resource, fmt.Errorf("create: %w", err))
	}
	defer func() {
		if err := c.rt.Remove(context.Background(), eph.Name); err != nil {
			logger.Warn().Err(err).Msg("failed to remove ephemeral container")
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info().Str("command", strings.Join(args, " ")).Dur("timeout", timeout).Msg("running ephemeral container")
	code, output, err := c.rt.Run(runCtx, eph.Name)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return output, types.NewApplyError(resource, fmt.Errorf("%w after %s", types.ErrTimeout, timeout))
	}
	if err != nil {
		return output, types.NewApplyError(resource, err)
	}
	if code != 0 {
		return output, types.NewApplyError(resource, fmt.Errorf("exit status %d: %s", code, tail(output, 512)))
	}
	return output, nil
}

// Running reports whether the named container exists and is running
func (c *Converger) Running(ctx context.Context, name string) (bool, error) {
	st, err := c.rt.Inspect(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.Running, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
