package services

import (
	"context"
	"strings"
	"time"

	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/system"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/rs/zerolog"
)

const systemctlTimeout = 2 * time.Minute

// Manager keeps systemd units enabled and running
type Manager struct {
	runner system.Runner
	logger zerolog.Logger
}

// NewManager creates a systemd service manager
func NewManager(runner system.Runner) *Manager {
	return &Manager{
		runner: runner,
		logger: log.WithComponent("services"),
	}
}

func (m *Manager) systemctl(ctx context.Context, args ...string) (system.Result, error) {
	return m.runner.Run(ctx, system.Command{Name: "systemctl", Args: args, Timeout: systemctlTimeout})
}

// IsActive reports whether the unit is active
func (m *Manager) IsActive(ctx context.Context, unit string) (bool, error) {
	res, err := m.systemctl(ctx, "is-active", "--quiet", unit)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// IsEnabled reports whether the unit needs no "systemctl enable". Besides
// "enabled", systemd exits 0 for static, indirect, generated, alias and
// transient units, none of which can be enabled further. Disabled and
// masked units exit non-zero.
func (m *Manager) IsEnabled(ctx context.Context, unit string) (bool, error) {
	res, err := m.systemctl(ctx, "is-enabled", unit)
	if err != nil {
		return false, err
	}
	switch strings.TrimSpace(res.Stdout) {
	case "disabled", "masked", "masked-runtime":
		return false, nil
	}
	return res.ExitCode == 0, nil
}

// Ensure enables and starts every unit. When restart is true, units that
// were already running are restarted so they pick up changed files or
// packages.
func (m *Manager) Ensure(ctx context.Context, units []string, restart bool) (bool, error) {
	changed := false
	for _, unit := range units {
		logger := m.logger.With().Str("service", unit).Logger()

		enabled, err := m.IsEnabled(ctx, unit)
		if err != nil {
			return changed, types.NewApplyError("service "+unit, err)
		}
		if !enabled {
			if _, err := system.MustSucceed(ctx, m.runner, system.Command{Name: "systemctl", Args: []string{"enable", unit}, Timeout: systemctlTimeout}); err != nil {
				return changed, types.NewApplyError("service "+unit, err)
			}
			logger.Info().Msg("service enabled")
			changed = true
		}

		active, err := m.IsActive(ctx, unit)
		if err != nil {
			return changed, types.NewApplyError("service "+unit, err)
		}

		action := ""
		switch {
		case !active:
			action = "start"
		case restart:
			action = "restart"
		}
		if action == "" {
			logger.Debug().Msg("service running")
			continue
		}

		if _, err := system.MustSucceed(ctx, m.runner, system.Command{Name: "systemctl", Args: []string{action, unit}, Timeout: systemctlTimeout}); err != nil {
			return changed, types.NewApplyError("service "+unit, err)
		}
		logger.Info().Str("action", action).Msg("service converged")
		changed = true
	}
	return changed, nil
}
