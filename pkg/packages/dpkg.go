package packages

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/system"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/rs/zerolog"
)

// Dpkg manages packages on Debian-family hosts through dpkg-query and apt-get
type Dpkg struct {
	runner system.Runner
	logger zerolog.Logger
}

// NewDpkg creates a dpkg-family backend
func NewDpkg(runner system.Runner) *Dpkg {
	return &Dpkg{
		runner: runner,
		logger: log.WithComponent("packages").With().Str("backend", "dpkg").Logger(),
	}
}

// Name implements Manager
func (d *Dpkg) Name() string { return "dpkg" }

// nonInteractiveEnv keeps debconf quiet and stops maintainer scripts from
// starting services on install
var nonInteractiveEnv = []string{
	"DEBIAN_FRONTEND=noninteractive",
	"RUNLEVEL=1",
}

// installed checks one package's state with dpkg-query
func (d *Dpkg) installed(ctx context.Context, name string) (bool, error) {
	res, err := d.runner.Run(ctx, system.Command{
		Name:    "dpkg-query",
		Args:    []string{"-W", "-f=${Status}", name},
		Timeout: QueryTimeout,
	})
	if err != nil {
		return false, types.NewApplyError("package "+name, err)
	}
	if res.ExitCode != 0 {
		return false, nil
	}
	return strings.HasSuffix(strings.TrimSpace(res.Stdout), "install ok installed"), nil
}

// partition returns the names whose installed state differs from want
func (d *Dpkg) partition(ctx context.Context, candidates []string, want bool) ([]string, error) {
	var pending []string
	for _, name := range candidates {
		ok, err := d.installed(ctx, name)
		if err != nil {
			return nil, err
		}
		if ok != want {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

// Install implements Manager
func (d *Dpkg) Install(ctx context.Context, reqs []types.PackageRequirement) (bool, error) {
	if len(reqs) == 0 {
		return false, nil
	}
	pending, err := d.partition(ctx, names(reqs), true)
	if err != nil {
		return false, err
	}
	if len(pending) == 0 {
		d.logger.Debug().Int("packages", len(reqs)).Msg("all packages installed")
		return false, nil
	}

	byName := make(map[string]types.PackageRequirement, len(reqs))
	for _, r := range reqs {
		byName[r.Name] = r
	}
	args := []string{"install", "-y", "-q", "--no-install-recommends", "-o", "Dpkg::Options::=--force-confold"}
	for _, name := range pending {
		args = append(args, byName[name].String())
	}

	d.logger.Info().Strs("packages", pending).Msg("installing packages")
	if _, err := system.MustSucceed(ctx, d.runner, system.Command{
		Name:    "apt-get",
		Args:    args,
		Env:     nonInteractiveEnv,
		Timeout: ChangeTimeout,
	}); err != nil {
		return false, types.NewApplyError(fmt.Sprintf("packages %v", pending), err)
	}
	return true, nil
}

// Remove implements Manager
func (d *Dpkg) Remove(ctx context.Context, names []string) (bool, error) {
	if len(names) == 0 {
		return false, nil
	}
	pending, err := d.partition(ctx, names, false)
	if err != nil {
		return false, err
	}
	if len(pending) == 0 {
		return false, nil
	}

	d.logger.Info().Strs("packages", pending).Msg("purging packages")
	if _, err := system.MustSucceed(ctx, d.runner, system.Command{
		Name:    "apt-get",
		Args:    append([]string{"purge", "-y", "-q"}, pending...),
		Env:     nonInteractiveEnv,
		Timeout: ChangeTimeout,
	}); err != nil {
		return false, types.NewApplyError(fmt.Sprintf("packages %v", pending), err)
	}
	return true, nil
}
