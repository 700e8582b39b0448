package packages

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/system"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/rs/zerolog"
)

// Op is one batched package-manager operation
type Op string

const (
	OpUnlock    Op = "unlock"
	OpInstall   Op = "install"
	OpDowngrade Op = "downgrade"
	OpLock      Op = "lock"
)

// Step is one batch of the fixed unlock, install, downgrade, lock sequence
type Step struct {
	Op      Op
	Targets []string
}

// Plan holds the queued batches for one Install call
type Plan struct {
	Unlock    []string // Versionlock entries to delete
	Install   []string // name or name-version
	Downgrade []string // name-version
	Lock      []string // name-version* patterns
}

// Steps returns the non-empty batches in execution order
func (p Plan) Steps() []Step {
	var steps []Step
	for _, s := range []Step{
		{OpUnlock, p.Unlock},
		{OpInstall, p.Install},
		{OpDowngrade, p.Downgrade},
		{OpLock, p.Lock},
	} {
		if len(s.Targets) > 0 {
			steps = append(steps, s)
		}
	}
	return steps
}

// Empty reports whether nothing needs to run
func (p Plan) Empty() bool {
	return len(p.Steps()) == 0
}

// versionMatches reports whether the installed version-release satisfies a
// pinned version. "2.0" is satisfied by "2.0" and "2.0-1.el9".
func versionMatches(installed, required string) bool {
	return installed == required || strings.HasPrefix(installed, required+"-")
}

// versionNewer compares case-insensitively and lexicographically. This is
// not rpm version ordering: "10.0" sorts below "9.0".
func versionNewer(installed, required string) bool {
	return strings.ToLower(installed) > strings.ToLower(required)
}

// lockPattern is the versionlock wildcard pinning name to a version prefix
func lockPattern(name, version string) string {
	return name + "-" + version + "*"
}

// Decide builds the batch plan from requirements carrying observed facts.
// locks maps package name to its existing versionlock entry.
func Decide(reqs []types.PackageRequirement, locks map[string]string) Plan {
	var plan Plan
	for _, r := range reqs {
		unlocked := false
		if !r.Installed || (r.Version != "" && !versionMatches(r.InstalledVersion, r.Version)) {
			if r.Locked && r.Version != "" {
				entry := locks[r.Name]
				if entry == "" {
					entry = r.Name
				}
				plan.Unlock = append(plan.Unlock, entry)
				unlocked = true
			}

			target := r.Name
			if r.Version != "" {
				target = r.Name + "-" + r.Version
			}
			if r.Installed && r.Version != "" && versionNewer(r.InstalledVersion, r.Version) {
				plan.Downgrade = append(plan.Downgrade, target)
			} else {
				plan.Install = append(plan.Install, target)
			}
		}

		if r.Version != "" && (!r.Locked || unlocked) {
			plan.Lock = append(plan.Lock, lockPattern(r.Name, r.Version))
		}
	}
	return plan
}

// Yum manages packages on rpm-family hosts with yum and its versionlock plugin
type Yum struct {
	runner system.Runner
	logger zerolog.Logger
}

// NewYum creates an rpm/yum-family backend
func NewYum(runner system.Runner) *Yum {
	return &Yum{
		runner: runner,
		logger: log.WithComponent("packages").With().Str("backend", "yum").Logger(),
	}
}

// Name implements Manager
func (y *Yum) Name() string { return "yum" }

// queryInstalled returns installed state and VERSION-RELEASE for name
func (y *Yum) queryInstalled(ctx context.Context, name string) (bool, string, error) {
	res, err := y.runner.Run(ctx, system.Command{
		Name:    "rpm",
		Args:    []string{"-q", "--qf", "%{VERSION}-%{RELEASE}", name},
		Timeout: QueryTimeout,
	})
	if err != nil {
		return false, "", types.NewApplyError("package "+name, err)
	}
	if res.ExitCode != 0 {
		return false, "", nil
	}
	return true, strings.TrimSpace(res.Stdout), nil
}

// listLocks parses `yum versionlock list` into name -> entry
func (y *Yum) listLocks(ctx context.Context) (map[string]string, error) {
	res, err := system.MustSucceed(ctx, y.runner, system.Command{
		Name:    "yum",
		Args:    []string{"-q", "versionlock", "list"},
		Timeout: QueryTimeout,
	})
	if err != nil {
		return nil, types.NewApplyError("versionlock list", err)
	}
	return parseLocks(res.Stdout), nil
}

// parseLocks extracts package names from versionlock entries such as
// "0:nginx-1.20.1-1.el9.*" or "nginx-1.20*"
func parseLocks(out string) map[string]string {
	locks := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		entry := strings.TrimSpace(scanner.Text())
		if entry == "" || strings.HasPrefix(entry, "Loaded plugins") || strings.HasSuffix(entry, ":") {
			continue
		}
		spec := entry
		if i := strings.Index(spec, ":"); i >= 0 && isDigits(spec[:i]) {
			spec = spec[i+1:]
		}
		if name := lockName(spec); name != "" {
			locks[name] = entry
		}
	}
	return locks
}

// lockName is the part of name-version before the first "-<digit>"
func lockName(spec string) string {
	for i := 0; i+1 < len(spec); i++ {
		if spec[i] == '-' && spec[i+1] >= '0' && spec[i+1] <= '9' {
			return spec[:i]
		}
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// observe fills in installed, version and lock facts for each requirement
func (y *Yum) observe(ctx context.Context, reqs []types.PackageRequirement) ([]types.PackageRequirement, map[string]string, error) {
	locks, err := y.listLocks(ctx)
	if err != nil {
		return nil, nil, err
	}
	out := make([]types.PackageRequirement, 0, len(reqs))
	for _, r := range reqs {
		installed, version, err := y.queryInstalled(ctx, r.Name)
		if err != nil {
			return nil, nil, err
		}
		r.Installed = installed
		r.InstalledVersion = version
		_, r.Locked = locks[r.Name]
		out = append(out, r)
	}
	return out, locks, nil
}

// Install implements Manager
func (y *Yum) Install(ctx context.Context, reqs []types.PackageRequirement) (bool, error) {
	if len(reqs) == 0 {
		return false, nil
	}
	observed, locks, err := y.observe(ctx, reqs)
	if err != nil {
		return false, err
	}

	plan := Decide(observed, locks)
	if plan.Empty() {
		y.logger.Debug().Int("packages", len(reqs)).Msg("all packages converged")
		return false, nil
	}

	for _, step := range plan.Steps() {
		if err := y.execute(ctx, step); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (y *Yum) execute(ctx context.Context, step Step) error {
	var args []string
	switch step.Op {
	case OpUnlock:
		args = append([]string{"-q", "versionlock", "delete"}, step.Targets...)
	case OpInstall:
		args = append([]string{"-y", "install"}, step.Targets...)
	case OpDowngrade:
		args = append([]string{"-y", "downgrade"}, step.Targets...)
	case OpLock:
		args = append([]string{"-q", "versionlock", "add"}, step.Targets...)
	default:
		return fmt.Errorf("unknown package operation %q", step.Op)
	}

	y.logger.Info().Str("op", string(step.Op)).Strs("targets", step.Targets).Msg("running package batch")
	if _, err := system.MustSucceed(ctx, y.runner, system.Command{
		Name:    "yum",
		Args:    args,
		Timeout: ChangeTimeout,
	}); err != nil {
		return types.NewApplyError(fmt.Sprintf("package %s %v", step.Op, step.Targets), err)
	}
	return nil
}

// Remove implements Manager
func (y *Yum) Remove(ctx context.Context, names []string) (bool, error) {
	var installed []string
	for _, name := range names {
		ok, _, err := y.queryInstalled(ctx, name)
		if err != nil {
			return false, err
		}
		if ok {
			installed = append(installed, name)
		}
	}
	if len(installed) == 0 {
		return false, nil
	}

	y.logger.Info().Strs("packages", installed).Msg("erasing packages")
	if _, err := system.MustSucceed(ctx, y.runner, system.Command{
		Name:    "yum",
		Args:    append([]string{"-y", "erase"}, installed...),
		Timeout: ChangeTimeout,
	}); err != nil {
		return false, types.NewApplyError(fmt.Sprintf("packages %v", installed), err)
	}
	return true, nil
}
