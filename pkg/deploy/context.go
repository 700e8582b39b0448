package deploy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/fleetd/pkg/container"
	"github.com/cuemby/fleetd/pkg/files"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/packages"
	"github.com/cuemby/fleetd/pkg/services"
	"github.com/cuemby/fleetd/pkg/system"
	"github.com/rs/zerolog"
)

// ErrClosed is returned when a closed run context is asked for a collaborator
var ErrClosed = errors.New("run context closed")

// RuntimeFactory opens a container runtime connection
type RuntimeFactory func(ctx context.Context) (container.Runtime, error)

// PackageFactory picks the package backend for the host
type PackageFactory func(runner system.Runner) packages.Manager

// Options configures a RunContext
type Options struct {
	Hostname   string
	Role       string
	Revision   string
	Checkout   string
	Properties map[string]string
	EnvDir     string
	Runner     system.Runner
	Runtime    RuntimeFactory
	Packages   PackageFactory
}

// RunContext carries the collaborators of one convergence run. Expensive
// handles are built on first use and released by Close.
type RunContext struct {
	Hostname   string
	Role       string
	Revision   string
	Checkout   string
	Properties map[string]string
	Runner     system.Runner
	Logger     zerolog.Logger

	envDir         string
	runtimeFactory RuntimeFactory
	packageFactory PackageFactory

	mu        sync.Mutex
	closed    bool
	runtime   container.Runtime
	converger *container.Converger
	pkgs      packages.Manager
	svcs      *services.Manager
	files     *files.Applier
	recreated map[string]bool
}

// NewRunContext creates the context for one run
func NewRunContext(opts Options) *RunContext {
	if opts.Runner == nil {
		opts.Runner = system.NewExecRunner()
	}
	if opts.Packages == nil {
		opts.Packages = packages.Detect
	}
	if opts.EnvDir == "" {
		opts.EnvDir = container.DefaultEnvDir
	}
	if opts.Properties == nil {
		opts.Properties = map[string]string{}
	}

	return &RunContext{
		Hostname:       opts.Hostname,
		Role:           opts.Role,
		Revision:       opts.Revision,
		Checkout:       opts.Checkout,
		Properties:     opts.Properties,
		Runner:         opts.Runner,
		Logger:         log.WithComponent("deploy").With().Str("role", opts.Role).Str("revision", opts.Revision).Logger(),
		envDir:         opts.EnvDir,
		runtimeFactory: opts.Runtime,
		packageFactory: opts.Packages,
		recreated:      make(map[string]bool),
	}
}

// Containers returns the container converger, connecting to the runtime
// on first use
func (rc *RunContext) Containers(ctx context.Context) (*container.Converger, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return nil, ErrClosed
	}
	if rc.converger != nil {
		return rc.converger, nil
	}
	if rc.runtimeFactory == nil {
		return nil, fmt.Errorf("no container runtime configured")
	}

	rt, err := rc.runtimeFactory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open container runtime: %w", err)
	}
	rc.runtime = rt
	rc.converger = container.NewConverger(rt, rc.envDir)
	rc.Logger.Debug().Msg("container runtime connected")
	return rc.converger, nil
}

// Packages returns the host package manager
func (rc *RunContext) Packages() packages.Manager {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.pkgs == nil {
		rc.pkgs = rc.packageFactory(rc.Runner)
	}
	return rc.pkgs
}

// Services returns the systemd unit manager
func (rc *RunContext) Services() *services.Manager {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.svcs == nil {
		rc.svcs = services.NewManager(rc.Runner)
	}
	return rc.svcs
}

// Files returns the file applier bound to the run's properties
func (rc *RunContext) Files() *files.Applier {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.files == nil {
		rc.files = files.NewApplier(rc.Properties)
	}
	return rc.files
}

// MarkRecreated records that a container was recreated during this run
func (rc *RunContext) MarkRecreated(name string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.recreated[name] = true
}

// Recreated reports whether the named container was recreated during this run
func (rc *RunContext) Recreated(name string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.recreated[name]
}

// Close releases every collaborator that was opened. It is safe to call
// more than once.
func (rc *RunContext) Close() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.closed {
		return nil
	}
	rc.closed = true

	var err error
	if rc.runtime != nil {
		if cerr := rc.runtime.Close(); cerr != nil {
			err = fmt.Errorf("failed to close container runtime: %w", cerr)
		}
		rc.runtime = nil
		rc.converger = nil
	}
	return err
}
