package container

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/fleetd/pkg/types"
)

// ErrNotFound is returned by a Runtime for an absent image or container
var ErrNotFound = errors.New("not found")

const (
	// LogDriverSyslog ships container output to the host syslog endpoint
	LogDriverSyslog = "syslog"

	// LogDriverNone discards container output
	LogDriverNone = "none"
)

// State is what a runtime reports about an existing container
type State struct {
	Name       string
	Running    bool
	ImageID    string
	Privileged bool
	LogDriver  string
	Binds      []string // host:guest:mode
	Devices    []string
	CapAdd     []string
	Env        []string // KEY=VALUE
}

// Runtime is the container backend the converger drives
type Runtime interface {
	// ImageID resolves a local image reference; ErrNotFound when absent
	ImageID(ctx context.Context, ref string) (string, error)

	// Pull fetches ref and returns the resulting image id
	Pull(ctx context.Context, ref string) (string, error)

	// Inspect reports the named container; ErrNotFound when absent
	Inspect(ctx context.Context, name string) (*State, error)

	// Create builds a container from spec with the given environment.
	// args overrides the image command when non-empty.
	Create(ctx context.Context, spec *types.ContainerSpec, env []string, args []string) error

	// Start launches the container's process in the background
	Start(ctx context.Context, name string) error

	// Run starts the container and blocks until it exits or ctx is done,
	// returning the exit code and combined output
	Run(ctx context.Context, name string) (int, string, error)

	// Stop stops the container; absent containers are not an error
	Stop(ctx context.Context, name string, timeout time.Duration) error

	// Remove deletes the container; absent containers are not an error
	Remove(ctx context.Context, name string) error

	// Close releases the runtime connection
	Close() error
}
