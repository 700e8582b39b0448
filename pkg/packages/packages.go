package packages

import (
	"context"
	"os"
	"time"

	"github.com/cuemby/fleetd/pkg/system"
	"github.com/cuemby/fleetd/pkg/types"
)

const (
	// QueryTimeout bounds read-only package manager calls
	QueryTimeout = 30 * time.Second

	// ChangeTimeout bounds install/remove batches
	ChangeTimeout = 15 * time.Minute
)

// Manager converges OS packages through one package-manager family
type Manager interface {
	// Name identifies the backend ("dpkg" or "yum")
	Name() string

	// Install makes every requirement present at its pinned version, if any
	Install(ctx context.Context, reqs []types.PackageRequirement) (bool, error)

	// Remove purges the named packages that are currently installed
	Remove(ctx context.Context, names []string) (bool, error)
}

// Detect picks the backend matching the host's package database
func Detect(runner system.Runner) Manager {
	if _, err := os.Stat("/usr/bin/dpkg-query"); err == nil {
		return NewDpkg(runner)
	}
	return NewYum(runner)
}

// names extracts requirement names in order
func names(reqs []types.PackageRequirement) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Name)
	}
	return out
}
