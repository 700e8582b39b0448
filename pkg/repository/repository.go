package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/system"
	"github.com/rs/zerolog"
)

// gitTimeout bounds a single git invocation
const gitTimeout = 5 * time.Minute

// Checkout is a local tree at a known revision
type Checkout struct {
	Path     string
	Revision string
}

// Repository yields an up-to-date checkout of the desired state
type Repository interface {
	Sync(ctx context.Context) (Checkout, error)
}

// Git keeps a working tree at dir in sync with one branch of url
type Git struct {
	url    string
	branch string
	dir    string
	runner system.Runner
	logger zerolog.Logger
}

// NewGit creates a git-backed repository. The clone is created on the
// first Sync.
func NewGit(url, branch, dir string, runner system.Runner) *Git {
	if branch == "" {
		branch = "main"
	}
	return &Git{
		url:    url,
		branch: branch,
		dir:    dir,
		runner: runner,
		logger: log.WithComponent("repository"),
	}
}

// git runs a command against the working tree via -C
func (g *Git) git(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-C", g.dir}, args...)
	res, err := system.MustSucceed(ctx, g.runner, system.Command{Name: "git", Args: full, Timeout: gitTimeout})
	if err != nil {
		return "", fmt.Errorf("git %s in %s: %w", strings.Join(args, " "), g.dir, err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Sync clones on first use, then hard-resets the tree to the remote
// branch head and discards untracked files
func (g *Git) Sync(ctx context.Context) (Checkout, error) {
	if _, err := os.Stat(filepath.Join(g.dir, ".git")); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(g.dir), 0755); err != nil {
			return Checkout{}, fmt.Errorf("failed to create checkout parent: %w", err)
		}
		g.logger.Info().Str("url", g.url).Str("branch", g.branch).Str("dir", g.dir).Msg("cloning repository")
		if _, err := system.MustSucceed(ctx, g.runner, system.Command{
			Name:    "git",
			Args:    []string{"clone", "--branch", g.branch, g.url, g.dir},
			Timeout: gitTimeout,
		}); err != nil {
			return Checkout{}, fmt.Errorf("git clone %s: %w", g.url, err)
		}
	} else {
		if _, err := g.git(ctx, "fetch", "--prune", "origin", g.branch); err != nil {
			return Checkout{}, err
		}
		if _, err := g.git(ctx, "reset", "--hard", "origin/"+g.branch); err != nil {
			return Checkout{}, err
		}
		if _, err := g.git(ctx, "clean", "-fdx"); err != nil {
			return Checkout{}, err
		}
	}

	rev, err := g.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return Checkout{}, err
	}
	g.logger.Debug().Str("revision", rev).Msg("repository synced")
	return Checkout{Path: g.dir, Revision: rev}, nil
}

// Local serves an existing directory as-is. The revision is the git HEAD
// when the directory is a work tree and "local" otherwise.
type Local struct {
	dir    string
	runner system.Runner
}

// NewLocal creates a repository over an existing directory
func NewLocal(dir string, runner system.Runner) *Local {
	return &Local{dir: dir, runner: runner}
}

// Sync checks the directory exists and reports its revision
func (l *Local) Sync(ctx context.Context) (Checkout, error) {
	info, err := os.Stat(l.dir)
	if err != nil {
		return Checkout{}, fmt.Errorf("checkout %s: %w", l.dir, err)
	}
	if !info.IsDir() {
		return Checkout{}, fmt.Errorf("checkout %s is not a directory", l.dir)
	}

	co := Checkout{Path: l.dir, Revision: "local"}
	if _, err := os.Stat(filepath.Join(l.dir, ".git")); err == nil && l.runner != nil {
		res, err := l.runner.Run(ctx, system.Command{Name: "git", Args: []string{"-C", l.dir, "rev-parse", "HEAD"}, Timeout: gitTimeout})
		if err == nil && res.ExitCode == 0 {
			co.Revision = strings.TrimSpace(res.Stdout)
		}
	}
	return co, nil
}
