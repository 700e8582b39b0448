package files

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/rs/zerolog"
)

// Applier converges templated files onto the host
type Applier struct {
	props  map[string]string
	logger zerolog.Logger
}

// NewApplier creates a file applier rendering against props
func NewApplier(props map[string]string) *Applier {
	return &Applier{
		props:  props,
		logger: log.WithComponent("files"),
	}
}

// Outcome records what happened to one file
type Outcome struct {
	Target         string
	ContentChanged bool
	ModeChanged    bool
}

// Changed reports whether either aspect of the file was rewritten
func (o Outcome) Changed() bool {
	return o.ContentChanged || o.ModeChanged
}

// Apply converges every declared file. Content and permission bits are
// compared and applied independently; the result is their logical OR
// across all files.
func (a *Applier) Apply(ctx context.Context, decls []types.FileDecl) (bool, error) {
	changed := false
	for _, decl := range decls {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		out, err := a.ApplyOne(decl)
		if err != nil {
			return changed, err
		}
		changed = changed || out.Changed()
	}
	return changed, nil
}

// ApplyOne converges a single file declaration
func (a *Applier) ApplyOne(decl types.FileDecl) (Outcome, error) {
	out := Outcome{Target: decl.Target}
	logger := a.logger.With().Str("module", decl.Module).Str("target", decl.Target).Logger()

	srcInfo, err := os.Stat(decl.Source)
	if err != nil {
		return out, types.NewConfigurationError("module "+decl.Module, "source %s: %v", decl.Source, err)
	}
	raw, err := os.ReadFile(decl.Source)
	if err != nil {
		return out, types.NewApplyError("file "+decl.Target, fmt.Errorf("failed to read source: %w", err))
	}

	rendered, err := Render(decl.Source, raw, a.props)
	if err != nil {
		return out, err
	}

	current, err := os.ReadFile(decl.Target)
	switch {
	case err == nil:
		out.ContentChanged = !bytes.Equal(current, rendered)
	case os.IsNotExist(err):
		out.ContentChanged = true
		if err := os.MkdirAll(filepath.Dir(decl.Target), 0755); err != nil {
			return out, types.NewApplyError("file "+decl.Target, fmt.Errorf("failed to create parent directory: %w", err))
		}
	default:
		return out, types.NewApplyError("file "+decl.Target, fmt.Errorf("failed to read target: %w", err))
	}

	wantMode := srcInfo.Mode().Perm()

	if out.ContentChanged {
		if err := writeAtomic(decl.Target, rendered, wantMode); err != nil {
			return out, types.NewApplyError("file "+decl.Target, err)
		}
		logger.Info().Int("bytes", len(rendered)).Msg("file content updated")
	}

	// Permission bits are compared against the target as it is now, after
	// any content write, so a fresh write with the right mode is not
	// counted twice.
	tgtInfo, err := os.Stat(decl.Target)
	if err != nil {
		return out, types.NewApplyError("file "+decl.Target, fmt.Errorf("failed to stat target: %w", err))
	}
	if tgtInfo.Mode().Perm() != wantMode {
		if err := os.Chmod(decl.Target, wantMode); err != nil {
			return out, types.NewApplyError("file "+decl.Target, fmt.Errorf("failed to chmod: %w", err))
		}
		out.ModeChanged = true
		logger.Info().
			Str("from", tgtInfo.Mode().Perm().String()).
			Str("to", wantMode.String()).
			Msg("file mode updated")
	}

	if !out.Changed() {
		logger.Debug().Msg("file unchanged")
	}
	return out, nil
}

// writeAtomic writes data to a temp file next to path and renames it in
func writeAtomic(path string, data []byte, mode fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".fleetd-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace target: %w", err)
	}
	return nil
}
