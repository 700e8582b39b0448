package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/fleetd/pkg/system"
	"github.com/cuemby/fleetd/pkg/types"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeExec CheckType = "exec"
	CheckTypeGRPC CheckType = "grpc"
)

// DefaultTimeout bounds a check that does not declare one
const DefaultTimeout = 30 * time.Second

// DefaultInterval is the pause between attempts while waiting
const DefaultInterval = time.Second

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

func finish(start time.Time, healthy bool, format string, args ...interface{}) Result {
	return Result{
		Healthy:   healthy,
		Message:   fmt.Sprintf(format, args...),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs one attempt
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType

	// Target describes what is being checked
	Target() string
}

// Config controls how long Wait keeps retrying
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// FromSpec builds a checker for a declared check. Exec checks run through
// runner.
func FromSpec(spec types.CheckSpec, runner system.Runner) (Checker, error) {
	if spec.Target == "" {
		return nil, types.NewConfigurationError("check", "%s check has no target", spec.Type)
	}
	switch CheckType(strings.ToLower(spec.Type)) {
	case CheckTypeHTTP:
		return NewHTTPChecker(spec.Target), nil
	case CheckTypeTCP:
		return NewTCPChecker(spec.Target), nil
	case CheckTypeExec:
		return NewExecChecker(runner, strings.Fields(spec.Target)), nil
	case CheckTypeGRPC:
		return NewGRPCChecker(spec.Target), nil
	default:
		return nil, types.NewConfigurationError("check "+spec.Target, "unknown check type %q", spec.Type)
	}
}

// Wait retries checker until it reports healthy or cfg.Timeout elapses.
// The last result is returned either way.
func Wait(ctx context.Context, checker Checker, cfg Config) Result {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		result := checker.Check(ctx)
		if result.Healthy {
			return result
		}
		select {
		case <-ctx.Done():
			result.Message = fmt.Sprintf("%s (gave up after %s)", result.Message, cfg.Timeout)
			return result
		case <-ticker.C:
		}
	}
}

// Validate runs Wait and converts an unhealthy result to a ValidationFailure
func Validate(ctx context.Context, checker Checker, cfg Config) error {
	result := Wait(ctx, checker, cfg)
	if result.Healthy {
		return nil
	}
	return &types.ValidationFailure{
		Check:   fmt.Sprintf("%s %s", checker.Type(), checker.Target()),
		Message: result.Message,
	}
}
