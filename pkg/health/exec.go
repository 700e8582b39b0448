package health

import (
	"context"
	"strings"
	"time"

	"github.com/cuemby/fleetd/pkg/system"
)

// ExecChecker succeeds when a host command exits 0
type ExecChecker struct {
	Command []string
	Timeout time.Duration

	runner system.Runner
}

// NewExecChecker creates a checker that runs command through runner
func NewExecChecker(runner system.Runner, command []string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		Timeout: 10 * time.Second,
		runner:  runner,
	}
}

// Check runs the command once
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if len(e.Command) == 0 {
		return finish(start, false, "no command specified")
	}

	res, err := e.runner.Run(ctx, system.Command{
		Name:    e.Command[0],
		Args:    e.Command[1:],
		Timeout: e.Timeout,
	})
	if err != nil {
		return finish(start, false, "%s: %v", e.Target(), err)
	}
	if res.ExitCode != 0 {
		return finish(start, false, "%s: exit status %d: %s", e.Target(), res.ExitCode, truncate(res.Stderr, 200))
	}
	return finish(start, true, "%s: %s", e.Target(), truncate(res.Stdout, 100))
}

// Type returns the health check type
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// Target returns the command line
func (e *ExecChecker) Target() string {
	return strings.Join(e.Command, " ")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
