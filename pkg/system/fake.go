package system

import (
	"context"
	"strings"
	"sync"
)

// FakeRunner records commands and replays canned results, keyed by the
// rendered command line. Used by tests across packages.
type FakeRunner struct {
	mu       sync.Mutex
	Results  map[string]Result
	Errors   map[string]error
	Fallback Result
	Calls    []Command
}

// NewFakeRunner creates a FakeRunner whose unknown commands succeed silently
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		Results: make(map[string]Result),
		Errors:  make(map[string]error),
	}
}

// On registers the result for an exact command line
func (f *FakeRunner) On(line string, res Result) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Results[line] = res
	return f
}

// Run implements Runner
func (f *FakeRunner) Run(_ context.Context, c Command) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, c)
	line := c.String()
	if err, ok := f.Errors[line]; ok {
		return Result{}, err
	}
	if res, ok := f.Results[line]; ok {
		return res, nil
	}
	return f.Fallback, nil
}

// Lines returns the rendered command lines seen so far
func (f *FakeRunner) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		lines = append(lines, c.String())
	}
	return lines
}

// LinesWithPrefix filters Lines by prefix
func (f *FakeRunner) LinesWithPrefix(prefix string) []string {
	var out []string
	for _, l := range f.Lines() {
		if strings.HasPrefix(l, prefix) {
			out = append(out, l)
		}
	}
	return out
}
