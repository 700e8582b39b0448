package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/fleetd/pkg/types"
)

// FakeRuntime is an in-memory Runtime for tests. Every mutating call is
// recorded in Ops as "verb name".
type FakeRuntime struct {
	mu sync.Mutex

	Images     map[string]string // ref -> image id present locally
	Registry   map[string]string // ref -> image id a pull yields
	Containers map[string]*State
	Ops        []string

	// RunFunc scripts Run; defaults to exit 0 with no output
	RunFunc func(ctx context.Context, name string) (int, string, error)

	// Errors injects failures keyed by "verb name"
	Errors map[string]error

	closed bool
}

// NewFakeRuntime creates an empty fake runtime
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		Images:     make(map[string]string),
		Registry:   make(map[string]string),
		Containers: make(map[string]*State),
		Errors:     make(map[string]error),
	}
}

func (f *FakeRuntime) record(verb, name string) error {
	op := verb + " " + name
	f.Ops = append(f.Ops, op)
	return f.Errors[op]
}

func (f *FakeRuntime) ImageID(ctx context.Context, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.Images[ref]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (f *FakeRuntime) Pull(ctx context.Context, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("pull", ref); err != nil {
		return "", err
	}
	id, ok := f.Registry[ref]
	if !ok {
		return "", fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	f.Images[ref] = id
	return id, nil
}

func (f *FakeRuntime) Inspect(ctx context.Context, name string) (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.Containers[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (f *FakeRuntime) Create(ctx context.Context, spec *types.ContainerSpec, env []string, args []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create", spec.Name); err != nil {
		return err
	}
	if _, exists := f.Containers[spec.Name]; exists {
		return fmt.Errorf("container %s already exists", spec.Name)
	}
	binds := make([]string, 0, len(spec.Volumes))
	for _, v := range spec.Volumes {
		binds = append(binds, v.String())
	}
	f.Containers[spec.Name] = &State{
		Name:       spec.Name,
		ImageID:    f.Images[spec.Ref()],
		Privileged: spec.Privileged,
		LogDriver:  logDriver(spec),
		Binds:      binds,
		Devices:    append([]string(nil), spec.Devices...),
		CapAdd:     append([]string(nil), spec.Capabilities...),
		Env:        append([]string(nil), env...),
	}
	return nil
}

func (f *FakeRuntime) Start(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("start", name); err != nil {
		return err
	}
	st, ok := f.Containers[name]
	if !ok {
		return ErrNotFound
	}
	st.Running = true
	return nil
}

func (f *FakeRuntime) Run(ctx context.Context, name string) (int, string, error) {
	f.mu.Lock()
	if err := f.record("run", name); err != nil {
		f.mu.Unlock()
		return -1, "", err
	}
	fn := f.RunFunc
	f.mu.Unlock()

	if fn == nil {
		return 0, "", nil
	}
	return fn(ctx, name)
}

func (f *FakeRuntime) Stop(ctx context.Context, name string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("stop", name); err != nil {
		return err
	}
	if st, ok := f.Containers[name]; ok {
		st.Running = false
	}
	return nil
}

func (f *FakeRuntime) Remove(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("remove", name); err != nil {
		return err
	}
	delete(f.Containers, name)
	return nil
}

func (f *FakeRuntime) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called
func (f *FakeRuntime) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Operations returns a copy of the recorded mutating calls
func (f *FakeRuntime) Operations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Ops...)
}

// Reset clears recorded operations
func (f *FakeRuntime) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ops = nil
}
