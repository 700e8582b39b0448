package packages

import (
	"context"
	"sync"

	"github.com/cuemby/fleetd/pkg/types"
)

// FakeManager is an in-memory Manager for tests in other packages
type FakeManager struct {
	mu        sync.Mutex
	Installed map[string]string // name -> version
	Installs  [][]string
	Removes   [][]string
	Err       error
}

// NewFakeManager creates a fake with nothing installed
func NewFakeManager() *FakeManager {
	return &FakeManager{Installed: make(map[string]string)}
}

func (f *FakeManager) Name() string { return "fake" }

// Install marks missing or differently pinned requirements installed
func (f *FakeManager) Install(ctx context.Context, reqs []types.PackageRequirement) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	var batch []string
	for _, r := range reqs {
		v, ok := f.Installed[r.Name]
		if ok && (r.Version == "" || v == r.Version) {
			continue
		}
		f.Installed[r.Name] = r.Version
		batch = append(batch, r.String())
	}
	if len(batch) == 0 {
		return false, nil
	}
	f.Installs = append(f.Installs, batch)
	return true, nil
}

// Remove deletes installed names
func (f *FakeManager) Remove(ctx context.Context, names []string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	var batch []string
	for _, n := range names {
		if _, ok := f.Installed[n]; ok {
			delete(f.Installed, n)
			batch = append(batch, n)
		}
	}
	if len(batch) == 0 {
		return false, nil
	}
	f.Removes = append(f.Removes, batch)
	return true, nil
}
