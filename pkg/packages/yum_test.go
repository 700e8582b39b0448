package packages

import (
	"context"
	"testing"

	"github.com/cuemby/fleetd/pkg/system"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name  string
		reqs  []types.PackageRequirement
		locks map[string]string
		want  []Step
	}{
		{
			name: "locked at older version is unlocked, installed and relocked",
			reqs: []types.PackageRequirement{
				{Name: "pkg", Version: "2.0", Installed: true, InstalledVersion: "1.0", Locked: true},
			},
			locks: map[string]string{"pkg": "0:pkg-1.0-1.*"},
			want: []Step{
				{OpUnlock, []string{"0:pkg-1.0-1.*"}},
				{OpInstall, []string{"pkg-2.0"}},
				{OpLock, []string{"pkg-2.0*"}},
			},
		},
		{
			name: "locked at newer version is unlocked, downgraded and relocked",
			reqs: []types.PackageRequirement{
				{Name: "pkg", Version: "2.0", Installed: true, InstalledVersion: "3.1-1", Locked: true},
			},
			locks: map[string]string{"pkg": "pkg-3.1*"},
			want: []Step{
				{OpUnlock, []string{"pkg-3.1*"}},
				{OpDowngrade, []string{"pkg-2.0"}},
				{OpLock, []string{"pkg-2.0*"}},
			},
		},
		{
			name: "unpinned requirement never touches the lock mechanism",
			reqs: []types.PackageRequirement{
				{Name: "vim", Installed: false, Locked: true},
				{Name: "curl", Installed: true, InstalledVersion: "7.0"},
			},
			want: []Step{
				{OpInstall, []string{"vim"}},
			},
		},
		{
			name: "pinned and installed but not locked only locks",
			reqs: []types.PackageRequirement{
				{Name: "nginx", Version: "1.20", Installed: true, InstalledVersion: "1.20-1.el9"},
			},
			want: []Step{
				{OpLock, []string{"nginx-1.20*"}},
			},
		},
		{
			name: "converged pinned package is a no-op",
			reqs: []types.PackageRequirement{
				{Name: "nginx", Version: "1.20", Installed: true, InstalledVersion: "1.20-1.el9", Locked: true},
			},
			want: nil,
		},
		{
			name: "missing pinned package installs and locks",
			reqs: []types.PackageRequirement{
				{Name: "a", Version: "1"},
				{Name: "b"},
			},
			want: []Step{
				{OpInstall, []string{"a-1", "b"}},
				{OpLock, []string{"a-1*"}},
			},
		},
		{
			name: "lexicographic comparison is a known limitation",
			reqs: []types.PackageRequirement{
				{Name: "pkg", Version: "10.0", Installed: true, InstalledVersion: "9.0", Locked: false},
			},
			want: []Step{
				{OpDowngrade, []string{"pkg-10.0"}},
				{OpLock, []string{"pkg-10.0*"}},
			},
		},
		{
			name: "case-insensitive comparison",
			reqs: []types.PackageRequirement{
				{Name: "pkg", Version: "1.0B", Installed: true, InstalledVersion: "1.0a"},
			},
			want: []Step{
				{OpInstall, []string{"pkg-1.0B"}},
				{OpLock, []string{"pkg-1.0B*"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.reqs, tt.locks).Steps()
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLocks(t *testing.T) {
	out := `Loaded plugins: versionlock
0:nginx-1.20.1-1.el9.*
openssl-libs-3.0*

python3-pip-21.3.1-1.el9.noarch
`
	locks := parseLocks(out)
	assert.Equal(t, map[string]string{
		"nginx":        "0:nginx-1.20.1-1.el9.*",
		"openssl-libs": "openssl-libs-3.0*",
		"python3-pip":  "python3-pip-21.3.1-1.el9.noarch",
	}, locks)
}

func TestYumInstallRunsBatchesInOrder(t *testing.T) {
	f := system.NewFakeRunner()
	f.On("yum -q versionlock list", system.Result{Stdout: "0:pkg-1.0-1.*\n"})
	f.On("rpm -q --qf %{VERSION}-%{RELEASE} pkg", system.Result{Stdout: "1.0-1"})
	f.On("rpm -q --qf %{VERSION}-%{RELEASE} tree", system.Result{ExitCode: 1, Stdout: "package tree is not installed"})

	y := NewYum(f)
	changed, err := y.Install(context.Background(), []types.PackageRequirement{
		{Name: "pkg", Version: "2.0"},
		{Name: "tree"},
	})
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, []string{
		"yum -q versionlock delete 0:pkg-1.0-1.*",
		"yum -y install pkg-2.0 tree",
		"yum -q versionlock add pkg-2.0*",
	}, changeLines(f))
}

// changeLines drops the read-only queries, leaving the mutating batches
func changeLines(f *system.FakeRunner) []string {
	var out []string
	for _, l := range f.LinesWithPrefix("yum") {
		if l != "yum -q versionlock list" {
			out = append(out, l)
		}
	}
	return out
}

func TestYumInstallIdempotent(t *testing.T) {
	f := system.NewFakeRunner()
	f.On("yum -q versionlock list", system.Result{Stdout: "pkg-2.0*\n"})
	f.On("rpm -q --qf %{VERSION}-%{RELEASE} pkg", system.Result{Stdout: "2.0-3.el9"})

	changed, err := NewYum(f).Install(context.Background(), []types.PackageRequirement{{Name: "pkg", Version: "2.0"}})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, f.LinesWithPrefix("yum -y"))
	assert.Empty(t, f.LinesWithPrefix("yum -q versionlock add"))
}

func TestYumInstallFailureIsApplyError(t *testing.T) {
	f := system.NewFakeRunner()
	f.On("rpm -q --qf %{VERSION}-%{RELEASE} nope", system.Result{ExitCode: 1})
	f.On("yum -y install nope", system.Result{ExitCode: 1, Stderr: "No match for argument: nope"})

	changed, err := NewYum(f).Install(context.Background(), []types.PackageRequirement{{Name: "nope"}})
	require.Error(t, err)
	assert.False(t, changed)
	assert.True(t, types.IsApply(err))
	assert.Contains(t, err.Error(), "No match")
}

func TestYumRemoveOnlyInstalled(t *testing.T) {
	f := system.NewFakeRunner()
	f.On("rpm -q --qf %{VERSION}-%{RELEASE} a", system.Result{Stdout: "1-1"})
	f.On("rpm -q --qf %{VERSION}-%{RELEASE} b", system.Result{ExitCode: 1})

	y := NewYum(f)
	changed, err := y.Remove(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"yum -y erase a"}, f.LinesWithPrefix("yum"))

	f2 := system.NewFakeRunner()
	f2.Fallback = system.Result{ExitCode: 1}
	changed, err = NewYum(f2).Remove(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.False(t, changed)
}
