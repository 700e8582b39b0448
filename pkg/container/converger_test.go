package container

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/fleetd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mariadbSpec() *types.ContainerSpec {
	return &types.ContainerSpec{
		Name:         "mariadb",
		Image:        "registry.local/mariadb",
		Tag:          "10.6",
		Syslog:       true,
		Environments: []string{"mariadb.env"},
		Volumes: []types.VolumeBind{
			{Host: "/srv/mysql", Guest: "/var/lib/mysql", Mode: "rw"},
		},
		Capabilities: []string{"SYS_NICE"},
	}
}

func writeEnv(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

// convergedFixture returns a runtime where spec is already running as declared
func convergedFixture(t *testing.T, spec *types.ContainerSpec) (*FakeRuntime, *Converger) {
	t.Helper()
	dir := t.TempDir()
	writeEnv(t, dir, "mariadb.env", "# db\nMYSQL_ROOT_PASSWORD=secret\n\nTZ=UTC\n")

	rt := NewFakeRuntime()
	rt.Images[spec.Ref()] = "sha256:aaa"
	rt.Registry[spec.Ref()] = "sha256:aaa"

	c := NewConverger(rt, dir)
	_, changed, err := c.Ensure(context.Background(), spec)
	require.NoError(t, err)
	require.True(t, changed)
	rt.Reset()
	return rt, c
}

func TestEnsureCreatesAbsentContainer(t *testing.T) {
	dir := t.TempDir()
	writeEnv(t, dir, "mariadb.env", "A=1\n")
	spec := mariadbSpec()

	rt := NewFakeRuntime()
	rt.Registry[spec.Ref()] = "sha256:aaa"
	c := NewConverger(rt, dir)

	d, changed, err := c.Ensure(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, d.NeedPull)
	assert.True(t, d.NeedRestart)
	assert.Equal(t, []string{
		"pull registry.local/mariadb:10.6",
		"create mariadb",
		"start mariadb",
	}, rt.Operations())

	st := rt.Containers["mariadb"]
	require.NotNil(t, st)
	assert.True(t, st.Running)
	assert.Equal(t, []string{"A=1"}, st.Env)
	assert.Equal(t, LogDriverSyslog, st.LogDriver)
}

func TestEnsureIsIdempotent(t *testing.T) {
	spec := mariadbSpec()
	rt, c := convergedFixture(t, spec)

	d, changed, err := c.Ensure(context.Background(), spec)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, d.NeedPull)
	assert.False(t, d.NeedRestart)
	assert.Empty(t, rt.Operations())
}

func TestEnsureVolumeDriftRecreatesWithoutPull(t *testing.T) {
	spec := mariadbSpec()
	rt, c := convergedFixture(t, spec)

	spec.Volumes = append(spec.Volumes, types.VolumeBind{Host: "/srv/conf", Guest: "/etc/mysql/conf.d", Mode: "ro"})

	d, changed, err := c.Ensure(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, d.NeedPull)
	assert.True(t, d.NeedRestart)
	assert.Equal(t, []string{"volumes"}, d.Reasons)
	assert.Equal(t, []string{
		"stop mariadb",
		"remove mariadb",
		"create mariadb",
		"start mariadb",
	}, rt.Operations())
	assert.Len(t, rt.Containers["mariadb"].Binds, 2)
}

func TestEnsureIgnoresOrderAndExtraEnv(t *testing.T) {
	spec := mariadbSpec()
	spec.Devices = []string{"/dev/sda", "/dev/sdb"}
	spec.Capabilities = []string{"NET_ADMIN", "SYS_NICE"}
	rt, c := convergedFixture(t, spec)

	st := rt.Containers["mariadb"]
	st.Devices = []string{"/dev/sdb", "/dev/sda"}
	st.CapAdd = []string{"CAP_SYS_NICE", "cap_net_admin"}
	st.Env = append(st.Env, "PATH=/usr/bin", "HOSTNAME=db1")

	_, changed, err := c.Ensure(context.Background(), spec)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, rt.Operations())
}

func TestEnsureDetectsDrift(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(st *State)
		reason string
	}{
		{"privileged", func(st *State) { st.Privileged = true }, "privileged"},
		{"log driver", func(st *State) { st.LogDriver = LogDriverNone }, "log driver"},
		{"devices", func(st *State) { st.Devices = []string{"/dev/fuse"} }, "devices"},
		{"capabilities", func(st *State) { st.CapAdd = nil }, "capabilities"},
		{"environment value", func(st *State) { st.Env = []string{"MYSQL_ROOT_PASSWORD=other", "TZ=UTC"} }, "environment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := mariadbSpec()
			rt, c := convergedFixture(t, spec)
			tt.mutate(rt.Containers["mariadb"])

			d, changed, err := c.Ensure(context.Background(), spec)
			require.NoError(t, err)
			assert.True(t, changed)
			assert.False(t, d.NeedPull)
			assert.Equal(t, []string{tt.reason}, d.Reasons)
		})
	}
}

func TestEnsureStoppedContainerIsRecreated(t *testing.T) {
	spec := mariadbSpec()
	rt, c := convergedFixture(t, spec)
	rt.Containers["mariadb"].Running = false

	d, changed, err := c.Ensure(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"container not running"}, d.Reasons)
	assert.Equal(t, []string{"stop mariadb", "remove mariadb", "create mariadb", "start mariadb"}, rt.Operations())
}

func TestEnsureLatestAlwaysPulls(t *testing.T) {
	spec := mariadbSpec()
	spec.Tag = "latest"
	rt, c := convergedFixture(t, spec)

	t.Run("unchanged image is a no-op", func(t *testing.T) {
		rt.Reset()
		d, changed, err := c.Ensure(context.Background(), spec)
		require.NoError(t, err)
		assert.True(t, d.NeedPull)
		assert.False(t, d.NeedRestart)
		assert.False(t, changed)
		assert.Equal(t, []string{"pull registry.local/mariadb:latest"}, rt.Operations())
	})

	t.Run("new image recreates", func(t *testing.T) {
		rt.Reset()
		rt.Registry[spec.Ref()] = "sha256:bbb"
		d, changed, err := c.Ensure(context.Background(), spec)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.True(t, d.NeedRestart)
		assert.Contains(t, d.Reasons, "image changed")
		assert.Equal(t, []string{
			"pull registry.local/mariadb:latest",
			"stop mariadb",
			"remove mariadb",
			"create mariadb",
			"start mariadb",
		}, rt.Operations())
		assert.Equal(t, "sha256:bbb", rt.Containers["mariadb"].ImageID)
	})
}

func TestEnsureMissingEnvFile(t *testing.T) {
	rt := NewFakeRuntime()
	c := NewConverger(rt, t.TempDir())

	_, changed, err := c.Ensure(context.Background(), mariadbSpec())
	require.Error(t, err)
	assert.True(t, types.IsApply(err))
	assert.False(t, changed)
	assert.Empty(t, rt.Operations())
}

func TestEnsureStartFailure(t *testing.T) {
	dir := t.TempDir()
	writeEnv(t, dir, "mariadb.env", "A=1\n")
	spec := mariadbSpec()

	rt := NewFakeRuntime()
	rt.Images[spec.Ref()] = "sha256:aaa"
	rt.Errors["start mariadb"] = errors.New("exec format error")
	c := NewConverger(rt, dir)

	_, _, err := c.Ensure(context.Background(), spec)
	require.Error(t, err)
	assert.True(t, types.IsApply(err))
	assert.Contains(t, err.Error(), "exec format error")
}

func TestRunEphemeral(t *testing.T) {
	dir := t.TempDir()
	writeEnv(t, dir, "mariadb.env", "A=1\n")
	spec := mariadbSpec()

	newRuntime := func() *FakeRuntime {
		rt := NewFakeRuntime()
		rt.Images[spec.Ref()] = "sha256:aaa"
		return rt
	}

	t.Run("success removes container", func(t *testing.T) {
		rt := newRuntime()
		rt.RunFunc = func(ctx context.Context, name string) (int, string, error) {
			return 0, "upgrade ok\n", nil
		}
		c := NewConverger(rt, dir)

		out, err := c.RunEphemeral(context.Background(), spec, "mysql", []string{"mysql_upgrade"}, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "upgrade ok\n", out)

		ops := rt.Operations()
		require.Len(t, ops, 3)
		assert.True(t, strings.HasPrefix(ops[0], "create mariadb-"))
		assert.True(t, strings.HasPrefix(ops[1], "run mariadb-"))
		assert.True(t, strings.HasPrefix(ops[2], "remove mariadb-"))
		assert.Empty(t, rt.Containers)
		assert.NotContains(t, ops, "stop mariadb")
	})

	t.Run("non-zero exit", func(t *testing.T) {
		rt := newRuntime()
		rt.RunFunc = func(ctx context.Context, name string) (int, string, error) {
			return 2, "table is marked as crashed", nil
		}
		c := NewConverger(rt, dir)

		_, err := c.RunEphemeral(context.Background(), spec, "mysql", []string{"mysql_upgrade"}, time.Minute)
		require.Error(t, err)
		assert.True(t, types.IsApply(err))
		assert.Contains(t, err.Error(), "exit status 2")
		assert.Empty(t, rt.Containers)
	})

	t.Run("timeout", func(t *testing.T) {
		rt := newRuntime()
		rt.RunFunc = func(ctx context.Context, name string) (int, string, error) {
			<-ctx.Done()
			return -1, "", ctx.Err()
		}
		c := NewConverger(rt, dir)

		_, err := c.RunEphemeral(context.Background(), spec, "", []string{"sleep", "600"}, 20*time.Millisecond)
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrTimeout))
		assert.Empty(t, rt.Containers)
	})

	t.Run("pulls absent image", func(t *testing.T) {
		rt := NewFakeRuntime()
		rt.Registry[spec.Ref()] = "sha256:aaa"
		c := NewConverger(rt, dir)

		_, err := c.RunEphemeral(context.Background(), spec, "", []string{"true"}, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "pull registry.local/mariadb:10.6", rt.Operations()[0])
	})
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	writeEnv(t, dir, "a.env", "A=1\n# comment\nB=x=y\n")
	writeEnv(t, dir, "b.env", "\nC=3\n")
	writeEnv(t, dir, "bad.env", "NOEQUALS\n")

	env, err := LoadEnv(dir, []string{"a.env", "b.env"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1", "B=x=y", "C=3"}, env)

	_, err = LoadEnv(dir, []string{"bad.env"})
	assert.True(t, types.IsConfiguration(err))

	_, err = LoadEnv(dir, []string{"missing.env"})
	assert.True(t, types.IsApply(err))
}
