package runtime

import (
	"testing"

	"github.com/containerd/containerd/oci"
	"github.com/cuemby/fleetd/pkg/container"
	"github.com/cuemby/fleetd/pkg/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualify(t *testing.T) {
	assert.Equal(t, "docker.io/library/mariadb:10.6", qualify("mariadb:10.6"))
	assert.Equal(t, "registry.local/db/mariadb:10.6", qualify("registry.local/db/mariadb:10.6"))
	assert.Equal(t, "not a ref", qualify("not a ref"))
}

func TestCapNames(t *testing.T) {
	assert.Equal(t, []string{"CAP_SYS_NICE", "CAP_NET_ADMIN"}, capNames([]string{"sys_nice", "CAP_NET_ADMIN"}))
}

func TestBindMounts(t *testing.T) {
	mounts := bindMounts([]types.VolumeBind{{Host: "/srv", Guest: "/data", Mode: "ro"}})
	require.Len(t, mounts, 1)
	assert.Equal(t, "bind", mounts[0].Type)
	assert.Equal(t, []string{"rbind", "ro"}, mounts[0].Options)
}

func TestStateRoundTripsDeclaredAttributes(t *testing.T) {
	spec := &types.ContainerSpec{
		Name:         "mariadb",
		Image:        "mariadb",
		Tag:          "10.6",
		Privileged:   true,
		Syslog:       true,
		Devices:      []string{"/dev/fuse"},
		Capabilities: []string{"SYS_NICE"},
		Volumes: []types.VolumeBind{
			{Host: "/srv/mysql", Guest: "/var/lib/mysql", Mode: "rw"},
			{Host: "/srv/conf", Guest: "/etc/mysql/conf.d", Mode: "ro"},
		},
	}

	ociSpec := &oci.Spec{
		Process: &specs.Process{Env: []string{"PATH=/usr/bin", "A=1"}},
		Mounts: append([]specs.Mount{
			{Destination: "/proc", Type: "proc", Source: "proc"},
			{Destination: "/etc/hosts", Type: "bind", Source: "/etc/hosts", Options: []string{"rbind", "ro"}},
		}, bindMounts(spec.Volumes)...),
		Linux: &specs.Linux{Devices: []specs.LinuxDevice{{Path: "/dev/fuse"}}},
	}

	st := stateFromSpec("mariadb", containerLabels(spec, "sha256:abc"), ociSpec)

	assert.Equal(t, "sha256:abc", st.ImageID)
	assert.True(t, st.Privileged)
	assert.Equal(t, container.LogDriverSyslog, st.LogDriver)
	assert.Equal(t, []string{"SYS_NICE"}, st.CapAdd)
	assert.Equal(t, []string{"/dev/fuse"}, st.Devices)
	assert.Equal(t, []string{"/srv/mysql:/var/lib/mysql:rw", "/srv/conf:/etc/mysql/conf.d:ro"}, st.Binds)

	assert.Empty(t, container.Drift(spec, []string{"A=1"}, st))
}

func TestStateWithoutSpec(t *testing.T) {
	st := stateFromSpec("x", map[string]string{}, nil)
	assert.False(t, st.Privileged)
	assert.Nil(t, st.CapAdd)
	assert.Empty(t, st.LogDriver)
}
