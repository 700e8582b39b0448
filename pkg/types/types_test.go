package types

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVolumeBind(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    VolumeBind
		wantErr bool
	}{
		{name: "default mode", in: "/etc/nova:/etc/nova", want: VolumeBind{"/etc/nova", "/etc/nova", "rw"}},
		{name: "read only", in: "/dev/log:/dev/log:ro", want: VolumeBind{"/dev/log", "/dev/log", "ro"}},
		{name: "bad mode", in: "/a:/b:rx", wantErr: true},
		{name: "missing guest", in: "/a", wantErr: true},
		{name: "empty host", in: ":/b", wantErr: true},
		{name: "too many parts", in: "/a:/b:ro:x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVolumeBind(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePackageRequirement(t *testing.T) {
	p, err := ParsePackageRequirement("nginx=1.24.0-1")
	require.NoError(t, err)
	assert.Equal(t, "nginx", p.Name)
	assert.Equal(t, "1.24.0-1", p.Version)
	assert.Equal(t, "nginx=1.24.0-1", p.String())

	p, err = ParsePackageRequirement("chrony")
	require.NoError(t, err)
	assert.Empty(t, p.Version)

	_, err = ParsePackageRequirement("=1.0")
	assert.Error(t, err)
	_, err = ParsePackageRequirement("vim=")
	assert.Error(t, err)
}

func TestEphemeralCopy(t *testing.T) {
	spec := &ContainerSpec{
		Name:         "nova-api",
		Image:        "registry/nova-api",
		Tag:          "2024.1",
		Privileged:   true,
		Syslog:       true,
		Volumes:      []VolumeBind{{"/etc/nova", "/etc/nova", "ro"}},
		Capabilities: []string{"NET_ADMIN"},
	}

	eph := spec.EphemeralCopy()
	assert.True(t, eph.Ephemeral)
	assert.False(t, spec.Ephemeral)
	assert.True(t, strings.HasPrefix(eph.Name, "nova-api-"))
	assert.NotEqual(t, spec.Name, eph.Name)
	assert.NotEqual(t, eph.Name, spec.EphemeralCopy().Name)
	assert.Equal(t, spec.Ref(), eph.Ref())
	assert.Equal(t, spec.Volumes, eph.Volumes)

	eph.Capabilities[0] = "SYS_ADMIN"
	assert.Equal(t, "NET_ADMIN", spec.Capabilities[0])
}

func TestRefDefaultsToLatest(t *testing.T) {
	spec := &ContainerSpec{Image: "busybox"}
	assert.Equal(t, "busybox:latest", spec.Ref())
}

func TestErrorKindsSurviveWrapping(t *testing.T) {
	cfg := fmt.Errorf("compile: %w", NewConfigurationError("module ntp", "duplicate target %s", "/etc/ntp.conf"))
	assert.True(t, IsConfiguration(cfg))
	assert.False(t, IsApply(cfg))

	apply := fmt.Errorf("run: %w", NewApplyError("container db", ErrTimeout))
	assert.True(t, IsApply(apply))
	assert.True(t, errors.Is(apply, ErrTimeout))

	assert.True(t, IsValidation(&ValidationFailure{Check: "service ntp", Message: "inactive"}))
	assert.True(t, IsTransport(fmt.Errorf("poll: %w", &TransportError{Op: "poll", Err: errors.New("refused")})))
}

func TestCommandValid(t *testing.T) {
	assert.True(t, CommandRun.Valid())
	assert.True(t, CommandReport.Valid())
	assert.True(t, CommandShutdown.Valid())
	assert.False(t, CommandTimeout.Valid())
	assert.False(t, Command("REBOOT").Valid())
}
