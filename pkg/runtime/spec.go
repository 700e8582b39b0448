package runtime

import (
	"strconv"
	"strings"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/oci"
	"github.com/containerd/containerd/reference/docker"
	"github.com/cuemby/fleetd/pkg/container"
	"github.com/cuemby/fleetd/pkg/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Labels recording the declared attributes that cannot be read back
// reliably from the OCI spec
const (
	labelPrivileged = "io.fleetd.privileged"
	labelLogDriver  = "io.fleetd.log-driver"
	labelCapAdd     = "io.fleetd.cap-add"
	labelImage      = "io.fleetd.image"
	labelImageID    = "io.fleetd.image-id"
	labelEphemeral  = "io.fleetd.ephemeral"
)

// Mounts added by host networking rather than declared by a module
var hostFileMounts = map[string]bool{
	"/etc/hosts":       true,
	"/etc/resolv.conf": true,
}

// qualify expands short references like mariadb:10.6 to docker.io/library/mariadb:10.6
func qualify(ref string) string {
	named, err := docker.ParseDockerRef(ref)
	if err != nil {
		return ref
	}
	return named.String()
}

func capNames(caps []string) []string {
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		c = strings.ToUpper(c)
		if !strings.HasPrefix(c, "CAP_") {
			c = "CAP_" + c
		}
		out = append(out, c)
	}
	return out
}

func bindMounts(volumes []types.VolumeBind) []specs.Mount {
	mounts := make([]specs.Mount, 0, len(volumes))
	for _, v := range volumes {
		mounts = append(mounts, specs.Mount{
			Source:      v.Host,
			Destination: v.Guest,
			Type:        "bind",
			Options:     []string{"rbind", v.Mode},
		})
	}
	return mounts
}

func specOpts(image containerd.Image, spec *types.ContainerSpec, env, args []string) []oci.SpecOpts {
	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithHostNamespace(specs.NetworkNamespace),
		oci.WithHostHostsFile,
		oci.WithHostResolvconf,
		oci.WithEnv(env),
	}
	if len(args) > 0 {
		opts = append(opts, oci.WithProcessArgs(args...))
	}
	if spec.Privileged {
		opts = append(opts, oci.WithPrivileged)
	}
	if len(spec.Capabilities) > 0 {
		opts = append(opts, oci.WithAddedCapabilities(capNames(spec.Capabilities)))
	}
	for _, dev := range spec.Devices {
		opts = append(opts, oci.WithLinuxDevice(dev, "rwm"))
	}
	if len(spec.Volumes) > 0 {
		opts = append(opts, oci.WithMounts(bindMounts(spec.Volumes)))
	}
	return opts
}

func containerLabels(spec *types.ContainerSpec, imageID string) map[string]string {
	driver := container.LogDriverNone
	if spec.Syslog {
		driver = container.LogDriverSyslog
	}
	return map[string]string{
		labelPrivileged: strconv.FormatBool(spec.Privileged),
		labelLogDriver:  driver,
		labelCapAdd:     strings.Join(spec.Capabilities, ","),
		labelImage:      spec.Ref(),
		labelImageID:    imageID,
		labelEphemeral:  strconv.FormatBool(spec.Ephemeral),
	}
}

// stateFromSpec rebuilds the comparable view of a container. Running is
// filled in by the caller from the task status.
func stateFromSpec(name string, labels map[string]string, spec *oci.Spec) *container.State {
	st := &container.State{
		Name:      name,
		ImageID:   labels[labelImageID],
		LogDriver: labels[labelLogDriver],
	}
	st.Privileged, _ = strconv.ParseBool(labels[labelPrivileged])
	if caps := labels[labelCapAdd]; caps != "" {
		st.CapAdd = strings.Split(caps, ",")
	}
	if spec == nil {
		return st
	}

	if spec.Process != nil {
		st.Env = append([]string(nil), spec.Process.Env...)
	}
	for _, m := range spec.Mounts {
		if m.Type != "bind" || hostFileMounts[m.Destination] {
			continue
		}
		mode := "rw"
		for _, o := range m.Options {
			if o == "ro" {
				mode = "ro"
			}
		}
		st.Binds = append(st.Binds, types.VolumeBind{Host: m.Source, Guest: m.Destination, Mode: mode}.String())
	}
	if spec.Linux != nil {
		for _, d := range spec.Linux.Devices {
			st.Devices = append(st.Devices, d.Path)
		}
	}
	return st
}
