package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/runtime/restart"
	"github.com/cuemby/fleetd/pkg/container"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultNamespace is the containerd namespace for fleetd containers
	DefaultNamespace = "fleetd"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// DefaultLogShim is the binary containerd spawns to forward output to syslog
	DefaultLogShim = "/usr/local/bin/fleetd-logshim"

	// DefaultSyslogAddress is the host syslog endpoint
	DefaultSyslogAddress = "udp://127.0.0.1:514"
)

// Options configures a ContainerdRuntime
type Options struct {
	SocketPath    string
	Namespace     string
	LogShim       string
	SyslogAddress string
}

// ContainerdRuntime implements container.Runtime using containerd
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
	logShim   string
	syslog    string
	logger    zerolog.Logger
}

var _ container.Runtime = (*ContainerdRuntime)(nil)

// NewContainerdRuntime connects to containerd
func NewContainerdRuntime(opts Options) (*ContainerdRuntime, error) {
	if opts.SocketPath == "" {
		opts.SocketPath = DefaultSocketPath
	}
	if opts.Namespace == "" {
		opts.Namespace = DefaultNamespace
	}
	if opts.LogShim == "" {
		opts.LogShim = DefaultLogShim
	}
	if opts.SyslogAddress == "" {
		opts.SyslogAddress = DefaultSyslogAddress
	}

	client, err := containerd.New(opts.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRuntime{
		client:    client,
		namespace: opts.Namespace,
		logShim:   opts.LogShim,
		syslog:    opts.SyslogAddress,
		logger:    log.WithComponent("containerd"),
	}, nil
}

// Close closes the containerd client connection
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *ContainerdRuntime) ns(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, r.namespace)
}

func notFound(err error) error {
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("%v: %w", err, container.ErrNotFound)
	}
	return err
}

// ImageID returns the manifest digest of a local image
func (r *ContainerdRuntime) ImageID(ctx context.Context, ref string) (string, error) {
	image, err := r.client.GetImage(r.ns(ctx), qualify(ref))
	if err != nil {
		return "", notFound(err)
	}
	return image.Target().Digest.String(), nil
}

// Pull pulls and unpacks an image, returning its digest
func (r *ContainerdRuntime) Pull(ctx context.Context, ref string) (string, error) {
	image, err := r.client.Pull(r.ns(ctx), qualify(ref), containerd.WithPullUnpack)
	if err != nil {
		return "", fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return image.Target().Digest.String(), nil
}

// Inspect reads back the container record, its OCI spec and task status
func (r *ContainerdRuntime) Inspect(ctx context.Context, name string) (*container.State, error) {
	ctx = r.ns(ctx)

	c, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		return nil, notFound(err)
	}
	labels, err := c.Labels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels of %s: %w", name, err)
	}
	spec, err := c.Spec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec of %s: %w", name, err)
	}

	st := stateFromSpec(name, labels, spec)

	task, err := c.Task(ctx, nil)
	if err == nil {
		status, err := task.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get task status: %w", err)
		}
		st.Running = status.Status == containerd.Running
	}

	return st, nil
}

// Create builds the container with host networking and the declared
// mounts, devices and capabilities. Long-lived containers are registered
// with the restart monitor.
func (r *ContainerdRuntime) Create(ctx context.Context, spec *types.ContainerSpec, env []string, args []string) error {
	ctx = r.ns(ctx)

	image, err := r.client.GetImage(ctx, qualify(spec.Ref()))
	if err != nil {
		return fmt.Errorf("failed to get image %s: %w", spec.Ref(), err)
	}

	opts := []containerd.NewContainerOpts{
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.Name+"-snapshot", image),
		containerd.WithNewSpec(specOpts(image, spec, env, args)...),
		containerd.WithContainerLabels(containerLabels(spec, image.Target().Digest.String())),
	}

	if !spec.Ephemeral {
		opts = append(opts, restart.WithStatus(containerd.Running))
		if spec.Syslog {
			uri, err := cio.LogURIGenerator("binary", r.logShim, r.logShimArgs(spec.Name))
			if err != nil {
				return fmt.Errorf("failed to build log uri: %w", err)
			}
			opts = append(opts, restart.WithLogURI(uri))
		}
	}

	if _, err := r.client.NewContainer(ctx, spec.Name, opts...); err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	r.logger.Debug().Str("container", spec.Name).Msg("container created")
	return nil
}

func (r *ContainerdRuntime) logShimArgs(name string) map[string]string {
	return map[string]string{
		"--address": r.syslog,
		"--tag":     name,
		"--format":  "rfc5424",
	}
}

// Start starts the container's task in the background
func (r *ContainerdRuntime) Start(ctx context.Context, name string) error {
	ctx = r.ns(ctx)

	c, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", name, notFound(err))
	}
	labels, err := c.Labels(ctx)
	if err != nil {
		return fmt.Errorf("failed to read labels of %s: %w", name, err)
	}

	creator := cio.NullIO
	if labels[labelLogDriver] == container.LogDriverSyslog {
		uri, err := cio.LogURIGenerator("binary", r.logShim, r.logShimArgs(name))
		if err != nil {
			return fmt.Errorf("failed to build log uri: %w", err)
		}
		creator = cio.LogURI(uri)
	}

	task, err := c.NewTask(ctx, creator)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		if _, derr := task.Delete(ctx, containerd.WithProcessKill); derr != nil {
			r.logger.Warn().Err(derr).Str("container", name).Msg("failed to clean up task")
		}
		return fmt.Errorf("failed to start task: %w", err)
	}
	return nil
}

// Run starts the container attached and waits for it to exit. When ctx
// ends first the task is killed.
func (r *ContainerdRuntime) Run(ctx context.Context, name string) (int, string, error) {
	bg := r.ns(context.Background())

	c, err := r.client.LoadContainer(bg, name)
	if err != nil {
		return -1, "", fmt.Errorf("failed to load container %s: %w", name, notFound(err))
	}

	out := &syncBuffer{}
	task, err := c.NewTask(bg, cio.NewCreator(cio.WithStreams(nil, out, out)))
	if err != nil {
		return -1, "", fmt.Errorf("failed to create task: %w", err)
	}
	defer func() {
		if _, err := task.Delete(bg, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
			r.logger.Warn().Err(err).Str("container", name).Msg("failed to delete task")
		}
	}()

	// Wait must be registered before Start so a fast exit is not missed
	statusC, err := task.Wait(bg)
	if err != nil {
		return -1, "", fmt.Errorf("failed to wait for task: %w", err)
	}
	if err := task.Start(bg); err != nil {
		return -1, "", fmt.Errorf("failed to start task: %w", err)
	}

	select {
	case status := <-statusC:
		code, _, err := status.Result()
		task.CloseIO(bg, containerd.WithStdinCloser)
		if io := task.IO(); io != nil {
			io.Wait()
		}
		if err != nil {
			return -1, out.String(), err
		}
		return int(code), out.String(), nil
	case <-ctx.Done():
		if err := task.Kill(bg, syscall.SIGKILL); err != nil && !errdefs.IsNotFound(err) {
			r.logger.Warn().Err(err).Str("container", name).Msg("failed to kill task")
		}
		<-statusC
		return -1, out.String(), ctx.Err()
	}
}

// Stop stops a running container, escalating to SIGKILL after timeout
func (r *ContainerdRuntime) Stop(ctx context.Context, name string, timeout time.Duration) error {
	ctx = r.ns(ctx)

	c, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to load container %s: %w", name, err)
	}

	task, err := c.Task(ctx, nil)
	if err != nil {
		// No task, nothing running
		return nil
	}

	// The restart monitor would bring the task back
	if err := c.Update(ctx, restart.WithNoRestarts); err != nil {
		return fmt.Errorf("failed to disable restarts: %w", err)
	}

	statusC, err := task.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}

	if err := task.Kill(ctx, syscall.SIGTERM); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to kill task: %w", err)
	}

	select {
	case <-statusC:
	case <-time.After(timeout):
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
		<-statusC
	case <-ctx.Done():
		return ctx.Err()
	}

	if _, err := task.Delete(ctx); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// Remove deletes a container and its snapshot, stopping it first
func (r *ContainerdRuntime) Remove(ctx context.Context, name string) error {
	ctx = r.ns(ctx)

	c, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to load container %s: %w", name, err)
	}

	if err := r.Stop(ctx, name, 10*time.Second); err != nil {
		r.logger.Warn().Err(err).Str("container", name).Msg("failed to stop container before delete")
	}

	if err := c.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to delete container: %w", err)
	}
	return nil
}

// syncBuffer collects task output written from the shim's copy goroutines
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
