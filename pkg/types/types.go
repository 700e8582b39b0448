package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ModuleKind defines what a module converges
type ModuleKind string

const (
	ModuleKindSystem    ModuleKind = "system"
	ModuleKindContainer ModuleKind = "container"
)

// Module is a named bundle of host resources and/or one container.
// A Module is built by the plan compiler and never mutated afterwards.
type Module struct {
	Name       string
	Kind       ModuleKind
	Registered bool
	Files      []FileDecl
	Packages   []PackageRequirement
	Purge      []string // Packages removed when present
	Services   []string
	Container  *ContainerSpec // Container kind only
	Checks     []CheckSpec
}

// FileDecl declares one templated file owned by a module
type FileDecl struct {
	Module string
	Source string // Absolute path of the source inside the checkout
	Target string // Rendered absolute path on the host
}

// VolumeBind is a host:guest:mode bind mount
type VolumeBind struct {
	Host  string
	Guest string
	Mode  string // "rw" or "ro"
}

// String renders the bind in its declared host:guest:mode form
func (v VolumeBind) String() string {
	return v.Host + ":" + v.Guest + ":" + v.Mode
}

// ParseVolumeBind parses "host:guest[:mode]"; mode defaults to rw
func ParseVolumeBind(s string) (VolumeBind, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return VolumeBind{}, fmt.Errorf("invalid volume %q: expected host:guest[:mode]", s)
	}
	bind := VolumeBind{Host: parts[0], Guest: parts[1], Mode: "rw"}
	if len(parts) == 3 {
		switch parts[2] {
		case "rw", "ro":
			bind.Mode = parts[2]
		default:
			return VolumeBind{}, fmt.Errorf("invalid volume %q: mode must be rw or ro", s)
		}
	}
	return bind, nil
}

// ContainerSpec is the declared shape of a module's container
type ContainerSpec struct {
	Name         string
	Image        string
	Tag          string
	Privileged   bool
	Syslog       bool
	Environments []string // Env file names, read from the host env dir
	Devices      []string
	Volumes      []VolumeBind
	Capabilities []string
	Ephemeral    bool
}

// Ref returns the image reference image:tag
func (c *ContainerSpec) Ref() string {
	tag := c.Tag
	if tag == "" {
		tag = "latest"
	}
	return c.Image + ":" + tag
}

// EphemeralCopy derives a one-shot variant: same fields, unique name, no restart policy
func (c *ContainerSpec) EphemeralCopy() *ContainerSpec {
	cp := *c
	cp.Name = fmt.Sprintf("%s-%s", c.Name, uuid.NewString()[:8])
	cp.Ephemeral = true
	cp.Environments = append([]string(nil), c.Environments...)
	cp.Devices = append([]string(nil), c.Devices...)
	cp.Volumes = append([]VolumeBind(nil), c.Volumes...)
	cp.Capabilities = append([]string(nil), c.Capabilities...)
	return &cp
}

// PackageRequirement is a package name with an optional pinned version,
// plus facts observed on the host
type PackageRequirement struct {
	Name    string
	Version string

	// Observed
	Installed        bool
	InstalledVersion string
	Locked           bool
}

// ParsePackageRequirement parses "name" or "name=version"
func ParsePackageRequirement(s string) (PackageRequirement, error) {
	s = strings.TrimSpace(s)
	name, version, _ := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if name == "" {
		return PackageRequirement{}, fmt.Errorf("invalid package %q: empty name", s)
	}
	if strings.Contains(s, "=") && version == "" {
		return PackageRequirement{}, fmt.Errorf("invalid package %q: empty version", s)
	}
	return PackageRequirement{Name: name, Version: version}, nil
}

// String renders name or name=version
func (p PackageRequirement) String() string {
	if p.Version == "" {
		return p.Name
	}
	return p.Name + "=" + p.Version
}

// CheckSpec declares a post-deploy health check
type CheckSpec struct {
	Type    string // "http", "tcp", "exec", "grpc"
	Target  string // URL, address, or command line
	Timeout time.Duration
}

// AgentStatus is the agent's control-loop state
type AgentStatus string

const (
	AgentStatusStandby  AgentStatus = "STANDBY"
	AgentStatusUpdating AgentStatus = "UPDATING"
	AgentStatusShutdown AgentStatus = "SHUTDOWN"
)

// StatusUpdate is sent on every agent state transition
type StatusUpdate struct {
	Hostname string      `json:"hostname"`
	Date     time.Time   `json:"date"`
	Status   AgentStatus `json:"status"`
}

// ReportReason classifies a deployment report
type ReportReason string

const (
	ReportUpdateSuccess  ReportReason = "UPDATE_SUCCESS"
	ReportUpdateNoChange ReportReason = "UPDATE_NOCHANGE"
	ReportUpdateFailure  ReportReason = "UPDATE_FAILURE"
	ReportSystemStatus   ReportReason = "SYSTEM_STATUS"
)

// Report is produced once per triggered run, or on REPORT command
type Report struct {
	Hostname string       `json:"hostname"`
	Date     time.Time    `json:"date"`
	Reason   ReportReason `json:"reason"`
	Content  string       `json:"content"` // Opaque encoded snapshot
}

// Command is delivered to the agent over the control channel
type Command string

const (
	CommandRun      Command = "RUN"
	CommandReport   Command = "REPORT"
	CommandShutdown Command = "SHUTDOWN"

	// CommandTimeout is the long-poll sentinel: nothing to do, poll again
	CommandTimeout Command = "TIMEOUT"
)

// Valid reports whether c is a command the server may enqueue
func (c Command) Valid() bool {
	switch c {
	case CommandRun, CommandReport, CommandShutdown:
		return true
	}
	return false
}
