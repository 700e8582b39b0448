package plan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/fleetd/pkg/container"
	"github.com/cuemby/fleetd/pkg/files"
	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/types"
	"github.com/rs/zerolog"
)

// CompiledModule is a module bound to the variant that will deploy it
type CompiledModule struct {
	Module  *types.Module
	Variant Variant
}

// Plan is the ordered list of modules for one role at one revision
type Plan struct {
	Role     string
	Revision string
	Modules  []*CompiledModule
}

// Targets lists every claimed target path in plan order
func (p *Plan) Targets() []string {
	var targets []string
	for _, cm := range p.Modules {
		for _, f := range cm.Module.Files {
			targets = append(targets, f.Target)
		}
	}
	return targets
}

// Compiler turns a checkout and a role name into a Plan
type Compiler struct {
	registry *Registry
	envDir   string
	logger   zerolog.Logger
}

// NewCompiler creates a compiler. envDir is where modules' environment
// files are deployed and where containers read them from.
func NewCompiler(registry *Registry, envDir string) *Compiler {
	if envDir == "" {
		envDir = container.DefaultEnvDir
	}
	return &Compiler{
		registry: registry,
		envDir:   envDir,
		logger:   log.WithComponent("plan"),
	}
}

// Compile is NewCompiler(registry, "").Compile
func Compile(ctx context.Context, checkout, role string, props map[string]string, registry *Registry) (*Plan, error) {
	return NewCompiler(registry, "").Compile(ctx, checkout, role, props)
}

// Compile loads roles/<role>.yaml and every module it names. Any
// violation aborts compilation and no plan is returned.
func (c *Compiler) Compile(ctx context.Context, checkout, role string, props map[string]string) (*Plan, error) {
	rolePath := filepath.Join(checkout, "roles", role+".yaml")
	roleDecl, err := LoadRole(rolePath)
	if err != nil {
		return nil, types.NewConfigurationError("role "+role, "%v", err)
	}
	if len(roleDecl.Modules) == 0 {
		return nil, types.NewConfigurationError("role "+role, "no modules declared")
	}

	p := &Plan{Role: role, Revision: props["REVISION"]}
	claimed := make(map[string]string) // target -> module

	// A module may be listed more than once; one that deploys files then
	// fails on its own targets below
	for _, name := range roleDecl.Modules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m, err := c.buildModule(checkout, name, props)
		if err != nil {
			return nil, err
		}

		for _, f := range m.Files {
			if owner, dup := claimed[f.Target]; dup {
				return nil, types.NewConfigurationError("module "+name, "target %s already claimed by module %s", f.Target, owner)
			}
			claimed[f.Target] = name
		}

		variant, err := c.registry.Resolve(m)
		if err != nil {
			return nil, err
		}
		p.Modules = append(p.Modules, &CompiledModule{Module: m, Variant: variant})
	}

	c.logger.Debug().
		Str("role", role).
		Str("revision", p.Revision).
		Int("modules", len(p.Modules)).
		Int("files", len(claimed)).
		Msg("plan compiled")
	return p, nil
}

func (c *Compiler) buildModule(checkout, name string, props map[string]string) (*types.Module, error) {
	subject := "module " + name
	moduleDir := filepath.Join(checkout, "modules", name)

	decl, err := LoadModule(filepath.Join(moduleDir, "module.yaml"))
	if err != nil {
		return nil, types.NewConfigurationError(subject, "%v", err)
	}
	if decl.Name != "" && decl.Name != name {
		return nil, types.NewConfigurationError(subject, "declaration names module %q", decl.Name)
	}

	m := &types.Module{
		Name:       name,
		Kind:       types.ModuleKind(decl.Kind),
		Registered: decl.Registered,
		Purge:      decl.Purge,
		Services:   decl.Services,
	}

	for _, pkg := range decl.Packages {
		req, err := types.ParsePackageRequirement(pkg)
		if err != nil {
			return nil, types.NewConfigurationError(subject, "%v", err)
		}
		m.Packages = append(m.Packages, req)
	}

	for _, chk := range decl.Checks {
		target, err := files.RenderString(subject, chk.Target, props)
		if err != nil {
			return nil, err
		}
		m.Checks = append(m.Checks, types.CheckSpec{Type: chk.Type, Target: target, Timeout: chk.Timeout})
	}

	filesDir := filepath.Join(moduleDir, "files")
	for _, entry := range decl.Files {
		if entry.Source == "" || entry.Target == "" {
			return nil, types.NewConfigurationError(subject, "file entries need source and target")
		}
		src, err := resolveSource(filesDir, entry.Source)
		if err != nil {
			return nil, types.NewConfigurationError(subject, "%v", err)
		}
		target, err := files.RenderString(subject, entry.Target, props)
		if err != nil {
			return nil, err
		}
		if !filepath.IsAbs(target) {
			return nil, types.NewConfigurationError(subject, "target %s is not absolute", target)
		}
		m.Files = append(m.Files, types.FileDecl{Module: name, Source: src, Target: filepath.Clean(target)})
	}

	switch m.Kind {
	case types.ModuleKindSystem:
		if decl.Image != "" {
			return nil, types.NewConfigurationError(subject, "system module declares an image")
		}
	case types.ModuleKindContainer:
		spec, envFiles, err := c.buildContainer(moduleDir, name, decl)
		if err != nil {
			return nil, err
		}
		m.Container = spec
		m.Files = append(m.Files, envFiles...)
	default:
		return nil, types.NewConfigurationError(subject, "unknown kind %q", decl.Kind)
	}

	return m, nil
}

func (c *Compiler) buildContainer(moduleDir, name string, decl *ModuleDecl) (*types.ContainerSpec, []types.FileDecl, error) {
	subject := "module " + name
	if decl.Image == "" {
		return nil, nil, types.NewConfigurationError(subject, "container module needs an image")
	}

	image, tag := splitImage(decl.Image)
	if decl.Tag != "" {
		if tag != "" && tag != decl.Tag {
			return nil, nil, types.NewConfigurationError(subject, "image %s conflicts with tag %s", decl.Image, decl.Tag)
		}
		tag = decl.Tag
	}

	spec := &types.ContainerSpec{
		Name:         name,
		Image:        image,
		Tag:          tag,
		Privileged:   decl.Privileged,
		Syslog:       decl.Syslog == nil || *decl.Syslog,
		Environments: decl.Environments,
		Devices:      decl.Devices,
		Capabilities: decl.Capabilities,
	}
	for _, v := range decl.Volumes {
		bind, err := types.ParseVolumeBind(v)
		if err != nil {
			return nil, nil, types.NewConfigurationError(subject, "%v", err)
		}
		spec.Volumes = append(spec.Volumes, bind)
	}

	// Env files shipped with the module are deployed like any other file;
	// the rest must be provided by an earlier module.
	var envFiles []types.FileDecl
	for _, env := range decl.Environments {
		if strings.ContainsRune(env, filepath.Separator) {
			return nil, nil, types.NewConfigurationError(subject, "environment %q must be a bare file name", env)
		}
		src := filepath.Join(moduleDir, "environments", env)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		envFiles = append(envFiles, types.FileDecl{Module: name, Source: src, Target: filepath.Join(c.envDir, env)})
	}

	return spec, envFiles, nil
}

// resolveSource joins a declared source onto the module's files/ dir and
// checks that it exists without escaping that dir
func resolveSource(filesDir, source string) (string, error) {
	src := filepath.Join(filesDir, source)
	rel, err := filepath.Rel(filesDir, src)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("source %s escapes the module files directory", source)
	}
	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("source %s: %w", source, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("source %s is a directory", source)
	}
	return src, nil
}

// splitImage separates an optional tag from an image reference, leaving
// registry ports alone
func splitImage(ref string) (string, string) {
	slash := strings.LastIndex(ref, "/")
	colon := strings.LastIndex(ref, ":")
	if colon > slash {
		return ref[:colon], ref[colon+1:]
	}
	return ref, ""
}
