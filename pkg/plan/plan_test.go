package plan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/fleetd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// repo builds a checkout on disk from a path -> content map
func repo(t *testing.T, tree map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for path, content := range tree {
		full := filepath.Join(root, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
	return root
}

var props = map[string]string{"HOSTNAME": "web1", "ROLE": "web", "REVISION": "abc123", "CONF": "/etc/app"}

func TestCompileOrdersModulesByDeclaration(t *testing.T) {
	root := repo(t, map[string]string{
		"roles/web.yaml": "modules: [base, nginx, redis]\n",
		"modules/base/module.yaml": `
kind: system
packages: [curl, "ntp=1:4.2.8"]
purge: [telnet]
files:
  - {source: ntp.conf, target: /etc/ntp.conf}
`,
		"modules/base/files/ntp.conf": "server pool\n",
		"modules/nginx/module.yaml": `
kind: system
services: [nginx]
files:
  - {source: site.conf, target: "@{CONF}/@{HOSTNAME}.conf"}
checks:
  - {type: http, target: "http://@{HOSTNAME}/health", timeout: 45s}
`,
		"modules/nginx/files/site.conf": "server_name @{HOSTNAME};\n",
		"modules/redis/module.yaml": `
kind: container
image: registry.local:5000/redis:7.2
syslog: false
environments: [redis.env, shared.env]
volumes: ["/srv/redis:/data", "/etc/redis:/etc/redis:ro"]
capabilities: [SYS_RESOURCE]
`,
		"modules/redis/environments/redis.env": "MAXMEM=1gb\n",
	})

	p, err := NewCompiler(DefaultRegistry(), "/etc/fleetd/environments").Compile(context.Background(), root, "web", props)
	require.NoError(t, err)
	require.Len(t, p.Modules, 3)
	assert.Equal(t, "web", p.Role)
	assert.Equal(t, "abc123", p.Revision)

	base := p.Modules[0].Module
	assert.Equal(t, "base", base.Name)
	assert.Equal(t, DefaultVariant, p.Modules[0].Variant.Name)
	assert.Equal(t, []types.PackageRequirement{{Name: "curl"}, {Name: "ntp", Version: "1:4.2.8"}}, base.Packages)
	assert.Equal(t, []string{"telnet"}, base.Purge)

	nginx := p.Modules[1].Module
	require.Len(t, nginx.Files, 1)
	assert.Equal(t, "/etc/app/web1.conf", nginx.Files[0].Target)
	assert.Equal(t, filepath.Join(root, "modules/nginx/files/site.conf"), nginx.Files[0].Source)
	assert.Equal(t, []types.CheckSpec{{Type: "http", Target: "http://web1/health", Timeout: 45 * time.Second}}, nginx.Checks)

	redis := p.Modules[2].Module
	require.NotNil(t, redis.Container)
	assert.Equal(t, "registry.local:5000/redis", redis.Container.Image)
	assert.Equal(t, "7.2", redis.Container.Tag)
	assert.False(t, redis.Container.Syslog)
	assert.Equal(t, []types.VolumeBind{
		{Host: "/srv/redis", Guest: "/data", Mode: "rw"},
		{Host: "/etc/redis", Guest: "/etc/redis", Mode: "ro"},
	}, redis.Container.Volumes)
	// Only the env file shipped with the module is deployed
	assert.Equal(t, []types.FileDecl{{
		Module: "redis",
		Source: filepath.Join(root, "modules/redis/environments/redis.env"),
		Target: "/etc/fleetd/environments/redis.env",
	}}, redis.Files)

	assert.Equal(t, []string{"/etc/ntp.conf", "/etc/app/web1.conf", "/etc/fleetd/environments/redis.env"}, p.Targets())
}

func TestCompileSyslogDefaultsOn(t *testing.T) {
	root := repo(t, map[string]string{
		"roles/db.yaml":          "modules: [pg]\n",
		"modules/pg/module.yaml": "kind: container\nimage: postgres\n",
	})
	p, err := Compile(context.Background(), root, "db", props, DefaultRegistry())
	require.NoError(t, err)
	c := p.Modules[0].Module.Container
	assert.True(t, c.Syslog)
	assert.Equal(t, "", c.Tag)
	assert.Equal(t, "postgres:latest", c.Ref())
}

func TestCompileDuplicateTargetFails(t *testing.T) {
	root := repo(t, map[string]string{
		"roles/web.yaml":        "modules: [a, b]\n",
		"modules/a/module.yaml": "kind: system\nfiles: [{source: x, target: /etc/motd}]\n",
		"modules/a/files/x":     "a\n",
		"modules/b/module.yaml": "kind: system\nfiles: [{source: y, target: \"/etc/../etc/motd\"}]\n",
		"modules/b/files/y":     "b\n",
	})

	p, err := Compile(context.Background(), root, "web", props, DefaultRegistry())
	require.Error(t, err)
	assert.Nil(t, p)
	assert.True(t, types.IsConfiguration(err))
	assert.Contains(t, err.Error(), "already claimed by module a")
}

func TestCompileRepeatedModule(t *testing.T) {
	root := repo(t, map[string]string{
		"roles/web.yaml":              "modules: [restart, app, restart]\n",
		"modules/restart/module.yaml": "kind: system\nservices: [nginx]\n",
		"modules/app/module.yaml":     "kind: system\npackages: [nginx]\n",
		"roles/db.yaml":               "modules: [motd, motd]\n",
		"modules/motd/module.yaml":    "kind: system\nfiles: [{source: motd, target: /etc/motd}]\n",
		"modules/motd/files/motd":     "hello\n",
	})

	p, err := Compile(context.Background(), root, "web", props, DefaultRegistry())
	require.NoError(t, err)
	require.Len(t, p.Modules, 3)
	assert.Equal(t, "restart", p.Modules[0].Module.Name)
	assert.Equal(t, "app", p.Modules[1].Module.Name)
	assert.Equal(t, "restart", p.Modules[2].Module.Name)

	_, err = Compile(context.Background(), root, "db", props, DefaultRegistry())
	require.Error(t, err)
	assert.True(t, types.IsConfiguration(err))
	assert.Contains(t, err.Error(), "already claimed by module motd")
}

func TestCompileRejectsInvalidDeclarations(t *testing.T) {
	tests := []struct {
		name   string
		module string
		files  map[string]string
		want   string
	}{
		{"unknown kind", "kind: vm\n", nil, "unknown kind"},
		{"unknown key", "kind: system\npackage: [x]\n", nil, "not found in type"},
		{"missing source", "kind: system\nfiles: [{source: gone, target: /etc/gone}]\n", nil, "source gone"},
		{"escaping source", "kind: system\nfiles: [{source: ../module.yaml, target: /etc/x}]\n", nil, "escapes"},
		{"unresolved target token", "kind: system\nfiles: [{source: f, target: \"/etc/@{NOPE}\"}]\n", map[string]string{"modules/m/files/f": ""}, "NOPE"},
		{"relative target", "kind: system\nfiles: [{source: f, target: etc/f}]\n", map[string]string{"modules/m/files/f": ""}, "not absolute"},
		{"bad volume", "kind: container\nimage: x\nvolumes: [\"/a:/b:rx\"]\n", nil, "mode must be rw or ro"},
		{"container without image", "kind: container\n", nil, "needs an image"},
		{"system with image", "kind: system\nimage: x\n", nil, "declares an image"},
		{"registered without variant", "kind: system\nregistered: true\n", nil, "no variant exists"},
		{"bad package", "kind: system\npackages: [\"=1.0\"]\n", nil, "empty name"},
		{"name mismatch", "kind: system\nname: other\n", nil, "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := map[string]string{
				"roles/r.yaml":          "modules: [m]\n",
				"modules/m/module.yaml": tt.module,
			}
			for k, v := range tt.files {
				tree[k] = v
			}
			root := repo(t, tree)

			p, err := Compile(context.Background(), root, "r", props, DefaultRegistry())
			require.Error(t, err)
			assert.Nil(t, p)
			assert.True(t, types.IsConfiguration(err), "got %T: %v", err, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompileMissingRole(t *testing.T) {
	_, err := Compile(context.Background(), t.TempDir(), "nope", props, DefaultRegistry())
	assert.True(t, types.IsConfiguration(err))
}

func TestCompileResolvesVariants(t *testing.T) {
	root := repo(t, map[string]string{
		"roles/db.yaml":               "modules: [sysctl, mariadb]\n",
		"modules/sysctl/module.yaml":  "kind: system\nregistered: true\n",
		"modules/mariadb/module.yaml": "kind: container\nregistered: true\nimage: mariadb:10.6\n",
	})

	p, err := Compile(context.Background(), root, "db", props, DefaultRegistry())
	require.NoError(t, err)
	assert.Equal(t, "sysctl", p.Modules[0].Variant.Name)
	assert.Equal(t, "mariadb", p.Modules[1].Variant.Name)
	require.Len(t, p.Modules[1].Variant.Post, 1)
	assert.Equal(t, "mysql-upgrade", p.Modules[1].Variant.Post[0].Name)
}

func TestCompileVariantKindMismatch(t *testing.T) {
	root := repo(t, map[string]string{
		"roles/db.yaml":               "modules: [mariadb]\n",
		"modules/mariadb/module.yaml": "kind: system\n",
	})
	_, err := Compile(context.Background(), root, "db", props, DefaultRegistry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires kind container")
}

func TestSplitImage(t *testing.T) {
	tests := []struct{ ref, image, tag string }{
		{"mariadb", "mariadb", ""},
		{"mariadb:10.6", "mariadb", "10.6"},
		{"registry:5000/app", "registry:5000/app", ""},
		{"registry:5000/app:1.2", "registry:5000/app", "1.2"},
	}
	for _, tt := range tests {
		image, tag := splitImage(tt.ref)
		assert.Equal(t, tt.image, image, tt.ref)
		assert.Equal(t, tt.tag, tag, tt.ref)
	}
}
