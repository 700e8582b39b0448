package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RoleDecl is roles/<role>.yaml
type RoleDecl struct {
	Modules []string `yaml:"modules"`
}

// ModuleDecl is modules/<name>/module.yaml
type ModuleDecl struct {
	Kind       string      `yaml:"kind"`
	Name       string      `yaml:"name"`
	Registered bool        `yaml:"registered"`
	Files      []FileEntry `yaml:"files"`
	Packages   []string    `yaml:"packages"`
	Purge      []string    `yaml:"purge"`
	Services   []string    `yaml:"services"`
	Checks     []CheckDecl `yaml:"checks"`

	// Container kind only
	Image        string   `yaml:"image"`
	Tag          string   `yaml:"tag"`
	Privileged   bool     `yaml:"privileged"`
	Syslog       *bool    `yaml:"syslog"`
	Environments []string `yaml:"environments"`
	Devices      []string `yaml:"devices"`
	Volumes      []string `yaml:"volumes"`
	Capabilities []string `yaml:"capabilities"`
}

// FileEntry maps a source under the module's files/ dir to a host path
type FileEntry struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// CheckDecl declares a post-deploy health check
type CheckDecl struct {
	Type    string        `yaml:"type"`
	Target  string        `yaml:"target"`
	Timeout time.Duration `yaml:"timeout"`
}

// decodeStrict decodes a single YAML document, rejecting unknown keys
func decodeStrict(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty document")
		}
		return err
	}
	return nil
}

// LoadRole reads a role document
func LoadRole(path string) (*RoleDecl, error) {
	var role RoleDecl
	if err := decodeStrict(path, &role); err != nil {
		return nil, err
	}
	return &role, nil
}

// LoadModule reads a module declaration
func LoadModule(path string) (*ModuleDecl, error) {
	var decl ModuleDecl
	if err := decodeStrict(path, &decl); err != nil {
		return nil, err
	}
	return &decl, nil
}
