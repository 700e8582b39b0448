package repository

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/cuemby/fleetd/pkg/types"
)

// Built-in properties, always set and never overridable
const (
	PropertyHostname = "HOSTNAME"
	PropertyRole     = "ROLE"
	PropertyRevision = "REVISION"
)

// LoadProperties builds the template property map for a host:
// properties.toml at the checkout root, overlaid by hosts/<hostname>.toml,
// overlaid by the built-ins. Nested tables flatten to dotted names.
func LoadProperties(co Checkout, hostname, role string) (map[string]string, error) {
	props := make(map[string]string)

	for _, path := range []string{
		filepath.Join(co.Path, "properties.toml"),
		filepath.Join(co.Path, "hosts", hostname+".toml"),
	} {
		if err := loadTOML(path, props); err != nil {
			return nil, err
		}
	}

	props[PropertyHostname] = hostname
	props[PropertyRole] = role
	props[PropertyRevision] = co.Revision
	return props, nil
}

func loadTOML(path string, into map[string]string) error {
	var raw map[string]interface{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return types.NewConfigurationError("properties "+filepath.Base(path), "%v", err)
	}
	flatten("", raw, into)
	return nil
}

func flatten(prefix string, raw map[string]interface{}, into map[string]string) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		switch v := raw[k].(type) {
		case map[string]interface{}:
			flatten(name, v, into)
		default:
			into[name] = fmt.Sprint(v)
		}
	}
}
