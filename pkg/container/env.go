package container

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/fleetd/pkg/types"
)

// DefaultEnvDir is where modules deploy container environment files
const DefaultEnvDir = "/etc/fleetd/environments"

// LoadEnv reads KEY=VALUE lines from each named env file in dir, in order.
// Blank lines and # comments are skipped.
func LoadEnv(dir string, names []string) ([]string, error) {
	var env []string
	for _, name := range names {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			return nil, types.NewApplyError("environment "+name, fmt.Errorf("failed to open %s: %w", path, err))
		}

		scanner := bufio.NewScanner(f)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, _, ok := strings.Cut(line, "=")
			if !ok || strings.TrimSpace(key) == "" {
				f.Close()
				return nil, types.NewConfigurationError("environment "+name, "line %d: expected KEY=VALUE", lineNo)
			}
			env = append(env, line)
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return nil, types.NewApplyError("environment "+name, err)
		}
	}
	return env, nil
}
