package files

import (
	"regexp"
	"sort"

	"github.com/cuemby/fleetd/pkg/types"
)

var tokenPattern = regexp.MustCompile(`@\{([A-Za-z0-9_.\-]+)\}`)

// Render substitutes every @{NAME} token in content from props. Any token
// without a property is a configuration error naming all unresolved tokens;
// nothing is ever substituted with an empty string.
func Render(subject string, content []byte, props map[string]string) ([]byte, error) {
	missing := make(map[string]struct{})
	out := tokenPattern.ReplaceAllFunc(content, func(tok []byte) []byte {
		name := string(tokenPattern.FindSubmatch(tok)[1])
		value, ok := props[name]
		if !ok {
			missing[name] = struct{}{}
			return tok
		}
		return []byte(value)
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, types.NewConfigurationError(subject, "unresolved template tokens %v", names)
	}
	return out, nil
}

// RenderString is Render for short strings such as target paths
func RenderString(subject, s string, props map[string]string) (string, error) {
	out, err := Render(subject, []byte(s), props)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
