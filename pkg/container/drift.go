package container

import (
	"sort"
	"strings"

	"github.com/cuemby/fleetd/pkg/types"
)

// logDriver is the declared log driver type for spec
func logDriver(spec *types.ContainerSpec) string {
	if spec.Syslog {
		return LogDriverSyslog
	}
	return LogDriverNone
}

// Drift lists every difference between the declared spec and a live
// container. Log driver options and extra live environment entries are
// deliberately not compared.
func Drift(spec *types.ContainerSpec, env []string, st *State) []string {
	var reasons []string

	if spec.Privileged != st.Privileged {
		reasons = append(reasons, "privileged")
	}
	if logDriver(spec) != st.LogDriver {
		reasons = append(reasons, "log driver")
	}

	binds := make([]string, 0, len(spec.Volumes))
	for _, v := range spec.Volumes {
		binds = append(binds, v.String())
	}
	if !sameSet(binds, st.Binds) {
		reasons = append(reasons, "volumes")
	}
	if !sameSet(spec.Devices, st.Devices) {
		reasons = append(reasons, "devices")
	}
	if !sameSet(normalizeCaps(spec.Capabilities), normalizeCaps(st.CapAdd)) {
		reasons = append(reasons, "capabilities")
	}
	if !isSubset(env, st.Env) {
		reasons = append(reasons, "environment")
	}

	return reasons
}

// sameSet compares two collections ignoring order; nil equals empty
func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// isSubset reports whether every entry of want appears in have
func isSubset(want, have []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

// normalizeCaps uppercases and strips any CAP_ prefix
func normalizeCaps(caps []string) []string {
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		out = append(out, strings.TrimPrefix(strings.ToUpper(c), "CAP_"))
	}
	return out
}
