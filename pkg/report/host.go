package report

import (
	"golang.org/x/sys/unix"
)

// CollectHostFacts reads kernel release and architecture from uname
func CollectHostFacts(packageManager string) HostFacts {
	facts := HostFacts{PackageManager: packageManager}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return facts
	}
	facts.Kernel = unix.ByteSliceToString(uts.Release[:])
	facts.Machine = unix.ByteSliceToString(uts.Machine[:])
	return facts
}
