//go:build unix

package artifacts

import (
	"runtime"

	"golang.org/x/sys/unix"
)

func hostMetadata() map[string]any {
	metadata := map[string]any{"host_arch": runtime.GOARCH}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return metadata
	}
	metadata["host_name"] = unix.ByteSliceToString(uts.Nodename[:])
	metadata["host_kernel"] = unix.ByteSliceToString(uts.Sysname[:]) + " " + unix.ByteSliceToString(uts.Release[:])
	return metadata
}
