//go:build linux

package sandbox

import (
	"golang.org/x/sys/unix"
)

// applyRlimits sets CPU, file size and core limits on a started process.
// Limits apply from the moment they are set, so anything forked earlier
// keeps the inherited values.
func applyRlimits(pid int, l Limits) {
	cpu := uint64(seconds(l.Timeout)) + 1
	_ = unix.Prlimit(pid, unix.RLIMIT_CPU, &unix.Rlimit{Cur: cpu, Max: cpu + 1}, nil)
	if l.MaxFileBytes > 0 {
		fsize := uint64(l.MaxFileBytes)
		_ = unix.Prlimit(pid, unix.RLIMIT_FSIZE, &unix.Rlimit{Cur: fsize, Max: fsize}, nil)
	}
	_ = unix.Prlimit(pid, unix.RLIMIT_CORE, &unix.Rlimit{}, nil)
}
