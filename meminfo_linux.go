//go:build linux
// +build linux

package tomo

import "golang.org/x/sys/unix"

// systemMemory returns the total system memory in bytes, or 0 when the
// query fails.
func systemMemory() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0
	}
	return uint64(info.Totalram) * uint64(info.Unit)
}
