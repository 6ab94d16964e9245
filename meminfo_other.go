//go:build !linux
// +build !linux

package tomo

// systemMemory returns 0 on platforms without a memory query; callers fall
// back to defaultDeviceMemory.
func systemMemory() uint64 {
	return 0
}
