package tomo

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/cpu"
)

// CPUFeatures tracks available CPU instruction set extensions
type CPUFeatures struct {
	HasAVX     bool
	HasAVX2    bool
	HasAVX512F bool
	HasFMA     bool
	HasSSE4    bool
	HasNEON    bool
}

// Global CPU feature detection
var cpuFeatures CPUFeatures

func init() {
	detectCPUFeatures()
}

// detectCPUFeatures populates the global cpuFeatures struct
func detectCPUFeatures() {
	cpuFeatures = CPUFeatures{
		HasSSE4:    cpu.X86.HasSSE41 || cpu.X86.HasSSE42,
		HasAVX:     cpu.X86.HasAVX,
		HasAVX2:    cpu.X86.HasAVX2,
		HasAVX512F: cpu.X86.HasAVX512F,
		HasFMA:     cpu.X86.HasFMA,
		HasNEON:    cpu.ARM64.HasASIMD,
	}
}

// describeCPU returns a short human-readable description of the execution
// hardware, used for device names.
func describeCPU() string {
	switch {
	case cpuFeatures.HasAVX512F:
		return fmt.Sprintf("%s/%s AVX-512", runtime.GOOS, runtime.GOARCH)
	case cpuFeatures.HasAVX2 && cpuFeatures.HasFMA:
		return fmt.Sprintf("%s/%s AVX2+FMA", runtime.GOOS, runtime.GOARCH)
	case cpuFeatures.HasNEON:
		return fmt.Sprintf("%s/%s NEON", runtime.GOOS, runtime.GOARCH)
	default:
		return fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
	}
}
