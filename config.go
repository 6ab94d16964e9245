// Package tomo configuration constants
package tomo

// Partitioning parameters
const (
	// HaloRows is the number of extra boundary rows staged on each side of
	// a partition so interpolation near chunk edges matches an unchunked
	// run. The kernels interpolate linearly (footprint one row); the
	// second row absorbs rounding in the conservative slab/row mapping.
	HaloRows = 2

	// memoryMarginDivisor reserves 1/N of a device's capacity as a safety
	// margin when planning partitions.
	memoryMarginDivisor = 20
)

// Memory pool parameters
const (
	// Memory alignment for allocations
	MemoryAlignment = 64

	// Minimum allocation size to prevent fragmentation
	MinAllocationSize = 64

	// Free list size threshold for reuse
	FreeListThreshold = 100
)

// Device defaults
const (
	// defaultDeviceMemory is the per-device capacity assumed when the
	// system memory cannot be queried.
	defaultDeviceMemory = 8 << 30

	// deviceMemoryShare divides the detected system memory among emulated
	// devices.
	deviceMemoryShare = 4
)

// bytesPerSample is the size of one float32 projection or volume sample.
const bytesPerSample = 4
