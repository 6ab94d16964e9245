package tomo

import (
	"fmt"
	"sync"
	"unsafe"
)

// DevicePtr is a handle to memory owned by one device's pool. In this CPU
// execution model device memory is ordinary aligned host memory, but the
// handle keeps the transfer and free discipline of a real device pointer:
// buffers are staged into and out of it explicitly and released to the pool
// that allocated them.
type DevicePtr struct {
	ptr  unsafe.Pointer
	size int // bytes
}

// IsNil reports whether the pointer is the zero handle.
func (p DevicePtr) IsNil() bool { return p.ptr == nil }

// Size returns the allocation size in bytes.
func (p DevicePtr) Size() int { return p.size }

// Float32 returns the allocation viewed as a float32 slice.
func (p DevicePtr) Float32() []float32 {
	if p.ptr == nil {
		return nil
	}
	return unsafe.Slice((*float32)(p.ptr), p.size/bytesPerSample)
}

// MemoryPool manages one device's memory with a capacity limit and
// efficient block reuse. It maintains a free list of previously allocated
// blocks to reduce allocation overhead, and tracks live and peak usage so
// the partition planner can budget against the remaining capacity.
type MemoryPool struct {
	mu        sync.Mutex
	capacity  uint64
	allocated map[uintptr]*allocation
	freeList  []*allocation
	liveBytes int64
	peakBytes int64
}

type allocation struct {
	buf  []byte // backing storage, held to keep the allocation reachable
	ptr  unsafe.Pointer
	size int
	used bool
}

// NewMemoryPool creates a pool with the given capacity in bytes.
func NewMemoryPool(capacity uint64) *MemoryPool {
	return &MemoryPool{
		capacity:  capacity,
		allocated: make(map[uintptr]*allocation),
	}
}

// SetCapacity replaces the pool's capacity. Live allocations are unaffected.
func (mp *MemoryPool) SetCapacity(capacity uint64) {
	mp.mu.Lock()
	mp.capacity = capacity
	mp.mu.Unlock()
}

// Capacity returns the pool's capacity in bytes.
func (mp *MemoryPool) Capacity() uint64 {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.capacity
}

// Available returns the bytes remaining under the capacity limit.
func (mp *MemoryPool) Available() uint64 {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if uint64(mp.liveBytes) >= mp.capacity {
		return 0
	}
	return mp.capacity - uint64(mp.liveBytes)
}

// Live returns the currently allocated bytes.
func (mp *MemoryPool) Live() int64 {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.liveBytes
}

// Peak returns the high-water mark of allocated bytes.
func (mp *MemoryPool) Peak() int64 {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.peakBytes
}

// Allocate allocates size bytes from the pool, aligned for SIMD access.
func (mp *MemoryPool) Allocate(size int) (DevicePtr, error) {
	if size <= 0 {
		return DevicePtr{}, newInvalidArgError("Allocate", fmt.Sprintf("invalid allocation size %d", size))
	}
	if size < MinAllocationSize {
		size = MinAllocationSize
	}
	alignedSize := (size + MemoryAlignment - 1) &^ (MemoryAlignment - 1)

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if uint64(mp.liveBytes)+uint64(alignedSize) > mp.capacity {
		return DevicePtr{}, newMemoryError("Allocate",
			fmt.Sprintf("allocation of %d bytes exceeds device capacity (%d live of %d)",
				alignedSize, mp.liveBytes, mp.capacity))
	}

	// Reuse from the free list when a block is large enough.
	for i, alloc := range mp.freeList {
		if alloc.size >= alignedSize {
			mp.freeList = append(mp.freeList[:i], mp.freeList[i+1:]...)
			alloc.used = true
			mp.liveBytes += int64(alloc.size)
			if mp.liveBytes > mp.peakBytes {
				mp.peakBytes = mp.liveBytes
			}
			return DevicePtr{ptr: alloc.ptr, size: size}, nil
		}
	}

	buf := make([]byte, alignedSize+MemoryAlignment)
	ptr := unsafe.Pointer(&buf[0])
	if off := uintptr(ptr) & (MemoryAlignment - 1); off != 0 {
		ptr = unsafe.Pointer(&buf[MemoryAlignment-int(off)])
	}

	alloc := &allocation{buf: buf, ptr: ptr, size: alignedSize, used: true}
	mp.allocated[uintptr(ptr)] = alloc
	mp.liveBytes += int64(alignedSize)
	if mp.liveBytes > mp.peakBytes {
		mp.peakBytes = mp.liveBytes
	}
	return DevicePtr{ptr: ptr, size: size}, nil
}

// Free returns memory to the pool. Blocks are retained on the free list for
// reuse until the list grows past FreeListThreshold.
func (mp *MemoryPool) Free(ptr DevicePtr) error {
	if ptr.IsNil() {
		return nil
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()

	alloc, ok := mp.allocated[uintptr(ptr.ptr)]
	if !ok {
		return newMemoryError("Free", "pointer not found in allocation pool")
	}
	if !alloc.used {
		return ErrDoubleFree
	}
	alloc.used = false
	mp.liveBytes -= int64(alloc.size)

	if len(mp.freeList) < FreeListThreshold {
		mp.freeList = append(mp.freeList, alloc)
	} else {
		delete(mp.allocated, uintptr(ptr.ptr))
	}
	return nil
}

// Buffer is an ownership-tagged handle to projection or volume data. A
// buffer is either host-resident (a borrowed caller slice that must be
// staged before kernels touch it) or device-resident (owned by a device
// pool). The residency tag is what the dispatch layer consults to decide
// whether a request needs host-to-device transfer.
type Buffer struct {
	host   []float32
	dev    DevicePtr
	device int
	owned  bool
}

// HostBuffer wraps a caller-owned host slice.
func HostBuffer(data []float32) Buffer {
	return Buffer{host: data, device: CPUDevice}
}

// IsHost reports whether the buffer is host-resident.
func (b Buffer) IsHost() bool { return b.dev.IsNil() }

// Device returns the owning device ordinal, or CPUDevice for host buffers.
func (b Buffer) Device() int { return b.device }

// Len returns the element count.
func (b Buffer) Len() int {
	if b.IsHost() {
		return len(b.host)
	}
	return b.dev.Size() / bytesPerSample
}

// Float32 returns the buffer contents as a float32 slice. For
// device-resident buffers this is a direct view into device memory and is
// only valid until the buffer is freed.
func (b Buffer) Float32() []float32 {
	if b.IsHost() {
		return b.host
	}
	return b.dev.Float32()
}

// AllocBuffer allocates a device-resident buffer of n float32 samples on
// the primary device.
func (e *Engine) AllocBuffer(n int) (Buffer, error) {
	ctx := e.primary()
	if ctx.dev.ID == CPUDevice {
		return Buffer{}, newInvalidArgError("AllocBuffer", "primary device is the CPU; use HostBuffer")
	}
	ptr, err := ctx.pool.Allocate(n * bytesPerSample)
	if err != nil {
		return Buffer{}, err
	}
	return Buffer{dev: ptr, device: ctx.dev.ID, owned: true}, nil
}

// FreeBuffer releases a device-resident buffer back to its pool. Freeing a
// host buffer is a no-op.
func (e *Engine) FreeBuffer(b Buffer) error {
	if b.IsHost() || !b.owned {
		return nil
	}
	for _, ctx := range e.contexts {
		if ctx.dev.ID == b.device {
			return ctx.pool.Free(b.dev)
		}
	}
	return newMemoryError("FreeBuffer", fmt.Sprintf("device %d is not enabled", b.device))
}
