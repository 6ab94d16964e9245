package tomo

import (
	"fmt"
	"runtime"
)

// CPUDevice selects direct CPU execution with no staging and no
// partitioning across contexts.
const CPUDevice = -1

// Device represents a compute device: an isolated execution context with
// its own memory capacity. Devices here are CPU-backed emulations, but each
// keeps the contract of a real accelerator: work assigned to it must fit
// its memory, and its allocations are invisible to other devices.
type Device struct {
	ID       int    // Device ordinal, or CPUDevice
	Name     string // Human-readable device name
	TotalMem uint64 // Memory capacity in bytes
	NumCores int    // Worker parallelism available to kernels
}

// deviceContext pairs a device with its memory pool for the lifetime of a
// device-set configuration.
type deviceContext struct {
	dev  Device
	pool *MemoryPool
}

func (e *Engine) newDeviceContext(id int) *deviceContext {
	capacity := e.memOverride
	if capacity == 0 {
		if sys := systemMemory(); sys > 0 {
			capacity = sys / deviceMemoryShare
		} else {
			capacity = defaultDeviceMemory
		}
	}
	name := fmt.Sprintf("device%d (%s)", id, describeCPU())
	if id == CPUDevice {
		name = fmt.Sprintf("cpu (%s)", describeCPU())
	}
	return &deviceContext{
		dev: Device{
			ID:       id,
			Name:     name,
			TotalMem: capacity,
			NumCores: runtime.NumCPU(),
		},
		pool: NewMemoryPool(capacity),
	}
}

// SetDevice selects a single device (or CPUDevice) for all requests.
func (e *Engine) SetDevice(id int) error {
	return e.SetDevices([]int{id})
}

// SetDevices replaces the enabled device list. The first entry is the
// primary device. CPUDevice may only appear alone. Contexts for devices
// already enabled keep their pools and live allocations.
func (e *Engine) SetDevices(ids []int) error {
	const op = "SetDevices"
	if len(ids) == 0 {
		return newInvalidArgError(op, "device list must not be empty")
	}
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if id < CPUDevice {
			return newInvalidArgError(op, fmt.Sprintf("invalid device ordinal %d", id))
		}
		if id == CPUDevice && len(ids) > 1 {
			return newInvalidArgError(op, "the CPU context cannot be combined with devices")
		}
		if seen[id] {
			return newInvalidArgError(op, fmt.Sprintf("device %d listed twice", id))
		}
		seen[id] = true
	}
	old := make(map[int]*deviceContext, len(e.contexts))
	for _, ctx := range e.contexts {
		old[ctx.dev.ID] = ctx
	}
	contexts := make([]*deviceContext, 0, len(ids))
	for _, id := range ids {
		if ctx, ok := old[id]; ok {
			contexts = append(contexts, ctx)
			continue
		}
		contexts = append(contexts, e.newDeviceContext(id))
	}
	e.contexts = contexts
	return nil
}

// PrimaryDevice returns the ordinal of the primary device.
func (e *Engine) PrimaryDevice() int {
	return e.primary().dev.ID
}

// Devices returns a copy of the enabled device descriptions.
func (e *Engine) Devices() []Device {
	out := make([]Device, len(e.contexts))
	for i, ctx := range e.contexts {
		out[i] = ctx.dev
	}
	return out
}

// SetDeviceMemory overrides the per-device memory capacity in bytes. The
// override applies to all enabled devices and to devices enabled later.
func (e *Engine) SetDeviceMemory(bytes uint64) error {
	if bytes == 0 {
		return newInvalidArgError("SetDeviceMemory", "capacity must be positive")
	}
	e.memOverride = bytes
	for _, ctx := range e.contexts {
		ctx.dev.TotalMem = bytes
		ctx.pool.SetCapacity(bytes)
	}
	return nil
}

func (e *Engine) primary() *deviceContext { return e.contexts[0] }

func (e *Engine) cpuOnly() bool { return e.primary().dev.ID == CPUDevice }

// planningBudget returns the bytes a partition may use on the given device:
// the remaining pool capacity minus a safety margin.
func (ctx *deviceContext) planningBudget() int64 {
	avail := int64(ctx.pool.Available())
	margin := int64(ctx.pool.Capacity() / memoryMarginDivisor)
	return avail - margin
}
