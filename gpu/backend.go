package gpu

import "sync"

// Backend is implemented by GPU backends (CUDA, ROCm, Metal, Vulkan, etc.).
// It is responsible for device discovery, buffer allocation, and execution.
type Backend interface {
	Info() BackendInfo
	Available() bool
	Devices() ([]DeviceInfo, error)
	NewContext(deviceIndex int) (Context, error)
}

// Context represents a backend-specific GPU context tied to a device.
type Context interface {
	Device() DeviceInfo
	// NewBuffer allocates a zeroed device vector of n float64 elements.
	NewBuffer(n int) (Buffer, error)
	// NewStream creates an execution stream/queue.
	NewStream() (Stream, error)
	// MemUsed reports the bytes currently allocated on the device.
	MemUsed() int64
	Close() error
}

// Buffer is a device vector.
type Buffer interface {
	Len() int
	// Bytes is the device footprint of the buffer.
	Bytes() int64
	// Upload copies len(b) elements from host to device.
	Upload(src []float64) error
	// Download copies len(b) elements from device to host.
	Download(dst []float64) error
	// Raw exposes device memory. It may only be dereferenced inside kernels
	// launched on a stream of the owning context.
	Raw() []float64
	Close() error
}

// Stream represents an ordered execution queue. A kernel launched on a
// stream observes the results of every kernel launched before it.
type Stream interface {
	// Launch enqueues a data-parallel kernel over [0, n).
	Launch(n int, k Kernel) error
	// Reduce runs a sum reduction over [0, n) and waits for the result.
	Reduce(n int, k ReduceKernel) (float64, error)
	Synchronize() error
	Close() error
}

var (
	backendMu sync.RWMutex
	backend   Backend
)

// RegisterBackend registers a GPU backend. Passing nil clears the backend.
func RegisterBackend(b Backend) {
	backendMu.Lock()
	backend = b
	backendMu.Unlock()
}

// CurrentBackendInfo reports the currently registered backend, if any.
func CurrentBackendInfo() (BackendInfo, bool) {
	backendMu.RLock()
	b := backend
	backendMu.RUnlock()
	if b == nil {
		return BackendInfo{}, false
	}
	return b.Info(), true
}

func getBackend() Backend {
	backendMu.RLock()
	b := backend
	backendMu.RUnlock()
	return b
}
