package gpu

// ElemSize is the size in bytes of one device vector element.
const ElemSize = 8

// DeviceInfo describes a GPU device.
type DeviceInfo struct {
	Name       string
	Vendor     string
	Driver     string
	MemoryMB   int
	ComputeCap string
}

// BackendInfo describes a backend implementation.
type BackendInfo struct {
	Name        string
	Version     string
	Description string
}

// Options controls how a Device is opened.
type Options struct {
	// DeviceIndex selects which device to use (0 = default).
	DeviceIndex int
}

// Kernel processes the half-open index range [lo, hi) of a launch.
type Kernel func(lo, hi int)

// ReduceKernel returns the partial sum over [lo, hi) of a reduction.
type ReduceKernel func(lo, hi int) float64
