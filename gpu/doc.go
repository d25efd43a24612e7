// Package gpu provides the device abstraction used by algoprox.
//
// Solver state lives in device buffers allocated from a Context and all
// work on it is issued through a single Stream in program order. Kernels are
// data-parallel functions over an index range; reductions synchronize the
// stream and return a scalar to the host.
//
// The package ships a CPU-backed mock device that enforces a memory budget
// and splits kernels across goroutines. Real backends register themselves
// with RegisterBackend.
package gpu
