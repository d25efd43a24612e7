package gpu

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/algo-prox/internal/cpu"
)

// defaultGrain is the smallest index range the mock stream hands to a worker.
const defaultGrain = 2048

// MockBackend is a CPU-backed GPU backend for development and tests.
// It satisfies the GPU backend interfaces but executes on the CPU.
type MockBackend struct {
	device  DeviceInfo
	limit   int64
	workers int
	grain   int
}

// MockOption configures a MockBackend.
type MockOption func(*MockBackend)

// WithMemoryLimit caps the bytes a mock context may allocate. Zero means unlimited.
func WithMemoryLimit(bytes int64) MockOption {
	return func(b *MockBackend) {
		b.limit = bytes
		b.device.MemoryMB = int(bytes >> 20)
	}
}

// WithWorkers sets how many goroutines a kernel launch may use.
func WithWorkers(n int) MockOption {
	return func(b *MockBackend) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithGrain sets the minimum index range per worker.
func WithGrain(n int) MockOption {
	return func(b *MockBackend) {
		if n > 0 {
			b.grain = n
		}
	}
}

// NewMockBackend returns a mock backend with a single fake device.
func NewMockBackend(opts ...MockOption) *MockBackend {
	b := &MockBackend{
		device: DeviceInfo{
			Name:       "MockGPU",
			Vendor:     "algoprox",
			Driver:     "mock",
			MemoryMB:   0,
			ComputeCap: cpu.DetectFeatures().String(),
		},
		workers: runtime.GOMAXPROCS(0),
		grain:   defaultGrain,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MockBackend) Info() BackendInfo {
	return BackendInfo{
		Name:        "mock",
		Version:     "0.2",
		Description: "CPU-backed mock GPU backend",
	}
}

func (b *MockBackend) Available() bool {
	return true
}

func (b *MockBackend) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{b.device}, nil
}

func (b *MockBackend) NewContext(deviceIndex int) (Context, error) {
	if deviceIndex != 0 {
		return nil, fmt.Errorf("mock backend: device index %d out of range", deviceIndex)
	}
	return &mockContext{
		device:  b.device,
		limit:   b.limit,
		workers: b.workers,
		grain:   b.grain,
	}, nil
}

// RegisterMockBackend registers the mock backend as the active backend.
func RegisterMockBackend(opts ...MockOption) {
	RegisterBackend(NewMockBackend(opts...))
}

type mockContext struct {
	device  DeviceInfo
	limit   int64
	workers int
	grain   int

	mu     sync.Mutex
	used   int64
	closed bool
}

func (c *mockContext) Device() DeviceInfo {
	return c.device
}

func (c *mockContext) NewBuffer(n int) (Buffer, error) {
	if n < 0 {
		return nil, ErrInvalidLength
	}
	bytes := int64(n) * ElemSize

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.limit > 0 && c.used+bytes > c.limit {
		return nil, fmt.Errorf("%w: requested %d bytes, %d of %d in use", ErrOutOfMemory, bytes, c.used, c.limit)
	}
	c.used += bytes

	return &mockBuffer{ctx: c, data: make([]float64, n)}, nil
}

func (c *mockContext) NewStream() (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	return &mockStream{workers: c.workers, grain: c.grain}, nil
}

func (c *mockContext) MemUsed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

func (c *mockContext) free(bytes int64) {
	c.mu.Lock()
	c.used -= bytes
	c.mu.Unlock()
}

func (c *mockContext) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

type mockBuffer struct {
	ctx  *mockContext
	data []float64
}

func (b *mockBuffer) Len() int {
	return len(b.data)
}

func (b *mockBuffer) Bytes() int64 {
	return int64(len(b.data)) * ElemSize
}

func (b *mockBuffer) Upload(src []float64) error {
	if b.ctx == nil {
		return ErrClosed
	}
	if len(src) < len(b.data) {
		return ErrLengthMismatch
	}
	copy(b.data, src[:len(b.data)])
	return nil
}

func (b *mockBuffer) Download(dst []float64) error {
	if b.ctx == nil {
		return ErrClosed
	}
	if len(dst) < len(b.data) {
		return ErrLengthMismatch
	}
	copy(dst[:len(b.data)], b.data)
	return nil
}

func (b *mockBuffer) Raw() []float64 {
	return b.data
}

func (b *mockBuffer) Close() error {
	if b.ctx == nil {
		return nil
	}
	b.ctx.free(b.Bytes())
	b.ctx = nil
	b.data = nil
	return nil
}

// mockStream executes kernels eagerly, so program order is preserved without
// an explicit queue.
type mockStream struct {
	workers int
	grain   int
	closed  bool
}

// chunks splits [0, n) into at most workers ranges of at least grain items.
func (s *mockStream) chunks(n int) [][2]int {
	parts := n / s.grain
	if parts > s.workers {
		parts = s.workers
	}
	if parts < 1 {
		parts = 1
	}
	size := (n + parts - 1) / parts
	out := make([][2]int, 0, parts)
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		out = append(out, [2]int{lo, hi})
	}
	return out
}

func (s *mockStream) Launch(n int, k Kernel) error {
	if s.closed {
		return ErrClosed
	}
	if n < 0 {
		return ErrInvalidLength
	}
	if n == 0 {
		return nil
	}
	parts := s.chunks(n)
	if len(parts) == 1 {
		k(0, n)
		return nil
	}
	var g errgroup.Group
	for _, p := range parts {
		g.Go(func() error {
			k(p[0], p[1])
			return nil
		})
	}
	return g.Wait()
}

func (s *mockStream) Reduce(n int, k ReduceKernel) (float64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if n < 0 {
		return 0, ErrInvalidLength
	}
	if n == 0 {
		return 0, nil
	}
	parts := s.chunks(n)
	partial := make([]float64, len(parts))
	if len(parts) == 1 {
		return k(0, n), nil
	}
	var g errgroup.Group
	for i, p := range parts {
		g.Go(func() error {
			partial[i] = k(p[0], p[1])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	// Summed in chunk order so results do not depend on scheduling.
	var sum float64
	for _, v := range partial {
		sum += v
	}
	return sum, nil
}

func (s *mockStream) Synchronize() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *mockStream) Close() error {
	s.closed = true
	return nil
}
