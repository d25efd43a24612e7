package algoprox

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cwbudde/algo-prox/gpu"
	"github.com/cwbudde/algo-prox/prox"
)

// Backend is one iterative solver for a Problem.
//
// The lifecycle is Initialize, any number of PerformIteration and
// CurrentSolution calls, then Release. A backend is driven from a single
// goroutine.
type Backend interface {
	// Initialize validates the problem and options and allocates all
	// device state. On failure nothing stays allocated.
	Initialize(ctx context.Context) error
	// PerformIteration runs one step of the recursion.
	PerformIteration(ctx context.Context) error
	// Release frees all device state. Calling it twice is a no-op.
	Release() error

	// CurrentSolution copies the primal (length n) and dual (length m)
	// iterates to host memory.
	CurrentSolution(primal, dual []float64) error
	// CurrentSolutionSplit copies x, z = K*x, y and w = K^T*y.
	CurrentSolutionSplit(x, z, y, w []float64) error

	// GPUMemAmount reports the device memory the backend needs before
	// Initialize, holds while initialized, and 0 after Release. The
	// storage of K is not included.
	GPUMemAmount() int64
	// Iteration is the number of iterations since Initialize.
	Iteration() int
}

// State is the lifecycle state of a backend.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateReleased:
		return "released"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option configures ambient behavior of a backend.
type Option func(*settings)

type settings struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRegisterer registers the backend's metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) {
		s.registerer = reg
	}
}

// resource is a piece of device memory held by a backend.
type resource interface {
	Bytes() int64
	Close() error
}

// core holds what PDHG and ADMM share: lifecycle state, the device
// allocations made by Initialize and the borrowed operators initialized on
// the device.
type core struct {
	name    string
	problem *Problem
	dev     *gpu.Device
	log     *slog.Logger
	metrics *metrics

	state     State
	iteration int

	res    []resource
	ops    []prox.Operator
	kReady bool
}

func newCore(name string, problem *Problem, dev *gpu.Device, opts []Option) core {
	st := settings{logger: slog.Default()}
	for _, opt := range opts {
		opt(&st)
	}
	return core{
		name:    name,
		problem: problem,
		dev:     dev,
		log:     st.logger.With("backend", name),
		metrics: newMetrics(st.registerer),
	}
}

// State reports the lifecycle state.
func (c *core) State() State { return c.state }

func (c *core) Iteration() int { return c.iteration }

func (c *core) check() error {
	switch c.state {
	case StateInitialized:
		return nil
	case StateReleased:
		return ErrReleased
	default:
		return ErrNotInitialized
	}
}

func (c *core) checkUninitialized() error {
	if c.state == StateInitialized {
		return ErrAlreadyInitialized
	}
	if c.dev == nil || c.dev.Context() == nil {
		return fmt.Errorf("%w: no device", ErrInvalidProblem)
	}
	return c.problem.validate()
}

// alloc allocates a tracked buffer of length n, uploading src if non-nil.
func (c *core) alloc(n int, src []float64) (gpu.Buffer, error) {
	b, err := c.dev.Alloc(n, src)
	if err != nil {
		return nil, fmt.Errorf("allocate %d elements: %w", n, err)
	}
	c.res = append(c.res, b)
	return b, nil
}

// allocAll allocates one tracked buffer per entry of dst.
func (c *core) allocAll(n int, dst ...*gpu.Buffer) error {
	for _, d := range dst {
		b, err := c.alloc(n, nil)
		if err != nil {
			return err
		}
		*d = b
	}
	return nil
}

func (c *core) track(r resource) {
	c.res = append(c.res, r)
}

func (c *core) initK() error {
	if err := c.problem.K.Initialize(c.dev.Context()); err != nil {
		return fmt.Errorf("initialize K: %w", err)
	}
	c.kReady = true
	return nil
}

func (c *core) initOps(ops []prox.Operator) error {
	for _, op := range ops {
		if err := op.Initialize(c.dev.Context()); err != nil {
			return fmt.Errorf("initialize prox on [%d, %d): %w", op.Index(), op.Index()+op.Size(), err)
		}
		c.ops = append(c.ops, op)
	}
	return nil
}

// freeAll releases everything Initialize set up, in reverse order.
func (c *core) freeAll() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for i := len(c.res) - 1; i >= 0; i-- {
		keep(c.res[i].Close())
	}
	for i := len(c.ops) - 1; i >= 0; i-- {
		keep(c.ops[i].Release())
	}
	if c.kReady {
		keep(c.problem.K.Release())
	}
	c.res, c.ops, c.kReady = nil, nil, false
	return firstErr
}

// memUsed is the device memory held by the backend's buffers and operators.
func (c *core) memUsed() int64 {
	var total int64
	for _, r := range c.res {
		total += r.Bytes()
	}
	for _, op := range c.ops {
		total += op.GPUMemAmount()
	}
	return total
}

// memEstimate is the memory an Initialize would allocate for buffers of the
// given lengths plus the operators.
func memEstimate(lengths []int, extra int64, ops ...[]prox.Operator) int64 {
	total := extra
	for _, n := range lengths {
		total += int64(n) * gpu.ElemSize
	}
	for _, list := range ops {
		for _, op := range list {
			total += op.GPUMemAmount()
		}
	}
	return total
}

func (c *core) gpuMemAmount(estimate func() int64) int64 {
	switch c.state {
	case StateInitialized:
		return c.memUsed()
	case StateReleased:
		return 0
	default:
		if c.problem.validate() != nil {
			return 0
		}
		return estimate()
	}
}

// release moves the backend to Released. It is a no-op unless initialized.
func (c *core) release() error {
	if c.state != StateInitialized {
		return nil
	}
	_, span := startSpan(context.Background(), c.name, "Release")
	defer span.End()

	err := c.freeAll()
	c.state = StateReleased
	if err != nil {
		span.RecordError(err)
		return err
	}
	c.log.Info("released", "iterations", c.iteration)
	return nil
}

func checkLen(name string, v []float64, n int) error {
	if len(v) != n {
		return fmt.Errorf("%w: %s has length %d, want %d", ErrLengthMismatch, name, len(v), n)
	}
	return nil
}

// evalAll evaluates every operator of a partition from arg into result.
func evalAll(s gpu.Stream, ops []prox.Operator, result, arg, steps gpu.Buffer, tau float64, invertTau bool) error {
	for _, op := range ops {
		if err := op.Eval(s, result, arg, steps, tau, invertTau); err != nil {
			return err
		}
	}
	return nil
}

// orOnes returns v, or a vector of n ones when v is nil.
func orOnes(v []float64, n int) []float64 {
	if v == nil {
		return ones(n)
	}
	return v
}

// target is one host destination of a solution download.
type target struct {
	name string
	dst  []float64
	src  gpu.Buffer
}

// download copies every target with a non-nil destination after checking
// all lengths.
func download(targets ...target) error {
	for _, t := range targets {
		if t.dst != nil {
			if err := checkLen(t.name, t.dst, t.src.Len()); err != nil {
				return err
			}
		}
	}
	for _, t := range targets {
		if t.dst == nil {
			continue
		}
		if err := t.src.Download(t.dst); err != nil {
			return fmt.Errorf("download %s: %w", t.name, err)
		}
	}
	return nil
}
