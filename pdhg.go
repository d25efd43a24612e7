package algoprox

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cwbudde/algo-prox/gpu"
	"github.com/cwbudde/algo-prox/internal/vec"
	"github.com/cwbudde/algo-prox/linop"
	"github.com/cwbudde/algo-prox/prox"
)

// PDHG is the primal-dual hybrid gradient method of Chambolle and Pock for
// min_x g(x) + f(Kx), written as the saddle point problem
//
//	min_x max_y <Kx, y> + g(x) - f*(y).
//
// One iteration performs
//
//	y' = prox_{σf*}(y + σ K x̄)
//	x' = prox_{τg}(x - τ K^T y')
//
// where K x̄ = (1+θ) Kx - θ Kx_prev is formed from cached images, so K and
// K^T are each applied once per iteration.
type PDHG struct {
	core
	pdhgVectors

	opts PDHGOptions

	proxG     []prox.Operator
	proxFStar []prox.Operator

	tau, sigma, theta float64
	argAlpha          float64
	arbL, arbU        int

	primalRes, dualRes float64
}

type pdhgVectors struct {
	x, xPrev, kty, ktyPrev gpu.Buffer // length n
	y, yPrev, kx, kxPrev   gpu.Buffer // length m
	right                  gpu.Buffer // length n
	left                   gpu.Buffer // length m
}

var _ Backend = (*PDHG)(nil)

// NewPDHG returns an uninitialized PDHG backend for problem on dev.
func NewPDHG(problem *Problem, dev *gpu.Device, opts PDHGOptions, options ...Option) *PDHG {
	return &PDHG{
		core: newCore("pdhg", problem, dev, options),
		opts: opts,
	}
}

// Options returns the options the backend was created with.
func (b *PDHG) Options() PDHGOptions { return b.opts }

// StepSizes returns the current tau, sigma and theta.
func (b *PDHG) StepSizes() (tau, sigma, theta float64) {
	return b.tau, b.sigma, b.theta
}

// Residuals returns the L1 primal and dual residuals of the last check.
func (b *PDHG) Residuals() (primal, dual float64) {
	return b.primalRes, b.dualRes
}

func (b *PDHG) dims() (n, m int) {
	return b.problem.K.Cols(), b.problem.K.Rows()
}

func (b *PDHG) layout() []int {
	n, m := b.dims()
	return []int{n, n, n, n, n, m, m, m, m, m}
}

// operators resolves g and f*. Without explicit f* operators the
// conjugates of the f operators are used.
func (b *PDHG) operators() (g, fstar []prox.Operator, err error) {
	n, m := b.dims()
	g, err = b.problem.operators("prox_g", b.problem.G, n)
	if err != nil {
		return nil, nil, err
	}
	if len(b.problem.FStar) > 0 {
		fstar, err = b.problem.operators("prox_fstar", b.problem.FStar, m)
		return g, fstar, err
	}
	f, err := b.problem.operators("prox_f", b.problem.F, m)
	if err != nil {
		return nil, nil, err
	}
	fstar = make([]prox.Operator, len(f))
	for i, op := range f {
		fstar[i] = prox.NewMoreau(op)
	}
	return g, fstar, nil
}

func (b *PDHG) GPUMemAmount() int64 {
	return b.gpuMemAmount(func() int64 {
		g, fstar, err := b.operators()
		if err != nil {
			return memEstimate(b.layout(), 0)
		}
		return memEstimate(b.layout(), 0, g, fstar)
	})
}

func (b *PDHG) Initialize(ctx context.Context) (err error) {
	ctx, span := startSpan(ctx, b.name, "Initialize")
	defer span.End()

	if err := b.checkUninitialized(); err != nil {
		return err
	}
	if err := b.opts.Validate(); err != nil {
		return err
	}
	g, fstar, err := b.operators()
	if err != nil {
		return err
	}
	if err := checkDiagSteps("scaling_right", b.problem.ScalingRight, g); err != nil {
		return err
	}
	if err := checkDiagSteps("scaling_left", b.problem.ScalingLeft, fstar); err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = b.freeAll()
			b.pdhgVectors = pdhgVectors{}
			span.RecordError(err)
		}
	}()

	if err := b.initK(); err != nil {
		return err
	}
	if err := b.initOps(g); err != nil {
		return err
	}
	if err := b.initOps(fstar); err != nil {
		return err
	}

	n, m := b.dims()
	if err := b.allocAll(n, &b.x, &b.xPrev, &b.kty, &b.ktyPrev); err != nil {
		return err
	}
	if err := b.allocAll(m, &b.y, &b.yPrev, &b.kx, &b.kxPrev); err != nil {
		return err
	}
	if b.right, err = b.alloc(n, orOnes(b.problem.ScalingRight, n)); err != nil {
		return err
	}
	if b.left, err = b.alloc(m, orOnes(b.problem.ScalingLeft, m)); err != nil {
		return err
	}
	if err := b.initSteps(); err != nil {
		return err
	}

	b.proxG, b.proxFStar = g, fstar
	b.iteration = 0
	b.state = StateInitialized
	b.recordSteps()

	b.log.InfoContext(ctx, "initialized",
		"n", n,
		"m", m,
		"variant", b.opts.Variant.String(),
		"tau", b.tau,
		"sigma", b.sigma,
		"mem_bytes", b.memUsed(),
	)
	return nil
}

// initSteps resets the step size state. With ScaleStepsOperator the initial
// steps become τ = sqrt(τ0/σ0)/|K| and σ = sqrt(σ0/τ0)/|K|.
func (b *PDHG) initSteps() error {
	b.tau, b.sigma, b.theta = b.opts.Tau0, b.opts.Sigma0, 1
	b.argAlpha = b.opts.ArgAlpha0
	b.arbL, b.arbU = 0, 0
	b.primalRes, b.dualRes = 0, 0

	if !b.opts.ScaleStepsOperator {
		return nil
	}
	norm := b.problem.NormEstimate
	if norm <= 0 {
		var err error
		norm, err = linop.EstimateNorm(b.dev, b.problem.K, linop.NormSettings{})
		if err != nil {
			return fmt.Errorf("estimate operator norm: %w", err)
		}
	}
	if norm == 0 {
		return nil
	}
	b.tau = math.Sqrt(b.opts.Tau0/b.opts.Sigma0) / norm
	b.sigma = math.Sqrt(b.opts.Sigma0/b.opts.Tau0) / norm
	return nil
}

func (b *PDHG) PerformIteration(ctx context.Context) error {
	if err := b.check(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := b.dev.Stream()
	n, m := b.dims()
	tau, sigma, theta := b.tau, b.sigma, b.theta

	b.y, b.yPrev = b.yPrev, b.y
	y, yPrev, kx, kxPrev, left := b.y.Raw(), b.yPrev.Raw(), b.kx.Raw(), b.kxPrev.Raw(), b.left.Raw()
	err := s.Launch(m, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			y[i] = yPrev[i] + sigma*left[i]*((1+theta)*kx[i]-theta*kxPrev[i])
		}
	})
	if err != nil {
		return err
	}
	if err := evalAll(s, b.proxFStar, b.y, b.y, b.left, sigma, false); err != nil {
		return fmt.Errorf("prox_fstar: %w", err)
	}

	b.kty, b.ktyPrev = b.ktyPrev, b.kty
	if err := b.problem.K.ApplyAdjoint(s, b.kty, b.y); err != nil {
		return err
	}

	b.x, b.xPrev = b.xPrev, b.x
	x, xPrev, kty, right := b.x.Raw(), b.xPrev.Raw(), b.kty.Raw(), b.right.Raw()
	err = s.Launch(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			x[i] = xPrev[i] - tau*right[i]*kty[i]
		}
	})
	if err != nil {
		return err
	}
	if err := evalAll(s, b.proxG, b.x, b.x, b.right, tau, false); err != nil {
		return fmt.Errorf("prox_g: %w", err)
	}

	b.kx, b.kxPrev = b.kxPrev, b.kx
	if err := b.problem.K.Apply(s, b.kx, b.x); err != nil {
		return err
	}

	b.iteration++
	b.metrics.iterations.WithLabelValues(b.name).Inc()

	if b.iteration%b.opts.ResidualIter == 0 {
		if err := b.updateResiduals(ctx); err != nil {
			return err
		}
	}
	if b.opts.Variant == StepsAlg2 {
		b.theta = 1 / math.Sqrt(1+2*b.opts.Alg2Gamma*b.tau)
		b.tau *= b.theta
		b.sigma /= b.theta
	}
	b.recordSteps()
	return nil
}

// residuals computes the L1 norms
//
//	p = |(x_prev - x)/(τ·right) - (K^T y_prev - K^T y)|
//	d = |(y_prev - y)/(σ·left) - (K x_prev - K x)|
//
// with the steps used by the last iteration. The residual vectors are built
// in x_prev and y_prev, which the next iteration overwrites.
func (b *PDHG) residuals() (primal, dual float64, err error) {
	s := b.dev.Stream()
	tau, sigma := b.tau, b.sigma

	x, xPrev, kty, ktyPrev, right := b.x.Raw(), b.xPrev.Raw(), b.kty.Raw(), b.ktyPrev.Raw(), b.right.Raw()
	err = s.Launch(len(x), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			xPrev[i] = (xPrev[i]-x[i])/(tau*right[i]) - (ktyPrev[i] - kty[i])
		}
	})
	if err != nil {
		return 0, 0, err
	}
	if primal, err = vec.Asum(s, b.xPrev); err != nil {
		return 0, 0, err
	}

	y, yPrev, kx, kxPrev, left := b.y.Raw(), b.yPrev.Raw(), b.kx.Raw(), b.kxPrev.Raw(), b.left.Raw()
	err = s.Launch(len(y), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			yPrev[i] = (yPrev[i]-y[i])/(sigma*left[i]) - (kxPrev[i] - kx[i])
		}
	})
	if err != nil {
		return 0, 0, err
	}
	dual, err = vec.Asum(s, b.yPrev)
	return primal, dual, err
}

func (b *PDHG) updateResiduals(ctx context.Context) error {
	ctx, span := startSpan(ctx, b.name, "residuals")
	defer span.End()

	p, d, err := b.residuals()
	if err != nil {
		span.RecordError(err)
		return err
	}
	b.primalRes, b.dualRes = p, d
	b.metrics.residual(b.name, p, d)
	span.SetAttributes(
		attribute.Int("iteration", b.iteration),
		attribute.Float64("primal", p),
		attribute.Float64("dual", d),
	)

	switch b.opts.Variant {
	case StepsResidualGoldstein:
		b.balance(p, d)
	case StepsResidualBoyd:
		b.converge(p, d)
	}

	b.log.DebugContext(ctx, "residuals",
		"iteration", b.iteration,
		"primal", p,
		"dual", d,
		"tau", b.tau,
		"sigma", b.sigma,
	)
	return nil
}

// balance is the residual balancing rule of Goldstein, Esser and Baraniuk:
// shift weight to the larger residual and shrink the factor after each
// change.
func (b *PDHG) balance(p, d float64) {
	delta, alpha := b.opts.ArgDelta, b.argAlpha
	switch {
	case p > delta*d:
		b.tau /= 1 - alpha
		b.sigma *= 1 - alpha
	case p < d/delta:
		b.tau *= 1 - alpha
		b.sigma /= 1 - alpha
	default:
		return
	}
	b.argAlpha *= b.opts.ArgNu
}

// converge is the residual converging rule of Fougner and Boyd. A change in
// one direction is only allowed once arb_tau·k has passed the iteration of
// the last change in the other direction.
func (b *PDHG) converge(p, d float64) {
	k := b.opts.ArbTau * float64(b.iteration)
	delta := b.opts.ArbDelta
	switch {
	case p > delta*d && k > float64(b.arbL):
		b.tau *= delta
		b.sigma /= delta
		b.arbU = b.iteration
	case d > delta*p && k > float64(b.arbU):
		b.tau /= delta
		b.sigma *= delta
		b.arbL = b.iteration
	}
}

func (b *PDHG) recordSteps() {
	b.metrics.steps.WithLabelValues(b.name, "tau").Set(b.tau)
	b.metrics.steps.WithLabelValues(b.name, "sigma").Set(b.sigma)
	b.metrics.steps.WithLabelValues(b.name, "theta").Set(b.theta)
}

// SetInitialSolution warm starts the iteration at (x, y).
func (b *PDHG) SetInitialSolution(x, y []float64) error {
	if err := b.check(); err != nil {
		return err
	}
	n, m := b.dims()
	if err := checkLen("x", x, n); err != nil {
		return err
	}
	if err := checkLen("y", y, m); err != nil {
		return err
	}

	s := b.dev.Stream()
	if err := s.Synchronize(); err != nil {
		return err
	}
	for _, up := range []struct {
		dst gpu.Buffer
		src []float64
	}{{b.x, x}, {b.xPrev, x}, {b.y, y}, {b.yPrev, y}} {
		if err := up.dst.Upload(up.src); err != nil {
			return err
		}
	}
	if err := b.problem.K.Apply(s, b.kx, b.x); err != nil {
		return err
	}
	if err := vec.Copy(s, b.kxPrev, b.kx); err != nil {
		return err
	}
	if err := b.problem.K.ApplyAdjoint(s, b.kty, b.y); err != nil {
		return err
	}
	return vec.Copy(s, b.ktyPrev, b.kty)
}

func (b *PDHG) CurrentSolution(primal, dual []float64) error {
	if err := b.check(); err != nil {
		return err
	}
	n, m := b.dims()
	if err := checkLen("primal", primal, n); err != nil {
		return err
	}
	if err := checkLen("dual", dual, m); err != nil {
		return err
	}
	return b.CurrentSolutionSplit(primal, nil, dual, nil)
}

// CurrentSolutionSplit copies x, Kx, y and K^T y. Nil destinations are
// skipped.
func (b *PDHG) CurrentSolutionSplit(x, z, y, w []float64) error {
	if err := b.check(); err != nil {
		return err
	}
	if err := b.dev.Stream().Synchronize(); err != nil {
		return err
	}
	return download(
		target{"x", x, b.x},
		target{"z", z, b.kx},
		target{"y", y, b.y},
		target{"w", w, b.kty},
	)
}

func (b *PDHG) Release() error {
	err := b.release()
	b.pdhgVectors = pdhgVectors{}
	b.proxG, b.proxFStar = nil, nil
	return err
}
