package algoprox

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/algo-prox/gpu"
	"github.com/cwbudde/algo-prox/internal/cg"
	"github.com/cwbudde/algo-prox/internal/vec"
	"github.com/cwbudde/algo-prox/prox"
)

// deltaMax bounds the growth of the penalty update factor.
const deltaMax = 2

// ADMM is graph form ADMM (Fougner, Boyd) for min g(x) + f(z) s.t. z = Kx.
//
// Each iteration projects the point (x_proj - x_dual, z_proj - z_dual) onto
// the graph {z = Kx} by solving (I + K^T K) x = rhs with conjugate
// gradients, over-relaxes the projection, evaluates prox_{g/ρ} and
// prox_{f/ρ}, and updates the scaled duals.
type ADMM struct {
	core
	admmVectors

	opts ADMMOptions

	proxG []prox.Operator
	proxF []prox.Operator

	rho, delta float64
	arbL, arbU int

	primalRes, dualRes float64
	lastCG             cg.Result
}

type admmVectors struct {
	xHalf, xProj, xDual, temp1, temp3 gpu.Buffer // length n
	zHalf, zProj, zDual, temp2, temp4 gpu.Buffer // length m

	// unit is a vector of ones used as step vector for operators with
	// diagonal steps.
	unit gpu.Buffer
	ws   *cg.Workspace
}

var _ Backend = (*ADMM)(nil)

// NewADMM returns an uninitialized ADMM backend for problem on dev.
func NewADMM(problem *Problem, dev *gpu.Device, opts ADMMOptions, options ...Option) *ADMM {
	return &ADMM{
		core: newCore("admm", problem, dev, options),
		opts: opts,
	}
}

// Options returns the options the backend was created with.
func (b *ADMM) Options() ADMMOptions { return b.opts }

// Rho returns the current penalty parameter.
func (b *ADMM) Rho() float64 { return b.rho }

// Residuals returns the primal and dual residual norms of the last check.
func (b *ADMM) Residuals() (primal, dual float64) {
	return b.primalRes, b.dualRes
}

// LastCG reports the result of the last inner solve.
func (b *ADMM) LastCG() cg.Result { return b.lastCG }

func (b *ADMM) dims() (n, m int) {
	return b.problem.K.Cols(), b.problem.K.Rows()
}

func (b *ADMM) layout() []int {
	n, m := b.dims()
	return []int{n, n, n, n, n, m, m, m, m, m, max(n, m)}
}

func (b *ADMM) operators() (g, f []prox.Operator, err error) {
	n, m := b.dims()
	if g, err = b.problem.operators("prox_g", b.problem.G, n); err != nil {
		return nil, nil, err
	}
	if f, err = b.problem.operators("prox_f", b.problem.F, m); err != nil {
		return nil, nil, err
	}
	return g, f, nil
}

func (b *ADMM) GPUMemAmount() int64 {
	return b.gpuMemAmount(func() int64 {
		n, _ := b.dims()
		g, f, err := b.operators()
		if err != nil {
			return memEstimate(b.layout(), cg.WorkspaceBytes(n))
		}
		return memEstimate(b.layout(), cg.WorkspaceBytes(n), g, f)
	})
}

func (b *ADMM) Initialize(ctx context.Context) (err error) {
	ctx, span := startSpan(ctx, b.name, "Initialize")
	defer span.End()

	if err := b.checkUninitialized(); err != nil {
		return err
	}
	if err := b.opts.Validate(); err != nil {
		return err
	}
	g, f, err := b.operators()
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = b.freeAll()
			b.admmVectors = admmVectors{}
			span.RecordError(err)
		}
	}()

	if err := b.initK(); err != nil {
		return err
	}
	if err := b.initOps(g); err != nil {
		return err
	}
	if err := b.initOps(f); err != nil {
		return err
	}

	n, m := b.dims()
	if err := b.allocAll(n, &b.xHalf, &b.xProj, &b.xDual, &b.temp1, &b.temp3); err != nil {
		return err
	}
	if err := b.allocAll(m, &b.zHalf, &b.zProj, &b.zDual, &b.temp2, &b.temp4); err != nil {
		return err
	}
	if b.unit, err = b.alloc(max(n, m), nil); err != nil {
		return err
	}
	if err := vec.Fill(b.dev.Stream(), b.unit, 1); err != nil {
		return err
	}
	ws, err := cg.NewWorkspace(b.dev.Context(), n)
	if err != nil {
		return fmt.Errorf("allocate cg workspace: %w", err)
	}
	b.track(ws)
	b.ws = ws

	b.proxG, b.proxF = g, f
	b.rho, b.delta = b.opts.Rho0, b.opts.ArbDelta
	b.arbL, b.arbU = 0, 0
	b.primalRes, b.dualRes = 0, 0
	b.lastCG = cg.Result{}
	b.iteration = 0
	b.state = StateInitialized
	b.recordSteps()

	b.log.InfoContext(ctx, "initialized",
		"n", n,
		"m", m,
		"rho", b.rho,
		"mem_bytes", b.memUsed(),
	)
	return nil
}

// normal applies I + K^T K, using temp2 as scratch.
func (b *ADMM) normal(s gpu.Stream, dst, src gpu.Buffer) error {
	if err := b.problem.K.Apply(s, b.temp2, src); err != nil {
		return err
	}
	if err := b.problem.K.ApplyAdjoint(s, dst, b.temp2); err != nil {
		return err
	}
	return vec.AddScaledTo(s, dst, dst, 1, src)
}

// cgTolerance tightens from CGTolMax towards CGTolMin as k grows.
func (b *ADMM) cgTolerance(k int) float64 {
	tol := b.opts.CGTolMax / math.Pow(float64(k+1), b.opts.CGTolPow)
	return min(max(tol, b.opts.CGTolMin), b.opts.CGTolMax)
}

func (b *ADMM) PerformIteration(ctx context.Context) error {
	if err := b.check(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s := b.dev.Stream()
	K := b.problem.K
	k := b.iteration

	// rhs = (x_proj - x_dual) + K^T (z_proj - z_dual)
	if err := vec.SubTo(s, b.temp2, b.zProj, b.zDual); err != nil {
		return err
	}
	if err := K.ApplyAdjoint(s, b.temp1, b.temp2); err != nil {
		return err
	}
	rhs, xProj, xDual := b.temp1.Raw(), b.xProj.Raw(), b.xDual.Raw()
	err := s.Launch(len(rhs), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			rhs[i] += xProj[i] - xDual[i]
		}
	})
	if err != nil {
		return err
	}

	// Graph projection, warm started from the previous x_half.
	res, err := cg.Solve(s, b.normal, b.temp1, b.xHalf, cg.Settings{
		Tolerance:     b.cgTolerance(k),
		MaxIterations: b.opts.CGMaxIter,
	}, b.ws)
	if err != nil {
		return fmt.Errorf("graph projection: %w", err)
	}
	b.lastCG = res
	b.metrics.cgIterations.WithLabelValues(b.name).Observe(float64(res.Iterations))
	if !res.Converged {
		b.log.WarnContext(ctx, "cg did not converge",
			"iteration", k,
			"cg_iterations", res.Iterations,
			"residual", res.ResidualNorm,
		)
	}
	if err := K.Apply(s, b.zHalf, b.xHalf); err != nil {
		return err
	}

	check := (k+1)%b.opts.ResidualIter == 0
	if check {
		if err := vec.Copy(s, b.temp3, b.xProj); err != nil {
			return err
		}
		if err := vec.Copy(s, b.temp4, b.zProj); err != nil {
			return err
		}
	}

	if err := b.proxStep(s, b.proxG, b.xHalf, b.xProj, b.xDual); err != nil {
		return fmt.Errorf("prox_g: %w", err)
	}
	if err := b.proxStep(s, b.proxF, b.zHalf, b.zProj, b.zDual); err != nil {
		return fmt.Errorf("prox_f: %w", err)
	}

	b.iteration++
	b.metrics.iterations.WithLabelValues(b.name).Inc()

	if check {
		if err := b.updateResiduals(ctx); err != nil {
			return err
		}
	}
	b.recordSteps()
	return nil
}

// proxStep performs, for one of the x or z blocks,
//
//	dual = α·half + (1-α)·proj + dual
//	proj = prox_{h/ρ}(dual)
//	dual = dual - proj
func (b *ADMM) proxStep(s gpu.Stream, ops []prox.Operator, half, proj, dual gpu.Buffer) error {
	// proj is overwritten by the prox below, so it holds the relaxed point.
	alpha := b.opts.Alpha
	if err := vec.Axpby(s, proj, alpha, half, 1-alpha, proj); err != nil {
		return err
	}
	if err := vec.AddScaledTo(s, dual, dual, 1, proj); err != nil {
		return err
	}
	if err := evalAll(s, ops, proj, dual, b.unit, b.rho, true); err != nil {
		return err
	}
	return vec.SubTo(s, dual, dual, proj)
}

// residuals returns
//
//	r = |(x_half, z_half) - (x_proj, z_proj)|
//	s = ρ |(x_proj, z_proj) - (x_proj, z_proj)_prev|
func (b *ADMM) residuals() (primal, dual float64, err error) {
	s := b.dev.Stream()
	var sq [4]float64
	pairs := [4][2]gpu.Buffer{
		{b.xHalf, b.xProj},
		{b.zHalf, b.zProj},
		{b.xProj, b.temp3},
		{b.zProj, b.temp4},
	}
	for i, p := range pairs {
		if sq[i], err = vec.DiffNrm2Sq(s, p[0], p[1]); err != nil {
			return 0, 0, err
		}
	}
	return math.Sqrt(sq[0] + sq[1]), b.rho * math.Sqrt(sq[2]+sq[3]), nil
}

func (b *ADMM) updateResiduals(ctx context.Context) error {
	ctx, span := startSpan(ctx, b.name, "residuals")
	defer span.End()

	r, d, err := b.residuals()
	if err != nil {
		span.RecordError(err)
		return err
	}
	b.primalRes, b.dualRes = r, d
	b.metrics.residual(b.name, r, d)
	span.SetAttributes(
		attribute.Int("iteration", b.iteration),
		attribute.Float64("primal", r),
		attribute.Float64("dual", d),
	)

	if err := b.adapt(r, d); err != nil {
		span.RecordError(err)
		return err
	}

	b.log.DebugContext(ctx, "residuals",
		"iteration", b.iteration,
		"primal", r,
		"dual", d,
		"rho", b.rho,
		"delta", b.delta,
	)
	return nil
}

// adapt is the penalty update of Fougner and Boyd. ρ grows when the primal
// residual dominates and shrinks when the dual one does, at most once per
// arb_tau fraction of the iterations since the last opposite change. The
// scaled duals are rescaled so that ρ·dual stays fixed.
func (b *ADMM) adapt(r, d float64) error {
	s := b.dev.Stream()
	k := b.opts.ArbTau * float64(b.iteration)
	gamma := b.opts.ArbGamma

	var scale float64
	switch {
	case r > d && k > float64(b.arbL):
		b.rho *= b.delta
		scale = 1 / b.delta
		b.arbU = b.iteration
	case d > r && k > float64(b.arbU):
		b.rho /= b.delta
		scale = b.delta
		b.arbL = b.iteration
	default:
		b.delta = max(b.delta/gamma, b.opts.ArbDelta)
		return nil
	}
	b.delta = min(b.delta*gamma, deltaMax)

	if err := vec.Scale(s, scale, b.xDual); err != nil {
		return err
	}
	return vec.Scale(s, scale, b.zDual)
}

func (b *ADMM) recordSteps() {
	b.metrics.steps.WithLabelValues(b.name, "rho").Set(b.rho)
	b.metrics.steps.WithLabelValues(b.name, "delta").Set(b.delta)
}

// SetInitialSolution warm starts the iteration at primal x and dual y. The
// scaled duals are set to z_dual = y/ρ and x_dual = -K^T y/ρ.
func (b *ADMM) SetInitialSolution(x, y []float64) error {
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
	K := b.problem.K
	if err := s.Synchronize(); err != nil {
		return err
	}
	if err := b.xProj.Upload(x); err != nil {
		return err
	}
	if err := b.zDual.Upload(y); err != nil {
		return err
	}
	steps := []func() error{
		func() error { return vec.Copy(s, b.xHalf, b.xProj) },
		func() error { return K.Apply(s, b.zProj, b.xProj) },
		func() error { return vec.Copy(s, b.zHalf, b.zProj) },
		func() error { return K.ApplyAdjoint(s, b.xDual, b.zDual) },
		func() error { return vec.Scale(s, -1/b.rho, b.xDual) },
		func() error { return vec.Scale(s, 1/b.rho, b.zDual) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// CurrentSolution copies x_proj and the unscaled dual ρ·z_dual.
func (b *ADMM) CurrentSolution(primal, dual []float64) error {
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
	if err := b.dev.Stream().Synchronize(); err != nil {
		return err
	}
	if err := download(target{"primal", primal, b.xProj}, target{"dual", dual, b.zDual}); err != nil {
		return err
	}
	floats.Scale(b.rho, dual)
	return nil
}

// CurrentSolutionSplit copies x, z = K x, y = ρ·z_dual and w = K^T y. The
// images are recomputed into scratch vectors. Nil destinations are skipped.
func (b *ADMM) CurrentSolutionSplit(x, z, y, w []float64) error {
	if err := b.check(); err != nil {
		return err
	}
	s := b.dev.Stream()
	K := b.problem.K

	// temp2 = K x, temp4 = ρ z_dual, temp1 = K^T temp4
	if err := K.Apply(s, b.temp2, b.xProj); err != nil {
		return err
	}
	if err := vec.Copy(s, b.temp4, b.zDual); err != nil {
		return err
	}
	if err := vec.Scale(s, b.rho, b.temp4); err != nil {
		return err
	}
	if err := K.ApplyAdjoint(s, b.temp1, b.temp4); err != nil {
		return err
	}
	if err := s.Synchronize(); err != nil {
		return err
	}
	return download(
		target{"x", x, b.xProj},
		target{"z", z, b.temp2},
		target{"y", y, b.temp4},
		target{"w", w, b.temp1},
	)
}

func (b *ADMM) Release() error {
	err := b.release()
	b.admmVectors = admmVectors{}
	b.proxG, b.proxF = nil, nil
	return err
}
