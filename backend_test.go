package algoprox

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-prox/gpu"
	"github.com/cwbudde/algo-prox/prox"
)

// backends returns one fresh backend of each kind for p.
func backends(p *Problem, dev *gpu.Device, options ...Option) map[string]Backend {
	return map[string]Backend{
		"pdhg": NewPDHG(p, dev, DefaultPDHGOptions(), options...),
		"admm": NewADMM(p, dev, DefaultADMMOptions(), options...),
	}
}

func TestBackendMisuse(t *testing.T) {
	dev := newDevice(t)
	for name, b := range backends(identityProblem(t, 2), dev) {
		t.Run(name, func(t *testing.T) {
			x, y := make([]float64, 2), make([]float64, 2)
			require.ErrorIs(t, b.PerformIteration(t.Context()), ErrNotInitialized)
			require.ErrorIs(t, b.CurrentSolution(x, y), ErrNotInitialized)
			require.ErrorIs(t, b.CurrentSolutionSplit(x, x, y, y), ErrNotInitialized)
			require.NoError(t, b.Release(), "release before initialize is a no-op")

			require.NoError(t, b.Initialize(t.Context()))
			require.ErrorIs(t, b.Initialize(t.Context()), ErrAlreadyInitialized)
			require.ErrorIs(t, b.CurrentSolution(x[:1], y), ErrLengthMismatch)
			require.ErrorIs(t, b.CurrentSolutionSplit(x, make([]float64, 3), y, y), ErrLengthMismatch)
			require.NoError(t, b.CurrentSolution(x, y), "valid before any iteration")

			require.NoError(t, b.Release())
			require.ErrorIs(t, b.PerformIteration(t.Context()), ErrReleased)
			require.ErrorIs(t, b.CurrentSolution(x, y), ErrReleased)

			// A released backend can be initialized again.
			require.NoError(t, b.Initialize(t.Context()))
			assert.Zero(t, b.Iteration())
			require.NoError(t, b.PerformIteration(t.Context()))
			require.NoError(t, b.Release())
		})
	}
}

func TestBackendReleaseIdempotent(t *testing.T) {
	dev := newDevice(t)
	for name, b := range backends(nnlsProblem(t), dev) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Initialize(t.Context()))
			run(t, b, 2)
			require.NoError(t, b.Release())
			require.NoError(t, b.Release())
			assert.Zero(t, b.GPUMemAmount())
			assert.Zero(t, dev.Context().MemUsed())
		})
	}
}

func TestBackendGPUMemAmount(t *testing.T) {
	dev := newDevice(t)
	p := nnlsProblem(t)
	// Per-block coefficient b of f: 3 elements.
	const proxBytes = 3 * gpu.ElemSize
	want := map[string]int64{
		// 5 vectors of n = 2, 5 of m = 3, plus the Moreau scratch of f*.
		"pdhg": (5*2+5*3)*gpu.ElemSize + proxBytes + 3*gpu.ElemSize,
		// 5 of n, 5 of m, ones of max(n, m), CG workspace of 3 n.
		"admm": (5*2+5*3+3+3*2)*gpu.ElemSize + proxBytes,
	}
	for name, b := range backends(p, dev) {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want[name], b.GPUMemAmount(), "estimate")
			require.NoError(t, b.Initialize(t.Context()))
			assert.Equal(t, want[name], b.GPUMemAmount(), "allocated")
			assert.Equal(t, want[name]+p.K.GPUMemAmount(), dev.Context().MemUsed())
			require.NoError(t, b.Release())
		})
	}
}

func TestBackendRejectsBadPartition(t *testing.T) {
	tests := []struct {
		name string
		g    []prox.Operator
		want error
	}{
		{"gap", []prox.Operator{prox.NewZero(0, 1), prox.NewZero(2, 1)}, prox.ErrPartitionGap},
		{"overlap", []prox.Operator{prox.NewZero(0, 2), prox.NewNonneg(1, 2)}, prox.ErrPartitionOverlap},
		{"exceeds", []prox.Operator{prox.NewZero(0, 4)}, prox.ErrRangeExceeds},
	}
	dev := newDevice(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := identityProblem(t, 3)
			p.G = nil
			for _, op := range tt.g {
				p.G = append(p.G, p.Arena.Add(op))
			}
			for _, b := range backends(p, dev) {
				err := b.Initialize(t.Context())
				require.ErrorIs(t, err, ErrInvalidProblem)
				require.ErrorIs(t, err, tt.want)
				require.ErrorIs(t, b.PerformIteration(t.Context()), ErrNotInitialized)
				assert.Zero(t, dev.Context().MemUsed())
			}
		})
	}
}

func TestBackendRejectsBadProblem(t *testing.T) {
	dev := newDevice(t)

	require.ErrorIs(t, NewPDHG(nil, dev, DefaultPDHGOptions()).Initialize(t.Context()), ErrInvalidProblem)
	require.ErrorIs(t, NewADMM(&Problem{}, dev, DefaultADMMOptions()).Initialize(t.Context()), ErrInvalidProblem)

	p := identityProblem(t, 2)
	p.ScalingLeft = []float64{1, 0}
	require.ErrorIs(t, NewPDHG(p, dev, DefaultPDHGOptions()).Initialize(t.Context()), ErrInvalidProblem)

	p = identityProblem(t, 2)
	p.ScalingRight = []float64{1}
	require.ErrorIs(t, NewPDHG(p, dev, DefaultPDHGOptions()).Initialize(t.Context()), ErrInvalidProblem)

	p = identityProblem(t, 2)
	p.G = []prox.Handle{42}
	require.ErrorIs(t, NewADMM(p, dev, DefaultADMMOptions()).Initialize(t.Context()), prox.ErrInvalidHandle)
}

func TestPDHGScalingNeedsDiagonalSteps(t *testing.T) {
	dev := newDevice(t)

	// f is a Square without diagonal steps, so a left scaling would leave
	// its prox on the bare sigma.
	p := nnlsProblem(t)
	p.ScalingLeft = []float64{1, 1, 0.25}
	b := NewPDHG(p, dev, DefaultPDHGOptions())
	require.ErrorIs(t, b.Initialize(t.Context()), ErrInvalidProblem)
	assert.Equal(t, StateUninitialized, b.State())
	assert.Zero(t, dev.Context().MemUsed())

	// g is a projection and ignores its steps.
	p = nnlsProblem(t)
	p.ScalingRight = []float64{0.5, 0.5}
	b = NewPDHG(p, dev, DefaultPDHGOptions())
	require.NoError(t, b.Initialize(t.Context()))
	require.NoError(t, b.Release())

	// ADMM does not use the scaling.
	p = nnlsProblem(t)
	p.ScalingLeft = []float64{1, 1, 0.25}
	a := NewADMM(p, dev, DefaultADMMOptions())
	require.NoError(t, a.Initialize(t.Context()))
	require.NoError(t, a.Release())
}

func TestBackendsShareProblem(t *testing.T) {
	dev := newDevice(t)
	p := nnlsProblem(t)
	opts := DefaultADMMOptions()
	opts.ResidualIter = 2
	pdhg := NewPDHG(p, dev, DefaultPDHGOptions())
	admm := NewADMM(p, dev, opts)

	require.NoError(t, pdhg.Initialize(t.Context()))
	require.NoError(t, admm.Initialize(t.Context()))
	run(t, pdhg, 10)
	run(t, admm, 10)

	require.NoError(t, pdhg.Release())
	run(t, admm, 990)
	x, y := make([]float64, 2), make([]float64, 3)
	require.NoError(t, admm.CurrentSolution(x, y))
	assert.InDeltaSlice(t, nnlsX, x, 1e-4)

	require.NoError(t, admm.Release())
	assert.Zero(t, dev.Context().MemUsed())

	// The operators can be initialized again after both released.
	require.NoError(t, pdhg.Initialize(t.Context()))
	run(t, pdhg, 1)
	require.NoError(t, pdhg.Release())
}

func TestBackendRejectsBadOptions(t *testing.T) {
	dev := newDevice(t)
	p := identityProblem(t, 1)

	pdhg := []func(*PDHGOptions){
		func(o *PDHGOptions) { o.Tau0 = 0 },
		func(o *PDHGOptions) { o.Sigma0 = -1 },
		func(o *PDHGOptions) { o.ResidualIter = 0 },
		func(o *PDHGOptions) { o.ArgAlpha0 = 1 },
		func(o *PDHGOptions) { o.ArbDelta = 1 },
		func(o *PDHGOptions) { o.Variant = 0 },
		func(o *PDHGOptions) { o.Variant = StepsAlg2 },
	}
	for i, mutate := range pdhg {
		opts := DefaultPDHGOptions()
		mutate(&opts)
		err := NewPDHG(p, dev, opts).Initialize(t.Context())
		require.ErrorIs(t, err, ErrInvalidOptions, "case %d", i)
	}

	admm := []func(*ADMMOptions){
		func(o *ADMMOptions) { o.Rho0 = 0 },
		func(o *ADMMOptions) { o.Alpha = 2 },
		func(o *ADMMOptions) { o.CGTolMax = o.CGTolMin / 2 },
		func(o *ADMMOptions) { o.CGMaxIter = 0 },
		func(o *ADMMOptions) { o.ArbGamma = 0.5 },
	}
	for i, mutate := range admm {
		opts := DefaultADMMOptions()
		mutate(&opts)
		err := NewADMM(p, dev, opts).Initialize(t.Context())
		require.ErrorIs(t, err, ErrInvalidOptions, "case %d", i)
	}
	assert.Zero(t, dev.Context().MemUsed())
}

func TestBackendOutOfMemoryRollsBack(t *testing.T) {
	// Room for K (6 elements) and a few vectors, not for everything.
	dev := newDevice(t, gpu.WithMemoryLimit(14*gpu.ElemSize))
	for name, b := range backends(nnlsProblem(t), dev) {
		t.Run(name, func(t *testing.T) {
			err := b.Initialize(t.Context())
			require.ErrorIs(t, err, gpu.ErrOutOfMemory)
			assert.Zero(t, dev.Context().MemUsed())
			require.ErrorIs(t, b.PerformIteration(t.Context()), ErrNotInitialized)
			assert.NotZero(t, b.GPUMemAmount(), "estimate is still available")
		})
	}
}

func TestCurrentSolutionSplitConsistent(t *testing.T) {
	dev := newDevice(t, gpu.WithGrain(1), gpu.WithWorkers(3))
	for name, b := range backends(nnlsProblem(t), dev) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, b.Initialize(t.Context()))
			defer b.Release()
			k := mat.NewDense(3, 2, nnlsMatrix)

			for _, iters := range []int{0, 1, 4} {
				run(t, b, iters)
				primal, dual := make([]float64, 2), make([]float64, 3)
				x, z, y, w := make([]float64, 2), make([]float64, 3), make([]float64, 3), make([]float64, 2)
				require.NoError(t, b.CurrentSolution(primal, dual))
				require.NoError(t, b.CurrentSolutionSplit(x, z, y, w))

				assert.Equal(t, primal, x)
				assert.Equal(t, dual, y)

				var kx, kty mat.VecDense
				kx.MulVec(k, mat.NewVecDense(2, x))
				kty.MulVec(k.T(), mat.NewVecDense(3, y))
				assert.InDeltaSlice(t, kx.RawVector().Data, z, 1e-12)
				assert.InDeltaSlice(t, kty.RawVector().Data, w, 1e-12)
			}
		})
	}
}

func TestBackendMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	dev := newDevice(t)
	p := identityProblem(t, 2)

	first := NewPDHG(p, dev, DefaultPDHGOptions(), WithRegisterer(reg))
	second := NewPDHG(p, dev, DefaultPDHGOptions(), WithRegisterer(reg))
	admm := NewADMM(p, dev, DefaultADMMOptions(), WithRegisterer(reg))

	for _, b := range []Backend{first, second, admm} {
		require.NoError(t, b.Initialize(t.Context()))
		run(t, b, 3)
		require.NoError(t, b.Release())
	}

	assert.Equal(t, 6.0, testutil.ToFloat64(first.metrics.iterations.WithLabelValues("pdhg")))
	assert.Equal(t, 3.0, testutil.ToFloat64(admm.metrics.iterations.WithLabelValues("admm")))
	tau, _, _ := second.StepSizes()
	assert.Equal(t, tau, testutil.ToFloat64(second.metrics.steps.WithLabelValues("pdhg", "tau")))
	assert.Equal(t, admm.Rho(), testutil.ToFloat64(admm.metrics.steps.WithLabelValues("admm", "rho")))
	assert.Equal(t, 1, testutil.CollectAndCount(admm.metrics.cgIterations), "one series per backend")
}

func TestStepsizeVariantText(t *testing.T) {
	for _, v := range []StepsizeVariant{StepsAlg1, StepsAlg2, StepsResidualGoldstein, StepsResidualBoyd} {
		text, err := v.MarshalText()
		require.NoError(t, err)
		var got StepsizeVariant
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, v, got)
	}
	var v StepsizeVariant
	require.ErrorIs(t, v.UnmarshalText([]byte("fast")), ErrInvalidOptions)
	_, err := StepsizeVariant(9).MarshalText()
	require.ErrorIs(t, err, ErrInvalidOptions)
	assert.Equal(t, "StepsizeVariant(9)", StepsizeVariant(9).String())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "released", StateReleased.String())

	dev := newDevice(t)
	b := NewPDHG(identityProblem(t, 1), dev, DefaultPDHGOptions())
	assert.Equal(t, StateUninitialized, b.State())
	require.NoError(t, b.Initialize(t.Context()))
	assert.Equal(t, StateInitialized, b.State())
	require.NoError(t, b.Release())
	assert.Equal(t, StateReleased, b.State())
}
