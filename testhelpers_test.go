package algoprox

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-prox/gpu"
	"github.com/cwbudde/algo-prox/linop"
	"github.com/cwbudde/algo-prox/prox"
)

// Shared test helpers used across the backend tests.

func newDevice(t *testing.T, opts ...gpu.MockOption) *gpu.Device {
	t.Helper()
	gpu.RegisterMockBackend(opts...)
	dev, err := gpu.Open(gpu.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

func identityProblem(t *testing.T, n int) *Problem {
	t.Helper()
	k, err := linop.NewIdentity(n)
	require.NoError(t, err)
	arena := prox.NewArena()
	return &Problem{
		K:     k,
		Arena: arena,
		G:     []prox.Handle{arena.Add(prox.NewZero(0, n))},
		F:     []prox.Handle{arena.Add(prox.NewZero(0, n))},
		FStar: []prox.Handle{arena.Add(prox.NewZero(0, n))},
	}
}

// nnlsMatrix and nnlsTarget define
//
//	min 1/2 |A x - b|^2  s.t. x >= 0
//
// whose solution is x = (1, 0) with dual y = A x - b = (0, 1, 0).
var (
	nnlsMatrix = []float64{
		1, 0,
		0, 1,
		1, 1,
	}
	nnlsTarget = []float64{1, -1, 1}
	nnlsX      = []float64{1, 0}
	nnlsY      = []float64{0, 1, 0}
)

func nnlsProblem(t *testing.T) *Problem {
	t.Helper()
	k, err := linop.NewDense(mat.NewDense(3, 2, append([]float64(nil), nnlsMatrix...)))
	require.NoError(t, err)
	arena := prox.NewArena()
	return &Problem{
		K:     k,
		Arena: arena,
		G:     []prox.Handle{arena.Add(prox.NewNonneg(0, 2))},
		F: []prox.Handle{arena.Add(prox.NewFunction1D(prox.FuncSquare, 0, 3, false, false, prox.Coeffs1D{
			B: nnlsTarget,
		}))},
	}
}

func run(t *testing.T, b Backend, iterations int) {
	t.Helper()
	for range iterations {
		require.NoError(t, b.PerformIteration(t.Context()))
	}
}
