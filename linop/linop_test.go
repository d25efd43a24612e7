package linop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-prox/gpu"
)

func newDevice(t *testing.T) *gpu.Device {
	t.Helper()
	gpu.RegisterMockBackend(gpu.WithGrain(1), gpu.WithWorkers(2))
	dev, err := gpu.Open(gpu.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

func apply(t *testing.T, dev *gpu.Device, op Operator, x []float64, adjoint bool) []float64 {
	t.Helper()
	n := op.Rows()
	if adjoint {
		n = op.Cols()
	}
	src, err := dev.Alloc(len(x), x)
	require.NoError(t, err)
	defer src.Close()
	dst, err := dev.Alloc(n, nil)
	require.NoError(t, err)
	defer dst.Close()

	if adjoint {
		require.NoError(t, op.ApplyAdjoint(dev.Stream(), dst, src))
	} else {
		require.NoError(t, op.Apply(dev.Stream(), dst, src))
	}
	out := make([]float64, n)
	require.NoError(t, dst.Download(out))
	return out
}

func TestDenseApplyMatchesGonum(t *testing.T) {
	m := mat.NewDense(3, 2, []float64{
		1, 2,
		3, 4,
		5, 6,
	})
	op, err := NewDense(m)
	require.NoError(t, err)
	dev := newDevice(t)

	require.ErrorIs(t, op.Apply(dev.Stream(), nil, nil), ErrNotInitialized)

	require.NoError(t, op.Initialize(dev.Context()))
	defer op.Release()
	assert.Equal(t, int64(6*gpu.ElemSize), op.GPUMemAmount())

	assert.InDeltaSlice(t, []float64{5, 11, 17}, apply(t, dev, op, []float64{1, 2}, false), 1e-12)
	assert.InDeltaSlice(t, []float64{22, 28}, apply(t, dev, op, []float64{1, 1, 3}, true), 1e-12)
}

func TestDenseShapeChecks(t *testing.T) {
	_, err := NewDense(&mat.Dense{})
	require.ErrorIs(t, err, ErrDimension)

	op, err := NewDense(mat.NewDense(2, 3, nil))
	require.NoError(t, err)
	dev := newDevice(t)
	require.NoError(t, op.Initialize(dev.Context()))
	defer op.Release()

	a, _ := dev.Alloc(3, nil)
	b, _ := dev.Alloc(3, nil)
	require.ErrorIs(t, op.Apply(dev.Stream(), a, b), ErrLengthMismatch)
}

func TestDiagonalAndIdentity(t *testing.T) {
	dev := newDevice(t)
	d, err := NewDiagonal([]float64{2, -1, 0.5})
	require.NoError(t, err)
	require.NoError(t, d.Initialize(dev.Context()))
	defer d.Release()

	assert.Equal(t, []float64{2, -2, 1.5}, apply(t, dev, d, []float64{1, 2, 3}, false))
	assert.Equal(t, []float64{2, -2, 1.5}, apply(t, dev, d, []float64{1, 2, 3}, true))

	id, err := NewIdentity(2)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5}, apply(t, dev, id, []float64{4, 5}, false))
	assert.Zero(t, id.GPUMemAmount())

	require.NoError(t, d.Release())
	require.NoError(t, d.Release())
}

func TestEstimateNorm(t *testing.T) {
	dev := newDevice(t)

	d, err := NewDiagonal([]float64{1, -3, 2})
	require.NoError(t, err)
	require.NoError(t, d.Initialize(dev.Context()))
	defer d.Release()

	nrm, err := EstimateNorm(dev, d, NormSettings{MaxIterations: 500, Tolerance: 1e-12, Seed: 7})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, nrm, 1e-4)

	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	var svd mat.SVD
	require.True(t, svd.Factorize(m, mat.SVDNone))
	want := svd.Values(nil)[0]

	op, err := NewDense(m)
	require.NoError(t, err)
	require.NoError(t, op.Initialize(dev.Context()))
	defer op.Release()

	nrm, err = EstimateNorm(dev, op, NormSettings{})
	require.NoError(t, err)
	assert.InDelta(t, want, nrm, 1e-4)
}
