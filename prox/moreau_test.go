package prox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoreauOfZeroIsZero(t *testing.T) {
	dev := newDevice(t)
	got := evalOp(t, dev, NewMoreau(NewZero(0, 4)), []float64{1, -2, 3, 0.5}, nil, 0.7, false)
	assert.InDeltaSlice(t, []float64{0, 0, 0, 0}, got, 1e-15)
}

func TestMoreauOfAbsClampsToUnitInterval(t *testing.T) {
	dev := newDevice(t)
	arg := []float64{-3, -0.5, 0.25, 2}
	want := []float64{-1, -0.5, 0.25, 1}

	for _, sigma := range []float64{0.1, 1, 10} {
		op := NewMoreau(NewFunction1D(FuncAbs, 0, 4, false, false, Coeffs1D{}))
		got := evalOp(t, dev, op, arg, nil, sigma, false)
		assert.InDeltaSlice(t, want, got, 1e-12, "sigma=%g", sigma)
	}
}

func TestMoreauDiagSteps(t *testing.T) {
	dev := newDevice(t)
	// f = x²/2 is self-conjugate, so prox_{σf*}(v) = v/(1+σ).
	op := NewMoreau(NewFunction1D(FuncSquare, 0, 2, false, true, Coeffs1D{}))
	got := evalOp(t, dev, op, []float64{4, 4}, []float64{1, 3}, 1, false)
	assert.InDeltaSlice(t, []float64{2, 1}, got, 1e-12)

	inv := NewMoreau(NewFunction1D(FuncSquare, 0, 2, false, true, Coeffs1D{}))
	got = evalOp(t, dev, inv, []float64{4, 4}, []float64{1, 0.5}, 1, true)
	assert.InDeltaSlice(t, []float64{2, 4.0 / 3}, got, 1e-12)
}

func TestMoreauMemoryAndLifecycle(t *testing.T) {
	dev := newDevice(t)
	inner := NewFunction1D(FuncAbs, 0, 3, false, false, Coeffs1D{C: []float64{1, 2, 3}})
	op := NewMoreau(inner)
	assert.Equal(t, int64(2*3*8), op.GPUMemAmount())

	buf := upload(t, dev, []float64{1, 2, 3})
	before := dev.Context().MemUsed()
	require.ErrorIs(t, op.Eval(dev.Stream(), buf, buf, nil, 1, false), ErrNotInitialized)

	require.NoError(t, op.Initialize(dev.Context()))
	assert.Equal(t, before+op.GPUMemAmount(), dev.Context().MemUsed())
	require.NoError(t, op.Release())
	require.NoError(t, op.Release())
	assert.Equal(t, before, dev.Context().MemUsed())
}
