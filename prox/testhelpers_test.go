package prox

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cwbudde/algo-prox/gpu"
)

// Shared test helpers used across the package's test files.

func newDevice(t *testing.T, opts ...gpu.MockOption) *gpu.Device {
	t.Helper()
	gpu.RegisterMockBackend(append([]gpu.MockOption{gpu.WithGrain(1), gpu.WithWorkers(3)}, opts...)...)
	dev, err := gpu.Open(gpu.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

func upload(t *testing.T, dev *gpu.Device, v []float64) gpu.Buffer {
	t.Helper()
	b, err := dev.Alloc(len(v), v)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func download(t *testing.T, b gpu.Buffer) []float64 {
	t.Helper()
	out := make([]float64, b.Len())
	require.NoError(t, b.Download(out))
	return out
}

// evalOp initializes op, evaluates it out of place and returns the result.
func evalOp(t *testing.T, dev *gpu.Device, op Operator, arg, steps []float64, tau float64, invert bool) []float64 {
	t.Helper()
	require.NoError(t, op.Initialize(dev.Context()))
	t.Cleanup(func() { _ = op.Release() })

	in := upload(t, dev, arg)
	out := upload(t, dev, make([]float64, len(arg)))
	var diag gpu.Buffer
	if steps != nil {
		diag = upload(t, dev, steps)
	}
	require.NoError(t, op.Eval(dev.Stream(), out, in, diag, tau, invert))
	return download(t, out)
}
