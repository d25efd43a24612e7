package main

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	algoprox "github.com/cwbudde/algo-prox"
	"github.com/cwbudde/algo-prox/config"
	"github.com/cwbudde/algo-prox/gpu"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "proxsolve", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(newSolveCmd(), newInfoCmd())

	var out, logs bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&logs)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestSolveCommand(t *testing.T) {
	for _, backend := range []string{config.BackendPDHG, config.BackendADMM} {
		t.Run(backend, func(t *testing.T) {
			out, err := execute(t, "solve", "--backend", backend, "-n", "200", "--rows", "30", "--cols", "10")
			require.NoError(t, err)
			assert.Contains(t, out, "backend="+backend+" iterations=200")
		})
	}
}

func TestSolveRejectsBadInput(t *testing.T) {
	_, err := execute(t, "solve", "--backend", "simplex")
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	_, err = execute(t, "solve", "--rows", "0")
	require.Error(t, err)

	_, err = execute(t, "solve", "--config", "/nonexistent/solver.yaml")
	require.Error(t, err)
}

func TestInfoCommand(t *testing.T) {
	out, err := execute(t, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: mock")
	assert.Contains(t, out, "device:  MockGPU")
}

func TestLassoBackendsAgree(t *testing.T) {
	gpu.RegisterMockBackend()
	dev, err := gpu.Open(gpu.Options{})
	require.NoError(t, err)
	defer dev.Close()

	l := newLasso(rand.New(rand.NewPCG(7, 0)), 40, 15, 0.05)
	solve := func(b algoprox.Backend, iterations int) []float64 {
		require.NoError(t, b.Initialize(t.Context()))
		defer b.Release()
		for range iterations {
			require.NoError(t, b.PerformIteration(t.Context()))
		}
		x, y := make([]float64, 15), make([]float64, 40)
		require.NoError(t, b.CurrentSolution(x, y))
		return x
	}

	p, err := l.problem()
	require.NoError(t, err)
	xp := solve(algoprox.NewPDHG(p, dev, algoprox.DefaultPDHGOptions()), 3000)
	xa := solve(algoprox.NewADMM(p, dev, algoprox.DefaultADMMOptions()), 1000)

	zero := l.objective(make([]float64, 15))
	op, oa := l.objective(xp), l.objective(xa)
	assert.Less(t, op, zero)
	assert.InDelta(t, op, oa, 1e-5*zero)
	assert.InDeltaSlice(t, xp, xa, 1e-3)
}

func TestNonzeros(t *testing.T) {
	assert.Equal(t, 2, nonzeros([]float64{0, 1e-9, -0.5, 2}, 1e-6))
}
