package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	algoprox "github.com/cwbudde/algo-prox"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
backend: admm
iterations: 250
device:
  memory_limit_mb: 64
pdhg:
  stepsize_variant: goldstein
  tau0: 0.5
admm:
  rho0: 2
  cg_max_iter: 25
`))
	require.NoError(t, err)

	assert.Equal(t, BackendADMM, cfg.Backend)
	assert.Equal(t, 250, cfg.Iterations)
	assert.Equal(t, 64, cfg.Device.MemoryLimitMB)
	assert.Equal(t, algoprox.StepsResidualGoldstein, cfg.PDHG.Variant)
	assert.Equal(t, 0.5, cfg.PDHG.Tau0)
	assert.Equal(t, algoprox.DefaultPDHGOptions().Sigma0, cfg.PDHG.Sigma0)
	assert.Equal(t, 2.0, cfg.ADMM.Rho0)
	assert.Equal(t, 25, cfg.ADMM.CGMaxIter)
	assert.Equal(t, algoprox.DefaultADMMOptions().Alpha, cfg.ADMM.Alpha)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"unknown backend": "backend: simplex\n",
		"unknown key":     "iterationz: 3\n",
		"bad variant":     "pdhg:\n  stepsize_variant: fast\n",
		"zero iterations": "iterations: 0\n",
		"negative rho":    "backend: admm\nadmm:\n  rho0: -1\n",
		"bad alpha":       "admm:\n  alpha: 2.5\n",
		"malformed":       "backend: [pdhg\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Backend = BackendADMM
	cfg.PDHG.Variant = algoprox.StepsAlg1
	cfg.ADMM.CGTolMin = 1e-8

	data, err := Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "stepsize_variant: alg1")

	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoad(t *testing.T) {
	t.Setenv("ALGOPROX_BACKEND", "")
	os.Unsetenv("ALGOPROX_BACKEND")

	path := filepath.Join(t.TempDir(), "solver.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: admm\niterations: 7\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendADMM, cfg.Backend)
	assert.Equal(t, 7, cfg.Iterations)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Backend, cfg.Backend)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{"ALGOPROX_BACKEND": "admm", "ALGOPROX_ITERATIONS": "42"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := Default()
	require.NoError(t, applyEnv(&cfg, lookup))
	assert.Equal(t, BackendADMM, cfg.Backend)
	assert.Equal(t, 42, cfg.Iterations)

	env["ALGOPROX_ITERATIONS"] = "many"
	require.ErrorIs(t, applyEnv(&cfg, lookup), ErrInvalidConfig)
}
