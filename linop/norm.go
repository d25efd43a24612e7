package linop

import (
	"math"
	"math/rand/v2"

	"github.com/cwbudde/algo-prox/gpu"
	"github.com/cwbudde/algo-prox/internal/vec"
)

// NormSettings controls EstimateNorm.
type NormSettings struct {
	// MaxIterations bounds the number of power iterations. Zero means 100.
	MaxIterations int
	// Tolerance is the relative change of the estimate at which to stop.
	// Zero means 1e-6.
	Tolerance float64
	// Seed seeds the random start vector.
	Seed uint64
}

// EstimateNorm approximates the largest singular value of op by power
// iteration on K^T K. op must be initialized on dev.
func EstimateNorm(dev *gpu.Device, op Operator, settings NormSettings) (float64, error) {
	if settings.MaxIterations == 0 {
		settings.MaxIterations = 100
	}
	if settings.Tolerance == 0 {
		settings.Tolerance = 1e-6
	}

	rng := rand.New(rand.NewPCG(settings.Seed, settings.Seed^0x9e3779b97f4a7c15))
	start := make([]float64, op.Cols())
	for i := range start {
		start[i] = rng.Float64() + 0.5
	}

	x, err := dev.Alloc(op.Cols(), start)
	if err != nil {
		return 0, err
	}
	defer x.Close()
	kx, err := dev.Alloc(op.Rows(), nil)
	if err != nil {
		return 0, err
	}
	defer kx.Close()

	s := dev.Stream()
	nrm, err := vec.Nrm2(s, x)
	if err != nil {
		return 0, err
	}

	var est float64
	for range settings.MaxIterations {
		if err := vec.Scale(s, 1/nrm, x); err != nil {
			return 0, err
		}
		if err := op.Apply(s, kx, x); err != nil {
			return 0, err
		}
		if err := op.ApplyAdjoint(s, x, kx); err != nil {
			return 0, err
		}
		// |K^T K x| for unit x converges to the largest eigenvalue of K^T K.
		nrm, err = vec.Nrm2(s, x)
		if err != nil {
			return 0, err
		}
		if nrm == 0 {
			return 0, nil
		}
		prev := est
		est = math.Sqrt(nrm)
		if math.Abs(est-prev) <= settings.Tolerance*est {
			break
		}
	}
	return est, nil
}
