// Package prox implements proximal operators over device vectors.
//
// An Operator evaluates prox_{τf}(v) on its own index range of a full
// vector. The operators assigned to one function partition the vector, so a
// backend evaluates the whole separable function by calling each of them on
// the same buffers.
package prox

import (
	"errors"

	"github.com/cwbudde/algo-prox/gpu"
)

var (
	// ErrRangeExceeds is returned when an operator's range does not fit the vector.
	ErrRangeExceeds = errors.New("algoprox/prox: index range exceeds vector")

	// ErrPartitionGap is returned when operators leave coordinates uncovered.
	ErrPartitionGap = errors.New("algoprox/prox: operators leave a gap")

	// ErrPartitionOverlap is returned when operator ranges overlap.
	ErrPartitionOverlap = errors.New("algoprox/prox: operator ranges overlap")

	// ErrInvalidBlock is returned for a non-positive block count or dimension.
	ErrInvalidBlock = errors.New("algoprox/prox: invalid block layout")

	// ErrCoeffCount is returned when the number of coefficient slots is wrong.
	ErrCoeffCount = errors.New("algoprox/prox: wrong number of coefficients")

	// ErrCoeffLength is returned when a coefficient slot is neither a scalar
	// nor one value per block.
	ErrCoeffLength = errors.New("algoprox/prox: coefficient length must be 1 or count")

	// ErrNotInitialized is returned when Eval needs device state that was not set up.
	ErrNotInitialized = errors.New("algoprox/prox: operator not initialized")

	// ErrMissingSteps is returned when a diagsteps operator gets no step vector.
	ErrMissingSteps = errors.New("algoprox/prox: per-coordinate steps required")

	// ErrInvalidHandle is returned for handles not issued by the arena.
	ErrInvalidHandle = errors.New("algoprox/prox: invalid handle")
)

// Operator evaluates a proximal map on the range [Index(), Index()+Size())
// of full-length device vectors.
type Operator interface {
	Index() int
	Size() int

	// DiagSteps reports whether Eval reads per-coordinate steps from tauDiag.
	DiagSteps() bool

	// Initialize takes a reference on the device state, uploading it on
	// the first call. Every backend sharing the operator must use the same
	// context; a different one fails with gpu.ErrContextMismatch.
	Initialize(ctx gpu.Context) error
	// Release drops a reference and frees the device state with the last
	// one. Without a live reference it is a no-op.
	Release() error

	// Eval writes prox_{t·f}(arg) into result, where the step of coordinate
	// i is t_i = tau*tauDiag[i] (tau without diagonal steps), or 1/t_i when
	// invertTau is set. result may be the same buffer as arg.
	Eval(s gpu.Stream, result, arg, tauDiag gpu.Buffer, tau float64, invertTau bool) error

	// GPUMemAmount reports the device memory the operator needs in bytes.
	GPUMemAmount() int64
}

// Step returns the effective step for coordinate j of a block.
func Step(tau float64, tauDiag []float64, j int, invertTau bool) float64 {
	t := tau
	if tauDiag != nil {
		t *= tauDiag[j]
	}
	if invertTau {
		return 1 / t
	}
	return t
}

// ranged is the layout part of Operator.
type ranged interface {
	Index() int
	Size() int
	DiagSteps() bool
}

func checkRange(op ranged, result, arg, tauDiag gpu.Buffer) error {
	end := op.Index() + op.Size()
	if op.Index() < 0 || result.Len() < end || arg.Len() < end {
		return ErrRangeExceeds
	}
	if op.DiagSteps() {
		if tauDiag == nil {
			return ErrMissingSteps
		}
		if tauDiag.Len() < end {
			return ErrRangeExceeds
		}
	}
	return nil
}

// StepIndependent reports whether op gives the same result for every step,
// as Zero, projections and their conjugates do.
func StepIndependent(op Operator) bool {
	si, ok := op.(interface{ stepIndependent() bool })
	return ok && si.stepIndependent()
}
