// Package linop defines the linear operator K consumed by the solver
// backends and provides a few concrete operators.
//
// The backends only need the forward product K*x and the adjoint product
// K^T*y on device buffers; how K is stored is up to the implementation.
package linop

import (
	"errors"

	"github.com/cwbudde/algo-prox/gpu"
)

var (
	// ErrDimension is returned for operators with a zero or negative dimension.
	ErrDimension = errors.New("algoprox/linop: invalid dimension")

	// ErrNotInitialized is returned when Apply is called before Initialize.
	ErrNotInitialized = errors.New("algoprox/linop: operator not initialized")

	// ErrLengthMismatch is returned when buffer lengths do not match the operator shape.
	ErrLengthMismatch = errors.New("algoprox/linop: buffer length mismatch")
)

// Operator is a linear map from R^Cols to R^Rows.
type Operator interface {
	Rows() int
	Cols() int

	// Initialize takes a reference on the device state, uploading it on
	// the first call. Every backend sharing the operator must use the same
	// context; a different one fails with gpu.ErrContextMismatch.
	Initialize(ctx gpu.Context) error
	// Release drops a reference and frees the device state with the last
	// one. Without a live reference it is a no-op.
	Release() error

	// Apply computes dst = K*src. len(dst) == Rows, len(src) == Cols.
	Apply(s gpu.Stream, dst, src gpu.Buffer) error
	// ApplyAdjoint computes dst = K^T*src. len(dst) == Cols, len(src) == Rows.
	ApplyAdjoint(s gpu.Stream, dst, src gpu.Buffer) error

	// GPUMemAmount reports the operator's device footprint in bytes.
	GPUMemAmount() int64
}

func checkShape(op Operator, dst, src gpu.Buffer, adjoint bool) error {
	rows, cols := op.Rows(), op.Cols()
	if adjoint {
		rows, cols = cols, rows
	}
	if dst.Len() != rows || src.Len() != cols {
		return ErrLengthMismatch
	}
	return nil
}
