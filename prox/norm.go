package prox

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Norm2 is the group penalty w·|x|_2 of a block. The step of the block is
// taken from its first coordinate.
type Norm2 struct{}

func (Norm2) Dim() int        { return 0 }
func (Norm2) CoeffCount() int { return 1 }

func (Norm2) Eval(res, arg, tauDiag []float64, tau float64, invertTau bool, c []float64) {
	t := Step(tau, tauDiag, 0, invertTau)
	nrm := floats.Norm(arg, 2)
	shrink := 0.0
	if nrm > 0 {
		shrink = math.Max(0, 1-t*c[0]/nrm)
	}
	floats.ScaleTo(res, shrink, arg)
}

// Nonneg projects a coordinate onto x >= 0.
type Nonneg struct{}

func (Nonneg) Dim() int              { return 1 }
func (Nonneg) stepIndependent() bool { return true }

func (Nonneg) Eval(res, arg, _ []float64, _ float64, _ bool, _ []float64) {
	res[0] = math.Max(arg[0], 0)
}

// UnitBall projects a block onto the Euclidean unit ball.
type UnitBall struct{}

func (UnitBall) Dim() int              { return 0 }
func (UnitBall) stepIndependent() bool { return true }

func (UnitBall) Eval(res, arg, _ []float64, _ float64, _ bool, _ []float64) {
	nrm := floats.Norm(arg, 2)
	floats.ScaleTo(res, 1/math.Max(1, nrm), arg)
}

// NewNorm2 returns the sum of weighted block norms.
func NewNorm2(index, count, dim int, interleaved, diagSteps bool, weight []float64) *ElemOperation {
	return NewElemOperation(Norm2{}, index, count, dim, interleaved, diagSteps, weight)
}

// NewNonneg returns the indicator of the nonnegative orthant on count coordinates.
func NewNonneg(index, count int) *ElemOperation {
	return NewElemOperation(Nonneg{}, index, count, 1, false, false)
}

// NewUnitBall returns the indicator of count unit balls of dimension dim.
func NewUnitBall(index, count, dim int, interleaved bool) *ElemOperation {
	return NewElemOperation(UnitBall{}, index, count, dim, interleaved, false)
}
