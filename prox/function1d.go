package prox

import (
	"fmt"
	"math"
)

// Function1DKind selects the scalar function f of a Function1D.
type Function1DKind int

const (
	// FuncZero is f(x) = 0.
	FuncZero Function1DKind = iota
	// FuncAbs is f(x) = |x|.
	FuncAbs
	// FuncSquare is f(x) = x²/2.
	FuncSquare
	// FuncIndLeq0 is the indicator of x <= 0.
	FuncIndLeq0
	// FuncIndGeq0 is the indicator of x >= 0.
	FuncIndGeq0
	// FuncIndEq0 is the indicator of x = 0.
	FuncIndEq0
	// FuncIndBox01 is the indicator of 0 <= x <= 1.
	FuncIndBox01
	// FuncMaxPos0 is f(x) = max(x, 0).
	FuncMaxPos0
	// FuncL0 is f(x) = 1 for x != 0, 0 otherwise.
	FuncL0
	// FuncHuber is the Huber function with threshold alpha.
	FuncHuber
	// FuncTruncLinear is f(x) = min(alpha|x|, beta).
	FuncTruncLinear
)

var function1DNames = [...]string{
	FuncZero:        "zero",
	FuncAbs:         "abs",
	FuncSquare:      "square",
	FuncIndLeq0:     "ind_leq0",
	FuncIndGeq0:     "ind_geq0",
	FuncIndEq0:      "ind_eq0",
	FuncIndBox01:    "ind_box01",
	FuncMaxPos0:     "max_pos0",
	FuncL0:          "l0",
	FuncHuber:       "huber",
	FuncTruncLinear: "trunclin",
}

func (k Function1DKind) String() string {
	if k < 0 || int(k) >= len(function1DNames) {
		return fmt.Sprintf("Function1DKind(%d)", int(k))
	}
	return function1DNames[k]
}

// ParseFunction1DKind maps a name such as "abs" to its kind.
func ParseFunction1DKind(name string) (Function1DKind, error) {
	for k, n := range function1DNames {
		if n == name {
			return Function1DKind(k), nil
		}
	}
	return 0, fmt.Errorf("algoprox/prox: unknown 1D function %q", name)
}

// Coefficient slots of a Function1D.
const (
	CoeffA = iota
	CoeffB
	CoeffC
	CoeffD
	CoeffE
	CoeffAlpha
	CoeffBeta
	numCoeffs1D
)

// Function1D is the elementary operation for
//
//	h(x) = c·f(a·x - b) + d·x + (e/2)·x²
//
// applied to every coordinate, with f selected by Kind. alpha and beta are
// shape parameters of f.
type Function1D struct {
	Kind Function1DKind
}

func (Function1D) Dim() int        { return 1 }
func (Function1D) CoeffCount() int { return numCoeffs1D }

func (f Function1D) Eval(res, arg, tauDiag []float64, tau float64, invertTau bool, c []float64) {
	t := Step(tau, tauDiag, 0, invertTau)
	a, b, cc, d, e := c[CoeffA], c[CoeffB], c[CoeffC], c[CoeffD], c[CoeffE]

	// Fold the linear and quadratic terms into the argument and step.
	x0 := (arg[0] - t*d) / (1 + t*e)
	t /= 1 + t*e
	if a == 0 || cc == 0 {
		res[0] = x0
		return
	}
	u := f.prox(a*x0-b, cc*a*a*t, c[CoeffAlpha], c[CoeffBeta])
	res[0] = (u + b) / a
}

// prox evaluates prox_{t·f}(x) of the unscaled scalar function.
func (f Function1D) prox(x, t, alpha, beta float64) float64 {
	switch f.Kind {
	case FuncAbs:
		return softThreshold(x, t)
	case FuncSquare:
		return x / (1 + t)
	case FuncIndLeq0:
		return math.Min(x, 0)
	case FuncIndGeq0:
		return math.Max(x, 0)
	case FuncIndEq0:
		return 0
	case FuncIndBox01:
		return math.Min(math.Max(x, 0), 1)
	case FuncMaxPos0:
		switch {
		case x > t:
			return x - t
		case x < 0:
			return x
		default:
			return 0
		}
	case FuncL0:
		if x*x > 2*t {
			return x
		}
		return 0
	case FuncHuber:
		if math.Abs(x) <= alpha+t {
			if alpha+t == 0 {
				return x
			}
			return x * alpha / (alpha + t)
		}
		return softThreshold(x, t)
	case FuncTruncLinear:
		// min of two convex pieces: the better of the two piecewise proxes.
		u := softThreshold(x, alpha*t)
		eu := math.Min(alpha*math.Abs(u), beta) + (u-x)*(u-x)/(2*t)
		if eu <= math.Min(alpha*math.Abs(x), beta) {
			return u
		}
		return x
	default:
		return x
	}
}

func softThreshold(x, t float64) float64 {
	return math.Copysign(math.Max(math.Abs(x)-t, 0), x)
}

// Coeffs1D holds the coefficient slots of a Function1D. A nil slot takes
// its default (a = c = 1, all others 0) as a broadcast scalar.
type Coeffs1D struct {
	A, B, C, D, E, Alpha, Beta []float64
}

func (c Coeffs1D) slots() [][]float64 {
	def := func(v []float64, d float64) []float64 {
		if v == nil {
			return []float64{d}
		}
		return v
	}
	return [][]float64{
		def(c.A, 1),
		def(c.B, 0),
		def(c.C, 1),
		def(c.D, 0),
		def(c.E, 0),
		def(c.Alpha, 0),
		def(c.Beta, 0),
	}
}

// NewFunction1D returns the separable sum of h over count coordinates
// starting at index.
func NewFunction1D(kind Function1DKind, index, count int, interleaved, diagSteps bool, coeffs Coeffs1D) *ElemOperation {
	return NewElemOperation(Function1D{Kind: kind}, index, count, 1, interleaved, diagSteps, coeffs.slots()...)
}
