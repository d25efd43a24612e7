package main

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	algoprox "github.com/cwbudde/algo-prox"
	"github.com/cwbudde/algo-prox/linop"
	"github.com/cwbudde/algo-prox/prox"
)

// lasso is the problem min 1/2 |A x - b|^2 + lambda |x|_1.
type lasso struct {
	a      *mat.Dense
	b      []float64
	lambda float64
}

// newLasso draws a Gaussian A and b = A x0 + noise for a sparse x0 with
// about a tenth of its entries set.
func newLasso(rng *rand.Rand, rows, cols int, lambda float64) *lasso {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64() / math.Sqrt(float64(rows))
	}
	a := mat.NewDense(rows, cols, data)

	x0 := make([]float64, cols)
	for i := range x0 {
		if rng.IntN(10) == 0 {
			x0[i] = rng.NormFloat64()
		}
	}
	var ax mat.VecDense
	ax.MulVec(a, mat.NewVecDense(cols, x0))
	b := ax.RawVector().Data
	for i := range b {
		b[i] += 0.01 * rng.NormFloat64()
	}
	return &lasso{a: a, b: b, lambda: lambda}
}

// problem builds g = lambda |x|_1 and f(z) = 1/2 |z - b|^2.
func (l *lasso) problem() (*algoprox.Problem, error) {
	rows, cols := l.a.Dims()
	k, err := linop.NewDense(l.a)
	if err != nil {
		return nil, err
	}
	arena := prox.NewArena()
	g := arena.Add(prox.NewFunction1D(prox.FuncAbs, 0, cols, false, false, prox.Coeffs1D{
		C: []float64{l.lambda},
	}))
	f := arena.Add(prox.NewFunction1D(prox.FuncSquare, 0, rows, false, false, prox.Coeffs1D{
		B: l.b,
	}))
	return &algoprox.Problem{
		K:     k,
		Arena: arena,
		G:     []prox.Handle{g},
		F:     []prox.Handle{f},
	}, nil
}

func (l *lasso) objective(x []float64) float64 {
	var r mat.VecDense
	r.MulVec(l.a, mat.NewVecDense(len(x), x))
	floats.Sub(r.RawVector().Data, l.b)
	nrm := floats.Norm(r.RawVector().Data, 2)
	return 0.5*nrm*nrm + l.lambda*floats.Norm(x, 1)
}

func nonzeros(x []float64, tol float64) int {
	n := 0
	for _, v := range x {
		if math.Abs(v) > tol {
			n++
		}
	}
	return n
}
