package algoprox

import (
	"fmt"

	"github.com/cwbudde/algo-prox/linop"
	"github.com/cwbudde/algo-prox/prox"
)

// Problem describes min_x g(x) + f(Kx).
//
// The arena owns the proximal operators; G, F and FStar list the handles of
// the operators that make up g, f and f*. Each list must partition its
// vector: G covers the n = K.Cols() primal coordinates, F and FStar the
// m = K.Rows() dual coordinates. PDHG uses FStar, or the conjugates of F
// when FStar is empty. ADMM uses F.
type Problem struct {
	K     linop.Operator
	Arena *prox.Arena

	G     []prox.Handle
	F     []prox.Handle
	FStar []prox.Handle

	// ScalingLeft (length m) and ScalingRight (length n) are positive
	// diagonal preconditioners for PDHG. They scale the dual and primal
	// steps per coordinate and are passed as step vectors to operators with
	// diagonal steps. Nil means all ones.
	ScalingLeft  []float64
	ScalingRight []float64

	// NormEstimate is |K|, if known. Otherwise it is estimated by power
	// iteration when step scaling is requested.
	NormEstimate float64
}

func (p *Problem) validate() error {
	if p == nil || p.K == nil || p.Arena == nil {
		return fmt.Errorf("%w: missing operator or arena", ErrInvalidProblem)
	}
	if p.K.Rows() <= 0 || p.K.Cols() <= 0 {
		return fmt.Errorf("%w: K is %dx%d", ErrInvalidProblem, p.K.Rows(), p.K.Cols())
	}
	if err := checkScaling("scaling_left", p.ScalingLeft, p.K.Rows()); err != nil {
		return err
	}
	return checkScaling("scaling_right", p.ScalingRight, p.K.Cols())
}

func checkScaling(name string, v []float64, n int) error {
	if v == nil {
		return nil
	}
	if len(v) != n {
		return fmt.Errorf("%w: %s has %d entries, want %d", ErrInvalidProblem, name, len(v), n)
	}
	for i, d := range v {
		if !(d > 0) {
			return fmt.Errorf("%w: %s[%d] = %g is not positive", ErrInvalidProblem, name, i, d)
		}
	}
	return nil
}

// operators resolves hs and checks that they partition a vector of length n.
func (p *Problem) operators(name string, hs []prox.Handle, n int) ([]prox.Operator, error) {
	ops, err := p.Arena.Resolve(hs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidProblem, name, err)
	}
	if err := prox.ValidatePartition(ops, n); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidProblem, name, err)
	}
	return ops, nil
}

// checkDiagSteps rejects a scaling vector unless every operator it applies
// to reads per-coordinate steps. Otherwise the prox would see the bare
// scalar step while the gradient step is scaled.
func checkDiagSteps(name string, scaling []float64, ops []prox.Operator) error {
	if scaling == nil {
		return nil
	}
	for _, op := range ops {
		if !op.DiagSteps() && !prox.StepIndependent(op) {
			return fmt.Errorf("%w: %s needs diagonal steps, prox on [%d, %d) has none",
				ErrInvalidProblem, name, op.Index(), op.Index()+op.Size())
		}
	}
	return nil
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}
