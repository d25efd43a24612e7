package prox

import "github.com/cwbudde/algo-prox/gpu"

// Moreau evaluates the prox of the convex conjugate f* from an operator for
// f using the Moreau identity
//
//	prox_{σf*}(v) = v - σ prox_{f/σ}(v/σ).
type Moreau struct {
	inner   Operator
	scratch gpu.Buffer
	share   gpu.Share
}

// NewMoreau returns the conjugate prox of inner on the same range.
func NewMoreau(inner Operator) *Moreau {
	return &Moreau{inner: inner}
}

func (p *Moreau) Index() int      { return p.inner.Index() }
func (p *Moreau) Size() int       { return p.inner.Size() }
func (p *Moreau) DiagSteps() bool { return p.inner.DiagSteps() }

func (p *Moreau) stepIndependent() bool { return StepIndependent(p.inner) }

func (p *Moreau) Initialize(ctx gpu.Context) error {
	return p.share.Acquire(ctx, func() error { return p.setup(ctx) })
}

func (p *Moreau) setup(ctx gpu.Context) error {
	if err := p.inner.Initialize(ctx); err != nil {
		return err
	}
	buf, err := ctx.NewBuffer(p.inner.Size())
	if err != nil {
		_ = p.inner.Release()
		return err
	}
	p.scratch = buf
	return nil
}

func (p *Moreau) Release() error {
	return p.share.Release(p.teardown)
}

func (p *Moreau) teardown() error {
	firstErr := p.scratch.Close()
	p.scratch = nil
	if err := p.inner.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (p *Moreau) GPUMemAmount() int64 {
	return p.inner.GPUMemAmount() + int64(p.inner.Size())*gpu.ElemSize
}

func (p *Moreau) Eval(s gpu.Stream, result, arg, tauDiag gpu.Buffer, tau float64, invertTau bool) error {
	if p.scratch == nil {
		return ErrNotInitialized
	}
	if err := checkRange(p, result, arg, tauDiag); err != nil {
		return err
	}

	off, n := p.Index(), p.Size()
	res, in, saved := result.Raw(), arg.Raw(), p.scratch.Raw()
	var steps []float64
	if p.DiagSteps() {
		steps = tauDiag.Raw()[off : off+n]
	}

	// saved = v, result = v/σ
	err := s.Launch(n, func(lo, hi int) {
		for k := lo; k < hi; k++ {
			sigma := Step(tau, steps, k, invertTau)
			saved[k] = in[off+k]
			res[off+k] = in[off+k] / sigma
		}
	})
	if err != nil {
		return err
	}

	// The inner step is 1/σ, so the invert flag flips.
	if err := p.inner.Eval(s, result, result, tauDiag, tau, !invertTau); err != nil {
		return err
	}

	return s.Launch(n, func(lo, hi int) {
		for k := lo; k < hi; k++ {
			sigma := Step(tau, steps, k, invertTau)
			res[off+k] = saved[k] - sigma*res[off+k]
		}
	})
}
