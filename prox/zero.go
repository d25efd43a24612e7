package prox

import "github.com/cwbudde/algo-prox/gpu"

// Zero is the prox of the zero function: it copies its argument.
type Zero struct {
	index int
	size  int
}

// NewZero returns the identity prox on [index, index+size).
func NewZero(index, size int) *Zero {
	return &Zero{index: index, size: size}
}

func (p *Zero) Index() int                   { return p.index }
func (p *Zero) Size() int                    { return p.size }
func (p *Zero) DiagSteps() bool              { return false }
func (p *Zero) Initialize(gpu.Context) error { return nil }
func (p *Zero) Release() error               { return nil }
func (p *Zero) GPUMemAmount() int64          { return 0 }
func (p *Zero) stepIndependent() bool        { return true }

func (p *Zero) Eval(s gpu.Stream, result, arg, tauDiag gpu.Buffer, _ float64, _ bool) error {
	if err := checkRange(p, result, arg, tauDiag); err != nil {
		return err
	}
	if result == arg {
		return nil
	}
	res, in, off := result.Raw(), arg.Raw(), p.index
	return s.Launch(p.size, func(lo, hi int) {
		copy(res[off+lo:off+hi], in[off+lo:off+hi])
	})
}
