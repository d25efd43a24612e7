package prox

import "github.com/cwbudde/algo-prox/gpu"

// BlockFunc evaluates the prox of one block. res, arg and tauDiag hold the
// block's dim coordinates in order; tauDiag is nil without diagonal steps.
// res and arg may share memory.
type BlockFunc func(block int, res, arg, tauDiag []float64, tau float64, invertTau bool)

// SeparableSum describes f = Σ_i φ(block_i) over count blocks of dim
// coordinates starting at index.
//
// Contiguous blocks store coordinate j of block i at index+i*dim+j.
// Interleaved blocks store it at index+j*count+i.
type SeparableSum struct {
	index       int
	count       int
	dim         int
	interleaved bool
	diagSteps   bool
}

// NewSeparableSum returns the layout of a separable sum.
func NewSeparableSum(index, count, dim int, interleaved, diagSteps bool) SeparableSum {
	return SeparableSum{
		index:       index,
		count:       count,
		dim:         dim,
		interleaved: interleaved,
		diagSteps:   diagSteps,
	}
}

func (p *SeparableSum) Index() int        { return p.index }
func (p *SeparableSum) Size() int         { return p.count * p.dim }
func (p *SeparableSum) Count() int        { return p.count }
func (p *SeparableSum) Dim() int          { return p.dim }
func (p *SeparableSum) Interleaved() bool { return p.interleaved }
func (p *SeparableSum) DiagSteps() bool   { return p.diagSteps }

func (p *SeparableSum) validate() error {
	if p.count <= 0 || p.dim <= 0 || p.index < 0 {
		return ErrInvalidBlock
	}
	return nil
}

// EvalBlocks launches one kernel over all blocks. newLocal is called once
// per chunk of blocks so the returned BlockFunc may keep chunk-local scratch.
func (p *SeparableSum) EvalBlocks(s gpu.Stream, result, arg, tauDiag gpu.Buffer, tau float64, invertTau bool, newLocal func() BlockFunc) error {
	if err := p.validate(); err != nil {
		return err
	}
	if err := checkRange(p, result, arg, tauDiag); err != nil {
		return err
	}

	res, in := result.Raw(), arg.Raw()
	var steps []float64
	if p.diagSteps {
		steps = tauDiag.Raw()
	}
	index, count, dim := p.index, p.count, p.dim

	if !p.interleaved {
		return s.Launch(count, func(lo, hi int) {
			local := newLocal()
			for i := lo; i < hi; i++ {
				off := index + i*dim
				var t []float64
				if steps != nil {
					t = steps[off : off+dim]
				}
				local(i, res[off:off+dim], in[off:off+dim], t, tau, invertTau)
			}
		})
	}

	return s.Launch(count, func(lo, hi int) {
		local := newLocal()
		scratch := make([]float64, 3*dim)
		r, a, t := scratch[:dim], scratch[dim:2*dim], scratch[2*dim:]
		if steps == nil {
			t = nil
		}
		for i := lo; i < hi; i++ {
			for j := range dim {
				k := index + j*count + i
				a[j] = in[k]
				if t != nil {
					t[j] = steps[k]
				}
			}
			local(i, r, a, t, tau, invertTau)
			for j := range dim {
				res[index+j*count+i] = r[j]
			}
		}
	})
}
