package prox

import (
	"fmt"

	"github.com/cwbudde/algo-prox/gpu"
)

// ElementaryOperation is the prox formula of a single block.
type ElementaryOperation interface {
	// Dim is the fixed block dimension, or 0 when the caller chooses it.
	Dim() int

	// Eval writes the prox of one block into res. coeffs holds the block's
	// value for every coefficient slot and is empty without coefficients.
	Eval(res, arg, tauDiag []float64, tau float64, invertTau bool, coeffs []float64)
}

// CoefficientSet is implemented by elementary operations whose formula
// depends on per-block coefficients.
type CoefficientSet interface {
	CoeffCount() int
}

// CoeffCount returns the number of coefficient slots of op.
func CoeffCount(op ElementaryOperation) int {
	if cs, ok := op.(CoefficientSet); ok {
		return cs.CoeffCount()
	}
	return 0
}

// coeffSlot reads a block's coefficient as data[block*stride]. A broadcast
// scalar has stride 0, an uploaded per-block array stride 1.
type coeffSlot struct {
	data   []float64
	stride int
}

// ElemOperation adapts an ElementaryOperation to the Operator interface.
type ElemOperation struct {
	SeparableSum

	op     ElementaryOperation
	coeffs [][]float64
	slots  []coeffSlot
	bufs   []gpu.Buffer
	share  gpu.Share
}

// NewElemOperation wraps op over count blocks starting at index. dim is
// ignored when op has a fixed dimension. coeffs holds one slice per
// coefficient slot: a single value is broadcast to every block, count values
// are uploaded to the device.
func NewElemOperation(op ElementaryOperation, index, count, dim int, interleaved, diagSteps bool, coeffs ...[]float64) *ElemOperation {
	if d := op.Dim(); d > 0 {
		dim = d
	}
	return &ElemOperation{
		SeparableSum: NewSeparableSum(index, count, dim, interleaved, diagSteps),
		op:           op,
		coeffs:       coeffs,
	}
}

// Operation returns the wrapped formula.
func (p *ElemOperation) Operation() ElementaryOperation { return p.op }

func (p *ElemOperation) stepIndependent() bool {
	si, ok := p.op.(interface{ stepIndependent() bool })
	return ok && si.stepIndependent()
}

func (p *ElemOperation) Initialize(ctx gpu.Context) error {
	return p.share.Acquire(ctx, func() error { return p.upload(ctx) })
}

func (p *ElemOperation) upload(ctx gpu.Context) error {
	if err := p.validate(); err != nil {
		return err
	}
	n := CoeffCount(p.op)
	if len(p.coeffs) != n {
		return fmt.Errorf("%w: got %d, want %d", ErrCoeffCount, len(p.coeffs), n)
	}

	slots := make([]coeffSlot, n)
	for k, c := range p.coeffs {
		switch len(c) {
		case 1:
			slots[k] = coeffSlot{data: []float64{c[0]}, stride: 0}
		case p.count:
			buf, err := ctx.NewBuffer(p.count)
			if err == nil {
				err = buf.Upload(c)
				if err != nil {
					_ = buf.Close()
				}
			}
			if err != nil {
				p.closeBuffers()
				return fmt.Errorf("upload coefficient %d: %w", k, err)
			}
			p.bufs = append(p.bufs, buf)
			slots[k] = coeffSlot{data: buf.Raw(), stride: 1}
		default:
			p.closeBuffers()
			return fmt.Errorf("%w: slot %d has %d values for %d blocks", ErrCoeffLength, k, len(c), p.count)
		}
	}
	p.slots = slots
	return nil
}

func (p *ElemOperation) closeBuffers() error {
	var firstErr error
	for _, b := range p.bufs {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.bufs = nil
	return firstErr
}

func (p *ElemOperation) Release() error {
	return p.share.Release(func() error {
		p.slots = nil
		return p.closeBuffers()
	})
}

// GPUMemAmount charges count elements for every per-block coefficient slot.
func (p *ElemOperation) GPUMemAmount() int64 {
	var mem int64
	for _, c := range p.coeffs {
		if len(c) > 1 {
			mem += int64(p.count) * gpu.ElemSize
		}
	}
	return mem
}

func (p *ElemOperation) Eval(s gpu.Stream, result, arg, tauDiag gpu.Buffer, tau float64, invertTau bool) error {
	if p.share.Refs() == 0 {
		return ErrNotInitialized
	}
	op, slots := p.op, p.slots
	if len(slots) == 0 {
		return p.EvalBlocks(s, result, arg, tauDiag, tau, invertTau, func() BlockFunc {
			return func(_ int, res, in, t []float64, tau float64, invertTau bool) {
				op.Eval(res, in, t, tau, invertTau, nil)
			}
		})
	}
	return p.EvalBlocks(s, result, arg, tauDiag, tau, invertTau, func() BlockFunc {
		c := make([]float64, len(slots))
		return func(block int, res, in, t []float64, tau float64, invertTau bool) {
			for k, sl := range slots {
				c[k] = sl.data[block*sl.stride]
			}
			op.Eval(res, in, t, tau, invertTau, c)
		}
	})
}
