package linop

import (
	"github.com/cwbudde/algo-prox/gpu"
	"github.com/cwbudde/algo-prox/internal/vec"
)

// Diagonal is the square operator diag(d).
type Diagonal struct {
	d     []float64
	buf   gpu.Buffer
	share gpu.Share
}

// NewDiagonal returns diag(d).
func NewDiagonal(d []float64) (*Diagonal, error) {
	if len(d) == 0 {
		return nil, ErrDimension
	}
	return &Diagonal{d: append([]float64(nil), d...)}, nil
}

func (o *Diagonal) Rows() int { return len(o.d) }
func (o *Diagonal) Cols() int { return len(o.d) }

func (o *Diagonal) Initialize(ctx gpu.Context) error {
	return o.share.Acquire(ctx, func() error { return o.upload(ctx) })
}

func (o *Diagonal) upload(ctx gpu.Context) error {
	buf, err := ctx.NewBuffer(len(o.d))
	if err != nil {
		return err
	}
	if err := buf.Upload(o.d); err != nil {
		_ = buf.Close()
		return err
	}
	o.buf = buf
	return nil
}

func (o *Diagonal) Release() error {
	return o.share.Release(func() error {
		err := o.buf.Close()
		o.buf = nil
		return err
	})
}

func (o *Diagonal) Apply(s gpu.Stream, dst, src gpu.Buffer) error {
	if o.buf == nil {
		return ErrNotInitialized
	}
	if err := checkShape(o, dst, src, false); err != nil {
		return err
	}
	return vec.MulTo(s, dst, o.buf, src)
}

// ApplyAdjoint equals Apply for a diagonal operator.
func (o *Diagonal) ApplyAdjoint(s gpu.Stream, dst, src gpu.Buffer) error {
	return o.Apply(s, dst, src)
}

func (o *Diagonal) GPUMemAmount() int64 {
	return int64(len(o.d)) * gpu.ElemSize
}

// Identity is the n×n identity operator. It holds no device memory.
type Identity struct {
	n int
}

// NewIdentity returns the n×n identity.
func NewIdentity(n int) (*Identity, error) {
	if n <= 0 {
		return nil, ErrDimension
	}
	return &Identity{n: n}, nil
}

func (o *Identity) Rows() int                    { return o.n }
func (o *Identity) Cols() int                    { return o.n }
func (o *Identity) Initialize(gpu.Context) error { return nil }
func (o *Identity) Release() error               { return nil }
func (o *Identity) GPUMemAmount() int64          { return 0 }

func (o *Identity) Apply(s gpu.Stream, dst, src gpu.Buffer) error {
	if err := checkShape(o, dst, src, false); err != nil {
		return err
	}
	return vec.Copy(s, dst, src)
}

func (o *Identity) ApplyAdjoint(s gpu.Stream, dst, src gpu.Buffer) error {
	return o.Apply(s, dst, src)
}
