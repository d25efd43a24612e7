package linop

import (
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-prox/gpu"
)

// Dense is a row-major dense matrix operator.
type Dense struct {
	host *mat.Dense
	buf   gpu.Buffer
	dev   *mat.Dense
	share gpu.Share
}

// NewDense wraps m. The matrix is copied to the device on Initialize; later
// changes to m are not seen by an initialized operator.
func NewDense(m *mat.Dense) (*Dense, error) {
	r, c := m.Dims()
	if r <= 0 || c <= 0 {
		return nil, ErrDimension
	}
	return &Dense{host: m}, nil
}

func (d *Dense) Rows() int {
	r, _ := d.host.Dims()
	return r
}

func (d *Dense) Cols() int {
	_, c := d.host.Dims()
	return c
}

func (d *Dense) Initialize(ctx gpu.Context) error {
	return d.share.Acquire(ctx, func() error { return d.upload(ctx) })
}

func (d *Dense) upload(ctx gpu.Context) error {
	r, c := d.host.Dims()
	buf, err := ctx.NewBuffer(r * c)
	if err != nil {
		return err
	}
	data := make([]float64, 0, r*c)
	for i := range r {
		data = append(data, d.host.RawRowView(i)...)
	}
	if err := buf.Upload(data); err != nil {
		_ = buf.Close()
		return err
	}
	d.buf = buf
	d.dev = mat.NewDense(r, c, buf.Raw())
	return nil
}

func (d *Dense) Release() error {
	return d.share.Release(func() error {
		err := d.buf.Close()
		d.buf = nil
		d.dev = nil
		return err
	})
}

// Apply distributes rows of K over the launch.
func (d *Dense) Apply(s gpu.Stream, dst, src gpu.Buffer) error {
	if d.dev == nil {
		return ErrNotInitialized
	}
	if err := checkShape(d, dst, src, false); err != nil {
		return err
	}
	r, c := d.dev.Dims()
	out, x := dst.Raw(), mat.NewVecDense(c, src.Raw())
	return s.Launch(r, func(lo, hi int) {
		rows := d.dev.Slice(lo, hi, 0, c)
		mat.NewVecDense(hi-lo, out[lo:hi]).MulVec(rows, x)
	})
}

// ApplyAdjoint distributes columns of K over the launch.
func (d *Dense) ApplyAdjoint(s gpu.Stream, dst, src gpu.Buffer) error {
	if d.dev == nil {
		return ErrNotInitialized
	}
	if err := checkShape(d, dst, src, true); err != nil {
		return err
	}
	r, c := d.dev.Dims()
	out, y := dst.Raw(), mat.NewVecDense(r, src.Raw())
	return s.Launch(c, func(lo, hi int) {
		cols := d.dev.Slice(0, r, lo, hi)
		mat.NewVecDense(hi-lo, out[lo:hi]).MulVec(cols.T(), y)
	})
}

func (d *Dense) GPUMemAmount() int64 {
	r, c := d.host.Dims()
	return int64(r*c) * gpu.ElemSize
}
