// Package vec implements the vector kernels the solvers issue on a device
// stream. All functions operate on whole buffers; lengths must agree.
//
// Element-wise kernels are enqueued with Stream.Launch. Norms and dot
// products go through Stream.Reduce and therefore synchronize the stream.
package vec

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/algo-prox/gpu"
)

// ErrLengthMismatch is returned when buffer lengths do not agree.
var ErrLengthMismatch = errors.New("algoprox/vec: buffer length mismatch")

func sameLen(bufs ...gpu.Buffer) (int, error) {
	n := bufs[0].Len()
	for _, b := range bufs[1:] {
		if b.Len() != n {
			return 0, ErrLengthMismatch
		}
	}
	return n, nil
}

// Copy sets dst = src.
func Copy(s gpu.Stream, dst, src gpu.Buffer) error {
	n, err := sameLen(dst, src)
	if err != nil {
		return err
	}
	d, x := dst.Raw(), src.Raw()
	return s.Launch(n, func(lo, hi int) {
		copy(d[lo:hi], x[lo:hi])
	})
}

// Fill sets every element of dst to v.
func Fill(s gpu.Stream, dst gpu.Buffer, v float64) error {
	d := dst.Raw()
	return s.Launch(dst.Len(), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			d[i] = v
		}
	})
}

// Scale sets dst = c * dst.
func Scale(s gpu.Stream, c float64, dst gpu.Buffer) error {
	d := dst.Raw()
	return s.Launch(dst.Len(), func(lo, hi int) {
		floats.Scale(c, d[lo:hi])
	})
}

// AddScaledTo sets dst = y + alpha * x.
func AddScaledTo(s gpu.Stream, dst, y gpu.Buffer, alpha float64, x gpu.Buffer) error {
	n, err := sameLen(dst, y, x)
	if err != nil {
		return err
	}
	d, yv, xv := dst.Raw(), y.Raw(), x.Raw()
	return s.Launch(n, func(lo, hi int) {
		floats.AddScaledTo(d[lo:hi], yv[lo:hi], alpha, xv[lo:hi])
	})
}

// Axpby sets dst = a*x + b*y.
func Axpby(s gpu.Stream, dst gpu.Buffer, a float64, x gpu.Buffer, b float64, y gpu.Buffer) error {
	n, err := sameLen(dst, x, y)
	if err != nil {
		return err
	}
	d, xv, yv := dst.Raw(), x.Raw(), y.Raw()
	return s.Launch(n, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			d[i] = a*xv[i] + b*yv[i]
		}
	})
}

// SubTo sets dst = x - y.
func SubTo(s gpu.Stream, dst, x, y gpu.Buffer) error {
	n, err := sameLen(dst, x, y)
	if err != nil {
		return err
	}
	d, xv, yv := dst.Raw(), x.Raw(), y.Raw()
	return s.Launch(n, func(lo, hi int) {
		floats.SubTo(d[lo:hi], xv[lo:hi], yv[lo:hi])
	})
}

// MulTo sets dst = x .* y.
func MulTo(s gpu.Stream, dst, x, y gpu.Buffer) error {
	n, err := sameLen(dst, x, y)
	if err != nil {
		return err
	}
	d, xv, yv := dst.Raw(), x.Raw(), y.Raw()
	return s.Launch(n, func(lo, hi int) {
		floats.MulTo(d[lo:hi], xv[lo:hi], yv[lo:hi])
	})
}

// Dot returns x · y.
func Dot(s gpu.Stream, x, y gpu.Buffer) (float64, error) {
	n, err := sameLen(x, y)
	if err != nil {
		return 0, err
	}
	xv, yv := x.Raw(), y.Raw()
	return s.Reduce(n, func(lo, hi int) float64 {
		return floats.Dot(xv[lo:hi], yv[lo:hi])
	})
}

// Asum returns the L1 norm of x.
func Asum(s gpu.Stream, x gpu.Buffer) (float64, error) {
	xv := x.Raw()
	return s.Reduce(x.Len(), func(lo, hi int) float64 {
		return floats.Norm(xv[lo:hi], 1)
	})
}

// Nrm2 returns the Euclidean norm of x.
func Nrm2(s gpu.Stream, x gpu.Buffer) (float64, error) {
	sq, err := Dot(s, x, x)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(sq), nil
}

// DiffNrm2Sq returns ||x - y||².
func DiffNrm2Sq(s gpu.Stream, x, y gpu.Buffer) (float64, error) {
	n, err := sameLen(x, y)
	if err != nil {
		return 0, err
	}
	xv, yv := x.Raw(), y.Raw()
	return s.Reduce(n, func(lo, hi int) float64 {
		d := floats.Distance(xv[lo:hi], yv[lo:hi], 2)
		return d * d
	})
}
