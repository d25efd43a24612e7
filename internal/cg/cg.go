// Package cg solves symmetric positive definite systems A x = b on device
// buffers with the conjugate gradient method.
package cg

import (
	"errors"
	"math"

	"github.com/cwbudde/algo-prox/gpu"
	"github.com/cwbudde/algo-prox/internal/vec"
)

// ErrIndefinite is returned when p·Ap <= 0, i.e. the operator is not SPD.
var ErrIndefinite = errors.New("algoprox/cg: operator is not positive definite")

// Operator computes dst = A*src for an SPD matrix A.
type Operator func(s gpu.Stream, dst, src gpu.Buffer) error

// Settings holds the stopping parameters of a solve.
type Settings struct {
	// Tolerance is the relative residual target:
	//  |b - A*x| <= Tolerance * |b|.
	// If |b| is zero, the absolute residual is used.
	Tolerance float64

	// MaxIterations is the limit on the number of iterations.
	// If it is zero, it will be set to the dimension of the system.
	MaxIterations int
}

// Result reports how a solve ended. Hitting MaxIterations is not an error;
// X then holds the last iterate.
type Result struct {
	Iterations   int
	ResidualNorm float64
	Converged    bool
}

// Workspace holds the device vectors CG needs between calls.
type Workspace struct {
	r, p, ap gpu.Buffer
}

// NewWorkspace allocates a workspace for systems of dimension n.
func NewWorkspace(ctx gpu.Context, n int) (*Workspace, error) {
	ws := &Workspace{}
	for _, dst := range []*gpu.Buffer{&ws.r, &ws.p, &ws.ap} {
		b, err := ctx.NewBuffer(n)
		if err != nil {
			_ = ws.Close()
			return nil, err
		}
		*dst = b
	}
	return ws, nil
}

// WorkspaceBytes is the device footprint of a workspace of dimension n.
func WorkspaceBytes(n int) int64 {
	return 3 * int64(n) * gpu.ElemSize
}

// Bytes reports the device memory held by the workspace.
func (ws *Workspace) Bytes() int64 {
	var total int64
	for _, b := range []gpu.Buffer{ws.r, ws.p, ws.ap} {
		if b != nil {
			total += b.Bytes()
		}
	}
	return total
}

// Close frees the workspace buffers.
func (ws *Workspace) Close() error {
	var firstErr error
	for _, b := range []*gpu.Buffer{&ws.r, &ws.p, &ws.ap} {
		if *b == nil {
			continue
		}
		if err := (*b).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		*b = nil
	}
	return firstErr
}

// Solve improves x in place towards the solution of A x = b, starting from
// the value x holds on entry.
func Solve(s gpu.Stream, a Operator, b, x gpu.Buffer, settings Settings, ws *Workspace) (Result, error) {
	n := b.Len()
	if x.Len() != n || ws.r.Len() != n {
		return Result{}, vec.ErrLengthMismatch
	}
	if settings.MaxIterations == 0 {
		settings.MaxIterations = n
	}

	bnorm, err := vec.Nrm2(s, b)
	if err != nil {
		return Result{}, err
	}
	if bnorm == 0 {
		bnorm = 1
	}
	target := settings.Tolerance * bnorm

	// r = b - A*x
	if err := a(s, ws.ap, x); err != nil {
		return Result{}, err
	}
	if err := vec.SubTo(s, ws.r, b, ws.ap); err != nil {
		return Result{}, err
	}
	rho, err := vec.Dot(s, ws.r, ws.r)
	if err != nil {
		return Result{}, err
	}

	res := Result{ResidualNorm: math.Sqrt(rho)}
	if res.ResidualNorm <= target {
		res.Converged = true
		return res, nil
	}
	if err := vec.Copy(s, ws.p, ws.r); err != nil {
		return res, err
	}

	for res.Iterations < settings.MaxIterations {
		if err := a(s, ws.ap, ws.p); err != nil {
			return res, err
		}
		pap, err := vec.Dot(s, ws.p, ws.ap)
		if err != nil {
			return res, err
		}
		if pap <= 0 {
			return res, ErrIndefinite
		}
		// α = ρ_i / (p_i · Ap_i)
		alpha := rho / pap
		// x_i = x_{i-1} + α p_i
		if err := vec.AddScaledTo(s, x, x, alpha, ws.p); err != nil {
			return res, err
		}
		// r_i = r_{i-1} - α Ap_i
		if err := vec.AddScaledTo(s, ws.r, ws.r, -alpha, ws.ap); err != nil {
			return res, err
		}
		res.Iterations++

		rhoNext, err := vec.Dot(s, ws.r, ws.r)
		if err != nil {
			return res, err
		}
		res.ResidualNorm = math.Sqrt(rhoNext)
		if res.ResidualNorm <= target {
			res.Converged = true
			return res, nil
		}

		// p_{i+1} = r_i + β p_i with β = ρ_{i+1} / ρ_i
		beta := rhoNext / rho
		if err := vec.AddScaledTo(s, ws.p, ws.r, beta, ws.p); err != nil {
			return res, err
		}
		rho = rhoNext
	}
	return res, nil
}
