// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package numdiff

import (
	"errors"
	"math"

	"github.com/curioloop/lmfit/dense"
)

var sqrtEps = math.Sqrt(math.Nextafter(1, 2) - 1)
var cubeEps = math.Pow(math.Nextafter(1, 2)-1, float64(1)/3)

var (
	ErrDimension = errors.New("numdiff: invalid dimensions")
	ErrMethod    = errors.New("numdiff: unknown method")
	ErrNoFunc    = errors.New("numdiff: residual function is required")
)

type Method int

const (
	// Forward use the first order accuracy forward difference.
	Forward Method = iota
	// Central use the second order accuracy central difference.
	Central
)

func (m Method) String() string {
	switch m {
	case Forward:
		return "forward"
	case Central:
		return "central"
	}
	return "unknown"
}

// Func evaluates the m-vector f at the n-vector x.
type Func func(x, f dense.Vector) error

// Approx estimates the m × n Jacobian 𝐉ᵢⱼ = ∂fᵢ/∂xⱼ of a vector function by finite differences.
//
// The workspace is sized lazily on first use and reused afterwards,
// so an Approx must not be shared by concurrent callers.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
//   - https://github.com/scipy/scipy/blob/main/scipy/optimize/_numdiff.py
//
// # License
//
//   - https://github.com/scipy/scipy/blob/main/LICENSE.txt
type Approx struct {
	// Finite difference method to use.
	Method Method
	// Relative step size used to compute absolute step size.
	// The default absolute step size is computed as h = RelStep * sign(x0) * max(1, abs(x0)) with RelStep being selected automatically.
	// Otherwise, absolute step size is computed as h = RelStep * sign(x0) * abs(x0) when RelStep is provided.
	RelStep float64
	// Absolute step size to use.
	// The RelStep is used when AbsStep is not provide.
	// For Central method the sign of AbsStep is ignored.
	AbsStep float64
	approxCtx
}

type approxCtx struct {
	f1, f2 dense.Vector
	h      dense.Vector
}

func (ap *Approx) check(fun Func, x, f0 dense.Vector, jac dense.Matrix) error {
	m, n := jac.Dims()
	switch {
	case fun == nil:
		return ErrNoFunc
	case ap.Method != Forward && ap.Method != Central:
		return ErrMethod
	case m == 0 || n == 0 || x.Len() != n || f0.Len() != m:
		return ErrDimension
	}
	if ap.f1.Len() != m {
		ap.f1 = dense.NewVector(m, nil)
		ap.f2 = dense.NewVector(m, nil)
	}
	if ap.h.Len() != n {
		ap.h = dense.NewVector(n, nil)
	}
	return nil
}

// Jacobian fills jac with the finite-difference approximation of the Jacobian of fun at x.
// f0 must hold fun(x). Components of x are perturbed one at a time and restored
// before returning. The first error returned by fun aborts the approximation.
func (ap *Approx) Jacobian(fun Func, x, f0 dense.Vector, jac dense.Matrix) error {
	if err := ap.check(fun, x, f0, jac); err != nil {
		return err
	}
	ap.absoluteStep(x)
	if ap.Method == Central {
		return ap.approxCentral(fun, x, jac)
	}
	return ap.approxForward(fun, x, f0, jac)
}

func (ap *Approx) absoluteStep(x0 dense.Vector) {
	h := ap.h
	if h.Len() != x0.Len() {
		panic("bound check error")
	}

	var eps float64
	switch ap.Method {
	case Forward:
		eps = sqrtEps
	case Central:
		eps = cubeEps
	default:
		panic("unknown method")
	}

	abs := ap.AbsStep
	rel := ap.RelStep
	for i := 0; i < x0.Len(); i++ {
		v := x0.At(i)
		s := abs
		if abs == 0 && rel == 0 {
			s = math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
		} else {
			if s == 0 {
				s = math.Copysign(rel, v) * math.Abs(v)
			}
			// The step vanishes in floating point, fall back to the automatic one.
			if (v+s)-v == 0 {
				s = math.Copysign(eps, v) * math.Max(1.0, math.Abs(v))
			}
		}
		if ap.Method == Central {
			s = math.Abs(s)
		}
		h.Set(i, s)
	}
}

func (ap *Approx) approxForward(fun Func, x0, f0 dense.Vector, jac dense.Matrix) error {
	fx, h := ap.f1, ap.h
	for i := 0; i < h.Len(); i++ {
		s := h.At(i)
		if err := shifted(fun, x0, i, s, fx); err != nil {
			return err
		}
		col := jac.Col(i)
		col.Assign(fx)
		col.AddScaled(-1, f0)
		col.Scale(1 / s)
	}
	return nil
}

func (ap *Approx) approxCentral(fun Func, x0 dense.Vector, jac dense.Matrix) error {
	f1, f2, h := ap.f1, ap.f2, ap.h
	for i := 0; i < h.Len(); i++ {
		s := h.At(i)
		if err := shifted(fun, x0, i, -s, f1); err != nil {
			return err
		}
		if err := shifted(fun, x0, i, s, f2); err != nil {
			return err
		}
		col := jac.Col(i)
		col.Assign(f2)
		col.AddScaled(-1, f1)
		col.Scale(1 / (2 * s))
	}
	return nil
}

// shifted evaluates fun at x + s·eᵢ into f.
// xᵢ is restored on return, including when fun panics.
func shifted(fun Func, x dense.Vector, i int, s float64, f dense.Vector) error {
	t := x.At(i)
	defer x.Set(i, t)
	x.Set(i, t+s)
	return fun(x, f)
}
