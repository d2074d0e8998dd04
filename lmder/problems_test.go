// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lmder

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/curioloop/lmfit/dense"
)

// expModel fits y = a·exp(b·t).
type expModel struct {
	t, y []float64
}

func newExpModel(m int, a, b float64, noise func(i int) float64) *expModel {
	t := floats.Span(make([]float64, m), 0, 2)
	y := make([]float64, m)
	for i, ti := range t {
		y[i] = a * math.Exp(b*ti)
		if noise != nil {
			y[i] += noise(i)
		}
	}
	return &expModel{t: t, y: y}
}

func (e *expModel) Dims() (m, n int) { return len(e.t), 2 }

func (e *expModel) Residual(x, f dense.Vector) error {
	a, b := x.At(0), x.At(1)
	for i, ti := range e.t {
		f.Set(i, a*math.Exp(b*ti)-e.y[i])
	}
	return nil
}

func (e *expModel) Jacobian(x dense.Vector, jac dense.Matrix) error {
	a, b := x.At(0), x.At(1)
	for i, ti := range e.t {
		v := math.Exp(b * ti)
		jac.Set(i, 0, v)
		jac.Set(i, 1, a*ti*v)
	}
	return nil
}

// expCombined evaluates f and J in one pass.
type expCombined struct {
	expModel
	calls int
}

func (e *expCombined) Evaluate(x, f dense.Vector, jac dense.Matrix) error {
	e.calls++
	if err := e.Residual(x, f); err != nil {
		return err
	}
	return e.Jacobian(x, jac)
}

// lineModel fits y = a + b·t, linear in the parameters.
func lineModel(t, y []float64) Func {
	return Func{
		M: len(t), N: 2,
		F: func(x, f dense.Vector) error {
			for i, ti := range t {
				f.Set(i, x.At(0)+x.At(1)*ti-y[i])
			}
			return nil
		},
		DF: func(_ dense.Vector, jac dense.Matrix) error {
			for i, ti := range t {
				jac.Set(i, 0, 1)
				jac.Set(i, 1, ti)
			}
			return nil
		},
	}
}

// Rosenbrock function, MINPACK test problem 4.
var rosenbrock = Func{
	M: 2, N: 2,
	F: func(x, f dense.Vector) error {
		x1, x2 := x.At(0), x.At(1)
		f.Set(0, 10*(x2-x1*x1))
		f.Set(1, 1-x1)
		return nil
	},
	DF: func(x dense.Vector, jac dense.Matrix) error {
		jac.Set(0, 0, -20*x.At(0))
		jac.Set(0, 1, 10)
		jac.Set(1, 0, -1)
		jac.Set(1, 1, 0)
		return nil
	},
}

// Powell singular function, MINPACK test problem 6.
// The Jacobian is singular at the solution x = 0.
var powellSingular = Func{
	M: 4, N: 4,
	F: func(x, f dense.Vector) error {
		x1, x2, x3, x4 := x.At(0), x.At(1), x.At(2), x.At(3)
		f.Set(0, x1+10*x2)
		f.Set(1, math.Sqrt(5)*(x3-x4))
		f.Set(2, (x2-2*x3)*(x2-2*x3))
		f.Set(3, math.Sqrt(10)*(x1-x4)*(x1-x4))
		return nil
	},
	DF: func(x dense.Vector, jac dense.Matrix) error {
		x1, x2, x3, x4 := x.At(0), x.At(1), x.At(2), x.At(3)
		jac.Fill(0)
		jac.Set(0, 0, 1)
		jac.Set(0, 1, 10)
		jac.Set(1, 2, math.Sqrt(5))
		jac.Set(1, 3, -math.Sqrt(5))
		jac.Set(2, 1, 2*(x2-2*x3))
		jac.Set(2, 2, -4*(x2-2*x3))
		jac.Set(3, 0, 2*math.Sqrt(10)*(x1-x4))
		jac.Set(3, 3, -2*math.Sqrt(10)*(x1-x4))
		return nil
	},
}

// Box three-dimensional function, MINPACK test problem 12, without a Jacobian.
var box3d = Func{
	M: 10, N: 3,
	F: func(x, f dense.Vector) error {
		for i := 0; i < 10; i++ {
			t := 0.1 * float64(i+1)
			f.Set(i, math.Exp(-t*x.At(0))-math.Exp(-t*x.At(1))-x.At(2)*(math.Exp(-t)-math.Exp(-10*t)))
		}
		return nil
	},
}

func toMat(a dense.Matrix) *mat.Dense {
	r, c := a.Dims()
	d := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d.Set(i, j, a.At(i, j))
		}
	}
	return d
}

// normalInverse returns (𝐉ᵀ𝐉)⁻¹ computed by gonum.
func normalInverse(jac dense.Matrix) (*mat.Dense, error) {
	j := toMat(jac)
	var jtj, inv mat.Dense
	jtj.Mul(j.T(), j)
	err := inv.Inverse(&jtj)
	return &inv, err
}
