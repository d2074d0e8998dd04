// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lmder

import (
	"errors"

	"github.com/curioloop/lmfit/dense"
)

// Objective is a residual function f: ℝⁿ → ℝᵐ whose sum of squares ½‖f(x)‖² is minimized.
// Residual writes f(x) into the m-vector f.
type Objective interface {
	Dims() (m, n int)
	Residual(x, f dense.Vector) error
}

// Differentiable is implemented by objectives with an analytic Jacobian 𝐉ᵢⱼ = ∂fᵢ/∂xⱼ.
// Returning errors.ErrUnsupported selects finite differences instead.
type Differentiable interface {
	Jacobian(x dense.Vector, jac dense.Matrix) error
}

// Evaluator is implemented by objectives that compute f and 𝐉 together more cheaply.
// The result must equal calling Residual and Jacobian at the same x.
type Evaluator interface {
	Evaluate(x, f dense.Vector, jac dense.Matrix) error
}

// Func adapts plain functions to an Objective.
// A nil DF selects finite differences.
type Func struct {
	M, N int
	F    func(x, f dense.Vector) error
	DF   func(x dense.Vector, jac dense.Matrix) error
}

func (fn Func) Dims() (m, n int) { return fn.M, fn.N }

func (fn Func) Residual(x, f dense.Vector) error { return fn.F(x, f) }

func (fn Func) Jacobian(x dense.Vector, jac dense.Matrix) error {
	if fn.DF == nil {
		return errors.ErrUnsupported
	}
	return fn.DF(x, jac)
}
