// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lmder

import (
	"fmt"
	"math"

	"github.com/curioloop/lmfit/dense"
	"github.com/curioloop/lmfit/linalg"
)

// Covariance allocates an n × n matrix and fills it by CovarianceTo.
func Covariance(jac dense.Matrix, epsrel float64) (dense.Matrix, error) {
	_, n := jac.Dims()
	covar := dense.NewMatrix(n, n, nil)
	if err := CovarianceTo(covar, jac, epsrel); err != nil {
		return dense.Matrix{}, err
	}
	return covar, nil
}

// CovarianceTo computes the covariance estimate 𝐂 = (𝐉ᵀ𝐉)⁻¹ of the best-fit parameters
// from the m × n Jacobian at the solution. Multiply by ‖f‖²/(m-n) to obtain the
// covariance under an unknown residual variance.
//
// With 𝐉𝐏 = 𝐐𝐑 we have 𝐂 = 𝐏𝐑⁻¹𝐑⁻ᵀ𝐏ᵀ. Columns of 𝐑 with |rₖₖ| ≤ epsrel·|r₀₀| are treated as
// linearly dependent: 𝐑 is inverted only up to the first such column, and the rows and columns
// of 𝐂 belonging to the dependent parameters are zero.
func CovarianceTo(covar, jac dense.Matrix, epsrel float64) error {
	m, n := jac.Dims()
	switch {
	case n == 0 || m < n:
		return fmt.Errorf("%w: jacobian is %d×%d", ErrDimension, m, n)
	case covar.Rows() != n || covar.Cols() != n:
		return fmt.Errorf("%w: covariance is %d×%d, want %d×%d", ErrDimension, covar.Rows(), covar.Cols(), n, n)
	case epsrel < 0:
		return fmt.Errorf("%w: epsrel %v", ErrTolerance, epsrel)
	}

	r := jac.Clone()
	perm := dense.NewPermutation(n)
	linalg.QRPT(r, dense.NewVector(n, nil), perm, dense.NewVector(n, nil))

	rank := linalg.Rank(r, epsrel*math.Abs(r.At(0, 0)))

	// Overwrite the leading triangle with 𝐑⁻¹.
	for k := 0; k < rank; k++ {
		r.Set(k, k, 1/r.At(k, k))
		for j := 0; j < k; j++ {
			t := r.At(j, k) * r.At(k, k)
			r.Set(j, k, 0)
			for i := 0; i <= j; i++ {
				r.Set(i, k, r.At(i, k)-t*r.At(i, j))
			}
		}
	}

	// Overwrite it again with the upper triangle of 𝐑⁻¹𝐑⁻ᵀ.
	for k := 0; k < rank; k++ {
		for j := 0; j < k; j++ {
			rjk := r.At(j, k)
			for i := 0; i <= j; i++ {
				r.Set(i, j, r.At(i, j)+rjk*r.At(i, k))
			}
		}
		t := r.At(k, k)
		for i := 0; i <= k; i++ {
			r.Set(i, k, t*r.At(i, k))
		}
	}

	// Scatter into the lower triangle in the original parameter order.
	for j := 0; j < n; j++ {
		pj := perm.At(j)
		for i := 0; i <= j; i++ {
			pi := perm.At(i)
			rij := 0.0
			if j < rank {
				rij = r.At(i, j)
			} else {
				r.Set(i, j, 0)
			}
			if pi > pj {
				r.Set(pi, pj, rij)
			} else if pi < pj {
				r.Set(pj, pi, rij)
			}
		}
		covar.Set(pj, pj, r.At(j, j))
	}

	for j := 0; j < n; j++ {
		for i := 0; i < j; i++ {
			rji := r.At(j, i)
			covar.Set(j, i, rji)
			covar.Set(i, j, rji)
		}
	}
	return nil
}
