// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linalg

import (
	"math"

	"gonum.org/v1/gonum/blas/blas64"

	"github.com/curioloop/lmfit/dense"
)

// Givens constructs a plane rotation that annihilates b:
//
//	⎡ c  s⎤⎡a⎤   ⎡r⎤
//	⎣-s  c⎦⎣b⎦ = ⎣0⎦
//
// The ratio of the smaller to the larger magnitude is formed first so the
// computation cannot overflow. b = 0 gives the identity rotation.
//
// J.J. Moré, B.S. Garbow, K.E. Hillstrom, 'User Guide for MINPACK-1', ANL-80-74, 1980. (subroutine qrsolv)
func Givens(a, b float64) (c, s, r float64) {
	switch {
	case b == 0:
		return 1, 0, a
	case math.Abs(a) < math.Abs(b):
		cot := a / b
		s = 0.5 / math.Sqrt(0.25+0.25*cot*cot)
		c = s * cot
	default:
		tan := b / a
		c = 0.5 / math.Sqrt(0.25+0.25*tan*tan)
		s = c * tan
	}
	r = c*a + s*b
	return
}

// Rotate applies the rotation (c, s) to the pair (x, y).
func Rotate(c, s, x, y float64) (float64, float64) {
	return c*x + s*y, -s*x + c*y
}

// RotateVectors applies the rotation (c, s) element-wise to the pair of vectors (x, y).
func RotateVectors(c, s float64, x, y dense.Vector) {
	if x.Len() != y.Len() {
		panic(dense.ErrShape)
	}
	blas64.Rot(x.RawVector(), y.RawVector(), c, s)
}

// QRUpdate repairs an explicit factorization after a rank-1 modification
//
//	𝐐'𝐑' = 𝐐𝐑 + 𝐮𝐯ᵀ
//
// where w = 𝐐ᵀ𝐮 is supplied by the caller and is destroyed.
// 𝐐 is m × m, 𝐑 is m × n, w has length m and v has length n.
//
// w is first reduced to a multiple of e₁ by rotations in the planes (k-1, k),
// which turns 𝐑 into upper Hessenberg form. After adding w₀𝐯ᵀ to the first row,
// a second sweep of rotations restores the triangle.
//
// G.H. Golub, C.F. Van Loan, 'Matrix Computations' 4th edition, Section 6.5.1.
func QRUpdate(q, r dense.Matrix, w, v dense.Vector) {
	m, n := r.Dims()
	switch {
	case q.Rows() != m || q.Cols() != m:
		panic(dense.ErrShape)
	case w.Len() != m || v.Len() != n:
		panic(dense.ErrShape)
	}
	if m == 0 {
		return
	}

	rotate := func(i, j, from int, c, s float64) {
		RotateVectors(c, s, q.Col(i), q.Col(j))
		if from < n {
			RotateVectors(c, s, r.Row(i).SubVector(from, n-from), r.Row(j).SubVector(from, n-from))
		}
	}

	for k := m - 1; k > 0; k-- {
		wi, wj := w.At(k-1), w.At(k)
		c, s, _ := Givens(wi, wj)
		wi, wj = Rotate(c, s, wi, wj)
		w.Set(k-1, wi)
		w.Set(k, wj)
		rotate(k-1, k, k-1, c, s)
	}

	r.Row(0).AddScaled(w.At(0), v)

	for k := 1; k < min(m, n+1); k++ {
		c, s, _ := Givens(r.At(k-1, k-1), r.At(k, k-1))
		rotate(k-1, k, k-1, c, s)
		r.Set(k, k-1, 0)
	}
}
