// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linalg

import (
	"math"

	"github.com/curioloop/lmfit/dense"
)

const eps = float64(7)/3 - float64(4)/3 - 1.

// HouseholderTransform constructs the reflector 𝐇 = 𝐈 - τ𝐮𝐮ᵀ with 𝐇𝐯 = βe₁.
//
// On output v[0] holds β and v[1:] holds 𝐮[1:]; the leading component 𝐮₀ = 1 is implicit.
// β carries the sign opposite to v[0] so that β - v[0] does not cancel.
// When v[1:] is already zero the transformation is the identity and τ = 0.
//
// G.H. Golub, C.F. Van Loan, 'Matrix Computations' 4th edition, Algorithm 5.1.1.
func HouseholderTransform(v dense.Vector) (tau float64) {
	n := v.Len()
	if n <= 1 {
		return 0
	}

	x := v.SubVector(1, n-1)
	xnorm := x.Norm()
	if xnorm == 0 {
		return 0
	}

	alpha := v.At(0)
	beta := math.Hypot(alpha, xnorm)
	if alpha >= 0 {
		beta = -beta
	}
	tau = (beta - alpha) / beta

	x.Scale(1 / (alpha - beta))
	v.Set(0, beta)
	return
}

// HouseholderLeft overwrites 𝐀 with 𝐇𝐀 where 𝐇 = 𝐈 - τ𝐮𝐮ᵀ and 𝐮 = [1, v[1:]].
// The row count of 𝐀 must equal the length of v.
func HouseholderLeft(tau float64, v dense.Vector, a dense.Matrix) {
	m, n := a.Dims()
	if v.Len() != m {
		panic(dense.ErrShape)
	}
	if tau == 0 || m == 0 {
		return
	}

	u := v.SubVector(1, m-1)
	tail := a.SubMatrix(1, 0, m-1, n)
	for j := 0; j < n; j++ {
		col := tail.Col(j)
		// wⱼ = 𝐮ᵀ𝐚ⱼ
		wj := a.At(0, j) + col.Dot(u)
		a.Set(0, j, a.At(0, j)-tau*wj)
		col.AddScaled(-tau*wj, u)
	}
}

// HouseholderVec overwrites w with 𝐇w where 𝐇 = 𝐈 - τ𝐮𝐮ᵀ and 𝐮 = [1, v[1:]].
func HouseholderVec(tau float64, v, w dense.Vector) {
	n := w.Len()
	if v.Len() != n {
		panic(dense.ErrShape)
	}
	if tau == 0 || n == 0 {
		return
	}

	u, tail := v.SubVector(1, n-1), w.SubVector(1, n-1)
	d := w.At(0) + tail.Dot(u)
	w.Set(0, w.At(0)-tau*d)
	tail.AddScaled(-tau*d, u)
}
