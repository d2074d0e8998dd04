// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linalg

import (
	"math"

	"github.com/curioloop/lmfit/dense"
)

// Below this ratio of downdated to previous column norm the downdate has lost
// too many digits and the norm is recomputed from the remaining rows.
var downdateTol = math.Sqrt(20 * eps)

// QRPT computes the Householder QR factorization with column pivoting 𝐀𝐏 = 𝐐𝐑 in place.
//   - 𝐀 is m × n, k = 𝚖𝚒𝚗(m,n)
//   - 𝐏 is the column permutation recorded in perm (column j of 𝐀𝐏 is column perm[j] of 𝐀)
//   - 𝐐 = 𝐇₀𝐇₁…𝐇ₖ₋₁ is stored implicitly: the strict lower part of column i holds 𝐮ᵢ[1:] and tau[i] holds τᵢ
//   - 𝐑 occupies the upper triangle of a
//
// At step i the remaining column of greatest norm is moved to the pivot position
// (ties keep the leftmost column), so that |r₀₀| ≥ |r₁₁| ≥ … ≥ |rₖ₋₁ₖ₋₁|.
// Column norms are downdated after each reflection and recomputed once cancellation
// becomes significant. norm is workspace of length n.
//
// The returned signum is (-1)ᵗ where t is the number of column interchanges.
func QRPT(a dense.Matrix, tau dense.Vector, perm dense.Permutation, norm dense.Vector) (signum int) {
	m, n := a.Dims()
	k := min(m, n)
	if tau.Len() != k || perm.Len() != n || norm.Len() != n {
		panic(dense.ErrShape)
	}

	signum = 1
	perm.Init()
	for j := 0; j < n; j++ {
		norm.Set(j, a.Col(j).Norm())
	}

	for i := 0; i < k; i++ {
		maxNorm, kmax := norm.At(i), i
		for j := i + 1; j < n; j++ {
			if x := norm.At(j); x > maxNorm {
				maxNorm, kmax = x, j
			}
		}
		if kmax != i {
			a.SwapCols(i, kmax)
			perm.Swap(i, kmax)
			norm.Swap(i, kmax)
			signum = -signum
		}

		h := a.Col(i).SubVector(i, m-i)
		ti := HouseholderTransform(h)
		tau.Set(i, ti)

		if i+1 < n {
			HouseholderLeft(ti, h, a.SubMatrix(i, i+1, m-i, n-i-1))
		}

		if i+1 < m {
			for j := i + 1; j < n; j++ {
				x := norm.At(j)
				if x <= 0 {
					continue
				}
				y := 0.0
				if t := a.At(i, j) / x; math.Abs(t) < 1 {
					y = x * math.Sqrt(1-t*t)
				}
				if math.Abs(y/x) < downdateTol {
					y = a.Col(j).SubVector(i+1, m-i-1).Norm()
				}
				norm.Set(j, y)
			}
		}
	}
	return
}

// QRPTInto copies 𝐀 into dst and factors the copy, leaving a untouched.
func QRPTInto(dst, a dense.Matrix, tau dense.Vector, perm dense.Permutation, norm dense.Vector) (signum int) {
	dst.Assign(a)
	return QRPT(dst, tau, perm, norm)
}

// QTMulVec overwrites v with 𝐐ᵀv using the packed factorization (qr, tau).
func QTMulVec(qr dense.Matrix, tau, v dense.Vector) {
	m, n := qr.Dims()
	k := min(m, n)
	if tau.Len() != k || v.Len() != m {
		panic(dense.ErrShape)
	}
	for i := 0; i < k; i++ {
		HouseholderVec(tau.At(i), qr.Col(i).SubVector(i, m-i), v.SubVector(i, m-i))
	}
}

// QMulVec overwrites v with 𝐐v using the packed factorization (qr, tau).
func QMulVec(qr dense.Matrix, tau, v dense.Vector) {
	m, n := qr.Dims()
	k := min(m, n)
	if tau.Len() != k || v.Len() != m {
		panic(dense.ErrShape)
	}
	for i := k - 1; i >= 0; i-- {
		HouseholderVec(tau.At(i), qr.Col(i).SubVector(i, m-i), v.SubVector(i, m-i))
	}
}

// UnpackQR forms the explicit m × m orthogonal 𝐐 and m × n upper triangular 𝐑.
func UnpackQR(qr dense.Matrix, tau dense.Vector, q, r dense.Matrix) {
	m, n := qr.Dims()
	k := min(m, n)
	switch {
	case tau.Len() != k:
		panic(dense.ErrShape)
	case q.Rows() != m || q.Cols() != m:
		panic(dense.ErrShape)
	case r.Rows() != m || r.Cols() != n:
		panic(dense.ErrShape)
	}

	// 𝐐 = 𝐇₀(𝐇₁(…(𝐇ₖ₋₁𝐈)))
	q.SetIdentity()
	for i := k - 1; i >= 0; i-- {
		h := qr.Col(i).SubVector(i, m-i)
		HouseholderLeft(tau.At(i), h, q.SubMatrix(i, i, m-i, m-i))
	}

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			if j < i {
				r.Set(i, j, 0)
			} else {
				r.Set(i, j, qr.At(i, j))
			}
		}
	}
}

// Rank returns the index of the first diagonal element of 𝐑 with |rᵢᵢ| ≤ tol,
// or min(m, n) when there is none. For a pivoted factorization this is the
// numerical rank at tolerance tol.
func Rank(r dense.Matrix, tol float64) int {
	k := min(r.Rows(), r.Cols())
	for i := 0; i < k; i++ {
		if math.Abs(r.At(i, i)) <= tol {
			return i
		}
	}
	return k
}
