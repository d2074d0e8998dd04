// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lmder

import (
	"math"

	"github.com/curioloop/lmfit/dense"
	"github.com/curioloop/lmfit/linalg"
)

// lmpar determines the Levenberg-Marquardt parameter λ for the trust region 𝚫.
//
// Given the pivoted factorization 𝐉𝐏 = 𝐐𝐑, the scale 𝐃 = diag(d) and qtf = 𝐐ᵀf,
// the regularized step x(λ) solves
//
//	𝚖𝚒𝚗 ‖ 𝐉x - f ‖² + λ‖𝐃x‖²
//
// lmpar finds λ ≥ 0 such that φ(λ) = ‖𝐃x(λ)‖ - 𝚫 satisfies |φ(λ)| ≤ 0.1𝚫,
// or returns λ = 0 when the Gauss-Newton step already satisfies φ(0) ≤ 0.1𝚫.
//
// # Secular Equation
//
// φ is convex and decreasing on λ ≥ 0, so the root is bracketed by [l, u]:
//   - u = ‖(𝐉𝐃⁻¹)ᵀf‖ / 𝚫
//   - l = φ(0) / φ'(0) when 𝐉 has full rank, otherwise l = 0
//
// Each trial updates λ with the Newton step of the rational model 1/φ:
//
//	λ₊ = λ + (φ / 𝚫) (‖𝐃x‖ / ‖𝐑⁻ᵀ𝐏ᵀ𝐃ᵀ𝐃x‖)²
//
// safeguarded by the bracket, which is tightened according to the sign of φ.
// The search stops after a bounded number of trials and keeps the last λ.
//
// On input the strict lower triangle of the leading n × n block of r is ignored;
// on output it holds the transposed triangle 𝐒ᵀ produced by qrsolv and sdiag holds
// its diagonal. The upper triangle of r is preserved.
//
// J.J. Moré, 'The Levenberg-Marquardt algorithm: implementation and theory', Numerical Analysis,
// Lecture Notes in Mathematics 630, Springer, 1978, pp. 105-116.
func lmpar(r dense.Matrix, perm dense.Permutation, qtf, diag dense.Vector, delta, par float64,
	newton, gradient, sdiag, x, w dense.Vector, log *Logger) float64 {

	newtonDirection(r, perm, qtf, newton)

	// Evaluate φ at the origin and test for acceptance of the Gauss-Newton direction.
	dxnorm := newton.ScaledNorm(diag)
	fp := dxnorm - delta
	if fp <= p1*delta {
		x.Assign(newton)
		if log.enable(LogTrace) {
			log.log("  lmpar: gauss-newton accepted |Dx|= %12.5e  delta= %12.5e\n", dxnorm, delta)
		}
		return 0
	}

	newtonBound(r, newton, dxnorm, perm, diag, w)
	var lower float64
	if wnorm := w.Norm(); wnorm > 0 {
		lower = fp / (delta * wnorm * wnorm)
	}

	gradientDirection(r, perm, qtf, diag, gradient)
	gnorm := gradient.Norm()
	upper := gnorm / delta
	if upper == 0 {
		upper = dwarf / math.Min(delta, p1)
	}

	if par > upper {
		par = upper
	} else if par < lower {
		par = lower
	}
	if par == 0 {
		par = gnorm / dxnorm
	}

	for iter := 1; ; iter++ {
		if par == 0 {
			par = math.Max(0.001*upper, dwarf)
		}

		qrsolv(r, perm, math.Sqrt(par), diag, qtf, x, sdiag, w)

		dxnorm = x.ScaledNorm(diag)
		fpOld := fp
		fp = dxnorm - delta

		if log.enable(LogTrace) {
			log.log("  lmpar: iter %2d  par= %12.5e  phi= %12.5e  [%10.3e, %10.3e]\n", iter, par, fp, lower, upper)
		}

		switch {
		case math.Abs(fp) <= p1*delta:
			return par
		case lower == 0 && fp <= fpOld && fpOld < 0:
			return par
		case iter == maxSearch:
			return par
		}

		newtonCorrection(r, sdiag, perm, x, dxnorm, diag, w)
		wnorm := w.Norm()
		parc := fp / (delta * wnorm * wnorm)

		if fp > 0 && par > lower {
			lower = par
		} else if fp < 0 && par < upper {
			upper = par
		}

		par = math.Max(lower, par+parc)
	}
}

// nsing returns the number of leading nonzero diagonal elements of r.
func nsing(r dense.Matrix) int {
	return linalg.Rank(r.SubMatrix(0, 0, r.Cols(), r.Cols()), 0)
}

// newtonDirection computes the Gauss-Newton step x = 𝐏𝐑⁻¹qtf.
// A rank deficient 𝐑 yields the basic solution with the trailing components set to zero.
func newtonDirection(r dense.Matrix, perm dense.Permutation, qtf, x dense.Vector) {
	n := r.Cols()
	ns := nsing(r)

	x.Assign(qtf.SubVector(0, n))
	for i := ns; i < n; i++ {
		x.Set(i, 0)
	}

	// back substitution
	for j := ns - 1; j >= 0; j-- {
		t := x.At(j) / r.At(j, j)
		x.Set(j, t)
		if j > 0 {
			x.SubVector(0, j).AddScaled(-t, r.Col(j).SubVector(0, j))
		}
	}

	perm.PermuteInverse(x)
}

// newtonBound computes w = 𝐑⁻ᵀ𝐏ᵀ𝐃ᵀ𝐃x / ‖𝐃x‖, whose squared norm is -φ'(0) / ‖𝐃x‖.
// The bound is skipped (w = 0) when r is singular.
func newtonBound(r dense.Matrix, x dense.Vector, dxnorm float64, perm dense.Permutation, diag, w dense.Vector) {
	n := r.Cols()
	if nsing(r) < n {
		w.Fill(0)
		return
	}

	for i := 0; i < n; i++ {
		pi := perm.At(i)
		dpi := diag.At(pi)
		w.Set(i, dpi*(dpi*x.At(pi)/dxnorm))
	}

	// forward substitution with 𝐑ᵀ
	for j := 0; j < n; j++ {
		sum := 0.0
		if j > 0 {
			sum = r.Col(j).SubVector(0, j).Dot(w.SubVector(0, j))
		}
		w.Set(j, (w.At(j)-sum)/r.At(j, j))
	}
}

// newtonCorrection computes w = 𝐒⁻ᵀ𝐏ᵀ𝐃ᵀ𝐃x / ‖𝐃x‖ using the triangle 𝐒ᵀ left by qrsolv
// in the strict lower triangle of r and its diagonal in sdiag.
func newtonCorrection(r dense.Matrix, sdiag dense.Vector, perm dense.Permutation, x dense.Vector,
	dxnorm float64, diag, w dense.Vector) {
	n := r.Cols()

	for i := 0; i < n; i++ {
		pi := perm.At(i)
		dpi := diag.At(pi)
		w.Set(i, dpi*(dpi*x.At(pi))/dxnorm)
	}

	for j := 0; j < n; j++ {
		tj := w.At(j) / sdiag.At(j)
		w.Set(j, tj)
		if j+1 < n {
			w.SubVector(j+1, n-j-1).AddScaled(-tj, r.Col(j).SubVector(j+1, n-j-1))
		}
	}
}

// gradientDirection computes the scaled gradient g = 𝐃⁻¹𝐏𝐑ᵀqtf = 𝐃⁻¹𝐉ᵀf
// stored in pivoted order: gⱼ = (𝐑ᵀqtf)ⱼ / d[perm[j]].
func gradientDirection(r dense.Matrix, perm dense.Permutation, qtf, diag, g dense.Vector) {
	n := r.Cols()
	for j := 0; j < n; j++ {
		sum := r.Col(j).SubVector(0, j+1).Dot(qtf.SubVector(0, j+1))
		g.Set(j, sum/diag.At(perm.At(j)))
	}
}

// rptdx computes 𝐑𝐏ᵀdx, whose norm equals ‖𝐉dx‖.
func rptdx(r dense.Matrix, perm dense.Permutation, dx, out dense.Vector) {
	n := r.Cols()
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := i; j < n; j++ {
			sum += r.At(i, j) * dx.At(perm.At(j))
		}
		out.Set(i, sum)
	}
}

// qrsolv solves the regularized system
//
//	⎡ 𝐑𝐏ᵀ ⎤      ⎡ qtb ⎤
//	⎣ λ𝐃  ⎦ x ≅ ⎣  0  ⎦
//
// in the least-squares sense, where λ is the square root of the damping parameter.
//
// The diagonal block λ𝐃𝐏 is eliminated row by row into the triangle with Givens rotations,
// producing the upper triangle 𝐒 with 𝐏ᵀ(𝐉ᵀ𝐉 + λ²𝐃ᵀ𝐃)𝐏 = 𝐒ᵀ𝐒. 𝐒 is singular only when
// 𝐑 is and λ = 0, in which case the basic least-squares solution is returned.
//
// 𝐒ᵀ is written to the strict lower triangle of the leading n × n block of r,
// with its diagonal in sdiag. The upper triangle and diagonal of r are restored
// before returning. wa is workspace of length n.
//
// J.J. Moré, B.S. Garbow, K.E. Hillstrom, 'User Guide for MINPACK-1', ANL-80-74, 1980. (subroutine qrsolv)
func qrsolv(r dense.Matrix, perm dense.Permutation, lambda float64, diag, qtb, x, sdiag, wa dense.Vector) {
	n := r.Cols()

	// Copy 𝐑 to the lower triangle and save its diagonal in x.
	for j := 0; j < n; j++ {
		if j+1 < n {
			r.Col(j).SubVector(j+1, n-j-1).Assign(r.Row(j).SubVector(j+1, n-j-1))
		}
		x.Set(j, r.At(j, j))
		wa.Set(j, qtb.At(j))
	}

	for j := 0; j < n; j++ {
		if dj := lambda * diag.At(perm.At(j)); dj != 0 {
			sdiag.Set(j, dj)
			for k := j + 1; k < n; k++ {
				sdiag.Set(k, 0)
			}

			// Eliminating row j of λ𝐃 touches one element of the
			// extended right-hand side beyond the first n, initially zero.
			qtbpj := 0.0
			for k := j; k < n; k++ {
				c, s, rkk := linalg.Givens(r.At(k, k), sdiag.At(k))
				if s == 0 {
					continue
				}
				r.Set(k, k, rkk)
				wak, t := linalg.Rotate(c, s, wa.At(k), qtbpj)
				wa.Set(k, wak)
				qtbpj = t
				if k+1 < n {
					linalg.RotateVectors(c, s, r.Col(k).SubVector(k+1, n-k-1), sdiag.SubVector(k+1, n-k-1))
				}
			}
		}

		// Store the diagonal of 𝐒 and restore the diagonal of 𝐑.
		sdiag.Set(j, r.At(j, j))
		r.Set(j, j, x.At(j))
	}

	// Solve 𝐒z = wa, truncating at the first zero pivot.
	ns := n
	for j := 0; j < n; j++ {
		if sdiag.At(j) == 0 {
			ns = j
			break
		}
	}
	for j := ns; j < n; j++ {
		wa.Set(j, 0)
	}
	for j := ns - 1; j >= 0; j-- {
		sum := 0.0
		if j+1 < ns {
			sum = r.Col(j).SubVector(j+1, ns-j-1).Dot(wa.SubVector(j+1, ns-j-1))
		}
		wa.Set(j, (wa.At(j)-sum)/sdiag.At(j))
	}

	// x = 𝐏z
	for j := 0; j < n; j++ {
		x.Set(perm.At(j), wa.At(j))
	}
}
