// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linalg

import (
	"math"

	"github.com/curioloop/lmfit/dense"
)

// BalanceColumns replaces 𝐀 with 𝐀𝐃⁻¹ where 𝐃 is the diagonal of powers of two
// that brings every column 1-norm into [0.5, 1]. The factors are stored in d.
// Zero and non-finite columns are left unscaled with dⱼ = 1.
// Scaling by powers of two introduces no rounding error.
func BalanceColumns(a dense.Matrix, d dense.Vector) {
	n := a.Cols()
	if d.Len() != n {
		panic(dense.ErrShape)
	}
	for j := 0; j < n; j++ {
		col := a.Col(j)
		s, f := col.Asum(), 1.0
		if s == 0 || math.IsInf(s, 0) || math.IsNaN(s) {
			d.Set(j, f)
			continue
		}
		for s > 1 {
			s /= 2
			f *= 2
		}
		for s < 0.5 {
			s *= 2
			f /= 2
		}
		d.Set(j, f)
		if f != 1 {
			col.Scale(1 / f)
		}
	}
}
