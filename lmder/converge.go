// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lmder

import (
	"fmt"
	"math"

	"github.com/curioloop/lmfit/dense"
)

// TestDelta reports whether every component of the step satisfies
//
//	|dxᵢ| < epsAbs + epsRel|xᵢ|
func TestDelta(dx, x dense.Vector, epsAbs, epsRel float64) (bool, error) {
	switch {
	case epsAbs < 0:
		return false, fmt.Errorf("%w: absolute step tolerance %v", ErrTolerance, epsAbs)
	case epsRel < 0:
		return false, fmt.Errorf("%w: relative step tolerance %v", ErrTolerance, epsRel)
	case dx.Len() != x.Len():
		return false, fmt.Errorf("%w: step has %d elements, x has %d", ErrDimension, dx.Len(), x.Len())
	}
	for i := 0; i < x.Len(); i++ {
		if !(math.Abs(dx.At(i)) < epsAbs+epsRel*math.Abs(x.At(i))) {
			return false, nil
		}
	}
	return true, nil
}

// TestGradient reports whether ∑|gᵢ| < epsAbs.
func TestGradient(g dense.Vector, epsAbs float64) (bool, error) {
	if epsAbs < 0 {
		return false, fmt.Errorf("%w: gradient tolerance %v", ErrTolerance, epsAbs)
	}
	return g.Asum() < epsAbs, nil
}

// Gradient stores 𝐉ᵀf into g.
func Gradient(jac dense.Matrix, f, g dense.Vector) {
	jac.MulVec(true, 1, f, 0, g)
}
