// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dense

import (
	"math"

	"gonum.org/v1/gonum/blas/blas64"
)

// Vector is a strided view of n float64 elements:
//
//	vᵢ = data[i × inc]  (0 ≤ i < n)
//
// A Vector never owns its elements. Sub-views share the backing buffer with
// their parent, so writes through any view are visible through all others.
// The zero value is an empty vector.
type Vector struct {
	n, inc int
	data   []float64
}

// NewVector creates a contiguous n-vector backed by data.
// A nil data allocates a zeroed buffer, otherwise len(data) must equal n.
func NewVector(n int, data []float64) Vector {
	if n < 0 {
		panic(ErrNegativeDimension)
	}
	if data == nil {
		data = make([]float64, n)
	} else if len(data) != n {
		panic(ErrShape)
	}
	return Vector{n: n, inc: 1, data: data}
}

// NewVectorStride views n elements of data spaced inc apart.
func NewVectorStride(n, inc int, data []float64) Vector {
	switch {
	case n < 0:
		panic(ErrNegativeDimension)
	case inc <= 0:
		panic(ErrBadStride)
	case n > 0 && len(data) < (n-1)*inc+1:
		panic(ErrShortBuffer)
	}
	if n == 0 {
		return Vector{inc: inc}
	}
	return Vector{n: n, inc: inc, data: data[:(n-1)*inc+1]}
}

// Len returns the number of elements.
func (v Vector) Len() int { return v.n }

// Inc returns the distance between consecutive elements in the backing buffer.
func (v Vector) Inc() int {
	if v.inc == 0 {
		return 1
	}
	return v.inc
}

// At returns the i-th element.
func (v Vector) At(i int) float64 {
	if uint(i) >= uint(v.n) {
		panic(ErrIndexOutOfRange)
	}
	return v.data[i*v.inc]
}

// Set assigns x to the i-th element.
func (v Vector) Set(i int, x float64) {
	if uint(i) >= uint(v.n) {
		panic(ErrIndexOutOfRange)
	}
	v.data[i*v.inc] = x
}

// SubVector returns a view of n elements starting at offset.
func (v Vector) SubVector(offset, n int) Vector {
	if offset < 0 || n < 0 || offset+n > v.n {
		panic(ErrIndexOutOfRange)
	}
	if n == 0 {
		return Vector{inc: v.Inc()}
	}
	base := offset * v.inc
	return Vector{n: n, inc: v.inc, data: v.data[base : base+(n-1)*v.inc+1]}
}

// RawVector returns the blas64 representation sharing the same storage.
func (v Vector) RawVector() blas64.Vector {
	return blas64.Vector{N: v.n, Data: v.data, Inc: v.Inc()}
}

// Assign overwrites v element-wise with src.
func (v Vector) Assign(src Vector) {
	if v.n != src.n {
		panic(ErrShape)
	}
	blas64.Copy(src.RawVector(), v.RawVector())
}

// Fill sets every element to x.
func (v Vector) Fill(x float64) {
	for i := 0; i < v.n; i++ {
		v.data[i*v.inc] = x
	}
}

// Swap exchanges the i-th and j-th elements.
func (v Vector) Swap(i, j int) {
	if uint(i) >= uint(v.n) || uint(j) >= uint(v.n) {
		panic(ErrIndexOutOfRange)
	}
	i, j = i*v.inc, j*v.inc
	v.data[i], v.data[j] = v.data[j], v.data[i]
}

// Scale computes v = αv.
func (v Vector) Scale(alpha float64) {
	blas64.Scal(alpha, v.RawVector())
}

// AddScaled computes v = v + αx.
func (v Vector) AddScaled(alpha float64, x Vector) {
	if v.n != x.n {
		panic(ErrShape)
	}
	blas64.Axpy(alpha, x.RawVector(), v.RawVector())
}

// Dot returns vᵀu.
func (v Vector) Dot(u Vector) float64 {
	if v.n != u.n {
		panic(ErrShape)
	}
	return blas64.Dot(v.RawVector(), u.RawVector())
}

// Norm returns the Euclidean norm ‖v‖₂.
func (v Vector) Norm() float64 {
	return blas64.Nrm2(v.RawVector())
}

// Asum returns ‖v‖₁.
func (v Vector) Asum() float64 {
	return blas64.Asum(v.RawVector())
}

// Iamax returns the index of the first element with the largest magnitude,
// or -1 for an empty vector.
func (v Vector) Iamax() int {
	return blas64.Iamax(v.RawVector())
}

// ScaledNorm returns ‖𝐃v‖₂ where 𝐃 = diag(d).
// The sum of squares is accumulated with rescaling to avoid overflow.
func (v Vector) ScaledNorm(d Vector) float64 {
	if v.n != d.n {
		panic(ErrShape)
	}
	scale, ssq := 0.0, 1.0
	for i := 0; i < v.n; i++ {
		if u := math.Abs(d.data[i*d.inc] * v.data[i*v.inc]); u > 0 {
			if scale < u {
				r := scale / u
				ssq = 1 + ssq*r*r
				scale = u
			} else {
				r := u / scale
				ssq += r * r
			}
		}
	}
	return scale * math.Sqrt(ssq)
}

// Clone returns a contiguous copy of v.
func (v Vector) Clone() Vector {
	w := NewVector(v.n, nil)
	w.Assign(v)
	return w
}

// Values returns the elements of v in a newly allocated slice.
func (v Vector) Values() []float64 {
	s := make([]float64, v.n)
	for i := range s {
		s[i] = v.data[i*v.inc]
	}
	return s
}
