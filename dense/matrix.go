// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dense

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// Matrix is a row-major strided view of a rows × cols block:
//
//	Aᵢⱼ = data[i × stride + j]  (stride ≥ cols)
//
// Like Vector, a Matrix does not own its elements; Row, Col and SubMatrix
// return views into the same storage.
type Matrix struct {
	rows, cols, stride int
	data               []float64
}

// NewMatrix creates a contiguous r × c matrix backed by data.
// A nil data allocates a zeroed buffer, otherwise len(data) must equal r × c.
func NewMatrix(r, c int, data []float64) Matrix {
	if r < 0 || c < 0 {
		panic(ErrNegativeDimension)
	}
	if data == nil {
		data = make([]float64, r*c)
	} else if len(data) != r*c {
		panic(ErrShape)
	}
	return Matrix{rows: r, cols: c, stride: max(1, c), data: data}
}

// Dims returns the number of rows and columns.
func (m Matrix) Dims() (r, c int) { return m.rows, m.cols }

func (m Matrix) Rows() int { return m.rows }

func (m Matrix) Cols() int { return m.cols }

// Stride returns the distance between the starts of consecutive rows.
func (m Matrix) Stride() int { return max(1, m.stride) }

func (m Matrix) At(i, j int) float64 {
	if uint(i) >= uint(m.rows) || uint(j) >= uint(m.cols) {
		panic(ErrIndexOutOfRange)
	}
	return m.data[i*m.stride+j]
}

func (m Matrix) Set(i, j int, x float64) {
	if uint(i) >= uint(m.rows) || uint(j) >= uint(m.cols) {
		panic(ErrIndexOutOfRange)
	}
	m.data[i*m.stride+j] = x
}

// Row returns a contiguous view of the i-th row.
func (m Matrix) Row(i int) Vector {
	if uint(i) >= uint(m.rows) {
		panic(ErrIndexOutOfRange)
	}
	if m.cols == 0 {
		return Vector{inc: 1}
	}
	base := i * m.stride
	return Vector{n: m.cols, inc: 1, data: m.data[base : base+m.cols]}
}

// Col returns a strided view of the j-th column.
func (m Matrix) Col(j int) Vector {
	if uint(j) >= uint(m.cols) {
		panic(ErrIndexOutOfRange)
	}
	if m.rows == 0 {
		return Vector{inc: m.Stride()}
	}
	return Vector{n: m.rows, inc: m.stride, data: m.data[j : (m.rows-1)*m.stride+j+1]}
}

// SubMatrix returns the r × c block whose top-left element is Aᵢⱼ.
func (m Matrix) SubMatrix(i, j, r, c int) Matrix {
	if i < 0 || j < 0 || r < 0 || c < 0 || i+r > m.rows || j+c > m.cols {
		panic(ErrIndexOutOfRange)
	}
	if r == 0 || c == 0 {
		return Matrix{rows: r, cols: c, stride: m.Stride()}
	}
	base := i*m.stride + j
	return Matrix{rows: r, cols: c, stride: m.stride, data: m.data[base : base+(r-1)*m.stride+c]}
}

// RawMatrix returns the blas64 representation sharing the same storage.
func (m Matrix) RawMatrix() blas64.General {
	return blas64.General{Rows: m.rows, Cols: m.cols, Data: m.data, Stride: m.Stride()}
}

// Assign overwrites m element-wise with src.
func (m Matrix) Assign(src Matrix) {
	if m.rows != src.rows || m.cols != src.cols {
		panic(ErrShape)
	}
	for i := 0; i < m.rows; i++ {
		copy(m.data[i*m.stride:i*m.stride+m.cols], src.data[i*src.stride:i*src.stride+m.cols])
	}
}

// Fill sets every element to x.
func (m Matrix) Fill(x float64) {
	for i := 0; i < m.rows; i++ {
		row := m.data[i*m.stride : i*m.stride+m.cols]
		for j := range row {
			row[j] = x
		}
	}
}

// SetIdentity sets the diagonal to one and everything else to zero.
// Rectangular matrices receive ones on the leading min(rows, cols) diagonal.
func (m Matrix) SetIdentity() {
	m.Fill(0)
	for i := 0; i < min(m.rows, m.cols); i++ {
		m.data[i*m.stride+i] = 1
	}
}

// SwapCols exchanges columns i and j.
func (m Matrix) SwapCols(i, j int) {
	if i == j {
		if uint(i) >= uint(m.cols) {
			panic(ErrIndexOutOfRange)
		}
		return
	}
	blas64.Swap(m.Col(i).RawVector(), m.Col(j).RawVector())
}

// SwapRows exchanges rows i and j.
func (m Matrix) SwapRows(i, j int) {
	if i == j {
		if uint(i) >= uint(m.rows) {
			panic(ErrIndexOutOfRange)
		}
		return
	}
	blas64.Swap(m.Row(i).RawVector(), m.Row(j).RawVector())
}

// MulVec computes y = α op(A) x + β y, where op(A) is Aᵀ when trans is set.
func (m Matrix) MulVec(trans bool, alpha float64, x Vector, beta float64, y Vector) {
	t, xn, yn := blas.NoTrans, m.cols, m.rows
	if trans {
		t, xn, yn = blas.Trans, m.rows, m.cols
	}
	if x.Len() != xn || y.Len() != yn {
		panic(ErrShape)
	}
	if m.rows == 0 || m.cols == 0 {
		y.Scale(beta)
		return
	}
	blas64.Gemv(t, alpha, m.RawMatrix(), x.RawVector(), beta, y.RawVector())
}

// Clone returns a contiguous copy of m.
func (m Matrix) Clone() Matrix {
	c := NewMatrix(m.rows, m.cols, nil)
	c.Assign(m)
	return c
}
