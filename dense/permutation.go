// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dense

// Permutation is a bijection of {0, …, n-1}.
// Applying p to a vector v yields v'ᵢ = v[p[i]].
type Permutation struct {
	idx []int
}

// NewPermutation returns the identity permutation of size n.
func NewPermutation(n int) Permutation {
	if n < 0 {
		panic(ErrNegativeDimension)
	}
	p := Permutation{idx: make([]int, n)}
	p.Init()
	return p
}

// PermutationOf wraps idx after checking it is a bijection.
func PermutationOf(idx []int) (Permutation, error) {
	p := Permutation{idx: idx}
	if err := p.Valid(); err != nil {
		return Permutation{}, err
	}
	return p, nil
}

func (p Permutation) Len() int { return len(p.idx) }

func (p Permutation) At(i int) int {
	if uint(i) >= uint(len(p.idx)) {
		panic(ErrIndexOutOfRange)
	}
	return p.idx[i]
}

// Init resets p to the identity.
func (p Permutation) Init() {
	for i := range p.idx {
		p.idx[i] = i
	}
}

// Swap exchanges the images of i and j.
func (p Permutation) Swap(i, j int) {
	if uint(i) >= uint(len(p.idx)) || uint(j) >= uint(len(p.idx)) {
		panic(ErrIndexOutOfRange)
	}
	p.idx[i], p.idx[j] = p.idx[j], p.idx[i]
}

// Indices returns a copy of the image table.
func (p Permutation) Indices() []int {
	return append([]int(nil), p.idx...)
}

// Valid reports ErrNotPermutation unless every index in [0, n) appears once.
func (p Permutation) Valid() error {
	seen := make([]bool, len(p.idx))
	for _, k := range p.idx {
		if uint(k) >= uint(len(p.idx)) || seen[k] {
			return ErrNotPermutation
		}
		seen[k] = true
	}
	return nil
}

// Inverse stores p⁻¹ into dst.
func (p Permutation) Inverse(dst Permutation) {
	if len(dst.idx) != len(p.idx) {
		panic(ErrShape)
	}
	for i, k := range p.idx {
		dst.idx[k] = i
	}
}

// Permute rearranges v in place so that v'ᵢ = v[p[i]].
// Every cycle of p is followed once, starting from its smallest element.
func (p Permutation) Permute(v Vector) {
	n := len(p.idx)
	if v.Len() != n {
		panic(ErrShape)
	}
	for i := 0; i < n; i++ {
		k := p.idx[i]
		for k > i {
			k = p.idx[k]
		}
		if k < i {
			continue // cycle already visited
		}
		pk := p.idx[k]
		if pk == i {
			continue // fixed point
		}
		t := v.At(i)
		for pk != i {
			v.Set(k, v.At(pk))
			k, pk = pk, p.idx[pk]
		}
		v.Set(k, t)
	}
}

// PermuteInverse undoes Permute: v'[p[i]] = vᵢ.
func (p Permutation) PermuteInverse(v Vector) {
	n := len(p.idx)
	if v.Len() != n {
		panic(ErrShape)
	}
	for i := 0; i < n; i++ {
		k := p.idx[i]
		for k > i {
			k = p.idx[k]
		}
		if k < i {
			continue
		}
		pk := p.idx[k]
		if pk == i {
			continue
		}
		t := v.At(k)
		for pk != i {
			r := v.At(pk)
			v.Set(pk, t)
			t = r
			k, pk = pk, p.idx[pk]
		}
		v.Set(pk, t)
	}
}
