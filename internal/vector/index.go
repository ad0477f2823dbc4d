// Package vector provides the exact flat L2 index and the position-aligned
// identifier mapping that together back the semantic store.
package vector

import (
	"cmp"
	"slices"
)

// Neighbor is a single search hit: the stored position and its squared L2 distance to the query.
type Neighbor struct {
	Position int
	Distance float64
}

// FlatIndex stores fixed-dimension vectors contiguously and answers exact
// nearest-neighbor queries by brute force.
//
// FlatIndex does no locking. Concurrent reads are safe while no mutation is in
// progress; the owner serializes mutations.
type FlatIndex struct {
	dim  int
	data []float32
}

// NewFlatIndex creates an empty index of the given dimension.
func NewFlatIndex(dim int) (*FlatIndex, error) {
	if dim <= 0 {
		return nil, ErrInvalidDimension
	}
	return &FlatIndex{dim: dim}, nil
}

// FromData builds an index over contiguous vectors laid out in position order.
// The index takes ownership of data.
func FromData(dim int, data []float32) (*FlatIndex, error) {
	if dim <= 0 {
		return nil, ErrInvalidDimension
	}
	if len(data)%dim != 0 {
		return nil, dimensionError(len(data)%dim, dim)
	}
	return &FlatIndex{dim: dim, data: data}, nil
}

// Dimension returns the fixed vector length.
func (f *FlatIndex) Dimension() int {
	return f.dim
}

// Count returns the number of stored vectors.
func (f *FlatIndex) Count() int {
	return len(f.data) / f.dim
}

// Add appends vec at the next position and returns that position.
func (f *FlatIndex) Add(vec []float32) (int, error) {
	if len(vec) != f.dim {
		return 0, dimensionError(len(vec), f.dim)
	}
	pos := f.Count()
	f.data = append(f.data, vec...)
	return pos, nil
}

// AddBatch appends vectors in order. Every vector is checked before any is
// appended, so a failed batch leaves the index unchanged.
func (f *FlatIndex) AddBatch(vecs [][]float32) error {
	if err := f.Validate(vecs); err != nil {
		return err
	}
	f.data = slices.Grow(f.data, len(vecs)*f.dim)
	for _, v := range vecs {
		f.data = append(f.data, v...)
	}
	return nil
}

// Validate reports the first vector whose length differs from the index dimension.
func (f *FlatIndex) Validate(vecs [][]float32) error {
	for _, v := range vecs {
		if len(v) != f.dim {
			return dimensionError(len(v), f.dim)
		}
	}
	return nil
}

// Search returns the min(k, Count()) stored vectors closest to query by
// squared L2 distance, ascending, ties broken by the lower position.
// An empty index or k <= 0 yields an empty result.
func (f *FlatIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != f.dim {
		return nil, dimensionError(len(query), f.dim)
	}
	n := f.Count()
	if k <= 0 || n == 0 {
		return []Neighbor{}, nil
	}
	all := make([]Neighbor, n)
	for i := 0; i < n; i++ {
		all[i] = Neighbor{Position: i, Distance: SquaredL2(query, f.at(i))}
	}
	slices.SortFunc(all, func(a, b Neighbor) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Position, b.Position)
	})
	if k > n {
		k = n
	}
	return all[:k:k], nil
}

// Reconstruct returns a copy of the vector stored at pos.
func (f *FlatIndex) Reconstruct(pos int) ([]float32, error) {
	if pos < 0 || pos >= f.Count() {
		return nil, ErrOutOfRange
	}
	return slices.Clone(f.at(pos)), nil
}

// Vector returns the stored vector at pos without copying. The slice must
// not be modified. It panics if pos is out of range.
func (f *FlatIndex) Vector(pos int) []float32 {
	return f.at(pos)
}

func (f *FlatIndex) at(pos int) []float32 {
	start := pos * f.dim
	return f.data[start : start+f.dim : start+f.dim]
}
