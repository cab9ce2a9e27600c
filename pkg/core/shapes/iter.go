// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"iter"
	"slices"

	"github.com/pkg/errors"
)

// Strides returns the strides for each axis of the shape, assuming a "row-major" layout,
// the one used everywhere in this module.
//
// Notice the strides are **not in bytes**, but in indices.
func (s Shape) Strides() (strides []int64) {
	rank := s.Rank()
	if rank == 0 {
		return
	}
	strides = make([]int64, rank)
	if s.IsZeroSize() {
		// Some axis is zero-dimension.
		return
	}
	currentStride := int64(1)
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = currentStride
		currentStride *= s.Dimensions[axis]
	}
	return
}

// Iter iterates sequentially, in row-major order, over all possible indices of the given shape.
//
// It yields the flat index (counter) and a slice of indices for each axis.
//
// To avoid allocating the slice of indices, the yielded indices is owned by the Iter() method:
// don't change it inside the loop, and clone it if it needs to be kept.
func (s Shape) Iter() iter.Seq2[int64, []int64] {
	indices := make([]int64, s.Rank())
	return s.IterOn(indices)
}

// IterOn iterates over all possible indices of the given shape.
//
// It yields the flat index (counter) and a slice of indices for each axis.
//
// The iteration updates the indices on the given indices slice.
// During the iteration the caller shouldn't modify the slice of indices, otherwise it will lead to undefined behavior.
//
// It expects len(indices) == s.Rank(). It will panic otherwise.
func (s Shape) IterOn(indices []int64) iter.Seq2[int64, []int64] {
	if len(indices) != s.Rank() {
		panic(errors.Errorf("Shape.IterOn given len(indices) == %d, want it to be equal to the rank %d", len(indices), s.Rank()))
	}
	return func(yield func(int64, []int64) bool) {
		rank := s.Rank()
		if rank == 0 {
			// Scalar: yield one empty index slice.
			_ = yield(0, indices)
			return
		}
		if s.IsZeroSize() {
			return
		}

		// Only iterate over the "non-trivial" axes: axes whose dimensions > 1.
		nonTrivialAxes := make([]int, 0, rank)
		for axis, dim := range s.Dimensions {
			if dim > 1 {
				nonTrivialAxes = append(nonTrivialAxes, axis)
			}
		}
		slices.Reverse(nonTrivialAxes) // We want to iterate over the last axis first.
		for i := range indices {
			indices[i] = 0
		}

		var flatIdx int64
	yielder:
		for {
			if !yield(flatIdx, indices) {
				return // Consumer requested to stop iteration.
			}
			flatIdx++

			// Increment indices to the next set of coordinates
			// (row-major order: the last index changes fastest).
			for _, axis := range nonTrivialAxes {
				indices[axis]++
				if indices[axis] < s.Dimensions[axis] {
					// Successfully incremented this dimension; no carry-over needed.
					continue yielder
				}
				// The current axis overflowed; reset it to 0 and
				// continue to increment the next higher-order dimension (carry-over).
				indices[axis] = 0
			}

			// That was the last index.
			break
		}
	}
}

// FlatIndex returns the row-major position of indices in a shape with the given strides.
func FlatIndex(strides, indices []int64) int64 {
	var flat int64
	for axis, idx := range indices {
		flat += idx * strides[axis]
	}
	return flat
}
