// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the dimensions of a multidimensional array, and DynamicShape, its
// bounded-dynamic variant.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of an array.
//   - Axis: the index of a dimension. We refer to a dimension index as "axis" (plural axes), and to
//     its size as its dimension.
//   - Scalar: a shape with no axes. It has exactly one element.
//
// Example: a 2x3 matrix has shape `[2,3]`: it has rank 2, axis 0 has dimension 2 and axis 1 has
// dimension 3. It is created with `shapes.Make(2, 3)`.
package shapes

import (
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
)

// Shape is an immutable (by convention) list of non-negative dimensions.
//
// The zero value, Shape{}, is the scalar shape.
type Shape struct {
	Dimensions []int64
}

// Make returns a Shape with the given dimensions.
// It panics if any dimension is negative.
func Make(dimensions ...int64) Shape {
	s := Shape{Dimensions: slices.Clone(dimensions)}
	for axis, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("shapes.Make(%v): axis #%d has negative dimension %d", dimensions, axis, dim)
		}
	}
	return s
}

// Scalar returns the shape of a scalar: rank 0, one element.
func Scalar() Shape {
	return Shape{}
}

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar, that is there are no dimensions (rank==0).
func (s Shape) IsScalar() bool { return s.Rank() == 0 }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
// Like with a slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int64 {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// NumElements returns the product of all dimensions. It is 1 for a scalar.
func (s Shape) NumElements() int64 {
	size := int64(1)
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// IsZeroSize returns whether any of the dimensions is 0, in which case the shape has no elements.
func (s Shape) IsZeroSize() bool {
	return slices.Contains(s.Dimensions, 0)
}

// Equal compares the dimensions of two shapes.
func (s Shape) Equal(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{Dimensions: slices.Clone(s.Dimensions)}
}

// String implements fmt.Stringer. E.g.: "[8,16]". A scalar is printed as "[]".
func (s Shape) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for axis, dim := range s.Dimensions {
		if axis > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(dim, 10))
	}
	sb.WriteByte(']')
	return sb.String()
}
