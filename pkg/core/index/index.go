// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package index defines Index, a position in a multidimensional array, and Domain, a rectangular
// (hyper-box) region of an array given by its origin and shape.
//
// Both are immutable values: operations return new values.
package index

import (
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/sharding/pkg/core/shapes"
)

// Index is a position in a multidimensional array: one coordinate per axis.
type Index struct {
	elements []int64
}

// Make returns an Index with the given coordinates.
func Make(elements ...int64) Index {
	return Index{elements: slices.Clone(elements)}
}

// Zeros returns the Index with all coordinates set to 0, for the given rank.
func Zeros(rank int) Index {
	return Index{elements: make([]int64, rank)}
}

// Rank returns the number of coordinates.
func (idx Index) Rank() int { return len(idx.elements) }

// At returns the coordinate of the given axis.
func (idx Index) At(axis int) int64 { return idx.elements[axis] }

// Elements returns a copy of the coordinates.
func (idx Index) Elements() []int64 { return slices.Clone(idx.elements) }

func (idx Index) checkRank(op string, otherRank int) {
	if idx.Rank() != otherRank {
		exceptions.Panicf("Index%s: rank mismatch, %s has rank %d, operand has rank %d", op, idx, idx.Rank(), otherRank)
	}
}

// Add returns the element-wise sum idx+offset. It panics if ranks differ.
func (idx Index) Add(offset Index) Index {
	idx.checkRank(".Add", offset.Rank())
	result := make([]int64, idx.Rank())
	for axis, v := range idx.elements {
		result[axis] = v + offset.elements[axis]
	}
	return Index{elements: result}
}

// Sub returns the element-wise difference idx-offset. It panics if ranks differ.
func (idx Index) Sub(offset Index) Index {
	idx.checkRank(".Sub", offset.Rank())
	result := make([]int64, idx.Rank())
	for axis, v := range idx.elements {
		result[axis] = v - offset.elements[axis]
	}
	return Index{elements: result}
}

// Mul returns the element-wise product of idx by a multiplier per axis. It panics if ranks differ.
func (idx Index) Mul(multiplier []int64) Index {
	idx.checkRank(".Mul", len(multiplier))
	result := make([]int64, idx.Rank())
	for axis, v := range idx.elements {
		result[axis] = v * multiplier[axis]
	}
	return Index{elements: result}
}

// Equal returns whether both indices have the same coordinates.
func (idx Index) Equal(idx2 Index) bool {
	return slices.Equal(idx.elements, idx2.elements)
}

// String implements fmt.Stringer. E.g.: "[1,2]".
func (idx Index) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for axis, v := range idx.elements {
		if axis > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(v, 10))
	}
	sb.WriteByte(']')
	return sb.String()
}

// FromShape returns the Index with the shape dimensions as coordinates: it's the limit of a
// Domain with zero origin.
func FromShape(shape shapes.Shape) Index {
	return Make(shape.Dimensions...)
}
