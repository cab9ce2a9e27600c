// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// BoundedDynamicTag marks which axes of a DynamicShape are dynamic: for those the dimension of the
// padded shape is only an upper bound of the actual dimension.
type BoundedDynamicTag struct {
	isDynamic []bool
}

// NewBoundedDynamicTag creates a tag with one flag per axis.
// It panics if no axis is dynamic: a shape without dynamic axes is a static Shape.
func NewBoundedDynamicTag(isDynamic ...bool) BoundedDynamicTag {
	if !slices.Contains(isDynamic, true) {
		exceptions.Panicf("shapes.NewBoundedDynamicTag(%v): at least one axis must be dynamic", isDynamic)
	}
	return BoundedDynamicTag{isDynamic: slices.Clone(isDynamic)}
}

// Rank is the number of axes covered by the tag.
func (t BoundedDynamicTag) Rank() int { return len(t.isDynamic) }

// IsDynamicDim returns whether the axis is dynamic.
func (t BoundedDynamicTag) IsDynamicDim(axis int) bool { return t.isDynamic[axis] }

// Equal returns whether both tags mark the same axes as dynamic.
func (t BoundedDynamicTag) Equal(t2 BoundedDynamicTag) bool {
	return slices.Equal(t.isDynamic, t2.isDynamic)
}

// DynamicShape is a Shape whose tagged axes are upper bounds (bounded dynamism).
type DynamicShape struct {
	padded Shape
	tag    BoundedDynamicTag
}

// NewDynamic creates a DynamicShape, returning an error if the tag and the padded shape don't have
// the same rank, or if the tag has no dynamic axis.
func NewDynamic(padded Shape, tag BoundedDynamicTag) (DynamicShape, error) {
	if !slices.Contains(tag.isDynamic, true) {
		return DynamicShape{}, errors.Errorf("dynamic tag for shape %s must have at least one dynamic axis", padded)
	}
	if padded.Rank() != tag.Rank() {
		return DynamicShape{}, errors.Errorf(
			"shape %s and dynamic tag must have the same rank, got %d and %d", padded, padded.Rank(), tag.Rank())
	}
	return DynamicShape{padded: padded.Clone(), tag: tag}, nil
}

// MakeDynamic is like NewDynamic, but panics on error.
func MakeDynamic(padded Shape, tag BoundedDynamicTag) DynamicShape {
	ds, err := NewDynamic(padded, tag)
	if err != nil {
		exceptions.Panicf("shapes.MakeDynamic: %v", err)
	}
	return ds
}

// PaddedShape returns the static shape with the upper bounds for the dynamic axes.
func (ds DynamicShape) PaddedShape() Shape { return ds.padded.Clone() }

// Tag returns the tag with the dynamic axes.
func (ds DynamicShape) Tag() BoundedDynamicTag { return ds.tag }

// Rank of the shape.
func (ds DynamicShape) Rank() int { return ds.padded.Rank() }

// IsDynamicDim returns whether the axis is dynamic.
func (ds DynamicShape) IsDynamicDim(axis int) bool { return ds.tag.IsDynamicDim(axis) }

// Equal returns whether both the padded shapes and the tags are equal.
func (ds DynamicShape) Equal(ds2 DynamicShape) bool {
	return ds.padded.Equal(ds2.padded) && ds.tag.Equal(ds2.tag)
}

// String implements fmt.Stringer: dynamic axes are prefixed by "<=", e.g.: "[<=3,4]".
func (ds DynamicShape) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for axis, dim := range ds.padded.Dimensions {
		if axis > 0 {
			sb.WriteByte(',')
		}
		if ds.tag.IsDynamicDim(axis) {
			sb.WriteString("<=")
		}
		sb.WriteString(strconv.FormatInt(dim, 10))
	}
	sb.WriteByte(']')
	return sb.String()
}
