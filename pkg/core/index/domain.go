// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package index

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/sharding/pkg/core/shapes"
)

// Domain is the set of indices i with origin <= i < origin+shape, element-wise.
//
// It's used to describe the region of a global array held by a shard.
type Domain struct {
	origin Index
	shape  shapes.Shape
}

// NewDomain returns the domain with the given origin and shape. It panics if their ranks differ.
func NewDomain(origin Index, shape shapes.Shape) Domain {
	if origin.Rank() != shape.Rank() {
		exceptions.Panicf("index.NewDomain: origin %s and shape %s must have the same rank", origin, shape)
	}
	return Domain{origin: origin, shape: shape.Clone()}
}

// DomainOf returns the domain covering the whole shape: the origin is all zeros.
func DomainOf(shape shapes.Shape) Domain {
	return Domain{origin: Zeros(shape.Rank()), shape: shape.Clone()}
}

// Origin of the domain.
func (d Domain) Origin() Index { return d.origin }

// Shape of the domain.
func (d Domain) Shape() shapes.Shape { return d.shape.Clone() }

// Limit returns origin+shape: the exclusive upper bound of the domain.
func (d Domain) Limit() Index {
	return d.origin.Add(FromShape(d.shape))
}

// Add returns the domain translated by offset.
func (d Domain) Add(offset Index) Domain {
	return Domain{origin: d.origin.Add(offset), shape: d.shape}
}

// Sub returns the domain translated by -offset.
func (d Domain) Sub(offset Index) Domain {
	return Domain{origin: d.origin.Sub(offset), shape: d.shape}
}

// Contains returns whether idx is inside the domain.
func (d Domain) Contains(idx Index) bool {
	if idx.Rank() != d.origin.Rank() {
		return false
	}
	for axis := range idx.Rank() {
		v, o := idx.At(axis), d.origin.At(axis)
		if v < o || v >= o+d.shape.Dimensions[axis] {
			return false
		}
	}
	return true
}

// Equal returns whether both origin and shape are equal.
func (d Domain) Equal(d2 Domain) bool {
	return d.origin.Equal(d2.origin) && d.shape.Equal(d2.shape)
}

// String implements fmt.Stringer. E.g.: "IndexDomain(origin=[2,3],shape=[4,5])".
func (d Domain) String() string {
	return fmt.Sprintf("IndexDomain(origin=%s,shape=%s)", d.origin, d.shape)
}
