// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sharding

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/sharding/pkg/core/devices"
	"github.com/gomlx/sharding/pkg/core/index"
	"github.com/gomlx/sharding/pkg/core/shapes"
	"github.com/gomlx/sharding/pkg/support/xslices"
	"github.com/pkg/errors"
)

// concretePayload holds either static or dynamic shapes: dynamic is set for the latter.
type concretePayload struct {
	dynamic bool

	shape       shapes.Shape
	shardShapes []shapes.Shape

	dynamicShape       shapes.DynamicShape
	dynamicShardShapes []shapes.DynamicShape

	// indexDomains is optional.
	indexDomains []index.Domain
}

func (p *concretePayload) numShards() int {
	if p.dynamic {
		return len(p.dynamicShardShapes)
	}
	return len(p.shardShapes)
}

func (p *concretePayload) equal(other *concretePayload) bool {
	if p.dynamic != other.dynamic {
		return false
	}
	if p.dynamic {
		return p.dynamicShape.Equal(other.dynamicShape) &&
			slices.EqualFunc(p.dynamicShardShapes, other.dynamicShardShapes, shapes.DynamicShape.Equal)
	}
	if (p.indexDomains == nil) != (other.indexDomains == nil) ||
		!slices.EqualFunc(p.indexDomains, other.indexDomains, index.Domain.Equal) {
		return false
	}
	return p.shape.Equal(other.shape) && slices.EqualFunc(p.shardShapes, other.shardShapes, shapes.Shape.Equal)
}

func (p *concretePayload) appendHash(buf []byte) []byte {
	buf = appendBool(buf, p.dynamic)
	if p.dynamic {
		buf = appendShape(buf, p.dynamicShape.PaddedShape())
		for _, shardShape := range p.dynamicShardShapes {
			buf = appendShape(buf, shardShape.PaddedShape())
		}
		return buf
	}
	buf = appendShape(buf, p.shape)
	for _, shardShape := range p.shardShapes {
		buf = appendShape(buf, shardShape)
	}
	buf = appendBool(buf, p.indexDomains != nil)
	for _, domain := range p.indexDomains {
		buf = appendDomain(buf, domain)
	}
	return buf
}

func (p *concretePayload) String() string {
	var parts []string
	if p.dynamic {
		for _, shardShape := range p.dynamicShardShapes {
			parts = append(parts, shardShape.String())
		}
		return fmt.Sprintf("dynamic_shape: %s, shard_dynamic_shapes: [%s]", p.dynamicShape, strings.Join(parts, ", "))
	}
	for _, shardShape := range p.shardShapes {
		parts = append(parts, shardShape.String())
	}
	return fmt.Sprintf("shape: %s, shard_shapes: [%s]", p.shape, strings.Join(parts, ", "))
}

// NewConcrete returns a sharding with explicit, possibly uneven, shard shapes: shardShapes[i] is the shape
// of the shard on the i-th addressable device of list. The optional indexDomains give the region of the
// array held by each of those shards.
//
// It panics if the number of shard shapes (or of index domains, if given) is not the number of addressable
// devices.
func NewConcrete(list *devices.List, memoryKind devices.MemoryKind, shape shapes.Shape, shardShapes []shapes.Shape,
	indexDomains []index.Domain) *Sharding {
	s := newSharding(KindConcrete, list, memoryKind, false)
	numAddressable := list.AddressableDeviceList().Len()
	if len(shardShapes) != numAddressable {
		exceptions.Panicf("NewConcrete: got %d shard shapes for %d addressable devices", len(shardShapes), numAddressable)
	}
	if indexDomains != nil && len(indexDomains) != numAddressable {
		exceptions.Panicf("NewConcrete: got %d index domains for %d addressable devices", len(indexDomains), numAddressable)
	}
	s.concrete = &concretePayload{
		shape:        shape.Clone(),
		shardShapes:  xslices.Map(shardShapes, shapes.Shape.Clone),
		indexDomains: slices.Clone(indexDomains),
	}
	return s
}

// NewConcreteDynamic is like NewConcrete, but for a dynamically shaped array.
//
// It panics if the number of shard shapes is not the number of addressable devices.
func NewConcreteDynamic(list *devices.List, memoryKind devices.MemoryKind, shape shapes.DynamicShape,
	shardShapes []shapes.DynamicShape) *Sharding {
	s := newSharding(KindConcrete, list, memoryKind, false)
	if numAddressable := list.AddressableDeviceList().Len(); len(shardShapes) != numAddressable {
		exceptions.Panicf("NewConcreteDynamic: got %d shard shapes for %d addressable devices", len(shardShapes), numAddressable)
	}
	s.concrete = &concretePayload{
		dynamic:            true,
		dynamicShape:       shape,
		dynamicShardShapes: slices.Clone(shardShapes),
	}
	return s
}

// checkConcreteShape returns an error if the sharding holds dynamic shapes or a shape different from shape.
func (s *Sharding) checkConcreteShape(shape shapes.Shape) error {
	if s.concrete.dynamic {
		return errors.Wrapf(ErrDynamicShapeUnsupported, "%s holds dynamic shape %s, but was asked about static shape %s",
			s.kind, s.concrete.dynamicShape, shape)
	}
	if !shape.Equal(s.concrete.shape) {
		return errors.Errorf("%s can only disassemble shape %s, but was asked to disassemble shape %s",
			s.kind, s.concrete.shape, shape)
	}
	return nil
}

// checkAllShards returns an error if all shards are requested and some devices are not addressable: the
// sharding has no information on their shards.
func (s *Sharding) checkAllShards(semantics SingleDeviceShardSemantics) error {
	if semantics == AllShards && !s.devices.IsFullyAddressable() {
		return errors.Errorf("%s does not have shard shape information for non-addressable devices", s.kind)
	}
	return nil
}

func (s *Sharding) concreteShardShape(shape shapes.Shape) (shapes.Shape, error) {
	if err := s.checkConcreteShape(shape); err != nil {
		return shapes.Shape{}, err
	}
	shardShapes := s.concrete.shardShapes
	if len(shardShapes) == 0 {
		return shapes.Shape{}, errors.Errorf("%s has no addressable shards", s.kind)
	}
	for _, shardShape := range shardShapes[1:] {
		if !shardShape.Equal(shardShapes[0]) {
			return shapes.Shape{}, errors.Errorf("%s does not have a fixed shard shape: %s", s.kind, s.concrete)
		}
	}
	return shardShapes[0].Clone(), nil
}

func (s *Sharding) concreteDisassemble(shape shapes.Shape, semantics SingleDeviceShardSemantics) ([]Shard, error) {
	if err := s.checkConcreteShape(shape); err != nil {
		return nil, err
	}
	if err := s.checkAllShards(semantics); err != nil {
		return nil, err
	}
	addressable := s.devices.AddressableDeviceList()
	shards := make([]Shard, addressable.Len())
	for i, shardShape := range s.concrete.shardShapes {
		shards[i] = Shard{Shape: shardShape.Clone(), Sharding: NewSingleDevice(addressable.At(i), s.memoryKind)}
	}
	return shards, nil
}

func (s *Sharding) concreteDisassembleDynamic(shape shapes.DynamicShape, semantics SingleDeviceShardSemantics) ([]DynamicShard, error) {
	if !s.concrete.dynamic {
		return nil, errors.Wrapf(ErrDynamicShapeUnsupported, "%s holds static shape %s, but was asked to disassemble dynamic shape %s",
			s.kind, s.concrete.shape, shape)
	}
	if !shape.Equal(s.concrete.dynamicShape) {
		return nil, errors.Errorf("%s can only disassemble dynamic shape %s, but was asked to disassemble dynamic shape %s",
			s.kind, s.concrete.dynamicShape, shape)
	}
	if err := s.checkAllShards(semantics); err != nil {
		return nil, err
	}
	addressable := s.devices.AddressableDeviceList()
	shards := make([]DynamicShard, addressable.Len())
	for i, shardShape := range s.concrete.dynamicShardShapes {
		shards[i] = DynamicShard{Shape: shardShape, Sharding: NewSingleDevice(addressable.At(i), s.memoryKind)}
	}
	return shards, nil
}

func (s *Sharding) concreteIndexDomains(shape shapes.Shape, semantics SingleDeviceShardSemantics) ([]index.Domain, error) {
	if s.concrete.indexDomains == nil {
		return nil, errors.Wrapf(ErrNoIndexDomains, "%s does not have index domain information", s.kind)
	}
	if err := s.checkConcreteShape(shape); err != nil {
		return nil, err
	}
	if err := s.checkAllShards(semantics); err != nil {
		return nil, err
	}
	return slices.Clone(s.concrete.indexDomains), nil
}

// concreteEvenPayload is the payload of KindConcreteEven.
type concreteEvenPayload struct {
	shape, shardShape shapes.Shape
}

func (p *concreteEvenPayload) equal(other *concreteEvenPayload) bool {
	return p.shape.Equal(other.shape) && p.shardShape.Equal(other.shardShape)
}

func (p *concreteEvenPayload) appendHash(buf []byte) []byte {
	return appendShape(appendShape(buf, p.shape), p.shardShape)
}

// NewConcreteEven returns a sharding where every device holds a shard of shape shardShape, for an array
// of the given shape.
func NewConcreteEven(list *devices.List, memoryKind devices.MemoryKind, shape, shardShape shapes.Shape,
	isFullyReplicated bool) *Sharding {
	s := newSharding(KindConcreteEven, list, memoryKind, isFullyReplicated)
	s.concreteEven = &concreteEvenPayload{shape: shape.Clone(), shardShape: shardShape.Clone()}
	return s
}

func (s *Sharding) concreteEvenShardShape(shape shapes.Shape) (shapes.Shape, error) {
	if !shape.Equal(s.concreteEven.shape) {
		return shapes.Shape{}, errors.Errorf("%s has a shard shape for shape %s, but was asked to get a shard shape for shape %s",
			s.kind, s.concreteEven.shape, shape)
	}
	return s.concreteEven.shardShape.Clone(), nil
}

func (s *Sharding) concreteEvenDisassemble(shape shapes.Shape, semantics SingleDeviceShardSemantics) ([]Shard, error) {
	if !shape.Equal(s.concreteEven.shape) {
		return nil, errors.Errorf("%s can only disassemble shape %s, but was asked to disassemble shape %s",
			s.kind, s.concreteEven.shape, shape)
	}
	var shards []Shard
	for _, device := range s.devices.Devices() {
		if semantics.includes(device) {
			shards = append(shards, Shard{Shape: s.concreteEven.shardShape.Clone(), Sharding: NewSingleDevice(device, s.memoryKind)})
		}
	}
	return shards, nil
}
