// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sharding describes how a logical array is partitioned over a list of devices, and derives
// the geometry (shape and position) of each device's shard.
//
// A Sharding is one of six kinds, each knowing a different amount about the partitioning:
//
//   - SingleDevice: the whole array is on one device.
//   - Opaque: the devices are known, but not how the array is partitioned.
//   - Concrete: explicit (possibly uneven) shard shapes, one per addressable device.
//   - ConcreteEven: one shard shape shared by all devices.
//   - ShardingParam: shards derived from a distributed.ShardingParam.
//   - Tiled: shards derived from a tiling.Spec (an XLA HloSharding-like tile assignment).
//
// Shardings are immutable and shared by pointer. Operations that "change" a sharding, like
// WithDeviceAssignment, return a new one.
//
// Errors due to invalid arguments (e.g.: shape and sharding with different ranks) are returned.
// Violated preconditions on construction (e.g.: the number of shard shapes of a Concrete sharding
// not matching the number of addressable devices) panic.
package sharding

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/sharding/pkg/core/devices"
	"github.com/gomlx/sharding/pkg/core/distributed"
	"github.com/gomlx/sharding/pkg/core/index"
	"github.com/gomlx/sharding/pkg/core/shapes"
	"github.com/gomlx/sharding/pkg/core/tiling"
	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"
)

// Kind of Sharding.
type Kind int

const (
	KindSingleDevice Kind = iota
	KindOpaque
	KindConcrete
	KindConcreteEven
	KindShardingParam
	KindTiled
)

var kindNames = []string{"SingleDeviceSharding", "OpaqueSharding", "ConcreteSharding", "ConcreteEvenSharding",
	"ShardingParamSharding", "TiledSharding"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("InvalidSharding(%d)", int(k))
	}
	return kindNames[k]
}

// SingleDeviceShardSemantics selects which devices' shards are returned by Disassemble and IndexDomains.
type SingleDeviceShardSemantics int

const (
	// AddressableShards only includes shards of devices addressable by the current process. It is the default.
	AddressableShards SingleDeviceShardSemantics = iota

	// AllShards includes the shards of all devices.
	AllShards
)

// String implements fmt.Stringer.
func (s SingleDeviceShardSemantics) String() string {
	if s == AllShards {
		return "AllShards"
	}
	return "AddressableShards"
}

// includes returns whether the shard of the device is selected.
func (s SingleDeviceShardSemantics) includes(device devices.Device) bool {
	return s == AllShards || device.IsAddressable()
}

var (
	// ErrUnknownPartitioning is returned (wrapped) by geometry queries on shardings that don't know their
	// partitioning.
	ErrUnknownPartitioning = errors.New("partitioning unknown")

	// ErrDynamicShapeUnsupported is returned (wrapped) when disassembling a dynamic shape with a sharding that
	// only supports static shapes, and vice versa.
	ErrDynamicShapeUnsupported = errors.New("unsupported dynamic shape")

	// ErrNoIndexDomains is returned (wrapped) by IndexDomains of shardings without index domain information.
	ErrNoIndexDomains = errors.New("no index domain information")
)

// Shard is one piece of a disassembled array: its shape and the single-device sharding holding it.
type Shard struct {
	Shape    shapes.Shape
	Sharding *Sharding
}

// DynamicShard is one piece of a disassembled dynamically shaped array.
type DynamicShard struct {
	Shape    shapes.DynamicShape
	Sharding *Sharding
}

// Sharding describes how an array is partitioned over a list of devices.
//
// It's a closed sum type: kind selects which one of the payloads is set.
type Sharding struct {
	kind              Kind
	devices           *devices.List
	memoryKind        devices.MemoryKind
	isFullyReplicated bool

	concrete     *concretePayload
	concreteEven *concreteEvenPayload
	param        *distributed.ShardingParam
	tiled        *tiledPayload
}

// newSharding returns the common part of a Sharding, with the memory kind canonicalized against the
// first device.
func newSharding(kind Kind, list *devices.List, memoryKind devices.MemoryKind, isFullyReplicated bool) *Sharding {
	if list == nil || list.Len() == 0 {
		exceptions.Panicf("%s requires at least one device", kind)
	}
	return &Sharding{
		kind:              kind,
		devices:           list,
		memoryKind:        devices.CanonicalizeMemoryKind(memoryKind, list.At(0)),
		isFullyReplicated: isFullyReplicated,
	}
}

// Kind of the sharding.
func (s *Sharding) Kind() Kind { return s.kind }

// Devices over which the array is partitioned.
func (s *Sharding) Devices() *devices.List { return s.devices }

// MemoryKind where the shards are stored. It is canonicalized: if the sharding was created with the unset
// kind, it is the default memory kind of the first device.
func (s *Sharding) MemoryKind() devices.MemoryKind { return s.memoryKind }

// IsFullyReplicated returns whether every device holds a complete copy of the array.
func (s *Sharding) IsFullyReplicated() bool { return s.isFullyReplicated }

// ShardShape returns the shape of each shard of an array of the given shape.
//
// It fails for shardings whose shards don't share one shape, or that don't know their partitioning.
func (s *Sharding) ShardShape(shape shapes.Shape) (shapes.Shape, error) {
	switch s.kind {
	case KindSingleDevice:
		return shape.Clone(), nil
	case KindOpaque:
		return shapes.Shape{}, s.unknownPartitioning("shard shape")
	case KindConcrete:
		return s.concreteShardShape(shape)
	case KindConcreteEven:
		return s.concreteEvenShardShape(shape)
	case KindShardingParam:
		return s.param.LocalShapeFromGlobalShape(shape)
	case KindTiled:
		return s.tiledShardShape(shape)
	}
	return shapes.Shape{}, s.invalidKind()
}

// HasSamePartitioning returns whether both shardings partition arrays the same way, regardless of the
// identity of their devices or their memory kind.
func (s *Sharding) HasSamePartitioning(other *Sharding) bool {
	if s == other {
		return true
	}
	if other == nil || s.kind != other.kind {
		return false
	}
	switch s.kind {
	case KindSingleDevice:
		return true
	case KindOpaque:
		return false
	case KindConcrete:
		return s.devices.Len() == other.devices.Len() && s.concrete.equal(other.concrete)
	case KindConcreteEven:
		return s.devices.Len() == other.devices.Len() && s.isFullyReplicated == other.isFullyReplicated &&
			s.concreteEven.equal(other.concreteEven)
	case KindShardingParam:
		return s.param.Equal(other.param)
	case KindTiled:
		return s.devices.Len() == other.devices.Len() && s.tiled.spec.Equal(other.tiled.spec)
	}
	return false
}

// WithDeviceAssignment returns a sharding with the same partitioning, but over the given devices and/or
// memory kind. A nil list or memory kind keeps the current one.
//
// It fails if the number of devices changes, since that would change the partitioning.
func (s *Sharding) WithDeviceAssignment(list *devices.List, memoryKind *devices.MemoryKind) (*Sharding, error) {
	if list == nil {
		list = s.devices
	} else if list.Len() != s.devices.Len() {
		if s.kind == KindSingleDevice {
			return nil, errors.Errorf("%s can only have one device, but was asked to have %d devices", s.kind, list.Len())
		}
		return nil, errors.Errorf("%s should have the same number of devices as the current sharding, but was asked to have %d devices",
			s.kind, list.Len())
	}
	kind := s.memoryKind
	if memoryKind != nil {
		kind = *memoryKind
	}
	switch s.kind {
	case KindSingleDevice:
		return NewSingleDevice(list.At(0), kind), nil
	case KindOpaque:
		return NewOpaque(list, kind), nil
	case KindConcrete:
		if numAddressable := list.AddressableDeviceList().Len(); numAddressable != s.concrete.numShards() {
			return nil, errors.Errorf("%s has %d shards, but the new devices have %d addressable devices: %s",
				s.kind, s.concrete.numShards(), numAddressable, list)
		}
		return &Sharding{
			kind:       KindConcrete,
			devices:    list,
			memoryKind: devices.CanonicalizeMemoryKind(kind, list.At(0)),
			concrete:   s.concrete,
		}, nil
	case KindConcreteEven:
		return NewConcreteEven(list, kind, s.concreteEven.shape, s.concreteEven.shardShape, s.isFullyReplicated), nil
	case KindShardingParam:
		return NewShardingParam(s.param, list, kind)
	case KindTiled:
		return NewTiled(list, kind, s.tiled.spec), nil
	}
	return nil, s.invalidKind()
}

// Disassemble returns the shape and single-device sharding of the shard of each selected device, in device
// order, for an array of the given shape.
func (s *Sharding) Disassemble(shape shapes.Shape, semantics SingleDeviceShardSemantics) ([]Shard, error) {
	switch s.kind {
	case KindSingleDevice:
		if !semantics.includes(s.devices.At(0)) {
			return nil, nil
		}
		return []Shard{{Shape: shape.Clone(), Sharding: s}}, nil
	case KindOpaque:
		return nil, s.unknownPartitioning("shard shape")
	case KindConcrete:
		return s.concreteDisassemble(shape, semantics)
	case KindConcreteEven:
		return s.concreteEvenDisassemble(shape, semantics)
	case KindShardingParam:
		return s.paramDisassemble(shape, semantics)
	case KindTiled:
		return s.tiledDisassemble(shape, semantics)
	}
	return nil, s.invalidKind()
}

// DisassembleDynamic is like Disassemble, but for a dynamically shaped array.
//
// Only SingleDevice and Concrete shardings created with NewConcreteDynamic support dynamic shapes.
func (s *Sharding) DisassembleDynamic(shape shapes.DynamicShape, semantics SingleDeviceShardSemantics) ([]DynamicShard, error) {
	switch s.kind {
	case KindSingleDevice:
		if !semantics.includes(s.devices.At(0)) {
			return nil, nil
		}
		return []DynamicShard{{Shape: shape, Sharding: s}}, nil
	case KindOpaque:
		return nil, s.unknownPartitioning("shard shape")
	case KindConcrete:
		return s.concreteDisassembleDynamic(shape, semantics)
	case KindConcreteEven, KindShardingParam, KindTiled:
		return nil, errors.Wrapf(ErrDynamicShapeUnsupported,
			"%s can only disassemble static shape, but was asked to disassemble dynamic shape %s", s.kind, shape)
	}
	return nil, s.invalidKind()
}

// IndexDomains returns the region of the array held by each selected device, in device order, for an array
// of the given shape.
func (s *Sharding) IndexDomains(shape shapes.Shape, semantics SingleDeviceShardSemantics) ([]index.Domain, error) {
	switch s.kind {
	case KindSingleDevice:
		if !semantics.includes(s.devices.At(0)) {
			return nil, nil
		}
		return []index.Domain{index.DomainOf(shape)}, nil
	case KindOpaque:
		return nil, s.unknownPartitioning("index domain")
	case KindConcrete:
		return s.concreteIndexDomains(shape, semantics)
	case KindConcreteEven:
		return nil, errors.Wrapf(ErrNoIndexDomains, "%s does not have index domain information", s.kind)
	case KindShardingParam:
		return s.paramIndexDomains(shape, semantics)
	case KindTiled:
		return s.tiledIndexDomains(shape, semantics)
	}
	return nil, s.invalidKind()
}

// Equal returns whether both shardings have the same partitioning, memory kind and devices.
func (s *Sharding) Equal(other *Sharding) bool {
	if s == other {
		return true
	}
	if other == nil {
		return false
	}
	return s.HasSamePartitioning(other) && s.memoryKind == other.memoryKind && s.devices.Equal(other.devices)
}

// Hash of the sharding, consistent with Equal. Like devices.List.Hash, it is only stable within the
// current process.
func (s *Sharding) Hash() uint64 {
	switch s.kind {
	case KindTiled:
		return s.tiledHash()
	case KindOpaque:
		// Opaque shardings are only equal to themselves.
		return murmur3.Sum64(s.hashPrefix())
	case KindConcrete:
		return murmur3.Sum64(s.concrete.appendHash(s.hashPrefix()))
	case KindConcreteEven:
		buf := s.concreteEven.appendHash(s.hashPrefix())
		return murmur3.Sum64(appendBool(buf, s.isFullyReplicated))
	case KindShardingParam:
		return murmur3.Sum64(append(s.hashPrefix(), s.param.String()...))
	default:
		return murmur3.Sum64(s.hashPrefix())
	}
}

// hashPrefix returns the encoding of the fields common to all kinds.
func (s *Sharding) hashPrefix() []byte {
	buf := binary.LittleEndian.AppendUint64(nil, uint64(s.kind))
	buf = binary.LittleEndian.AppendUint64(buf, s.devices.Hash())
	name, _ := s.memoryKind.Name()
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(name)))
	return append(buf, name...)
}

func appendShape(buf []byte, shape shapes.Shape) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(shape.Rank()))
	for _, dim := range shape.Dimensions {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(dim))
	}
	return buf
}

func appendDomain(buf []byte, domain index.Domain) []byte {
	for _, x := range domain.Origin().Elements() {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(x))
	}
	return appendShape(buf, domain.Shape())
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// String implements fmt.Stringer.
func (s *Sharding) String() string {
	switch s.kind {
	case KindSingleDevice:
		return fmt.Sprintf("SingleDeviceSharding(%s, memory_kind: %s)", s.devices.At(0), s.memoryKind)
	case KindConcrete:
		return fmt.Sprintf("ConcreteSharding(%s, devices: %s, memory_kind: %s)", s.concrete, s.devices, s.memoryKind)
	case KindConcreteEven:
		return fmt.Sprintf("ConcreteEvenSharding(shape: %s, shard_shape: %s, devices: %s, memory_kind: %s)",
			s.concreteEven.shape, s.concreteEven.shardShape, s.devices, s.memoryKind)
	case KindShardingParam:
		return fmt.Sprintf("ShardingParamSharding(%s, devices: %s, memory_kind: %s)", s.param, s.devices, s.memoryKind)
	case KindTiled:
		return fmt.Sprintf("TiledSharding(%s, devices: %s, memory_kind: %s)", s.tiled.spec, s.devices, s.memoryKind)
	default:
		return fmt.Sprintf("%s(devices: %s, memory_kind: %s)", s.kind, s.devices, s.memoryKind)
	}
}

func (s *Sharding) unknownPartitioning(what string) error {
	return errors.Wrapf(ErrUnknownPartitioning, "%s does not have %s information", s.kind, what)
}

func (s *Sharding) invalidKind() error {
	return errors.Errorf("invalid sharding kind %s", s.kind)
}

// tiledPayload is the payload of KindTiled.
type tiledPayload struct {
	spec *tiling.Spec

	// hash is computed on first use: 0 means not yet computed.
	hash atomic.Uint64
}
