// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sharding

import (
	"github.com/gomlx/sharding/pkg/core/devices"
	"github.com/gomlx/sharding/pkg/core/distributed"
	"github.com/gomlx/sharding/pkg/core/index"
	"github.com/gomlx/sharding/pkg/core/shapes"
	"github.com/pkg/errors"
)

// NewShardingParam returns a sharding whose shards are laid out by param: the device at position i of list
// is the i-th device of the mesh of param.
//
// It fails if param is not valid, or if its mesh doesn't have as many devices as list.
func NewShardingParam(param *distributed.ShardingParam, list *devices.List, memoryKind devices.MemoryKind) (*Sharding, error) {
	if err := param.Verify(); err != nil {
		return nil, err
	}
	if list == nil || param.NumDevices() != list.Len() {
		numDevices := 0
		if list != nil {
			numDevices = list.Len()
		}
		return nil, errors.Errorf("device counts don't match: from ShardingParam %d vs from DeviceList %d",
			param.NumDevices(), numDevices)
	}
	s := newSharding(KindShardingParam, list, memoryKind, param.NumShards() == 1)
	s.param = param
	return s, nil
}

// FromShardingSpec returns a ShardingParam sharding equivalent to spec, for an array of the given rank.
//
// meshDevices are the devices the mesh of spec is built over: the mesh position p holds
// meshDevices[spec.Mesh.DeviceOrder()[p]].
func FromShardingSpec(spec *distributed.ShardingSpec, rank int, meshDevices []devices.Device,
	memoryKind devices.MemoryKind) (*Sharding, error) {
	if len(meshDevices) != spec.Mesh.NumDevices() {
		return nil, errors.Errorf("mesh %s has %d devices, but %d devices were given",
			spec.Mesh, spec.Mesh.NumDevices(), len(meshDevices))
	}
	param, err := spec.ToShardingParam(rank)
	if err != nil {
		return nil, err
	}
	order := spec.Mesh.DeviceOrder()
	ordered := make([]devices.Device, len(order))
	for position, deviceIdx := range order {
		ordered[position] = meshDevices[deviceIdx]
	}
	return NewShardingParam(param, devices.NewList(ordered...), memoryKind)
}

// Param returns the ShardingParam of a KindShardingParam sharding, or nil for other kinds.
func (s *Sharding) Param() *distributed.ShardingParam { return s.param }

func (s *Sharding) paramDisassemble(shape shapes.Shape, semantics SingleDeviceShardSemantics) ([]Shard, error) {
	localShape, err := s.param.LocalShapeFromGlobalShape(shape)
	if err != nil {
		return nil, err
	}
	var shards []Shard
	for _, device := range s.devices.Devices() {
		if semantics.includes(device) {
			shards = append(shards, Shard{Shape: localShape.Clone(), Sharding: NewSingleDevice(device, s.memoryKind)})
		}
	}
	return shards, nil
}

func (s *Sharding) paramIndexDomains(shape shapes.Shape, semantics SingleDeviceShardSemantics) ([]index.Domain, error) {
	localShape, err := s.param.LocalShapeFromGlobalShape(shape)
	if err != nil {
		return nil, err
	}
	tiles := s.param.TileCoordinates()
	var domains []index.Domain
	for position, device := range s.devices.Devices() {
		if semantics.includes(device) {
			origin := index.Make(tiles[position]...).Mul(localShape.Dimensions)
			domains = append(domains, index.NewDomain(origin, localShape))
		}
	}
	return domains, nil
}
