// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sharding

import (
	"sync"

	"github.com/gomlx/sharding/pkg/core/devices"
	"github.com/gomlx/sharding/pkg/core/index"
	"github.com/gomlx/sharding/pkg/core/shapes"
	"github.com/gomlx/sharding/pkg/core/tiling"
	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"
	"k8s.io/klog/v2"
)

// slowPathWarningThreshold is the number of devices above which using the slow path is logged.
const slowPathWarningThreshold = 8

var slowPathWarningOnce sync.Once

// NewTiled returns a sharding laid out by a tiling.Spec. The spec refers to devices by their position in list.
//
// It is fully replicated if the spec is replicated, or if it is tile-maximal (replicated or maximal) over
// a single device.
func NewTiled(list *devices.List, memoryKind devices.MemoryKind, spec *tiling.Spec) *Sharding {
	isFullyReplicated := spec.IsReplicated() || ((spec.IsTiled() || spec.IsTileMaximal()) && list.Len() == 1)
	s := newSharding(KindTiled, list, memoryKind, isFullyReplicated)
	s.tiled = &tiledPayload{spec: spec}
	return s
}

// TilingSpec returns the tiling.Spec of a KindTiled sharding, or nil for other kinds.
func (s *Sharding) TilingSpec() *tiling.Spec {
	if s.tiled == nil {
		return nil
	}
	return s.tiled.spec
}

func (s *Sharding) tiledShardShape(shape shapes.Shape) (shapes.Shape, error) {
	spec := s.tiled.spec
	if spec.IsTileMaximal() || spec.IsManual() || spec.IsUnreduced() || spec.IsUnknown() {
		return shape, nil
	}
	if spec.TotalNumTiles() != s.devices.Len() {
		return shapes.Shape{}, errors.Errorf("sharding's tile count and device count does not match: %d vs. %d; shape=%s, sharding=%s",
			spec.TotalNumTiles(), s.devices.Len(), shape, s)
	}
	if shape.Rank() != spec.TiledDataRank() {
		return shapes.Shape{}, errors.Errorf("numbers of dimensions don't match. From Shape %d vs from TiledSharding %d",
			shape.Rank(), spec.TiledDataRank())
	}
	tileDims, err := spec.TileShape(shape.Dimensions)
	if err != nil {
		return shapes.Shape{}, err
	}
	return shapes.Make(tileDims...), nil
}

// isEven returns whether all shards of an array with the given shape have the same shape.
func (s *Sharding) isEven(shape shapes.Shape) (bool, error) {
	spec := s.tiled.spec
	switch {
	case spec.IsTileMaximal() || spec.IsUnreduced() || spec.IsManual():
		return true, nil
	case spec.IsTiled():
		if shape.Rank() != spec.TiledDataRank() {
			return false, errors.Errorf("shape must have %d dimensions, but has %d dimensions: shape=%s, sharding=%s",
				spec.TiledDataRank(), shape.Rank(), shape, s)
		}
		for axis, dim := range shape.Dimensions {
			if dim%spec.TileDim(axis) != 0 {
				return false, nil
			}
		}
		return true, nil
	}
	return false, nil
}

func (s *Sharding) tiledDisassemble(shape shapes.Shape, semantics SingleDeviceShardSemantics) ([]Shard, error) {
	even, err := s.isEven(shape)
	if err != nil {
		return nil, err
	}
	var shards []Shard
	if even {
		shardShape, err := s.tiledShardShape(shape)
		if err != nil {
			return nil, err
		}
		for _, device := range s.devices.Devices() {
			if semantics.includes(device) {
				shards = append(shards, Shard{Shape: shardShape.Clone(), Sharding: NewSingleDevice(device, s.memoryKind)})
			}
		}
		return shards, nil
	}

	// Uneven: each shard takes the shape of its index domain.
	domains, err := s.tiledIndexDomains(shape, semantics)
	if err != nil {
		return nil, err
	}
	shards = make([]Shard, 0, len(domains))
	for _, device := range s.devices.Devices() {
		if semantics.includes(device) {
			shards = append(shards, Shard{Shape: domains[len(shards)].Shape(), Sharding: NewSingleDevice(device, s.memoryKind)})
		}
	}
	return shards, nil
}

func (s *Sharding) tiledIndexDomains(shape shapes.Shape, semantics SingleDeviceShardSemantics) ([]index.Domain, error) {
	spec := s.tiled.spec
	numDevices := s.devices.Len()
	if spec.IsManual() {
		return nil, errors.Errorf("manual sharding does not support IndexDomains: %s", s)
	}
	if spec.IsReplicated() || spec.IsTileMaximal() {
		whole := index.DomainOf(shape)
		var domains []index.Domain
		for _, device := range s.devices.Devices() {
			if semantics.includes(device) {
				domains = append(domains, whole)
			}
		}
		return domains, nil
	}
	if !spec.IsTiled() || !spec.HasOnlyReplicatedSubgroups() {
		return TiledIndexDomainsSlowPath(s, shape, semantics)
	}
	if spec.TotalNumTiles() != numDevices {
		return nil, errors.Errorf("sharding's tile_assignment_devices and device count does not match: %d vs. %d; shape=%s, sharding=%s",
			spec.TotalNumTiles(), numDevices, shape, s)
	}
	if shape.Rank() != spec.TiledDataRank() {
		return nil, errors.Errorf("numbers of dimensions don't match. From Shape %d vs from TiledSharding %d",
			shape.Rank(), spec.TiledDataRank())
	}
	klog.V(2).Infof("IndexDomains(%s) of %s: fast path", shape, s)

	all := make([]index.Domain, numDevices)
	var eachErr error
	err := spec.EachTile(shape.Dimensions, func(device int, offsets, limits []int64) {
		if device >= numDevices {
			eachErr = errors.Errorf("tiling refers to device index %d, but there are only %d devices: %s", device, numDevices, s)
			return
		}
		all[device] = tileDomain(offsets, limits)
	})
	if err != nil {
		return nil, err
	}
	if eachErr != nil {
		return nil, eachErr
	}
	domains := make([]index.Domain, 0, numDevices)
	for i, device := range s.devices.Devices() {
		if semantics.includes(device) {
			domains = append(domains, all[i])
		}
	}
	return domains, nil
}

// tileDomain converts the offsets and limits of a tile to an index.Domain.
func tileDomain(offsets, limits []int64) index.Domain {
	dims := make([]int64, len(offsets))
	for axis := range offsets {
		dims[axis] = limits[axis] - offsets[axis]
	}
	return index.NewDomain(index.Make(offsets...), shapes.Make(dims...))
}

// TiledIndexDomainsSlowPath computes the IndexDomains of a KindTiled sharding by querying the tile of each
// device independently, which takes O(N²) for N devices.
//
// IndexDomains uses it for tilings with non-replicated subgroups, and it can be used to check the results of
// IndexDomains.
func TiledIndexDomainsSlowPath(s *Sharding, shape shapes.Shape, semantics SingleDeviceShardSemantics) ([]index.Domain, error) {
	if s.kind != KindTiled {
		return nil, errors.Errorf("TiledIndexDomainsSlowPath requires a TiledSharding, got %s", s)
	}
	spec := s.tiled.spec
	if s.devices.Len() > slowPathWarningThreshold {
		slowPathWarningOnce.Do(func() {
			klog.Warningf("Taking a slow path for TiledSharding.IndexDomains(). This will not scale for a large number of devices.")
		})
	}
	klog.V(2).Infof("IndexDomains(%s) of %s: slow path", shape, s)
	var domains []index.Domain
	for i, device := range s.devices.Devices() {
		if !semantics.includes(device) {
			continue
		}
		offsets, err := spec.TileOffsetForDevice(shape.Dimensions, i)
		if err != nil {
			return nil, errors.WithMessagef(err, "slow path IndexDomains of %s", s)
		}
		limits, err := spec.TileLimitForDevice(shape.Dimensions, i)
		if err != nil {
			return nil, errors.WithMessagef(err, "slow path IndexDomains of %s", s)
		}
		domains = append(domains, tileDomain(offsets, limits))
	}
	return domains, nil
}

// tiledHash is computed once and cached. Concurrent first calls may compute it more than once, but always
// store the same value.
func (s *Sharding) tiledHash() uint64 {
	if h := s.tiled.hash.Load(); h != 0 {
		return h
	}
	buf := s.hashPrefix()
	buf = append(buf, s.tiled.spec.String()...)
	h := murmur3.Sum64(buf)
	if h == 0 {
		h = 1
	}
	s.tiled.hash.Store(h)
	return h
}
