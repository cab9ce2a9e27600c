// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tiling implements Spec, a description of how an array is partitioned into tiles over a
// list of devices, modeled after XLA's HloSharding.
//
// A Spec refers to devices by their index in the device list it is used with, never by device ID.
//
// The kinds of Spec are:
//
//   - Replicated: every device holds the whole array.
//   - Maximal: one device holds the whole array.
//   - Manual: the partitioning is managed by the user, each device holds an array of the full shape.
//   - Unreduced: every device holds a partial value of the full shape, to be reduced.
//   - Unknown: the partitioning is not known.
//   - Tiled: the array is split in tiles. The tile assignment is an array of device indices: its first
//     TiledDataRank() axes match the axes of the data array, and the trailing "subgroup" axes enumerate
//     devices holding the same tile (e.g.: replicas).
package tiling

import (
	"slices"

	"github.com/gomlx/sharding/pkg/support/sets"
	"github.com/gomlx/sharding/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Kind of tiling Spec.
type Kind int

const (
	KindReplicated Kind = iota
	KindMaximal
	KindManual
	KindUnreduced
	KindUnknown
	KindTiled
)

var kindNames = []string{"replicated", "maximal", "manual", "unreduced", "unknown", "tiled"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "invalid"
	}
	return kindNames[k]
}

// SubgroupType describes what the devices along a trailing axis of the tile assignment of a tiled
// Spec hold.
type SubgroupType int

const (
	// SubgroupReplicated devices hold replicas of the same tile.
	SubgroupReplicated SubgroupType = iota

	// SubgroupManual devices hold manually partitioned data.
	SubgroupManual

	// SubgroupUnreduced devices hold partial values of the same tile.
	SubgroupUnreduced
)

var subgroupTypeNames = []string{"replicated", "manual", "unreduced"}

// String implements fmt.Stringer.
func (t SubgroupType) String() string {
	if t < 0 || int(t) >= len(subgroupTypeNames) {
		return "invalid"
	}
	return subgroupTypeNames[t]
}

// Spec is an immutable description of how an array is partitioned over a list of devices.
// Create it with one of Replicate, Maximal, Manual, Unreduced, Unknown, Tile, IotaTile, PartialTile,
// Subgroup or Parse.
type Spec struct {
	kind Kind

	// maximalDevice is the device index holding the data, for KindMaximal.
	maximalDevice int

	// dims of the tile assignment, and the device indices in row-major order, for KindTiled.
	dims    []int64
	devices []int

	// subgroupTypes of the trailing axes of the tile assignment.
	subgroupTypes []SubgroupType
}

// Replicate returns a Spec where all devices hold the whole array.
func Replicate() *Spec { return &Spec{kind: KindReplicated} }

// Maximal returns a Spec where only the given device (by index) holds the array.
func Maximal(device int) *Spec { return &Spec{kind: KindMaximal, maximalDevice: device} }

// Manual returns a Spec for manually partitioned data.
func Manual() *Spec { return &Spec{kind: KindManual} }

// Unreduced returns a Spec for unreduced data: each device holds a partial value of the whole array.
func Unreduced() *Spec { return &Spec{kind: KindUnreduced} }

// Unknown returns a Spec with unknown partitioning.
func Unknown() *Spec { return &Spec{kind: KindUnknown} }

// Tile returns a tiled Spec: the tile assignment has the given dims (one per array axis), and devices
// lists the device index of each tile in row-major order.
func Tile(dims []int64, devices []int) (*Spec, error) {
	return Subgroup(dims, devices)
}

// IotaTile returns a tiled Spec with devices 0, 1, 2, ... assigned to the tiles in row-major order.
func IotaTile(dims ...int64) (*Spec, error) {
	return Tile(dims, xslices.Iota(0, int(xslices.Product(dims))))
}

// PartialTile returns a tiled Spec whose last tile assignment axis enumerates replicas of each tile.
func PartialTile(dims []int64, devices []int) (*Spec, error) {
	return Subgroup(dims, devices, SubgroupReplicated)
}

// Subgroup returns a tiled Spec whose trailing len(subgroupTypes) tile assignment axes are subgroups
// of the given types.
func Subgroup(dims []int64, devices []int, subgroupTypes ...SubgroupType) (*Spec, error) {
	if len(dims) == 0 {
		return nil, errors.New("tile assignment must have at least one axis")
	}
	if len(subgroupTypes) > len(dims) {
		return nil, errors.Errorf("tile assignment dims %v can't have %d subgroups", dims, len(subgroupTypes))
	}
	for axis, dim := range dims {
		if dim <= 0 {
			return nil, errors.Errorf("tile assignment dims %v: axis %d has invalid dimension %d", dims, axis, dim)
		}
	}
	if numTiles := xslices.Product(dims); numTiles != int64(len(devices)) {
		return nil, errors.Errorf("tile assignment dims %v require %d devices, got %d", dims, numTiles, len(devices))
	}
	seen := sets.Make[int](len(devices))
	for _, device := range devices {
		if device < 0 {
			return nil, errors.Errorf("tile assignment has invalid device index %d", device)
		}
		if !seen.InsertNew(device) {
			return nil, errors.Errorf("tile assignment has device index %d more than once", device)
		}
	}
	for _, t := range subgroupTypes {
		if t < SubgroupReplicated || t > SubgroupUnreduced {
			return nil, errors.Errorf("invalid subgroup type %d", t)
		}
	}
	return &Spec{
		kind:          KindTiled,
		dims:          slices.Clone(dims),
		devices:       slices.Clone(devices),
		subgroupTypes: slices.Clone(subgroupTypes),
	}, nil
}

// Kind of the Spec.
func (s *Spec) Kind() Kind { return s.kind }

// IsReplicated returns whether all devices hold the whole array.
func (s *Spec) IsReplicated() bool { return s.kind == KindReplicated }

// IsTileMaximal returns whether the array is not split: it's either replicated or held by one device.
func (s *Spec) IsTileMaximal() bool { return s.kind == KindReplicated || s.kind == KindMaximal }

// IsManual returns whether the partitioning is manual.
func (s *Spec) IsManual() bool { return s.kind == KindManual }

// IsUnreduced returns whether the Spec is for unreduced data.
func (s *Spec) IsUnreduced() bool { return s.kind == KindUnreduced }

// IsUnknown returns whether the partitioning is unknown.
func (s *Spec) IsUnknown() bool { return s.kind == KindUnknown }

// IsTiled returns whether the array is split into tiles.
func (s *Spec) IsTiled() bool { return s.kind == KindTiled }

// MaximalDevice returns the index of the device holding the array, for a maximal Spec.
func (s *Spec) MaximalDevice() int { return s.maximalDevice }

// TotalNumTiles returns the number of elements of the tile assignment (subgroups included) for a tiled
// Spec, and 1 otherwise.
func (s *Spec) TotalNumTiles() int {
	if s.kind != KindTiled {
		return 1
	}
	return len(s.devices)
}

// TiledDataRank returns the number of tile assignment axes that match array axes. It's 0 for non-tiled Specs.
func (s *Spec) TiledDataRank() int {
	if s.kind != KindTiled {
		return 0
	}
	return len(s.dims) - len(s.subgroupTypes)
}

// TileAssignmentDims returns a copy of the dims of the tile assignment, subgroups included.
func (s *Spec) TileAssignmentDims() []int64 { return slices.Clone(s.dims) }

// TileAssignmentDevices returns a copy of the device indices of the tile assignment, in row-major order.
func (s *Spec) TileAssignmentDevices() []int { return slices.Clone(s.devices) }

// TileDim returns the number of tiles along the given tile assignment axis.
func (s *Spec) TileDim(axis int) int64 { return s.dims[axis] }

// SubgroupTypes returns a copy of the types of the trailing subgroup axes.
func (s *Spec) SubgroupTypes() []SubgroupType { return slices.Clone(s.subgroupTypes) }

// HasOnlyReplicatedSubgroups returns whether all subgroups (if any) are replicas.
func (s *Spec) HasOnlyReplicatedSubgroups() bool {
	for _, t := range s.subgroupTypes {
		if t != SubgroupReplicated {
			return false
		}
	}
	return true
}

// Equal returns whether both Specs describe the same partitioning.
func (s *Spec) Equal(other *Spec) bool {
	if s == other {
		return true
	}
	if other == nil || s.kind != other.kind {
		return false
	}
	switch s.kind {
	case KindMaximal:
		return s.maximalDevice == other.maximalDevice
	case KindTiled:
		return slices.Equal(s.dims, other.dims) && slices.Equal(s.devices, other.devices) &&
			slices.Equal(s.subgroupTypes, other.subgroupTypes)
	default:
		return true
	}
}
