// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tiling

import (
	"slices"

	"github.com/gomlx/sharding/pkg/core/shapes"
	"github.com/pkg/errors"
)

// ceilDiv returns ⌈a/b⌉ for a >= 0 and b > 0.
func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// tileExtent returns the offset and limit along one axis of dimension dim split in numTiles tiles,
// for the tile at position idx.
//
// Tiles have ⌈dim/numTiles⌉ elements, the trailing ones may be smaller or empty.
func tileExtent(dim, numTiles, idx int64) (offset, limit int64) {
	tileSize := ceilDiv(dim, numTiles)
	offset = min(idx*tileSize, dim)
	limit = min(offset+tileSize, dim)
	return
}

// checkDataRank returns an error if the Spec is not tiled or if dims doesn't match its data rank.
func (s *Spec) checkDataRank(dims []int64) error {
	if s.kind != KindTiled {
		return errors.Errorf("tiling %s is not tiled", s)
	}
	if len(dims) != s.TiledDataRank() {
		return errors.Errorf("shape %v has rank %d, but tiling %s has data rank %d", dims, len(dims), s, s.TiledDataRank())
	}
	return nil
}

// TileShape returns the shape of the largest tile of an array with the given dims: each axis is
// split in ⌈dim/tiles⌉ elements.
func (s *Spec) TileShape(dims []int64) ([]int64, error) {
	if err := s.checkDataRank(dims); err != nil {
		return nil, err
	}
	tileDims := make([]int64, len(dims))
	for axis, dim := range dims {
		tileDims[axis] = ceilDiv(dim, s.dims[axis])
	}
	return tileDims, nil
}

// tilePosition returns the position in the tile assignment of the given device index.
func (s *Spec) tilePosition(device int) ([]int64, error) {
	flat := slices.Index(s.devices, device)
	if flat < 0 {
		return nil, errors.Errorf("device index %d is not part of the tile assignment of %s", device, s)
	}
	position := make([]int64, len(s.dims))
	for axis := len(s.dims) - 1; axis >= 0; axis-- {
		position[axis] = int64(flat) % s.dims[axis]
		flat /= int(s.dims[axis])
	}
	return position, nil
}

// TileOffsetForDevice returns the offset of the tile held by the device with the given index,
// in an array of the given dims.
//
// For non-tiled Specs (other than manual) it is the origin. It searches the tile assignment linearly,
// so use EachTile to enumerate all tiles.
func (s *Spec) TileOffsetForDevice(dims []int64, device int) ([]int64, error) {
	offsets, _, err := s.tileBoundsForDevice(dims, device)
	return offsets, err
}

// TileLimitForDevice returns the limit (exclusive) of the tile held by the device with the given index,
// in an array of the given dims.
//
// For non-tiled Specs (other than manual) it is dims itself.
func (s *Spec) TileLimitForDevice(dims []int64, device int) ([]int64, error) {
	_, limits, err := s.tileBoundsForDevice(dims, device)
	return limits, err
}

func (s *Spec) tileBoundsForDevice(dims []int64, device int) (offsets, limits []int64, err error) {
	switch s.kind {
	case KindManual:
		return nil, nil, errors.Errorf("tiling %s has no tile bounds", s)
	case KindTiled:
	default:
		return make([]int64, len(dims)), slices.Clone(dims), nil
	}
	if err = s.checkDataRank(dims); err != nil {
		return nil, nil, err
	}
	position, err := s.tilePosition(device)
	if err != nil {
		return nil, nil, err
	}
	offsets = make([]int64, len(dims))
	limits = make([]int64, len(dims))
	for axis, dim := range dims {
		offsets[axis], limits[axis] = tileExtent(dim, s.dims[axis], position[axis])
	}
	return offsets, limits, nil
}

// EachTile calls fn for each element of the tile assignment of a tiled Spec, in row-major order,
// with the device index and the offsets and limits of its tile in an array of the given dims.
//
// Devices on the same subgroup get the same tile. The offsets and limits slices are owned by EachTile
// and only valid during the call to fn: clone them if they need to be kept.
func (s *Spec) EachTile(dims []int64, fn func(device int, offsets, limits []int64)) error {
	if err := s.checkDataRank(dims); err != nil {
		return err
	}
	dataRank := len(dims)
	offsets := make([]int64, dataRank)
	limits := make([]int64, dataRank)
	for flat, position := range shapes.Make(s.dims...).Iter() {
		for axis := range dataRank {
			offsets[axis], limits[axis] = tileExtent(dims[axis], s.dims[axis], position[axis])
		}
		fn(s.devices[flat], offsets, limits)
	}
	return nil
}
