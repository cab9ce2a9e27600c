package distributed

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/sharding/pkg/core/shapes"
	"github.com/gomlx/sharding/pkg/support/sets"
	"github.com/gomlx/sharding/pkg/support/xslices"
	"github.com/pkg/errors"
)

// MinorToMajor describes how the devices of a mesh are linearized.
//
// The mesh has len(AxisSizes) axes, and the device ids are numbered with axis 0 being the fastest changing
// (so the id of the device at mesh coordinates c is sum_i c[i]*prod(AxisSizes[:i])).
//
// Permutation lists the mesh axes from minor (fastest-changing) to major (slowest-changing) in the
// linearized order of the devices. See ToDeviceList.
type MinorToMajor struct {
	Permutation []int
	AxisSizes   []int
}

// Verify that the permutation and the axis sizes have the same non-zero length, and that the
// permutation has no repeated or out-of-range axes.
func (m MinorToMajor) Verify() error {
	if len(m.Permutation) != len(m.AxisSizes) || len(m.AxisSizes) == 0 {
		return errors.Errorf("expect same non-zero size for permutation and axis sizes, got %d vs %d",
			len(m.Permutation), len(m.AxisSizes))
	}
	seen := sets.Make[int](len(m.Permutation))
	for _, axis := range m.Permutation {
		if !seen.InsertNew(axis) {
			return errors.Errorf("permutation [%s] has duplicate values", xslices.Join(m.Permutation, ","))
		}
	}
	for _, axis := range m.Permutation {
		if axis < 0 || axis >= len(m.AxisSizes) {
			return errors.Errorf("out of range axis %d to the mesh of [%s] on %s",
				axis, xslices.Join(m.Permutation, ","), xslices.Join(m.AxisSizes, "x"))
		}
	}
	for axis, size := range m.AxisSizes {
		if size <= 0 {
			return errors.Errorf("mesh axis %d has invalid size %d (axis sizes %s)", axis, size, xslices.Join(m.AxisSizes, "x"))
		}
	}
	return nil
}

// NumDevices is the product of the axis sizes.
func (m MinorToMajor) NumDevices() int {
	return xslices.Product(m.AxisSizes)
}

// ToDeviceList linearizes the mesh: it returns the device ids in the order given by the permutation,
// the last axis of the permutation being the slowest changing.
//
// Example: AxisSizes=[3,2], Permutation=[1,0] yields [0,3,1,4,2,5].
//
// It expects m to be valid, see Verify. It returns nil for an empty permutation.
func (m MinorToMajor) ToDeviceList() []int {
	if len(m.Permutation) == 0 {
		return nil
	}
	cumSizes := make([]int, len(m.AxisSizes))
	cumSize := 1
	for axis, size := range m.AxisSizes {
		cumSizes[axis] = cumSize
		cumSize *= size
	}
	devices := make([]int, 0, cumSize)
	var populate func(permutation []int, base int)
	populate = func(permutation []int, base int) {
		expandingAxis := xslices.Last(permutation)
		stride := cumSizes[expandingAxis]
		for i := range m.AxisSizes[expandingAxis] {
			if len(permutation) == 1 {
				devices = append(devices, base+i*stride)
			} else {
				populate(permutation[:len(permutation)-1], base+i*stride)
			}
		}
	}
	populate(m.Permutation, 0)
	return devices
}

// Equal returns whether both permutation and axis sizes are the same.
func (m MinorToMajor) Equal(m2 MinorToMajor) bool {
	return slices.Equal(m.Permutation, m2.Permutation) && slices.Equal(m.AxisSizes, m2.AxisSizes)
}

// String implements fmt.Stringer.
func (m MinorToMajor) String() string {
	return fmt.Sprintf("permutation=[%s] axis_sizes=[%s]", xslices.Join(m.Permutation, ","), xslices.Join(m.AxisSizes, ","))
}

// ShardingParam describes how an array is cut into tiles, and how the tiles are laid out on a mesh
// of devices.
//
//   - dimShards: number of tiles along each axis of the array. Axes with 1 are not sharded.
//   - minorToMajor: the mesh of devices and how it is linearized.
//
// The i-th device of the linearized mesh (see MinorToMajor.ToDeviceList) holds tile number
// i / ReplicationFactor(), with tiles numbered in row-major order over dimShards. So when there are
// more devices than tiles, consecutive devices of the linearization hold replicas of the same tile.
//
// Its text form is "<dim shards> to [<permutation>] on <axis sizes>", e.g.: "2x1x3 to [1,0] on 3x2".
type ShardingParam struct {
	dimShards    []int64
	minorToMajor MinorToMajor
}

// NewShardingParam creates a ShardingParam. It doesn't validate it, see Verify.
func NewShardingParam(dimShards []int64, minorToMajor MinorToMajor) *ShardingParam {
	return &ShardingParam{
		dimShards: slices.Clone(dimShards),
		minorToMajor: MinorToMajor{
			Permutation: slices.Clone(minorToMajor.Permutation),
			AxisSizes:   slices.Clone(minorToMajor.AxisSizes),
		},
	}
}

// DimShards returns a copy of the number of tiles per array axis.
func (p *ShardingParam) DimShards() []int64 { return slices.Clone(p.dimShards) }

// MinorToMajor returns a copy of the mesh description.
func (p *ShardingParam) MinorToMajor() MinorToMajor {
	return MinorToMajor{
		Permutation: slices.Clone(p.minorToMajor.Permutation),
		AxisSizes:   slices.Clone(p.minorToMajor.AxisSizes),
	}
}

// Rank of the arrays this ShardingParam applies to.
func (p *ShardingParam) Rank() int { return len(p.dimShards) }

// Verify that the mesh is valid and that the tiles can be laid out on it.
//
// The check walks the mesh axes from minor to major, accumulating their sizes, and consumes the
// sharded array axes (in order) whose number of tiles divides the accumulated size.
// All sharded axes must be consumed.
func (p *ShardingParam) Verify() error {
	if err := p.minorToMajor.Verify(); err != nil {
		return err
	}
	for axis, shards := range p.dimShards {
		if shards <= 0 {
			return errors.Errorf("dim shards %s has invalid number of shards %d for axis %d",
				xslices.Join(p.dimShards, "x"), shards, axis)
		}
	}
	dimIdx := 0
	cumSize := int64(1)
	skipUnsharded := func() {
		for dimIdx < len(p.dimShards) && p.dimShards[dimIdx] == 1 {
			dimIdx++
		}
	}
	for _, meshAxis := range p.minorToMajor.Permutation {
		skipUnsharded()
		if dimIdx == len(p.dimShards) {
			break
		}
		cumSize *= int64(p.minorToMajor.AxisSizes[meshAxis])
		for dimIdx < len(p.dimShards) && cumSize%p.dimShards[dimIdx] == 0 {
			cumSize /= p.dimShards[dimIdx]
			dimIdx++
		}
	}
	skipUnsharded()
	if dimIdx != len(p.dimShards) {
		return errors.Errorf("can't shard the dims %s to the mesh of [%s] on %s",
			xslices.Join(p.dimShards, "x"), xslices.Join(p.minorToMajor.Permutation, ","),
			xslices.Join(p.minorToMajor.AxisSizes, "x"))
	}
	return nil
}

// CanApplyTo checks that p is valid, and that it can be applied to an array with the given shape
// placed on numDevices devices.
func (p *ShardingParam) CanApplyTo(shape shapes.Shape, numDevices int) error {
	if err := p.Verify(); err != nil {
		return err
	}
	if shape.Rank() != p.Rank() {
		return errors.Errorf("requires dim shards to have the same rank as the array, array rank is %d vs dim shards rank of %d",
			shape.Rank(), p.Rank())
	}
	if p.NumDevices() != numDevices {
		return errors.Errorf("requires the same amount of devices as in the sharding %s, got %d vs %d",
			p, numDevices, p.NumDevices())
	}
	return nil
}

// NumDevices is the number of devices of the mesh.
func (p *ShardingParam) NumDevices() int {
	return p.minorToMajor.NumDevices()
}

// NumShards is the number of distinct tiles, the product of the dim shards.
func (p *ShardingParam) NumShards() int64 {
	return xslices.Product(p.dimShards)
}

// ReplicationFactor is the number of devices holding each tile.
func (p *ShardingParam) ReplicationFactor() int {
	return p.NumDevices() / int(p.NumShards())
}

// ToDeviceList returns the linearized mesh, see MinorToMajor.ToDeviceList.
func (p *ShardingParam) ToDeviceList() []int {
	return p.minorToMajor.ToDeviceList()
}

// TileCoordinates returns for each device (indexed by its id in the mesh) the coordinates of the
// tile it holds, one per array axis.
func (p *ShardingParam) TileCoordinates() [][]int64 {
	linearized := p.ToDeviceList()
	replication := p.ReplicationFactor()
	strides := shapes.Make(p.dimShards...).Strides()
	coords := make([][]int64, len(linearized))
	for position, device := range linearized {
		tile := int64(position / replication)
		c := make([]int64, len(p.dimShards))
		for axis, stride := range strides {
			c[axis] = tile / stride
			tile %= stride
		}
		coords[device] = c
	}
	return coords
}

// LocalShapeFromGlobalShape returns the shape of each tile: each dimension of the global shape divided
// by its number of shards. It fails if the ranks differ or if some dimension is not divisible.
func (p *ShardingParam) LocalShapeFromGlobalShape(global shapes.Shape) (shapes.Shape, error) {
	if global.Rank() != p.Rank() {
		return shapes.Shape{}, errors.Errorf("numbers of dimensions don't match: from shape %d vs from sharding param %d",
			global.Rank(), p.Rank())
	}
	local := make([]int64, global.Rank())
	for axis, dim := range global.Dimensions {
		if dim%p.dimShards[axis] != 0 {
			return shapes.Shape{}, errors.Errorf(
				"global shape is not divisible by the number of shards in dimension %d. Global shape: %s, number of shards: %d.",
				axis, global, p.dimShards[axis])
		}
		local[axis] = dim / p.dimShards[axis]
	}
	return shapes.Make(local...), nil
}

// GlobalShapeFromLocalShape returns the shape of the whole array given the shape of one tile.
func (p *ShardingParam) GlobalShapeFromLocalShape(local shapes.Shape) (shapes.Shape, error) {
	if local.Rank() != p.Rank() {
		return shapes.Shape{}, errors.Errorf("rank of local shape %s differs from rank of dim shards %s",
			local, xslices.Join(p.dimShards, "x"))
	}
	global := make([]int64, local.Rank())
	for axis, dim := range local.Dimensions {
		global[axis] = dim * p.dimShards[axis]
	}
	return shapes.Make(global...), nil
}

// Equal returns whether both parameters are the same.
func (p *ShardingParam) Equal(p2 *ShardingParam) bool {
	return slices.Equal(p.dimShards, p2.dimShards) && p.minorToMajor.Equal(p2.minorToMajor)
}

// String implements fmt.Stringer. E.g.: "2x1x3 to [1,0] on 3x2".
func (p *ShardingParam) String() string {
	return fmt.Sprintf("%s to [%s] on %s", xslices.Join(p.dimShards, "x"),
		xslices.Join(p.minorToMajor.Permutation, ","), xslices.Join(p.minorToMajor.AxisSizes, "x"))
}

// ParseShardingParam parses the text form of a ShardingParam, as returned by ShardingParam.String.
// The result is not verified, see Verify.
func ParseShardingParam(text string) (*ShardingParam, error) {
	dimsText, rest, found := strings.Cut(" "+strings.TrimSpace(text), " to ")
	if !found {
		return nil, errors.Errorf("invalid sharding param %q: missing \"to\"", text)
	}
	permText, axesText, found := strings.Cut(rest, " on ")
	if !found {
		return nil, errors.Errorf("invalid sharding param %q: missing \"on\"", text)
	}
	dimShards, err := parseDims[int64](dimsText)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid dim shards in sharding param %q", text)
	}
	axisSizes, err := parseDims[int](axesText)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid axis sizes in sharding param %q", text)
	}
	permText = strings.TrimSpace(permText)
	if !strings.HasPrefix(permText, "[") || !strings.HasSuffix(permText, "]") {
		return nil, errors.Errorf("invalid sharding param %q: permutation must be enclosed in []", text)
	}
	var permutation []int
	for _, part := range strings.Split(permText[1:len(permText)-1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		axis, err := strconv.Atoi(part)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid permutation in sharding param %q", text)
		}
		permutation = append(permutation, axis)
	}
	return NewShardingParam(dimShards, MinorToMajor{Permutation: permutation, AxisSizes: axisSizes}), nil
}

// parseDims parses dimensions in the "AxBxC" format. An empty text yields no dimensions.
func parseDims[T int | int64](text string) ([]T, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	parts := strings.Split(text, "x")
	dims := make([]T, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %q", text)
		}
		dims[i] = T(v)
	}
	return dims, nil
}
