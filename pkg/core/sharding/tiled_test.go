// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sharding_test

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/gomlx/sharding/pkg/core/devices"
	"github.com/gomlx/sharding/pkg/core/index"
	"github.com/gomlx/sharding/pkg/core/shapes"
	"github.com/gomlx/sharding/pkg/core/sharding"
	"github.com/gomlx/sharding/pkg/core/tiling"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTiled(t *testing.T) {
	devs := newDevices(t, 4, 4)
	list := devices.NewList(devs...)
	spec := must.M1(tiling.IotaTile(2, 2))
	s := sharding.NewTiled(list, devices.MemoryKind{}, spec)
	assert.False(t, s.IsFullyReplicated())
	assert.Same(t, spec, s.TilingSpec())
	assert.Nil(t, s.Param())
	assert.Equal(t, "TiledSharding({devices=[2,2]0,1,2,3}, devices: DeviceList([cpu:0, cpu:1, cpu:2, cpu:3]), memory_kind: device)",
		s.String())

	shape := shapes.Make(4, 6)
	assert.Equal(t, "[2,3]", must.M1(s.ShardShape(shape)).String())
	want := []index.Domain{
		domain([]int64{0, 0}, []int64{2, 3}),
		domain([]int64{0, 3}, []int64{2, 3}),
		domain([]int64{2, 0}, []int64{2, 3}),
		domain([]int64{2, 3}, []int64{2, 3}),
	}
	assert.Empty(t, domainsDiff(want, must.M1(s.IndexDomains(shape, sharding.AddressableShards))))
	assert.Empty(t, domainsDiff(want, must.M1(sharding.TiledIndexDomainsSlowPath(s, shape, sharding.AddressableShards))))
	shards := must.M1(s.Disassemble(shape, sharding.AddressableShards))
	assert.Equal(t, []string{"[2,3]", "[2,3]", "[2,3]", "[2,3]"}, shardShapes(shards))
	assert.Equal(t, devs, shardDevices(t, shards))
	shards[0].Shape.Dimensions[1] = 7
	assert.Equal(t, "[2,3]", shards[1].Shape.String())

	_, err := s.ShardShape(shapes.Make(4))
	require.ErrorContains(t, err, "numbers of dimensions don't match. From Shape 1 vs from TiledSharding 2")
	_, err = s.Disassemble(shapes.Make(4), sharding.AllShards)
	require.ErrorContains(t, err, "shape must have 2 dimensions, but has 1 dimensions")
	_, err = s.DisassembleDynamic(shapes.MakeDynamic(shape, shapes.NewBoundedDynamicTag(true, false)), sharding.AllShards)
	require.True(t, errors.Is(err, sharding.ErrDynamicShapeUnsupported))

	t.Run("Permuted devices", func(t *testing.T) {
		permuted := sharding.NewTiled(list, devices.MemoryKind{}, must.M1(tiling.Tile([]int64{2, 2}, []int{3, 2, 1, 0})))
		got := must.M1(permuted.IndexDomains(shape, sharding.AllShards))
		assert.Empty(t, domainsDiff([]index.Domain{want[3], want[2], want[1], want[0]}, got))
		assert.False(t, permuted.HasSamePartitioning(s))
	})

	t.Run("Uneven", func(t *testing.T) {
		uneven := sharding.NewTiled(list, devices.MemoryKind{}, must.M1(tiling.IotaTile(4)))
		shape := shapes.Make(5)
		assert.Equal(t, "[2]", must.M1(uneven.ShardShape(shape)).String())
		assert.Equal(t, []string{"[2]", "[2]", "[1]", "[0]"}, shardShapes(must.M1(uneven.Disassemble(shape, sharding.AllShards))))
		assert.Empty(t, domainsDiff([]index.Domain{
			domain([]int64{0}, []int64{2}),
			domain([]int64{2}, []int64{2}),
			domain([]int64{4}, []int64{1}),
			domain([]int64{5}, []int64{0}),
		}, must.M1(uneven.IndexDomains(shape, sharding.AllShards))))
	})

	t.Run("Partial replication", func(t *testing.T) {
		partial := sharding.NewTiled(list, devices.MemoryKind{}, must.M1(tiling.PartialTile([]int64{2, 2}, []int{0, 1, 2, 3})))
		shape := shapes.Make(6)
		assert.Equal(t, "[3]", must.M1(partial.ShardShape(shape)).String())
		assert.Empty(t, domainsDiff([]index.Domain{
			domain([]int64{0}, []int64{3}),
			domain([]int64{0}, []int64{3}),
			domain([]int64{3}, []int64{3}),
			domain([]int64{3}, []int64{3}),
		}, must.M1(partial.IndexDomains(shape, sharding.AllShards))))
	})

	t.Run("Manual subgroups", func(t *testing.T) {
		manual := sharding.NewTiled(list, devices.MemoryKind{},
			must.M1(tiling.Subgroup([]int64{2, 2}, []int{0, 1, 2, 3}, tiling.SubgroupManual)))
		shape := shapes.Make(6)
		got := must.M1(manual.IndexDomains(shape, sharding.AllShards))
		assert.Empty(t, domainsDiff(must.M1(sharding.TiledIndexDomainsSlowPath(manual, shape, sharding.AllShards)), got))
		assert.Equal(t, "[3]", got[1].Shape().String())
	})

	t.Run("Tile maximal and others", func(t *testing.T) {
		whole := index.DomainOf(shape)
		for _, spec := range []*tiling.Spec{tiling.Replicate(), tiling.Maximal(1), tiling.Unreduced(), tiling.Unknown()} {
			other := sharding.NewTiled(list, devices.MemoryKind{}, spec)
			assert.Equal(t, shape, must.M1(other.ShardShape(shape)), "%s", spec)
			assert.Equal(t, []string{"[4,6]", "[4,6]", "[4,6]", "[4,6]"},
				shardShapes(must.M1(other.Disassemble(shape, sharding.AllShards))), "%s", spec)
			assert.Empty(t, domainsDiff([]index.Domain{whole, whole, whole, whole},
				must.M1(other.IndexDomains(shape, sharding.AllShards))), "%s", spec)
		}
		assert.True(t, sharding.NewTiled(list, devices.MemoryKind{}, tiling.Replicate()).IsFullyReplicated())
		assert.False(t, sharding.NewTiled(list, devices.MemoryKind{}, tiling.Maximal(0)).IsFullyReplicated())
		single := devices.NewList(devs[0])
		assert.True(t, sharding.NewTiled(single, devices.MemoryKind{}, tiling.Maximal(0)).IsFullyReplicated())
		assert.True(t, sharding.NewTiled(single, devices.MemoryKind{}, must.M1(tiling.IotaTile(1, 1))).IsFullyReplicated())

		manual := sharding.NewTiled(list, devices.MemoryKind{}, tiling.Manual())
		assert.Equal(t, shape, must.M1(manual.ShardShape(shape)))
		assert.Len(t, must.M1(manual.Disassemble(shape, sharding.AllShards)), 4)
		_, err := manual.IndexDomains(shape, sharding.AllShards)
		require.ErrorContains(t, err, "manual sharding does not support IndexDomains")
	})

	t.Run("Device count mismatch", func(t *testing.T) {
		wrong := sharding.NewTiled(list, devices.MemoryKind{}, must.M1(tiling.IotaTile(2)))
		_, err := wrong.ShardShape(shapes.Make(4))
		require.ErrorContains(t, err, "sharding's tile count and device count does not match: 2 vs. 4")
		_, err = wrong.IndexDomains(shapes.Make(4), sharding.AllShards)
		require.ErrorContains(t, err, "sharding's tile_assignment_devices and device count does not match: 2 vs. 4")
		outOfRange := sharding.NewTiled(list, devices.MemoryKind{}, must.M1(tiling.Tile([]int64{4}, []int{0, 1, 2, 7})))
		_, err = outOfRange.IndexDomains(shapes.Make(4), sharding.AllShards)
		require.ErrorContains(t, err, "device index 7")
	})

	t.Run("WithDeviceAssignment", func(t *testing.T) {
		others := devices.NewList(newDevices(t, 4, 2)...)
		moved := must.M1(s.WithDeviceAssignment(others, nil))
		assert.True(t, moved.HasSamePartitioning(s))
		assert.Len(t, must.M1(moved.IndexDomains(shape, sharding.AddressableShards)), 2)
		_, err := s.WithDeviceAssignment(devices.NewList(devs[:2]...), nil)
		require.ErrorContains(t, err, "TiledSharding should have the same number of devices as the current sharding, but was asked to have 2 devices")
		pinned := devices.NewMemoryKind("pinned_host")
		repinned := must.M1(s.WithDeviceAssignment(nil, &pinned))
		assert.True(t, repinned.HasSamePartitioning(s))
		assert.False(t, repinned.Equal(s))
	})
}

func TestTiledHash(t *testing.T) {
	devs := newDevices(t, 8, 8)
	list := devices.NewList(devs...)
	newSharding := func() *sharding.Sharding {
		return sharding.NewTiled(list, devices.MemoryKind{}, must.M1(tiling.IotaTile(2, 4)))
	}
	s := newSharding()
	assert.True(t, s.Equal(newSharding()))
	assert.Equal(t, newSharding().Hash(), s.Hash())
	assert.NotEqual(t, s.Hash(), sharding.NewTiled(list, devices.MemoryKind{}, must.M1(tiling.IotaTile(4, 2))).Hash())

	// Concurrent first calls agree.
	fresh := newSharding()
	const numGoroutines = 16
	hashes := make([]uint64, numGoroutines)
	var wg sync.WaitGroup
	for i := range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hashes[i] = fresh.Hash()
		}()
	}
	wg.Wait()
	for _, h := range hashes {
		require.Equal(t, s.Hash(), h)
	}
}

// randomTiling returns a random tiled spec over numDevices devices (a random permutation), with an optional
// trailing replicated subgroup, and a random shape of matching rank.
func randomTiling(rng *rand.Rand) (spec *tiling.Spec, shape shapes.Shape, numDevices int) {
	rank := 1 + rng.IntN(3)
	tileDims := make([]int64, rank)
	dims := make([]int64, rank)
	numDevices = 1
	for axis := range rank {
		tileDims[axis] = int64(1 + rng.IntN(3))
		numDevices *= int(tileDims[axis])
		dims[axis] = int64(rng.IntN(12))
		if rng.IntN(2) == 0 {
			// Evenly divisible.
			dims[axis] = tileDims[axis] * int64(1+rng.IntN(4))
		}
	}
	deviceIndices := func() []int { return rng.Perm(numDevices) }
	if rng.IntN(2) == 0 {
		replicas := int64(1 + rng.IntN(3))
		numDevices *= int(replicas)
		spec = must.M1(tiling.PartialTile(append(tileDims, replicas), deviceIndices()))
	} else {
		spec = must.M1(tiling.Tile(tileDims, deviceIndices()))
	}
	return spec, shapes.Make(dims...), numDevices
}

// TestTiledFastAndSlowPaths checks that IndexDomains and TiledIndexDomainsSlowPath agree on random tilings,
// and that the shards cover the array.
func TestTiledFastAndSlowPaths(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 17))
	for range 300 {
		spec, shape, numDevices := randomTiling(rng)
		devs := newDevices(t, numDevices, 1+rng.IntN(numDevices))
		s := sharding.NewTiled(devices.NewList(devs...), devices.MemoryKind{}, spec)
		for _, semantics := range []sharding.SingleDeviceShardSemantics{sharding.AddressableShards, sharding.AllShards} {
			fast := must.M1(s.IndexDomains(shape, semantics))
			slow := must.M1(sharding.TiledIndexDomainsSlowPath(s, shape, semantics))
			require.Empty(t, domainsDiff(slow, fast), "%s on %s (%s)", spec, shape, semantics)
		}

		// One domain per device, and the distinct domains cover the whole array.
		all := must.M1(s.IndexDomains(shape, sharding.AllShards))
		require.Len(t, all, numDevices)
		distinct := make(map[string]index.Domain)
		for _, d := range all {
			distinct[d.String()] = d
		}
		var covered int64
		for _, d := range distinct {
			covered += d.Shape().NumElements()
		}
		require.Equal(t, shape.NumElements(), covered, "%s on %s", spec, shape)

		// Disassemble agrees with the index domains.
		shards := must.M1(s.Disassemble(shape, sharding.AllShards))
		require.Len(t, shards, numDevices)
		for i, shard := range shards {
			require.True(t, shard.Shape.Equal(all[i].Shape()), "%s on %s: device %d", spec, shape, i)
		}
	}
}
