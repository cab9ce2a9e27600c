package distributed_test

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/gomlx/sharding/pkg/core/distributed"
	"github.com/gomlx/sharding/pkg/core/shapes"
	"github.com/gomlx/sharding/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinorToMajor(t *testing.T) {
	t.Run("ToDeviceList", func(t *testing.T) {
		tests := []struct {
			name string
			m    distributed.MinorToMajor
			want []int
		}{
			{"axis 1 minor", distributed.MinorToMajor{Permutation: []int{1, 0}, AxisSizes: []int{3, 2}}, []int{0, 3, 1, 4, 2, 5}},
			{"axis 0 minor", distributed.MinorToMajor{Permutation: []int{0, 1}, AxisSizes: []int{3, 2}}, []int{0, 1, 2, 3, 4, 5}},
			{"2x2 transposed", distributed.MinorToMajor{Permutation: []int{1, 0}, AxisSizes: []int{2, 2}}, []int{0, 2, 1, 3}},
			{"1D", distributed.MinorToMajor{Permutation: []int{0}, AxisSizes: []int{4}}, []int{0, 1, 2, 3}},
			{"3D", distributed.MinorToMajor{Permutation: []int{2, 0, 1}, AxisSizes: []int{2, 2, 2}}, []int{0, 4, 1, 5, 2, 6, 3, 7}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				require.NoError(t, tt.m.Verify())
				assert.Equal(t, tt.want, tt.m.ToDeviceList())
				assert.Equal(t, len(tt.want), tt.m.NumDevices())
			})
		}
		assert.Nil(t, distributed.MinorToMajor{}.ToDeviceList())
	})

	t.Run("Verify", func(t *testing.T) {
		tests := []struct {
			name    string
			m       distributed.MinorToMajor
			wantErr string
		}{
			{"empty", distributed.MinorToMajor{}, "same non-zero size"},
			{"size mismatch", distributed.MinorToMajor{Permutation: []int{0}, AxisSizes: []int{2, 2}}, "same non-zero size"},
			{"duplicates", distributed.MinorToMajor{Permutation: []int{0, 0}, AxisSizes: []int{2, 2}}, "permutation [0,0] has duplicate values"},
			{"out of range", distributed.MinorToMajor{Permutation: []int{0, 2}, AxisSizes: []int{2, 2}}, "out of range axis 2 to the mesh of [0,2] on 2x2"},
			{"invalid axis size", distributed.MinorToMajor{Permutation: []int{0, 1}, AxisSizes: []int{2, 0}}, "invalid size 0"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				require.ErrorContains(t, tt.m.Verify(), tt.wantErr)
			})
		}
	})
}

func TestShardingParam(t *testing.T) {
	p := distributed.NewShardingParam([]int64{2, 1, 3}, distributed.MinorToMajor{Permutation: []int{1, 0}, AxisSizes: []int{3, 2}})
	require.NoError(t, p.Verify())
	assert.Equal(t, "2x1x3 to [1,0] on 3x2", p.String())
	assert.Equal(t, 6, p.NumDevices())
	assert.Equal(t, int64(6), p.NumShards())
	assert.Equal(t, 1, p.ReplicationFactor())
	assert.Equal(t, 3, p.Rank())

	t.Run("Shapes", func(t *testing.T) {
		local := must.M1(p.LocalShapeFromGlobalShape(shapes.Make(100, 100, 60)))
		assert.Equal(t, "[50,100,20]", local.String())
		global := must.M1(p.GlobalShapeFromLocalShape(local))
		assert.Equal(t, "[100,100,60]", global.String())

		_, err := p.LocalShapeFromGlobalShape(shapes.Make(100, 100, 61))
		require.ErrorContains(t, err,
			"global shape is not divisible by the number of shards in dimension 2. Global shape: [100,100,61], number of shards: 3.")
		_, err = p.LocalShapeFromGlobalShape(shapes.Make(100, 100))
		require.ErrorContains(t, err, "numbers of dimensions don't match")
		_, err = p.GlobalShapeFromLocalShape(shapes.Make(100))
		require.Error(t, err)
	})

	t.Run("CanApplyTo", func(t *testing.T) {
		require.NoError(t, p.CanApplyTo(shapes.Make(4, 4, 6), 6))
		require.ErrorContains(t, p.CanApplyTo(shapes.Make(4, 6), 6), "same rank as the array")
		require.ErrorContains(t, p.CanApplyTo(shapes.Make(4, 4, 6), 4), "same amount of devices")
	})

	t.Run("TileCoordinates", func(t *testing.T) {
		// Linearized devices are [0,3,1,4,2,5], and the i-th one holds tile i.
		assert.Equal(t, [][]int64{
			{0, 0, 0}, // device 0: tile 0
			{0, 0, 2}, // device 1: tile 2
			{1, 0, 1}, // device 2: tile 4
			{0, 0, 1}, // device 3: tile 1
			{1, 0, 0}, // device 4: tile 3
			{1, 0, 2}, // device 5: tile 5
		}, p.TileCoordinates())

		replicated := must.M1(distributed.ParseShardingParam("2x1 to [0,1] on 2x3"))
		require.NoError(t, replicated.Verify())
		assert.Equal(t, 3, replicated.ReplicationFactor())
		// Devices are linearized as 0..5: the first 3 hold tile 0.
		assert.Equal(t, [][]int64{{0, 0}, {0, 0}, {0, 0}, {1, 0}, {1, 0}, {1, 0}}, replicated.TileCoordinates())
	})

	t.Run("Verify", func(t *testing.T) {
		tests := []struct {
			text    string
			wantErr string
		}{
			{"2x2 to [0] on 2", "can't shard the dims 2x2 to the mesh of [0] on 2"},
			{"3 to [0,1] on 2x2", "can't shard the dims 3 to the mesh of [0,1] on 2x2"},
			{"2 to [0,0] on 2x2", "duplicate"},
			{"0x2 to [0] on 2", "invalid number of shards 0"},
		}
		for _, tt := range tests {
			t.Run(tt.text, func(t *testing.T) {
				param := must.M1(distributed.ParseShardingParam(tt.text))
				require.ErrorContains(t, param.Verify(), tt.wantErr)
			})
		}
		for _, text := range []string{"1x1 to [0] on 4", "4 to [1,0] on 2x2", "2x2 to [0,1] on 2x2", " to [0] on 3"} {
			require.NoError(t, must.M1(distributed.ParseShardingParam(text)).Verify(), text)
		}
	})

	t.Run("Parse", func(t *testing.T) {
		for _, text := range []string{"2x1x3 to [1,0] on 3x2", "4 to [0] on 4", " to [0] on 2", "1x8 to [2,1,0] on 2x2x2"} {
			param, err := distributed.ParseShardingParam(text)
			require.NoError(t, err, text)
			assert.Equal(t, text, param.String())
		}
		param := must.M1(distributed.ParseShardingParam("  2x3 to [ 1, 0 ] on 3x2 "))
		assert.True(t, param.Equal(distributed.NewShardingParam([]int64{2, 3},
			distributed.MinorToMajor{Permutation: []int{1, 0}, AxisSizes: []int{3, 2}})))
		assert.False(t, param.Equal(p))

		for _, text := range []string{"", "2x3", "2x3 to [1,0]", "2x3 to 1,0 on 3x2", "2xa to [0] on 2", "2 to [a] on 2", "2 to [0] on b"} {
			_, err := distributed.ParseShardingParam(text)
			require.Error(t, err, text)
		}
	})

	t.Run("Immutable", func(t *testing.T) {
		dims := p.DimShards()
		dims[0] = 7
		m2m := p.MinorToMajor()
		m2m.Permutation[0] = 7
		assert.Equal(t, "2x1x3 to [1,0] on 3x2", p.String())
	})
}

// randomShardingParam returns a random, valid, ShardingParam.
func randomShardingParam(rng *rand.Rand) *distributed.ShardingParam {
	for {
		meshRank := 1 + rng.IntN(3)
		axisSizes := make([]int, meshRank)
		for i := range axisSizes {
			axisSizes[i] = 1 + rng.IntN(4)
		}
		permutation := xslices.Iota(0, meshRank)
		rng.Shuffle(meshRank, func(i, j int) { permutation[i], permutation[j] = permutation[j], permutation[i] })
		rank := rng.IntN(4)
		dimShards := make([]int64, rank)
		for i := range dimShards {
			dimShards[i] = int64(1 + rng.IntN(4))
		}
		p := distributed.NewShardingParam(dimShards, distributed.MinorToMajor{Permutation: permutation, AxisSizes: axisSizes})
		if p.Verify() == nil {
			return p
		}
	}
}

func TestShardingParamProperties(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	for range 200 {
		p := randomShardingParam(rng)
		numDevices := p.NumDevices()

		// The linearized mesh is a permutation of the device ids.
		list := p.ToDeviceList()
		require.Len(t, list, numDevices, "%s", p)
		sorted := slices.Clone(list)
		slices.Sort(sorted)
		require.Equal(t, xslices.Iota(0, numDevices), sorted, "%s", p)

		// Each tile is held by exactly ReplicationFactor() devices.
		require.Zero(t, int64(numDevices)%p.NumShards(), "%s", p)
		counts := make(map[string]int)
		for _, coords := range p.TileCoordinates() {
			require.Len(t, coords, p.Rank())
			for axis, c := range coords {
				require.Less(t, c, p.DimShards()[axis])
			}
			counts[xslices.Join(coords, ",")]++
		}
		require.Len(t, counts, int(p.NumShards()), "%s", p)
		for _, count := range counts {
			require.Equal(t, p.ReplicationFactor(), count, "%s", p)
		}

		// Local and global shapes are inverse.
		local := make([]int64, p.Rank())
		for i := range local {
			local[i] = int64(1 + rng.IntN(5))
		}
		global := must.M1(p.GlobalShapeFromLocalShape(shapes.Make(local...)))
		require.Equal(t, local, must.M1(p.LocalShapeFromGlobalShape(global)).Dimensions, "%s", p)

		// Text form round trip.
		require.True(t, must.M1(distributed.ParseShardingParam(p.String())).Equal(p), "%s", p)
	}
}
