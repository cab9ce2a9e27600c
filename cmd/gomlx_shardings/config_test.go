package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/sharding/pkg/core/sharding"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	cfg := must.M1(ParseConfig([]byte(`
process_index: 1
shape: [8, 16]
memory_kind: pinned_host
devices:
  - {id: 0, process_index: 0, kind: cpu, default_memory_kind: device}
  - {id: 1, process_index: 1, kind: cpu, default_memory_kind: device}
mesh:
  axes: [{name: x, size: 2}]
  spec: [[x], []]
`)))
	assert.Equal(t, 1, cfg.ProcessIndex)
	assert.Equal(t, []int64{8, 16}, cfg.Shape)
	assert.Len(t, cfg.Devices, 2)
	assert.Equal(t, 1, cfg.NumProcesses)
	require.NotNil(t, cfg.Mesh)
	assert.Equal(t, [][]string{{"x"}, {}}, cfg.Mesh.Spec)

	setup := must.M1(cfg.Build())
	assert.Equal(t, sharding.KindShardingParam, setup.Sharding.Kind())
	assert.Equal(t, "pinned_host", setup.Sharding.MemoryKind().String())
	rows := must.M1(shardRows(setup.Sharding, setup.Shape, sharding.AddressableShards))
	require.Len(t, rows, 1)
	assert.Equal(t, "cpu:1", rows[0].Device)
	assert.Equal(t, "[4,0]", rows[0].Origin)
	assert.Equal(t, "[4,16]", rows[0].Shape.String())

	_, err := ParseConfig([]byte("unknown_field: 1"))
	require.Error(t, err)
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		wantShapes []string
		wantErr    string
	}{
		{"param", Config{Shape: []int64{4, 6}, NumDevices: 4, NumProcesses: 1, ShardingParam: "2x2 to [0,1] on 2x2"},
			[]string{"[2,3]", "[2,3]", "[2,3]", "[2,3]"}, ""},
		{"uneven tiling", Config{Shape: []int64{5}, NumDevices: 4, NumProcesses: 2, Tiling: "{devices=[4]0,1,2,3}"},
			[]string{"[2]", "[2]"}, ""},
		{"no devices", Config{Shape: []int64{4}, Tiling: "{replicated}"}, nil, "no devices configured"},
		{"uneven processes", Config{Shape: []int64{4}, NumDevices: 3, NumProcesses: 2, Tiling: "{replicated}"}, nil,
			"can't be evenly split"},
		{"no sharding", Config{Shape: []int64{4}, NumDevices: 2, NumProcesses: 1}, nil, "exactly one of"},
		{"two shardings", Config{Shape: []int64{4}, NumDevices: 2, NumProcesses: 1, Tiling: "{replicated}", ShardingParam: "2 to [0] on 2"},
			nil, "exactly one of"},
		{"negative dim", Config{Shape: []int64{-1}, NumDevices: 2, NumProcesses: 1, Tiling: "{replicated}"}, nil, "negative dimension"},
		{"bad param", Config{Shape: []int64{4}, NumDevices: 2, NumProcesses: 1, ShardingParam: "4 to [0] on 3"}, nil,
			"can't shard the dims 4"},
		{"bad mesh", Config{Shape: []int64{4}, NumDevices: 2, NumProcesses: 1, Mesh: &MeshConfig{
			Axes: []MeshAxisConfig{{Name: "x", Size: 2}}, Spec: [][]string{{"y"}}}}, nil, `unknown mesh axis "y"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup, err := tt.cfg.Build()
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			rows := must.M1(shardRows(setup.Sharding, setup.Shape, sharding.AddressableShards))
			got := make([]string, len(rows))
			for i, row := range rows {
				got[i] = row.Shape.String()
			}
			assert.Equal(t, tt.wantShapes, got)
		})
	}
}

func TestReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
shape: [10]
num_devices: 4
tiling: "{devices=[4]3,2,1,0}"
`), 0o644))
	cfg := must.M1(LoadConfig(path))
	setup := must.M1(cfg.Build())
	var buf bytes.Buffer
	require.NoError(t, report(&buf, setup, sharding.AllShards))
	out := buf.String()
	assert.Contains(t, out, "{devices=[4]3,2,1,0}")
	assert.Contains(t, out, "cpu:3")
	assert.Contains(t, out, "Shards (AllShards)")

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "not found")
}

func TestReportMesh(t *testing.T) {
	cfg := must.M1(ParseConfig([]byte(`
shape: [8, 16]
num_devices: 4
mesh:
  name: grid
  axes: [{name: batch, size: 2}, {name: data, size: 2}]
  spec: [[batch], []]
`)))
	setup := must.M1(cfg.Build())
	require.NotNil(t, setup.Spec)
	assert.Equal(t, "grid", setup.Spec.Mesh.Name())
	assert.Equal(t, "[8,16]", setup.Spec.LogicalShapeForShard(must.M1(setup.Sharding.ShardShape(setup.Shape))).String())

	var buf bytes.Buffer
	require.NoError(t, report(&buf, setup, sharding.AddressableShards))
	out := buf.String()
	assert.Contains(t, out, `Mesh "grid"`)
	assert.Contains(t, out, "[[0 2] [1 3]]")
	assert.Contains(t, out, "[[0 1] [2 3]]")
	assert.Contains(t, out, "logical shape")
	assert.Contains(t, out, "ShardingSpec{mesh=grid, axes=[S(batch), R]}")

	// Shardings not built from a mesh have no mesh section.
	setup = must.M1((&Config{Shape: []int64{4}, NumDevices: 2, NumProcesses: 1, Tiling: "{replicated}"}).Build())
	assert.Nil(t, setup.Spec)
	buf.Reset()
	require.NoError(t, report(&buf, setup, sharding.AddressableShards))
	assert.NotContains(t, buf.String(), "Mesh")
}
