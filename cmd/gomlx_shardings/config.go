package main

import (
	"bytes"
	"os"

	"github.com/gomlx/sharding/pkg/core/devices"
	"github.com/gomlx/sharding/pkg/core/distributed"
	"github.com/gomlx/sharding/pkg/core/shapes"
	"github.com/gomlx/sharding/pkg/core/sharding"
	"github.com/gomlx/sharding/pkg/core/tiling"
	"github.com/gomlx/sharding/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config describes the devices and the sharding to inspect. Exactly one of ShardingParam, Tiling or Mesh
// must be set.
type Config struct {
	ProcessIndex int     `yaml:"process_index"`
	Shape        []int64 `yaml:"shape"`
	MemoryKind   string  `yaml:"memory_kind"`

	// Devices to register. If empty, NumDevices "cpu" devices are created, evenly split over NumProcesses.
	Devices      []devices.DeviceSpec `yaml:"devices"`
	NumDevices   int                  `yaml:"num_devices"`
	NumProcesses int                  `yaml:"num_processes"`

	ShardingParam string      `yaml:"sharding_param"`
	Tiling        string      `yaml:"tiling"`
	Mesh          *MeshConfig `yaml:"mesh"`
}

// MeshConfig describes a named-axes sharding over a device mesh.
type MeshConfig struct {
	Name string           `yaml:"name"`
	Axes []MeshAxisConfig `yaml:"axes"`

	// Spec lists, for each array axis, the mesh axes it is sharded over. An empty list means replicated.
	Spec [][]string `yaml:"spec"`

	// DeviceAssignment optionally maps mesh positions to devices (by their index in the list of devices).
	DeviceAssignment []int `yaml:"device_assignment"`
}

// MeshAxisConfig is one axis of a mesh.
type MeshAxisConfig struct {
	Name string `yaml:"name"`
	Size int    `yaml:"size"`
}

// Setup is the result of building a Config.
type Setup struct {
	Registry *devices.Registry
	Shape    shapes.Shape
	Sharding *sharding.Sharding

	// Spec is set when the sharding was built from a mesh.
	Spec *distributed.ShardingSpec
}

// NewConfig returns a Config with the default values.
func NewConfig() *Config {
	return &Config{NumProcesses: 1}
}

// LoadConfig reads a Config from a YAML file. A leading "~" in path is replaced by the home directory.
func LoadConfig(path string) (*Config, error) {
	path, err := fsutil.ExpandHome(path)
	if err != nil {
		return nil, err
	}
	exists, err := fsutil.FileExists(path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Errorf("config file %q not found", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %q", path)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "in config %q", path)
	}
	return cfg, nil
}

// ParseConfig parses a YAML Config. Unknown fields are an error.
func ParseConfig(data []byte) (*Config, error) {
	cfg := NewConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	return cfg, nil
}

// deviceSpecs returns the configured devices, or creates NumDevices devices.
func (c *Config) deviceSpecs() ([]devices.DeviceSpec, error) {
	if len(c.Devices) > 0 {
		return c.Devices, nil
	}
	if c.NumDevices <= 0 {
		return nil, errors.New("no devices configured: set devices or num_devices")
	}
	if c.NumProcesses <= 0 || c.NumDevices%c.NumProcesses != 0 {
		return nil, errors.Errorf("%d devices can't be evenly split over %d processes", c.NumDevices, c.NumProcesses)
	}
	devicesPerProcess := c.NumDevices / c.NumProcesses
	specs := make([]devices.DeviceSpec, c.NumDevices)
	for i := range specs {
		specs[i] = devices.DeviceSpec{
			ID:                devices.ID(i),
			Kind:              "cpu",
			ProcessIndex:      i / devicesPerProcess,
			DefaultMemoryKind: "device",
		}
	}
	return specs, nil
}

// Build registers the devices and creates the sharding.
func (c *Config) Build() (*Setup, error) {
	for axis, dim := range c.Shape {
		if dim < 0 {
			return nil, errors.Errorf("shape %v has negative dimension in axis %d", c.Shape, axis)
		}
	}
	specs, err := c.deviceSpecs()
	if err != nil {
		return nil, err
	}
	setup := &Setup{
		Registry: devices.NewRegistry(c.ProcessIndex),
		Shape:    shapes.Make(c.Shape...),
	}
	for _, spec := range specs {
		if _, err := setup.Registry.Register(spec); err != nil {
			return nil, err
		}
	}
	allDevices := setup.Registry.Devices()
	list := devices.NewList(allDevices...)
	memoryKind := devices.NewMemoryKind(c.MemoryKind)

	numSources := 0
	for _, set := range []bool{c.ShardingParam != "", c.Tiling != "", c.Mesh != nil} {
		if set {
			numSources++
		}
	}
	if numSources != 1 {
		return nil, errors.Errorf("exactly one of sharding_param, tiling or mesh must be configured, got %d", numSources)
	}

	switch {
	case c.ShardingParam != "":
		param, err := distributed.ParseShardingParam(c.ShardingParam)
		if err != nil {
			return nil, err
		}
		setup.Sharding, err = sharding.NewShardingParam(param, list, memoryKind)
		if err != nil {
			return nil, err
		}
	case c.Tiling != "":
		spec, err := tiling.Parse(c.Tiling)
		if err != nil {
			return nil, err
		}
		setup.Sharding = sharding.NewTiled(list, memoryKind, spec)
	default:
		setup.Spec, err = c.Mesh.shardingSpec()
		if err != nil {
			return nil, err
		}
		setup.Sharding, err = sharding.FromShardingSpec(setup.Spec, setup.Shape.Rank(), allDevices, memoryKind)
		if err != nil {
			return nil, err
		}
	}
	return setup, nil
}

func (m *MeshConfig) shardingSpec() (*distributed.ShardingSpec, error) {
	sizes := make([]int, len(m.Axes))
	names := make([]string, len(m.Axes))
	for i, axis := range m.Axes {
		sizes[i] = axis.Size
		names[i] = axis.Name
	}
	mesh, err := distributed.NewDeviceMesh(sizes, names)
	if err != nil {
		return nil, err
	}
	if m.Name != "" {
		mesh.SetName(m.Name)
	}
	if err := mesh.SetLogicalDeviceAssignment(m.DeviceAssignment...); err != nil {
		return nil, err
	}
	axisSpecs := make([]distributed.AxisSpec, len(m.Spec))
	for i, meshAxes := range m.Spec {
		axisSpecs[i] = meshAxes
	}
	return distributed.NewShardingSpec(mesh, axisSpecs...)
}
