// gomlx_shardings prints how an array is split over a list of devices by a sharding: the shape, position
// and device of each shard.
//
// The devices and sharding are given by a YAML file (-config) and/or flags. E.g.:
//
//	gomlx_shardings -shape=8,16 -num_devices=4 -param="2x2 to [0,1] on 2x2"
//	gomlx_shardings -shape=10 -num_devices=4 -num_processes=2 -tiling="{devices=[4]0,1,2,3}" -all_shards
package main

import (
	"flag"
	"os"
	"strconv"

	"github.com/gomlx/sharding/pkg/core/sharding"
	"github.com/gomlx/sharding/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "", "YAML file with the devices and the sharding to inspect. "+
		"Flags set explicitly override the values in the file.")
	flagShape = xslices.Flag("shape", nil, "Comma-separated dimensions of the array to shard, e.g. \"8,16\".",
		func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
	flagParam        = flag.String("param", "", "Sharding param, e.g. \"2x1 to [0] on 2\".")
	flagTiling       = flag.String("tiling", "", "Tiling in XLA's HloSharding text format, e.g. \"{devices=[2,1]0,1}\".")
	flagNumDevices   = flag.Int("num_devices", 0, "Number of devices to create, if the config doesn't list them.")
	flagNumProcesses = flag.Int("num_processes", 1, "Number of processes the created devices are evenly split over.")
	flagProcessIndex = flag.Int("process_index", 0, "Index of the current process: only its devices are addressable.")
	flagAllShards    = flag.Bool("all_shards", false, "Include the shards of non-addressable devices.")
	flagMemoryKind   = flag.String("memory_kind", "", "Memory kind of the shards. Defaults to the default memory of the first device.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if flag.NArg() > 0 {
		klog.Errorf("Unexpected arguments %q. See 'gomlx_shardings -help'.", flag.Args())
		os.Exit(1)
	}

	cfg := NewConfig()
	if *flagConfig != "" {
		cfg = must.M1(LoadConfig(*flagConfig))
	}
	applyFlags(cfg)
	setup, err := cfg.Build()
	if err != nil {
		klog.Exitf("Invalid configuration: %+v", err)
	}
	semantics := sharding.AddressableShards
	if *flagAllShards {
		semantics = sharding.AllShards
	}
	if err := report(os.Stdout, setup, semantics); err != nil {
		klog.Exitf("Failed to disassemble %s with %s: %+v", setup.Shape, setup.Sharding, err)
	}
}

// applyFlags overrides the configuration with the flags explicitly set.
func applyFlags(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "shape":
			cfg.Shape = *flagShape
		case "param":
			cfg.ShardingParam = *flagParam
		case "tiling":
			cfg.Tiling = *flagTiling
		case "num_devices":
			cfg.NumDevices = *flagNumDevices
		case "num_processes":
			cfg.NumProcesses = *flagNumProcesses
		case "process_index":
			cfg.ProcessIndex = *flagProcessIndex
		case "memory_kind":
			cfg.MemoryKind = *flagMemoryKind
		}
	})
}
