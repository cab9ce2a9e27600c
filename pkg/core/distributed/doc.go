// Package distributed defines the following objects related to how arrays are laid out across devices:
//
//   - DeviceMesh: expresses the topology of a set of devices, in terms of named axes and their sizes.
//   - ShardingSpec: defines how a logical tensor is sharded across a DeviceMesh, per tensor axis.
//   - ShardingParam: a compact description of a tiling of an array over a linearized mesh of devices,
//     with the device-to-tile assignment given by a minor-to-major permutation of the mesh axes.
package distributed
