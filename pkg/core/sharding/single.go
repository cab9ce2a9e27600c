// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sharding

import "github.com/gomlx/sharding/pkg/core/devices"

// NewSingleDevice returns a sharding where the whole array is on the given device.
func NewSingleDevice(device devices.Device, memoryKind devices.MemoryKind) *Sharding {
	return newSharding(KindSingleDevice, devices.NewList(device), memoryKind, true)
}

// NewOpaque returns a sharding over the given devices with an unknown partitioning.
//
// It only serves to record where an array is placed: its geometry queries all fail with
// ErrUnknownPartitioning.
func NewOpaque(list *devices.List, memoryKind devices.MemoryKind) *Sharding {
	return newSharding(KindOpaque, list, memoryKind, false)
}
