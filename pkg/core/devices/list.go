// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devices

import (
	"encoding/binary"
	"math/rand/v2"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/minio/highwayhash"
	"github.com/spaolacci/murmur3"
)

// List is an immutable ordered list of devices.
//
// Lists are shared by pointer. The zero value is not usable: create them with NewList.
type List struct {
	devices []Device

	// addressable caches the result of AddressableDeviceList. It may point back to the List itself.
	addressable atomic.Pointer[List]
}

// NewList returns a list with the given devices, in the given order.
func NewList(devices ...Device) *List {
	return &List{devices: slices.Clone(devices)}
}

// Len returns the number of devices.
func (l *List) Len() int { return len(l.devices) }

// At returns the i-th device.
func (l *List) At(i int) Device { return l.devices[i] }

// Devices returns a copy of the devices in the list.
func (l *List) Devices() []Device { return slices.Clone(l.devices) }

// IDs returns the IDs of the devices, in order.
func (l *List) IDs() []ID {
	ids := make([]ID, len(l.devices))
	for i, d := range l.devices {
		ids[i] = d.ID()
	}
	return ids
}

// AddressableDeviceList returns the sub-list of devices addressable by the current process, in
// their original order.
//
// If all devices are addressable it returns the list itself. The result is computed once, and
// repeated calls (even concurrent ones) return the same *List.
func (l *List) AddressableDeviceList() *List {
	if cached := l.addressable.Load(); cached != nil {
		return cached
	}
	computed := l
	if slices.ContainsFunc(l.devices, func(d Device) bool { return !d.IsAddressable() }) {
		computed = &List{devices: slices.DeleteFunc(slices.Clone(l.devices), func(d Device) bool {
			return !d.IsAddressable()
		})}
	}
	if l.addressable.CompareAndSwap(nil, computed) {
		return computed
	}
	return l.addressable.Load()
}

// IsFullyAddressable returns whether all devices of the list are addressable by the current process.
func (l *List) IsFullyAddressable() bool {
	return l.AddressableDeviceList() == l
}

// Equal returns whether both lists have the same devices, in the same order.
func (l *List) Equal(other *List) bool {
	if l == other {
		return true
	}
	if other == nil || l == nil {
		return false
	}
	return slices.Equal(l.devices, other.devices)
}

// processHashSeed makes List.Hash values differ across processes: they are only meant for
// in-process lookups.
var processHashSeed = rand.Uint32()

func (l *List) encodedIDs() []byte {
	buf := make([]byte, 0, 8*len(l.devices))
	for _, d := range l.devices {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(d.ID()))
	}
	return buf
}

// Hash of the device IDs. It is consistent with Equal, but only stable within the current process.
func (l *List) Hash() uint64 {
	return murmur3.Sum64WithSeed(l.encodedIDs(), processHashSeed)
}

// fingerprintKey is the fixed HighwayHash key used for fingerprints.
var fingerprintKey = func() []byte {
	key := make([]byte, 0, 32)
	for _, word := range []uint64{0x4ea9929a25d561c6, 0x98470d187b523e8f, 0x592040a2da3c4b53, 0xbff8b246e3c587a2} {
		key = binary.LittleEndian.AppendUint64(key, word)
	}
	return key
}()

// Fingerprint of the device IDs, stable across processes and program runs.
// Lists with the same IDs in the same order have the same fingerprint.
func (l *List) Fingerprint() uint64 {
	return highwayhash.Sum64(l.encodedIDs(), fingerprintKey)
}

// String implements fmt.Stringer. E.g.: "DeviceList([cpu:0, cpu:1])".
func (l *List) String() string {
	parts := make([]string, len(l.devices))
	for i, d := range l.devices {
		parts[i] = d.String()
	}
	return "DeviceList([" + strings.Join(parts, ", ") + "])"
}
