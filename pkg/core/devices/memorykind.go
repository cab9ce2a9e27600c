// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devices

import "github.com/gomlx/sharding/pkg/support/xsync"

// MemoryKind names a kind of memory of a device (e.g.: "device", "pinned_host").
//
// It is a small handle into a process-wide intern table, so equal names always yield equal
// MemoryKind values, and they can be compared with ==.
//
// The zero value is the unset kind: it means "the default memory of the device", see
// CanonicalizeMemoryKind.
type MemoryKind struct {
	name *string
}

// memoryKindsTable interns memory kind names. It only grows.
var memoryKindsTable xsync.SyncMap[string, *string]

// NewMemoryKind returns the interned MemoryKind for name. An empty name returns the unset kind.
func NewMemoryKind(name string) MemoryKind {
	if name == "" {
		return MemoryKind{}
	}
	if interned, found := memoryKindsTable.Load(name); found {
		return MemoryKind{name: interned}
	}
	interned, _ := memoryKindsTable.LoadOrStore(name, &name)
	return MemoryKind{name: interned}
}

// IsSet returns false for the unset (default) memory kind.
func (k MemoryKind) IsSet() bool { return k.name != nil }

// Name returns the memory kind name, and whether it is set.
func (k MemoryKind) Name() (string, bool) {
	if k.name == nil {
		return "", false
	}
	return *k.name, true
}

// String implements fmt.Stringer. The unset kind is printed as "(default)".
func (k MemoryKind) String() string {
	if k.name == nil {
		return "(default)"
	}
	return *k.name
}

// CanonicalizeMemoryKind returns kind if it is set. Otherwise, it returns the default memory kind of
// the device, or the unset kind if the device has no default memory.
func CanonicalizeMemoryKind(kind MemoryKind, device Device) MemoryKind {
	if kind.IsSet() {
		return kind
	}
	defaultKind, err := device.DefaultMemoryKind()
	if err != nil {
		return MemoryKind{}
	}
	return defaultKind
}
