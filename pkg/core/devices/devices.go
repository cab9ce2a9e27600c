// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package devices describes the accelerators a sharded array can be placed on: Device, ordered
// device lists (List) and memory kinds (MemoryKind).
//
// Devices are owned by a runtime. This package defines the Device interface such runtime must provide,
// and Registry, a simple in-memory implementation used by tools and tests.
package devices

import (
	"fmt"
	"slices"
	"sync"

	"github.com/pkg/errors"
)

// ID of a device, unique across all processes.
type ID int

// Device is an accelerator that can hold a shard of an array.
//
// Devices are compared by identity: two Device values are the same device iff they are the same
// object (interface equality).
type Device interface {
	// ID is globally unique across all processes.
	ID() ID

	// Kind of device, e.g.: "cpu", "cuda", "tpu".
	Kind() string

	// IsAddressable returns whether the current process can issue commands to this device.
	IsAddressable() bool

	// ProcessIndex of the process that owns this device.
	ProcessIndex() int

	// DefaultMemoryKind returns the kind of the default memory of the device.
	// It returns an error if the device has no memories.
	DefaultMemoryKind() (MemoryKind, error)

	// String returns a short description, e.g.: "cpu:0".
	String() string
}

// DeviceSpec describes a device to be registered in a Registry.
type DeviceSpec struct {
	ID           ID     `yaml:"id"`
	Kind         string `yaml:"kind"`
	ProcessIndex int    `yaml:"process_index"`

	// DefaultMemoryKind is the name of the device's default memory. If empty the device has no memories.
	DefaultMemoryKind string `yaml:"default_memory_kind"`
}

// Registry is an in-memory collection of devices, as seen from one process (given by its process index).
//
// A device is addressable if it belongs to the registry's process.
// It is safe for concurrent use.
type Registry struct {
	processIndex int

	mu      sync.RWMutex
	devices []*registeredDevice
	byID    map[ID]*registeredDevice
}

// NewRegistry creates an empty registry for the process with the given index.
func NewRegistry(processIndex int) *Registry {
	return &Registry{
		processIndex: processIndex,
		byID:         make(map[ID]*registeredDevice),
	}
}

// ProcessIndex of the process owning the registry.
func (r *Registry) ProcessIndex() int { return r.processIndex }

// Register a new device. It returns an error if the ID is already registered.
func (r *Registry) Register(spec DeviceSpec) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.byID[spec.ID]; found {
		return nil, errors.Errorf("device id %d already registered", spec.ID)
	}
	if spec.ProcessIndex < 0 {
		return nil, errors.Errorf("device id %d has invalid process index %d", spec.ID, spec.ProcessIndex)
	}
	d := &registeredDevice{spec: spec, addressable: spec.ProcessIndex == r.processIndex}
	if spec.DefaultMemoryKind != "" {
		d.defaultMemoryKind = NewMemoryKind(spec.DefaultMemoryKind)
	}
	r.devices = append(r.devices, d)
	r.byID[spec.ID] = d
	return d, nil
}

// Lookup a device by its ID.
func (r *Registry) Lookup(id ID) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, found := r.byID[id]
	if !found {
		return nil, errors.Errorf("device id %d not found", id)
	}
	return d, nil
}

// Devices returns all registered devices, in registration order.
func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	devs := make([]Device, len(r.devices))
	for i, d := range r.devices {
		devs[i] = d
	}
	return devs
}

// AddressableDevices returns the devices owned by the registry's process, in registration order.
func (r *Registry) AddressableDevices() []Device {
	return slices.DeleteFunc(r.Devices(), func(d Device) bool { return !d.IsAddressable() })
}

// registeredDevice implements Device.
type registeredDevice struct {
	spec              DeviceSpec
	addressable       bool
	defaultMemoryKind MemoryKind
}

func (d *registeredDevice) ID() ID              { return d.spec.ID }
func (d *registeredDevice) Kind() string        { return d.spec.Kind }
func (d *registeredDevice) IsAddressable() bool { return d.addressable }
func (d *registeredDevice) ProcessIndex() int   { return d.spec.ProcessIndex }
func (d *registeredDevice) String() string      { return fmt.Sprintf("%s:%d", d.spec.Kind, d.spec.ID) }

func (d *registeredDevice) DefaultMemoryKind() (MemoryKind, error) {
	if !d.defaultMemoryKind.IsSet() {
		return MemoryKind{}, errors.Errorf("device %s has no default memory", d)
	}
	return d.defaultMemoryKind, nil
}
