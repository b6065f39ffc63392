package p2p

import (
	"bytes"
	"fmt"
	"sort"
)

// Registry holds the known peers keyed by address. It is not safe for
// concurrent use.
type Registry struct {
	devices map[MacAddress]*Device
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[MacAddress]*Device)}
}

// Observe records a sighting. An unknown address is inserted as given; a
// known one is merged with fill-forward semantics and takes the new status.
func (r *Registry) Observe(d Device) error {
	if d.Address.IsZero() {
		return fmt.Errorf("observe: zero address: %w", ErrInvalidArgument)
	}
	if cur, ok := r.devices[d.Address]; ok {
		mergeDetails(cur, &d)
		cur.Status = d.Status
		return nil
	}
	c := d.Clone()
	r.devices[d.Address] = &c
	return nil
}

// Update merges d into the existing entry with the same address and takes
// its status. Unlike Observe it never inserts.
func (r *Registry) Update(d Device) error {
	cur, ok := r.devices[d.Address]
	if !ok {
		return fmt.Errorf("update %s: %w", d.Address, ErrInvalidArgument)
	}
	mergeDetails(cur, &d)
	cur.Status = d.Status
	return nil
}

// UpdateSupplicantDetails merges the advertised details of d into the
// existing entry but keeps its status.
func (r *Registry) UpdateSupplicantDetails(d Device) error {
	cur, ok := r.devices[d.Address]
	if !ok {
		return fmt.Errorf("update details %s: %w", d.Address, ErrInvalidArgument)
	}
	mergeDetails(cur, &d)
	return nil
}

func (r *Registry) UpdateStatus(addr MacAddress, s Status) error {
	cur, ok := r.devices[addr]
	if !ok {
		return fmt.Errorf("update status %s: %w", addr, ErrInvalidArgument)
	}
	cur.Status = s
	return nil
}

// mergeDetails copies the non-empty fields of src into dst. The three
// capability bitmasks are one block: if any is set, all three are taken.
func mergeDetails(dst, src *Device) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.PrimaryType != "" {
		dst.PrimaryType = src.PrimaryType
	}
	if src.SecondaryType != "" {
		dst.SecondaryType = src.SecondaryType
	}
	if src.hasCapabilities() {
		dst.WPSConfigMethods = src.WPSConfigMethods
		dst.DeviceCapability = src.DeviceCapability
		dst.GroupCapability = src.GroupCapability
	}
	if src.WFD != nil && src.WFD.Raw != "" {
		w := *src.WFD
		dst.WFD = &w
	}
}

func (r *Registry) Get(addr MacAddress) (Device, bool) {
	d, ok := r.devices[addr]
	if !ok {
		return Device{}, false
	}
	return d.Clone(), true
}

func (r *Registry) Remove(addr MacAddress) bool {
	if _, ok := r.devices[addr]; !ok {
		return false
	}
	delete(r.devices, addr)
	return true
}

// Clear drops every entry and reports whether there were any.
func (r *Registry) Clear() bool {
	n := len(r.devices)
	clear(r.devices)
	return n > 0
}

// List returns copies of all devices sorted by address.
func (r *Registry) List() []Device {
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}

func (r *Registry) Len() int { return len(r.devices) }

// IsGroupOwner reports whether the known device at addr advertised the group
// owner capability.
func (r *Registry) IsGroupOwner(addr MacAddress) bool {
	d, ok := r.devices[addr]
	return ok && d.IsGroupOwner()
}
