package store

import "errors"

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Peer operations, keyed by canonical MAC address.
	SaveDevice(dev *Device) error
	GetDevice(addr string) (*Device, error)
	DeleteDevice(addr string) error
	ListDevices() ([]*Device, error)

	// UpdateDevice atomically reads, modifies, and saves a device in a single
	// transaction. Returns ErrNotFound if the device does not exist.
	UpdateDevice(addr string, fn func(dev *Device) error) error

	// Persistent groups, keyed by supplicant network id.
	SaveGroup(g *Group) error
	GetGroup(networkID int) (*Group, error)
	DeleteGroup(networkID int) error
	// ListGroups returns groups oldest SavedAt first.
	ListGroups() ([]*Group, error)

	// Close the store
	Close() error
}
