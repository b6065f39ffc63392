package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketDevices = []byte("devices")
	bucketGroups  = []byte("groups")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDevices, bucketGroups} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// groupKey zero-pads the id so ForEach walks groups in id order.
func groupKey(id int) []byte {
	return []byte(fmt.Sprintf("%010d", id))
}

func (s *BoltStore) SaveDevice(dev *Device) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		data, err := json.Marshal(dev)
		if err != nil {
			return err
		}
		return b.Put([]byte(dev.Address), data)
	})
}

func (s *BoltStore) GetDevice(addr string) (*Device, error) {
	var dev Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		data := b.Get([]byte(addr))
		if data == nil {
			return fmt.Errorf("device %s: %w", addr, ErrNotFound)
		}
		return json.Unmarshal(data, &dev)
	})
	if err != nil {
		return nil, err
	}
	return &dev, nil
}

func (s *BoltStore) DeleteDevice(addr string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		return b.Delete([]byte(addr))
	})
}

func (s *BoltStore) ListDevices() ([]*Device, error) {
	var devices []*Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return nil // no bucket = no devices
		}
		devices = make([]*Device, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var dev Device
			if err := json.Unmarshal(v, &dev); err != nil {
				return err
			}
			devices = append(devices, &dev)
			return nil
		})
	})
	return devices, err
}

func (s *BoltStore) UpdateDevice(addr string, fn func(dev *Device) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketDevices)
		}
		data := b.Get([]byte(addr))
		if data == nil {
			return fmt.Errorf("device %s: %w", addr, ErrNotFound)
		}
		var dev Device
		if err := json.Unmarshal(data, &dev); err != nil {
			return err
		}
		if err := fn(&dev); err != nil {
			return err
		}
		// The key is the identity; fn may not move the record.
		dev.Address = addr
		out, err := json.Marshal(&dev)
		if err != nil {
			return err
		}
		return b.Put([]byte(addr), out)
	})
}

func (s *BoltStore) SaveGroup(g *Group) error {
	if g.NetworkID < 0 {
		return fmt.Errorf("save group %q: network id %d is not persistent", g.NetworkName, g.NetworkID)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketGroups)
		}
		// Use internal storage struct to persist the passphrase.
		data, err := json.Marshal(g.toStorage())
		if err != nil {
			return err
		}
		return b.Put(groupKey(g.NetworkID), data)
	})
}

func (s *BoltStore) GetGroup(networkID int) (*Group, error) {
	var g *Group
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketGroups)
		}
		data := b.Get(groupKey(networkID))
		if data == nil {
			return fmt.Errorf("group %d: %w", networkID, ErrNotFound)
		}
		var st groupStorage
		if err := json.Unmarshal(data, &st); err != nil {
			return err
		}
		g = st.toGroup()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *BoltStore) DeleteGroup(networkID int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketGroups)
		}
		return b.Delete(groupKey(networkID))
	})
}

func (s *BoltStore) ListGroups() ([]*Group, error) {
	var groups []*Group
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketGroups)
		if b == nil {
			return nil
		}
		groups = make([]*Group, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var st groupStorage
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			groups = append(groups, st.toGroup())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].SavedAt.Before(groups[j].SavedAt)
	})
	return groups, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
