package store

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndGetDevice(t *testing.T) {
	s := newTestStore(t)

	dev := &Device{
		Address:          "FA:7B:7A:42:02:13",
		Name:             "p2p-TEST1",
		PrimaryType:      "1-0050F204-1",
		WPSConfigMethods: 0x188,
		DeviceCapability: 0x27,
		WFDInfo:          "00111c440032",
		FirstSeen:        time.Now().Truncate(time.Millisecond),
		LastSeen:         time.Now().Truncate(time.Millisecond),
	}

	if err := s.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDevice(dev.Address)
	if err != nil {
		t.Fatal(err)
	}

	if got.Address != dev.Address {
		t.Errorf("address = %q, want %q", got.Address, dev.Address)
	}
	if got.Name != dev.Name {
		t.Errorf("name = %q, want %q", got.Name, dev.Name)
	}
	if got.WPSConfigMethods != dev.WPSConfigMethods {
		t.Errorf("config methods = 0x%X, want 0x%X", got.WPSConfigMethods, dev.WPSConfigMethods)
	}
	if got.DeviceCapability != dev.DeviceCapability {
		t.Errorf("dev capab = 0x%X, want 0x%X", got.DeviceCapability, dev.DeviceCapability)
	}
	if got.WFDInfo != dev.WFDInfo {
		t.Errorf("wfd = %q, want %q", got.WFDInfo, dev.WFDInfo)
	}
	if !got.LastSeen.Equal(dev.LastSeen) {
		t.Errorf("last seen = %v, want %v", got.LastSeen, dev.LastSeen)
	}
}

func TestDeleteDevice(t *testing.T) {
	s := newTestStore(t)

	dev := &Device{Address: "FA:7B:7A:42:02:13"}
	if err := s.SaveDevice(dev); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteDevice(dev.Address); err != nil {
		t.Fatal(err)
	}

	_, err := s.GetDevice(dev.Address)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListDevices(t *testing.T) {
	s := newTestStore(t)

	devs := []*Device{
		{Address: "02:00:00:00:00:01"},
		{Address: "02:00:00:00:00:02"},
		{Address: "02:00:00:00:00:03"},
	}
	for _, d := range devs {
		if err := s.SaveDevice(d); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListDevices()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("list count = %d, want 3", len(list))
	}

	// Verify all devices present.
	found := make(map[string]bool)
	for _, d := range list {
		found[d.Address] = true
	}
	for _, d := range devs {
		if !found[d.Address] {
			t.Errorf("device %s not in list", d.Address)
		}
	}
}

func TestUpdateDevice(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveDevice(&Device{Address: "FA:7B:7A:42:02:13", Name: "tv"}); err != nil {
		t.Fatal(err)
	}

	err := s.UpdateDevice("FA:7B:7A:42:02:13", func(dev *Device) error {
		dev.Alias = "Living room"
		dev.Address = "00:00:00:00:00:00"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDevice("FA:7B:7A:42:02:13")
	if err != nil {
		t.Fatal(err)
	}
	if got.Alias != "Living room" {
		t.Errorf("alias = %q, want %q", got.Alias, "Living room")
	}
	if got.Address != "FA:7B:7A:42:02:13" {
		t.Errorf("address = %q, key must stay the identity", got.Address)
	}

	boom := errors.New("boom")
	err = s.UpdateDevice("FA:7B:7A:42:02:13", func(dev *Device) error {
		dev.Alias = "discarded"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	got, _ = s.GetDevice("FA:7B:7A:42:02:13")
	if got.Alias != "Living room" {
		t.Errorf("alias = %q, failed update must not persist", got.Alias)
	}

	err = s.UpdateDevice("02:00:00:00:00:09", func(dev *Device) error { return nil })
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetDevice("FF:FF:FF:FF:FF:FF")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestSaveAndGetGroup(t *testing.T) {
	s := newTestStore(t)

	g := &Group{
		NetworkID:    12,
		NetworkName:  "DIRECT-ab",
		IsOwner:      true,
		OwnerAddress: "FA:7B:7A:42:02:13",
		Clients:      []string{"02:00:00:00:00:02"},
		Passphrase:   "s3cr3tpw",
		Frequency:    2437,
		SavedAt:      time.Now().Truncate(time.Millisecond),
	}
	if err := s.SaveGroup(g); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetGroup(12)
	if err != nil {
		t.Fatal(err)
	}
	if got.NetworkName != g.NetworkName {
		t.Errorf("ssid = %q, want %q", got.NetworkName, g.NetworkName)
	}
	if got.Passphrase != g.Passphrase {
		t.Errorf("passphrase = %q, want %q", got.Passphrase, g.Passphrase)
	}
	if len(got.Clients) != 1 || got.Clients[0] != "02:00:00:00:00:02" {
		t.Errorf("clients = %v", got.Clients)
	}

	// The passphrase stays on disk but never reaches API JSON.
	data, err := json.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "s3cr3tpw") {
		t.Errorf("passphrase leaked into JSON: %s", data)
	}
}

func TestSaveGroupRejectsSentinel(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveGroup(&Group{NetworkID: -1}); err == nil {
		t.Fatal("expected error for temporary group")
	}
}

func TestDeleteGroup(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveGroup(&Group{NetworkID: 3, NetworkName: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteGroup(3); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetGroup(3); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	// Deleting a missing key is not an error.
	if err := s.DeleteGroup(3); err != nil {
		t.Errorf("second delete err = %v", err)
	}
}

func TestListGroupsOldestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().Truncate(time.Millisecond)

	for _, g := range []*Group{
		{NetworkID: 1, NetworkName: "newest", SavedAt: base.Add(2 * time.Minute)},
		{NetworkID: 2, NetworkName: "oldest", SavedAt: base},
		{NetworkID: 10, NetworkName: "middle", SavedAt: base.Add(time.Minute)},
	} {
		if err := s.SaveGroup(g); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.ListGroups()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"oldest", "middle", "newest"}
	if len(list) != len(want) {
		t.Fatalf("list count = %d, want %d", len(list), len(want))
	}
	for i, g := range list {
		if g.NetworkName != want[i] {
			t.Errorf("list[%d] = %q, want %q", i, g.NetworkName, want[i])
		}
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	s.SaveDevice(&Device{Address: "FA:7B:7A:42:02:13"})
	s.SaveGroup(&Group{NetworkID: 0, NetworkName: "DIRECT-zz", Passphrase: "pw"})
	s.Close()

	s, err = NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := s.GetDevice("FA:7B:7A:42:02:13"); err != nil {
		t.Errorf("device lost across reopen: %v", err)
	}
	g, err := s.GetGroup(0)
	if err != nil {
		t.Fatal(err)
	}
	if g.Passphrase != "pw" {
		t.Errorf("passphrase = %q after reopen", g.Passphrase)
	}
}
