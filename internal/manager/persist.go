package manager

import (
	"errors"
	"fmt"
	"time"

	"p2p-go-home/internal/p2p"
	"p2p-go-home/internal/store"
)

// persistDevice records the advertised details of d. Status is runtime state
// and is not stored.
func (m *Manager) persistDevice(d p2p.Device) {
	now := time.Now()
	err := m.store.UpdateDevice(d.Address.String(), func(dev *store.Device) error {
		*dev = *toStoreDevice(d, dev)
		dev.LastSeen = now
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		sd := toStoreDevice(d, nil)
		sd.FirstSeen = now
		sd.LastSeen = now
		err = m.store.SaveDevice(sd)
	}
	if err != nil {
		m.logger.Error("persist device", "addr", d.Address, "err", err)
	}
}

func (m *Manager) persistGroup(g *p2p.Group) {
	if err := m.store.SaveGroup(toStoreGroup(g)); err != nil {
		m.logger.Error("persist group", "network_id", g.NetworkID, "err", err)
	}
}

// toStoreDevice converts d, keeping the alias and first-seen time of prev.
func toStoreDevice(d p2p.Device, prev *store.Device) *store.Device {
	sd := &store.Device{
		Address:          d.Address.String(),
		Name:             d.Name,
		PrimaryType:      d.PrimaryType,
		SecondaryType:    d.SecondaryType,
		WPSConfigMethods: d.WPSConfigMethods,
		DeviceCapability: d.DeviceCapability,
		GroupCapability:  d.GroupCapability,
	}
	if d.WFD != nil {
		sd.WFDInfo = d.WFD.Raw
	}
	if prev != nil {
		sd.Alias = prev.Alias
		sd.FirstSeen = prev.FirstSeen
		sd.LastSeen = prev.LastSeen
	}
	return sd
}

// fromStoreDevice restores a remembered peer. It is unavailable until the
// supplicant reports it again.
func fromStoreDevice(sd *store.Device) (p2p.Device, error) {
	addr, err := p2p.ParseMAC(sd.Address)
	if err != nil {
		return p2p.Device{}, fmt.Errorf("device address: %w", err)
	}
	d := p2p.NewDevice(addr)
	d.Name = sd.Name
	d.PrimaryType = sd.PrimaryType
	d.SecondaryType = sd.SecondaryType
	d.WPSConfigMethods = sd.WPSConfigMethods
	d.DeviceCapability = sd.DeviceCapability
	d.GroupCapability = sd.GroupCapability
	if sd.WFDInfo != "" {
		d.WFD = &p2p.WFDInfo{Raw: sd.WFDInfo}
	}
	return d, nil
}

func toStoreGroup(g *p2p.Group) *store.Group {
	sg := &store.Group{
		NetworkID:   g.NetworkID,
		NetworkName: g.NetworkName,
		IsOwner:     g.IsOwner,
		Passphrase:  g.Passphrase,
		Frequency:   g.Frequency,
		SavedAt:     time.Now(),
	}
	if g.Owner != nil {
		sg.OwnerAddress = g.Owner.Address.String()
	}
	for _, c := range g.Clients {
		sg.Clients = append(sg.Clients, c.Address.String())
	}
	return sg
}

func fromStoreGroup(sg *store.Group) (p2p.Group, error) {
	if sg.NetworkID < 0 {
		return p2p.Group{}, fmt.Errorf("network id %d: %w", sg.NetworkID, p2p.ErrInvalidArgument)
	}
	g := p2p.Group{
		NetworkName: sg.NetworkName,
		IsOwner:     sg.IsOwner,
		Passphrase:  sg.Passphrase,
		NetworkID:   sg.NetworkID,
		Frequency:   sg.Frequency,
	}
	if sg.OwnerAddress != "" {
		addr, err := p2p.ParseMAC(sg.OwnerAddress)
		if err != nil {
			return p2p.Group{}, fmt.Errorf("owner address: %w", err)
		}
		g.SetOwner(p2p.NewDevice(addr))
	}
	for _, c := range sg.Clients {
		addr, err := p2p.ParseMAC(c)
		if err != nil {
			return p2p.Group{}, fmt.Errorf("client address: %w", err)
		}
		g.AddClient(p2p.NewDevice(addr))
	}
	return g, nil
}
