package manager

import (
	"p2p-go-home/internal/p2p"
)

// DeviceView is a peer as presented to API and automation consumers.
type DeviceView struct {
	p2p.Device
	Alias      string `json:"alias,omitempty"`
	TypeName   string `json:"type_name,omitempty"`
	GroupOwner bool   `json:"group_owner"`
}

// DisplayName returns the alias if set, else the advertised name.
func (v DeviceView) DisplayName() string {
	if v.Alias != "" {
		return v.Alias
	}
	if v.Name != "" {
		return v.Name
	}
	return v.Address.String()
}

func (v DeviceView) eventData() map[string]any {
	data := map[string]any{
		"addr":         v.Address.String(),
		"name":         v.Name,
		"display_name": v.DisplayName(),
		"status":       v.Status.String(),
		"primary_type": v.PrimaryType,
		"group_owner":  v.GroupOwner,
	}
	if v.TypeName != "" {
		data["type_name"] = v.TypeName
	}
	if v.WFD != nil {
		data["wfd_enabled"] = v.WFD.Enabled()
	}
	return data
}

// makeView must be called with mu held.
func (m *Manager) makeView(d p2p.Device) DeviceView {
	v := DeviceView{
		Device:     d,
		TypeName:   m.catalog.TypeName(d.PrimaryType),
		GroupOwner: m.registry.IsGroupOwner(d.Address),
	}
	v.Alias, _ = m.catalog.Alias(d.Address)
	return v
}

func (m *Manager) viewLocked(addr p2p.MacAddress) DeviceView {
	d, ok := m.registry.Get(addr)
	if !ok {
		d = p2p.NewDevice(addr)
	}
	return m.makeView(d)
}
