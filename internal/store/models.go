package store

import "time"

// Device is a remembered P2P peer.
type Device struct {
	Address          string    `json:"address"`
	Name             string    `json:"name,omitempty"`
	Alias            string    `json:"alias,omitempty"`
	PrimaryType      string    `json:"primary_type,omitempty"`
	SecondaryType    string    `json:"secondary_type,omitempty"`
	WPSConfigMethods uint16    `json:"wps_config_methods,omitempty"`
	DeviceCapability uint8     `json:"device_capability,omitempty"`
	GroupCapability  uint8     `json:"group_capability,omitempty"`
	WFDInfo          string    `json:"wfd_info,omitempty"`
	FirstSeen        time.Time `json:"first_seen"`
	LastSeen         time.Time `json:"last_seen"`
}

// Group is a persistent P2P group profile.
// Passphrase is hidden from API/JSON serialization via json:"-".
type Group struct {
	NetworkID    int       `json:"network_id"`
	NetworkName  string    `json:"network_name"`
	IsOwner      bool      `json:"is_owner"`
	OwnerAddress string    `json:"owner_address"`
	Clients      []string  `json:"clients,omitempty"`
	Passphrase   string    `json:"-"`
	Frequency    int       `json:"frequency,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

// groupStorage is the internal struct used for DB serialization,
// preserving the passphrase on disk.
type groupStorage struct {
	NetworkID    int       `json:"network_id"`
	NetworkName  string    `json:"network_name"`
	IsOwner      bool      `json:"is_owner"`
	OwnerAddress string    `json:"owner_address"`
	Clients      []string  `json:"clients,omitempty"`
	Passphrase   string    `json:"passphrase,omitempty"`
	Frequency    int       `json:"frequency,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}

func (g *Group) toStorage() groupStorage {
	return groupStorage{
		NetworkID:    g.NetworkID,
		NetworkName:  g.NetworkName,
		IsOwner:      g.IsOwner,
		OwnerAddress: g.OwnerAddress,
		Clients:      g.Clients,
		Passphrase:   g.Passphrase,
		Frequency:    g.Frequency,
		SavedAt:      g.SavedAt,
	}
}

func (st groupStorage) toGroup() *Group {
	return &Group{
		NetworkID:    st.NetworkID,
		NetworkName:  st.NetworkName,
		IsOwner:      st.IsOwner,
		OwnerAddress: st.OwnerAddress,
		Clients:      st.Clients,
		Passphrase:   st.Passphrase,
		Frequency:    st.Frequency,
		SavedAt:      st.SavedAt,
	}
}
