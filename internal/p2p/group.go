package p2p

// Network id sentinels carried by Group.NetworkID.
const (
	// NetworkIDTemporary marks an ephemeral group that is never persisted.
	NetworkIDTemporary = -1
	// NetworkIDPersistent marks a persistent group whose stored id has not
	// been resolved yet.
	NetworkIDPersistent = -2
)

// Group is a P2P group as seen from this host. Clients are owned copies and
// never contain the owner's address.
type Group struct {
	NetworkName string   `json:"network_name"`
	IsOwner     bool     `json:"is_owner"`
	Owner       *Device  `json:"owner,omitempty"`
	Clients     []Device `json:"clients"`
	Passphrase  string   `json:"passphrase,omitempty"`
	Interface   string   `json:"interface,omitempty"`
	NetworkID   int      `json:"network_id"`
	Frequency   int      `json:"frequency,omitempty"`
}

// IsPersistent reports whether the group refers to a persistent profile,
// resolved or not.
func (g *Group) IsPersistent() bool {
	return g.NetworkID >= 0 || g.NetworkID == NetworkIDPersistent
}

// SetOwner sets the owner and drops any client with the same address.
func (g *Group) SetOwner(d Device) {
	d = d.Clone()
	g.Owner = &d
	g.RemoveClient(d.Address)
}

// AddClient adds d unless it is the owner or already a client.
func (g *Group) AddClient(d Device) bool {
	if d.Address.IsZero() {
		return false
	}
	if g.Owner != nil && g.Owner.Address == d.Address {
		return false
	}
	for _, c := range g.Clients {
		if c.Address == d.Address {
			return false
		}
	}
	g.Clients = append(g.Clients, d.Clone())
	return true
}

// RemoveClient removes the client with addr, keeping the order of the rest.
func (g *Group) RemoveClient(addr MacAddress) bool {
	for i, c := range g.Clients {
		if c.Address == addr {
			g.Clients = append(g.Clients[:i], g.Clients[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether addr is the owner or one of the clients.
func (g *Group) Contains(addr MacAddress) bool {
	if g.Owner != nil && g.Owner.Address == addr {
		return true
	}
	for _, c := range g.Clients {
		if c.Address == addr {
			return true
		}
	}
	return false
}

func (g *Group) IsClientListEmpty() bool {
	return len(g.Clients) == 0
}

// IsEmpty reports whether this host owns the group and nobody has joined.
func (g *Group) IsEmpty() bool {
	return g.IsOwner && len(g.Clients) == 0
}

// Clone returns a deep copy.
func (g Group) Clone() Group {
	if g.Owner != nil {
		o := g.Owner.Clone()
		g.Owner = &o
	}
	if g.Clients != nil {
		clients := make([]Device, len(g.Clients))
		for i, c := range g.Clients {
			clients[i] = c.Clone()
		}
		g.Clients = clients
	}
	return g
}
