package manager

import (
	"context"
	"errors"
	"strings"

	"p2p-go-home/internal/ctrl"
	"p2p-go-home/internal/p2p"
)

const findStoppedPrefix = "P2P-FIND-STOPPED"

// HandleLine applies one raw control-interface line. It is called from the
// event loop and may be called directly; it performs follow-up requests
// and must not run on the connection's read goroutine.
func (m *Manager) HandleLine(line string) {
	iface, line := ctrl.SplitEvent(line)
	if line == "" {
		return
	}
	if strings.HasPrefix(line, findStoppedPrefix) {
		m.mu.Lock()
		changed := m.finding
		m.finding = false
		m.mu.Unlock()
		if changed {
			m.events.Emit(newEvent(EventFindState, map[string]any{"active": false}))
		}
		return
	}

	ev, err := p2p.Parse(line)
	if err != nil {
		// The supplicant emits many events this host does not track.
		m.logger.Debug("unparsed event", "line", line, "err", err)
		return
	}

	ctx := m.ctx
	switch ev.Kind {
	case p2p.EventDeviceFound:
		m.applyDeviceFound(*ev.Device)
	case p2p.EventDeviceLost:
		m.applyDeviceLost(*ev.Device)
	case p2p.EventBareAddress:
		m.applyBareAddress(ctx, *ev.Device)
	case p2p.EventStaConnected:
		m.applyStaConnected(*ev.Device, ev.StationAddress, iface)
	case p2p.EventStaDisconnected:
		m.applyStaDisconnected(*ev.Device, ev.StationAddress, iface)
	case p2p.EventGroupStarted:
		m.applyGroupStarted(ctx, *ev.Group)
	case p2p.EventGroupRemoved:
		m.applyGroupRemoved(*ev.Group, ev.Reason)
	case p2p.EventInvitationReceived:
		m.applyInvitation(*ev.Invitation)
	}
	m.flushRemovals(ctx)
}

func (m *Manager) applyDeviceFound(d p2p.Device) {
	m.mu.Lock()
	prev, known := m.registry.Get(d.Address)
	if err := m.registry.Observe(d); err != nil {
		m.mu.Unlock()
		m.logger.Warn("device found", "err", err)
		return
	}
	view := m.viewLocked(d.Address)
	m.mu.Unlock()

	m.persistDevice(view.Device)
	typ := EventDeviceUpdated
	if !known || prev.Status == p2p.StatusUnavailable {
		typ = EventDeviceFound
		m.logger.Info("device found", "addr", d.Address, "name", view.Name, "type", view.TypeName)
	}
	m.events.Emit(newEvent(typ, view.eventData()))
}

func (m *Manager) applyDeviceLost(d p2p.Device) {
	m.mu.Lock()
	if err := m.registry.Observe(d); err != nil {
		m.mu.Unlock()
		m.logger.Warn("device lost", "err", err)
		return
	}
	view := m.viewLocked(d.Address)
	m.mu.Unlock()

	m.logger.Info("device lost", "addr", d.Address)
	m.events.Emit(newEvent(EventDeviceLost, view.eventData()))
}

// applyBareAddress handles a line carrying only a peer address: the peer is
// recorded if new and its details fetched with P2P_PEER.
func (m *Manager) applyBareAddress(ctx context.Context, d p2p.Device) {
	m.mu.Lock()
	_, known := m.registry.Get(d.Address)
	if !known {
		m.registry.Observe(d)
	}
	m.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := m.RefreshPeer(rctx, d.Address); err != nil {
		m.logger.Warn("peer refresh", "addr", d.Address, "err", err)
	}
}

// stationGroupLocked returns the owned active group a station event on iface
// belongs to. Without a matching interface it falls back to the only owned
// group, and to nil when there are several.
func (m *Manager) stationGroupLocked(iface string) *p2p.Group {
	if g, ok := m.active[iface]; ok && g.IsOwner {
		return g
	}
	var owned *p2p.Group
	for _, g := range m.active {
		if !g.IsOwner {
			continue
		}
		if owned != nil {
			return nil
		}
		owned = g
	}
	return owned
}

func (m *Manager) applyStaConnected(d p2p.Device, sta p2p.MacAddress, iface string) {
	m.mu.Lock()
	if err := m.registry.Observe(d); err != nil {
		m.mu.Unlock()
		m.logger.Warn("station connected", "err", err)
		return
	}
	cur, _ := m.registry.Get(d.Address)
	var persist *p2p.Group
	g := m.stationGroupLocked(iface)
	if g != nil && g.AddClient(cur) && g.NetworkID >= 0 {
		if err := m.groups.Add(*g); err != nil {
			m.logger.Error("update group", "network_id", g.NetworkID, "err", err)
		}
		c := g.Clone()
		persist = &c
	}
	view := m.makeView(cur)
	m.mu.Unlock()

	if g == nil {
		m.logger.Debug("station without owned group", "addr", d.Address, "iface", iface)
	}
	if persist != nil {
		m.persistGroup(persist)
	}
	m.logger.Info("peer connected", "addr", d.Address, "station", sta, "iface", iface)
	data := view.eventData()
	data["station"] = sta.String()
	m.events.Emit(newEvent(EventPeerConnected, data))
}

func (m *Manager) applyStaDisconnected(d p2p.Device, sta p2p.MacAddress, iface string) {
	m.mu.Lock()
	if err := m.registry.Observe(d); err != nil {
		m.mu.Unlock()
		m.logger.Warn("station disconnected", "err", err)
		return
	}
	if g := m.stationGroupLocked(iface); g != nil {
		g.RemoveClient(d.Address)
	}
	view := m.viewLocked(d.Address)
	m.mu.Unlock()

	m.logger.Info("peer disconnected", "addr", d.Address, "station", sta, "iface", iface)
	data := view.eventData()
	data["station"] = sta.String()
	m.events.Emit(newEvent(EventPeerDisconnected, data))
}

func (m *Manager) applyGroupStarted(ctx context.Context, g p2p.Group) {
	if g.NetworkID == p2p.NetworkIDPersistent {
		g.NetworkID = m.resolveNetworkID(ctx, g)
	}

	m.mu.Lock()
	if g.Owner != nil {
		owner := *g.Owner
		if !g.IsOwner {
			// The remote owner is a peer we are now connected to.
			if err := m.registry.Observe(owner); err != nil {
				m.logger.Warn("group owner", "err", err)
			} else if cur, ok := m.registry.Get(owner.Address); ok {
				g.SetOwner(cur)
			}
		}
	}
	if old, ok := m.active[g.Interface]; ok {
		m.logger.Warn("group restarted on interface", "iface", g.Interface, "old_ssid", old.NetworkName)
	}
	active := g.Clone()
	m.active[g.Interface] = &active

	var persisted bool
	if g.NetworkID >= 0 {
		// Keep known clients of a re-invoked group.
		if prev, ok := m.groups.Get(g.NetworkID); ok {
			for _, c := range prev.Clients {
				g.AddClient(c)
			}
		}
		if err := m.groups.Add(g); err != nil {
			m.logger.Error("store group", "network_id", g.NetworkID, "err", err)
		} else {
			persisted = true
		}
	}
	m.mu.Unlock()

	if persisted {
		m.persistGroup(&g)
	}
	m.logger.Info("group started", "iface", g.Interface, "ssid", g.NetworkName,
		"owner", g.IsOwner, "network_id", g.NetworkID, "freq", g.Frequency)
	m.events.Emit(newEvent(EventGroupStarted, groupEventData(g)))
}

// resolveNetworkID finds the stored id for a persistent group: first in the
// group store, then in the supplicant's network list, else the smallest id
// not yet in use.
func (m *Manager) resolveNetworkID(ctx context.Context, g p2p.Group) int {
	if g.Owner == nil {
		return p2p.NetworkIDTemporary
	}
	m.mu.Lock()
	id, ok := m.groups.NetworkIDFor(g.Owner.Address, g.NetworkName)
	m.mu.Unlock()
	if ok {
		return id
	}

	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	reply, err := m.conn.Request(rctx, ctrl.ListNetworksCmd)
	if err != nil && !errors.Is(err, ctrl.ErrCommandFailed) {
		m.logger.Warn("list networks", "err", err)
	}
	entries := p2p.ParseNetworkList(reply)
	if id, ok := p2p.FindPersistent(entries, g.NetworkName, g.Owner.Address); ok {
		return id
	}

	used := make(map[int]bool, len(entries))
	for _, e := range entries {
		used[e.ID] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := 0; ; id++ {
		if !used[id] && !m.groups.Contains(id) {
			return id
		}
	}
}

func (m *Manager) applyGroupRemoved(g p2p.Group, reason string) {
	m.mu.Lock()
	active, ok := m.active[g.Interface]
	if ok {
		delete(m.active, g.Interface)
		g = *active
		if !g.IsOwner && g.Owner != nil {
			m.registry.UpdateStatus(g.Owner.Address, p2p.StatusAvailable)
		}
		for _, c := range g.Clients {
			m.registry.UpdateStatus(c.Address, p2p.StatusAvailable)
		}
	}
	m.mu.Unlock()

	m.logger.Info("group removed", "iface", g.Interface, "reason", reason, "tracked", ok)
	data := groupEventData(g)
	data["reason"] = reason
	m.events.Emit(newEvent(EventGroupRemoved, data))
}

func (m *Manager) applyInvitation(inv p2p.Invitation) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.invitations.Set(inv.Source.String(), inv)
	m.mu.Unlock()
	m.logger.Info("invitation received", "from", inv.Source, "persistent_id", inv.PersistentID)
	m.events.Emit(newEvent(EventInvitationReceived, map[string]any{
		"source":          inv.Source.String(),
		"go_dev_addr":     inv.GroupOwner.String(),
		"bssid":           inv.BSSID.String(),
		"persistent_id":   inv.PersistentID,
		"unknown_network": inv.UnknownNetwork,
	}))
}

func groupEventData(g p2p.Group) map[string]any {
	clients := make([]string, len(g.Clients))
	for i, c := range g.Clients {
		clients[i] = c.Address.String()
	}
	data := map[string]any{
		"iface":        g.Interface,
		"ssid":         g.NetworkName,
		"is_owner":     g.IsOwner,
		"network_id":   g.NetworkID,
		"frequency":    g.Frequency,
		"clients":      clients,
		"client_count": len(clients),
	}
	if g.Owner != nil {
		data["owner"] = g.Owner.Address.String()
	}
	return data
}
