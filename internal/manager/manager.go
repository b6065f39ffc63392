// Package manager owns the live P2P state: one device Registry and one
// GroupStore, fed by control-interface events and persisted to the store.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"

	"p2p-go-home/internal/ctrl"
	"p2p-go-home/internal/p2p"
	"p2p-go-home/internal/store"
)

var (
	// ErrUnknownDevice is returned for commands naming a peer that is not known.
	ErrUnknownDevice = fmt.Errorf("unknown device: %w", p2p.ErrInvalidArgument)
	// ErrUnknownGroup is returned for a network id that is not stored.
	ErrUnknownGroup = fmt.Errorf("unknown group: %w", p2p.ErrInvalidArgument)
)

const (
	requestTimeout = 5 * time.Second
	lineQueueSize  = 256
)

// Config holds manager configuration.
type Config struct {
	MaxGroups     int
	FindTimeout   int // seconds, passed to P2P_FIND
	InvitationTTL time.Duration
	Transport     string // for Info only, e.g. "unix /var/run/wpa_supplicant/p2p-dev-wlan0"
}

// Manager applies supplicant events to the device registry and the group
// store. A single mutex guards both, since neither synchronises itself.
type Manager struct {
	conn    ctrl.Conn
	store   store.Store
	catalog *p2p.Catalog
	events  *EventBus
	logger  *slog.Logger
	cfg     Config

	mu       sync.Mutex
	registry *p2p.Registry
	groups   *p2p.GroupStore
	active   map[string]*p2p.Group // by interface name
	finding  bool
	// removals queued by the group store listener, sent once mu is released.
	removals []int

	invitations *ttlworker.Cache[string, p2p.Invitation]

	lines    chan string
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  bool // guarded by mu; the invitation cache is destroyed
}

// New creates a Manager. catalog may be nil.
func New(conn ctrl.Conn, st store.Store, catalog *p2p.Catalog, events *EventBus, cfg Config, logger *slog.Logger) (*Manager, error) {
	if cfg.MaxGroups < 1 {
		cfg.MaxGroups = 32
	}
	if cfg.InvitationTTL <= 0 {
		cfg.InvitationTTL = 2 * time.Minute
	}
	if catalog == nil {
		catalog = p2p.NewCatalog()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		conn:        conn,
		store:       st,
		catalog:     catalog,
		events:      events,
		logger:      logger.With("component", "manager"),
		cfg:         cfg,
		registry:    p2p.NewRegistry(),
		active:      make(map[string]*p2p.Group),
		invitations: ttlworker.NewCache[string, p2p.Invitation](cfg.InvitationTTL),
		lines:       make(chan string, lineQueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
	groups, err := p2p.NewGroupStore(cfg.MaxGroups, p2p.DeleteListenerFunc(m.onDeleteGroup))
	if err != nil {
		cancel()
		m.invitations.Destroy()
		return nil, err
	}
	m.groups = groups
	return m, nil
}

// Context returns the manager's context, which is cancelled on Stop().
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Events returns the event bus.
func (m *Manager) Events() *EventBus {
	return m.events
}

// Start restores persisted peers and groups and begins consuming events.
func (m *Manager) Start(ctx context.Context) error {
	groups, err := m.store.ListGroups()
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}
	devices, err := m.store.ListDevices()
	if err != nil {
		return fmt.Errorf("load devices: %w", err)
	}

	m.mu.Lock()
	for _, sg := range groups {
		g, err := fromStoreGroup(sg)
		if err != nil {
			m.logger.Warn("skip persisted group", "network_id", sg.NetworkID, "err", err)
			continue
		}
		// Oldest first, so recency order survives the restart. A smaller
		// capacity than last time evicts the oldest here.
		if err := m.groups.Add(g); err != nil {
			m.logger.Error("restore group", "network_id", g.NetworkID, "err", err)
		}
	}
	for _, sd := range devices {
		d, err := fromStoreDevice(sd)
		if err != nil {
			m.logger.Warn("skip persisted device", "addr", sd.Address, "err", err)
			continue
		}
		m.registry.Observe(d)
		if sd.Alias != "" {
			m.catalog.SetAlias(d.Address, sd.Alias)
		}
	}
	nGroups, nDevices := m.groups.Len(), m.registry.Len()
	m.mu.Unlock()
	m.flushRemovals(ctx)

	m.wg.Add(1)
	go m.loop()
	m.conn.OnEvent(m.enqueue)

	m.logger.Info("manager started", "devices", nDevices, "groups", nGroups, "max_groups", m.cfg.MaxGroups)
	return nil
}

// Stop cancels the manager context, waits for the event loop and releases
// the invitation cache. Safe to call multiple times.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.conn.OnEvent(nil)
		m.cancel()
		m.wg.Wait()

		m.mu.Lock()
		m.stopped = true
		m.mu.Unlock()
		m.invitations.Destroy()
	})
}

// enqueue runs on the connection's read goroutine and must not block on
// requests, so lines are handed to loop.
func (m *Manager) enqueue(line string) {
	select {
	case m.lines <- line:
	default:
		m.logger.Warn("event queue full, dropping line", "line", line)
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case line := <-m.lines:
			m.HandleLine(line)
		}
	}
}

// onDeleteGroup is the GroupStore listener. It runs with mu held.
func (m *Manager) onDeleteGroup(networkID int) error {
	m.removals = append(m.removals, networkID)
	if err := m.store.DeleteGroup(networkID); err != nil {
		return fmt.Errorf("delete persisted group: %w", err)
	}
	return nil
}

// flushRemovals tells the supplicant to forget the profiles of groups that
// left the store, then announces them.
func (m *Manager) flushRemovals(ctx context.Context) {
	m.mu.Lock()
	ids := m.removals
	m.removals = nil
	m.mu.Unlock()

	for _, id := range ids {
		rctx, cancel := context.WithTimeout(ctx, requestTimeout)
		if _, err := m.conn.Request(rctx, ctrl.RemoveNetworkCmd(id)); err != nil {
			m.logger.Warn("remove network", "network_id", id, "err", err)
		}
		cancel()
		m.logger.Info("persistent group deleted", "network_id", id)
		m.events.Emit(newEvent(EventGroupDeleted, map[string]any{"network_id": id}))
	}
}

func (m *Manager) emitAll(events []Event) {
	for _, e := range events {
		m.events.Emit(e)
	}
}

// --- Commands ---

// Find starts P2P device discovery.
func (m *Manager) Find(ctx context.Context) error {
	if _, err := m.conn.Request(ctx, ctrl.FindCmd(m.cfg.FindTimeout)); err != nil {
		return fmt.Errorf("find: %w", err)
	}
	m.setFinding(true)
	m.logger.Info("discovery started", "timeout", m.cfg.FindTimeout)
	return nil
}

// StopFind stops P2P device discovery.
func (m *Manager) StopFind(ctx context.Context) error {
	if _, err := m.conn.Request(ctx, ctrl.StopFindCmd); err != nil {
		return fmt.Errorf("stop find: %w", err)
	}
	m.setFinding(false)
	return nil
}

func (m *Manager) setFinding(active bool) {
	m.mu.Lock()
	changed := m.finding != active
	m.finding = active
	m.mu.Unlock()
	if changed {
		m.events.Emit(newEvent(EventFindState, map[string]any{"active": active}))
	}
}

// Connect starts push-button group formation with a known peer.
func (m *Manager) Connect(ctx context.Context, addr p2p.MacAddress, persistent bool) error {
	m.mu.Lock()
	_, ok := m.registry.Get(addr)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("connect %s: %w", addr, ErrUnknownDevice)
	}
	if _, err := m.conn.Request(ctx, ctrl.ConnectCmd(addr, persistent)); err != nil {
		m.mu.Lock()
		m.registry.UpdateStatus(addr, p2p.StatusFailed)
		view := m.viewLocked(addr)
		m.mu.Unlock()
		m.events.Emit(newEvent(EventDeviceUpdated, view.eventData()))
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	m.mu.Lock()
	m.registry.UpdateStatus(addr, p2p.StatusInvited)
	view := m.viewLocked(addr)
	m.mu.Unlock()
	m.logger.Info("connect requested", "addr", addr, "persistent", persistent)
	m.events.Emit(newEvent(EventDeviceUpdated, view.eventData()))
	return nil
}

// RemoveGroup asks the supplicant to tear down the group on iface.
func (m *Manager) RemoveGroup(ctx context.Context, iface string) error {
	if _, err := m.conn.Request(ctx, ctrl.GroupRemoveCmd(iface)); err != nil {
		return fmt.Errorf("remove group %s: %w", iface, err)
	}
	return nil
}

// DeletePersistentGroup forgets a stored group here and in the supplicant.
func (m *Manager) DeletePersistentGroup(ctx context.Context, networkID int) error {
	m.mu.Lock()
	ok, err := m.groups.Remove(networkID)
	m.mu.Unlock()
	m.flushRemovals(ctx)
	if !ok {
		return fmt.Errorf("delete group %d: %w", networkID, ErrUnknownGroup)
	}
	if err != nil {
		return fmt.Errorf("delete group %d: %w", networkID, err)
	}
	return nil
}

// ForgetDevice removes a peer and every stored group it belongs to.
func (m *Manager) ForgetDevice(ctx context.Context, addr p2p.MacAddress) error {
	m.mu.Lock()
	known := m.registry.Remove(addr)
	var errs []error
	for {
		ok, err := m.groups.RemoveByAddress(addr)
		if err != nil {
			errs = append(errs, err)
		}
		if !ok {
			break
		}
	}
	m.catalog.SetAlias(addr, "")
	m.mu.Unlock()

	if err := m.store.DeleteDevice(addr.String()); err != nil {
		errs = append(errs, fmt.Errorf("delete persisted device: %w", err))
	}
	m.flushRemovals(ctx)
	if !known {
		return fmt.Errorf("forget %s: %w", addr, ErrUnknownDevice)
	}
	m.logger.Info("device forgotten", "addr", addr)
	m.events.Emit(newEvent(EventDeviceRemoved, map[string]any{"addr": addr.String()}))
	return errors.Join(errs...)
}

// RenameDevice sets a local alias for a known peer. An empty alias clears it.
func (m *Manager) RenameDevice(addr p2p.MacAddress, alias string) error {
	m.mu.Lock()
	cur, ok := m.registry.Get(addr)
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("rename %s: %w", addr, ErrUnknownDevice)
	}
	m.catalog.SetAlias(addr, alias)
	view := m.viewLocked(addr)
	m.mu.Unlock()

	err := m.store.UpdateDevice(addr.String(), func(dev *store.Device) error {
		dev.Alias = alias
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		sd := toStoreDevice(cur, nil)
		sd.Alias = alias
		err = m.store.SaveDevice(sd)
	}
	if err != nil {
		return fmt.Errorf("rename %s: %w", addr, err)
	}
	m.events.Emit(newEvent(EventDeviceUpdated, view.eventData()))
	return nil
}

// RefreshPeer asks the supplicant for the full details of a peer and merges
// them without touching its status.
func (m *Manager) RefreshPeer(ctx context.Context, addr p2p.MacAddress) error {
	reply, err := m.conn.Request(ctx, ctrl.PeerCmd(addr))
	if err != nil {
		return fmt.Errorf("peer %s: %w", addr, err)
	}
	d, err := p2p.ParsePeerInfo(reply)
	if err != nil {
		return fmt.Errorf("peer %s: %w", addr, err)
	}
	m.mu.Lock()
	err = m.registry.UpdateSupplicantDetails(d)
	view := m.viewLocked(addr)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("peer %s: %w", addr, err)
	}
	m.persistDevice(view.Device)
	m.events.Emit(newEvent(EventDeviceUpdated, view.eventData()))
	return nil
}

// --- Queries ---

// Devices returns all known peers sorted by address.
func (m *Manager) Devices() []DeviceView {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.registry.List()
	out := make([]DeviceView, len(list))
	for i, d := range list {
		out[i] = m.makeView(d)
	}
	return out
}

// Device returns one peer.
func (m *Manager) Device(addr p2p.MacAddress) (DeviceView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.registry.Get(addr)
	if !ok {
		return DeviceView{}, fmt.Errorf("device %s: %w", addr, ErrUnknownDevice)
	}
	return m.makeView(d), nil
}

// Groups returns the stored persistent groups, least recently used first.
func (m *Manager) Groups() []p2p.Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups.Groups()
}

// Group returns one stored persistent group.
func (m *Manager) Group(networkID int) (p2p.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups.Get(networkID)
	if !ok {
		return p2p.Group{}, fmt.Errorf("group %d: %w", networkID, ErrUnknownGroup)
	}
	return g, nil
}

// ActiveGroups returns the currently running groups sorted by interface.
func (m *Manager) ActiveGroups() []p2p.Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]p2p.Group, 0, len(m.active))
	for _, g := range m.active {
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interface < out[j].Interface })
	return out
}

// Invitations returns the invitations received within the retention window.
func (m *Manager) Invitations() []p2p.Invitation {
	var out []p2p.Invitation
	m.invitations.Range(func(_ string, inv p2p.Invitation) error {
		out = append(out, inv)
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Source.String() < out[j].Source.String()
	})
	return out
}

// Info returns a summary of the manager state.
func (m *Manager) Info() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"transport":     m.cfg.Transport,
		"devices":       m.registry.Len(),
		"groups":        m.groups.Len(),
		"max_groups":    m.groups.Capacity(),
		"active_groups": len(m.active),
		"finding":       m.finding,
		"find_timeout":  m.cfg.FindTimeout,
	}
}
