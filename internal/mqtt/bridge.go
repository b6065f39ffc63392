//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"p2p-go-home/internal/manager"
	"p2p-go-home/internal/p2p"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Bridge publishes P2P peer state to MQTT with HA autodiscovery.
type Bridge struct {
	client pahomqtt.Client
	mgr    *manager.Manager
	prefix string
	logger *slog.Logger
	unsub  func()

	mu         sync.Mutex
	states     map[p2p.MacAddress]map[string]any
	discovered map[p2p.MacAddress]bool
}

func newBridge(mgr *manager.Manager, prefix string, logger *slog.Logger) *Bridge {
	return &Bridge{
		mgr:        mgr,
		prefix:     prefix,
		logger:     logger.With("component", "mqtt"),
		states:     make(map[p2p.MacAddress]map[string]any),
		discovered: make(map[p2p.MacAddress]bool),
	}
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(mgr *manager.Manager, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(mgr, cfg.TopicPrefix, logger)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("p2p-go-home-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishAllDiscovery()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to manager events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.mgr.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) handleEvent(event manager.Event) {
	switch event.Type {
	case manager.EventDeviceFound, manager.EventDeviceUpdated, manager.EventDeviceLost,
		manager.EventPeerConnected, manager.EventPeerDisconnected:
		addr, ok := eventAddr(event)
		if !ok {
			return
		}
		v, err := b.mgr.Device(addr)
		if err != nil {
			return
		}
		b.ensureDiscovery(v)
		b.publishDeviceState(v)
		if event.Type == manager.EventDeviceFound || event.Type == manager.EventDeviceLost {
			b.publishBridgeInfo()
		}
	case manager.EventDeviceRemoved:
		if addr, ok := eventAddr(event); ok {
			b.handleDeviceRemoved(addr)
		}
		b.publishBridgeInfo()
	case manager.EventGroupStarted, manager.EventGroupRemoved, manager.EventGroupDeleted,
		manager.EventFindState:
		b.publishBridgeInfo()
	}
}

func eventAddr(event manager.Event) (p2p.MacAddress, bool) {
	s, _ := event.Data["addr"].(string)
	addr, err := p2p.ParseMAC(s)
	if err != nil {
		return p2p.MacAddress{}, false
	}
	return addr, true
}

// deviceState is the retained JSON published on a peer's state topic.
func deviceState(v manager.DeviceView) map[string]any {
	state := map[string]any{
		"address":      v.Address.String(),
		"name":         v.DisplayName(),
		"device_name":  v.Name,
		"status":       v.Status.String(),
		"group_owner":  v.GroupOwner,
		"primary_type": v.PrimaryType,
		"pbc":          v.WPSPBCSupported(),
	}
	if v.TypeName != "" {
		state["type_name"] = v.TypeName
	}
	if v.WFD != nil {
		state["wfd_enabled"] = v.WFD.Enabled()
		state["wfd_port"] = v.WFD.ControlPort()
		state["wfd_throughput"] = v.WFD.MaxThroughput()
	}
	return state
}

func (b *Bridge) publishDeviceState(v manager.DeviceView) {
	state := deviceState(v)
	state["last_seen"] = time.Now().Format(time.RFC3339)

	b.mu.Lock()
	b.states[v.Address] = state
	payload := mustJSON(state)
	b.mu.Unlock()

	b.publish(b.prefix+"/"+deviceTopicName(v), payload, true)
}

func (b *Bridge) ensureDiscovery(v manager.DeviceView) {
	b.mu.Lock()
	done := b.discovered[v.Address]
	b.discovered[v.Address] = true
	b.mu.Unlock()
	if !done {
		b.publishDeviceDiscovery(v)
	}
}

func (b *Bridge) handleDeviceRemoved(addr p2p.MacAddress) {
	v := manager.DeviceView{Device: p2p.NewDevice(addr)}
	for _, msg := range buildRemoveDiscovery(v) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	// Clear the retained state.
	b.publish(b.prefix+"/"+deviceTopicName(v), nil, true)

	b.mu.Lock()
	delete(b.states, addr)
	delete(b.discovered, addr)
	b.mu.Unlock()
}

func (b *Bridge) publishBridgeState(state string) {
	topic := b.prefix + "/bridge/state"
	b.publish(topic, []byte(state), true)
}

func (b *Bridge) publishBridgeInfo() {
	b.publish(b.prefix+"/bridge/info", mustJSON(b.mgr.Info()), true)
}

func (b *Bridge) publishAllDiscovery() {
	for _, msg := range buildBridgeDiscovery(b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.publishBridgeInfo()

	for _, v := range b.mgr.Devices() {
		b.mu.Lock()
		b.discovered[v.Address] = true
		b.mu.Unlock()
		b.publishDeviceDiscovery(v)
		b.publishDeviceState(v)
	}
}

func (b *Bridge) publishDeviceDiscovery(v manager.DeviceView) {
	for _, msg := range buildDiscovery(v, b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "addr", v.Address, "name", v.DisplayName())
}

func (b *Bridge) subscribeCommands() {
	b.client.Subscribe(b.prefix+"/bridge/request/find", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.handleFindRequest(msg.Payload())
	})
	b.client.Subscribe(b.prefix+"/+/set", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		key, ok := keyFromSetTopic(b.prefix, msg.Topic())
		if !ok {
			return
		}
		b.handleCommand(key, msg.Payload())
	})
}

// keyFromSetTopic extracts the peer key from "<prefix>/<key>/set".
func keyFromSetTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	key, ok := strings.CutSuffix(rest, "/set")
	if !ok || key == "" || key == "bridge" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}

// handleFindRequest accepts "start", "stop" or an empty payload (start).
func (b *Bridge) handleFindRequest(payload []byte) {
	ctx, cancel := context.WithTimeout(b.mgr.Context(), 10*time.Second)
	defer cancel()

	var err error
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "", "start", "on":
		err = b.mgr.Find(ctx)
	case "stop", "off":
		err = b.mgr.StopFind(ctx)
	default:
		b.logger.Warn("unknown find request", "payload", string(payload))
		return
	}
	if err != nil {
		b.logger.Warn("find request failed", "err", err)
	}
}

type peerCommand struct {
	Action     string `json:"action"`
	Persistent bool   `json:"persistent"`
}

func (b *Bridge) handleCommand(key string, payload []byte) {
	var target *manager.DeviceView
	for _, v := range b.mgr.Devices() {
		if v.Address.Key() == key {
			target = &v
			break
		}
	}
	if target == nil {
		b.logger.Warn("command for unknown device", "key", key)
		return
	}

	var cmd peerCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logger.Warn("invalid command JSON", "addr", target.Address, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.mgr.Context(), 10*time.Second)
	defer cancel()

	switch cmd.Action {
	case "connect":
		if err := b.mgr.Connect(ctx, target.Address, cmd.Persistent); err != nil {
			b.logger.Warn("connect command failed", "addr", target.Address, "err", err)
		}
	case "forget":
		if err := b.mgr.ForgetDevice(ctx, target.Address); err != nil {
			b.logger.Warn("forget command failed", "addr", target.Address, "err", err)
		}
	default:
		b.logger.Warn("unknown command", "addr", target.Address, "action", cmd.Action)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
