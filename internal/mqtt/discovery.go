//go:build !no_mqtt

package mqtt

import (
	"fmt"

	"p2p-go-home/internal/manager"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/binary_sensor/p2p_fa7b7a420213/presence/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers []string    `json:"identifiers"`
	Connections [][2]string `json:"connections,omitempty"`
	Model       string      `json:"model,omitempty"`
	Name        string      `json:"name"`
	ViaDevice   string      `json:"via_device,omitempty"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic,omitempty"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	ValueTemplate     string   `json:"value_template,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	PayloadPress      string   `json:"payload_press,omitempty"`
	Device            haDevice `json:"device"`
}

const bridgeIdentifier = "p2p_bridge"

// deviceIdentifier returns the unique identifier for HA device registry.
func deviceIdentifier(v manager.DeviceView) string {
	return "p2p_" + v.Address.Key()
}

// deviceTopicName returns the topic name for a peer. Aliases change, the
// address does not, so topics are keyed by address.
func deviceTopicName(v manager.DeviceView) string {
	return v.Address.Key()
}

// buildDiscovery generates HA discovery messages for a peer from its
// advertised capabilities.
func buildDiscovery(v manager.DeviceView, prefix string) []discoveryMsg {
	avail := prefix + "/bridge/state"
	stateTopic := prefix + "/" + deviceTopicName(v)
	nodeID := deviceIdentifier(v)
	displayName := v.DisplayName()

	haDev := haDevice{
		Identifiers: []string{nodeID},
		Connections: [][2]string{{"mac", v.Address.String()}},
		Model:       v.TypeName,
		Name:        displayName,
		ViaDevice:   bridgeIdentifier,
	}

	msgs := []discoveryMsg{
		buildBinarySensor(nodeID, displayName, stateTopic, avail, haDev,
			"presence", "Presence", "presence",
			"{{ 'OFF' if value_json.status == 'unavailable' else 'ON' }}"),
		buildBinarySensor(nodeID, displayName, stateTopic, avail, haDev,
			"connected", "Connected", "connectivity",
			"{{ 'ON' if value_json.status == 'connected' else 'OFF' }}"),
		buildSensor(nodeID, displayName, stateTopic, avail, haDev,
			"status", "Status", "", "", "",
			"{{ value_json.status }}"),
	}

	// Push-button connect needs PBC on the peer.
	if v.WPSPBCSupported() {
		msgs = append(msgs, buildButton(nodeID, displayName, avail, haDev,
			"connect", "Connect", prefix+"/"+deviceTopicName(v)+"/set", `{"action":"connect"}`))
	}

	if v.WFD != nil && v.WFD.Enabled() {
		msgs = append(msgs, buildSensor(nodeID, displayName, stateTopic, avail, haDev,
			"wfd_throughput", "Display Throughput", "data_rate", "Mbit/s", "measurement",
			"{{ value_json.wfd_throughput }}"))
	}

	return msgs
}

// buildBridgeDiscovery describes the host itself: group counts, discovery
// state and a button to start a scan.
func buildBridgeDiscovery(prefix string) []discoveryMsg {
	avail := prefix + "/bridge/state"
	infoTopic := prefix + "/bridge/info"
	haDev := haDevice{
		Identifiers: []string{bridgeIdentifier},
		Model:       "Wi-Fi Direct bridge",
		Name:        "P2P Home",
	}
	return []discoveryMsg{
		buildSensor(bridgeIdentifier, "P2P", infoTopic, avail, haDev,
			"active_groups", "Active Groups", "", "", "measurement",
			"{{ value_json.active_groups }}"),
		buildSensor(bridgeIdentifier, "P2P", infoTopic, avail, haDev,
			"groups", "Persistent Groups", "", "", "measurement",
			"{{ value_json.groups }}"),
		buildSensor(bridgeIdentifier, "P2P", infoTopic, avail, haDev,
			"devices", "Known Devices", "", "", "measurement",
			"{{ value_json.devices }}"),
		buildBinarySensor(bridgeIdentifier, "P2P", infoTopic, avail, haDev,
			"finding", "Discovery", "running",
			"{{ 'ON' if value_json.finding else 'OFF' }}"),
		buildButton(bridgeIdentifier, "P2P", avail, haDev,
			"find", "Find Devices", prefix+"/bridge/request/find", "start"),
	}
}

func buildSensor(nodeID, displayName, stateTopic, avail string, haDev haDevice,
	objectID, suffix, deviceClass, unit, stateClass, valueTmpl string) discoveryMsg {

	topic := fmt.Sprintf("homeassistant/sensor/%s/%s/config", nodeID, objectID)
	payload := haDiscovery{
		Name:              displayName + " " + suffix,
		UniqueID:          nodeID + "_" + objectID,
		StateTopic:        stateTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     valueTmpl,
		UnitOfMeasurement: unit,
		DeviceClass:       deviceClass,
		StateClass:        stateClass,
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildBinarySensor(nodeID, displayName, stateTopic, avail string, haDev haDevice,
	objectID, suffix, deviceClass, valueTmpl string) discoveryMsg {

	topic := fmt.Sprintf("homeassistant/binary_sensor/%s/%s/config", nodeID, objectID)
	payload := haDiscovery{
		Name:              displayName + " " + suffix,
		UniqueID:          nodeID + "_" + objectID,
		StateTopic:        stateTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     valueTmpl,
		DeviceClass:       deviceClass,
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildButton(nodeID, displayName, avail string, haDev haDevice,
	objectID, suffix, cmdTopic, press string) discoveryMsg {

	topic := fmt.Sprintf("homeassistant/button/%s/%s/config", nodeID, objectID)
	payload := haDiscovery{
		Name:              displayName + " " + suffix,
		UniqueID:          nodeID + "_" + objectID,
		CommandTopic:      cmdTopic,
		AvailabilityTopic: avail,
		PayloadPress:      press,
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

// buildRemoveDiscovery generates empty retained messages to remove a peer from HA.
func buildRemoveDiscovery(v manager.DeviceView) []discoveryMsg {
	nodeID := deviceIdentifier(v)

	// Remove all possible component types.
	components := []struct{ comp, obj string }{
		{"binary_sensor", "presence"},
		{"binary_sensor", "connected"},
		{"sensor", "status"},
		{"sensor", "wfd_throughput"},
		{"button", "connect"},
	}

	var msgs []discoveryMsg
	for _, c := range components {
		msgs = append(msgs, discoveryMsg{
			Topic:   fmt.Sprintf("homeassistant/%s/%s/%s/config", c.comp, nodeID, c.obj),
			Payload: nil, // empty retained = delete
		})
	}
	return msgs
}
