package mqtt

import "fmt"

// Every bridge on the Gray Logic bus shares one flat topic scheme:
//
//	graylogic/{category}/{protocol}/{address_or_id}
//
// The C-Bus gateway publishes under protocol "cbus"; sibling bridges
// (knx, dali) use the same hierarchy, so one subscriber can watch the
// whole bus with graylogic/#.
const (
	topicRoot   = "graylogic"
	topicSystem = "graylogic/system"
)

// Topics builds bus topic strings. Always use these rather than
// hand-assembled strings so the scheme stays consistent.
//
//	mqtt.Topics{}.BridgeState("cbus", "HOME-254-56-6")
//	// "graylogic/state/cbus/HOME-254-56-6"
type Topics struct{}

// BridgeState is where a bridge publishes retained device state.
func (Topics) BridgeState(protocol, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", topicRoot, protocol, address)
}

// BridgeCommand is where consumers send commands for one device.
func (Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", topicRoot, protocol, address)
}

// BridgeAck is where a bridge acknowledges a command.
func (Topics) BridgeAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", topicRoot, protocol, address)
}

// BridgeHealth carries a bridge's retained health snapshot.
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", topicRoot, protocol)
}

// BridgeDiscovery carries a bridge's device inventory announcement.
func (Topics) BridgeDiscovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s", topicRoot, protocol)
}

// SystemStatus is the retained online/offline topic, also used as LWT.
func (Topics) SystemStatus() string {
	return topicSystem + "/status"
}

// BridgeCommands matches every command addressed to one bridge.
// Pattern: graylogic/command/cbus/+
func (Topics) BridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", topicRoot, protocol)
}

// AllBridgeStates matches state from every bridge and device.
func (Topics) AllBridgeStates() string {
	return topicRoot + "/state/+/+"
}

// AllBridgeHealth matches health from every bridge.
func (Topics) AllBridgeHealth() string {
	return topicRoot + "/health/+"
}

// AllTopics matches the entire bus. Debugging only.
func (Topics) AllTopics() string {
	return topicRoot + "/#"
}
