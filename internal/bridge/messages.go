package bridge

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-cbus/internal/cbus"
	"github.com/nerrad567/gray-logic-cbus/internal/cgate"
	"github.com/nerrad567/gray-logic-cbus/internal/infrastructure/mqtt"
)

// MQTT message types exchanged between the C-Bus bridge and the rest of the
// Gray Logic bus. All payloads are JSON; timestamps are UTC ISO8601.

// Protocol is the protocol identifier carried in every bridge message and
// topic segment.
const Protocol = "cbus"

// CommandMessage is received by the bridge to change a group level.
// Topic: graylogic/command/cbus/{address}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Command is the command name: "on", "off" or "set_level".
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Example: {"level": 128} for set_level.
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	// Values: "api", "automation", "voice", "scene"
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was received and sent to C-Gate.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates C-Gate did not respond within the timeout.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is published by the bridge to acknowledge a command.
// Topic: graylogic/ack/cbus/{address}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Protocol is the protocol identifier ("cbus").
	Protocol string `json:"protocol"`

	// Address is the group address in protocol form (e.g., "//HOME/254/56/6").
	Address string `json:"address"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "GATEWAY_UNREACHABLE", "INVALID_COMMAND").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeGatewayUnreachable = "GATEWAY_UNREACHABLE"
	ErrCodeInvalidCommand     = "INVALID_COMMAND"
	ErrCodeInvalidParameters  = "INVALID_PARAMETERS"
	ErrCodeProtocolError      = "PROTOCOL_ERROR"
	ErrCodeTimeout            = "TIMEOUT"
	ErrCodeBridgeError        = "BRIDGE_ERROR"
)

// StateMessage is published by the bridge when a group level changes.
// Topic: graylogic/state/cbus/{address}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// Timestamp is when the level was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Level is the observed level, 0-255.
	Level int `json:"level"`

	// On is true when the level is non-zero.
	On bool `json:"on"`

	// Protocol is the protocol identifier ("cbus").
	Protocol string `json:"protocol"`

	// Address is the group address in protocol form.
	Address string `json:"address"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published by the bridge to report operational status.
// Topic: graylogic/health/cbus
// QoS: 1, Retained: Yes
type HealthMessage struct {
	// Bridge is the bridge identifier (e.g., "cbus").
	Bridge string `json:"bridge"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Connection contains C-Gate connection details.
	Connection *ConnectionStatus `json:"connection,omitempty"`

	// Statistics contains operational metrics.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// GroupsManaged is the number of discovered groups.
	GroupsManaged int `json:"groups_managed"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the C-Gate connection state.
type ConnectionStatus struct {
	// Status is the connection status ("connected", "disconnected").
	Status string `json:"status"`

	// Address is the C-Gate host address.
	Address string `json:"address"`

	// EventChannelUp reports whether the event channel is attached.
	EventChannelUp bool `json:"event_channel_up"`

	// LoadChangeChannelUp reports whether the load-change channel is attached.
	LoadChangeChannelUp bool `json:"load_change_channel_up"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	// LinesReceived is the total number of protocol lines received.
	LinesReceived uint64 `json:"lines_received"`

	// UpdatesReceived is the total number of group updates classified.
	UpdatesReceived uint64 `json:"updates_received"`

	// CommandsSent is the total number of commands sent to C-Gate.
	CommandsSent uint64 `json:"commands_sent"`

	// StreamReconnects counts streaming channel reattachments.
	StreamReconnects uint64 `json:"stream_reconnects"`
}

// DiscoveryMessage announces the discovered network model.
// Topic: graylogic/discovery/cbus
type DiscoveryMessage struct {
	// Timestamp is when discovery was performed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Groups contains the discovered groups.
	Groups []DiscoveredGroup `json:"groups"`
}

// DiscoveredGroup represents one group found during discovery.
type DiscoveredGroup struct {
	// Protocol is the protocol identifier.
	Protocol string `json:"protocol"`

	// Address is the group address in protocol form.
	Address string `json:"address"`

	// Name is the Toolkit tag name or fallback.
	Name string `json:"name"`

	// DeviceClass is the classified device type (light, fan, keypad, ...).
	DeviceClass string `json:"device_class"`

	// IsLoad reports whether the group drives a physical load.
	IsLoad bool `json:"is_load"`

	// Units is the raw comma-separated unit list from C-Gate.
	Units string `json:"units,omitempty"`
}

// MarshalJSON marshals a CommandMessage to JSON.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON unmarshals a CommandMessage from JSON.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewStateMessage creates a state message for a group level.
func NewStateMessage(addr cgate.GroupAddress, level int) StateMessage {
	return StateMessage{
		Timestamp: time.Now().UTC(),
		Level:     level,
		On:        level > 0,
		Protocol:  Protocol,
		Address:   addr.String(),
	}
}

// NewHealthMessage creates a health status message from session statistics.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats cgate.Stats, groupCount int, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:        bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		GroupsManaged: groupCount,
	}

	connStatus := "disconnected"
	if stats.Connected {
		connStatus = "connected"
	}
	msg.Connection = &ConnectionStatus{
		Status:              connStatus,
		EventChannelUp:      stats.EventUp,
		LoadChangeChannelUp: stats.LoadChangeUp,
	}

	msg.Statistics = &BridgeStatistics{
		LinesReceived:    stats.LinesRx,
		UpdatesReceived:  stats.UpdatesRx,
		CommandsSent:     stats.CommandsTx,
		StreamReconnects: stats.StreamReconnects,
	}

	return msg
}

// NewDiscoveryMessage flattens a discovered network model into an
// announcement, one entry per group.
func NewDiscoveryMessage(bridgeID string, model *cbus.Model) DiscoveryMessage {
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    bridgeID,
	}
	if model == nil {
		return msg
	}

	for appID, app := range model.Applications {
		for groupID, info := range app.Groups {
			addr := cgate.GroupAddress{
				Project:     model.Project,
				Network:     model.Network,
				Application: appID,
				Group:       groupID,
			}
			msg.Groups = append(msg.Groups, DiscoveredGroup{
				Protocol:    Protocol,
				Address:     addr.String(),
				Name:        info.Name,
				DeviceClass: info.DeviceClass,
				IsLoad:      info.IsLoad,
				Units:       info.Units,
			})
		}
	}
	return msg
}

// Topic helpers
//
// Topic strings come from mqtt.Topics so the bus-wide scheme has one
// source of truth; this package contributes only the protocol identifier
// and the dash-encoded address segment.

// topicAddressParts is the number of segments in an encoded topic address.
const topicAddressParts = 4

// TopicAddress encodes a group address for use as an MQTT topic segment.
// Slashes are not permitted inside a topic level, so the protocol form
// //HOME/254/56/6 becomes HOME-254-56-6.
func TopicAddress(addr cgate.GroupAddress) string {
	return fmt.Sprintf("%s-%s-%d-%d", addr.Project, addr.Network, addr.Application, addr.Group)
}

// ParseTopicAddress decodes a topic segment produced by TopicAddress.
// The last three segments are numeric; anything before them is the project
// name, which may itself contain dashes.
func ParseTopicAddress(s string) (cgate.GroupAddress, error) {
	parts := strings.Split(s, "-")
	if len(parts) < topicAddressParts {
		return cgate.GroupAddress{}, fmt.Errorf("invalid topic address %q", s)
	}

	n := len(parts)
	project := strings.Join(parts[:n-3], "-")
	network := parts[n-3]

	app, err := strconv.Atoi(parts[n-2])
	if err != nil {
		return cgate.GroupAddress{}, fmt.Errorf("invalid topic address %q: application", s)
	}
	group, err := strconv.Atoi(parts[n-1])
	if err != nil {
		return cgate.GroupAddress{}, fmt.Errorf("invalid topic address %q: group", s)
	}
	if project == "" {
		return cgate.GroupAddress{}, fmt.Errorf("invalid topic address %q: project", s)
	}

	return cgate.GroupAddress{
		Project:     project,
		Network:     network,
		Application: app,
		Group:       group,
	}, nil
}

// CommandTopic returns the MQTT topic for commands to a specific group.
// Example: graylogic/command/cbus/HOME-254-56-6
func CommandTopic(addr cgate.GroupAddress) string {
	return mqtt.Topics{}.BridgeCommand(Protocol, TopicAddress(addr))
}

// AckTopic returns the MQTT topic for command acknowledgments.
// Example: graylogic/ack/cbus/HOME-254-56-6
func AckTopic(addr cgate.GroupAddress) string {
	return mqtt.Topics{}.BridgeAck(Protocol, TopicAddress(addr))
}

// StateTopic returns the MQTT topic for group state updates.
// Example: graylogic/state/cbus/HOME-254-56-6
func StateTopic(addr cgate.GroupAddress) string {
	return mqtt.Topics{}.BridgeState(Protocol, TopicAddress(addr))
}

// HealthTopic returns the MQTT topic for bridge health status.
// Example: graylogic/health/cbus
func HealthTopic() string {
	return mqtt.Topics{}.BridgeHealth(Protocol)
}

// DiscoveryTopic returns the MQTT topic for group discovery announcements.
// Example: graylogic/discovery/cbus
func DiscoveryTopic() string {
	return mqtt.Topics{}.BridgeDiscovery(Protocol)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
// Example: graylogic/command/cbus/+
func CommandSubscribeTopic() string {
	return mqtt.Topics{}.BridgeCommands(Protocol)
}
