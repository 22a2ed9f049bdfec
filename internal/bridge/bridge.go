package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cbus/internal/cbus"
	"github.com/nerrad567/gray-logic-cbus/internal/cgate"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid command topic.
	minTopicParts = 4

	// commandTimeout is the timeout for relaying a command to C-Gate.
	commandTimeout = 5 * time.Second
)

// Bridge relays between the C-Gate session and the MQTT bus.
// It handles:
//   - Receiving commands via MQTT and translating them to group level changes
//   - Publishing observed level changes as retained state messages
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bridgeID string
	mqtt     MQTTClient
	levels   LevelController
	health   *HealthReporter

	// Last published level per group, for change suppression. The event and
	// load-change channels frequently report the same transition twice.
	lastLevels   map[cgate.GroupAddress]int
	lastLevelsMu sync.Mutex

	// Shutdown coordination
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   cgate.Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// LevelController is the slice of the state coordinator the bridge needs:
// commanding group levels. Satisfied by *cbus.Coordinator.
type LevelController interface {
	SetLevel(ctx context.Context, addr cgate.GroupAddress, level int) error
}

// StatsSource provides session statistics for health reporting.
// Satisfied by *cgate.Session.
type StatsSource interface {
	Stats() cgate.Stats
}

// Options holds configuration for creating a bridge.
type Options struct {
	// BridgeID is the bridge identifier used in health messages.
	// Defaults to the protocol name.
	BridgeID string

	// Version is the bridge software version for health messages.
	Version string

	// MQTT is the MQTT client implementation.
	MQTT MQTTClient

	// Levels commands group level changes. Typically *cbus.Coordinator.
	Levels LevelController

	// Stats provides session statistics for health reporting.
	Stats StatsSource

	// GatewayAddr is the C-Gate host address reported in health messages.
	GatewayAddr string

	// HealthInterval is how often to publish health status.
	// Default: 30 seconds.
	HealthInterval time.Duration

	// Logger is optional structured logging.
	Logger cgate.Logger
}

// New creates a new bridge instance. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Levels == nil {
		return nil, fmt.Errorf("level controller is required")
	}

	bridgeID := opts.BridgeID
	if bridgeID == "" {
		bridgeID = Protocol
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		bridgeID:   bridgeID,
		mqtt:       opts.MQTT,
		levels:     opts.Levels,
		lastLevels: make(map[cgate.GroupAddress]int),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:    bridgeID,
		Version:     opts.Version,
		Interval:    opts.HealthInterval,
		Publisher:   opts.MQTT,
		Stats:       opts.Stats,
		GatewayAddr: opts.GatewayAddr,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation: subscribes to command topics and starts
// health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleCommandMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.health.Start(ctx)

	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	b.logInfo("bridge started", "bridge_id", b.bridgeID)
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		// Cancel bridge context to abort in-flight commands
		b.ctxCancel()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		b.logInfo("bridge stopped")
	})
}

// Health returns the bridge's health reporter, for forcing a publish after
// a significant event or adjusting the group count.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// SetGroupCount updates the managed group count reported in health messages.
// Called after discovery completes.
func (b *Bridge) SetGroupCount(count int) {
	b.health.SetGroupCount(count)
}

// OnGroupUpdate publishes one observed level change as a retained state
// message. Wire this to the session's update stream.
//
// Consecutive identical levels for the same group are suppressed: the event
// and load-change channels often carry the same transition, and the noop
// state poll re-reports every group each keepalive interval.
func (b *Bridge) OnGroupUpdate(u cgate.GroupUpdate) {
	level := cgate.ClampLevel(u.Level)

	b.lastLevelsMu.Lock()
	last, seen := b.lastLevels[u.Addr]
	if seen && last == level {
		b.lastLevelsMu.Unlock()
		return
	}
	b.lastLevels[u.Addr] = level
	b.lastLevelsMu.Unlock()

	msg := NewStateMessage(u.Addr, level)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	if err := b.mqtt.Publish(StateTopic(u.Addr), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}
}

// PublishDiscovery announces the discovered network model on the bus.
func (b *Bridge) PublishDiscovery(model *cbus.Model) error {
	msg := NewDiscoveryMessage(b.bridgeID, model)

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal discovery: %w", err)
	}

	if err := b.mqtt.Publish(DiscoveryTopic(), payload, 1, true); err != nil {
		return fmt.Errorf("publish discovery: %w", err)
	}

	b.logInfo("published discovery", "groups", len(msg.Groups))
	return nil
}

// handleCommandMessage processes one command message from the bus.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid command topic", fmt.Errorf("topic: %s", topic))
		return
	}

	addr, err := ParseTopicAddress(parts[len(parts)-1])
	if err != nil {
		b.logError("invalid command address", err)
		return
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"address", addr.String(),
		"command", cmd.Command)

	b.executeCommand(cmd, addr)
}

// executeCommand translates a command into a group level change.
// Acknowledgments (accepted or failed) are published here.
func (b *Bridge) executeCommand(cmd CommandMessage, addr cgate.GroupAddress) {
	var level int

	switch cmd.Command {
	case "on":
		level = cgate.MaxLevel
	case "off":
		level = cgate.MinLevel
	case "set_level":
		levelAny, ok := cmd.Parameters["level"]
		if !ok {
			b.publishAckError(cmd, addr, ErrCodeInvalidParameters, "missing 'level' parameter")
			return
		}
		levelF, ok := levelAny.(float64)
		if !ok {
			b.publishAckError(cmd, addr, ErrCodeInvalidParameters, "'level' must be a number")
			return
		}
		if levelF < cgate.MinLevel || levelF > cgate.MaxLevel {
			b.publishAckError(cmd, addr, ErrCodeInvalidParameters,
				fmt.Sprintf("'level' must be 0-255, got %.2f", levelF))
			return
		}
		level = int(levelF)
	default:
		b.publishAckError(cmd, addr, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown command: %s", cmd.Command))
		return
	}

	// Derive timeout from bridge context so commands are cancelled on shutdown
	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	b.publishAck(cmd, addr, AckAccepted)

	if err := b.levels.SetLevel(ctx, addr, level); err != nil {
		b.publishAckError(cmd, addr, errCodeFor(err), fmt.Sprintf("send failed: %v", err))
		b.logError("command execution failed", err)
	}
}

// errCodeFor maps a send error to an acknowledgment error code.
func errCodeFor(err error) string {
	var protoErr *cgate.ProtocolError
	switch {
	case errors.As(err, &protoErr):
		return ErrCodeProtocolError
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case errors.Is(err, cgate.ErrClosed),
		errors.Is(err, cgate.ErrNotConnected),
		errors.Is(err, cgate.ErrConnectionFailed):
		return ErrCodeGatewayUnreachable
	default:
		return ErrCodeBridgeError
	}
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, addr cgate.GroupAddress, status AckStatus) {
	ack := NewAckMessage(cmd, status, addr.String())

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	if err := b.mqtt.Publish(AckTopic(addr), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, addr cgate.GroupAddress, code, message string) {
	ack := NewAckError(cmd, addr.String(), code, message)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack error", err)
		return
	}

	if err := b.mqtt.Publish(AckTopic(addr), payload, 1, false); err != nil {
		b.logError("failed to publish ack error", err)
	}

	b.logError("command failed", fmt.Errorf("code=%s message=%s", code, message))
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger cgate.Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
