package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cbus/internal/cgate"
)

// defaultHealthInterval is how often health status is published when the
// configuration does not say otherwise.
const defaultHealthInterval = 30 * time.Second

// HealthReporter publishes a retained health snapshot on the bridge health
// topic at a fixed interval.
//
// Crash detection is not this topic's job: the MQTT client's Last Will on
// the system status topic is the crash signal. Consumers pair the retained
// offline status there with this snapshot's timestamp to recognise a stale
// "healthy".
type HealthReporter struct {
	bridgeID    string
	version     string
	startTime   time.Time
	interval    time.Duration
	publisher   HealthPublisher
	stats       StatsSource
	gatewayAddr string

	// Group count (updated after discovery)
	groupCount   int
	groupCountMu sync.RWMutex

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   cgate.Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID is the bridge identifier for health messages.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Stats provides C-Gate session statistics. May be nil.
	Stats StatsSource

	// GatewayAddr is the C-Gate host address reported in health messages.
	GatewayAddr string
}

// NewHealthReporter creates a new health reporter.
// Call Start to begin periodic reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		bridgeID:    cfg.BridgeID,
		version:     cfg.Version,
		startTime:   time.Now(),
		interval:    interval,
		publisher:   cfg.Publisher,
		stats:       cfg.Stats,
		gatewayAddr: cfg.GatewayAddr,
		done:        make(chan struct{}),
	}
}

// Start begins periodic health reporting.
// Must be called after creation. Call Stop to shut down.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		// Publish final stopping status (best-effort, ignore errors)
		//nolint:errcheck // Best-effort during shutdown, nothing we can do if it fails
		h.publishStatus(HealthStopping, "")
	})
}

// SetGroupCount updates the managed group count.
// Called when discovery completes or the model is reloaded.
func (h *HealthReporter) SetGroupCount(count int) {
	h.groupCountMu.Lock()
	h.groupCount = count
	h.groupCountMu.Unlock()
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger cgate.Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
// Called during bridge initialization.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
// Useful for forcing an update after a significant event.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	if h.stats != nil {
		stats := h.stats.Stats()
		if !stats.Connected {
			return HealthDegraded, "C-Gate disconnected"
		}
		if !stats.EventUp || !stats.LoadChangeUp {
			return HealthDegraded, "streaming channel down"
		}
	}

	return HealthHealthy, ""
}

// publishStatus publishes a health status message.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil // No publisher configured
	}

	h.groupCountMu.RLock()
	groupCount := h.groupCount
	h.groupCountMu.RUnlock()

	var stats cgate.Stats
	if h.stats != nil {
		stats = h.stats.Stats()
	}

	msg := NewHealthMessage(h.bridgeID, h.version, status, stats, groupCount, h.startTime)
	if reason != "" {
		msg.Reason = reason
	}
	if msg.Connection != nil {
		msg.Connection.Address = h.gatewayAddr
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// Publish (QoS 1, retained)
	return h.publisher.Publish(HealthTopic(), payload, 1, true)
}

// logError logs an error if logger is set.
func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
