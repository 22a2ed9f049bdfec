// Gray Logic C-Bus Gateway
//
// This is the main entry point for the C-Bus gateway. It connects to a
// C-Gate server over its three plain-text TCP channels, tracks group
// levels, and exposes the network on the Gray Logic MQTT bus:
//   - Retained state messages for every observed level change
//   - Command topics (on, off, set_level) with per-command acknowledgements
//   - Periodic health reporting and startup discovery announcements
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-cbus/migrations"

	"github.com/nerrad567/gray-logic-cbus/internal/bridge"
	"github.com/nerrad567/gray-logic-cbus/internal/cbus"
	"github.com/nerrad567/gray-logic-cbus/internal/cgate"
	"github.com/nerrad567/gray-logic-cbus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cbus/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-cbus/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-cbus/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cbus/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// statsInterval is how often session counters are written to InfluxDB.
const statsInterval = 60 * time.Second

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting C-Bus gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Start the group recorder (persists discovered groups and last levels)
	recorder := cbus.NewGroupRecorder(db.DB)
	recorder.SetLogger(log)
	if startErr := recorder.Start(); startErr != nil {
		return fmt.Errorf("starting group recorder: %w", startErr)
	}
	defer func() {
		log.Info("stopping group recorder")
		recorder.Stop()
	}()

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	var metricWriter cbus.MetricWriter
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		metricWriter = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}
	history := cbus.NewLevelHistory(metricWriter)

	// Connect to C-Gate
	session, err := cgate.Connect(ctx, cgate.Config{
		Host:              cfg.CGate.Host,
		CommandPort:       cfg.CGate.CommandPort,
		EventPort:         cfg.CGate.EventPort,
		LoadChangePort:    cfg.CGate.LoadChangePort,
		KeepaliveInterval: cfg.CGate.KeepaliveInterval(),
		CommandRetries:    cfg.CGate.CommandRetries,
		ConnectTimeout:    cfg.CGate.ConnectTimeout(),
		Logger:            log,
	})
	if err != nil {
		return fmt.Errorf("connecting to C-Gate: %w", err)
	}
	defer func() {
		log.Info("closing C-Gate session")
		if closeErr := session.Close(); closeErr != nil {
			log.Error("error closing C-Gate session", "error", closeErr)
		}
	}()
	log.Info("C-Gate connected", "host", cfg.CGate.Host)

	// The coordinator owns the last-known-level cache. It receives every
	// normalised update before the fan-out callbacks run.
	coordinator := cbus.NewCoordinator(session, log)
	session.SetGroupUpdateCallback(coordinator.OnUpdate)

	// Start the MQTT bridge
	cbusBridge, err := startBridge(ctx, cfg, session, coordinator, mqttClient, log)
	if err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		cbusBridge.Stop()
	}()

	// Fan observed updates out to the bridge, the SQLite recorder and the
	// time-series history. Callback order is registration order.
	session.RegisterGlobalCallback(cbusBridge.OnGroupUpdate)
	session.RegisterGlobalCallback(recorder.RecordLevel)
	session.RegisterGlobalCallback(history.RecordUpdate)

	// Walk the network at startup (optional)
	if cfg.CGate.Discovery {
		if discErr := runDiscovery(ctx, cfg, session, recorder, cbusBridge, log); discErr != nil {
			// Discovery failure is not fatal: state tracking and commands
			// work without a model, groups are learned from traffic.
			log.Warn("discovery failed", "error", discErr)
		}
	} else {
		log.Info("discovery disabled")
	}

	// Periodic session counters to InfluxDB
	if influxClient != nil {
		go reportSessionStats(ctx, session, influxClient, cfg.Site.ID)
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. Bridge
	// 2. C-Gate session
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Group recorder
	// 6. Database

	log.Info("C-Bus gateway stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses CBUSGATE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("CBUSGATE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startBridge wires the MQTT bridge to the C-Gate session and starts it.
func startBridge(ctx context.Context, cfg *config.Config, session *cgate.Session, coordinator *cbus.Coordinator, mqttClient *mqtt.Client, log *logging.Logger) (*bridge.Bridge, error) {
	adapter := &mqttBridgeAdapter{client: mqttClient}

	b, err := bridge.New(bridge.Options{
		Version:     version,
		MQTT:        adapter,
		Levels:      coordinator,
		Stats:       session,
		GatewayAddr: fmt.Sprintf("%s:%d", cfg.CGate.Host, cfg.CGate.CommandPort),
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := b.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("bridge started")

	return b, nil
}

// runDiscovery walks the configured network, persists the result and
// announces it on the discovery topic.
func runDiscovery(ctx context.Context, cfg *config.Config, session *cgate.Session, recorder *cbus.GroupRecorder, b *bridge.Bridge, log *logging.Logger) error {
	disc := cbus.NewDiscovery(session, log)

	model, err := disc.Discover(ctx, cfg.CGate.Project, cfg.CGate.Network)
	if err != nil {
		return err
	}
	log.Info("discovery complete",
		"project", model.Project,
		"network", model.Network,
		"applications", len(model.Applications),
		"groups", model.GroupCount(),
	)

	recorder.RecordModel(model)
	b.SetGroupCount(model.GroupCount())

	if err := b.PublishDiscovery(model); err != nil {
		return fmt.Errorf("publishing discovery: %w", err)
	}
	return nil
}

// reportSessionStats periodically writes the session counters to InfluxDB.
// Runs until the context is cancelled.
func reportSessionStats(ctx context.Context, session *cgate.Session, influxClient *influxdb.Client, siteID string) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := session.Stats()
			influxClient.WriteSessionStats(siteID, map[string]interface{}{
				"lines_rx":          int64(stats.LinesRx),
				"updates_rx":        int64(stats.UpdatesRx),
				"commands_tx":       int64(stats.CommandsTx),
				"stream_reconnects": int64(stats.StreamReconnects),
				"connected":         stats.Connected,
				"event_up":          stats.EventUp,
				"load_change_up":    stats.LoadChangeUp,
			})
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil if disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// C-Gate session health is verified during Connect() - all three
	// channels are established before it returns successfully.

	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic string, payload []byte) error
// - Bridge expects: func(topic string, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (bridge handlers don't return errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
