package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the C-Bus gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	CGate    CGateConfig    `yaml:"cgate"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// CGateConfig contains the C-Gate server connection settings.
type CGateConfig struct {
	// Host is the C-Gate server address.
	Host string `yaml:"host"`

	// CommandPort, EventPort and LoadChangePort are the three channel
	// ports. C-Gate's defaults are 20023, 20024 and 20025.
	CommandPort    int `yaml:"command_port"`
	EventPort      int `yaml:"event_port"`
	LoadChangePort int `yaml:"load_change_port"`

	// Project is the C-Gate project name (e.g. "HOME").
	Project string `yaml:"project"`

	// Network is the C-Bus network identifier, usually "254".
	Network string `yaml:"network"`

	// KeepaliveSeconds is the supervisor probe interval. The noop probe
	// doubles as a full state poll.
	KeepaliveSeconds int `yaml:"keepalive_seconds"`

	// CommandRetries is the number of additional attempts after a
	// connection-level command failure.
	CommandRetries int `yaml:"command_retries"`

	// ConnectTimeoutSeconds bounds each channel connect.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`

	// Discovery enables the network walk at startup.
	Discovery bool `yaml:"discovery"`
}

// KeepaliveInterval returns the keepalive probe interval as a Duration.
func (c CGateConfig) KeepaliveInterval() time.Duration {
	return time.Duration(c.KeepaliveSeconds) * time.Second
}

// ConnectTimeout returns the channel connect timeout as a Duration.
func (c CGateConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the YAML file over the defaults, applies CBUSGATE_* env
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Logic C-Bus",
			Timezone: "UTC",
		},
		CGate: CGateConfig{
			Host:                  "localhost",
			CommandPort:           20023,
			EventPort:             20024,
			LoadChangePort:        20025,
			Network:               "254",
			KeepaliveSeconds:      5,
			CommandRetries:        1,
			ConnectTimeoutSeconds: 3,
			Discovery:             true,
		},
		Database: DatabaseConfig{
			Path:        "./data/cbusgate.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "cbusgate",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides maps CBUSGATE_SECTION_KEY variables over the loaded
// file. Only the values that make sense to override per deployment are
// exposed; everything else belongs in the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CBUSGATE_CGATE_HOST"); v != "" {
		cfg.CGate.Host = v
	}
	if v := os.Getenv("CBUSGATE_CGATE_PROJECT"); v != "" {
		cfg.CGate.Project = v
	}
	if v := os.Getenv("CBUSGATE_CGATE_NETWORK"); v != "" {
		cfg.CGate.Network = v
	}

	if v := os.Getenv("CBUSGATE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("CBUSGATE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CBUSGATE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("CBUSGATE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CBUSGATE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("CBUSGATE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("CBUSGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate collects every problem rather than stopping at the first, so
// a misconfigured deployment gets one complete error message.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.CGate.Host == "" {
		errs = append(errs, "cgate.host is required")
	}
	if c.CGate.Project == "" {
		errs = append(errs, "cgate.project is required (set CBUSGATE_CGATE_PROJECT environment variable)")
	}
	if c.CGate.Network == "" {
		errs = append(errs, "cgate.network is required")
	}
	for _, port := range []struct {
		name  string
		value int
	}{
		{"cgate.command_port", c.CGate.CommandPort},
		{"cgate.event_port", c.CGate.EventPort},
		{"cgate.load_change_port", c.CGate.LoadChangePort},
	} {
		if port.value < 1 || port.value > 65535 {
			errs = append(errs, fmt.Sprintf("%s must be between 1 and 65535", port.name))
		}
	}
	if c.CGate.KeepaliveSeconds < 1 {
		errs = append(errs, "cgate.keepalive_seconds must be at least 1")
	}
	if c.CGate.CommandRetries < 0 {
		errs = append(errs, "cgate.command_retries must not be negative")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
