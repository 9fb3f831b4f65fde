package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the beacon station.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Station     StationConfig     `yaml:"station"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Zigbee2MQTT Zigbee2MQTTConfig `yaml:"zigbee2mqtt"`
	Cloud       CloudConfig       `yaml:"cloud"`
	Automation  AutomationConfig  `yaml:"automation"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// StationConfig identifies this beacon station.
type StationConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// Zigbee2MQTTConfig contains settings for the zigbee2mqtt adapter.
type Zigbee2MQTTConfig struct {
	Enabled   bool                 `yaml:"enabled"`
	BaseTopic string               `yaml:"base_topic"`
	Process   ManagedProcessConfig `yaml:"process"`
}

// ManagedProcessConfig describes a daemon the station launches and keeps
// running itself. Delays are in seconds.
type ManagedProcessConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Binary             string   `yaml:"binary"`
	Args               []string `yaml:"args"`
	WorkDir            string   `yaml:"work_dir"`
	Env                []string `yaml:"env"`
	RestartDelay       int      `yaml:"restart_delay"`
	MaxRestartDelay    int      `yaml:"max_restart_delay"`
	MaxRestartAttempts int      `yaml:"max_restart_attempts"`
	GracefulTimeout    int      `yaml:"graceful_timeout"`
}

// CloudConfig contains settings for the remote device/process catalog.
type CloudConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	BaseURL        string               `yaml:"base_url"`
	EventsURL      string               `yaml:"events_url"`
	Token          string               `yaml:"token"`
	RequestTimeout int                  `yaml:"request_timeout"`
	Breaker        CircuitBreakerConfig `yaml:"breaker"`
}

// CircuitBreakerConfig contains circuit breaker thresholds for cloud calls.
type CircuitBreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	OpenTimeout      int `yaml:"open_timeout"`
}

// AutomationConfig contains automation engine and maintenance settings.
type AutomationConfig struct {
	CatalogRefresh   string `yaml:"catalog_refresh"`
	HistoryPrune     string `yaml:"history_prune"`
	HistoryRetention int    `yaml:"history_retention_days"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains rotating file log settings.
type FileLoggingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BEACON_SECTION_KEY
// For example: BEACON_DATABASE_PATH, BEACON_CLOUD_TOKEN
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
		Station: StationConfig{
			ID:   "beacon-001",
			Name: "Beacon",
		},
		Database: DatabaseConfig{
			Path:        "./data/beacon.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "beacon",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Zigbee2MQTT: Zigbee2MQTTConfig{
			BaseTopic: "zigbee2mqtt",
			Process: ManagedProcessConfig{
				RestartDelay:    5,
				MaxRestartDelay: 300,
				GracefulTimeout: 10,
			},
		},
		Cloud: CloudConfig{
			RequestTimeout: 10,
			Breaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				OpenTimeout:      30,
			},
		},
		Automation: AutomationConfig{
			CatalogRefresh:   "@every 5m",
			HistoryPrune:     "0 3 * * *",
			HistoryRetention: 30,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/beacon.log",
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     28,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BEACON_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BEACON_STATION_ID"); v != "" {
		cfg.Station.ID = v
	}

	if v := os.Getenv("BEACON_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("BEACON_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BEACON_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("BEACON_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BEACON_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("BEACON_CLOUD_URL"); v != "" {
		cfg.Cloud.BaseURL = v
	}
	if v := os.Getenv("BEACON_CLOUD_EVENTS_URL"); v != "" {
		cfg.Cloud.EventsURL = v
	}
	if v := os.Getenv("BEACON_CLOUD_TOKEN"); v != "" {
		cfg.Cloud.Token = v
	}

	if v := os.Getenv("BEACON_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("BEACON_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("BEACON_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: All validation failures joined, or nil if valid
func (c *Config) Validate() error {
	var errs []error

	if c.Station.ID == "" {
		errs = append(errs, errors.New("station.id is required"))
	}

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt.qos must be 0, 1, or 2"))
	}

	if c.Zigbee2MQTT.Enabled && c.Zigbee2MQTT.BaseTopic == "" {
		errs = append(errs, errors.New("zigbee2mqtt.base_topic is required when enabled"))
	}
	if c.Zigbee2MQTT.Process.Enabled && c.Zigbee2MQTT.Process.Binary == "" {
		errs = append(errs, errors.New("zigbee2mqtt.process.binary is required when the process is managed"))
	}

	if c.Cloud.Enabled {
		if c.Cloud.BaseURL == "" {
			errs = append(errs, errors.New("cloud.base_url is required when enabled (set BEACON_CLOUD_URL)"))
		}
		if c.Cloud.Token == "" {
			errs = append(errs, errors.New("cloud.token is required when enabled (set BEACON_CLOUD_TOKEN)"))
		}
		if c.Cloud.Breaker.FailureThreshold < 1 {
			errs = append(errs, errors.New("cloud.breaker.failure_threshold must be at least 1"))
		}
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, errors.New("api.port must be between 1 and 65535"))
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, errors.New("influxdb.url is required when enabled"))
	}

	if c.Automation.HistoryRetention < 0 {
		errs = append(errs, errors.New("automation.history_retention_days must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %w", errors.Join(errs...))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetCloudTimeout returns the per-request cloud timeout as a Duration.
func (c *Config) GetCloudTimeout() time.Duration {
	return time.Duration(c.Cloud.RequestTimeout) * time.Second
}

// GetBreakerOpenTimeout returns how long the cloud breaker stays open.
func (c *Config) GetBreakerOpenTimeout() time.Duration {
	return time.Duration(c.Cloud.Breaker.OpenTimeout) * time.Second
}

// GetHistoryRetention returns the state history retention window.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Automation.HistoryRetention) * 24 * time.Hour
}
