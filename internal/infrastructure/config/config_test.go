package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
station:
  id: "test-station"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
zigbee2mqtt:
  enabled: true
  base_topic: "z2m"
cloud:
  enabled: true
  base_url: "https://cloud.example.com"
  token: "token"
automation:
  catalog_refresh: "@every 1m"
api:
  port: 8080
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Station.ID != "test-station" {
		t.Errorf("Station.ID = %q, want %q", cfg.Station.ID, "test-station")
	}
	if cfg.Zigbee2MQTT.BaseTopic != "z2m" {
		t.Errorf("Zigbee2MQTT.BaseTopic = %q, want %q", cfg.Zigbee2MQTT.BaseTopic, "z2m")
	}
	if cfg.Automation.CatalogRefresh != "@every 1m" {
		t.Errorf("Automation.CatalogRefresh = %q, want %q", cfg.Automation.CatalogRefresh, "@every 1m")
	}
	// Unset values keep their defaults.
	if cfg.Cloud.Breaker.FailureThreshold != 5 {
		t.Errorf("Cloud.Breaker.FailureThreshold = %d, want 5", cfg.Cloud.Breaker.FailureThreshold)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
station:
  id: ""
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() expected validation error for empty station.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config { return defaultConfig() }

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing station ID", mutate: func(c *Config) { c.Station.ID = "" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{
			name:    "zigbee2mqtt without base topic",
			mutate:  func(c *Config) { c.Zigbee2MQTT.Enabled = true; c.Zigbee2MQTT.BaseTopic = "" },
			wantErr: true,
		},
		{
			name:    "managed zigbee2mqtt without binary",
			mutate:  func(c *Config) { c.Zigbee2MQTT.Process.Enabled = true },
			wantErr: true,
		},
		{
			name:    "cloud enabled without url",
			mutate:  func(c *Config) { c.Cloud.Enabled = true; c.Cloud.Token = "t" },
			wantErr: true,
		},
		{
			name: "cloud enabled and complete",
			mutate: func(c *Config) {
				c.Cloud.Enabled = true
				c.Cloud.BaseURL = "https://cloud.example.com"
				c.Cloud.Token = "t"
			},
		},
		{
			name:    "influx enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
		{
			name:    "negative retention",
			mutate:  func(c *Config) { c.Automation.HistoryRetention = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateReportsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Station.ID = ""
	cfg.Database.Path = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"station.id", "database.path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q missing %q", err, want)
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60}},
		Cloud: CloudConfig{
			RequestTimeout: 7,
			Breaker:        CircuitBreakerConfig{OpenTimeout: 20},
		},
		Automation: AutomationConfig{HistoryRetention: 2},
	}

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 45*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 45s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
	if got := cfg.GetCloudTimeout(); got != 7*time.Second {
		t.Errorf("GetCloudTimeout() = %v, want 7s", got)
	}
	if got := cfg.GetBreakerOpenTimeout(); got != 20*time.Second {
		t.Errorf("GetBreakerOpenTimeout() = %v, want 20s", got)
	}
	if got := cfg.GetHistoryRetention(); got != 48*time.Hour {
		t.Errorf("GetHistoryRetention() = %v, want 48h", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("BEACON_STATION_ID", "station-9")
	t.Setenv("BEACON_DATABASE_PATH", "/custom/path.db")
	t.Setenv("BEACON_MQTT_HOST", "mqtt.example.com")
	t.Setenv("BEACON_MQTT_PORT", "8883")
	t.Setenv("BEACON_MQTT_USERNAME", "testuser")
	t.Setenv("BEACON_MQTT_PASSWORD", "testpass")
	t.Setenv("BEACON_CLOUD_URL", "https://cloud.example.com")
	t.Setenv("BEACON_CLOUD_TOKEN", "cloud-token")
	t.Setenv("BEACON_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("BEACON_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"Station.ID", cfg.Station.ID, "station-9"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Broker.Port", cfg.MQTT.Broker.Port, 8883},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"Cloud.BaseURL", cfg.Cloud.BaseURL, "https://cloud.example.com"},
		{"Cloud.Token", cfg.Cloud.Token, "cloud-token"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides_InvalidPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("BEACON_MQTT_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Station.ID == "" {
		t.Error("defaultConfig should have non-empty Station.ID")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Zigbee2MQTT.BaseTopic != "zigbee2mqtt" {
		t.Errorf("defaultConfig Zigbee2MQTT.BaseTopic = %q, want zigbee2mqtt", cfg.Zigbee2MQTT.BaseTopic)
	}
	if cfg.Automation.CatalogRefresh == "" {
		t.Error("defaultConfig should have a catalog refresh schedule")
	}
}
