package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validJWTSecret = "test-secret-key-at-least-32-chars!"

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
lab:
  id: "physics-lab"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "broker.lab"
    port: 1884
  base_topic: "z2m"
booking:
  sweep_interval: 30
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Lab.ID != "physics-lab" {
		t.Errorf("Lab.ID = %q, want %q", cfg.Lab.ID, "physics-lab")
	}
	if cfg.MQTT.Broker.Host != "broker.lab" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.lab")
	}
	if cfg.MQTT.BaseTopic != "z2m" {
		t.Errorf("MQTT.BaseTopic = %q, want %q", cfg.MQTT.BaseTopic, "z2m")
	}
	if got := cfg.SweepInterval(); got != 30*time.Second {
		t.Errorf("SweepInterval() = %v, want 30s", got)
	}
	// Unset sections keep their defaults.
	if cfg.Pairing.MaxDuration != 254 {
		t.Errorf("Pairing.MaxDuration = %d, want 254", cfg.Pairing.MaxDuration)
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
lab:
  id: ""
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() expected validation error for empty lab.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing lab id", mutate: func(c *Config) { c.Lab.ID = "" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid qos", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "empty base topic", mutate: func(c *Config) { c.MQTT.BaseTopic = "/" }, wantErr: true},
		{name: "zero reconnect delay", mutate: func(c *Config) { c.MQTT.Reconnect.Delay = 0 }, wantErr: true},
		{name: "invalid port", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "zero sweep interval", mutate: func(c *Config) { c.Booking.SweepInterval = 0 }, wantErr: true},
		{
			name:    "default pairing longer than max",
			mutate:  func(c *Config) { c.Pairing.DefaultDuration = c.Pairing.MaxDuration + 1 },
			wantErr: true,
		},
		{name: "zero drain timeout", mutate: func(c *Config) { c.Fanout.DrainTimeout = 0 }, wantErr: true},
		{name: "negative drain timeout", mutate: func(c *Config) { c.Fanout.DrainTimeout = -1 }, wantErr: true},
		{name: "missing jwt secret", mutate: func(c *Config) { c.Security.JWT.Secret = "" }, wantErr: true},
		{name: "short jwt secret", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Security.JWT.Secret = validJWTSecret
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60},
		},
		Pairing: PairingConfig{DefaultDuration: 120, MaxDuration: 254, ConfirmWait: 3},
		Fanout:  FanoutConfig{DrainTimeout: 5},
	}

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"read", cfg.GetReadTimeout(), 30 * time.Second},
		{"write", cfg.GetWriteTimeout(), 45 * time.Second},
		{"idle", cfg.GetIdleTimeout(), 60 * time.Second},
		{"pairing default", cfg.PairingDefaultDuration(), 120 * time.Second},
		{"pairing max", cfg.PairingMaxDuration(), 254 * time.Second},
		{"confirm wait", cfg.PairingConfirmWait(), 3 * time.Second},
		{"drain", cfg.FanoutDrainTimeout(), 5 * time.Second},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("MESHLAB_DATABASE_PATH", "/custom/path.db")
	t.Setenv("MESHLAB_MQTT_HOST", "mqtt.example.com")
	t.Setenv("MESHLAB_MQTT_PORT", "8883")
	t.Setenv("MESHLAB_MQTT_USERNAME", "testuser")
	t.Setenv("MESHLAB_MQTT_PASSWORD", "testpass")
	t.Setenv("MESHLAB_MQTT_BASE_TOPIC", "mesh")
	t.Setenv("MESHLAB_API_HOST", "192.168.1.1")
	t.Setenv("MESHLAB_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("MESHLAB_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   any
		want  any
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Broker.Port", cfg.MQTT.Broker.Port, 8883},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"MQTT.BaseTopic", cfg.MQTT.BaseTopic, "mesh"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.field, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides_InvalidPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("MESHLAB_MQTT_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Lab.ID == "" {
		t.Error("defaultConfig should have non-empty Lab.ID")
	}
	if cfg.MQTT.BaseTopic != "zigbee2mqtt" {
		t.Errorf("defaultConfig MQTT.BaseTopic = %q, want zigbee2mqtt", cfg.MQTT.BaseTopic)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
}
