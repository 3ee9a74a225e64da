package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for MeshLab Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Lab       LabConfig       `yaml:"lab"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Booking   BookingConfig   `yaml:"booking"`
	Pairing   PairingConfig   `yaml:"pairing"`
	Fanout    FanoutConfig    `yaml:"fanout"`
}

// LabConfig identifies the lab installation this process serves.
type LabConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
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

	// BaseTopic is the bridge's topic root (zigbee2mqtt convention).
	BaseTopic string `yaml:"base_topic"`
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
//
// Delay is the wait (seconds) between connection attempts, both before the
// first session and after a lost one.
type MQTTReconnectConfig struct {
	Delay int `yaml:"delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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
	SendBuffer     int    `yaml:"send_buffer"`
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains the shared secret used to verify access tokens.
// Tokens are issued by the external identity service; this process only verifies them.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// BookingConfig contains reservation scheduler settings.
type BookingConfig struct {
	// SweepInterval is how often expired bookings are completed (seconds).
	SweepInterval int `yaml:"sweep_interval"`
}

// PairingConfig contains device pairing window settings.
type PairingConfig struct {
	DefaultDuration int `yaml:"default_duration"`
	MaxDuration     int `yaml:"max_duration"`
	// ConfirmWait is how long ConfirmDevice waits for the refreshed snapshot (seconds).
	ConfirmWait int `yaml:"confirm_wait"`
}

// FanoutConfig contains real-time push settings.
type FanoutConfig struct {
	// DrainTimeout bounds how long shutdown waits for in-flight publishes (seconds).
	DrainTimeout int `yaml:"drain_timeout"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: MESHLAB_SECTION_KEY
// For example: MESHLAB_DATABASE_PATH, MESHLAB_MQTT_HOST
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
		Lab: LabConfig{
			ID:       "lab-001",
			Name:     "MeshLab",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/meshlab.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "meshlab-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				Delay: 5,
			},
			BaseTopic: "zigbee2mqtt",
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
			SendBuffer:     256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Booking: BookingConfig{
			SweepInterval: 60,
		},
		Pairing: PairingConfig{
			DefaultDuration: 120,
			MaxDuration:     254,
			ConfirmWait:     3,
		},
		Fanout: FanoutConfig{
			DrainTimeout: 5,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MESHLAB_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("MESHLAB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MESHLAB_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("MESHLAB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MESHLAB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("MESHLAB_MQTT_BASE_TOPIC"); v != "" {
		cfg.MQTT.BaseTopic = v
	}

	if v := os.Getenv("MESHLAB_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("MESHLAB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// JWT secret: always override in production
	if v := os.Getenv("MESHLAB_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Lab.ID == "" {
		errs = append(errs, "lab.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if strings.Trim(c.MQTT.BaseTopic, "/") == "" {
		errs = append(errs, "mqtt.base_topic is required")
	}
	if c.MQTT.Reconnect.Delay < 1 {
		errs = append(errs, "mqtt.reconnect.delay must be at least 1 second")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Booking.SweepInterval < 1 {
		errs = append(errs, "booking.sweep_interval must be at least 1 second")
	}

	if c.Pairing.MaxDuration < 1 {
		errs = append(errs, "pairing.max_duration must be at least 1 second")
	}
	if c.Pairing.DefaultDuration < 1 || c.Pairing.DefaultDuration > c.Pairing.MaxDuration {
		errs = append(errs, "pairing.default_duration must be between 1 and pairing.max_duration")
	}

	if c.Fanout.DrainTimeout < 1 {
		errs = append(errs, "fanout.drain_timeout must be at least 1 second")
	}

	// Tokens gate device control and reservations for every student account.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set MESHLAB_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
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

// SweepInterval returns how often expired bookings are completed.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Booking.SweepInterval) * time.Second
}

// PairingDefaultDuration returns the pairing window used when a request omits one.
func (c *Config) PairingDefaultDuration() time.Duration {
	return time.Duration(c.Pairing.DefaultDuration) * time.Second
}

// PairingMaxDuration returns the longest pairing window an operator may open.
func (c *Config) PairingMaxDuration() time.Duration {
	return time.Duration(c.Pairing.MaxDuration) * time.Second
}

// PairingConfirmWait returns how long device confirmation waits for a fresh snapshot.
func (c *Config) PairingConfirmWait() time.Duration {
	return time.Duration(c.Pairing.ConfirmWait) * time.Second
}

// FanoutDrainTimeout returns how long shutdown waits for in-flight publishes.
func (c *Config) FanoutDrainTimeout() time.Duration {
	return time.Duration(c.Fanout.DrainTimeout) * time.Second
}
