package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Zigbee gateway.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway  GatewayConfig  `yaml:"gateway"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Zigbee   ZigbeeConfig   `yaml:"zigbee"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// GatewayConfig identifies this gateway instance.
type GatewayConfig struct {
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// ZigbeeConfig contains settings for the mesh engine and the coordinator link.
type ZigbeeConfig struct {
	// BaseTopic is the coordinator's MQTT topic prefix.
	// Default: "zigbee2mqtt"
	BaseTopic string `yaml:"base_topic"`

	// RequestTimeout bounds every request/response exchange with the coordinator
	// (ping, configure, permit join, reads).
	// Default: 10s
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// PingInterval is the period between pings of mains-powered devices.
	// Default: 60s
	PingInterval time.Duration `yaml:"ping_interval"`

	// SweepInterval is the period of the staleness sweep for sleepy devices.
	// Default: 300s
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// SleepyTimeout is how long a battery device may stay silent before it is
	// considered offline.
	// Default: 25h
	SleepyTimeout time.Duration `yaml:"sleepy_timeout"`

	// ConfigureMaxAttempts bounds automatic configuration attempts per session.
	// Default: 3
	ConfigureMaxAttempts int `yaml:"configure_max_attempts"`

	// DisableQueue fires cascade operations immediately, ignoring their delays.
	DisableQueue bool `yaml:"disable_queue"`

	// PairingDuration is the default permit-join window in seconds.
	// Default: 254
	PairingDuration int `yaml:"pairing_duration"`

	// HealthInterval is how often gateway health is published.
	// Default: 30s
	HealthInterval time.Duration `yaml:"health_interval"`

	// CatalogFile optionally points to an extra YAML model catalog that is
	// merged over the built-in one.
	CatalogFile string `yaml:"catalog_file,omitempty"`
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

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ZIGBEEGATE_SECTION_KEY
// For example: ZIGBEEGATE_DATABASE_PATH, ZIGBEEGATE_ZIGBEE_BASE_TOPIC
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read, parsed or fails validation
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
		Gateway: GatewayConfig{
			ID:   "zigbee-001",
			Name: "Zigbee Gateway",
		},
		Database: DatabaseConfig{
			Path:        "./data/zigbeegate.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "zigbeegate",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Zigbee: ZigbeeConfig{
			BaseTopic:            "zigbee2mqtt",
			RequestTimeout:       10 * time.Second,
			PingInterval:         60 * time.Second,
			SweepInterval:        300 * time.Second,
			SleepyTimeout:        25 * time.Hour,
			ConfigureMaxAttempts: 3,
			PairingDuration:      254,
			HealthInterval:       30 * time.Second,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8081,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer: "zigbeegate",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZIGBEEGATE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("ZIGBEEGATE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ZIGBEEGATE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("ZIGBEEGATE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ZIGBEEGATE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("ZIGBEEGATE_ZIGBEE_BASE_TOPIC"); v != "" {
		cfg.Zigbee.BaseTopic = v
	}
	if v := os.Getenv("ZIGBEEGATE_ZIGBEE_DISABLE_QUEUE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Zigbee.DisableQueue = b
		}
	}

	if v := os.Getenv("ZIGBEEGATE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("ZIGBEEGATE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Always override in production.
	if v := os.Getenv("ZIGBEEGATE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Gateway.ID == "" {
		errs = append(errs, "gateway.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Zigbee.BaseTopic == "" {
		errs = append(errs, "zigbee.base_topic is required")
	}
	if c.Zigbee.PingInterval <= 0 {
		errs = append(errs, "zigbee.ping_interval must be positive")
	}
	if c.Zigbee.SweepInterval <= 0 {
		errs = append(errs, "zigbee.sweep_interval must be positive")
	}
	if c.Zigbee.SleepyTimeout <= c.Zigbee.SweepInterval {
		errs = append(errs, "zigbee.sleepy_timeout must exceed zigbee.sweep_interval")
	}
	if c.Zigbee.ConfigureMaxAttempts < 1 {
		errs = append(errs, "zigbee.configure_max_attempts must be at least 1")
	}
	if c.Zigbee.PairingDuration < 1 || c.Zigbee.PairingDuration > 254 {
		errs = append(errs, "zigbee.pairing_duration must be between 1 and 254")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Write routes switch mains-powered loads, so the signing secret must be strong.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set ZIGBEEGATE_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
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
