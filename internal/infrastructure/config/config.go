package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for NetX Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Logging   LoggingConfig   `yaml:"logging"`
	Protocols ProtocolsConfig `yaml:"protocols"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// ProtocolsConfig contains protocol bridge settings.
type ProtocolsConfig struct {
	NetX NetXConfig `yaml:"netx"`
}

// NetXConfig contains the NetX thermostat bridge settings.
type NetXConfig struct {
	Enabled bool `yaml:"enabled"`

	// DeviceID identifies the thermostat in MQTT topics.
	DeviceID string `yaml:"device_id"`

	// Host is the thermostat's address, shared by the TCP session and the
	// HTTP pollers.
	Host string `yaml:"host"`

	TCP  NetXTCPConfig  `yaml:"tcp"`
	HTTP NetXHTTPConfig `yaml:"http"`
}

// NetXTCPConfig contains the thermostat's TCP session settings.
type NetXTCPConfig struct {
	// Port is the command port. Default: 10001
	Port int `yaml:"port"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// ConnectTimeout bounds dial plus login. Default: 10s
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// CommandTimeout bounds a single request/reply exchange. Default: 5s
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// ReconnectInterval is the initial backoff between connect attempts.
	// Default: 2s
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`

	// MaxConnectAttempts caps connect attempts per reconnect sequence.
	// Default: 5
	MaxConnectAttempts int `yaml:"max_connect_attempts"`

	// PollInterval is the delay between read cycles. Default: 30s
	PollInterval time.Duration `yaml:"poll_interval"`
}

// NetXHTTPConfig contains the thermostat's web interface settings.
type NetXHTTPConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Timeout bounds a single document fetch. Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// PollInterval is the delay between document fetches. Default: 30s
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NETXCORE_SECTION_KEY
// For example: NETXCORE_MQTT_HOST, NETXCORE_NETX_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
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
			Name:     "NetX Core",
			Timezone: "UTC",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "netx-core",
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
		Protocols: ProtocolsConfig{
			NetX: NetXConfig{
				Enabled: true,
				TCP: NetXTCPConfig{
					Port:               10001,
					ConnectTimeout:     10 * time.Second,
					CommandTimeout:     5 * time.Second,
					ReconnectInterval:  2 * time.Second,
					MaxConnectAttempts: 5,
					PollInterval:       30 * time.Second,
				},
				HTTP: NetXHTTPConfig{
					Timeout:      10 * time.Second,
					PollInterval: 30 * time.Second,
				},
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NETXCORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("NETXCORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NETXCORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NETXCORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Thermostat credentials. The TCP and HTTP planes have independent
	// accounts on the device.
	if v := os.Getenv("NETXCORE_NETX_HOST"); v != "" {
		cfg.Protocols.NetX.Host = v
	}
	if v := os.Getenv("NETXCORE_NETX_USERNAME"); v != "" {
		cfg.Protocols.NetX.TCP.Username = v
	}
	if v := os.Getenv("NETXCORE_NETX_PASSWORD"); v != "" {
		cfg.Protocols.NetX.TCP.Password = v
	}
	if v := os.Getenv("NETXCORE_NETX_HTTP_USERNAME"); v != "" {
		cfg.Protocols.NetX.HTTP.Username = v
	}
	if v := os.Getenv("NETXCORE_NETX_HTTP_PASSWORD"); v != "" {
		cfg.Protocols.NetX.HTTP.Password = v
	}
	if v := os.Getenv("NETXCORE_NETX_TCP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Protocols.NetX.TCP.Port = port
		}
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Thermostat validation
	netx := &c.Protocols.NetX
	if netx.Enabled {
		if netx.DeviceID == "" {
			errs = append(errs, "protocols.netx.device_id is required")
		}
		if netx.Host == "" {
			errs = append(errs, "protocols.netx.host is required")
		}
		if netx.TCP.Port < 1 || netx.TCP.Port > 65535 {
			errs = append(errs, "protocols.netx.tcp.port must be between 1 and 65535")
		}
		if netx.TCP.Username == "" || netx.TCP.Password == "" {
			errs = append(errs, "protocols.netx.tcp credentials are required (set NETXCORE_NETX_USERNAME / NETXCORE_NETX_PASSWORD)")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
