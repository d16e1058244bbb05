package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Protocol selects the wire dialect spoken to the TWS peer
type Protocol string

const (
	ProtocolNative Protocol = "native"
	ProtocolLegacy Protocol = "legacy" // US281B-era peers
)

// ErrInvalidConfig is wrapped by every Validate failure
var ErrInvalidConfig = errors.New("invalid config")

// Config holds application configuration.
// It is passed by value to every component constructor and never mutated afterwards.
type Config struct {
	LogLevel logrus.Level `yaml:"log_level" json:"log_level"`

	Device DeviceConfig `yaml:"device" json:"device"`
	TWS    TWSConfig    `yaml:"tws" json:"tws"`
	APS    APSConfig    `yaml:"aps" json:"aps"`
	MQTT   MQTTConfig   `yaml:"mqtt" json:"mqtt"`
}

// DeviceConfig describes the local device identity
type DeviceConfig struct {
	Name      string `yaml:"name" json:"name" default:"TWS Speaker"`
	MaxPhones int    `yaml:"max_phones" json:"max_phones" default:"2"`
	// DeviceID is the hex encoded device-id blob advertised during TWS discovery
	DeviceID string `yaml:"device_id" json:"device_id"`
}

// TWSConfig controls pairing and the cross-device event channel
type TWSConfig struct {
	SyncEvents    bool          `yaml:"sync_events" json:"sync_events" default:"true"`
	SyncLeadTime  time.Duration `yaml:"sync_lead_time" json:"sync_lead_time" default:"100ms"`
	PairTries     int           `yaml:"pair_tries" json:"pair_tries" default:"3"`
	Protocol      Protocol      `yaml:"protocol" json:"protocol" default:"native"`
	ExpectRole    string        `yaml:"expect_role" json:"expect_role" default:"none"`
	MACPrefix     string        `yaml:"mac_prefix" json:"mac_prefix"`
	CompareMAC    bool          `yaml:"compare_mac" json:"compare_mac" default:"false"`
	CompareDevice bool          `yaml:"compare_device_id" json:"compare_device_id" default:"false"`
}

// APSConfig tunes the adaptive playback speed monitor
type APSConfig struct {
	LowLatency        bool          `yaml:"low_latency" json:"low_latency" default:"false"`
	TickPeriod        time.Duration `yaml:"tick_period" json:"tick_period" default:"15ms"`
	LowLatencyPeriod  time.Duration `yaml:"low_latency_period" json:"low_latency_period" default:"6ms"`
	VoicePeriod       time.Duration `yaml:"voice_period" json:"voice_period" default:"8ms"`
	MinLevel          uint8         `yaml:"min_level" json:"min_level" default:"3"`
	DefaultLevel      uint8         `yaml:"default_level" json:"default_level" default:"4"`
	MaxLevel          uint8         `yaml:"max_level" json:"max_level" default:"5"`
	IncreaseWatermark int           `yaml:"increase_watermark" json:"increase_watermark" default:"120"`
	ReduceWatermark   int           `yaml:"reduce_watermark" json:"reduce_watermark" default:"60"`
}

// MQTTConfig configures the optional telemetry publisher; empty Broker disables it
type MQTTConfig struct {
	Broker      string `yaml:"broker" json:"broker"`
	ClientID    string `yaml:"client_id" json:"client_id" default:"twsync"`
	TopicPrefix string `yaml:"topic_prefix" json:"topic_prefix" default:"twsync"`
	QoS         byte   `yaml:"qos" json:"qos" default:"0"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{LogLevel: logrus.InfoLevel}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file on top of the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.TWS.Protocol {
	case ProtocolNative, ProtocolLegacy:
	default:
		return fmt.Errorf("%w: unknown tws protocol %q", ErrInvalidConfig, c.TWS.Protocol)
	}
	switch c.TWS.ExpectRole {
	case "none", "master", "slave":
	default:
		return fmt.Errorf("%w: unknown expect_role %q", ErrInvalidConfig, c.TWS.ExpectRole)
	}
	if c.Device.MaxPhones < 1 {
		return fmt.Errorf("%w: max_phones must be >= 1", ErrInvalidConfig)
	}
	if c.TWS.PairTries < 1 {
		return fmt.Errorf("%w: pair_tries must be >= 1", ErrInvalidConfig)
	}
	if c.TWS.SyncLeadTime <= 0 {
		return fmt.Errorf("%w: sync_lead_time must be positive", ErrInvalidConfig)
	}
	a := c.APS
	if a.MinLevel > a.DefaultLevel || a.DefaultLevel > a.MaxLevel {
		return fmt.Errorf("%w: aps levels must satisfy min <= default <= max", ErrInvalidConfig)
	}
	if a.ReduceWatermark > a.IncreaseWatermark {
		return fmt.Errorf("%w: reduce_watermark above increase_watermark", ErrInvalidConfig)
	}
	if a.TickPeriod <= 0 || a.LowLatencyPeriod <= 0 || a.VoicePeriod <= 0 {
		return fmt.Errorf("%w: aps periods must be positive", ErrInvalidConfig)
	}
	if _, err := c.MACPrefixBytes(); err != nil {
		return err
	}
	if _, err := c.DeviceIDBytes(); err != nil {
		return err
	}
	return nil
}

// MACPrefixBytes decodes TWS.MACPrefix ("AA:BB:CC", most significant octet first)
func (c *Config) MACPrefixBytes() ([]byte, error) {
	if c.TWS.MACPrefix == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(strings.ReplaceAll(c.TWS.MACPrefix, ":", ""))
	if err != nil || len(raw) != 3 {
		return nil, fmt.Errorf("%w: mac_prefix %q must be three hex octets", ErrInvalidConfig, c.TWS.MACPrefix)
	}
	return raw, nil
}

// DeviceIDBytes decodes Device.DeviceID
func (c *Config) DeviceIDBytes() ([]byte, error) {
	if c.Device.DeviceID == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(c.Device.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: device_id: %v", ErrInvalidConfig, err)
	}
	return raw, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
