package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, "TWS Speaker", cfg.Device.Name)
	assert.Equal(t, 2, cfg.Device.MaxPhones)
	assert.True(t, cfg.TWS.SyncEvents)
	assert.Equal(t, 100*time.Millisecond, cfg.TWS.SyncLeadTime)
	assert.Equal(t, 3, cfg.TWS.PairTries)
	assert.Equal(t, ProtocolNative, cfg.TWS.Protocol)
	assert.Equal(t, 15*time.Millisecond, cfg.APS.TickPeriod)
	assert.Equal(t, 6*time.Millisecond, cfg.APS.LowLatencyPeriod)
	assert.Equal(t, 8*time.Millisecond, cfg.APS.VoicePeriod)
	assert.Equal(t, uint8(3), cfg.APS.MinLevel)
	assert.Equal(t, uint8(4), cfg.APS.DefaultLevel)
	assert.Equal(t, uint8(5), cfg.APS.MaxLevel)
	assert.Equal(t, "twsync", cfg.MQTT.TopicPrefix)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	for _, level := range []logrus.Level{logrus.DebugLevel, logrus.InfoLevel, logrus.WarnLevel} {
		t.Run(level.String(), func(t *testing.T) {
			logger := (&Config{LogLevel: level}).NewLogger()

			require.NotNil(t, logger)
			assert.Equal(t, level, logger.GetLevel(), "logger MUST use the configured level")

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok, "logger MUST use the text formatter")
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
log_level: debug
device:
  name: Left Bud
  device_id: "0102"
tws:
  sync_events: false
  protocol: legacy
  mac_prefix: "AA:BB:CC"
  compare_mac: true
aps:
  low_latency: true
  increase_watermark: 200
`))
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.Equal(t, "Left Bud", cfg.Device.Name)
	assert.False(t, cfg.TWS.SyncEvents)
	assert.Equal(t, ProtocolLegacy, cfg.TWS.Protocol)
	assert.True(t, cfg.APS.LowLatency)
	assert.Equal(t, 200, cfg.APS.IncreaseWatermark)
	// untouched fields keep their defaults
	assert.Equal(t, 60, cfg.APS.ReduceWatermark)
	assert.Equal(t, 3, cfg.TWS.PairTries)

	prefix, err := cfg.MACPrefixBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, prefix)

	id, err := cfg.DeviceIDBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, id)
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		valid  bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}, valid: true},
		{name: "unknown protocol", mutate: func(c *Config) { c.TWS.Protocol = "woodpecker" }},
		{name: "unknown role", mutate: func(c *Config) { c.TWS.ExpectRole = "leader" }},
		{name: "zero phones", mutate: func(c *Config) { c.Device.MaxPhones = 0 }},
		{name: "inverted levels", mutate: func(c *Config) { c.APS.MinLevel = 6 }},
		{name: "inverted watermarks", mutate: func(c *Config) { c.APS.ReduceWatermark = 500 }},
		{name: "short mac prefix", mutate: func(c *Config) { c.TWS.MACPrefix = "AA:BB" }},
		{name: "bad device id", mutate: func(c *Config) { c.Device.DeviceID = "zz" }},
		{name: "zero lead time", mutate: func(c *Config) { c.TWS.SyncLeadTime = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}

func TestLoad_RoundTripsMarshal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device.Name = "Right Bud"

	data, err := cfg.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "twsync.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}
