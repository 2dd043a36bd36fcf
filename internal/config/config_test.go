package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRIPLOG_CONFIG_FILE", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "trackers/+/fixes", cfg.MQTTFixTopic)
	assert.Equal(t, 150.0, cfg.Admission.MaxSpeedKmh)
	assert.Equal(t, 18, cfg.Phantom.MedianWindowSize)
	assert.True(t, cfg.Session.ApplyPhantomCleanup)
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TRIPLOG_CONFIG_FILE", "")
	t.Setenv("TRIPLOG_HTTP_PORT", "9000")
	t.Setenv("TRIPLOG_MQTT_BROKER_URL", "tcp://broker:1883")
	t.Setenv("TRIPLOG_MDNS_ENABLED", "true")
	t.Setenv("TRIPLOG_ADMISSION_MAX_SPEED_KMH", "200")
	t.Setenv("TRIPLOG_PHANTOM_MEDIAN_WINDOW_SIZE", "12")
	t.Setenv("TRIPLOG_SESSION_APPLY_PHANTOM_CLEANUP", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTTBrokerURL)
	assert.True(t, cfg.MDNSEnabled)
	assert.Equal(t, 200.0, cfg.Admission.MaxSpeedKmh)
	assert.Equal(t, 100.0, cfg.Admission.OutlierThresholdMeters)
	assert.Equal(t, 12, cfg.Phantom.MedianWindowSize)
	assert.False(t, cfg.Session.ApplyPhantomCleanup)
}

func TestLoadFile(t *testing.T) {
	t.Setenv("TRIPLOG_CONFIG_FILE", "")

	path := filepath.Join(t.TempDir(), "triplog.yaml")
	content := `
http_port: 8181
database_path: /var/lib/triplog/points.db
log_level: debug
session:
  session_gap_minutes: 120
  max_sessions_to_return: 20
phantom:
  stop_distance_threshold_meters: 80
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8181, cfg.HTTPPort)
	assert.Equal(t, "/var/lib/triplog/points.db", cfg.DatabasePath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 120.0, cfg.Session.SessionGapMinutes)
	assert.Equal(t, 20, cfg.Session.MaxSessionsToReturn)
	assert.Equal(t, 45.0, cfg.Session.MaxStopGapMinutes)
	assert.Equal(t, 80.0, cfg.Phantom.StopDistanceThresholdMeters)

	// Environment wins over the file.
	t.Setenv("TRIPLOG_HTTP_PORT", "8282")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8282, cfg.HTTPPort)
}

func TestLoadFileFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triplog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mqtt_fix_topic":"fleet/+/gps"}`), 0o644))
	t.Setenv("TRIPLOG_CONFIG_FILE", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "fleet/+/gps", cfg.MQTTFixTopic)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("TRIPLOG_CONFIG_FILE", "")
	t.Setenv("TRIPLOG_HTTP_PORT", "70000")
	t.Setenv("TRIPLOG_PHANTOM_MIN_STOP_DURATION_SECONDS", "4000")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http_port")
	assert.Contains(t, err.Error(), "min_stop_duration_seconds")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "zero min movement", mutate: func(c *Config) { c.Admission.MinMovementMeters = 0 }, ok: true},
		{name: "external broker only", mutate: func(c *Config) { c.MQTTBindAddress = ""; c.MQTTBrokerURL = "tcp://b:1883" }, ok: true},
		{name: "no transport", mutate: func(c *Config) { c.MQTTBindAddress = "" }, ok: false},
		{name: "zero port", mutate: func(c *Config) { c.HTTPPort = 0 }, ok: false},
		{name: "negative speed", mutate: func(c *Config) { c.Admission.MaxSpeedKmh = -1 }, ok: false},
		{name: "drift check enabled", mutate: func(c *Config) { c.Phantom.MaxStopDriftKmh = 5 }, ok: true},
		{name: "negative drift", mutate: func(c *Config) { c.Phantom.MaxStopDriftKmh = -1 }, ok: false},
		{name: "zero window", mutate: func(c *Config) { c.Phantom.MedianWindowSize = 0 }, ok: false},
		{name: "zero session gap", mutate: func(c *Config) { c.Session.SessionGapMinutes = 0 }, ok: false},
		{name: "empty topic", mutate: func(c *Config) { c.MQTTFixTopic = "" }, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for name, want := range tests {
		assert.Equal(t, want, Config{LogLevel: name}.SlogLevel(), name)
	}
}
