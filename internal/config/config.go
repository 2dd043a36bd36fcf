// Package config loads the tracker server settings from defaults, an optional
// file and TRIPLOG_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"triplog/tracker-server/internal/admission"
	"triplog/tracker-server/internal/phantom"
	"triplog/tracker-server/internal/session"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "TRIPLOG"

// Pipeline holds every threshold used by admission, phantom cleanup and
// session segmentation.
type Pipeline struct {
	Admission admission.Config `mapstructure:"admission" json:"admission"`
	Phantom   phantom.Config   `mapstructure:"phantom" json:"phantom"`
	Session   session.Config   `mapstructure:"session" json:"session"`
}

// Config lists the tunable parameters for the tracker server.
type Config struct {
	HTTPPort            int    `mapstructure:"http_port" json:"http_port"`
	MQTTBindAddress     string `mapstructure:"mqtt_bind" json:"mqtt_bind"`
	MQTTBrokerURL       string `mapstructure:"mqtt_broker_url" json:"mqtt_broker_url"`
	MQTTFixTopic        string `mapstructure:"mqtt_fix_topic" json:"mqtt_fix_topic"`
	DatabasePath        string `mapstructure:"database_path" json:"database_path"`
	LogLevel            string `mapstructure:"log_level" json:"log_level"`
	MDNSEnabled         bool   `mapstructure:"mdns_enabled" json:"mdns_enabled"`
	StoreTimeoutSeconds int    `mapstructure:"store_timeout_seconds" json:"store_timeout_seconds"`

	Pipeline `mapstructure:",squash" json:"pipeline"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HTTPPort:            8080,
		MQTTBindAddress:     ":1883",
		MQTTFixTopic:        "trackers/+/fixes",
		DatabasePath:        "data/triplog.db",
		LogLevel:            "info",
		StoreTimeoutSeconds: 2,
		Pipeline: Pipeline{
			Admission: admission.DefaultConfig(),
			Phantom:   phantom.DefaultConfig(),
			Session:   session.DefaultConfig(),
		},
	}
}

// Load reads the configuration. path names an optional YAML, JSON or TOML
// file; when empty, TRIPLOG_CONFIG_FILE is consulted. Environment variables
// override the file, e.g. TRIPLOG_ADMISSION_MAX_SPEED_KMH.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG_FILE")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("http_port", d.HTTPPort)
	v.SetDefault("mqtt_bind", d.MQTTBindAddress)
	v.SetDefault("mqtt_broker_url", d.MQTTBrokerURL)
	v.SetDefault("mqtt_fix_topic", d.MQTTFixTopic)
	v.SetDefault("database_path", d.DatabasePath)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("mdns_enabled", d.MDNSEnabled)
	v.SetDefault("store_timeout_seconds", d.StoreTimeoutSeconds)

	a := d.Admission
	v.SetDefault("admission.outlier_threshold_meters", a.OutlierThresholdMeters)
	v.SetDefault("admission.max_speed_kmh", a.MaxSpeedKmh)
	v.SetDefault("admission.min_movement_meters", a.MinMovementMeters)
	v.SetDefault("admission.history_size", a.HistorySize)
	v.SetDefault("admission.short_interval_seconds", a.ShortIntervalSeconds)

	p := d.Phantom
	v.SetDefault("phantom.stop_distance_threshold_meters", p.StopDistanceThresholdMeters)
	v.SetDefault("phantom.median_window_size", p.MedianWindowSize)
	v.SetDefault("phantom.min_stop_duration_seconds", p.MinStopDurationSeconds)
	v.SetDefault("phantom.max_stop_duration_seconds", p.MaxStopDurationSeconds)
	v.SetDefault("phantom.max_stop_drift_kmh", p.MaxStopDriftKmh)

	s := d.Session
	v.SetDefault("session.session_gap_minutes", s.SessionGapMinutes)
	v.SetDefault("session.max_stop_gap_minutes", s.MaxStopGapMinutes)
	v.SetDefault("session.max_charging_gap_minutes", s.MaxChargingGapMinutes)
	v.SetDefault("session.max_speed_kmh", s.MaxSpeedKmh)
	v.SetDefault("session.charging_speed_factor", s.ChargingSpeedFactor)
	v.SetDefault("session.min_session_duration_minutes", s.MinSessionDurationMinutes)
	v.SetDefault("session.min_session_distance_meters", s.MinSessionDistanceMeters)
	v.SetDefault("session.max_sessions_to_return", s.MaxSessionsToReturn)
	v.SetDefault("session.apply_phantom_cleanup", s.ApplyPhantomCleanup)
	v.SetDefault("session.default_scan_days", s.DefaultScanDays)
}

// Validate reports every out of range setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.HTTPPort >= 1 && c.HTTPPort <= 65535, "http_port must be between 1 and 65535, got %d", c.HTTPPort)
	check(c.MQTTBindAddress != "" || c.MQTTBrokerURL != "", "mqtt_bind or mqtt_broker_url is required")
	check(c.MQTTFixTopic != "", "mqtt_fix_topic is required")
	check(c.DatabasePath != "", "database_path is required")
	check(c.StoreTimeoutSeconds > 0, "store_timeout_seconds must be positive")

	a := c.Admission
	check(a.OutlierThresholdMeters > 0, "admission.outlier_threshold_meters must be positive")
	check(a.MaxSpeedKmh > 0, "admission.max_speed_kmh must be positive")
	check(a.MinMovementMeters >= 0, "admission.min_movement_meters must not be negative")
	check(a.HistorySize > 0, "admission.history_size must be positive")
	check(a.ShortIntervalSeconds > 0, "admission.short_interval_seconds must be positive")

	p := c.Phantom
	check(p.StopDistanceThresholdMeters > 0, "phantom.stop_distance_threshold_meters must be positive")
	check(p.MedianWindowSize > 0, "phantom.median_window_size must be positive")
	check(p.MinStopDurationSeconds > 0, "phantom.min_stop_duration_seconds must be positive")
	check(p.MaxStopDurationSeconds > 0, "phantom.max_stop_duration_seconds must be positive")
	check(p.MaxStopDriftKmh >= 0, "phantom.max_stop_drift_kmh must not be negative")
	check(p.MinStopDurationSeconds <= p.MaxStopDurationSeconds,
		"phantom.min_stop_duration_seconds (%v) exceeds max_stop_duration_seconds (%v)",
		p.MinStopDurationSeconds, p.MaxStopDurationSeconds)

	s := c.Session
	check(s.SessionGapMinutes > 0, "session.session_gap_minutes must be positive")
	check(s.MaxStopGapMinutes > 0, "session.max_stop_gap_minutes must be positive")
	check(s.MaxChargingGapMinutes > 0, "session.max_charging_gap_minutes must be positive")
	check(s.MaxSpeedKmh > 0, "session.max_speed_kmh must be positive")
	check(s.ChargingSpeedFactor > 0, "session.charging_speed_factor must be positive")
	check(s.MinSessionDurationMinutes > 0, "session.min_session_duration_minutes must be positive")
	check(s.MinSessionDistanceMeters > 0, "session.min_session_distance_meters must be positive")
	check(s.MaxSessionsToReturn > 0, "session.max_sessions_to_return must be positive")
	check(s.DefaultScanDays > 0, "session.default_scan_days must be positive")

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// StoreTimeout bounds every store call made on behalf of a request or message.
func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

// SlogLevel maps log_level to a slog level; unknown names mean info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
