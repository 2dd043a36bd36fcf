// Package admission decides, one fix at a time, whether a tracker fix is stored.
//
// The filter itself is pure: Evaluate takes the device's State by value and
// returns the updated State inside the Decision. Persisting the record and
// committing the state are the caller's job.
package admission

import (
	"fmt"
	"time"

	"triplog/tracker-server/internal/geo"
	"triplog/tracker-server/internal/model"
)

// Config holds the admission thresholds.
type Config struct {
	// OutlierThresholdMeters is the jump that counts as an outlier when speed cannot be derived.
	OutlierThresholdMeters float64 `mapstructure:"outlier_threshold_meters" json:"outlier_threshold_meters"`
	// MaxSpeedKmh is the highest implied speed accepted between stored fixes.
	MaxSpeedKmh float64 `mapstructure:"max_speed_kmh" json:"max_speed_kmh"`
	// MinMovementMeters is the displacement from the last stored fix required to store again.
	MinMovementMeters float64 `mapstructure:"min_movement_meters" json:"min_movement_meters"`
	// HistorySize bounds the per-device ring of recently seen fixes.
	HistorySize int `mapstructure:"history_size" json:"history_size"`
	// ShortIntervalSeconds is the gap below which OutlierThresholdMeters also applies.
	ShortIntervalSeconds float64 `mapstructure:"short_interval_seconds" json:"short_interval_seconds"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		OutlierThresholdMeters: 100,
		MaxSpeedKmh:            150,
		MinMovementMeters:      10,
		HistorySize:            10,
		ShortIntervalSeconds:   10,
	}
}

// Outcome names the result of an admission decision.
type Outcome string

const (
	OutcomeAdmitted             Outcome = "admitted"
	OutcomeOutlier              Outcome = "outlier"
	OutcomeInsufficientMovement Outcome = "insufficient_movement"
)

// Decision is the result of evaluating one fix.
type Decision struct {
	Admit   bool    `json:"should_store"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`

	// Diagnostics relative to the last stored fix; nil when not derivable.
	DistanceFromLast *float64 `json:"distance_from_last,omitempty"`
	SpeedKmh         *float64 `json:"speed_kmh,omitempty"`
	TimeGapMinutes   *float64 `json:"time_gap_minutes,omitempty"`

	// Record is set only when Admit is true.
	Record *model.StoredPoint `json:"processed_item,omitempty"`
	// State is the device state after this fix.
	State State `json:"-"`
}

// Filter evaluates fixes against a device's State.
type Filter struct {
	cfg Config
	now func() time.Time
}

// NewFilter builds a filter. Non-positive thresholds fall back to
// DefaultConfig, except MinMovementMeters which may be zero.
func NewFilter(cfg Config) *Filter {
	def := DefaultConfig()
	if cfg.OutlierThresholdMeters <= 0 {
		cfg.OutlierThresholdMeters = def.OutlierThresholdMeters
	}
	if cfg.MaxSpeedKmh <= 0 {
		cfg.MaxSpeedKmh = def.MaxSpeedKmh
	}
	if cfg.MinMovementMeters < 0 {
		cfg.MinMovementMeters = def.MinMovementMeters
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.ShortIntervalSeconds <= 0 {
		cfg.ShortIntervalSeconds = def.ShortIntervalSeconds
	}
	return &Filter{cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// Config returns the effective thresholds.
func (f *Filter) Config() Config {
	return f.cfg
}

// Evaluate decides whether fix should be stored given the device's state.
func (f *Filter) Evaluate(fix model.Fix, state State) Decision {
	next := state.observe(fix, f.cfg.HistorySize)

	last, ok := state.LastValid()
	if !ok {
		return f.admit(fix, next, "first fix for device")
	}

	d := Decision{State: next}
	distance := geo.DistanceMeters(last.Lat, last.Lon, fix.Lat, fix.Lon)
	d.DistanceFromLast = &distance

	var dt float64
	timed := fix.HasTime() && last.HasTime()
	if timed {
		dt = fix.Time.Sub(last.Time).Seconds()
		if dt > 0 {
			gap := dt / 60
			speed := geo.SpeedKmh(distance, dt)
			d.TimeGapMinutes = &gap
			d.SpeedKmh = &speed
		}
	}

	if reason, outlier := f.outlier(distance, dt, timed); outlier {
		d.Outcome = OutcomeOutlier
		d.Reason = reason
		return d
	}

	if distance < f.cfg.MinMovementMeters {
		d.Outcome = OutcomeInsufficientMovement
		d.Reason = fmt.Sprintf("insufficient movement: %.1fm (min: %.1fm)", distance, f.cfg.MinMovementMeters)
		return d
	}

	reason := fmt.Sprintf("distance within threshold: %.1fm", distance)
	if d.SpeedKmh != nil {
		reason = fmt.Sprintf("reasonable movement: %.1fm in %.1fmin (%.1f km/h)", distance, *d.TimeGapMinutes, *d.SpeedKmh)
	}

	admitted := f.admit(fix, next, reason)
	admitted.DistanceFromLast = d.DistanceFromLast
	admitted.SpeedKmh = d.SpeedKmh
	admitted.TimeGapMinutes = d.TimeGapMinutes
	return admitted
}

// outlier applies the temporal policy, falling back to the plain distance
// threshold when either fix has no timestamp or both share one.
func (f *Filter) outlier(distance, dt float64, timed bool) (string, bool) {
	if !timed {
		if distance > f.cfg.OutlierThresholdMeters {
			return fmt.Sprintf("distance threshold exceeded: %.1fm (no timestamp)", distance), true
		}
		return "", false
	}

	switch {
	case dt < 0:
		return fmt.Sprintf("out-of-order fix: %.0fs before last stored fix", -dt), true
	case dt == 0:
		if distance > f.cfg.OutlierThresholdMeters {
			return fmt.Sprintf("distance threshold exceeded: %.1fm (same timestamp)", distance), true
		}
		return "", false
	}

	speed := geo.SpeedKmh(distance, dt)
	if speed > f.cfg.MaxSpeedKmh {
		return fmt.Sprintf("unrealistic speed: %.1f km/h (max: %.1f km/h)", speed, f.cfg.MaxSpeedKmh), true
	}
	if dt < f.cfg.ShortIntervalSeconds && distance > f.cfg.OutlierThresholdMeters {
		return fmt.Sprintf("large distance in short time: %.1fm in %.1fs", distance, dt), true
	}
	return "", false
}

func (f *Filter) admit(fix model.Fix, next State, reason string) Decision {
	record := NewRecord(fix, f.now())
	stored := fix
	next.lastValid = &stored
	return Decision{
		Admit:   true,
		Outcome: OutcomeAdmitted,
		Reason:  reason,
		Record:  &record,
		State:   next,
	}
}
