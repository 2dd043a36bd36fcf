// Package session reconstructs driving trips from a vehicle's stored points.
package session

import (
	"fmt"
	"sort"
	"time"

	"triplog/tracker-server/internal/geo"
	"triplog/tracker-server/internal/model"
)

// Config holds the segmentation thresholds. ApplyPhantomCleanup and
// DefaultScanDays are read by the scanner that feeds the segmenter.
type Config struct {
	SessionGapMinutes         float64 `mapstructure:"session_gap_minutes" json:"session_gap_minutes"`
	MaxStopGapMinutes         float64 `mapstructure:"max_stop_gap_minutes" json:"max_stop_gap_minutes"`
	MaxChargingGapMinutes     float64 `mapstructure:"max_charging_gap_minutes" json:"max_charging_gap_minutes"`
	MaxSpeedKmh               float64 `mapstructure:"max_speed_kmh" json:"max_speed_kmh"`
	ChargingSpeedFactor       float64 `mapstructure:"charging_speed_factor" json:"charging_speed_factor"`
	MinSessionDurationMinutes float64 `mapstructure:"min_session_duration_minutes" json:"min_session_duration_minutes"`
	MinSessionDistanceMeters  float64 `mapstructure:"min_session_distance_meters" json:"min_session_distance_meters"`
	MaxSessionsToReturn       int     `mapstructure:"max_sessions_to_return" json:"max_sessions_to_return"`
	ApplyPhantomCleanup       bool    `mapstructure:"apply_phantom_cleanup" json:"apply_phantom_cleanup"`
	DefaultScanDays           int     `mapstructure:"default_scan_days" json:"default_scan_days"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		SessionGapMinutes:         180,
		MaxStopGapMinutes:         45,
		MaxChargingGapMinutes:     300,
		MaxSpeedKmh:               150,
		ChargingSpeedFactor:       2,
		MinSessionDurationMinutes: 5,
		MinSessionDistanceMeters:  500,
		MaxSessionsToReturn:       100,
		ApplyPhantomCleanup:       true,
		DefaultScanDays:           7,
	}
}

// Segmenter splits a point stream into sessions.
type Segmenter struct {
	cfg Config
}

// NewSegmenter builds a segmenter. Non-positive thresholds fall back to DefaultConfig.
func NewSegmenter(cfg Config) *Segmenter {
	def := DefaultConfig()
	if cfg.SessionGapMinutes <= 0 {
		cfg.SessionGapMinutes = def.SessionGapMinutes
	}
	if cfg.MaxStopGapMinutes <= 0 {
		cfg.MaxStopGapMinutes = def.MaxStopGapMinutes
	}
	if cfg.MaxChargingGapMinutes <= 0 {
		cfg.MaxChargingGapMinutes = def.MaxChargingGapMinutes
	}
	if cfg.MaxSpeedKmh <= 0 {
		cfg.MaxSpeedKmh = def.MaxSpeedKmh
	}
	if cfg.ChargingSpeedFactor <= 0 {
		cfg.ChargingSpeedFactor = def.ChargingSpeedFactor
	}
	if cfg.MinSessionDurationMinutes <= 0 {
		cfg.MinSessionDurationMinutes = def.MinSessionDurationMinutes
	}
	if cfg.MinSessionDistanceMeters <= 0 {
		cfg.MinSessionDistanceMeters = def.MinSessionDistanceMeters
	}
	if cfg.MaxSessionsToReturn <= 0 {
		cfg.MaxSessionsToReturn = def.MaxSessionsToReturn
	}
	if cfg.DefaultScanDays <= 0 {
		cfg.DefaultScanDays = def.DefaultScanDays
	}
	return &Segmenter{cfg: cfg}
}

// Config returns the effective thresholds.
func (s *Segmenter) Config() Config {
	return s.cfg
}

// Gap decides whether cur opens a new session after last. The reason is
// meant for logs.
func (s *Segmenter) Gap(last, cur model.StoredPoint) (bool, string) {
	gapMinutes := float64(cur.Timestamp-last.Timestamp) / 60
	charging := last.SegmentType == model.SegmentCharging

	kind := "normal"
	maxGap := s.cfg.MaxStopGapMinutes
	speedLimit := s.cfg.MaxSpeedKmh
	if charging {
		kind = "charging"
		maxGap = s.cfg.MaxChargingGapMinutes
		speedLimit *= s.cfg.ChargingSpeedFactor
	}

	if gapMinutes > s.cfg.SessionGapMinutes && (!charging || gapMinutes > s.cfg.MaxChargingGapMinutes) {
		return true, fmt.Sprintf("long %s gap: %.1f minutes", kind, gapMinutes)
	}

	if gapMinutes <= maxGap {
		return false, fmt.Sprintf("short %s gap: %.1f minutes", kind, gapMinutes)
	}

	if gapMinutes > 0 {
		distance := geo.DistanceMeters(last.Lat, last.Lon, cur.Lat, cur.Lon)
		implied := (distance / 1000) / (gapMinutes / 60)
		if implied <= speedLimit {
			return false, fmt.Sprintf("reasonable speed %s gap: %.1fmin, %.1fkm/h", kind, gapMinutes, implied)
		}
		return true, fmt.Sprintf("unreasonable speed %s gap: %.1fmin, %.1fkm/h", kind, gapMinutes, implied)
	}

	return false, fmt.Sprintf("medium %s gap continued: %.1f minutes", kind, gapMinutes)
}

// Segment splits points into sessions, drops the ones overlapping an existing
// log of the vehicle and returns the newest MaxSessionsToReturn, newest first.
func (s *Segmenter) Segment(vehicleID string, points []model.StoredPoint, logs []model.DriversLog) []model.Session {
	if len(points) == 0 {
		return nil
	}

	sorted := make([]model.StoredPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	var sessions []model.Session
	flush := func(run []model.StoredPoint) {
		sess, ok := s.Summarize(vehicleID, run)
		if !ok || covered(vehicleID, sess, logs) {
			return
		}
		sessions = append(sessions, sess)
	}

	start := 0
	for i := 1; i < len(sorted); i++ {
		if split, _ := s.Gap(sorted[i-1], sorted[i]); split {
			flush(sorted[start:i])
			start = i
		}
	}
	flush(sorted[start:])

	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].StartTime > sessions[j].StartTime })
	if len(sessions) > s.cfg.MaxSessionsToReturn {
		sessions = sessions[:s.cfg.MaxSessionsToReturn]
	}
	return sessions
}

// Summarize computes the metrics of one candidate session given its points in
// time order. It reports false for fewer than two points or a run shorter
// than the minimum duration or distance.
func (s *Segmenter) Summarize(vehicleID string, points []model.StoredPoint) (model.Session, bool) {
	if len(points) < 2 {
		return model.Session{}, false
	}

	first, last := points[0], points[len(points)-1]
	duration := float64(last.Timestamp-first.Timestamp) / 60
	if duration < s.cfg.MinSessionDurationMinutes {
		return model.Session{}, false
	}

	var distance, moving, stopped float64
	stops := 0
	for i, p := range points {
		if p.SegmentType.IsStop() {
			stops++
		}
		if i == 0 {
			continue
		}

		prev := points[i-1]
		distance += geo.DistanceMeters(prev.Lat, prev.Lon, p.Lat, p.Lon)

		leg := float64(p.Timestamp - prev.Timestamp)
		if prev.SegmentType.IsStop() {
			stop := max(min(prev.StopDurationSeconds, leg), 0)
			stopped += stop
			leg -= stop
		}
		if leg > 0 {
			moving += leg
		}
	}

	if distance < s.cfg.MinSessionDistanceMeters {
		return model.Session{}, false
	}

	moving /= 60
	stopped /= 60

	var avg float64
	if moving > 0 {
		avg = (distance / 1000) / (moving / 60)
	}

	return model.Session{
		ID:              fmt.Sprintf("session_%d_%s", first.Timestamp, vehicleID),
		VehicleID:       vehicleID,
		StartTime:       first.Timestamp,
		EndTime:         last.Timestamp,
		StartTimeISO:    time.Unix(first.Timestamp, 0).UTC().Format(time.RFC3339),
		EndTimeISO:      time.Unix(last.Timestamp, 0).UTC().Format(time.RFC3339),
		DurationMinutes: duration,
		DistanceMeters:  distance,
		MovingTime:      moving,
		StoppedTime:     stopped,
		AvgSpeedKmh:     avg,
		NumPoints:       len(points),
		NumStops:        stops,
		StartLat:        first.Lat,
		StartLon:        first.Lon,
		EndLat:          last.Lat,
		EndLon:          last.Lon,
		StartCell:       geo.Cell(first.Lat, first.Lon),
		EndCell:         geo.Cell(last.Lat, last.Lon),
	}, true
}

func covered(vehicleID string, sess model.Session, logs []model.DriversLog) bool {
	for _, l := range logs {
		if l.VehicleID != vehicleID {
			continue
		}
		if l.Covers(sess.StartTime) || l.Covers(sess.EndTime) {
			return true
		}
	}
	return false
}
