// Package phantom collapses the jitter a parked tracker produces into single
// stop markers.
package phantom

import (
	"sort"

	"triplog/tracker-server/internal/geo"
	"triplog/tracker-server/internal/model"
)

// Config holds the stop detection thresholds.
type Config struct {
	StopDistanceThresholdMeters float64 `mapstructure:"stop_distance_threshold_meters" json:"stop_distance_threshold_meters"`
	MedianWindowSize            int     `mapstructure:"median_window_size" json:"median_window_size"`
	MinStopDurationSeconds      float64 `mapstructure:"min_stop_duration_seconds" json:"min_stop_duration_seconds"`
	// Runs longer than this are parked, shorter ones are charging.
	MaxStopDurationSeconds float64 `mapstructure:"max_stop_duration_seconds" json:"max_stop_duration_seconds"`
	// MaxStopDriftKmh, when positive, caps the net first to last speed of a run
	// that counts as a stop. Zero disables the check.
	MaxStopDriftKmh float64 `mapstructure:"max_stop_drift_kmh" json:"max_stop_drift_kmh"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		StopDistanceThresholdMeters: 140,
		MedianWindowSize:            18,
		MinStopDurationSeconds:      60,
		MaxStopDurationSeconds:      3000,
	}
}

// Cleaner tags points as moving and replaces stationary runs with one marker.
type Cleaner struct {
	cfg Config
}

// NewCleaner builds a cleaner. Non-positive values fall back to DefaultConfig;
// a negative MaxStopDriftKmh disables the drift check.
func NewCleaner(cfg Config) *Cleaner {
	def := DefaultConfig()
	if cfg.StopDistanceThresholdMeters <= 0 {
		cfg.StopDistanceThresholdMeters = def.StopDistanceThresholdMeters
	}
	if cfg.MedianWindowSize <= 0 {
		cfg.MedianWindowSize = def.MedianWindowSize
	}
	if cfg.MinStopDurationSeconds <= 0 {
		cfg.MinStopDurationSeconds = def.MinStopDurationSeconds
	}
	if cfg.MaxStopDurationSeconds <= 0 {
		cfg.MaxStopDurationSeconds = def.MaxStopDurationSeconds
	}
	if cfg.MaxStopDriftKmh < 0 {
		cfg.MaxStopDriftKmh = 0
	}
	return &Cleaner{cfg: cfg}
}

// Config returns the effective thresholds.
func (c *Cleaner) Config() Config {
	return c.cfg
}

type position struct {
	lat, lon float64
}

// Clean returns a new slice ordered by timestamp. Every input point is either
// copied with SegmentMoving or, when it opens a stationary run, emitted as a
// SegmentCharging or SegmentStopped marker carrying the run duration; the rest
// of such a run is dropped. Fewer than three points are returned unchanged.
func (c *Cleaner) Clean(points []model.StoredPoint) []model.StoredPoint {
	if len(points) < 3 {
		out := make([]model.StoredPoint, len(points))
		copy(out, points)
		return out
	}

	sorted := make([]model.StoredPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	medians := c.futureMedians(sorted)
	out := make([]model.StoredPoint, 0, len(sorted))

	// Only points with successors have a future median; a run never
	// extends onto the final point.
	n := len(sorted)
	for i := 0; i < n; {
		j := i + 1
		for j < len(medians) && distance(medians[i], medians[j]) < c.cfg.StopDistanceThresholdMeters {
			j++
		}

		if j-i == 1 {
			out = append(out, tagged(sorted[i], model.SegmentMoving))
			i++
			continue
		}

		first, last := sorted[i], sorted[j-1]
		duration := float64(last.Timestamp - first.Timestamp)
		if !c.isStop(first, last, duration) {
			for k := i; k < j; k++ {
				out = append(out, tagged(sorted[k], model.SegmentMoving))
			}
			i = j
			continue
		}

		segment := model.SegmentStopped
		if duration <= c.cfg.MaxStopDurationSeconds {
			segment = model.SegmentCharging
		}
		marker := tagged(first, segment)
		marker.StopDurationSeconds = duration
		out = append(out, marker)
		i = j
	}

	return out
}

func (c *Cleaner) isStop(first, last model.StoredPoint, duration float64) bool {
	if duration < c.cfg.MinStopDurationSeconds {
		return false
	}
	if c.cfg.MaxStopDriftKmh == 0 {
		return true
	}
	drift := geo.DistanceMeters(first.Lat, first.Lon, last.Lat, last.Lon)
	return geo.SpeedKmh(drift, duration) <= c.cfg.MaxStopDriftKmh
}

// futureMedians returns, for every point but the last, the median position
// of the next MedianWindowSize points.
func (c *Cleaner) futureMedians(points []model.StoredPoint) []position {
	medians := make([]position, len(points)-1)
	lats := make([]float64, 0, c.cfg.MedianWindowSize)
	lons := make([]float64, 0, c.cfg.MedianWindowSize)

	for i := range medians {
		end := i + 1 + c.cfg.MedianWindowSize
		if end > len(points) {
			end = len(points)
		}

		lats, lons = lats[:0], lons[:0]
		for _, p := range points[i+1 : end] {
			lats = append(lats, p.Lat)
			lons = append(lons, p.Lon)
		}
		medians[i] = position{lat: geo.Median(lats), lon: geo.Median(lons)}
	}
	return medians
}

func distance(a, b position) float64 {
	return geo.DistanceMeters(a.lat, a.lon, b.lat, b.lon)
}

func tagged(p model.StoredPoint, segment model.SegmentType) model.StoredPoint {
	p.SegmentType = segment
	p.StopDurationSeconds = 0
	return p
}
