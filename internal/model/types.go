package model

import (
	"errors"
	"time"
)

var (
	// ErrMalformedInput marks a fix or request that cannot be processed as sent.
	ErrMalformedInput = errors.New("malformed input")
	// ErrNotFound is returned when the requested data does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable wraps point and log store failures.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// SegmentType classifies a stored point after phantom cleanup.
type SegmentType string

const (
	SegmentMoving   SegmentType = "moving"
	SegmentStopped  SegmentType = "stopped"
	SegmentCharging SegmentType = "charging"
)

// IsStop reports whether the segment marks a collapsed stationary run.
func (s SegmentType) IsStop() bool {
	return s == SegmentStopped || s == SegmentCharging
}

const (
	// DefaultDeviceID is stored when a fix carries no device identifier.
	DefaultDeviceID = "unknown_device"
	// DefaultQuality is stored when a fix carries no quality indicator.
	DefaultQuality = "unknown"
)

// StoredPoint is an admitted fix as persisted by the point store.
type StoredPoint struct {
	DeviceID        string    `json:"id"`
	Timestamp       int64     `json:"timestamp"`
	TimestampISO    string    `json:"timestamp_iso,omitempty"`
	Lat             float64   `json:"lat"`
	Lon             float64   `json:"lon"`
	Elevation       *float64  `json:"ele,omitempty"`
	Quality         string    `json:"quality"`
	Heading         *float64  `json:"cog,omitempty"`
	SpeedOverGround *float64  `json:"sog,omitempty"`
	SatellitesUsed  *uint32   `json:"satellites_used,omitempty"`
	ProcessedAt     time.Time `json:"processed_at"`

	// Set only on the derived output of phantom cleanup.
	SegmentType         SegmentType `json:"segment_type,omitempty"`
	StopDurationSeconds float64     `json:"stop_duration_seconds,omitempty"`
}

// Session is a reconstructed driving trip. It is computed on every scan and never stored.
type Session struct {
	ID              string  `json:"id"`
	VehicleID       string  `json:"vehicleId"`
	StartTime       int64   `json:"startTime"`
	EndTime         int64   `json:"endTime"`
	StartTimeISO    string  `json:"startTimeISO"`
	EndTimeISO      string  `json:"endTimeISO"`
	DurationMinutes float64 `json:"duration"`
	DistanceMeters  float64 `json:"distance"`
	MovingTime      float64 `json:"movingTime"`
	StoppedTime     float64 `json:"stoppedTime"`
	AvgSpeedKmh     float64 `json:"avgSpeed"`
	NumPoints       int     `json:"numPoints"`
	NumStops        int     `json:"numStops"`
	StartLat        float64 `json:"startLat"`
	StartLon        float64 `json:"startLon"`
	EndLat          float64 `json:"endLat"`
	EndLon          float64 `json:"endLon"`
	StartCell       string  `json:"startGeohash"`
	EndCell         string  `json:"endGeohash"`
}

// DriversLog is a session a driver has reviewed and saved.
type DriversLog struct {
	ID        string    `json:"id"`
	VehicleID string    `json:"vehicleId"`
	StartTime int64     `json:"startTime"`
	EndTime   int64     `json:"endTime"`
	Distance  *float64  `json:"distance,omitempty"`
	Duration  *float64  `json:"duration,omitempty"`
	Purpose   string    `json:"purpose"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"timestamp"`
}

// Covers reports whether ts lies inside the log's closed interval.
func (l DriversLog) Covers(ts int64) bool {
	return l.StartTime <= ts && ts <= l.EndTime
}

// IngestionError captures a payload that failed validation.
type IngestionError struct {
	DeviceID string `json:"device_id"`
	Payload  string `json:"payload"`
	Error    string `json:"error"`
}
