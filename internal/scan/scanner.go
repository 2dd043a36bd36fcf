// Package scan finds the sessions of a vehicle that have not been saved as a
// drivers log yet.
package scan

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"triplog/tracker-server/internal/model"
	"triplog/tracker-server/internal/phantom"
	"triplog/tracker-server/internal/session"
)

// PointSource reads stored points, oldest first.
type PointSource interface {
	QueryRange(ctx context.Context, deviceID string, from, to int64) ([]model.StoredPoint, error)
	QueryAll(ctx context.Context, deviceID string) ([]model.StoredPoint, error)
}

// LogSource reads the drivers logs of a vehicle overlapping [from, to].
type LogSource interface {
	LogsForVehicle(ctx context.Context, vehicleID string, from, to int64) ([]model.DriversLog, error)
}

// Period describes the window a scan covered. Start, End and Days are nil
// when the whole dataset was scanned.
type Period struct {
	Start           *time.Time `json:"start"`
	End             *time.Time `json:"end"`
	Days            *int       `json:"days"`
	ScanAll         bool       `json:"scan_all"`
	TotalDataPoints int        `json:"total_data_points"`
}

// Result is the response of a scan.
type Result struct {
	VehicleID          string          `json:"vehicle_id"`
	ScanPeriod         Period          `json:"scan_period"`
	Sessions           []model.Session `json:"sessions"`
	TotalSessionsFound int             `json:"total_sessions_found"`
}

// Scanner pulls the data for a vehicle once and hands it to the cleaner and
// segmenter.
type Scanner struct {
	points    PointSource
	logs      LogSource
	cleaner   *phantom.Cleaner
	segmenter *session.Segmenter
}

// NewScanner builds a scanner.
func NewScanner(points PointSource, logs LogSource, cleaner *phantom.Cleaner, segmenter *session.Segmenter) *Scanner {
	return &Scanner{points: points, logs: logs, cleaner: cleaner, segmenter: segmenter}
}

// ParseDays interprets the days parameter: "all" (any case) scans everything,
// a positive integer scans that many days back, anything else falls back to def.
func ParseDays(raw string, def int) (int, bool) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "all") {
		return 0, true
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return def, false
	}
	return days, false
}

// Scan returns the unsaved sessions of a vehicle, newest first. It fails with
// model.ErrNotFound when the window holds no points.
func (s *Scanner) Scan(ctx context.Context, vehicleID, days string, now time.Time) (Result, error) {
	cfg := s.segmenter.Config()
	n, all := ParseDays(days, cfg.DefaultScanDays)

	res := Result{VehicleID: vehicleID, ScanPeriod: Period{ScanAll: all}}

	var (
		points []model.StoredPoint
		err    error
	)
	if all {
		points, err = s.points.QueryAll(ctx, vehicleID)
	} else {
		end := now.UTC()
		start := end.AddDate(0, 0, -n)
		res.ScanPeriod.Start = &start
		res.ScanPeriod.End = &end
		res.ScanPeriod.Days = &n
		points, err = s.points.QueryRange(ctx, vehicleID, start.Unix(), end.Unix())
	}
	if err != nil {
		return Result{}, fmt.Errorf("fetch points: %w: %w", model.ErrUpstreamUnavailable, err)
	}

	if len(points) == 0 {
		scope := "entire dataset"
		if !all {
			scope = fmt.Sprintf("last %d days", n)
		}
		return Result{}, fmt.Errorf("no location data found for %q in the %s: %w", vehicleID, scope, model.ErrNotFound)
	}
	res.ScanPeriod.TotalDataPoints = len(points)

	from, to := points[0].Timestamp, points[0].Timestamp
	for _, p := range points {
		from = min(from, p.Timestamp)
		to = max(to, p.Timestamp)
	}
	logs, err := s.logs.LogsForVehicle(ctx, vehicleID, from, to)
	if err != nil {
		return Result{}, fmt.Errorf("fetch drivers logs: %w: %w", model.ErrUpstreamUnavailable, err)
	}

	if cfg.ApplyPhantomCleanup {
		points = s.cleaner.Clean(points)
	}

	res.Sessions = s.segmenter.Segment(vehicleID, points, logs)
	if res.Sessions == nil {
		res.Sessions = []model.Session{}
	}
	res.TotalSessionsFound = len(res.Sessions)
	return res, nil
}

// CleanedHistory returns a vehicle's points in [from, to] with stationary
// runs collapsed into stop markers.
func (s *Scanner) CleanedHistory(ctx context.Context, vehicleID string, from, to int64) ([]model.StoredPoint, error) {
	points, err := s.points.QueryRange(ctx, vehicleID, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch points: %w: %w", model.ErrUpstreamUnavailable, err)
	}
	return s.cleaner.Clean(points), nil
}
