package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triplog/tracker-server/internal/model"
	"triplog/tracker-server/internal/phantom"
	"triplog/tracker-server/internal/session"
)

var now = time.Date(2025, 4, 14, 12, 0, 0, 0, time.UTC)

type fakePoints struct {
	points   []model.StoredPoint
	err      error
	from, to int64
	calls    []string
}

func (f *fakePoints) QueryRange(_ context.Context, _ string, from, to int64) ([]model.StoredPoint, error) {
	f.calls = append(f.calls, "range")
	f.from, f.to = from, to
	if f.err != nil {
		return nil, f.err
	}
	var out []model.StoredPoint
	for _, p := range f.points {
		if p.Timestamp >= from && p.Timestamp <= to {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePoints) QueryAll(_ context.Context, _ string) ([]model.StoredPoint, error) {
	f.calls = append(f.calls, "all")
	if f.err != nil {
		return nil, f.err
	}
	return f.points, nil
}

type fakeLogs struct {
	logs []model.DriversLog
	err  error
}

func (f *fakeLogs) LogsForVehicle(_ context.Context, vehicleID string, from, to int64) ([]model.DriversLog, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.DriversLog
	for _, l := range f.logs {
		if l.VehicleID == vehicleID && l.StartTime <= to && l.EndTime >= from {
			out = append(out, l)
		}
	}
	return out, nil
}

// drive returns n+1 fixes ~333m apart, one per minute.
func drive(lat float64, start int64, n int) []model.StoredPoint {
	points := make([]model.StoredPoint, 0, n+1)
	for k := 0; k <= n; k++ {
		points = append(points, model.StoredPoint{
			DeviceID:  "vehicle_01",
			Timestamp: start + int64(k)*60,
			Lat:       lat + float64(k)*0.003,
			Lon:       13.0,
		})
	}
	return points
}

func newTestScanner(points PointSource, logs LogSource, cleanup bool) *Scanner {
	cfg := session.DefaultConfig()
	cfg.ApplyPhantomCleanup = cleanup
	return NewScanner(points, logs, phantom.NewCleaner(phantom.DefaultConfig()), session.NewSegmenter(cfg))
}

func TestParseDays(t *testing.T) {
	tests := []struct {
		raw  string
		days int
		all  bool
	}{
		{raw: "3", days: 3},
		{raw: " 30 ", days: 30},
		{raw: "all", all: true},
		{raw: "ALL", all: true},
		{raw: "", days: 7},
		{raw: "0", days: 7},
		{raw: "-2", days: 7},
		{raw: "week", days: 7},
	}
	for _, tt := range tests {
		days, all := ParseDays(tt.raw, 7)
		assert.Equal(t, tt.all, all, tt.raw)
		if !tt.all {
			assert.Equal(t, tt.days, days, tt.raw)
		}
	}
}

func TestScanWindow(t *testing.T) {
	yesterday := now.Add(-24 * time.Hour).Unix()
	points := &fakePoints{points: drive(52.0, yesterday, 10)}
	s := newTestScanner(points, &fakeLogs{}, true)

	res, err := s.Scan(context.Background(), "vehicle_01", "3", now)
	require.NoError(t, err)

	assert.Equal(t, []string{"range"}, points.calls)
	assert.Equal(t, now.AddDate(0, 0, -3).Unix(), points.from)
	assert.Equal(t, now.Unix(), points.to)

	assert.Equal(t, "vehicle_01", res.VehicleID)
	assert.False(t, res.ScanPeriod.ScanAll)
	require.NotNil(t, res.ScanPeriod.Days)
	assert.Equal(t, 3, *res.ScanPeriod.Days)
	require.NotNil(t, res.ScanPeriod.End)
	assert.True(t, now.Equal(*res.ScanPeriod.End))
	assert.Equal(t, 11, res.ScanPeriod.TotalDataPoints)

	require.Len(t, res.Sessions, 1)
	assert.Equal(t, 1, res.TotalSessionsFound)
	assert.Equal(t, yesterday, res.Sessions[0].StartTime)
	assert.Equal(t, 11, res.Sessions[0].NumPoints)
}

func TestScanAll(t *testing.T) {
	old := now.AddDate(-1, 0, 0).Unix()
	points := &fakePoints{points: append(drive(52.0, old, 10), drive(52.0, now.Add(-time.Hour).Unix(), 10)...)}
	s := newTestScanner(points, &fakeLogs{}, true)

	res, err := s.Scan(context.Background(), "vehicle_01", "all", now)
	require.NoError(t, err)

	assert.Equal(t, []string{"all"}, points.calls)
	assert.True(t, res.ScanPeriod.ScanAll)
	assert.Nil(t, res.ScanPeriod.Start)
	assert.Nil(t, res.ScanPeriod.Days)
	assert.Equal(t, 22, res.ScanPeriod.TotalDataPoints)
	require.Len(t, res.Sessions, 2)
	assert.Greater(t, res.Sessions[0].StartTime, res.Sessions[1].StartTime)
}

func TestScanInvalidDaysFallsBackToDefault(t *testing.T) {
	points := &fakePoints{points: drive(52.0, now.Add(-time.Hour).Unix(), 10)}
	s := newTestScanner(points, &fakeLogs{}, true)

	res, err := s.Scan(context.Background(), "vehicle_01", "soon", now)
	require.NoError(t, err)
	require.NotNil(t, res.ScanPeriod.Days)
	assert.Equal(t, 7, *res.ScanPeriod.Days)
	assert.Equal(t, now.AddDate(0, 0, -7).Unix(), points.from)
}

func TestScanNoPoints(t *testing.T) {
	s := newTestScanner(&fakePoints{}, &fakeLogs{}, true)

	_, err := s.Scan(context.Background(), "vehicle_01", "7", now)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Contains(t, err.Error(), "last 7 days")

	_, err = s.Scan(context.Background(), "vehicle_01", "all", now)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Contains(t, err.Error(), "entire dataset")
}

func TestScanUpstreamFailures(t *testing.T) {
	s := newTestScanner(&fakePoints{err: errors.New("db locked")}, &fakeLogs{}, true)
	_, err := s.Scan(context.Background(), "vehicle_01", "all", now)
	assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)

	points := &fakePoints{points: drive(52.0, now.Add(-time.Hour).Unix(), 10)}
	s = newTestScanner(points, &fakeLogs{err: errors.New("db locked")}, true)
	_, err = s.Scan(context.Background(), "vehicle_01", "all", now)
	assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)
}

func TestScanSkipsLoggedSessions(t *testing.T) {
	start := now.Add(-time.Hour).Unix()
	points := &fakePoints{points: drive(52.0, start, 10)}
	logs := &fakeLogs{logs: []model.DriversLog{{ID: "l1", VehicleID: "vehicle_01", StartTime: start - 60, EndTime: start + 60}}}
	s := newTestScanner(points, logs, true)

	res, err := s.Scan(context.Background(), "vehicle_01", "1", now)
	require.NoError(t, err)
	assert.NotNil(t, res.Sessions)
	assert.Empty(t, res.Sessions)
	assert.Zero(t, res.TotalSessionsFound)
}

func TestScanPhantomCleanupMarksStops(t *testing.T) {
	start := now.Add(-2 * time.Hour).Unix()

	var points []model.StoredPoint
	out := drive(52.0, start, 10)
	points = append(points, out...)
	parkLat := out[len(out)-1].Lat + 0.003
	parkStart := out[len(out)-1].Timestamp + 60
	for k := 0; k < 20; k++ {
		points = append(points, model.StoredPoint{
			DeviceID:  "vehicle_01",
			Timestamp: parkStart + int64(k)*60,
			Lat:       parkLat + float64(k%3-1)*0.00005,
			Lon:       13.0,
		})
	}
	back := drive(parkLat+0.003, parkStart+20*60, 10)
	points = append(points, back...)

	withCleanup, err := newTestScanner(&fakePoints{points: points}, &fakeLogs{}, true).
		Scan(context.Background(), "vehicle_01", "1", now)
	require.NoError(t, err)
	require.Len(t, withCleanup.Sessions, 1)

	raw, err := newTestScanner(&fakePoints{points: points}, &fakeLogs{}, false).
		Scan(context.Background(), "vehicle_01", "1", now)
	require.NoError(t, err)
	require.Len(t, raw.Sessions, 1)

	assert.Equal(t, 1, withCleanup.Sessions[0].NumStops)
	assert.Greater(t, withCleanup.Sessions[0].StoppedTime, 5.0)
	assert.Zero(t, raw.Sessions[0].NumStops)
	assert.Less(t, withCleanup.Sessions[0].NumPoints, raw.Sessions[0].NumPoints)
	assert.Equal(t, len(points), raw.Sessions[0].NumPoints)
}

func TestCleanedHistory(t *testing.T) {
	start := now.Add(-time.Hour).Unix()
	var points []model.StoredPoint
	for k := 0; k < 20; k++ {
		points = append(points, model.StoredPoint{DeviceID: "vehicle_01", Timestamp: start + int64(k)*60, Lat: 52, Lon: 13})
	}
	s := newTestScanner(&fakePoints{points: points}, &fakeLogs{}, true)

	got, err := s.CleanedHistory(context.Background(), "vehicle_01", start, start+3600)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.SegmentCharging, got[0].SegmentType)
	assert.Equal(t, 1080.0, got[0].StopDurationSeconds)
	assert.Equal(t, model.SegmentMoving, got[1].SegmentType)

	_, err = newTestScanner(&fakePoints{err: errors.New("boom")}, &fakeLogs{}, true).
		CleanedHistory(context.Background(), "vehicle_01", 0, 1)
	assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)
}
