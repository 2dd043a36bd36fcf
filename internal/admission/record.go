package admission

import (
	"time"

	"triplog/tracker-server/internal/model"
)

// NewRecord builds the storage record for an admitted fix. The fix is not
// modified; optional values are copied, the elevation unit is stripped, and a
// missing device id, quality or timestamp gets its default.
func NewRecord(fix model.Fix, processedAt time.Time) model.StoredPoint {
	processedAt = processedAt.UTC()

	rec := model.StoredPoint{
		DeviceID:     fix.DeviceID,
		Lat:          fix.Lat,
		Lon:          fix.Lon,
		Quality:      fix.Quality,
		TimestampISO: fix.TimeISO,
		ProcessedAt:  processedAt,
	}
	if rec.DeviceID == "" {
		rec.DeviceID = model.DefaultDeviceID
	}
	if rec.Quality == "" {
		rec.Quality = model.DefaultQuality
	}

	ts := processedAt
	if fix.HasTime() {
		ts = fix.Time.UTC()
	}
	rec.Timestamp = ts.Unix()
	if rec.TimestampISO == "" {
		rec.TimestampISO = ts.Format(time.RFC3339)
	}

	if ele, ok := fix.ElevationMeters(); ok {
		rec.Elevation = &ele
	}
	if fix.Heading != nil {
		v := *fix.Heading
		rec.Heading = &v
	}
	if fix.SpeedOverGround != nil {
		v := *fix.SpeedOverGround
		rec.SpeedOverGround = &v
	}
	if fix.SatellitesUsed != nil {
		v := *fix.SatellitesUsed
		rec.SatellitesUsed = &v
	}

	return rec
}
