package main

import (
	"math"
	"math/rand"
	"time"
)

const metersPerDegreeLat = 111320.0

// fixPayload mirrors the JSON a GPS tracker publishes.
type fixPayload struct {
	DeviceID       string  `json:"device_id"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	Timestamp      string  `json:"timestamp"`
	Elevation      string  `json:"ele"`
	Quality        string  `json:"quality"`
	Heading        float64 `json:"cog"`
	SpeedKnots     float64 `json:"sog"`
	SatellitesUsed int     `json:"satellites_used"`
}

type routeOptions struct {
	DeviceID   string
	StartLat   float64
	StartLon   float64
	Start      time.Time
	Interval   time.Duration
	SpeedKmh   float64
	Legs       int
	DriveFixes int
	ParkFixes  int
	JitterM    float64
}

// buildRoute produces Legs drive legs separated by parks. Parked fixes
// scatter within JitterM of the parking spot like a stationary GPS receiver.
func buildRoute(opts routeOptions, rng *rand.Rand) []fixPayload {
	lat, lon := opts.StartLat, opts.StartLon
	ts := opts.Start.UTC()
	step := opts.SpeedKmh / 3.6 * opts.Interval.Seconds()

	var fixes []fixPayload
	emit := func(lat, lon, heading, speedKmh float64) {
		fixes = append(fixes, fixPayload{
			DeviceID:       opts.DeviceID,
			Lat:            lat,
			Lon:            lon,
			Timestamp:      ts.Format(time.RFC3339),
			Elevation:      "50M",
			Quality:        "3D",
			Heading:        heading,
			SpeedKnots:     speedKmh / 1.852,
			SatellitesUsed: 7 + rng.Intn(5),
		})
		ts = ts.Add(opts.Interval)
	}

	for leg := 0; leg < opts.Legs; leg++ {
		heading := rng.Float64() * 360
		for i := 0; i < opts.DriveFixes; i++ {
			emit(lat, lon, heading, opts.SpeedKmh)
			lat, lon = offset(lat, lon, heading, step)
		}

		if leg == opts.Legs-1 {
			break
		}
		for i := 0; i < opts.ParkFixes; i++ {
			jLat, jLon := offset(lat, lon, rng.Float64()*360, rng.Float64()*opts.JitterM)
			emit(jLat, jLon, 0, 0)
		}
	}
	return fixes
}

// offset moves a coordinate by meters along heading (degrees from north).
func offset(lat, lon, heading, meters float64) (float64, float64) {
	rad := heading * math.Pi / 180
	dLat := meters * math.Cos(rad) / metersPerDegreeLat
	dLon := meters * math.Sin(rad) / (metersPerDegreeLat * math.Cos(lat*math.Pi/180))
	return lat + dLat, lon + dLon
}
