package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"triplog/tracker-server/internal/timestamp"
)

// Fix is one raw GPS reading as published by a tracker.
type Fix struct {
	DeviceID string
	Lat      float64
	Lon      float64
	// Time is authoritative for ordering; zero when the fix carried no timestamp.
	Time time.Time
	// TimeISO is the human readable companion string, kept verbatim.
	TimeISO string
	// Elevation is kept raw because trackers append a unit ("50M").
	Elevation       string
	Quality         string
	Heading         *float64
	SpeedOverGround *float64
	SatellitesUsed  *uint32
}

// HasTime reports whether the fix carried a usable timestamp.
func (f Fix) HasTime() bool {
	return !f.Time.IsZero()
}

// Validate rejects coordinates outside the WGS84 range.
func (f Fix) Validate() error {
	if math.IsNaN(f.Lat) || f.Lat < -90 || f.Lat > 90 {
		return fmt.Errorf("%w: lat %v out of range", ErrMalformedInput, f.Lat)
	}
	if math.IsNaN(f.Lon) || f.Lon < -180 || f.Lon > 180 {
		return fmt.Errorf("%w: lon %v out of range", ErrMalformedInput, f.Lon)
	}
	return nil
}

// ElevationMeters strips any unit suffix and parses the elevation.
func (f Fix) ElevationMeters() (float64, bool) {
	s := strings.TrimSpace(f.Elevation)
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return r == ' ' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
	})
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

type wireFix struct {
	DeviceID       string          `json:"device_id"`
	Lat            json.RawMessage `json:"lat"`
	Lon            json.RawMessage `json:"lon"`
	Timestamp      json.RawMessage `json:"timestamp"`
	Time           json.RawMessage `json:"time"`
	Elevation      json.RawMessage `json:"ele"`
	Quality        json.RawMessage `json:"quality"`
	Heading        json.RawMessage `json:"cog"`
	SOG            json.RawMessage `json:"sog"`
	SatellitesUsed json.RawMessage `json:"satellites_used"`
}

// UnmarshalJSON accepts numbers or numeric strings for every numeric field and
// any supported timestamp encoding. Missing lat/lon or an unparseable
// timestamp fail with ErrMalformedInput.
func (f *Fix) UnmarshalJSON(data []byte) error {
	var w wireFix
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	lat, ok, err := rawFloat(w.Lat)
	if err != nil {
		return fmt.Errorf("%w: lat: %v", ErrMalformedInput, err)
	}
	if !ok {
		return fmt.Errorf("%w: missing required field %q", ErrMalformedInput, "lat")
	}
	lon, ok, err := rawFloat(w.Lon)
	if err != nil {
		return fmt.Errorf("%w: lon: %v", ErrMalformedInput, err)
	}
	if !ok {
		return fmt.Errorf("%w: missing required field %q", ErrMalformedInput, "lon")
	}

	out := Fix{
		DeviceID:  strings.TrimSpace(w.DeviceID),
		Lat:       lat,
		Lon:       lon,
		Elevation: rawText(w.Elevation),
		Quality:   rawText(w.Quality),
	}

	iso := rawText(w.Time)
	out.TimeISO = iso

	switch {
	case !isAbsent(w.Timestamp):
		v, err := rawValue(w.Timestamp)
		if err != nil {
			return fmt.Errorf("%w: timestamp: %v", ErrMalformedInput, err)
		}
		t, err := timestamp.Parse(v)
		if err != nil {
			return fmt.Errorf("%w: timestamp: %v", ErrMalformedInput, err)
		}
		out.Time = t
	case iso != "":
		t, err := timestamp.ParseString(iso)
		if err != nil {
			return fmt.Errorf("%w: time: %v", ErrMalformedInput, err)
		}
		out.Time = t
	}

	if v, ok, err := rawFloat(w.Heading); err == nil && ok {
		out.Heading = &v
	}
	if v, ok, err := rawFloat(w.SOG); err == nil && ok {
		out.SpeedOverGround = &v
	}
	if v, ok, err := rawFloat(w.SatellitesUsed); err == nil && ok && v >= 0 && v <= math.MaxUint32 {
		n := uint32(v)
		out.SatellitesUsed = &n
	}

	*f = out
	return nil
}

// DecodeFixes decodes either a single fix object or an array of fixes.
func DecodeFixes(data []byte) ([]Fix, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedInput)
	}

	if trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
		}
		fixes := make([]Fix, 0, len(raw))
		for i, item := range raw {
			var fix Fix
			if err := json.Unmarshal(item, &fix); err != nil {
				return nil, fmt.Errorf("fix %d: %w", i, err)
			}
			fixes = append(fixes, fix)
		}
		return fixes, nil
	}

	var fix Fix
	if err := json.Unmarshal(trimmed, &fix); err != nil {
		return nil, err
	}
	return []Fix{fix}, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte(`""`))
}

func rawValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func rawFloat(raw json.RawMessage) (float64, bool, error) {
	if isAbsent(raw) {
		return 0, false, nil
	}
	v, err := rawValue(raw)
	if err != nil {
		return 0, false, err
	}

	var s string
	switch val := v.(type) {
	case json.Number:
		s = val.String()
	case string:
		s = strings.TrimSpace(val)
	default:
		return 0, false, fmt.Errorf("unexpected %T", v)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("non-finite value %q", s)
	}
	return f, true, nil
}

func rawText(raw json.RawMessage) string {
	if isAbsent(raw) {
		return ""
	}
	v, err := rawValue(raw)
	if err != nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}
