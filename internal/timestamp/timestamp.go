// Package timestamp normalises the timestamp encodings trackers and clients send.
//
// Accepted inputs are epoch seconds (integer, float, json.Number or numeric
// string), ISO-8601 with or without a UTC offset, ISO-8601 followed by a
// space-separated named zone abbreviation ("2025-04-14T02:26:59 MESZ"; the
// abbreviation is stripped, not converted), "YYYY-MM-DD HH:MM:SS",
// "YYYY/MM/DD HH:MM:SS" and "DD.MM.YYYY HH:MM:SS". Values without an offset
// are read as UTC. Anything else is an error wrapping ErrUnparseable.
package timestamp

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrUnparseable is returned for any input that is not a recognised timestamp.
var ErrUnparseable = errors.New("unparseable timestamp")

// maxEpochSeconds bounds numeric inputs to roughly the year 5138.
const maxEpochSeconds = 1e11

var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"02.01.2006 15:04:05",
}

// Parse converts any supported representation into a UTC time.
func Parse(v any) (time.Time, error) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("%w: empty value", ErrUnparseable)
	case time.Time:
		if val.IsZero() {
			return time.Time{}, fmt.Errorf("%w: zero time", ErrUnparseable)
		}
		return val.UTC(), nil
	case int:
		return fromEpochInt(int64(val))
	case int64:
		return fromEpochInt(val)
	case float64:
		return fromEpochFloat(val)
	case json.Number:
		return ParseString(val.String())
	case string:
		return ParseString(val)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrUnparseable, v)
	}
}

// ParseString converts a textual timestamp into a UTC time.
func ParseString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrUnparseable)
	}

	if isDecimal(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpochFloat(f)
		}
	}

	s = stripZoneName(s)

	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, s)
}

// Epoch returns the whole epoch seconds for any supported representation.
func Epoch(v any) (int64, error) {
	t, err := Parse(v)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

func fromEpochFloat(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("%w: non-finite epoch", ErrUnparseable)
	}
	if math.Abs(f) > maxEpochSeconds {
		return time.Time{}, fmt.Errorf("%w: epoch %g out of range", ErrUnparseable, f)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

func fromEpochInt(sec int64) (time.Time, error) {
	if sec > maxEpochSeconds || sec < -maxEpochSeconds {
		return time.Time{}, fmt.Errorf("%w: epoch %d out of range", ErrUnparseable, sec)
	}
	return time.Unix(sec, 0).UTC(), nil
}

// isDecimal reports whether s looks like a plain decimal number. Hex floats,
// Inf and NaN are left to the layout parsers, which reject them.
func isDecimal(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '.', r == '-', r == '+', r == 'e', r == 'E':
		default:
			return false
		}
	}
	return true
}

// stripZoneName drops a trailing " CEST"-style abbreviation.
func stripZoneName(s string) string {
	idx := strings.LastIndexByte(s, ' ')
	if idx <= 0 {
		return s
	}
	suffix := s[idx+1:]
	if len(suffix) < 2 || len(suffix) > 5 {
		return s
	}
	for _, r := range suffix {
		if r < 'A' || r > 'Z' {
			return s
		}
	}
	return strings.TrimSpace(s[:idx])
}
