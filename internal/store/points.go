package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"triplog/tracker-server/internal/model"
)

const pointColumns = `device_id, timestamp, timestamp_iso, lat, lon, ele, quality, cog, sog, satellites_used, processed_at`

// InsertPoint persists an admitted point. A point with the same device and
// timestamp is replaced.
func (s *Store) InsertPoint(ctx context.Context, p model.StoredPoint) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	processedAt := p.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	var sats sql.NullInt64
	if p.SatellitesUsed != nil {
		sats = sql.NullInt64{Int64: int64(*p.SatellitesUsed), Valid: true}
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO points (`+pointColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(device_id, timestamp)
		 DO UPDATE SET timestamp_iso = excluded.timestamp_iso,
				 lat = excluded.lat,
				 lon = excluded.lon,
				 ele = excluded.ele,
				 quality = excluded.quality,
				 cog = excluded.cog,
				 sog = excluded.sog,
				 satellites_used = excluded.satellites_used,
				 processed_at = excluded.processed_at;`,
		p.DeviceID,
		p.Timestamp,
		p.TimestampISO,
		p.Lat,
		p.Lon,
		nullFloat(p.Elevation),
		p.Quality,
		nullFloat(p.Heading),
		nullFloat(p.SpeedOverGround),
		sats,
		processedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert point: %w", err)
	}
	return nil
}

// QueryRange returns a device's points with from <= timestamp <= to, oldest first.
func (s *Store) QueryRange(ctx context.Context, deviceID string, from, to int64) ([]model.StoredPoint, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+pointColumns+`
		 FROM points
		 WHERE device_id = ? AND timestamp BETWEEN ? AND ?
		 ORDER BY timestamp ASC;`,
		deviceID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	return scanPoints(rows)
}

// QueryAll returns every point of a device, oldest first.
func (s *Store) QueryAll(ctx context.Context, deviceID string) ([]model.StoredPoint, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+pointColumns+`
		 FROM points
		 WHERE device_id = ?
		 ORDER BY timestamp ASC;`,
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	return scanPoints(rows)
}

// LatestPoint returns the newest point of a device.
func (s *Store) LatestPoint(ctx context.Context, deviceID string) (model.StoredPoint, error) {
	if s.db == nil {
		return model.StoredPoint{}, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+pointColumns+`
		 FROM points
		 WHERE device_id = ?
		 ORDER BY timestamp DESC
		 LIMIT 1;`,
		deviceID,
	)
	if err != nil {
		return model.StoredPoint{}, fmt.Errorf("latest point query: %w", err)
	}
	defer rows.Close()

	points, err := scanPoints(rows)
	if err != nil {
		return model.StoredPoint{}, err
	}
	if len(points) == 0 {
		return model.StoredPoint{}, fmt.Errorf("latest point for %q: %w", deviceID, model.ErrNotFound)
	}
	return points[0], nil
}

// DeviceIDs returns every device that has stored points, sorted.
func (s *Store) DeviceIDs(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT device_id FROM points ORDER BY device_id;`)
	if err != nil {
		return nil, fmt.Errorf("query device ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan device id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device ids: %w", err)
	}

	return ids, nil
}

func scanPoints(rows *sql.Rows) ([]model.StoredPoint, error) {
	var points []model.StoredPoint
	for rows.Next() {
		var (
			p              model.StoredPoint
			timestampISO   sql.NullString
			ele, cog, sog  sql.NullFloat64
			sats           sql.NullInt64
			processedAtStr string
		)
		if err := rows.Scan(&p.DeviceID, &p.Timestamp, &timestampISO, &p.Lat, &p.Lon, &ele, &p.Quality, &cog, &sog, &sats, &processedAtStr); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}

		p.TimestampISO = timestampISO.String
		p.Elevation = floatPtr(ele)
		p.Heading = floatPtr(cog)
		p.SpeedOverGround = floatPtr(sog)
		if sats.Valid {
			n := uint32(sats.Int64)
			p.SatellitesUsed = &n
		}
		p.ProcessedAt = parseTime(processedAtStr)

		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate points: %w", err)
	}

	return points, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
