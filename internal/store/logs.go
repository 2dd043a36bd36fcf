package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"triplog/tracker-server/internal/model"
)

const logColumns = `id, vehicle_id, start_time, end_time, distance, duration, purpose, notes, created_at`

// SaveLog stores a drivers log, replacing any log with the same id.
func (s *Store) SaveLog(ctx context.Context, l model.DriversLog) error {
	if s.db == nil {
		return fmt.Errorf("store not initialized")
	}

	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO drivers_logs (`+logColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id)
		 DO UPDATE SET vehicle_id = excluded.vehicle_id,
				 start_time = excluded.start_time,
				 end_time = excluded.end_time,
				 distance = excluded.distance,
				 duration = excluded.duration,
				 purpose = excluded.purpose,
				 notes = excluded.notes,
				 created_at = excluded.created_at;`,
		l.ID,
		l.VehicleID,
		l.StartTime,
		l.EndTime,
		nullFloat(l.Distance),
		nullFloat(l.Duration),
		l.Purpose,
		l.Notes,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save drivers log: %w", err)
	}
	return nil
}

// GetLog returns one drivers log by id.
func (s *Store) GetLog(ctx context.Context, id string) (model.DriversLog, error) {
	if s.db == nil {
		return model.DriversLog{}, fmt.Errorf("store not initialized")
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+logColumns+` FROM drivers_logs WHERE id = ?;`, id)
	l, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DriversLog{}, fmt.Errorf("drivers log %q: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.DriversLog{}, fmt.Errorf("get drivers log: %w", err)
	}
	return l, nil
}

// ListLogs returns the logs of one vehicle, or of every vehicle when
// vehicleID is empty, newest first.
func (s *Store) ListLogs(ctx context.Context, vehicleID string) ([]model.DriversLog, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	query := `SELECT ` + logColumns + ` FROM drivers_logs`
	var args []interface{}
	if vehicleID != "" {
		query += ` WHERE vehicle_id = ?`
		args = append(args, vehicleID)
	}
	query += ` ORDER BY start_time DESC`

	rows, err := s.db.QueryContext(ctx, query+";", args...)
	if err != nil {
		return nil, fmt.Errorf("query drivers logs: %w", err)
	}
	defer rows.Close()

	return scanLogs(rows)
}

// LogsForVehicle returns the vehicle's logs whose interval overlaps [from, to].
func (s *Store) LogsForVehicle(ctx context.Context, vehicleID string, from, to int64) ([]model.DriversLog, error) {
	if s.db == nil {
		return nil, fmt.Errorf("store not initialized")
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+logColumns+`
		 FROM drivers_logs
		 WHERE vehicle_id = ? AND start_time <= ? AND end_time >= ?
		 ORDER BY start_time ASC;`,
		vehicleID, to, from,
	)
	if err != nil {
		return nil, fmt.Errorf("query drivers logs: %w", err)
	}
	defer rows.Close()

	return scanLogs(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row rowScanner) (model.DriversLog, error) {
	var (
		l                  model.DriversLog
		distance, duration sql.NullFloat64
		purpose, notes     sql.NullString
		createdAtStr       string
	)
	if err := row.Scan(&l.ID, &l.VehicleID, &l.StartTime, &l.EndTime, &distance, &duration, &purpose, &notes, &createdAtStr); err != nil {
		return model.DriversLog{}, err
	}

	l.Distance = floatPtr(distance)
	l.Duration = floatPtr(duration)
	l.Purpose = purpose.String
	l.Notes = notes.String
	l.CreatedAt = parseTime(createdAtStr)
	return l, nil
}

func scanLogs(rows *sql.Rows) ([]model.DriversLog, error) {
	logs := []model.DriversLog{}
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan drivers log: %w", err)
		}
		logs = append(logs, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drivers logs: %w", err)
	}

	return logs, nil
}
