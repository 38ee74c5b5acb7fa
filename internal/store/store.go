// Package store persists exercise snapshots for the uplink to read. The
// SQLite store mirrors the on-device table: one row per exercise, keyed by
// its start time.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/gg-glitch-88/exercise-uplink/internal/exercise"
)

// DB wraps *sql.DB with snapshot helpers.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the SQLite file at path with WAL journal mode and
// applies the schema.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	raw, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := raw.Ping(); err != nil {
		raw.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	// One writer; WAL still lets the recorder and the uplink read concurrently.
	raw.SetMaxOpenConns(1)

	db := &DB{raw}
	if err := Migrate(db); err != nil {
		raw.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the DDL. It is idempotent.
func Migrate(db *DB) error {
	if _, err := db.Exec(ddlExerciseData); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

const ddlExerciseData = `
CREATE TABLE IF NOT EXISTS exercise_data (
    start_time      INTEGER PRIMARY KEY,      -- epoch ms
    update_time     INTEGER NOT NULL DEFAULT 0,
    active_duration INTEGER NOT NULL DEFAULT 0,
    curr_lat        REAL,
    curr_lng        REAL,
    dest_lat        REAL,
    dest_lng        REAL,
    bearing         INTEGER NOT NULL DEFAULT 0,
    distance        REAL,
    calories        REAL,
    heart_rate      REAL,
    heart_rate_avg  REAL,
    steps           INTEGER,
    speed           REAL,
    speed_avg       REAL,
    current_status  TEXT    NOT NULL DEFAULT 'UNKNOWN'
);
`

const upsertSnapshot = `
INSERT INTO exercise_data (
    start_time, update_time, active_duration, curr_lat, curr_lng, dest_lat, dest_lng,
    bearing, distance, calories, heart_rate, heart_rate_avg, steps, speed, speed_avg,
    current_status
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(start_time) DO UPDATE SET
    update_time = excluded.update_time,
    active_duration = excluded.active_duration,
    curr_lat = excluded.curr_lat,
    curr_lng = excluded.curr_lng,
    dest_lat = excluded.dest_lat,
    dest_lng = excluded.dest_lng,
    bearing = excluded.bearing,
    distance = excluded.distance,
    calories = excluded.calories,
    heart_rate = excluded.heart_rate,
    heart_rate_avg = excluded.heart_rate_avg,
    steps = excluded.steps,
    speed = excluded.speed,
    speed_avg = excluded.speed_avg,
    current_status = excluded.current_status`

const selectLatest = `
SELECT start_time, update_time, active_duration, curr_lat, curr_lng, dest_lat, dest_lng,
       bearing, distance, calories, heart_rate, heart_rate_avg, steps, speed, speed_avg,
       current_status
FROM exercise_data
ORDER BY start_time DESC
LIMIT 1`

// Upsert writes s, replacing the row of the exercise with the same start time.
func (db *DB) Upsert(ctx context.Context, s *exercise.Snapshot) error {
	if s == nil {
		return errors.New("store: cannot store nil snapshot")
	}
	_, err := db.ExecContext(ctx, upsertSnapshot,
		s.StartTime, s.UpdateTime, s.ActiveDuration,
		nullFloat(s.CurrentLat), nullFloat(s.CurrentLng),
		nullFloat(s.DestLat), nullFloat(s.DestLng),
		s.Bearing,
		nullFloat(s.Distance), nullFloat(s.Calories),
		nullFloat(s.HeartRate), nullFloat(s.HeartRateAvg),
		nullInt32(s.Steps),
		nullFloat(s.Speed), nullFloat(s.SpeedAvg),
		s.Status.String(),
	)
	if err != nil {
		return fmt.Errorf("store: upsert snapshot %d: %w", s.StartTime, err)
	}
	return nil
}

// Latest returns the snapshot with the highest start time, or nil when the
// table is empty.
func (db *DB) Latest(ctx context.Context) (*exercise.Snapshot, error) {
	var (
		s                                  exercise.Snapshot
		currLat, currLng, destLat, destLng sql.NullFloat64
		distance, calories                 sql.NullFloat64
		heartRate, heartRateAvg            sql.NullFloat64
		speed, speedAvg                    sql.NullFloat64
		steps                              sql.NullInt32
		status                             string
	)
	err := db.QueryRowContext(ctx, selectLatest).Scan(
		&s.StartTime, &s.UpdateTime, &s.ActiveDuration,
		&currLat, &currLng, &destLat, &destLng,
		&s.Bearing,
		&distance, &calories, &heartRate, &heartRateAvg,
		&steps, &speed, &speedAvg,
		&status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest snapshot: %w", err)
	}

	s.CurrentLat = floatPtr(currLat)
	s.CurrentLng = floatPtr(currLng)
	s.DestLat = floatPtr(destLat)
	s.DestLng = floatPtr(destLng)
	s.Distance = floatPtr(distance)
	s.Calories = floatPtr(calories)
	s.HeartRate = floatPtr(heartRate)
	s.HeartRateAvg = floatPtr(heartRateAvg)
	s.Speed = floatPtr(speed)
	s.SpeedAvg = floatPtr(speedAvg)
	if steps.Valid {
		s.Steps = exercise.Int32(steps.Int32)
	}
	s.Status = exercise.ParseStatus(status)
	return &s, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullInt32(p *int32) sql.NullInt32 {
	if p == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return exercise.Float(n.Float64)
}
