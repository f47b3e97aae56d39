// Package store is the relational persistence layer: moisture history, valve
// audit trail, automation rules, watering profiles and plant measurements.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/growlog/irrigationd/internal/model"
)

var ErrNotFound = errors.New("store: not found")

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
// Use ":memory:" for an ephemeral database in tests.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc.org/sqlite serializes writes internally; a single connection
	// avoids table-lock errors from concurrent handlers.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS moisture_data (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			moisture REAL NOT NULL,
			raw_adc_value INTEGER,
			timestamp DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_moisture_device_time ON moisture_data(device_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS valve_actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			state INTEGER NOT NULL,
			source TEXT NOT NULL DEFAULT 'manual',
			ticket TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_valve_device_time ON valve_actions(device_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS automation_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL UNIQUE,
			enabled INTEGER NOT NULL DEFAULT 1,
			low_threshold REAL NOT NULL,
			high_threshold REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS watering_profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			wicking_wait_time INTEGER NOT NULL,
			watering_duration INTEGER NOT NULL,
			max_daily_cycles INTEGER NOT NULL,
			max_watering_per_day REAL NOT NULL DEFAULT 0,
			is_default INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS plant_measurements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			plant_name TEXT NOT NULL DEFAULT 'My Plant',
			height REAL,
			leaf_count INTEGER,
			stem_thickness REAL,
			canopy_width REAL,
			leaf_color INTEGER,
			leaf_firmness INTEGER,
			health_score INTEGER,
			notes TEXT,
			fertilized INTEGER NOT NULL DEFAULT 0,
			pruned INTEGER NOT NULL DEFAULT 0,
			ph_reading REAL,
			timestamp DATETIME NOT NULL
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// ---------- moisture readings ----------

func (s *Store) InsertReading(ctx context.Context, r model.MoistureReading) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO moisture_data (device_id, moisture, raw_adc_value, timestamp) VALUES (?, ?, ?, ?)`,
		r.DeviceID, r.Moisture, r.RawADC, r.Timestamp.UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ReadingsSince returns a device's readings newer than since, oldest first.
func (s *Store) ReadingsSince(ctx context.Context, deviceID string, since time.Time) ([]model.MoistureReading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, moisture, raw_adc_value, timestamp FROM moisture_data
		 WHERE device_id = ? AND timestamp >= ? ORDER BY timestamp`,
		deviceID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MoistureReading
	for rows.Next() {
		var r model.MoistureReading
		var raw sql.NullInt64
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.Moisture, &raw, &r.Timestamp); err != nil {
			return nil, err
		}
		if raw.Valid {
			v := int(raw.Int64)
			r.RawADC = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestReadings returns the newest reading per device, limited to devices
// heard from within the window. The automation sweep runs over this set.
func (s *Store) LatestReadings(ctx context.Context, window time.Duration) ([]model.MoistureReading, error) {
	cutoff := time.Now().Add(-window).UTC()
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.device_id, m.moisture, m.raw_adc_value, m.timestamp
		 FROM moisture_data m
		 JOIN (SELECT device_id, MAX(timestamp) AS ts FROM moisture_data
		       WHERE timestamp >= ? GROUP BY device_id) latest
		 ON m.device_id = latest.device_id AND m.timestamp = latest.ts
		 ORDER BY m.device_id`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.MoistureReading
	for rows.Next() {
		var r model.MoistureReading
		var raw sql.NullInt64
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.Moisture, &raw, &r.Timestamp); err != nil {
			return nil, err
		}
		if raw.Valid {
			v := int(raw.Int64)
			r.RawADC = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------- valve actions ----------

func (s *Store) InsertValveAction(ctx context.Context, a model.ValveAction) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO valve_actions (device_id, state, source, ticket, timestamp) VALUES (?, ?, ?, ?, ?)`,
		a.DeviceID, int(a.State), a.Source, a.Ticket, a.Timestamp.UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ValveHistory returns a device's valve actions newer than since, newest first.
func (s *Store) ValveHistory(ctx context.Context, deviceID string, since time.Time) ([]model.ValveAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, state, source, ticket, timestamp FROM valve_actions
		 WHERE device_id = ? AND timestamp >= ? ORDER BY timestamp DESC`,
		deviceID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ValveAction
	for rows.Next() {
		var a model.ValveAction
		var state int
		if err := rows.Scan(&a.ID, &a.DeviceID, &state, &a.Source, &a.Ticket, &a.Timestamp); err != nil {
			return nil, err
		}
		a.State = model.ValveState(state)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ---------- automation rules ----------

func (s *Store) GetRule(ctx context.Context, deviceID string) (model.AutomationRule, error) {
	var r model.AutomationRule
	var enabled int
	err := s.db.QueryRowContext(ctx,
		`SELECT device_id, enabled, low_threshold, high_threshold FROM automation_rules WHERE device_id = ?`,
		deviceID).Scan(&r.DeviceID, &enabled, &r.LowThreshold, &r.HighThreshold)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.Enabled = enabled != 0
	return r, nil
}

func (s *Store) UpsertRule(ctx context.Context, r model.AutomationRule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO automation_rules (device_id, enabled, low_threshold, high_threshold)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(device_id) DO UPDATE SET enabled=excluded.enabled,
		   low_threshold=excluded.low_threshold, high_threshold=excluded.high_threshold`,
		r.DeviceID, boolInt(r.Enabled), r.LowThreshold, r.HighThreshold)
	return err
}

// ---------- watering profiles ----------

// ActiveProfile resolves the profile governing a device: the default-flagged
// one wins, otherwise the most recently updated. ErrNotFound when the device
// has no profiles at all.
func (s *Store) ActiveProfile(ctx context.Context, deviceID string) (model.WateringProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, device_id, name, wicking_wait_time, watering_duration,
		        max_daily_cycles, max_watering_per_day, is_default, updated_at
		 FROM watering_profiles WHERE device_id = ?
		 ORDER BY is_default DESC, updated_at DESC LIMIT 1`,
		deviceID)
	return scanProfile(row)
}

func (s *Store) ListProfiles(ctx context.Context, deviceID string) ([]model.WateringProfile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, name, wicking_wait_time, watering_duration,
		        max_daily_cycles, max_watering_per_day, is_default, updated_at
		 FROM watering_profiles WHERE device_id = ? ORDER BY is_default DESC, updated_at DESC`,
		deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WateringProfile
	for rows.Next() {
		var p model.WateringProfile
		var isDefault int
		if err := rows.Scan(&p.ID, &p.DeviceID, &p.Name, &p.WickingWaitTime, &p.WateringDuration,
			&p.MaxDailyCycles, &p.MaxWateringPerDay, &isDefault, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.IsDefault = isDefault != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveProfile inserts or updates a profile. Flagging a profile default clears
// the flag on the device's other profiles, keeping at most one default.
func (s *Store) SaveProfile(ctx context.Context, p model.WateringProfile) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if p.IsDefault {
		if _, err := tx.ExecContext(ctx,
			`UPDATE watering_profiles SET is_default = 0 WHERE device_id = ?`, p.DeviceID); err != nil {
			return 0, err
		}
	}

	now := time.Now().UTC()
	if p.ID > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE watering_profiles SET name=?, wicking_wait_time=?, watering_duration=?,
			   max_daily_cycles=?, max_watering_per_day=?, is_default=?, updated_at=?
			 WHERE id=? AND device_id=?`,
			p.Name, p.WickingWaitTime, p.WateringDuration, p.MaxDailyCycles,
			p.MaxWateringPerDay, boolInt(p.IsDefault), now, p.ID, p.DeviceID)
		if err != nil {
			return 0, err
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO watering_profiles (device_id, name, wicking_wait_time, watering_duration,
			   max_daily_cycles, max_watering_per_day, is_default, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.DeviceID, p.Name, p.WickingWaitTime, p.WateringDuration, p.MaxDailyCycles,
			p.MaxWateringPerDay, boolInt(p.IsDefault), now)
		if err != nil {
			return 0, err
		}
		if p.ID, err = res.LastInsertId(); err != nil {
			return 0, err
		}
	}
	return p.ID, tx.Commit()
}

func scanProfile(row *sql.Row) (model.WateringProfile, error) {
	var p model.WateringProfile
	var isDefault int
	err := row.Scan(&p.ID, &p.DeviceID, &p.Name, &p.WickingWaitTime, &p.WateringDuration,
		&p.MaxDailyCycles, &p.MaxWateringPerDay, &isDefault, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.IsDefault = isDefault != 0
	return p, nil
}

// ---------- plant measurements ----------

func (s *Store) InsertMeasurement(ctx context.Context, m model.PlantMeasurement) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO plant_measurements (device_id, plant_name, height, leaf_count, stem_thickness,
		   canopy_width, leaf_color, leaf_firmness, health_score, notes, fertilized, pruned,
		   ph_reading, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.DeviceID, m.PlantName, m.Height, m.LeafCount, m.StemThickness, m.CanopyWidth,
		m.LeafColor, m.LeafFirmness, m.HealthScore, m.Notes, boolInt(m.Fertilized),
		boolInt(m.Pruned), m.PHReading, m.Timestamp.UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) MeasurementsSince(ctx context.Context, deviceID string, since time.Time) ([]model.PlantMeasurement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, plant_name, height, leaf_count, stem_thickness, canopy_width,
		        leaf_color, leaf_firmness, health_score, COALESCE(notes,''), fertilized, pruned,
		        ph_reading, timestamp
		 FROM plant_measurements WHERE device_id = ? AND timestamp >= ? ORDER BY timestamp DESC`,
		deviceID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PlantMeasurement
	for rows.Next() {
		var m model.PlantMeasurement
		var fertilized, pruned int
		if err := rows.Scan(&m.ID, &m.DeviceID, &m.PlantName, &m.Height, &m.LeafCount,
			&m.StemThickness, &m.CanopyWidth, &m.LeafColor, &m.LeafFirmness, &m.HealthScore,
			&m.Notes, &fertilized, &pruned, &m.PHReading, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Fertilized = fertilized != 0
		m.Pruned = pruned != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---------- retention ----------

// Purge deletes moisture and valve rows older than the cutoff and reports how
// many rows went away.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (readings, actions int64, err error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM moisture_data WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return 0, 0, err
	}
	readings, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `DELETE FROM valve_actions WHERE timestamp < ?`, cutoff.UTC())
	if err != nil {
		return readings, 0, err
	}
	actions, _ = res.RowsAffected()
	return readings, actions, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
