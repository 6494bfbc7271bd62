package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/models"
)

// timeLayout sorts lexically in time order, which the range queries rely on
const timeLayout = "2006-01-02 15:04:05.000"

// Store defines the interface for record storage
type Store interface {
	Close() error
	Migrate() error
	InsertRecord(rec *models.Record) error
	InsertBatch(recs []*models.Record) error
	GetRecordsInRange(deviceID string, start, end time.Time, limit int) ([]*models.Record, error)
	GetLatestRecord(deviceID string) (*models.Record, error)
	GetDailyStats(deviceID string, start, end time.Time) ([]DailyStat, error)
	DeleteOlderThan(days int) (int64, error)
	GetStorageStats() (*StorageStats, error)
	GetDeviceIDs() ([]string, error)
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore persists records in a single SQLite file
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// DailyStat is one day of aggregated readings for a device
type DailyStat struct {
	Date           time.Time `json:"date"`
	DeviceID       string    `json:"device_id"`
	MinTemperature float64   `json:"min_temperature"`
	MaxTemperature float64   `json:"max_temperature"`
	AvgTemperature float64   `json:"avg_temperature"`
	AvgHumidity    float64   `json:"avg_humidity"`
	MaxECO2        int       `json:"max_eco2"`
	AvgECO2        float64   `json:"avg_eco2"`
	MaxPM2_5       int       `json:"max_pm2_5"`
	AvgPM2_5       float64   `json:"avg_pm2_5"`
	MaxAlert       int       `json:"max_alert"`
	RecordCount    int       `json:"record_count"`
}

// StorageStats contains information about the database
type StorageStats struct {
	TotalRecords   int64     `json:"total_records"`
	OldestRecord   time.Time `json:"oldest_record,omitempty"`
	NewestRecord   time.Time `json:"newest_record,omitempty"`
	UniqueDevices  int       `json:"unique_devices"`
	DatabaseSizeMB float64   `json:"database_size_mb"`
}

// NewSQLiteStore opens (and migrates) the database at dbPath
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dbPath, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", dbPath, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=2000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: %s: %w", pragma, err)
		}
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "storage").Logger(),
	}

	if err := store.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	store.logger.Info().Str("path", dbPath).Msg("SQLite store initialized")
	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate creates the schema if it doesn't exist
func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		temperature_x10 INTEGER NOT NULL,
		humidity_x10 INTEGER NOT NULL,
		pressure_x10 INTEGER NOT NULL,
		aqi INTEGER NOT NULL,
		tvoc INTEGER NOT NULL,
		eco2 INTEGER NOT NULL,
		pm1_0 INTEGER NOT NULL,
		pm2_5 INTEGER NOT NULL,
		pm10 INTEGER NOT NULL,
		particles TEXT NOT NULL,
		fire INTEGER NOT NULL,
		zone INTEGER NOT NULL,
		alert INTEGER NOT NULL,
		health TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_records_device_time ON records(device_id, recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_records_time ON records(recorded_at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("storage: create schema: %w", err)
	}

	s.logger.Debug().Msg("Database schema migrated")
	return nil
}

const insertRecord = `
	INSERT OR IGNORE INTO records (
		id, device_id, recorded_at,
		temperature_x10, humidity_x10, pressure_x10,
		aqi, tvoc, eco2, pm1_0, pm2_5, pm10, particles,
		fire, zone, alert, health
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func recordArgs(rec *models.Record) ([]any, error) {
	particles, err := json.Marshal(rec.Snapshot.Particles)
	if err != nil {
		return nil, err
	}
	health, err := json.Marshal(rec.Health)
	if err != nil {
		return nil, err
	}
	snap := rec.Snapshot
	return []any{
		rec.ID,
		rec.DeviceID,
		rec.Timestamp.UTC().Format(timeLayout),
		snap.TemperatureX10,
		snap.HumidityX10,
		snap.PressureX10,
		snap.AQI,
		snap.TVOC,
		snap.ECO2,
		snap.PM1_0,
		snap.PM2_5,
		snap.PM10,
		string(particles),
		int(rec.Prediction.Fire),
		int(rec.Prediction.Zone),
		int(rec.Prediction.Alert),
		string(health),
	}, nil
}

// InsertRecord inserts a single record; a record whose id is already stored is ignored
func (s *SQLiteStore) InsertRecord(rec *models.Record) error {
	args, err := recordArgs(rec)
	if err != nil {
		return fmt.Errorf("storage: encode record: %w", err)
	}
	if _, err := s.db.Exec(insertRecord, args...); err != nil {
		return fmt.Errorf("storage: insert record: %w", err)
	}
	return nil
}

// InsertBatch inserts multiple records in a single transaction
func (s *SQLiteStore) InsertBatch(recs []*models.Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertRecord)
	if err != nil {
		return fmt.Errorf("storage: prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		args, err := recordArgs(rec)
		if err != nil {
			return fmt.Errorf("storage: encode record: %w", err)
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("storage: insert record in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}

	s.logger.Debug().Int("count", len(recs)).Msg("Batch insert completed")
	return nil
}

const selectColumns = `
	SELECT id, device_id, recorded_at,
		temperature_x10, humidity_x10, pressure_x10,
		aqi, tvoc, eco2, pm1_0, pm2_5, pm10, particles,
		fire, zone, alert, health
	FROM records
`

// GetRecordsInRange returns records within [start, end], newest first
// An empty deviceID matches every device
func (s *SQLiteStore) GetRecordsInRange(deviceID string, start, end time.Time, limit int) ([]*models.Record, error) {
	query := selectColumns + `WHERE recorded_at BETWEEN ? AND ?`
	args := []any{start.UTC().Format(timeLayout), end.UTC().Format(timeLayout)}
	if deviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY recorded_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query records: %w", err)
	}
	defer rows.Close()

	var recs []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate records: %w", err)
	}
	return recs, nil
}

// GetLatestRecord returns the most recent record for a device, or nil when there is none
func (s *SQLiteStore) GetLatestRecord(deviceID string) (*models.Record, error) {
	row := s.db.QueryRow(selectColumns+`WHERE device_id = ? ORDER BY recorded_at DESC LIMIT 1`, deviceID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: latest record: %w", err)
	}
	return rec, nil
}

// GetDailyStats returns per-day aggregates for a time range, newest day first
func (s *SQLiteStore) GetDailyStats(deviceID string, start, end time.Time) ([]DailyStat, error) {
	query := `
		SELECT
			date(recorded_at) AS day,
			device_id,
			MIN(temperature_x10), MAX(temperature_x10), AVG(temperature_x10),
			AVG(humidity_x10),
			MAX(eco2), AVG(eco2),
			MAX(pm2_5), AVG(pm2_5),
			MAX(alert),
			COUNT(*)
		FROM records
		WHERE recorded_at BETWEEN ? AND ?`
	args := []any{start.UTC().Format(timeLayout), end.UTC().Format(timeLayout)}
	if deviceID != "" {
		query += ` AND device_id = ?`
		args = append(args, deviceID)
	}
	query += ` GROUP BY day, device_id ORDER BY day DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query daily stats: %w", err)
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var (
			stat       DailyStat
			day        string
			minT, maxT int
			avgT, avgH float64
		)
		if err := rows.Scan(&day, &stat.DeviceID,
			&minT, &maxT, &avgT,
			&avgH,
			&stat.MaxECO2, &stat.AvgECO2,
			&stat.MaxPM2_5, &stat.AvgPM2_5,
			&stat.MaxAlert,
			&stat.RecordCount,
		); err != nil {
			return nil, fmt.Errorf("storage: scan daily stat: %w", err)
		}
		stat.Date, err = time.Parse("2006-01-02", day)
		if err != nil {
			return nil, fmt.Errorf("storage: parse day %q: %w", day, err)
		}
		stat.MinTemperature = float64(minT) / 10
		stat.MaxTemperature = float64(maxT) / 10
		stat.AvgTemperature = avgT / 10
		stat.AvgHumidity = avgH / 10
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate daily stats: %w", err)
	}
	return stats, nil
}

// DeleteOlderThan removes records whose sample time is more than days old
func (s *SQLiteStore) DeleteOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	result, err := s.db.Exec("DELETE FROM records WHERE recorded_at < ?", cutoff.Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("storage: delete old records: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: rows affected: %w", err)
	}

	s.logger.Info().
		Int("days", days).
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Deleted old records")

	return deleted, nil
}

// GetStorageStats returns statistics about the database
func (s *SQLiteStore) GetStorageStats() (*StorageStats, error) {
	stats := &StorageStats{}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM records").Scan(&stats.TotalRecords); err != nil {
		return nil, fmt.Errorf("storage: count records: %w", err)
	}
	if stats.TotalRecords == 0 {
		return stats, nil
	}

	var oldest, newest string
	if err := s.db.QueryRow("SELECT MIN(recorded_at), MAX(recorded_at) FROM records").Scan(&oldest, &newest); err != nil {
		return nil, fmt.Errorf("storage: time range: %w", err)
	}
	stats.OldestRecord, _ = parseTimestamp(oldest)
	stats.NewestRecord, _ = parseTimestamp(newest)

	if err := s.db.QueryRow("SELECT COUNT(DISTINCT device_id) FROM records").Scan(&stats.UniqueDevices); err != nil {
		return nil, fmt.Errorf("storage: count devices: %w", err)
	}

	var pageCount, pageSize int64
	s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	stats.DatabaseSizeMB = float64(pageCount*pageSize) / (1024 * 1024)

	return stats, nil
}

// GetDeviceIDs returns every device id with stored records
func (s *SQLiteStore) GetDeviceIDs() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT device_id FROM records ORDER BY device_id")
	if err != nil {
		return nil, fmt.Errorf("storage: query device ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan device id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate device ids: %w", err)
	}
	return ids, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.Record, error) {
	var (
		rec               models.Record
		recordedAt        string
		particles, health string
		fire, zone, alert int
	)
	snap := &rec.Snapshot
	err := row.Scan(
		&rec.ID, &rec.DeviceID, &recordedAt,
		&snap.TemperatureX10, &snap.HumidityX10, &snap.PressureX10,
		&snap.AQI, &snap.TVOC, &snap.ECO2, &snap.PM1_0, &snap.PM2_5, &snap.PM10, &particles,
		&fire, &zone, &alert, &health,
	)
	if err != nil {
		return nil, err
	}

	rec.Timestamp, err = parseTimestamp(recordedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(particles), &snap.Particles); err != nil {
		return nil, fmt.Errorf("storage: decode particles: %w", err)
	}
	if err := json.Unmarshal([]byte(health), &rec.Health); err != nil {
		return nil, fmt.Errorf("storage: decode health: %w", err)
	}
	rec.Prediction = models.PredictionState{
		Fire:  models.FireClass(fire),
		Zone:  models.ZoneClass(zone),
		Alert: models.AlertLevel(alert),
	}
	return &rec, nil
}

func parseTimestamp(ts string) (time.Time, error) {
	for _, layout := range []string{timeLayout, "2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("storage: unable to parse timestamp %q", ts)
}
