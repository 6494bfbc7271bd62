package server

import (
	"time"

	"github.com/afroash/envmon/internal/models"
	"github.com/afroash/envmon/internal/storage"
)

// RecordStore holds the most recent records per device in memory
// MemoryStore implements this interface
type RecordStore interface {
	Add(rec *models.Record)

	// GetLatest returns the n most recent records for a device (newest first)
	GetLatest(deviceID string, n int) []*models.Record

	GetCurrent(deviceID string) *models.Record

	// GetDeviceIDs returns the devices that have sent records, sorted
	GetDeviceIDs() []string

	Stats() StoreStats
}

// HistoricalStore is the persistent record history
// storage.SQLiteStore implements this interface
type HistoricalStore interface {
	GetRecordsInRange(deviceID string, start, end time.Time, limit int) ([]*models.Record, error)
	GetDailyStats(deviceID string, start, end time.Time) ([]storage.DailyStat, error)
	GetStorageStats() (*storage.StorageStats, error)
}

// RecordWriter persists streamed records without blocking
// storage.DBWriter implements this interface
type RecordWriter interface {
	Write(rec *models.Record) bool
}

var (
	_ RecordStore     = (*MemoryStore)(nil)
	_ HistoricalStore = (*storage.SQLiteStore)(nil)
	_ RecordWriter    = (*storage.DBWriter)(nil)
)
