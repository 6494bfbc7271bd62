package server

import (
	"sort"
	"sync"
	"time"

	"github.com/afroash/envmon/internal/models"
)

// MemoryStore is an in-memory ring of recent records per device
type MemoryStore struct {
	capacity     int
	data         map[string][]*models.Record
	mutex        sync.RWMutex
	totalRecords int64
}

// StoreStats contains statistics about the memory store
type StoreStats struct {
	TotalRecords   int64     `json:"total_records"`
	UniqueDevices  int       `json:"unique_devices"`
	CurrentRecords int       `json:"current_records"`
	OldestRecord   time.Time `json:"oldest_record,omitempty"`
	NewestRecord   time.Time `json:"newest_record,omitempty"`
}

// NewMemoryStore creates a store keeping capacity records per device
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryStore{
		capacity: capacity,
		data:     make(map[string][]*models.Record),
	}
}

// Add stores a copy of rec, evicting the device's oldest record when full
func (ms *MemoryStore) Add(rec *models.Record) {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	recs := ms.data[rec.DeviceID]
	if len(recs) >= ms.capacity {
		recs = recs[1:]
	}
	ms.data[rec.DeviceID] = append(recs, rec.Copy())
	ms.totalRecords++
}

// Record implements monitor.Recorder
func (ms *MemoryStore) Record(rec *models.Record) {
	ms.Add(rec)
}

// GetLatest returns the n most recent records for a device, newest first
func (ms *MemoryStore) GetLatest(deviceID string, n int) []*models.Record {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	recs := ms.data[deviceID]
	if len(recs) == 0 || n <= 0 {
		return nil
	}
	start := max(len(recs)-n, 0)

	result := make([]*models.Record, 0, len(recs)-start)
	for i := len(recs) - 1; i >= start; i-- {
		result = append(result, recs[i].Copy())
	}
	return result
}

// GetCurrent returns the most recent record for a device
func (ms *MemoryStore) GetCurrent(deviceID string) *models.Record {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	recs := ms.data[deviceID]
	if len(recs) == 0 {
		return nil
	}
	return recs[len(recs)-1].Copy()
}

func (ms *MemoryStore) GetDeviceIDs() []string {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	ids := make([]string, 0, len(ms.data))
	for id := range ms.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats returns statistics about the store
func (ms *MemoryStore) Stats() StoreStats {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	stats := StoreStats{
		TotalRecords:  ms.totalRecords,
		UniqueDevices: len(ms.data),
	}
	for _, recs := range ms.data {
		stats.CurrentRecords += len(recs)
		for _, r := range recs {
			if stats.OldestRecord.IsZero() || r.Timestamp.Before(stats.OldestRecord) {
				stats.OldestRecord = r.Timestamp
			}
			if r.Timestamp.After(stats.NewestRecord) {
				stats.NewestRecord = r.Timestamp
			}
		}
	}
	return stats
}

// Clear removes all data from the store
func (ms *MemoryStore) Clear() {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	ms.data = make(map[string][]*models.Record)
	ms.totalRecords = 0
}
