package uplink

import (
	"fmt"
	"sync"
	"time"

	"github.com/afroash/envmon/internal/models"
)

// RecordBuffer holds records waiting for the stream, oldest first
type RecordBuffer struct {
	records    []*models.Record
	capacity   int
	dropOldest bool
	mutex      sync.RWMutex
	stats      BufferStats
}

// BufferStats tracks buffer usage
type BufferStats struct {
	TotalPushed   int64
	TotalDropped  int64
	HighWaterMark int
	LastPushTime  time.Time
	LastDropTime  time.Time
}

// NewRecordBuffer creates a buffer; when full it drops the oldest record if dropOldest, else the new one
func NewRecordBuffer(capacity int, dropOldest bool) *RecordBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RecordBuffer{
		records:    make([]*models.Record, 0, capacity),
		capacity:   capacity,
		dropOldest: dropOldest,
	}
}

// Push adds a record; it returns false if the record itself was dropped
func (rb *RecordBuffer) Push(rec *models.Record) bool {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	if len(rb.records) >= rb.capacity {
		rb.stats.TotalDropped++
		rb.stats.LastDropTime = time.Now()
		if !rb.dropOldest {
			return false
		}
		rb.records[0] = nil
		rb.records = rb.records[1:]
	}
	rb.records = append(rb.records, rec)
	rb.stats.TotalPushed++
	rb.stats.LastPushTime = time.Now()

	if len(rb.records) > rb.stats.HighWaterMark {
		rb.stats.HighWaterMark = len(rb.records)
	}
	return true
}

// PopBatch removes and returns up to n of the oldest records
func (rb *RecordBuffer) PopBatch(n int) []*models.Record {
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	count := min(n, len(rb.records))
	if count <= 0 {
		return nil
	}
	result := make([]*models.Record, count)
	copy(result, rb.records[:count])
	rb.records = rb.records[count:]
	return result
}

// Requeue puts an unsent batch back in front of newer records
// Records that no longer fit are dropped, oldest first
func (rb *RecordBuffer) Requeue(batch []*models.Record) {
	if len(batch) == 0 {
		return
	}
	rb.mutex.Lock()
	defer rb.mutex.Unlock()

	merged := make([]*models.Record, 0, len(batch)+len(rb.records))
	merged = append(merged, batch...)
	merged = append(merged, rb.records...)
	if over := len(merged) - rb.capacity; over > 0 {
		merged = merged[over:]
		rb.stats.TotalDropped += int64(over)
		rb.stats.LastDropTime = time.Now()
	}
	rb.records = merged
}

// Peek returns up to n of the oldest records without removing them
func (rb *RecordBuffer) Peek(n int) []*models.Record {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()

	count := min(n, len(rb.records))
	if count <= 0 {
		return nil
	}
	result := make([]*models.Record, count)
	copy(result, rb.records[:count])
	return result
}

func (rb *RecordBuffer) Size() int {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return len(rb.records)
}

func (rb *RecordBuffer) IsEmpty() bool {
	return rb.Size() == 0
}

func (rb *RecordBuffer) Capacity() int {
	return rb.capacity
}

// Stats returns a copy of the buffer statistics
func (rb *RecordBuffer) Stats() BufferStats {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()
	return rb.stats
}

func (rb *RecordBuffer) String() string {
	rb.mutex.RLock()
	defer rb.mutex.RUnlock()

	mode := "drop-newest"
	if rb.dropOldest {
		mode = "drop-oldest"
	}
	return fmt.Sprintf("Buffer[%d/%d, dropped: %d, mode: %s]",
		len(rb.records),
		rb.capacity,
		rb.stats.TotalDropped,
		mode,
	)
}
