package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/models"
)

// BatchInserter is the part of Store the writer needs
type BatchInserter interface {
	InsertBatch(recs []*models.Record) error
}

// DropCounter is told about every record the writer could not queue
type DropCounter interface {
	RecordDropped(sink string)
}

// DBWriter batches records off the control loop and writes them in transactions
type DBWriter struct {
	store       BatchInserter
	logger      zerolog.Logger
	drops       DropCounter
	writeChan   chan *models.Record
	batchSize   int
	flushPeriod time.Duration
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	mu            sync.RWMutex
	totalWritten  int64
	totalBatches  int64
	totalErrors   int64
	totalDropped  int64
	lastWriteTime time.Time
}

// DBWriterConfig holds configuration for the async writer
type DBWriterConfig struct {
	BatchSize   int           // records per transaction
	FlushPeriod time.Duration // max time a record waits in a partial batch
	ChannelSize int           // queued records before Write starts dropping
}

// DefaultDBWriterConfig returns the defaults for one record per minute
func DefaultDBWriterConfig() DBWriterConfig {
	return DBWriterConfig{
		BatchSize:   20,
		FlushPeriod: 10 * time.Second,
		ChannelSize: 256,
	}
}

// DBWriterStats contains statistics about the writer
type DBWriterStats struct {
	TotalWritten  int64     `json:"total_written"`
	TotalBatches  int64     `json:"total_batches"`
	TotalErrors   int64     `json:"total_errors"`
	TotalDropped  int64     `json:"total_dropped"`
	LastWriteTime time.Time `json:"last_write_time,omitempty"`
	QueueLength   int       `json:"queue_length"`
}

// NewDBWriter starts the writer goroutine
func NewDBWriter(store BatchInserter, config DBWriterConfig, logger zerolog.Logger) *DBWriter {
	def := DefaultDBWriterConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.FlushPeriod <= 0 {
		config.FlushPeriod = def.FlushPeriod
	}
	if config.ChannelSize <= 0 {
		config.ChannelSize = def.ChannelSize
	}

	w := &DBWriter{
		store:       store,
		logger:      logger.With().Str("component", "dbwriter").Logger(),
		writeChan:   make(chan *models.Record, config.ChannelSize),
		batchSize:   config.BatchSize,
		flushPeriod: config.FlushPeriod,
		stopChan:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.writerLoop()

	w.logger.Info().
		Int("batch_size", config.BatchSize).
		Dur("flush_period", config.FlushPeriod).
		Int("channel_size", config.ChannelSize).
		Msg("DBWriter started")

	return w
}

// SetDropCounter must be called before the first Write
func (w *DBWriter) SetDropCounter(d DropCounter) {
	w.drops = d
}

// Write queues a record; it returns false when the queue is full and the record was dropped
func (w *DBWriter) Write(rec *models.Record) bool {
	select {
	case w.writeChan <- rec:
		return true
	default:
		w.mu.Lock()
		w.totalDropped++
		w.mu.Unlock()
		if w.drops != nil {
			w.drops.RecordDropped("sqlite")
		}
		w.logger.Warn().Str("id", rec.ID).Msg("DBWriter channel full, dropping record")
		return false
	}
}

// Record implements monitor.Recorder
func (w *DBWriter) Record(rec *models.Record) {
	w.Write(rec.Copy())
}

// a failed batch is kept and retried on the next tick, up to this many batches' worth
const retainBatches = 4

func (w *DBWriter) writerLoop() {
	defer w.wg.Done()

	var batch []*models.Record
	failing := false
	ticker := time.NewTicker(w.flushPeriod)
	defer ticker.Stop()

	for {
		select {
		case rec := <-w.writeChan:
			batch = append(batch, rec)
			// while the store is failing only the ticker retries
			if len(batch) >= w.batchSize && !failing {
				batch, failing = w.flush(batch)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				batch, failing = w.flush(batch)
			}

		case <-w.stopChan:
			for draining := true; draining; {
				select {
				case rec := <-w.writeChan:
					batch = append(batch, rec)
				default:
					draining = false
				}
			}
			if rest, _ := w.flush(batch); len(rest) > 0 {
				w.logger.Error().Int("lost", len(rest)).Msg("DBWriter stopped with unwritten records")
			}
			w.logger.Info().Msg("DBWriter stopped")
			return
		}
	}
}

// flush writes batch and returns what is left to retry and whether the store failed
func (w *DBWriter) flush(batch []*models.Record) ([]*models.Record, bool) {
	if len(batch) == 0 {
		return nil, false
	}

	err := w.store.InsertBatch(batch)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		w.totalWritten += int64(len(batch))
		w.totalBatches++
		w.lastWriteTime = time.Now()
		w.logger.Debug().Int("count", len(batch)).Msg("Flushed batch")
		return nil, false
	}

	w.totalErrors++
	w.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to write batch")
	if limit := w.batchSize * retainBatches; len(batch) > limit {
		over := len(batch) - limit
		w.totalDropped += int64(over)
		if w.drops != nil {
			for range over {
				w.drops.RecordDropped("sqlite")
			}
		}
		w.logger.Warn().Int("dropped", over).Msg("Retry backlog full, dropping oldest records")
		batch = append([]*models.Record(nil), batch[over:]...)
	}
	return batch, true
}

// Stop flushes queued records and stops the writer
func (w *DBWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
	})
}

// Stats returns current writer statistics
func (w *DBWriter) Stats() DBWriterStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return DBWriterStats{
		TotalWritten:  w.totalWritten,
		TotalBatches:  w.totalBatches,
		TotalErrors:   w.totalErrors,
		TotalDropped:  w.totalDropped,
		LastWriteTime: w.lastWriteTime,
		QueueLength:   len(w.writeChan),
	}
}
