package storage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/models"
)

// MockInserter records batches and can block or fail them
type MockInserter struct {
	mu      sync.Mutex
	batches [][]*models.Record
	err     error
	block   chan struct{}
}

func (m *MockInserter) InsertBatch(recs []*models.Record) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, recs)
	return nil
}

func (m *MockInserter) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockInserter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

type MockDrops struct {
	mu    sync.Mutex
	sinks []string
}

func (m *MockDrops) RecordDropped(sink string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, sink)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDBWriter_BatchFlush(t *testing.T) {
	store := setupTestDB(t)
	writer := NewDBWriter(store, DBWriterConfig{BatchSize: 10, FlushPeriod: time.Hour, ChannelSize: 100}, zerolog.Nop())
	defer writer.Stop()

	for i := 0; i < 10; i++ {
		if !writer.Write(createTestRecord("dev", int32(i), 400, time.Now())) {
			t.Fatal("Write should succeed while the queue has space")
		}
	}

	waitFor(t, func() bool { return writer.Stats().TotalWritten == 10 })

	stats, err := store.GetStorageStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalRecords != 10 {
		t.Errorf("TotalRecords = %d, want 10", stats.TotalRecords)
	}
	if got := writer.Stats().TotalBatches; got != 1 {
		t.Errorf("TotalBatches = %d, want 1", got)
	}
}

func TestDBWriter_PeriodicFlush(t *testing.T) {
	mock := &MockInserter{}
	writer := NewDBWriter(mock, DBWriterConfig{BatchSize: 100, FlushPeriod: 20 * time.Millisecond, ChannelSize: 100}, zerolog.Nop())
	defer writer.Stop()

	writer.Record(createTestRecord("dev", 200, 400, time.Now()))
	writer.Record(createTestRecord("dev", 210, 400, time.Now()))

	waitFor(t, func() bool { return mock.count() == 2 })
}

func TestDBWriter_StopFlushesQueue(t *testing.T) {
	mock := &MockInserter{}
	writer := NewDBWriter(mock, DBWriterConfig{BatchSize: 100, FlushPeriod: time.Hour, ChannelSize: 100}, zerolog.Nop())

	for i := 0; i < 7; i++ {
		writer.Write(createTestRecord("dev", 200, 400, time.Now()))
	}
	writer.Stop()
	writer.Stop()

	if got := mock.count(); got != 7 {
		t.Errorf("flushed %d records on stop, want 7", got)
	}
}

func TestDBWriter_ChannelFull(t *testing.T) {
	mock := &MockInserter{block: make(chan struct{})}
	drops := &MockDrops{}
	writer := NewDBWriter(mock, DBWriterConfig{BatchSize: 1, FlushPeriod: time.Hour, ChannelSize: 2}, zerolog.Nop())
	writer.SetDropCounter(drops)

	// first record is taken by the loop and blocks in InsertBatch
	writer.Write(createTestRecord("dev", 200, 400, time.Now()))
	waitFor(t, func() bool { return writer.Stats().QueueLength == 0 })

	writer.Write(createTestRecord("dev", 200, 400, time.Now()))
	writer.Write(createTestRecord("dev", 200, 400, time.Now()))
	if writer.Write(createTestRecord("dev", 200, 400, time.Now())) {
		t.Error("Write should drop when the queue is full")
	}

	if got := writer.Stats().TotalDropped; got != 1 {
		t.Errorf("TotalDropped = %d, want 1", got)
	}
	if len(drops.sinks) != 1 || drops.sinks[0] != "sqlite" {
		t.Errorf("drop counter = %v", drops.sinks)
	}

	close(mock.block)
	writer.Stop()
	if got := mock.count(); got != 3 {
		t.Errorf("written = %d, want 3", got)
	}
}

func TestDBWriter_Errors(t *testing.T) {
	mock := &MockInserter{err: errors.New("disk I/O error")}
	writer := NewDBWriter(mock, DBWriterConfig{BatchSize: 1, FlushPeriod: time.Hour, ChannelSize: 10}, zerolog.Nop())

	writer.Write(createTestRecord("dev", 200, 400, time.Now()))
	waitFor(t, func() bool { return writer.Stats().TotalErrors == 1 })
	writer.Stop()

	if stats := writer.Stats(); stats.TotalWritten != 0 || !stats.LastWriteTime.IsZero() {
		t.Errorf("stats after failure = %+v", stats)
	}
}

func TestDBWriter_RetriesFailedBatch(t *testing.T) {
	mock := &MockInserter{err: errors.New("database is locked")}
	writer := NewDBWriter(mock, DBWriterConfig{BatchSize: 2, FlushPeriod: 20 * time.Millisecond, ChannelSize: 10}, zerolog.Nop())
	defer writer.Stop()

	writer.Write(createTestRecord("dev", 200, 400, time.Now()))
	writer.Write(createTestRecord("dev", 201, 400, time.Now()))
	waitFor(t, func() bool { return writer.Stats().TotalErrors >= 1 })

	mock.setErr(nil)
	waitFor(t, func() bool { return writer.Stats().TotalWritten == 2 })
	if got := mock.count(); got != 2 {
		t.Errorf("written = %d, want 2", got)
	}
	if got := writer.Stats().TotalDropped; got != 0 {
		t.Errorf("TotalDropped = %d, want 0", got)
	}
}

func TestDBWriter_RetryBacklogBounded(t *testing.T) {
	mock := &MockInserter{err: errors.New("disk full")}
	drops := &MockDrops{}
	writer := NewDBWriter(mock, DBWriterConfig{BatchSize: 1, FlushPeriod: 20 * time.Millisecond, ChannelSize: 20}, zerolog.Nop())
	writer.SetDropCounter(drops)

	for i := 0; i < 10; i++ {
		writer.Write(createTestRecord("dev", int32(200+i), 400, time.Now()))
	}
	want := int64(10 - retainBatches)
	waitFor(t, func() bool { return writer.Stats().TotalDropped == want })
	writer.Stop()

	if got := writer.Stats().TotalWritten; got != 0 {
		t.Errorf("TotalWritten = %d, want 0", got)
	}
	drops.mu.Lock()
	defer drops.mu.Unlock()
	if int64(len(drops.sinks)) != want {
		t.Errorf("drop counter saw %d, want %d", len(drops.sinks), want)
	}
}

func TestDBWriter_RecordCopies(t *testing.T) {
	mock := &MockInserter{}
	writer := NewDBWriter(mock, DBWriterConfig{BatchSize: 100, FlushPeriod: time.Hour, ChannelSize: 10}, zerolog.Nop())

	rec := createTestRecord("dev", 200, 400, time.Now())
	writer.Record(rec)
	rec.Snapshot.TemperatureX10 = 999
	writer.Stop()

	if got := mock.batches[0][0].Snapshot.TemperatureX10; got != 200 {
		t.Errorf("queued record changed with the caller's copy: %d", got)
	}
}

func TestNewDBWriter_Defaults(t *testing.T) {
	writer := NewDBWriter(&MockInserter{}, DBWriterConfig{}, zerolog.Nop())
	defer writer.Stop()

	def := DefaultDBWriterConfig()
	if writer.batchSize != def.BatchSize || writer.flushPeriod != def.FlushPeriod || cap(writer.writeChan) != def.ChannelSize {
		t.Errorf("defaults not applied: %d %v %d", writer.batchSize, writer.flushPeriod, cap(writer.writeChan))
	}
}
