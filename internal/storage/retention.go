package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Pruner is the part of Store the cleaner needs
type Pruner interface {
	DeleteOlderThan(days int) (int64, error)
}

// RetentionCleaner deletes old records on a cron schedule
type RetentionCleaner struct {
	store         Pruner
	logger        zerolog.Logger
	retentionDays int
	cron          *cron.Cron
	stopOnce      sync.Once

	mu    sync.RWMutex
	stats RetentionCleanerStats
}

// RetentionCleanerConfig holds configuration for the cleaner
type RetentionCleanerConfig struct {
	RetentionDays int    // days of records to keep
	Schedule      string // standard cron spec or descriptor such as "@daily"
}

// DefaultRetentionCleanerConfig returns the defaults
func DefaultRetentionCleanerConfig() RetentionCleanerConfig {
	return RetentionCleanerConfig{
		RetentionDays: 30,
		Schedule:      "@daily",
	}
}

// RetentionCleanerStats counts cleanup runs since start
type RetentionCleanerStats struct {
	Runs          int64     `json:"runs"`
	Failures      int64     `json:"failures"`
	Deleted       int64     `json:"deleted"`
	LastRun       time.Time `json:"last_run,omitempty"`
	LastDeleted   int64     `json:"last_deleted"`
	LastError     string    `json:"last_error,omitempty"`
	RetentionDays int       `json:"retention_days"`
	Schedule      string    `json:"schedule"`
}

// NewRetentionCleaner validates the schedule, runs one cleanup and starts the scheduler
func NewRetentionCleaner(store Pruner, config RetentionCleanerConfig, logger zerolog.Logger) (*RetentionCleaner, error) {
	if config.RetentionDays < 1 {
		return nil, fmt.Errorf("storage: retention days must be positive, got %d", config.RetentionDays)
	}
	if config.Schedule == "" {
		config.Schedule = DefaultRetentionCleanerConfig().Schedule
	}

	c := &RetentionCleaner{
		store:         store,
		logger:        logger.With().Str("component", "retention").Logger(),
		retentionDays: config.RetentionDays,
		cron:          cron.New(),
		stats: RetentionCleanerStats{
			RetentionDays: config.RetentionDays,
			Schedule:      config.Schedule,
		},
	}
	if _, err := c.cron.AddFunc(config.Schedule, c.runCleanup); err != nil {
		return nil, fmt.Errorf("storage: cleanup schedule %q: %w", config.Schedule, err)
	}

	c.runCleanup()
	c.cron.Start()

	c.logger.Info().
		Int("retention_days", config.RetentionDays).
		Str("schedule", config.Schedule).
		Msg("RetentionCleaner started")

	return c, nil
}

func (c *RetentionCleaner) runCleanup() {
	deleted, err := c.store.DeleteOlderThan(c.retentionDays)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Runs++
	c.stats.LastRun = time.Now()

	if err != nil {
		c.stats.Failures++
		c.stats.LastError = err.Error()
		c.logger.Error().Err(err).Msg("Retention cleanup failed")
		return
	}
	c.stats.LastError = ""
	c.stats.Deleted += deleted
	c.stats.LastDeleted = deleted
	if deleted > 0 {
		c.logger.Info().
			Int64("deleted", deleted).
			Int("retention_days", c.retentionDays).
			Msg("Retention cleanup completed")
	} else {
		c.logger.Debug().Msg("Retention cleanup completed, no old records")
	}
}

// Stop stops the scheduler and waits for a running cleanup to finish
func (c *RetentionCleaner) Stop() {
	c.stopOnce.Do(func() {
		<-c.cron.Stop().Done()
		c.logger.Info().Msg("RetentionCleaner stopped")
	})
}

func (c *RetentionCleaner) Stats() RetentionCleanerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// RunNow triggers an immediate cleanup
func (c *RetentionCleaner) RunNow() {
	c.runCleanup()
}
