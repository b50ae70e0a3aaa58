package rollup

import (
	"context"
	"time"

	"github.com/fleetmon/fleetmon/internal/core/ports"
	"github.com/fleetmon/fleetmon/internal/logger"
)

const cleanupRetryDelay = time.Hour

// Cleaner prunes rows older than the retention horizon once a day at a
// configured off-peak UTC hour. A failed run retries hourly; missing a
// day of cleanup only delays deletion, so there is no pending state to
// carry.
type Cleaner struct {
	store         ports.Store
	retentionDays int
	cleanupHour   int
	retryDelay    time.Duration
	log           *logger.StyledLogger

	now func() time.Time
}

func NewCleaner(store ports.Store, retentionDays, cleanupHour int, log *logger.StyledLogger) *Cleaner {
	return &Cleaner{
		store:         store,
		retentionDays: retentionDays,
		cleanupHour:   cleanupHour,
		retryDelay:    cleanupRetryDelay,
		log:           log,
		now:           time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	c.log.Info("retention cleaner started",
		"retention_days", c.retentionDays, "cleanup_hour", c.cleanupHour)

	for {
		select {
		case <-ctx.Done():
			c.log.Info("retention cleaner stopped")
			return
		case <-time.After(c.untilNextRun()):
		}

		for {
			err := c.store.CleanupOldData(ctx, c.retentionDays)
			if err == nil {
				c.log.Info("retention cleanup done", "retention_days", c.retentionDays)
				break
			}
			c.log.Error("retention cleanup failed, retrying",
				"retry_in", c.retryDelay.String(), "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryDelay):
			}
		}
	}
}

func (c *Cleaner) untilNextRun() time.Duration {
	now := c.now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), c.cleanupHour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
