package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fleetmon/fleetmon/internal/core/domain"
	"github.com/fleetmon/fleetmon/internal/core/ports"
	"github.com/fleetmon/fleetmon/internal/logger"
)

var (
	rollupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetmon",
		Subsystem: "rollup",
		Name:      "runs_total",
		Help:      "Hourly rollup executions by result.",
	}, []string{"result"})

	rollupRows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetmon",
		Subsystem: "rollup",
		Name:      "rows_total",
		Help:      "Hourly sample rows written.",
	})
)

const saveRetryDelay = 60 * time.Second

// Engine turns the in-memory buffers into hourly rows. Aligned mode
// fires at the top of each UTC hour and stamps rows with the boundary
// just reached. A failed write keeps its rows pending and
// retries every minute, so a transient database error costs latency,
// not data.
type Engine struct {
	store       ports.Store
	cache       ports.StateCache
	periodHours int
	alignToHour bool
	retryDelay  time.Duration
	log         *logger.StyledLogger

	now func() time.Time

	pending []*domain.HourlySample
}

func NewEngine(store ports.Store, cache ports.StateCache, periodHours int, alignToHour bool, log *logger.StyledLogger) *Engine {
	if periodHours <= 0 {
		periodHours = 1
	}
	return &Engine{
		store:       store,
		cache:       cache,
		periodHours: periodHours,
		alignToHour: alignToHour,
		retryDelay:  saveRetryDelay,
		log:         log,
		now:         time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("rollup engine started",
		"period_hours", e.periodHours, "align_to_hour", e.alignToHour)

	for {
		wait := e.untilNextRun()
		select {
		case <-ctx.Done():
			e.log.Info("rollup engine stopped")
			return
		case <-time.After(wait):
		}

		e.collect()

		for err := e.flush(ctx); err != nil; err = e.flush(ctx) {
			rollupRuns.WithLabelValues("error").Inc()
			e.log.Error("rollup flush failed, retrying",
				"pending", len(e.pending), "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.retryDelay):
			}
		}
		rollupRuns.WithLabelValues("ok").Inc()
	}
}

func (e *Engine) untilNextRun() time.Duration {
	period := time.Duration(e.periodHours) * time.Hour
	if !e.alignToHour {
		return period
	}
	now := e.now()
	next := now.Truncate(time.Hour).Add(period)
	return next.Sub(now)
}

// collect drains the buffers and stamps each server's row with the
// hour boundary just reached.
func (e *Engine) collect() {
	fired := e.now().UTC()
	ts := domain.FormatTimestamp(fired.Truncate(time.Hour))

	buffers := e.cache.DrainBuffers()

	rows := 0
	for serverID, entries := range buffers {
		sample := Aggregate(serverID, ts, entries)
		if sample == nil {
			continue
		}
		e.pending = append(e.pending, sample)
		rows++
	}

	e.log.InfoWithCount("rollup window closed", rows, "ts", ts)
}

func (e *Engine) flush(ctx context.Context) error {
	remaining := e.pending[:0]
	var firstErr error

	for _, sample := range e.pending {
		if firstErr != nil {
			remaining = append(remaining, sample)
			continue
		}
		if err := e.store.SaveHourlySample(ctx, sample); err != nil {
			firstErr = fmt.Errorf("saving hourly sample for server %d: %w", sample.ServerID, err)
			remaining = append(remaining, sample)
			continue
		}
		rollupRows.Inc()
	}

	e.pending = remaining
	return firstErr
}
