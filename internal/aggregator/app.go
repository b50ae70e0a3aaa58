package aggregator

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/docker/go-units"
	"github.com/gofrs/flock"

	"github.com/fleetmon/fleetmon/internal/aggregator/api"
	"github.com/fleetmon/fleetmon/internal/aggregator/event"
	"github.com/fleetmon/fleetmon/internal/aggregator/poll"
	"github.com/fleetmon/fleetmon/internal/aggregator/rollup"
	"github.com/fleetmon/fleetmon/internal/aggregator/state"
	"github.com/fleetmon/fleetmon/internal/aggregator/store"
	"github.com/fleetmon/fleetmon/internal/config"
	"github.com/fleetmon/fleetmon/internal/logger"
)

// Application assembles the central node: the store behind an instance
// lock, the in-memory state, the pull pipeline and the HTTP API.
type Application struct {
	cfg   *config.AggregatorConfig
	log   *logger.StyledLogger
	lock  *flock.Flock
	store *store.SQLiteStore
	api   *api.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
	errCh  chan error
}

func NewApplication(cfg *config.AggregatorConfig, log *logger.StyledLogger) (*Application, error) {
	lock, err := store.AcquireLock(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database.Path,
		store.WithDedupWindow(cfg.Events.DedupWindow))
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	cache := state.NewCache()
	client := poll.NewClient(cfg.Collector.Timeout, cfg.Collector.RetryCount, cfg.Collector.RetryDelay)
	detector := event.NewDetector(st, cache, log)

	app := &Application{
		cfg:   cfg,
		log:   log,
		lock:  lock,
		store: st,
		api:   api.NewServer(cfg, st, cache, client, log),
		errCh: make(chan error, 1),
	}

	if err := detector.Prime(context.Background()); err != nil {
		app.close()
		return nil, err
	}

	pipelineCtx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	poller := poll.NewPoller(st, cache, client, detector, cfg.Collector.Interval, log)
	engine := rollup.NewEngine(st, cache, cfg.Aggregator.PeriodHours, cfg.Aggregator.AlignToHour, log)
	cleaner := rollup.NewCleaner(st, cfg.Retention.Days, cfg.Retention.CleanupHour, log)

	app.wg.Add(3)
	go func() { defer app.wg.Done(); poller.Run(pipelineCtx) }()
	go func() { defer app.wg.Done(); engine.Run(pipelineCtx) }()
	go func() { defer app.wg.Done(); cleaner.Run(pipelineCtx) }()

	return app, nil
}

func (a *Application) Start() {
	if info, err := os.Stat(a.cfg.Database.Path); err == nil {
		a.log.Info("database ready", "path", a.cfg.Database.Path,
			"size", units.HumanSize(float64(info.Size())))
	}

	go func() {
		if err := a.api.Start(); err != nil {
			a.errCh <- fmt.Errorf("API server: %w", err)
		}
	}()
}

// Wait blocks until the context is cancelled or a component fails.
func (a *Application) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-a.errCh:
		return err
	}
}

func (a *Application) Stop(ctx context.Context) {
	a.log.Info("stopping aggregator")

	if err := a.api.Shutdown(ctx); err != nil {
		a.log.Warn("HTTP shutdown incomplete", "error", err)
	}

	a.cancel()
	a.wg.Wait()
	a.close()

	a.log.Info("aggregator stopped")
}

func (a *Application) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("closing database failed", "error", err)
		}
	}
	if a.lock != nil {
		_ = a.lock.Unlock()
	}
}
