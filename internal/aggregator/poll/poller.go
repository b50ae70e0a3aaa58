package poll

import (
	"context"
	"sync"
	"time"

	"github.com/fleetmon/fleetmon/internal/core/domain"
	"github.com/fleetmon/fleetmon/internal/core/ports"
	"github.com/fleetmon/fleetmon/internal/logger"
)

// Poller drives the pull cycle: every interval it re-reads the enabled
// server list and fetches each agent concurrently, so CRUD changes take
// effect on the next tick without a restart. Ticks never overlap; a
// slow round simply delays the next one.
type Poller struct {
	store    ports.Store
	cache    ports.StateCache
	client   ports.AgentClient
	detector ports.EventDetector
	interval time.Duration
	log      *logger.StyledLogger
}

func NewPoller(store ports.Store, cache ports.StateCache, client ports.AgentClient,
	detector ports.EventDetector, interval time.Duration, log *logger.StyledLogger) *Poller {
	return &Poller{
		store:    store,
		cache:    cache,
		client:   client,
		detector: detector,
		interval: interval,
		log:      log,
	}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("collector started", "interval", p.interval.String())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("collector stopped")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	servers, err := p.store.ListEnabledServers(ctx)
	if err != nil {
		p.log.Error("listing enabled servers failed", "error", err)
		return
	}

	var wg sync.WaitGroup
	var online int64
	var onlineMu sync.Mutex

	for i := range servers {
		wg.Add(1)
		go func(srv domain.Server) {
			defer wg.Done()
			if p.pollOne(ctx, &srv) {
				onlineMu.Lock()
				online++
				onlineMu.Unlock()
			}
		}(servers[i])
	}
	wg.Wait()

	serversOnline.Set(float64(online))
}

// pollOne fetches one agent and updates the derived state. Reports
// whether the agent answered.
func (p *Poller) pollOne(ctx context.Context, srv *domain.Server) bool {
	started := time.Now()
	snap, err := p.client.FetchSnapshot(ctx, srv.Target())
	pullDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		pullsTotal.WithLabelValues(srv.Name, "fail").Inc()
		p.markOffline(ctx, srv)
		return false
	}
	pullsTotal.WithLabelValues(srv.Name, "ok").Inc()

	latest := DeriveLatest(snap)
	p.cache.SetLatest(srv.ID, latest)
	p.cache.AppendBuffer(srv.ID, BufferEntryFrom(latest))

	if err := p.store.UpdateLastSeen(ctx, srv.ID, latest.TS); err != nil {
		p.log.Warn("updating last_seen failed", "server", srv.Name, "error", err)
	}

	p.detector.Observe(ctx, srv.ID, true, snap.Services)
	return true
}

// markOffline keeps the last good metrics visible, only the online flag
// flips. Nothing is buffered for a failed pull, the hour's rollup sees
// real samples only.
func (p *Poller) markOffline(ctx context.Context, srv *domain.Server) {
	var prior *domain.LatestSnapshot
	if snap, ok := p.cache.Latest(srv.ID); ok {
		prior = &snap
	}

	p.cache.SetLatest(srv.ID, DeriveOffline(prior, time.Now()))
	p.detector.Observe(ctx, srv.ID, false, nil)
}
