package agent

import (
	"context"
	"fmt"

	"github.com/fleetmon/fleetmon/internal/agent/api"
	"github.com/fleetmon/fleetmon/internal/agent/scrape"
	"github.com/fleetmon/fleetmon/internal/agent/tunnel"
	"github.com/fleetmon/fleetmon/internal/config"
	"github.com/fleetmon/fleetmon/internal/logger"
)

// Application owns the agent's components: the scraper, the tunnel
// supervisor and the HTTP server.
type Application struct {
	cfg    *config.AgentConfig
	log    *logger.StyledLogger
	server *api.Server
	tunnel *tunnel.Manager

	errCh chan error
}

func NewApplication(cfg *config.AgentConfig, log *logger.StyledLogger) *Application {
	scraper := scrape.New(cfg.NodeID, cfg.Disks, cfg.GPU, cfg.ServicesAllowlist)
	tm := tunnel.NewManager(cfg.Proxy, log)

	return &Application{
		cfg:    cfg,
		log:    log,
		server: api.NewServer(cfg, scraper, tm, log),
		tunnel: tm,
		errCh:  make(chan error, 1),
	}
}

func (a *Application) Start(ctx context.Context) error {
	a.log.InfoWithServer("starting agent", a.cfg.NodeID,
		"listen", a.cfg.Listen, "gpu", a.cfg.GPU,
		"services", len(a.cfg.ServicesAllowlist))

	if a.cfg.Proxy != nil && a.cfg.Proxy.Enabled && a.cfg.Proxy.AutoStart {
		if err := a.tunnel.Start(false); err != nil {
			// the tunnel is auxiliary; the agent still serves
			a.log.Warn("tunnel auto-start failed", "error", err)
		}
	}

	go func() {
		if err := a.server.Start(); err != nil {
			a.errCh <- fmt.Errorf("agent API server: %w", err)
		}
	}()

	return nil
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
	a.log.Info("stopping agent")

	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Warn("HTTP shutdown incomplete", "error", err)
	}
	a.tunnel.Stop()

	a.log.Info("agent stopped")
}
