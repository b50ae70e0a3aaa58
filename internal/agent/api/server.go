package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/fleetmon/fleetmon/internal/agent/scrape"
	"github.com/fleetmon/fleetmon/internal/agent/tunnel"
	"github.com/fleetmon/fleetmon/internal/config"
	"github.com/fleetmon/fleetmon/internal/core/domain"
	"github.com/fleetmon/fleetmon/internal/logger"
	"github.com/fleetmon/fleetmon/internal/version"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server is the agent's HTTP surface: the snapshot and service catalog
// for the aggregator to pull, plus local tunnel control. Everything but
// /v1/health requires the shared bearer token.
type Server struct {
	cfg     *config.AgentConfig
	scraper *scrape.Scraper
	tunnel  *tunnel.Manager
	log     *logger.StyledLogger
	httpSrv *http.Server
}

func NewServer(cfg *config.AgentConfig, scraper *scrape.Scraper, tm *tunnel.Manager, log *logger.StyledLogger) *Server {
	s := &Server{
		cfg:     cfg,
		scraper: scraper,
		tunnel:  tm,
		log:     log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.Handle("GET /v1/snapshot", s.requireAuth(s.handleSnapshot))
	mux.Handle("GET /v1/services", s.requireAuth(s.handleServices))
	mux.Handle("GET /v1/proxy/status", s.requireAuth(s.handleProxyStatus))
	mux.Handle("POST /v1/proxy/start", s.requireAuth(s.handleProxyStart))
	mux.Handle("POST /v1/proxy/stop", s.requireAuth(s.handleProxyStop))

	s.httpSrv = &http.Server{
		Addr:         cfg.Listen,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info("agent API listening", "address", s.cfg.Listen)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
			// same response for missing and wrong token
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scraper.Snapshot(r.Context()))
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	items, err := s.scraper.Catalog(r.Context())
	if err != nil {
		s.log.Error("service catalog failed", "error", err)
		writeError(w, http.StatusInternalServerError, "service catalog unavailable")
		return
	}
	if items == nil {
		items = []domain.ServiceCatalogItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": items})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := s.scraper.Health()

	status := "ok"
	for _, c := range checks {
		if c.Status == "error" {
			status = "degraded"
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"node_id": s.cfg.NodeID,
		"version": version.Version,
		"time":    domain.FormatTimestamp(time.Now()),
		"checks":  checks,
	})
}

func (s *Server) handleProxyStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tunnel.Status())
}

func (s *Server) handleProxyStart(w http.ResponseWriter, r *http.Request) {
	// the central node may push fresh forward settings with the start
	if r.ContentLength > 0 {
		var cfg domain.ProxyConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid proxy config")
			return
		}
		s.tunnel.Configure(&cfg)
	}

	// a start over the API is an explicit operator action, so the
	// Enabled flag does not gate it
	if err := s.tunnel.Start(true); err != nil {
		status := http.StatusConflict
		if err == domain.ErrProxyConfigMissing {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.tunnel.Status())
}

func (s *Server) handleProxyStop(w http.ResponseWriter, r *http.Request) {
	s.tunnel.Stop()
	writeJSON(w, http.StatusOK, s.tunnel.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
