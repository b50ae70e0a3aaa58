package api

import (
	"errors"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/fleetmon/fleetmon/internal/core/domain"
)

// writeAgentError maps a failed agent call to a 502 carrying the
// agent's own error detail when its body had one.
func (s *Server) writeAgentError(w http.ResponseWriter, err error) {
	var agentErr *domain.AgentError
	if errors.As(err, &agentErr) {
		detail := gjson.GetBytes(agentErr.Body, "error").String()
		if detail == "" {
			detail = agentErr.Error()
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":        "agent request failed",
			"agent_status": agentErr.StatusCode,
			"agent_detail": detail,
		})
		return
	}
	writeJSON(w, http.StatusBadGateway, map[string]any{
		"error":        "agent unreachable",
		"agent_detail": err.Error(),
	})
}

func (s *Server) handleServiceCatalog(w http.ResponseWriter, r *http.Request) {
	id, ok := s.serverID(w, r)
	if !ok {
		return
	}
	srv, err := s.store.GetServer(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	items, err := s.agents.ServiceCatalog(r.Context(), srv.Target())
	if err != nil {
		s.writeAgentError(w, err)
		return
	}
	if items == nil {
		items = []domain.ServiceCatalogItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": items})
}

func (s *Server) handleGetProxy(w http.ResponseWriter, r *http.Request) {
	id, ok := s.serverID(w, r)
	if !ok {
		return
	}
	srv, err := s.store.GetServer(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	resp := map[string]any{"config": srv.ProxyConfig}

	// live status is best-effort, the stored config must stay
	// readable while the agent is down
	if status, err := s.agents.ProxyStatus(r.Context(), srv.Target()); err == nil {
		resp["status"] = status
	} else {
		resp["status"] = domain.TunnelStatus{Status: domain.TunnelStateDisabled}
		resp["status_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type putProxyRequest struct {
	Config *domain.ProxyConfig `json:"config"`
	Action string              `json:"action"`
}

// handlePutProxy saves a new forward config and/or relays a start/stop
// action to the agent. Saving happens before the action so the agent
// acts on what was just stored.
func (s *Server) handlePutProxy(w http.ResponseWriter, r *http.Request) {
	id, ok := s.serverID(w, r)
	if !ok {
		return
	}
	srv, err := s.store.GetServer(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	var req putProxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action != "" && req.Action != "start" && req.Action != "stop" {
		writeError(w, http.StatusBadRequest, "action must be start or stop")
		return
	}

	cfg := srv.ProxyConfig
	if req.Config != nil {
		cfg = req.Config
		if err := s.store.SetProxyConfig(r.Context(), id, cfg); err != nil {
			s.writeStoreError(w, err)
			return
		}
	}

	resp := map[string]any{"config": cfg}

	switch req.Action {
	case "start":
		if cfg == nil {
			writeError(w, http.StatusBadRequest, "no proxy config for this server")
			return
		}
		if !cfg.Enabled {
			writeError(w, http.StatusBadRequest, "proxy is disabled in config")
			return
		}
		status, err := s.agents.ProxyStart(r.Context(), srv.Target(), cfg)
		if err != nil {
			s.writeAgentError(w, err)
			return
		}
		resp["status"] = status
	case "stop":
		status, err := s.agents.ProxyStop(r.Context(), srv.Target())
		if err != nil {
			s.writeAgentError(w, err)
			return
		}
		resp["status"] = status
	}

	writeJSON(w, http.StatusOK, resp)
}
