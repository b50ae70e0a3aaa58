package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/fleetmon/fleetmon/internal/core/domain"
)

type serverView struct {
	domain.Server
	Latest *domain.LatestSnapshot `json:"latest,omitempty"`
}

func (s *Server) serverID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid server id")
		return 0, false
	}
	return id, true
}

func (s *Server) withLatest(srv domain.Server) serverView {
	view := serverView{Server: srv}
	if latest, ok := s.cache.Latest(srv.ID); ok {
		view.Latest = &latest
	}
	return view
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.store.ListAllServers(r.Context())
	if err != nil {
		s.log.Error("listing servers failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing servers failed")
		return
	}

	views := make([]serverView, 0, len(servers))
	for _, srv := range servers {
		views = append(views, s.withLatest(srv))
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": views})
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.serverID(w, r)
	if !ok {
		return
	}

	srv, err := s.store.GetServer(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.withLatest(*srv))
}

type createServerRequest struct {
	Name      string   `json:"name"`
	Host      string   `json:"host"`
	AgentPort int      `json:"agent_port"`
	Token     string   `json:"token"`
	Enabled   *bool    `json:"enabled"`
	Services  []string `json:"services"`
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req createServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Host == "" || req.Token == "" {
		writeError(w, http.StatusBadRequest, "name, host and token are required")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	srv := &domain.Server{
		Name:      req.Name,
		Host:      req.Host,
		AgentPort: req.AgentPort,
		Token:     req.Token,
		Enabled:   enabled,
		Services:  req.Services,
	}

	id, err := s.store.CreateServer(r.Context(), srv)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	created, err := s.store.GetServer(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.log.InfoWithServer("server registered", created.Name, "id", id, "host", created.Host)
	writeJSON(w, http.StatusCreated, s.withLatest(*created))
}

type updateServerRequest struct {
	Name      *string   `json:"name"`
	Host      *string   `json:"host"`
	AgentPort *int      `json:"agent_port"`
	Token     *string   `json:"token"`
	Enabled   *bool     `json:"enabled"`
	Services  *[]string `json:"services"`
}

func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.serverID(w, r)
	if !ok {
		return
	}

	var req updateServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	upd := domain.ServerUpdate{
		Name:      req.Name,
		Host:      req.Host,
		AgentPort: req.AgentPort,
		Token:     req.Token,
		Enabled:   req.Enabled,
		Services:  req.Services,
	}

	if err := s.store.UpdateServer(r.Context(), id, upd); err != nil {
		s.writeStoreError(w, err)
		return
	}

	srv, err := s.store.GetServer(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.withLatest(*srv))
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.serverID(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteServer(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	// drop the volatile state so a recreated id starts clean
	s.cache.Forget(id)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrServerNotFound):
		writeError(w, http.StatusNotFound, "server not found")
	case errors.Is(err, domain.ErrDuplicateName):
		writeError(w, http.StatusConflict, "server name already exists")
	default:
		s.log.Error("store operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
