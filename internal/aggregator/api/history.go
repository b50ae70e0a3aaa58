package api

import (
	"encoding/csv"
	"net/http"
	"strconv"

	"github.com/fleetmon/fleetmon/internal/aggregator/store"
	"github.com/fleetmon/fleetmon/internal/core/domain"
	"github.com/fleetmon/fleetmon/internal/core/ports"
	"github.com/fleetmon/fleetmon/internal/util"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	exportRowCap        = 1000
	defaultEventsLimit  = 200
	maxEventsLimit      = 1000
)

func (s *Server) handleTimeseries(w http.ResponseWriter, r *http.Request) {
	id, ok := s.serverID(w, r)
	if !ok {
		return
	}
	if _, err := s.store.GetServer(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}

	q := r.URL.Query()
	metric := q.Get("metric")
	agg := q.Get("agg")
	if agg == "" {
		agg = "avg"
	}
	if !store.ValidTimeseriesQuery(metric, agg) {
		writeError(w, http.StatusBadRequest, "unknown metric or aggregation")
		return
	}

	points, err := s.store.QueryTimeseries(r.Context(), id, metric, q.Get("from"), q.Get("to"), agg)
	if err != nil {
		s.log.Error("timeseries query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "timeseries query failed")
		return
	}
	if points == nil {
		points = []domain.TimeseriesPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"server_id": id,
		"metric":    metric,
		"agg":       agg,
		"points":    points,
	})
}

// historyQuery parses the shared history filter params. server_ids is
// parsed leniently: one malformed id drops the filter rather than
// failing the request, the UI's multi-select sends best-effort values.
func (s *Server) historyQuery(r *http.Request, limit int) ports.HistoryQuery {
	q := r.URL.Query()

	ids := util.ParseIDList(q.Get("server_ids"))
	if ids == nil {
		// single-server form used by older dashboard builds
		ids = util.ParseIDList(q.Get("server_id"))
	}

	offset := 0
	if raw := q.Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			offset = v
		}
	}

	return ports.HistoryQuery{
		ServerIDs: ids,
		From:      q.Get("from"),
		To:        q.Get("to"),
		Limit:     limit,
		Offset:    offset,
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
}

func (s *Server) handleHourlyHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxHistoryLimit {
			writeError(w, http.StatusUnprocessableEntity,
				"limit must be between 1 and 1000")
			return
		}
		limit = v
	}

	query := s.historyQuery(r, limit)
	samples, total, err := s.store.QueryHourlyHistory(r.Context(), query)
	if err != nil {
		s.log.Error("history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	if samples == nil {
		samples = []domain.HourlySample{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":  samples,
		"total":  total,
		"limit":  query.Limit,
		"offset": query.Offset,
	})
}

var exportHeader = []string{
	"id", "server_id", "server_name", "ts",
	"cpu_pct_avg", "cpu_pct_max",
	"disk_used_pct", "disk_used_bytes", "disk_total_bytes",
	"gpu_util_pct_avg", "gpu_util_pct_max", "gpu_mem_used_mb", "gpu_mem_total_mb",
}

func (s *Server) handleHourlyExport(w http.ResponseWriter, r *http.Request) {
	query := s.historyQuery(r, exportRowCap)

	samples, _, err := s.store.QueryHourlyHistory(r.Context(), query)
	if err != nil {
		s.log.Error("history export failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history export failed")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=history_export.csv")

	cw := csv.NewWriter(w)
	_ = cw.Write(exportHeader)
	for _, h := range samples {
		_ = cw.Write([]string{
			strconv.FormatInt(h.ID, 10),
			strconv.FormatInt(h.ServerID, 10),
			h.ServerName,
			h.TS,
			csvFloat(h.CPUPctAvg),
			csvFloat(h.CPUPctMax),
			csvFloat(h.DiskUsedPct),
			csvInt(h.DiskUsedBytes),
			csvInt(h.DiskTotalBytes),
			csvFloat(h.GPUUtilPctAvg),
			csvFloat(h.GPUUtilPctMax),
			csvInt(h.GPUMemUsedMB),
			csvInt(h.GPUMemTotalMB),
		})
	}
	cw.Flush()
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}

	events, err := s.store.RecentEvents(r.Context(), limit)
	if err != nil {
		s.log.Error("listing events failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing events failed")
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// NULL columns export as empty cells.
func csvFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func csvInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
