package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	"github.com/fleetmon/fleetmon/internal/core/domain"
	"github.com/fleetmon/fleetmon/internal/core/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SQLiteStore is the aggregator's persistence layer on an embedded
// SQLite file. WAL mode lets the API read while the pipeline writes;
// the busy timeout covers the brief writer handoffs.
type SQLiteStore struct {
	db          *sql.DB
	dedupWindow time.Duration
	now         func() time.Time
}

type Option func(*SQLiteStore)

// WithDedupWindow overrides the event dedup window (default 60s).
func WithDedupWindow(d time.Duration) Option {
	return func(s *SQLiteStore) { s.dedupWindow = d }
}

func Open(path string, opts ...Option) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// a single writer connection sidesteps SQLITE_BUSY between the
	// pipeline goroutines
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	s := &SQLiteStore{
		db:          db,
		dedupWindow: 60 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const serverColumns = "id, name, host, agent_port, token, enabled, services, proxy_config, last_seen_at, created_at"

func scanServer(row interface{ Scan(...any) error }) (*domain.Server, error) {
	var srv domain.Server
	var enabled int
	var services string
	var proxyConfig sql.NullString

	err := row.Scan(&srv.ID, &srv.Name, &srv.Host, &srv.AgentPort, &srv.Token,
		&enabled, &services, &proxyConfig, &srv.LastSeenAt, &srv.CreatedAt)
	if err != nil {
		return nil, err
	}

	srv.Enabled = enabled != 0
	if err := json.UnmarshalFromString(services, &srv.Services); err != nil {
		return nil, fmt.Errorf("decoding services for server %d: %w", srv.ID, err)
	}
	if proxyConfig.Valid && proxyConfig.String != "" {
		var cfg domain.ProxyConfig
		if err := json.UnmarshalFromString(proxyConfig.String, &cfg); err != nil {
			return nil, fmt.Errorf("decoding proxy config for server %d: %w", srv.ID, err)
		}
		srv.ProxyConfig = &cfg
	}
	return &srv, nil
}

func (s *SQLiteStore) listServers(ctx context.Context, where string) ([]domain.Server, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+serverColumns+" FROM servers "+where+" ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *srv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListAllServers(ctx context.Context) ([]domain.Server, error) {
	return s.listServers(ctx, "")
}

func (s *SQLiteStore) ListEnabledServers(ctx context.Context) ([]domain.Server, error) {
	return s.listServers(ctx, "WHERE enabled = 1")
}

func (s *SQLiteStore) GetServer(ctx context.Context, id int64) (*domain.Server, error) {
	srv, err := scanServer(s.db.QueryRowContext(ctx,
		"SELECT "+serverColumns+" FROM servers WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrServerNotFound
	}
	return srv, err
}

func (s *SQLiteStore) GetServerByName(ctx context.Context, name string) (*domain.Server, error) {
	srv, err := scanServer(s.db.QueryRowContext(ctx,
		"SELECT "+serverColumns+" FROM servers WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrServerNotFound
	}
	return srv, err
}

func (s *SQLiteStore) CreateServer(ctx context.Context, srv *domain.Server) (int64, error) {
	services := srv.Services
	if services == nil {
		services = []string{}
	}
	servicesJSON, err := json.MarshalToString(services)
	if err != nil {
		return 0, err
	}

	var proxyJSON any
	if srv.ProxyConfig != nil {
		raw, err := json.MarshalToString(srv.ProxyConfig)
		if err != nil {
			return 0, err
		}
		proxyJSON = raw
	}

	port := srv.AgentPort
	if port == 0 {
		port = domain.DefaultAgentPort
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO servers (name, host, agent_port, token, enabled, services, proxy_config, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		srv.Name, srv.Host, port, srv.Token, boolToInt(srv.Enabled),
		servicesJSON, proxyJSON, domain.FormatTimestamp(s.now()))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, domain.ErrDuplicateName
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateServer(ctx context.Context, id int64, upd domain.ServerUpdate) error {
	var sets []string
	var args []any

	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Host != nil {
		sets = append(sets, "host = ?")
		args = append(args, *upd.Host)
	}
	if upd.AgentPort != nil {
		sets = append(sets, "agent_port = ?")
		args = append(args, *upd.AgentPort)
	}
	if upd.Token != nil {
		sets = append(sets, "token = ?")
		args = append(args, *upd.Token)
	}
	if upd.Services != nil {
		raw, err := json.MarshalToString(*upd.Services)
		if err != nil {
			return err
		}
		sets = append(sets, "services = ?")
		args = append(args, raw)
	}
	if upd.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*upd.Enabled))
	}
	if len(sets) == 0 {
		_, err := s.GetServer(ctx, id)
		return err
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		"UPDATE servers SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateName
		}
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) DeleteServer(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM servers WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, id int64, ts string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE servers SET last_seen_at = ? WHERE id = ?", ts, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) GetProxyConfig(ctx context.Context, id int64) (*domain.ProxyConfig, error) {
	srv, err := s.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}
	return srv.ProxyConfig, nil
}

func (s *SQLiteStore) SetProxyConfig(ctx context.Context, id int64, cfg *domain.ProxyConfig) error {
	var raw any
	if cfg != nil {
		encoded, err := json.MarshalToString(cfg)
		if err != nil {
			return err
		}
		raw = encoded
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE servers SET proxy_config = ? WHERE id = ?", raw, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SaveHourlySample upserts on (server_id, ts) so a rollup retry after a
// partial failure cannot produce duplicate hours.
func (s *SQLiteStore) SaveHourlySample(ctx context.Context, sample *domain.HourlySample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO samples_hourly (
			server_id, ts, cpu_pct_avg, cpu_pct_max,
			disk_used_pct, disk_used_bytes, disk_total_bytes,
			gpu_util_pct_avg, gpu_util_pct_max, gpu_mem_used_mb, gpu_mem_total_mb)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (server_id, ts) DO UPDATE SET
			cpu_pct_avg = excluded.cpu_pct_avg,
			cpu_pct_max = excluded.cpu_pct_max,
			disk_used_pct = excluded.disk_used_pct,
			disk_used_bytes = excluded.disk_used_bytes,
			disk_total_bytes = excluded.disk_total_bytes,
			gpu_util_pct_avg = excluded.gpu_util_pct_avg,
			gpu_util_pct_max = excluded.gpu_util_pct_max,
			gpu_mem_used_mb = excluded.gpu_mem_used_mb,
			gpu_mem_total_mb = excluded.gpu_mem_total_mb`,
		sample.ServerID, sample.TS, sample.CPUPctAvg, sample.CPUPctMax,
		sample.DiskUsedPct, sample.DiskUsedBytes, sample.DiskTotalBytes,
		sample.GPUUtilPctAvg, sample.GPUUtilPctMax, sample.GPUMemUsedMB, sample.GPUMemTotalMB)
	return err
}

// timeseriesColumns whitelists the metric/aggregation pairs a caller
// may select; anything else never reaches the SQL text.
var timeseriesColumns = map[string]map[string]string{
	"cpu_pct":         {"avg": "cpu_pct_avg", "max": "cpu_pct_max"},
	"gpu_util_pct":    {"avg": "gpu_util_pct_avg", "max": "gpu_util_pct_max"},
	// level metrics store one column; either agg resolves to it
	"disk_used_pct":   {"": "disk_used_pct", "avg": "disk_used_pct", "max": "disk_used_pct"},
	"gpu_mem_used_mb": {"": "gpu_mem_used_mb", "avg": "gpu_mem_used_mb", "max": "gpu_mem_used_mb"},
}

// ValidTimeseriesQuery reports whether the metric/agg pair maps to a
// stored column.
func ValidTimeseriesQuery(metric, agg string) bool {
	aggs, ok := timeseriesColumns[metric]
	if !ok {
		return false
	}
	_, ok = aggs[agg]
	return ok
}

func (s *SQLiteStore) QueryTimeseries(ctx context.Context, serverID int64, metric, from, to, agg string) ([]domain.TimeseriesPoint, error) {
	aggs, ok := timeseriesColumns[metric]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
	column, ok := aggs[agg]
	if !ok {
		return nil, fmt.Errorf("unknown aggregation %q for metric %q", agg, metric)
	}

	query := "SELECT ts, " + column + " FROM samples_hourly WHERE server_id = ?"
	args := []any{serverID}
	if from != "" {
		query += " AND ts >= ?"
		args = append(args, from)
	}
	if to != "" {
		query += " AND ts <= ?"
		args = append(args, to)
	}
	query += " ORDER BY ts"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []domain.TimeseriesPoint
	for rows.Next() {
		var p domain.TimeseriesPoint
		if err := rows.Scan(&p.TS, &p.Value); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// historySortColumns whitelists the ORDER BY targets of the history
// endpoint.
var historySortColumns = map[string]string{
	"ts":               "h.ts",
	"server_name":      "s.name",
	"cpu_pct_avg":      "h.cpu_pct_avg",
	"cpu_pct_max":      "h.cpu_pct_max",
	"disk_used_pct":    "h.disk_used_pct",
	"gpu_util_pct_avg": "h.gpu_util_pct_avg",
	"gpu_util_pct_max": "h.gpu_util_pct_max",
	"gpu_mem_used_mb":  "h.gpu_mem_used_mb",
}

func (s *SQLiteStore) QueryHourlyHistory(ctx context.Context, q ports.HistoryQuery) ([]domain.HourlySample, int, error) {
	where := " FROM samples_hourly h JOIN servers s ON s.id = h.server_id WHERE 1=1"
	var args []any

	if len(q.ServerIDs) > 0 {
		where += " AND h.server_id IN (?" + strings.Repeat(",?", len(q.ServerIDs)-1) + ")"
		for _, id := range q.ServerIDs {
			args = append(args, id)
		}
	}
	if q.From != "" {
		where += " AND h.ts >= ?"
		args = append(args, q.From)
	}
	if q.To != "" {
		where += " AND h.ts <= ?"
		args = append(args, q.To)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*)"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortCol, ok := historySortColumns[q.SortBy]
	if !ok {
		sortCol = "h.ts"
	}
	direction := "DESC"
	if strings.EqualFold(q.SortOrder, "asc") {
		direction = "ASC"
	}

	query := `SELECT h.id, h.server_id, s.name, h.ts,
		h.cpu_pct_avg, h.cpu_pct_max,
		h.disk_used_pct, h.disk_used_bytes, h.disk_total_bytes,
		h.gpu_util_pct_avg, h.gpu_util_pct_max, h.gpu_mem_used_mb, h.gpu_mem_total_mb` +
		where + " ORDER BY " + sortCol + " " + direction + ", h.id " + direction +
		" LIMIT ? OFFSET ?"
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var samples []domain.HourlySample
	for rows.Next() {
		var h domain.HourlySample
		if err := rows.Scan(&h.ID, &h.ServerID, &h.ServerName, &h.TS,
			&h.CPUPctAvg, &h.CPUPctMax,
			&h.DiskUsedPct, &h.DiskUsedBytes, &h.DiskTotalBytes,
			&h.GPUUtilPctAvg, &h.GPUUtilPctMax, &h.GPUMemUsedMB, &h.GPUMemTotalMB); err != nil {
			return nil, 0, err
		}
		samples = append(samples, h)
	}
	return samples, total, rows.Err()
}

// SaveEvent inserts a transition event unless an event of the same
// (server, type) already exists inside the dedup window. The window
// check and the insert run in one transaction; with the single writer
// connection that makes the dedup race-free.
func (s *SQLiteStore) SaveEvent(ctx context.Context, serverID int64, typ domain.EventType, message string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	cutoff := domain.FormatTimestamp(s.now().Add(-s.dedupWindow))

	var existing int64
	err = tx.QueryRowContext(ctx,
		"SELECT id FROM events WHERE server_id = ? AND type = ? AND ts > ? LIMIT 1",
		serverID, string(typ), cutoff).Scan(&existing)
	if err == nil {
		return 0, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO events (server_id, ts, type, message) VALUES (?, ?, ?, ?)",
		serverID, domain.FormatTimestamp(s.now()), string(typ), message)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func (s *SQLiteStore) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.server_id, s.name, e.ts, e.type, e.message
		FROM events e JOIN servers s ON s.id = e.server_id
		ORDER BY e.ts DESC, e.id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var typ string
		if err := rows.Scan(&ev.ID, &ev.ServerID, &ev.ServerName, &ev.TS, &typ, &ev.Message); err != nil {
			return nil, err
		}
		ev.Type = domain.EventType(typ)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) CleanupOldData(ctx context.Context, retentionDays int) error {
	cutoff := domain.FormatTimestamp(s.now().AddDate(0, 0, -retentionDays))

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM samples_hourly WHERE ts < ?", cutoff); err != nil {
		return fmt.Errorf("pruning hourly samples: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM events WHERE ts < ?", cutoff); err != nil {
		return fmt.Errorf("pruning events: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrServerNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
