package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmon/fleetmon/internal/core/domain"
	"github.com/fleetmon/fleetmon/internal/core/ports"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }
func str(v string) *string   { return &v }

func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fleetmon.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createServer(t *testing.T, s *SQLiteStore, name string) int64 {
	t.Helper()
	id, err := s.CreateServer(context.Background(), &domain.Server{
		Name:    name,
		Host:    "10.0.0.1",
		Token:   "tok",
		Enabled: true,
	})
	require.NoError(t, err)
	return id
}

func TestServerCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateServer(ctx, &domain.Server{
		Name:     "alpha",
		Host:     "10.0.0.1",
		Token:    "secret",
		Enabled:  true,
		Services: []string{"nginx.service"},
	})
	require.NoError(t, err)
	require.Positive(t, id)

	srv, err := s.GetServer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alpha", srv.Name)
	assert.Equal(t, domain.DefaultAgentPort, srv.AgentPort)
	assert.Equal(t, []string{"nginx.service"}, srv.Services)
	assert.True(t, srv.Enabled)
	assert.Nil(t, srv.LastSeenAt)
	assert.NotEmpty(t, srv.CreatedAt)

	byName, err := s.GetServerByName(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)

	err = s.UpdateServer(ctx, id, domain.ServerUpdate{
		Host:     str("10.0.0.9"),
		Enabled:  boolPtr(false),
		Services: &[]string{"nginx.service", "redis.service"},
	})
	require.NoError(t, err)

	srv, err = s.GetServer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", srv.Host)
	assert.False(t, srv.Enabled)
	assert.Len(t, srv.Services, 2)

	enabled, err := s.ListEnabledServers(ctx)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	all, err := s.ListAllServers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteServer(ctx, id))
	_, err = s.GetServer(ctx, id)
	assert.ErrorIs(t, err, domain.ErrServerNotFound)
}

func TestDuplicateNameRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	createServer(t, s, "alpha")
	_, err := s.CreateServer(ctx, &domain.Server{Name: "alpha", Host: "h", Token: "t"})
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	id2 := createServer(t, s, "beta")
	err = s.UpdateServer(ctx, id2, domain.ServerUpdate{Name: str("alpha")})
	assert.ErrorIs(t, err, domain.ErrDuplicateName)
}

func TestNotFoundOperations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetServer(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrServerNotFound)
	assert.ErrorIs(t, s.DeleteServer(ctx, 999), domain.ErrServerNotFound)
	assert.ErrorIs(t, s.UpdateLastSeen(ctx, 999, "2026-01-02T10:00:05Z"), domain.ErrServerNotFound)
	assert.ErrorIs(t, s.UpdateServer(ctx, 999, domain.ServerUpdate{Host: str("h")}), domain.ErrServerNotFound)
}

func TestLastSeenRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createServer(t, s, "alpha")

	require.NoError(t, s.UpdateLastSeen(ctx, id, "2026-01-02T10:00:05Z"))

	srv, err := s.GetServer(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, srv.LastSeenAt)
	assert.Equal(t, "2026-01-02T10:00:05Z", *srv.LastSeenAt)
}

func TestProxyConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createServer(t, s, "alpha")

	cfg, err := s.GetProxyConfig(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, s.SetProxyConfig(ctx, id, &domain.ProxyConfig{
		Enabled:          true,
		ServerListenPort: 9109,
		CenterProxyPort:  19109,
		CenterSSHHost:    "center",
		CenterSSHUser:    "tunnel",
	}))

	cfg, err = s.GetProxyConfig(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 19109, cfg.CenterProxyPort)

	require.NoError(t, s.SetProxyConfig(ctx, id, nil))
	cfg, err = s.GetProxyConfig(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestHourlySampleUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createServer(t, s, "alpha")

	sample := &domain.HourlySample{
		ServerID:  id,
		TS:        "2026-01-02T10:00:00Z",
		CPUPctAvg: f64(30),
		CPUPctMax: f64(50),
	}
	require.NoError(t, s.SaveHourlySample(ctx, sample))

	// retrying the same hour overwrites instead of duplicating
	sample.CPUPctAvg = f64(31)
	require.NoError(t, s.SaveHourlySample(ctx, sample))

	rows, total, err := s.QueryHourlyHistory(ctx, ports.HistoryQuery{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, rows, 1)
	assert.Equal(t, 31.0, *rows[0].CPUPctAvg)
	assert.Equal(t, "alpha", rows[0].ServerName)
}

func TestDeleteServerCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createServer(t, s, "alpha")

	require.NoError(t, s.SaveHourlySample(ctx, &domain.HourlySample{
		ServerID: id, TS: "2026-01-02T10:00:00Z", CPUPctAvg: f64(10),
	}))
	_, err := s.SaveEvent(ctx, id, domain.EventServerDown, "server went offline")
	require.NoError(t, err)

	require.NoError(t, s.DeleteServer(ctx, id))

	_, total, err := s.QueryHourlyHistory(ctx, ports.HistoryQuery{Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)

	events, err := s.RecentEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSaveEventDedup(t *testing.T) {
	s := newTestStore(t, WithDedupWindow(60*time.Second))
	ctx := context.Background()
	id := createServer(t, s, "alpha")

	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	first, err := s.SaveEvent(ctx, id, domain.EventServerDown, "server went offline")
	require.NoError(t, err)
	assert.Positive(t, first)

	// same type inside the window is suppressed
	s.now = func() time.Time { return base.Add(30 * time.Second) }
	dup, err := s.SaveEvent(ctx, id, domain.EventServerDown, "server went offline")
	require.NoError(t, err)
	assert.Zero(t, dup)

	// a different type is not
	up, err := s.SaveEvent(ctx, id, domain.EventServerUp, "server back online")
	require.NoError(t, err)
	assert.Positive(t, up)

	// past the window the same type records again
	s.now = func() time.Time { return base.Add(90 * time.Second) }
	again, err := s.SaveEvent(ctx, id, domain.EventServerDown, "server went offline")
	require.NoError(t, err)
	assert.Positive(t, again)

	events, err := s.RecentEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, "alpha", events[0].ServerName)
}

func TestDedupIsPerServer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createServer(t, s, "alpha")
	b := createServer(t, s, "beta")

	idA, err := s.SaveEvent(ctx, a, domain.EventServerDown, "m")
	require.NoError(t, err)
	idB, err := s.SaveEvent(ctx, b, domain.EventServerDown, "m")
	require.NoError(t, err)

	assert.Positive(t, idA)
	assert.Positive(t, idB)
}

func TestQueryHourlyHistoryFilterSortPage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := createServer(t, s, "alpha")
	b := createServer(t, s, "beta")

	for hour := 10; hour < 15; hour++ {
		for _, id := range []int64{a, b} {
			require.NoError(t, s.SaveHourlySample(ctx, &domain.HourlySample{
				ServerID:  id,
				TS:        time.Date(2026, 1, 2, hour, 0, 0, 0, time.UTC).Format(domain.TimestampLayout),
				CPUPctAvg: f64(float64(hour)),
			}))
		}
	}

	// filter to one server
	rows, total, err := s.QueryHourlyHistory(ctx, ports.HistoryQuery{
		ServerIDs: []int64{a}, Limit: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	for _, r := range rows {
		assert.Equal(t, a, r.ServerID)
	}

	// time range
	_, total, err = s.QueryHourlyHistory(ctx, ports.HistoryQuery{
		From: "2026-01-02T12:00:00Z", To: "2026-01-02T13:00:00Z", Limit: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, total)

	// default sort is ts descending
	rows, _, err = s.QueryHourlyHistory(ctx, ports.HistoryQuery{Limit: 3})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "2026-01-02T14:00:00Z", rows[0].TS)

	// pagination: total stays the full count
	rows, total, err = s.QueryHourlyHistory(ctx, ports.HistoryQuery{Limit: 4, Offset: 8})
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	assert.Len(t, rows, 2)

	// explicit ascending sort on cpu
	rows, _, err = s.QueryHourlyHistory(ctx, ports.HistoryQuery{
		Limit: 1, SortBy: "cpu_pct_avg", SortOrder: "asc",
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 10.0, *rows[0].CPUPctAvg)

	// unknown sort column falls back to ts
	_, _, err = s.QueryHourlyHistory(ctx, ports.HistoryQuery{
		Limit: 1, SortBy: "1; DROP TABLE servers",
	})
	require.NoError(t, err)
}

func TestQueryTimeseries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createServer(t, s, "alpha")

	require.NoError(t, s.SaveHourlySample(ctx, &domain.HourlySample{
		ServerID: id, TS: "2026-01-02T10:00:00Z", CPUPctAvg: f64(30), CPUPctMax: f64(50),
	}))
	require.NoError(t, s.SaveHourlySample(ctx, &domain.HourlySample{
		ServerID: id, TS: "2026-01-02T11:00:00Z", CPUPctMax: f64(60),
	}))

	points, err := s.QueryTimeseries(ctx, id, "cpu_pct", "", "", "max")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "2026-01-02T10:00:00Z", points[0].TS)
	assert.Equal(t, 50.0, *points[0].Value)

	// a NULL column comes through as a nil value
	points, err = s.QueryTimeseries(ctx, id, "cpu_pct", "2026-01-02T11:00:00Z", "", "avg")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Nil(t, points[0].Value)

	_, err = s.QueryTimeseries(ctx, id, "bogus", "", "", "avg")
	assert.Error(t, err)
	_, err = s.QueryTimeseries(ctx, id, "cpu_pct", "", "", "median")
	assert.Error(t, err)
}

func TestQueryTimeseriesLevelMetricsTolerateAgg(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createServer(t, s, "alpha")

	require.NoError(t, s.SaveHourlySample(ctx, &domain.HourlySample{
		ServerID: id, TS: "2026-01-02T10:00:00Z",
		DiskUsedPct: f64(63.7), GPUMemUsedMB: i64(4096),
	}))

	// single-column metrics resolve either agg to the same column
	for _, agg := range []string{"", "avg", "max"} {
		points, err := s.QueryTimeseries(ctx, id, "disk_used_pct", "", "", agg)
		require.NoError(t, err, "agg %q", agg)
		require.Len(t, points, 1)
		assert.Equal(t, 63.7, *points[0].Value)

		assert.True(t, ValidTimeseriesQuery("gpu_mem_used_mb", agg))
	}

	points, err := s.QueryTimeseries(ctx, id, "gpu_mem_used_mb", "", "", "max")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 4096.0, *points[0].Value)
}

func TestCleanupOldData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createServer(t, s, "alpha")

	now := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	old := now.AddDate(0, 0, -31)
	fresh := now.AddDate(0, 0, -1)

	require.NoError(t, s.SaveHourlySample(ctx, &domain.HourlySample{
		ServerID: id, TS: domain.FormatTimestamp(old), CPUPctAvg: f64(1),
	}))
	require.NoError(t, s.SaveHourlySample(ctx, &domain.HourlySample{
		ServerID: id, TS: domain.FormatTimestamp(fresh), CPUPctAvg: f64(2),
	}))

	require.NoError(t, s.CleanupOldData(ctx, 30))

	rows, total, err := s.QueryHourlyHistory(ctx, ports.HistoryQuery{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, domain.FormatTimestamp(fresh), rows[0].TS)
}

func TestInstanceLock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fleetmon.db")

	lock, err := AcquireLock(dbPath)
	require.NoError(t, err)
	defer lock.Unlock()

	_, err = AcquireLock(dbPath)
	assert.ErrorIs(t, err, domain.ErrAlreadyLocked)

	require.NoError(t, lock.Unlock())
	relock, err := AcquireLock(dbPath)
	require.NoError(t, err)
	relock.Unlock()
}

func boolPtr(b bool) *bool { return &b }
