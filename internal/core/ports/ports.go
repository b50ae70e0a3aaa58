// Package ports defines the interfaces between the core pipeline and
// its adapters. Implementations live under internal/agent and
// internal/aggregator; tests substitute in-memory fakes.
package ports

import (
	"context"

	"github.com/fleetmon/fleetmon/internal/core/domain"
)

// Store is the aggregator's persistence contract: servers, hourly
// rollups and events in one embedded relational store. All writes
// serialize inside the implementation.
type Store interface {
	ListAllServers(ctx context.Context) ([]domain.Server, error)
	ListEnabledServers(ctx context.Context) ([]domain.Server, error)
	GetServer(ctx context.Context, id int64) (*domain.Server, error)
	GetServerByName(ctx context.Context, name string) (*domain.Server, error)
	CreateServer(ctx context.Context, s *domain.Server) (int64, error)
	UpdateServer(ctx context.Context, id int64, upd domain.ServerUpdate) error
	DeleteServer(ctx context.Context, id int64) error
	UpdateLastSeen(ctx context.Context, id int64, ts string) error

	GetProxyConfig(ctx context.Context, id int64) (*domain.ProxyConfig, error)
	SetProxyConfig(ctx context.Context, id int64, cfg *domain.ProxyConfig) error

	SaveHourlySample(ctx context.Context, sample *domain.HourlySample) error
	QueryTimeseries(ctx context.Context, serverID int64, metric, from, to, agg string) ([]domain.TimeseriesPoint, error)
	QueryHourlyHistory(ctx context.Context, q HistoryQuery) ([]domain.HourlySample, int, error)

	// SaveEvent persists an event unless one of the same (server, type)
	// exists inside the dedup window; it returns 0 when deduped.
	SaveEvent(ctx context.Context, serverID int64, typ domain.EventType, message string) (int64, error)
	RecentEvents(ctx context.Context, limit int) ([]domain.Event, error)

	CleanupOldData(ctx context.Context, retentionDays int) error
	Close() error
}

// HistoryQuery selects a page of hourly rollup rows.
type HistoryQuery struct {
	ServerIDs []int64
	From      string
	To        string
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
}

// StateCache is the aggregator's in-memory state: latest snapshots,
// hourly buffers and prior states, each read and written concurrently
// by the pull loop, the rollup engine and the API.
type StateCache interface {
	Latest(serverID int64) (domain.LatestSnapshot, bool)
	SetLatest(serverID int64, snap domain.LatestSnapshot)
	AllLatest() map[int64]domain.LatestSnapshot
	AppendBuffer(serverID int64, entry domain.BufferEntry)
	// DrainBuffers returns every buffered entry and clears the buffers
	// in one atomic step.
	DrainBuffers() map[int64][]domain.BufferEntry
	PrevState(serverID int64) domain.PrevState
	SetPrevState(serverID int64, state domain.PrevState)
	Forget(serverID int64)
}

// AgentClient talks to one agent's HTTP surface.
type AgentClient interface {
	FetchSnapshot(ctx context.Context, target domain.AgentTarget) (*domain.Snapshot, error)
	ServiceCatalog(ctx context.Context, target domain.AgentTarget) ([]domain.ServiceCatalogItem, error)
	ProxyStatus(ctx context.Context, target domain.AgentTarget) (*domain.TunnelStatus, error)
	ProxyStart(ctx context.Context, target domain.AgentTarget, cfg *domain.ProxyConfig) (*domain.TunnelStatus, error)
	ProxyStop(ctx context.Context, target domain.AgentTarget) (*domain.TunnelStatus, error)
}

// EventDetector receives every pull outcome and derives transition
// events.
type EventDetector interface {
	Observe(ctx context.Context, serverID int64, online bool, services []domain.ServiceInfo)
	Prime(ctx context.Context) error
}

// TunnelManager supervises the agent's SSH local-forward child.
type TunnelManager interface {
	Configure(cfg *domain.ProxyConfig)
	// Start launches the supervisor; override bypasses the Enabled
	// flag for operator-initiated starts.
	Start(override bool) error
	Stop()
	Status() domain.TunnelStatus
}
