// Package testutil provides in-memory doubles for the aggregator's
// ports, shared by the pipeline tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fleetmon/fleetmon/internal/core/domain"
	"github.com/fleetmon/fleetmon/internal/core/ports"
)

// FakeStore is an in-memory ports.Store. Behaviour mirrors the SQL
// implementation closely enough for pipeline tests: name uniqueness,
// event dedup inside the window, last-seen updates.
type FakeStore struct {
	mu          sync.Mutex
	nextID      int64
	nextEventID int64
	Servers     map[int64]*domain.Server
	Samples     []domain.HourlySample
	Events      []domain.Event
	DedupWindow time.Duration

	SaveSampleErr error
	ListErr       error
	CleanupCalls  []int
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		nextID:      1,
		nextEventID: 1,
		Servers:     make(map[int64]*domain.Server),
		DedupWindow: 60 * time.Second,
	}
}

func (f *FakeStore) AddServer(name, host string, enabled bool) *domain.Server {
	f.mu.Lock()
	defer f.mu.Unlock()
	srv := &domain.Server{
		ID:        f.nextID,
		Name:      name,
		Host:      host,
		AgentPort: domain.DefaultAgentPort,
		Token:     "tok-" + name,
		Enabled:   enabled,
		CreatedAt: domain.FormatTimestamp(time.Now()),
	}
	f.Servers[srv.ID] = srv
	f.nextID++
	return srv
}

func (f *FakeStore) ListAllServers(ctx context.Context) ([]domain.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]domain.Server, 0, len(f.Servers))
	for _, s := range f.Servers {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *FakeStore) ListEnabledServers(ctx context.Context) ([]domain.Server, error) {
	all, err := f.ListAllServers(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, s := range all {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *FakeStore) GetServer(ctx context.Context, id int64) (*domain.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Servers[id]
	if !ok {
		return nil, domain.ErrServerNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *FakeStore) GetServerByName(ctx context.Context, name string) (*domain.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.Servers {
		if s.Name == name {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrServerNotFound
}

func (f *FakeStore) CreateServer(ctx context.Context, s *domain.Server) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.Servers {
		if existing.Name == s.Name {
			return 0, domain.ErrDuplicateName
		}
	}
	cp := *s
	cp.ID = f.nextID
	cp.CreatedAt = domain.FormatTimestamp(time.Now())
	f.Servers[cp.ID] = &cp
	f.nextID++
	return cp.ID, nil
}

func (f *FakeStore) UpdateServer(ctx context.Context, id int64, upd domain.ServerUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Servers[id]
	if !ok {
		return domain.ErrServerNotFound
	}
	if upd.Name != nil {
		for oid, other := range f.Servers {
			if oid != id && other.Name == *upd.Name {
				return domain.ErrDuplicateName
			}
		}
		s.Name = *upd.Name
	}
	if upd.Host != nil {
		s.Host = *upd.Host
	}
	if upd.AgentPort != nil {
		s.AgentPort = *upd.AgentPort
	}
	if upd.Token != nil {
		s.Token = *upd.Token
	}
	if upd.Services != nil {
		s.Services = *upd.Services
	}
	if upd.Enabled != nil {
		s.Enabled = *upd.Enabled
	}
	return nil
}

func (f *FakeStore) DeleteServer(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Servers[id]; !ok {
		return domain.ErrServerNotFound
	}
	delete(f.Servers, id)
	return nil
}

func (f *FakeStore) UpdateLastSeen(ctx context.Context, id int64, ts string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Servers[id]
	if !ok {
		return domain.ErrServerNotFound
	}
	s.LastSeenAt = &ts
	return nil
}

func (f *FakeStore) GetProxyConfig(ctx context.Context, id int64) (*domain.ProxyConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Servers[id]
	if !ok {
		return nil, domain.ErrServerNotFound
	}
	return s.ProxyConfig, nil
}

func (f *FakeStore) SetProxyConfig(ctx context.Context, id int64, cfg *domain.ProxyConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.Servers[id]
	if !ok {
		return domain.ErrServerNotFound
	}
	s.ProxyConfig = cfg
	return nil
}

func (f *FakeStore) SaveHourlySample(ctx context.Context, sample *domain.HourlySample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SaveSampleErr != nil {
		return f.SaveSampleErr
	}
	cp := *sample
	cp.ID = int64(len(f.Samples) + 1)
	f.Samples = append(f.Samples, cp)
	return nil
}

func (f *FakeStore) QueryTimeseries(ctx context.Context, serverID int64, metric, from, to, agg string) ([]domain.TimeseriesPoint, error) {
	return nil, nil
}

func (f *FakeStore) QueryHourlyHistory(ctx context.Context, q ports.HistoryQuery) ([]domain.HourlySample, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.HourlySample(nil), f.Samples...), len(f.Samples), nil
}

func (f *FakeStore) SaveEvent(ctx context.Context, serverID int64, typ domain.EventType, message string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UTC()
	cutoff := now.Add(-f.DedupWindow)
	for i := len(f.Events) - 1; i >= 0; i-- {
		ev := f.Events[i]
		if ev.ServerID != serverID || ev.Type != typ {
			continue
		}
		ts, err := domain.ParseTimestamp(ev.TS)
		if err == nil && ts.After(cutoff) {
			return 0, nil
		}
		break
	}

	ev := domain.Event{
		ID:       f.nextEventID,
		ServerID: serverID,
		Type:     typ,
		Message:  message,
		TS:       domain.FormatTimestamp(now),
	}
	f.Events = append(f.Events, ev)
	f.nextEventID++
	return ev.ID, nil
}

func (f *FakeStore) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]domain.Event(nil), f.Events...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeStore) CleanupOldData(ctx context.Context, retentionDays int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CleanupCalls = append(f.CleanupCalls, retentionDays)
	return nil
}

func (f *FakeStore) Close() error { return nil }

// EventsOfType filters recorded events for assertions.
func (f *FakeStore) EventsOfType(typ domain.EventType) []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Event
	for _, ev := range f.Events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// FakeAgentClient serves canned snapshots per host.
type FakeAgentClient struct {
	mu        sync.Mutex
	Snapshots map[string]*domain.Snapshot
	Errs      map[string]error
	Calls     map[string]int
}

func NewFakeAgentClient() *FakeAgentClient {
	return &FakeAgentClient{
		Snapshots: make(map[string]*domain.Snapshot),
		Errs:      make(map[string]error),
		Calls:     make(map[string]int),
	}
}

func (f *FakeAgentClient) FetchSnapshot(ctx context.Context, target domain.AgentTarget) (*domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls[target.Host]++
	if err, ok := f.Errs[target.Host]; ok {
		return nil, err
	}
	snap, ok := f.Snapshots[target.Host]
	if !ok {
		return nil, domain.ErrServerNotFound
	}
	cp := *snap
	return &cp, nil
}

func (f *FakeAgentClient) ServiceCatalog(ctx context.Context, target domain.AgentTarget) ([]domain.ServiceCatalogItem, error) {
	return nil, nil
}

func (f *FakeAgentClient) ProxyStatus(ctx context.Context, target domain.AgentTarget) (*domain.TunnelStatus, error) {
	return &domain.TunnelStatus{Status: domain.TunnelStateStopped}, nil
}

func (f *FakeAgentClient) ProxyStart(ctx context.Context, target domain.AgentTarget, cfg *domain.ProxyConfig) (*domain.TunnelStatus, error) {
	return &domain.TunnelStatus{Status: domain.TunnelStateConnecting}, nil
}

func (f *FakeAgentClient) ProxyStop(ctx context.Context, target domain.AgentTarget) (*domain.TunnelStatus, error) {
	return &domain.TunnelStatus{Status: domain.TunnelStateStopped}, nil
}

// FakeDetector records Observe calls.
type FakeDetector struct {
	mu       sync.Mutex
	Observed []ObservedCall
	Primed   bool
}

type ObservedCall struct {
	ServerID int64
	Online   bool
	Services []domain.ServiceInfo
}

func (f *FakeDetector) Observe(ctx context.Context, serverID int64, online bool, services []domain.ServiceInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Observed = append(f.Observed, ObservedCall{ServerID: serverID, Online: online, Services: services})
}

func (f *FakeDetector) Prime(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Primed = true
	return nil
}

func (f *FakeDetector) Last() (ObservedCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Observed) == 0 {
		return ObservedCall{}, false
	}
	return f.Observed[len(f.Observed)-1], true
}
