package state

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/fleetmon/fleetmon/internal/core/domain"
)

// Cache holds the aggregator's volatile view: latest snapshots for the
// UI's short-cycle refresh, the per-server hourly buffers the rollup
// engine drains, and the prior states the event detector compares
// against. Latest is on the hot read path (every dashboard poll) and
// lives in a lock-free map; buffers and prev states only see the pull
// loop and the hourly drain, a plain mutex is enough there.
type Cache struct {
	latest *xsync.Map[int64, domain.LatestSnapshot]

	mu      sync.Mutex
	buffers map[int64][]domain.BufferEntry
	prev    map[int64]domain.PrevState
}

func NewCache() *Cache {
	return &Cache{
		latest:  xsync.NewMap[int64, domain.LatestSnapshot](),
		buffers: make(map[int64][]domain.BufferEntry),
		prev:    make(map[int64]domain.PrevState),
	}
}

func (c *Cache) Latest(serverID int64) (domain.LatestSnapshot, bool) {
	return c.latest.Load(serverID)
}

func (c *Cache) SetLatest(serverID int64, snap domain.LatestSnapshot) {
	c.latest.Store(serverID, snap)
}

func (c *Cache) AllLatest() map[int64]domain.LatestSnapshot {
	out := make(map[int64]domain.LatestSnapshot, c.latest.Size())
	c.latest.Range(func(id int64, snap domain.LatestSnapshot) bool {
		out[id] = snap
		return true
	})
	return out
}

func (c *Cache) AppendBuffer(serverID int64, entry domain.BufferEntry) {
	c.mu.Lock()
	c.buffers[serverID] = append(c.buffers[serverID], entry)
	c.mu.Unlock()
}

// DrainBuffers swaps the buffer map out whole, so entries appended
// during aggregation land in the next hour's window.
func (c *Cache) DrainBuffers() map[int64][]domain.BufferEntry {
	c.mu.Lock()
	drained := c.buffers
	c.buffers = make(map[int64][]domain.BufferEntry)
	c.mu.Unlock()
	return drained
}

func (c *Cache) PrevState(serverID int64) domain.PrevState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.prev[serverID]; ok {
		return st
	}
	return domain.PrevState{}
}

func (c *Cache) SetPrevState(serverID int64, st domain.PrevState) {
	c.mu.Lock()
	c.prev[serverID] = st
	c.mu.Unlock()
}

// Forget drops every trace of a deleted server.
func (c *Cache) Forget(serverID int64) {
	c.latest.Delete(serverID)
	c.mu.Lock()
	delete(c.buffers, serverID)
	delete(c.prev, serverID)
	c.mu.Unlock()
}
