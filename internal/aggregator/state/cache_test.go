package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmon/fleetmon/internal/core/domain"
)

func f64(v float64) *float64 { return &v }

func TestLatestRoundTrip(t *testing.T) {
	c := NewCache()

	_, ok := c.Latest(1)
	assert.False(t, ok)

	c.SetLatest(1, domain.LatestSnapshot{TS: "2026-01-02T10:00:05Z", Online: true, CPUPct: f64(42)})

	snap, ok := c.Latest(1)
	require.True(t, ok)
	assert.True(t, snap.Online)
	assert.Equal(t, 42.0, *snap.CPUPct)

	all := c.AllLatest()
	assert.Len(t, all, 1)
}

func TestDrainBuffersIsAtomic(t *testing.T) {
	c := NewCache()

	c.AppendBuffer(1, domain.BufferEntry{TS: "2026-01-02T10:00:05Z", CPUPct: f64(10)})
	c.AppendBuffer(1, domain.BufferEntry{TS: "2026-01-02T10:00:10Z", CPUPct: f64(20)})
	c.AppendBuffer(2, domain.BufferEntry{TS: "2026-01-02T10:00:05Z"})

	drained := c.DrainBuffers()
	require.Len(t, drained, 2)
	assert.Len(t, drained[1], 2)
	assert.Len(t, drained[2], 1)

	// post-drain appends belong to the next window
	c.AppendBuffer(1, domain.BufferEntry{TS: "2026-01-02T11:00:05Z"})
	second := c.DrainBuffers()
	require.Len(t, second, 1)
	assert.Len(t, second[1], 1)

	assert.Empty(t, c.DrainBuffers())
}

func TestPrevStateDefaultsEmpty(t *testing.T) {
	c := NewCache()

	st := c.PrevState(7)
	assert.Nil(t, st.Online)
	assert.Nil(t, st.Services)

	online := true
	c.SetPrevState(7, domain.PrevState{
		Online:   &online,
		Services: map[string]string{"nginx.service": domain.ServiceStateActive},
	})

	st = c.PrevState(7)
	require.NotNil(t, st.Online)
	assert.True(t, *st.Online)
	assert.Equal(t, domain.ServiceStateActive, st.Services["nginx.service"])
}

func TestForget(t *testing.T) {
	c := NewCache()

	c.SetLatest(3, domain.LatestSnapshot{Online: true})
	c.AppendBuffer(3, domain.BufferEntry{})
	online := true
	c.SetPrevState(3, domain.PrevState{Online: &online})

	c.Forget(3)

	_, ok := c.Latest(3)
	assert.False(t, ok)
	assert.Empty(t, c.DrainBuffers())
	assert.Nil(t, c.PrevState(3).Online)
}

func TestConcurrentAccess(t *testing.T) {
	c := NewCache()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.SetLatest(id, domain.LatestSnapshot{Online: j%2 == 0})
				c.AppendBuffer(id, domain.BufferEntry{})
				c.Latest(id)
				c.PrevState(id)
			}
		}(int64(i))
	}
	wg.Wait()

	drained := c.DrainBuffers()
	total := 0
	for _, entries := range drained {
		total += len(entries)
	}
	assert.Equal(t, 1600, total)
}
