package event

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmon/fleetmon/internal/aggregator/state"
	"github.com/fleetmon/fleetmon/internal/core/domain"
	"github.com/fleetmon/fleetmon/internal/logger"
	"github.com/fleetmon/fleetmon/internal/testutil"
	"github.com/fleetmon/fleetmon/theme"
)

func newTestDetector(store *testutil.FakeStore) (*Detector, *state.Cache) {
	cache := state.NewCache()
	log := logger.NewStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), theme.Default())
	return NewDetector(store, cache, log), cache
}

func active(name string) domain.ServiceInfo {
	return domain.ServiceInfo{Name: name, ActiveState: domain.ServiceStateActive}
}

func failed(name string) domain.ServiceInfo {
	return domain.ServiceInfo{Name: name, ActiveState: domain.ServiceStateFailed}
}

func TestFirstObservationProducesNoEvents(t *testing.T) {
	store := testutil.NewFakeStore()
	srv := store.AddServer("alpha", "10.0.0.1", true)
	d, _ := newTestDetector(store)
	require.NoError(t, d.Prime(context.Background()))

	// first ever pull finds the server offline with a failed service:
	// still no events, there is no prior to transition from
	d.Observe(context.Background(), srv.ID, false, nil)
	assert.Empty(t, store.Events)

	d2store := testutil.NewFakeStore()
	srv2 := d2store.AddServer("beta", "10.0.0.2", true)
	d2, _ := newTestDetector(d2store)
	require.NoError(t, d2.Prime(context.Background()))

	d2.Observe(context.Background(), srv2.ID, true, []domain.ServiceInfo{failed("nginx.service")})
	assert.Empty(t, d2store.Events)
}

func TestServerDownAndUpTransitions(t *testing.T) {
	store := testutil.NewFakeStore()
	srv := store.AddServer("alpha", "10.0.0.1", true)
	d, _ := newTestDetector(store)
	require.NoError(t, d.Prime(context.Background()))

	d.Observe(context.Background(), srv.ID, true, nil)
	assert.Empty(t, store.Events)

	d.Observe(context.Background(), srv.ID, false, nil)
	downs := store.EventsOfType(domain.EventServerDown)
	require.Len(t, downs, 1)
	assert.Equal(t, srv.ID, downs[0].ServerID)

	// staying offline emits nothing more
	d.Observe(context.Background(), srv.ID, false, nil)
	assert.Len(t, store.EventsOfType(domain.EventServerDown), 1)

	d.Observe(context.Background(), srv.ID, true, nil)
	require.Len(t, store.EventsOfType(domain.EventServerUp), 1)
}

func TestServiceTransitions(t *testing.T) {
	store := testutil.NewFakeStore()
	srv := store.AddServer("alpha", "10.0.0.1", true)
	d, _ := newTestDetector(store)
	require.NoError(t, d.Prime(context.Background()))

	d.Observe(context.Background(), srv.ID, true, []domain.ServiceInfo{active("nginx.service")})
	assert.Empty(t, store.Events)

	d.Observe(context.Background(), srv.ID, true, []domain.ServiceInfo{failed("nginx.service")})
	fails := store.EventsOfType(domain.EventServiceFailed)
	require.Len(t, fails, 1)
	assert.Contains(t, fails[0].Message, "nginx.service")

	// still failed: no repeat
	d.Observe(context.Background(), srv.ID, true, []domain.ServiceInfo{failed("nginx.service")})
	assert.Len(t, store.EventsOfType(domain.EventServiceFailed), 1)

	d.Observe(context.Background(), srv.ID, true, []domain.ServiceInfo{active("nginx.service")})
	require.Len(t, store.EventsOfType(domain.EventServiceRecovered), 1)
}

func TestOtherStatesDoNotTransition(t *testing.T) {
	store := testutil.NewFakeStore()
	srv := store.AddServer("alpha", "10.0.0.1", true)
	d, _ := newTestDetector(store)
	require.NoError(t, d.Prime(context.Background()))

	d.Observe(context.Background(), srv.ID, true, []domain.ServiceInfo{active("a.service")})
	d.Observe(context.Background(), srv.ID, true, []domain.ServiceInfo{
		{Name: "a.service", ActiveState: domain.ServiceStateInactive},
	})
	d.Observe(context.Background(), srv.ID, true, []domain.ServiceInfo{
		{Name: "a.service", ActiveState: domain.ServiceStateActivating},
	})

	assert.Empty(t, store.Events)
}

func TestOfflinePreservesServiceStateForRecoveryDiff(t *testing.T) {
	store := testutil.NewFakeStore()
	srv := store.AddServer("alpha", "10.0.0.1", true)
	d, cache := newTestDetector(store)
	require.NoError(t, d.Prime(context.Background()))

	d.Observe(context.Background(), srv.ID, true, []domain.ServiceInfo{active("nginx.service")})
	d.Observe(context.Background(), srv.ID, false, nil)

	prev := cache.PrevState(srv.ID)
	assert.Equal(t, domain.ServiceStateActive, prev.Services["nginx.service"])

	// back online with the service now failed: both transitions fire
	d.Observe(context.Background(), srv.ID, true, []domain.ServiceInfo{failed("nginx.service")})
	assert.Len(t, store.EventsOfType(domain.EventServerUp), 1)
	assert.Len(t, store.EventsOfType(domain.EventServiceFailed), 1)
}

func TestDedupSuppressesFlapping(t *testing.T) {
	store := testutil.NewFakeStore()
	srv := store.AddServer("alpha", "10.0.0.1", true)
	d, _ := newTestDetector(store)
	require.NoError(t, d.Prime(context.Background()))

	// flap: up, down, up, down inside the dedup window
	d.Observe(context.Background(), srv.ID, true, nil)
	d.Observe(context.Background(), srv.ID, false, nil)
	d.Observe(context.Background(), srv.ID, true, nil)
	d.Observe(context.Background(), srv.ID, false, nil)

	assert.Len(t, store.EventsOfType(domain.EventServerDown), 1)
	assert.Len(t, store.EventsOfType(domain.EventServerUp), 1)
}
