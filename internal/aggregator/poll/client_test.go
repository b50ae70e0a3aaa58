package poll

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmon/fleetmon/internal/core/domain"
)

func targetFor(t *testing.T, srv *httptest.Server, token string) domain.AgentTarget {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return domain.AgentTarget{Host: u.Hostname(), Port: port, Token: token}
}

func TestFetchSnapshotSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"node_id":"n1","ts":"2026-01-02T10:00:05Z","cpu_pct":12.5}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second, 0, time.Millisecond)
	snap, err := c.FetchSnapshot(context.Background(), targetFor(t, srv, "sekrit"))
	require.NoError(t, err)

	assert.Equal(t, "Bearer sekrit", gotAuth)
	assert.Equal(t, "n1", snap.NodeID)
	require.NotNil(t, snap.CPUPct)
	assert.Equal(t, 12.5, *snap.CPUPct)
}

func TestFetchSnapshotRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"node_id":"n1","ts":"2026-01-02T10:00:05Z"}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second, 2, time.Millisecond)
	snap, err := c.FetchSnapshot(context.Background(), targetFor(t, srv, "t"))
	require.NoError(t, err)
	assert.Equal(t, "n1", snap.NodeID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchSnapshotExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(time.Second, 2, time.Millisecond)
	_, err := c.FetchSnapshot(context.Background(), targetFor(t, srv, "t"))
	require.Error(t, err)

	// initial attempt plus two retries
	assert.Equal(t, int32(3), calls.Load())

	var agentErr *domain.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, http.StatusServiceUnavailable, agentErr.StatusCode)
}

func TestProxyStartForwardsConfigAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/proxy/start", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"status":"connecting","retry_count":0}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second, 0, time.Millisecond)
	st, err := c.ProxyStart(context.Background(), targetFor(t, srv, "t"),
		&domain.ProxyConfig{Enabled: true, ServerListenPort: 9109})
	require.NoError(t, err)
	assert.Equal(t, domain.TunnelStateConnecting, st.Status)
}

func TestAgentErrorPreservesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"tunnel: listen port 9109 already in use"}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second, 0, time.Millisecond)
	_, err := c.ProxyStart(context.Background(), targetFor(t, srv, "t"), nil)

	var agentErr *domain.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, http.StatusConflict, agentErr.StatusCode)
	assert.Contains(t, string(agentErr.Body), "already in use")
}

func TestFetchSnapshotRespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(time.Second, 10, time.Second)
	_, err := c.FetchSnapshot(ctx, targetFor(t, srv, "t"))
	require.Error(t, err)
}
