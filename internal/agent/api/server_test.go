package api

import (
	stdjson "encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetmon/fleetmon/internal/agent/scrape"
	"github.com/fleetmon/fleetmon/internal/agent/tunnel"
	"github.com/fleetmon/fleetmon/internal/config"
	"github.com/fleetmon/fleetmon/internal/core/domain"
	"github.com/fleetmon/fleetmon/internal/logger"
	"github.com/fleetmon/fleetmon/theme"
)

const testToken = "test-token"

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.DefaultAgentConfig()
	cfg.NodeID = "node-a"
	cfg.Token = testToken
	cfg.Server.ReadTimeout = time.Second
	cfg.Server.WriteTimeout = time.Second

	log := logger.NewStyledLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), theme.Default())
	scraper := scrape.New("node-a", []string{"/"}, scrape.GPUModeOff, nil)
	tm := tunnel.NewManager(nil, log)

	return NewServer(cfg, scraper, tm, log)
}

func doRequest(t *testing.T, s *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestSnapshotRequiresToken(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/snapshot", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, s, http.MethodGet, "/v1/snapshot", "wrong-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// the two failure modes are indistinguishable
	var body map[string]string
	require.NoError(t, stdjson.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unauthorized", body["error"])
}

func TestSnapshotReturnsMeasurement(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/snapshot", testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap domain.Snapshot
	require.NoError(t, stdjson.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "node-a", snap.NodeID)
	assert.NotEmpty(t, snap.TS)
	_, err := domain.ParseTimestamp(snap.TS)
	assert.NoError(t, err)
}

func TestHealthIsUnauthenticated(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string                        `json:"status"`
		NodeID string                        `json:"node_id"`
		Checks map[string]scrape.CheckStatus `json:"checks"`
	}
	require.NoError(t, stdjson.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "node-a", body.NodeID)
	assert.Contains(t, body.Checks, "cpu")
	assert.Contains(t, body.Checks, "gpu")
}

func TestProxyStatusWithoutConfig(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/proxy/status", testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var st domain.TunnelStatus
	require.NoError(t, stdjson.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, domain.TunnelStateDisabled, st.Status)
}

func TestProxyStartWithoutConfig(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/proxy/start", testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProxyStopIsIdempotent(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/proxy/stop", testToken)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/snapshot", testToken)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
