package poll

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"

	"github.com/fleetmon/fleetmon/internal/core/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxErrorBodyBytes = 4 << 10

// Client talks to agents over their bearer-token HTTP API. Snapshot
// fetches retry a configured number of times with a constant delay
// before the server is declared offline; control calls (proxy, catalog)
// do not retry, the operator sees the first failure.
type Client struct {
	httpClient *http.Client
	retryCount int
	retryDelay time.Duration
}

func NewClient(timeout time.Duration, retryCount int, retryDelay time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retryCount: retryCount,
		retryDelay: retryDelay,
	}
}

func (c *Client) FetchSnapshot(ctx context.Context, target domain.AgentTarget) (*domain.Snapshot, error) {
	var snap domain.Snapshot

	operation := func() error {
		return c.getJSON(ctx, target, "/v1/snapshot", &snap)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.retryCount)),
		ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) ServiceCatalog(ctx context.Context, target domain.AgentTarget) ([]domain.ServiceCatalogItem, error) {
	var body struct {
		Services []domain.ServiceCatalogItem `json:"services"`
	}
	if err := c.getJSON(ctx, target, "/v1/services", &body); err != nil {
		return nil, err
	}
	return body.Services, nil
}

func (c *Client) ProxyStatus(ctx context.Context, target domain.AgentTarget) (*domain.TunnelStatus, error) {
	var st domain.TunnelStatus
	if err := c.getJSON(ctx, target, "/v1/proxy/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) ProxyStart(ctx context.Context, target domain.AgentTarget, cfg *domain.ProxyConfig) (*domain.TunnelStatus, error) {
	var payload io.Reader
	if cfg != nil {
		raw, err := json.Marshal(cfg)
		if err != nil {
			return nil, err
		}
		payload = bytes.NewReader(raw)
	}

	var st domain.TunnelStatus
	if err := c.do(ctx, target, http.MethodPost, "/v1/proxy/start", payload, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) ProxyStop(ctx context.Context, target domain.AgentTarget) (*domain.TunnelStatus, error) {
	var st domain.TunnelStatus
	if err := c.do(ctx, target, http.MethodPost, "/v1/proxy/stop", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) getJSON(ctx context.Context, target domain.AgentTarget, path string, out any) error {
	return c.do(ctx, target, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, target domain.AgentTarget, method, path string, body io.Reader, out any) error {
	url := fmt.Sprintf("http://%s:%d%s", target.Host, target.Port, path)

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+target.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &domain.AgentError{StatusCode: resp.StatusCode, Body: raw}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
