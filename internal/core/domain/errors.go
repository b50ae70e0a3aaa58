package domain

import (
	"errors"
	"fmt"
)

var (
	ErrServerNotFound     = errors.New("server not found")
	ErrDuplicateName      = errors.New("server name already exists")
	ErrProxyConfigMissing = errors.New("proxy config missing")
	ErrProxyDisabled      = errors.New("proxy is disabled in config")
	ErrAlreadyLocked      = errors.New("another aggregator instance is already running")
)

// AgentError is a non-2xx response from an agent's control surface. The
// body is preserved so the aggregator can surface the agent's own
// detail on a 502.
type AgentError struct {
	StatusCode int
	Body       []byte
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent returned status %d", e.StatusCode)
}
