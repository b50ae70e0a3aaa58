package domain

import "time"

const DefaultAgentPort = 9109

// TimestampLayout is the wire and storage format for all timestamps:
// ISO-8601 UTC with a trailing Z and second precision. Keeping a fixed
// width means string comparison in SQL matches chronological order.
const TimestampLayout = "2006-01-02T15:04:05Z"

// FormatTimestamp renders t in the canonical wire format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a canonical timestamp, falling back to RFC3339
// for agents that emit sub-second precision.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// Server is the persisted identity and pull configuration for one
// monitored host.
type Server struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Host        string       `json:"host"`
	AgentPort   int          `json:"agent_port"`
	Token       string       `json:"-"`
	Enabled     bool         `json:"enabled"`
	Services    []string     `json:"services"`
	ProxyConfig *ProxyConfig `json:"proxy_config,omitempty"`
	LastSeenAt  *string      `json:"last_seen_at"`
	CreatedAt   string       `json:"created_at"`
}

// ServerUpdate carries a partial update; nil fields are left untouched.
type ServerUpdate struct {
	Name      *string
	Host      *string
	AgentPort *int
	Token     *string
	Services  *[]string
	Enabled   *bool
}

// AgentTarget is the address triple the aggregator needs to talk to an
// agent. Derived from a Server row each tick so CRUD takes effect on
// the next cycle.
type AgentTarget struct {
	Host  string
	Port  int
	Token string
}

func (s *Server) Target() AgentTarget {
	return AgentTarget{Host: s.Host, Port: s.AgentPort, Token: s.Token}
}

// ProxyConfig describes the SSH local forward a server's agent should
// maintain back to the central node. Stored as JSON text on the server
// row.
type ProxyConfig struct {
	Enabled               bool   `json:"enabled" mapstructure:"enabled"`
	AutoStart             bool   `json:"auto_start" mapstructure:"auto_start"`
	ServerListenPort      int    `json:"server_listen_port" mapstructure:"server_listen_port"`
	CenterProxyPort       int    `json:"center_proxy_port" mapstructure:"center_proxy_port"`
	CenterSSHHost         string `json:"center_ssh_host" mapstructure:"center_ssh_host"`
	CenterSSHPort         int    `json:"center_ssh_port" mapstructure:"center_ssh_port"`
	CenterSSHUser         string `json:"center_ssh_user" mapstructure:"center_ssh_user"`
	IdentityFile          string `json:"identity_file" mapstructure:"identity_file"`
	StrictHostKeyChecking bool   `json:"strict_host_key_checking" mapstructure:"strict_host_key_checking"`
}

// SSHPort returns the configured SSH port or the protocol default.
func (c *ProxyConfig) SSHPort() int {
	if c.CenterSSHPort <= 0 {
		return 22
	}
	return c.CenterSSHPort
}
