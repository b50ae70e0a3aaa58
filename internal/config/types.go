package config

import (
	"fmt"
	"time"

	"github.com/fleetmon/fleetmon/internal/core/domain"
)

// AgentConfig is the per-node agent's configuration tree.
type AgentConfig struct {
	NodeID            string              `mapstructure:"node_id"`
	Listen            string              `mapstructure:"listen"`
	Token             string              `mapstructure:"token"`
	Disks             []string            `mapstructure:"disks"`
	ServicesAllowlist []string            `mapstructure:"services_allowlist"`
	GPU               string              `mapstructure:"gpu"` // auto|off|nvidia
	Proxy             *domain.ProxyConfig `mapstructure:"proxy"`
	Server            HTTPServerConfig    `mapstructure:"server"`
	Logging           LoggingConfig       `mapstructure:"logging"`
}

// AggregatorConfig is the central node's configuration tree.
type AggregatorConfig struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	API        APIConfig        `mapstructure:"api"`
	Frontend   FrontendConfig   `mapstructure:"frontend"`
	Collector  CollectorConfig  `mapstructure:"collector"`
	Aggregator RollupConfig     `mapstructure:"aggregator"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Events     EventsConfig     `mapstructure:"events"`
	Backup     BackupConfig     `mapstructure:"backup"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     HTTPServerConfig `mapstructure:"server"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type APIConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	AdminToken  string   `mapstructure:"admin_token"`
}

// GetAddress returns the API address in host:port format
func (a *APIConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

type FrontendConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type CollectorConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type RollupConfig struct {
	PeriodHours int  `mapstructure:"period_hours"`
	AlignToHour bool `mapstructure:"align_to_hour"`
}

type RetentionConfig struct {
	Days        int `mapstructure:"days"`
	CleanupHour int `mapstructure:"cleanup_hour"`
}

type EventsConfig struct {
	DedupWindow time.Duration `mapstructure:"dedup_window"`
}

// BackupConfig is accepted for forward compatibility with deployments
// that schedule external DB backups; the aggregator itself does not
// act on it.
type BackupConfig struct {
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
	BackupHour    int    `mapstructure:"backup_hour"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	BackupCount int    `mapstructure:"backup_count"`
	Theme       string `mapstructure:"theme"`
}

type HTTPServerConfig struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DevAdminToken is the placeholder token shipped in the sample config;
// while it is in place, admin auth is bypassed (development mode).
const DevAdminToken = "CHANGE_ME_IN_PRODUCTION"
