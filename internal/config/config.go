package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const EnvPrefix = "FLEETMON"

// DefaultAgentConfig returns the agent defaults; file and environment
// values are layered on top.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		Listen: "0.0.0.0:9109",
		Disks:  []string{"/"},
		GPU:    "auto",
		Server: HTTPServerConfig{
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:       "info",
			MaxSizeMB:   10,
			BackupCount: 5,
			Theme:       "default",
		},
	}
}

// DefaultAggregatorConfig returns the aggregator defaults.
func DefaultAggregatorConfig() *AggregatorConfig {
	return &AggregatorConfig{
		Database: DatabaseConfig{
			Path: "data/fleetmon.db",
		},
		API: APIConfig{
			Host:       "0.0.0.0",
			Port:       8080,
			AdminToken: DevAdminToken,
		},
		Frontend: FrontendConfig{
			Enabled: false,
			Path:    "frontend/dist",
		},
		Collector: CollectorConfig{
			Interval:   5 * time.Second,
			Timeout:    2 * time.Second,
			RetryCount: 2,
			RetryDelay: 1 * time.Second,
		},
		Aggregator: RollupConfig{
			PeriodHours: 1,
			AlignToHour: true,
		},
		Retention: RetentionConfig{
			Days:        30,
			CleanupHour: 3,
		},
		Events: EventsConfig{
			DedupWindow: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:       "info",
			MaxSizeMB:   10,
			BackupCount: 5,
			Theme:       "default",
		},
		Server: HTTPServerConfig{
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// LoadAgent reads the agent config from path (optional) plus FLEETMON_*
// environment variables, layered over DefaultAgentConfig.
func LoadAgent(path string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()
	if err := load(path, "agent", cfg); err != nil {
		return nil, err
	}
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("config: node_id is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("config: token is required")
	}
	return cfg, nil
}

// LoadAggregator reads the aggregator config from path (optional) plus
// FLEETMON_* environment variables, layered over DefaultAggregatorConfig.
func LoadAggregator(path string) (*AggregatorConfig, error) {
	cfg := DefaultAggregatorConfig()
	if err := load(path, "aggregator", cfg); err != nil {
		return nil, err
	}
	if cfg.Collector.Interval <= 0 {
		return nil, fmt.Errorf("config: collector.interval must be positive")
	}
	if cfg.Retention.CleanupHour < 0 || cfg.Retention.CleanupHour > 23 {
		return nil, fmt.Errorf("config: retention.cleanup_hour must be 0-23")
	}
	return cfg, nil
}

func load(path, name string, out any) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/fleetmon")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// missing file is fine when no explicit path was given;
		// defaults plus environment still apply
		if path != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("config: reading %s: %w", v.ConfigFileUsed(), err)
		}
	}

	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(out, decodeHook); err != nil {
		return fmt.Errorf("config: unmarshal: %w", err)
	}
	return nil
}
