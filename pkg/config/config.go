// Package config loads service configuration from defaults, files, secrets
// files, environment variables and command-line flags.
package config

import "time"

// Database type constants
const (
	// DatabaseTypeMongoDB stores documents in a MongoDB deployment.
	DatabaseTypeMongoDB = "mongodb"
	// DatabaseTypeMemory keeps documents in process memory.
	DatabaseTypeMemory = "memory"
)

// Config is the root configuration structure.
type Config struct {
	Service       ServiceConfig       `mapstructure:"service" yaml:"service"`
	Database      DatabaseConfig      `mapstructure:"database" yaml:"database"`
	Observability ObservabilityConfig `mapstructure:"observability" yaml:"observability"`
}

// ServiceConfig configures service identity metadata.
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// DatabaseConfig configures the document store.
type DatabaseConfig struct {
	Type             string             `mapstructure:"type" yaml:"type"` // mongodb, memory
	URL              string             `mapstructure:"url" yaml:"url"`
	DatabaseName     string             `mapstructure:"database_name" yaml:"database_name"`
	ConnectTimeout   time.Duration      `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	OperationTimeout time.Duration      `mapstructure:"operation_timeout" yaml:"operation_timeout"`
	MaxPoolSize      uint64             `mapstructure:"max_pool_size" yaml:"max_pool_size"`
	WriteConcern     WriteConcernConfig `mapstructure:"write_concern" yaml:"write_concern"`
}

// WriteConcernConfig describes the acknowledgment requested for writes.
// Journal acknowledgment is always added by repositories; Journal here only
// matters for writes issued outside them.
type WriteConcernConfig struct {
	W        string        `mapstructure:"w" yaml:"w"` // majority, a tag set name, or a node count
	Journal  bool          `mapstructure:"journal" yaml:"journal"`
	WTimeout time.Duration `mapstructure:"wtimeout" yaml:"wtimeout"`
}

// ObservabilityConfig configures logging, tracing and metrics.
type ObservabilityConfig struct {
	LogLevel          string             `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string             `mapstructure:"log_format" yaml:"log_format"` // json, text
	AsyncLogging      AsyncLoggingConfig `mapstructure:"async_logging" yaml:"async_logging"`
	TracingEnabled    bool               `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
	TracingEndpoint   string             `mapstructure:"tracing_endpoint" yaml:"tracing_endpoint"`
	TracingInsecure   bool               `mapstructure:"tracing_insecure" yaml:"tracing_insecure"`
	TracingSampleRate float64            `mapstructure:"tracing_sample_rate" yaml:"tracing_sample_rate"`
	MetricsEnabled    bool               `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
}

// AsyncLoggingConfig configures optional asynchronous logger dispatching.
type AsyncLoggingConfig struct {
	Enabled      bool `mapstructure:"enabled" yaml:"enabled"`
	QueueSize    int  `mapstructure:"queue_size" yaml:"queue_size"`
	WorkerCount  int  `mapstructure:"worker_count" yaml:"worker_count"`
	DropWhenFull bool `mapstructure:"drop_when_full" yaml:"drop_when_full"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "docrepo",
			Environment: "production",
		},
		Database: DatabaseConfig{
			Type:             DatabaseTypeMemory,
			DatabaseName:     "docrepo",
			ConnectTimeout:   10 * time.Second,
			OperationTimeout: 5 * time.Second,
			MaxPoolSize:      100,
			WriteConcern: WriteConcernConfig{
				W:        "majority",
				Journal:  true,
				WTimeout: 0,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			AsyncLogging: AsyncLoggingConfig{
				Enabled:      false,
				QueueSize:    1024,
				WorkerCount:  1,
				DropWhenFull: false,
			},
			TracingEnabled:    false,
			TracingSampleRate: 1.0,
			MetricsEnabled:    false,
		},
	}
}
