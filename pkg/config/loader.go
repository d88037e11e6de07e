package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader defines the interface for loading configuration
type Loader interface {
	Load() (*Config, error)
	Validate(*Config) error
}

// ViperLoader loads configuration with precedence
// flags > ENV > secrets file > config file > defaults.
type ViperLoader struct {
	configFile string
	envPrefix  string
	flags      map[string]*pflag.Flag
}

// NewViperLoader creates a ViperLoader.
// configFile may be empty. envPrefix defaults to "APP".
func NewViperLoader(configFile, envPrefix string) *ViperLoader {
	return &ViperLoader{
		configFile: configFile,
		envPrefix:  envPrefix,
		flags:      make(map[string]*pflag.Flag),
	}
}

// BindFlag overrides key with flag when the flag was set on the command line.
func (l *ViperLoader) BindFlag(key string, flag *pflag.Flag) *ViperLoader {
	if flag != nil {
		l.flags[key] = flag
	}
	return l
}

// ConfigFile returns the configured file path, possibly empty.
func (l *ViperLoader) ConfigFile() string {
	return l.configFile
}

// Load reads, merges and validates the configuration.
func (l *ViperLoader) Load() (*Config, error) {
	v := viper.New()
	l.setDefaults(v, DefaultConfig())

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
	}

	secretsFile, err := l.discoverSecretsFile()
	if err != nil {
		return nil, err
	}
	if secretsFile != "" {
		sv := viper.New()
		sv.SetConfigFile(secretsFile)
		if err := sv.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read secrets file %s: %w", secretsFile, err)
		}
		if err := v.MergeConfigMap(sv.AllSettings()); err != nil {
			return nil, fmt.Errorf("failed to merge secrets file %s: %w", secretsFile, err)
		}
	}

	l.bindEnvVars(v)

	for key, flag := range l.flags {
		if flag.Changed {
			v.Set(key, flag.Value.String())
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// bindEnvVars explicitly binds environment variables for nested keys.
func (l *ViperLoader) bindEnvVars(v *viper.Viper) {
	v.BindEnv("service.name", l.prefixedEnv("SERVICE_NAME"))
	v.BindEnv("service.environment", l.prefixedEnv("SERVICE_ENVIRONMENT"), l.prefixedEnv("ENVIRONMENT"))

	v.BindEnv("database.type", l.prefixedEnv("DB_TYPE"), l.prefixedEnv("DATABASE_TYPE"))
	v.BindEnv("database.url", l.prefixedEnv("DB_URL"), l.prefixedEnv("DATABASE_URL"))
	v.BindEnv("database.database_name", l.prefixedEnv("DB_DATABASE_NAME"), l.prefixedEnv("DB_NAME"))
	v.BindEnv("database.connect_timeout", l.prefixedEnv("DB_CONNECT_TIMEOUT"))
	v.BindEnv("database.operation_timeout", l.prefixedEnv("DB_OPERATION_TIMEOUT"))
	v.BindEnv("database.max_pool_size", l.prefixedEnv("DB_MAX_POOL_SIZE"))
	v.BindEnv("database.write_concern.w", l.prefixedEnv("DB_WRITE_CONCERN_W"))
	v.BindEnv("database.write_concern.journal", l.prefixedEnv("DB_WRITE_CONCERN_JOURNAL"))
	v.BindEnv("database.write_concern.wtimeout", l.prefixedEnv("DB_WRITE_CONCERN_WTIMEOUT"))

	v.BindEnv("observability.log_level", l.prefixedEnv("LOG_LEVEL"))
	v.BindEnv("observability.log_format", l.prefixedEnv("LOG_FORMAT"))
	v.BindEnv("observability.async_logging.enabled", l.prefixedEnv("LOG_ASYNC_ENABLED"))
	v.BindEnv("observability.async_logging.queue_size", l.prefixedEnv("LOG_ASYNC_QUEUE_SIZE"))
	v.BindEnv("observability.async_logging.worker_count", l.prefixedEnv("LOG_ASYNC_WORKER_COUNT"))
	v.BindEnv("observability.async_logging.drop_when_full", l.prefixedEnv("LOG_ASYNC_DROP_WHEN_FULL"))
	v.BindEnv("observability.tracing_enabled", l.prefixedEnv("TRACING_ENABLED"))
	v.BindEnv("observability.tracing_endpoint", l.prefixedEnv("TRACING_ENDPOINT"))
	v.BindEnv("observability.tracing_insecure", l.prefixedEnv("TRACING_INSECURE"))
	v.BindEnv("observability.tracing_sample_rate", l.prefixedEnv("TRACING_SAMPLE_RATE"))
	v.BindEnv("observability.metrics_enabled", l.prefixedEnv("METRICS_ENABLED"))
}

func (l *ViperLoader) prefixedEnv(suffix string) string {
	prefix := strings.TrimSpace(l.envPrefix)
	if prefix == "" {
		prefix = "APP"
	}
	return fmt.Sprintf("%s_%s", strings.ToUpper(prefix), suffix)
}

// setDefaults registers every key so that env bindings and Unmarshal see it.
func (l *ViperLoader) setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("service.name", cfg.Service.Name)
	v.SetDefault("service.environment", cfg.Service.Environment)

	v.SetDefault("database.type", cfg.Database.Type)
	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("database.database_name", cfg.Database.DatabaseName)
	v.SetDefault("database.connect_timeout", cfg.Database.ConnectTimeout)
	v.SetDefault("database.operation_timeout", cfg.Database.OperationTimeout)
	v.SetDefault("database.max_pool_size", cfg.Database.MaxPoolSize)
	v.SetDefault("database.write_concern.w", cfg.Database.WriteConcern.W)
	v.SetDefault("database.write_concern.journal", cfg.Database.WriteConcern.Journal)
	v.SetDefault("database.write_concern.wtimeout", cfg.Database.WriteConcern.WTimeout)

	v.SetDefault("observability.log_level", cfg.Observability.LogLevel)
	v.SetDefault("observability.log_format", cfg.Observability.LogFormat)
	v.SetDefault("observability.async_logging.enabled", cfg.Observability.AsyncLogging.Enabled)
	v.SetDefault("observability.async_logging.queue_size", cfg.Observability.AsyncLogging.QueueSize)
	v.SetDefault("observability.async_logging.worker_count", cfg.Observability.AsyncLogging.WorkerCount)
	v.SetDefault("observability.async_logging.drop_when_full", cfg.Observability.AsyncLogging.DropWhenFull)
	v.SetDefault("observability.tracing_enabled", cfg.Observability.TracingEnabled)
	v.SetDefault("observability.tracing_endpoint", cfg.Observability.TracingEndpoint)
	v.SetDefault("observability.tracing_insecure", cfg.Observability.TracingInsecure)
	v.SetDefault("observability.tracing_sample_rate", cfg.Observability.TracingSampleRate)
	v.SetDefault("observability.metrics_enabled", cfg.Observability.MetricsEnabled)
}

// discoverSecretsFile returns the secrets file to merge, if any:
// <PREFIX>_SECRETS_FILE when set, otherwise secrets.<ext> next to the config file.
func (l *ViperLoader) discoverSecretsFile() (string, error) {
	env := l.prefixedEnv("SECRETS_FILE")
	if raw, ok := os.LookupEnv(env); ok {
		path := strings.TrimSpace(raw)
		if path == "" {
			return "", fmt.Errorf("%s is set but empty", env)
		}
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("%s points to an inaccessible file %s: %w", env, path, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s must point to a file, got directory %s", env, path)
		}
		return path, nil
	}

	if l.configFile != "" {
		path := filepath.Join(filepath.Dir(l.configFile), "secrets"+filepath.Ext(l.configFile))
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", nil
}

// Validate checks cfg and reports every problem at once.
func (l *ViperLoader) Validate(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(cfg.Service.Name) == "" {
		errs = append(errs, errors.New("service.name is required"))
	}

	cfg.Database.Type = strings.ToLower(strings.TrimSpace(cfg.Database.Type))
	switch cfg.Database.Type {
	case DatabaseTypeMongoDB:
		if cfg.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required when database.type is mongodb"))
		}
		if cfg.Database.DatabaseName == "" {
			errs = append(errs, errors.New("database.database_name is required when database.type is mongodb"))
		}
	case DatabaseTypeMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid database.type: %s (must be one of: %v)",
			cfg.Database.Type, []string{DatabaseTypeMongoDB, DatabaseTypeMemory}))
	}
	if cfg.Database.ConnectTimeout < 0 {
		errs = append(errs, errors.New("database.connect_timeout must not be negative"))
	}
	if cfg.Database.OperationTimeout < 0 {
		errs = append(errs, errors.New("database.operation_timeout must not be negative"))
	}
	if cfg.Database.WriteConcern.WTimeout < 0 {
		errs = append(errs, errors.New("database.write_concern.wtimeout must not be negative"))
	}
	if cfg.Database.WriteConcern.WTimeout > 0 && cfg.Database.OperationTimeout > 0 {
		errs = append(errs, errors.New("database.write_concern.wtimeout cannot be combined with database.operation_timeout"))
	}
	if w := strings.TrimSpace(cfg.Database.WriteConcern.W); w != "" {
		if n, err := strconv.Atoi(w); err == nil && n < 0 {
			errs = append(errs, fmt.Errorf("database.write_concern.w must not be negative, got %d", n))
		} else if err == nil && n == 0 {
			// repositories always request journal acknowledgment
			errs = append(errs, errors.New("database.write_concern.w must not be 0"))
		}
	}

	if _, ok := validLogLevels[strings.ToLower(cfg.Observability.LogLevel)]; !ok {
		errs = append(errs, fmt.Errorf("invalid observability.log_level: %s", cfg.Observability.LogLevel))
	}
	if _, ok := validLogFormats[strings.ToLower(cfg.Observability.LogFormat)]; !ok {
		errs = append(errs, fmt.Errorf("invalid observability.log_format: %s", cfg.Observability.LogFormat))
	}
	if cfg.Observability.AsyncLogging.Enabled {
		if cfg.Observability.AsyncLogging.QueueSize <= 0 {
			errs = append(errs, errors.New("observability.async_logging.queue_size must be greater than 0 when async logging is enabled"))
		}
		if cfg.Observability.AsyncLogging.WorkerCount <= 0 {
			errs = append(errs, errors.New("observability.async_logging.worker_count must be greater than 0 when async logging is enabled"))
		}
	}
	if cfg.Observability.TracingEnabled && cfg.Observability.TracingEndpoint == "" {
		errs = append(errs, errors.New("observability.tracing_endpoint is required when tracing is enabled"))
	}
	if r := cfg.Observability.TracingSampleRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observability.tracing_sample_rate must be between 0 and 1, got %v", r))
	}

	return errors.Join(errs...)
}

var validLogLevels = map[string]struct{}{"debug": {}, "info": {}, "warn": {}, "warning": {}, "error": {}}

var validLogFormats = map[string]struct{}{"json": {}, "text": {}, "console": {}}
