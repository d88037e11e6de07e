// Package cli builds the cobra command tree of a docrepo application.
package cli

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/nimburion/docrepo/pkg/config"
	"github.com/nimburion/docrepo/pkg/health"
	"github.com/nimburion/docrepo/pkg/observability/logger"
	"github.com/nimburion/docrepo/pkg/store"
	"github.com/nimburion/docrepo/pkg/version"
)

// StoreOpener opens the document store described by cfg.
type StoreOpener func(cfg config.DatabaseConfig, log logger.Logger) (store.DocumentStore, error)

// Options defines the application wired into the command tree.
type Options struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Collections adds one command group per record type, see ForRecord.
	Collections []Collection

	// Optional: replaces store.NewDocumentStore.
	OpenStore StoreOpener

	// Optional: additional custom commands
	CustomCommands []*cobra.Command
}

// globalFlags holds the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath          string
	secretFilePath      string
	serviceNameOverride string
	metricsAddr         string
	flags               *pflag.FlagSet
}

// NewCommand creates the CLI with version, config, healthcheck and one
// command group per registered collection.
func NewCommand(opts Options) *cobra.Command {
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "APP"
	}
	if opts.OpenStore == nil {
		opts.OpenStore = store.NewDocumentStore
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	g := &globalFlags{flags: rootCmd.PersistentFlags()}
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config-file", "c", opts.ConfigPath, "config file path")
	pf.StringVar(&g.secretFilePath, "secret-file", "", "path to secrets file (sets <PREFIX>_SECRETS_FILE)")
	pf.StringVar(&g.serviceNameOverride, "service-name", "", "service name override")
	pf.StringVar(&g.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	pf.String("log-level", "", "log level override (debug, info, warn, error)")
	pf.String("log-format", "", "log format override (json, text)")
	pf.String("db-type", "", "document store override (mongodb, memory)")
	pf.String("db-url", "", "MongoDB connection string override")
	pf.String("db-name", "", "database name override")

	load := func(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
		return loadConfigAndLogger(g, opts.EnvPrefix, opts.Name, cmd.ErrOrStderr())
	}
	open := func(cmd *cobra.Command) (*session, error) {
		cfg, log, err := load(cmd)
		if err != nil {
			return nil, err
		}
		return openSession(cmd.Context(), cfg, log, opts.OpenStore, g.metricsAddr)
	}

	rootCmd.AddCommand(newVersionCommand(opts.Name))
	rootCmd.AddCommand(newConfigCommand(load))
	rootCmd.AddCommand(newHealthcheckCommand(open, opts.Collections))
	for _, c := range opts.Collections {
		rootCmd.AddCommand(c.command(open))
	}
	for _, customCmd := range opts.CustomCommands {
		rootCmd.AddCommand(customCmd)
	}

	return rootCmd
}

// Execute runs the command and exits with appropriate code.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCommand(service string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(service)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
			fmt.Fprintf(out, "Driver:     %s\n", info.DriverVersion)
		},
	}
}

func newConfigCommand(load func(*cobra.Command) (*config.Config, logger.Logger, error)) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := load(cmd); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	})

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load(cmd)
			if err != nil {
				return err
			}
			if !showSecrets {
				cfg.Database.URL = redactURL(cfg.Database.URL)
			}
			formatted, err := formatSettings(cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatted)
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	configCmd.AddCommand(showCmd)

	return configCmd
}

func newHealthcheckCommand(open opener, collections []Collection) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to the document store and its collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			registry := health.NewRegistry()
			registry.Register(health.NewAdapterChecker("store:"+s.store.System(), s.store, timeout))
			for _, c := range collections {
				registry.Register(health.NewCollectionChecker(s.store.Database(), c.name, timeout))
			}

			result := registry.Check(cmd.Context())
			formatted, err := formatSettings(result)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), formatted)
			if !result.IsHealthy() {
				return errors.New("health check failed")
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "timeout for each check")
	return cmd
}

// loadConfigAndLogger loads configuration with the command-line overrides in g
// and builds the logger it describes, writing to out.
func loadConfigAndLogger(g *globalFlags, envPrefix, defaultServiceName string, out io.Writer) (*config.Config, logger.Logger, error) {
	if err := applySecretFileFlag(envPrefix, g.secretFilePath); err != nil {
		return nil, nil, err
	}

	loader := config.NewViperLoader(g.configPath, envPrefix)
	for key, name := range map[string]string{
		"observability.log_level":  "log-level",
		"observability.log_format": "log-format",
		"database.type":            "db-type",
		"database.url":             "db-url",
		"database.database_name":   "db-name",
	} {
		loader.BindFlag(key, g.flags.Lookup(name))
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Name = resolveServiceNameValue(cfg.Service.Name, defaultServiceName, g.serviceNameOverride)

	base, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(cfg.Observability.LogLevel),
		Format: logger.LogFormat(cfg.Observability.LogFormat),
		Output: out,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	log := logger.WrapAsync(base.With("service", cfg.Service.Name), logger.AsyncConfig{
		Enabled:      cfg.Observability.AsyncLogging.Enabled,
		QueueSize:    cfg.Observability.AsyncLogging.QueueSize,
		WorkerCount:  cfg.Observability.AsyncLogging.WorkerCount,
		DropWhenFull: cfg.Observability.AsyncLogging.DropWhenFull,
	})

	logConfigIfDebug(log, cfg)
	return cfg, log, nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func formatSettings(v interface{}) (string, error) {
	if v == nil {
		return "{}\n", nil
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal output: %w", err)
	}
	return string(data), nil
}

// redactURL masks the password of a connection string. Unparseable values
// are masked entirely.
func redactURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func logConfigIfDebug(log logger.Logger, cfg *config.Config) {
	if log == nil || cfg == nil {
		return
	}
	if !strings.EqualFold(cfg.Observability.LogLevel, string(logger.DebugLevel)) {
		return
	}
	redacted := *cfg
	redacted.Database.URL = redactURL(cfg.Database.URL)
	log.Debug("effective configuration", "config", fmt.Sprintf("%+v", redacted))
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return "APP"
	}
	return strings.ToUpper(trimmed)
}

func resolveServiceNameValue(currentConfigName, defaultServiceName, serviceNameOverride string) string {
	if override := strings.TrimSpace(serviceNameOverride); override != "" {
		return override
	}
	if configured := strings.TrimSpace(currentConfigName); configured != "" && configured != config.DefaultConfig().Service.Name {
		return configured
	}
	if fallback := strings.TrimSpace(defaultServiceName); fallback != "" {
		return fallback
	}
	if configured := strings.TrimSpace(currentConfigName); configured != "" {
		return configured
	}
	return "app"
}
