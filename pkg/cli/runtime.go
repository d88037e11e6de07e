package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimburion/docrepo/pkg/config"
	"github.com/nimburion/docrepo/pkg/observability/logger"
	"github.com/nimburion/docrepo/pkg/observability/metrics"
	"github.com/nimburion/docrepo/pkg/observability/tracing"
	"github.com/nimburion/docrepo/pkg/repository/document"
	"github.com/nimburion/docrepo/pkg/store"
	"github.com/nimburion/docrepo/pkg/version"
)

const shutdownTimeout = 5 * time.Second

type opener func(cmd *cobra.Command) (*session, error)

// session holds everything a data command needs for one invocation.
type session struct {
	cfg      *config.Config
	log      logger.Logger
	store    store.DocumentStore
	metrics  *metrics.RepositoryMetrics
	tracer   *tracing.TracerProvider
	exporter *http.Server
}

func openSession(ctx context.Context, cfg *config.Config, log logger.Logger, open StoreOpener, metricsAddr string) (*session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s := &session{cfg: cfg, log: log}

	tp, err := tracing.NewTracerProvider(ctx, tracing.TracerConfig{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: version.Current(cfg.Service.Name).Version,
		Environment:    cfg.Service.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		Insecure:       cfg.Observability.TracingInsecure,
		SampleRate:     cfg.Observability.TracingSampleRate,
		Enabled:        cfg.Observability.TracingEnabled,
	})
	if err != nil {
		s.close(ctx)
		return nil, fmt.Errorf("create tracer provider: %w", err)
	}
	s.tracer = tp

	if cfg.Observability.MetricsEnabled || metricsAddr != "" {
		registry := metrics.NewRegistry()
		m, err := metrics.NewRepositoryMetrics(registry)
		if err != nil {
			s.close(ctx)
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		s.metrics = m
		if metricsAddr != "" {
			if err := s.serveMetrics(metricsAddr, registry); err != nil {
				s.close(ctx)
				return nil, err
			}
		}
	}

	st, err := open(cfg.Database, log)
	if err != nil {
		s.close(ctx)
		return nil, fmt.Errorf("open %s store: %w", cfg.Database.Type, err)
	}
	s.store = st
	return s, nil
}

func (s *session) serveMetrics(addr string, registry *metrics.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	s.exporter = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := s.exporter.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	s.log.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

// repositoryOptions returns the options every command-built repository shares.
func (s *session) repositoryOptions() []document.Option {
	opts := []document.Option{
		document.WithLogger(s.log),
		document.WithDBSystem(s.store.System()),
	}
	if s.metrics != nil {
		opts = append(opts, document.WithMetrics(s.metrics))
	}
	if wc := store.WriteConcern(s.cfg.Database.WriteConcern); wc != nil {
		opts = append(opts, document.WithWriteConcern(wc))
	}
	return opts
}

// close releases resources in reverse order of acquisition. Errors are
// logged; the command result is already decided at this point.
func (s *session) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Warn("failed to close store", "error", err)
		}
	}
	if s.exporter != nil {
		if err := s.exporter.Shutdown(ctx); err != nil {
			s.log.Warn("failed to stop metrics server", "error", err)
		}
	}
	if s.tracer != nil {
		if err := s.tracer.Shutdown(ctx); err != nil {
			s.log.Warn("failed to shutdown tracer provider", "error", err)
		}
	}
	if closer, ok := s.log.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}
