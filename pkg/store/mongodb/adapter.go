// Package mongodb manages the MongoDB client behind document repositories.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/nimburion/docrepo/pkg/observability/logger"
)

// ErrClosed is returned by Ping once the adapter is closed.
var ErrClosed = errors.New("mongodb adapter is closed")

// Adapter owns a connected client and the name of the database it serves.
type Adapter struct {
	client       *mongo.Client
	database     string
	writeConcern *writeconcern.WriteConcern
	logger       logger.Logger
	mu           sync.RWMutex
	closed       bool
}

// Config holds MongoDB adapter configuration.
type Config struct {
	URL      string
	Database string
	// ConnectTimeout bounds the initial connect and ping. Defaults to 5s.
	ConnectTimeout time.Duration
	// OperationTimeout is applied by the driver to every operation whose
	// context has no deadline. Zero leaves operations unbounded.
	OperationTimeout time.Duration
	MaxPoolSize      uint64
	// WriteConcern is the database default. Repositories still add journal
	// acknowledgment to their own writes.
	WriteConcern *writeconcern.WriteConcern
}

// NewAdapter connects to MongoDB and verifies the connection with a ping
// against the primary. It does not create collections or indexes.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, cfg.clientOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	log.Info("MongoDB connection established", "database", cfg.Database)
	return &Adapter{
		client:       client,
		database:     cfg.Database,
		writeConcern: cfg.WriteConcern,
		logger:       log,
	}, nil
}

func (c Config) validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("mongodb URL is required"))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("mongodb database is required"))
	}
	if c.WriteConcern != nil && !c.WriteConcern.IsValid() {
		errs = append(errs, errors.New("mongodb write concern is invalid"))
	}
	return errors.Join(errs...)
}

func (c Config) clientOptions() *options.ClientOptions {
	opts := options.Client().
		ApplyURI(c.URL).
		SetConnectTimeout(c.ConnectTimeout)
	if c.OperationTimeout > 0 {
		opts.SetTimeout(c.OperationTimeout)
	}
	if c.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(c.MaxPoolSize)
	}
	return opts
}

// Client returns the underlying driver client.
func (a *Adapter) Client() *mongo.Client {
	return a.client
}

// Database returns the configured database with the configured default write concern.
func (a *Adapter) Database() *mongo.Database {
	opts := options.Database()
	if a.writeConcern != nil {
		opts.SetWriteConcern(a.writeConcern)
	}
	return a.client.Database(a.database, opts)
}

// DatabaseName returns the name of the configured database.
func (a *Adapter) DatabaseName() string {
	return a.database
}

// Ping checks connectivity with the primary.
func (a *Adapter) Ping(ctx context.Context) error {
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return a.client.Ping(ctx, readpref.Primary())
}

// HealthCheck pings with a two second budget.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	hcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.Ping(hcCtx); err != nil {
		a.logger.Error("MongoDB health check failed", "error", err)
		return fmt.Errorf("mongodb health check failed: %w", err)
	}
	return nil
}

// Close disconnects the client. It is idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to close mongodb connection: %w", err)
	}
	return nil
}
