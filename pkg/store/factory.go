package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/nimburion/docrepo/pkg/config"
	"github.com/nimburion/docrepo/pkg/observability/logger"
	"github.com/nimburion/docrepo/pkg/repository/document"
	"github.com/nimburion/docrepo/pkg/repository/document/memstore"
	"github.com/nimburion/docrepo/pkg/store/mongodb"
)

// NewDocumentStore opens the backend named by cfg.Type.
// Example: st, err := store.NewDocumentStore(cfg.Database, log)
func NewDocumentStore(cfg config.DatabaseConfig, log logger.Logger) (DocumentStore, error) {
	if log == nil {
		log = logger.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case config.DatabaseTypeMongoDB:
		adapter, err := mongodb.NewAdapter(mongodb.Config{
			URL:              cfg.URL,
			Database:         cfg.DatabaseName,
			ConnectTimeout:   cfg.ConnectTimeout,
			OperationTimeout: cfg.OperationTimeout,
			MaxPoolSize:      cfg.MaxPoolSize,
			WriteConcern:     WriteConcern(cfg.WriteConcern),
		}, log)
		if err != nil {
			return nil, err
		}
		db, err := document.NewMongoDBDatabase(adapter)
		if err != nil {
			_ = adapter.Close()
			return nil, err
		}
		return &mongoStore{adapter: adapter, db: db}, nil
	case config.DatabaseTypeMemory:
		name := cfg.DatabaseName
		if name == "" {
			name = "memory"
		}
		log.Info("in-memory document store ready", "database", name)
		return &memoryStore{db: memstore.New(name)}, nil
	default:
		return nil, fmt.Errorf("unsupported database.type %q (supported: mongodb, memory)", cfg.Type)
	}
}

// WriteConcern converts the configured write concern. W is read as a node
// count when numeric, as "majority", or otherwise as a tag set name. An
// entirely empty configuration yields nil, leaving the server default.
func WriteConcern(cfg config.WriteConcernConfig) *writeconcern.WriteConcern {
	w := strings.TrimSpace(cfg.W)
	if w == "" && !cfg.Journal && cfg.WTimeout == 0 {
		return nil
	}

	wc := &writeconcern.WriteConcern{WTimeout: cfg.WTimeout}
	switch {
	case w == "":
	case strings.EqualFold(w, "majority"):
		wc.W = "majority"
	default:
		if n, err := strconv.Atoi(w); err == nil {
			wc.W = n
		} else {
			wc.W = w
		}
	}
	if cfg.Journal {
		journal := true
		wc.Journal = &journal
	}
	return wc
}

type mongoStore struct {
	adapter *mongodb.Adapter
	db      *document.MongoDatabase
}

func (s *mongoStore) Database() document.Database           { return s.db }
func (s *mongoStore) System() string                        { return "mongodb" }
func (s *mongoStore) HealthCheck(ctx context.Context) error { return s.adapter.HealthCheck(ctx) }
func (s *mongoStore) Close() error                          { return s.adapter.Close() }

type memoryStore struct {
	db *memstore.Database
}

func (s *memoryStore) Database() document.Database           { return s.db }
func (s *memoryStore) System() string                        { return "memory" }
func (s *memoryStore) HealthCheck(ctx context.Context) error { return s.db.HealthCheck(ctx) }
func (s *memoryStore) Close() error                          { return s.db.Close() }
