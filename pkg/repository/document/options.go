package document

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/nimburion/docrepo/pkg/observability/logger"
	"github.com/nimburion/docrepo/pkg/observability/metrics"
)

// Option configures a Repository.
type Option func(*settings)

type settings struct {
	logger       logger.Logger
	metrics      *metrics.RepositoryMetrics
	writeConcern *writeconcern.WriteConcern
	newID        func() primitive.ObjectID
	dbSystem     string
}

// WithLogger sets the logger used for operation diagnostics.
func WithLogger(log logger.Logger) Option {
	return func(s *settings) {
		if log != nil {
			s.logger = log
		}
	}
}

// WithMetrics records operation counts and latencies into m.
func WithMetrics(m *metrics.RepositoryMetrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// WithWriteConcern sets the write concern for Upsert and InsertMany.
// The journal flag is always forced on; every other field is kept.
// It takes precedence over a WriteConcerner record type.
func WithWriteConcern(wc *writeconcern.WriteConcern) Option {
	return func(s *settings) {
		s.writeConcern = wc
	}
}

// WithIDGenerator replaces primitive.NewObjectID for identifiers assigned by Upsert.
func WithIDGenerator(fn func() primitive.ObjectID) Option {
	return func(s *settings) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithDBSystem sets the db.system attribute reported on spans. Defaults to "mongodb".
func WithDBSystem(system string) Option {
	return func(s *settings) {
		if system != "" {
			s.dbSystem = system
		}
	}
}
