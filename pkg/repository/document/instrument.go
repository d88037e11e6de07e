package document

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/docrepo/pkg/observability/logger"
	"github.com/nimburion/docrepo/pkg/observability/metrics"
	"github.com/nimburion/docrepo/pkg/observability/tracing"
)

// Operation outcomes reported to metrics.
const (
	outcomeOK    = "ok"
	outcomeEmpty = "empty"
	outcomeError = "error"
)

// instrumentation traces, measures and logs repository operations for one collection.
type instrumentation struct {
	collection string
	database   string
	dbSystem   string
	logger     logger.Logger
	metrics    *metrics.RepositoryMetrics
}

type opScope struct {
	inst  *instrumentation
	ctx   context.Context
	name  string
	start time.Time
	span  trace.Span
}

func (i *instrumentation) begin(ctx context.Context, kind tracing.SpanOperation, name string) (context.Context, *opScope) {
	ctx, span := tracing.StartDocumentSpan(ctx, kind,
		tracing.WithDBSystem(i.dbSystem),
		tracing.WithDBName(i.database),
		tracing.WithDBCollection(i.collection),
		tracing.WithDBOperation(name),
	)
	return ctx, &opScope{inst: i, ctx: ctx, name: name, start: time.Now(), span: span}
}

// end closes the span and records the outcome. found reports whether the
// operation produced a result; it is ignored when err is not nil.
func (s *opScope) end(err error, found bool) {
	defer s.span.End()
	elapsed := time.Since(s.start)
	log := s.inst.logger.WithContext(s.ctx)

	if err != nil {
		tracing.RecordError(s.span, err)
		s.inst.metrics.ObserveOperation(s.inst.collection, s.name, outcomeError, elapsed)
		log.Warn("document operation failed",
			"operation", s.name,
			"error_kind", errorKind(err),
			"error", err,
		)
		return
	}

	tracing.RecordSuccess(s.span)
	outcome := outcomeOK
	if !found {
		outcome = outcomeEmpty
	}
	s.inst.metrics.ObserveOperation(s.inst.collection, s.name, outcome, elapsed)
	log.Debug("document operation completed",
		"operation", s.name,
		"outcome", outcome,
		"duration", elapsed,
	)
}

func errorKind(err error) string {
	var serErr *SerializationError
	var decErr *DecodeError
	var storeErr *StoreError
	switch {
	case errors.As(err, &serErr):
		return "serialization"
	case errors.As(err, &decErr):
		return "decode"
	case errors.As(err, &storeErr):
		return "store"
	default:
		return "invalid_argument"
	}
}
