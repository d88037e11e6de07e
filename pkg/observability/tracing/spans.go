// Package tracing wires OpenTelemetry spans around document store operations.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer name used for document spans.
const InstrumentationName = "github.com/nimburion/docrepo/document"

// SpanOperation classifies a traced store operation.
type SpanOperation string

const (
	SpanOperationDBQuery  SpanOperation = "db.query"
	SpanOperationDBInsert SpanOperation = "db.insert"
	SpanOperationDBUpsert SpanOperation = "db.upsert"
	SpanOperationDBDelete SpanOperation = "db.delete"
)

// OperationKindKey carries the SpanOperation of a document span.
const OperationKindKey = attribute.Key("db.operation.kind")

// StartDocumentSpan starts a client span for one document store call.
// The span is named "DB <kind>" or "DB <kind> <collection>" when a collection
// is given, and is created from the global tracer provider.
func StartDocumentSpan(ctx context.Context, kind SpanOperation, opts ...DocumentSpanOption) (context.Context, trace.Span) {
	o := &documentSpanOptions{
		attributes: []attribute.KeyValue{OperationKindKey.String(string(kind))},
	}
	for _, opt := range opts {
		opt(o)
	}

	name := fmt.Sprintf("DB %s", kind)
	if o.collection != "" {
		name = fmt.Sprintf("DB %s %s", kind, o.collection)
	}

	return otel.Tracer(InstrumentationName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(o.attributes...),
	)
}

// DocumentSpanOption configures a document span.
type DocumentSpanOption func(*documentSpanOptions)

type documentSpanOptions struct {
	collection string
	attributes []attribute.KeyValue
}

// WithDBSystem sets db.system, e.g. "mongodb".
func WithDBSystem(system string) DocumentSpanOption {
	return func(o *documentSpanOptions) {
		o.attributes = append(o.attributes, semconv.DBSystemKey.String(system))
	}
}

// WithDBName sets db.name.
func WithDBName(name string) DocumentSpanOption {
	return func(o *documentSpanOptions) {
		o.attributes = append(o.attributes, semconv.DBNameKey.String(name))
	}
}

// WithDBCollection sets db.mongodb.collection and names the span after it.
func WithDBCollection(collection string) DocumentSpanOption {
	return func(o *documentSpanOptions) {
		o.collection = collection
		o.attributes = append(o.attributes, semconv.DBMongoDBCollectionKey.String(collection))
	}
}

// WithDBOperation sets db.operation to the store command, e.g. "findOneAndReplace".
func WithDBOperation(operation string) DocumentSpanOption {
	return func(o *documentSpanOptions) {
		o.attributes = append(o.attributes, semconv.DBOperationKey.String(operation))
	}
}

// RecordError records err on span and marks the span as failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordSuccess marks span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
