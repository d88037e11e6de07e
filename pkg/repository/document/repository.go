package document

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/nimburion/docrepo/pkg/observability/logger"
	"github.com/nimburion/docrepo/pkg/observability/tracing"
)

// Reader provides read operations for typed records.
type Reader[T any] interface {
	FindOne(ctx context.Context, filter Filter, opts ...*options.FindOneOptions) (*T, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*T, error)
	Find(ctx context.Context, filter Filter, opts ...*options.FindOptions) (*Cursor[T], error)
	Count(ctx context.Context, filter Filter) (int64, error)
}

// Writer provides write operations for typed records.
type Writer[T any] interface {
	Upsert(ctx context.Context, filter Filter, record *T) (*T, error)
	InsertMany(ctx context.Context, records []*T, opts ...*options.InsertManyOptions) (InsertSummary, error)
	DeleteOne(ctx context.Context, filter Filter, opts ...*options.FindOneAndDeleteOptions) (*T, error)
	DeleteMany(ctx context.Context, filter Filter, opts ...*options.DeleteOptions) (DeleteSummary, error)
}

// Store combines Reader and Writer.
type Store[T any] interface {
	Reader[T]
	Writer[T]
}

// Repository is the typed entry point for one record type and its collection.
// It holds no mutable state and is safe for concurrent use.
type Repository[T any, PT ModelPointer[T]] struct {
	coll         Collection
	codec        Codec[T]
	writeConcern *writeconcern.WriteConcern
	newID        func() primitive.ObjectID
	inst         *instrumentation
}

// NewRepository binds a repository to the collection named by T.
// No I/O is performed.
func NewRepository[T any, PT ModelPointer[T]](db Database, opts ...Option) *Repository[T, PT] {
	return NewRepositoryWithCodec[T, PT](db, NewBSONCodec[T](nil), opts...)
}

// NewRepositoryWithCodec is NewRepository with codec replacing the default
// BSON codec. A nil codec selects the default.
func NewRepositoryWithCodec[T any, PT ModelPointer[T]](db Database, codec Codec[T], opts ...Option) *Repository[T, PT] {
	if codec == nil {
		codec = NewBSONCodec[T](nil)
	}
	s := settings{
		logger:   logger.Nop(),
		newID:    primitive.NewObjectID,
		dbSystem: "mongodb",
	}
	for _, opt := range opts {
		opt(&s)
	}

	var zero PT = new(T)
	name := zero.CollectionName()

	wc := s.writeConcern
	if wc == nil {
		if wcr, ok := any(zero).(WriteConcerner); ok {
			wc = wcr.WriteConcern()
		}
	}

	return &Repository[T, PT]{
		coll:         db.Collection(name),
		codec:        codec,
		writeConcern: durable(wc),
		newID:        s.newID,
		inst: &instrumentation{
			collection: name,
			database:   db.Name(),
			dbSystem:   s.dbSystem,
			logger:     s.logger.With("collection", name),
			metrics:    s.metrics,
		},
	}
}

// Collection returns the name of the bound collection.
func (r *Repository[T, PT]) Collection() string {
	return r.inst.collection
}

// WriteDurability returns the write concern applied to Upsert and InsertMany.
// Journal acknowledgment is always required so that an identifier assigned by
// Upsert is durable before the call returns. Any other field of a configured
// concern is respected. The returned value is a copy.
func (r *Repository[T, PT]) WriteDurability() *writeconcern.WriteConcern {
	return durable(r.writeConcern)
}

// Upsert atomically replaces the document addressed by record, inserting it when
// nothing matches, and returns the stored record.
//
// The replacement target is resolved in order:
//   - the record's own identifier, when it has one;
//   - otherwise, when filter is nil, a freshly generated identifier which is
//     also assigned to record;
//   - otherwise filter as given.
//
// A nil result with a nil error means the store returned no document. When
// encoding fails, a generated identifier is removed from record again.
func (r *Repository[T, PT]) Upsert(ctx context.Context, filter Filter, record *T) (result *T, err error) {
	ctx, op := r.inst.begin(ctx, tracing.SpanOperationDBUpsert, "findOneAndReplace")
	defer func() { op.end(err, result != nil) }()

	if record == nil {
		return nil, r.serializationError(ErrNilRecord)
	}

	target := PT(record)
	var selector interface{}
	generated := false
	if id, ok := target.GetID(); ok {
		selector = ByID(id).toBSON()
	} else if filter == nil {
		id := r.newID()
		target.SetID(id)
		generated = true
		selector = ByID(id).toBSON()
	} else {
		selector = filter.toBSON()
	}

	doc, err := r.codec.Encode(record)
	if err != nil {
		// the identifier was never stored
		if generated {
			target.SetID(primitive.NilObjectID)
		}
		return nil, r.serializationError(err)
	}

	opts := options.FindOneAndReplace().
		SetUpsert(true).
		SetReturnDocument(options.After)
	raw, err := r.coll.FindOneAndReplace(ctx, selector, doc, r.WriteDurability(), opts)
	return r.single("findOneAndReplace", raw, err)
}

// InsertMany encodes every record and writes them in one batch.
// An encoding failure aborts the call before the store is contacted.
// Identifiers assigned by the store are reported in the summary; the records
// themselves are left untouched.
func (r *Repository[T, PT]) InsertMany(ctx context.Context, records []*T, opts ...*options.InsertManyOptions) (summary InsertSummary, err error) {
	ctx, op := r.inst.begin(ctx, tracing.SpanOperationDBInsert, "insertMany")
	defer func() { op.end(err, summary.Count() > 0) }()

	if len(records) == 0 {
		return InsertSummary{}, nil
	}

	docs := make([]interface{}, 0, len(records))
	for i, record := range records {
		doc, err := r.codec.Encode(record)
		if err != nil {
			return InsertSummary{}, r.serializationError(fmt.Errorf("record %d: %w", i, err))
		}
		docs = append(docs, doc)
	}

	summary, err = r.coll.InsertMany(ctx, docs, r.WriteDurability(), opts...)
	if err != nil {
		return InsertSummary{}, r.storeError("insertMany", err)
	}
	return summary, nil
}

// FindOne returns the first record matching filter, or nil when nothing matches.
// A nil filter matches any document.
func (r *Repository[T, PT]) FindOne(ctx context.Context, filter Filter, opts ...*options.FindOneOptions) (result *T, err error) {
	ctx, op := r.inst.begin(ctx, tracing.SpanOperationDBQuery, "findOne")
	defer func() { op.end(err, result != nil) }()

	raw, err := r.coll.FindOne(ctx, filter.toBSON(), opts...)
	return r.single("findOne", raw, err)
}

// FindByID returns the record with the given identifier, or nil.
func (r *Repository[T, PT]) FindByID(ctx context.Context, id primitive.ObjectID) (*T, error) {
	return r.FindOne(ctx, ByID(id))
}

// Find opens a cursor over every record matching filter. Only the initial store
// round trip can fail here; decode failures are reported by the cursor.
// The "find" operation metric records whether the cursor opened, so its
// outcome is never "empty"; streamed records are counted per collection by
// the cursor.
func (r *Repository[T, PT]) Find(ctx context.Context, filter Filter, opts ...*options.FindOptions) (cursor *Cursor[T], err error) {
	ctx, op := r.inst.begin(ctx, tracing.SpanOperationDBQuery, "find")
	defer func() { op.end(err, true) }()

	raw, err := r.coll.Find(ctx, filter.toBSON(), opts...)
	if err != nil {
		return nil, r.storeError("find", err)
	}
	return newCursor[T](raw, r.codec, r.inst), nil
}

// Count returns the number of documents matching filter.
func (r *Repository[T, PT]) Count(ctx context.Context, filter Filter) (n int64, err error) {
	ctx, op := r.inst.begin(ctx, tracing.SpanOperationDBQuery, "countDocuments")
	defer func() { op.end(err, n > 0) }()

	n, err = r.coll.CountDocuments(ctx, filter.toBSON())
	if err != nil {
		return 0, r.storeError("countDocuments", err)
	}
	return n, nil
}

// DeleteOne atomically removes one record matching filter and returns it,
// or nil when nothing matched.
func (r *Repository[T, PT]) DeleteOne(ctx context.Context, filter Filter, opts ...*options.FindOneAndDeleteOptions) (result *T, err error) {
	ctx, op := r.inst.begin(ctx, tracing.SpanOperationDBDelete, "findOneAndDelete")
	defer func() { op.end(err, result != nil) }()

	if filter == nil {
		return nil, ErrFilterRequired
	}
	raw, err := r.coll.FindOneAndDelete(ctx, filter.toBSON(), opts...)
	return r.single("findOneAndDelete", raw, err)
}

// DeleteMany removes every record matching filter and reports how many were removed.
func (r *Repository[T, PT]) DeleteMany(ctx context.Context, filter Filter, opts ...*options.DeleteOptions) (summary DeleteSummary, err error) {
	ctx, op := r.inst.begin(ctx, tracing.SpanOperationDBDelete, "deleteMany")
	defer func() { op.end(err, summary.DeletedCount > 0) }()

	if filter == nil {
		return DeleteSummary{}, ErrFilterRequired
	}
	summary, err = r.coll.DeleteMany(ctx, filter.toBSON(), opts...)
	if err != nil {
		return DeleteSummary{}, r.storeError("deleteMany", err)
	}
	return summary, nil
}

// single maps a single-document driver reply to a typed result.
func (r *Repository[T, PT]) single(op string, raw bson.Raw, err error) (*T, error) {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, r.storeError(op, err)
	}
	if raw == nil {
		return nil, nil
	}
	record, err := r.codec.Decode(raw)
	if err != nil {
		return nil, &DecodeError{Collection: r.inst.collection, Err: err}
	}
	return record, nil
}

func (r *Repository[T, PT]) serializationError(err error) error {
	return &SerializationError{Collection: r.inst.collection, Err: err}
}

func (r *Repository[T, PT]) storeError(op string, err error) error {
	return &StoreError{Collection: r.inst.collection, Op: op, Err: err}
}
