package document

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// Database hands out collections by name.
type Database interface {
	Name() string
	Collection(name string) Collection
}

// Collection is the driver contract a Repository executes against.
// Filters and options are passed through untouched. Single-document reads
// report "no match" with mongo.ErrNoDocuments.
type Collection interface {
	Name() string
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (bson.Raw, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (RawCursor, error)
	FindOneAndReplace(
		ctx context.Context,
		filter interface{},
		replacement bson.Raw,
		wc *writeconcern.WriteConcern,
		opts ...*options.FindOneAndReplaceOptions,
	) (bson.Raw, error)
	FindOneAndDelete(ctx context.Context, filter interface{}, opts ...*options.FindOneAndDeleteOptions) (bson.Raw, error)
	InsertMany(
		ctx context.Context,
		documents []interface{},
		wc *writeconcern.WriteConcern,
		opts ...*options.InsertManyOptions,
	) (InsertSummary, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (DeleteSummary, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// RawCursor iterates raw documents of one result set.
type RawCursor interface {
	Next(ctx context.Context) bool
	Current() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

// InsertSummary reports the outcome of a batch insert.
type InsertSummary struct {
	InsertedIDs []interface{}
}

// Count returns the number of inserted documents.
func (s InsertSummary) Count() int {
	return len(s.InsertedIDs)
}

// DeleteSummary reports the outcome of a bulk delete.
type DeleteSummary struct {
	DeletedCount int64
}
