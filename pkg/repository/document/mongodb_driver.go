package document

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	mongostore "github.com/nimburion/docrepo/pkg/store/mongodb"
)

// MongoDatabase adapts a *mongo.Database to the Database contract.
type MongoDatabase struct {
	db *mongo.Database
}

// NewMongoDatabase wraps db.
func NewMongoDatabase(db *mongo.Database) *MongoDatabase {
	return &MongoDatabase{db: db}
}

// NewMongoDBDatabase wraps the database configured on a store adapter.
func NewMongoDBDatabase(adapter *mongostore.Adapter) (*MongoDatabase, error) {
	if adapter == nil {
		return nil, fmt.Errorf("mongodb adapter is required")
	}
	return NewMongoDatabase(adapter.Database()), nil
}

// Name returns the database name.
func (d *MongoDatabase) Name() string {
	return d.db.Name()
}

// Collection returns the named collection.
func (d *MongoDatabase) Collection(name string) Collection {
	return &MongoCollection{coll: d.db.Collection(name)}
}

// MongoCollection adapts a *mongo.Collection to the Collection contract.
type MongoCollection struct {
	coll *mongo.Collection
}

// Name returns the collection name.
func (c *MongoCollection) Name() string {
	return c.coll.Name()
}

// FindOne returns the first matching document.
func (c *MongoCollection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (bson.Raw, error) {
	return c.coll.FindOne(ctx, filter, opts...).Raw()
}

// Find opens a driver cursor.
func (c *MongoCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (RawCursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return &mongoCursor{cur: cur}, nil
}

// FindOneAndReplace replaces a document under the given write concern.
func (c *MongoCollection) FindOneAndReplace(
	ctx context.Context,
	filter interface{},
	replacement bson.Raw,
	wc *writeconcern.WriteConcern,
	opts ...*options.FindOneAndReplaceOptions,
) (bson.Raw, error) {
	coll, err := c.withWriteConcern(wc)
	if err != nil {
		return nil, err
	}
	return coll.FindOneAndReplace(ctx, filter, replacement, opts...).Raw()
}

// FindOneAndDelete removes and returns one document.
func (c *MongoCollection) FindOneAndDelete(ctx context.Context, filter interface{}, opts ...*options.FindOneAndDeleteOptions) (bson.Raw, error) {
	return c.coll.FindOneAndDelete(ctx, filter, opts...).Raw()
}

// InsertMany writes documents under the given write concern.
func (c *MongoCollection) InsertMany(
	ctx context.Context,
	documents []interface{},
	wc *writeconcern.WriteConcern,
	opts ...*options.InsertManyOptions,
) (InsertSummary, error) {
	coll, err := c.withWriteConcern(wc)
	if err != nil {
		return InsertSummary{}, err
	}
	res, err := coll.InsertMany(ctx, documents, opts...)
	if err != nil {
		return InsertSummary{}, err
	}
	return InsertSummary{InsertedIDs: res.InsertedIDs}, nil
}

// DeleteMany removes every matching document.
func (c *MongoCollection) DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (DeleteSummary, error) {
	res, err := c.coll.DeleteMany(ctx, filter, opts...)
	if err != nil {
		return DeleteSummary{}, err
	}
	return DeleteSummary{DeletedCount: res.DeletedCount}, nil
}

// CountDocuments counts matching documents.
func (c *MongoCollection) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return c.coll.CountDocuments(ctx, filter, opts...)
}

func (c *MongoCollection) withWriteConcern(wc *writeconcern.WriteConcern) (*mongo.Collection, error) {
	if wc == nil {
		return c.coll, nil
	}
	return c.coll.Clone(options.Collection().SetWriteConcern(wc))
}

// mongoCursor exposes the driver cursor through RawCursor.
type mongoCursor struct {
	cur *mongo.Cursor
}

func (c *mongoCursor) Next(ctx context.Context) bool   { return c.cur.Next(ctx) }
func (c *mongoCursor) Current() bson.Raw               { return c.cur.Current }
func (c *mongoCursor) Err() error                      { return c.cur.Err() }
func (c *mongoCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }
