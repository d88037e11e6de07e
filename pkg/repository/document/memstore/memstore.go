// Package memstore is an in-memory document store implementing the
// document.Database contract. It keeps documents in insertion order and is
// intended for development and tests; nothing is persisted.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/nimburion/docrepo/pkg/repository/document"
)

// ErrClosed is returned by every operation once the database is closed.
var ErrClosed = errors.New("memstore: database is closed")

// Database is a named set of in-memory collections.
type Database struct {
	name        string
	mu          sync.RWMutex
	collections map[string]*Collection
	closed      bool
}

// New creates an empty database.
func New(name string) *Database {
	return &Database{
		name:        name,
		collections: make(map[string]*Collection),
	}
}

// Name returns the database name.
func (d *Database) Name() string {
	return d.name
}

// Collection returns the named collection, creating it on first use.
func (d *Database) Collection(name string) document.Collection {
	return d.Coll(name)
}

// Coll is Collection with the concrete return type, for seeding and inspection.
func (d *Database) Coll(name string) *Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.collections[name]
	if !ok {
		c = &Collection{name: name, db: d}
		d.collections[name] = c
	}
	return c
}

// HealthCheck fails once the database is closed.
func (d *Database) HealthCheck(context.Context) error {
	if d.isClosed() {
		return ErrClosed
	}
	return nil
}

// Close discards every collection. It is idempotent.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.collections = make(map[string]*Collection)
	return nil
}

func (d *Database) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// Collection holds documents in insertion order.
type Collection struct {
	name          string
	db            *Database
	mu            sync.Mutex
	docs          []bson.Raw
	writeConcerns []*writeconcern.WriteConcern
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Seed appends documents verbatim, bypassing every check except _id assignment.
// Tests use it to plant documents the codec cannot decode.
func (c *Collection) Seed(docs ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, doc := range docs {
		raw, err := toRaw(doc)
		if err != nil {
			return err
		}
		raw, _, err = ensureID(raw, nil)
		if err != nil {
			return err
		}
		c.docs = append(c.docs, raw)
	}
	return nil
}

// Len returns the number of stored documents.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

// WriteConcerns returns the write concerns received by acknowledged writes, oldest first.
func (c *Collection) WriteConcerns() []*writeconcern.WriteConcern {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*writeconcern.WriteConcern, len(c.writeConcerns))
	copy(out, c.writeConcerns)
	return out
}

// FindOne returns the first matching document in sort order.
func (c *Collection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (bson.Raw, error) {
	var sortSpec interface{}
	var skip int64
	for _, o := range opts {
		if o == nil {
			continue
		}
		if o.Sort != nil {
			sortSpec = o.Sort
		}
		if o.Skip != nil {
			skip = *o.Skip
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	idx, err := c.selectIndexes(filter, sortSpec)
	if err != nil {
		return nil, err
	}
	if int64(len(idx)) <= skip {
		return nil, mongo.ErrNoDocuments
	}
	return clone(c.docs[idx[skip]]), nil
}

// Find returns a cursor over a snapshot of the matching documents.
func (c *Collection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (document.RawCursor, error) {
	var sortSpec interface{}
	var skip, limit int64
	for _, o := range opts {
		if o == nil {
			continue
		}
		if o.Sort != nil {
			sortSpec = o.Sort
		}
		if o.Skip != nil {
			skip = *o.Skip
		}
		if o.Limit != nil {
			limit = *o.Limit
		}
	}
	if limit < 0 {
		limit = -limit
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	idx, err := c.selectIndexes(filter, sortSpec)
	if err != nil {
		return nil, err
	}
	if skip > int64(len(idx)) {
		skip = int64(len(idx))
	}
	idx = idx[skip:]
	if limit > 0 && limit < int64(len(idx)) {
		idx = idx[:limit]
	}

	docs := make([]bson.Raw, 0, len(idx))
	for _, i := range idx {
		docs = append(docs, clone(c.docs[i]))
	}
	return &Cursor{docs: docs, pos: -1}, nil
}

// FindOneAndReplace replaces the first matching document. With upsert set and
// no match, the replacement is inserted, taking its _id from the filter when
// the filter pins one.
func (c *Collection) FindOneAndReplace(
	ctx context.Context,
	filter interface{},
	replacement bson.Raw,
	wc *writeconcern.WriteConcern,
	opts ...*options.FindOneAndReplaceOptions,
) (bson.Raw, error) {
	var upsert bool
	returnDoc := options.Before
	var sortSpec interface{}
	for _, o := range opts {
		if o == nil {
			continue
		}
		if o.Upsert != nil {
			upsert = *o.Upsert
		}
		if o.ReturnDocument != nil {
			returnDoc = *o.ReturnDocument
		}
		if o.Sort != nil {
			sortSpec = o.Sort
		}
	}

	if err := replacement.Validate(); err != nil {
		return nil, fmt.Errorf("memstore: invalid replacement: %w", err)
	}
	elems, err := replacement.Elements()
	if err != nil {
		return nil, fmt.Errorf("memstore: invalid replacement: %w", err)
	}
	for _, elem := range elems {
		if strings.HasPrefix(elem.Key(), "$") {
			return nil, fmt.Errorf("memstore: replacement document must not contain update operator %s", elem.Key())
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	idx, err := c.selectIndexes(filter, sortSpec)
	if err != nil {
		return nil, err
	}

	if len(idx) > 0 {
		pos := idx[0]
		before := c.docs[pos]
		existingID := before.Lookup(document.IDField)
		if newID, err := replacement.LookupErr(document.IDField); err == nil && !equalValues(newID, existingID) {
			return nil, errors.New("memstore: the (immutable) field '_id' was found to have been altered")
		}
		after, _, err := ensureID(replacement, &existingID)
		if err != nil {
			return nil, err
		}
		c.docs[pos] = after
		c.recordWriteConcern(wc)
		if returnDoc == options.After {
			return clone(after), nil
		}
		return clone(before), nil
	}

	if !upsert {
		return nil, mongo.ErrNoDocuments
	}

	var pinned *bson.RawValue
	if m, err := compileFilter(filter); err == nil {
		for _, cl := range m.clauses {
			if cl.op == "$eq" && len(cl.path) == 1 && cl.path[0] == document.IDField {
				v := cl.arg
				pinned = &v
			}
		}
	}
	inserted, id, err := ensureID(replacement, pinned)
	if err != nil {
		return nil, err
	}
	if c.indexOfID(id) >= 0 {
		return nil, duplicateKeyError(c.name, id)
	}
	c.docs = append(c.docs, inserted)
	c.recordWriteConcern(wc)
	if returnDoc == options.After {
		return clone(inserted), nil
	}
	return nil, mongo.ErrNoDocuments
}

// FindOneAndDelete removes and returns the first matching document.
func (c *Collection) FindOneAndDelete(ctx context.Context, filter interface{}, opts ...*options.FindOneAndDeleteOptions) (bson.Raw, error) {
	var sortSpec interface{}
	for _, o := range opts {
		if o != nil && o.Sort != nil {
			sortSpec = o.Sort
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	idx, err := c.selectIndexes(filter, sortSpec)
	if err != nil {
		return nil, err
	}
	if len(idx) == 0 {
		return nil, mongo.ErrNoDocuments
	}
	removed := c.docs[idx[0]]
	c.docs = append(c.docs[:idx[0]], c.docs[idx[0]+1:]...)
	return removed, nil
}

// InsertMany appends documents, assigning an ObjectID to those without _id.
// Unless the options disable ordering, insertion stops at the first duplicate key.
func (c *Collection) InsertMany(
	ctx context.Context,
	documents []interface{},
	wc *writeconcern.WriteConcern,
	opts ...*options.InsertManyOptions,
) (document.InsertSummary, error) {
	ordered := true
	for _, o := range opts {
		if o != nil && o.Ordered != nil {
			ordered = *o.Ordered
		}
	}

	raws := make([]bson.Raw, 0, len(documents))
	for _, doc := range documents {
		raw, err := toRaw(doc)
		if err != nil {
			return document.InsertSummary{}, err
		}
		raws = append(raws, raw)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ctx); err != nil {
		return document.InsertSummary{}, err
	}

	var summary document.InsertSummary
	var errs []error
	for _, raw := range raws {
		withID, id, err := ensureID(raw, nil)
		if err != nil {
			return summary, err
		}
		if c.indexOfID(id) >= 0 {
			errs = append(errs, duplicateKeyError(c.name, id))
			if ordered {
				break
			}
			continue
		}
		c.docs = append(c.docs, withID)
		var goID interface{}
		if err := id.Unmarshal(&goID); err != nil {
			return summary, err
		}
		summary.InsertedIDs = append(summary.InsertedIDs, goID)
	}
	if len(summary.InsertedIDs) > 0 {
		c.recordWriteConcern(wc)
	}
	return summary, errors.Join(errs...)
}

// DeleteMany removes every matching document.
func (c *Collection) DeleteMany(ctx context.Context, filter interface{}, _ ...*options.DeleteOptions) (document.DeleteSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ctx); err != nil {
		return document.DeleteSummary{}, err
	}
	m, err := compileFilter(filter)
	if err != nil {
		return document.DeleteSummary{}, err
	}
	kept := c.docs[:0]
	var deleted int64
	for _, doc := range c.docs {
		if m.matches(doc) {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	c.docs = kept
	return document.DeleteSummary{DeletedCount: deleted}, nil
}

// CountDocuments counts matching documents.
func (c *Collection) CountDocuments(ctx context.Context, filter interface{}, _ ...*options.CountOptions) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	idx, err := c.selectIndexes(filter, nil)
	if err != nil {
		return 0, err
	}
	return int64(len(idx)), nil
}

// check must be called with mu held.
func (c *Collection) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.db.isClosed() {
		return ErrClosed
	}
	return nil
}

// selectIndexes returns positions of matching documents in result order.
// Must be called with mu held.
func (c *Collection) selectIndexes(filter, sortSpec interface{}) ([]int, error) {
	m, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}
	keys, err := compileSort(sortSpec)
	if err != nil {
		return nil, err
	}
	var idx []int
	for i, doc := range c.docs {
		if m.matches(doc) {
			idx = append(idx, i)
		}
	}
	if len(keys) > 0 {
		sort.SliceStable(idx, func(a, b int) bool {
			return less(keys, c.docs[idx[a]], c.docs[idx[b]])
		})
	}
	return idx, nil
}

func (c *Collection) indexOfID(id bson.RawValue) int {
	for i, doc := range c.docs {
		if existing, err := doc.LookupErr(document.IDField); err == nil && equalValues(existing, id) {
			return i
		}
	}
	return -1
}

func (c *Collection) recordWriteConcern(wc *writeconcern.WriteConcern) {
	if wc == nil {
		c.writeConcerns = append(c.writeConcerns, nil)
		return
	}
	cp := *wc
	c.writeConcerns = append(c.writeConcerns, &cp)
}

func duplicateKeyError(collection string, id bson.RawValue) error {
	return fmt.Errorf("memstore: E11000 duplicate key error collection: %s index: _id_ dup key: %s", collection, id)
}

func toRaw(doc interface{}) (bson.Raw, error) {
	switch v := doc.(type) {
	case nil:
		return nil, errors.New("memstore: document is nil")
	case bson.Raw:
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("memstore: invalid document: %w", err)
		}
		return clone(v), nil
	}
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("memstore: invalid document: %w", err)
	}
	return bson.Raw(data), nil
}

// ensureID returns doc with _id as its first field. An existing _id wins over
// id; when neither is present a new ObjectID is generated.
func ensureID(doc bson.Raw, id *bson.RawValue) (bson.Raw, bson.RawValue, error) {
	if existing, err := doc.LookupErr(document.IDField); err == nil {
		return doc, existing, nil
	}

	var fields bson.D
	if err := bson.Unmarshal(doc, &fields); err != nil {
		return nil, bson.RawValue{}, fmt.Errorf("memstore: invalid document: %w", err)
	}
	var idValue interface{} = primitive.NewObjectID()
	if id != nil {
		idValue = *id
	}
	data, err := bson.Marshal(append(bson.D{{Key: document.IDField, Value: idValue}}, fields...))
	if err != nil {
		return nil, bson.RawValue{}, fmt.Errorf("memstore: invalid document: %w", err)
	}
	raw := bson.Raw(data)
	return raw, raw.Lookup(document.IDField), nil
}

func clone(doc bson.Raw) bson.Raw {
	out := make(bson.Raw, len(doc))
	copy(out, doc)
	return out
}
