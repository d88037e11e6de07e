package document

import (
	"context"
	"iter"
	"sync"
)

// Cursor streams the records of one query, decoding each document when it is pulled.
//
// A cursor owns its underlying store cursor. It terminates when the result set is
// exhausted, when the store reports a failure, or when a document cannot be
// decoded; in every case the store cursor is released and Next keeps returning
// false. A decode failure is never skipped. Cursors cannot be rewound.
//
// Pulls are serialized, but a cursor is meant to be driven by a single goroutine.
//
//	cur, err := repo.Find(ctx, document.Filter{"status": "open"})
//	if err != nil {
//	    return err
//	}
//	defer cur.Close(ctx)
//	for cur.Next(ctx) {
//	    use(cur.Record())
//	}
//	return cur.Err()
type Cursor[T any] struct {
	mu      sync.Mutex
	raw     RawCursor
	codec   Codec[T]
	inst    *instrumentation
	current *T
	err     error
	done    bool
}

func newCursor[T any](raw RawCursor, codec Codec[T], inst *instrumentation) *Cursor[T] {
	return &Cursor[T]{raw: raw, codec: codec, inst: inst}
}

// Next advances to the next record. It returns false once the cursor has
// terminated; Err then distinguishes a clean end from a failure.
func (c *Cursor[T]) Next(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = nil
	if c.done {
		return false
	}

	if !c.raw.Next(ctx) {
		if err := c.raw.Err(); err != nil {
			c.fail(ctx, &StoreError{Collection: c.inst.collection, Op: "cursor.next", Err: err})
			return false
		}
		c.finish(ctx)
		return false
	}

	record, err := c.codec.Decode(c.raw.Current())
	if err != nil {
		c.fail(ctx, &DecodeError{Collection: c.inst.collection, Err: err})
		return false
	}

	c.inst.metrics.ObserveCursorDocument(c.inst.collection)
	c.current = record
	return true
}

// Record returns the record produced by the last successful Next, or nil.
func (c *Cursor[T]) Record() *T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Err returns the error that terminated the cursor, or nil after a clean end.
func (c *Cursor[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close releases the store cursor. It is safe to call more than once and after
// the cursor has terminated on its own.
func (c *Cursor[T]) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return nil
	}
	c.done = true
	c.current = nil
	if err := c.raw.Close(context.WithoutCancel(ctx)); err != nil {
		return &StoreError{Collection: c.inst.collection, Op: "cursor.close", Err: err}
	}
	return nil
}

// All returns a single-use sequence over the remaining records. A terminal
// failure is yielded once as (nil, err). The store cursor is released when the
// sequence ends, including when the caller stops early.
//
//	for note, err := range cur.All(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    use(note)
//	}
func (c *Cursor[T]) All(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		defer func() {
			if err := c.Close(ctx); err != nil {
				c.inst.logger.WithContext(ctx).Warn("failed to release cursor", "error", err)
			}
		}()
		for c.Next(ctx) {
			if !yield(c.Record(), nil) {
				return
			}
		}
		if err := c.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// Collect drains the cursor into a slice. On failure the records read before
// the failure are returned together with the error.
func (c *Cursor[T]) Collect(ctx context.Context) ([]*T, error) {
	var out []*T
	for record, err := range c.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, record)
	}
	return out, nil
}

// finish marks a clean end of stream and releases the store cursor.
// Must be called with mu held.
func (c *Cursor[T]) finish(ctx context.Context) {
	c.done = true
	if err := c.raw.Close(context.WithoutCancel(ctx)); err != nil {
		c.err = &StoreError{Collection: c.inst.collection, Op: "cursor.close", Err: err}
	}
}

// fail terminates the cursor with err. Must be called with mu held.
func (c *Cursor[T]) fail(ctx context.Context, err error) {
	c.done = true
	c.err = err
	if closeErr := c.raw.Close(context.WithoutCancel(ctx)); closeErr != nil {
		c.inst.logger.WithContext(ctx).Warn("failed to release cursor after error",
			"error", closeErr,
		)
	}
	c.inst.logger.WithContext(ctx).Warn("cursor terminated",
		"error_kind", errorKind(err),
		"error", err,
	)
}
