package memstore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Cursor iterates over a snapshot taken when the query ran. Writes made after
// Find returns are not observed.
type Cursor struct {
	docs   []bson.Raw
	pos    int
	closed bool
	err    error
}

// Next advances to the next document.
func (c *Cursor) Next(ctx context.Context) bool {
	if c.closed {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos+1 >= len(c.docs) {
		c.pos = len(c.docs)
		return false
	}
	c.pos++
	return true
}

// Current returns the document at the cursor position.
func (c *Cursor) Current() bson.Raw {
	if c.closed || c.pos < 0 || c.pos >= len(c.docs) {
		return nil
	}
	return c.docs[c.pos]
}

// Err returns the context error that stopped iteration, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Close drops the snapshot.
func (c *Cursor) Close(context.Context) error {
	c.closed = true
	c.docs = nil
	return nil
}

// Closed reports whether Close has been called.
func (c *Cursor) Closed() bool {
	return c.closed
}
