package document

import (
	"errors"
	"fmt"
)

var (
	// ErrNilRecord is returned when a nil record is handed to a write operation.
	ErrNilRecord = errors.New("record is nil")
	// ErrFilterRequired is returned when a delete is attempted with a nil filter.
	// Use an empty Filter{} to match every document explicitly.
	ErrFilterRequired = errors.New("filter is required")
)

// SerializationError is returned when a record cannot be converted to a document.
// It is raised before any store call is made.
type SerializationError struct {
	Collection string
	Err        error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize record for collection %s: %v", e.Collection, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when a stored document cannot be converted to the record type.
type DecodeError struct {
	Collection string
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode document from collection %s: %v", e.Collection, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// StoreError wraps any failure reported by the store driver.
type StoreError struct {
	Collection string
	Op         string
	Err        error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s on collection %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
