package document

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
)

// Codec converts records to generic documents and back.
type Codec[T any] interface {
	Encode(record *T) (bson.Raw, error)
	Decode(doc bson.Raw) (*T, error)
}

// BSONCodec is the default Codec, driven by bson struct tags.
type BSONCodec[T any] struct {
	registry *bsoncodec.Registry
}

// NewBSONCodec creates a codec using the given registry, or the driver default when nil.
func NewBSONCodec[T any](registry *bsoncodec.Registry) *BSONCodec[T] {
	if registry == nil {
		registry = bson.DefaultRegistry
	}
	return &BSONCodec[T]{registry: registry}
}

// Encode marshals record into a BSON document.
func (c *BSONCodec[T]) Encode(record *T) (bson.Raw, error) {
	if record == nil {
		return nil, ErrNilRecord
	}
	data, err := bson.MarshalWithRegistry(c.registry, record)
	if err != nil {
		return nil, err
	}
	raw := bson.Raw(data)
	if err := raw.Validate(); err != nil {
		return nil, fmt.Errorf("encoded value is not a document: %w", err)
	}
	return raw, nil
}

// Decode unmarshals doc into a new record.
func (c *BSONCodec[T]) Decode(doc bson.Raw) (*T, error) {
	if len(doc) == 0 {
		return nil, errors.New("empty document")
	}
	record := new(T)
	if err := bson.UnmarshalWithRegistry(c.registry, doc, record); err != nil {
		return nil, err
	}
	return record, nil
}
