package document

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDField is the document key holding the record identifier.
const IDField = "_id"

// Model is the capability every persisted record type implements on its pointer.
//
// CollectionName must return a constant for the type: repositories call it on a
// zero value to resolve their collection.
type Model interface {
	CollectionName() string
	GetID() (primitive.ObjectID, bool)
	SetID(id primitive.ObjectID)
}

// ModelPointer constrains PT to be *T and to implement Model.
type ModelPointer[T any] interface {
	*T
	Model
}

// Base carries the identifier of a record. Embed it inline:
//
//	type User struct {
//	    document.Base `bson:",inline"`
//	    Name string   `bson:"name"`
//	}
type Base struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
}

// GetID returns the identifier and whether one has been assigned.
func (b *Base) GetID() (primitive.ObjectID, bool) {
	return b.ID, !b.ID.IsZero()
}

// SetID assigns the identifier.
func (b *Base) SetID(id primitive.ObjectID) {
	b.ID = id
}

// Filter represents field-based selection criteria for document stores.
// A nil Filter means "no constraint" where an operation accepts an optional filter.
type Filter map[string]interface{}

// ByID returns a filter matching the document with the given identifier.
func ByID(id primitive.ObjectID) Filter {
	return Filter{IDField: id}
}

func (f Filter) toBSON() interface{} {
	if f == nil {
		return bson.D{}
	}
	return bson.M(f)
}
