package memstore

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// matcher evaluates a compiled filter against stored documents.
//
// Supported: field equality (dotted paths, array membership, null matches a
// missing field) and the operators $eq, $ne, $gt, $gte, $lt, $lte, $in, $nin
// and $exists. Numbers compare by value regardless of their BSON width.
type matcher struct {
	clauses []clause
}

type clause struct {
	path []string
	op   string
	arg  bson.RawValue
}

func compileFilter(filter interface{}) (*matcher, error) {
	if filter == nil {
		return &matcher{}, nil
	}
	data, err := bson.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("memstore: invalid filter: %w", err)
	}
	elems, err := bson.Raw(data).Elements()
	if err != nil {
		return nil, fmt.Errorf("memstore: invalid filter: %w", err)
	}

	m := &matcher{}
	for _, elem := range elems {
		key := elem.Key()
		if strings.HasPrefix(key, "$") {
			return nil, fmt.Errorf("memstore: unsupported top-level operator %s", key)
		}
		path := strings.Split(key, ".")
		value := elem.Value()

		ops, isOps, err := operatorDocument(value)
		if err != nil {
			return nil, err
		}
		if !isOps {
			m.clauses = append(m.clauses, clause{path: path, op: "$eq", arg: value})
			continue
		}
		for _, op := range ops {
			m.clauses = append(m.clauses, clause{path: path, op: op.Key(), arg: op.Value()})
		}
	}
	return m, nil
}

// operatorDocument reports whether value is a document of query operators.
func operatorDocument(value bson.RawValue) ([]bson.RawElement, bool, error) {
	if value.Type != bsontype.EmbeddedDocument {
		return nil, false, nil
	}
	elems, err := value.Document().Elements()
	if err != nil {
		return nil, false, fmt.Errorf("memstore: invalid filter: %w", err)
	}
	if len(elems) == 0 || !strings.HasPrefix(elems[0].Key(), "$") {
		return nil, false, nil
	}
	for _, elem := range elems {
		switch elem.Key() {
		case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte", "$in", "$nin", "$exists":
		default:
			return nil, false, fmt.Errorf("memstore: unsupported operator %s", elem.Key())
		}
	}
	return elems, true, nil
}

func (m *matcher) matches(doc bson.Raw) bool {
	for _, c := range m.clauses {
		if !c.matches(doc) {
			return false
		}
	}
	return true
}

func (c clause) matches(doc bson.Raw) bool {
	value, err := doc.LookupErr(c.path...)
	missing := err != nil

	switch c.op {
	case "$exists":
		return !missing == truthy(c.arg)
	case "$eq":
		return equalsOrContains(value, missing, c.arg)
	case "$ne":
		return !equalsOrContains(value, missing, c.arg)
	case "$in":
		return anyOf(value, missing, c.arg)
	case "$nin":
		return !anyOf(value, missing, c.arg)
	case "$gt", "$gte", "$lt", "$lte":
		if missing {
			return false
		}
		cmp, ok := compareValues(value, c.arg)
		if !ok {
			return false
		}
		switch c.op {
		case "$gt":
			return cmp > 0
		case "$gte":
			return cmp >= 0
		case "$lt":
			return cmp < 0
		default:
			return cmp <= 0
		}
	}
	return false
}

func equalsOrContains(value bson.RawValue, missing bool, arg bson.RawValue) bool {
	if missing {
		return arg.Type == bsontype.Null
	}
	if equalValues(value, arg) {
		return true
	}
	if value.Type == bsontype.Array && arg.Type != bsontype.Array {
		items, err := value.Array().Values()
		if err != nil {
			return false
		}
		for _, item := range items {
			if equalValues(item, arg) {
				return true
			}
		}
	}
	return false
}

func anyOf(value bson.RawValue, missing bool, arg bson.RawValue) bool {
	if arg.Type != bsontype.Array {
		return false
	}
	candidates, err := arg.Array().Values()
	if err != nil {
		return false
	}
	for _, candidate := range candidates {
		if equalsOrContains(value, missing, candidate) {
			return true
		}
	}
	return false
}

func truthy(v bson.RawValue) bool {
	switch v.Type {
	case bsontype.Boolean:
		return v.Boolean()
	case bsontype.Null, bsontype.Undefined:
		return false
	}
	if f, ok := number(v); ok {
		return f != 0
	}
	return true
}

func equalValues(a, b bson.RawValue) bool {
	cmp, ok := compareValues(a, b)
	return ok && cmp == 0
}

// compareValues orders two values of compatible types. ok is false when the
// values cannot be ordered against each other.
func compareValues(a, b bson.RawValue) (int, bool) {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	if a.Type != b.Type {
		return 0, false
	}
	switch a.Type {
	case bsontype.String:
		return strings.Compare(a.StringValue(), b.StringValue()), true
	case bsontype.ObjectID:
		x, y := a.ObjectID(), b.ObjectID()
		return bytes.Compare(x[:], y[:]), true
	case bsontype.DateTime:
		x, y := a.DateTime(), b.DateTime()
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		default:
			return 0, true
		}
	case bsontype.Boolean:
		x, y := a.Boolean(), b.Boolean()
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	case bsontype.Null, bsontype.Undefined:
		return 0, true
	}
	if bytes.Equal(a.Value, b.Value) {
		return 0, true
	}
	return 0, false
}

func number(v bson.RawValue) (float64, bool) {
	switch v.Type {
	case bsontype.Int32:
		return float64(v.Int32()), true
	case bsontype.Int64:
		return float64(v.Int64()), true
	case bsontype.Double:
		return v.Double(), true
	}
	return 0, false
}

// sortKey is one field of a sort specification.
type sortKey struct {
	path []string
	desc bool
}

func compileSort(spec interface{}) ([]sortKey, error) {
	if spec == nil {
		return nil, nil
	}
	data, err := bson.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("memstore: invalid sort: %w", err)
	}
	elems, err := bson.Raw(data).Elements()
	if err != nil {
		return nil, fmt.Errorf("memstore: invalid sort: %w", err)
	}
	keys := make([]sortKey, 0, len(elems))
	for _, elem := range elems {
		dir, ok := number(elem.Value())
		if !ok || (dir != 1 && dir != -1) {
			return nil, errors.New("memstore: sort direction must be 1 or -1")
		}
		keys = append(keys, sortKey{path: strings.Split(elem.Key(), "."), desc: dir < 0})
	}
	return keys, nil
}

// less orders documents by keys; missing fields sort first.
func less(keys []sortKey, a, b bson.Raw) bool {
	for _, k := range keys {
		va, errA := a.LookupErr(k.path...)
		vb, errB := b.LookupErr(k.path...)
		var cmp int
		switch {
		case errA != nil && errB != nil:
			cmp = 0
		case errA != nil:
			cmp = -1
		case errB != nil:
			cmp = 1
		default:
			cmp, _ = compareValues(va, vb)
		}
		if k.desc {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp < 0
		}
	}
	return false
}
