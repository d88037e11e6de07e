package document

import "go.mongodb.org/mongo-driver/mongo/writeconcern"

// WriteConcerner can be implemented by a record type to choose the write
// concern its repository uses for Upsert and InsertMany. The journal flag is
// still forced on.
type WriteConcerner interface {
	WriteConcern() *writeconcern.WriteConcern
}

// durable returns a copy of wc with journal acknowledgment required.
// A nil wc yields the store defaults plus the journal flag.
func durable(wc *writeconcern.WriteConcern) *writeconcern.WriteConcern {
	var out writeconcern.WriteConcern
	if wc != nil {
		out = *wc
	}
	journal := true
	out.Journal = &journal
	return &out
}
