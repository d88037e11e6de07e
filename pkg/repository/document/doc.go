// Package document provides typed repositories over a document store.
//
// A Repository binds one record type to one collection and translates between
// typed records and the store's generic BSON documents. Streaming queries return
// a Cursor that decodes documents lazily as they are pulled.
//
//	type Note struct {
//	    document.Base `bson:",inline"`
//	    Title string  `bson:"title"`
//	}
//
//	func (*Note) CollectionName() string { return "notes" }
//
//	notes := document.NewRepository[Note](document.NewMongoDatabase(db))
//	saved, err := notes.Upsert(ctx, nil, &Note{Title: "hello"})
//
// Upsert and InsertMany always require journal acknowledgment from the store,
// see Repository.WriteDurability.
package document
