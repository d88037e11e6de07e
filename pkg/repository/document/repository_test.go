package document_test

import (
	"context"
	"errors"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/nimburion/docrepo/pkg/repository/document"
	"github.com/nimburion/docrepo/pkg/repository/document/memstore"
)

type note struct {
	document.Base `bson:",inline"`
	Title         string   `bson:"title"`
	Status        string   `bson:"status"`
	Rank          int      `bson:"rank"`
	Tags          []string `bson:"tags,omitempty"`
}

func (*note) CollectionName() string { return "notes" }

type durableNote struct {
	document.Base `bson:",inline"`
	Title         string `bson:"title"`
}

func (*durableNote) CollectionName() string { return "durable_notes" }

func (*durableNote) WriteConcern() *writeconcern.WriteConcern {
	return &writeconcern.WriteConcern{W: 2}
}

// channelNote cannot be encoded: the driver has no encoder for channels.
type channelNote struct {
	document.Base `bson:",inline"`
	Events        chan int `bson:"events"`
}

func (*channelNote) CollectionName() string { return "channel_notes" }

func newNotes(t *testing.T, opts ...document.Option) (*document.Repository[note, *note], *memstore.Collection) {
	t.Helper()
	db := memstore.New("test")
	return document.NewRepository[note](db, opts...), db.Coll("notes")
}

func TestNewRepository_BindsCollection(t *testing.T) {
	repo, coll := newNotes(t)
	if repo.Collection() != "notes" {
		t.Fatalf("Collection() = %q, want notes", repo.Collection())
	}
	if coll.Len() != 0 || len(coll.WriteConcerns()) != 0 {
		t.Fatal("construction must not touch the store")
	}
}

func TestUpsert_IdentityResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("own identifier wins over filter", func(t *testing.T) {
		repo, coll := newNotes(t)
		id := primitive.NewObjectID()
		if err := coll.Seed(
			bson.D{{Key: "_id", Value: id}, {Key: "title", Value: "by id"}},
			bson.D{{Key: "title", Value: "by filter"}},
		); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}

		rec := &note{Title: "replaced"}
		rec.ID = id
		got, err := repo.Upsert(ctx, document.Filter{"title": "by filter"}, rec)
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if got == nil || got.ID != id || got.Title != "replaced" {
			t.Fatalf("Upsert() = %+v, want id %s replaced", got, id)
		}
		untouched, err := repo.FindOne(ctx, document.Filter{"title": "by filter"})
		if err != nil || untouched == nil {
			t.Fatalf("document addressed by filter should be untouched: %+v, %v", untouched, err)
		}
	})

	t.Run("no identifier and no filter generates one", func(t *testing.T) {
		fixed := primitive.NewObjectID()
		repo, _ := newNotes(t, document.WithIDGenerator(func() primitive.ObjectID { return fixed }))

		rec := &note{Title: "fresh"}
		got, err := repo.Upsert(ctx, nil, rec)
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if rec.ID != fixed {
			t.Fatalf("caller record id = %s, want %s", rec.ID, fixed)
		}
		if got == nil || got.ID != fixed {
			t.Fatalf("Upsert() = %+v, want id %s", got, fixed)
		}
	})

	t.Run("no identifier uses the filter verbatim", func(t *testing.T) {
		repo, coll := newNotes(t)
		if err := coll.Seed(bson.D{{Key: "title", Value: "a"}, {Key: "status", Value: "open"}}); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}

		rec := &note{Title: "a", Status: "closed"}
		got, err := repo.Upsert(ctx, document.Filter{"title": "a"}, rec)
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if !rec.ID.IsZero() {
			t.Fatal("caller record must not be assigned an id when a filter is given")
		}
		if got == nil || got.ID.IsZero() || got.Status != "closed" {
			t.Fatalf("Upsert() = %+v", got)
		}
		if coll.Len() != 1 {
			t.Fatalf("Len() = %d, want 1", coll.Len())
		}
	})

	t.Run("filter with no match inserts", func(t *testing.T) {
		repo, coll := newNotes(t)
		got, err := repo.Upsert(ctx, document.Filter{"title": "missing"}, &note{Title: "missing"})
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if got == nil || got.ID.IsZero() {
			t.Fatalf("Upsert() = %+v, want a stored record", got)
		}
		if coll.Len() != 1 {
			t.Fatalf("Len() = %d, want 1", coll.Len())
		}
	})
}

func TestUpsert_ForcesJournal(t *testing.T) {
	ctx := context.Background()
	journalOff := false

	tests := []struct {
		name   string
		write  func(t *testing.T, db *memstore.Database) string
		wantW  interface{}
		wantWT bool
	}{
		{
			name: "store defaults",
			write: func(t *testing.T, db *memstore.Database) string {
				repo := document.NewRepository[note](db)
				if _, err := repo.Upsert(ctx, nil, &note{Title: "x"}); err != nil {
					t.Fatalf("Upsert() error = %v", err)
				}
				return "notes"
			},
		},
		{
			name: "caller concern keeps its fields",
			write: func(t *testing.T, db *memstore.Database) string {
				wc := &writeconcern.WriteConcern{W: "majority", Journal: &journalOff, WTimeout: 1}
				repo := document.NewRepository[note](db, document.WithWriteConcern(wc))
				if _, err := repo.InsertMany(ctx, []*note{{Title: "x"}}); err != nil {
					t.Fatalf("InsertMany() error = %v", err)
				}
				if *wc.Journal {
					t.Fatal("caller write concern must not be mutated")
				}
				return "notes"
			},
			wantW:  "majority",
			wantWT: true,
		},
		{
			name: "record type concern",
			write: func(t *testing.T, db *memstore.Database) string {
				repo := document.NewRepository[durableNote](db)
				if _, err := repo.Upsert(ctx, nil, &durableNote{Title: "x"}); err != nil {
					t.Fatalf("Upsert() error = %v", err)
				}
				return "durable_notes"
			},
			wantW: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := memstore.New("test")
			coll := tt.write(t, db)
			got := db.Coll(coll).WriteConcerns()
			if len(got) != 1 || got[0] == nil {
				t.Fatalf("write concerns = %v, want one", got)
			}
			if got[0].Journal == nil || !*got[0].Journal {
				t.Fatalf("journal = %v, want forced true", got[0].Journal)
			}
			if got[0].W != tt.wantW {
				t.Fatalf("W = %v, want %v", got[0].W, tt.wantW)
			}
			if (got[0].WTimeout != 0) != tt.wantWT {
				t.Fatalf("WTimeout = %v", got[0].WTimeout)
			}
		})
	}
}

func TestWriteDurability_ReturnsCopy(t *testing.T) {
	repo, _ := newNotes(t)
	wc := repo.WriteDurability()
	if wc.Journal == nil || !*wc.Journal {
		t.Fatal("default durability must require journal acknowledgment")
	}
	off := false
	wc.Journal = &off
	if !*repo.WriteDurability().Journal {
		t.Fatal("mutating the returned value must not affect the repository")
	}
}

func TestSerializationError_NoStoreCall(t *testing.T) {
	ctx := context.Background()
	db := memstore.New("test")
	repo := document.NewRepository[channelNote](db)

	_, err := repo.Upsert(ctx, nil, &channelNote{Events: make(chan int)})
	var serErr *document.SerializationError
	if !errors.As(err, &serErr) {
		t.Fatalf("Upsert() error = %v, want SerializationError", err)
	}

	_, err = repo.InsertMany(ctx, []*channelNote{{}, {Events: make(chan int)}})
	if !errors.As(err, &serErr) {
		t.Fatalf("InsertMany() error = %v, want SerializationError", err)
	}

	coll := db.Coll("channel_notes")
	if coll.Len() != 0 || len(coll.WriteConcerns()) != 0 {
		t.Fatal("serialization failures must not reach the store")
	}
}

func TestUpsert_NilRecord(t *testing.T) {
	repo, _ := newNotes(t)
	_, err := repo.Upsert(context.Background(), nil, nil)
	if !errors.Is(err, document.ErrNilRecord) {
		t.Fatalf("Upsert(nil) error = %v, want ErrNilRecord", err)
	}
}

func TestInsertMany(t *testing.T) {
	ctx := context.Background()
	repo, coll := newNotes(t)

	summary, err := repo.InsertMany(ctx, nil)
	if err != nil || summary.Count() != 0 {
		t.Fatalf("InsertMany(nil) = %+v, %v", summary, err)
	}

	recs := []*note{{Title: "a"}, {Title: "b"}}
	summary, err = repo.InsertMany(ctx, recs)
	if err != nil {
		t.Fatalf("InsertMany() error = %v", err)
	}
	if summary.Count() != 2 || coll.Len() != 2 {
		t.Fatalf("inserted %d (stored %d), want 2", summary.Count(), coll.Len())
	}
	for _, r := range recs {
		if !r.ID.IsZero() {
			t.Fatal("InsertMany must not assign ids to caller records")
		}
	}

	dup := &note{Title: "dup"}
	dup.ID = primitive.NewObjectID()
	_, err = repo.InsertMany(ctx, []*note{dup, dup})
	var storeErr *document.StoreError
	if !errors.As(err, &storeErr) || storeErr.Op != "insertMany" {
		t.Fatalf("InsertMany(duplicate) error = %v, want StoreError", err)
	}
}

func TestFindOne(t *testing.T) {
	ctx := context.Background()
	repo, _ := newNotes(t)
	if _, err := repo.InsertMany(ctx, []*note{{Title: "a", Rank: 2}, {Title: "b", Rank: 1}}); err != nil {
		t.Fatalf("InsertMany() error = %v", err)
	}

	got, err := repo.FindOne(ctx, nil, options.FindOne().SetSort(bson.D{{Key: "rank", Value: 1}}))
	if err != nil || got == nil || got.Title != "b" {
		t.Fatalf("FindOne(nil, sort) = %+v, %v", got, err)
	}

	got, err = repo.FindOne(ctx, document.Filter{"title": "zzz"})
	if err != nil || got != nil {
		t.Fatalf("FindOne(no match) = %+v, %v; want nil, nil", got, err)
	}

	got, err = repo.FindByID(ctx, primitive.NewObjectID())
	if err != nil || got != nil {
		t.Fatalf("FindByID(unknown) = %+v, %v; want nil, nil", got, err)
	}
}

func TestFindOne_DecodeError(t *testing.T) {
	repo, coll := newNotes(t)
	if err := coll.Seed(bson.D{{Key: "title", Value: int32(7)}}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	_, err := repo.FindOne(context.Background(), nil)
	var decErr *document.DecodeError
	if !errors.As(err, &decErr) || decErr.Collection != "notes" {
		t.Fatalf("FindOne() error = %v, want DecodeError", err)
	}
}

func TestStoreError_WrapsDriverFailure(t *testing.T) {
	ctx := context.Background()
	db := memstore.New("test")
	repo := document.NewRepository[note](db)
	_ = db.Close()

	_, err := repo.FindOne(ctx, nil)
	var storeErr *document.StoreError
	if !errors.As(err, &storeErr) || !errors.Is(err, memstore.ErrClosed) {
		t.Fatalf("FindOne() error = %v, want StoreError wrapping ErrClosed", err)
	}
	if storeErr.Op != "findOne" || storeErr.Collection != "notes" {
		t.Fatalf("StoreError = %+v", storeErr)
	}

	if _, err := repo.Find(ctx, nil); !errors.As(err, &storeErr) {
		t.Fatalf("Find() error = %v, want StoreError", err)
	}
	if _, err := repo.Count(ctx, nil); !errors.As(err, &storeErr) {
		t.Fatalf("Count() error = %v, want StoreError", err)
	}

	// A failed call leaves independent repositories usable.
	other := document.NewRepository[note](memstore.New("other"))
	if _, err := other.Upsert(ctx, nil, &note{Title: "ok"}); err != nil {
		t.Fatalf("independent Upsert() error = %v", err)
	}
}

func TestDelete_RequiresFilter(t *testing.T) {
	ctx := context.Background()
	repo, coll := newNotes(t)
	if err := coll.Seed(bson.D{{Key: "title", Value: "a"}}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}

	if _, err := repo.DeleteOne(ctx, nil); !errors.Is(err, document.ErrFilterRequired) {
		t.Fatalf("DeleteOne(nil) error = %v, want ErrFilterRequired", err)
	}
	if _, err := repo.DeleteMany(ctx, nil); !errors.Is(err, document.ErrFilterRequired) {
		t.Fatalf("DeleteMany(nil) error = %v, want ErrFilterRequired", err)
	}
	if coll.Len() != 1 {
		t.Fatal("rejected deletes must not remove documents")
	}

	summary, err := repo.DeleteMany(ctx, document.Filter{})
	if err != nil || summary.DeletedCount != 1 {
		t.Fatalf("DeleteMany(empty filter) = %+v, %v", summary, err)
	}
}

func TestDeleteOne_NoMatch(t *testing.T) {
	repo, _ := newNotes(t)
	got, err := repo.DeleteOne(context.Background(), document.Filter{"title": "none"})
	if err != nil || got != nil {
		t.Fatalf("DeleteOne(no match) = %+v, %v; want nil, nil", got, err)
	}
}

func TestDeleteOne_RemovesExactlyOne(t *testing.T) {
	ctx := context.Background()
	repo, _ := newNotes(t)
	if _, err := repo.InsertMany(ctx, []*note{
		{Title: "a", Status: "done"},
		{Title: "b", Status: "done"},
		{Title: "c", Status: "open"},
	}); err != nil {
		t.Fatalf("InsertMany() error = %v", err)
	}

	filter := document.Filter{"status": "done"}
	removed, err := repo.DeleteOne(ctx, filter)
	if err != nil || removed == nil || removed.Status != "done" {
		t.Fatalf("DeleteOne() = %+v, %v", removed, err)
	}

	cur, err := repo.Find(ctx, filter)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	left, err := cur.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(left) != 1 || left[0].ID == removed.ID {
		t.Fatalf("remaining = %+v, want the other match", left)
	}
}

func TestDeleteMany_Exhaustive(t *testing.T) {
	ctx := context.Background()
	repo, _ := newNotes(t)
	if _, err := repo.InsertMany(ctx, []*note{
		{Title: "a", Tags: []string{"x"}},
		{Title: "b", Tags: []string{"x", "y"}},
		{Title: "c", Tags: []string{"y"}},
	}); err != nil {
		t.Fatalf("InsertMany() error = %v", err)
	}

	filter := document.Filter{"tags": "x"}
	summary, err := repo.DeleteMany(ctx, filter)
	if err != nil || summary.DeletedCount != 2 {
		t.Fatalf("DeleteMany() = %+v, %v", summary, err)
	}
	if got, err := repo.FindOne(ctx, filter); err != nil || got != nil {
		t.Fatalf("FindOne after DeleteMany = %+v, %v; want nil, nil", got, err)
	}
	if n, err := repo.Count(ctx, nil); err != nil || n != 1 {
		t.Fatalf("Count() = %d, %v; want 1", n, err)
	}
}

func TestNewRepositoryWithCodec(t *testing.T) {
	ctx := context.Background()
	codec := &upperCodec{inner: document.NewBSONCodec[note](nil)}
	repo := document.NewRepositoryWithCodec[note](memstore.New("test"), codec)

	got, err := repo.Upsert(ctx, nil, &note{Title: "hi"})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if got.Title != "HI!" {
		t.Fatalf("Title = %q, want HI!", got.Title)
	}
	if codec.encoded != 1 || codec.decoded != 1 {
		t.Fatalf("codec calls = %d/%d, want 1/1", codec.encoded, codec.decoded)
	}

	fallback := document.NewRepositoryWithCodec[note](memstore.New("test"), nil)
	if got, err := fallback.Upsert(ctx, nil, &note{Title: "plain"}); err != nil || got.Title != "plain" {
		t.Fatalf("Upsert() with default codec = %+v, %v", got, err)
	}
}

func TestUpsert_SerializationFailureLeavesRecordUntouched(t *testing.T) {
	ctx := context.Background()
	db := memstore.New("test")
	coll := db.Coll("notes")
	if err := coll.Seed(bson.D{{Key: "title", Value: "existing"}, {Key: "status", Value: "x"}}); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	codec := &failingCodec{inner: document.NewBSONCodec[note](nil), failures: 1}
	repo := document.NewRepositoryWithCodec[note](db, codec)

	rec := &note{Title: "retry", Status: "x"}
	_, err := repo.Upsert(ctx, nil, rec)
	var serErr *document.SerializationError
	if !errors.As(err, &serErr) {
		t.Fatalf("Upsert() error = %v, want SerializationError", err)
	}
	if id, ok := rec.GetID(); ok {
		t.Fatalf("record kept identifier %s after a failed upsert", id.Hex())
	}
	if coll.Len() != 1 {
		t.Fatalf("documents = %d, want 1", coll.Len())
	}

	// With no identifier left behind, the retry is addressed by the filter.
	got, err := repo.Upsert(ctx, document.Filter{"status": "x"}, rec)
	if err != nil || got == nil || got.Title != "retry" {
		t.Fatalf("Upsert(filter) = %+v, %v", got, err)
	}
	if coll.Len() != 1 {
		t.Fatalf("documents after filtered upsert = %d, want 1", coll.Len())
	}
}

func TestSingleDocumentOperations_DecodeError(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		codec document.Codec[note]
		call  func(repo *document.Repository[note, *note]) error
	}{
		{
			name: "DeleteOne",
			call: func(repo *document.Repository[note, *note]) error {
				_, err := repo.DeleteOne(ctx, document.Filter{"status": "bad"})
				return err
			},
		},
		{
			name:  "Upsert",
			codec: numericTitleCodec{inner: document.NewBSONCodec[note](nil)},
			call: func(repo *document.Repository[note, *note]) error {
				_, err := repo.Upsert(ctx, document.Filter{"status": "bad"}, &note{Title: "fixed", Status: "bad"})
				return err
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := memstore.New("test")
			repo := document.NewRepositoryWithCodec[note](db, tt.codec)
			if err := db.Coll("notes").Seed(bson.D{
				{Key: "title", Value: int32(7)},
				{Key: "status", Value: "bad"},
			}); err != nil {
				t.Fatalf("Seed() error = %v", err)
			}
			err := tt.call(repo)
			var decErr *document.DecodeError
			if !errors.As(err, &decErr) || decErr.Collection != "notes" {
				t.Fatalf("%s() error = %v, want DecodeError", tt.name, err)
			}
		})
	}
}

// upperCodec upper-cases titles on the way in and marks them on the way out.
type upperCodec struct {
	inner            *document.BSONCodec[note]
	encoded, decoded int
}

func (c *upperCodec) Encode(record *note) (bson.Raw, error) {
	c.encoded++
	cp := *record
	cp.Title = upper(cp.Title)
	return c.inner.Encode(&cp)
}

func (c *upperCodec) Decode(doc bson.Raw) (*note, error) {
	c.decoded++
	rec, err := c.inner.Decode(doc)
	if err != nil {
		return nil, err
	}
	rec.Title += "!"
	return rec, nil
}

func upper(s string) string {
	b := []byte(s)
	for i, ch := range b {
		if ch >= 'a' && ch <= 'z' {
			b[i] = ch - 'a' + 'A'
		}
	}
	return string(b)
}

// failingCodec fails the first failures encodes.
type failingCodec struct {
	inner    *document.BSONCodec[note]
	failures int
}

func (c *failingCodec) Encode(n *note) (bson.Raw, error) {
	if c.failures > 0 {
		c.failures--
		return nil, errors.New("boom")
	}
	return c.inner.Encode(n)
}

func (c *failingCodec) Decode(raw bson.Raw) (*note, error) {
	return c.inner.Decode(raw)
}

// numericTitleCodec stores titles as numbers, which the default decoder rejects.
type numericTitleCodec struct {
	inner *document.BSONCodec[note]
}

func (c numericTitleCodec) Encode(n *note) (bson.Raw, error) {
	return bson.Marshal(bson.D{
		{Key: "title", Value: int32(len(n.Title))},
		{Key: "status", Value: n.Status},
	})
}

func (c numericTitleCodec) Decode(raw bson.Raw) (*note, error) {
	return c.inner.Decode(raw)
}
