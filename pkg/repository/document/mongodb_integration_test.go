package document_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/nimburion/docrepo/pkg/observability/logger"
	"github.com/nimburion/docrepo/pkg/repository/document"
	mongostore "github.com/nimburion/docrepo/pkg/store/mongodb"
	"github.com/nimburion/docrepo/pkg/testutil"
)

// TestMongoRepository_Integration runs the repository against a real MongoDB
// started with testcontainers.
func TestMongoRepository_Integration(t *testing.T) {
	uri := testutil.StartMongo(t)
	ctx := context.Background()

	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.InfoLevel,
		Format: logger.JSONFormat,
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	adapter, err := mongostore.NewAdapter(mongostore.Config{
		URL:              uri,
		Database:         "docrepo_it",
		ConnectTimeout:   30 * time.Second,
		OperationTimeout: 10 * time.Second,
		WriteConcern:     writeconcern.Majority(),
	}, log)
	if err != nil {
		t.Fatalf("Failed to create adapter: %v", err)
	}
	defer adapter.Close()
	if err := adapter.Database().Drop(ctx); err != nil {
		t.Fatalf("Drop() error = %v", err)
	}

	db, err := document.NewMongoDBDatabase(adapter)
	if err != nil {
		t.Fatalf("NewMongoDBDatabase() error = %v", err)
	}
	repo := document.NewRepository[note](db, document.WithLogger(log))

	t.Run("UpsertAssignsIdentity", func(t *testing.T) {
		rec := &note{Title: "first", Status: "open"}
		saved, err := repo.Upsert(ctx, nil, rec)
		if err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if rec.ID.IsZero() || saved.ID != rec.ID {
			t.Fatalf("identity not assigned: rec=%s saved=%s", rec.ID, saved.ID)
		}

		rec.Status = "done"
		if _, err := repo.Upsert(ctx, nil, rec); err != nil {
			t.Fatalf("second Upsert() error = %v", err)
		}
		got, err := repo.FindByID(ctx, rec.ID)
		if err != nil || got == nil || got.Status != "done" {
			t.Fatalf("FindByID() = %+v, %v", got, err)
		}
		if n, err := repo.Count(ctx, document.ByID(rec.ID)); err != nil || n != 1 {
			t.Fatalf("Count() = %d, %v; want 1", n, err)
		}
	})

	t.Run("InsertManyAndStream", func(t *testing.T) {
		summary, err := repo.InsertMany(ctx, []*note{
			{Title: "a", Status: "batch"},
			{Title: "b", Status: "batch"},
			{Title: "c", Status: "batch"},
		})
		if err != nil || summary.Count() != 3 {
			t.Fatalf("InsertMany() = %+v, %v", summary, err)
		}
		cur, err := repo.Find(ctx, document.Filter{"status": "batch"})
		if err != nil {
			t.Fatalf("Find() error = %v", err)
		}
		got, err := cur.Collect(ctx)
		if err != nil || len(got) != 3 {
			t.Fatalf("Collect() = %d records, %v", len(got), err)
		}
	})

	t.Run("DeleteOneAndMany", func(t *testing.T) {
		removed, err := repo.DeleteOne(ctx, document.Filter{"status": "batch"})
		if err != nil || removed == nil {
			t.Fatalf("DeleteOne() = %+v, %v", removed, err)
		}
		summary, err := repo.DeleteMany(ctx, document.Filter{"status": "batch"})
		if err != nil || summary.DeletedCount != 2 {
			t.Fatalf("DeleteMany() = %+v, %v", summary, err)
		}
		if got, err := repo.FindOne(ctx, document.Filter{"status": "batch"}); err != nil || got != nil {
			t.Fatalf("FindOne() = %+v, %v; want nil", got, err)
		}
	})

	t.Run("DecodeFailureTerminatesCursor", func(t *testing.T) {
		coll := adapter.Database().Collection("notes")
		if _, err := coll.InsertMany(ctx, []interface{}{
			bson.D{{Key: "title", Value: "ok"}, {Key: "status", Value: "mixed"}, {Key: "rank", Value: 1}},
			bson.D{{Key: "title", Value: 42}, {Key: "status", Value: "mixed"}, {Key: "rank", Value: 2}},
			bson.D{{Key: "title", Value: "after"}, {Key: "status", Value: "mixed"}, {Key: "rank", Value: 3}},
		}); err != nil {
			t.Fatalf("raw InsertMany() error = %v", err)
		}

		cur, err := repo.Find(ctx, document.Filter{"status": "mixed"},
			options.Find().SetSort(bson.D{{Key: "rank", Value: 1}}))
		if err != nil {
			t.Fatalf("Find() error = %v", err)
		}
		got, err := cur.Collect(ctx)
		var decErr *document.DecodeError
		if !errors.As(err, &decErr) {
			t.Fatalf("Collect() error = %v, want DecodeError", err)
		}
		if len(got) != 1 || got[0].Title != "ok" {
			t.Fatalf("records before failure = %+v", got)
		}
	})

	t.Run("HealthCheck", func(t *testing.T) {
		if err := adapter.HealthCheck(ctx); err != nil {
			t.Fatalf("HealthCheck() error = %v", err)
		}
	})
}
