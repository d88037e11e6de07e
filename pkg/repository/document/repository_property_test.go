package document_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nimburion/docrepo/pkg/repository/document"
	"github.com/nimburion/docrepo/pkg/repository/document/memstore"
)

func sameFields(a, b *note) bool {
	if a.Title != b.Title || a.Status != b.Status || a.Rank != b.Rank || len(a.Tags) != len(b.Tags) {
		return false
	}
	for i := range a.Tags {
		if a.Tags[i] != b.Tags[i] {
			return false
		}
	}
	return true
}

func genNote() gopter.Gen {
	return gopter.CombineGens(
		gen.AlphaString(),
		gen.OneConstOf("open", "done", "archived"),
		gen.IntRange(-1000, 1000),
		gen.SliceOfN(3, gen.AlphaString()),
	).Map(func(v []interface{}) *note {
		return &note{
			Title:  v[0].(string),
			Status: v[1].(string),
			Rank:   v[2].(int),
			Tags:   v[3].([]string),
		}
	})
}

// Upserting a record without an identifier and without a filter assigns an
// identifier exactly once, and reading it back by that identifier returns the
// same field values.
func TestProperty_UpsertAssignsIdentityOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("upsert then find by id round-trips", prop.ForAll(
		func(rec *note) bool {
			ctx := context.Background()
			repo := document.NewRepository[note](memstore.New("prop"))
			in := *rec

			saved, err := repo.Upsert(ctx, nil, &in)
			if err != nil || saved == nil {
				t.Logf("Upsert failed: %v", err)
				return false
			}
			if in.ID.IsZero() || saved.ID != in.ID {
				return false
			}

			found, err := repo.FindByID(ctx, in.ID)
			if err != nil || found == nil {
				t.Logf("FindByID failed: %v", err)
				return false
			}
			n, err := repo.Count(ctx, nil)
			return err == nil && n == 1 && sameFields(found, rec)
		},
		genNote(),
	))

	properties.TestingRun(t)
}

// Upserting the same identified record twice keeps a single document holding
// the latest values.
func TestProperty_UpsertReplacesNotDuplicates(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("second upsert replaces the first", prop.ForAll(
		func(first *note, title string) bool {
			ctx := context.Background()
			repo := document.NewRepository[note](memstore.New("prop"))

			if _, err := repo.Upsert(ctx, nil, first); err != nil {
				return false
			}
			second := *first
			second.Title = title
			saved, err := repo.Upsert(ctx, document.Filter{"status": "ignored"}, &second)
			if err != nil || saved == nil || saved.ID != first.ID || saved.Title != title {
				return false
			}

			n, err := repo.Count(ctx, document.ByID(first.ID))
			if err != nil || n != 1 {
				return false
			}
			total, err := repo.Count(ctx, nil)
			return err == nil && total == 1
		},
		genNote(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// InsertMany of N records followed by a matching Find yields exactly N records,
// and a cursor over M matches yields M records and then ends without error.
func TestProperty_InsertManyThenFindCounts(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("find returns every inserted record", prop.ForAll(
		func(recs []*note) bool {
			ctx := context.Background()
			repo := document.NewRepository[note](memstore.New("prop"))

			summary, err := repo.InsertMany(ctx, recs)
			if err != nil || summary.Count() != len(recs) {
				return false
			}

			want := 0
			for _, r := range recs {
				if r.Status == "open" {
					want++
				}
			}

			cur, err := repo.Find(ctx, document.Filter{"status": "open"})
			if err != nil {
				return false
			}
			got := 0
			for cur.Next(ctx) {
				if cur.Record().Status != "open" {
					return false
				}
				got++
			}
			return cur.Err() == nil && got == want && !cur.Next(ctx)
		},
		gen.SliceOf(genNote()),
	))

	properties.TestingRun(t)
}

// DeleteMany removes every match, after which FindOne reports nothing.
func TestProperty_DeleteManyIsExhaustive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("no match survives delete many", prop.ForAll(
		func(recs []*note, status string) bool {
			ctx := context.Background()
			repo := document.NewRepository[note](memstore.New("prop"))
			if _, err := repo.InsertMany(ctx, recs); err != nil {
				return false
			}

			want := 0
			for _, r := range recs {
				if r.Status == status {
					want++
				}
			}
			filter := document.Filter{"status": status}
			summary, err := repo.DeleteMany(ctx, filter)
			if err != nil || summary.DeletedCount != int64(want) {
				return false
			}
			left, err := repo.FindOne(ctx, filter)
			if err != nil || left != nil {
				return false
			}
			total, err := repo.Count(ctx, nil)
			return err == nil && total == int64(len(recs)-want)
		},
		gen.SliceOf(genNote()),
		gen.OneConstOf("open", "done", "archived"),
	))

	properties.TestingRun(t)
}
