package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nimburion/docrepo/pkg/repository/document"
)

const maxLineSize = 16 << 20

// Collection is a command group operating on one record type. Build it with
// ForRecord.
type Collection struct {
	name  string
	short string
	bind  func(s *session) records
}

// records is the type-erased view of a document.Repository used by the
// commands. Documents cross it as relaxed extended JSON.
type records interface {
	put(ctx context.Context, filter document.Filter, doc []byte) ([]byte, error)
	insert(ctx context.Context, docs [][]byte, ordered bool) (document.InsertSummary, error)
	get(ctx context.Context, id primitive.ObjectID) ([]byte, error)
	find(ctx context.Context, filter document.Filter, opts *options.FindOptions, emit func([]byte) error) error
	deleteOne(ctx context.Context, filter document.Filter) ([]byte, error)
	deleteMany(ctx context.Context, filter document.Filter) (document.DeleteSummary, error)
	count(ctx context.Context, filter document.Filter) (int64, error)
}

// ForRecord registers commands for the record type T under the name of its
// collection. opts are appended to the options every command-built
// repository receives.
func ForRecord[T any, PT document.ModelPointer[T]](short string, opts ...document.Option) Collection {
	name := PT(new(T)).CollectionName()
	if short == "" {
		short = "Manage " + name + " documents"
	}
	return Collection{
		name:  name,
		short: short,
		bind: func(s *session) records {
			all := append(s.repositoryOptions(), opts...)
			return &repositoryRecords[T, PT]{repo: document.NewRepository[T, PT](s.store.Database(), all...)}
		},
	}
}

// Name returns the collection the commands operate on.
func (c Collection) Name() string {
	return c.name
}

type repositoryRecords[T any, PT document.ModelPointer[T]] struct {
	repo *document.Repository[T, PT]
}

func (r *repositoryRecords[T, PT]) put(ctx context.Context, filter document.Filter, doc []byte) ([]byte, error) {
	rec, err := parseRecord[T](doc)
	if err != nil {
		return nil, err
	}
	saved, err := r.repo.Upsert(ctx, filter, rec)
	if err != nil {
		return nil, err
	}
	return formatRecord(saved)
}

func (r *repositoryRecords[T, PT]) insert(ctx context.Context, docs [][]byte, ordered bool) (document.InsertSummary, error) {
	batch := make([]*T, 0, len(docs))
	for i, doc := range docs {
		rec, err := parseRecord[T](doc)
		if err != nil {
			return document.InsertSummary{}, fmt.Errorf("document %d: %w", i+1, err)
		}
		batch = append(batch, rec)
	}
	return r.repo.InsertMany(ctx, batch, options.InsertMany().SetOrdered(ordered))
}

func (r *repositoryRecords[T, PT]) get(ctx context.Context, id primitive.ObjectID) ([]byte, error) {
	rec, err := r.repo.FindByID(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return formatRecord(rec)
}

func (r *repositoryRecords[T, PT]) find(ctx context.Context, filter document.Filter, opts *options.FindOptions, emit func([]byte) error) error {
	cur, err := r.repo.Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	defer cur.Close(context.WithoutCancel(ctx))

	for rec, err := range cur.All(ctx) {
		if err != nil {
			return err
		}
		out, err := formatRecord(rec)
		if err != nil {
			return err
		}
		if err := emit(out); err != nil {
			return err
		}
	}
	return nil
}

func (r *repositoryRecords[T, PT]) deleteOne(ctx context.Context, filter document.Filter) ([]byte, error) {
	rec, err := r.repo.DeleteOne(ctx, filter)
	if err != nil || rec == nil {
		return nil, err
	}
	return formatRecord(rec)
}

func (r *repositoryRecords[T, PT]) deleteMany(ctx context.Context, filter document.Filter) (document.DeleteSummary, error) {
	return r.repo.DeleteMany(ctx, filter)
}

func (r *repositoryRecords[T, PT]) count(ctx context.Context, filter document.Filter) (int64, error) {
	return r.repo.Count(ctx, filter)
}

func (c Collection) command(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:   c.name,
		Short: c.short,
	}

	// run opens a session for one invocation and binds the repository.
	run := func(fn func(cmd *cobra.Command, args []string, recs records) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())
			return fn(cmd, args, c.bind(s))
		}
	}

	var putFilter string
	put := &cobra.Command{
		Use:   "put [document...]",
		Short: "Insert or replace documents given as extended JSON (stdin when no argument)",
		RunE: run(func(cmd *cobra.Command, args []string, recs records) error {
			filter, err := parseOptionalFilter(putFilter)
			if err != nil {
				return err
			}
			docs, err := documentArgs(cmd, args)
			if err != nil {
				return err
			}
			if filter != nil && len(docs) > 1 {
				return errors.New("--filter accepts a single document")
			}
			for _, doc := range docs {
				saved, err := recs.put(cmd.Context(), filter, doc)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(saved))
			}
			return nil
		}),
	}
	put.Flags().StringVar(&putFilter, "filter", "", "select the document to replace (extended JSON)")

	var unordered bool
	insert := &cobra.Command{
		Use:   "insert [document...]",
		Short: "Insert documents as one batch (stdin when no argument)",
		RunE: run(func(cmd *cobra.Command, args []string, recs records) error {
			docs, err := documentArgs(cmd, args)
			if err != nil {
				return err
			}
			summary, err := recs.insert(cmd.Context(), docs, !unordered)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d\n", summary.Count())
			return nil
		}),
	}
	insert.Flags().BoolVar(&unordered, "unordered", false, "continue past failed documents")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Print the document with the given hex identifier",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, recs records) error {
			id, err := primitive.ObjectIDFromHex(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[0], err)
			}
			doc, err := recs.get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if doc == nil {
				return fmt.Errorf("%s %s not found", c.name, id.Hex())
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(doc))
			return nil
		}),
	}

	var (
		sortSpec    string
		limit, skip int64
		tail        bool
	)
	find := &cobra.Command{
		Use:   "find [filter]",
		Short: "Stream matching documents, one extended JSON document per line",
		Args:  cobra.MaximumNArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, recs records) error {
			filter, err := parseOptionalFilter(firstArg(args))
			if err != nil {
				return err
			}
			opts := options.Find()
			if sortSpec != "" {
				opts.SetSort(parseSort(sortSpec))
			}
			if limit > 0 {
				opts.SetLimit(limit)
			}
			if skip > 0 {
				opts.SetSkip(skip)
			}
			ctx := cmd.Context()
			if tail {
				opts.SetCursorType(options.TailableAwait)
				var stop context.CancelFunc
				ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
			}
			out := cmd.OutOrStdout()
			err = recs.find(ctx, filter, opts, func(doc []byte) error {
				_, err := fmt.Fprintln(out, string(doc))
				return err
			})
			if tail && errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}),
	}
	find.Flags().StringVar(&sortSpec, "sort", "", "comma separated sort keys, prefix with - for descending")
	find.Flags().Int64Var(&limit, "limit", 0, "maximum number of documents")
	find.Flags().Int64Var(&skip, "skip", 0, "number of documents to skip")
	find.Flags().BoolVar(&tail, "tail", false, "keep following a capped collection until interrupted")

	del := &cobra.Command{
		Use:   "delete <filter>",
		Short: "Delete the first matching document and print it",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, recs records) error {
			filter, err := parseFilter(args[0])
			if err != nil {
				return err
			}
			doc, err := recs.deleteOne(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if doc == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "no matching document")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(doc))
			return nil
		}),
	}

	purge := &cobra.Command{
		Use:   "purge <filter>",
		Short: "Delete every matching document; pass {} to empty the collection",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, recs records) error {
			filter, err := parseFilter(args[0])
			if err != nil {
				return err
			}
			summary, err := recs.deleteMany(cmd.Context(), filter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d\n", summary.DeletedCount)
			return nil
		}),
	}

	count := &cobra.Command{
		Use:   "count [filter]",
		Short: "Count matching documents",
		Args:  cobra.MaximumNArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, recs records) error {
			filter, err := parseOptionalFilter(firstArg(args))
			if err != nil {
				return err
			}
			n, err := recs.count(cmd.Context(), filter)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		}),
	}

	root.AddCommand(put, insert, get, find, del, purge, count)
	return root
}

// parseFilter decodes an extended JSON filter. The empty document is a valid
// filter matching everything.
func parseFilter(raw string) (document.Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("filter must not be empty, use {} to match every document")
	}
	var m bson.M
	if err := bson.UnmarshalExtJSON([]byte(raw), false, &m); err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", raw, err)
	}
	if m == nil {
		m = bson.M{}
	}
	return document.Filter(m), nil
}

func parseOptionalFilter(raw string) (document.Filter, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseFilter(raw)
}

// parseSort turns "rank,-title" into an ordered sort document.
func parseSort(spec string) bson.D {
	var sort bson.D
	for _, key := range strings.Split(spec, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		dir := 1
		if strings.HasPrefix(key, "-") {
			dir = -1
			key = key[1:]
		}
		sort = append(sort, bson.E{Key: key, Value: dir})
	}
	return sort
}

func parseRecord[T any](doc []byte) (*T, error) {
	rec := new(T)
	if err := bson.UnmarshalExtJSON(doc, false, rec); err != nil {
		return nil, fmt.Errorf("invalid document: %w", err)
	}
	return rec, nil
}

func formatRecord[T any](rec *T) ([]byte, error) {
	out, err := bson.MarshalExtJSON(rec, false, false)
	if err != nil {
		return nil, fmt.Errorf("format document: %w", err)
	}
	return out, nil
}

// documentArgs returns the documents given as arguments, or one document per
// non-blank stdin line when there are none.
func documentArgs(cmd *cobra.Command, args []string) ([][]byte, error) {
	if len(args) > 0 {
		docs := make([][]byte, len(args))
		for i, a := range args {
			docs[i] = []byte(a)
		}
		return docs, nil
	}
	return readLines(cmd.InOrStdin())
}

func readLines(r io.Reader) ([][]byte, error) {
	var docs [][]byte
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		docs = append(docs, []byte(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, errors.New("no documents given")
	}
	return docs, nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
