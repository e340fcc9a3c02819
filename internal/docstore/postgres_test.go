package docstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/p-n-ai/cab-academy/internal/docstore"
	"github.com/p-n-ai/cab-academy/internal/platform/database"
)

func newPostgresStore(t *testing.T) (*docstore.PostgresStore, *docstore.Recorder) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("cab"),
		postgres.WithUsername("cab"),
		postgres.WithPassword("cab"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	db, err := database.New(ctx, dsn, 4, 1)
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(db.Close)

	rec := docstore.NewRecorder(10)
	store, err := docstore.NewPostgresStore(db, rec)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return store, rec
}

func TestNewPostgresStore_NilDB(t *testing.T) {
	if _, err := docstore.NewPostgresStore(nil, nil); err == nil {
		t.Fatal("NewPostgresStore(nil) should return error")
	}
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	store, _ := newPostgresStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "notes", "n1", note{Title: "one", Owner: "u1", Points: 1}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "notes", "n2", note{Title: "two", Owner: "u2", Points: 1}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Update(ctx, "notes", "n1", map[string]any{"points": 9}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	var got note
	if err := store.Get(ctx, "notes", "n1", &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Points != 9 || got.Title != "one" {
		t.Errorf("Get() = %+v, want merged update", got)
	}

	docs, err := store.Query(ctx, "notes", docstore.Eq("owner", "u2"))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "n2" {
		t.Errorf("Query() = %+v, want n2 only", docs)
	}

	many, err := store.GetMany(ctx, "notes", []string{"n2", "missing", "n1"})
	if err != nil {
		t.Fatalf("GetMany() error = %v", err)
	}
	if len(many) != 2 {
		t.Errorf("len(GetMany()) = %d, want 2", len(many))
	}

	err = store.Get(ctx, "notes", "missing", &got)
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_CommitRollsBack(t *testing.T) {
	store, rec := newPostgresStore(t)
	ctx := context.Background()

	b := docstore.NewBatch().
		Set("notes", "a", note{Title: "a"}).
		Update("notes", "does-not-exist", map[string]any{"points": 1})

	err := store.Commit(ctx, b)
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("Commit() error = %v, want ErrNotFound", err)
	}

	var got note
	if err := store.Get(ctx, "notes", "a", &got); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("document a should not exist after rollback, err = %v", err)
	}
	if len(rec.Recent()) != 1 {
		t.Errorf("len(Recent()) = %d, want 1 reported failure", len(rec.Recent()))
	}
}
