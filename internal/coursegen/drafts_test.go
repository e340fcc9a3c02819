package coursegen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/p-n-ai/cab-academy/internal/platform/cache"
)

func TestMemoryDraftCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	drafts := NewMemoryDraftCache(time.Hour)
	drafts.now = func() time.Time { return now }

	d := &Draft{ID: "d1", Params: Params{Topic: "ISO"}, Course: &GeneratedCourse{Title: "ISO"}}
	if err := drafts.Put(ctx, d); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := drafts.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Course.Title != "ISO" {
		t.Errorf("Course.Title = %q, want ISO", got.Course.Title)
	}

	now = now.Add(time.Hour)
	if _, err := drafts.Get(ctx, "d1"); !errors.Is(err, ErrDraftNotFound) {
		t.Errorf("Get() after TTL error = %v, want ErrDraftNotFound", err)
	}
}

func TestMemoryDraftCache_Delete(t *testing.T) {
	ctx := context.Background()
	drafts := NewMemoryDraftCache(time.Hour)
	_ = drafts.Put(ctx, &Draft{ID: "d1"})

	if err := drafts.Delete(ctx, "d1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := drafts.Get(ctx, "d1"); !errors.Is(err, ErrDraftNotFound) {
		t.Errorf("Get() error = %v, want ErrDraftNotFound", err)
	}
}

func TestRedisDraftCache_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	drafts := NewRedisDraftCache(cache.NewWithClient(client), time.Minute)

	_, err := drafts.Get(context.Background(), "d1")
	if err == nil {
		t.Fatal("Get() should fail without a server")
	}
	if errors.Is(err, ErrDraftNotFound) {
		t.Error("a connection failure must not look like a missing draft")
	}
}

func TestDraftKey(t *testing.T) {
	if got := draftKey("abc"); got != "draft:abc" {
		t.Errorf("draftKey() = %q, want draft:abc", got)
	}
}
