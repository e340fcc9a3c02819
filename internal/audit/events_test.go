package audit_test

import (
	"context"
	"errors"
	"testing"

	"github.com/p-n-ai/cab-academy/internal/audit"
)

func TestMemoryLogger_LogEvent(t *testing.T) {
	logger := audit.NewMemoryLogger()

	err := logger.LogEvent(context.Background(), audit.Event{
		UserID:    "user-1",
		Type:      audit.ExamSubmitted,
		SubjectID: "exam-1",
		Data: map[string]any{
			"score": 80,
		},
	})
	if err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}

	events := logger.Events()
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(events))
	}
	if events[0].Type != audit.ExamSubmitted {
		t.Errorf("Type = %q, want %q", events[0].Type, audit.ExamSubmitted)
	}
	if events[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if got := logger.OfType(audit.SignedUp); len(got) != 0 {
		t.Errorf("OfType(signed_up) = %d, want 0", len(got))
	}
}

func TestMemoryLogger_RequiresType(t *testing.T) {
	if err := audit.NewMemoryLogger().LogEvent(context.Background(), audit.Event{UserID: "u"}); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestPostgresLogger_NilPool(t *testing.T) {
	logger := audit.NewPostgresLogger(nil)

	err := logger.LogEvent(context.Background(), audit.Event{Type: audit.SignedUp})
	if err == nil {
		t.Fatal("expected error for nil pool")
	}
	if err := logger.Migrate(context.Background()); err == nil {
		t.Fatal("Migrate() should fail for nil pool")
	}
}

type failingLogger struct{ calls int }

func (f *failingLogger) LogEvent(context.Context, audit.Event) error {
	f.calls++
	return errors.New("down")
}

func TestLog_SwallowsErrors(t *testing.T) {
	f := &failingLogger{}
	audit.Log(context.Background(), f, audit.Event{Type: audit.Enrolled})
	audit.Log(context.Background(), nil, audit.Event{Type: audit.Enrolled})
	if f.calls != 1 {
		t.Errorf("calls = %d, want 1", f.calls)
	}
}
