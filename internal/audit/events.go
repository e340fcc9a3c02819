// Package audit records domain events (sign-ups, generated courses, exam
// submissions) for later analysis.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/cab-academy/internal/platform/database"
)

const dbTimeout = 5 * time.Second

// Event types.
const (
	SignedUp        = "signed_up"
	CourseGenerated = "course_generated"
	CoursePersisted = "course_persisted"
	Enrolled        = "enrolled"
	ExamSubmitted   = "exam_submitted"
	ExamFailed      = "exam_submit_failed"
	EssayGraded     = "essay_graded"
	RoleGranted     = "role_granted"
)

// Schema creates the events table.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id         BIGSERIAL PRIMARY KEY,
		user_id    TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		subject_id TEXT NOT NULL DEFAULT '',
		data       JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS events_user_idx ON events (user_id, created_at)`,
}

// Event is one recorded domain event.
type Event struct {
	UserID    string
	Type      string
	SubjectID string // course, exam or draft the event is about
	Data      map[string]any
	CreatedAt time.Time
}

// Logger records events.
type Logger interface {
	LogEvent(ctx context.Context, event Event) error
}

// Log records event on l and only logs a failure; events never fail a request.
func Log(ctx context.Context, l Logger, event Event) {
	if l == nil {
		return
	}
	if err := l.LogEvent(ctx, event); err != nil {
		slog.Warn("audit event dropped", "type", event.Type, "error", err)
	}
}

// NopLogger ignores all events.
type NopLogger struct{}

func (NopLogger) LogEvent(context.Context, Event) error {
	return nil
}

// MemoryLogger stores events in memory for tests and dev runs.
type MemoryLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{
		events: []Event{},
	}
}

func (l *MemoryLogger) LogEvent(_ context.Context, event Event) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()

	return nil
}

// Events returns a copy of every recorded event.
func (l *MemoryLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

// OfType returns the recorded events of type typ.
func (l *MemoryLogger) OfType(typ string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// PostgresLogger inserts events into the events table.
type PostgresLogger struct {
	db *database.DB
}

func NewPostgresLogger(db *database.DB) *PostgresLogger {
	return &PostgresLogger{db: db}
}

// Migrate applies Schema.
func (l *PostgresLogger) Migrate(ctx context.Context) error {
	if l == nil || l.db == nil || l.db.Pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	return l.db.Migrate(ctx, Schema...)
}

func (l *PostgresLogger) LogEvent(ctx context.Context, event Event) error {
	if l == nil || l.db == nil || l.db.Pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}

	payload := event.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := l.db.Pool.Exec(ctx,
		`INSERT INTO events (user_id, event_type, subject_id, data, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)`,
		event.UserID,
		event.Type,
		event.SubjectID,
		string(data),
		createdAt,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged",
		"type", event.Type,
		"user_id", event.UserID,
		"subject_id", event.SubjectID,
	)
	return nil
}
