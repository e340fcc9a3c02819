// Package docstore is a small document-database client: schemaless JSON
// documents grouped in collections, single-document reads and writes,
// equality queries and atomic multi-document batches.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrPermissionDenied is returned when the store refuses a write.
	ErrPermissionDenied = errors.New("permission denied")
)

// Store is the handle every flow receives explicitly.
type Store interface {
	// NewID allocates a fresh document id without writing anything.
	NewID() string
	Get(ctx context.Context, collection, id string, dst any) error
	// GetMany returns the documents that exist among ids, in no particular order.
	GetMany(ctx context.Context, collection string, ids []string) ([]Document, error)
	// Query returns every document in collection matching all filters.
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	Set(ctx context.Context, collection, id string, v any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	// Commit applies every operation in b atomically: all or none.
	Commit(ctx context.Context, b *Batch) error
	HealthCheck(ctx context.Context) error
}

// Document is a raw stored document.
type Document struct {
	Collection string
	ID         string
	Data       json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Decode unmarshals the document body into dst.
func (d Document) Decode(dst any) error {
	if err := json.Unmarshal(d.Data, dst); err != nil {
		return fmt.Errorf("decode %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// DecodeAll decodes every document into a T.
func DecodeAll[T any](docs []Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := d.Decode(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Filter is a top-level field equality condition on scalar values.
type Filter struct {
	Field string
	Value any
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// SubCollection returns the path of a collection nested under a document,
// e.g. SubCollection("users", "u1", "achievements") = "users/u1/achievements".
func SubCollection(parent, id, name string) string {
	return strings.Join([]string{parent, id, name}, "/")
}

// NewID returns a random document id.
func NewID() string {
	return uuid.NewString()
}

// OpKind identifies a batched write.
type OpKind int

const (
	OpSet OpKind = iota
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is a single write inside a Batch.
type Op struct {
	Kind       OpKind
	Collection string
	ID         string
	Value      any            // OpSet
	Fields     map[string]any // OpUpdate
}

// Payload returns the value written by the op, for diagnostics.
func (o Op) Payload() any {
	if o.Kind == OpUpdate {
		return o.Fields
	}
	return o.Value
}

// Batch accumulates writes that Commit applies atomically.
type Batch struct {
	ops []Op
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Set creates or replaces a document.
func (b *Batch) Set(collection, id string, v any) *Batch {
	b.ops = append(b.ops, Op{Kind: OpSet, Collection: collection, ID: id, Value: v})
	return b
}

// Update merges top-level fields into an existing document.
func (b *Batch) Update(collection, id string, fields map[string]any) *Batch {
	b.ops = append(b.ops, Op{Kind: OpUpdate, Collection: collection, ID: id, Fields: fields})
	return b
}

// Delete removes a document. Deleting a missing document is not an error.
func (b *Batch) Delete(collection, id string) *Batch {
	b.ops = append(b.ops, Op{Kind: OpDelete, Collection: collection, ID: id})
	return b
}

// Ops returns a copy of the queued operations.
func (b *Batch) Ops() []Op {
	return append([]Op(nil), b.ops...)
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// WriteError describes a failed write with enough context for a diagnostic
// overlay to show the exact operation and payload.
type WriteError struct {
	Op         string
	Collection string
	ID         string
	Payload    any
	At         time.Time
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Collection, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsPermissionDenied reports whether err is a refused write.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

func newWriteError(op Op, err error) *WriteError {
	return &WriteError{
		Op:         op.Kind.String(),
		Collection: op.Collection,
		ID:         op.ID,
		Payload:    op.Payload(),
		At:         time.Now().UTC(),
		Err:        err,
	}
}

func validateOp(op Op) error {
	if op.Collection == "" || op.ID == "" {
		return fmt.Errorf("collection and id are required")
	}
	if op.Kind == OpUpdate && len(op.Fields) == 0 {
		return fmt.Errorf("update requires at least one field")
	}
	return nil
}

func filterDoc(filters []Filter) ([]byte, error) {
	m := make(map[string]any, len(filters))
	for _, f := range filters {
		m[f.Field] = f.Value
	}
	return json.Marshal(m)
}
