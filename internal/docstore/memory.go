package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"
)

// Rule inspects a pending write and returns a non-nil error to refuse it.
type Rule func(op Op) error

// DenyCollection refuses every write to collections starting with prefix.
func DenyCollection(prefix string) Rule {
	return func(op Op) error {
		if strings.HasPrefix(op.Collection, prefix) {
			return ErrPermissionDenied
		}
		return nil
	}
}

type memDoc struct {
	data      []byte
	createdAt time.Time
	updatedAt time.Time
}

// MemoryStore is an in-memory Store used by tests and single-process dev runs.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]map[string]memDoc
	rules    []Rule
	reporter Reporter
	writes   int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryReporter sets the failed-write reporter.
func WithMemoryReporter(r Reporter) MemoryOption {
	return func(s *MemoryStore) {
		s.reporter = r
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		docs:     make(map[string]map[string]memDoc),
		reporter: NopReporter{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddRule installs a write rule.
func (s *MemoryStore) AddRule(rule Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule)
}

// ClearRules removes every write rule.
func (s *MemoryStore) ClearRules() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = nil
}

// Count returns the number of documents in collection.
func (s *MemoryStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs[collection])
}

// Writes returns how many operations have been committed.
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *MemoryStore) NewID() string {
	return NewID()
}

func (s *MemoryStore) Get(_ context.Context, collection, id string, dst any) error {
	s.mu.RLock()
	doc, ok := s.docs[collection][id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return Document{Collection: collection, ID: id, Data: doc.data}.Decode(dst)
}

func (s *MemoryStore) GetMany(_ context.Context, collection string, ids []string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(ids))
	var out []Document
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if doc, ok := s.docs[collection][id]; ok {
			out = append(out, toDocument(collection, id, doc))
		}
	}
	// Lookup order is not preserved, the same as a batched "in" query.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Query(_ context.Context, collection string, filters ...Filter) ([]Document, error) {
	want := make(map[string]any, len(filters))
	for _, f := range filters {
		v, err := normalize(f.Value)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", f.Field, err)
		}
		want[f.Field] = v
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Document
	for id, doc := range s.docs[collection] {
		if len(want) > 0 {
			var fields map[string]any
			if err := json.Unmarshal(doc.data, &fields); err != nil {
				return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
			}
			if !matches(fields, want) {
				continue
			}
		}
		out = append(out, toDocument(collection, id, doc))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, v any) error {
	return s.Commit(ctx, NewBatch().Set(collection, id, v))
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return s.Commit(ctx, NewBatch().Update(collection, id, fields))
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	return s.Commit(ctx, NewBatch().Delete(collection, id))
}

func (s *MemoryStore) Commit(ctx context.Context, b *Batch) error {
	if b == nil || b.Len() == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if we := s.apply(b); we != nil {
		s.reporter.Report(we)
		return we
	}
	return nil
}

// apply stages and commits b under the write lock.
func (s *MemoryStore) apply(b *Batch) *WriteError {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stage every op against a private view so a failure leaves nothing behind.
	type key struct{ collection, id string }
	staged := make(map[key]*memDoc)
	lookup := func(k key) (*memDoc, bool) {
		if d, ok := staged[k]; ok {
			return d, d != nil
		}
		d, ok := s.docs[k.collection][k.id]
		if !ok {
			return nil, false
		}
		return &d, true
	}

	fail := func(op Op, err error) *WriteError {
		return newWriteError(op, err)
	}

	now := time.Now().UTC()
	for _, op := range b.ops {
		if err := s.check(op); err != nil {
			return fail(op, err)
		}
		k := key{op.Collection, op.ID}
		switch op.Kind {
		case OpSet:
			data, err := json.Marshal(op.Value)
			if err != nil {
				return fail(op, fmt.Errorf("marshal document: %w", err))
			}
			created := now
			if prev, ok := lookup(k); ok {
				created = prev.createdAt
			}
			staged[k] = &memDoc{data: data, createdAt: created, updatedAt: now}
		case OpUpdate:
			prev, ok := lookup(k)
			if !ok {
				return fail(op, ErrNotFound)
			}
			data, err := merge(prev.data, op.Fields)
			if err != nil {
				return fail(op, err)
			}
			staged[k] = &memDoc{data: data, createdAt: prev.createdAt, updatedAt: now}
		case OpDelete:
			staged[k] = nil
		}
	}

	for k, d := range staged {
		if d == nil {
			delete(s.docs[k.collection], k.id)
			continue
		}
		if s.docs[k.collection] == nil {
			s.docs[k.collection] = make(map[string]memDoc)
		}
		s.docs[k.collection][k.id] = *d
	}
	s.writes += b.Len()
	return nil
}

func (s *MemoryStore) HealthCheck(context.Context) error {
	return nil
}

func (s *MemoryStore) check(op Op) error {
	if err := validateOp(op); err != nil {
		return err
	}
	for _, rule := range s.rules {
		if err := rule(op); err != nil {
			return err
		}
	}
	return nil
}

func toDocument(collection, id string, d memDoc) Document {
	return Document{
		Collection: collection,
		ID:         id,
		Data:       bytes.Clone(d.data),
		CreatedAt:  d.createdAt,
		UpdatedAt:  d.updatedAt,
	}
}

func merge(data []byte, fields map[string]any) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode stored document: %w", err)
	}
	if m == nil {
		m = make(map[string]any)
	}
	for k, v := range fields {
		m[k] = v
	}
	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal merged document: %w", err)
	}
	return out, nil
}

// normalize round-trips v through JSON so it compares equal to decoded fields.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func matches(fields, want map[string]any) bool {
	for k, v := range want {
		got, ok := fields[k]
		if !ok || !reflect.DeepEqual(got, v) {
			return false
		}
	}
	return true
}
