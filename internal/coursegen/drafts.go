package coursegen

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/p-n-ai/cab-academy/internal/platform/cache"
)

// ErrDraftNotFound is returned for unknown or expired drafts.
var ErrDraftNotFound = errors.New("draft not found")

// Draft is a generated course waiting for an operator to persist it.
type Draft struct {
	ID        string           `json:"id"`
	Params    Params           `json:"params"`
	Course    *GeneratedCourse `json:"course"`
	CreatedBy string           `json:"createdBy"`
	CreatedAt time.Time        `json:"createdAt"`
}

// DraftCache keeps drafts between generation and persistence.
type DraftCache interface {
	Put(ctx context.Context, d *Draft) error
	Get(ctx context.Context, id string) (*Draft, error)
	Delete(ctx context.Context, id string) error
}

// RedisDraftCache stores drafts in Dragonfly/Redis with a TTL.
type RedisDraftCache struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewRedisDraftCache creates a Redis-backed draft cache.
func NewRedisDraftCache(c *cache.Cache, ttl time.Duration) *RedisDraftCache {
	return &RedisDraftCache{cache: c, ttl: ttl}
}

func draftKey(id string) string {
	return "draft:" + id
}

func (r *RedisDraftCache) Put(ctx context.Context, d *Draft) error {
	if err := r.cache.SetJSON(ctx, draftKey(d.ID), d, r.ttl); err != nil {
		return fmt.Errorf("store draft: %w", err)
	}
	return nil
}

func (r *RedisDraftCache) Get(ctx context.Context, id string) (*Draft, error) {
	var d Draft
	err := r.cache.GetJSON(ctx, draftKey(id), &d)
	if errors.Is(err, cache.ErrMiss) {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	return &d, nil
}

func (r *RedisDraftCache) Delete(ctx context.Context, id string) error {
	return r.cache.Delete(ctx, draftKey(id))
}

type memDraft struct {
	draft   Draft
	expires time.Time
}

// MemoryDraftCache is the in-process DraftCache used when the cache is disabled.
type MemoryDraftCache struct {
	mu     sync.Mutex
	drafts map[string]memDraft
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryDraftCache creates an in-memory draft cache.
func NewMemoryDraftCache(ttl time.Duration) *MemoryDraftCache {
	return &MemoryDraftCache{
		drafts: make(map[string]memDraft),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (m *MemoryDraftCache) Put(_ context.Context, d *Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evict()
	m.drafts[d.ID] = memDraft{draft: *d, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryDraftCache) Get(_ context.Context, id string) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.drafts[id]
	if !ok || !m.now().Before(entry.expires) {
		delete(m.drafts, id)
		return nil, ErrDraftNotFound
	}
	d := entry.draft
	return &d, nil
}

func (m *MemoryDraftCache) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, id)
	return nil
}

// evict drops expired drafts. Callers hold m.mu.
func (m *MemoryDraftCache) evict() {
	now := m.now()
	for id, entry := range m.drafts {
		if !now.Before(entry.expires) {
			delete(m.drafts, id)
		}
	}
}
