// Package curriculum loads seed content (topics, master courses, roadmaps
// and achievement definitions) from YAML and writes it to the store.
package curriculum

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/p-n-ai/cab-academy/internal/docstore"
	"github.com/p-n-ai/cab-academy/internal/lms"
)

// Loader loads and caches seed content from the filesystem.
type Loader struct {
	rootDir       string
	topics        map[string]Topic
	syllabusNotes map[string]string
	masters       map[string]lms.MasterCourse
	roadmaps      map[string]lms.Roadmap
	achievements  map[string]lms.AchievementDefinition
	mu            sync.RWMutex
}

// NewLoader creates a new loader and loads everything under rootDir.
// A missing directory yields an empty loader.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir:       rootDir,
		topics:        make(map[string]Topic),
		syllabusNotes: make(map[string]string),
		masters:       make(map[string]lms.MasterCourse),
		roadmaps:      make(map[string]lms.Roadmap),
		achievements:  make(map[string]lms.AchievementDefinition),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}

	slog.Info("curriculum loaded",
		"topics", len(l.topics),
		"master_courses", len(l.masters),
		"roadmaps", len(l.roadmaps),
		"achievements", len(l.achievements),
	)
	return l, nil
}

// GetTopic returns a topic by ID. Syllabus notes from a matching
// .syllabus.md file are appended to the topic's own syllabus.
func (l *Loader) GetTopic(id string) (Topic, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.topics[id]
	if !ok {
		return t, false
	}
	if notes, ok := l.syllabusNotes[id]; ok {
		t.Syllabus = strings.TrimSpace(t.Syllabus + "\n\n" + notes)
	}
	return t, true
}

// AllTopics returns all loaded topics sorted by ID.
func (l *Loader) AllTopics() []Topic {
	l.mu.RLock()
	ids := make([]string, 0, len(l.topics))
	for id := range l.topics {
		ids = append(ids, id)
	}
	l.mu.RUnlock()

	sort.Strings(ids)
	topics := make([]Topic, 0, len(ids))
	for _, id := range ids {
		t, _ := l.GetTopic(id)
		topics = append(topics, t)
	}
	return topics
}

// MasterCourses returns the loaded master courses sorted by ID.
func (l *Loader) MasterCourses() []lms.MasterCourse {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedValues(l.masters)
}

// Roadmaps returns the loaded roadmaps sorted by ID.
func (l *Loader) Roadmaps() []lms.Roadmap {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedValues(l.roadmaps)
}

// Achievements returns the loaded achievement definitions sorted by ID.
func (l *Loader) Achievements() []lms.AchievementDefinition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedValues(l.achievements)
}

// Apply inserts the seeded master courses, roadmaps and achievement
// definitions that are not stored yet, in one batch, and returns how many
// documents it wrote. Stored documents are left alone so edits made through
// the admin API survive a restart.
func (l *Loader) Apply(ctx context.Context, store docstore.Store) (int, error) {
	b := docstore.NewBatch()
	if err := addMissing(ctx, store, b, lms.CollMasters, l.MasterCourses(), func(m lms.MasterCourse) string { return m.ID }); err != nil {
		return 0, err
	}
	if err := addMissing(ctx, store, b, lms.CollRoadmaps, l.Roadmaps(), func(r lms.Roadmap) string { return r.ID }); err != nil {
		return 0, err
	}
	if err := addMissing(ctx, store, b, lms.CollAchievements, l.Achievements(), func(a lms.AchievementDefinition) string { return a.ID }); err != nil {
		return 0, err
	}
	if b.Len() == 0 {
		return 0, nil
	}
	if err := store.Commit(ctx, b); err != nil {
		return 0, fmt.Errorf("apply seed: %w", err)
	}
	slog.Info("seed applied", "documents", b.Len())
	return b.Len(), nil
}

// addMissing queues a Set for every item whose id is absent from collection.
func addMissing[T any](ctx context.Context, store docstore.Store, b *docstore.Batch, collection string, items []T, id func(T) string) error {
	if len(items) == 0 {
		return nil
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = id(item)
	}
	existing, err := store.GetMany(ctx, collection, ids)
	if err != nil {
		return fmt.Errorf("check seeded %s: %w", collection, err)
	}
	stored := make(map[string]bool, len(existing))
	for _, d := range existing {
		stored[d.ID] = true
	}
	for _, item := range items {
		if !stored[id(item)] {
			b.Set(collection, id(item), item)
		}
	}
	return nil
}

func (l *Loader) loadAll() error {
	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}

		switch {
		case strings.HasSuffix(path, ".syllabus.md"):
			return l.loadSyllabusNotes(path)
		case strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml"):
			return l.loadFile(path)
		}
		return nil
	})
}

func (l *Loader) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		slog.Warn("skipping invalid seed YAML", "path", path, "error", err)
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, t := range f.Topics {
		if t.ID == "" || t.Name == "" || !t.Difficulty.Valid() {
			slog.Warn("skipping invalid topic", "path", path, "id", t.ID)
			continue
		}
		l.topics[t.ID] = t
	}
	for _, m := range f.MasterCourses {
		if err := m.Validate(); err != nil {
			slog.Warn("skipping invalid master course", "path", path, "id", m.ID, "error", err)
			continue
		}
		l.masters[m.ID] = m
	}
	for _, r := range f.Roadmaps {
		if err := r.Validate(); err != nil {
			slog.Warn("skipping invalid roadmap", "path", path, "id", r.ID, "error", err)
			continue
		}
		l.roadmaps[r.ID] = r
	}
	for _, a := range f.Achievements {
		if err := a.Validate(); err != nil {
			slog.Warn("skipping invalid achievement", "path", path, "id", a.ID, "error", err)
			continue
		}
		l.achievements[a.ID] = a
	}
	return nil
}

// loadSyllabusNotes attaches foo.syllabus.md to every topic declared in foo.yaml.
func (l *Loader) loadSyllabusNotes(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	yamlPath := strings.TrimSuffix(path, ".syllabus.md") + ".yaml"
	yamlData, err := os.ReadFile(yamlPath)
	if err != nil {
		return nil // No matching YAML, skip
	}

	var partial struct {
		Topics []struct {
			ID string `yaml:"id"`
		} `yaml:"topics"`
	}
	if err := yaml.Unmarshal(yamlData, &partial); err != nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range partial.Topics {
		if t.ID != "" {
			l.syllabusNotes[t.ID] = string(data)
		}
	}
	return nil
}

func sortedValues[T any](m map[string]T) []T {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}
