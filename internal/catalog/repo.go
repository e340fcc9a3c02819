package catalog

import (
	"context"
	"fmt"

	"github.com/p-n-ai/cab-academy/internal/docstore"
	"github.com/p-n-ai/cab-academy/internal/lms"
)

// Record is a document type that validates itself before every write.
type Record interface {
	Validate() error
}

// Repo is a typed view of one collection.
type Repo[T Record] struct {
	store      docstore.Store
	collection string
	check      func(T) error
}

// NewRepo returns a Repo over collection. check, when non-nil, runs after
// struct validation on every Put.
func NewRepo[T Record](store docstore.Store, collection string, check func(T) error) Repo[T] {
	return Repo[T]{store: store, collection: collection, check: check}
}

// Collection returns the collection name.
func (r Repo[T]) Collection() string {
	return r.collection
}

// NewID allocates a document id.
func (r Repo[T]) NewID() string {
	return r.store.NewID()
}

// Get loads one record.
func (r Repo[T]) Get(ctx context.Context, id string) (T, error) {
	var v T
	if err := r.store.Get(ctx, r.collection, id, &v); err != nil {
		return v, fmt.Errorf("get %s: %w", r.collection, err)
	}
	return v, nil
}

// List returns every record matching filters.
func (r Repo[T]) List(ctx context.Context, filters ...docstore.Filter) ([]T, error) {
	docs, err := r.store.Query(ctx, r.collection, filters...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.collection, err)
	}
	return docstore.DecodeAll[T](docs)
}

// Put validates v and creates or replaces the record stored under id.
func (r Repo[T]) Put(ctx context.Context, id string, v T) error {
	if err := v.Validate(); err != nil {
		return err
	}
	if r.check != nil {
		if err := r.check(v); err != nil {
			return err
		}
	}
	if err := r.store.Set(ctx, r.collection, id, v); err != nil {
		return fmt.Errorf("save %s: %w", r.collection, err)
	}
	return nil
}

// Delete removes one record. Nothing that references it is touched.
func (r Repo[T]) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, r.collection, id); err != nil {
		return fmt.Errorf("delete %s: %w", r.collection, err)
	}
	return nil
}

// Catalog groups the repositories behind the admin forms.
type Catalog struct {
	Courses      Repo[lms.Course]
	Lessons      Repo[lms.Lesson]
	Modules      Repo[lms.Module]
	Chapters     Repo[lms.Chapter]
	Quizzes      Repo[lms.Quiz]
	Questions    Repo[lms.Question]
	Exams        Repo[lms.Exam]
	Roadmaps     Repo[lms.Roadmap]
	Masters      Repo[lms.MasterCourse]
	Achievements Repo[lms.AchievementDefinition]
}

// New builds a Catalog on store.
func New(store docstore.Store) *Catalog {
	return &Catalog{
		Courses:      NewRepo[lms.Course](store, lms.CollCourses, nil),
		Lessons:      NewRepo[lms.Lesson](store, lms.CollLessons, nil),
		Modules:      NewRepo[lms.Module](store, lms.CollModules, nil),
		Chapters:     NewRepo[lms.Chapter](store, lms.CollChapters, nil),
		Quizzes:      NewRepo[lms.Quiz](store, lms.CollQuizzes, nil),
		Questions:    NewRepo(store, lms.CollQuestions, checkAnswer),
		Exams:        NewRepo[lms.Exam](store, lms.CollExams, nil),
		Roadmaps:     NewRepo[lms.Roadmap](store, lms.CollRoadmaps, nil),
		Masters:      NewRepo[lms.MasterCourse](store, lms.CollMasters, nil),
		Achievements: NewRepo[lms.AchievementDefinition](store, lms.CollAchievements, nil),
	}
}

// checkAnswer rejects hand-authored questions whose answer is not an option.
// Generated questions bypass it and are stored as returned.
func checkAnswer(q lms.Question) error {
	if !q.AnswerInOptions() {
		return lms.Invalid("correctAnswer", "correctAnswer must be one of the options")
	}
	return nil
}
