package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/p-n-ai/cab-academy/internal/coursegen"
	"github.com/p-n-ai/cab-academy/internal/docstore"
	"github.com/p-n-ai/cab-academy/internal/lms"
)

// Meta is the operator-supplied metadata stored with a generated course.
type Meta struct {
	Topic      string         `json:"topic" validate:"required"`
	Competency string         `json:"competency"`
	Difficulty lms.Difficulty `json:"difficulty" validate:"required,oneof=Beginner Intermediate Expert"`
	// CourseCode overrides DeriveCode(Topic) when set.
	CourseCode string `json:"courseCode,omitempty" validate:"max=64"`
}

// PersistResult lists the ids written by Persist.
type PersistResult struct {
	CourseID        string   `json:"courseId"`
	CourseCode      string   `json:"courseCode"`
	ExamID          string   `json:"examId"`
	ExamQuestionIDs []string `json:"examQuestionIds"`
	LessonIDs       []string `json:"lessonIds"`
	QuizIDs         []string `json:"quizIds"`
	Documents       int      `json:"documents"`
}

const persistTimeout = 30 * time.Second

// Writer fans a generated course out into the course collections.
type Writer struct {
	store docstore.Store
	now   func() time.Time
}

// NewWriter creates a Writer on store.
func NewWriter(store docstore.Store) *Writer {
	return &Writer{store: store, now: time.Now}
}

// Persist writes the exam questions, the exam, every lesson with its quiz
// and the course itself in one atomic batch. The course id is allocated
// first so the exam and lessons can reference it. The commit runs to
// completion even if ctx is cancelled.
func (w *Writer) Persist(ctx context.Context, course *coursegen.GeneratedCourse, meta Meta) (*PersistResult, error) {
	if course == nil {
		return nil, lms.Invalid("course", "generated course is required")
	}
	if err := lms.Check(meta); err != nil {
		return nil, err
	}

	code := meta.CourseCode
	if code == "" {
		code = DeriveCode(meta.Topic)
	}

	b := docstore.NewBatch()
	res := &PersistResult{
		CourseID:   w.store.NewID(),
		CourseCode: code,
		ExamID:     w.store.NewID(),
	}

	for _, q := range course.Questions {
		question := lms.Question{
			ID:            w.store.NewID(),
			Stem:          q.Stem,
			Options:       q.Options,
			CorrectAnswer: q.Answer,
			Difficulty:    q.Difficulty,
		}
		if err := question.Validate(); err != nil {
			return nil, fmt.Errorf("exam question %d: %w", len(res.ExamQuestionIDs)+1, err)
		}
		b.Set(lms.CollQuestions, question.ID, question)
		res.ExamQuestionIDs = append(res.ExamQuestionIDs, question.ID)
	}

	exam := lms.Exam{
		ID:          res.ExamID,
		CourseID:    res.CourseID,
		QuestionIDs: res.ExamQuestionIDs,
		Blueprint:   blueprint(course, meta),
		Essays:      course.Essays,
	}
	if err := exam.Validate(); err != nil {
		return nil, fmt.Errorf("exam: %w", err)
	}
	b.Set(lms.CollExams, exam.ID, exam)

	for i, gl := range course.Lessons {
		lesson := lms.Lesson{
			ID:       w.store.NewID(),
			CourseID: res.CourseID,
			Title:    gl.Title,
			Content:  gl.Content,
			Order:    i,
		}
		if len(gl.Quiz) > 0 {
			quiz := lms.Quiz{ID: w.store.NewID()}
			for _, item := range gl.Quiz {
				// Quiz items carry the course difficulty.
				question := lms.Question{
					ID:            w.store.NewID(),
					Stem:          item.Stem,
					Options:       item.Options,
					CorrectAnswer: item.Answer,
					Difficulty:    meta.Difficulty,
				}
				if err := question.Validate(); err != nil {
					return nil, fmt.Errorf("lesson %d quiz: %w", i+1, err)
				}
				b.Set(lms.CollQuestions, question.ID, question)
				quiz.QuestionIDs = append(quiz.QuestionIDs, question.ID)
			}
			b.Set(lms.CollQuizzes, quiz.ID, quiz)
			lesson.QuizID = quiz.ID
			res.QuizIDs = append(res.QuizIDs, quiz.ID)
		}
		if err := lesson.Validate(); err != nil {
			return nil, fmt.Errorf("lesson %d: %w", i+1, err)
		}
		b.Set(lms.CollLessons, lesson.ID, lesson)
		res.LessonIDs = append(res.LessonIDs, lesson.ID)
	}

	c := lms.Course{
		ID:          res.CourseID,
		Title:       course.Title,
		Description: course.Description,
		Competency:  meta.Competency,
		Difficulty:  meta.Difficulty,
		CourseCode:  code,
		CreatedAt:   w.now().UTC(),
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("course: %w", err)
	}
	b.Set(lms.CollCourses, c.ID, c)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := w.store.Commit(ctx, b); err != nil {
		return nil, fmt.Errorf("persist course: %w", err)
	}
	res.Documents = b.Len()

	slog.Info("course persisted",
		"course_id", res.CourseID,
		"course_code", code,
		"exam_id", res.ExamID,
		"lessons", len(res.LessonIDs),
		"documents", res.Documents,
	)
	return res, nil
}

func blueprint(course *coursegen.GeneratedCourse, meta Meta) string {
	return fmt.Sprintf("%d multiple-choice questions, %d essay prompts; %s level; topic: %s",
		len(course.Questions), len(course.Essays), meta.Difficulty, meta.Topic)
}
