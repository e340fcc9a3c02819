package exam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/p-n-ai/cab-academy/internal/docstore"
	"github.com/p-n-ai/cab-academy/internal/lms"
)

const (
	// PassThreshold is the lowest passing score.
	PassThreshold = 70
	// DefaultCost is the token price of one submission.
	DefaultCost = 10

	submitTimeout = 30 * time.Second
)

// Result is the outcome of a submitted session.
type Result struct {
	Attempt lms.Attempt           `json:"attempt"`
	Correct int                   `json:"correct"`
	Total   int                   `json:"total"`
	Balance int                   `json:"balance"`
	Awarded []lms.UserAchievement `json:"awarded,omitempty"`
}

// Score counts exact-match answers and rounds the percentage half up.
func Score(questions []lms.Question, answers map[string]string) (correct, score int) {
	if len(questions) == 0 {
		return 0, 0
	}
	for _, q := range questions {
		if a, ok := answers[q.ID]; ok && a == q.CorrectAnswer {
			correct++
		}
	}
	score = int(math.Floor(100*float64(correct)/float64(len(questions)) + 0.5))
	return correct, score
}

// Passed reports whether score meets PassThreshold.
func Passed(score int) bool {
	return score >= PassThreshold
}

// Service starts and submits exam sessions against the document store.
type Service struct {
	store docstore.Store
	cost  int
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithCost sets the token cost of a submission.
func WithCost(cost int) Option {
	return func(s *Service) {
		s.cost = cost
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service on store.
func NewService(store docstore.Store, opts ...Option) *Service {
	s := &Service{store: store, cost: DefaultCost, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cost returns the token price of one submission.
func (s *Service) Cost() int {
	return s.cost
}

// Start loads examID and its questions into a new InProgress session.
// Questions come back from the store in arbitrary order and are put back
// into the order stored on the exam.
func (s *Service) Start(ctx context.Context, userID, examID string) (*Session, error) {
	sess := newSession(s.store.NewID(), userID, s.now().UTC())

	var ex lms.Exam
	if err := s.store.Get(ctx, lms.CollExams, examID, &ex); err != nil {
		return nil, fmt.Errorf("load exam: %w", err)
	}
	if len(ex.QuestionIDs) == 0 {
		return nil, ErrNoQuestions
	}

	docs, err := s.store.GetMany(ctx, lms.CollQuestions, ex.QuestionIDs)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	byID := make(map[string]lms.Question, len(docs))
	for _, d := range docs {
		var q lms.Question
		if err := d.Decode(&q); err != nil {
			return nil, fmt.Errorf("decode question %s: %w", d.ID, err)
		}
		if q.ID == "" {
			q.ID = d.ID
		}
		byID[d.ID] = q
	}

	questions := make([]lms.Question, 0, len(ex.QuestionIDs))
	for _, id := range ex.QuestionIDs {
		q, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("load question %s: %w", id, docstore.ErrNotFound)
		}
		questions = append(questions, q)
	}

	sess.load(ex, questions)
	slog.Info("exam session started",
		"session_id", sess.ID,
		"user_id", userID,
		"exam_id", examID,
		"questions", len(questions),
	)
	return sess, nil
}

// Submit scores a confirmed session, checks the token balance and commits
// the attempt, the new balance and any achievements in one batch. Any error
// leaves the session Failed and nothing written.
//
// Two sessions for the same user and exam can both be submitted; each one
// creates an attempt and deducts the cost.
//
// Cancelling ctx does not stop a submission that has begun; a caller that
// goes away only loses the result.
func (s *Service) Submit(ctx context.Context, sess *Session) (*Result, error) {
	questions, answers, err := sess.beginSubmit()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
	defer cancel()

	res, err := s.submit(ctx, sess, questions, answers)
	sess.finish(res, err)
	if err != nil {
		slog.Warn("exam submission failed",
			"session_id", sess.ID,
			"user_id", sess.UserID,
			"exam_id", sess.Exam.ID,
			"error", err,
		)
		return nil, err
	}

	slog.Info("exam submitted",
		"session_id", sess.ID,
		"user_id", sess.UserID,
		"exam_id", sess.Exam.ID,
		"score", res.Attempt.Score,
		"pass", res.Attempt.Pass,
		"awarded", len(res.Awarded),
	)
	return res, nil
}

func (s *Service) submit(ctx context.Context, sess *Session, questions []lms.Question, answers map[string]string) (*Result, error) {
	correct, score := Score(questions, answers)
	now := s.now().UTC()

	var profile lms.UserProfile
	if err := s.store.Get(ctx, lms.CollUsers, sess.UserID, &profile); err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if profile.CabTokens < s.cost {
		return nil, fmt.Errorf("balance %d, cost %d: %w", profile.CabTokens, s.cost, ErrInsufficientTokens)
	}

	attempt := lms.Attempt{
		ID:        s.store.NewID(),
		UserID:    sess.UserID,
		ExamID:    sess.Exam.ID,
		CourseID:  sess.Exam.CourseID,
		Score:     score,
		Pass:      Passed(score),
		Timestamp: now,
		Answers:   answers,
	}
	if err := attempt.Validate(); err != nil {
		return nil, err
	}

	res := &Result{
		Attempt: attempt,
		Correct: correct,
		Total:   len(questions),
		Balance: profile.CabTokens - s.cost,
	}

	// The balance is written as an absolute value, so concurrent submissions
	// race and the last commit wins.
	b := docstore.NewBatch().
		Set(lms.CollAttempts, attempt.ID, attempt).
		Update(lms.CollUsers, sess.UserID, map[string]any{"cabTokens": res.Balance})

	if attempt.Pass && sess.Exam.CourseID != "" {
		defs, err := s.store.Query(ctx, lms.CollAchievements, docstore.Eq("courseId", sess.Exam.CourseID))
		if err != nil {
			return nil, fmt.Errorf("find achievements: %w", err)
		}
		coll := docstore.SubCollection(lms.CollUsers, sess.UserID, lms.CollAchievements)
		for _, d := range defs {
			var def lms.AchievementDefinition
			if err := d.Decode(&def); err != nil {
				return nil, fmt.Errorf("decode achievement %s: %w", d.ID, err)
			}
			award := lms.UserAchievement{
				ID:           s.store.NewID(),
				UserID:       sess.UserID,
				Pair:         def.Pair,
				DefinitionID: d.ID,
				CourseID:     def.CourseID,
				AwardedAt:    now,
			}
			b.Set(coll, award.ID, award)
			res.Awarded = append(res.Awarded, award)
		}
	}

	if err := s.store.Commit(ctx, b); err != nil {
		return nil, fmt.Errorf("commit attempt: %w", err)
	}
	return res, nil
}

// History returns the user's attempts, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]lms.Attempt, error) {
	docs, err := s.store.Query(ctx, lms.CollAttempts, docstore.Eq("userId", userID))
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	attempts, err := docstore.DecodeAll[lms.Attempt](docs)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].Timestamp.After(attempts[j].Timestamp)
	})
	return attempts, nil
}

// AllAttempts returns every attempt, oldest first, for reporting.
func (s *Service) AllAttempts(ctx context.Context) ([]lms.Attempt, error) {
	docs, err := s.store.Query(ctx, lms.CollAttempts)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	attempts, err := docstore.DecodeAll[lms.Attempt](docs)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].Timestamp.Before(attempts[j].Timestamp)
	})
	return attempts, nil
}

// IsBusinessRule reports whether err is a rejection that wrote nothing and
// should be shown to the user as is.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrInsufficientTokens) ||
		errors.Is(err, ErrIncomplete) ||
		errors.Is(err, ErrNoQuestions)
}
