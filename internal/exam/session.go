// Package exam runs exam sessions: answer collection, scoring, token
// deduction and achievement awards.
package exam

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/p-n-ai/cab-academy/internal/lms"
)

// State is the lifecycle position of a Session.
type State int

const (
	Loading State = iota
	InProgress
	ConfirmPending
	Submitting
	Submitted
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case InProgress:
		return "in_progress"
	case ConfirmPending:
		return "confirm_pending"
	case Submitting:
		return "submitting"
	case Submitted:
		return "submitted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	ErrInsufficientTokens = errors.New("insufficient CAB tokens")
	ErrNoQuestions        = errors.New("exam has no questions")
	ErrIncomplete         = errors.New("every question must be answered before submitting")
	ErrInvalidState       = errors.New("invalid session state")
	ErrUnknownQuestion    = errors.New("question is not part of this exam")
	ErrUnknownOption      = errors.New("choice is not one of the options")
	ErrOutOfRange         = errors.New("question index out of range")
)

// Session is one user's pass through an exam. All methods are safe for
// concurrent use; the HTTP and websocket surfaces may share a session.
type Session struct {
	ID        string
	UserID    string
	Exam      lms.Exam
	StartedAt time.Time

	mu        sync.Mutex
	questions []lms.Question
	state     State
	index     int
	answers   map[string]string
	result    *Result
	err       error
}

func newSession(id, userID string, now time.Time) *Session {
	return &Session{
		ID:        id,
		UserID:    userID,
		StartedAt: now,
		state:     Loading,
		answers:   make(map[string]string),
	}
}

// load moves a Loading session to InProgress with questions in exam order.
func (s *Session) load(exam lms.Exam, questions []lms.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Exam = exam
	s.questions = questions
	s.state = InProgress
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Index returns the current question index.
func (s *Session) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// Len returns the number of questions.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.questions)
}

// Questions returns the questions in exam order.
func (s *Session) Questions() []lms.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.questions)
}

// Answers returns a copy of the recorded answers keyed by question id.
func (s *Session) Answers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}

// Result returns the submission result once the session is Submitted.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Err returns the error that moved the session to Failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Answer records choice for questionID, replacing any earlier answer.
func (s *Session) Answer(questionID, choice string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != InProgress {
		return fmt.Errorf("answer in state %s: %w", s.state, ErrInvalidState)
	}
	i := slices.IndexFunc(s.questions, func(q lms.Question) bool { return q.ID == questionID })
	if i < 0 {
		return fmt.Errorf("answer %s: %w", questionID, ErrUnknownQuestion)
	}
	if !slices.Contains(s.questions[i].Options, choice) {
		return fmt.Errorf("answer %s: %w", questionID, ErrUnknownOption)
	}
	s.answers[questionID] = choice
	return nil
}

// Next moves to the following question and reports whether it moved.
func (s *Session) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != InProgress || s.index >= len(s.questions)-1 {
		return false
	}
	s.index++
	return true
}

// Prev moves to the previous question and reports whether it moved.
func (s *Session) Prev() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != InProgress || s.index == 0 {
		return false
	}
	s.index--
	return true
}

// Goto jumps to question i.
func (s *Session) Goto(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != InProgress {
		return fmt.Errorf("goto in state %s: %w", s.state, ErrInvalidState)
	}
	if i < 0 || i >= len(s.questions) {
		return fmt.Errorf("goto %d of %d: %w", i, len(s.questions), ErrOutOfRange)
	}
	s.index = i
	return nil
}

// CanSubmit reports whether every question has an answer.
func (s *Session) CanSubmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete()
}

func (s *Session) complete() bool {
	if len(s.questions) == 0 {
		return false
	}
	for _, q := range s.questions {
		if _, ok := s.answers[q.ID]; !ok {
			return false
		}
	}
	return true
}

// RequestSubmit asks for confirmation. It fails until every question is answered.
func (s *Session) RequestSubmit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != InProgress {
		return fmt.Errorf("request submit in state %s: %w", s.state, ErrInvalidState)
	}
	if !s.complete() {
		return ErrIncomplete
	}
	s.state = ConfirmPending
	return nil
}

// CancelSubmit returns from the confirmation prompt to answering.
func (s *Session) CancelSubmit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != ConfirmPending {
		return fmt.Errorf("cancel submit in state %s: %w", s.state, ErrInvalidState)
	}
	s.state = InProgress
	return nil
}

// beginSubmit moves ConfirmPending to Submitting and returns the scoring inputs.
func (s *Session) beginSubmit() ([]lms.Question, map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != ConfirmPending {
		return nil, nil, fmt.Errorf("submit in state %s: %w", s.state, ErrInvalidState)
	}
	s.state = Submitting
	answers := make(map[string]string, len(s.answers))
	for k, v := range s.answers {
		answers[k] = v
	}
	return slices.Clone(s.questions), answers, nil
}

func (s *Session) finish(res *Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = Failed
		s.err = err
		return
	}
	s.state = Submitted
	s.result = res
}

// View is the client-facing snapshot of a session. Correct answers are
// never included.
type View struct {
	ID        string            `json:"id"`
	ExamID    string            `json:"examId"`
	State     string            `json:"state"`
	Index     int               `json:"index"`
	Total     int               `json:"total"`
	Question  *QuestionView     `json:"question,omitempty"`
	Answers   map[string]string `json:"answers"`
	CanSubmit bool              `json:"canSubmit"`
	Result    *Result           `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// QuestionView is a question without its answer.
type QuestionView struct {
	ID      string   `json:"id"`
	Stem    string   `json:"stem"`
	Options []string `json:"options"`
}

// Snapshot returns the current View.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		ID:        s.ID,
		ExamID:    s.Exam.ID,
		State:     s.state.String(),
		Index:     s.index,
		Total:     len(s.questions),
		Answers:   make(map[string]string, len(s.answers)),
		CanSubmit: s.state == InProgress && s.complete(),
		Result:    s.result,
	}
	for k, a := range s.answers {
		v.Answers[k] = a
	}
	if s.index < len(s.questions) {
		q := s.questions[s.index]
		v.Question = &QuestionView{ID: q.ID, Stem: q.Stem, Options: slices.Clone(q.Options)}
	}
	if s.err != nil {
		v.Error = s.err.Error()
	}
	return v
}
