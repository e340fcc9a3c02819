// Package coursegen turns course parameters into a generated course by
// asking a generative text service for a fixed JSON shape.
package coursegen

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/p-n-ai/cab-academy/internal/ai"
	"github.com/p-n-ai/cab-academy/internal/lms"
)

// ErrGeneration matches every *GenerationError.
var ErrGeneration = errors.New("course generation failed")

// GenerationError is the single failure surfaced for a generation call.
type GenerationError struct {
	Stage    string   // "complete", "extract", "validate" or "decode"
	Problems []string // schema violations, when Stage is "validate"
	Err      error
}

func (e *GenerationError) Error() string {
	msg := "course generation failed at " + e.Stage
	if len(e.Problems) > 0 {
		msg += ": " + strings.Join(e.Problems, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// Params are the operator inputs for one generation.
type Params struct {
	Topic      string         `json:"topic" validate:"required,max=200"`
	Syllabus   string         `json:"syllabus" validate:"max=20000"`
	Difficulty lms.Difficulty `json:"difficulty" validate:"required,oneof=Beginner Intermediate Expert"`
	MCQCount   int            `json:"mcqCount" validate:"gte=0,lte=100"`
	EssayCount int            `json:"essayCount" validate:"gte=0,lte=20"`
	Creativity float64        `json:"creativity" validate:"gte=0,lte=1"`
}

// Validate checks the params before any outbound call.
func (p Params) Validate() error {
	return lms.Check(p)
}

// Temperature maps creativity in [0,1] onto [0.1,1.0]. Zero is avoided
// because providers treat an unset temperature as their own default.
func (p Params) Temperature() float64 {
	return 0.1 + 0.9*p.Creativity
}

// GeneratedCourse is the parsed response.
type GeneratedCourse struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Lessons     []GeneratedLesson   `json:"lessons"`
	Questions   []GeneratedQuestion `json:"questions"`
	Essays      []lms.EssayPrompt   `json:"essays,omitempty"`
}

// GeneratedLesson is a lesson with an optional quiz.
type GeneratedLesson struct {
	Title   string          `json:"title"`
	Content string          `json:"content"`
	Quiz    []GeneratedItem `json:"quiz,omitempty"`
}

// GeneratedItem is a lesson quiz item.
type GeneratedItem struct {
	Stem    string   `json:"stem"`
	Options []string `json:"options"`
	Answer  string   `json:"answer"`
}

// GeneratedQuestion is a final exam question.
type GeneratedQuestion struct {
	Stem       string         `json:"stem"`
	Options    []string       `json:"options"`
	Answer     string         `json:"answer"`
	Difficulty lms.Difficulty `json:"difficulty"`
}

const generateTimeout = 5 * time.Minute

// Generator runs one course generation per call. Nothing is retried.
type Generator struct {
	ai        ai.Completer
	model     string
	maxTokens int
}

// Option configures a Generator.
type Option func(*Generator)

// WithModel pins the model name sent with every request.
func WithModel(model string) Option {
	return func(g *Generator) {
		g.model = model
	}
}

// WithMaxTokens caps the response size.
func WithMaxTokens(n int) Option {
	return func(g *Generator) {
		g.maxTokens = n
	}
}

// NewGenerator creates a Generator backed by c.
func NewGenerator(c ai.Completer, opts ...Option) *Generator {
	g := &Generator{ai: c, maxTokens: 16000}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate validates p, calls the text service once and parses the result.
// Invalid params return an *lms.ValidationError; everything after that
// returns a *GenerationError. An outbound call is not cancelled with ctx.
func (g *Generator) Generate(ctx context.Context, p Params) (*GeneratedCourse, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), generateTimeout)
	defer cancel()

	resp, err := g.ai.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(p)},
		},
		Model:         g.model,
		MaxTokens:     g.maxTokens,
		Temperature:   p.Temperature(),
		Task:          ai.TaskCourseGeneration,
		JSON:          true,
		SingleAttempt: true,
	})
	if err != nil {
		return nil, &GenerationError{Stage: "complete", Err: err}
	}

	course, err := Parse(resp.Content)
	if err != nil {
		return nil, err
	}

	if len(course.Questions) != p.MCQCount || len(course.Essays) != p.EssayCount {
		slog.Warn("generated course counts differ from request",
			"topic", p.Topic,
			"mcq_requested", p.MCQCount,
			"mcq_generated", len(course.Questions),
			"essays_requested", p.EssayCount,
			"essays_generated", len(course.Essays),
		)
	}
	slog.Info("course generated",
		"topic", p.Topic,
		"provider", resp.Provider,
		"lessons", len(course.Lessons),
		"questions", len(course.Questions),
		"tokens", resp.TotalTokens(),
	)
	return course, nil
}

// Parse extracts, schema-checks and decodes a raw model answer.
func Parse(raw string) (*GeneratedCourse, error) {
	body, err := ai.ExtractJSON(raw)
	if err != nil {
		return nil, &GenerationError{Stage: "extract", Err: err}
	}
	if problems, err := validateShape(body); err != nil {
		return nil, &GenerationError{Stage: "validate", Err: err}
	} else if len(problems) > 0 {
		return nil, &GenerationError{Stage: "validate", Problems: problems}
	}

	var course GeneratedCourse
	if err := json.Unmarshal([]byte(body), &course); err != nil {
		return nil, &GenerationError{Stage: "decode", Err: err}
	}
	return &course, nil
}
