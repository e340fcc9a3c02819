// Package grading scores essay answers against a rubric with the generative
// text service.
package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/p-n-ai/cab-academy/internal/ai"
	"github.com/p-n-ai/cab-academy/internal/lms"
)

// ErrGrading wraps every failure after input validation.
var ErrGrading = errors.New("essay grading failed")

const gradeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["score", "feedback"],
  "properties": {
    "score": {"type": "integer", "minimum": 0, "maximum": 100},
    "feedback": {"type": "string"}
  }
}`

var gradeSchemaLoader = gojsonschema.NewStringLoader(gradeSchema)

const systemPrompt = `You are a strict but fair examiner. Grade the candidate's essay against the rubric.
Return {"score": integer 0-100, "feedback": string}.`

// EssayRequest is one essay to grade.
type EssayRequest struct {
	Prompt string `json:"prompt" validate:"required,max=4000"`
	Rubric string `json:"rubric" validate:"max=8000"`
	Answer string `json:"answer" validate:"required,max=20000"`
}

// EssayGrade is the parsed grading result.
type EssayGrade struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
	Pass     bool   `json:"pass"`
}

// Grader grades essays with one completion per call.
type Grader struct {
	ai        ai.Completer
	model     string
	threshold int
}

// NewGrader creates a Grader. threshold is the lowest passing score.
func NewGrader(c ai.Completer, model string, threshold int) *Grader {
	return &Grader{ai: c, model: model, threshold: threshold}
}

// Grade validates req and asks the text service for a score and feedback.
func (g *Grader) Grade(ctx context.Context, req EssayRequest) (*EssayGrade, error) {
	if err := lms.Check(req); err != nil {
		return nil, err
	}

	rubric := strings.TrimSpace(req.Rubric)
	if rubric == "" {
		rubric = "Accuracy, completeness and clarity."
	}
	prompt := fmt.Sprintf("Essay prompt:\n%s\n\nRubric:\n%s\n\nCandidate answer:\n%s", req.Prompt, rubric, req.Answer)

	resp, err := g.ai.Complete(ctx, ai.CompletionRequest{
		Messages: []ai.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Model:         g.model,
		MaxTokens:     1024,
		Temperature:   0.1,
		Task:          ai.TaskEssayGrading,
		JSON:          true,
		SingleAttempt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGrading, err)
	}

	grade, err := parse(resp.Content)
	if err != nil {
		return nil, err
	}
	grade.Pass = grade.Score >= g.threshold
	slog.Info("essay graded", "provider", resp.Provider, "score", grade.Score)
	return grade, nil
}

func parse(raw string) (*EssayGrade, error) {
	body, err := ai.ExtractJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGrading, err)
	}
	result, err := gojsonschema.Validate(gradeSchemaLoader, gojsonschema.NewStringLoader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGrading, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrGrading, strings.Join(problems, "; "))
	}

	var grade EssayGrade
	if err := json.Unmarshal([]byte(body), &grade); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGrading, err)
	}
	return &grade, nil
}
