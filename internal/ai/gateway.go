// Package ai is a provider-agnostic gateway to generative text services.
// Each call is a single request/response exchange; there is no streaming
// and no multi-turn state.
package ai

import "context"

// TaskType names the flow issuing a completion, for logging and routing.
type TaskType int

const (
	TaskCourseGeneration TaskType = iota
	TaskEssayGrading
)

func (t TaskType) String() string {
	switch t {
	case TaskCourseGeneration:
		return "course_generation"
	case TaskEssayGrading:
		return "essay_grading"
	default:
		return "unknown"
	}
}

// Message is a single prompt message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to an AI completion.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Task        TaskType  `json:"task,omitempty"`
	// JSON asks the provider for a bare JSON object as the answer.
	JSON bool `json:"json,omitempty"`
	// SingleAttempt limits a Router to its first provider, so the request
	// makes at most one outbound call.
	SingleAttempt bool `json:"-"`
}

// CompletionResponse is the output from an AI completion.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	Provider     string `json:"provider,omitempty"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// TotalTokens returns the sum of input and output tokens.
func (r CompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// ModelInfo describes an available model.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MaxTokens   int    `json:"max_tokens"`
	Description string `json:"description"`
}

// Provider is the interface all AI providers must implement.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	Models() []ModelInfo
	HealthCheck(ctx context.Context) error
}

// Completer is the narrow view flows depend on. Both Router and every
// Provider satisfy it.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

const jsonInstruction = "Respond with a single JSON object only. Do not wrap it in markdown."
