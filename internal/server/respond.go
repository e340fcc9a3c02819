package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/p-n-ai/cab-academy/internal/account"
	"github.com/p-n-ai/cab-academy/internal/ai"
	"github.com/p-n-ai/cab-academy/internal/coursegen"
	"github.com/p-n-ai/cab-academy/internal/docstore"
	"github.com/p-n-ai/cab-academy/internal/exam"
	"github.com/p-n-ai/cab-academy/internal/grading"
	"github.com/p-n-ai/cab-academy/internal/lms"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// apiError is an error already classified for the client.
type apiError struct {
	status int
	detail errorDetail
}

func (e *apiError) Error() string { return e.detail.Message }

func badRequest(msg string) *apiError {
	return &apiError{status: http.StatusBadRequest, detail: errorDetail{Message: msg, Code: "bad_request"}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return badRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// classify maps err to a status and client-facing detail.
func classify(err error) (int, errorDetail) {
	var api *apiError
	if errors.As(err, &api) {
		return api.status, api.detail
	}

	var verr *lms.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, errorDetail{Message: verr.Error(), Code: "invalid_input", Fields: verr.Fields}
	}

	switch {
	case errors.Is(err, exam.ErrInsufficientTokens), errors.Is(err, account.ErrInsufficientTokens):
		return http.StatusPaymentRequired, errorDetail{Message: "Not enough CAB tokens.", Code: "insufficient_tokens"}
	case errors.Is(err, docstore.ErrNotFound),
		errors.Is(err, coursegen.ErrDraftNotFound),
		errors.Is(err, exam.ErrSessionNotFound):
		return http.StatusNotFound, errorDetail{Message: "Not found.", Code: "not_found"}
	case errors.Is(err, docstore.ErrPermissionDenied):
		return http.StatusForbidden, errorDetail{Message: "Permission denied.", Code: "permission_denied"}
	case errors.Is(err, account.ErrInvalidCredentials), errors.Is(err, account.ErrInvalidToken):
		return http.StatusUnauthorized, errorDetail{Message: err.Error(), Code: "unauthorized"}
	case errors.Is(err, account.ErrEmailTaken):
		return http.StatusConflict, errorDetail{Message: err.Error(), Code: "email_taken"}
	case errors.Is(err, exam.ErrInvalidState), errors.Is(err, exam.ErrIncomplete), errors.Is(err, exam.ErrNoQuestions):
		return http.StatusConflict, errorDetail{Message: err.Error(), Code: "invalid_state"}
	case errors.Is(err, exam.ErrUnknownQuestion), errors.Is(err, exam.ErrUnknownOption), errors.Is(err, exam.ErrOutOfRange):
		return http.StatusUnprocessableEntity, errorDetail{Message: err.Error(), Code: "invalid_answer"}
	case errors.Is(err, coursegen.ErrGeneration), errors.Is(err, grading.ErrGrading), errors.Is(err, ai.ErrNoProvider):
		return http.StatusBadGateway, errorDetail{Message: "The AI service failed. Please try again.", Code: "ai_failed"}
	}
	return http.StatusInternalServerError, errorDetail{Message: "Internal error.", Code: "internal"}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: detail})
}
