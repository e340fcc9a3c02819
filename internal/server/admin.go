package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/cab-academy/internal/audit"
	"github.com/p-n-ai/cab-academy/internal/catalog"
	"github.com/p-n-ai/cab-academy/internal/coursegen"
	"github.com/p-n-ai/cab-academy/internal/curriculum"
	"github.com/p-n-ai/cab-academy/internal/docstore"
	"github.com/p-n-ai/cab-academy/internal/lms"
	"github.com/p-n-ai/cab-academy/internal/report"
)

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	topics := []curriculum.Topic{}
	if s.deps.Topics != nil {
		topics = s.deps.Topics.AllTopics()
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
}

type generateRequest struct {
	coursegen.Params
	// TopicID fills empty fields from a seeded curriculum topic.
	TopicID string `json:"topicId,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	params := req.Params
	if req.TopicID != "" {
		var topic curriculum.Topic
		found := false
		if s.deps.Topics != nil {
			topic, found = s.deps.Topics.GetTopic(req.TopicID)
		}
		if !found {
			writeError(w, r, lms.Invalid("topicId", "unknown topic"))
			return
		}
		if params.Topic == "" {
			params.Topic = topic.Name
		}
		if params.Syllabus == "" {
			params.Syllabus = topic.Syllabus
		}
		if params.Difficulty == "" {
			params.Difficulty = topic.Difficulty
		}
	}

	course, err := s.deps.Generator.Generate(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}

	userID := claimsFrom(r.Context()).UserID()
	draft := &coursegen.Draft{
		ID:        s.deps.Store.NewID(),
		Params:    params,
		Course:    course,
		CreatedBy: userID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.deps.Drafts.Put(r.Context(), draft); err != nil {
		writeError(w, r, err)
		return
	}
	audit.Log(r.Context(), s.deps.Events, audit.Event{
		UserID:    userID,
		Type:      audit.CourseGenerated,
		SubjectID: draft.ID,
		Data:      map[string]any{"topic": params.Topic, "lessons": len(course.Lessons)},
	})
	writeJSON(w, http.StatusCreated, draft)
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := s.deps.Drafts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

type persistRequest struct {
	Competency string `json:"competency"`
	CourseCode string `json:"courseCode"`
}

func (s *Server) handlePersistDraft(w http.ResponseWriter, r *http.Request) {
	var req persistRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	draft, err := s.deps.Drafts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.deps.Writer.Persist(r.Context(), draft.Course, catalog.Meta{
		Topic:      draft.Params.Topic,
		Competency: req.Competency,
		Difficulty: draft.Params.Difficulty,
		CourseCode: req.CourseCode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Drafts.Delete(context.WithoutCancel(r.Context()), draft.ID); err != nil {
		slog.Warn("draft not removed after persist", "draft", draft.ID, "error", err)
	}
	audit.Log(r.Context(), s.deps.Events, audit.Event{
		UserID:    claimsFrom(r.Context()).UserID(),
		Type:      audit.CoursePersisted,
		SubjectID: res.CourseID,
		Data:      map[string]any{"draftId": draft.ID, "documents": res.Documents},
	})
	writeJSON(w, http.StatusCreated, res)
}

// registerCRUD exposes list, get, create, replace and delete for one repo
// under /api/admin/{name}.
func registerCRUD[T catalog.Record](m *http.ServeMux, name string, repo catalog.Repo[T], guard func(http.HandlerFunc) http.HandlerFunc) {
	base := "/api/admin/" + name

	m.HandleFunc("GET "+base, guard(func(w http.ResponseWriter, r *http.Request) {
		items, err := repo.List(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}))

	m.HandleFunc("GET "+base+"/{id}", guard(func(w http.ResponseWriter, r *http.Request) {
		item, err := repo.Get(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}))

	put := func(w http.ResponseWriter, r *http.Request, id string, status int) {
		item, err := decodeRecord[T](w, r, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := repo.Put(r.Context(), id, item); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, status, item)
	}
	m.HandleFunc("POST "+base, guard(func(w http.ResponseWriter, r *http.Request) {
		put(w, r, repo.NewID(), http.StatusCreated)
	}))
	m.HandleFunc("PUT "+base+"/{id}", guard(func(w http.ResponseWriter, r *http.Request) {
		put(w, r, r.PathValue("id"), http.StatusOK)
	}))

	m.HandleFunc("DELETE "+base+"/{id}", guard(func(w http.ResponseWriter, r *http.Request) {
		if err := repo.Delete(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}

// decodeRecord reads a JSON object into T with its id forced to id. A body
// id that disagrees with the path is rejected.
func decodeRecord[T any](w http.ResponseWriter, r *http.Request, id string) (T, error) {
	var zero T
	var fields map[string]any
	if err := decodeJSON(w, r, &fields); err != nil {
		return zero, err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	if bodyID, ok := fields["id"].(string); ok && bodyID != "" && bodyID != id {
		return zero, lms.Invalid("id", "does not match the path")
	}
	fields["id"] = id

	raw, err := json.Marshal(fields)
	if err != nil {
		return zero, fmt.Errorf("re-encode record: %w", err)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, badRequest(fmt.Sprintf("invalid record: %v", err))
	}
	return v, nil
}

func (s *Server) handleAttemptsReport(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.deps.Exams.AllAttempts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	docs, err := s.deps.Store.Query(r.Context(), lms.CollUsers)
	if err != nil {
		writeError(w, r, fmt.Errorf("query users: %w", err))
		return
	}
	profiles, err := docstore.DecodeAll[lms.UserProfile](docs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	users := make(map[string]lms.UserProfile, len(profiles))
	for _, p := range profiles {
		users[p.UserID] = p
	}

	var buf bytes.Buffer
	if err := report.WriteAttempts(&buf, attempts, users); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="attempts.xlsx"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// writeErrorView is the JSON form of a docstore.WriteError.
type writeErrorView struct {
	Op               string    `json:"op"`
	Collection       string    `json:"collection"`
	ID               string    `json:"id"`
	Payload          any       `json:"payload,omitempty"`
	At               time.Time `json:"at"`
	Error            string    `json:"error"`
	PermissionDenied bool      `json:"permissionDenied"`
}

func newWriteErrorView(e *docstore.WriteError) writeErrorView {
	return writeErrorView{
		Op:               e.Op,
		Collection:       e.Collection,
		ID:               e.ID,
		Payload:          e.Payload,
		At:               e.At,
		Error:            e.Err.Error(),
		PermissionDenied: docstore.IsPermissionDenied(e),
	}
}

func (s *Server) handleWriteErrors(w http.ResponseWriter, r *http.Request) {
	views := []writeErrorView{}
	if s.deps.Recorder != nil {
		for _, e := range s.deps.Recorder.Recent() {
			views = append(views, newWriteErrorView(e))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": views})
}

// handleWriteErrorsLive streams new write failures to a diagnostic overlay.
func (s *Server) handleWriteErrorsLive(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recorder == nil {
		writeError(w, r, &apiError{status: http.StatusServiceUnavailable, detail: errorDetail{Message: "No write recorder configured.", Code: "unavailable"}})
		return
	}
	clearDeadlines(w)
	conn, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ch := make(chan *docstore.WriteError, 16)
	unsubscribe := s.deps.Recorder.Subscribe(func(e *docstore.WriteError) {
		select {
		case ch <- e:
		default:
			slog.Debug("write error overlay lagging, dropped event", "collection", e.Collection)
		}
	})
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			if err := wsjson.Write(ctx, conn, newWriteErrorView(e)); err != nil {
				return
			}
		}
	}
}
