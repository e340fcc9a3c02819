package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/cab-academy/internal/audit"
	"github.com/p-n-ai/cab-academy/internal/exam"
	"github.com/p-n-ai/cab-academy/internal/grading"
)

// command is one session action, sent as a JSON body or a websocket frame.
type command struct {
	Type       string `json:"type"`
	QuestionID string `json:"questionId,omitempty"`
	Choice     string `json:"choice,omitempty"`
	Index      int    `json:"index,omitempty"`
}

// liveMessage is a server frame on the live exam socket.
type liveMessage struct {
	Type    string       `json:"type"`
	Session *exam.View   `json:"session,omitempty"`
	Error   *errorDetail `json:"error,omitempty"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	userID := claimsFrom(r.Context()).UserID()
	sess, err := s.deps.Exams.Start(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.deps.Sessions.Put(sess)
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

// session looks up the caller's session and checks it belongs to the exam
// in the path.
func (s *Server) session(r *http.Request, sid string) (*exam.Session, error) {
	sess, err := s.deps.Sessions.Get(sid, claimsFrom(r.Context()).UserID())
	if err != nil {
		return nil, err
	}
	if sess.Exam.ID != r.PathValue("id") {
		return nil, exam.ErrSessionNotFound
	}
	return sess, nil
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r, r.PathValue("sid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var cmd command
	if err := decodeJSON(w, r, &cmd); err != nil {
		writeError(w, r, err)
		return
	}
	cmd.Type = "answer"
	s.runCommand(w, r, cmd)
}

type navigateRequest struct {
	Action string `json:"action"`
	Index  int    `json:"index"`
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !slices.Contains([]string{"next", "prev", "goto"}, req.Action) {
		writeError(w, r, badRequest("action must be next, prev or goto"))
		return
	}
	s.runCommand(w, r, command{Type: req.Action, Index: req.Index})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, command{Type: "confirm"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, command{Type: "cancel"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, command{Type: "submit"})
}

func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, cmd command) {
	sess, err := s.session(r, r.PathValue("sid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.apply(r.Context(), sess, cmd); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) apply(ctx context.Context, sess *exam.Session, cmd command) error {
	switch cmd.Type {
	case "state":
	case "answer":
		return sess.Answer(cmd.QuestionID, cmd.Choice)
	case "next":
		sess.Next()
	case "prev":
		sess.Prev()
	case "goto":
		return sess.Goto(cmd.Index)
	case "confirm":
		return sess.RequestSubmit()
	case "cancel":
		return sess.CancelSubmit()
	case "submit":
		return s.submit(ctx, sess)
	default:
		return badRequest("unknown command " + cmd.Type)
	}
	return nil
}

func (s *Server) submit(ctx context.Context, sess *exam.Session) error {
	res, err := s.deps.Exams.Submit(ctx, sess)
	if errors.Is(err, exam.ErrInvalidState) {
		return err
	}
	if err != nil {
		audit.Log(ctx, s.deps.Events, audit.Event{
			UserID:    sess.UserID,
			Type:      audit.ExamFailed,
			SubjectID: sess.Exam.ID,
			Data:      map[string]any{"error": err.Error()},
		})
		return err
	}
	audit.Log(ctx, s.deps.Events, audit.Event{
		UserID:    sess.UserID,
		Type:      audit.ExamSubmitted,
		SubjectID: sess.Exam.ID,
		Data: map[string]any{
			"attemptId": res.Attempt.ID,
			"score":     res.Attempt.Score,
			"pass":      res.Attempt.Pass,
			"awarded":   len(res.Awarded),
		},
	})
	return nil
}

// handleLive drives a session over a websocket. Every command frame is
// answered with a state frame or an error frame; the socket closes once the
// session is submitted.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r, r.URL.Query().Get("session"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	clearDeadlines(w)
	conn, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		slog.Warn("websocket accept failed", "session", sess.ID, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	if err := writeState(ctx, conn, sess); err != nil {
		return
	}
	for {
		var cmd command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				slog.Debug("live session read ended", "session", sess.ID, "error", err)
			}
			return
		}

		if err := s.apply(ctx, sess, cmd); err != nil {
			_, detail := classify(err)
			if werr := wsjson.Write(ctx, conn, liveMessage{Type: "error", Error: &detail}); werr != nil {
				return
			}
		}
		if err := writeState(ctx, conn, sess); err != nil {
			return
		}
		if sess.State() == exam.Submitted {
			conn.Close(websocket.StatusNormalClosure, "submitted")
			return
		}
	}
}

func writeState(ctx context.Context, conn *websocket.Conn, sess *exam.Session) error {
	view := sess.Snapshot()
	return wsjson.Write(ctx, conn, liveMessage{Type: "state", Session: &view})
}

// clearDeadlines lifts the server's read and write timeouts, which would
// otherwise carry over to the hijacked websocket connection.
func clearDeadlines(w http.ResponseWriter) {
	rc := http.NewResponseController(w)
	if err := rc.SetReadDeadline(time.Time{}); err != nil {
		slog.Debug("clear read deadline", "error", err)
	}
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("clear write deadline", "error", err)
	}
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	allowed := s.deps.AllowedOrigins
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	hosts := make([]string, 0, len(allowed))
	for _, o := range allowed {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
		}
	}
	return &websocket.AcceptOptions{OriginPatterns: hosts}
}

func (s *Server) handleGradeEssay(w http.ResponseWriter, r *http.Request) {
	if s.deps.Grader == nil {
		writeError(w, r, &apiError{status: http.StatusServiceUnavailable, detail: errorDetail{Message: "Essay grading is not configured.", Code: "unavailable"}})
		return
	}
	var req grading.EssayRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	grade, err := s.deps.Grader.Grade(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	audit.Log(r.Context(), s.deps.Events, audit.Event{
		UserID: claimsFrom(r.Context()).UserID(),
		Type:   audit.EssayGraded,
		Data:   map[string]any{"score": grade.Score, "pass": grade.Pass},
	})
	writeJSON(w, http.StatusOK, grade)
}
