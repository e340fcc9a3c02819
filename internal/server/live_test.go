package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/cab-academy/internal/exam"
)

type liveFrame struct {
	Type    string          `json:"type"`
	Session *exam.View      `json:"session"`
	Error   json.RawMessage `json:"error"`
}

func readFrame(ctx context.Context, t *testing.T, conn *websocket.Conn) liveFrame {
	t.Helper()
	var f liveFrame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestLiveSession(t *testing.T) {
	f := newFixture(t, false)
	seedExam(t, f.store, 2)
	token, _ := f.signUp(t, "ada@example.com")

	w := f.do(t, http.MethodPost, "/api/exams/e1/sessions", token, nil)
	var view exam.View
	decode(t, w, &view)

	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/exams/e1/live?session=" + view.ID + "&access_token=" + token
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	if got := readFrame(ctx, t, conn); got.Type != "state" || got.Session.State != "in_progress" {
		t.Fatalf("first frame = %+v, want in_progress state", got)
	}

	// An unknown option yields an error frame followed by the unchanged state.
	wsjson.Write(ctx, conn, map[string]string{"type": "answer", "questionId": "q1", "choice": "Z"})
	if got := readFrame(ctx, t, conn); got.Type != "error" {
		t.Errorf("frame = %+v, want error", got)
	}
	readFrame(ctx, t, conn)

	commands := []map[string]string{
		{"type": "answer", "questionId": "q1", "choice": "A"},
		{"type": "next"},
		{"type": "answer", "questionId": "q2", "choice": "B"},
		{"type": "confirm"},
	}
	var last liveFrame
	for _, cmd := range commands {
		if err := wsjson.Write(ctx, conn, cmd); err != nil {
			t.Fatalf("write %v: %v", cmd, err)
		}
		last = readFrame(ctx, t, conn)
	}
	if last.Session.State != "confirm_pending" || last.Session.Index != 1 {
		t.Fatalf("state after confirm = %+v", last.Session)
	}

	wsjson.Write(ctx, conn, map[string]string{"type": "submit"})
	last = readFrame(ctx, t, conn)
	if last.Session.State != "submitted" || last.Session.Result == nil {
		t.Fatalf("state after submit = %+v", last.Session)
	}
	if last.Session.Result.Attempt.Score != 50 || last.Session.Result.Attempt.Pass {
		t.Errorf("result = %+v, want 50 and fail", last.Session.Result.Attempt)
	}

	var extra liveFrame
	err = wsjson.Read(ctx, conn, &extra)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("close status = %v, want normal closure", websocket.CloseStatus(err))
	}
}

func TestLiveSession_RequiresToken(t *testing.T) {
	f := newFixture(t, false)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/exams/e1/live?session=x"
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}
