// Package server exposes the LMS over HTTP.
package server

import (
	"context"
	"net/http"

	"github.com/p-n-ai/cab-academy/internal/account"
	"github.com/p-n-ai/cab-academy/internal/audit"
	"github.com/p-n-ai/cab-academy/internal/catalog"
	"github.com/p-n-ai/cab-academy/internal/coursegen"
	"github.com/p-n-ai/cab-academy/internal/curriculum"
	"github.com/p-n-ai/cab-academy/internal/docstore"
	"github.com/p-n-ai/cab-academy/internal/exam"
	"github.com/p-n-ai/cab-academy/internal/grading"
	"github.com/p-n-ai/cab-academy/internal/lms"
	"github.com/p-n-ai/cab-academy/internal/qualification"
)

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Deps are the services behind the HTTP surface. Topics, Grader, Recorder
// and Events may be nil.
type Deps struct {
	Store          docstore.Store
	Accounts       *account.Service
	Catalog        *catalog.Catalog
	Writer         *catalog.Writer
	Generator      *coursegen.Generator
	Drafts         coursegen.DraftCache
	Exams          *exam.Service
	Sessions       *exam.Registry
	Qualifications *qualification.Service
	Grader         *grading.Grader
	Topics         *curriculum.Loader
	Recorder       *docstore.Recorder
	Events         audit.Logger

	Checks         []Check
	Debug          bool
	AllowedOrigins []string
}

// Server routes requests to the services in Deps.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// New builds a Server and registers every route.
func New(deps Deps) *Server {
	if deps.Events == nil {
		deps.Events = audit.NopLogger{}
	}
	if deps.Sessions == nil {
		deps.Sessions = exam.NewRegistry()
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the root handler with CORS and request logging applied.
func (s *Server) Handler() http.Handler {
	return logRequests(cors(s.deps.AllowedOrigins, s.mux))
}

func (s *Server) routes() {
	m := s.mux

	m.HandleFunc("GET /healthz", handleHealthz)
	m.HandleFunc("GET /readyz", s.handleReadyz)

	m.HandleFunc("POST /api/auth/signup", s.handleSignUp)
	m.HandleFunc("POST /api/auth/signin", s.handleSignIn)

	m.HandleFunc("GET /api/me", s.authed(s.handleMe))
	m.HandleFunc("GET /api/me/attempts", s.authed(s.handleMyAttempts))
	m.HandleFunc("GET /api/me/achievements", s.authed(s.handleMyAchievements))
	m.HandleFunc("GET /api/me/qualifications", s.authed(s.handleMyQualifications))

	m.HandleFunc("GET /api/courses", s.authed(s.handleListCourses))
	m.HandleFunc("GET /api/courses/{id}/outline", s.authed(s.handleOutline))
	m.HandleFunc("POST /api/courses/{id}/enroll", s.authed(s.handleEnroll))

	m.HandleFunc("POST /api/exams/{id}/sessions", s.authed(s.handleStartSession))
	m.HandleFunc("GET /api/exams/{id}/sessions/{sid}", s.authed(s.handleGetSession))
	m.HandleFunc("POST /api/exams/{id}/sessions/{sid}/answers", s.authed(s.handleAnswer))
	m.HandleFunc("POST /api/exams/{id}/sessions/{sid}/navigate", s.authed(s.handleNavigate))
	m.HandleFunc("POST /api/exams/{id}/sessions/{sid}/confirm", s.authed(s.handleConfirm))
	m.HandleFunc("POST /api/exams/{id}/sessions/{sid}/cancel", s.authed(s.handleCancel))
	m.HandleFunc("POST /api/exams/{id}/sessions/{sid}/submit", s.authed(s.handleSubmit))
	m.HandleFunc("GET /api/exams/{id}/live", s.authed(s.handleLive))

	m.HandleFunc("POST /api/essays/grade", s.authed(s.handleGradeEssay))

	instructor := func(h http.HandlerFunc) http.HandlerFunc { return s.authed(requireRole(lms.RoleInstructor, h)) }
	admin := func(h http.HandlerFunc) http.HandlerFunc { return s.authed(requireRole(lms.RoleAdmin, h)) }

	m.HandleFunc("GET /api/admin/topics", instructor(s.handleTopics))
	m.HandleFunc("POST /api/admin/courses/generate", instructor(s.handleGenerate))
	m.HandleFunc("GET /api/admin/courses/drafts/{id}", instructor(s.handleGetDraft))
	m.HandleFunc("POST /api/admin/courses/drafts/{id}/persist", instructor(s.handlePersistDraft))

	c := s.deps.Catalog
	registerCRUD(m, "courses", c.Courses, instructor)
	registerCRUD(m, "lessons", c.Lessons, instructor)
	registerCRUD(m, "modules", c.Modules, instructor)
	registerCRUD(m, "chapters", c.Chapters, instructor)
	registerCRUD(m, "quizzes", c.Quizzes, instructor)
	registerCRUD(m, "questions", c.Questions, instructor)
	registerCRUD(m, "exams", c.Exams, instructor)
	registerCRUD(m, "roadmaps", c.Roadmaps, admin)
	registerCRUD(m, "master-courses", c.Masters, admin)
	registerCRUD(m, "achievements", c.Achievements, admin)

	m.HandleFunc("POST /api/admin/users/{id}/roadmaps", admin(s.handleAssignRoadmap))
	m.HandleFunc("POST /api/admin/users/{id}/tokens", admin(s.handleGrantTokens))
	m.HandleFunc("GET /api/admin/reports/attempts.xlsx", admin(s.handleAttemptsReport))

	if s.deps.Debug {
		m.HandleFunc("GET /api/debug/write-errors", s.handleWriteErrors)
		m.HandleFunc("GET /api/debug/write-errors/live", s.handleWriteErrorsLive)
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := append([]Check{{Name: "store", Fn: s.deps.Store.HealthCheck}}, s.deps.Checks...)
	var failing []string
	for _, c := range checks {
		if err := c.Fn(r.Context()); err != nil {
			failing = append(failing, c.Name)
		}
	}
	if len(failing) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failing": failing})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}
