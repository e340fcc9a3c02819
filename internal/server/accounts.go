package server

import (
	"net/http"

	"github.com/p-n-ai/cab-academy/internal/account"
	"github.com/p-n-ai/cab-academy/internal/audit"
	"github.com/p-n-ai/cab-academy/internal/lms"
)

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req account.SignUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Accounts.SignUp(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	audit.Log(r.Context(), s.deps.Events, audit.Event{UserID: res.Profile.UserID, Type: audit.SignedUp})
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req account.SignInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.Accounts.SignIn(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	profile, err := s.deps.Accounts.Profile(r.Context(), claimsFrom(r.Context()).UserID())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleMyAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := s.deps.Exams.History(r.Context(), claimsFrom(r.Context()).UserID())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (s *Server) handleMyAchievements(w http.ResponseWriter, r *http.Request) {
	achievements, err := s.deps.Qualifications.Achievements(r.Context(), claimsFrom(r.Context()).UserID())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"achievements": achievements})
}

func (s *Server) handleMyQualifications(w http.ResponseWriter, r *http.Request) {
	progress, err := s.deps.Qualifications.Progress(r.Context(), claimsFrom(r.Context()).UserID())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"qualifications": progress})
}

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.deps.Catalog.Courses.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"courses": courses})
}

func (s *Server) handleOutline(w http.ResponseWriter, r *http.Request) {
	outline, err := s.deps.Catalog.Outline(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outline)
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	userID := claimsFrom(r.Context()).UserID()
	courseID := r.PathValue("id")
	profile, err := s.deps.Accounts.Enroll(r.Context(), userID, courseID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	audit.Log(r.Context(), s.deps.Events, audit.Event{UserID: userID, Type: audit.Enrolled, SubjectID: courseID})
	writeJSON(w, http.StatusOK, profile)
}

type assignRoadmapRequest struct {
	RoadmapID string `json:"roadmapId"`
}

func (s *Server) handleAssignRoadmap(w http.ResponseWriter, r *http.Request) {
	var req assignRoadmapRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.RoadmapID == "" {
		writeError(w, r, lms.Invalid("roadmapId", "is required"))
		return
	}
	profile, err := s.deps.Accounts.AssignRoadmap(r.Context(), r.PathValue("id"), req.RoadmapID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type grantTokensRequest struct {
	Amount int `json:"amount"`
}

func (s *Server) handleGrantTokens(w http.ResponseWriter, r *http.Request) {
	var req grantTokensRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	profile, err := s.deps.Accounts.GrantTokens(r.Context(), r.PathValue("id"), req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
