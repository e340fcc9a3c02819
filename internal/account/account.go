// Package account manages identities, user profiles, enrollment and the
// CAB token balance outside of exams.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/p-n-ai/cab-academy/internal/docstore"
	"github.com/p-n-ai/cab-academy/internal/lms"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInsufficientTokens = errors.New("insufficient CAB tokens")
	ErrUnknownIdentity    = errors.New("no identity with that email")
	ErrInvalidRole        = errors.New("unknown role")
)

// DefaultStartingBalance is the token balance of a new profile.
const DefaultStartingBalance = 100

// SignUpRequest is the sign-up form.
type SignUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"required,max=120"`
}

// SignInRequest is the sign-in form.
type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthResult is returned by SignUp and SignIn.
type AuthResult struct {
	Token   string          `json:"token"`
	Profile lms.UserProfile `json:"profile"`
}

// Service handles identities and profiles.
type Service struct {
	store           docstore.Store
	tokens          *Tokens
	startingBalance int
	enrollmentCost  int
	hashCost        int
	now             func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithStartingBalance sets the balance given to new profiles.
func WithStartingBalance(n int) Option {
	return func(s *Service) { s.startingBalance = n }
}

// WithEnrollmentCost sets the token price of an enrollment.
func WithEnrollmentCost(n int) Option {
	return func(s *Service) { s.enrollmentCost = n }
}

// WithHashCost sets the bcrypt cost.
func WithHashCost(cost int) Option {
	return func(s *Service) { s.hashCost = cost }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service.
func NewService(store docstore.Store, tokens *Tokens, opts ...Option) *Service {
	s := &Service{
		store:           store,
		tokens:          tokens,
		startingBalance: DefaultStartingBalance,
		hashCost:        bcrypt.DefaultCost,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tokens returns the token signer.
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

// SignUp creates the identity, then the profile. The profile write does not
// block sign-up: if it fails the failure is reported and logged, and the
// profile is recreated on the next SignIn.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*AuthResult, error) {
	req.Email = normalizeEmail(req.Email)
	if err := lms.Check(req); err != nil {
		return nil, err
	}

	if _, err := s.identityByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUnknownIdentity) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	ident := lms.Identity{
		ID:           s.store.NewID(),
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         lms.RoleStudent,
		CreatedAt:    now,
	}
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, lms.CollIdentities, ident.ID, ident); err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}

	profile := s.newProfile(ident, req.Name)
	if err := s.store.Set(ctx, lms.CollUsers, profile.UserID, profile); err != nil {
		slog.Warn("profile creation failed after sign-up",
			"user_id", ident.ID,
			"error", err,
		)
	}

	token, err := s.tokens.Issue(ident.ID, ident.Role)
	if err != nil {
		return nil, err
	}
	slog.Info("user signed up", "user_id", ident.ID)
	return &AuthResult{Token: token, Profile: profile}, nil
}

// SignIn verifies credentials and issues a token. A missing profile is
// recreated with default values.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*AuthResult, error) {
	req.Email = normalizeEmail(req.Email)
	if err := lms.Check(req); err != nil {
		return nil, err
	}

	ident, err := s.identityByEmail(ctx, req.Email)
	if errors.Is(err, ErrUnknownIdentity) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(ident.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	profile, err := s.Profile(ctx, ident.ID)
	if errors.Is(err, docstore.ErrNotFound) {
		profile = s.newProfile(*ident, nameFromEmail(ident.Email))
		if err := s.store.Set(ctx, lms.CollUsers, ident.ID, profile); err != nil {
			return nil, fmt.Errorf("recreate profile: %w", err)
		}
		slog.Info("missing profile recreated", "user_id", ident.ID)
	} else if err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(ident.ID, ident.Role)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, Profile: profile}, nil
}

// Profile loads a user profile.
func (s *Service) Profile(ctx context.Context, userID string) (lms.UserProfile, error) {
	var p lms.UserProfile
	if err := s.store.Get(ctx, lms.CollUsers, userID, &p); err != nil {
		return p, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

// Enroll adds courseID to the user's enrollments and charges the
// enrollment cost. Enrolling twice is a no-op.
func (s *Service) Enroll(ctx context.Context, userID, courseID string) (lms.UserProfile, error) {
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return profile, err
	}
	if profile.IsEnrolled(courseID) {
		return profile, nil
	}

	var course lms.Course
	if err := s.store.Get(ctx, lms.CollCourses, courseID, &course); err != nil {
		return profile, fmt.Errorf("load course: %w", err)
	}
	if profile.CabTokens < s.enrollmentCost {
		return profile, fmt.Errorf("balance %d, cost %d: %w", profile.CabTokens, s.enrollmentCost, ErrInsufficientTokens)
	}

	enrolled := append(slices.Clone(profile.EnrolledCourseIDs), courseID)
	balance := profile.CabTokens - s.enrollmentCost
	b := docstore.NewBatch().Update(lms.CollUsers, userID, map[string]any{
		"enrolledCourseIds": enrolled,
		"cabTokens":         balance,
	})
	if err := s.store.Commit(ctx, b); err != nil {
		return profile, fmt.Errorf("enroll: %w", err)
	}

	profile.EnrolledCourseIDs = enrolled
	profile.CabTokens = balance
	slog.Info("user enrolled", "user_id", userID, "course_id", courseID, "balance", balance)
	return profile, nil
}

// AssignRoadmap appends roadmapID to the user's mandatory learning path.
func (s *Service) AssignRoadmap(ctx context.Context, userID, roadmapID string) (lms.UserProfile, error) {
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return profile, err
	}
	var roadmap lms.Roadmap
	if err := s.store.Get(ctx, lms.CollRoadmaps, roadmapID, &roadmap); err != nil {
		return profile, fmt.Errorf("load roadmap: %w", err)
	}
	if slices.Contains(profile.MandatoryLearningPath, roadmapID) {
		return profile, nil
	}

	path := append(slices.Clone(profile.MandatoryLearningPath), roadmapID)
	if err := s.store.Update(ctx, lms.CollUsers, userID, map[string]any{"mandatoryLearningPath": path}); err != nil {
		return profile, fmt.Errorf("assign roadmap: %w", err)
	}
	profile.MandatoryLearningPath = path
	return profile, nil
}

// GrantTokens adds amount to the user's balance.
func (s *Service) GrantTokens(ctx context.Context, userID string, amount int) (lms.UserProfile, error) {
	if amount <= 0 {
		return lms.UserProfile{}, lms.Invalid("amount", "amount must be greater than 0")
	}
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return profile, err
	}
	balance := profile.CabTokens + amount
	if err := s.store.Update(ctx, lms.CollUsers, userID, map[string]any{"cabTokens": balance}); err != nil {
		return profile, fmt.Errorf("grant tokens: %w", err)
	}
	profile.CabTokens = balance
	return profile, nil
}

// GrantRole sets the role claim of the identity registered under email and
// mirrors it on the profile when one exists. It is an out-of-band admin
// operation and is not exposed over HTTP.
func (s *Service) GrantRole(ctx context.Context, email string, role lms.Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	ident, err := s.identityByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}

	b := docstore.NewBatch().Update(lms.CollIdentities, ident.ID, map[string]any{"role": role})
	if _, err := s.Profile(ctx, ident.ID); err == nil {
		b.Update(lms.CollUsers, ident.ID, map[string]any{"role": role})
	}
	if err := s.store.Commit(ctx, b); err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	slog.Info("role granted", "user_id", ident.ID, "role", role)
	return nil
}

func (s *Service) identityByEmail(ctx context.Context, email string) (*lms.Identity, error) {
	docs, err := s.store.Query(ctx, lms.CollIdentities, docstore.Eq("email", email))
	if err != nil {
		return nil, fmt.Errorf("find identity: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrUnknownIdentity
	}
	var ident lms.Identity
	if err := docs[0].Decode(&ident); err != nil {
		return nil, err
	}
	return &ident, nil
}

func (s *Service) newProfile(ident lms.Identity, name string) lms.UserProfile {
	return lms.UserProfile{
		UserID:                ident.ID,
		Name:                  name,
		Email:                 ident.Email,
		Role:                  ident.Role,
		CabTokens:             s.startingBalance,
		EnrolledCourseIDs:     []string{},
		MandatoryLearningPath: []string{},
		CreatedAt:             s.now().UTC(),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func nameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return email
	}
	return local
}
