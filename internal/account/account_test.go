package account_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/p-n-ai/cab-academy/internal/account"
	"github.com/p-n-ai/cab-academy/internal/docstore"
	"github.com/p-n-ai/cab-academy/internal/lms"
)

func newService(store docstore.Store, opts ...account.Option) *account.Service {
	opts = append([]account.Option{account.WithHashCost(bcrypt.MinCost)}, opts...)
	return account.NewService(store, account.NewTokens("test-secret", time.Hour), opts...)
}

func signUp(t *testing.T, svc *account.Service) *account.AuthResult {
	t.Helper()
	res, err := svc.SignUp(context.Background(), account.SignUpRequest{
		Email:    " Ada@Example.com ",
		Password: "correct horse",
		Name:     "Ada",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	return res
}

func TestSignUp_CreatesIdentityAndProfile(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc := newService(store, account.WithStartingBalance(40))

	res := signUp(t, svc)

	if res.Profile.Role != lms.RoleStudent {
		t.Errorf("Role = %q, want student", res.Profile.Role)
	}
	if res.Profile.CabTokens != 40 {
		t.Errorf("CabTokens = %d, want 40", res.Profile.CabTokens)
	}
	if res.Profile.Email != "ada@example.com" {
		t.Errorf("Email = %q, want normalized", res.Profile.Email)
	}
	if len(res.Profile.EnrolledCourseIDs) != 0 {
		t.Errorf("EnrolledCourseIDs = %v, want empty", res.Profile.EnrolledCourseIDs)
	}

	var ident lms.Identity
	if err := store.Get(context.Background(), lms.CollIdentities, res.Profile.UserID, &ident); err != nil {
		t.Fatalf("Get(identity) error = %v", err)
	}
	if ident.PasswordHash == "correct horse" || ident.PasswordHash == "" {
		t.Error("password stored unhashed")
	}

	claims, err := svc.Tokens().Parse(res.Token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.UserID() != res.Profile.UserID || claims.Role != lms.RoleStudent {
		t.Errorf("claims = %s/%s, want %s/student", claims.UserID(), claims.Role, res.Profile.UserID)
	}
}

func TestSignUp_Validation(t *testing.T) {
	svc := newService(docstore.NewMemoryStore())
	tests := []struct {
		name string
		req  account.SignUpRequest
	}{
		{"bad email", account.SignUpRequest{Email: "nope", Password: "longenough", Name: "A"}},
		{"short password", account.SignUpRequest{Email: "a@b.co", Password: "short", Name: "A"}},
		{"missing name", account.SignUpRequest{Email: "a@b.co", Password: "longenough"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.SignUp(context.Background(), tt.req); !errors.Is(err, lms.ErrInvalid) {
				t.Errorf("SignUp() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestSignUp_DuplicateEmail(t *testing.T) {
	svc := newService(docstore.NewMemoryStore())
	signUp(t, svc)
	_, err := svc.SignUp(context.Background(), account.SignUpRequest{Email: "ada@example.com", Password: "another one", Name: "Ada"})
	if !errors.Is(err, account.ErrEmailTaken) {
		t.Errorf("SignUp() error = %v, want ErrEmailTaken", err)
	}
}

func TestSignUp_ProfileFailureDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	rec := docstore.NewRecorder(5)
	store := docstore.NewMemoryStore(docstore.WithMemoryReporter(rec))
	store.AddRule(docstore.DenyCollection(lms.CollUsers))
	svc := newService(store)

	res := signUp(t, svc)
	if store.Count(lms.CollIdentities) != 1 {
		t.Error("identity not created")
	}
	if store.Count(lms.CollUsers) != 0 {
		t.Error("profile created despite deny rule")
	}
	recent := rec.Recent()
	if len(recent) != 1 || recent[0].Collection != lms.CollUsers {
		t.Fatalf("reported = %+v, want one users failure", recent)
	}

	store.ClearRules()
	in, err := svc.SignIn(ctx, account.SignInRequest{Email: "ada@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if in.Profile.UserID != res.Profile.UserID {
		t.Errorf("UserID = %q, want %q", in.Profile.UserID, res.Profile.UserID)
	}
	if store.Count(lms.CollUsers) != 1 {
		t.Error("profile not recreated on sign-in")
	}
}

func TestSignIn(t *testing.T) {
	svc := newService(docstore.NewMemoryStore())
	signUp(t, svc)

	tests := []struct {
		name     string
		email    string
		password string
		wantErr  error
	}{
		{"ok", "ADA@example.com", "correct horse", nil},
		{"wrong password", "ada@example.com", "battery staple", account.ErrInvalidCredentials},
		{"unknown email", "bob@example.com", "correct horse", account.ErrInvalidCredentials},
		{"empty password", "ada@example.com", "", lms.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.SignIn(context.Background(), account.SignInRequest{Email: tt.email, Password: tt.password})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SignIn() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && res.Token == "" {
				t.Error("Token is empty")
			}
		})
	}
}

func seedCourse(t *testing.T, store docstore.Store, id string) {
	t.Helper()
	c := lms.Course{ID: id, Title: "Course " + id, Difficulty: lms.Beginner, CourseCode: "C"}
	if err := store.Set(context.Background(), lms.CollCourses, id, c); err != nil {
		t.Fatalf("seed course: %v", err)
	}
}

func TestEnroll(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	svc := newService(store, account.WithStartingBalance(15), account.WithEnrollmentCost(10))
	uid := signUp(t, svc).Profile.UserID
	seedCourse(t, store, "c1")
	seedCourse(t, store, "c2")

	p, err := svc.Enroll(ctx, uid, "c1")
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if !p.IsEnrolled("c1") || p.CabTokens != 5 {
		t.Errorf("profile = %+v, want enrolled in c1 with 5 tokens", p)
	}

	// Idempotent: no second charge.
	p, err = svc.Enroll(ctx, uid, "c1")
	if err != nil || p.CabTokens != 5 {
		t.Errorf("second Enroll() = %d tokens, %v, want 5, nil", p.CabTokens, err)
	}

	writes := store.Writes()
	if _, err := svc.Enroll(ctx, uid, "c2"); !errors.Is(err, account.ErrInsufficientTokens) {
		t.Errorf("Enroll() error = %v, want ErrInsufficientTokens", err)
	}
	if store.Writes() != writes {
		t.Error("store written despite insufficient tokens")
	}

	if _, err := svc.Enroll(ctx, uid, "missing"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("Enroll(missing) error = %v, want ErrNotFound", err)
	}

	stored, _ := svc.Profile(ctx, uid)
	if len(stored.EnrolledCourseIDs) != 1 || stored.CabTokens != 5 {
		t.Errorf("stored profile = %+v, want one enrollment and 5 tokens", stored)
	}
}

func TestAssignRoadmapAndGrantTokens(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	svc := newService(store)
	uid := signUp(t, svc).Profile.UserID
	_ = store.Set(ctx, lms.CollRoadmaps, "r1", lms.Roadmap{ID: "r1", Title: "Auditor", Steps: []string{"c1"}})

	p, err := svc.AssignRoadmap(ctx, uid, "r1")
	if err != nil {
		t.Fatalf("AssignRoadmap() error = %v", err)
	}
	p, _ = svc.AssignRoadmap(ctx, uid, "r1")
	if len(p.MandatoryLearningPath) != 1 {
		t.Errorf("MandatoryLearningPath = %v, want [r1]", p.MandatoryLearningPath)
	}
	if _, err := svc.AssignRoadmap(ctx, uid, "nope"); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("AssignRoadmap(missing) error = %v, want ErrNotFound", err)
	}

	p, err = svc.GrantTokens(ctx, uid, 25)
	if err != nil {
		t.Fatalf("GrantTokens() error = %v", err)
	}
	if p.CabTokens != account.DefaultStartingBalance+25 {
		t.Errorf("CabTokens = %d, want %d", p.CabTokens, account.DefaultStartingBalance+25)
	}
	if _, err := svc.GrantTokens(ctx, uid, 0); !errors.Is(err, lms.ErrInvalid) {
		t.Errorf("GrantTokens(0) error = %v, want ErrInvalid", err)
	}
}

func TestGrantRole(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	svc := newService(store)
	uid := signUp(t, svc).Profile.UserID

	if err := svc.GrantRole(ctx, "ada@example.com", lms.RoleAdmin); err != nil {
		t.Fatalf("GrantRole() error = %v", err)
	}
	p, _ := svc.Profile(ctx, uid)
	if p.Role != lms.RoleAdmin {
		t.Errorf("profile role = %q, want admin", p.Role)
	}
	res, err := svc.SignIn(ctx, account.SignInRequest{Email: "ada@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	claims, _ := svc.Tokens().Parse(res.Token)
	if claims.Role != lms.RoleAdmin {
		t.Errorf("token role = %q, want admin", claims.Role)
	}

	if err := svc.GrantRole(ctx, "ada@example.com", "overlord"); !errors.Is(err, account.ErrInvalidRole) {
		t.Errorf("GrantRole(bad role) error = %v, want ErrInvalidRole", err)
	}
	if err := svc.GrantRole(ctx, "bob@example.com", lms.RoleAdmin); !errors.Is(err, account.ErrUnknownIdentity) {
		t.Errorf("GrantRole(unknown) error = %v, want ErrUnknownIdentity", err)
	}
}

func TestTokens_Parse(t *testing.T) {
	tokens := account.NewTokens("secret", time.Hour)
	raw, err := tokens.Issue("u1", lms.RoleInstructor)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := account.NewTokens("other", time.Hour).Parse(raw); !errors.Is(err, account.ErrInvalidToken) {
		t.Errorf("Parse(wrong secret) error = %v, want ErrInvalidToken", err)
	}
	if _, err := tokens.Parse("garbage"); !errors.Is(err, account.ErrInvalidToken) {
		t.Errorf("Parse(garbage) error = %v, want ErrInvalidToken", err)
	}

	expired := account.NewTokens("secret", -time.Minute)
	old, _ := expired.Issue("u1", lms.RoleStudent)
	if _, err := tokens.Parse(old); !errors.Is(err, account.ErrInvalidToken) {
		t.Errorf("Parse(expired) error = %v, want ErrInvalidToken", err)
	}
}
