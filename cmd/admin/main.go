// Command admin grants roles outside the HTTP surface.
//
//	admin -email ops@example.com -role instructor
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/p-n-ai/cab-academy/internal/account"
	"github.com/p-n-ai/cab-academy/internal/audit"
	"github.com/p-n-ai/cab-academy/internal/docstore"
	"github.com/p-n-ai/cab-academy/internal/lms"
	"github.com/p-n-ai/cab-academy/internal/platform/config"
	"github.com/p-n-ai/cab-academy/internal/platform/database"
	"github.com/p-n-ai/cab-academy/internal/platform/logging"
)

func main() {
	email := flag.String("email", "", "email of the registered user")
	role := flag.String("role", string(lms.RoleAdmin), "role to grant: admin, instructor, student or examinee")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log, os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, cfg, *email, lms.Role(*role)); err != nil {
		slog.Error("grant role failed", "email", *email, "role", *role, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, email string, role lms.Role) error {
	if email == "" {
		return fmt.Errorf("-email is required")
	}
	if !role.Valid() {
		return fmt.Errorf("%w: %q", account.ErrInvalidRole, role)
	}
	if cfg.Database.Store != "postgres" {
		return fmt.Errorf("CAB_STORE=%s: roles can only be granted on a persistent store", cfg.Database.Store)
	}

	db, err := database.New(ctx, cfg.Database.URL, 2, 1)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	store, err := docstore.NewPostgresStore(db, docstore.NopReporter{})
	if err != nil {
		return err
	}
	return grant(ctx, store, audit.NewPostgresLogger(db), cfg.Auth.JWTSecret, email, role)
}

// grant sets role on the identity behind email and records the change.
func grant(ctx context.Context, store docstore.Store, events audit.Logger, secret, email string, role lms.Role) error {
	accounts := account.NewService(store, account.NewTokens(secret, time.Hour))
	if err := accounts.GrantRole(ctx, email, role); err != nil {
		return err
	}
	audit.Log(ctx, events, audit.Event{
		Type: audit.RoleGranted,
		Data: map[string]any{"email": email, "role": role, "source": "cli"},
	})
	slog.Info("role granted", "email", email, "role", role)
	return nil
}
