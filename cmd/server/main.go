package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p-n-ai/cab-academy/internal/account"
	"github.com/p-n-ai/cab-academy/internal/ai"
	"github.com/p-n-ai/cab-academy/internal/audit"
	"github.com/p-n-ai/cab-academy/internal/catalog"
	"github.com/p-n-ai/cab-academy/internal/coursegen"
	"github.com/p-n-ai/cab-academy/internal/curriculum"
	"github.com/p-n-ai/cab-academy/internal/docstore"
	"github.com/p-n-ai/cab-academy/internal/exam"
	"github.com/p-n-ai/cab-academy/internal/grading"
	"github.com/p-n-ai/cab-academy/internal/lms"
	"github.com/p-n-ai/cab-academy/internal/platform/cache"
	"github.com/p-n-ai/cab-academy/internal/platform/config"
	"github.com/p-n-ai/cab-academy/internal/platform/database"
	"github.com/p-n-ai/cab-academy/internal/platform/logging"
	"github.com/p-n-ai/cab-academy/internal/qualification"
	"github.com/p-n-ai/cab-academy/internal/server"
)

const (
	sessionTTL   = 6 * time.Hour
	pruneEvery   = 15 * time.Minute
	recorderSize = 50
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log, os.Stdout)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	router, err := ai.NewRouterFromConfig(cfg.AI)
	if err != nil {
		slog.Error("failed to set up AI providers", "error", err)
		os.Exit(1)
	}

	a, err := build(ctx, cfg, router)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.close()

	go a.pruneSessions(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second, // course generation is one long upstream call
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "store", cfg.Database.Store, "debug", cfg.Server.Debug)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// app is the wired process: the HTTP handler plus what must be closed.
type app struct {
	handler  http.Handler
	sessions *exam.Registry
	closers  []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) pruneSessions(ctx context.Context) {
	ticker := time.NewTicker(pruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.sessions.Prune(time.Now().Add(-sessionTTL)); n > 0 {
				slog.Info("exam sessions pruned", "count", n, "remaining", a.sessions.Len())
			}
		}
	}
}

// build connects the store, cache and services described by cfg.
func build(ctx context.Context, cfg *config.Config, completer ai.Completer) (*app, error) {
	a := &app{sessions: exam.NewRegistry()}
	recorder := docstore.NewRecorder(recorderSize)

	var (
		store  docstore.Store
		events audit.Logger
	)
	switch cfg.Database.Store {
	case "postgres":
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.closers = append(a.closers, db.Close)

		pg, err := docstore.NewPostgresStore(db, recorder)
		if err != nil {
			a.close()
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("migrate documents: %w", err)
		}
		pgEvents := audit.NewPostgresLogger(db)
		if err := pgEvents.Migrate(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("migrate events: %w", err)
		}
		store, events = pg, pgEvents
	default:
		slog.Warn("using in-memory document store; data is lost on restart")
		store = docstore.NewMemoryStore(docstore.WithMemoryReporter(recorder))
		events = audit.NewMemoryLogger()
	}

	var checks []server.Check
	var drafts coursegen.DraftCache = coursegen.NewMemoryDraftCache(cfg.Cache.DraftTTL)
	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			slog.Warn("cache unavailable, keeping drafts in memory", "error", err)
		} else {
			a.closers = append(a.closers, func() { c.Close() })
			drafts = coursegen.NewRedisDraftCache(c, cfg.Cache.DraftTTL)
			checks = append(checks, server.Check{Name: "cache", Fn: c.HealthCheck})
		}
	}

	topics, err := curriculum.NewLoader(cfg.SeedPath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("load seed: %w", err)
	}
	if n, err := topics.Apply(ctx, store); err != nil {
		slog.Warn("seed not applied", "path", cfg.SeedPath, "error", err)
	} else {
		slog.Info("seed applied", "path", cfg.SeedPath, "documents", n, "topics", len(topics.AllTopics()))
	}

	accounts := account.NewService(store,
		account.NewTokens(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTL)*time.Hour),
		account.WithStartingBalance(cfg.Tokens.StartingBalance),
		account.WithEnrollmentCost(cfg.Tokens.EnrollmentCost),
	)
	bootstrapAdmin(ctx, accounts, events, cfg.Admin.Email)

	srv := server.New(server.Deps{
		Store:          store,
		Accounts:       accounts,
		Catalog:        catalog.New(store),
		Writer:         catalog.NewWriter(store),
		Generator:      coursegen.NewGenerator(completer, coursegen.WithModel(cfg.AI.Model)),
		Drafts:         drafts,
		Exams:          exam.NewService(store, exam.WithCost(cfg.Tokens.ExamCost)),
		Sessions:       a.sessions,
		Qualifications: qualification.NewService(store),
		Grader:         grading.NewGrader(completer, cfg.AI.Model, exam.PassThreshold),
		Topics:         topics,
		Recorder:       recorder,
		Events:         events,
		Checks:         checks,
		Debug:          cfg.Server.Debug,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	a.handler = srv.Handler()
	return a, nil
}

// bootstrapAdmin grants the admin role to email once that user has signed
// up. It runs on every start, so an early start is only logged.
func bootstrapAdmin(ctx context.Context, accounts *account.Service, events audit.Logger, email string) {
	if email == "" {
		return
	}
	err := accounts.GrantRole(ctx, email, lms.RoleAdmin)
	switch {
	case errors.Is(err, account.ErrUnknownIdentity):
		slog.Info("admin email not registered yet", "email", email)
	case err != nil:
		slog.Warn("admin bootstrap failed", "email", email, "error", err)
	default:
		audit.Log(ctx, events, audit.Event{Type: audit.RoleGranted, Data: map[string]any{"email": email, "role": lms.RoleAdmin, "source": "bootstrap"}})
	}
}
