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

	"github.com/p-n-ai/pai-chapters/internal/chapterapi"
	"github.com/p-n-ai/pai-chapters/internal/curriculum"
	"github.com/p-n-ai/pai-chapters/internal/events"
	"github.com/p-n-ai/pai-chapters/internal/httpapi"
	"github.com/p-n-ai/pai-chapters/internal/learner"
	"github.com/p-n-ai/pai-chapters/internal/platform/cache"
	"github.com/p-n-ai/pai-chapters/internal/platform/config"
	"github.com/p-n-ai/pai-chapters/internal/platform/database"
	"github.com/p-n-ai/pai-chapters/internal/realtime"
	"github.com/p-n-ai/pai-chapters/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer a.close()

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "backend", cfg.Backend.Mode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// app holds the wired service and the resources it must release.
type app struct {
	handler http.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	var serverOpts []httpapi.Option

	var (
		api     chapterapi.Service
		fetcher session.Fetcher
	)
	switch cfg.Backend.Mode {
	case config.BackendMemory:
		loader, err := curriculum.NewLoader(cfg.CurriculumPath)
		if err != nil {
			return nil, fmt.Errorf("loading curriculum: %w", err)
		}
		users, err := session.ParseUsers(cfg.Session.DevUsers)
		if err != nil {
			return nil, fmt.Errorf("LEARN_DEV_USERS: %w", err)
		}
		api = chapterapi.NewMemoryService(loader)
		fetcher = session.StaticFetcher{Users: users}
		slog.Info("using in-memory chapter service", "path", cfg.CurriculumPath, "dev_users", len(users))
	default:
		client := chapterapi.NewClient(cfg.Backend.URL, chapterapi.WithTimeout(cfg.Backend.Timeout))
		api = client
		fetcher = client
	}

	var store session.Store = session.NewMemoryStore()
	if cfg.Cache.URL != "" {
		c, err := cache.New(ctx, cfg.Cache.URL, cfg.Cache.Prefix)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() { c.Close() })
		store = session.NewRedisStore(c)
		serverOpts = append(serverOpts, httpapi.WithReadyCheck("cache", c.HealthCheck))
	}
	sessions := session.NewManager(store, fetcher, cfg.Session.TTL)

	hub := realtime.NewHub()
	hub.OriginPatterns = cfg.Realtime.OriginPatterns

	var history interface {
		events.Logger
		events.History
	} = events.NewMemory()
	if cfg.Database.URL != "" {
		db, err := database.New(ctx, database.Options{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, db.Close)

		pg := events.NewPostgres(db.Pool)
		if cfg.Database.EnsureSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				a.close()
				return nil, err
			}
		}
		history = pg
		serverOpts = append(serverOpts, httpapi.WithReadyCheck("database", db.HealthCheck))
	}

	flow := learner.NewFlow(api, learner.WithEvents(events.Multi{history, hub}))
	serverOpts = append(serverOpts, httpapi.WithRealtime(hub), httpapi.WithHistory(history))
	a.handler = httpapi.New(flow, sessions, serverOpts...).Handler()
	return a, nil
}
