package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/yymmt/bbs-test/internal/app"
	"github.com/yymmt/bbs-test/internal/config"
	"github.com/yymmt/bbs-test/internal/metrics"
	"github.com/yymmt/bbs-test/internal/push"
	"github.com/yymmt/bbs-test/internal/session"
	"github.com/yymmt/bbs-test/internal/store"
	"github.com/yymmt/bbs-test/internal/summarize"
)

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	cfg := config.Load()
	ctx := context.Background()

	var dataStore store.Store
	switch cfg.StoreBackend {
	case "memory":
		slog.Warn("using in-memory store, data is lost on restart")
		dataStore = store.NewMemoryStore(nil)
	case "postgres":
		db, err := store.Open(ctx, cfg.DatabaseURL, cfg.ConnectAttempts)
		if err != nil {
			fatal("database connection failed", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, os.DirFS(cfg.MigrationsDir)); err != nil {
			fatal("migrations failed", err)
		}
		dataStore = store.NewPostgresStore(db)
	default:
		fatal("unknown store backend", errors.New(cfg.StoreBackend))
	}

	var tokens *session.RedisStore
	err := retry.Do(
		func() error {
			var err error
			tokens, err = session.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
			return err
		},
		retry.Attempts(max(cfg.ConnectAttempts, 1)),
		retry.Delay(500*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("redis not ready", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		fatal("redis connection failed", err)
	}
	defer tokens.Close()

	m := metrics.New()

	var sender push.Sender
	if cfg.PushConfigured() {
		sender = push.NewWebPushSender(cfg, nil)
	} else {
		slog.Warn("VAPID keys not set, push notifications disabled")
	}
	fanout := push.NewFanout(dataStore, sender, m)

	var summarizer summarize.Summarizer
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gemini, err := summarize.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel,
			summarize.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}))
		if err != nil {
			fatal("summarizer setup failed", err)
		}
		summarizer = gemini
	}

	service := app.New(cfg, dataStore, fanout, summarizer)
	if err := service.Bootstrap(ctx); err != nil {
		slog.Warn("bootstrap error (will retry on next restart)", "error", err)
	}

	httpServer := app.NewHTTPServer(service, tokens, cfg, m)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("bbs api listening", "addr", cfg.Addr, "store", cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server failed", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
