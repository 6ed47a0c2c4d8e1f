package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/arivoice/aria/internal/archive"
	"github.com/arivoice/aria/internal/config"
	"github.com/arivoice/aria/internal/extern/completion"
	"github.com/arivoice/aria/internal/gateway"
	"github.com/arivoice/aria/internal/observability"
	"github.com/arivoice/aria/internal/stage/chat"
	"github.com/arivoice/aria/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if strings.TrimSpace(cfg.CompletionAPIURL) == "" {
		log.Fatalf("COMPLETION_API_URL is required")
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	client := completion.NewClient(completion.Config{
		URL:    cfg.CompletionAPIURL,
		APIKey: cfg.CompletionAPIKey,
		Model:  cfg.CompletionModel,
	})

	sessions := store.New()

	ctx := context.Background()
	pg, err := archive.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("session archive init failed: %v", err)
	}
	var archiver store.Archiver
	if pg != nil {
		archiver = pg
		defer pg.Close()
		log.Printf("session archive: postgres")
	}

	finalizer, err := store.NewFileFinalizer(cfg.SessionSaveDir, client, archiver)
	if err != nil {
		log.Fatalf("finalizer init failed: %v", err)
	}

	reaper := store.NewReaper(sessions, finalizer, store.ReaperConfig{
		Interval:    cfg.ReapInterval,
		IdleTimeout: cfg.SessionIdleTimeout,
		MaxSessions: cfg.MaxSessions,
	})
	reaper.SetEvictHook(func(reason string) {
		metrics.ReaperEvictions.WithLabelValues(reason).Inc()
		metrics.ActiveSessions.Set(float64(sessions.Len()))
	})

	engine := chat.NewEngine(sessions, client, chat.Options{
		SystemPrompt: cfg.SystemPrompt,
		MaxExchanges: cfg.MaxPromptExchanges,
		Streaming:    cfg.CompletionStreaming,
	})

	srv := gateway.New(cfg, gateway.Options{
		ServiceName: "llm-engine",
		RelayURL:    cfg.DownstreamURL,
	}, sessions, engine.Factory(), metrics)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: srv.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		reaper.Run(runCtx)
	}()

	go func() {
		log.Printf("llm-engine listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	<-reaperDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
