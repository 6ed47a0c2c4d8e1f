package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/arivoice/aria/internal/config"
	"github.com/arivoice/aria/internal/extern/synthesis"
	"github.com/arivoice/aria/internal/gateway"
	"github.com/arivoice/aria/internal/observability"
	"github.com/arivoice/aria/internal/stage/synth"
	"github.com/arivoice/aria/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	provider := synthesis.NewClient(synthesis.Config{
		WSBaseURL: cfg.SynthesisWSBaseURL,
		APIKey:    cfg.SynthesisAPIKey,
	})

	sessions := store.New()
	reaper := store.NewReaper(sessions, nil, store.ReaperConfig{
		Interval:    cfg.ReapInterval,
		IdleTimeout: cfg.SessionIdleTimeout,
		MaxSessions: cfg.MaxSessions,
	})
	reaper.SetEvictHook(func(reason string) {
		metrics.ReaperEvictions.WithLabelValues(reason).Inc()
		metrics.ActiveSessions.Set(float64(sessions.Len()))
	})

	engine := synth.NewEngine(provider, synth.Options{DefaultVoice: cfg.DefaultVoice})

	srv := gateway.New(cfg, gateway.Options{
		ServiceName: "tts-service",
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
		log.Printf("tts-service listening on %s", cfg.BindAddr)
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
