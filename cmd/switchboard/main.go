package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/antoniostano/switchboard/internal/bridge"
	"github.com/antoniostano/switchboard/internal/cdr"
	"github.com/antoniostano/switchboard/internal/config"
	"github.com/antoniostano/switchboard/internal/observability"
	"github.com/antoniostano/switchboard/internal/tools"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	toolReg := tools.NewRegistry()
	tools.RegisterBuiltins(toolReg)

	registry := bridge.NewRegistry(cfg.SessionTTL, metrics)

	b := bridge.New(cfg, registry, toolReg, metrics)
	fd := bridge.NewFrontDoor(cfg, b, registry)

	if cfg.DatabaseURL != "" {
		store, err := cdr.NewPostgresStore(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("call record store init failed: %v", err)
		}
		defer store.Close()
		registry.SetDestroyHook(func(summary bridge.CallSummary) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := store.Record(ctx, cdr.CallRecord{
				SessionID:         summary.SessionID,
				Direction:         summary.Direction,
				Counterpart:       summary.Counterpart,
				StartedAt:         summary.StartedAt,
				EndedAt:           summary.EndedAt,
				TranscriptEntries: summary.TranscriptEntries,
				Interruptions:     summary.Interruptions,
			})
			if err != nil {
				log.Printf("call record write failed: %v", err)
			}
		})
		fd.SetCallLog(store)
		log.Printf("call records enabled")
	}

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: fd.Handler(),
	}

	go func() {
		log.Printf("bridge listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
