package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sevakavakians/kato/internal/api"
	"github.com/sevakavakians/kato/internal/config"
	"github.com/sevakavakians/kato/internal/session"
	"github.com/sevakavakians/kato/internal/storage"
)

const version = "0.1.0"

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("starting kato", zap.String("version", version))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatal("loading configuration", zap.Error(err))
	}

	tiers, err := openTiers(ctx)
	if err != nil {
		log.Fatal("opening storage tiers", zap.Error(err))
	}
	defer tiers.Close()

	// kbRegistry is shared between the session manager's writer (which
	// registers a kb_id on every successful learn) and the repair task
	// (which sweeps every kb_id the registry has seen) since storage has
	// no "list tenants" query of its own.
	kbRegistry := storage.NewKBRegistry()

	repairLedger, err := storage.NewRepairLedger(envOr("KATO_REPAIR_LEDGER_PATH", "./kato-repair.db"))
	if err != nil {
		log.Fatal("opening repair ledger", zap.Error(err))
	}
	defer repairLedger.Close()

	repair, err := storage.NewRepairTask(tiers, kbRegistry, repairLedger, log, envOr("KATO_REPAIR_SCHEDULE", "*/5 * * * *"))
	if err != nil {
		log.Fatal("scheduling repair task", zap.Error(err))
	}
	repair.Start()
	defer repair.Stop()

	maxSessions := envOrInt("KATO_MAX_SESSIONS", 0)
	manager := session.New(tiers, cfg, maxSessions, kbRegistry)

	sweep, err := session.NewTTLSweep(manager, log, envOr("KATO_SESSION_SWEEP_SCHEDULE", "*/1 * * * *"))
	if err != nil {
		log.Fatal("scheduling session sweep", zap.Error(err))
	}
	sweep.Start()
	defer sweep.Stop()

	server := api.New(manager)
	addr := envOr("KATO_LISTEN_ADDR", ":8080")
	httpServer := &http.Server{Addr: addr, Handler: server.Handler()}

	go func() {
		log.Info("listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server stopped", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	log.Info("stopped")
}

func openTiers(ctx context.Context) (storage.Tiers, error) {
	patterns, err := storage.NewBadgerPatternStore(envOr("KATO_BADGER_PATH", "./kato-patterns"))
	if err != nil {
		return storage.Tiers{}, err
	}

	index, err := storage.NewDgraphPatternIndex(ctx, envOr("KATO_DGRAPH_ADDR", "localhost:9080"))
	if err != nil {
		return storage.Tiers{}, err
	}

	counters, err := storage.NewRedisCounters(ctx,
		envOr("KATO_REDIS_ADDR", "localhost:6379"),
		os.Getenv("KATO_REDIS_PASSWORD"),
		envOrInt("KATO_REDIS_DB", 0),
	)
	if err != nil {
		return storage.Tiers{}, err
	}

	return storage.Tiers{Patterns: patterns, Index: index, Counters: counters}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
