package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"choreboard/internal/engine"
	"choreboard/internal/kvcache"
	"choreboard/internal/logging"
	"choreboard/internal/reactive"
	"choreboard/internal/reconcile"
	"choreboard/internal/remote"
	"choreboard/internal/scheduler"
)

// The agent is the device-side process: it keeps a local projection of the
// family's state, applies actions optimistically, mirrors them to the hub,
// folds the hub's change feed back in, and runs the periodic passes.
func main() {
	hubURL := os.Getenv("CHOREBOARD_HUB_URL")
	if hubURL == "" {
		hubURL = "http://localhost:8080"
	}

	familyID := os.Getenv("CHOREBOARD_FAMILY_ID")
	if familyID == "" {
		log.Fatal("CHOREBOARD_FAMILY_ID is required")
	}

	actorID := os.Getenv("CHOREBOARD_MEMBER_ID")
	if actorID == "" {
		log.Fatal("CHOREBOARD_MEMBER_ID is required")
	}

	cachePath := os.Getenv("CHOREBOARD_CACHE_PATH")
	if cachePath == "" {
		cachePath = "choreboard-agent.db"
	}

	logger := logging.Setup(os.Getenv("CHOREBOARD_LOG_LEVEL"), os.Getenv("CHOREBOARD_LOG_FORMAT"))

	cache, err := kvcache.Open(cachePath)
	if err != nil {
		log.Fatalf("failed to open cache: %v", err)
	}
	defer cache.Close()

	local := reactive.NewStore(logger,
		reactive.WithPersistence(cache, "projection:"+familyID, 2*time.Second))
	if err := local.Load(); err != nil {
		logger.Warn("load cached projection", "error", err)
	}

	svc := remote.NewClient(hubURL, actorID, logger)
	recon := reconcile.New(local, reconcile.NewIdentityTable(), logger)
	eng := engine.New(familyID, local, svc, recon, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		// Offline start: the cached projection keeps the device usable.
		logger.Warn("starting from cache", "error", err)
	}

	sched := scheduler.New(eng, scheduler.DefaultInterval, logger)
	go sched.Run(ctx)

	fmt.Printf("Choreboard agent connected to %s (family %s)\n", hubURL, familyID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\nShutting down...")
	cancel()
	local.Flush()
}
