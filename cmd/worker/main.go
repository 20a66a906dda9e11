// Copyright 2025 Certen Protocol
//
// Worker process: runs a standalone pool of worker loops against the
// proof store built from the same on-disk directory the orchestrator
// uses. cmd/orchestrator already runs its own embedded worker pool
// against its in-process queue, so this entrypoint is for scaling proof
// capacity onto separate hosts once the dispatch queue gains a networked
// backend; today its queue.Queue is private to this process and will
// never see jobs the orchestrator enqueues. Grounded on the teacher's
// main.go shape: stdlib log + flag, goroutine pool, signal-based
// graceful shutdown.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/config"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/kvstore"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/metrics"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/proofengine"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/proofstore"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/queue"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/worker"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg := config.Load()
	log.Printf("worker pool starting, data_dir=%q workers=%d", cfg.DataDir, cfg.WorkerCount)

	proofKV, err := openKV(cfg.DataDir, "proof-store")
	if err != nil {
		log.Fatalf("open proof store: %v", err)
	}
	defer proofKV.Close()

	proofs := proofstore.NewStore(proofKV)
	q := queue.NewQueue()
	m := metrics.New()
	engine := proofengine.NewMockEngine()

	workerCfg := worker.Config{
		Visibility:      cfg.ProvingInterval,
		PollInterval:    50 * time.Millisecond,
		MaxProveRetries: cfg.MaxProveRetries,
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		w := worker.New(fmt.Sprintf("%d", i), q, proofs, engine, workerCfg, m)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})
	mux.Handle("/metrics", m.Handler())
	httpServer := &http.Server{Addr: cfg.HealthAddr, Handler: mux}

	go func() {
		log.Printf("worker health/metrics listening on %s", cfg.HealthAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("health server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("worker pool shutting down")
	cancel()
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("health server shutdown error: %v", err)
	}
	log.Printf("worker pool stopped")
}

func openKV(dataDir, name string) (*kvstore.Store, error) {
	if dataDir == "" {
		return kvstore.NewMemStore(), nil
	}
	db, err := dbm.NewGoLevelDB(name, filepath.Join(dataDir, name))
	if err != nil {
		return nil, err
	}
	return kvstore.NewStore(db), nil
}
