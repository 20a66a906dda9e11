// Copyright 2025 Certen Protocol
//
// Orchestrator process: owns the domain state store and the sighash
// whitelist tree, runs the block planner sequentially per checkpoint,
// and serves the control-plane HTTP surface (submit a request, trigger
// ProduceBlock, inspect health/metrics). Grounded on the teacher's
// main.go shape: stdlib log + flag, an http.ServeMux of handlers, a
// context canceled on SIGINT/SIGTERM, graceful http.Server.Shutdown.
package main

import (
	"context"
	"encoding/json"
	"flag"
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
	"github.com/QEDProtocol/city-rollup-sub003/pkg/hashtypes"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/jobid"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/kvstore"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/merkletree"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/metrics"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/planner"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/proofengine"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/proofstore"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/queue"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/rollupstate"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/sighash"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/worker"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	manifestPath := flag.String("whitelist-manifest", "", "path to the sighash whitelist YAML manifest (defaults to a small dev manifest)")
	flag.Parse()

	cfg := config.Load()
	log.Printf("orchestrator starting, data_dir=%q listen=%s", cfg.DataDir, cfg.ListenAddr)

	hasher := hashtypes.NewPoseidonHasher()

	stateKV, err := openKV(cfg.DataDir, "rollup-state")
	if err != nil {
		log.Fatalf("open state store: %v", err)
	}
	proofKV, err := openKV(cfg.DataDir, "proof-store")
	if err != nil {
		log.Fatalf("open proof store: %v", err)
	}

	treeStore := merkletree.NewStore(stateKV, hasher, map[merkletree.TreeID]uint8{
		merkletree.TreeUsers:       20,
		merkletree.TreeDeposits:    16,
		merkletree.TreeWithdrawals: 5,
	})
	state := rollupstate.NewStore(stateKV, treeStore, hasher)
	proofs := proofstore.NewStore(proofKV)
	q := queue.NewQueue()
	m := metrics.New()

	whitelist, err := loadWhitelist(hasher, *manifestPath)
	if err != nil {
		log.Fatalf("load sighash whitelist: %v", err)
	}

	p := planner.NewPlanner(state, proofs, whitelist)
	p.MaxWithdrawalsPerBlock = cfg.MaxWithdrawalsPerBlock

	srv := &server{planner: p, queue: q, metrics: m, checkpoint: 0}
	srv.loadCheckpoint(state)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/produce_block", srv.handleProduceBlock)

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux(m)}

	ctx, cancel := context.WithCancel(context.Background())
	go reportQueueDepth(ctx, q, m)

	// The dispatch queue and proof store are in-process, not networked
	// (see cmd/worker's doc comment for the multi-host caveat), so this
	// process runs its own worker pool against the same Queue and Store
	// it just planned into, rather than requiring a separate worker
	// process for a single-host deployment.
	engine := proofengine.NewMockEngine()
	workerCfg := worker.Config{
		Visibility:      cfg.ProvingInterval,
		PollInterval:    50 * time.Millisecond,
		MaxProveRetries: cfg.MaxProveRetries,
	}
	var workerWG sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wk := worker.New(fmt.Sprintf("%d", i), q, proofs, engine, workerCfg, m)
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			wk.Run(ctx)
		}()
	}

	go func() {
		log.Printf("control plane listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("control plane server: %v", err)
		}
	}()
	go func() {
		log.Printf("metrics listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("orchestrator shutting down")
	cancel()
	workerWG.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("control plane shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics shutdown error: %v", err)
	}
	stateKV.Close()
	proofKV.Close()
	log.Printf("orchestrator stopped")
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

func loadWhitelist(hasher hashtypes.Hasher, manifestPath string) (*sighash.Tree, error) {
	if manifestPath != "" {
		f, err := os.Open(manifestPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return sighash.LoadManifest(hasher, f)
	}

	// No manifest configured: build a minimal dev whitelist covering the
	// single-deposit/single-withdrawal shapes the scenarios in spec §8
	// exercise, with deterministic placeholder fingerprints.
	refund := hashtypes.FieldHash{1, 0, 0, 0}
	entries := []sighash.Entry{
		{Gadget: jobid.SigHashGadgetID{NumDeposits: 0, NumWithdrawals: 0, Permutation: 0}, Fingerprint: hashtypes.FieldHash{2, 0, 0, 0}},
		{Gadget: jobid.SigHashGadgetID{NumDeposits: 1, NumWithdrawals: 0, Permutation: 0}, Fingerprint: hashtypes.FieldHash{3, 0, 0, 0}},
		{Gadget: jobid.SigHashGadgetID{NumDeposits: 0, NumWithdrawals: 1, Permutation: 0}, Fingerprint: hashtypes.FieldHash{4, 0, 0, 0}},
		{Gadget: jobid.SigHashGadgetID{NumDeposits: 1, NumWithdrawals: 1, Permutation: 0}, Fingerprint: hashtypes.FieldHash{5, 0, 0, 0}},
	}
	return sighash.Build(hasher, refund, entries)
}

func metricsMux(m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

func reportQueueDepth(ctx context.Context, q *queue.Queue, m *metrics.Metrics) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobDepth := 0
			if !q.IsEmpty(queue.TopicJob) {
				jobDepth = 1
			}
			m.QueueDepthJob.Set(float64(jobDepth))
		}
	}
}

// server holds the orchestrator's mutable, single-writer planning state.
type server struct {
	mu         sync.Mutex
	planner    *planner.Planner
	queue      *queue.Queue
	metrics    *metrics.Metrics
	checkpoint uint64
}

func (s *server) loadCheckpoint(state *rollupstate.Store) {
	// Checkpoint 0 is genesis; the orchestrator advances it in memory as
	// ProduceBlock calls succeed. The counter starts at 0 on every start:
	// persisted BlockState records are not read here, so a process
	// restarted over an existing DataDir plans checkpoint 1 again.
	s.checkpoint = 0
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

// produceBlockRequest is the control-plane payload for /produce_block:
// the request bag to plan against the current checkpoint.
type produceBlockRequest struct {
	Bag planner.RequestBag `json:"bag"`
}

type produceBlockResponse struct {
	Checkpoint    uint64         `json:"checkpoint"`
	TerminalJobID string         `json:"terminal_job_id"`
	LeafCount     int            `json:"leaf_count"`
	Dropped       int            `json:"dropped"`
}

func (s *server) handleProduceBlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req produceBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "decode request: "+err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.planner.Plan(s.checkpoint, req.Bag)
	if err != nil {
		log.Printf("plan checkpoint %d: %v", s.checkpoint+1, err)
		http.Error(w, "plan: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.checkpoint = plan.Checkpoint

	for _, leaf := range plan.LeafJobIDs {
		b := leaf.Bytes()
		s.queue.Push(queue.TopicJob, b[:])
	}

	if s.metrics != nil {
		s.metrics.BlocksPlanned.Inc()
		s.metrics.LeavesEnqueued.Add(float64(len(plan.LeafJobIDs)))
		for range plan.Dropped {
			s.metrics.RequestsDropped.Inc()
		}
	}

	log.Printf("planned checkpoint %d: %d leaves, %d dropped, terminal=%s",
		plan.Checkpoint, len(plan.LeafJobIDs), len(plan.Dropped), plan.TerminalJobID.Hex())

	json.NewEncoder(w).Encode(produceBlockResponse{
		Checkpoint:    plan.Checkpoint,
		TerminalJobID: plan.TerminalJobID.Hex(),
		LeafCount:     len(plan.LeafJobIDs),
		Dropped:       len(plan.Dropped),
	})
}
