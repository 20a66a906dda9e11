package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/hashtypes"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/jobid"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/kvstore"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/merkletree"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/planner"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/proofengine"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/proofstore"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/queue"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/rollupstate"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/sighash"
)

func field(v uint64) hashtypes.FieldHash {
	return hashtypes.FieldHash{v, 0, 0, 0}
}

func testPlan(t *testing.T) (*proofstore.Store, *planner.BlockPlan) {
	t.Helper()
	hasher := hashtypes.NewPoseidonHasher()
	kv := kvstore.NewMemStore()
	tree := merkletree.NewStore(kv, hasher, map[merkletree.TreeID]uint8{
		merkletree.TreeUsers:       8,
		merkletree.TreeDeposits:    8,
		merkletree.TreeWithdrawals: 8,
	})
	state := rollupstate.NewStore(kv, tree, hasher)
	proofs := proofstore.NewStore(kvstore.NewMemStore())

	gadget := jobid.SigHashGadgetID{NumDeposits: 0, NumWithdrawals: 0, Permutation: 0}
	whitelist, err := sighash.Build(hasher, field(1), []sighash.Entry{{Gadget: gadget, Fingerprint: field(2)}})
	if err != nil {
		t.Fatalf("sighash.Build: %v", err)
	}
	p := planner.NewPlanner(state, proofs, whitelist)

	bag := planner.RequestBag{
		RegisterUser: []planner.RegisterUserRequest{{PublicKey: field(10)}, {PublicKey: field(11)}, {PublicKey: field(12)}, {PublicKey: field(13)}},
		SighashHints: []planner.SighashIntrospectionHint{{NumDeposits: 0, NumWithdrawals: 0, Permutation: 0, InputIndex: 0}},
	}
	plan, err := p.Plan(0, bag)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	return proofs, plan
}

// drain runs step() on every worker in round-robin until Q_JOB is empty or
// the iteration budget is exhausted, simulating a pool of goroutines
// draining a shared queue without relying on wall-clock sleeps.
func drain(ctx context.Context, q *queue.Queue, workers []*Worker) {
	for i := 0; i < 10000 && !q.IsEmpty(queue.TopicJob); i++ {
		w := workers[i%len(workers)]
		w.step(ctx)
	}
}

func TestWorkerDrainsFullPlanToTerminalOutput(t *testing.T) {
	proofs, plan := testPlan(t)
	q := queue.NewQueue()
	for _, leaf := range plan.LeafJobIDs {
		payload := leaf.Bytes()
		q.Push(queue.TopicJob, payload[:])
	}

	engine := proofengine.NewMockEngine()
	cfg := DefaultConfig()
	workers := []*Worker{
		New("a", q, proofs, engine, cfg, nil),
		New("b", q, proofs, engine, cfg, nil),
	}

	ctx := context.Background()
	drain(ctx, q, workers)

	if !q.IsEmpty(queue.TopicJob) {
		t.Fatal("Q_JOB should be fully drained")
	}

	out, err := proofs.GetBytes(plan.TerminalJobID.WithOutput())
	if err != nil {
		t.Fatalf("GetBytes terminal output: %v", err)
	}
	if out == nil {
		t.Fatal("expected the terminal job's output to be populated")
	}

	notifyCount := 0
	for {
		msg, ok := q.PopOne(queue.TopicNotifications, time.Minute)
		if !ok {
			break
		}
		if string(msg.Payload) == "CoreJobCompleted" {
			notifyCount++
		}
		q.DeleteMessage(queue.TopicNotifications, msg.ID)
	}
	if notifyCount != 1 {
		t.Fatalf("CoreJobCompleted notifications = %d, want exactly 1", notifyCount)
	}
}

func TestWorkerRedeliverySkipsAlreadyCompletedJob(t *testing.T) {
	proofs, plan := testPlan(t)
	q := queue.NewQueue()
	for _, leaf := range plan.LeafJobIDs {
		payload := leaf.Bytes()
		q.Push(queue.TopicJob, payload[:])
	}

	engine := proofengine.NewMockEngine()
	w := New("solo", q, proofs, engine, DefaultConfig(), nil)
	ctx := context.Background()
	drain(ctx, q, []*Worker{w})

	before, err := proofs.GetBytes(plan.TerminalJobID.WithOutput())
	if err != nil {
		t.Fatalf("GetBytes: %v", err)
	}

	// Redeliver the terminal job: since its output already exists, process
	// must treat this as a no-op rather than re-proving or re-notifying.
	if err := w.process(ctx, plan.TerminalJobID); err != nil {
		t.Fatalf("process on redelivery: %v", err)
	}

	after, err := proofs.GetBytes(plan.TerminalJobID.WithOutput())
	if err != nil {
		t.Fatalf("GetBytes after redelivery: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("redelivered completed job must not change its stored output")
	}
}

type alwaysErrorEngine struct{}

func (alwaysErrorEngine) Prove(ctx context.Context, circuitType jobid.CircuitType, input []byte, childProofs [][]byte) ([]byte, error) {
	return nil, errors.New("boom: simulated prove failure")
}

func TestWorkerQuarantinesAfterMaxRetries(t *testing.T) {
	proofs, plan := testPlan(t)
	q := queue.NewQueue()
	leaf := plan.LeafJobIDs[0]
	payload := leaf.Bytes()
	q.Push(queue.TopicJob, payload[:])

	cfg := DefaultConfig()
	cfg.MaxProveRetries = 2
	w := New("flaky", q, proofs, alwaysErrorEngine{}, cfg, nil)

	ctx := context.Background()
	// Each failed attempt returns the message to the queue; after
	// MaxProveRetries returns, the next attempt quarantines it (acked, no
	// further redelivery).
	for i := 0; i < cfg.MaxProveRetries+2; i++ {
		if q.IsEmpty(queue.TopicJob) {
			break
		}
		w.step(ctx)
	}

	if !q.IsEmpty(queue.TopicJob) {
		t.Fatal("a job that exhausts its retry budget should eventually be quarantined off the queue")
	}
	if _, ok := w.retries[leaf]; ok {
		t.Fatal("quarantining a job should clear its retry counter")
	}
}

func TestWorkerFatalOnMissingInputWitness(t *testing.T) {
	proofs, plan := testPlan(t)
	q := queue.NewQueue()

	// A job ID with no witness ever written at it: the worker logs and
	// acks rather than looping forever.
	ghost := plan.LeafJobIDs[0]
	ghost.TaskIndex += 1000
	payload := ghost.Bytes()
	q.Push(queue.TopicJob, payload[:])

	w := New("solo", q, proofs, proofengine.NewMockEngine(), DefaultConfig(), nil)
	ctx := context.Background()
	w.step(ctx)

	if !q.IsEmpty(queue.TopicJob) {
		t.Fatal("a job with a missing input witness should be acked (fatal, not retried)")
	}
}

func TestWorkerIdempotentAcrossTwoFullDrains(t *testing.T) {
	proofs, plan := testPlan(t)
	q := queue.NewQueue()
	for _, leaf := range plan.LeafJobIDs {
		payload := leaf.Bytes()
		q.Push(queue.TopicJob, payload[:])
	}

	engine := proofengine.NewMockEngine()
	workers := []*Worker{New("a", q, proofs, engine, DefaultConfig(), nil)}
	ctx := context.Background()
	drain(ctx, q, workers)

	first, err := proofs.GetBytes(plan.TerminalJobID.WithOutput())
	if err != nil {
		t.Fatalf("GetBytes first drain: %v", err)
	}

	// Replay the entire leaf sequence a second time (simulating the whole
	// job-ID sequence being redelivered) and confirm identical output.
	for _, leaf := range plan.LeafJobIDs {
		payload := leaf.Bytes()
		q.Push(queue.TopicJob, payload[:])
	}
	drain(ctx, q, workers)

	second, err := proofs.GetBytes(plan.TerminalJobID.WithOutput())
	if err != nil {
		t.Fatalf("GetBytes second drain: %v", err)
	}
	if string(first) != string(second) {
		t.Fatal("running the worker loop twice over the same job-ID sequence must produce the same output bytes")
	}
}
