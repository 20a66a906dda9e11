// Copyright 2025 Certen Protocol
//
// Worker loop (C8): pulls a job ID off the dispatch queue, loads its
// witness and any dependency output bytes from the proof store, invokes
// the proof engine, writes the result back, and walks the waiters index
// to enqueue any parent whose arity has now been satisfied (spec §4.8).
// Grounded on the teacher's consensus execution-queue workers (a
// goroutine pool draining a shared queue against shared stores) and its
// pervasive log.New(..., "[Component] ", log.LstdFlags)-prefixed
// loggers rather than a structured logging library, since this teacher
// carries none.
package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/jobid"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/metrics"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/planner"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/proofengine"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/proofstore"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/queue"
)

// Config bounds a Worker's polling and retry behavior.
type Config struct {
	// Visibility is the queue message visibility timeout, set to the
	// worst expected prove time (spec §5).
	Visibility time.Duration
	// PollInterval is how long a worker sleeps after finding Q_JOB
	// empty before trying again.
	PollInterval time.Duration
	// MaxProveRetries bounds how many times a job may be returned to
	// the queue after a proof error before it is quarantined (spec §7).
	MaxProveRetries int
}

// DefaultConfig returns the Config used when none is supplied.
func DefaultConfig() Config {
	return Config{
		Visibility:      2 * time.Minute,
		PollInterval:    50 * time.Millisecond,
		MaxProveRetries: 5,
	}
}

// Worker drains Q_JOB against a shared proof store and engine.
type Worker struct {
	id      string
	q       *queue.Queue
	proofs  *proofstore.Store
	engine  proofengine.Engine
	cfg     Config
	log     *log.Logger
	metrics *metrics.Metrics

	retries map[jobid.JobID]int
}

// New constructs a Worker identified by id (used only for logging). m may
// be nil, in which case metrics are not recorded.
func New(id string, q *queue.Queue, proofs *proofstore.Store, engine proofengine.Engine, cfg Config, m *metrics.Metrics) *Worker {
	return &Worker{
		id:      id,
		q:       q,
		proofs:  proofs,
		engine:  engine,
		cfg:     cfg,
		log:     log.New(log.Writer(), fmt.Sprintf("[worker %s] ", id), log.LstdFlags),
		metrics: m,
		retries: make(map[jobid.JobID]int),
	}
}

// Run drains Q_JOB until ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !w.step(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.PollInterval):
			}
		}
	}
}

// step processes one message if available, returning true if it found
// work to do.
func (w *Worker) step(ctx context.Context) bool {
	msg, ok := w.q.PopOne(queue.TopicJob, w.cfg.Visibility)
	if !ok {
		return false
	}

	id, err := jobid.FromBytes(msg.Payload)
	if err != nil {
		w.log.Printf("fatal: decode job id from queue payload: %v", err)
		w.q.DeleteMessage(queue.TopicJob, msg.ID)
		return true
	}

	if err := w.process(ctx, id); err != nil {
		if isProveError(err) {
			w.log.Printf("job %s: prove error: %v", id.Hex(), err)
			if w.retries[id] >= w.cfg.MaxProveRetries {
				w.log.Printf("job %s: quarantined after %d retries", id.Hex(), w.retries[id])
				w.q.DeleteMessage(queue.TopicJob, msg.ID)
				delete(w.retries, id)
				if w.metrics != nil {
					w.metrics.JobsQuarantined.Inc()
				}
				return true
			}
			w.retries[id]++
			w.q.Return(queue.TopicJob, msg.ID)
			return true
		}
		// Decode error or missing dependency: fatal for this job (spec
		// §4.8). Logged with its ID; the orchestrator may replan the
		// whole block. There is nothing useful to retry, so ack it to
		// keep the queue from spinning on a job that can never succeed.
		w.log.Printf("fatal: job %s: %v", id.Hex(), err)
		w.q.DeleteMessage(queue.TopicJob, msg.ID)
		return true
	}

	delete(w.retries, id)
	w.q.DeleteMessage(queue.TopicJob, msg.ID)
	return true
}

type proveError struct{ err error }

func (e *proveError) Error() string { return e.err.Error() }
func (e *proveError) Unwrap() error { return e.err }

func isProveError(err error) bool {
	_, ok := err.(*proveError)
	return ok
}

// process runs steps 2-6 of the worker loop against a single job ID.
func (w *Worker) process(ctx context.Context, id jobid.JobID) error {
	outputID := id.WithOutput()
	has, err := w.proofs.HasBytes(outputID)
	if err != nil {
		return fmt.Errorf("check output %s: %w", outputID.Hex(), err)
	}
	if has {
		// Redelivery of an already-completed job: treat as success
		// without re-proving or re-notifying waiters.
		return nil
	}

	inputData, err := w.proofs.GetBytes(id)
	if err != nil {
		return fmt.Errorf("load input %s: %w", id.Hex(), err)
	}
	if inputData == nil {
		return fmt.Errorf("input witness missing at %s", id.Hex())
	}

	isNode, err := planner.IsNodeWitness(inputData)
	if err != nil {
		return fmt.Errorf("decode witness kind at %s: %w", id.Hex(), err)
	}

	var childProofs [][]byte
	var circuitType jobid.CircuitType
	var engineInput []byte

	if isNode {
		node, err := planner.UnmarshalNodeWitness(inputData)
		if err != nil {
			return fmt.Errorf("decode node witness at %s: %w", id.Hex(), err)
		}
		for _, dep := range node.Dependencies {
			cp, err := w.proofs.GetBytes(dep)
			if err != nil {
				return fmt.Errorf("load dependency %s for %s: %w", dep.Hex(), id.Hex(), err)
			}
			if cp == nil {
				return fmt.Errorf("dependency %s missing for %s", dep.Hex(), id.Hex())
			}
			childProofs = append(childProofs, cp)
		}
		circuitType = id.CircuitType
		engineInput = inputData
	} else {
		leaf, err := planner.UnmarshalLeafWitness(inputData)
		if err != nil {
			return fmt.Errorf("decode leaf witness at %s: %w", id.Hex(), err)
		}
		circuitType = leaf.CircuitType
		engineInput = inputData
	}

	start := time.Now()
	output, err := w.engine.Prove(ctx, circuitType, engineInput, childProofs)
	if w.metrics != nil {
		w.metrics.ObserveProve(circuitType.String(), time.Since(start), err)
	}
	if err != nil {
		return &proveError{err: fmt.Errorf("circuit %s: %w", circuitType, err)}
	}

	if err := w.proofs.SetBytes(outputID, output); err != nil {
		return fmt.Errorf("store output %s: %w", outputID.Hex(), err)
	}

	return w.notifyWaiters(outputID)
}

// notifyWaiters implements step 6 of the worker loop: every parent that
// depends on outputID has its counter incremented, and is enqueued once
// the counter reaches the parent's own declared arity (spec §4.8 step
// 6). Waiters are discovered from the explicit adjacency list the
// planner wrote (see proofstore.AddWaiter) rather than recomputed from
// outputID's fields, since a bucket-root's composition-tree parent and
// the composition-root's fan-out to every sighash_final_gl node are not
// expressible as a single pure function of outputID alone.
func (w *Worker) notifyWaiters(outputID jobid.JobID) error {
	waiters, err := w.proofs.GetWaiters(outputID)
	if err != nil {
		return fmt.Errorf("load waiters for %s: %w", outputID.Hex(), err)
	}

	for _, parent := range waiters {
		count, err := w.proofs.IncCounter(parent)
		if err != nil {
			return fmt.Errorf("increment counter for %s: %w", parent.Hex(), err)
		}

		parentData, err := w.proofs.GetBytes(parent)
		if err != nil {
			return fmt.Errorf("load parent witness %s: %w", parent.Hex(), err)
		}
		if parentData == nil {
			return fmt.Errorf("parent witness missing at %s", parent.Hex())
		}
		node, err := planner.UnmarshalNodeWitness(parentData)
		if err != nil {
			return fmt.Errorf("decode parent witness %s: %w", parent.Hex(), err)
		}
		arity := uint32(len(node.Dependencies))

		if count < arity {
			continue
		}

		parentBytes := parent.Bytes()
		w.q.Push(queue.TopicJob, parentBytes[:])
	}

	if outputID.CircuitType == jobid.CircuitGroth16Final {
		w.q.Push(queue.TopicNotifications, []byte("CoreJobCompleted"))
	}

	return nil
}
