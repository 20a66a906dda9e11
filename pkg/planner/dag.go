// Copyright 2025 Certen Protocol
//
// DAG assembly helpers shared by every bucket's aggregation tree and by
// the cross-bucket composition tree (spec §4.5 steps 3-4). Grounded on
// the teacher's pkg/batch/scheduler.go + collector.go shape (a
// collector accumulates leaves, a scheduler decides when a batch is
// ready), generalized here into a pure tree-building function since the
// "batch" is a fixed bag of requests rather than a streaming window.
package planner

import (
	"fmt"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/jobid"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/proofstore"
)

// dagBuilder accumulates the job IDs written during one planning round;
// its leaves become the plan's LeafJobIDs, the jobs the orchestrator
// enqueues first. writeNode also records every dependency→parent edge in
// the proof store's waiters index, which is what the worker reads at
// prove time to find the parents to gate and enqueue.
type dagBuilder struct {
	ps         *proofstore.Store
	checkpoint uint64
	written    []jobid.JobID
	leaves     []jobid.JobID
}

func newDAGBuilder(ps *proofstore.Store, checkpoint uint64) *dagBuilder {
	return &dagBuilder{ps: ps, checkpoint: checkpoint}
}

func (b *dagBuilder) writeLeaf(id jobid.JobID, w *LeafWitness) error {
	data, err := marshalWitness(witnessKindLeaf, w)
	if err != nil {
		return err
	}
	if err := b.ps.SetBytes(id, data); err != nil {
		return fmt.Errorf("planner: write leaf witness %s: %w", id.Hex(), err)
	}
	b.written = append(b.written, id)
	b.leaves = append(b.leaves, id)
	return nil
}

func (b *dagBuilder) writeNode(id jobid.JobID, deps []jobid.JobID) error {
	data, err := marshalWitness(witnessKindNode, &NodeWitness{Dependencies: deps})
	if err != nil {
		return err
	}
	if err := b.ps.SetBytes(id, data); err != nil {
		return fmt.Errorf("planner: write node witness %s: %w", id.Hex(), err)
	}
	for _, dep := range deps {
		if err := b.ps.AddWaiter(dep, id); err != nil {
			return fmt.Errorf("planner: record waiter %s -> %s: %w", dep.Hex(), id.Hex(), err)
		}
	}
	b.written = append(b.written, id)
	return nil
}

// buildAggregationTree assembles a binary aggregation tree over leafIDs
// (input-witness IDs, all at SubGroupID 0), writing every internal
// node's witness bottom-up, and returns the tree's single root
// input-witness ID (spec §4.5 step 3). An odd node at any level passes
// through as a length-1-dependency node rather than being silently
// dropped, so every level is addressable by the same pure ID function
// (spec §8's "odd child count" boundary behavior).
//
// leafIDs must be non-empty; an empty bucket is the caller's
// responsibility to fill with a single dummy leaf first (spec §4.5
// "Empty buckets").
func (b *dagBuilder) buildAggregationTree(leafIDs []jobid.JobID) (jobid.JobID, error) {
	if len(leafIDs) == 0 {
		return jobid.JobID{}, fmt.Errorf("planner: cannot build an aggregation tree over zero leaves")
	}

	level := leafIDs
	for len(level) > 1 {
		next := make([]jobid.JobID, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				leftOut := level[i].WithOutput()
				rightOut := level[i+1].WithOutput()
				parent := leftOut.GetTreeParentAggregatorInputID()
				if err := b.writeNode(parent, []jobid.JobID{leftOut, rightOut}); err != nil {
					return jobid.JobID{}, err
				}
				next = append(next, parent)
			} else {
				onlyOut := level[i].WithOutput()
				parent := onlyOut.GetTreeParentAggregatorInputID()
				if err := b.writeNode(parent, []jobid.JobID{onlyOut}); err != nil {
					return jobid.JobID{}, err
				}
				next = append(next, parent)
			}
		}
		level = next
	}
	return level[0], nil
}
