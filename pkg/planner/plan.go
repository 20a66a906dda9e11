// Copyright 2025 Certen Protocol
//
// Block planner (C6): turns a request bag into delta-Merkle proofs
// against the domain store, serialized witnesses in the proof store, and
// a dependency graph of job IDs rooted at a single groth16_final job
// (spec §4.5). Grounded on the shape of the teacher's
// pkg/anchor_proof.Builder (assembling one artifact from many component
// parts) and pkg/batch.Collector/Scheduler (bucketing then batching),
// generalized from "one batch of transactions" to "six fixed buckets of
// typed requests, composed together".
package planner

import (
	"errors"
	"fmt"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/hashtypes"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/jobid"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/proofstore"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/rollupstate"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/sighash"
)

// MaxWithdrawalsPerBlock bounds the process_withdrawal batch planned per
// checkpoint (spec §4.5's `MAX_WITHDRAWALS_PER_BLOCK`).
const MaxWithdrawalsPerBlock = 1024

// DroppedRequest records a request the planner validated and rejected
// without halting block production (spec §7: "drops the offending
// request and continues").
type DroppedRequest struct {
	Bucket jobid.Bucket
	Index  int
	Err    error
}

// BlockPlan is the output of one planning round: the leaf job IDs to
// push onto the dispatch queue, and the terminal job whose eventual
// output is the L1-verifiable block proof.
type BlockPlan struct {
	Checkpoint      uint64
	PreCombinedRoot hashtypes.FieldHash
	State           rollupstate.BlockState
	LeafJobIDs      []jobid.JobID
	TerminalJobID   jobid.JobID
	Dropped         []DroppedRequest
}

// Planner runs planning rounds against a domain store, proof store, and
// sighash whitelist tree.
type Planner struct {
	state     *rollupstate.Store
	proofs    *proofstore.Store
	whitelist *sighash.Tree

	// MaxWithdrawalsPerBlock overrides MaxWithdrawalsPerBlock for this
	// planner; NewPlanner sets it to the package default.
	MaxWithdrawalsPerBlock int
}

// NewPlanner constructs a Planner.
func NewPlanner(state *rollupstate.Store, proofs *proofstore.Store, whitelist *sighash.Tree) *Planner {
	return &Planner{state: state, proofs: proofs, whitelist: whitelist, MaxWithdrawalsPerBlock: MaxWithdrawalsPerBlock}
}

// Plan runs one planning round for checkpoint prevCheckpoint+1 (spec
// §4.5). Buckets are processed in the fixed order the spec names; within
// a bucket, requests are applied in arrival order and validation
// failures are dropped rather than aborting the round.
func (p *Planner) Plan(prevCheckpoint uint64, bag RequestBag) (*BlockPlan, error) {
	checkpoint := prevCheckpoint + 1

	prevState, err := p.state.LoadBlockState(prevCheckpoint)
	if err != nil {
		if !errors.Is(err, rollupstate.ErrBlockStateNotFound) || prevCheckpoint != 0 {
			return nil, fmt.Errorf("planner: load previous block state: %w", err)
		}
		prevState = rollupstate.BlockState{CheckpointID: prevCheckpoint}
	}
	preRoot, err := p.state.CombinedRoot(prevCheckpoint)
	if err != nil {
		return nil, fmt.Errorf("planner: read pre-block combined root: %w", err)
	}

	dag := newDAGBuilder(p.proofs, checkpoint)

	nextUserID := prevState.NextUserID
	nextDepositID := prevState.NextDepositID
	nextWithdrawalID := prevState.NextAddWithdrawalID

	var dropped []DroppedRequest
	var bucketRoots []jobid.JobID

	// (a) register_user
	leaves, nextUserID, d, err := p.planRegisterUser(dag, checkpoint, bag.RegisterUser, nextUserID)
	if err != nil {
		return nil, err
	}
	dropped = append(dropped, d...)
	root, err := p.finishBucket(dag, jobid.BucketRegisterUser, leaves)
	if err != nil {
		return nil, err
	}
	bucketRoots = append(bucketRoots, root)

	// (b) add_deposit
	leaves, nextDepositID, d, err = p.planAddDeposit(dag, checkpoint, bag.AddDeposit, nextDepositID)
	if err != nil {
		return nil, err
	}
	dropped = append(dropped, d...)
	root, err = p.finishBucket(dag, jobid.BucketAddDeposit, leaves)
	if err != nil {
		return nil, err
	}
	bucketRoots = append(bucketRoots, root)

	// (c) claim_deposit
	leaves, d, err = p.planClaimDeposit(dag, checkpoint, bag.ClaimDeposit)
	if err != nil {
		return nil, err
	}
	dropped = append(dropped, d...)
	root, err = p.finishBucket(dag, jobid.BucketClaimDeposit, leaves)
	if err != nil {
		return nil, err
	}
	bucketRoots = append(bucketRoots, root)

	// (d) token_transfer
	leaves, d, err = p.planTransfer(dag, checkpoint, bag.Transfer)
	if err != nil {
		return nil, err
	}
	dropped = append(dropped, d...)
	root, err = p.finishBucket(dag, jobid.BucketTransfer, leaves)
	if err != nil {
		return nil, err
	}
	bucketRoots = append(bucketRoots, root)

	// (e) add_withdrawal
	leaves, nextWithdrawalID, d, err = p.planAddWithdrawal(dag, checkpoint, bag.AddWithdrawal, nextWithdrawalID)
	if err != nil {
		return nil, err
	}
	dropped = append(dropped, d...)
	root, err = p.finishBucket(dag, jobid.BucketAddWithdrawal, leaves)
	if err != nil {
		return nil, err
	}
	bucketRoots = append(bucketRoots, root)

	// (f) process_withdrawal
	processBag := bag.ProcessWithdrawal
	if len(processBag) > p.MaxWithdrawalsPerBlock {
		processBag = processBag[:p.MaxWithdrawalsPerBlock]
	}
	leaves, d, err = p.planProcessWithdrawal(dag, checkpoint, processBag)
	if err != nil {
		return nil, err
	}
	dropped = append(dropped, d...)
	root, err = p.finishBucket(dag, jobid.BucketProcessWithdrawal, leaves)
	if err != nil {
		return nil, err
	}
	bucketRoots = append(bucketRoots, root)

	// Step 4: cross-bucket composition, fixed order (users, deposits,
	// claim, transfer, withdraw, process) == bucketRoots as built above.
	compositionLeaves := make([]jobid.JobID, len(bucketRoots))
	for i, root := range bucketRoots {
		leafID := jobid.JobID{
			Topic:       jobid.TopicJob,
			GoalID:      uint32(checkpoint),
			CircuitType: jobid.AggregatorCircuitType(jobid.BucketComposition),
			GroupID:     uint32(jobid.BucketComposition),
			SubGroupID:  0,
			TaskIndex:   uint32(i),
			DataType:    jobid.DataTypeInputWitness,
		}
		if err := dag.writeNode(leafID, []jobid.JobID{root.WithOutput()}); err != nil {
			return nil, err
		}
		compositionLeaves[i] = leafID
	}
	compositionRoot, err := dag.buildAggregationTree(compositionLeaves)
	if err != nil {
		return nil, fmt.Errorf("planner: composition tree: %w", err)
	}
	stateTransitionOutput := compositionRoot.WithOutput()

	// Step 5: sighash wrapping.
	terminal, err := p.planSighashWrapping(dag, checkpoint, bag.SighashHints, stateTransitionOutput)
	if err != nil {
		return nil, err
	}

	userRoot, depositRoot, withdrawalRoot, err := p.state.Roots(checkpoint)
	if err != nil {
		return nil, fmt.Errorf("planner: read post-block tree roots: %w", err)
	}
	combinedRoot, err := p.state.CombinedRoot(checkpoint)
	if err != nil {
		return nil, fmt.Errorf("planner: read post-block combined root: %w", err)
	}

	newState := rollupstate.BlockState{
		CheckpointID:            checkpoint,
		NextUserID:              nextUserID,
		NextDepositID:           nextDepositID,
		NextAddWithdrawalID:     nextWithdrawalID,
		NextProcessWithdrawalID: prevState.NextProcessWithdrawalID + uint64(len(processBag)),
		UserRoot:                userRoot,
		DepositRoot:             depositRoot,
		WithdrawalRoot:          withdrawalRoot,
		CombinedRoot:            combinedRoot,
	}
	if err := p.state.SaveBlockState(newState); err != nil {
		return nil, fmt.Errorf("planner: save block state: %w", err)
	}

	return &BlockPlan{
		Checkpoint:      checkpoint,
		PreCombinedRoot: preRoot,
		State:           newState,
		LeafJobIDs:      dag.leaves,
		TerminalJobID:   terminal,
		Dropped:         dropped,
	}, nil
}

// finishBucket builds a bucket's aggregation tree, first substituting a
// single dummy leaf when the bucket had no successful requests (spec
// §4.5 "Empty buckets").
func (p *Planner) finishBucket(dag *dagBuilder, bucket jobid.Bucket, leaves []jobid.JobID) (jobid.JobID, error) {
	if len(leaves) == 0 {
		dummyID := jobid.JobID{
			Topic:       jobid.TopicJob,
			GoalID:      dag.checkpoint32(),
			CircuitType: leafCircuitForBucket(bucket),
			GroupID:     uint32(bucket),
			SubGroupID:  0,
			TaskIndex:   0,
			DataType:    jobid.DataTypeInputWitness,
		}
		if err := dag.writeLeaf(dummyID, &LeafWitness{CircuitType: leafCircuitForBucket(bucket), Dummy: true}); err != nil {
			return jobid.JobID{}, err
		}
		leaves = []jobid.JobID{dummyID}
	}
	return dag.buildAggregationTree(leaves)
}

func (d *dagBuilder) checkpoint32() uint32 { return uint32(d.checkpoint) }

func leafCircuitForBucket(bucket jobid.Bucket) jobid.CircuitType {
	switch bucket {
	case jobid.BucketRegisterUser:
		return jobid.CircuitRegisterUser
	case jobid.BucketAddDeposit:
		return jobid.CircuitAddDeposit
	case jobid.BucketClaimDeposit:
		return jobid.CircuitClaimDeposit
	case jobid.BucketTransfer:
		return jobid.CircuitTransfer
	case jobid.BucketAddWithdrawal:
		return jobid.CircuitAddWithdrawal
	case jobid.BucketProcessWithdrawal:
		return jobid.CircuitProcessWithdrawal
	default:
		return jobid.CircuitAggStateTransition
	}
}
