// Copyright 2025 Certen Protocol
//
// Sighash wrapping (spec §4.5 step 5): pairs every Bitcoin-input
// introspection hint with the block's state-transition output, then
// folds all of those pairings down to the single groth16_final job
// whose output is the L1-verifiable proof. Every job ID below is
// computed with a pure function of the previous one's own fields
// (jobid.NextSubGroupPreserveIndex / NextSubGroupCollapsed), the same
// property the binary aggregation trees rely on. The worker does not
// recompute these edges: it follows the waiters index that writeNode
// records for each of them.
package planner

import (
	"fmt"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/jobid"
)

func (p *Planner) planSighashWrapping(dag *dagBuilder, checkpoint uint64, hints []SighashIntrospectionHint, stateTransitionOutput jobid.JobID) (jobid.JobID, error) {
	if len(hints) == 0 {
		return jobid.JobID{}, fmt.Errorf("planner: a block must spend at least one covenant input")
	}

	finalOutputs := make([]jobid.JobID, len(hints))
	for i, hint := range hints {
		gadget := jobid.SigHashGadgetID{NumDeposits: hint.NumDeposits, NumWithdrawals: hint.NumWithdrawals, Permutation: hint.Permutation}
		proof, err := p.whitelist.GetProofForID(gadget)
		if err != nil {
			return jobid.JobID{}, fmt.Errorf("planner: sighash hint %d: %w", i, err)
		}

		introID := jobid.JobID{
			Topic:       jobid.TopicJob,
			GoalID:      uint32(checkpoint),
			CircuitType: jobid.CircuitSighashIntrospection,
			GroupID:     uint32(jobid.BucketSighash),
			SubGroupID:  0,
			TaskIndex:   hint.InputIndex,
			DataType:    jobid.DataTypeInputWitness,
		}
		if err := dag.writeLeaf(introID, &LeafWitness{
			CircuitType: jobid.CircuitSighashIntrospection,
			Sighash:     &SighashWitness{Hint: hint, WhitelistProof: proof},
		}); err != nil {
			return jobid.JobID{}, err
		}

		finalID := introID.WithOutput().NextSubGroupPreserveIndex()
		finalID.CircuitType = jobid.CircuitSighashFinalGL
		if err := dag.writeNode(finalID, []jobid.JobID{introID.WithOutput(), stateTransitionOutput}); err != nil {
			return jobid.JobID{}, err
		}
		finalOutputs[i] = finalID.WithOutput()
	}

	rootID := finalOutputs[0].NextSubGroupCollapsed()
	rootID.CircuitType = jobid.CircuitSighashRoot
	if err := dag.writeNode(rootID, finalOutputs); err != nil {
		return jobid.JobID{}, err
	}

	terminalID := rootID.WithOutput().NextSubGroupCollapsed()
	terminalID.CircuitType = jobid.CircuitGroth16Final
	if err := dag.writeNode(terminalID, []jobid.JobID{rootID.WithOutput()}); err != nil {
		return jobid.JobID{}, err
	}
	return terminalID, nil
}
