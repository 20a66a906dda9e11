// Copyright 2025 Certen Protocol
//
// Job-ID algebra (C5): a total scheme for naming every node in the
// proving DAG. Every job ID is a fixed 24-byte record; the planner derives
// parent IDs as pure functions of an ID's fields, never pointers (spec §9).
// The worker does not recompute them: it follows the dependency edges the
// planner records in the proof store's waiters index.
package jobid

import (
	"encoding/binary"
	"fmt"
)

// Topic distinguishes the kind of dispatch queue a job ID payload travels
// on; it is encoded as the first byte of the wire form.
type Topic uint8

const (
	TopicJob Topic = iota
	TopicControl
)

// CircuitType names the operation kind a job ID's witness/proof belongs
// to (spec §3).
type CircuitType uint8

const (
	CircuitRegisterUser CircuitType = iota
	CircuitClaimDeposit
	CircuitAddDeposit
	CircuitTransfer
	CircuitAddWithdrawal
	CircuitProcessWithdrawal
	CircuitAggStateTransition
	CircuitAggStateTransitionSigned
	CircuitAggStateTransitionWithEvents
	CircuitSighashIntrospection
	CircuitSighashFinalGL
	CircuitSighashRoot
	CircuitGroth16Final
)

func (c CircuitType) String() string {
	switch c {
	case CircuitRegisterUser:
		return "register_user"
	case CircuitClaimDeposit:
		return "claim_deposit"
	case CircuitAddDeposit:
		return "add_deposit"
	case CircuitTransfer:
		return "transfer"
	case CircuitAddWithdrawal:
		return "add_withdrawal"
	case CircuitProcessWithdrawal:
		return "process_withdrawal"
	case CircuitAggStateTransition:
		return "agg_state_transition"
	case CircuitAggStateTransitionSigned:
		return "agg_state_transition_signed"
	case CircuitAggStateTransitionWithEvents:
		return "agg_state_transition_with_events"
	case CircuitSighashIntrospection:
		return "sighash_introspection"
	case CircuitSighashFinalGL:
		return "sighash_final_gl"
	case CircuitSighashRoot:
		return "sighash_root"
	case CircuitGroth16Final:
		return "groth16_final"
	default:
		return fmt.Sprintf("circuit(%d)", uint8(c))
	}
}

// DataType distinguishes what kind of bytes a job ID addresses in the
// proof store.
type DataType uint8

const (
	DataTypeInputWitness DataType = iota
	DataTypeOutputProof
	DataTypeCounter
)

// Size is the fixed wire size of a JobID in bytes.
const Size = 24

// JobID names a single node in a checkpoint's proving DAG.
//
//	{topic:u8, goal_id:u32, circuit_type:u8, group_id:u32,
//	 sub_group_id:u32, task_index:u32, data_type:u8, data_index:u16}
type JobID struct {
	Topic       Topic
	GoalID      uint32 // checkpoint ID
	CircuitType CircuitType
	GroupID     uint32
	SubGroupID  uint32
	TaskIndex   uint32
	DataType    DataType
	DataIndex   uint16
}

// Bytes encodes the JobID into its canonical 24-byte wire form.
func (id JobID) Bytes() [Size]byte {
	var b [Size]byte
	b[0] = byte(id.Topic)
	binary.BigEndian.PutUint32(b[1:5], id.GoalID)
	b[5] = byte(id.CircuitType)
	binary.BigEndian.PutUint32(b[6:10], id.GroupID)
	binary.BigEndian.PutUint32(b[10:14], id.SubGroupID)
	binary.BigEndian.PutUint32(b[14:18], id.TaskIndex)
	b[18] = byte(id.DataType)
	binary.BigEndian.PutUint16(b[19:21], id.DataIndex)
	// bytes 21..24 reserved, zeroed.
	return b
}

// FromBytes decodes a JobID from its canonical 24-byte wire form.
func FromBytes(b []byte) (JobID, error) {
	if len(b) != Size {
		return JobID{}, fmt.Errorf("jobid: want %d bytes, got %d", Size, len(b))
	}
	return JobID{
		Topic:       Topic(b[0]),
		GoalID:      binary.BigEndian.Uint32(b[1:5]),
		CircuitType: CircuitType(b[5]),
		GroupID:     binary.BigEndian.Uint32(b[6:10]),
		SubGroupID:  binary.BigEndian.Uint32(b[10:14]),
		TaskIndex:   binary.BigEndian.Uint32(b[14:18]),
		DataType:    DataType(b[18]),
		DataIndex:   binary.BigEndian.Uint16(b[19:21]),
	}, nil
}

// Hex renders the wire form as a hex string, the form used on queue
// payloads (spec §6).
func (id JobID) Hex() string {
	b := id.Bytes()
	return fmt.Sprintf("%x", b[:])
}

// WithOutput returns the output-proof ID corresponding to an input-witness
// ID: same coordinates, DataType = OutputProof.
func (id JobID) WithOutput() JobID {
	out := id
	out.DataType = DataTypeOutputProof
	return out
}

// WithInput returns the input-witness ID corresponding to an output-proof
// ID: same coordinates, DataType = InputWitness.
func (id JobID) WithInput() JobID {
	out := id
	out.DataType = DataTypeInputWitness
	return out
}

// WithCounter returns the counter ID used to gate completion of the
// aggregator that consumes this output.
func (id JobID) WithCounter() JobID {
	out := id
	out.DataType = DataTypeCounter
	return out
}

// GetTreeParentProofInputID computes the deterministic input-witness ID of
// the aggregation-tree parent that consumes this job's output. Children at
// task_index 2j and 2j+1 within a level both map to parent task_index j
// one level up; level is tracked in
// SubGroupID (0 = leaves). This is a pure function of the ID's own fields,
// never a pointer, so the DAG can be walked without side tables (spec §9).
func (id JobID) GetTreeParentProofInputID() JobID {
	parent := id
	parent.DataType = DataTypeInputWitness
	parent.SubGroupID = id.SubGroupID + 1
	parent.TaskIndex = id.TaskIndex / 2
	// The aggregator's own output is computed by a distinct circuit type
	// (an agg_* variant); callers that know the aggregator's circuit type
	// for this bucket should set it explicitly. When unspecified we keep
	// the child's circuit type so repeated calls stay well-defined.
	return parent
}

// GetOutputID is an alias for WithOutput kept for readability at call
// sites that reason about "the output of this ID" rather than "this ID
// reinterpreted as an output".
func (id JobID) GetOutputID() JobID {
	return id.WithOutput()
}

// Bucket names a planning round's fixed processing buckets (spec §4.5
// step 1) plus the two synthetic groups the planner layers on top
// (cross-bucket composition and sighash wrapping). A job ID's GroupID
// always holds one of these values for as long as the ID stays within a
// single bucket's aggregation tree, which is what lets
// GetTreeParentAggregatorInputID pick the right aggregator circuit
// without a side table.
type Bucket uint32

const (
	BucketRegisterUser Bucket = iota
	BucketAddDeposit
	BucketClaimDeposit
	BucketTransfer
	BucketAddWithdrawal
	BucketProcessWithdrawal
	BucketComposition
	BucketSighash
)

// AggregatorCircuitType picks the aggregator circuit variant for a
// bucket's internal tree nodes (spec §4.5 step 3: "one of
// {agg_state_transition, agg_state_transition_signed,
// agg_state_transition_with_events} per whether the bucket's leaves
// carry signatures and/or emit L1 events"). Transfer and add_withdrawal
// leaves carry a signature over the request; the composition tree sits
// above every bucket and is where withdrawal/deposit L1 events are
// surfaced, so it gets the with-events variant. Every other bucket uses
// the plain variant.
func AggregatorCircuitType(bucket Bucket) CircuitType {
	switch bucket {
	case BucketTransfer, BucketAddWithdrawal:
		return CircuitAggStateTransitionSigned
	case BucketComposition:
		return CircuitAggStateTransitionWithEvents
	default:
		return CircuitAggStateTransition
	}
}

// GetTreeParentAggregatorInputID is GetTreeParentProofInputID with the
// parent's CircuitType set to the correct aggregator variant for the
// child's bucket (GroupID). The planner uses it to build each bucket's
// aggregation tree upward, since it depends only on fields already
// present on id (spec §9: "expose these as free functions on the 24-byte
// ID"); the worker reaches the same parents through the waiters index.
func (id JobID) GetTreeParentAggregatorInputID() JobID {
	parent := id.GetTreeParentProofInputID()
	parent.CircuitType = AggregatorCircuitType(Bucket(id.GroupID))
	return parent
}

// NextSubGroupPreserveIndex advances to the next sub-group while keeping
// TaskIndex unchanged. Used by irregular (non-halving) DAG steps where a
// leaf maps one-to-one to its parent rather than pairing with a sibling
// — the sighash-wrapping step's introspection -> sighash_final_gl edge
// (spec §4.5 step 5), since each covenant input's proof is paired with
// the single shared state-transition output, not with another input.
func (id JobID) NextSubGroupPreserveIndex() JobID {
	out := id
	out.DataType = DataTypeInputWitness
	out.SubGroupID = id.SubGroupID + 1
	return out
}

// NextSubGroupCollapsed advances to the next sub-group and resets
// TaskIndex to 0. Used when every node at the current sub-group folds
// into a single node one level up — sighash_final_gl -> sighash_root and
// sighash_root -> groth16_final (spec §4.5 step 5).
func (id JobID) NextSubGroupCollapsed() JobID {
	out := id
	out.DataType = DataTypeInputWitness
	out.SubGroupID = id.SubGroupID + 1
	out.TaskIndex = 0
	return out
}

// SigHashGadgetID is the shape descriptor of a sighash circuit: the
// deposit/withdrawal counts (and implicit permutation index) it
// corresponds to (spec §3, §4.9).
type SigHashGadgetID struct {
	NumDeposits    uint8
	NumWithdrawals uint8
	Permutation    uint8
}

// Encode packs a SigHashGadgetID into a sortable uint32, used both as the
// DataIndex-adjacent sort key for the whitelist tree and as a stable
// identifier across the wire.
func (g SigHashGadgetID) Encode() uint32 {
	return uint32(g.NumDeposits)<<16 | uint32(g.NumWithdrawals)<<8 | uint32(g.Permutation)
}
