// Copyright 2025 Certen Protocol
//
// Witness envelopes written to the proof store at input-witness job IDs
// (spec §4.5 step 2). Encoding is versioned JSON, the same shape the
// spec's "Request payloads" and "Queue payloads" sections describe for
// every other wire artifact in this system, rather than a bespoke
// binary witness format.
package planner

import (
	"encoding/json"
	"fmt"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/hashtypes"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/jobid"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/merkletree"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/sighash"
)

// witnessVersion is the version byte prefixing every serialized witness,
// per the "proof blob format ... opaque bytes with a version prefix"
// design note (spec §9).
const witnessVersion = 1

// Witness kind tags, the second byte of every serialized witness. A
// worker sees only a job ID and its stored bytes; it needs to know
// whether to parse a LeafWitness (public operation data, no
// dependencies) or a NodeWitness (pure aggregator, dependencies only)
// before it knows which one to decode.
const (
	witnessKindLeaf byte = 0
	witnessKindNode byte = 1
)

// LeafWitness is the input witness for a single operation's leaf circuit
// (spec §4.5 step 2): the delta-Merkle proof(s) it produced against the
// domain store, plus whatever public data the circuit needs to replay
// the operation it attests to.
type LeafWitness struct {
	CircuitType jobid.CircuitType
	Dummy       bool                  `json:",omitempty"`
	Deltas      []merkletree.DeltaProof `json:",omitempty"`

	RegisterUser *RegisterUserWitness `json:",omitempty"`
	AddDeposit   *AddDepositWitness   `json:",omitempty"`
	ClaimDeposit *ClaimDepositWitness `json:",omitempty"`
	Transfer     *TransferWitness     `json:",omitempty"`
	Withdrawal   *WithdrawalWitness   `json:",omitempty"`
	Sighash      *SighashWitness      `json:",omitempty"`
}

// RegisterUserWitness is the public data a register_user leaf carries.
type RegisterUserWitness struct {
	UserID    uint64
	PublicKey hashtypes.FieldHash
}

// AddDepositWitness is the public data an add_deposit leaf carries.
type AddDepositWitness struct {
	DepositID      uint64
	TxIDField      hashtypes.FieldHash
	PublicKeyField hashtypes.FieldHash
	Value          uint64
}

// ClaimDepositWitness is the public data a claim_deposit leaf carries.
type ClaimDepositWitness struct {
	UserID    uint64
	DepositID uint64
	Value     uint64
}

// TransferWitness is the public data a transfer leaf carries.
type TransferWitness struct {
	FromUser uint64
	ToUser   uint64
	Value    uint64
	Nonce    uint64
}

// WithdrawalWitness is the public data shared by add_withdrawal and
// process_withdrawal leaves.
type WithdrawalWitness struct {
	WithdrawalID uint64
	UserID       uint64
	Address      [20]byte
	AddressType  uint8
	Value        uint64
	Processed    bool `json:",omitempty"`
}

// SighashWitness is the input witness for a sighash_introspection leaf
// (spec §4.5 step 5).
type SighashWitness struct {
	Hint            SighashIntrospectionHint
	WhitelistProof  sighash.InclusionProof
}

// NodeWitness is the input witness for any non-leaf job: it names the
// output-proof IDs this node aggregates (spec §4.5 step 3: "dependencies:
// [left_output_id, right_output_id]"). Arity is len(Dependencies); a
// length-1 node is an odd-level passthrough (spec §8).
type NodeWitness struct {
	Dependencies []jobid.JobID
}

// marshalWitness wraps v (a *LeafWitness or *NodeWitness) with the
// version prefix, a kind tag, and JSON-encodes it.
func marshalWitness(kind byte, v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("planner: marshal witness: %w", err)
	}
	out := make([]byte, 2+len(body))
	out[0] = witnessVersion
	out[1] = kind
	copy(out[2:], body)
	return out, nil
}

// PeekWitnessKind reports whether data is a leaf or node witness without
// fully decoding it, the check a worker makes before it knows which
// Unmarshal function to call.
func PeekWitnessKind(data []byte) (byte, error) {
	if len(data) < 2 || data[0] != witnessVersion {
		return 0, fmt.Errorf("planner: unsupported witness version")
	}
	return data[1], nil
}

// IsNodeWitness reports whether data encodes a NodeWitness.
func IsNodeWitness(data []byte) (bool, error) {
	kind, err := PeekWitnessKind(data)
	if err != nil {
		return false, err
	}
	return kind == witnessKindNode, nil
}

// UnmarshalLeafWitness fail-closed decodes a leaf witness, per the
// "version prefix and a fail-closed decoder" design note (spec §9).
func UnmarshalLeafWitness(data []byte) (*LeafWitness, error) {
	if len(data) < 2 || data[0] != witnessVersion {
		return nil, fmt.Errorf("planner: unsupported witness version")
	}
	if data[1] != witnessKindLeaf {
		return nil, fmt.Errorf("planner: expected leaf witness, got kind %d", data[1])
	}
	var w LeafWitness
	if err := json.Unmarshal(data[2:], &w); err != nil {
		return nil, fmt.Errorf("planner: decode leaf witness: %w", err)
	}
	return &w, nil
}

// UnmarshalNodeWitness fail-closed decodes a node witness.
func UnmarshalNodeWitness(data []byte) (*NodeWitness, error) {
	if len(data) < 2 || data[0] != witnessVersion {
		return nil, fmt.Errorf("planner: unsupported witness version")
	}
	if data[1] != witnessKindNode {
		return nil, fmt.Errorf("planner: expected node witness, got kind %d", data[1])
	}
	var w NodeWitness
	if err := json.Unmarshal(data[2:], &w); err != nil {
		return nil, fmt.Errorf("planner: decode node witness: %w", err)
	}
	return &w, nil
}
