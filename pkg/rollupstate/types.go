// Copyright 2025 Certen Protocol
//
// Package rollupstate implements the domain state store (C3): typed
// wrappers over the versioned Merkle store (C2) plus the kvstore (C1)
// secondary indexes, mirroring the way the teacher's pkg/ledger.LedgerStore
// wraps a raw KV with typed, table-prefixed accessors.
package rollupstate

import (
	"errors"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/hashtypes"
)

// Sentinel errors, mirroring pkg/ledger/errors.go's "explicit error instead
// of nil, nil" convention.
var (
	ErrBlockStateNotFound  = errors.New("rollupstate: block state not found for checkpoint")
	ErrUserSlotOccupied    = errors.New("rollupstate: user_id already registered at or before this checkpoint")
	ErrInsufficientBalance = errors.New("rollupstate: sender balance insufficient for transfer or withdrawal")
	ErrNonceMismatch       = errors.New("rollupstate: nonce does not match expected value")
	ErrDepositNotFound     = errors.New("rollupstate: deposit not indexed by txid")
)

// UserLeaf is the preimage hashed (via Hasher.HashNoPad) to produce a user
// tree leaf value (spec §3).
type UserLeaf struct {
	PublicKey hashtypes.FieldHash
	Balance   uint64
	Nonce     uint64
}

// Hash computes this leaf's field-hash value.
func (u UserLeaf) Hash(hasher hashtypes.Hasher) hashtypes.FieldHash {
	return hasher.HashNoPad(u.PublicKey, uint64Field(u.Balance), uint64Field(u.Nonce))
}

// DepositLeaf is the preimage hashed to produce a deposit tree leaf value.
type DepositLeaf struct {
	TxIDField      hashtypes.FieldHash
	PublicKeyField hashtypes.FieldHash
	Value          uint64
}

// Hash computes this leaf's field-hash value.
func (d DepositLeaf) Hash(hasher hashtypes.Hasher) hashtypes.FieldHash {
	return hasher.HashNoPad(d.TxIDField, d.PublicKeyField, uint64Field(d.Value))
}

// IsZero reports whether this is the zeroed (claimed) deposit leaf.
func (d DepositLeaf) IsZero() bool {
	return d == DepositLeaf{}
}

// WithdrawalLeaf is the preimage hashed to produce a withdrawal tree leaf
// value. Address is the 160-bit destination (spec §3).
type WithdrawalLeaf struct {
	Address     [20]byte
	AddressType uint8
	Value       uint64
}

// Hash computes this leaf's field-hash value.
func (w WithdrawalLeaf) Hash(hasher hashtypes.Hasher) hashtypes.FieldHash {
	addrHi := hashtypes.Hash256{}
	copy(addrHi[:20], w.Address[:])
	return hasher.HashNoPad(addrHi.ToFieldHash(), uint64Field(uint64(w.AddressType)), uint64Field(w.Value))
}

// IsZero reports whether this withdrawal leaf has been processed (zeroed).
func (w WithdrawalLeaf) IsZero() bool {
	return w == WithdrawalLeaf{}
}

func uint64Field(v uint64) hashtypes.FieldHash {
	return hashtypes.FieldHash{v, 0, 0, 0}
}

// BlockState is the per-checkpoint record created by the block planner at
// planning time for checkpoint N+1, never mutated afterward (spec §3).
type BlockState struct {
	CheckpointID            uint64
	NextUserID              uint64
	NextDepositID           uint64
	NextAddWithdrawalID     uint64
	NextProcessWithdrawalID uint64
	UserRoot                hashtypes.FieldHash
	DepositRoot             hashtypes.FieldHash
	WithdrawalRoot          hashtypes.FieldHash
	CombinedRoot            hashtypes.FieldHash
}
