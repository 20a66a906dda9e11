// Copyright 2025 Certen Protocol
//
// Request types for the block planner (C6). These are the decoded shapes
// of the per-action request queues named in spec §4.7; wire decoding
// (JSON) happens at the orchestrator boundary, not here.
package planner

import "github.com/QEDProtocol/city-rollup-sub003/pkg/hashtypes"

// RegisterUserRequest registers a fresh public key.
type RegisterUserRequest struct {
	PublicKey hashtypes.FieldHash
}

// AddDepositRequest records an L1 funding transaction observed at the
// covenant address.
type AddDepositRequest struct {
	TxIDField      hashtypes.FieldHash
	PublicKeyField hashtypes.FieldHash
	Value          uint64
}

// ClaimDepositRequest claims a previously-added deposit into a user's
// balance.
type ClaimDepositRequest struct {
	UserID    uint64
	DepositID uint64
}

// TransferRequest moves value between two registered users.
type TransferRequest struct {
	FromUser uint64
	ToUser   uint64
	Value    uint64
	Nonce    uint64
}

// AddWithdrawalRequest debits a user and records a pending withdrawal.
type AddWithdrawalRequest struct {
	UserID      uint64
	Address     [20]byte
	AddressType uint8
	Value       uint64
	Nonce       uint64
}

// ProcessWithdrawalRequest marks a previously-added withdrawal as
// settled on L1.
type ProcessWithdrawalRequest struct {
	WithdrawalID uint64
}

// SighashIntrospectionHint is one Bitcoin input the covenant spends,
// described by the deposit/withdrawal shape its spending proof covers
// (spec §4.5 step 5).
type SighashIntrospectionHint struct {
	NumDeposits    uint8
	NumWithdrawals uint8
	Permutation    uint8
	InputIndex     uint32
}

// RequestBag is the full, ordered input to a single planning round
// (spec §4.5). Buckets are processed in the fixed order the spec names:
// register_user, add_deposit, claim_deposit, token_transfer,
// add_withdrawal, process_withdrawal.
type RequestBag struct {
	RegisterUser       []RegisterUserRequest
	AddDeposit         []AddDepositRequest
	ClaimDeposit       []ClaimDepositRequest
	Transfer           []TransferRequest
	AddWithdrawal      []AddWithdrawalRequest
	ProcessWithdrawal  []ProcessWithdrawalRequest
	SighashHints       []SighashIntrospectionHint
}
