// Copyright 2025 Certen Protocol
package rollupstate

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/hashtypes"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/kvstore"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/merkletree"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/script"
)

// Store is the domain state store (C3): it owns the three semantic trees
// plus the secondary indexes and block-state records, the same way the
// teacher's pkg/ledger.LedgerStore owns system/anchor ledger state over a
// raw KV. Like LedgerStore, it assumes single-writer access from the
// planner's sequential commit path (spec §4.2, §5).
type Store struct {
	kv     kvstore.KV
	tree   *merkletree.Store
	hasher hashtypes.Hasher
}

// NewStore constructs a domain state store over the given KV (used for
// secondary indexes and block-state records) and Merkle store (used for
// the three semantic trees).
func NewStore(kv kvstore.KV, tree *merkletree.Store, hasher hashtypes.Hasher) *Store {
	return &Store{kv: kv, tree: tree, hasher: hasher}
}

// ====== KV key layout (table types per spec §6) ======

const (
	tableDepositsByID   = 2
	tableDepositsByTxID = 3
	tableBlockState     = 4
	tableUserIDsByPK    = 5
)

func depositByIDKey(depositID uint64) []byte {
	k := make([]byte, 2+8)
	binary.BigEndian.PutUint16(k[0:2], tableDepositsByID)
	binary.BigEndian.PutUint64(k[2:], depositID)
	return k
}

func depositByTxIDKey(txid hashtypes.FieldHash) []byte {
	k := make([]byte, 2+32)
	binary.BigEndian.PutUint16(k[0:2], tableDepositsByTxID)
	copy(k[2:], txid.ToHash256().Bytes())
	return k
}

func blockStateKey(checkpoint uint64) []byte {
	k := make([]byte, 2+8)
	binary.BigEndian.PutUint16(k[0:2], tableBlockState)
	binary.BigEndian.PutUint64(k[2:], checkpoint)
	return k
}

// userIDByPKKey indexes (public_key, user_id) -> user_id, a set rather
// than a map, since a public key may own multiple user IDs (spec §4.3,
// §9 Open Question — resolved in DESIGN.md).
func userIDByPKKey(pk hashtypes.FieldHash, userID uint64) []byte {
	k := make([]byte, 2+32+8)
	binary.BigEndian.PutUint16(k[0:2], tableUserIDsByPK)
	copy(k[2:34], pk.ToHash256().Bytes())
	binary.BigEndian.PutUint64(k[34:], userID)
	return k
}

func userIDByPKPrefix(pk hashtypes.FieldHash) []byte {
	k := make([]byte, 2+32)
	binary.BigEndian.PutUint16(k[0:2], tableUserIDsByPK)
	copy(k[2:34], pk.ToHash256().Bytes())
	return k
}

// ====== Registration / deposits / claims ======

type depositRecord struct {
	TxIDField      [4]uint64
	PublicKeyField [4]uint64
	Value          uint64
	DepositID      uint64
	Claimed        bool
}

func (d DepositLeaf) toRecord(id uint64) depositRecord {
	return depositRecord{
		TxIDField:      d.TxIDField,
		PublicKeyField: d.PublicKeyField,
		Value:          d.Value,
		DepositID:      id,
	}
}

// RegisterUser computes leaf = Hash(public_key, 0_balance, 0_nonce),
// writes it at user_id, and indexes (public_key, user_id) (spec §4.3).
// Per the resolved Open Question, a public key may register more than one
// user_id; collision is only an error if user_id itself is already
// occupied as of checkpoint >= N.
func (s *Store) RegisterUser(checkpoint uint64, userID uint64, publicKey hashtypes.FieldHash) (merkletree.DeltaProof, error) {
	existing, err := s.tree.GetLeaf(merkletree.TreeUsers, checkpoint, userID)
	if err != nil {
		return merkletree.DeltaProof{}, err
	}
	if existing != hashtypes.ZeroField {
		return merkletree.DeltaProof{}, ErrUserSlotOccupied
	}

	leaf := UserLeaf{PublicKey: publicKey, Balance: 0, Nonce: 0}
	delta, err := s.tree.SetLeaf(merkletree.TreeUsers, checkpoint, userID, leaf.Hash(s.hasher))
	if err != nil {
		return merkletree.DeltaProof{}, err
	}

	if err := s.kv.Put(userIDByPKKey(publicKey, userID), encodeUint64(userID)); err != nil {
		return merkletree.DeltaProof{}, fmt.Errorf("rollupstate: index user id: %w", err)
	}
	if err := s.saveUserRecord(userID, leaf); err != nil {
		return merkletree.DeltaProof{}, err
	}
	return delta, nil
}

// UserIDsForPublicKey returns every user_id registered to publicKey
// (possibly more than one, see DESIGN.md's Open Question resolution).
func (s *Store) UserIDsForPublicKey(publicKey hashtypes.FieldHash) ([]uint64, error) {
	prefix := userIDByPKPrefix(publicKey)
	upper := append(append([]byte{}, prefix...), 0xff)
	pairs, err := s.kv.RangeScan(prefix, upper, 0, kvstore.Forward)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(pairs))
	for _, p := range pairs {
		ids = append(ids, decodeUint64(p.Value))
	}
	return ids, nil
}

// AddDeposit writes leaf = Hash(txid, pk, value) at deposit_id and indexes
// it by txid (spec §4.3).
func (s *Store) AddDeposit(checkpoint uint64, depositID uint64, txidField, pkField hashtypes.FieldHash, value uint64) (merkletree.DeltaProof, error) {
	leaf := DepositLeaf{TxIDField: txidField, PublicKeyField: pkField, Value: value}
	delta, err := s.tree.SetLeaf(merkletree.TreeDeposits, checkpoint, depositID, leaf.Hash(s.hasher))
	if err != nil {
		return merkletree.DeltaProof{}, err
	}

	rec := leaf.toRecord(depositID)
	b, err := json.Marshal(rec)
	if err != nil {
		return merkletree.DeltaProof{}, err
	}
	if err := s.kv.Put(depositByIDKey(depositID), b); err != nil {
		return merkletree.DeltaProof{}, err
	}
	if err := s.kv.Put(depositByTxIDKey(txidField), encodeUint64(depositID)); err != nil {
		return merkletree.DeltaProof{}, err
	}
	return delta, nil
}

// DepositIDForTxID looks up a previously-added deposit's id by its txid
// field-hash.
func (s *Store) DepositIDForTxID(txidField hashtypes.FieldHash) (uint64, error) {
	v, err := s.kv.Get(depositByTxIDKey(txidField))
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, ErrDepositNotFound
	}
	return decodeUint64(v), nil
}

// ClaimResult bundles both delta proofs produced by ClaimDeposit, plus the
// original deposit data a circuit witness needs.
type ClaimResult struct {
	UserDelta    merkletree.DeltaProof
	DepositDelta merkletree.DeltaProof
	Deposit      DepositLeaf
}

// ClaimDeposit reads the user and deposit leaves, adds the deposit's value
// to the user's balance, bumps the user's nonce, and zeroes the deposit
// leaf (spec §4.3).
func (s *Store) ClaimDeposit(checkpoint uint64, userID, depositID uint64) (ClaimResult, error) {
	rec, err := s.loadDepositRecord(depositID)
	if err != nil {
		return ClaimResult{}, err
	}
	if rec.Claimed {
		return ClaimResult{}, fmt.Errorf("rollupstate: deposit %d already claimed", depositID)
	}

	user, err := s.loadUser(checkpoint, userID)
	if err != nil {
		return ClaimResult{}, err
	}
	user.Balance += rec.Value
	user.Nonce++

	userDelta, err := s.tree.SetLeaf(merkletree.TreeUsers, checkpoint, userID, user.Hash(s.hasher))
	if err != nil {
		return ClaimResult{}, err
	}
	if err := s.saveUserRecord(userID, user); err != nil {
		return ClaimResult{}, err
	}

	depositDelta, err := s.tree.SetLeaf(merkletree.TreeDeposits, checkpoint, depositID, hashtypes.ZeroField)
	if err != nil {
		return ClaimResult{}, err
	}

	rec.Claimed = true
	if err := s.saveDepositRecord(rec); err != nil {
		return ClaimResult{}, err
	}

	return ClaimResult{
		UserDelta:    userDelta,
		DepositDelta: depositDelta,
		Deposit: DepositLeaf{
			TxIDField:      rec.TxIDField,
			PublicKeyField: rec.PublicKeyField,
			Value:          rec.Value,
		},
	}, nil
}

// ====== Withdrawals & transfers ======

// WithdrawalResult bundles both delta proofs produced by AddWithdrawal.
type WithdrawalResult struct {
	UserDelta       merkletree.DeltaProof
	WithdrawalDelta merkletree.DeltaProof
}

// AddWithdrawal requires balance >= value and nonce == user.Nonce,
// decrements balance, bumps nonce, and writes the withdrawal leaf
// (spec §4.3).
func (s *Store) AddWithdrawal(checkpoint uint64, withdrawalID, userID uint64, addr [20]byte, addrType uint8, value, nonce uint64) (WithdrawalResult, error) {
	user, err := s.loadUser(checkpoint, userID)
	if err != nil {
		return WithdrawalResult{}, err
	}
	if user.Nonce != nonce {
		return WithdrawalResult{}, ErrNonceMismatch
	}
	if user.Balance < value {
		return WithdrawalResult{}, ErrInsufficientBalance
	}
	user.Balance -= value
	user.Nonce++

	userDelta, err := s.tree.SetLeaf(merkletree.TreeUsers, checkpoint, userID, user.Hash(s.hasher))
	if err != nil {
		return WithdrawalResult{}, err
	}
	if err := s.saveUserRecord(userID, user); err != nil {
		return WithdrawalResult{}, err
	}

	wd := WithdrawalLeaf{Address: addr, AddressType: addrType, Value: value}
	wdDelta, err := s.tree.SetLeaf(merkletree.TreeWithdrawals, checkpoint, withdrawalID, wd.Hash(s.hasher))
	if err != nil {
		return WithdrawalResult{}, err
	}

	return WithdrawalResult{UserDelta: userDelta, WithdrawalDelta: wdDelta}, nil
}

// TransferResult bundles both user delta proofs produced by Transfer.
type TransferResult struct {
	FromDelta merkletree.DeltaProof
	ToDelta   merkletree.DeltaProof
}

// Transfer requires from.Balance >= value and nonce == from.Nonce,
// decrements the sender and increments the receiver, and bumps the
// sender's nonce (spec §4.3).
func (s *Store) Transfer(checkpoint uint64, fromUser, toUser, value, nonce uint64) (TransferResult, error) {
	from, err := s.loadUser(checkpoint, fromUser)
	if err != nil {
		return TransferResult{}, err
	}
	if from.Nonce != nonce {
		return TransferResult{}, ErrNonceMismatch
	}
	if from.Balance < value {
		return TransferResult{}, ErrInsufficientBalance
	}
	from.Balance -= value
	from.Nonce++

	fromDelta, err := s.tree.SetLeaf(merkletree.TreeUsers, checkpoint, fromUser, from.Hash(s.hasher))
	if err != nil {
		return TransferResult{}, err
	}
	if err := s.saveUserRecord(fromUser, from); err != nil {
		return TransferResult{}, err
	}

	to, err := s.loadUser(checkpoint, toUser)
	if err != nil {
		return TransferResult{}, err
	}
	to.Balance += value

	toDelta, err := s.tree.SetLeaf(merkletree.TreeUsers, checkpoint, toUser, to.Hash(s.hasher))
	if err != nil {
		return TransferResult{}, err
	}
	if err := s.saveUserRecord(toUser, to); err != nil {
		return TransferResult{}, err
	}

	return TransferResult{FromDelta: fromDelta, ToDelta: toDelta}, nil
}

// ProcessWithdrawal zeroes the withdrawal leaf (spec §4.3). Zeroing an
// already-zeroed leaf is a no-op delta (idempotent per spec §8).
func (s *Store) ProcessWithdrawal(checkpoint uint64, withdrawalID uint64) (merkletree.DeltaProof, error) {
	return s.tree.SetLeaf(merkletree.TreeWithdrawals, checkpoint, withdrawalID, hashtypes.ZeroField)
}

// ====== Block state records ======

// SaveBlockState persists the (never later mutated) block-state record
// for a checkpoint (spec §3, table type 4).
func (s *Store) SaveBlockState(bs BlockState) error {
	b, err := json.Marshal(bs)
	if err != nil {
		return err
	}
	return s.kv.Put(blockStateKey(bs.CheckpointID), b)
}

// LoadBlockState retrieves a previously-saved block-state record.
func (s *Store) LoadBlockState(checkpoint uint64) (BlockState, error) {
	b, err := s.kv.Get(blockStateKey(checkpoint))
	if err != nil {
		return BlockState{}, err
	}
	if b == nil {
		return BlockState{}, ErrBlockStateNotFound
	}
	var bs BlockState
	if err := json.Unmarshal(b, &bs); err != nil {
		return BlockState{}, err
	}
	return bs, nil
}

// Roots returns the three semantic tree roots as of checkpoint N,
// the values persisted in a BlockState record (spec §3).
func (s *Store) Roots(checkpoint uint64) (userRoot, depositRoot, withdrawalRoot hashtypes.FieldHash, err error) {
	userRoot, err = s.tree.GetRoot(merkletree.TreeUsers, checkpoint)
	if err != nil {
		return
	}
	depositRoot, err = s.tree.GetRoot(merkletree.TreeDeposits, checkpoint)
	if err != nil {
		return
	}
	withdrawalRoot, err = s.tree.GetRoot(merkletree.TreeWithdrawals, checkpoint)
	return
}

// CombinedRoot computes combined = Hash(Hash(users, withdrawals), deposits)
// as of checkpoint N (spec §3), the value committed in the Bitcoin P2SH
// script.
func (s *Store) CombinedRoot(checkpoint uint64) (hashtypes.FieldHash, error) {
	userRoot, err := s.tree.GetRoot(merkletree.TreeUsers, checkpoint)
	if err != nil {
		return hashtypes.FieldHash{}, err
	}
	withdrawalRoot, err := s.tree.GetRoot(merkletree.TreeWithdrawals, checkpoint)
	if err != nil {
		return hashtypes.FieldHash{}, err
	}
	depositRoot, err := s.tree.GetRoot(merkletree.TreeDeposits, checkpoint)
	if err != nil {
		return hashtypes.FieldHash{}, err
	}
	inner := s.hasher.TwoToOne(userRoot, withdrawalRoot)
	return s.hasher.TwoToOne(inner, depositRoot), nil
}

// GetBlockScript computes the combined root as of checkpoint N and
// splices its 252-bit canonical bytes into the fixed P2SH script
// template (spec §4.3, §6).
func (s *Store) GetBlockScript(checkpoint uint64, whitelistRootHash [32]byte, verifierData [6][]byte, genesis bool) ([]byte, error) {
	root, err := s.CombinedRoot(checkpoint)
	if err != nil {
		return nil, err
	}
	return script.Build(script.Params{
		CombinedRoot:        root,
		WhitelistRootSHA256: whitelistRootHash,
		VerifierData:        verifierData,
		Genesis:             genesis,
	})
}

// ====== helpers ======

func (s *Store) loadUser(checkpoint, userID uint64) (UserLeaf, error) {
	// The tree only stores the hashed leaf value; the planner/worker keep
	// the preimage out-of-band (in witness bytes written to the proof
	// store). For domain-store bookkeeping we keep a parallel plaintext
	// record so balance/nonce logic can run without circuit witnesses.
	b, err := s.kv.Get(userRecordKey(userID))
	if err != nil {
		return UserLeaf{}, err
	}
	if b == nil {
		return UserLeaf{}, nil
	}
	var rec userRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return UserLeaf{}, err
	}
	return UserLeaf{PublicKey: rec.PublicKey, Balance: rec.Balance, Nonce: rec.Nonce}, nil
}

type userRecord struct {
	PublicKey hashtypes.FieldHash
	Balance   uint64
	Nonce     uint64
}

func userRecordKey(userID uint64) []byte {
	k := make([]byte, 2+8)
	binary.BigEndian.PutUint16(k[0:2], 6) // table type 6: user plaintext record (local bookkeeping)
	binary.BigEndian.PutUint64(k[2:], userID)
	return k
}

func (s *Store) saveUserRecord(userID uint64, u UserLeaf) error {
	b, err := json.Marshal(userRecord{PublicKey: u.PublicKey, Balance: u.Balance, Nonce: u.Nonce})
	if err != nil {
		return err
	}
	return s.kv.Put(userRecordKey(userID), b)
}

func (s *Store) loadDepositRecord(depositID uint64) (depositRecord, error) {
	b, err := s.kv.Get(depositByIDKey(depositID))
	if err != nil {
		return depositRecord{}, err
	}
	if b == nil {
		return depositRecord{}, fmt.Errorf("rollupstate: deposit %d not found", depositID)
	}
	var rec depositRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return depositRecord{}, err
	}
	return rec, nil
}

func (s *Store) saveDepositRecord(rec depositRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.kv.Put(depositByIDKey(rec.DepositID), b)
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
