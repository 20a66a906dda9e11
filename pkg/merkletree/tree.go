// Copyright 2025 Certen Protocol
//
// Versioned Merkle store (C2). Stores one sparse Merkle tree per tree_id,
// of a fixed height, with a node-key layout that lets "the latest version
// of node (t, l, i) at or before checkpoint N" be found with a single
// reverse seek (spec §4.2).
//
// This generalizes the teacher's pkg/merkle.Tree (a flat, rebuild-per-batch
// tree over crypto/sha256) into a checkpoint-addressable sparse tree over
// pkg/kvstore, using pkg/hashtypes.Hasher for node hashing instead of a
// raw wire hash, since leaves here are circuit field-hashes.
package merkletree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/hashtypes"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/kvstore"
)

// Common errors.
var (
	ErrIndexOutOfRange = errors.New("merkletree: leaf index out of range for tree height")
	ErrNoSuchVersion   = errors.New("merkletree: no version of this node exists at or before the given checkpoint")
)

// TreeID identifies one of the semantic trees sharing a kvstore.KV
// keyspace (spec §3's tree inventory): distinct tree_ids keep their node
// keys from colliding.
type TreeID uint8

const (
	TreeUsers TreeID = iota
	TreeDeposits
	TreeWithdrawals
	TreeSighashWhitelist
)

// Standard tree heights from the tree inventory (spec §3).
const (
	HeightUsers             = 20
	HeightDeposits          = 16
	HeightWithdrawals       = 5
	HeightSighashWhitelist  = 8
)

// nodeKeyOrdered places checkpoint last so that "most recent version <= N"
// of a fixed (tree_id, level, index) node is a single SeekLE call with the
// (tree_id, level, index) span as the exact-match prefix and checkpoint as
// the fuzzy suffix, matching the C1 contract precisely.
func nodeKeyOrdered(treeID TreeID, level uint8, index uint64, checkpoint uint64) []byte {
	key := make([]byte, 2+1+1+8+8)
	binary.BigEndian.PutUint16(key[0:2], 1)
	key[2] = byte(treeID)
	key[3] = level
	binary.BigEndian.PutUint64(key[4:12], index)
	binary.BigEndian.PutUint64(key[12:20], checkpoint)
	return key
}

const nodeKeyPrefixLen = 2 + 1 + 1 + 8 // table_type + tree_id + level + index

// Store is a versioned sparse Merkle store over a shared kvstore.KV,
// holding one or more fixed-height trees distinguished by TreeID.
type Store struct {
	mu     sync.Mutex // serializes writes per spec §4.2 ("all tree writes for checkpoint N are performed serially")
	kv     kvstore.KV
	hasher hashtypes.Hasher
	height map[TreeID]uint8
	zero   map[TreeID][]hashtypes.FieldHash // zero[t][level] = zero-hash of an empty subtree at that level
}

// NewStore constructs a Store over kv, registering the given tree heights.
func NewStore(kv kvstore.KV, hasher hashtypes.Hasher, heights map[TreeID]uint8) *Store {
	s := &Store{
		kv:     kv,
		hasher: hasher,
		height: heights,
		zero:   make(map[TreeID][]hashtypes.FieldHash),
	}
	for t, h := range heights {
		s.zero[t] = computeZeroHashes(hasher, h)
	}
	return s
}

// computeZeroHashes memoizes zero[level] for level 0..height, where
// zero[0] is the zero leaf and zero[l] = TwoToOne(zero[l-1], zero[l-1]).
func computeZeroHashes(hasher hashtypes.Hasher, height uint8) []hashtypes.FieldHash {
	zeros := make([]hashtypes.FieldHash, height+1)
	zeros[0] = hashtypes.ZeroField
	for l := uint8(1); l <= height; l++ {
		zeros[l] = hasher.TwoToOne(zeros[l-1], zeros[l-1])
	}
	return zeros
}

func (s *Store) treeHeight(treeID TreeID) uint8 {
	return s.height[treeID]
}

// readNode returns the value of node (treeID, level, index) as of the most
// recent write at or before checkpoint N, or the zero-hash for that level
// if no such write exists.
func (s *Store) readNode(treeID TreeID, checkpoint uint64, level uint8, index uint64) (hashtypes.FieldHash, error) {
	target := nodeKeyOrdered(treeID, level, index, checkpoint)
	pair, ok, err := s.kv.SeekLE(target, nodeKeyPrefixLen)
	if err != nil {
		return hashtypes.FieldHash{}, err
	}
	if !ok {
		return s.zero[treeID][level], nil
	}
	return decodeFieldHash(pair.Value), nil
}

func (s *Store) writeNode(treeID TreeID, checkpoint uint64, level uint8, index uint64, v hashtypes.FieldHash) error {
	key := nodeKeyOrdered(treeID, level, index, checkpoint)
	return s.kv.Put(key, encodeFieldHash(v))
}

func encodeFieldHash(f hashtypes.FieldHash) []byte {
	b := make([]byte, 32)
	for i, limb := range f {
		binary.LittleEndian.PutUint64(b[i*8:(i+1)*8], limb)
	}
	return b
}

func decodeFieldHash(b []byte) hashtypes.FieldHash {
	var f hashtypes.FieldHash
	for i := range f {
		f[i] = binary.LittleEndian.Uint64(b[i*8 : (i+1)*8])
	}
	return f
}

func checkIndex(height uint8, index uint64) error {
	if index >= uint64(1)<<height {
		return ErrIndexOutOfRange
	}
	return nil
}

// GetLeaf returns the field-hash at the given leaf index, as of checkpoint
// N (spec §4.2).
func (s *Store) GetLeaf(treeID TreeID, checkpoint uint64, index uint64) (hashtypes.FieldHash, error) {
	height := s.treeHeight(treeID)
	if err := checkIndex(height, index); err != nil {
		return hashtypes.FieldHash{}, err
	}
	return s.readNode(treeID, checkpoint, 0, index)
}

// GetRoot returns the tree root as of checkpoint N.
func (s *Store) GetRoot(treeID TreeID, checkpoint uint64) (hashtypes.FieldHash, error) {
	height := s.treeHeight(treeID)
	return s.readNode(treeID, checkpoint, height, 0)
}

// MerkleProof is a standard inclusion proof: a leaf value plus the
// sibling hash at every level on the path to the root.
type MerkleProof struct {
	Value     hashtypes.FieldHash
	Siblings  []hashtypes.FieldHash // length == tree height, level 0 first
	Index     uint64
}

// GetMerkleProof returns the inclusion proof for leaf index as of
// checkpoint N: siblings are the most-recent-<=N value at each sibling
// position.
func (s *Store) GetMerkleProof(treeID TreeID, checkpoint uint64, index uint64) (MerkleProof, error) {
	height := s.treeHeight(treeID)
	if err := checkIndex(height, index); err != nil {
		return MerkleProof{}, err
	}

	value, err := s.readNode(treeID, checkpoint, 0, index)
	if err != nil {
		return MerkleProof{}, err
	}

	siblings := make([]hashtypes.FieldHash, height)
	idx := index
	for level := uint8(0); level < height; level++ {
		siblingIdx := idx ^ 1
		sib, err := s.readNode(treeID, checkpoint, level, siblingIdx)
		if err != nil {
			return MerkleProof{}, err
		}
		siblings[level] = sib
		idx /= 2
	}

	return MerkleProof{Value: value, Siblings: siblings, Index: index}, nil
}

// DeltaProof verifies and records a single-leaf update transitioning
// old_root -> new_root (spec GLOSSARY). Siblings are captured before the
// write, so replaying them against OldValue reproduces OldRoot and
// against NewValue reproduces NewRoot.
type DeltaProof struct {
	TreeID   TreeID
	OldValue hashtypes.FieldHash
	NewValue hashtypes.FieldHash
	Siblings []hashtypes.FieldHash
	Index    uint64
	OldRoot  hashtypes.FieldHash
	NewRoot  hashtypes.FieldHash
}

// SetLeaf writes a new leaf value and every ancestor at checkpoint N,
// returning the delta proof (spec §4.2). The caller must hold no other
// expectations about concurrent writers: per spec §4.5/§5, all writes for
// a single checkpoint are performed serially by the planner.
func (s *Store) SetLeaf(treeID TreeID, checkpoint uint64, index uint64, newValue hashtypes.FieldHash) (DeltaProof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	height := s.treeHeight(treeID)
	if err := checkIndex(height, index); err != nil {
		return DeltaProof{}, err
	}

	oldValue, err := s.readNode(treeID, checkpoint, 0, index)
	if err != nil {
		return DeltaProof{}, err
	}

	siblings := make([]hashtypes.FieldHash, height)
	idx := index
	for level := uint8(0); level < height; level++ {
		sib, err := s.readNode(treeID, checkpoint, level, idx^1)
		if err != nil {
			return DeltaProof{}, err
		}
		siblings[level] = sib
		idx /= 2
	}

	oldRoot, err := ReplayProof(s.hasher, oldValue, siblings, index)
	if err != nil {
		return DeltaProof{}, err
	}

	// Write the new leaf and every ancestor.
	if err := s.writeNode(treeID, checkpoint, 0, index, newValue); err != nil {
		return DeltaProof{}, err
	}
	cur := newValue
	idx = index
	for level := uint8(0); level < height; level++ {
		var parent hashtypes.FieldHash
		if idx%2 == 0 {
			parent = s.hasher.TwoToOne(cur, siblings[level])
		} else {
			parent = s.hasher.TwoToOne(siblings[level], cur)
		}
		idx /= 2
		if err := s.writeNode(treeID, checkpoint, level+1, idx, parent); err != nil {
			return DeltaProof{}, err
		}
		cur = parent
	}
	newRoot := cur

	return DeltaProof{
		TreeID:   treeID,
		OldValue: oldValue,
		NewValue: newValue,
		Siblings: siblings,
		Index:    index,
		OldRoot:  oldRoot,
		NewRoot:  newRoot,
	}, nil
}

// ReplayProof folds value up through siblings at index, returning the
// resulting root. Used both to compute OldRoot during SetLeaf and by
// external verifiers replaying a DeltaProof (spec §8's round-trip
// property).
func ReplayProof(hasher hashtypes.Hasher, value hashtypes.FieldHash, siblings []hashtypes.FieldHash, index uint64) (hashtypes.FieldHash, error) {
	cur := value
	idx := index
	for _, sib := range siblings {
		if idx%2 == 0 {
			cur = hasher.TwoToOne(cur, sib)
		} else {
			cur = hasher.TwoToOne(sib, cur)
		}
		idx /= 2
	}
	return cur, nil
}

// VerifyDelta checks that replaying (old, siblings, index) yields oldRoot
// and (new, siblings, index) yields newRoot (spec §8).
func VerifyDelta(hasher hashtypes.Hasher, d DeltaProof, oldRoot, newRoot hashtypes.FieldHash) (bool, error) {
	gotOld, err := ReplayProof(hasher, d.OldValue, d.Siblings, d.Index)
	if err != nil {
		return false, err
	}
	gotNew, err := ReplayProof(hasher, d.NewValue, d.Siblings, d.Index)
	if err != nil {
		return false, err
	}
	return gotOld == oldRoot && gotNew == newRoot, nil
}

// VerifyInclusion checks a MerkleProof against an expected root.
func VerifyInclusion(hasher hashtypes.Hasher, p MerkleProof, expectedRoot hashtypes.FieldHash) (bool, error) {
	root, err := ReplayProof(hasher, p.Value, p.Siblings, p.Index)
	if err != nil {
		return false, err
	}
	return root == expectedRoot, nil
}

func (s *Store) String() string {
	return fmt.Sprintf("merkletree.Store{trees=%d}", len(s.height))
}
