// Copyright 2025 Certen Protocol
//
// Sighash whitelist tree (C9): a static, fixed-height Merkle tree
// enumerating every admissible sigHash-circuit shape (deposit/withdrawal
// count permutations), each leaf a compiled circuit's fingerprint. The
// tree never changes after construction, so it reuses the teacher's flat
// pkg/merkle.Tree build/proof shape almost as-is rather than routing
// through the versioned store in pkg/merkletree (see DESIGN.md).
package sighash

import (
	"errors"
	"fmt"
	"sort"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/hashtypes"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/jobid"
)

// Height is the fixed whitelist tree height (spec §3).
const Height = 8

// MaxLeaves is the number of leaf slots at this height.
const MaxLeaves = 1 << Height

var (
	ErrTooManyEntries = errors.New("sighash: more entries than the whitelist tree has leaf slots")
	ErrUnknownGadget  = errors.New("sighash: gadget id is not in the whitelist")
)

// Entry associates a gadget shape with its compiled circuit's fingerprint.
type Entry struct {
	Gadget      jobid.SigHashGadgetID
	Fingerprint hashtypes.FieldHash
}

// Tree is the static whitelist tree: leaves sorted by SigHashGadgetID,
// leaf 0 reserved for the refund circuit's fingerprint (spec §4.9).
type Tree struct {
	hasher   hashtypes.Hasher
	entries  []Entry // sorted by Gadget.Encode(), index 0 is the refund circuit
	leaves   []hashtypes.FieldHash
	levels   [][]hashtypes.FieldHash
	root     hashtypes.FieldHash
	indexOf  map[uint32]int
}

// Build constructs the whitelist tree from refundFingerprint (always leaf
// 0) and the remaining entries, sorted by gadget id.
func Build(hasher hashtypes.Hasher, refundFingerprint hashtypes.FieldHash, entries []Entry) (*Tree, error) {
	if len(entries)+1 > MaxLeaves {
		return nil, ErrTooManyEntries
	}

	sorted := append([]Entry{}, entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Gadget.Encode() < sorted[j].Gadget.Encode()
	})

	all := make([]Entry, 0, len(sorted)+1)
	all = append(all, Entry{Fingerprint: refundFingerprint})
	all = append(all, sorted...)

	leaves := make([]hashtypes.FieldHash, MaxLeaves)
	for i, e := range all {
		leaves[i] = e.Fingerprint
	}
	for i := len(all); i < MaxLeaves; i++ {
		leaves[i] = hashtypes.ZeroField
	}

	levels := [][]hashtypes.FieldHash{leaves}
	cur := leaves
	for len(cur) > 1 {
		next := make([]hashtypes.FieldHash, len(cur)/2)
		for i := range next {
			next[i] = hasher.TwoToOne(cur[2*i], cur[2*i+1])
		}
		levels = append(levels, next)
		cur = next
	}

	indexOf := make(map[uint32]int, len(all)-1)
	for i, e := range all[1:] {
		indexOf[e.Gadget.Encode()] = i + 1
	}

	return &Tree{
		hasher:  hasher,
		entries: all,
		leaves:  leaves,
		levels:  levels,
		root:    cur[0],
		indexOf: indexOf,
	}, nil
}

// Root returns the whitelist tree's root.
func (t *Tree) Root() hashtypes.FieldHash {
	return t.root
}

// InclusionProof is a whitelist-tree inclusion proof for one gadget's
// fingerprint.
type InclusionProof struct {
	Fingerprint hashtypes.FieldHash
	Index       int
	Siblings    [Height]hashtypes.FieldHash
}

// GetProofForID returns an inclusion proof for the given gadget id in
// deterministic time (spec §4.9).
func (t *Tree) GetProofForID(g jobid.SigHashGadgetID) (InclusionProof, error) {
	idx, ok := t.indexOf[g.Encode()]
	if !ok {
		return InclusionProof{}, fmt.Errorf("%w: %+v", ErrUnknownGadget, g)
	}
	return t.proofForIndex(idx), nil
}

// RefundProof returns the inclusion proof for leaf 0, the refund circuit.
func (t *Tree) RefundProof() InclusionProof {
	return t.proofForIndex(0)
}

func (t *Tree) proofForIndex(idx int) InclusionProof {
	var siblings [Height]hashtypes.FieldHash
	cur := idx
	for level := 0; level < Height; level++ {
		siblings[level] = t.levels[level][cur^1]
		cur /= 2
	}
	return InclusionProof{Fingerprint: t.leaves[idx], Index: idx, Siblings: siblings}
}

// Verify checks a whitelist inclusion proof against the tree's root.
func Verify(hasher hashtypes.Hasher, p InclusionProof, root hashtypes.FieldHash) bool {
	cur := p.Fingerprint
	idx := p.Index
	for _, sib := range p.Siblings {
		if idx%2 == 0 {
			cur = hasher.TwoToOne(cur, sib)
		} else {
			cur = hasher.TwoToOne(sib, cur)
		}
		idx /= 2
	}
	return cur == root
}
