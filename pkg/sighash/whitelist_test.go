package sighash

import (
	"testing"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/hashtypes"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/jobid"
)

func field(v uint64) hashtypes.FieldHash {
	return hashtypes.FieldHash{v, 0, 0, 0}
}

func TestBuildRefundIsLeafZero(t *testing.T) {
	hasher := hashtypes.NewPoseidonHasher()
	tree, err := Build(hasher, field(1), []Entry{
		{Gadget: jobid.SigHashGadgetID{NumDeposits: 1, NumWithdrawals: 0}, Fingerprint: field(2)},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	p := tree.RefundProof()
	if p.Index != 0 {
		t.Fatalf("RefundProof().Index = %d, want 0", p.Index)
	}
	if !Verify(hasher, p, tree.Root()) {
		t.Fatal("refund proof does not verify against the tree root")
	}
}

func TestGetProofForIDVerifies(t *testing.T) {
	hasher := hashtypes.NewPoseidonHasher()
	gadget := jobid.SigHashGadgetID{NumDeposits: 1, NumWithdrawals: 1}
	tree, err := Build(hasher, field(1), []Entry{
		{Gadget: gadget, Fingerprint: field(2)},
		{Gadget: jobid.SigHashGadgetID{NumDeposits: 0, NumWithdrawals: 1}, Fingerprint: field(3)},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	proof, err := tree.GetProofForID(gadget)
	if err != nil {
		t.Fatalf("GetProofForID: %v", err)
	}
	if !Verify(hasher, proof, tree.Root()) {
		t.Fatal("inclusion proof does not verify against the tree root")
	}
}

func TestGetProofForUnknownGadgetFails(t *testing.T) {
	hasher := hashtypes.NewPoseidonHasher()
	tree, err := Build(hasher, field(1), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, err := tree.GetProofForID(jobid.SigHashGadgetID{NumDeposits: 9, NumWithdrawals: 9}); err == nil {
		t.Fatal("expected ErrUnknownGadget for a gadget never added to the tree")
	}
}

func TestVerifyRejectsTamperedProof(t *testing.T) {
	hasher := hashtypes.NewPoseidonHasher()
	gadget := jobid.SigHashGadgetID{NumDeposits: 1, NumWithdrawals: 0}
	tree, err := Build(hasher, field(1), []Entry{{Gadget: gadget, Fingerprint: field(2)}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	proof, err := tree.GetProofForID(gadget)
	if err != nil {
		t.Fatalf("GetProofForID: %v", err)
	}
	proof.Fingerprint = field(999)
	if Verify(hasher, proof, tree.Root()) {
		t.Fatal("Verify must reject a proof whose fingerprint was tampered with")
	}
}

func TestBuildTooManyEntries(t *testing.T) {
	hasher := hashtypes.NewPoseidonHasher()
	entries := make([]Entry, MaxLeaves)
	for i := range entries {
		entries[i] = Entry{
			Gadget:      jobid.SigHashGadgetID{NumDeposits: uint8(i % 255), Permutation: uint8(i)},
			Fingerprint: field(uint64(i)),
		}
	}
	if _, err := Build(hasher, field(1), entries); err != ErrTooManyEntries {
		t.Fatalf("Build with MaxLeaves entries (+ refund) = %v, want ErrTooManyEntries", err)
	}
}
