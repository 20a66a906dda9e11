package planner

import (
	"testing"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/hashtypes"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/jobid"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/kvstore"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/merkletree"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/proofstore"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/rollupstate"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/sighash"
)

func field(v uint64) hashtypes.FieldHash {
	return hashtypes.FieldHash{v, 0, 0, 0}
}

// testPlanner wires a fresh Planner with a single whitelist entry matching
// the sighash hint every test below spends the covenant input with.
func testPlanner(t *testing.T) *Planner {
	t.Helper()
	hasher := hashtypes.NewPoseidonHasher()
	kv := kvstore.NewMemStore()
	tree := merkletree.NewStore(kv, hasher, map[merkletree.TreeID]uint8{
		merkletree.TreeUsers:       8,
		merkletree.TreeDeposits:    8,
		merkletree.TreeWithdrawals: 8,
	})
	state := rollupstate.NewStore(kv, tree, hasher)
	proofs := proofstore.NewStore(kvstore.NewMemStore())

	gadget := jobid.SigHashGadgetID{NumDeposits: 0, NumWithdrawals: 0, Permutation: 0}
	whitelist, err := sighash.Build(hasher, field(1), []sighash.Entry{
		{Gadget: gadget, Fingerprint: field(2)},
	})
	if err != nil {
		t.Fatalf("sighash.Build: %v", err)
	}

	return NewPlanner(state, proofs, whitelist)
}

func oneHint() []SighashIntrospectionHint {
	return []SighashIntrospectionHint{{NumDeposits: 0, NumWithdrawals: 0, Permutation: 0, InputIndex: 0}}
}

func TestPlanEmptyBagProducesTerminalJob(t *testing.T) {
	p := testPlanner(t)
	plan, err := p.Plan(0, RequestBag{SighashHints: oneHint()})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.TerminalJobID.CircuitType != jobid.CircuitGroth16Final {
		t.Fatalf("TerminalJobID.CircuitType = %v, want CircuitGroth16Final", plan.TerminalJobID.CircuitType)
	}
	if plan.Checkpoint != 1 {
		t.Fatalf("Checkpoint = %d, want 1", plan.Checkpoint)
	}
	// Every bucket was empty, so each contributes exactly one dummy leaf:
	// six bucket dummies plus one sighash_introspection leaf.
	if len(plan.LeafJobIDs) != 7 {
		t.Fatalf("len(LeafJobIDs) = %d, want 7 (6 dummy bucket leaves + 1 sighash leaf)", len(plan.LeafJobIDs))
	}
}

func TestPlanRequiresAtLeastOneSighashHint(t *testing.T) {
	p := testPlanner(t)
	if _, err := p.Plan(0, RequestBag{}); err == nil {
		t.Fatal("Plan with zero sighash hints should fail: a block must spend at least one covenant input")
	}
}

func TestPlanRegisterUserProducesNonDummyLeaf(t *testing.T) {
	p := testPlanner(t)
	bag := RequestBag{
		RegisterUser: []RegisterUserRequest{{PublicKey: field(42)}},
		SighashHints: oneHint(),
	}
	plan, err := p.Plan(0, bag)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.State.NextUserID != 1 {
		t.Fatalf("State.NextUserID = %d, want 1", plan.State.NextUserID)
	}

	foundRegisterUser := false
	for _, id := range plan.LeafJobIDs {
		if id.CircuitType == jobid.CircuitRegisterUser {
			foundRegisterUser = true
			data, err := p.proofs.GetBytes(id)
			if err != nil {
				t.Fatalf("GetBytes: %v", err)
			}
			w, err := UnmarshalLeafWitness(data)
			if err != nil {
				t.Fatalf("UnmarshalLeafWitness: %v", err)
			}
			if w.Dummy {
				t.Fatal("a real register_user request should not produce a dummy leaf")
			}
			if w.RegisterUser == nil || w.RegisterUser.UserID != 0 {
				t.Fatalf("w.RegisterUser = %+v, want UserID 0", w.RegisterUser)
			}
		}
	}
	if !foundRegisterUser {
		t.Fatal("expected a register_user leaf in LeafJobIDs")
	}
}

func TestPlanDropsInvalidRequestsWithoutAbortingRound(t *testing.T) {
	p := testPlanner(t)
	bag := RequestBag{
		ClaimDeposit: []ClaimDepositRequest{{UserID: 0, DepositID: 999}}, // no such deposit
		SighashHints: oneHint(),
	}
	plan, err := p.Plan(0, bag)
	if err != nil {
		t.Fatalf("Plan should not abort on a dropped request: %v", err)
	}
	if len(plan.Dropped) != 1 {
		t.Fatalf("len(Dropped) = %d, want 1", len(plan.Dropped))
	}
	if plan.Dropped[0].Bucket != jobid.BucketClaimDeposit {
		t.Fatalf("Dropped[0].Bucket = %v, want BucketClaimDeposit", plan.Dropped[0].Bucket)
	}
}

func TestPlanTruncatesProcessWithdrawalToMax(t *testing.T) {
	p := testPlanner(t)
	p.MaxWithdrawalsPerBlock = 2

	reqs := make([]ProcessWithdrawalRequest, 5)
	for i := range reqs {
		reqs[i] = ProcessWithdrawalRequest{WithdrawalID: uint64(i)}
	}
	bag := RequestBag{ProcessWithdrawal: reqs, SighashHints: oneHint()}

	plan, err := p.Plan(0, bag)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.State.NextProcessWithdrawalID != 2 {
		t.Fatalf("NextProcessWithdrawalID = %d, want 2 (truncated to MaxWithdrawalsPerBlock)", plan.State.NextProcessWithdrawalID)
	}
}

func TestPlanSecondRoundChainsFromPreviousBlockState(t *testing.T) {
	p := testPlanner(t)
	bag1 := RequestBag{
		RegisterUser: []RegisterUserRequest{{PublicKey: field(1)}, {PublicKey: field(2)}},
		SighashHints: oneHint(),
	}
	plan1, err := p.Plan(0, bag1)
	if err != nil {
		t.Fatalf("Plan round 1: %v", err)
	}
	if plan1.State.NextUserID != 2 {
		t.Fatalf("round 1 NextUserID = %d, want 2", plan1.State.NextUserID)
	}

	bag2 := RequestBag{
		RegisterUser: []RegisterUserRequest{{PublicKey: field(3)}},
		SighashHints: oneHint(),
	}
	plan2, err := p.Plan(plan1.Checkpoint, bag2)
	if err != nil {
		t.Fatalf("Plan round 2: %v", err)
	}
	if plan2.Checkpoint != 2 {
		t.Fatalf("round 2 Checkpoint = %d, want 2", plan2.Checkpoint)
	}
	if plan2.State.NextUserID != 3 {
		t.Fatalf("round 2 NextUserID = %d, want 3", plan2.State.NextUserID)
	}
	if plan2.PreCombinedRoot != plan1.State.CombinedRoot {
		t.Fatal("round 2's PreCombinedRoot should equal round 1's resulting CombinedRoot")
	}
}

func TestPlanTerminalJobIsReachableFromEveryLeaf(t *testing.T) {
	p := testPlanner(t)
	bag := RequestBag{
		RegisterUser: []RegisterUserRequest{{PublicKey: field(1)}},
		SighashHints: oneHint(),
	}
	plan, err := p.Plan(0, bag)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	// Walk from every leaf's output ID up through waiters until reaching
	// the terminal job, confirming the waiters index alone is enough to
	// discover the full DAG shape from any leaf.
	for _, leaf := range plan.LeafJobIDs {
		cur := leaf.WithOutput()
		reached := false
		for i := 0; i < 20; i++ {
			waiters, err := p.proofs.GetWaiters(cur)
			if err != nil {
				t.Fatalf("GetWaiters: %v", err)
			}
			if len(waiters) == 0 {
				break
			}
			next := waiters[0]
			if next == plan.TerminalJobID {
				reached = true
				break
			}
			cur = next.WithOutput()
		}
		if !reached {
			t.Fatalf("leaf %s never reaches the terminal job via waiters", leaf.Hex())
		}
	}
}
