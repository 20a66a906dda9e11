package proofengine

import (
	"bytes"
	"context"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/jobid"
)

func TestMockEngineDeterministic(t *testing.T) {
	e := NewMockEngine()
	ctx := context.Background()

	out1, err := e.Prove(ctx, jobid.CircuitTransfer, []byte("input"), nil)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	out2, err := e.Prove(ctx, jobid.CircuitTransfer, []byte("input"), nil)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if !bytes.Equal(out1, out2) {
		t.Fatal("MockEngine.Prove must be deterministic for identical inputs")
	}
}

func TestMockEngineDiffersByCircuitType(t *testing.T) {
	e := NewMockEngine()
	ctx := context.Background()

	out1, _ := e.Prove(ctx, jobid.CircuitTransfer, []byte("input"), nil)
	out2, _ := e.Prove(ctx, jobid.CircuitAddDeposit, []byte("input"), nil)
	if bytes.Equal(out1, out2) {
		t.Fatal("different circuit types must produce different commitments")
	}
}

func TestMockEngineDiffersByChildProofs(t *testing.T) {
	e := NewMockEngine()
	ctx := context.Background()

	out1, _ := e.Prove(ctx, jobid.CircuitAggStateTransition, []byte("input"), [][]byte{[]byte("a")})
	out2, _ := e.Prove(ctx, jobid.CircuitAggStateTransition, []byte("input"), [][]byte{[]byte("b")})
	if bytes.Equal(out1, out2) {
		t.Fatal("different child proofs must produce different commitments")
	}
}

func TestMockEngineOutputHasVersionPrefix(t *testing.T) {
	e := NewMockEngine()
	out, err := e.Prove(context.Background(), jobid.CircuitTransfer, nil, nil)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if len(out) == 0 || out[0] != 1 {
		t.Fatalf("output = %x, want version byte 1 prefix", out)
	}
}

func TestMockEngineRespectsCancellation(t *testing.T) {
	e := NewMockEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Prove(ctx, jobid.CircuitTransfer, nil, nil); err == nil {
		t.Fatal("expected an error from a pre-canceled context")
	}
}

func TestMockEngineGroth16FinalUsesProofEnvelope(t *testing.T) {
	e := NewMockEngine()
	ctx := context.Background()

	out, err := e.Prove(ctx, jobid.CircuitGroth16Final, []byte("terminal input"), [][]byte{[]byte("child")})
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if len(out) == 0 || out[0] != 1 {
		t.Fatalf("output = %x, want version byte 1 prefix", out)
	}

	proof := groth16.NewProof(ecc.BN254)
	var envelope bytes.Buffer
	if _, err := proof.WriteTo(&envelope); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if len(out) <= 1+envelope.Len() {
		t.Fatalf("len(out) = %d, want more than 1+%d (version byte + proof envelope + commitment)", len(out), envelope.Len())
	}
	if !bytes.Equal(out[1:1+envelope.Len()], envelope.Bytes()) {
		t.Fatal("groth16_final output does not carry the groth16.Proof wire envelope")
	}
}

func TestMockEngineGroth16FinalStillDiffersByInput(t *testing.T) {
	e := NewMockEngine()
	ctx := context.Background()

	out1, _ := e.Prove(ctx, jobid.CircuitGroth16Final, []byte("input a"), nil)
	out2, _ := e.Prove(ctx, jobid.CircuitGroth16Final, []byte("input b"), nil)
	if bytes.Equal(out1, out2) {
		t.Fatal("different inputs must produce different groth16_final commitments")
	}
}

func TestIsGroth16Final(t *testing.T) {
	if !IsGroth16Final(jobid.CircuitGroth16Final) {
		t.Fatal("IsGroth16Final(CircuitGroth16Final) = false, want true")
	}
	if IsGroth16Final(jobid.CircuitTransfer) {
		t.Fatal("IsGroth16Final(CircuitTransfer) = true, want false")
	}
}
