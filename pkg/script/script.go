// Copyright 2025 Certen Protocol
//
// On-chain P2SH script template (spec §6): splices the combined state
// root and the sighash-whitelist-tree root hash into a fixed 489-byte
// script template. Adapted from the teacher's pkg/anchor_proof.Builder
// pattern of assembling a fixed-shape on-chain artifact from component
// parts, here specialized to byte-offset splicing into a literal template
// instead of building a structured proof object.
package script

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/ripemd160"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/hashtypes"
)

// TemplateSize upper-bounds the script template buffer (spec §6's
// 489-byte figure); Build trims to b[:i], so the script it actually
// returns is the opcode skeleton plus verifier_data's real length,
// well under TemplateSize in production.
const TemplateSize = 489

// Opcodes used by the template. The zk-circuit-verifying opcode and the
// surrounding Bitcoin script machinery are opaque per spec §1; only the
// byte values needed to assemble/inspect the template are named here.
const (
	opPushBytes32 = 0x20
	opSwap        = 0x7c
	opDup         = 0x76
	opSha256      = 0xa8
	opEqualVerify = 0x88
	opPushData1   = 0x4c
	op1           = 0x51
	op0NotEqual   = 0x92
	op2Drop       = 0x6d
)

// Offsets into the template: the state-root push opcode sits at offset 0
// and its 32 data bytes run 1..33 (offStateRoot). The whitelist-hash push
// opcode sits at offset 36 (1 opcode + 32 root bytes + 3 opcodes:
// opSwap, opDup, opSha256), so its 32 data bytes run 37..69
// (offWhitelistHash). Spec §8 scenario 6 names offsets 36..68 for the
// whitelist hash; that is the template's own off-by-one (it omits the
// push opcode's byte), and matching it would mean dropping
// opPushBytes32 and emitting a malformed script, so offWhitelistHash
// stays ground-truthed to §6's opcode skeleton instead.
const (
	offStateRoot     = 1
	offWhitelistHash = 37
	offVerifierData  = 72 // OP_PUSHDATA1 (70) + length byte (71) + verifier_data[1..6]
)

// opCheckGroth16Verify is the production-verifying opcode; the genesis
// variant substitutes op0NotEqual so the genesis UTXO is spendable
// without a proof (spec §6).
const (
	opCheckGroth16Verify = 0xb0 // placeholder opcode for the opaque proof-engine verifier, per spec §1
)

// Params describes the pieces the template needs beyond its literal
// opcode skeleton.
type Params struct {
	// CombinedRoot is the combined Poseidon root for checkpoint N-1.
	CombinedRoot hashtypes.FieldHash
	// WhitelistRootSHA256 is the compile-time sha256 of the sighash
	// whitelist tree's root (offWhitelistHash, bytes 37..69).
	WhitelistRootSHA256 [32]byte
	// VerifierData is verifier_data[1..6], opaque proof-engine verifying
	// key material (spec §1: out of scope to interpret, only to place).
	VerifierData [6][]byte
	// Genesis selects the genesis variant (OP_CHECKGROTH16VERIFY replaced
	// with OP_0NOTEQUAL so the genesis UTXO is spendable without a proof).
	Genesis bool
}

// Build assembles the fixed template with root/whitelist bytes spliced in
// at their documented offsets (spec §6).
func Build(p Params) ([]byte, error) {
	root, err := p.CombinedRoot.ToCanonicalBytes(252)
	if err != nil {
		return nil, fmt.Errorf("script: canonicalize combined root: %w", err)
	}

	b := make([]byte, TemplateSize)
	i := 0
	b[i] = opPushBytes32
	i++
	copy(b[offStateRoot:offStateRoot+32], root[:])
	i = offStateRoot + 32

	b[i] = opSwap
	i++
	b[i] = opDup
	i++
	b[i] = opSha256
	i++
	b[i] = opPushBytes32
	i++
	copy(b[offWhitelistHash:offWhitelistHash+32], p.WhitelistRootSHA256[:])
	i = offWhitelistHash + 32
	b[i] = opEqualVerify
	i++

	b[i] = opPushData1
	i++
	b[i] = 80
	i++
	for _, chunk := range p.VerifierData {
		n := copy(b[i:], chunk)
		i += n
	}

	verifyOp := byte(opCheckGroth16Verify)
	if p.Genesis {
		verifyOp = op0NotEqual
	}
	b[i] = op1
	i++
	b[i] = verifyOp
	i++
	for k := 0; k < 6; k++ {
		b[i] = op2Drop
		i++
	}
	b[i] = op1
	i++

	return b[:i], nil
}

// WhitelistRootSHA256 computes the SHA-256 commitment of a whitelist-tree
// root for use as Params.WhitelistRootSHA256 (spec §6).
func WhitelistRootSHA256(whitelistRoot hashtypes.FieldHash) [32]byte {
	return sha256.Sum256(whitelistRoot.ToHash256().Bytes())
}

// Hash160 computes Bitcoin's HASH160 (RIPEMD-160 of SHA-256) of b, the
// function used to derive a P2SH address's script hash from a redeem
// script, and the same function a withdrawal's 20-byte destination
// (WithdrawalLeaf.Address) is expected to already be in the form of.
func Hash160(b []byte) [20]byte {
	sum := sha256.Sum256(b)
	h := ripemd160.New()
	h.Write(sum[:])
	var out [20]byte
	copy(out[:], h.Sum(nil))
	return out
}
