// Copyright 2025 Certen Protocol
package hashtypes

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
)

// Hasher is the capability the rest of the system depends on for node and
// leaf hashing. Concrete circuit backends (Poseidon-over-Goldilocks in the
// original design, Poseidon2-over-BN254 here) are selected once at startup
// and passed by reference — no package-level singleton.
type Hasher interface {
	// TwoToOne compresses two field-hashes into one, used to combine a
	// Merkle node's two children into their parent.
	TwoToOne(left, right FieldHash) FieldHash
	// HashNoPad hashes a sequence of field-hash "limbs" without padding,
	// used to hash leaf preimages (e.g. a user's public key, balance,
	// nonce tuple) into a single leaf value.
	HashNoPad(inputs ...FieldHash) FieldHash
}

// poseidonHasher implements Hasher with a width-3 Poseidon2 permutation
// over the BN254 scalar field: rate 2 (two input limbs absorbed per
// permutation), capacity 1.
type poseidonHasher struct {
	perm *poseidon2.Permutation
}

// NewPoseidonHasher constructs the default Hasher backend.
func NewPoseidonHasher() Hasher {
	// Standard Poseidon2 parameterization: 8 full rounds, 56 partial
	// rounds for a width-3 state, the same round counts gnark-crypto
	// ships for its BN254 instantiation.
	return &poseidonHasher{perm: poseidon2.NewPermutation(3, 8, 56)}
}

func toFrElement(f FieldHash) fr.Element {
	var e fr.Element
	// Each field-hash limb is already masked to fit safely under the
	// field's modulus (see canonicalMask / limbMask), so a direct
	// little-endian reassembly into the element's limbs is sound.
	e.SetUint64(f[0])
	var tmp fr.Element
	tmp.SetUint64(f[1])
	tmp.Mul(&tmp, &twoTo61)
	e.Add(&e, &tmp)
	tmp.SetUint64(f[2])
	tmp.Mul(&tmp, &twoTo122)
	e.Add(&e, &tmp)
	tmp.SetUint64(f[3])
	tmp.Mul(&tmp, &twoTo183)
	e.Add(&e, &tmp)
	return e
}

func fromFrElement(e fr.Element) FieldHash {
	b := e.Bytes() // big-endian 32 bytes
	var h Hash256
	for i := 0; i < 32; i++ {
		h[i] = b[31-i]
	}
	return h.ToFieldHash()
}

var (
	twoTo61  fr.Element
	twoTo122 fr.Element
	twoTo183 fr.Element
)

func init() {
	twoTo61.SetBigInt(new(big.Int).Lsh(big.NewInt(1), 61))
	twoTo122.SetBigInt(new(big.Int).Lsh(big.NewInt(1), 122))
	twoTo183.SetBigInt(new(big.Int).Lsh(big.NewInt(1), 183))
}

// TwoToOne implements Hasher.
func (h *poseidonHasher) TwoToOne(left, right FieldHash) FieldHash {
	state := []fr.Element{toFrElement(left), toFrElement(right), fr.Element{}}
	_ = h.perm.Permutation(state)
	return fromFrElement(state[0])
}

// HashNoPad implements Hasher.
func (h *poseidonHasher) HashNoPad(inputs ...FieldHash) FieldHash {
	state := make([]fr.Element, 3)
	for i, in := range inputs {
		idx := i % 2
		state[idx].Add(&state[idx], toFrElementPtr(in))
		if idx == 1 || i == len(inputs)-1 {
			_ = h.perm.Permutation(state)
		}
	}
	return fromFrElement(state[0])
}

func toFrElementPtr(f FieldHash) *fr.Element {
	e := toFrElement(f)
	return &e
}
