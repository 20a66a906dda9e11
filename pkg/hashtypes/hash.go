// Copyright 2025 Certen Protocol
//
// Hash and field-element conversions for the rollup state tree.
//
// Two representations of a 256-bit rollup hash exist:
//   - FieldHash: four 64-bit limbs, the representation used inside circuits.
//   - Hash256: 32 bytes, the wire representation used by the KV store and
//     the on-chain script.
//
// FieldHash -> Hash256 is total (canonical little-endian encoding).
// Hash256 -> FieldHash is lossy: each 64-bit limb is masked to fit under
// the field prime used by the proof engine's field (we approximate the
// field width with a conservative 61-bit mask per limb, matching the
// Goldilocks-class field the original circuits use).
package hashtypes

import (
	"encoding/binary"
	"fmt"
)

// limbMask zeroes the top 3 bits of each 64-bit limb so every conversion
// lands inside the field prime the proof engine uses, whatever it is.
const limbMask = uint64(1)<<61 - 1

// FieldHash is the four-limb field-element representation of a hash.
type FieldHash [4]uint64

// Hash256 is the 32-byte wire representation of a hash.
type Hash256 [32]byte

// ZeroField is the additive identity field-hash, used for empty leaves.
var ZeroField = FieldHash{0, 0, 0, 0}

// ZeroHash256 is the all-zero wire hash.
var ZeroHash256 = Hash256{}

// ToHash256 performs the total FieldHash -> Hash256 conversion: each limb
// is written little-endian into its 8-byte slot.
func (f FieldHash) ToHash256() Hash256 {
	var out Hash256
	for i, limb := range f {
		binary.LittleEndian.PutUint64(out[i*8:(i+1)*8], limb)
	}
	return out
}

// ToFieldHash performs the lossy Hash256 -> FieldHash conversion: each
// 8-byte little-endian limb is masked to fit the field.
func (h Hash256) ToFieldHash() FieldHash {
	var out FieldHash
	for i := range out {
		limb := binary.LittleEndian.Uint64(h[i*8 : (i+1)*8])
		out[i] = limb & limbMask
	}
	return out
}

// canonicalMask returns the per-limb bit mask for the given canonical
// width: 248-bit masks the top 8 bits of limb 3 in addition to the
// standard field mask; 252-bit masks the top 4 bits of limb 3.
func canonicalMask(bits int) (FieldHash, error) {
	switch bits {
	case 248:
		return FieldHash{limbMask, limbMask, limbMask, limbMask & (uint64(1)<<56 - 1)}, nil
	case 252:
		return FieldHash{limbMask, limbMask, limbMask, limbMask & (uint64(1)<<60 - 1)}, nil
	default:
		return FieldHash{}, fmt.Errorf("hashtypes: unsupported canonical width %d (want 248 or 252)", bits)
	}
}

// ToCanonicalBytes produces the canonical little-endian byte encoding of f
// at the requested bit width (248 or 252), masking the top bits of the
// highest limb so the result is safe to burn into a Bitcoin script or an
// on-chain commitment without risking a non-canonical field element.
func (f FieldHash) ToCanonicalBytes(bits int) (Hash256, error) {
	mask, err := canonicalMask(bits)
	if err != nil {
		return Hash256{}, err
	}
	canon := FieldHash{
		f[0] & mask[0],
		f[1] & mask[1],
		f[2] & mask[2],
		f[3] & mask[3],
	}
	return canon.ToHash256(), nil
}

// String renders the field-hash as four hex limbs, most significant first.
func (f FieldHash) String() string {
	return fmt.Sprintf("%016x%016x%016x%016x", f[3], f[2], f[1], f[0])
}

// Equal reports whether two field-hashes are identical.
func (f FieldHash) Equal(o FieldHash) bool {
	return f == o
}

// Bytes returns the wire-form byte slice (copy) of h.
func (h Hash256) Bytes() []byte {
	out := make([]byte, 32)
	copy(out, h[:])
	return out
}

// FromBytes builds a Hash256 from a 32-byte slice, erroring on any other
// length.
func FromBytes(b []byte) (Hash256, error) {
	var h Hash256
	if len(b) != 32 {
		return h, fmt.Errorf("hashtypes: want 32 bytes, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}
