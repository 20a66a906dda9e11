package hashtypes

import "testing"

func TestHash256FieldHashRoundTripTotal(t *testing.T) {
	f := FieldHash{1, 2, 3, 4}
	h := f.ToHash256()
	back := h.ToFieldHash()
	if back != f {
		t.Fatalf("round trip = %+v, want %+v", back, f)
	}
}

func TestFromBytesRejectsWrongLength(t *testing.T) {
	if _, err := FromBytes(make([]byte, 31)); err == nil {
		t.Fatal("expected error for 31-byte input")
	}
	if _, err := FromBytes(make([]byte, 33)); err == nil {
		t.Fatal("expected error for 33-byte input")
	}
}

func TestBytesFromBytesRoundTrip(t *testing.T) {
	var h Hash256
	for i := range h {
		h[i] = byte(i)
	}
	back, err := FromBytes(h.Bytes())
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if back != h {
		t.Fatalf("round trip = %+v, want %+v", back, h)
	}
}

func TestToCanonicalBytesMasksTopBits(t *testing.T) {
	f := FieldHash{^uint64(0), ^uint64(0), ^uint64(0), ^uint64(0)}

	b248, err := f.ToCanonicalBytes(248)
	if err != nil {
		t.Fatalf("ToCanonicalBytes(248): %v", err)
	}
	// Limb 3 occupies bytes 24..32 little-endian; 248-bit canonical form
	// must zero its top byte.
	if b248[31] != 0 {
		t.Fatalf("248-bit canonical top byte = %#x, want 0", b248[31])
	}

	b252, err := f.ToCanonicalBytes(252)
	if err != nil {
		t.Fatalf("ToCanonicalBytes(252): %v", err)
	}
	if b252[31]&0xF0 != 0 {
		t.Fatalf("252-bit canonical top nibble = %#x, want 0", b252[31]&0xF0)
	}
}

func TestToCanonicalBytesRejectsUnsupportedWidth(t *testing.T) {
	f := FieldHash{1, 2, 3, 4}
	if _, err := f.ToCanonicalBytes(256); err == nil {
		t.Fatal("expected error for an unsupported canonical width")
	}
}

func TestEqual(t *testing.T) {
	a := FieldHash{1, 2, 3, 4}
	b := FieldHash{1, 2, 3, 4}
	c := FieldHash{1, 2, 3, 5}
	if !a.Equal(b) {
		t.Fatal("identical field hashes should be Equal")
	}
	if a.Equal(c) {
		t.Fatal("distinct field hashes should not be Equal")
	}
}

func TestPoseidonHasherTwoToOneDeterministicAndOrderSensitive(t *testing.T) {
	h := NewPoseidonHasher()
	a := FieldHash{1, 0, 0, 0}
	b := FieldHash{2, 0, 0, 0}

	r1 := h.TwoToOne(a, b)
	r2 := h.TwoToOne(a, b)
	if r1 != r2 {
		t.Fatal("TwoToOne must be deterministic for identical inputs")
	}

	r3 := h.TwoToOne(b, a)
	if r1 == r3 {
		t.Fatal("TwoToOne must be sensitive to argument order")
	}
}

func TestPoseidonHasherHashNoPadDeterministic(t *testing.T) {
	h := NewPoseidonHasher()
	inputs := []FieldHash{{1, 0, 0, 0}, {2, 0, 0, 0}, {3, 0, 0, 0}}

	r1 := h.HashNoPad(inputs...)
	r2 := h.HashNoPad(inputs...)
	if r1 != r2 {
		t.Fatal("HashNoPad must be deterministic for identical inputs")
	}

	other := h.HashNoPad(FieldHash{9, 0, 0, 0})
	if r1 == other {
		t.Fatal("different inputs should not collide in practice")
	}
}
