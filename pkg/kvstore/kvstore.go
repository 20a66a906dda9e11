// Copyright 2025 Certen Protocol
//
// Binary key-value store (C1): ordered byte-key/byte-value persistence
// with range scans and a "fuzzy range-leq" scan used by the versioned
// Merkle store to find the most recent version of a node at or before a
// given checkpoint.
package kvstore

import (
	"bytes"

	dbm "github.com/cometbft/cometbft-db"
)

// Direction controls range-scan iteration order.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

// KV is the ordered key-value contract the rest of the system depends on.
// Durability is implementation-defined; callers only require read-your-writes
// within a single process (per spec §4.1).
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error

	// RangeScan returns up to limit (key, value) pairs with lo <= key < hi
	// (hi may be nil for "no upper bound"), in the given direction. A
	// limit <= 0 means unbounded.
	RangeScan(lo, hi []byte, limit int, dir Direction) ([]KVPair, error)

	// SeekLE returns the greatest key sharing key[:prefixLen] whose suffix
	// is <= key[prefixLen:], along with its value, or ok=false if no such
	// key exists. This is the "fuzzy range-leq" scan of spec §4.1, used to
	// find "the most recent version <= N" of a versioned record by seeking
	// to (prefix, N) and stepping backward.
	SeekLE(key []byte, prefixLen int) (KVPair, bool, error)

	// Close releases any underlying resources.
	Close() error
}

// KVPair is a single key/value result from a range scan.
type KVPair struct {
	Key   []byte
	Value []byte
}

// Store is a KV backed by a cometbft-db handle. The teacher's
// pkg/kvdb.KVAdapter wraps the same dbm.DB interface for its ledger; this
// generalizes that adapter with range-scan and seek-leq support so it can
// serve as the backing store for the versioned Merkle tree.
type Store struct {
	db dbm.DB
}

// NewMemStore returns a Store backed by an in-memory cometbft-db instance,
// suitable for tests and for the orchestrator's transient working state.
func NewMemStore() *Store {
	return &Store{db: dbm.NewMemDB()}
}

// NewStore wraps an existing cometbft-db handle (e.g. a GoLevelDB instance
// opened against the configured data directory).
func NewStore(db dbm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(key []byte) ([]byte, error) {
	return s.db.Get(key)
}

func (s *Store) Put(key, value []byte) error {
	return s.db.SetSync(key, value)
}

func (s *Store) Delete(key []byte) error {
	return s.db.DeleteSync(key)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RangeScan(lo, hi []byte, limit int, dir Direction) ([]KVPair, error) {
	var it dbm.Iterator
	var err error
	if dir == Forward {
		it, err = s.db.Iterator(lo, hi)
	} else {
		it, err = s.db.ReverseIterator(lo, hi)
	}
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []KVPair
	for ; it.Valid(); it.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		k := make([]byte, len(it.Key()))
		copy(k, it.Key())
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		out = append(out, KVPair{Key: k, Value: v})
	}
	return out, it.Error()
}

// SeekLE implements KV.SeekLE by reverse-iterating the half-open range
// [prefix, upperBound) where upperBound is key with its suffix incremented
// past key[prefixLen:], landing on the greatest key <= the target suffix
// that still shares the prefix.
func (s *Store) SeekLE(key []byte, prefixLen int) (KVPair, bool, error) {
	if prefixLen < 0 || prefixLen > len(key) {
		return KVPair{}, false, nil
	}
	prefix := key[:prefixLen]

	// Upper bound: the smallest key strictly greater than the target,
	// i.e. key with a single extra 0x00 byte appended (cometbft-db ranges
	// are [start, end), so appending a byte moves past any key with this
	// exact suffix while staying below any longer suffix).
	upper := append(append([]byte{}, key...), 0x00)

	it, err := s.db.ReverseIterator(prefix, upper)
	if err != nil {
		return KVPair{}, false, err
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		k := it.Key()
		if !bytes.HasPrefix(k, prefix) {
			continue
		}
		if bytes.Compare(k, key) > 0 {
			continue
		}
		out := KVPair{Key: append([]byte{}, k...), Value: append([]byte{}, it.Value()...)}
		return out, true, it.Error()
	}
	return KVPair{}, false, it.Error()
}

// Prune is a documented no-op hook for historical pruning (see
// SPEC_FULL.md's supplemented-features section): the original kvq trait
// surface exposes a pruning operation, but no spec.md behavior requires
// it, so it is stubbed rather than silently omitted.
func (s *Store) Prune(beforeCheckpoint uint64) error {
	return nil
}
