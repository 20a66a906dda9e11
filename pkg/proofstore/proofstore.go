// Copyright 2025 Certen Protocol
//
// Proof store (C4): a content-addressed blob store keyed by JobID, plus
// monotonic per-ID counters used to gate aggregator completion
// (spec §4.4). Reimagined over pkg/kvstore rather than the teacher's
// Postgres-backed pkg/database.ProofArtifactRepository, since spec.md
// requires no SQL store here; the counter increment is a
// read-modify-write serialized by a sync.Mutex.
package proofstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/jobid"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/kvstore"
)

// ErrProofConflict is returned when a caller tries to write different
// bytes to a JobID that already has bytes stored. Re-writing identical
// bytes is a no-op (spec §4.4); a mismatch is a fatal programming error.
var ErrProofConflict = errors.New("proofstore: conflicting write to an already-populated job id")

const (
	tableProofBytes   = 10
	tableProofCounter = 11
	tableWaiters      = 12
)

func bytesKey(id jobid.JobID) []byte {
	b := id.Bytes()
	k := make([]byte, 2+jobid.Size)
	binary.BigEndian.PutUint16(k[0:2], tableProofBytes)
	copy(k[2:], b[:])
	return k
}

func counterKey(id jobid.JobID) []byte {
	b := id.Bytes()
	k := make([]byte, 2+jobid.Size)
	binary.BigEndian.PutUint16(k[0:2], tableProofCounter)
	copy(k[2:], b[:])
	return k
}

func waitersKey(depID jobid.JobID) []byte {
	b := depID.Bytes()
	k := make([]byte, 2+jobid.Size)
	binary.BigEndian.PutUint16(k[0:2], tableWaiters)
	copy(k[2:], b[:])
	return k
}

// Store is the content-addressed proof store.
type Store struct {
	kv kvstore.KV
	// counterMu serializes the read-modify-write of a single counter.
	// Per spec §4.4 this must be atomic w.r.t. concurrent workers; a
	// mutex per store (not per counter) is sufficient because the
	// counter keyspace is small and increments are brief.
	counterMu sync.Mutex
}

// NewStore constructs a proof store over the given KV.
func NewStore(kv kvstore.KV) *Store {
	return &Store{kv: kv}
}

// GetBytes returns the raw bytes stored at id, or nil if absent.
func (s *Store) GetBytes(id jobid.JobID) ([]byte, error) {
	return s.kv.Get(bytesKey(id))
}

// HasBytes reports whether id already has bytes stored — the check the
// worker loop uses to detect redelivery (spec §4.8 step 2).
func (s *Store) HasBytes(id jobid.JobID) (bool, error) {
	v, err := s.kv.Get(bytesKey(id))
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// SetBytes writes data at id. Re-writing identical bytes is a no-op;
// writing different bytes to an already-populated id is rejected
// (spec §4.4, DESIGN.md's resolution of the divergent-backend Open
// Question).
func (s *Store) SetBytes(id jobid.JobID, data []byte) error {
	existing, err := s.kv.Get(bytesKey(id))
	if err != nil {
		return err
	}
	if existing != nil {
		if bytes.Equal(existing, data) {
			return nil
		}
		return fmt.Errorf("%w: job %s", ErrProofConflict, id.Hex())
	}
	return s.kv.Put(bytesKey(id), data)
}

// IncCounter atomically increments id's counter and returns the new
// value. Used to implement completion gating: an aggregator with k
// children is enqueued only once its counter reaches k (spec §4.4,
// §4.8 step 6).
func (s *Store) IncCounter(id jobid.JobID) (uint32, error) {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	key := counterKey(id)
	v, err := s.kv.Get(key)
	if err != nil {
		return 0, err
	}
	var cur uint32
	if v != nil {
		cur = binary.BigEndian.Uint32(v)
	}
	cur++
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, cur)
	if err := s.kv.Put(key, buf); err != nil {
		return 0, err
	}
	return cur, nil
}

// GetCounter returns the current counter value for id (0 if unset).
func (s *Store) GetCounter(id jobid.JobID) (uint32, error) {
	v, err := s.kv.Get(counterKey(id))
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	return binary.BigEndian.Uint32(v), nil
}

// waitersMu serializes the read-modify-write of a single waiters list.
// A package-level mutex is sufficient for the same reason counterMu is:
// the keyspace of concurrently-written dependency edges at any instant
// is small and each append is brief.
var waitersMu sync.Mutex

// AddWaiter records that parentID depends on depID's output. Job IDs
// name their aggregation-tree parent purely (GetTreeParentAggregatorInputID,
// NextSubGroupPreserveIndex, NextSubGroupCollapsed), but two edges the
// planner creates cannot be rediscovered by a pure function of depID
// alone: the bucket-root output jumping into the composition tree's
// GroupID domain, and the composition root fanning out to every
// sighash_final_gl node for the block. AddWaiter is the explicit record
// of those edges (and, harmlessly, of every other edge too, so the
// worker has one lookup path regardless of edge shape).
func (s *Store) AddWaiter(depID, parentID jobid.JobID) error {
	waitersMu.Lock()
	defer waitersMu.Unlock()

	key := waitersKey(depID)
	existing, err := s.kv.Get(key)
	if err != nil {
		return err
	}
	var waiters []jobid.JobID
	if existing != nil {
		if err := json.Unmarshal(existing, &waiters); err != nil {
			return fmt.Errorf("proofstore: decode waiters for %s: %w", depID.Hex(), err)
		}
	}
	waiters = append(waiters, parentID)
	data, err := json.Marshal(waiters)
	if err != nil {
		return err
	}
	return s.kv.Put(key, data)
}

// GetWaiters returns the job IDs that depend on depID's output, or nil
// if none are recorded.
func (s *Store) GetWaiters(depID jobid.JobID) ([]jobid.JobID, error) {
	v, err := s.kv.Get(waitersKey(depID))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	var waiters []jobid.JobID
	if err := json.Unmarshal(v, &waiters); err != nil {
		return nil, fmt.Errorf("proofstore: decode waiters for %s: %w", depID.Hex(), err)
	}
	return waiters, nil
}
