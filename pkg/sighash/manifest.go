// Copyright 2025 Certen Protocol
package sighash

import (
	"encoding/hex"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/QEDProtocol/city-rollup-sub003/pkg/hashtypes"
	"github.com/QEDProtocol/city-rollup-sub003/pkg/jobid"
)

// manifestEntry is the on-disk shape of one whitelist entry: hex-encoded
// fingerprint plus the gadget shape it corresponds to.
type manifestEntry struct {
	NumDeposits    uint8  `yaml:"num_deposits"`
	NumWithdrawals uint8  `yaml:"num_withdrawals"`
	Permutation    uint8  `yaml:"permutation"`
	Fingerprint    string `yaml:"fingerprint"` // hex, 32 bytes
}

// manifest is the on-disk shape of a whitelist deployment manifest,
// loaded the way the teacher's go.mod-level yaml.v3 dependency is used
// for small config-shaped artifacts.
type manifest struct {
	RefundFingerprint string          `yaml:"refund_fingerprint"`
	Entries           []manifestEntry `yaml:"entries"`
}

// LoadManifest parses a per-deployment whitelist manifest and builds the
// corresponding Tree.
func LoadManifest(hasher hashtypes.Hasher, r io.Reader) (*Tree, error) {
	var m manifest
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("sighash: decode manifest: %w", err)
	}

	refund, err := decodeFingerprint(m.RefundFingerprint)
	if err != nil {
		return nil, fmt.Errorf("sighash: refund fingerprint: %w", err)
	}

	entries := make([]Entry, 0, len(m.Entries))
	for i, me := range m.Entries {
		fp, err := decodeFingerprint(me.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("sighash: entry %d fingerprint: %w", i, err)
		}
		entries = append(entries, Entry{
			Gadget: jobid.SigHashGadgetID{
				NumDeposits:    me.NumDeposits,
				NumWithdrawals: me.NumWithdrawals,
				Permutation:    me.Permutation,
			},
			Fingerprint: fp,
		})
	}

	return Build(hasher, refund, entries)
}

func decodeFingerprint(s string) (hashtypes.FieldHash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return hashtypes.FieldHash{}, err
	}
	h256, err := hashtypes.FromBytes(b)
	if err != nil {
		return hashtypes.FieldHash{}, err
	}
	return h256.ToFieldHash(), nil
}
