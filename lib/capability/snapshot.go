// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"fmt"
	"io"

	"github.com/warden-foundation/warden/lib/codec"
)

const snapshotVersion = 1

type snapshotHeader struct {
	Version int `cbor:"1,keyasint"`
	Count   int `cbor:"2,keyasint"`
}

// Snapshot writes the store's tokens to w as a CBOR stream: a header
// followed by one item per token, in issuance order so every parent
// precedes its delegations. The deterministic encoding means two
// stores with the same history produce identical bytes.
func (s *Store) Snapshot(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	enc := codec.NewEncoder(w)
	if err := enc.Encode(snapshotHeader{Version: snapshotVersion, Count: len(s.arena)}); err != nil {
		return fmt.Errorf("capability: snapshot header: %w", err)
	}
	for i := range s.arena {
		if err := enc.Encode(s.arena[i]); err != nil {
			return fmt.Errorf("capability: snapshot token %d: %w", i, err)
		}
	}
	return nil
}

// RestoreSnapshot rebuilds a store from a stream written by Snapshot.
// Delegation links are reconstructed from the tokens' parent IDs.
func RestoreSnapshot(r io.Reader) (*Store, error) {
	dec := codec.NewDecoder(r)

	var header snapshotHeader
	if err := dec.Decode(&header); err != nil {
		return nil, fmt.Errorf("capability: snapshot header: %w", err)
	}
	if header.Version != snapshotVersion {
		return nil, fmt.Errorf("capability: unsupported snapshot version %d", header.Version)
	}

	store := NewStore()
	for i := 0; i < header.Count; i++ {
		var token Token
		if err := dec.Decode(&token); err != nil {
			return nil, fmt.Errorf("capability: snapshot token %d: %w", i, err)
		}
		store.insert(token)
	}
	return store, nil
}
