// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"testing"
	"time"
)

func storeToken(t *testing.T, s *Store, agentID, resource string, parentID TokenID, expiresAt time.Time) TokenID {
	t.Helper()
	issuedAt := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	id, err := newTokenID(agentID, resource, issuedAt)
	if err != nil {
		t.Fatalf("newTokenID: %v", err)
	}
	s.insert(Token{
		ID:        id,
		AgentID:   agentID,
		Resource:  resource,
		Actions:   []Action{ActionRead},
		ParentID:  parentID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
		State:     StateActive,
	})
	return id
}

func TestStoreCascadingRevoke(t *testing.T) {
	s := NewStore()
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	root := storeToken(t, s, "orchestrator", "file:///tmp/**", "", time.Time{})
	child := storeToken(t, s, "worker-1", "file:///tmp/data/**", root, time.Time{})
	grandchild := storeToken(t, s, "worker-2", "file:///tmp/data/sub/**", child, time.Time{})
	unrelated := storeToken(t, s, "worker-3", "http://api/**", "", time.Time{})

	revoked := s.Revoke(root)
	if len(revoked) != 3 {
		t.Fatalf("Revoke cascaded to %d tokens, want 3: %v", len(revoked), revoked)
	}

	for _, id := range []TokenID{root, child, grandchild} {
		token, ok := s.Get(id, now)
		if !ok {
			t.Fatalf("token %s missing after revoke", id)
		}
		if token.State != StateRevoked {
			t.Errorf("token %s state = %s, want revoked", id, token.State)
		}
	}

	token, _ := s.Get(unrelated, now)
	if token.State != StateActive {
		t.Errorf("unrelated token state = %s, want active", token.State)
	}
}

func TestStoreRevokeIdempotent(t *testing.T) {
	s := NewStore()
	id := storeToken(t, s, "worker-1", "file:///tmp/**", "", time.Time{})

	if revoked := s.Revoke(id); len(revoked) != 1 {
		t.Fatalf("first Revoke = %d tokens, want 1", len(revoked))
	}
	if revoked := s.Revoke(id); revoked != nil {
		t.Errorf("second Revoke = %v, want nil", revoked)
	}
	if revoked := s.Revoke("no-such-token"); revoked != nil {
		t.Errorf("Revoke(unknown) = %v, want nil", revoked)
	}
}

func TestStoreRevokeAgent(t *testing.T) {
	s := NewStore()
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	parent := storeToken(t, s, "worker-1", "file:///tmp/**", "", time.Time{})
	// Delegated onward to a sub-agent: revoking worker-1 must reach it.
	sub := storeToken(t, s, "worker-2", "file:///tmp/data/**", parent, time.Time{})

	revoked := s.RevokeAgent("worker-1")
	if len(revoked) != 2 {
		t.Fatalf("RevokeAgent = %d tokens, want 2", len(revoked))
	}
	token, _ := s.Get(sub, now)
	if token.State != StateRevoked {
		t.Errorf("sub-agent token state = %s, want revoked", token.State)
	}
}

func TestStoreLazyExpiry(t *testing.T) {
	s := NewStore()
	expiry := time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC)
	id := storeToken(t, s, "worker-1", "file:///tmp/**", "", expiry)

	token, _ := s.Get(id, expiry.Add(-time.Minute))
	if token.State != StateActive {
		t.Fatalf("state before expiry = %s, want active", token.State)
	}

	token, _ = s.Get(id, expiry)
	if token.State != StateExpired {
		t.Fatalf("state at expiry = %s, want expired", token.State)
	}

	if got := s.ActiveByAgent("worker-1", expiry); len(got) != 0 {
		t.Errorf("ActiveByAgent after expiry = %d tokens, want 0", len(got))
	}
	all := s.ByAgent("worker-1", expiry)
	if len(all) != 1 || all[0].State != StateExpired {
		t.Errorf("ByAgent after expiry = %+v, want one expired token", all)
	}
}

func TestStoreCompact(t *testing.T) {
	s := NewStore()
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	// A revoked ancestor of an active token must survive compaction so
	// the lineage stays traversable; fully dead subtrees are reclaimed.
	keptRoot := storeToken(t, s, "orchestrator", "file:///tmp/**", "", time.Time{})
	keptChild := storeToken(t, s, "worker-1", "file:///tmp/data/**", keptRoot, time.Time{})
	deadRoot := storeToken(t, s, "worker-2", "http://api/**", "", time.Time{})

	s.Revoke(deadRoot)

	reclaimed := s.Compact(now)
	if reclaimed != 1 {
		t.Fatalf("Compact reclaimed %d, want 1", reclaimed)
	}
	if s.Len() != 2 {
		t.Fatalf("Len after compact = %d, want 2", s.Len())
	}
	if _, ok := s.Get(deadRoot, now); ok {
		t.Error("revoked root survived compaction")
	}

	// The surviving lineage must still cascade.
	if revoked := s.Revoke(keptRoot); len(revoked) != 2 {
		t.Errorf("cascade after compact = %d tokens, want 2", len(revoked))
	}
	token, _ := s.Get(keptChild, now)
	if token.State != StateRevoked {
		t.Errorf("child state after post-compact cascade = %s, want revoked", token.State)
	}
}
