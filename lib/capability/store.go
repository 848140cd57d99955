// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"sync"
	"time"
)

// Store owns all capability tokens. Tokens live in an arena indexed by
// ID, each arena slot recording its parent slot, with child lists kept
// alongside so cascading revocation is a downward traversal instead of
// a full scan.
//
// Concurrency: grants and revocations take the write lock; checks take
// the read lock and see a consistent snapshot. Once Revoke returns, no
// check anywhere can observe the revoked lineage as active — this is
// the linearizability guarantee the capability model rests on. A single
// store-wide lock is deliberate: grant/revoke traffic is rare relative
// to checks, and checks share the read lock.
type Store struct {
	mu       sync.RWMutex
	arena    []Token
	index    map[TokenID]int
	children map[int][]int
	byAgent  map[string][]int
}

// NewStore creates an empty token store.
func NewStore() *Store {
	return &Store{
		index:    make(map[TokenID]int),
		children: make(map[int][]int),
		byAgent:  make(map[string][]int),
	}
}

// insert adds a token to the arena. The caller (Manager) has already
// validated delegation narrowing and assigned the ID.
func (s *Store) insert(token Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := len(s.arena)
	s.arena = append(s.arena, token)
	s.index[token.ID] = slot
	s.byAgent[token.AgentID] = append(s.byAgent[token.AgentID], slot)

	if token.ParentID != "" {
		if parentSlot, ok := s.index[token.ParentID]; ok {
			s.children[parentSlot] = append(s.children[parentSlot], slot)
		}
	}
}

// Get returns a copy of the token, with expiry reported lazily: an
// active token past its deadline comes back StateExpired without a
// stored state transition.
func (s *Store) Get(id TokenID, now time.Time) (Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.index[id]
	if !ok {
		return Token{}, false
	}
	token := s.arena[slot]
	if token.State == StateActive && token.ExpiredAt(now) {
		token.State = StateExpired
	}
	return token, true
}

// ActiveByAgent returns copies of the agent's tokens that are active
// and not expired at the given time, in issuance order.
func (s *Store) ActiveByAgent(agentID string, now time.Time) []Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tokens []Token
	for _, slot := range s.byAgent[agentID] {
		token := s.arena[slot]
		if token.State != StateActive || token.ExpiredAt(now) {
			continue
		}
		tokens = append(tokens, token)
	}
	return tokens
}

// ByAgent returns copies of all the agent's tokens regardless of
// state, with expiry reported lazily, in issuance order.
func (s *Store) ByAgent(agentID string, now time.Time) []Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tokens []Token
	for _, slot := range s.byAgent[agentID] {
		token := s.arena[slot]
		if token.State == StateActive && token.ExpiredAt(now) {
			token.State = StateExpired
		}
		tokens = append(tokens, token)
	}
	return tokens
}

// Revoke marks the token and every descendant revoked. Returns the IDs
// newly transitioned to revoked, in traversal order; revoking an
// unknown or already-revoked token returns nil (idempotent, not an
// error).
func (s *Store) Revoke(id TokenID) []TokenID {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.index[id]
	if !ok || s.arena[slot].State == StateRevoked {
		return nil
	}
	return s.revokeSubtreeLocked(slot)
}

// RevokeAgent revokes every token owned by the agent, cascading into
// descendants (which may belong to sub-agents the agent delegated to).
// Returns the newly revoked IDs.
func (s *Store) RevokeAgent(agentID string) []TokenID {
	s.mu.Lock()
	defer s.mu.Unlock()

	var revoked []TokenID
	for _, slot := range s.byAgent[agentID] {
		if s.arena[slot].State == StateRevoked {
			continue
		}
		revoked = append(revoked, s.revokeSubtreeLocked(slot)...)
	}
	return revoked
}

// revokeSubtreeLocked walks down from slot marking everything revoked.
// Caller holds the write lock.
func (s *Store) revokeSubtreeLocked(slot int) []TokenID {
	var revoked []TokenID
	stack := []int{slot}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if s.arena[current].State == StateRevoked {
			continue
		}
		s.arena[current].State = StateRevoked
		revoked = append(revoked, s.arena[current].ID)
		stack = append(stack, s.children[current]...)
	}
	return revoked
}

// Len returns the number of tokens in the arena, in any state.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.arena)
}

// Compact drops revoked and expired tokens that no active token
// references as an ancestor. This is a storage optimization, not a
// correctness requirement — expiry is already lazy and revocation
// already permanent. Returns the number of tokens reclaimed.
func (s *Store) Compact(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A slot is live if it or any descendant is active and unexpired.
	live := make([]bool, len(s.arena))
	var mark func(slot int) bool
	mark = func(slot int) bool {
		token := s.arena[slot]
		keep := token.State == StateActive && !token.ExpiredAt(now)
		for _, child := range s.children[slot] {
			if mark(child) {
				keep = true
			}
		}
		live[slot] = keep
		return keep
	}
	for slot := range s.arena {
		if s.arena[slot].ParentID == "" {
			mark(slot)
		}
	}

	// Rebuild the arena keeping live slots.
	oldArena := s.arena
	remap := make(map[int]int, len(oldArena))
	s.arena = s.arena[:0]
	for slot, token := range oldArena {
		if !live[slot] {
			continue
		}
		remap[slot] = len(s.arena)
		s.arena = append(s.arena, token)
	}

	s.index = make(map[TokenID]int, len(s.arena))
	newChildren := make(map[int][]int)
	newByAgent := make(map[string][]int)
	for newSlot, token := range s.arena {
		s.index[token.ID] = newSlot
		newByAgent[token.AgentID] = append(newByAgent[token.AgentID], newSlot)
	}
	for oldSlot, childSlots := range s.children {
		newSlot, ok := remap[oldSlot]
		if !ok {
			continue
		}
		for _, oldChild := range childSlots {
			if newChild, ok := remap[oldChild]; ok {
				newChildren[newSlot] = append(newChildren[newSlot], newChild)
			}
		}
	}
	s.children = newChildren
	s.byAgent = newByAgent

	return len(oldArena) - len(s.arena)
}
