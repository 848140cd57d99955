// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/warden-foundation/warden/lib/clock"
)

// ErrInvalidDelegation is returned when a delegated grant would be
// broader than its parent, or the parent is not active. This is a
// caller error, rejected synchronously and never downgraded to a
// deny-at-check-time.
var ErrInvalidDelegation = errors.New("capability: invalid delegation")

// AgentState is the slice of the external agent record this package
// consumes: whether the agent may hold usable tokens right now.
type AgentState int

const (
	AgentRunning AgentState = iota
	AgentPaused
	AgentPending
	AgentCompleted
	AgentFailed
)

// usable reports whether an agent in this state may pass checks.
func (s AgentState) usable() bool {
	return s == AgentRunning || s == AgentPaused
}

// AgentStateFunc reports an agent's lifecycle state. Supplied by the
// lifecycle collaborator; when nil, every agent is treated as running.
type AgentStateFunc func(agentID string) AgentState

// ManagerConfig holds the parameters for creating a Manager.
type ManagerConfig struct {
	// Evaluator renders final verdicts. Required.
	Evaluator Evaluator

	// Clock provides the current time for expiry and rate windows.
	// Defaults to clock.Real().
	Clock clock.Clock

	// AgentState reports agent lifecycle states. Optional.
	AgentState AgentStateFunc

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger
}

// Manager issues, delegates, and revokes tokens, and answers checks.
// It owns the Store and the per-token rate tracker; the verdict itself
// comes from the injected Evaluator so that policy stays pure.
type Manager struct {
	store      *Store
	evaluator  Evaluator
	clock      clock.Clock
	agentState AgentStateFunc
	rates      *rateTracker
	logger     *slog.Logger
}

// NewManager creates a Manager with an empty token store.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("capability: Evaluator is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		store:      NewStore(),
		evaluator:  cfg.Evaluator,
		clock:      clk,
		agentState: cfg.AgentState,
		rates:      newRateTracker(),
		logger:     logger,
	}, nil
}

// Store exposes the token store for read-side collaborators (the CLI's
// token listing). Mutation goes through the Manager.
func (m *Manager) Store() *Store { return m.store }

// Grant issues a root token — a grant with no parent, reserved for the
// controlling process. Agents receive capabilities via Delegate.
func (m *Manager) Grant(agentID, resource string, actions []Action, constraints Constraints) (TokenID, error) {
	return m.issue("", agentID, resource, actions, constraints, time.Time{})
}

// GrantExpiring is Grant with an expiry deadline.
func (m *Manager) GrantExpiring(agentID, resource string, actions []Action, constraints Constraints, expiresAt time.Time) (TokenID, error) {
	return m.issue("", agentID, resource, actions, constraints, expiresAt)
}

// Delegate issues a child token narrower than its parent. Fails with
// ErrInvalidDelegation if the parent is missing, not active, or the
// requested permission is not a subset of the parent's.
func (m *Manager) Delegate(parentID TokenID, agentID, resource string, actions []Action, constraints Constraints) (TokenID, error) {
	return m.issue(parentID, agentID, resource, actions, constraints, time.Time{})
}

// DelegateExpiring is Delegate with an expiry deadline. The child's
// expiry may not outlive a parent that expires.
func (m *Manager) DelegateExpiring(parentID TokenID, agentID, resource string, actions []Action, constraints Constraints, expiresAt time.Time) (TokenID, error) {
	return m.issue(parentID, agentID, resource, actions, constraints, expiresAt)
}

func (m *Manager) issue(parentID TokenID, agentID, resource string, actions []Action, constraints Constraints, expiresAt time.Time) (TokenID, error) {
	if agentID == "" {
		return "", fmt.Errorf("capability: agent ID is required")
	}
	if len(actions) == 0 {
		return "", fmt.Errorf("capability: at least one action is required")
	}
	if _, _, ok := splitResource(resource); !ok {
		return "", fmt.Errorf("%w: resource %q is not scheme://path", ErrMalformedCapability, resource)
	}

	now := m.clock.Now()

	if parentID != "" {
		parent, ok := m.store.Get(parentID, now)
		if !ok {
			return "", fmt.Errorf("%w: parent token %s not found", ErrInvalidDelegation, parentID)
		}
		if parent.State != StateActive {
			return "", fmt.Errorf("%w: parent token %s is %s", ErrInvalidDelegation, parentID, parent.State)
		}
		if !actionsSubset(actions, parent.Actions) {
			return "", fmt.Errorf("%w: actions not a subset of parent's", ErrInvalidDelegation)
		}
		if !constraints.NarrowerThan(parent.Constraints) {
			return "", fmt.Errorf("%w: constraints wider than parent's", ErrInvalidDelegation)
		}
		if !PatternWithin(resource, parent.Resource) {
			return "", fmt.Errorf("%w: resource %q not within parent pattern %q", ErrInvalidDelegation, resource, parent.Resource)
		}
		if !parent.ExpiresAt.IsZero() && (expiresAt.IsZero() || expiresAt.After(parent.ExpiresAt)) {
			return "", fmt.Errorf("%w: child expiry outlives parent", ErrInvalidDelegation)
		}
	}

	id, err := newTokenID(agentID, resource, now)
	if err != nil {
		return "", err
	}

	token := Token{
		ID:          id,
		AgentID:     agentID,
		Resource:    resource,
		Actions:     append([]Action(nil), actions...),
		Constraints: constraints,
		ParentID:    parentID,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
		State:       StateActive,
	}
	m.store.insert(token)

	m.logger.Info("capability granted",
		"token", id,
		"agent", agentID,
		"resource", resource,
		"parent", string(parentID),
	)
	return id, nil
}

// CompactLoop runs Store.Compact on the given interval until ctx is
// cancelled. Long-lived hosts run it in its own goroutine so revoked
// and expired lineages do not accumulate in the arena.
func (m *Manager) CompactLoop(ctx context.Context, interval time.Duration) {
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if reclaimed := m.store.Compact(now); reclaimed > 0 {
				m.logger.Info("token store compacted", "reclaimed", reclaimed)
			}
		}
	}
}

// Revoke marks the token and all descendants revoked. Idempotent:
// revoking an already-revoked or unknown token is a no-op. Returns the
// IDs that transitioned, for audit.
func (m *Manager) Revoke(id TokenID) []TokenID {
	revoked := m.store.Revoke(id)
	if len(revoked) > 0 {
		m.logger.Info("capability revoked", "token", id, "cascade", len(revoked))
	}
	return revoked
}

// RevokeAgent revokes every token rooted at the agent, cascading into
// delegations held by sub-agents. Called by the lifecycle collaborator
// when an agent terminates.
func (m *Manager) RevokeAgent(agentID string) []TokenID {
	revoked := m.store.RevokeAgent(agentID)
	if len(revoked) > 0 {
		m.logger.Info("agent capabilities revoked", "agent", agentID, "count", len(revoked))
	}
	return revoked
}

// Check answers whether the agent may perform the request. It filters
// the agent's tokens to active, unexpired candidates matching the
// resource and action kind, then delegates the verdict to the policy
// evaluator. On allow, the winning token's rate counter records the
// call.
func (m *Manager) Check(req Request) Decision {
	now := m.clock.Now()
	return m.checkAt(req, now, true)
}

// CheckAt is Check with an explicit time and without recording the
// call against the winner's rate window. Deterministic test surface,
// and the evaluation half of the two-step flow callers use when the
// decision must be made durable before the budget is spent.
func (m *Manager) CheckAt(req Request, now time.Time) Decision {
	return m.checkAt(req, now, false)
}

// RecordCall counts one call against the token's rate window. The
// second half of the CheckAt flow: call it once the allow decision is
// durable, so a failed audit append never consumes the budget.
func (m *Manager) RecordCall(id TokenID) {
	if id == "" {
		return
	}
	m.rates.record(id, m.clock.Now())
}

func (m *Manager) checkAt(req Request, now time.Time, recordRate bool) Decision {
	if m.agentState != nil && !m.agentState(req.AgentID).usable() {
		return Decision{Allow: false, Reason: ReasonAgentInactive}
	}

	candidates := m.candidates(req, now)

	if req.RecentCalls == nil {
		req.RecentCalls = make(map[TokenID]int, len(candidates))
		for i := range candidates {
			req.RecentCalls[candidates[i].ID] = m.rates.count(candidates[i].ID, now)
		}
	}

	decision := m.evaluator.Evaluate(candidates, req, now)

	if decision.Allow && recordRate {
		m.rates.record(decision.TokenID, now)
	}

	// Sharpen the reason when the only tokens that would have matched
	// are expired: callers and the audit trail distinguish "never had
	// access" from "access lapsed".
	if !decision.Allow && decision.Reason == ReasonNoCapability && m.hasExpiredMatch(req, now) {
		decision.Reason = ReasonExpiredToken
	}
	if !decision.Allow {
		m.logger.Warn("capability check denied",
			"agent", req.AgentID,
			"resource", req.Resource,
			"action", string(req.Action),
			"reason", decision.Reason.String(),
		)
	}
	return decision
}

// hasExpiredMatch reports whether the agent holds an expired token
// that would have matched the request.
func (m *Manager) hasExpiredMatch(req Request, now time.Time) bool {
	for _, token := range m.store.ByAgent(req.AgentID, now) {
		if token.State != StateExpired {
			continue
		}
		if token.Allows(req.Action) && MatchResource(token.Resource, req.Resource) {
			return true
		}
	}
	return false
}

// candidates collects matching tokens sorted by the tie-break order:
// most specific pattern first, newest issuance first on equal
// specificity. The evaluator picks the first candidate that survives
// its constraint checks.
func (m *Manager) candidates(req Request, now time.Time) []Token {
	tokens := m.store.ActiveByAgent(req.AgentID, now)

	var matched []Token
	for _, token := range tokens {
		if !token.Allows(req.Action) {
			continue
		}
		if !MatchResource(token.Resource, req.Resource) {
			continue
		}
		matched = append(matched, token)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		si, sj := Specificity(matched[i].Resource), Specificity(matched[j].Resource)
		if si != sj {
			return si < sj
		}
		return matched[i].IssuedAt.After(matched[j].IssuedAt)
	})
	return matched
}
