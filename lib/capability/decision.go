// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import "time"

// DenyReason classifies why a check was denied. The values mirror the
// audit vocabulary so a Decision can be recorded without translation.
type DenyReason int

const (
	// ReasonNone means the check was allowed.
	ReasonNone DenyReason = iota

	// ReasonNoCapability means no active token matched the resource
	// and action.
	ReasonNoCapability

	// ReasonDangerousAction means a built-in danger rule fired. No
	// token can override this.
	ReasonDangerousAction

	// ReasonRateLimited means the matching token's rate constraint
	// was exhausted.
	ReasonRateLimited

	// ReasonNotAllowlisted means the matching token carries an
	// allowlist that does not contain the requested command.
	ReasonNotAllowlisted

	// ReasonExpiredToken means the only matching tokens were expired.
	ReasonExpiredToken

	// ReasonAgentInactive means the agent's lifecycle state does not
	// permit new checks (not running or paused).
	ReasonAgentInactive

	// ReasonAuditUnavailable means the audit log could not durably
	// record the decision, so the action fails closed.
	ReasonAuditUnavailable
)

// String returns the audit-vocabulary name of the reason.
func (r DenyReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNoCapability:
		return "no_matching_capability"
	case ReasonDangerousAction:
		return "dangerous_action"
	case ReasonRateLimited:
		return "rate_limited"
	case ReasonNotAllowlisted:
		return "not_allowlisted"
	case ReasonExpiredToken:
		return "expired_token"
	case ReasonAgentInactive:
		return "agent_inactive"
	case ReasonAuditUnavailable:
		return "audit_unavailable"
	default:
		return "unknown"
	}
}

// Decision is the outcome of a capability check.
type Decision struct {
	// Allow is the verdict.
	Allow bool

	// Reason is meaningful only when Allow is false.
	Reason DenyReason

	// TokenID is the winning token when allowed.
	TokenID TokenID

	// Detail carries human-readable context for the audit trail
	// (which danger rule fired, which allowlist rejected the command).
	Detail string
}

// Request describes one action an agent wants authorized. The guard
// façade builds a Request from the tool layer's action descriptor.
type Request struct {
	// AgentID is the requesting agent.
	AgentID string

	// Resource is the concrete target URI ("file:///tmp/data/a.txt").
	Resource string

	// Action is the operation kind.
	Action Action

	// Command is the literal command or payload, used by danger and
	// allowlist checks. Empty for non-execute actions.
	Command string

	// TimeoutSeconds is the wall time the caller declares it needs.
	// Zero means the caller accepts the token/preset default.
	TimeoutSeconds int

	// RecentCalls maps candidate token IDs to the number of calls
	// each authorized within the rate window ending now. Supplied by
	// the caller so evaluation stays deterministic.
	RecentCalls map[TokenID]int
}

// Evaluator renders the final verdict over the candidate tokens the
// Manager has already filtered. Implemented by lib/policy; the
// interface lives here so the Manager does not import its evaluator.
type Evaluator interface {
	Evaluate(candidates []Token, req Request, now time.Time) Decision
}
