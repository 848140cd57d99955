// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"fmt"
	"time"
)

// Kind classifies what a record describes.
type Kind string

const (
	// KindDecision is an authorization verdict, allow or deny.
	KindDecision Kind = "decision"

	// KindOutcome is the execution result correlated with an allowed
	// decision by RequestID.
	KindOutcome Kind = "outcome"

	// KindGrant records a capability issuance.
	KindGrant Kind = "grant"

	// KindRevoke records a capability revocation (one record per
	// revoked token, cascades included).
	KindRevoke Kind = "revoke"
)

// Severity grades a record for alerting and stats.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning

	// SeverityCritical marks denials that suggest hostile behavior
	// (danger-rule hits), as opposed to ordinary permission misses.
	SeverityCritical
)

// String returns "info", "warning", or "critical".
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity is the inverse of Severity.String.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "info":
		return SeverityInfo, nil
	case "warning":
		return SeverityWarning, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityInfo, fmt.Errorf("audit: unknown severity %q (want info, warning, or critical)", s)
	}
}

// ExecutionOutcome is the result payload of a KindOutcome record,
// stored as a CBOR blob.
type ExecutionOutcome struct {
	// Status is the sandbox status name: completed, timed_out,
	// cancelled.
	Status string `cbor:"1,keyasint" json:"status"`

	ExitCode   int   `cbor:"2,keyasint" json:"exit_code"`
	DurationMS int64 `cbor:"3,keyasint" json:"duration_ms"`
	MaxRSSKiB  int64 `cbor:"4,keyasint,omitempty" json:"max_rss_kib,omitempty"`
	Truncated  bool  `cbor:"5,keyasint,omitempty" json:"truncated,omitempty"`
}

// Record is one audit trail entry. Seq is assigned by the store;
// callers leave it zero. Timestamp is filled from the store's clock
// when zero.
type Record struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`

	// RequestID correlates a decision with its outcome. Empty for
	// grant/revoke records.
	RequestID string `json:"request_id,omitempty"`

	AgentID  string `json:"agent_id"`
	TokenID  string `json:"token_id,omitempty"`
	Action   string `json:"action,omitempty"`
	Resource string `json:"resource,omitempty"`

	// Allowed is meaningful for decision records.
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Detail  string `json:"detail,omitempty"`

	Severity Severity `json:"severity"`

	// Outcome is set on KindOutcome records only.
	Outcome *ExecutionOutcome `json:"outcome,omitempty"`
}
