// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy implements Warden's policy evaluator: the pure
// decision function that turns a set of candidate capability tokens
// and a requested action into an allow/deny verdict.
//
// Evaluation order is fixed:
//
//  1. Built-in danger rules — substring patterns over the literal
//     command plus resource rules for raw device access. A match denies
//     with dangerous_action regardless of what any token grants; no
//     capability can override this class.
//  2. Configured policy rules — static, immutable after load, matched
//     by resource scheme and pattern. A deny rule also belongs to the
//     non-overridable class (deny-overrides-allow).
//  3. Candidate presence — an empty candidate set (the capability
//     manager filters by ownership, liveness, pattern, and action kind)
//     denies with no_matching_capability.
//  4. Constraint checks per candidate, in the manager's tie-break
//     order: declared timeout within the token's cap, rate window not
//     exhausted, command allowlisted. The first surviving candidate
//     wins; if none survives, the deny reason comes from the most
//     specific candidate's failure.
//
// The evaluator is stateless and deterministic: identical inputs —
// including the explicit evaluation time and the supplied recent-call
// counters — always produce identical verdicts.
package policy
