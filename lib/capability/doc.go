// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability implements Warden's capability token model: the
// token store, delegation, cascading revocation, and the authorization
// check surface consumed by the guard façade.
//
// A capability token grants one agent a set of actions (read, write,
// execute, request, spawn) on a resource pattern, optionally bounded
// by constraints (timeout, rate, subprocess count, command allowlist).
// Tokens are unforgeable within the process: the Store is the sole
// owner and mutator, and callers hold opaque IDs. Delegation creates a
// child token that is never broader than its parent — actions must be
// a subset, numeric constraints no larger, string-set constraints a
// subset, and the resource pattern contained within the parent's.
// Revoking a token revokes its entire subtree, atomically with respect
// to concurrent checks.
//
// # Resource patterns
//
// Resources are URI-like strings, "scheme://path/segments". Patterns
// use glob segments: "*" matches one segment, "**" matches any number
// of trailing segments, "?" matches a single non-slash character.
//
//	file:///tmp/data/*      one file directly under /tmp/data
//	file:///tmp/data/**     anything under /tmp/data
//	shell://**              any shell target
//	http://api.example.com/**
//
// # Evaluation
//
// Manager.Check collects the agent's active, non-expired tokens whose
// pattern matches the requested resource and whose action set contains
// the requested action, then delegates the final verdict to an
// Evaluator (lib/policy). Expiry is lazy: an expired token is treated
// as absent at evaluation time, with no state transition or background
// sweep required. Deny always overrides allow — the evaluator's danger
// rules cannot be overridden by any token.
package capability
