// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package guard is the single surface the tool layer calls. It chains
// the capability check, the audit append, and the sandboxed execution
// into one operation, [Guard.AuthorizeAndExecute], with two standing
// promises:
//
//   - Nothing executes unaudited. The decision record is durably
//     appended before the sandbox starts; if the append fails, the
//     action fails closed (audit_unavailable) without executing.
//   - At most one decision record and one outcome record exist per
//     request, correlated by a UUID.
//
// Grant, Delegate, and Revoke wrap the capability manager's
// operations with matching audit records. Recover runs at startup and
// records a cancelled outcome for any execution the previous process
// left in flight.
package guard
