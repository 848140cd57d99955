// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code
// injects Real(); tests inject Fake() and advance time explicitly.
//
// Warden's authorization verdicts must be deterministic functions of
// their inputs, including the current time (token expiry, rate-limit
// windows). Components therefore never call time.Now directly: they
// hold a Clock, and pure evaluation functions additionally expose
// ...At variants taking an explicit time.Time.
package clock
