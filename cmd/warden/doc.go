// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// warden enforces capability checks and runs agent commands inside
// bubblewrap sandboxes, with every decision written to a durable
// audit trail.
package main
