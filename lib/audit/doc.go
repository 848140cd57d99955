// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit provides the append-only security audit trail.
//
// Every authorization decision and every execution outcome becomes a
// [Record] in a SQLite-backed [Store]. Appends are durable before
// Append returns (WAL journal with synchronous=FULL), which is what
// lets the guard promise that no action runs unaudited: if the append
// fails, the action fails closed. Sequence numbers are allocated by
// SQLite inside an immediate transaction, so they increase
// monotonically under concurrent writers.
//
// A decision record and its execution outcome are two rows correlated
// by a request ID. Query supports restartable cursors via AfterSeq;
// DenialStats aggregates denials per agent over a window for the
// reporting layer; Export streams the whole log as zstd-compressed
// JSONL for offline analysis.
package audit
