// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox executes authorized agent actions inside isolated,
// resource-bounded environments built on bubblewrap (bwrap) Linux
// namespaces.
//
// The central types are [Spec], the declarative description of one
// isolation context, and [Executor], the bounded worker pool that runs
// commands under a Spec. Specs come from named presets — YAML-driven
// configurations declaring filesystem mounts, network rules, resource
// limits, and environment — resolved by [Loader] with single
// inheritance via the Inherit field. Capability token constraints
// tighten a resolved Spec ([Spec.Tighten]); they can never loosen one.
//
// Filesystem isolation is the primary boundary. Every mount is
// declared explicitly in the spec; there is no implicit host
// filesystem visibility. Network isolation is all-or-nothing at the
// namespace level: a spec with no allow rule runs with the network
// namespace unshared, and the ordered rule list ([Spec.AllowsHost]) is
// exposed for the egress layer to enforce per-host policy when the
// namespace is shared.
//
// Resource limits are enforced via systemd transient scopes
// ([SystemdScope]), setting cgroup v2 properties for task count,
// memory, and CPU quota. The scope wraps the bwrap command, so limits
// apply to the entire sandbox process tree. Wall time is enforced by
// the Executor itself: when the deadline passes, the whole process
// group is killed and the outcome is reported TimedOut. Caller
// cancellation triggers the same teardown with outcome Cancelled.
//
// [Probe] checks the host for the required primitives (bwrap,
// unprivileged user namespaces, systemd-run). When they are missing,
// Execute fails with [ErrUnavailable]; the failure is fatal for the
// action, never an excuse to run unisolated.
package sandbox
