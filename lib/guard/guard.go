// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/warden-foundation/warden/lib/audit"
	"github.com/warden-foundation/warden/lib/capability"
	"github.com/warden-foundation/warden/lib/clock"
	"github.com/warden-foundation/warden/sandbox"
)

// DefaultPreset is the sandbox preset used when a request names none.
const DefaultPreset = "standard"

// Runner executes one sandboxed action. Implemented by
// sandbox.Executor; an interface here so tests substitute execution.
type Runner interface {
	Execute(ctx context.Context, action sandbox.Action, spec *sandbox.Spec) (sandbox.Outcome, error)
}

// Config holds the collaborators a Guard needs. Manager, Audit,
// Runner, and Presets are required.
type Config struct {
	// Manager owns tokens and answers checks.
	Manager *capability.Manager

	// Audit is the durable trail. Every decision and outcome lands
	// here before the caller hears about it.
	Audit *audit.Store

	// Runner executes allowed actions, normally a sandbox.Executor.
	Runner Runner

	// Presets resolves sandbox spec names.
	Presets *sandbox.Loader

	// Clock provides time. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger
}

// Guard is the security façade. Safe for concurrent use.
type Guard struct {
	manager *capability.Manager
	audit   *audit.Store
	runner  Runner
	presets *sandbox.Loader
	clock   clock.Clock
	logger  *slog.Logger
}

// New creates a Guard.
func New(cfg Config) (*Guard, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("guard: Manager is required")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("guard: Audit is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("guard: Runner is required")
	}
	if cfg.Presets == nil {
		return nil, fmt.Errorf("guard: Presets is required")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Guard{
		manager: cfg.Manager,
		audit:   cfg.Audit,
		runner:  cfg.Runner,
		presets: cfg.Presets,
		clock:   clk,
		logger:  logger,
	}, nil
}

// ActionRequest describes one action an agent wants performed.
type ActionRequest struct {
	// AgentID is the requesting agent.
	AgentID string

	// Action is the operation kind.
	Action capability.Action

	// Resource is the concrete target URI.
	Resource string

	// Command is the argv for execute actions; ignored otherwise.
	Command []string

	// Workdir is the host directory execute actions see as their
	// workspace.
	Workdir string

	// TimeoutSeconds is the wall time the caller declares it needs.
	// Zero accepts the preset/token default.
	TimeoutSeconds int

	// Preset names the sandbox preset. Empty means DefaultPreset.
	Preset string

	// Stdin feeds the sandboxed process for execute actions.
	Stdin io.Reader
}

// Result is the outcome of AuthorizeAndExecute.
type Result struct {
	// RequestID correlates this call's audit records.
	RequestID string

	// Allowed is the authorization verdict.
	Allowed bool

	// Decision carries the deny reason and winning token.
	Decision capability.Decision

	// Outcome is set for allowed execute actions.
	Outcome *sandbox.Outcome
}

// AuthorizeAndExecute checks the request, audits the decision, and —
// for allowed execute actions — runs the command sandboxed under the
// stricter of the preset and the winning token's constraints, then
// audits the outcome. Denials return a Result with Allowed false and
// a nil error: being denied is an answer, not a failure. Errors mean
// the operation itself could not proceed (audit unavailable, preset
// unknown, sandbox missing).
func (g *Guard) AuthorizeAndExecute(ctx context.Context, req ActionRequest) (Result, error) {
	result := Result{RequestID: uuid.NewString()}

	// Evaluate without spending the winner's rate budget; the call is
	// recorded only once the decision record is durable below.
	decision := g.manager.CheckAt(capability.Request{
		AgentID:        req.AgentID,
		Resource:       req.Resource,
		Action:         req.Action,
		Command:        strings.Join(req.Command, " "),
		TimeoutSeconds: req.TimeoutSeconds,
	}, g.clock.Now())
	result.Decision = decision

	record := &audit.Record{
		Kind:      audit.KindDecision,
		RequestID: result.RequestID,
		AgentID:   req.AgentID,
		TokenID:   string(decision.TokenID),
		Action:    string(req.Action),
		Resource:  req.Resource,
		Allowed:   decision.Allow,
		Reason:    denyReason(decision),
		Detail:    decision.Detail,
		Severity:  decisionSeverity(decision),
	}
	if _, err := g.audit.Append(ctx, record); err != nil {
		// Fail closed: an unrecordable action does not run, and an
		// unrecordable denial is still a denial.
		g.logger.Error("audit append failed, failing closed",
			"request", result.RequestID,
			"agent", req.AgentID,
			"error", err,
		)
		result.Allowed = false
		result.Decision = capability.Decision{
			Allow:  false,
			Reason: capability.ReasonAuditUnavailable,
		}
		return result, fmt.Errorf("guard: audit unavailable: %w", err)
	}

	if !decision.Allow {
		return result, nil
	}
	result.Allowed = true
	g.manager.RecordCall(decision.TokenID)

	// Non-execute actions are authorization-only: the tool layer
	// performs the read/write itself against the now-audited verdict.
	if req.Action != capability.ActionExecute {
		return result, nil
	}

	spec, err := g.effectiveSpec(req, decision.TokenID)
	if err != nil {
		return result, err
	}

	outcome, err := g.runner.Execute(ctx, sandbox.Action{
		RequestID: result.RequestID,
		AgentID:   req.AgentID,
		Command:   req.Command,
		Workdir:   req.Workdir,
		Stdin:     req.Stdin,
	}, spec)
	if err != nil {
		// The execution never produced a result; record that so the
		// request does not dangle as in-flight forever.
		g.appendOutcome(ctx, result.RequestID, req.AgentID, &audit.ExecutionOutcome{
			Status:   sandbox.StatusCancelled.String(),
			ExitCode: -1,
		})
		return result, err
	}
	result.Outcome = &outcome

	g.appendOutcome(ctx, result.RequestID, req.AgentID, &audit.ExecutionOutcome{
		Status:     outcome.Status.String(),
		ExitCode:   outcome.ExitCode,
		DurationMS: outcome.Duration.Milliseconds(),
		MaxRSSKiB:  outcome.MaxRSSKiB,
		Truncated:  outcome.Truncated,
	})
	return result, nil
}

// effectiveSpec resolves the preset and tightens it with the winning
// token's constraints and the caller's declared timeout. Constraints
// only ever narrow the preset.
func (g *Guard) effectiveSpec(req ActionRequest, tokenID capability.TokenID) (*sandbox.Spec, error) {
	name := req.Preset
	if name == "" {
		name = DefaultPreset
	}
	spec, err := g.presets.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("guard: %w", err)
	}

	if token, ok := g.manager.Store().Get(tokenID, g.clock.Now()); ok {
		spec = spec.Tighten(token.Constraints.TimeoutSeconds, token.Constraints.MaxChildren)
	}
	if req.TimeoutSeconds > 0 {
		spec = spec.Tighten(req.TimeoutSeconds, 0)
	}
	return spec, nil
}

// appendOutcome records an execution result. The execution already
// happened, so a failure here is logged loudly but cannot be failed
// closed; the recovery pass will not double-report because the
// decision record exists.
func (g *Guard) appendOutcome(ctx context.Context, requestID, agentID string, outcome *audit.ExecutionOutcome) {
	_, err := g.audit.Append(ctx, &audit.Record{
		Kind:      audit.KindOutcome,
		RequestID: requestID,
		AgentID:   agentID,
		Severity:  audit.SeverityInfo,
		Outcome:   outcome,
	})
	if err != nil {
		g.logger.Error("audit outcome append failed",
			"request", requestID,
			"agent", agentID,
			"error", err,
		)
	}
}

// Grant issues a root capability and audits it.
func (g *Guard) Grant(ctx context.Context, agentID, resource string, actions []capability.Action, constraints capability.Constraints) (capability.TokenID, error) {
	id, err := g.manager.Grant(agentID, resource, actions, constraints)
	if err != nil {
		return "", err
	}
	g.auditLifecycle(ctx, audit.KindGrant, agentID, string(id), resource)
	return id, nil
}

// Delegate issues a narrowed child capability and audits it.
func (g *Guard) Delegate(ctx context.Context, parentID capability.TokenID, agentID, resource string, actions []capability.Action, constraints capability.Constraints) (capability.TokenID, error) {
	id, err := g.manager.Delegate(parentID, agentID, resource, actions, constraints)
	if err != nil {
		return "", err
	}
	g.auditLifecycle(ctx, audit.KindGrant, agentID, string(id), resource)
	return id, nil
}

// Revoke cascades a revocation and audits each revoked token once.
// Idempotent: re-revoking writes no duplicate records.
func (g *Guard) Revoke(ctx context.Context, id capability.TokenID) int {
	revoked := g.manager.Revoke(id)
	for _, tokenID := range revoked {
		g.auditLifecycle(ctx, audit.KindRevoke, "", string(tokenID), "")
	}
	return len(revoked)
}

// RevokeAgent revokes everything the agent holds, auditing each token.
func (g *Guard) RevokeAgent(ctx context.Context, agentID string) int {
	revoked := g.manager.RevokeAgent(agentID)
	for _, tokenID := range revoked {
		g.auditLifecycle(ctx, audit.KindRevoke, agentID, string(tokenID), "")
	}
	return len(revoked)
}

func (g *Guard) auditLifecycle(ctx context.Context, kind audit.Kind, agentID, tokenID, resource string) {
	_, err := g.audit.Append(ctx, &audit.Record{
		Kind:     kind,
		AgentID:  agentID,
		TokenID:  tokenID,
		Resource: resource,
		Severity: audit.SeverityInfo,
	})
	if err != nil {
		g.logger.Error("audit lifecycle append failed",
			"kind", string(kind),
			"token", tokenID,
			"error", err,
		)
	}
}

// Audit exposes the trail for the reporting layer.
func (g *Guard) Audit(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	return g.audit.Query(ctx, filter)
}

// DenialStats aggregates deny and critical counts per agent since the
// given time. Callers use it to flag agents that keep hitting denials.
func (g *Guard) DenialStats(ctx context.Context, since time.Time) ([]audit.DenialStat, error) {
	return g.audit.DenialStats(ctx, since)
}

// Recover closes out executions a previous process left in flight,
// recording a cancelled outcome for each. Call once at startup before
// accepting requests. Returns the number of requests closed.
func (g *Guard) Recover(ctx context.Context) (int, error) {
	stale, err := g.audit.UnresolvedRequests(ctx)
	if err != nil {
		return 0, fmt.Errorf("guard: recover: %w", err)
	}
	for _, record := range stale {
		g.appendOutcome(ctx, record.RequestID, record.AgentID, &audit.ExecutionOutcome{
			Status:   sandbox.StatusCancelled.String(),
			ExitCode: -1,
		})
	}
	if len(stale) > 0 {
		g.logger.Warn("recovered in-flight executions from previous run", "count", len(stale))
	}
	return len(stale), nil
}

// denyReason renders the decision's reason for the audit record,
// empty for allows.
func denyReason(decision capability.Decision) string {
	if decision.Allow {
		return ""
	}
	return decision.Reason.String()
}

// decisionSeverity grades a decision: danger-rule hits are critical,
// other denials warnings, allows informational.
func decisionSeverity(decision capability.Decision) audit.Severity {
	switch {
	case decision.Allow:
		return audit.SeverityInfo
	case decision.Reason == capability.ReasonDangerousAction:
		return audit.SeverityCritical
	default:
		return audit.SeverityWarning
	}
}
