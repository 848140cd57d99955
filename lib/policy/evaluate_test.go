// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"strings"
	"testing"
	"time"

	"github.com/warden-foundation/warden/lib/capability"
)

var evalNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func execToken(id string, constraints capability.Constraints) capability.Token {
	return capability.Token{
		ID:          capability.TokenID(id),
		AgentID:     "worker-1",
		Resource:    "shell://**",
		Actions:     []capability.Action{capability.ActionExecute},
		Constraints: constraints,
		IssuedAt:    evalNow,
		State:       capability.StateActive,
	}
}

func TestEvaluateDenyOverridesAllow(t *testing.T) {
	e := NewEvaluator(DefaultRules())

	// Even a universal execute token cannot authorize a dangerous
	// command, and an allowlist naming the program does not help.
	candidates := []capability.Token{
		execToken("t1", capability.Constraints{Allowlist: []string{"rm"}}),
	}
	req := capability.Request{
		AgentID:  "worker-1",
		Resource: "shell://host",
		Action:   capability.ActionExecute,
		Command:  "rm -rf /",
	}

	decision := e.Evaluate(candidates, req, evalNow)
	if decision.Allow {
		t.Fatal("dangerous command allowed")
	}
	if decision.Reason != capability.ReasonDangerousAction {
		t.Errorf("reason = %s, want dangerous_action", decision.Reason)
	}
	if decision.Detail == "" {
		t.Error("dangerous_action decision carries no detail")
	}
}

func TestEvaluateStaticDenyRule(t *testing.T) {
	e := NewEvaluator(DefaultRules())

	candidates := []capability.Token{{
		ID:       "t1",
		AgentID:  "worker-1",
		Resource: "file://**",
		Actions:  []capability.Action{capability.ActionRead},
		IssuedAt: evalNow,
		State:    capability.StateActive,
	}}
	req := capability.Request{
		AgentID:  "worker-1",
		Resource: "file:///etc/shadow",
		Action:   capability.ActionRead,
	}

	decision := e.Evaluate(candidates, req, evalNow)
	if decision.Allow {
		t.Fatal("static deny rule overridden by token")
	}
	if decision.Reason != capability.ReasonDangerousAction {
		t.Errorf("reason = %s, want dangerous_action", decision.Reason)
	}
	if !strings.Contains(decision.Detail, "deny-shadow-files") {
		t.Errorf("detail = %q, want rule name", decision.Detail)
	}
}

func TestEvaluateAllowVerdictStillNeedsToken(t *testing.T) {
	rules, err := ParseRules([]byte(`
rules:
  - name: allow-localhost
    scheme: http
    match: "http://localhost/**"
    verdict: allow
`))
	if err != nil {
		t.Fatal(err)
	}
	e := NewEvaluator(rules)

	req := capability.Request{
		AgentID:  "worker-1",
		Resource: "http://localhost/v1/status",
		Action:   capability.ActionRequest,
	}

	// No candidates: allow verdict does not conjure access.
	decision := e.Evaluate(nil, req, evalNow)
	if decision.Allow || decision.Reason != capability.ReasonNoCapability {
		t.Fatalf("no-candidate decision = %+v, want no_matching_capability deny", decision)
	}

	// With a candidate, the allow verdict skips constraint checks: a
	// rate-exhausted token still passes.
	exhausted := capability.Token{
		ID:          "t1",
		AgentID:     "worker-1",
		Resource:    "http://localhost/**",
		Actions:     []capability.Action{capability.ActionRequest},
		Constraints: capability.Constraints{RatePerMinute: 1},
		IssuedAt:    evalNow,
		State:       capability.StateActive,
	}
	req.RecentCalls = map[capability.TokenID]int{"t1": 5}
	decision = e.Evaluate([]capability.Token{exhausted}, req, evalNow)
	if !decision.Allow {
		t.Errorf("allow-verdict decision = %+v, want allow", decision)
	}
}

func TestEvaluateConstraints(t *testing.T) {
	e := NewEvaluator(DefaultRules())

	tests := []struct {
		name       string
		token      capability.Token
		req        capability.Request
		wantAllow  bool
		wantReason capability.DenyReason
	}{
		{
			name:  "timeout within cap",
			token: execToken("t1", capability.Constraints{TimeoutSeconds: 30}),
			req: capability.Request{
				Resource: "shell://host", Action: capability.ActionExecute,
				Command: "ls", TimeoutSeconds: 10,
			},
			wantAllow: true,
		},
		{
			name:  "timeout over cap",
			token: execToken("t1", capability.Constraints{TimeoutSeconds: 30}),
			req: capability.Request{
				Resource: "shell://host", Action: capability.ActionExecute,
				Command: "ls", TimeoutSeconds: 60,
			},
			wantReason: capability.ReasonNoCapability,
		},
		{
			name:  "rate exhausted",
			token: execToken("t1", capability.Constraints{RatePerMinute: 2}),
			req: capability.Request{
				Resource: "shell://host", Action: capability.ActionExecute,
				Command:     "ls",
				RecentCalls: map[capability.TokenID]int{"t1": 2},
			},
			wantReason: capability.ReasonRateLimited,
		},
		{
			name:  "allowlisted program",
			token: execToken("t1", capability.Constraints{Allowlist: []string{"ls", "cat"}}),
			req: capability.Request{
				Resource: "shell://host", Action: capability.ActionExecute,
				Command: "/bin/ls -la",
			},
			wantAllow: true,
		},
		{
			name:  "program not allowlisted",
			token: execToken("t1", capability.Constraints{Allowlist: []string{"ls", "cat"}}),
			req: capability.Request{
				Resource: "shell://host", Action: capability.ActionExecute,
				Command: "python3 exploit.py",
			},
			wantReason: capability.ReasonNotAllowlisted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.AgentID = "worker-1"
			decision := e.Evaluate([]capability.Token{tt.token}, tt.req, evalNow)
			if decision.Allow != tt.wantAllow {
				t.Fatalf("allow = %v, want %v (reason %s, detail %q)",
					decision.Allow, tt.wantAllow, decision.Reason, decision.Detail)
			}
			if !tt.wantAllow && decision.Reason != tt.wantReason {
				t.Errorf("reason = %s, want %s", decision.Reason, tt.wantReason)
			}
		})
	}
}

func TestEvaluateFirstSurvivingCandidateWins(t *testing.T) {
	e := NewEvaluator(DefaultRules())

	// The first candidate is rate-exhausted; the second passes. The
	// decision carries the second's ID.
	exhausted := execToken("narrow", capability.Constraints{RatePerMinute: 1})
	open := execToken("broad", capability.Constraints{})
	req := capability.Request{
		AgentID:     "worker-1",
		Resource:    "shell://host",
		Action:      capability.ActionExecute,
		Command:     "ls",
		RecentCalls: map[capability.TokenID]int{"narrow": 1},
	}

	decision := e.Evaluate([]capability.Token{exhausted, open}, req, evalNow)
	if !decision.Allow {
		t.Fatalf("decision = %+v, want allow", decision)
	}
	if decision.TokenID != "broad" {
		t.Errorf("winning token = %s, want broad", decision.TokenID)
	}

	// When every candidate fails, the first (most specific) failure
	// is reported.
	decision = e.Evaluate([]capability.Token{exhausted}, req, evalNow)
	if decision.Allow || decision.Reason != capability.ReasonRateLimited {
		t.Errorf("decision = %+v, want rate_limited deny", decision)
	}
}

func TestEvaluateZeroValue(t *testing.T) {
	// The zero value uses the built-in rules.
	var e Evaluator
	req := capability.Request{
		AgentID:  "worker-1",
		Resource: "file:///etc/shadow",
		Action:   capability.ActionRead,
	}
	decision := e.Evaluate(nil, req, evalNow)
	if decision.Allow || decision.Reason != capability.ReasonDangerousAction {
		t.Errorf("zero-value decision = %+v, want dangerous_action deny", decision)
	}
}
