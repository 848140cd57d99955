// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/warden-foundation/warden/lib/capability"
)

// Evaluator is the stateless verdict function. It implements
// capability.Evaluator. The zero value uses the built-in rules; use
// NewEvaluator to load additional ones.
type Evaluator struct {
	rules []Rule
}

// NewEvaluator creates an evaluator over the given static rules. Pass
// DefaultRules() for the built-in set; rule files merge by simple
// concatenation, first match wins.
func NewEvaluator(rules []Rule) *Evaluator {
	return &Evaluator{rules: rules}
}

// Evaluate renders the verdict for the request over candidates the
// capability manager has already filtered and tie-break-ordered.
// Deterministic: the only time read is the supplied now, and rate
// state arrives pre-counted in req.RecentCalls.
func (e *Evaluator) Evaluate(candidates []capability.Token, req capability.Request, now time.Time) capability.Decision {
	// Step 1: danger rules. Not overridable by any token.
	if rule, hit := CheckCommand(req.Command); hit {
		return capability.Decision{
			Reason: capability.ReasonDangerousAction,
			Detail: rule.Description,
		}
	}
	if rule, hit := CheckResource(req.Resource, req.Action); hit {
		return capability.Decision{
			Reason: capability.ReasonDangerousAction,
			Detail: rule.Description,
		}
	}

	// Step 2: static rules. Deny overrides everything; allow skips
	// constraint checks but still requires a candidate token.
	verdict := VerdictRequireConstraints
	ruleName := ""
	for _, rule := range e.rulesOrDefault() {
		if rule.matches(req.Resource) {
			verdict = rule.Verdict
			ruleName = rule.Name
			break
		}
	}
	if verdict == VerdictDeny {
		return capability.Decision{
			Reason: capability.ReasonDangerousAction,
			Detail: "policy rule " + ruleName,
		}
	}

	// Step 3: no capability, no access.
	if len(candidates) == 0 {
		return capability.Decision{Reason: capability.ReasonNoCapability}
	}

	if verdict == VerdictAllow {
		return capability.Decision{Allow: true, TokenID: candidates[0].ID}
	}

	// Step 4: constraint checks, first surviving candidate wins. The
	// deny reason, when nothing survives, is the most specific
	// candidate's failure — the manager ordered them.
	var firstFailure capability.Decision
	for i := range candidates {
		failure, ok := checkConstraints(&candidates[i], req)
		if ok {
			return capability.Decision{Allow: true, TokenID: candidates[i].ID}
		}
		if firstFailure.Reason == capability.ReasonNone {
			firstFailure = failure
		}
	}
	return firstFailure
}

// rulesOrDefault returns the configured rule set, falling back to the
// built-in defaults for a zero-value Evaluator.
func (e *Evaluator) rulesOrDefault() []Rule {
	if e == nil || e.rules == nil {
		return DefaultRules()
	}
	return e.rules
}

// checkConstraints evaluates one candidate's constraints against the
// request. Returns ok=true if every relevant constraint passes,
// otherwise the deny decision that would apply.
func checkConstraints(token *capability.Token, req capability.Request) (capability.Decision, bool) {
	c := token.Constraints

	if c.TimeoutSeconds > 0 && req.TimeoutSeconds > c.TimeoutSeconds {
		return capability.Decision{
			Reason: capability.ReasonNoCapability,
			Detail: fmt.Sprintf("declared timeout %ds exceeds token cap %ds", req.TimeoutSeconds, c.TimeoutSeconds),
		}, false
	}

	if c.RatePerMinute > 0 && req.RecentCalls[token.ID] >= c.RatePerMinute {
		return capability.Decision{
			Reason: capability.ReasonRateLimited,
			Detail: fmt.Sprintf("token rate %d/min exhausted", c.RatePerMinute),
		}, false
	}

	if len(c.Allowlist) > 0 && req.Action == capability.ActionExecute {
		program := commandProgram(req.Command)
		allowed := false
		for _, entry := range c.Allowlist {
			if entry == program {
				allowed = true
				break
			}
		}
		if !allowed {
			return capability.Decision{
				Reason: capability.ReasonNotAllowlisted,
				Detail: fmt.Sprintf("command %q not in token allowlist", program),
			}, false
		}
	}

	return capability.Decision{}, true
}

// commandProgram extracts the program word — the first whitespace
// field — from a command line, stripping any path prefix so an
// allowlist of program names covers "/bin/ls" and "ls" alike.
func commandProgram(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	program := fields[0]
	if i := strings.LastIndexByte(program, '/'); i >= 0 {
		program = program[i+1:]
	}
	return program
}
