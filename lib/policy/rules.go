// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/warden-foundation/warden/lib/capability"
)

// Verdict is what a matching rule decides.
type Verdict string

const (
	// VerdictAllow trusts the scheme: a matching candidate token
	// authorizes the action without constraint checks.
	VerdictAllow Verdict = "allow"

	// VerdictDeny blocks the action regardless of tokens
	// (deny-overrides-allow).
	VerdictDeny Verdict = "deny"

	// VerdictRequireConstraints is the default: token constraints are
	// evaluated normally.
	VerdictRequireConstraints Verdict = "require-constraint-check"
)

// Rule is one static policy rule, immutable after load.
type Rule struct {
	// Name identifies the rule in audit detail strings.
	Name string `yaml:"name"`

	// Scheme restricts the rule to resources of one scheme
	// ("file", "shell", "http"). Empty matches every scheme.
	Scheme string `yaml:"scheme,omitempty"`

	// Match is a resource pattern (same glob grammar as capability
	// resource patterns). Empty matches every resource of the scheme.
	Match string `yaml:"match,omitempty"`

	// Verdict applies when the rule matches.
	Verdict Verdict `yaml:"verdict"`
}

// matches reports whether the rule covers the resource.
func (r Rule) matches(resource string) bool {
	scheme, _, ok := splitScheme(resource)
	if !ok {
		return false
	}
	if r.Scheme != "" && r.Scheme != scheme {
		return false
	}
	if r.Match == "" {
		return true
	}
	return capability.MatchResource(r.Match, resource)
}

func splitScheme(resource string) (scheme, rest string, ok bool) {
	for i := 0; i+2 < len(resource); i++ {
		if resource[i] == ':' && resource[i+1] == '/' && resource[i+2] == '/' {
			return resource[:i], resource[i+3:], i > 0
		}
	}
	return "", "", false
}

// rulesFile is the YAML document shape for rule files.
type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// defaultRulesYAML is the built-in rule set. Sensitive system state is
// denied outright; everything else defers to token constraints.
const defaultRulesYAML = `
rules:
  - name: deny-shadow-files
    scheme: file
    match: "file:///etc/shadow"
    verdict: deny
  - name: deny-ssh-keys
    scheme: file
    match: "file:///root/.ssh/**"
    verdict: deny
  - name: deny-cloud-metadata
    scheme: http
    match: "http://169.254.169.254/**"
    verdict: deny
  - name: constrain-shell
    scheme: shell
    verdict: require-constraint-check
`

// DefaultRules returns the built-in rule set.
func DefaultRules() []Rule {
	rules, err := ParseRules([]byte(defaultRulesYAML))
	if err != nil {
		panic("policy: built-in rules do not parse: " + err.Error())
	}
	return rules
}

// ParseRules parses a YAML rule document and validates every rule.
func ParseRules(data []byte) ([]Rule, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("policy: parsing rules: %w", err)
	}
	for i, rule := range file.Rules {
		if rule.Name == "" {
			return nil, fmt.Errorf("policy: rules[%d]: name is required", i)
		}
		switch rule.Verdict {
		case VerdictAllow, VerdictDeny, VerdictRequireConstraints:
		default:
			return nil, fmt.Errorf("policy: rule %q: invalid verdict %q", rule.Name, rule.Verdict)
		}
	}
	return file.Rules, nil
}

// LoadRules reads a YAML rule file from disk.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: reading rules file: %w", err)
	}
	return ParseRules(data)
}
