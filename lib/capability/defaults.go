// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import "fmt"

// TrustLevel names a built-in default capability set for newly
// registered agents.
type TrustLevel string

const (
	// TrustMinimal grants nothing; the agent acts only through
	// explicit delegations.
	TrustMinimal TrustLevel = "minimal"

	// TrustBasic grants read-only file access and HTTP requests.
	TrustBasic TrustLevel = "basic"

	// TrustStandard adds file writes and shell execution.
	TrustStandard TrustLevel = "standard"

	// TrustFull adds sub-agent spawning on top of standard.
	TrustFull TrustLevel = "full"
)

// defaultCapabilityLiterals maps each trust level to its grant set.
var defaultCapabilityLiterals = map[TrustLevel][]string{
	TrustMinimal: {},
	TrustBasic: {
		"file://**?action=read",
		"http://**?action=request",
	},
	TrustStandard: {
		"file://**?action=read,write",
		"http://**?action=request",
		"shell://**?action=execute",
	},
	TrustFull: {
		"file://**?action=read,write",
		"http://**?action=request",
		"shell://**?action=execute",
		"agent://**?action=spawn",
	},
}

// DefaultCapabilities returns the grant templates for the trust level:
// tokens carrying only resource, actions, and constraints, ready to
// pass to Grant. Unknown levels are an error, never a silent fallback.
func DefaultCapabilities(level TrustLevel) ([]Token, error) {
	literals, ok := defaultCapabilityLiterals[level]
	if !ok {
		return nil, fmt.Errorf("capability: unknown trust level %q", level)
	}
	tokens := make([]Token, 0, len(literals))
	for _, literal := range literals {
		token, err := ParseLiteral(literal)
		if err != nil {
			return nil, fmt.Errorf("capability: built-in default %q: %w", literal, err)
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// GrantDefaults issues the trust level's default capability set to the
// agent and returns the granted token IDs, in set order. TrustMinimal
// grants nothing and returns an empty slice.
func (m *Manager) GrantDefaults(agentID string, level TrustLevel) ([]TokenID, error) {
	templates, err := DefaultCapabilities(level)
	if err != nil {
		return nil, err
	}
	ids := make([]TokenID, 0, len(templates))
	for _, template := range templates {
		id, err := m.Grant(agentID, template.Resource, template.Actions, template.Constraints)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
