// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warden-foundation/warden/lib/capability"
)

// tokenFile is the YAML document shape for token files. Each entry
// grants one capability; entries naming a `from` grant delegate from
// it instead, so a file can describe a whole delegation chain.
type tokenFile struct {
	Grants []tokenGrant `yaml:"grants"`
}

type tokenGrant struct {
	// Name lets later grants in the file delegate from this one.
	Name string `yaml:"name,omitempty"`

	// Agent receives the capability.
	Agent string `yaml:"agent"`

	// Capability is the literal: scheme://path?action=...&constraint=...
	Capability string `yaml:"capability"`

	// From names an earlier grant to delegate from. Empty grants a
	// root capability.
	From string `yaml:"from,omitempty"`

	// ExpiresAt is an optional RFC3339 deadline.
	ExpiresAt string `yaml:"expires_at,omitempty"`
}

// loadTokenFile grants every entry in the file into the manager, in
// file order so delegations can reference earlier grants. Returns the
// named grants' token IDs.
func loadTokenFile(path string, manager *capability.Manager) (map[string]capability.TokenID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	var file tokenFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing token file %s: %w", path, err)
	}
	if len(file.Grants) == 0 {
		return nil, fmt.Errorf("token file %s grants nothing", path)
	}

	named := make(map[string]capability.TokenID)
	for i, grant := range file.Grants {
		if grant.Agent == "" {
			return nil, fmt.Errorf("token file %s: grant %d has no agent", path, i)
		}

		token, err := capability.ParseLiteral(grant.Capability)
		if err != nil {
			return nil, fmt.Errorf("token file %s: grant %d: %w", path, i, err)
		}

		var expiresAt time.Time
		if grant.ExpiresAt != "" {
			expiresAt, err = time.Parse(time.RFC3339, grant.ExpiresAt)
			if err != nil {
				return nil, fmt.Errorf("token file %s: grant %d expires_at: %w", path, i, err)
			}
		}

		var id capability.TokenID
		switch {
		case grant.From != "" && !expiresAt.IsZero():
			parent, ok := named[grant.From]
			if !ok {
				return nil, fmt.Errorf("token file %s: grant %d delegates from unknown grant %q", path, i, grant.From)
			}
			id, err = manager.DelegateExpiring(parent, grant.Agent, token.Resource, token.Actions, token.Constraints, expiresAt)
		case grant.From != "":
			parent, ok := named[grant.From]
			if !ok {
				return nil, fmt.Errorf("token file %s: grant %d delegates from unknown grant %q", path, i, grant.From)
			}
			id, err = manager.Delegate(parent, grant.Agent, token.Resource, token.Actions, token.Constraints)
		case !expiresAt.IsZero():
			id, err = manager.GrantExpiring(grant.Agent, token.Resource, token.Actions, token.Constraints, expiresAt)
		default:
			id, err = manager.Grant(grant.Agent, token.Resource, token.Actions, token.Constraints)
		}
		if err != nil {
			return nil, fmt.Errorf("token file %s: grant %d: %w", path, i, err)
		}

		if grant.Name != "" {
			named[grant.Name] = id
		}
	}
	return named, nil
}
