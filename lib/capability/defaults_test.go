// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"testing"
	"time"

	"github.com/warden-foundation/warden/lib/clock"
)

func TestDefaultCapabilities(t *testing.T) {
	tests := []struct {
		level  TrustLevel
		grants int
	}{
		{TrustMinimal, 0},
		{TrustBasic, 2},
		{TrustStandard, 3},
		{TrustFull, 4},
	}
	for _, test := range tests {
		t.Run(string(test.level), func(t *testing.T) {
			tokens, err := DefaultCapabilities(test.level)
			if err != nil {
				t.Fatalf("DefaultCapabilities(%s): %v", test.level, err)
			}
			if len(tokens) != test.grants {
				t.Errorf("got %d grants, want %d", len(tokens), test.grants)
			}
		})
	}

	if _, err := DefaultCapabilities("superuser"); err == nil {
		t.Error("unknown trust level did not error")
	}
}

func TestGrantDefaults(t *testing.T) {
	m := newTestManager(t, clock.Fake(time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)))

	ids, err := m.GrantDefaults("worker-1", TrustStandard)
	if err != nil {
		t.Fatalf("GrantDefaults: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("granted %d tokens, want 3", len(ids))
	}

	// Standard allows shell execution and file writes.
	decision := m.Check(Request{
		AgentID:  "worker-1",
		Resource: "shell://host/bin",
		Action:   ActionExecute,
		Command:  "ls",
	})
	if !decision.Allow {
		t.Errorf("standard shell execute denied: %s", decision.Reason)
	}
	decision = m.Check(Request{
		AgentID:  "worker-1",
		Resource: "file:///workspace/out.txt",
		Action:   ActionWrite,
	})
	if !decision.Allow {
		t.Errorf("standard file write denied: %s", decision.Reason)
	}

	// But not sub-agent spawning; that needs full.
	decision = m.Check(Request{
		AgentID:  "worker-1",
		Resource: "agent://sub/worker",
		Action:   ActionSpawn,
	})
	if decision.Allow {
		t.Error("standard level allowed spawn")
	}

	// Minimal grants nothing.
	ids, err = m.GrantDefaults("worker-2", TrustMinimal)
	if err != nil {
		t.Fatalf("GrantDefaults minimal: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("minimal granted %d tokens", len(ids))
	}
}
