// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import (
	"sync"
	"time"
)

// rateWindow is the sliding window rate constraints are measured over.
// RatePerMinute counts calls in the minute ending at evaluation time.
const rateWindow = time.Minute

// rateTracker records allowed calls per token over a sliding window.
// Rate limits are per-token, not per-agent-aggregate: a delegated
// token's budget is independent of its siblings'. (Documented choice —
// the conservative default for delegation trees, since an over-broad
// parent budget cannot be drained by one noisy child.)
type rateTracker struct {
	mu    sync.Mutex
	calls map[TokenID][]time.Time
}

func newRateTracker() *rateTracker {
	return &rateTracker{calls: make(map[TokenID][]time.Time)}
}

// count returns the number of recorded calls within the window ending
// at now, pruning older entries while it is there.
func (r *rateTracker) count(id TokenID, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-rateWindow)
	recent := r.calls[id][:0]
	for _, at := range r.calls[id] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	if len(recent) == 0 {
		delete(r.calls, id)
		return 0
	}
	r.calls[id] = recent
	return len(recent)
}

// record notes one allowed call against the token.
func (r *rateTracker) record(id TokenID, now time.Time) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[id] = append(r.calls[id], now)
}
