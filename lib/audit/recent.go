// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import "sync"

// DefaultRecentSize is the default recent-buffer capacity in records.
const DefaultRecentSize = 256

// recentBuffer is a fixed-size circular buffer over the newest appended
// records, plus running per-kind counters. It answers the "what just
// happened" questions without a database round trip; anything older
// comes from Query.
//
// All methods are safe for concurrent use.
type recentBuffer struct {
	mutex    sync.Mutex
	records  []Record
	capacity int
	// writePosition is the next slot to write (0 to capacity-1).
	writePosition int
	// total is the number of records ever added.
	total uint64

	byKind map[Kind]uint64
	denied uint64
}

func newRecentBuffer(capacity int) *recentBuffer {
	if capacity <= 0 {
		capacity = DefaultRecentSize
	}
	return &recentBuffer{
		records:  make([]Record, capacity),
		capacity: capacity,
		byKind:   make(map[Kind]uint64),
	}
}

func (b *recentBuffer) add(record Record) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.records[b.writePosition] = record
	b.writePosition = (b.writePosition + 1) % b.capacity
	b.total++
	b.byKind[record.Kind]++
	if record.Kind == KindDecision && !record.Allowed {
		b.denied++
	}
}

// snapshot returns the retained records oldest-first.
func (b *recentBuffer) snapshot() []Record {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	stored := b.total
	if stored > uint64(b.capacity) {
		stored = uint64(b.capacity)
	}
	out := make([]Record, 0, stored)
	start := (b.writePosition + b.capacity - int(stored)) % b.capacity
	for i := 0; i < int(stored); i++ {
		out = append(out, b.records[(start+i)%b.capacity])
	}
	return out
}

// Counters summarizes everything appended since the store opened.
type Counters struct {
	// Total is the number of records appended.
	Total uint64

	// ByKind counts records per kind.
	ByKind map[Kind]uint64

	// Denied counts denied decision records.
	Denied uint64
}

func (b *recentBuffer) counters() Counters {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	byKind := make(map[Kind]uint64, len(b.byKind))
	for kind, count := range b.byKind {
		byKind[kind] = count
	}
	return Counters{Total: b.total, ByKind: byKind, Denied: b.denied}
}
