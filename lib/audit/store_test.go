// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/warden-foundation/warden/lib/clock"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(StoreConfig{
		Path:  filepath.Join(t.TempDir(), "audit.db"),
		Clock: clock.Fake(time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndQuery(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	seq1, err := store.Append(ctx, &Record{
		Kind:      KindDecision,
		RequestID: "req-1",
		AgentID:   "worker-1",
		TokenID:   "tok-1",
		Action:    "execute",
		Resource:  "shell://host",
		Allowed:   true,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	seq2, err := store.Append(ctx, &Record{
		Kind:      KindOutcome,
		RequestID: "req-1",
		AgentID:   "worker-1",
		Outcome: &ExecutionOutcome{
			Status:     "completed",
			ExitCode:   0,
			DurationMS: 42,
		},
	})
	if err != nil {
		t.Fatalf("Append outcome: %v", err)
	}
	if seq2 <= seq1 {
		t.Fatalf("seq not increasing: %d then %d", seq1, seq2)
	}

	records, err := store.Query(ctx, Filter{RequestID: "req-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Query returned %d records, want 2", len(records))
	}
	if records[0].Kind != KindDecision || !records[0].Allowed {
		t.Errorf("first record = %+v, want allowed decision", records[0])
	}
	if records[1].Outcome == nil || records[1].Outcome.DurationMS != 42 {
		t.Errorf("outcome payload did not round-trip: %+v", records[1].Outcome)
	}
	if records[0].Timestamp.IsZero() {
		t.Error("store did not fill the timestamp")
	}
}

func TestQueryMinSeverity(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, severity := range []Severity{SeverityInfo, SeverityWarning, SeverityCritical, SeverityWarning} {
		if _, err := store.Append(ctx, &Record{
			Kind:     KindDecision,
			AgentID:  "worker-1",
			Action:   "execute",
			Severity: severity,
			Allowed:  severity == SeverityInfo,
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	records, err := store.Query(ctx, Filter{MinSeverity: SeverityWarning})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("MinSeverity warning returned %d records, want 3", len(records))
	}
	for _, record := range records {
		if record.Severity < SeverityWarning {
			t.Errorf("record seq %d has severity %d, below the filter", record.Seq, record.Severity)
		}
	}

	records, err = store.Query(ctx, Filter{MinSeverity: SeverityCritical})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != 1 || records[0].Severity != SeverityCritical {
		t.Fatalf("MinSeverity critical returned %+v, want the single critical record", records)
	}
}

func TestRecentBufferAndCounters(t *testing.T) {
	store, err := Open(StoreConfig{
		Path:       filepath.Join(t.TempDir(), "audit.db"),
		RecentSize: 4,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		allowed := i%2 == 0
		if _, err := store.Append(ctx, &Record{
			Kind:    KindDecision,
			AgentID: "worker-1",
			Allowed: allowed,
		}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if _, err := store.Append(ctx, &Record{Kind: KindGrant, AgentID: "worker-1"}); err != nil {
		t.Fatalf("Append grant: %v", err)
	}

	// Capacity 4: only the last four records are retained, oldest
	// first with increasing seqs.
	recent := store.Recent()
	if len(recent) != 4 {
		t.Fatalf("Recent returned %d records, want 4", len(recent))
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].Seq <= recent[i-1].Seq {
			t.Errorf("recent records out of order: seq %d then %d", recent[i-1].Seq, recent[i].Seq)
		}
	}
	if recent[3].Kind != KindGrant {
		t.Errorf("newest recent record kind = %s, want grant", recent[3].Kind)
	}

	// Counters see everything, including the overwritten records.
	counters := store.Counters()
	if counters.Total != 7 {
		t.Errorf("Total = %d, want 7", counters.Total)
	}
	if counters.ByKind[KindDecision] != 6 || counters.ByKind[KindGrant] != 1 {
		t.Errorf("ByKind = %v", counters.ByKind)
	}
	if counters.Denied != 3 {
		t.Errorf("Denied = %d, want 3", counters.Denied)
	}
}

func TestQueryCursor(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := store.Append(ctx, &Record{
			Kind:    KindDecision,
			AgentID: "worker-1",
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// Page through with AfterSeq; pages must not overlap or skip.
	var got []int64
	var after int64
	for {
		page, err := store.Query(ctx, Filter{AfterSeq: after, Limit: 3})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, record := range page {
			got = append(got, record.Seq)
		}
		after = page[len(page)-1].Seq
	}

	if len(got) != 10 {
		t.Fatalf("cursor walk saw %d records, want 10", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("seq not strictly ascending: %v", got)
		}
	}
}

func TestConcurrentAppendsMonotonicSeq(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	const writers = 8
	const perWriter = 20

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := store.Append(ctx, &Record{
					Kind:    KindDecision,
					AgentID: "worker-1",
				}); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Append: %v", err)
	}

	records, err := store.Query(ctx, Filter{Limit: writers*perWriter + 1})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(records) != writers*perWriter {
		t.Fatalf("got %d records, want %d", len(records), writers*perWriter)
	}
	seen := make(map[int64]bool, len(records))
	for _, record := range records {
		if seen[record.Seq] {
			t.Fatalf("duplicate seq %d", record.Seq)
		}
		seen[record.Seq] = true
	}
}

func TestDenialStats(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	appendAt := func(ts time.Time, agent string, allowed bool, severity Severity) {
		t.Helper()
		if _, err := store.Append(ctx, &Record{
			Timestamp: ts,
			Kind:      KindDecision,
			AgentID:   agent,
			Allowed:   allowed,
			Severity:  severity,
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	appendAt(base, "worker-1", false, SeverityWarning)
	appendAt(base.Add(time.Minute), "worker-1", false, SeverityCritical)
	appendAt(base.Add(time.Minute), "worker-1", true, SeverityInfo)
	appendAt(base.Add(2*time.Minute), "worker-2", false, SeverityWarning)
	// Outside the window.
	appendAt(base.Add(-2*time.Hour), "worker-1", false, SeverityCritical)

	stats, err := store.DenialStats(ctx, base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("DenialStats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats for %d agents, want 2: %+v", len(stats), stats)
	}
	if stats[0].AgentID != "worker-1" || stats[0].Denied != 2 || stats[0].Critical != 1 {
		t.Errorf("worker-1 stats = %+v, want denied=2 critical=1", stats[0])
	}
	if stats[1].AgentID != "worker-2" || stats[1].Denied != 1 || stats[1].Critical != 0 {
		t.Errorf("worker-2 stats = %+v, want denied=1 critical=0", stats[1])
	}
}

func TestUnresolvedRequests(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	write := func(record Record) {
		t.Helper()
		if _, err := store.Append(ctx, &record); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	// req-1 completed; req-2 never got an outcome; req-3 was denied;
	// req-4 was an allowed read, which has no outcome by design.
	write(Record{Kind: KindDecision, RequestID: "req-1", AgentID: "worker-1", Action: "execute", Allowed: true})
	write(Record{Kind: KindOutcome, RequestID: "req-1", AgentID: "worker-1",
		Outcome: &ExecutionOutcome{Status: "completed"}})
	write(Record{Kind: KindDecision, RequestID: "req-2", AgentID: "worker-1", Action: "execute", Allowed: true})
	write(Record{Kind: KindDecision, RequestID: "req-3", AgentID: "worker-2", Action: "execute", Allowed: false})
	write(Record{Kind: KindDecision, RequestID: "req-4", AgentID: "worker-1", Action: "read", Allowed: true})

	unresolved, err := store.UnresolvedRequests(ctx)
	if err != nil {
		t.Fatalf("UnresolvedRequests: %v", err)
	}
	if len(unresolved) != 1 || unresolved[0].RequestID != "req-2" {
		t.Fatalf("unresolved = %+v, want only req-2", unresolved)
	}
}

func TestExportRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		record := &Record{
			Kind:    KindDecision,
			AgentID: "worker-1",
			Allowed: i%2 == 0,
			Reason:  "no_matching_capability",
		}
		if _, err := store.Append(ctx, record); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if _, err := store.Append(ctx, &Record{
		Kind:      KindOutcome,
		RequestID: "req-9",
		AgentID:   "worker-1",
		Outcome:   &ExecutionOutcome{Status: "timed_out", ExitCode: -1, DurationMS: 30000},
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	var buf bytes.Buffer
	if err := store.Export(ctx, &buf, Filter{}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	records, err := ReadExport(&buf)
	if err != nil {
		t.Fatalf("ReadExport: %v", err)
	}
	if len(records) != 6 {
		t.Fatalf("export round-tripped %d records, want 6", len(records))
	}
	last := records[5]
	if last.Outcome == nil || last.Outcome.Status != "timed_out" {
		t.Errorf("outcome lost in export: %+v", last)
	}
	for i := 1; i < len(records); i++ {
		if records[i].Seq <= records[i-1].Seq {
			t.Fatalf("export not seq-ordered: %v then %v", records[i-1].Seq, records[i].Seq)
		}
	}
}
