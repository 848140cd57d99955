// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/warden-foundation/warden/lib/audit"
)

// auditCmd dispatches the audit subcommands: query (default), stats,
// and export.
func auditCmd(args []string, logger *slog.Logger) error {
	sub := "query"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		sub = args[0]
		args = args[1:]
	}

	switch sub {
	case "query":
		return auditQueryCmd(args, logger)
	case "stats":
		return auditStatsCmd(args, logger)
	case "export":
		return auditExportCmd(args, logger)
	default:
		return fmt.Errorf("unknown audit subcommand %q (want query, stats, or export)", sub)
	}
}

func openAuditStore(path string, logger *slog.Logger) (*audit.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audit database %s: %w", path, err)
	}
	return audit.Open(audit.StoreConfig{Path: path, Logger: logger})
}

// auditQueryCmd prints matching records, one line each.
func auditQueryCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("audit query", pflag.ExitOnError)
	dbPath := fs.String("db", "warden-audit.db", "audit database path")
	agentID := fs.String("agent", "", "restrict to one agent")
	requestID := fs.String("request", "", "restrict to one request")
	deniedOnly := fs.Bool("denied", false, "denied decisions only")
	since := fs.Duration("since", 0, "restrict to the trailing window (e.g. 24h)")
	minSeverity := fs.String("severity", "", "minimum severity (info, warning, critical)")
	limit := fs.Int("limit", 0, "cap the result size (default 1000)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openAuditStore(*dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	filter := audit.Filter{
		AgentID:    *agentID,
		RequestID:  *requestID,
		DeniedOnly: *deniedOnly,
		Limit:      *limit,
	}
	if *since > 0 {
		filter.Since = time.Now().Add(-*since)
	}
	if *minSeverity != "" {
		severity, err := audit.ParseSeverity(*minSeverity)
		if err != nil {
			return err
		}
		filter.MinSeverity = severity
	}

	records, err := store.Query(context.Background(), filter)
	if err != nil {
		return err
	}
	for i := range records {
		printRecord(&records[i])
	}
	return nil
}

func printRecord(r *audit.Record) {
	switch r.Kind {
	case audit.KindDecision:
		verdict := "allow"
		if !r.Allowed {
			verdict = "deny"
		}
		fmt.Printf("%d %s %s agent=%s %s %s %s", r.Seq, r.Timestamp.Format(time.RFC3339), verdict, r.AgentID, r.Action, r.Resource, r.Severity)
		if r.Reason != "" {
			fmt.Printf(" reason=%s", r.Reason)
		}
		if r.Detail != "" {
			fmt.Printf(" detail=%q", r.Detail)
		}
	case audit.KindOutcome:
		fmt.Printf("%d %s outcome agent=%s request=%s", r.Seq, r.Timestamp.Format(time.RFC3339), r.AgentID, r.RequestID)
		if r.Outcome != nil {
			fmt.Printf(" status=%s exit=%d duration=%dms", r.Outcome.Status, r.Outcome.ExitCode, r.Outcome.DurationMS)
		}
	default:
		fmt.Printf("%d %s %s agent=%s token=%s %s", r.Seq, r.Timestamp.Format(time.RFC3339), r.Kind, r.AgentID, r.TokenID, r.Resource)
	}
	fmt.Println()
}

// auditStatsCmd prints per-agent denial counts for the window.
func auditStatsCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("audit stats", pflag.ExitOnError)
	dbPath := fs.String("db", "warden-audit.db", "audit database path")
	window := fs.Duration("since", 24*time.Hour, "aggregation window")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openAuditStore(*dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.DenialStats(context.Background(), time.Now().Add(-*window))
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Printf("No denials in the last %s.\n", window)
		return nil
	}
	fmt.Printf("Denials in the last %s:\n", window)
	for _, stat := range stats {
		fmt.Printf("  %-30s denied=%d critical=%d\n", stat.AgentID, stat.Denied, stat.Critical)
	}
	return nil
}

// auditExportCmd writes matching records as zstd-compressed JSONL.
func auditExportCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("audit export", pflag.ExitOnError)
	dbPath := fs.String("db", "warden-audit.db", "audit database path")
	out := fs.String("out", "", "output file (stdout when empty)")
	agentID := fs.String("agent", "", "restrict to one agent")
	afterSeq := fs.Int64("after-seq", 0, "resume after this sequence number")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openAuditStore(*dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	w := os.Stdout
	if *out != "" {
		file, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("creating export file: %w", err)
		}
		defer file.Close()
		w = file
	}

	return store.Export(context.Background(), w, audit.Filter{
		AgentID:  *agentID,
		AfterSeq: *afterSeq,
	})
}
