// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/warden-foundation/warden/lib/clock"
	"github.com/warden-foundation/warden/lib/codec"
	"github.com/warden-foundation/warden/lib/sqlitepool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS audit_log (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp  INTEGER NOT NULL,
		kind       TEXT NOT NULL,
		request_id TEXT NOT NULL DEFAULT '',
		agent_id   TEXT NOT NULL,
		token_id   TEXT NOT NULL DEFAULT '',
		action     TEXT NOT NULL DEFAULT '',
		resource   TEXT NOT NULL DEFAULT '',
		allowed    INTEGER NOT NULL DEFAULT 0,
		reason     TEXT NOT NULL DEFAULT '',
		detail     TEXT NOT NULL DEFAULT '',
		severity   INTEGER NOT NULL DEFAULT 0,
		outcome    BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_log(agent_id, seq);
	CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_log(request_id);
	CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(timestamp);
`

// Store is the durable audit log. Safe for concurrent use; SQLite
// serializes the appends and the immediate transaction makes the
// sequence allocation a single append point.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
	recent *recentBuffer
}

// StoreConfig holds the parameters for opening an audit store.
type StoreConfig struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist.
	Path string

	// PoolSize is the number of connections. Defaults to 4.
	PoolSize int

	// RecentSize is the in-memory recent-record buffer capacity.
	// Defaults to DefaultRecentSize.
	RecentSize int

	// Clock provides timestamps for records that carry none.
	// Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger
}

// Open creates the audit store, creating the schema if needed.
func Open(cfg StoreConfig) (*Store, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	return &Store{
		pool:   pool,
		clock:  clk,
		logger: logger,
		recent: newRecentBuffer(cfg.RecentSize),
	}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Append writes one record and returns its sequence number. The
// record is durable on disk before Append returns; a non-nil error
// means the caller must treat the event as unrecorded and fail closed.
func (s *Store) Append(ctx context.Context, record *Record) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("audit: append: %w", err)
	}
	defer s.pool.Put(conn)

	timestamp := record.Timestamp
	if timestamp.IsZero() {
		timestamp = s.clock.Now()
	}

	var outcomeBlob any
	if record.Outcome != nil {
		data, err := codec.Marshal(record.Outcome)
		if err != nil {
			return 0, fmt.Errorf("audit: marshal outcome: %w", err)
		}
		outcomeBlob = data
	}

	seq, err := func() (seq int64, err error) {
		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return 0, fmt.Errorf("audit: begin transaction: %w", err)
		}
		defer endTransaction(&err)

		err = sqlitex.Execute(conn, `INSERT INTO audit_log
			(timestamp, kind, request_id, agent_id, token_id, action,
			 resource, allowed, reason, detail, severity, outcome)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					timestamp.UnixNano(),
					string(record.Kind),
					record.RequestID,
					record.AgentID,
					record.TokenID,
					record.Action,
					record.Resource,
					boolToInt(record.Allowed),
					record.Reason,
					record.Detail,
					int(record.Severity),
					outcomeBlob,
				},
			})
		if err != nil {
			return 0, fmt.Errorf("audit: insert: %w", err)
		}
		return conn.LastInsertRowID(), nil
	}()
	if err != nil {
		return 0, err
	}

	record.Seq = seq
	record.Timestamp = timestamp
	// The recent buffer only ever reflects committed records.
	s.recent.add(*record)
	return seq, nil
}

// Recent returns the newest retained records, oldest first, from the
// in-memory buffer. Cheap; for anything beyond the buffer use Query.
func (s *Store) Recent() []Record {
	return s.recent.snapshot()
}

// Counters returns running per-kind totals since the store opened.
func (s *Store) Counters() Counters {
	return s.recent.counters()
}

// Filter selects records for Query. Zero fields match everything.
type Filter struct {
	// AfterSeq restarts a cursor: only records with seq > AfterSeq.
	AfterSeq int64

	// AgentID restricts to one agent.
	AgentID string

	// Kind restricts to one record kind.
	Kind Kind

	// RequestID restricts to one request's records.
	RequestID string

	// DeniedOnly restricts to decision records with allowed = 0.
	DeniedOnly bool

	// MinSeverity drops records graded below the given severity.
	// The zero value (SeverityInfo) matches everything.
	MinSeverity Severity

	// Since/Until bound the timestamp range, inclusive/exclusive.
	Since time.Time
	Until time.Time

	// Limit caps the result size. Zero means 1000.
	Limit int
}

// Query returns matching records ordered by seq ascending, so a caller
// holding the last seen seq can resume exactly where it stopped.
func (s *Store) Query(ctx context.Context, filter Filter) ([]Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer s.pool.Put(conn)

	var conditions []string
	var args []any

	if filter.AfterSeq > 0 {
		conditions = append(conditions, "seq > ?")
		args = append(args, filter.AfterSeq)
	}
	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.RequestID != "" {
		conditions = append(conditions, "request_id = ?")
		args = append(args, filter.RequestID)
	}
	if filter.DeniedOnly {
		conditions = append(conditions, "kind = 'decision' AND allowed = 0")
	}
	if filter.MinSeverity > SeverityInfo {
		conditions = append(conditions, "severity >= ?")
		args = append(args, int(filter.MinSeverity))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Since.UnixNano())
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, filter.Until.UnixNano())
	}

	query := "SELECT seq, timestamp, kind, request_id, agent_id, token_id, " +
		"action, resource, allowed, reason, detail, severity, outcome FROM audit_log"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY seq ASC LIMIT ?"

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	args = append(args, limit)

	var records []Record
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record, err := scanRecord(stmt)
			if err != nil {
				return err
			}
			records = append(records, record)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	return records, nil
}

// DenialStat is one agent's denial counts over a window.
type DenialStat struct {
	AgentID  string
	Denied   int64
	Critical int64
}

// DenialStats aggregates decision denials per agent since the window
// start. Reporting only; nothing enforces on these numbers.
func (s *Store) DenialStats(ctx context.Context, since time.Time) ([]DenialStat, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: denial stats: %w", err)
	}
	defer s.pool.Put(conn)

	var stats []DenialStat
	err = sqlitex.Execute(conn, `SELECT agent_id,
			COUNT(*),
			SUM(CASE WHEN severity = ? THEN 1 ELSE 0 END)
		FROM audit_log
		WHERE kind = 'decision' AND allowed = 0 AND timestamp >= ?
		GROUP BY agent_id
		ORDER BY agent_id`,
		&sqlitex.ExecOptions{
			Args: []any{int(SeverityCritical), since.UnixNano()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stats = append(stats, DenialStat{
					AgentID:  stmt.ColumnText(0),
					Denied:   stmt.ColumnInt64(1),
					Critical: stmt.ColumnInt64(2),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("audit: denial stats: %w", err)
	}
	return stats, nil
}

// UnresolvedRequests returns allowed execute decisions whose request
// has no outcome record yet. After a crash these are the executions
// that were in flight; the guard records them as cancelled on startup.
func (s *Store) UnresolvedRequests(ctx context.Context) ([]Record, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: unresolved requests: %w", err)
	}
	defer s.pool.Put(conn)

	var records []Record
	err = sqlitex.Execute(conn, `SELECT seq, timestamp, kind, request_id,
			agent_id, token_id, action, resource, allowed, reason,
			detail, severity, outcome
		FROM audit_log AS d
		WHERE d.kind = 'decision' AND d.allowed = 1
		  AND d.action = 'execute' AND d.request_id != ''
		  AND NOT EXISTS (
			SELECT 1 FROM audit_log AS o
			WHERE o.kind = 'outcome' AND o.request_id = d.request_id
		  )
		ORDER BY d.seq ASC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record, err := scanRecord(stmt)
				if err != nil {
					return err
				}
				records = append(records, record)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("audit: unresolved requests: %w", err)
	}
	return records, nil
}

// scanRecord reads one audit_log row. Column order matches the SELECT
// lists above.
func scanRecord(stmt *sqlite.Stmt) (Record, error) {
	record := Record{
		Seq:       stmt.ColumnInt64(0),
		Timestamp: time.Unix(0, stmt.ColumnInt64(1)).UTC(),
		Kind:      Kind(stmt.ColumnText(2)),
		RequestID: stmt.ColumnText(3),
		AgentID:   stmt.ColumnText(4),
		TokenID:   stmt.ColumnText(5),
		Action:    stmt.ColumnText(6),
		Resource:  stmt.ColumnText(7),
		Allowed:   stmt.ColumnInt64(8) != 0,
		Reason:    stmt.ColumnText(9),
		Detail:    stmt.ColumnText(10),
		Severity:  Severity(stmt.ColumnInt64(11)),
	}

	if stmt.ColumnLen(12) > 0 {
		blob := make([]byte, stmt.ColumnLen(12))
		stmt.ColumnBytes(12, blob)
		var outcome ExecutionOutcome
		if err := codec.Unmarshal(blob, &outcome); err != nil {
			return record, fmt.Errorf("audit: decode outcome for seq %d: %w", record.Seq, err)
		}
		record.Outcome = &outcome
	}
	return record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
