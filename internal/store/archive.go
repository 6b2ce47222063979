// Package store persists finished execution traces to a local sqlite
// database for post-mortem queries. The archive is an opt-in sink; the
// core execution path keeps no state.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/scripthost/internal/trace"
)

// ErrNotFound is returned when no trace exists for a run id.
var ErrNotFound = errors.New("trace not found")

const schema = `
CREATE TABLE IF NOT EXISTS traces (
	run_id     TEXT PRIMARY KEY,
	start_time INTEGER NOT NULL,
	end_time   INTEGER NOT NULL,
	success    INTEGER NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	payload    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_traces_created ON traces(created_at DESC);
`

// TraceArchive is a sqlite-backed archive of finished traces. Safe for
// concurrent use; sqlite serialises writers internally.
type TraceArchive struct {
	db *sql.DB
}

// Open creates or opens an archive at path. ":memory:" is accepted for
// tests.
func Open(path string) (*TraceArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply archive schema: %w", err)
	}
	return &TraceArchive{db: db}, nil
}

// Close releases the database handle.
func (a *TraceArchive) Close() error {
	return a.db.Close()
}

// SaveTrace stores one finished trace, replacing any previous trace
// with the same run id.
func (a *TraceArchive) SaveTrace(ctx context.Context, tr *trace.ExecutionTrace) error {
	payload, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO traces (run_id, start_time, end_time, success, error, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tr.ID,
		tr.StartTime.UnixMilli(),
		tr.EndTime.UnixMilli(),
		boolToInt(tr.Success),
		tr.Error,
		string(payload),
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

// Get loads one trace by run id.
func (a *TraceArchive) Get(ctx context.Context, runID string) (*trace.ExecutionTrace, error) {
	var payload string
	err := a.db.QueryRowContext(ctx,
		`SELECT payload FROM traces WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query trace: %w", err)
	}

	var tr trace.ExecutionTrace
	if err := json.Unmarshal([]byte(payload), &tr); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	return &tr, nil
}

// Summary is one row of List output.
type Summary struct {
	RunID     string    `json:"run_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// List returns the most recent traces, newest first.
func (a *TraceArchive) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT run_id, start_time, end_time, success, error
		FROM traces ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var start, end int64
		var success int
		if err := rows.Scan(&s.RunID, &start, &end, &success, &s.Error); err != nil {
			return nil, err
		}
		s.StartTime = time.UnixMilli(start)
		s.EndTime = time.UnixMilli(end)
		s.Success = success != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
