// Package history persists the multi-turn audit trail: one row per audited
// turn, keyed by session. The interface is deliberately narrow — append one
// turn, read the most recent ones — and Append is atomic per session.
package history

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// Turn is one audited turn's summary in the session trail.
type Turn struct {
	SessionID    string `json:"sessionId"`
	Seq          int64  `json:"seq"`
	RequestID    string `json:"requestId"`
	TimestampMs  int64  `json:"timestampMs"`
	Action       string `json:"action"`
	Risk         string `json:"risk"`
	FindingCount int    `json:"findingCount"`
	RootHash     string `json:"rootHash"`
}

// Store is the SQLite-backed session history.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	session_id    TEXT    NOT NULL,
	seq           INTEGER NOT NULL,
	request_id    TEXT    NOT NULL,
	ts_ms         INTEGER NOT NULL,
	action        TEXT    NOT NULL,
	risk          TEXT    NOT NULL,
	finding_count INTEGER NOT NULL,
	root_hash     TEXT    NOT NULL,
	PRIMARY KEY (session_id, seq)
);
`

// Open opens (creating if necessary) the history database at path.
// Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	// SQLite serializes writers; a single connection avoids busy errors
	// from concurrent appends.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append adds a turn to the session trail, assigning the next sequence
// number inside a transaction so concurrent appends to one session
// serialize cleanly. The Seq field of the argument is ignored.
func (s *Store) Append(ctx context.Context, turn Turn) (int64, error) {
	if turn.SessionID == "" {
		return 0, fmt.Errorf("history: sessionId is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?`,
		turn.SessionID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("assigning sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, seq, request_id, ts_ms, action, risk, finding_count, root_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.SessionID, seq, turn.RequestID, turn.TimestampMs,
		turn.Action, turn.Risk, turn.FindingCount, turn.RootHash)
	if err != nil {
		return 0, fmt.Errorf("inserting turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing append: %w", err)
	}
	return seq, nil
}

// Recent returns up to n turns of a session, newest first.
func (s *Store) Recent(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, seq, request_id, ts_ms, action, risk, finding_count, root_hash
		 FROM turns WHERE session_id = ? ORDER BY seq DESC LIMIT ?`,
		sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.SessionID, &t.Seq, &t.RequestID, &t.TimestampMs,
			&t.Action, &t.Risk, &t.FindingCount, &t.RootHash); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
