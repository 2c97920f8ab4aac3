// Package store logs probe results to SQLite.
package store

import (
	"database/sql"
	"fmt"

	"github.com/thetooth/pinggraph/ping"
	_ "modernc.org/sqlite"
)

// DB wraps sql.DB with the result log queries.
type DB struct {
	*sql.DB
}

// Open opens or creates the database at path and ensures the schema exists.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("database open failed: %w", err)
	}
	// One writer; the consumer loop is the only caller.
	db.SetMaxOpenConns(1)

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA synchronous=NORMAL")

	s := &DB{db}
	if err := s.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// InitSchema creates all necessary tables
func (db *DB) InitSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS probe_results (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session TEXT NOT NULL,
        target TEXT NOT NULL,
        mode TEXT NOT NULL,
        seq INTEGER NOT NULL,
        timestamp DATETIME NOT NULL,
        success BOOLEAN NOT NULL,
        rtt_ms REAL,
        jitter_ms REAL
    );

    CREATE INDEX IF NOT EXISTS idx_session_seq ON probe_results(session, seq);
    CREATE INDEX IF NOT EXISTS idx_target_timestamp ON probe_results(target, timestamp);
    `

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("schema creation failed: %w", err)
	}
	return nil
}

// SaveResult appends one probe result.
func (db *DB) SaveResult(session, target, mode string, r ping.Result) error {
	var rtt, jitter sql.NullFloat64
	if r.Success() {
		rtt = sql.NullFloat64{Float64: r.RTTMillis(), Valid: true}
	}
	if _, ok := r.Jitter(); ok {
		jitter = sql.NullFloat64{Float64: r.JitterMillis(), Valid: true}
	}

	query := `
        INSERT INTO probe_results (session, target, mode, seq, timestamp, success, rtt_ms, jitter_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := db.Exec(query,
		session,
		target,
		mode,
		int64(r.Seq),
		r.Timestamp.UTC(),
		r.Success(),
		rtt,
		jitter,
	)
	return err
}

// Summary is the aggregate of one logged session.
type Summary struct {
	Sent     int
	Received int
	AvgRTT   float64 // milliseconds, 0 when nothing was received
	MaxRTT   float64
}

// Summarize aggregates every result logged for session.
func (db *DB) Summarize(session string) (Summary, error) {
	query := `
        SELECT
            COUNT(*),
            COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
            COALESCE(AVG(CASE WHEN success THEN rtt_ms ELSE NULL END), 0),
            COALESCE(MAX(CASE WHEN success THEN rtt_ms ELSE NULL END), 0)
        FROM probe_results
        WHERE session = ?
    `
	var s Summary
	err := db.QueryRow(query, session).Scan(&s.Sent, &s.Received, &s.AvgRTT, &s.MaxRTT)
	return s, err
}
