// Package audit records rewrite actions in a SQLite database, one run
// row per stream and one event row per rewritten node. Observability
// only; the stream transform never reads it back.
package audit

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Trail is an open audit database.
type Trail struct {
	mu    sync.Mutex
	db    *sql.DB
	runID int64
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at INTEGER NOT NULL,
	finished_at INTEGER,
	config TEXT NOT NULL,
	digest TEXT,
	summary TEXT
);
CREATE TABLE IF NOT EXISTS events (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	path TEXT NOT NULL,
	kind TEXT NOT NULL,
	action TEXT NOT NULL,
	delta INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id);
`

// Open opens or creates the audit database at path and starts a run row
// describing the configuration.
func Open(path, configDesc string) (*Trail, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	res, err := db.Exec(
		"INSERT INTO runs (started_at, config) VALUES (?, ?)",
		time.Now().Unix(), configDesc)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("starting audit run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("starting audit run: %w", err)
	}
	return &Trail{db: db, runID: runID}, nil
}

// Event records one rewritten node. kind is "file" or "symlink";
// action describes what changed; delta is the payload size change in
// bytes.
func (t *Trail) Event(path, kind, action string, delta int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.db.Exec("INSERT INTO events (run_id, path, kind, action, delta) VALUES (?, ?, ?, ?, ?)",
		t.runID, path, kind, action, delta)
}

// Finish stamps the run row with the output digest and counter summary,
// then closes the database.
func (t *Trail) Finish(digest, summary string) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.db.Exec(
		"UPDATE runs SET finished_at = ?, digest = ?, summary = ? WHERE id = ?",
		time.Now().Unix(), digest, summary, t.runID)
	if cerr := t.db.Close(); err == nil {
		err = cerr
	}
	return err
}
