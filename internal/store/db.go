// ABOUTME: SQLite catalog connection and schema for the frame store
// ABOUTME: Uses modernc.org/sqlite in WAL mode for concurrent append + scan
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Schema contains all SQL statements for catalog initialization.
const Schema = `
-- Time-partition units; one row per calendar day with at least one frame.
CREATE TABLE IF NOT EXISTS buckets (
    day TEXT PRIMARY KEY,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per persisted frame; ts_us is the UTC capture instant in microseconds.
CREATE TABLE IF NOT EXISTS frames (
    frame_id TEXT PRIMARY KEY,
    ts_us INTEGER NOT NULL,
    bucket_day TEXT NOT NULL REFERENCES buckets(day) ON DELETE CASCADE,
    image_path TEXT NOT NULL,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    embedding BLOB,
    embedding_model TEXT,
    caption TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_frames_ts ON frames(ts_us);
CREATE INDEX IF NOT EXISTS idx_frames_bucket ON frames(bucket_day);
CREATE INDEX IF NOT EXISTS idx_frames_pending ON frames(ts_us) WHERE embedding IS NULL;
`

// DB wraps the SQLite catalog connection.
type DB struct {
	conn *sql.DB
	path string
}

// OpenDB opens or creates the catalog database at the given path.
func OpenDB(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// WAL mode lets range scans run concurrently with the capture loop's appends
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping catalog: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.initSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// OpenDBInMemory creates an in-memory catalog (for testing).
func OpenDBInMemory() (*DB, error) {
	conn, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory catalog: %w", err)
	}
	// A single conn keeps every query on the same in-memory database.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, path: ":memory:"}
	if err := db.initSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

func (db *DB) initSchema() error {
	_, err := db.conn.Exec(Schema)
	return err
}

// Close closes the catalog connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
