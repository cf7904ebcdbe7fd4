package storage

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pierrec/lz4/v4"
	_ "modernc.org/sqlite"
)

// KV is an asynchronous string key/value store.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Values at least this large are LZ4-compressed on disk.
const compressThreshold = 512

const encodingLZ4 = "lz4"

// migration is a numbered schema change. Migrations are applied in order
// and tracked in the schema_migrations table so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS kv (
    key         TEXT PRIMARY KEY,
    value       BLOB NOT NULL,
    encoding    TEXT NOT NULL DEFAULT '',
    updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);`,
	},
	{
		Version:     2,
		Description: "snapshots",
		SQL: `
CREATE TABLE IF NOT EXISTS snapshots (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    rev         INTEGER NOT NULL UNIQUE,
    name        TEXT,
    created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
    tab_count   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshot_tabs (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    snapshot_id   INTEGER NOT NULL REFERENCES snapshots(id),
    position      INTEGER NOT NULL,
    tab_id        TEXT NOT NULL,
    url           TEXT NOT NULL,
    title         TEXT NOT NULL DEFAULT '',
    custom_title  TEXT NOT NULL DEFAULT '',
    pinned        BOOLEAN NOT NULL DEFAULT 0,
    pinned_url    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_snapshot_tabs_snapshot ON snapshot_tabs(snapshot_id);`,
	},
	{
		Version:     3,
		Description: "snapshot favicons",
		SQL:         `ALTER TABLE snapshot_tabs ADD COLUMN favicon_url TEXT NOT NULL DEFAULT '';`,
	},
}

// OpenDB opens (or creates) a SQLite database at the given path.
// It creates parent directories if needed, enables WAL mode, and runs any
// pending migrations.
func OpenDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SQLite is a KV backed by the kv table.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps a database opened with OpenDB.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var raw []byte
	var encoding string
	err := s.db.QueryRowContext(ctx, "SELECT value, encoding FROM kv WHERE key = ?", key).Scan(&raw, &encoding)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query key %q: %w", key, err)
	}

	if encoding == encodingLZ4 {
		raw, err = decompress(raw)
		if err != nil {
			return "", false, fmt.Errorf("decompress key %q: %w", key, err)
		}
	}
	return string(raw), true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	raw := []byte(value)
	encoding := ""
	if len(raw) >= compressThreshold {
		compressed, err := compress(raw)
		if err != nil {
			return fmt.Errorf("compress key %q: %w", key, err)
		}
		raw, encoding = compressed, encodingLZ4
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, encoding, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, encoding = excluded.encoding, updated_at = excluded.updated_at`,
		key, raw, encoding,
	)
	if err != nil {
		return fmt.Errorf("write key %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete key %q: %w", key, err)
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}

// Memory is a map-backed KV.
type Memory struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
