package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSnapshotNotFound is returned when a snapshot rev does not exist.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotSummary holds the metadata for a snapshot.
type SnapshotSummary struct {
	ID        int64
	Rev       int
	Name      string // optional label
	CreatedAt time.Time
	TabCount  int
}

// SnapshotTab is one sidebar entry within a snapshot, in sidebar order.
type SnapshotTab struct {
	TabID       string
	URL         string
	Title       string
	CustomTitle string
	Pinned      bool
	PinnedURL   string
	FaviconURL  string
}

// SnapshotFull is a snapshot with its tabs.
type SnapshotFull struct {
	SnapshotSummary
	Tabs []SnapshotTab
}

// CreateSnapshot inserts a new snapshot with its tabs in a single
// transaction and returns the assigned rev. Label is optional.
func CreateSnapshot(db *sql.DB, tabs []SnapshotTab, label string) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rev int
	if err := tx.QueryRow("SELECT COALESCE(MAX(rev), 0) + 1 FROM snapshots").Scan(&rev); err != nil {
		return 0, fmt.Errorf("compute next rev: %w", err)
	}

	var nameVal interface{}
	if label != "" {
		nameVal = label
	}

	res, err := tx.Exec(
		"INSERT INTO snapshots (rev, name, tab_count) VALUES (?, ?, ?)",
		rev, nameVal, len(tabs),
	)
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	snapID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get snapshot id: %w", err)
	}

	for i, tab := range tabs {
		_, err := tx.Exec(
			`INSERT INTO snapshot_tabs
			 (snapshot_id, position, tab_id, url, title, custom_title, pinned, pinned_url, favicon_url)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snapID, i, tab.TabID, tab.URL, tab.Title, tab.CustomTitle, tab.Pinned, tab.PinnedURL, tab.FaviconURL,
		)
		if err != nil {
			return 0, fmt.Errorf("insert tab %q: %w", tab.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return rev, nil
}

// ListSnapshots returns all snapshots, newest first.
func ListSnapshots(db *sql.DB) ([]SnapshotSummary, error) {
	rows, err := db.Query(
		"SELECT id, rev, name, created_at, tab_count FROM snapshots ORDER BY rev DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var result []SnapshotSummary
	for rows.Next() {
		var s SnapshotSummary
		var name sql.NullString
		if err := rows.Scan(&s.ID, &s.Rev, &name, &s.CreatedAt, &s.TabCount); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		s.Name = name.String
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return result, nil
}

// GetSnapshot loads a full snapshot by rev.
func GetSnapshot(db *sql.DB, rev int) (*SnapshotFull, error) {
	snap := &SnapshotFull{}

	var name sql.NullString
	err := db.QueryRow(
		"SELECT id, rev, name, created_at, tab_count FROM snapshots WHERE rev = ?",
		rev,
	).Scan(&snap.ID, &snap.Rev, &name, &snap.CreatedAt, &snap.TabCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rev %d: %w", rev, ErrSnapshotNotFound)
		}
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	snap.Name = name.String

	rows, err := db.Query(
		`SELECT tab_id, url, title, custom_title, pinned, pinned_url, favicon_url
		 FROM snapshot_tabs WHERE snapshot_id = ? ORDER BY position`,
		snap.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query tabs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tab SnapshotTab
		if err := rows.Scan(&tab.TabID, &tab.URL, &tab.Title, &tab.CustomTitle, &tab.Pinned, &tab.PinnedURL, &tab.FaviconURL); err != nil {
			return nil, fmt.Errorf("scan tab: %w", err)
		}
		snap.Tabs = append(snap.Tabs, tab)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tabs: %w", err)
	}
	return snap, nil
}

// GetLatestSnapshot returns the most recent snapshot, or nil if there is none.
func GetLatestSnapshot(db *sql.DB) (*SnapshotFull, error) {
	var rev int
	err := db.QueryRow("SELECT rev FROM snapshots ORDER BY rev DESC LIMIT 1").Scan(&rev)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest rev: %w", err)
	}
	return GetSnapshot(db, rev)
}

// DeleteSnapshot removes a snapshot and its tabs.
func DeleteSnapshot(db *sql.DB, rev int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	if err := tx.QueryRow("SELECT id FROM snapshots WHERE rev = ?", rev).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("rev %d: %w", rev, ErrSnapshotNotFound)
		}
		return fmt.Errorf("query snapshot: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM snapshot_tabs WHERE snapshot_id = ?", id); err != nil {
		return fmt.Errorf("delete snapshot tabs: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM snapshots WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return tx.Commit()
}
