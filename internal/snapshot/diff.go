package snapshot

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/roamiiing/vibetabber/internal/storage"
	"github.com/roamiiing/vibetabber/internal/types"
)

// DiffEntry represents a single tab in a diff result.
type DiffEntry struct {
	URL    string
	Title  string
	Pinned bool
}

// DiffResult holds the result of comparing a snapshot against the current
// tab lists.
type DiffResult struct {
	RevFrom int
	Added   []DiffEntry // in current but not in snapshot
	Removed []DiffEntry // in snapshot but not in current
}

// DiffAgainstCurrent compares snapshot rev against current. Rev 0 means the
// latest snapshot. Comparison is by URL.
func DiffAgainstCurrent(db *sql.DB, rev int, current types.StoredTabs) (*DiffResult, error) {
	var snap *storage.SnapshotFull
	var err error
	if rev == 0 {
		snap, err = storage.GetLatestSnapshot(db)
		if err == nil && snap == nil {
			return nil, fmt.Errorf("no snapshots yet: %w", storage.ErrSnapshotNotFound)
		}
	} else {
		snap, err = storage.GetSnapshot(db, rev)
	}
	if err != nil {
		return nil, err
	}
	return diffSnapshot(snap, current), nil
}

func diffSnapshot(snap *storage.SnapshotFull, current types.StoredTabs) *DiffResult {
	inSnapshot := make(map[string]bool, len(snap.Tabs))
	for _, tab := range snap.Tabs {
		inSnapshot[tab.URL] = true
	}
	inCurrent := make(map[string]bool, current.Len())

	result := &DiffResult{RevFrom: snap.Rev}
	for _, list := range [][]*types.Tab{current.Pinned, current.Unpinned} {
		for _, tab := range list {
			if inCurrent[tab.URL] {
				continue
			}
			inCurrent[tab.URL] = true
			if !inSnapshot[tab.URL] {
				result.Added = append(result.Added, DiffEntry{URL: tab.URL, Title: tab.DisplayTitle(), Pinned: tab.IsPinned})
			}
		}
	}

	reported := make(map[string]bool)
	for _, tab := range snap.Tabs {
		if inCurrent[tab.URL] || reported[tab.URL] {
			continue
		}
		reported[tab.URL] = true
		title := tab.CustomTitle
		if title == "" {
			title = tab.Title
		}
		result.Removed = append(result.Removed, DiffEntry{URL: tab.URL, Title: title, Pinned: tab.Pinned})
	}
	return result
}

// FormatDiff returns a human-readable string representation of a DiffResult.
func FormatDiff(d *DiffResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Diff against snapshot #%d\n", d.RevFrom)
	fmt.Fprintf(&sb, "Added: %d  Removed: %d\n", len(d.Added), len(d.Removed))

	if len(d.Added) > 0 {
		sb.WriteString("\n+ Added:\n")
		for _, e := range d.Added {
			writeEntry(&sb, "+", e)
		}
	}

	if len(d.Removed) > 0 {
		sb.WriteString("\n- Removed:\n")
		for _, e := range d.Removed {
			writeEntry(&sb, "-", e)
		}
	}

	if len(d.Added) == 0 && len(d.Removed) == 0 {
		sb.WriteString("\nNo changes.\n")
	}
	return sb.String()
}

func writeEntry(sb *strings.Builder, mark string, e DiffEntry) {
	if e.Pinned {
		fmt.Fprintf(sb, "  %s %s [pinned]\n", mark, e.URL)
	} else {
		fmt.Fprintf(sb, "  %s %s\n", mark, e.URL)
	}
}
