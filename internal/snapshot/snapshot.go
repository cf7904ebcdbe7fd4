// Package snapshot keeps numbered copies of the sidebar's tab lists so a
// previous arrangement can be compared against or brought back.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roamiiing/vibetabber/internal/applog"
	"github.com/roamiiing/vibetabber/internal/storage"
	"github.com/roamiiing/vibetabber/internal/tabstore"
	"github.com/roamiiing/vibetabber/internal/types"
)

// Create stores the given tab lists as a new snapshot. It first checks the
// latest snapshot and skips saving if the URL sets are identical. Returns the
// rev, whether a new snapshot was created, the diff against the previous
// snapshot (nil if first), and error.
func Create(db *sql.DB, stored types.StoredTabs, label string) (rev int, created bool, diff *DiffResult, err error) {
	latest, err := storage.GetLatestSnapshot(db)
	if err != nil {
		return 0, false, nil, fmt.Errorf("get latest snapshot: %w", err)
	}

	if latest != nil {
		d := diffSnapshot(latest, stored)
		if len(d.Added) == 0 && len(d.Removed) == 0 {
			applog.Info("snapshot.skipped", "rev", latest.Rev)
			return latest.Rev, false, nil, nil
		}
		diff = d
	}

	tabs := make([]storage.SnapshotTab, 0, stored.Len())
	for _, t := range append(append([]*types.Tab{}, stored.Pinned...), stored.Unpinned...) {
		tabs = append(tabs, storage.SnapshotTab{
			TabID:       t.ID,
			URL:         t.URL,
			Title:       t.Title,
			CustomTitle: t.CustomTitle,
			Pinned:      t.IsPinned,
			PinnedURL:   t.PinnedURL,
			FaviconURL:  t.FaviconURL,
		})
	}

	newRev, err := storage.CreateSnapshot(db, tabs, label)
	if err != nil {
		return 0, false, nil, err
	}
	applog.Info("snapshot.created", "rev", newRev, "tabs", len(tabs))
	return newRev, true, diff, nil
}

// ToStored rebuilds tab lists from a snapshot. The tabs keep their ids but
// are not bound to any live browser tab; activating one reopens it.
func ToStored(snap *storage.SnapshotFull) types.StoredTabs {
	var out types.StoredTabs
	for _, st := range snap.Tabs {
		tab := &types.Tab{
			ID:          st.TabID,
			Title:       st.Title,
			CustomTitle: st.CustomTitle,
			URL:         st.URL,
			FaviconURL:  st.FaviconURL,
			IsPinned:    st.Pinned,
		}
		if st.Pinned {
			tab.PinnedURL = st.PinnedURL
			out.Pinned = append(out.Pinned, tab)
		} else {
			out.Unpinned = append(out.Unpinned, tab)
		}
	}
	return out
}

// Restore replaces the persisted tab lists in kv with snapshot rev. It must
// not run while a sidebar is serving from the same kv, or the running store
// will overwrite the result on its next change.
func Restore(ctx context.Context, db *sql.DB, kv storage.KV, rev int) (int, error) {
	applog.Info("snapshot.restore.start", "rev", rev)
	snap, err := storage.GetSnapshot(db, rev)
	if err != nil {
		return 0, err
	}

	stored := ToStored(snap)
	if err := tabstore.WriteStored(ctx, kv, stored); err != nil {
		return 0, err
	}

	applog.Info("snapshot.restore.done", "rev", rev, "tabs", stored.Len())
	return stored.Len(), nil
}
