// Package mapper converts between host tab snapshots and persisted tabs.
package mapper

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/roamiiing/vibetabber/internal/types"
)

// HostTabToTab builds a persisted tab from a live host snapshot. When prev is
// given, its ID, custom title and pin state carry over; otherwise the result
// is a fresh unpinned tab with a new ID.
func HostTabToTab(host types.HostTab, prev *types.Tab) types.Tab {
	raw, _ := json.Marshal(host)

	tab := types.Tab{
		Title:       host.Title,
		URL:         host.URL,
		FaviconURL:  host.FaviconURL,
		HostTabID:   host.ID,
		OriginalTab: raw,
	}

	if prev == nil {
		tab.ID = uuid.NewString()
		return tab
	}

	tab.ID = prev.ID
	tab.CustomTitle = prev.CustomTitle
	if prev.IsPinned {
		tab.IsPinned = true
		tab.PinnedURL = prev.PinnedURL
	}
	return tab
}

// ToPinned pins t at its current URL.
func ToPinned(t types.Tab) types.Tab {
	t.IsPinned = true
	t.PinnedURL = t.URL
	return t
}

// ToUnpinned unpins t and forgets its pinned URL.
func ToUnpinned(t types.Tab) types.Tab {
	t.IsPinned = false
	t.PinnedURL = ""
	return t
}
