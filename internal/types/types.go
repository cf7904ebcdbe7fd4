package types

import "encoding/json"

// Tab is the persisted representation of a browser tab. Pinned and unpinned
// tabs share this shape; IsPinned discriminates them and PinnedURL is only
// meaningful when IsPinned is true.
type Tab struct {
	ID          string `json:"id"`                    // UUID, stable across host recreation
	Title       string `json:"title"`                 // synced from the host
	CustomTitle string `json:"customTitle,omitempty"` // user override, never touched by sync
	URL         string `json:"url"`                   // current URL, synced from the host
	FaviconURL  string `json:"faviconUrl,omitempty"`
	HostTabID   int    `json:"chromeId"`

	IsPinned  bool   `json:"isPinned"`
	PinnedURL string `json:"pinnedUrl,omitempty"` // URL captured when the tab was pinned

	// OriginalTab keeps the raw host snapshot for future migrations.
	// Nothing reads it.
	OriginalTab json.RawMessage `json:"originalTab,omitempty"`
}

// DisplayTitle returns the custom title if set, otherwise the synced one.
func (t *Tab) DisplayTitle() string {
	if t.CustomTitle != "" {
		return t.CustomTitle
	}
	return t.Title
}

// ReopenURL is the address a closed tab should be recreated at.
func (t *Tab) ReopenURL() string {
	if t.IsPinned && t.PinnedURL != "" {
		return t.PinnedURL
	}
	return t.URL
}

// HostTab is a live tab as reported by the browser.
type HostTab struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	FaviconURL string `json:"favIconUrl,omitempty"`
	Active     bool   `json:"active"`
}

// StoredTabs is the whole persisted state, kept under a single storage key.
type StoredTabs struct {
	Pinned   []*Tab `json:"pinned"`
	Unpinned []*Tab `json:"unpinned"`
}

// Len returns the total number of tabs in both groups.
func (s StoredTabs) Len() int {
	return len(s.Pinned) + len(s.Unpinned)
}
