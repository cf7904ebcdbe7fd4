package export

import (
	"encoding/json"
	"net/url"
	"time"

	"github.com/roamiiing/vibetabber/internal/types"
)

type jsonExport struct {
	ExportedAt time.Time   `json:"exported_at"`
	Groups     []jsonGroup `json:"groups"`
}

type jsonGroup struct {
	Name string    `json:"name"`
	Tabs []jsonTab `json:"tabs"`
}

type jsonTab struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	CustomTitle string `json:"custom_title,omitempty"`
	URL         string `json:"url"`
	PinnedURL   string `json:"pinned_url,omitempty"`
	Domain      string `json:"domain"`
	FaviconURL  string `json:"favicon_url,omitempty"`
}

// JSON formats the stored tabs as a JSON document with a pinned and an
// unpinned group.
func JSON(data types.StoredTabs) (string, error) {
	out := jsonExport{
		ExportedAt: time.Now(),
		Groups: []jsonGroup{
			jsonGroupOf(pinnedGroup, data.Pinned),
			jsonGroupOf(unpinnedGroup, data.Unpinned),
		},
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

func jsonGroupOf(name string, tabs []*types.Tab) jsonGroup {
	group := jsonGroup{Name: name, Tabs: make([]jsonTab, 0, len(tabs))}
	for _, tab := range tabs {
		jt := jsonTab{
			ID:          tab.ID,
			Title:       tab.Title,
			CustomTitle: tab.CustomTitle,
			URL:         tab.URL,
			Domain:      extractDomain(tab.URL),
			FaviconURL:  tab.FaviconURL,
		}
		if tab.IsPinned {
			jt.PinnedURL = tab.PinnedURL
		}
		group.Tabs = append(group.Tabs, jt)
	}
	return group
}

func extractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Hostname()
}
