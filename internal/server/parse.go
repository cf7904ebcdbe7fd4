package server

import (
	"encoding/json"
	"fmt"

	"github.com/roamiiing/vibetabber/internal/host"
	"github.com/roamiiing/vibetabber/internal/types"
)

// wireTab is the subset of chrome.tabs.Tab the extension forwards.
type wireTab struct {
	ID         int    `json:"id"`
	URL        string `json:"url"`
	PendingURL string `json:"pendingUrl"`
	Title      string `json:"title"`
	FavIconURL string `json:"favIconUrl"`
	Active     bool   `json:"active"`
}

func (wt wireTab) hostTab() types.HostTab {
	url := wt.URL
	if url == "" {
		// Freshly created tabs report only the URL they are loading.
		url = wt.PendingURL
	}
	return types.HostTab{
		ID:         wt.ID,
		URL:        url,
		Title:      wt.Title,
		FaviconURL: wt.FavIconURL,
		Active:     wt.Active,
	}
}

// ParseTab converts a raw JSON tab into a HostTab.
func ParseTab(raw json.RawMessage) (types.HostTab, error) {
	if len(raw) == 0 {
		return types.HostTab{}, fmt.Errorf("parse tab: empty payload")
	}
	var wt wireTab
	if err := json.Unmarshal(raw, &wt); err != nil {
		return types.HostTab{}, fmt.Errorf("parse tab: %w", err)
	}
	return wt.hostTab(), nil
}

// ParseTabs converts a raw JSON tab list into HostTabs.
func ParseTabs(raw json.RawMessage) ([]types.HostTab, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var wts []wireTab
	if err := json.Unmarshal(raw, &wts); err != nil {
		return nil, fmt.Errorf("parse tabs: %w", err)
	}
	tabs := make([]types.HostTab, 0, len(wts))
	for _, wt := range wts {
		tabs = append(tabs, wt.hostTab())
	}
	return tabs, nil
}

// ParseEvent converts an IncomingMsg of type "event" into a host.Event.
func ParseEvent(msg IncomingMsg) (host.Event, error) {
	ev := host.Event{Kind: host.EventKind(msg.Event), TabID: msg.TabID}

	switch ev.Kind {
	case host.EventCreated, host.EventUpdated:
		tab, err := ParseTab(msg.Tab)
		if err != nil {
			return host.Event{}, err
		}
		if ev.TabID == 0 {
			ev.TabID = tab.ID
		}
		if tab.ID == 0 {
			tab.ID = ev.TabID
		}
		ev.Tab = tab
	case host.EventActivated, host.EventRemoved:
		if ev.TabID == 0 {
			return host.Event{}, fmt.Errorf("%s event without tabId", msg.Event)
		}
	case host.EventShutdown:
	default:
		return host.Event{}, fmt.Errorf("unknown event %q", msg.Event)
	}
	return ev, nil
}
