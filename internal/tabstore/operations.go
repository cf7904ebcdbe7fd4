package tabstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roamiiing/vibetabber/internal/applog"
	"github.com/roamiiing/vibetabber/internal/host"
	"github.com/roamiiing/vibetabber/internal/mapper"
	"github.com/roamiiing/vibetabber/internal/sliceutil"
	"github.com/roamiiing/vibetabber/internal/types"
)

// CreateNewTab asks the browser for a blank tab. The created event that
// follows adds it to the store.
func (s *Store) CreateNewTab(ctx context.Context) error {
	if _, err := s.host.Create(ctx, ""); err != nil {
		return fmt.Errorf("create tab: %w", err)
	}
	return nil
}

// ActivateTab focuses the browser tab behind id. If the browser no longer has
// that tab, a new one is opened at the tab's pinned URL (or last URL) and the
// existing entry is rebound to it, keeping its id and custom title. A tab
// that was never bound to a browser tab is reopened without asking the
// browser first. An unknown id is ignored.
func (s *Store) ActivateTab(ctx context.Context, id string) error {
	s.mu.Lock()
	tab := s.tabByIDLocked(id)
	if tab == nil {
		s.mu.Unlock()
		return nil
	}
	hostID := tab.HostTabID
	reopenURL := tab.ReopenURL()
	s.mu.Unlock()

	if hostID == 0 {
		return s.recreateTab(ctx, id, hostID, reopenURL)
	}

	err := s.host.Activate(ctx, hostID)
	switch {
	case err == nil:
		s.mu.Lock()
		if s.tabByIDLocked(id) != nil {
			s.activeTabID = id
			s.notifyLocked()
		}
		s.mu.Unlock()
		return nil
	case errors.Is(err, host.ErrTabNotFound):
		return s.recreateTab(ctx, id, hostID, reopenURL)
	default:
		return fmt.Errorf("activate tab %s: %w", id, err)
	}
}

func (s *Store) recreateTab(ctx context.Context, id string, staleHostID int, url string) error {
	applog.Info("store.recreate", "id", id, "staleHostTabId", staleHostID, "url", url)

	s.mu.Lock()
	s.restoringTab = true
	s.mu.Unlock()

	created, err := s.host.Create(ctx, url)
	if err != nil {
		s.mu.Lock()
		s.restoringTab = false
		s.mu.Unlock()
		return fmt.Errorf("recreate tab %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// If some other path already represented the new host tab, that entry is
	// a duplicate of the one being rebound.
	if dup := s.tabByHostIDLocked(created.ID); dup != nil && dup.ID != id {
		s.removeLocked(dup)
	}

	tab := s.tabByIDLocked(id)
	if tab == nil {
		// Removed while the browser was opening the replacement. Keep the
		// live tab represented.
		fresh := mapper.HostTabToTab(created, nil)
		s.unpinned = append(s.unpinned, &fresh)
		s.persistLocked()
		s.notifyLocked()
		return nil
	}

	sliceutil.Overwrite(tab, mapper.HostTabToTab(created, tab))
	s.activeTabID = id
	s.persistLocked()
	s.notifyLocked()
	return nil
}

// RemoveTab drops the tab from the store and then closes it in the browser.
// The removal stands even if closing fails.
func (s *Store) RemoveTab(ctx context.Context, id string) error {
	s.mu.Lock()
	tab := s.tabByIDLocked(id)
	if tab == nil {
		s.mu.Unlock()
		return nil
	}
	s.removeLocked(tab)
	hostID := tab.HostTabID
	s.persistLocked()
	s.notifyLocked()
	s.mu.Unlock()

	if hostID == 0 {
		return nil
	}
	if err := s.host.Close(ctx, hostID); err != nil {
		applog.Error("host.close", err, "id", id, "hostTabId", hostID)
	}
	return nil
}

// ChangePinState moves a tab between the pinned and unpinned groups. Pinning
// records the tab's current URL as its pinned URL.
func (s *Store) ChangePinState(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tab := s.tabByIDLocked(id)
	if tab == nil {
		return
	}

	if tab.IsPinned {
		s.pinned = sliceutil.DeleteByReference(s.pinned, tab)
		sliceutil.Overwrite(tab, mapper.ToUnpinned(*tab))
		s.unpinned = append(s.unpinned, tab)
	} else {
		s.unpinned = sliceutil.DeleteByReference(s.unpinned, tab)
		sliceutil.Overwrite(tab, mapper.ToPinned(*tab))
		s.pinned = append(s.pinned, tab)
	}
	s.persistLocked()
	s.notifyLocked()
}

// RenameTab sets the tab's custom title. An empty title clears it.
func (s *Store) RenameTab(id, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tab := s.tabByIDLocked(id)
	if tab == nil {
		return
	}
	tab.CustomTitle = strings.TrimSpace(title)
	s.persistLocked()
	s.notifyLocked()
}

// MoveTab moves a tab to index within its own group. Out-of-range indexes
// are clamped.
func (s *Store) MoveTab(id string, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tab := s.tabByIDLocked(id)
	if tab == nil {
		return
	}
	if tab.IsPinned {
		s.pinned = moveTo(s.pinned, tab, index)
	} else {
		s.unpinned = moveTo(s.unpinned, tab, index)
	}
	s.persistLocked()
	s.notifyLocked()
}

func moveTo(list []*types.Tab, tab *types.Tab, index int) []*types.Tab {
	list = sliceutil.DeleteByReference(list, tab)
	if index < 0 {
		index = 0
	}
	if index > len(list) {
		index = len(list)
	}
	list = append(list, nil)
	copy(list[index+1:], list[index:])
	list[index] = tab
	return list
}
