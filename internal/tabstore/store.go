// Package tabstore mirrors the browser's live tabs into a persisted list of
// pinned and unpinned tabs, and exposes the operations the sidebar performs
// on them.
//
// The store starts out loading. Load reads the persisted lists once and then
// reconciles them against the live tabs exactly once; events that arrive
// before that are applied to whatever is in memory and simply miss. Every
// mutation happens under the store's lock against the current lists. Host
// calls are made without the lock, so events may interleave with an
// operation that is waiting on the browser.
package tabstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/roamiiing/vibetabber/internal/applog"
	"github.com/roamiiing/vibetabber/internal/host"
	"github.com/roamiiing/vibetabber/internal/mapper"
	"github.com/roamiiing/vibetabber/internal/sliceutil"
	"github.com/roamiiing/vibetabber/internal/storage"
	"github.com/roamiiing/vibetabber/internal/types"
)

// StorageKey is the key the whole StoredTabs record lives under.
const StorageKey = "tabs"

// DefaultNewTabURLs are the blank new-tab pages of common browsers.
var DefaultNewTabURLs = []string{
	"chrome://newtab/",
	"edge://newtab/",
	"about:newtab",
	"about:home",
}

// Locker is implemented by storage that can refuse further writes.
type Locker interface {
	Lock()
}

// Options tunes a Store.
type Options struct {
	// NewTabURLs overrides DefaultNewTabURLs.
	NewTabURLs []string
	// RebindByURL drops the stored host ids on load, for hosts whose ids do
	// not outlive a connection. Restore then matches live tabs by URL.
	RebindByURL bool
}

type loadState int

const (
	stateLoading loadState = iota
	stateLoaded
	stateRestored
)

// Store is the synchronization engine between the browser and the
// persisted tab lists.
type Store struct {
	host        host.Host
	kv          storage.KV
	newTab      map[string]bool
	rebindByURL bool

	mu          sync.Mutex
	state       loadState
	pinned      []*types.Tab
	unpinned    []*types.Tab
	activeTabID string
	// restoringTab is set while ActivateTab recreates a closed tab, so the
	// created event for the replacement is not added as a second tab.
	restoringTab bool

	withTab func(pred func(*types.Tab) bool, fn func(*types.Tab))
	changes chan struct{}
}

// New creates a store. Nothing is read or queried until Load.
func New(h host.Host, kv storage.KV, opts Options) *Store {
	urls := opts.NewTabURLs
	if len(urls) == 0 {
		urls = DefaultNewTabURLs
	}
	newTab := make(map[string]bool, len(urls))
	for _, u := range urls {
		newTab[u] = true
	}

	s := &Store{
		host:        h,
		kv:          kv,
		newTab:      newTab,
		rebindByURL: opts.RebindByURL,
		changes:     make(chan struct{}, 1),
	}
	s.withTab = sliceutil.WithFirstMatch(s.tabsLocked)
	return s
}

// Load reads the persisted lists and, the first time it completes, restores
// them against the live browser tabs. Later calls do nothing.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	loading := s.state == stateLoading
	s.mu.Unlock()
	if !loading {
		return nil
	}

	stored, err := s.readStored(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != stateLoading {
		s.mu.Unlock()
		return nil
	}
	s.pinned, s.unpinned = normalize(stored)
	if s.rebindByURL {
		for _, t := range s.tabsLocked() {
			t.HostTabID = 0
		}
	}
	s.state = stateLoaded
	s.mu.Unlock()

	applog.Info("store.loaded", "pinned", len(stored.Pinned), "unpinned", len(stored.Unpinned))
	return s.restoreTabs(ctx)
}

func (s *Store) readStored(ctx context.Context) (types.StoredTabs, error) {
	raw, ok, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		return types.StoredTabs{}, fmt.Errorf("read stored tabs: %w", err)
	}
	if !ok || raw == "" {
		return types.StoredTabs{}, nil
	}
	stored, err := decodeStored(raw)
	if err != nil {
		applog.Error("store.decode", err)
		return types.StoredTabs{}, nil
	}
	return stored, nil
}

func decodeStored(raw string) (types.StoredTabs, error) {
	var stored types.StoredTabs
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return types.StoredTabs{}, fmt.Errorf("decode stored tabs: %w", err)
	}
	return stored, nil
}

// ReadStored reads the persisted record directly, for tools that inspect it
// without running a store. Unlike Load it reports a corrupt record.
func ReadStored(ctx context.Context, kv storage.KV) (types.StoredTabs, error) {
	raw, ok, err := kv.Get(ctx, StorageKey)
	if err != nil {
		return types.StoredTabs{}, fmt.Errorf("read stored tabs: %w", err)
	}
	if !ok || raw == "" {
		return types.StoredTabs{}, nil
	}
	return decodeStored(raw)
}

// WriteStored replaces the persisted record. A store running against the same
// kv will overwrite it on its next change.
func WriteStored(ctx context.Context, kv storage.KV, stored types.StoredTabs) error {
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode stored tabs: %w", err)
	}
	if err := kv.Set(ctx, StorageKey, string(data)); err != nil {
		return fmt.Errorf("write stored tabs: %w", err)
	}
	return nil
}

// normalize drops nil tabs and repeated ids or host ids, and refiles each
// tab's pin fields to match the group it is stored under.
func normalize(stored types.StoredTabs) (pinned, unpinned []*types.Tab) {
	seenID := make(map[string]bool)
	seenHost := make(map[int]bool)
	keep := func(t *types.Tab) bool {
		if t == nil || t.ID == "" || seenID[t.ID] {
			return false
		}
		// Host id 0 means the tab was never bound, as after a snapshot restore.
		if t.HostTabID != 0 && seenHost[t.HostTabID] {
			return false
		}
		seenID[t.ID] = true
		seenHost[t.HostTabID] = true
		return true
	}

	pinned = make([]*types.Tab, 0, len(stored.Pinned))
	for _, t := range stored.Pinned {
		if keep(t) {
			t.IsPinned = true
			if t.PinnedURL == "" {
				t.PinnedURL = t.URL
			}
			pinned = append(pinned, t)
		}
	}
	unpinned = make([]*types.Tab, 0, len(stored.Unpinned))
	for _, t := range stored.Unpinned {
		if keep(t) {
			t.IsPinned = false
			t.PinnedURL = ""
			unpinned = append(unpinned, t)
		}
	}
	return pinned, unpinned
}

// restoreTabs reconciles the loaded lists with the live tabs. Load guarantees
// it runs once. A stored tab whose host id is live takes that tab's current
// title and address; an unbound one binds to a live tab at its address; every
// other live tab is appended as a new unpinned tab.
func (s *Store) restoreTabs(ctx context.Context) error {
	live, err := s.host.Query(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = stateRestored
		s.mu.Unlock()
		return fmt.Errorf("query host tabs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var active *types.HostTab
	for i := range live {
		if live[i].Active {
			active = &live[i]
			break
		}
	}

	// A new-tab page left over from the last session and the one the browser
	// just opened are the same thing to the user.
	if active != nil && s.newTab[active.URL] && len(s.unpinned) > 0 {
		last := s.unpinned[len(s.unpinned)-1]
		if s.newTab[last.URL] {
			s.unpinned = sliceutil.DeleteByReference(s.unpinned, last)
		}
	}

	known := s.hostIDsLocked()
	added, rebound := 0, 0
	for _, ht := range live {
		if _, ok := known[ht.ID]; ok {
			s.withTab(byHostID(ht.ID), func(t *types.Tab) {
				sliceutil.Overwrite(t, mapper.HostTabToTab(ht, t))
			})
			continue
		}
		known[ht.ID] = struct{}{}

		// An unbound tab at the same address is this live tab.
		matched := false
		s.withTab(unboundAt(ht.URL), func(t *types.Tab) {
			sliceutil.Overwrite(t, mapper.HostTabToTab(ht, t))
			matched = true
		})
		if matched {
			rebound++
			continue
		}
		tab := mapper.HostTabToTab(ht, nil)
		s.unpinned = append(s.unpinned, &tab)
		added++
	}

	if active != nil {
		s.withTab(byHostID(active.ID), func(t *types.Tab) {
			s.activeTabID = t.ID
		})
	}

	s.state = stateRestored
	s.persistLocked()
	s.notifyLocked()
	applog.Info("store.restored", "live", len(live), "added", added, "rebound", rebound, "total", len(s.pinned)+len(s.unpinned))
	return nil
}

// persistLocked hands the current lists to storage. Nothing is written while
// the lists are still loading, since that would clobber the stored record.
func (s *Store) persistLocked() {
	if s.state == stateLoading {
		return
	}
	data, err := json.Marshal(types.StoredTabs{Pinned: s.pinned, Unpinned: s.unpinned})
	if err != nil {
		applog.Error("store.encode", err)
		return
	}
	if err := s.kv.Set(context.Background(), StorageKey, string(data)); err != nil {
		applog.Error("store.persist", err)
	}
}

func (s *Store) notifyLocked() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Store) tabsLocked() []*types.Tab {
	all := make([]*types.Tab, 0, len(s.pinned)+len(s.unpinned))
	all = append(all, s.pinned...)
	return append(all, s.unpinned...)
}

func (s *Store) hostIDsLocked() map[int]struct{} {
	ids := make(map[int]struct{}, len(s.pinned)+len(s.unpinned))
	for _, t := range s.tabsLocked() {
		ids[t.HostTabID] = struct{}{}
	}
	return ids
}

func (s *Store) tabByIDLocked(id string) *types.Tab {
	var found *types.Tab
	s.withTab(byID(id), func(t *types.Tab) { found = t })
	return found
}

func (s *Store) tabByHostIDLocked(hostID int) *types.Tab {
	var found *types.Tab
	s.withTab(byHostID(hostID), func(t *types.Tab) { found = t })
	return found
}

// removeLocked deletes tab from whichever list holds it.
func (s *Store) removeLocked(tab *types.Tab) {
	if tab.IsPinned {
		s.pinned = sliceutil.DeleteByReference(s.pinned, tab)
	} else {
		s.unpinned = sliceutil.DeleteByReference(s.unpinned, tab)
	}
}

func byID(id string) func(*types.Tab) bool {
	return func(t *types.Tab) bool { return t.ID == id }
}

func unboundAt(url string) func(*types.Tab) bool {
	return func(t *types.Tab) bool {
		return t.HostTabID == 0 && url != "" && (t.URL == url || t.ReopenURL() == url)
	}
}

func byHostID(hostID int) func(*types.Tab) bool {
	return func(t *types.Tab) bool { return t.HostTabID == hostID }
}

// Changes delivers a signal after any change to the lists or the active tab.
// Signals coalesce; read the state again after receiving one.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

// Restored reports whether the startup reconciliation has run.
func (s *Store) Restored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRestored
}

// Tabs returns copies of all tabs, pinned first.
func (s *Store) Tabs() []types.Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTabs(s.tabsLocked())
}

// Pinned returns copies of the pinned tabs.
func (s *Store) Pinned() []types.Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTabs(s.pinned)
}

// Unpinned returns copies of the unpinned tabs.
func (s *Store) Unpinned() []types.Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTabs(s.unpinned)
}

// Tab returns a copy of the tab with the given id.
func (s *Store) Tab(id string) (types.Tab, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.tabByIDLocked(id); t != nil {
		return *t, true
	}
	return types.Tab{}, false
}

// ActiveTabID returns the id of the focused tab, or "" if unknown.
func (s *Store) ActiveTabID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTabID
}

// HasHostTab reports whether a live host tab is already represented.
func (s *Store) HasHostTab(hostID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hostIDsLocked()[hostID]
	return ok
}

// Snapshot returns a deep copy of the persisted record.
func (s *Store) Snapshot() types.StoredTabs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.StoredTabs{
		Pinned:   clonePtrs(s.pinned),
		Unpinned: clonePtrs(s.unpinned),
	}
}

func copyTabs(list []*types.Tab) []types.Tab {
	out := make([]types.Tab, len(list))
	for i, t := range list {
		out[i] = *t
	}
	return out
}

func clonePtrs(list []*types.Tab) []*types.Tab {
	out := make([]*types.Tab, len(list))
	for i, t := range list {
		c := *t
		out[i] = &c
	}
	return out
}
