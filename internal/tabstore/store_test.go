package tabstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/roamiiing/vibetabber/internal/host"
	"github.com/roamiiing/vibetabber/internal/host/hosttest"
	"github.com/roamiiing/vibetabber/internal/storage"
	"github.com/roamiiing/vibetabber/internal/types"
)

// seed writes a StoredTabs record to kv.
func seed(t *testing.T, kv storage.KV, stored types.StoredTabs) {
	t.Helper()
	data, err := json.Marshal(stored)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := kv.Set(context.Background(), StorageKey, string(data)); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// loaded returns a store over the fake host and kv with Load already done.
func loaded(t *testing.T, h *hosttest.Fake, kv storage.KV) *Store {
	t.Helper()
	s := New(h, kv, Options{})
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s
}

// drain applies every event the fake host has queued.
func drain(s *Store, h *hosttest.Fake) {
	for {
		select {
		case ev := <-h.Events():
			s.HandleEvent(ev)
		default:
			return
		}
	}
}

// checkInvariants fails the test if ids or bound host ids repeat or a tab
// sits in the wrong group.
func checkInvariants(t *testing.T, s *Store) {
	t.Helper()
	ids := map[string]bool{}
	hostIDs := map[int]bool{}
	for _, tab := range s.Pinned() {
		if !tab.IsPinned {
			t.Errorf("unpinned tab %s in pinned list", tab.ID)
		}
		if ids[tab.ID] || (tab.HostTabID != 0 && hostIDs[tab.HostTabID]) {
			t.Errorf("duplicate tab %s / host %d", tab.ID, tab.HostTabID)
		}
		ids[tab.ID], hostIDs[tab.HostTabID] = true, true
	}
	for _, tab := range s.Unpinned() {
		if tab.IsPinned {
			t.Errorf("pinned tab %s in unpinned list", tab.ID)
		}
		if ids[tab.ID] || (tab.HostTabID != 0 && hostIDs[tab.HostTabID]) {
			t.Errorf("duplicate tab %s / host %d", tab.ID, tab.HostTabID)
		}
		ids[tab.ID], hostIDs[tab.HostTabID] = true, true
	}
}

func countCalls(calls []string, want string) int {
	n := 0
	for _, c := range calls {
		if c == want {
			n++
		}
	}
	return n
}

func TestNewTabEvent(t *testing.T) {
	h := hosttest.New()
	s := loaded(t, h, storage.NewMemory())

	s.HandleEvent(host.Event{
		Kind:  host.EventCreated,
		TabID: 42,
		Tab:   types.HostTab{ID: 42, URL: "https://x", Title: "X"},
	})

	unpinned := s.Unpinned()
	if len(unpinned) != 1 {
		t.Fatalf("expected 1 unpinned tab, got %d", len(unpinned))
	}
	tab := unpinned[0]
	if tab.ID == "" || tab.HostTabID != 42 || tab.IsPinned {
		t.Errorf("unexpected tab: %+v", tab)
	}
	if tab.URL != "https://x" || tab.Title != "X" {
		t.Errorf("host fields not copied: %+v", tab)
	}
	if !s.HasHostTab(42) {
		t.Error("host tab 42 should be known")
	}
}

func TestCreatedEventForKnownHostTabIsIgnored(t *testing.T) {
	h := hosttest.New()
	h.AddTab(types.HostTab{ID: 1, URL: "https://a"})
	s := loaded(t, h, storage.NewMemory())

	s.HandleEvent(host.Event{Kind: host.EventCreated, TabID: 1, Tab: types.HostTab{ID: 1, URL: "https://a"}})

	if n := len(s.Tabs()); n != 1 {
		t.Errorf("expected 1 tab, got %d", n)
	}
}

func TestActivateMissingTabRecreates(t *testing.T) {
	h := hosttest.New()
	kv := storage.NewMemory()
	seed(t, kv, types.StoredTabs{Pinned: []*types.Tab{{
		ID:          "t1",
		Title:       "A",
		CustomTitle: "Mine",
		URL:         "https://a/elsewhere",
		HostTabID:   7,
		IsPinned:    true,
		PinnedURL:   "https://a",
	}}})
	s := loaded(t, h, kv)

	if err := s.ActivateTab(context.Background(), "t1"); err != nil {
		t.Fatalf("ActivateTab: %v", err)
	}
	// The created event for the replacement arrives after Create returned.
	drain(s, h)

	calls := h.CallLog()
	if n := countCalls(calls, "create https://a"); n != 1 {
		t.Fatalf("expected exactly one create at the pinned URL, calls=%v", calls)
	}

	tabs := s.Tabs()
	if len(tabs) != 1 {
		t.Fatalf("expected 1 tab after recreate, got %d: %+v", len(tabs), tabs)
	}
	tab := tabs[0]
	if tab.ID != "t1" || tab.CustomTitle != "Mine" {
		t.Errorf("identity lost: %+v", tab)
	}
	if tab.HostTabID != 1001 {
		t.Errorf("HostTabID = %d, want 1001", tab.HostTabID)
	}
	if !tab.IsPinned || tab.PinnedURL != "https://a" {
		t.Errorf("pin state lost: %+v", tab)
	}
	if got := s.ActiveTabID(); got != "t1" {
		t.Errorf("ActiveTabID = %q, want t1", got)
	}
	checkInvariants(t, s)
}

func TestActivateMissingTabEventBeforeCreateReturns(t *testing.T) {
	h := hosttest.New()
	kv := storage.NewMemory()
	seed(t, kv, types.StoredTabs{Unpinned: []*types.Tab{{ID: "u1", URL: "https://b", HostTabID: 3}}})
	s := loaded(t, h, kv)
	h.BeforeCreateReturn = func(types.HostTab) { drain(s, h) }

	if err := s.ActivateTab(context.Background(), "u1"); err != nil {
		t.Fatalf("ActivateTab: %v", err)
	}

	if n := countCalls(h.CallLog(), "create https://b"); n != 1 {
		t.Fatalf("expected one create at last URL, calls=%v", h.CallLog())
	}
	tabs := s.Tabs()
	if len(tabs) != 1 || tabs[0].ID != "u1" || tabs[0].HostTabID != 1001 {
		t.Fatalf("unexpected tabs: %+v", tabs)
	}
	checkInvariants(t, s)
}

func TestActivateLiveTab(t *testing.T) {
	h := hosttest.New()
	h.AddTab(types.HostTab{ID: 1, URL: "https://a"})
	h.AddTab(types.HostTab{ID: 2, URL: "https://b"})
	s := loaded(t, h, storage.NewMemory())

	var target types.Tab
	for _, tab := range s.Tabs() {
		if tab.HostTabID == 2 {
			target = tab
		}
	}

	if err := s.ActivateTab(context.Background(), target.ID); err != nil {
		t.Fatalf("ActivateTab: %v", err)
	}
	if s.ActiveTabID() != target.ID {
		t.Errorf("ActiveTabID = %q, want %q", s.ActiveTabID(), target.ID)
	}
	if n := countCalls(h.CallLog(), "activate 2"); n != 1 {
		t.Errorf("calls = %v", h.CallLog())
	}
}

func TestActivateUnknownIDIsNoop(t *testing.T) {
	h := hosttest.New()
	s := loaded(t, h, storage.NewMemory())

	if err := s.ActivateTab(context.Background(), "nope"); err != nil {
		t.Fatalf("ActivateTab: %v", err)
	}
	if len(h.CallLog()) != 0 {
		t.Errorf("expected no host calls, got %v", h.CallLog())
	}
}

func TestRemovePinnedTab(t *testing.T) {
	h := hosttest.New()
	h.AddTab(types.HostTab{ID: 5, URL: "https://p"})
	kv := storage.NewMemory()
	seed(t, kv, types.StoredTabs{Pinned: []*types.Tab{{ID: "p1", URL: "https://p", HostTabID: 5, IsPinned: true, PinnedURL: "https://p"}}})
	s := loaded(t, h, kv)

	if err := s.RemoveTab(context.Background(), "p1"); err != nil {
		t.Fatalf("RemoveTab: %v", err)
	}
	if len(s.Pinned()) != 0 {
		t.Errorf("pinned list not empty: %+v", s.Pinned())
	}
	if n := countCalls(h.CallLog(), "close 5"); n != 1 {
		t.Errorf("calls = %v", h.CallLog())
	}

	// The removed event for the closed tab is a silent miss.
	drain(s, h)
	if len(s.Tabs()) != 0 {
		t.Errorf("expected no tabs, got %+v", s.Tabs())
	}
}

func TestRemoveTabCloseFailureIsNotRolledBack(t *testing.T) {
	h := hosttest.New()
	h.CloseErr = errors.New("browser said no")
	kv := storage.NewMemory()
	seed(t, kv, types.StoredTabs{Pinned: []*types.Tab{{ID: "p1", URL: "https://p", HostTabID: 5, IsPinned: true, PinnedURL: "https://p"}}})
	s := loaded(t, h, kv)

	if err := s.RemoveTab(context.Background(), "p1"); err != nil {
		t.Fatalf("RemoveTab should not surface close errors, got %v", err)
	}
	if len(s.Tabs()) != 0 {
		t.Error("tab should stay removed")
	}
	if n := countCalls(h.CallLog(), "close 5"); n != 1 {
		t.Errorf("calls = %v", h.CallLog())
	}
}

func TestRestoreCollapsesNewTabPage(t *testing.T) {
	h := hosttest.New()
	h.AddTab(types.HostTab{ID: 10, URL: "chrome://newtab/", Active: true})
	kv := storage.NewMemory()
	seed(t, kv, types.StoredTabs{Unpinned: []*types.Tab{
		{ID: "u0", URL: "https://kept", HostTabID: 2},
		{ID: "u1", URL: "chrome://newtab/", HostTabID: 3},
	}})
	s := loaded(t, h, kv)

	newTabs := 0
	for _, tab := range s.Tabs() {
		if tab.URL == "chrome://newtab/" {
			newTabs++
			if tab.HostTabID != 10 {
				t.Errorf("new-tab entry should mirror live tab 10, got %d", tab.HostTabID)
			}
			if s.ActiveTabID() != tab.ID {
				t.Errorf("ActiveTabID = %q, want %q", s.ActiveTabID(), tab.ID)
			}
		}
	}
	if newTabs != 1 {
		t.Errorf("expected exactly one new-tab entry, got %d", newTabs)
	}
	if _, ok := s.Tab("u0"); !ok {
		t.Error("unrelated tab u0 should survive restore")
	}
}

func TestRestoreKeepsNewTabWhenActiveIsNot(t *testing.T) {
	h := hosttest.New()
	h.AddTab(types.HostTab{ID: 10, URL: "https://site", Active: true})
	kv := storage.NewMemory()
	seed(t, kv, types.StoredTabs{Unpinned: []*types.Tab{{ID: "u1", URL: "chrome://newtab/", HostTabID: 3}}})
	s := loaded(t, h, kv)

	if _, ok := s.Tab("u1"); !ok {
		t.Error("new-tab entry should be kept when the active tab is not a new-tab page")
	}
}

func TestRestoreRunsOnce(t *testing.T) {
	h := hosttest.New()
	h.AddTab(types.HostTab{ID: 1, URL: "https://a", Active: true})
	h.AddTab(types.HostTab{ID: 2, URL: "https://b"})
	kv := storage.NewMemory()
	s := loaded(t, h, kv)

	before := len(s.Tabs())
	if before != 2 {
		t.Fatalf("expected 2 tabs after restore, got %d", before)
	}

	// A second trigger of the loaded transition must not duplicate entries.
	h.AddTab(types.HostTab{ID: 3, URL: "https://c"})
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if after := len(s.Tabs()); after != before {
		t.Errorf("tab count changed from %d to %d on second load", before, after)
	}
	checkInvariants(t, s)
}

func TestEventsBeforeLoadDoNotPersist(t *testing.T) {
	h := hosttest.New()
	kv := storage.NewMemory()
	seed(t, kv, types.StoredTabs{Unpinned: []*types.Tab{{ID: "u1", URL: "https://old", HostTabID: 3}}})
	s := New(h, kv, Options{})

	s.HandleEvent(host.Event{Kind: host.EventUpdated, TabID: 3, Tab: types.HostTab{ID: 3, URL: "https://new"}})
	s.HandleEvent(host.Event{Kind: host.EventCreated, TabID: 9, Tab: types.HostTab{ID: 9, URL: "https://early"}})

	raw, _, _ := kv.Get(context.Background(), StorageKey)
	var stored types.StoredTabs
	json.Unmarshal([]byte(raw), &stored)
	if len(stored.Unpinned) != 1 || stored.Unpinned[0].ID != "u1" {
		t.Fatalf("stored record changed before load: %s", raw)
	}

	if s.Restored() {
		t.Fatal("store should not be restored before Load")
	}
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !s.Restored() {
		t.Error("store should be restored after Load")
	}
	if tab, ok := s.Tab("u1"); !ok || tab.URL != "https://old" {
		t.Errorf("persisted tab not loaded: %+v", tab)
	}
}

func TestChangePinState(t *testing.T) {
	h := hosttest.New()
	h.AddTab(types.HostTab{ID: 1, URL: "https://a"})
	s := loaded(t, h, storage.NewMemory())
	id := s.Tabs()[0].ID

	s.ChangePinState(id)
	pinned := s.Pinned()
	if len(pinned) != 1 || len(s.Unpinned()) != 0 {
		t.Fatalf("tab not moved to pinned: pinned=%+v", pinned)
	}
	if pinned[0].PinnedURL != "https://a" || pinned[0].ID != id {
		t.Errorf("unexpected pinned tab: %+v", pinned[0])
	}

	// Navigation does not move the pinned URL.
	s.HandleEvent(host.Event{Kind: host.EventUpdated, TabID: 1, Tab: types.HostTab{ID: 1, URL: "https://a/next", Title: "Next"}})
	tab, _ := s.Tab(id)
	if tab.URL != "https://a/next" || tab.PinnedURL != "https://a" || !tab.IsPinned {
		t.Errorf("after navigation: %+v", tab)
	}

	s.ChangePinState(id)
	if len(s.Pinned()) != 0 || len(s.Unpinned()) != 1 {
		t.Fatal("tab not moved back to unpinned")
	}
	tab, _ = s.Tab(id)
	if tab.IsPinned || tab.PinnedURL != "" {
		t.Errorf("unpinned tab kept pin fields: %+v", tab)
	}
	checkInvariants(t, s)
}

func TestUpdatedEventPreservesIdentityAndCustomTitle(t *testing.T) {
	h := hosttest.New()
	h.AddTab(types.HostTab{ID: 1, URL: "https://a", Title: "A"})
	s := loaded(t, h, storage.NewMemory())
	id := s.Tabs()[0].ID
	s.RenameTab(id, "  My tab  ")

	s.mu.Lock()
	ref := s.tabByIDLocked(id)
	s.mu.Unlock()

	s.HandleEvent(host.Event{Kind: host.EventUpdated, TabID: 1, Tab: types.HostTab{ID: 1, URL: "https://b", Title: "B"}})

	s.mu.Lock()
	same := s.tabByIDLocked(id)
	s.mu.Unlock()
	if same != ref {
		t.Error("update replaced the tab object instead of overwriting it")
	}
	tab, _ := s.Tab(id)
	if tab.CustomTitle != "My tab" || tab.Title != "B" || tab.URL != "https://b" {
		t.Errorf("unexpected tab after update: %+v", tab)
	}
	if tab.DisplayTitle() != "My tab" {
		t.Errorf("DisplayTitle = %q", tab.DisplayTitle())
	}
}

func TestActivatedAndRemovedEvents(t *testing.T) {
	h := hosttest.New()
	h.AddTab(types.HostTab{ID: 1, URL: "https://a"})
	h.AddTab(types.HostTab{ID: 2, URL: "https://b"})
	s := loaded(t, h, storage.NewMemory())

	s.HandleEvent(host.Event{Kind: host.EventActivated, TabID: 2})
	active, _ := s.Tab(s.ActiveTabID())
	if active.HostTabID != 2 {
		t.Errorf("active host tab = %d, want 2", active.HostTabID)
	}

	s.HandleEvent(host.Event{Kind: host.EventActivated, TabID: 99})
	if active.ID != s.ActiveTabID() {
		t.Error("activation miss should not change the active tab")
	}

	s.HandleEvent(host.Event{Kind: host.EventRemoved, TabID: 1})
	s.HandleEvent(host.Event{Kind: host.EventRemoved, TabID: 99})
	if s.HasHostTab(1) || len(s.Tabs()) != 1 {
		t.Errorf("unexpected tabs after remove: %+v", s.Tabs())
	}
}

func TestMoveTab(t *testing.T) {
	h := hosttest.New()
	for i := 1; i <= 3; i++ {
		h.AddTab(types.HostTab{ID: i})
	}
	s := loaded(t, h, storage.NewMemory())
	tabs := s.Unpinned()

	s.MoveTab(tabs[2].ID, 0)
	got := s.Unpinned()
	if got[0].ID != tabs[2].ID || got[1].ID != tabs[0].ID || got[2].ID != tabs[1].ID {
		t.Errorf("unexpected order after move to front: %v", hostIDs(got))
	}

	s.MoveTab(tabs[2].ID, 100)
	got = s.Unpinned()
	if got[2].ID != tabs[2].ID {
		t.Errorf("unexpected order after move past end: %v", hostIDs(got))
	}
}

func hostIDs(tabs []types.Tab) []int {
	ids := make([]int, len(tabs))
	for i, t := range tabs {
		ids[i] = t.HostTabID
	}
	return ids
}

func TestPersistsThroughLockable(t *testing.T) {
	ctx := context.Background()
	h := hosttest.New()
	h.AddTab(types.HostTab{ID: 1, URL: "https://a"})
	mem := storage.NewMemory()
	lk := storage.NewLockable(mem, time.Hour)
	s := loaded(t, h, lk)
	s.ChangePinState(s.Tabs()[0].ID)

	if _, ok, _ := mem.Get(ctx, StorageKey); ok {
		t.Fatal("write should still be pending")
	}
	if err := lk.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	again := loaded(t, hosttest.New(), mem)
	if len(again.Pinned()) != 1 {
		t.Errorf("pinned tab not persisted: %+v", again.Snapshot())
	}
}

func TestShutdownLocksStorage(t *testing.T) {
	ctx := context.Background()
	h := hosttest.New()
	h.AddTab(types.HostTab{ID: 1, URL: "https://a"})
	mem := storage.NewMemory()
	lk := storage.NewLockable(mem, 20*time.Millisecond)
	s := loaded(t, h, lk)
	if err := lk.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// The browser closes every tab, then announces it is shutting down.
	s.HandleEvent(host.Event{Kind: host.EventRemoved, TabID: 1})
	s.HandleEvent(host.Event{Kind: host.EventShutdown})
	time.Sleep(60 * time.Millisecond)

	if !lk.Locked() {
		t.Fatal("storage should be locked after shutdown")
	}
	again := loaded(t, hosttest.New(), mem)
	if len(again.Tabs()) != 1 {
		t.Errorf("shutdown removals leaked to disk: %+v", again.Snapshot())
	}
}

func TestRunAppliesEvents(t *testing.T) {
	h := hosttest.New()
	s := loaded(t, h, storage.NewMemory())
	// Drain the signal from restore.
	select {
	case <-s.Changes():
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	if err := s.CreateNewTab(ctx); err != nil {
		t.Fatalf("CreateNewTab: %v", err)
	}

	select {
	case <-s.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	if len(s.Unpinned()) != 1 {
		t.Errorf("expected created tab, got %+v", s.Unpinned())
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	h := hosttest.New()
	h.AddTab(types.HostTab{ID: 1, URL: "https://a"})
	s := loaded(t, h, storage.NewMemory())

	snap := s.Snapshot()
	snap.Unpinned[0].URL = "mutated"

	if s.Unpinned()[0].URL != "https://a" {
		t.Error("Snapshot shares tab objects with the store")
	}
}

func TestUnboundTabsSurviveLoadAndReopen(t *testing.T) {
	h := hosttest.New()
	kv := storage.NewMemory()
	seed(t, kv, types.StoredTabs{
		Unpinned: []*types.Tab{
			{ID: "a", URL: "https://a"},
			{ID: "b", URL: "https://b"},
		},
	})
	s := loaded(t, h, kv)
	checkInvariants(t, s)

	if n := len(s.Unpinned()); n != 2 {
		t.Fatalf("expected both unbound tabs kept, got %d", n)
	}

	if err := s.ActivateTab(context.Background(), "b"); err != nil {
		t.Fatalf("ActivateTab: %v", err)
	}
	drain(s, h)
	checkInvariants(t, s)

	tab, ok := s.Tab("b")
	if !ok || tab.HostTabID == 0 {
		t.Fatalf("tab b not rebound: %+v", tab)
	}
	if countCalls(h.CallLog(), "create https://b") != 1 {
		t.Errorf("calls = %v", h.CallLog())
	}
	if countCalls(h.CallLog(), "activate 0") != 0 {
		t.Errorf("unbound tab activated on host: %v", h.CallLog())
	}
	if n := len(s.Tabs()); n != 2 {
		t.Errorf("expected 2 tabs after reopen, got %d", n)
	}
}

func TestReadWriteStored(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()

	empty, err := ReadStored(ctx, kv)
	if err != nil || empty.Len() != 0 {
		t.Fatalf("ReadStored on empty kv = %+v, %v", empty, err)
	}

	want := types.StoredTabs{Pinned: []*types.Tab{{ID: "p", URL: "https://p", IsPinned: true, PinnedURL: "https://p"}}}
	if err := WriteStored(ctx, kv, want); err != nil {
		t.Fatalf("WriteStored: %v", err)
	}
	got, err := ReadStored(ctx, kv)
	if err != nil {
		t.Fatalf("ReadStored: %v", err)
	}
	if got.Len() != 1 || got.Pinned[0].ID != "p" {
		t.Errorf("got %+v", got)
	}

	if err := kv.Set(ctx, StorageKey, "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadStored(ctx, kv); err == nil {
		t.Error("expected decode error for corrupt record")
	}
}

func TestRemoveUnboundTabSkipsHost(t *testing.T) {
	h := hosttest.New()
	kv := storage.NewMemory()
	seed(t, kv, types.StoredTabs{Pinned: []*types.Tab{{ID: "p1", URL: "https://p", IsPinned: true, PinnedURL: "https://p"}}})
	s := loaded(t, h, kv)

	if err := s.RemoveTab(context.Background(), "p1"); err != nil {
		t.Fatalf("RemoveTab: %v", err)
	}
	if len(s.Tabs()) != 0 {
		t.Errorf("tabs = %+v", s.Tabs())
	}
	if n := countCalls(h.CallLog(), "close 0"); n != 0 {
		t.Errorf("unbound tab closed on host: %v", h.CallLog())
	}
}

func TestRestoreBindsUnboundTabByURL(t *testing.T) {
	h := hosttest.New()
	h.AddTab(types.HostTab{ID: 7, URL: "https://mail/inbox", Title: "Inbox", Active: true})
	kv := storage.NewMemory()
	seed(t, kv, types.StoredTabs{Pinned: []*types.Tab{
		{ID: "p1", URL: "https://mail", CustomTitle: "Mail", IsPinned: true, PinnedURL: "https://mail/inbox"},
	}})
	s := loaded(t, h, kv)
	checkInvariants(t, s)

	if n := len(s.Tabs()); n != 1 {
		t.Fatalf("expected live tab to bind to p1, got %+v", s.Tabs())
	}
	tab, _ := s.Tab("p1")
	if tab.HostTabID != 7 || tab.CustomTitle != "Mail" || !tab.IsPinned {
		t.Errorf("tab = %+v", tab)
	}
	if s.ActiveTabID() != "p1" {
		t.Errorf("active = %q", s.ActiveTabID())
	}
}

func TestRebindByURLIgnoresStaleHostIDs(t *testing.T) {
	stored := types.StoredTabs{Unpinned: []*types.Tab{
		{ID: "x", URL: "https://x", HostTabID: 1},
		{ID: "y", URL: "https://y", HostTabID: 2},
	}}
	newHost := func() *hosttest.Fake {
		h := hosttest.New()
		h.AddTab(types.HostTab{ID: 1, URL: "https://y"})
		h.AddTab(types.HostTab{ID: 2, URL: "https://x"})
		h.AddTab(types.HostTab{ID: 3, URL: "https://z"})
		return h
	}

	kv := storage.NewMemory()
	seed(t, kv, stored)
	s := New(newHost(), kv, Options{RebindByURL: true})
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	checkInvariants(t, s)

	x, _ := s.Tab("x")
	y, _ := s.Tab("y")
	if x.HostTabID != 2 || y.HostTabID != 1 {
		t.Errorf("x bound to %d, y bound to %d; want 2 and 1", x.HostTabID, y.HostTabID)
	}
	if n := len(s.Tabs()); n != 3 {
		t.Errorf("expected x, y and a new tab for z, got %+v", s.Tabs())
	}

	// Without the option the stored ids are trusted.
	kv = storage.NewMemory()
	seed(t, kv, stored)
	s = loaded(t, newHost(), kv)
	x, _ = s.Tab("x")
	if x.HostTabID != 1 {
		t.Errorf("x bound to %d, want stored id 1", x.HostTabID)
	}
}
