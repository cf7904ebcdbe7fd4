package tabstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roamiiing/vibetabber/internal/host"
	"github.com/roamiiing/vibetabber/internal/host/hosttest"
	"github.com/roamiiing/vibetabber/internal/storage"
	"github.com/roamiiing/vibetabber/internal/types"
)

// startSession runs ss in the background and waits for its store to restore.
func startSession(t *testing.T, ctx context.Context, ss *Sessions, ended <-chan struct{}) (*Store, <-chan error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- ss.Run(ctx, ended) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := ss.Current(); s != nil && s.Restored() {
			return s, done
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session never restored")
	return nil, nil
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func storedURLs(t *testing.T, kv storage.KV) map[string]int {
	t.Helper()
	stored, err := ReadStored(context.Background(), kv)
	if err != nil {
		t.Fatalf("ReadStored: %v", err)
	}
	urls := map[string]int{}
	for _, tab := range append(stored.Pinned, stored.Unpinned...) {
		urls[tab.URL] = tab.HostTabID
	}
	return urls
}

func TestSessionAfterBrowserRestart(t *testing.T) {
	h := hosttest.New()
	h.AddTab(types.HostTab{ID: 1, URL: "https://a", Active: true})
	kv := storage.NewMemory()
	seed(t, kv, types.StoredTabs{Unpinned: []*types.Tab{{ID: "a", URL: "https://a", HostTabID: 1}}})
	ss := NewSessions(h, kv, time.Minute, Options{})

	// First browser session: the user quits, which closes every tab first.
	first, done := startSession(t, context.Background(), ss, nil)
	h.DropTab(1)
	h.Emit(host.Event{Kind: host.EventRemoved, TabID: 1})
	h.Emit(host.Event{Kind: host.EventShutdown})
	if err := waitErr(t, done); !errors.Is(err, ErrShutdown) {
		t.Fatalf("first session ended with %v, want ErrShutdown", err)
	}
	if ss.Current() != nil {
		t.Error("finished session still current")
	}
	if len(first.Tabs()) != 0 {
		t.Errorf("first store should have seen the removal, has %+v", first.Tabs())
	}
	if urls := storedURLs(t, kv); urls["https://a"] != 1 {
		t.Errorf("shutdown removal reached disk: %v", urls)
	}

	// The browser comes back with a different page under the same id.
	h.AddTab(types.HostTab{ID: 1, URL: "https://b", Active: true})
	ctx, cancel := context.WithCancel(context.Background())
	second, done := startSession(t, ctx, ss, nil)
	if second == first {
		t.Fatal("second session reused the first store")
	}
	tab, ok := second.Tab(second.ActiveTabID())
	if !ok || tab.ID != "a" || tab.HostTabID != 1 || tab.URL != "https://b" {
		t.Errorf("live tab 1 not restored: %+v", second.Tabs())
	}

	if err := second.CreateNewTab(ctx); err != nil {
		t.Fatalf("CreateNewTab: %v", err)
	}
	waitFor(t, "created tab", func() bool { return len(second.Tabs()) == 2 })

	cancel()
	if err := waitErr(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("second session ended with %v", err)
	}
	urls := storedURLs(t, kv)
	if len(urls) != 2 || urls["https://b"] != 1 {
		t.Errorf("persisted = %v, want https://b and the new tab", urls)
	}
}

func TestSessionEndsWithConnection(t *testing.T) {
	h := hosttest.New()
	h.AddTab(types.HostTab{ID: 4, URL: "https://a"})
	kv := storage.NewMemory()
	ss := NewSessions(h, kv, time.Minute, Options{})

	ended := make(chan struct{})
	s, done := startSession(t, context.Background(), ss, ended)
	s.RenameTab(s.Tabs()[0].ID, "Mine")

	close(ended)
	if err := waitErr(t, done); err != nil {
		t.Fatalf("session ended with %v", err)
	}
	stored, err := ReadStored(context.Background(), kv)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Unpinned) != 1 || stored.Unpinned[0].CustomTitle != "Mine" {
		t.Errorf("pending write not flushed on disconnect: %+v", stored)
	}
}
