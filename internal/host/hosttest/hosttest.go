// Package hosttest provides an in-memory host.Host for tests.
package hosttest

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/roamiiing/vibetabber/internal/host"
	"github.com/roamiiing/vibetabber/internal/types"
)

// Fake is a scriptable browser. Tabs added with AddTab exist until closed.
// Create emits a created event and Close emits a removed event, as a real
// browser would.
type Fake struct {
	mu     sync.Mutex
	tabs   []types.HostTab
	nextID int
	events chan host.Event

	// Calls records every mutating call, e.g. "create https://a", "close 5".
	Calls []string
	// CloseErr is returned by Close when set.
	CloseErr error
	// BeforeCreateReturn runs after the created event is emitted but before
	// Create returns, to simulate event delivery racing the call.
	BeforeCreateReturn func(types.HostTab)
}

// New returns an empty fake host whose ids start at 1000.
func New() *Fake {
	return &Fake{nextID: 1000, events: make(chan host.Event, 64)}
}

// AddTab registers a live tab without emitting an event.
func (f *Fake) AddTab(tab types.HostTab) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tabs = append(f.tabs, tab)
}

// DropTab removes a tab without emitting an event, as if it was closed
// while nobody was listening.
func (f *Fake) DropTab(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drop(id)
}

// Emit delivers an event to the subscriber.
func (f *Fake) Emit(ev host.Event) {
	f.events <- ev
}

// CallLog returns a copy of the recorded calls.
func (f *Fake) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

func (f *Fake) Query(ctx context.Context) ([]types.HostTab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.HostTab(nil), f.tabs...), nil
}

func (f *Fake) Create(ctx context.Context, url string) (types.HostTab, error) {
	f.mu.Lock()
	f.nextID++
	tab := types.HostTab{ID: f.nextID, URL: url, Title: url}
	f.tabs = append(f.tabs, tab)
	f.Calls = append(f.Calls, "create "+url)
	hook := f.BeforeCreateReturn
	f.mu.Unlock()

	f.events <- host.Event{Kind: host.EventCreated, TabID: tab.ID, Tab: tab}
	if hook != nil {
		hook(tab)
	}
	return tab, nil
}

func (f *Fake) Activate(ctx context.Context, tabID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, "activate "+strconv.Itoa(tabID))
	found := false
	for i := range f.tabs {
		f.tabs[i].Active = f.tabs[i].ID == tabID
		found = found || f.tabs[i].ID == tabID
	}
	if !found {
		return host.ErrTabNotFound
	}
	return nil
}

func (f *Fake) Close(ctx context.Context, tabID int) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, "close "+strconv.Itoa(tabID))
	if f.CloseErr != nil {
		f.mu.Unlock()
		return f.CloseErr
	}
	existed := f.drop(tabID)
	f.mu.Unlock()

	if !existed {
		return errors.New("no tab with id " + strconv.Itoa(tabID))
	}
	f.events <- host.Event{Kind: host.EventRemoved, TabID: tabID}
	return nil
}

func (f *Fake) Events() <-chan host.Event {
	return f.events
}

func (f *Fake) drop(id int) bool {
	for i, t := range f.tabs {
		if t.ID == id {
			f.tabs = append(f.tabs[:i], f.tabs[i+1:]...)
			return true
		}
	}
	return false
}
