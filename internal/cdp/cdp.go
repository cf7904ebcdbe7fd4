// Package cdp drives a Chromium browser over the DevTools protocol and
// presents its page targets as host tabs.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cdpproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/roamiiing/vibetabber/internal/applog"
	"github.com/roamiiing/vibetabber/internal/host"
	"github.com/roamiiing/vibetabber/internal/types"
)

const targetTypePage = "page"

// DefaultURL is where a locally started browser listens for DevTools clients.
const DefaultURL = "ws://127.0.0.1:9222"

const closeTimeout = 5 * time.Second

var _ host.Host = (*Host)(nil)

// Host is a host.Host backed by a remote browser. CDP identifies targets by
// opaque strings; Host hands out numeric ids in discovery order and keeps
// them for the lifetime of the connection.
type Host struct {
	parent     context.Context
	browserCtx context.Context
	cancel     context.CancelFunc
	self       target.ID
	// closing is set by Shutdown. A connection we end ourselves is not the
	// browser quitting.
	closing atomic.Bool

	mu      sync.Mutex
	ids     map[target.ID]int
	targets map[int]target.ID
	next    int

	// queue holds translated events until pump hands them to the consumer.
	// Browser listeners must not block, so they only append here.
	queue  []host.Event
	wake   chan struct{}
	events chan host.Event
}

func newHost() *Host {
	return &Host{
		ids:     make(map[target.ID]int),
		targets: make(map[int]target.ID),
		wake:    make(chan struct{}, 1),
		events:  make(chan host.Event),
	}
}

// Dial connects to the browser whose DevTools endpoint is at url and starts
// listening for target changes. The returned Host stays connected until ctx
// is cancelled or Shutdown is called.
func Dial(ctx context.Context, url string) (*Host, error) {
	if url == "" {
		url = DefaultURL
	}
	applog.Info("cdp.dial", "url", url)

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, url)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		browserCancel()
		allocCancel()
	}

	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	h := newHost()
	h.parent = ctx
	h.browserCtx = browserCtx
	h.cancel = cancel
	// The connection needs a page of its own; it is not one of the user's tabs.
	h.self = chromedp.FromContext(browserCtx).Target.TargetID

	chromedp.ListenBrowser(browserCtx, h.onBrowserEvent)
	if err := target.SetDiscoverTargets(true).Do(h.browserExec(browserCtx)); err != nil {
		cancel()
		return nil, fmt.Errorf("discover targets: %w", err)
	}

	go h.pump()
	return h, nil
}

// Shutdown disconnects from the browser and closes Events. No shutdown event
// is sent, since the browser itself keeps running.
func (h *Host) Shutdown() {
	h.closing.Store(true)
	if h.cancel != nil {
		h.cancel()
	}
}

// Events implements host.Host.
func (h *Host) Events() <-chan host.Event {
	return h.events
}

// browserExec returns a context whose commands go to the browser session
// rather than the connection's own page.
func (h *Host) browserExec(ctx context.Context) context.Context {
	c := chromedp.FromContext(h.browserCtx)
	return cdpproto.WithExecutor(ctx, c.Browser)
}

// Query implements host.Host.
func (h *Host) Query(ctx context.Context) ([]types.HostTab, error) {
	infos, err := target.GetTargets().Do(h.browserExec(ctx))
	if err != nil {
		return nil, fmt.Errorf("get targets: %w", err)
	}
	tabs := make([]types.HostTab, 0, len(infos))
	for _, info := range infos {
		if !h.isTab(info) {
			continue
		}
		tabs = append(tabs, h.hostTab(info))
	}
	return tabs, nil
}

// Create implements host.Host.
func (h *Host) Create(ctx context.Context, url string) (types.HostTab, error) {
	if url == "" {
		url = "about:blank"
	}
	tid, err := target.CreateTarget(url).Do(h.browserExec(ctx))
	if err != nil {
		return types.HostTab{}, fmt.Errorf("create target: %w", err)
	}
	return types.HostTab{ID: h.idFor(tid), URL: url}, nil
}

// Activate implements host.Host. CDP has no activation event, so a
// successful activation is reported on Events as well.
func (h *Host) Activate(ctx context.Context, tabID int) error {
	tid, ok := h.targetFor(tabID)
	if !ok {
		return host.ErrTabNotFound
	}
	if err := target.ActivateTarget(tid).Do(h.browserExec(ctx)); err != nil {
		if !h.alive(ctx, tid) {
			return host.ErrTabNotFound
		}
		return fmt.Errorf("activate target: %w", err)
	}
	h.enqueue(host.Event{Kind: host.EventActivated, TabID: tabID})
	return nil
}

// Close implements host.Host.
func (h *Host) Close(ctx context.Context, tabID int) error {
	tid, ok := h.targetFor(tabID)
	if !ok {
		return host.ErrTabNotFound
	}
	closeCtx, cancel := context.WithTimeout(ctx, closeTimeout)
	defer cancel()
	if err := target.CloseTarget(tid).Do(h.browserExec(closeCtx)); err != nil {
		return fmt.Errorf("close target: %w", err)
	}
	return nil
}

// alive reports whether tid is still listed by the browser. Lookup errors
// count as alive so a flaky connection is not mistaken for a closed tab.
func (h *Host) alive(ctx context.Context, tid target.ID) bool {
	infos, err := target.GetTargets().Do(h.browserExec(ctx))
	if err != nil {
		return true
	}
	for _, info := range infos {
		if info.TargetID == tid {
			return true
		}
	}
	return false
}

func (h *Host) isTab(info *target.Info) bool {
	return info != nil && info.Type == targetTypePage && info.TargetID != h.self
}

func (h *Host) hostTab(info *target.Info) types.HostTab {
	return types.HostTab{
		ID:    h.idFor(info.TargetID),
		Title: info.Title,
		URL:   info.URL,
	}
}

func (h *Host) idFor(tid target.ID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.ids[tid]; ok {
		return id
	}
	h.next++
	h.ids[tid] = h.next
	h.targets[h.next] = tid
	return h.next
}

func (h *Host) targetFor(id int) (target.ID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tid, ok := h.targets[id]
	return tid, ok
}

func (h *Host) forget(tid target.ID) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.ids[tid]
	if ok {
		delete(h.ids, tid)
		delete(h.targets, id)
	}
	return id, ok
}

// translate turns a target discovery event into a host event.
func (h *Host) translate(ev any) (host.Event, bool) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		if !h.isTab(e.TargetInfo) {
			return host.Event{}, false
		}
		tab := h.hostTab(e.TargetInfo)
		return host.Event{Kind: host.EventCreated, TabID: tab.ID, Tab: tab}, true
	case *target.EventTargetInfoChanged:
		if !h.isTab(e.TargetInfo) {
			return host.Event{}, false
		}
		tab := h.hostTab(e.TargetInfo)
		return host.Event{Kind: host.EventUpdated, TabID: tab.ID, Tab: tab}, true
	case *target.EventTargetDestroyed:
		id, ok := h.forget(e.TargetID)
		if !ok {
			return host.Event{}, false
		}
		return host.Event{Kind: host.EventRemoved, TabID: id}, true
	}
	return host.Event{}, false
}

func (h *Host) onBrowserEvent(ev any) {
	if out, ok := h.translate(ev); ok {
		h.enqueue(out)
	}
}

func (h *Host) enqueue(ev host.Event) {
	h.mu.Lock()
	h.queue = append(h.queue, ev)
	h.mu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Host) dequeue() []host.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.queue
	h.queue = nil
	return out
}

// pump forwards queued events in order. When the browser connection ends it
// closes Events, after a shutdown event if the browser went away on its own.
func (h *Host) pump() {
	defer close(h.events)
	done := h.browserCtx.Done()
	for {
		select {
		case <-h.wake:
			for _, ev := range h.dequeue() {
				select {
				case h.events <- ev:
				case <-done:
					h.finish()
					return
				}
			}
		case <-done:
			h.finish()
			return
		}
	}
}

// browserQuit reports whether the connection ended without the parent
// context being cancelled or Shutdown being called.
func (h *Host) browserQuit() bool {
	if h.closing.Load() {
		return false
	}
	return h.parent == nil || h.parent.Err() == nil
}

func (h *Host) finish() {
	if !h.browserQuit() {
		applog.Info("cdp.closed")
		return
	}
	err := context.Cause(h.browserCtx)
	if errors.Is(err, context.Canceled) {
		applog.Info("cdp.disconnected")
	} else {
		applog.Error("cdp.disconnected", err)
	}
	// Nobody may be reading any more; don't wait long for them.
	select {
	case h.events <- host.Event{Kind: host.EventShutdown}:
	case <-time.After(time.Second):
	}
}
