package tabstore

import (
	"context"
	"errors"

	"github.com/roamiiing/vibetabber/internal/applog"
	"github.com/roamiiing/vibetabber/internal/host"
	"github.com/roamiiing/vibetabber/internal/mapper"
	"github.com/roamiiing/vibetabber/internal/sliceutil"
	"github.com/roamiiing/vibetabber/internal/types"
)

// ErrShutdown is returned by Run once the browser has announced it is
// quitting. The store's storage is locked by then and the store is done.
var ErrShutdown = errors.New("browser shut down")

// Run applies host events until ctx is done, the host closes its event
// channel, or the browser shuts down. It may be started before Load.
func (s *Store) Run(ctx context.Context) error {
	events := s.host.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.HandleEvent(ev)
			if ev.Kind == host.EventShutdown {
				return ErrShutdown
			}
		}
	}
}

// HandleEvent applies a single host event. Events about tabs the store does
// not know are ignored.
func (s *Store) HandleEvent(ev host.Event) {
	switch ev.Kind {
	case host.EventCreated:
		s.onCreated(ev)
	case host.EventActivated:
		s.onActivated(ev)
	case host.EventRemoved:
		s.onRemoved(ev)
	case host.EventUpdated:
		s.onUpdated(ev)
	case host.EventShutdown:
		s.onShutdown()
	default:
		applog.Info("store.event.unknown", "kind", ev.Kind)
	}
}

func (s *Store) onCreated(ev host.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.restoringTab {
		s.restoringTab = false
		applog.Debug("store.created.suppressed", "hostTabId", ev.Tab.ID)
		return
	}
	if s.tabByHostIDLocked(ev.Tab.ID) != nil {
		return
	}

	tab := mapper.HostTabToTab(ev.Tab, nil)
	s.unpinned = append(s.unpinned, &tab)
	s.persistLocked()
	s.notifyLocked()
}

func (s *Store) onActivated(ev host.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.withTab(byHostID(ev.TabID), func(t *types.Tab) {
		s.activeTabID = t.ID
		s.notifyLocked()
	})
}

func (s *Store) onRemoved(ev host.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.withTab(byHostID(ev.TabID), func(t *types.Tab) {
		s.removeLocked(t)
		s.persistLocked()
		s.notifyLocked()
	})
}

func (s *Store) onUpdated(ev host.Event) {
	snapshot := ev.Tab
	if snapshot.ID == 0 {
		snapshot.ID = ev.TabID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.withTab(byHostID(ev.TabID), func(t *types.Tab) {
		sliceutil.Overwrite(t, mapper.HostTabToTab(snapshot, t))
		s.persistLocked()
		s.notifyLocked()
	})
}

// onShutdown stops persistence for good: the removals that preceded the
// shutdown signal must not reach disk.
func (s *Store) onShutdown() {
	applog.Info("store.shutdown")
	if l, ok := s.kv.(Locker); ok {
		l.Lock()
	}
}
