// Package host describes the browser capabilities the tab store depends on.
package host

import (
	"context"
	"errors"

	"github.com/roamiiing/vibetabber/internal/types"
)

// ErrTabNotFound is returned when a host tab id no longer refers to a live tab.
var ErrTabNotFound = errors.New("host tab not found")

// EventKind identifies a host tab lifecycle event.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventActivated EventKind = "activated"
	EventRemoved   EventKind = "removed"
	EventUpdated   EventKind = "updated"
	// EventShutdown means the browser itself is closing. Tab removals that
	// preceded it were part of the shutdown, not user actions.
	EventShutdown EventKind = "shutdown"
)

// Event is a single notification from the host. TabID is set for every kind
// except shutdown; Tab is set for created and updated.
type Event struct {
	Kind  EventKind
	TabID int
	Tab   types.HostTab
}

// Host is the live browser.
type Host interface {
	// Query lists every open tab.
	Query(ctx context.Context) ([]types.HostTab, error)
	// Create opens a new tab, at url if non-empty.
	Create(ctx context.Context, url string) (types.HostTab, error)
	// Activate focuses a tab. It returns ErrTabNotFound if the tab is gone.
	Activate(ctx context.Context, tabID int) error
	// Close closes a tab.
	Close(ctx context.Context, tabID int) error
	// Events delivers tab lifecycle events until the host shuts down.
	Events() <-chan Event
}
