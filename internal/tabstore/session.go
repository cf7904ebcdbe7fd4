package tabstore

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/roamiiing/vibetabber/internal/applog"
	"github.com/roamiiing/vibetabber/internal/host"
	"github.com/roamiiing/vibetabber/internal/storage"
)

const flushTimeout = 5 * time.Second

// Sessions runs one Store per browser session over a shared kv. A store
// restores once, so a browser that quits and comes back needs a new one; its
// lockable layer is new too, since the old one was locked by the shutdown.
type Sessions struct {
	host       host.Host
	kv         storage.KV
	writeDelay time.Duration
	opts       Options

	current atomic.Pointer[Store]
}

// NewSessions prepares sessions over h that persist to kv, holding each write
// for writeDelay.
func NewSessions(h host.Host, kv storage.KV, writeDelay time.Duration, opts Options) *Sessions {
	return &Sessions{host: h, kv: kv, writeDelay: writeDelay, opts: opts}
}

// Current returns the store of the running session, or nil between sessions.
func (ss *Sessions) Current() *Store {
	return ss.current.Load()
}

// Run loads a fresh store and applies host events to it until ctx is done,
// ended is closed, or the browser shuts down (ErrShutdown). Pending writes
// are flushed on the way out unless the shutdown locked them away. A nil
// ended never fires.
func (ss *Sessions) Run(ctx context.Context, ended <-chan struct{}) error {
	lockable := storage.NewLockable(ss.kv, ss.writeDelay)
	store := New(ss.host, lockable, ss.opts)
	ss.current.Store(store)
	defer ss.current.CompareAndSwap(store, nil)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- store.Run(runCtx) }()

	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case <-store.Changes():
				applog.Debug("session.changed",
					"pinned", len(store.Pinned()),
					"unpinned", len(store.Unpinned()),
					"active", store.ActiveTabID(),
				)
			}
		}
	}()

	if err := store.Load(runCtx); err != nil {
		applog.Error("session.load", err)
	}
	applog.Info("session.started", "tabs", len(store.Tabs()))

	var err error
	finished := false
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-ended:
		applog.Info("session.disconnected")
	case err = <-runErr:
		finished = true
	}
	cancel()
	if !finished {
		<-runErr
	}

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), flushTimeout)
	defer cancelFlush()
	if ferr := lockable.Flush(flushCtx); ferr != nil {
		applog.Error("session.flush", ferr)
		err = errors.Join(err, ferr)
	}
	applog.Info("session.stopped", "locked", lockable.Locked(), "err", err)
	return err
}
