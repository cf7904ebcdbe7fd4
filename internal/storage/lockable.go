package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/roamiiing/vibetabber/internal/applog"
)

// DefaultWriteDelay is how long Lockable holds a write before performing it.
const DefaultWriteDelay = time.Second

// Lockable defers writes to an underlying KV and can be locked to drop them.
//
// The browser reports every tab as closed during shutdown before it reports
// the shutdown itself. Holding writes for a short window and locking once the
// shutdown is confirmed keeps that transient state off disk. Reads are never
// delayed.
type Lockable struct {
	kv    KV
	delay time.Duration

	mu      sync.Mutex
	locked  bool
	pending map[string]*pendingWrite

	// writeMu serializes writes so they reach kv in schedule order.
	writeMu sync.Mutex
}

type pendingWrite struct {
	timer  *time.Timer
	value  string
	remove bool
}

// NewLockable wraps kv. A non-positive delay uses DefaultWriteDelay.
func NewLockable(kv KV, delay time.Duration) *Lockable {
	if delay <= 0 {
		delay = DefaultWriteDelay
	}
	return &Lockable{kv: kv, delay: delay, pending: make(map[string]*pendingWrite)}
}

func (l *Lockable) Get(ctx context.Context, key string) (string, bool, error) {
	return l.kv.Get(ctx, key)
}

// Set schedules a write and returns immediately. A later Set or Remove for
// the same key replaces a write that has not happened yet.
func (l *Lockable) Set(_ context.Context, key, value string) error {
	l.schedule(key, &pendingWrite{value: value})
	return nil
}

// Remove schedules a delete, with the same semantics as Set.
func (l *Lockable) Remove(_ context.Context, key string) error {
	l.schedule(key, &pendingWrite{remove: true})
	return nil
}

// Lock permanently drops pending and future writes.
func (l *Lockable) Lock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked {
		return
	}
	l.locked = true
	for key, p := range l.pending {
		p.timer.Stop()
		delete(l.pending, key)
	}
	applog.Info("storage.locked")
}

// Locked reports whether Lock has been called.
func (l *Lockable) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// Pending returns the number of writes waiting for their delay to pass.
func (l *Lockable) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Flush performs every pending write now. It is a no-op once locked.
func (l *Lockable) Flush(ctx context.Context) error {
	l.mu.Lock()
	batch := make(map[string]*pendingWrite, len(l.pending))
	for key, p := range l.pending {
		p.timer.Stop()
		batch[key] = p
		delete(l.pending, key)
	}
	l.mu.Unlock()

	var errs []error
	for key, p := range batch {
		if err := l.perform(ctx, key, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Lockable) schedule(key string, p *pendingWrite) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked {
		return
	}
	if prev, ok := l.pending[key]; ok {
		prev.timer.Stop()
	}
	l.pending[key] = p
	p.timer = time.AfterFunc(l.delay, func() { l.fire(key, p) })
}

func (l *Lockable) fire(key string, p *pendingWrite) {
	l.mu.Lock()
	if l.locked || l.pending[key] != p {
		l.mu.Unlock()
		return
	}
	delete(l.pending, key)
	l.mu.Unlock()

	if err := l.perform(context.Background(), key, p); err != nil {
		applog.Error("storage.write", err, "key", key)
	}
}

func (l *Lockable) perform(ctx context.Context, key string, p *pendingWrite) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if p.remove {
		return l.kv.Remove(ctx, key)
	}
	return l.kv.Set(ctx, key, p.value)
}
