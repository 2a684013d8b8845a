package service

import (
	"context"
	"errors"
	"sync"

	"promptvault/pkg/platform/sentinel"
)

// keyLocks serializes mutating operations per business key inside this
// process. Different keys never contend. It does not protect against other
// processes; the backend's optimistic check covers those.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	ch   chan struct{} // capacity 1: the token in flight is the lock
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*lockEntry)}
}

// acquire blocks until the key's lock is free or ctx expires. The returned
// release function must be called exactly once. A caller abandoning the wait
// leaves no trace: entries are reference counted and removed when idle.
func (k *keyLocks) acquire(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	entry := k.locks[key]
	if entry == nil {
		entry = &lockEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		return func() {
			<-entry.ch
			k.release(key, entry)
		}, nil
	case <-ctx.Done():
		k.release(key, entry)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, sentinel.ErrTimeout
		}
		return nil, ctx.Err()
	}
}

func (k *keyLocks) release(key string, entry *lockEntry) {
	k.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}
