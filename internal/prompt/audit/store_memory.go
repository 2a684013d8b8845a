package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is the in-memory sink used in tests and dev mode. Entries are
// kept in append order per key.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string][]Entry)}
}

func (l *MemoryLedger) Append(ctx context.Context, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[entry.BusinessKey] = append(l.entries[entry.BusinessKey], entry)
	return nil
}

func (l *MemoryLedger) Query(ctx context.Context, businessKey string, since time.Time) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	for _, e := range l.entries[businessKey] {
		if since.IsZero() || !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}
