package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// AsyncLedger buffers appends through a channel so request paths never block
// on audit I/O. A background worker drains the channel into the wrapped
// sink. Queries go straight to the sink and may lag buffered entries by a
// worker tick; the ledger is best-effort by contract.
type AsyncLedger struct {
	sink   Ledger
	inbox  chan Entry
	logger *slog.Logger
}

func NewAsyncLedger(sink Ledger, buffer int, logger *slog.Logger) *AsyncLedger {
	if buffer <= 0 {
		buffer = 256
	}
	return &AsyncLedger{
		sink:   sink,
		inbox:  make(chan Entry, buffer),
		logger: logger,
	}
}

// Append enqueues the entry. When the buffer is full it falls back to a
// synchronous write rather than dropping the entry.
func (l *AsyncLedger) Append(ctx context.Context, entry Entry) error {
	select {
	case l.inbox <- entry:
		return nil
	default:
		return l.sink.Append(ctx, entry)
	}
}

func (l *AsyncLedger) Query(ctx context.Context, businessKey string, since time.Time) ([]Entry, error) {
	return l.sink.Query(ctx, businessKey, since)
}

// Run drains the inbox until ctx is cancelled, then flushes what is left.
func (l *AsyncLedger) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.flush()
			return ctx.Err()
		case entry := <-l.inbox:
			l.persist(entry)
		}
	}
}

func (l *AsyncLedger) flush() {
	for {
		select {
		case entry := <-l.inbox:
			l.persist(entry)
		default:
			return
		}
	}
}

func (l *AsyncLedger) persist(entry Entry) {
	// Detached context: a cancelled request must not lose its audit entry.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.sink.Append(ctx, entry); err != nil {
		l.logger.Error("audit append failed",
			"error", fmt.Errorf("append: %w", err),
			"business_key", entry.BusinessKey,
			"version_id", entry.VersionID,
		)
	}
}
