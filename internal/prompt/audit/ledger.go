// Package audit implements the append-only ledger of version transitions.
// The version manager writes one entry per transition; sinks persist them.
// The ledger is deliberately decoupled from version storage: a failed append
// never rolls back a committed version, it is logged and surfaced instead.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Ledger is the append-only sink contract. Append fails only on underlying
// I/O failure. Query returns entries for a key in chronological order; the
// zero since value means "from the beginning".
type Ledger interface {
	Append(ctx context.Context, entry Entry) error
	Query(ctx context.Context, businessKey string, since time.Time) ([]Entry, error)
}

// Publisher stamps entries before handing them to a sink so call sites stay
// small and ids/timestamps are assigned in exactly one place.
type Publisher struct {
	sink Ledger
}

func NewPublisher(sink Ledger) *Publisher {
	return &Publisher{sink: sink}
}

func (p *Publisher) Append(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return p.sink.Append(ctx, entry)
}

func (p *Publisher) Query(ctx context.Context, businessKey string, since time.Time) ([]Entry, error) {
	return p.sink.Query(ctx, businessKey, since)
}
