package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresLedger persists entries in the audit_entries table. The table has
// no UPDATE or DELETE path; inserts with a duplicate id are ignored so
// re-delivery stays idempotent.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id           TEXT PRIMARY KEY,
	timestamp    TIMESTAMPTZ NOT NULL,
	actor        TEXT NOT NULL,
	action       TEXT NOT NULL,
	business_key TEXT NOT NULL,
	version_id   BIGINT NOT NULL,
	checksum     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS audit_entries_key_ts ON audit_entries (business_key, timestamp);
`

// EnsureSchema applies the ledger schema. Safe to call on every startup and
// alongside the postgres backend, which creates the same table.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Append(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	query := `
		INSERT INTO audit_entries (id, timestamp, actor, action, business_key, version_id, checksum)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := l.db.ExecContext(ctx, query,
		entry.ID,
		entry.Timestamp,
		entry.Actor,
		string(entry.Action),
		entry.BusinessKey,
		entry.VersionID,
		entry.Checksum,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Query(ctx context.Context, businessKey string, since time.Time) ([]Entry, error) {
	query := `
		SELECT id, timestamp, actor, action, business_key, version_id, checksum
		FROM audit_entries
		WHERE business_key = $1 AND ($2::timestamptz IS NULL OR timestamp >= $2)
		ORDER BY timestamp ASC, version_id ASC
	`
	var sinceArg any
	if !since.IsZero() {
		sinceArg = since
	}

	rows, err := l.db.QueryContext(ctx, query, businessKey, sinceArg)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var entry Entry
		var action string
		if err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&entry.Actor,
			&action,
			&entry.BusinessKey,
			&entry.VersionID,
			&entry.Checksum,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Action = Action(action)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}
