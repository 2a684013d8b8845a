package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lib/pq"

	"promptvault/internal/prompt/diff"
	"promptvault/internal/prompt/models"
	"promptvault/internal/prompt/store"
	"promptvault/pkg/platform/sentinel"
)

// Store implements store.Backend on PostgreSQL. Two related tables:
// prompt_current holds exactly one row per live business key (the current
// version), prompt_versions is the append-only history keyed by
// (business_key, version_id). A promotion updates the current row and
// inserts the history row in one transaction, so partial application is
// never observable.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Schema creates the backing tables. Applied at startup; every statement is
// idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS prompt_current (
	business_key TEXT PRIMARY KEY,
	version_id   BIGINT NOT NULL,
	checksum     TEXT NOT NULL,
	snapshot     JSONB NOT NULL,
	diff         JSONB,
	created_at   TIMESTAMPTZ NOT NULL,
	created_by   TEXT NOT NULL,
	deleted_at   TIMESTAMPTZ,
	deleted_by   TEXT
);

CREATE TABLE IF NOT EXISTS prompt_versions (
	business_key TEXT NOT NULL,
	version_id   BIGINT NOT NULL,
	checksum     TEXT NOT NULL,
	snapshot     JSONB NOT NULL,
	diff         JSONB,
	created_at   TIMESTAMPTZ NOT NULL,
	created_by   TEXT NOT NULL,
	PRIMARY KEY (business_key, version_id)
);

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

// EnsureSchema applies the schema. Safe to call on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", classify(err))
	}
	return nil
}

func (s *Store) LoadCurrent(ctx context.Context, businessKey string, includeDeleted bool) (*models.Version, error) {
	query := `
		SELECT version_id, checksum, snapshot, diff, created_at, created_by
		FROM prompt_current
		WHERE business_key = $1 AND ($2 OR deleted_at IS NULL)
	`
	row := s.db.QueryRowContext(ctx, query, businessKey, includeDeleted)
	version, err := scanVersion(row, businessKey)
	if err != nil {
		return nil, fmt.Errorf("load current %q: %w", businessKey, err)
	}
	return version, nil
}

func (s *Store) StoreNewVersion(ctx context.Context, businessKey string, nv store.NewVersion, expectedPriorID int64) (*models.Version, error) {
	snapshotJSON, err := json.Marshal(nv.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("store version %q: marshal snapshot: %w", businessKey, err)
	}
	var diffJSON any
	if nv.Diff != nil {
		raw, err := json.Marshal(nv.Diff)
		if err != nil {
			return nil, fmt.Errorf("store version %q: marshal diff: %w", businessKey, err)
		}
		diffJSON = raw
	}

	version := models.Version{
		BusinessKey: businessKey,
		VersionID:   expectedPriorID + 1,
		Checksum:    nv.Checksum,
		Diff:        nv.Diff,
		Snapshot:    nv.Snapshot,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   nv.CreatedBy,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store version %q: begin: %w", businessKey, classify(err))
	}
	defer func() { _ = tx.Rollback() }()

	// The conditional write. Exactly one writer can move the current row
	// from expectedPriorID to the next id; everyone else sees zero rows.
	var res sql.Result
	if expectedPriorID == 0 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO prompt_current (business_key, version_id, checksum, snapshot, diff, created_at, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (business_key) DO NOTHING
		`, businessKey, version.VersionID, version.Checksum, snapshotJSON, diffJSON, version.CreatedAt, version.CreatedBy)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE prompt_current
			SET version_id = $2, checksum = $3, snapshot = $4, diff = $5, created_at = $6, created_by = $7
			WHERE business_key = $1 AND version_id = $8 AND deleted_at IS NULL
		`, businessKey, version.VersionID, version.Checksum, snapshotJSON, diffJSON, version.CreatedAt, version.CreatedBy, expectedPriorID)
	}
	if err != nil {
		return nil, fmt.Errorf("store version %q: promote: %w", businessKey, classify(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store version %q: rows affected: %w", businessKey, classify(err))
	}
	if affected == 0 {
		return nil, fmt.Errorf("store version %q: expected prior %d no longer current: %w",
			businessKey, expectedPriorID, sentinel.ErrConflict)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO prompt_versions (business_key, version_id, checksum, snapshot, diff, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, businessKey, version.VersionID, version.Checksum, snapshotJSON, diffJSON, version.CreatedAt, version.CreatedBy)
	if err != nil {
		return nil, fmt.Errorf("store version %q: archive: %w", businessKey, classify(err))
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store version %q: commit: %w", businessKey, classify(err))
	}
	return &version, nil
}

func (s *Store) ListVersions(ctx context.Context, businessKey string) ([]models.Version, error) {
	query := `
		SELECT version_id, checksum, snapshot, diff, created_at, created_by
		FROM prompt_versions
		WHERE business_key = $1
		ORDER BY version_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, businessKey)
	if err != nil {
		return nil, fmt.Errorf("list versions %q: %w", businessKey, classify(err))
	}
	defer rows.Close()

	var versions []models.Version
	for rows.Next() {
		version, err := scanVersion(rows, businessKey)
		if err != nil {
			return nil, fmt.Errorf("list versions %q: %w", businessKey, err)
		}
		versions = append(versions, *version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list versions %q: %w", businessKey, classify(err))
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("list versions %q: %w", businessKey, sentinel.ErrNotFound)
	}
	return versions, nil
}

func (s *Store) Tombstone(ctx context.Context, businessKey, actor string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE prompt_current
		SET deleted_at = $2, deleted_by = $3
		WHERE business_key = $1 AND deleted_at IS NULL
	`, businessKey, time.Now().UTC(), actor)
	if err != nil {
		return fmt.Errorf("tombstone %q: %w", businessKey, classify(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("tombstone %q: rows affected: %w", businessKey, classify(err))
	}
	if affected == 0 {
		return fmt.Errorf("tombstone %q: %w", businessKey, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Store) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT business_key FROM prompt_current
		WHERE deleted_at IS NULL
		ORDER BY business_key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", classify(err))
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("list keys: scan: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list keys: %w", classify(err))
	}
	return keys, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner, businessKey string) (*models.Version, error) {
	var (
		version      models.Version
		snapshotJSON []byte
		diffJSON     []byte
	)
	err := row.Scan(
		&version.VersionID,
		&version.Checksum,
		&snapshotJSON,
		&diffJSON,
		&version.CreatedAt,
		&version.CreatedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, classify(err)
	}
	version.BusinessKey = businessKey
	if err := json.Unmarshal(snapshotJSON, &version.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if len(diffJSON) > 0 {
		var d diff.Diff
		if err := json.Unmarshal(diffJSON, &d); err != nil {
			return nil, fmt.Errorf("decode diff: %w", err)
		}
		version.Diff = d
	}
	return &version, nil
}

// classify maps driver-level failures to sentinel values: connection trouble
// becomes ErrUnavailable (retryable upstream), a duplicate history row means
// someone tried to rewrite an archived version and becomes ErrImmutable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%v: %w", err, sentinel.ErrImmutable)
		case "57P01", "57P02", "57P03", "53300": // shutdown / cannot connect / too many connections
			return fmt.Errorf("%v: %w", err, sentinel.ErrUnavailable)
		}
		return err
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return fmt.Errorf("%v: %w", err, sentinel.ErrUnavailable)
	}
	return err
}
