// Package factory instantiates the configured backend. The version manager
// depends only on store.Backend; this is the single place that knows the
// concrete variants.
package factory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"promptvault/internal/platform/config"
	"promptvault/internal/prompt/audit"
	"promptvault/internal/prompt/store"
	"promptvault/internal/prompt/store/directory"
	"promptvault/internal/prompt/store/memory"
	"promptvault/internal/prompt/store/postgres"
)

// New builds the backend selected by cfg.BackendMode. The returned closer
// releases backend resources; it is a no-op for backends without any.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Backend, func() error, error) {
	switch cfg.BackendMode {
	case config.BackendMemory:
		return memory.New(), func() error { return nil }, nil

	case config.BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("backend %q requires PROMPTVAULT_POSTGRES_DSN", cfg.BackendMode)
		}
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		backend := postgres.New(db)
		if err := backend.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return backend, db.Close, nil

	case config.BackendDirectory:
		backend, err := directory.New(cfg.DirectoryRoot, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open directory backend: %w", err)
		}
		return backend, func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend mode %q", cfg.BackendMode)
	}
}

// NewAuditSink builds the ledger sink selected by cfg.AuditSink. The
// postgres sink opens its own pool: the ledger is decoupled from version
// storage on purpose, so an exhausted store pool cannot stall audit writes.
func NewAuditSink(ctx context.Context, cfg config.Config) (audit.Ledger, func() error, error) {
	switch cfg.AuditSink {
	case config.AuditMemory:
		return audit.NewMemoryLedger(), func() error { return nil }, nil

	case config.AuditFile:
		if cfg.AuditFilePath == "" {
			return nil, nil, fmt.Errorf("audit sink %q requires PROMPTVAULT_AUDIT_FILE", cfg.AuditSink)
		}
		ledger, err := audit.NewFileLedger(cfg.AuditFilePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit file: %w", err)
		}
		return ledger, func() error { return nil }, nil

	case config.AuditPostgres:
		if cfg.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("audit sink %q requires PROMPTVAULT_POSTGRES_DSN", cfg.AuditSink)
		}
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres audit sink: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping postgres audit sink: %w", err)
		}
		ledger := audit.NewPostgresLedger(db)
		if err := ledger.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return ledger, db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown audit sink %q", cfg.AuditSink)
	}
}
