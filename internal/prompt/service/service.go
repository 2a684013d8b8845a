// Package service implements the version manager: the state machine that
// decides when a proposed content becomes a new version. It owns change
// detection, per-key locking and audit correlation; physical persistence
// stays behind store.Backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"promptvault/internal/prompt/audit"
	"promptvault/internal/prompt/diff"
	"promptvault/internal/prompt/metrics"
	"promptvault/internal/prompt/models"
	"promptvault/internal/prompt/store"
	domainerrors "promptvault/pkg/domain-errors"
	"promptvault/pkg/platform/sentinel"
)

// Options bound lock waits and transient-failure retries. Zero values fall
// back to the documented defaults.
type Options struct {
	LockTimeout    time.Duration // default 10s
	RetryAttempts  uint          // default 3
	RetryBaseDelay time.Duration // default 100ms
}

func (o Options) withDefaults() Options {
	if o.LockTimeout <= 0 {
		o.LockTimeout = 10 * time.Second
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = 100 * time.Millisecond
	}
	return o
}

// Result is the propose outcome. Unchanged is a success variant, not an
// error: the proposed content matched the current version byte for byte
// (by fingerprint) and no side effects happened.
type Result struct {
	Version   *models.Version
	Unchanged bool
}

// Service is the version manager.
type Service struct {
	backend store.Backend
	ledger  *audit.Publisher
	locks   *keyLocks
	logger  *slog.Logger
	metrics *metrics.Metrics
	opts    Options
}

func New(backend store.Backend, ledger *audit.Publisher, logger *slog.Logger, m *metrics.Metrics, opts Options) *Service {
	return &Service{
		backend: backend,
		ledger:  ledger,
		locks:   newKeyLocks(),
		logger:  logger,
		metrics: m,
		opts:    opts.withDefaults(),
	}
}

// Propose offers new content for a business key. Exactly one of these
// happens: a new version is committed and audited, the content is reported
// Unchanged, or the call fails with no side effects. Concurrent
// modification is surfaced, never retried: the caller must re-read and
// re-propose so a stale diff is never silently committed.
func (s *Service) Propose(ctx context.Context, businessKey string, content models.Content, actor string, createIfAbsent bool) (*Result, error) {
	const op = "propose"
	start := time.Now()
	defer func() { s.metrics.ObservePropose(time.Since(start).Seconds()) }()

	if businessKey == "" {
		return nil, domainerrors.New(domainerrors.CodeBadRequest, "business key is required")
	}
	if content.UseOf == "" {
		content.UseOf = businessKey
	} else if content.UseOf != businessKey {
		return nil, domainerrors.Wrap(domainerrors.CodeBadRequest, op, businessKey,
			fmt.Errorf("content use_of %q does not match business key", content.UseOf))
	}

	release, err := s.lock(ctx, businessKey)
	if err != nil {
		s.metrics.RecordProposal(metrics.OutcomeError)
		return nil, s.wrap(op, businessKey, err)
	}
	defer release()

	current, err := s.loadCurrent(ctx, businessKey, false)
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrNotFound):
		if !createIfAbsent {
			s.metrics.RecordProposal(metrics.OutcomeError)
			return nil, s.wrap(op, businessKey, err)
		}
		current = nil
	default:
		s.metrics.RecordProposal(metrics.OutcomeError)
		return nil, s.wrap(op, businessKey, err)
	}

	checksum, err := diff.Fingerprint(content)
	if err != nil {
		s.metrics.RecordProposal(metrics.OutcomeError)
		return nil, s.wrap(op, businessKey, err)
	}

	if current != nil {
		if err := s.verify(op, current); err != nil {
			s.metrics.RecordProposal(metrics.OutcomeError)
			return nil, err
		}
		if checksum == current.Checksum {
			s.metrics.RecordProposal(metrics.OutcomeUnchanged)
			return &Result{Version: current, Unchanged: true}, nil
		}
	}

	var priorSnapshot any
	var expectedPriorID int64
	if current != nil {
		priorSnapshot = current.Snapshot
		expectedPriorID = current.VersionID
	}
	delta, err := diff.Compute(priorSnapshot, content)
	if err != nil {
		s.metrics.RecordProposal(metrics.OutcomeError)
		return nil, s.wrap(op, businessKey, err)
	}

	version, err := s.backend.StoreNewVersion(ctx, businessKey, store.NewVersion{
		Snapshot:  content,
		Diff:      delta,
		Checksum:  checksum,
		CreatedBy: actor,
	}, expectedPriorID)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.RecordProposal(metrics.OutcomeConflict)
		} else {
			s.metrics.RecordProposal(metrics.OutcomeError)
		}
		return nil, s.wrap(op, businessKey, err)
	}

	action := audit.ActionVersion
	outcome := metrics.OutcomeVersioned
	if current == nil {
		action = audit.ActionCreate
		outcome = metrics.OutcomeCreated
	}
	s.metrics.RecordProposal(outcome)
	s.audit(ctx, audit.Entry{
		Actor:       actor,
		Action:      action,
		BusinessKey: businessKey,
		VersionID:   version.VersionID,
		Checksum:    version.Checksum,
	})

	return &Result{Version: version}, nil
}

// GetCurrent resolves the key to its current version. Read path: no lock.
func (s *Service) GetCurrent(ctx context.Context, businessKey string) (*models.Version, error) {
	const op = "get_current"
	current, err := s.loadCurrent(ctx, businessKey, false)
	if err != nil {
		return nil, s.wrap(op, businessKey, err)
	}
	if err := s.verify(op, current); err != nil {
		return nil, err
	}
	return current, nil
}

// GetHistory returns every version of the key, oldest first, including the
// history of tombstoned keys.
func (s *Service) GetHistory(ctx context.Context, businessKey string) ([]models.Version, error) {
	const op = "get_history"
	versions, err := s.backend.ListVersions(ctx, businessKey)
	if err != nil {
		return nil, s.wrap(op, businessKey, err)
	}
	for i := range versions {
		if err := s.verify(op, &versions[i]); err != nil {
			return nil, err
		}
	}
	return versions, nil
}

// Delete tombstones the key. History stays queryable; a terminal audit
// entry records who deleted it.
func (s *Service) Delete(ctx context.Context, businessKey, actor string) error {
	const op = "delete"

	release, err := s.lock(ctx, businessKey)
	if err != nil {
		return s.wrap(op, businessKey, err)
	}
	defer release()

	current, err := s.loadCurrent(ctx, businessKey, false)
	if err != nil {
		return s.wrap(op, businessKey, err)
	}
	if err := s.backend.Tombstone(ctx, businessKey, actor); err != nil {
		return s.wrap(op, businessKey, err)
	}

	s.metrics.RecordTombstone()
	s.audit(ctx, audit.Entry{
		Actor:       actor,
		Action:      audit.ActionDelete,
		BusinessKey: businessKey,
		VersionID:   current.VersionID,
		Checksum:    current.Checksum,
	})
	return nil
}

// GetAuditTrail returns the key's transitions in chronological order. The
// zero since value means "from the beginning".
func (s *Service) GetAuditTrail(ctx context.Context, businessKey string, since time.Time) ([]audit.Entry, error) {
	entries, err := s.ledger.Query(ctx, businessKey, since)
	if err != nil {
		return nil, s.wrap("get_audit_trail", businessKey, err)
	}
	return entries, nil
}

// ListKeys returns the live business keys, sorted.
func (s *Service) ListKeys(ctx context.Context) ([]string, error) {
	keys, err := s.backend.ListKeys(ctx)
	if err != nil {
		return nil, s.wrap("list_keys", "", err)
	}
	return keys, nil
}

// lock acquires the per-key mutex under the configured timeout.
func (s *Service) lock(ctx context.Context, businessKey string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.opts.LockTimeout)
	defer cancel()
	return s.locks.acquire(lockCtx, businessKey)
}

// loadCurrent reads through the backend with bounded retry on transient
// unavailability. Not-found and conflict states are never retried.
func (s *Service) loadCurrent(ctx context.Context, businessKey string, includeDeleted bool) (*models.Version, error) {
	var current *models.Version
	err := retry.Do(
		func() error {
			v, err := s.backend.LoadCurrent(ctx, businessKey, includeDeleted)
			if err != nil {
				return err
			}
			current = v
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.opts.RetryAttempts),
		retry.Delay(s.opts.RetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, sentinel.ErrUnavailable) }),
	)
	if err != nil {
		return nil, err
	}
	return current, nil
}

// verify recomputes the snapshot fingerprint against the recorded checksum.
// A mismatch means storage-level tampering or bit rot: fatal, never retried.
func (s *Service) verify(op string, version *models.Version) error {
	actual, err := diff.Fingerprint(version.Snapshot)
	if err != nil {
		return s.wrap(op, version.BusinessKey, err)
	}
	if actual != version.Checksum {
		s.logger.Error("snapshot checksum mismatch",
			"business_key", version.BusinessKey,
			"version_id", version.VersionID,
			"expected", version.Checksum,
			"actual", actual,
		)
		return domainerrors.Wrap(domainerrors.CodeCorruption, op, version.BusinessKey,
			fmt.Errorf("version %d: checksum mismatch: %w", version.VersionID, sentinel.ErrCorrupted))
	}
	return nil
}

// audit appends the transition entry. By contract this never rolls back the
// committed version: storage is the source of truth, the ledger is
// best-effort durability. Failures are logged and counted.
func (s *Service) audit(ctx context.Context, entry audit.Entry) {
	if err := s.ledger.Append(ctx, entry); err != nil {
		s.metrics.RecordAuditFailure()
		s.logger.Error("audit append failed after committed version",
			"error", err,
			"business_key", entry.BusinessKey,
			"version_id", entry.VersionID,
			"action", string(entry.Action),
		)
	}
}

// wrap translates sentinel and context failures into coded domain errors
// carrying the operation and business key.
func (s *Service) wrap(op, businessKey string, err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return domainerrors.Wrap(domainerrors.CodeNotFound, op, businessKey, err)
	case errors.Is(err, sentinel.ErrConflict):
		return domainerrors.Wrap(domainerrors.CodeConflict, op, businessKey, err)
	case errors.Is(err, sentinel.ErrImmutable):
		return domainerrors.Wrap(domainerrors.CodeImmutableWrite, op, businessKey, err)
	case errors.Is(err, sentinel.ErrUnavailable):
		return domainerrors.Wrap(domainerrors.CodeBackendUnavailable, op, businessKey, err)
	case errors.Is(err, sentinel.ErrCorrupted):
		return domainerrors.Wrap(domainerrors.CodeCorruption, op, businessKey, err)
	case errors.Is(err, sentinel.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return domainerrors.Wrap(domainerrors.CodeTimeout, op, businessKey, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return domainerrors.Wrap(domainerrors.CodeInternal, op, businessKey, err)
	}
}
