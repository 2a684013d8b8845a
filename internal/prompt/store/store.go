// Package store defines the capability contract every versioned backend
// implements. Backends own physical persistence only: they enforce the
// optimistic version check at the storage boundary and keep promotion atomic,
// but never decide whether content changed — that is the version manager's
// job.
package store

import (
	"context"

	"promptvault/internal/prompt/diff"
	"promptvault/internal/prompt/models"
)

// NewVersion carries everything a backend needs to persist one version. The
// backend assigns the version id (expected prior + 1) and the commit time.
type NewVersion struct {
	Snapshot  models.Content
	Diff      diff.Diff
	Checksum  string
	CreatedBy string
}

// Backend is the storage capability set.
//
// All variants guarantee:
//   - StoreNewVersion succeeds only if the currently stored version id still
//     equals expectedPriorID (0 means "key must not exist yet"); on mismatch
//     it fails with sentinel.ErrConflict and leaves no trace.
//   - promotion is atomic: readers observe either the prior or the new
//     current version, never zero or two current versions for a key.
//   - the prior current version is archived, never deleted.
//   - tombstoned keys fail LoadCurrent with sentinel.ErrNotFound unless
//     includeDeleted is set; their history stays readable.
type Backend interface {
	// LoadCurrent returns the current version for the key, or
	// sentinel.ErrNotFound when the key is unknown or tombstoned.
	LoadCurrent(ctx context.Context, businessKey string, includeDeleted bool) (*models.Version, error)

	// StoreNewVersion conditionally promotes a new current version,
	// archiving the prior one.
	StoreNewVersion(ctx context.Context, businessKey string, nv NewVersion, expectedPriorID int64) (*models.Version, error)

	// ListVersions returns every version of the key, oldest first, including
	// versions of tombstoned keys. Unknown keys fail sentinel.ErrNotFound.
	ListVersions(ctx context.Context, businessKey string) ([]models.Version, error)

	// Tombstone soft-deletes the key: current lookups start failing, history
	// is preserved. Deleting an unknown or already tombstoned key fails
	// sentinel.ErrNotFound.
	Tombstone(ctx context.Context, businessKey, actor string) error

	// ListKeys returns the business keys with a live (non-tombstoned)
	// current version, sorted.
	ListKeys(ctx context.Context) ([]string, error)
}
