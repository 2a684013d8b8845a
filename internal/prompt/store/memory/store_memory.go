package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"promptvault/internal/prompt/models"
	"promptvault/internal/prompt/store"
	"promptvault/pkg/platform/sentinel"
)

// Store implements store.Backend with in-process maps. It is the dev-mode
// and unit-test backend; the locking mirrors what the durable backends get
// from transactions and atomic renames.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
}

type record struct {
	versions  []models.Version // append-only, versions[i].VersionID == i+1
	deleted   bool
	deletedBy string
	deletedAt time.Time
}

func New() *Store {
	return &Store{records: make(map[string]*record)}
}

func (s *Store) LoadCurrent(ctx context.Context, businessKey string, includeDeleted bool) (*models.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[businessKey]
	if !ok || len(rec.versions) == 0 {
		return nil, fmt.Errorf("load current %q: %w", businessKey, sentinel.ErrNotFound)
	}
	if rec.deleted && !includeDeleted {
		return nil, fmt.Errorf("load current %q: %w", businessKey, sentinel.ErrNotFound)
	}
	current := rec.versions[len(rec.versions)-1]
	return &current, nil
}

func (s *Store) StoreNewVersion(ctx context.Context, businessKey string, nv store.NewVersion, expectedPriorID int64) (*models.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[businessKey]
	if !ok {
		if expectedPriorID != 0 {
			return nil, fmt.Errorf("store version %q: %w", businessKey, sentinel.ErrConflict)
		}
		rec = &record{}
		s.records[businessKey] = rec
	}
	if rec.deleted {
		return nil, fmt.Errorf("store version %q: key tombstoned: %w", businessKey, sentinel.ErrConflict)
	}
	currentID := int64(len(rec.versions))
	if currentID != expectedPriorID {
		return nil, fmt.Errorf("store version %q: expected prior %d, have %d: %w",
			businessKey, expectedPriorID, currentID, sentinel.ErrConflict)
	}

	version := models.Version{
		BusinessKey: businessKey,
		VersionID:   currentID + 1,
		Checksum:    nv.Checksum,
		Diff:        nv.Diff,
		Snapshot:    nv.Snapshot,
		CreatedAt:   time.Now().UTC(),
		CreatedBy:   nv.CreatedBy,
	}
	rec.versions = append(rec.versions, version)
	return &version, nil
}

func (s *Store) ListVersions(ctx context.Context, businessKey string) ([]models.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[businessKey]
	if !ok || len(rec.versions) == 0 {
		return nil, fmt.Errorf("list versions %q: %w", businessKey, sentinel.ErrNotFound)
	}
	out := make([]models.Version, len(rec.versions))
	copy(out, rec.versions)
	return out, nil
}

func (s *Store) Tombstone(ctx context.Context, businessKey, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[businessKey]
	if !ok || len(rec.versions) == 0 || rec.deleted {
		return fmt.Errorf("tombstone %q: %w", businessKey, sentinel.ErrNotFound)
	}
	rec.deleted = true
	rec.deletedBy = actor
	rec.deletedAt = time.Now().UTC()
	return nil
}

func (s *Store) ListKeys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.records))
	for key, rec := range s.records {
		if !rec.deleted && len(rec.versions) > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
