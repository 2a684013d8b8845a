// Package directory implements the versioned backend on a plain file tree:
//
//	root/current/<key>_<timestamp>.yml   exactly one live file per key
//	root/versions/<key>_<timestamp>.yml  archived versions, oldest first
//
// Filenames embed a UTC timestamp that sorts chronologically, so the archive
// order is the version order. Promotion is write-temp, atomic rename into
// current/, then archive-move of the prior file; a crash between the two
// renames leaves an orphan that startup reconciliation sweeps into the
// archive.
package directory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"promptvault/internal/prompt/diff"
	"promptvault/internal/prompt/models"
	"promptvault/internal/prompt/store"
	"promptvault/pkg/platform/sentinel"
)

const (
	currentDir  = "current"
	versionsDir = "versions"
	fileExt     = ".yml"
	tsLayout    = "20060102T150405.000000000"

	// Guard files older than this are considered crash leftovers.
	staleGuardAge = time.Minute
)

// Store implements store.Backend on a directory tree.
type Store struct {
	root   string
	logger *slog.Logger
}

// versionFile is the on-disk document. A tombstoned key keeps one marker
// file in current/ carrying the final version plus the deletion fields.
type versionFile struct {
	BusinessKey string         `yaml:"business_key"`
	VersionID   int64          `yaml:"version_id"`
	Checksum    string         `yaml:"checksum"`
	Diff        map[string]any `yaml:"diff,omitempty"`
	Snapshot    models.Content `yaml:"snapshot"`
	CreatedAt   time.Time      `yaml:"created_at"`
	CreatedBy   string         `yaml:"created_by"`
	Deleted     bool           `yaml:"deleted,omitempty"`
	DeletedBy   string         `yaml:"deleted_by,omitempty"`
	DeletedAt   time.Time      `yaml:"deleted_at,omitempty"`
}

// New prepares the layout and runs crash reconciliation.
func New(root string, logger *slog.Logger) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, currentDir), filepath.Join(root, versionsDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create layout: %w", err)
		}
	}
	s := &Store{root: root, logger: logger}
	if err := s.Reconcile(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) LoadCurrent(ctx context.Context, businessKey string, includeDeleted bool) (*models.Version, error) {
	_, doc, err := s.findCurrent(businessKey)
	if err != nil {
		return nil, fmt.Errorf("load current %q: %w", businessKey, err)
	}
	if doc.Deleted && !includeDeleted {
		return nil, fmt.Errorf("load current %q: %w", businessKey, sentinel.ErrNotFound)
	}
	return doc.toVersion(), nil
}

func (s *Store) StoreNewVersion(ctx context.Context, businessKey string, nv store.NewVersion, expectedPriorID int64) (*models.Version, error) {
	release, err := s.acquireGuard(businessKey)
	if err != nil {
		return nil, fmt.Errorf("store version %q: %w", businessKey, err)
	}
	defer release()

	priorPath, prior, err := s.findCurrent(businessKey)
	switch {
	case err == nil:
		if prior.Deleted {
			return nil, fmt.Errorf("store version %q: key tombstoned: %w", businessKey, sentinel.ErrConflict)
		}
		if prior.VersionID != expectedPriorID {
			return nil, fmt.Errorf("store version %q: expected prior %d, have %d: %w",
				businessKey, expectedPriorID, prior.VersionID, sentinel.ErrConflict)
		}
	case errors.Is(err, sentinel.ErrNotFound):
		if expectedPriorID != 0 {
			return nil, fmt.Errorf("store version %q: %w", businessKey, sentinel.ErrConflict)
		}
		priorPath, prior = "", nil
	default:
		return nil, fmt.Errorf("store version %q: %w", businessKey, err)
	}

	now := time.Now().UTC()
	if prior != nil && !now.After(prior.CreatedAt) {
		now = prior.CreatedAt.Add(time.Nanosecond)
	}

	doc := &versionFile{
		BusinessKey: businessKey,
		VersionID:   expectedPriorID + 1,
		Checksum:    nv.Checksum,
		Snapshot:    nv.Snapshot,
		CreatedAt:   now,
		CreatedBy:   nv.CreatedBy,
	}
	if nv.Diff != nil {
		raw := make(map[string]any, len(nv.Diff))
		for field, change := range nv.Diff {
			raw[field] = map[string]any{"op": string(change.Op), "old": change.Old, "new": change.New}
		}
		doc.Diff = raw
	}

	if err := s.promote(businessKey, doc, priorPath); err != nil {
		return nil, fmt.Errorf("store version %q: %w", businessKey, err)
	}
	return doc.toVersion(), nil
}

// promote performs the three-step commit: temp write, atomic rename into
// current/, archive-move of the prior file.
func (s *Store) promote(businessKey string, doc *versionFile, priorPath string) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal version: %w", err)
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-"+businessKey+"-*")
	if err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp: %w", err)
	}

	newPath := filepath.Join(s.root, currentDir, fileName(businessKey, doc.CreatedAt))
	if err := os.Rename(tmpPath, newPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("promote: %w", err)
	}

	if priorPath != "" {
		if err := s.archive(priorPath); err != nil {
			return err
		}
	}
	return nil
}

// archive moves a retired current file into versions/ under its old name.
func (s *Store) archive(priorPath string) error {
	target := filepath.Join(s.root, versionsDir, filepath.Base(priorPath))
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("archive %s exists: %w", filepath.Base(priorPath), sentinel.ErrImmutable)
	}
	if err := os.Rename(priorPath, target); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	return nil
}

func (s *Store) ListVersions(ctx context.Context, businessKey string) ([]models.Version, error) {
	archived, err := s.keyFiles(versionsDir, businessKey)
	if err != nil {
		return nil, fmt.Errorf("list versions %q: %w", businessKey, err)
	}
	// Every current/ file counts, not just the newest: between the
	// promotion rename and the archive-move — or until reconciliation after
	// a crash — the retired version still sits in current/ and remains part
	// of the committed history.
	live, err := s.keyFiles(currentDir, businessKey)
	if err != nil {
		return nil, fmt.Errorf("list versions %q: %w", businessKey, err)
	}

	seen := map[int64]bool{}
	var versions []models.Version
	for _, path := range append(archived, live...) {
		doc, err := readVersionFile(path)
		if err != nil {
			// A concurrent writer may archive a file mid-listing; its
			// content was already read from the archive pass or will carry
			// the same version id.
			if errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("list versions %q: %w", businessKey, err)
		}
		// A tombstone marker is metadata only; the final version's content
		// sits in the archive or in the retired current file.
		if doc.Deleted || seen[doc.VersionID] {
			continue
		}
		seen[doc.VersionID] = true
		versions = append(versions, *doc.toVersion())
	}

	if len(versions) == 0 {
		return nil, fmt.Errorf("list versions %q: %w", businessKey, sentinel.ErrNotFound)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].VersionID < versions[j].VersionID })
	return versions, nil
}

func (s *Store) Tombstone(ctx context.Context, businessKey, actor string) error {
	release, err := s.acquireGuard(businessKey)
	if err != nil {
		return fmt.Errorf("tombstone %q: %w", businessKey, err)
	}
	defer release()

	priorPath, prior, err := s.findCurrent(businessKey)
	if err != nil {
		return fmt.Errorf("tombstone %q: %w", businessKey, err)
	}
	if prior.Deleted {
		return fmt.Errorf("tombstone %q: %w", businessKey, sentinel.ErrNotFound)
	}

	marker := *prior
	marker.Deleted = true
	marker.DeletedBy = actor
	marker.DeletedAt = time.Now().UTC()
	if !marker.DeletedAt.After(prior.CreatedAt) {
		marker.DeletedAt = prior.CreatedAt.Add(time.Nanosecond)
	}
	// The marker keeps the final version's metadata but takes a fresh
	// timestamped name, so the retired file can be archived under its own.
	marker.CreatedAt = prior.CreatedAt

	if err := s.promoteMarker(businessKey, &marker, priorPath); err != nil {
		return fmt.Errorf("tombstone %q: %w", businessKey, err)
	}
	return nil
}

func (s *Store) promoteMarker(businessKey string, marker *versionFile, priorPath string) error {
	data, err := yaml.Marshal(marker)
	if err != nil {
		return fmt.Errorf("marshal marker: %w", err)
	}
	tmp, err := os.CreateTemp(s.root, ".tmp-"+businessKey+"-*")
	if err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write temp: %w", err)
	}

	newPath := filepath.Join(s.root, currentDir, fileName(businessKey, marker.DeletedAt))
	if err := os.Rename(tmpPath, newPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("promote marker: %w", err)
	}
	return s.archive(priorPath)
}

func (s *Store) ListKeys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, currentDir))
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	var keys []string
	seen := map[string]bool{}
	for _, entry := range entries {
		key, _, ok := parseFileName(entry.Name())
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		doc, err := readVersionFile(filepath.Join(s.root, currentDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("list keys: %w", err)
		}
		if !doc.Deleted {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Reconcile heals interrupted promotions: when a key has more than one file
// in current/, every file but the newest is moved to the archive. Stale
// guard and temp files are swept as well.
func (s *Store) Reconcile(ctx context.Context) error {
	entries, err := os.ReadDir(filepath.Join(s.root, currentDir))
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	byKey := map[string][]string{}
	for _, entry := range entries {
		if key, _, ok := parseFileName(entry.Name()); ok {
			byKey[key] = append(byKey[key], entry.Name())
		}
	}
	for key, names := range byKey {
		if len(names) < 2 {
			continue
		}
		sort.Strings(names) // timestamp order: last one is the live version
		for _, name := range names[:len(names)-1] {
			orphan := filepath.Join(s.root, currentDir, name)
			if err := s.archive(orphan); err != nil {
				if errors.Is(err, sentinel.ErrImmutable) {
					// Already archived by the crashed writer; drop the copy.
					if err := os.Remove(orphan); err != nil {
						return fmt.Errorf("reconcile %q: %w", key, err)
					}
					continue
				}
				return fmt.Errorf("reconcile %q: %w", key, err)
			}
			s.logger.Warn("archived orphaned current file", "business_key", key, "file", name)
		}
	}

	rootEntries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	for _, entry := range rootEntries {
		name := entry.Name()
		if !strings.HasPrefix(name, ".tmp-") && !strings.HasPrefix(name, ".guard-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("reconcile: %w", err)
		}
		if time.Since(info.ModTime()) > staleGuardAge {
			if err := os.Remove(filepath.Join(s.root, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("reconcile: %w", err)
			}
			s.logger.Warn("removed stale work file", "file", name)
		}
	}
	return nil
}

// acquireGuard serializes same-key writers across processes via an exclusive
// guard file. A held guard means another writer is mid-commit, which is a
// concurrent modification from this writer's point of view.
func (s *Store) acquireGuard(businessKey string) (func(), error) {
	path := filepath.Join(s.root, ".guard-"+businessKey)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("writer guard held: %w", sentinel.ErrConflict)
		}
		return nil, fmt.Errorf("acquire guard: %w", err)
	}
	f.Close()
	return func() { os.Remove(path) }, nil
}

// findCurrent locates the live file for a key. When an interrupted promotion
// left two files, the newest wins; readers never see the retired one.
func (s *Store) findCurrent(businessKey string) (string, *versionFile, error) {
	paths, err := s.keyFiles(currentDir, businessKey)
	if err != nil {
		return "", nil, err
	}
	if len(paths) == 0 {
		return "", nil, sentinel.ErrNotFound
	}
	path := paths[len(paths)-1]
	doc, err := readVersionFile(path)
	if err != nil {
		return "", nil, err
	}
	return path, doc, nil
}

// keyFiles returns the files belonging to a key inside dir, in timestamp
// (and therefore version) order.
func (s *Store) keyFiles(dir, businessKey string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, dir))
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		key, _, ok := parseFileName(entry.Name())
		if ok && key == businessKey {
			paths = append(paths, filepath.Join(s.root, dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func fileName(businessKey string, ts time.Time) string {
	return businessKey + "_" + ts.UTC().Format(tsLayout) + fileExt
}

// parseFileName splits "<key>_<timestamp>.yml". Keys may contain
// underscores, so the timestamp is taken from the last separator.
func parseFileName(name string) (key, ts string, ok bool) {
	if !strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".") {
		return "", "", false
	}
	base := strings.TrimSuffix(name, fileExt)
	idx := strings.LastIndex(base, "_")
	if idx <= 0 {
		return "", "", false
	}
	return base[:idx], base[idx+1:], true
}

func readVersionFile(path string) (*versionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	var doc versionFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &doc, nil
}

func (f *versionFile) toVersion() *models.Version {
	version := &models.Version{
		BusinessKey: f.BusinessKey,
		VersionID:   f.VersionID,
		Checksum:    f.Checksum,
		Snapshot:    f.Snapshot,
		CreatedAt:   f.CreatedAt,
		CreatedBy:   f.CreatedBy,
	}
	if f.Diff != nil {
		version.Diff = decodeDiff(f.Diff)
	}
	return version
}

func decodeDiff(raw map[string]any) diff.Diff {
	d := diff.Diff{}
	for field, v := range raw {
		change, ok := v.(map[string]any)
		if !ok {
			continue
		}
		fc := diff.FieldChange{Old: change["old"], New: change["new"]}
		if op, ok := change["op"].(string); ok {
			fc.Op = diff.Op(op)
		}
		d[field] = fc
	}
	return d
}
