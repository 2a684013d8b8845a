// Package cache wraps a backend with a Redis read-through cache for current
// versions. The cache is an optimization only: every write invalidates the
// key, and any Redis failure degrades to the underlying backend.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"promptvault/internal/prompt/models"
	"promptvault/internal/prompt/store"
)

const keyPrefix = "promptvault:current:"

// Store decorates a store.Backend. Only LoadCurrent without includeDeleted
// is served from cache; history and tombstone-aware reads always hit the
// backend.
type Store struct {
	backend store.Backend
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
}

func New(backend store.Backend, client *redis.Client, ttl time.Duration, logger *slog.Logger) *Store {
	return &Store{backend: backend, client: client, ttl: ttl, logger: logger}
}

func (s *Store) LoadCurrent(ctx context.Context, businessKey string, includeDeleted bool) (*models.Version, error) {
	if includeDeleted {
		return s.backend.LoadCurrent(ctx, businessKey, includeDeleted)
	}

	raw, err := s.client.Get(ctx, keyPrefix+businessKey).Bytes()
	if err == nil {
		var version models.Version
		if err := json.Unmarshal(raw, &version); err == nil {
			return &version, nil
		}
		// Unreadable cache value: fall through and repopulate.
		s.invalidate(ctx, businessKey)
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn("redis get failed, serving from backend", "business_key", businessKey, "error", err)
	}

	version, err := s.backend.LoadCurrent(ctx, businessKey, includeDeleted)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(version); err == nil {
		if err := s.client.Set(ctx, keyPrefix+businessKey, raw, s.ttl).Err(); err != nil {
			s.logger.Warn("redis set failed", "business_key", businessKey, "error", err)
		}
	}
	return version, nil
}

func (s *Store) StoreNewVersion(ctx context.Context, businessKey string, nv store.NewVersion, expectedPriorID int64) (*models.Version, error) {
	version, err := s.backend.StoreNewVersion(ctx, businessKey, nv, expectedPriorID)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, businessKey)
	return version, nil
}

func (s *Store) ListVersions(ctx context.Context, businessKey string) ([]models.Version, error) {
	return s.backend.ListVersions(ctx, businessKey)
}

func (s *Store) Tombstone(ctx context.Context, businessKey, actor string) error {
	if err := s.backend.Tombstone(ctx, businessKey, actor); err != nil {
		return err
	}
	s.invalidate(ctx, businessKey)
	return nil
}

func (s *Store) ListKeys(ctx context.Context) ([]string, error) {
	return s.backend.ListKeys(ctx)
}

func (s *Store) invalidate(ctx context.Context, businessKey string) {
	if err := s.client.Del(ctx, keyPrefix+businessKey).Err(); err != nil {
		s.logger.Warn("redis invalidate failed", "business_key", businessKey, "error", err)
	}
}
