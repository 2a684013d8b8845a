//go:build integration

package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"promptvault/internal/prompt/diff"
	"promptvault/internal/prompt/models"
	"promptvault/internal/prompt/store"
	"promptvault/internal/prompt/store/memory"
	"promptvault/pkg/platform/sentinel"
	"promptvault/pkg/testutil/containers"
)

func newVersion(t *testing.T, userPrompt string) store.NewVersion {
	t.Helper()
	content := models.Content{UseOf: "release-notes", UserPrompt: userPrompt}
	checksum, err := diff.Fingerprint(content)
	require.NoError(t, err)
	return store.NewVersion{Snapshot: content, Checksum: checksum, CreatedBy: "alice"}
}

func TestCacheReadThroughAndInvalidation(t *testing.T) {
	ctx := context.Background()
	rc := containers.NewRedisContainer(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend := memory.New()
	cached := New(backend, rc.Client, time.Minute, logger)

	_, err := cached.StoreNewVersion(ctx, "release-notes", newVersion(t, "v1"), 0)
	require.NoError(t, err)

	// First read populates the cache.
	first, err := cached.LoadCurrent(ctx, "release-notes", false)
	require.NoError(t, err)
	require.Equal(t, int64(1), first.VersionID)
	require.Positive(t, rc.Client.Exists(ctx, "promptvault:current:release-notes").Val())

	// A write through the cache invalidates the cached entry.
	_, err = cached.StoreNewVersion(ctx, "release-notes", newVersion(t, "v2"), 1)
	require.NoError(t, err)
	require.Zero(t, rc.Client.Exists(ctx, "promptvault:current:release-notes").Val())

	second, err := cached.LoadCurrent(ctx, "release-notes", false)
	require.NoError(t, err)
	require.Equal(t, int64(2), second.VersionID)
	require.Equal(t, "v2", second.Snapshot.UserPrompt)
}

func TestCacheServesStaleOnlyUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	rc := containers.NewRedisContainer(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend := memory.New()
	cached := New(backend, rc.Client, time.Minute, logger)

	_, err := cached.StoreNewVersion(ctx, "release-notes", newVersion(t, "v1"), 0)
	require.NoError(t, err)
	_, err = cached.LoadCurrent(ctx, "release-notes", false)
	require.NoError(t, err)

	// A write that bypasses the cache leaves the entry stale. The cached
	// value is still served until its TTL or an invalidating write.
	_, err = backend.StoreNewVersion(ctx, "release-notes", newVersion(t, "v2"), 1)
	require.NoError(t, err)
	stale, err := cached.LoadCurrent(ctx, "release-notes", false)
	require.NoError(t, err)
	require.Equal(t, int64(1), stale.VersionID)

	require.NoError(t, rc.FlushAll(ctx))
	fresh, err := cached.LoadCurrent(ctx, "release-notes", false)
	require.NoError(t, err)
	require.Equal(t, int64(2), fresh.VersionID)
}

func TestCacheTombstoneInvalidates(t *testing.T) {
	ctx := context.Background()
	rc := containers.NewRedisContainer(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend := memory.New()
	cached := New(backend, rc.Client, time.Minute, logger)

	_, err := cached.StoreNewVersion(ctx, "release-notes", newVersion(t, "v1"), 0)
	require.NoError(t, err)
	_, err = cached.LoadCurrent(ctx, "release-notes", false)
	require.NoError(t, err)

	require.NoError(t, cached.Tombstone(ctx, "release-notes", "bob"))
	require.Zero(t, rc.Client.Exists(ctx, "promptvault:current:release-notes").Val())

	_, err = cached.LoadCurrent(ctx, "release-notes", false)
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}
