package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(key string, version int64, action Action) Entry {
	return Entry{
		Actor:       "alice",
		Action:      action,
		BusinessKey: key,
		VersionID:   version,
		Checksum:    "sha256:deadbeef",
	}
}

func TestPublisherStampsEntries(t *testing.T) {
	sink := NewMemoryLedger()
	pub := NewPublisher(sink)
	ctx := context.Background()

	require.NoError(t, pub.Append(ctx, entry("patient_info", 1, ActionCreate)))

	got, err := pub.Query(ctx, "patient_info", time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Timestamp.IsZero())
	assert.Equal(t, ActionCreate, got[0].Action)
}

func TestMemoryLedgerChronologicalPerKey(t *testing.T) {
	sink := NewMemoryLedger()
	pub := NewPublisher(sink)
	ctx := context.Background()

	require.NoError(t, pub.Append(ctx, entry("patient_info", 1, ActionCreate)))
	require.NoError(t, pub.Append(ctx, entry("patient_info", 2, ActionVersion)))
	require.NoError(t, pub.Append(ctx, entry("other_key", 1, ActionCreate)))

	got, err := pub.Query(ctx, "patient_info", time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].VersionID)
	assert.Equal(t, int64(2), got[1].VersionID)
}

func TestMemoryLedgerSinceFilter(t *testing.T) {
	sink := NewMemoryLedger()
	ctx := context.Background()

	early := entry("k", 1, ActionCreate)
	early.ID = "e1"
	early.Timestamp = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := entry("k", 2, ActionVersion)
	late.ID = "e2"
	late.Timestamp = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Append(ctx, early))
	require.NoError(t, sink.Append(ctx, late))

	got, err := sink.Query(ctx, "k", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e2", got[0].ID)
}

func TestFileLedgerAppendAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileLedger(path)
	require.NoError(t, err)
	pub := NewPublisher(sink)
	ctx := context.Background()

	require.NoError(t, pub.Append(ctx, entry("patient_info", 1, ActionCreate)))
	require.NoError(t, pub.Append(ctx, entry("patient_info", 2, ActionVersion)))
	require.NoError(t, pub.Append(ctx, entry("patient_info", 2, ActionDelete)))
	require.NoError(t, pub.Append(ctx, entry("other_key", 1, ActionCreate)))

	got, err := pub.Query(ctx, "patient_info", time.Time{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ActionCreate, got[0].Action)
	assert.Equal(t, ActionVersion, got[1].Action)
	assert.Equal(t, ActionDelete, got[2].Action)
}

func TestFileLedgerQueryMissingFileIsEmpty(t *testing.T) {
	sink, err := NewFileLedger(filepath.Join(t.TempDir(), "audit.jsonl"))
	require.NoError(t, err)

	got, err := sink.Query(context.Background(), "k", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAsyncLedgerDrainsBufferedEntries(t *testing.T) {
	sink := NewMemoryLedger()
	async := NewAsyncLedger(sink, 8, testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- async.Run(ctx) }()

	pub := NewPublisher(async)
	require.NoError(t, pub.Append(ctx, entry("k", 1, ActionCreate)))
	require.NoError(t, pub.Append(ctx, entry("k", 2, ActionVersion)))

	require.Eventually(t, func() bool {
		got, err := sink.Query(context.Background(), "k", time.Time{})
		return err == nil && len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
