package directory

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"promptvault/internal/prompt/diff"
	"promptvault/internal/prompt/models"
	"promptvault/internal/prompt/store"
	"promptvault/pkg/platform/sentinel"
)

type DirectoryStoreSuite struct {
	suite.Suite
	root  string
	store *Store
	ctx   context.Context
}

func TestDirectoryStoreSuite(t *testing.T) {
	suite.Run(t, new(DirectoryStoreSuite))
}

func (s *DirectoryStoreSuite) SetupTest() {
	s.root = s.T().TempDir()
	st, err := New(s.root, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Require().NoError(err)
	s.store = st
	s.ctx = context.Background()
}

func (s *DirectoryStoreSuite) newVersion(userPrompt string) store.NewVersion {
	content := models.Content{UseOf: "patient_info", SystemPrompt: "A", UserPrompt: userPrompt}
	checksum, err := diff.Fingerprint(content)
	s.Require().NoError(err)
	return store.NewVersion{Snapshot: content, Checksum: checksum, CreatedBy: "alice"}
}

func (s *DirectoryStoreSuite) currentFiles(key string) []string {
	paths, err := s.store.keyFiles(currentDir, key)
	s.Require().NoError(err)
	return paths
}

func (s *DirectoryStoreSuite) archivedFiles(key string) []string {
	paths, err := s.store.keyFiles(versionsDir, key)
	s.Require().NoError(err)
	return paths
}

func (s *DirectoryStoreSuite) TestCreateWritesExactlyOneCurrentFile() {
	created, err := s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("B"), 0)
	s.Require().NoError(err)
	s.Equal(int64(1), created.VersionID)

	s.Len(s.currentFiles("patient_info"), 1)
	s.Empty(s.archivedFiles("patient_info"))

	current, err := s.store.LoadCurrent(s.ctx, "patient_info", false)
	s.Require().NoError(err)
	s.Equal("B", current.Snapshot.UserPrompt)
}

func (s *DirectoryStoreSuite) TestPromotionArchivesPrior() {
	_, err := s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("B"), 0)
	s.Require().NoError(err)

	nv := s.newVersion("C")
	nv.Diff = diff.Diff{"user_prompt": {Op: diff.OpModified, Old: "B", New: "C"}}
	v2, err := s.store.StoreNewVersion(s.ctx, "patient_info", nv, 1)
	s.Require().NoError(err)
	s.Equal(int64(2), v2.VersionID)

	// Exactly one live file; the prior one moved to the archive.
	s.Len(s.currentFiles("patient_info"), 1)
	s.Len(s.archivedFiles("patient_info"), 1)

	versions, err := s.store.ListVersions(s.ctx, "patient_info")
	s.Require().NoError(err)
	s.Require().Len(versions, 2)
	s.Equal(int64(1), versions[0].VersionID)
	s.Equal(int64(2), versions[1].VersionID)
	s.Equal(diff.OpModified, versions[1].Diff["user_prompt"].Op)
}

func (s *DirectoryStoreSuite) TestConditionalWriteRejectsStalePrior() {
	_, err := s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("B"), 0)
	s.Require().NoError(err)
	_, err = s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("C"), 1)
	s.Require().NoError(err)

	_, err = s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("D"), 1)
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	_, err = s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("D"), 0)
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

func (s *DirectoryStoreSuite) TestHeldGuardIsConflict() {
	_, err := s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("B"), 0)
	s.Require().NoError(err)

	// Simulate another process mid-commit.
	guard := filepath.Join(s.root, ".guard-patient_info")
	s.Require().NoError(os.WriteFile(guard, nil, 0o644))
	defer os.Remove(guard)

	_, err = s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("C"), 1)
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

func (s *DirectoryStoreSuite) TestFilenamesSortChronologically() {
	for i, prompt := range []string{"B", "C", "D"} {
		_, err := s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion(prompt), int64(i))
		s.Require().NoError(err)
	}

	archived := s.archivedFiles("patient_info")
	s.Require().Len(archived, 2)

	v1, err := readVersionFile(archived[0])
	s.Require().NoError(err)
	v2, err := readVersionFile(archived[1])
	s.Require().NoError(err)
	s.Equal(int64(1), v1.VersionID)
	s.Equal(int64(2), v2.VersionID)
}

func (s *DirectoryStoreSuite) TestTombstone() {
	_, err := s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("B"), 0)
	s.Require().NoError(err)
	_, err = s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("C"), 1)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Tombstone(s.ctx, "patient_info", "bob"))

	_, err = s.store.LoadCurrent(s.ctx, "patient_info", false)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	current, err := s.store.LoadCurrent(s.ctx, "patient_info", true)
	s.Require().NoError(err)
	s.Equal(int64(2), current.VersionID)

	// Full history preserved: both versions now live in the archive.
	versions, err := s.store.ListVersions(s.ctx, "patient_info")
	s.Require().NoError(err)
	s.Len(versions, 2)

	s.Require().ErrorIs(s.store.Tombstone(s.ctx, "patient_info", "bob"), sentinel.ErrNotFound)
}

func (s *DirectoryStoreSuite) TestReconcileArchivesOrphan() {
	_, err := s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("B"), 0)
	s.Require().NoError(err)
	_, err = s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("C"), 1)
	s.Require().NoError(err)

	// Simulate a crash between the promotion rename and the archive move:
	// put the retired v1 file back into current/ alongside the live v2.
	archived := s.archivedFiles("patient_info")
	s.Require().Len(archived, 1)
	orphan := filepath.Join(s.root, currentDir, filepath.Base(archived[0]))
	s.Require().NoError(os.Rename(archived[0], orphan))
	s.Require().Len(s.currentFiles("patient_info"), 2)

	// Readers still resolve the newest file while the orphan lingers.
	current, err := s.store.LoadCurrent(s.ctx, "patient_info", false)
	s.Require().NoError(err)
	s.Equal(int64(2), current.VersionID)

	// Startup reconciliation sweeps the orphan back into the archive.
	s.Require().NoError(s.store.Reconcile(s.ctx))
	s.Len(s.currentFiles("patient_info"), 1)
	s.Len(s.archivedFiles("patient_info"), 1)

	versions, err := s.store.ListVersions(s.ctx, "patient_info")
	s.Require().NoError(err)
	s.Len(versions, 2)
}

func (s *DirectoryStoreSuite) TestHistoryCompleteDuringOrphanWindow() {
	_, err := s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("B"), 0)
	s.Require().NoError(err)
	_, err = s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("C"), 1)
	s.Require().NoError(err)

	// Crash between the promotion rename and the archive move: the retired
	// v1 file sits in current/ next to the live v2 and the archive is empty.
	archived := s.archivedFiles("patient_info")
	s.Require().Len(archived, 1)
	orphan := filepath.Join(s.root, currentDir, filepath.Base(archived[0]))
	s.Require().NoError(os.Rename(archived[0], orphan))
	s.Require().Empty(s.archivedFiles("patient_info"))

	// History must report both committed versions before any reconciliation.
	versions, err := s.store.ListVersions(s.ctx, "patient_info")
	s.Require().NoError(err)
	s.Require().Len(versions, 2)
	s.Equal(int64(1), versions[0].VersionID)
	s.Equal(int64(2), versions[1].VersionID)
	s.Equal("B", versions[0].Snapshot.UserPrompt)
	s.Equal("C", versions[1].Snapshot.UserPrompt)
}

func (s *DirectoryStoreSuite) TestListKeysSkipsTombstoned() {
	_, err := s.store.StoreNewVersion(s.ctx, "b_key", s.newVersion("B"), 0)
	s.Require().NoError(err)
	_, err = s.store.StoreNewVersion(s.ctx, "a_key", s.newVersion("B"), 0)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Tombstone(s.ctx, "b_key", "bob"))

	keys, err := s.store.ListKeys(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"a_key"}, keys)
}

func (s *DirectoryStoreSuite) TestUnderscoreKeysParse() {
	key, ts, ok := parseFileName("patient_info_extra_20260829T101500.000000000.yml")
	s.True(ok)
	s.Equal("patient_info_extra", key)
	s.Equal("20260829T101500.000000000", ts)

	_, _, ok = parseFileName(".guard-patient_info")
	s.False(ok)
}
