package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"promptvault/internal/prompt/diff"
	"promptvault/internal/prompt/models"
	"promptvault/internal/prompt/store"
	"promptvault/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) newVersion(userPrompt string) store.NewVersion {
	content := models.Content{UseOf: "patient_info", SystemPrompt: "A", UserPrompt: userPrompt}
	checksum, err := diff.Fingerprint(content)
	s.Require().NoError(err)
	return store.NewVersion{Snapshot: content, Checksum: checksum, CreatedBy: "alice"}
}

func (s *MemoryStoreSuite) TestLoadCurrentUnknownKey() {
	_, err := s.store.LoadCurrent(s.ctx, "missing_key", false)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestCreateAndLoad() {
	created, err := s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("B"), 0)
	s.Require().NoError(err)
	s.Equal(int64(1), created.VersionID)
	s.Nil(created.Diff)

	current, err := s.store.LoadCurrent(s.ctx, "patient_info", false)
	s.Require().NoError(err)
	s.Equal(created.VersionID, current.VersionID)
	s.Equal("B", current.Snapshot.UserPrompt)
	s.Equal(created.Checksum, current.Checksum)
}

func (s *MemoryStoreSuite) TestConditionalWrite() {
	s.Run("create fails when key exists", func() {
		_, err := s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("B"), 0)
		s.Require().NoError(err)
		_, err = s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("other"), 0)
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("stale prior id fails", func() {
		_, err := s.store.StoreNewVersion(s.ctx, "stale_key", s.newVersion("B"), 0)
		s.Require().NoError(err)
		_, err = s.store.StoreNewVersion(s.ctx, "stale_key", s.newVersion("C"), 1)
		s.Require().NoError(err)

		// A writer that still believes version 1 is current must lose.
		_, err = s.store.StoreNewVersion(s.ctx, "stale_key", s.newVersion("D"), 1)
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("version on unknown key fails", func() {
		_, err := s.store.StoreNewVersion(s.ctx, "missing_key", s.newVersion("B"), 3)
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})
}

func (s *MemoryStoreSuite) TestVersionSequence() {
	for i, prompt := range []string{"B", "C", "D"} {
		v, err := s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion(prompt), int64(i))
		s.Require().NoError(err)
		s.Equal(int64(i+1), v.VersionID)
	}

	versions, err := s.store.ListVersions(s.ctx, "patient_info")
	s.Require().NoError(err)
	s.Require().Len(versions, 3)
	for i, v := range versions {
		s.Equal(int64(i+1), v.VersionID)
	}
}

func (s *MemoryStoreSuite) TestTombstone() {
	_, err := s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("B"), 0)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Tombstone(s.ctx, "patient_info", "bob"))

	_, err = s.store.LoadCurrent(s.ctx, "patient_info", false)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	current, err := s.store.LoadCurrent(s.ctx, "patient_info", true)
	s.Require().NoError(err)
	s.Equal(int64(1), current.VersionID)

	// History survives the tombstone.
	versions, err := s.store.ListVersions(s.ctx, "patient_info")
	s.Require().NoError(err)
	s.Len(versions, 1)

	// Terminal: second delete and new writes are refused.
	s.Require().ErrorIs(s.store.Tombstone(s.ctx, "patient_info", "bob"), sentinel.ErrNotFound)
	_, err = s.store.StoreNewVersion(s.ctx, "patient_info", s.newVersion("C"), 1)
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

func (s *MemoryStoreSuite) TestListKeys() {
	_, err := s.store.StoreNewVersion(s.ctx, "b_key", s.newVersion("B"), 0)
	s.Require().NoError(err)
	_, err = s.store.StoreNewVersion(s.ctx, "a_key", s.newVersion("B"), 0)
	s.Require().NoError(err)
	_, err = s.store.StoreNewVersion(s.ctx, "gone_key", s.newVersion("B"), 0)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Tombstone(s.ctx, "gone_key", "bob"))

	keys, err := s.store.ListKeys(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"a_key", "b_key"}, keys)
}
