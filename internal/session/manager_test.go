package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivescan/pipeline/constants"
	"github.com/archivescan/pipeline/internal/common"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), nil)
	require.NoError(t, err)
	return m
}

func TestCreateBuildsDirTreeAndMetadata(t *testing.T) {
	m := newTestManager(t)

	s, err := m.Create()
	require.NoError(t, err)

	assert.Equal(t, constants.StatusCreated, s.Snapshot().Status)
	assert.DirExists(t, s.UploadsDir())
	assert.DirExists(t, s.ProcessedDir())
	assert.FileExists(t, s.MetadataPath())
}

func TestGetUnknownSession(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Get("no-such-id")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestEnsureReviewReadyGatesResultDelivery(t *testing.T) {
	m := newTestManager(t)

	s, err := m.Create()
	require.NoError(t, err)

	err = s.EnsureReviewReady()
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNotReady)

	s.SetStage(constants.StageTextExtraction)
	assert.ErrorIs(t, s.EnsureReviewReady(), common.ErrNotReady)

	s.SetStatus(constants.StatusReviewReady)
	assert.NoError(t, s.EnsureReviewReady())
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root, nil)
	require.NoError(t, err)

	s, err := m.Create()
	require.NoError(t, err)
	s.SetStage(constants.StageClassifyRename)
	s.CompleteStage(constants.StageScanFormatting)
	s.SetStat("pairs_created", 4)
	require.NoError(t, m.Save(s))

	// A fresh manager sees only what was persisted.
	m2, err := NewManager(root, nil)
	require.NoError(t, err)
	loaded, err := m2.Load(s.ID)
	require.NoError(t, err)

	snap := loaded.Snapshot()
	assert.Equal(t, constants.StatusProcessing, snap.Status)
	assert.Equal(t, constants.StageClassifyRename, snap.CurrentStage)
	assert.Equal(t, []constants.Stage{constants.StageScanFormatting}, snap.CompletedStages)
	assert.EqualValues(t, 4, snap.Stats["pairs_created"])
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create()
	require.NoError(t, err)
	require.NoError(t, m.Save(s))

	entries, err := os.ReadDir(s.Dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestDeleteRemovesDirAndRegistration(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create()
	require.NoError(t, err)

	require.NoError(t, m.Delete(s.ID))
	assert.NoDirExists(t, s.Dir)
	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestExpireSweepTimeoutBoundary(t *testing.T) {
	m := newTestManager(t)
	s, err := m.Create()
	require.NoError(t, err)

	created := s.Snapshot().CreatedAt

	// 23h old: survives a 24h timeout.
	removed := m.ExpireSweep(created.Add(23*time.Hour), 24*time.Hour)
	assert.Equal(t, 0, removed)
	_, err = m.Get(s.ID)
	require.NoError(t, err)

	// 25h old: evicted.
	removed = m.ExpireSweep(created.Add(25*time.Hour), 24*time.Hour)
	assert.Equal(t, 1, removed)
	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.NoDirExists(t, s.Dir)
}

func TestScanExistingMarksInterruptedSessions(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root, nil)
	require.NoError(t, err)

	interrupted, err := m.Create()
	require.NoError(t, err)
	interrupted.SetStage(constants.StageTextExtraction)
	interrupted.CompleteStage(constants.StageScanFormatting)
	require.NoError(t, m.Save(interrupted))

	finished, err := m.Create()
	require.NoError(t, err)
	finished.SetStage(constants.StageDatabaseImport)
	for _, st := range constants.StageOrder {
		finished.CompleteStage(st)
	}
	finished.SetStatus(constants.StatusReviewReady)
	require.NoError(t, m.Save(finished))

	m2, err := NewManager(root, nil)
	require.NoError(t, err)
	require.NoError(t, m2.ScanExisting())

	got, err := m2.Get(interrupted.ID)
	require.NoError(t, err)
	snap := got.Snapshot()
	assert.Equal(t, constants.StatusError, snap.Status)
	assert.Contains(t, snap.Error, "interrupted")
	assert.Contains(t, snap.Error, string(constants.StageTextExtraction))

	got, err = m2.Get(finished.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusReviewReady, got.Snapshot().Status)
}

func TestScanExistingSkipsGarbageDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "stray"), 0o755))

	m, err := NewManager(root, nil)
	require.NoError(t, err)
	require.NoError(t, m.ScanExisting())
	assert.Empty(t, m.List())
}
