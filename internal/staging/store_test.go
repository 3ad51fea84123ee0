package staging

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivescan/pipeline/internal/table"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "staging.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndUpdateSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "sess-1", "scans.zip", "/tmp/sessions/sess-1"))
	require.NoError(t, s.UpdateSessionStatus(ctx, "sess-1", "processing"))
	require.NoError(t, s.UpdateSessionStats(ctx, "sess-1", table.Stats{
		TotalItems: 3, Duplicates: 2, QualityIssues: 1,
	}))
}

func TestStageRowsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "sess-1", "scans.zip", "/tmp/sess-1"))

	rows := []table.Row{
		{
			Directory:        "001",
			IDNumber:         "27.42",
			FrontImagePath:   "001/scan_001A.jpg",
			BackImagePath:    "001/scan_002B.jpg",
			HandwrittenNotes: "to grandma",
			Flags:            []string{table.FlagDuplicateID},
			ProcessedAt:      "2026-03-01T12:00:00Z",
			ModelUsed:        "gpt-4o",
		},
		{Directory: "003", IDNumber: "63.8"},
	}
	stats := table.Stats{TotalItems: 2, Duplicates: 1}
	require.NoError(t, s.StageRows(ctx, "sess-1", rows, stats))

	got, err := s.ListItems(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "27.42", got[0].IDNumber)
	assert.Equal(t, []string{table.FlagDuplicateID}, got[0].Flags)
	assert.Empty(t, got[1].Flags)

	// Re-staging replaces rather than appends.
	require.NoError(t, s.StageRows(ctx, "sess-1", rows[:1], stats))
	got, err = s.ListItems(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDeleteSessionCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, "sess-1", "scans.zip", "/tmp/sess-1"))
	require.NoError(t, s.InsertItem(ctx, "sess-1", table.Row{Directory: "001", IDNumber: "27.42"}))

	require.NoError(t, s.DeleteSession(ctx, "sess-1"))
	got, err := s.ListItems(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
