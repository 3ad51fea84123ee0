package ingest

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestZIP(t *testing.T, files map[string][]byte) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "scans.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

// tinyPNG is a 1x1 valid PNG, enough for pairing tests that never decode.
func tinyPNG() []byte {
	return []byte{
		0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a,
		0, 0, 0, 0x0d, 'I', 'H', 'D', 'R',
		0, 0, 0, 1, 0, 0, 0, 1, 8, 0, 0, 0, 0, 0x3a, 0x7e, 0x9b, 0x55,
		0, 0, 0, 0x0a, 'I', 'D', 'A', 'T',
		0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00, 0x05, 0x00, 0x01,
		0x0d, 0x0a, 0x2d, 0xb4,
		0, 0, 0, 0, 'I', 'E', 'N', 'D', 0xae, 0x42, 0x60, 0x82,
	}
}

func TestUnitLabel(t *testing.T) {
	assert.Equal(t, "007", UnitLabel("scan_007.jpg"))
	assert.Equal(t, "001", UnitLabel("IMG_001_edited.png"))
	assert.Equal(t, "042", UnitLabel("42.tif"))
	assert.Equal(t, "1234", UnitLabel("1234.jpg"))
	assert.Equal(t, "cover", UnitLabel("cover.jpg"))
}

func TestSortBySequence(t *testing.T) {
	paths := []string{"scan_10.png", "scan_2.png", "notes.png", "scan_1.png"}
	SortBySequence(paths)
	assert.Equal(t, []string{"scan_1.png", "scan_2.png", "scan_10.png", "notes.png"}, paths)
}

func TestSortBySequence_LongestRunWins(t *testing.T) {
	// The year-like prefix is shorter than the sequence counter.
	paths := []string{"24_0002.png", "24_0001.png"}
	SortBySequence(paths)
	assert.Equal(t, []string{"24_0001.png", "24_0002.png"}, paths)
}

func TestFormat_PairsConsecutiveImages(t *testing.T) {
	zipPath := createTestZIP(t, map[string][]byte{
		"scan_001.png": tinyPNG(),
		"scan_002.png": tinyPNG(),
		"scan_003.png": tinyPNG(),
		"scan_004.png": tinyPNG(),
		"readme.txt":   []byte("ignore me"),
	})
	out := t.TempDir()

	res, err := NewFormatter(nil).Format(zipPath, out)
	require.NoError(t, err)
	assert.Equal(t, 4, res.ImagesFound)
	assert.Equal(t, 2, res.PairsCreated)
	assert.Empty(t, res.Skipped)

	entries, err := os.ReadDir(filepath.Join(out, "001"))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = os.Stat(filepath.Join(out, "003", "scan_003.png"))
	require.NoError(t, err)
}

func TestFormat_OddImageSkipped(t *testing.T) {
	zipPath := createTestZIP(t, map[string][]byte{
		"scan_001.png": tinyPNG(),
		"scan_002.png": tinyPNG(),
		"scan_003.png": tinyPNG(),
	})
	out := t.TempDir()

	res, err := NewFormatter(nil).Format(zipPath, out)
	require.NoError(t, err)
	assert.Equal(t, 1, res.PairsCreated)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "scan_003.png", res.Skipped[0])

	_, err = os.Stat(filepath.Join(out, "003"))
	assert.True(t, os.IsNotExist(err))
}

func TestFormat_RejectsNonZip(t *testing.T) {
	_, err := NewFormatter(nil).Format("archive.tar", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".zip")
}

func TestFormat_TooFewImages(t *testing.T) {
	zipPath := createTestZIP(t, map[string][]byte{"scan_001.png": tinyPNG()})
	_, err := NewFormatter(nil).Format(zipPath, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2 images")
}

func TestExtractArchive_RejectsEscapingEntry(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, err := w.Create("../evil.png")
	require.NoError(t, err)
	_, err = fw.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	zipPath := filepath.Join(t.TempDir(), "evil.zip")
	require.NoError(t, os.WriteFile(zipPath, buf.Bytes(), 0o644))

	_, err = ExtractArchive(zipPath, t.TempDir())
	require.Error(t, err)
}

func TestCreateArchive_RoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "001"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "001", "scan_001A.png"), tinyPNG(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "summary.html"), []byte("<html/>"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, CreateArchive(&buf, src))

	zipPath := filepath.Join(t.TempDir(), "out.zip")
	require.NoError(t, os.WriteFile(zipPath, buf.Bytes(), 0o644))

	dest := t.TempDir()
	files, err := ExtractArchive(zipPath, dest)
	require.NoError(t, err)
	assert.Len(t, files, 2)
	_, err = os.Stat(filepath.Join(dest, "001", "scan_001A.png"))
	require.NoError(t, err)
}
