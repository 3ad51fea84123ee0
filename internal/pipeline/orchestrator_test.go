package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivescan/pipeline/constants"
	"github.com/archivescan/pipeline/internal/classify"
	"github.com/archivescan/pipeline/internal/extract"
	"github.com/archivescan/pipeline/internal/ingest"
	"github.com/archivescan/pipeline/internal/record"
	"github.com/archivescan/pipeline/internal/semantic"
	"github.com/archivescan/pipeline/internal/session"
	"github.com/archivescan/pipeline/internal/staging"
	"github.com/archivescan/pipeline/internal/table"
)

func pngBytes(t *testing.T, base uint8, busy bool) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			v := base
			if busy && (x+y)%3 == 0 {
				v = base + 100
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func buildScanZip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scans.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	front, err := w.Create("scan_001.png")
	require.NoError(t, err)
	_, err = front.Write(pngBytes(t, 40, true))
	require.NoError(t, err)

	back, err := w.Create("scan_002.png")
	require.NoError(t, err)
	_, err = back.Write(pngBytes(t, 250, false))
	require.NoError(t, err)

	require.NoError(t, w.Close())
	return path
}

// fakeExtractor writes one valid record per unit without any service call.
type fakeExtractor struct {
	id  string
	err error
}

func (f *fakeExtractor) ProcessBackImages(_ context.Context, root string) (extract.BatchResult, error) {
	if f.err != nil {
		return extract.BatchResult{}, f.err
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return extract.BatchResult{}, err
	}
	var res extract.BatchResult
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec := extract.UnitRecord{IDNumber: f.id, ExtractionNotes: "faint text at edge"}
		rec.Processing.Directory = e.Name()
		rec.Processing.ModelUsed = "gpt-4o"
		rec.Processing.ProcessedAt = "2026-03-01T12:00:00Z"
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return res, err
		}
		path := filepath.Join(root, e.Name(), e.Name()+".json")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return res, err
		}
		res.Total++
		res.Processed++
	}
	return res, nil
}

type fakeRecordStore struct {
	created []record.Record
	err     error
}

func (f *fakeRecordStore) CreateRecord(_ context.Context, rec record.Record) (uuid.UUID, error) {
	if f.err != nil {
		return uuid.Nil, f.err
	}
	rec.ID = uuid.New()
	f.created = append(f.created, rec)
	return rec.ID, nil
}

func (f *fakeRecordStore) ListRecords(context.Context, string) ([]record.Record, error) {
	return f.created, nil
}

func newTestOrchestrator(t *testing.T, ex Extractor, store record.Store, stage *staging.Store) (*Orchestrator, *session.Manager) {
	t.Helper()
	mgr, err := session.NewManager(t.TempDir(), nil)
	require.NoError(t, err)
	o := NewOrchestrator(Options{
		Sessions:   mgr,
		Formatter:  ingest.NewFormatter(nil),
		Classifier: classify.NewBatch(nil),
		Extractor:  ex,
		Tables:     table.NewGenerator(nil),
		Records:    store,
		Staging:    stage,
	})
	return o, mgr
}

func TestRunFullPipeline(t *testing.T) {
	store := &fakeRecordStore{}
	stagingStore, err := staging.Open(filepath.Join(t.TempDir(), "staging.db"), nil)
	require.NoError(t, err)
	defer stagingStore.Close()

	o, mgr := newTestOrchestrator(t, &fakeExtractor{id: "27.42"}, store, stagingStore)
	s, err := mgr.Create()
	require.NoError(t, err)
	require.NoError(t, stagingStore.CreateSession(context.Background(), s.ID, "scans.zip", s.Dir))

	require.NoError(t, o.Run(context.Background(), s, buildScanZip(t)))

	snap := s.Snapshot()
	assert.Equal(t, constants.StatusReviewReady, snap.Status)
	assert.Equal(t, constants.StageAwaitingReview, snap.CurrentStage)
	assert.Equal(t, constants.StageOrder, snap.CompletedStages)

	assert.EqualValues(t, 2, snap.Stats["images_found"])
	assert.EqualValues(t, 1, snap.Stats["pairs_created"])
	assert.EqualValues(t, 1, snap.Stats["units_classified"])
	assert.EqualValues(t, 1, snap.Stats["total_items"])
	assert.EqualValues(t, 1, snap.Stats["quality_issues"])
	assert.EqualValues(t, 1, snap.Stats["records_created"])

	assert.FileExists(t, filepath.Join(s.ProcessedDir(), table.WorkbookName))
	assert.FileExists(t, filepath.Join(s.ProcessedDir(), table.ReportName))

	// The classified back image carried its suffix into the unit dir.
	entries, err := os.ReadDir(filepath.Join(s.ProcessedDir(), "001"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "scan_001A.png")
	assert.Contains(t, names, "scan_002B.png")

	require.Len(t, store.created, 1)
	assert.Equal(t, "27.42", store.created[0].Identifier)

	staged, err := stagingStore.ListItems(context.Background(), s.ID)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, "27.42", staged[0].IDNumber)

	// Metadata on disk matches the in-memory state.
	mgr2, err := session.NewManager(filepath.Dir(s.Dir), nil)
	require.NoError(t, err)
	loaded, err := mgr2.Load(s.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusReviewReady, loaded.Snapshot().Status)
}

func TestRunExtractionFailureHaltsBeforeTable(t *testing.T) {
	o, mgr := newTestOrchestrator(t, &fakeExtractor{err: errors.New("vision service down")}, nil, nil)
	s, err := mgr.Create()
	require.NoError(t, err)

	err = o.Run(context.Background(), s, buildScanZip(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(constants.StageTextExtraction))

	snap := s.Snapshot()
	assert.Equal(t, constants.StatusError, snap.Status)
	assert.Equal(t, constants.StageTextExtraction, snap.CurrentStage)
	assert.NotContains(t, snap.CompletedStages, constants.StageTextExtraction)
	assert.NotContains(t, snap.CompletedStages, constants.StageGenerateTable)
	assert.NoFileExists(t, filepath.Join(s.ProcessedDir(), table.WorkbookName))
}

func TestRunBadArchiveFailsScanFormatting(t *testing.T) {
	o, mgr := newTestOrchestrator(t, &fakeExtractor{id: "1.1"}, nil, nil)
	s, err := mgr.Create()
	require.NoError(t, err)

	notZip := filepath.Join(t.TempDir(), "scans.zip")
	require.NoError(t, os.WriteFile(notZip, []byte("not an archive"), 0o644))

	err = o.Run(context.Background(), s, notZip)
	require.Error(t, err)
	assert.Equal(t, constants.StageScanFormatting, s.Snapshot().CurrentStage)
	assert.Equal(t, constants.StatusError, s.Snapshot().Status)
}

func TestRunCancelledContextStopsBetweenStages(t *testing.T) {
	o, mgr := newTestOrchestrator(t, &fakeExtractor{id: "1.1"}, nil, nil)
	s, err := mgr.Create()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = o.Run(ctx, s, buildScanZip(t))
	require.Error(t, err)
	assert.Equal(t, constants.StatusError, s.Snapshot().Status)
}

func TestImportFailuresAreNonFatal(t *testing.T) {
	store := &fakeRecordStore{err: errors.New("connection refused")}
	o, mgr := newTestOrchestrator(t, &fakeExtractor{id: "27.42"}, store, nil)
	s, err := mgr.Create()
	require.NoError(t, err)

	require.NoError(t, o.Run(context.Background(), s, buildScanZip(t)))

	snap := s.Snapshot()
	assert.Equal(t, constants.StatusReviewReady, snap.Status)
	assert.Contains(t, snap.CompletedStages, constants.StageDatabaseImport)
	assert.EqualValues(t, 0, snap.Stats["records_created"])
	assert.EqualValues(t, 1, snap.Stats["record_failures"])
}

func buildTwoPairZip(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scans.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for i, img := range [][]byte{
		pngBytes(t, 40, true),
		pngBytes(t, 250, false),
		pngBytes(t, 40, true),
		pngBytes(t, 250, false),
	} {
		entry, err := w.Create(fmt.Sprintf("scan_%03d.png", i+1))
		require.NoError(t, err)
		_, err = entry.Write(img)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return path
}

func TestIndexDocIDsDistinctWithoutRecordStore(t *testing.T) {
	var mu sync.Mutex
	var ids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/collections" {
			fmt.Fprint(w, `{"id":"col-1"}`)
			return
		}
		var body struct {
			IDs []string `json:"ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		ids = append(ids, body.IDs...)
		mu.Unlock()
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	o, mgr := newTestOrchestrator(t, &fakeExtractor{id: "63.8"}, nil, nil)
	o.opts.Semantic = semantic.NewClient(semantic.Config{BaseURL: srv.URL}, nil)
	s, err := mgr.Create()
	require.NoError(t, err)

	require.NoError(t, o.Run(context.Background(), s, buildTwoPairZip(t)))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
	for _, id := range ids {
		assert.Contains(t, id, s.ID)
	}
	assert.EqualValues(t, 2, s.Snapshot().Stats["documents_indexed"])
}

func TestStageTimeoutDefaults(t *testing.T) {
	o := NewOrchestrator(Options{})
	assert.Equal(t, 30*time.Minute, o.opts.StageTimeout)
	assert.True(t, strings.Contains(o.opts.Collection, "Pipeline"))
}
