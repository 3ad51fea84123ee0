package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/archivescan/pipeline/constants"
)

// Config tunes the extraction adapter.
type Config struct {
	Model             string
	RequestsPerMinute int
}

// Adapter turns back images into UnitRecords via the recognition service.
// Requests are serialized through a requests-per-minute rate limiter, and
// an unparseable reply is downgraded to a best-effort record rather than an
// error, so the table stage always has something to aggregate.
type Adapter struct {
	recognizer Recognizer
	limiter    *rate.Limiter
	model      string
	logger     *slog.Logger
	now        func() time.Time
}

func NewAdapter(r Recognizer, cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o"
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 50
	}
	return &Adapter{
		recognizer: r,
		limiter:    rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
		model:      cfg.Model,
		logger:     logger,
		now:        time.Now,
	}
}

// ExtractUnit processes one back image. The only hard failure is context
// cancellation; every service or parse problem is absorbed into the record.
func (a *Adapter) ExtractUnit(ctx context.Context, imagePath, label string) (UnitRecord, error) {
	rec, _, err := a.extractUnit(ctx, imagePath, label)
	return rec, err
}

func (a *Adapter) extractUnit(ctx context.Context, imagePath, label string) (UnitRecord, bool, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return UnitRecord{}, false, err
	}

	rec, clean := a.recognizeOne(ctx, imagePath, label)
	if err := ctx.Err(); err != nil {
		return UnitRecord{}, false, err
	}

	rec.Processing = Provenance{
		ImagePath:   imagePath,
		Directory:   label,
		ProcessedAt: a.now().UTC().Format(time.RFC3339),
		ModelUsed:   a.model,
	}
	return rec, clean, nil
}

func (a *Adapter) recognizeOne(ctx context.Context, imagePath, label string) (UnitRecord, bool) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		a.logger.Error("extract.read_failed", "image", imagePath, "error", err)
		return fallbackRecord("", fmt.Sprintf("failed to read image: %v", err)), false
	}

	raw, err := a.recognizer.Recognize(ctx, RecognizeRequest{
		ImageBytes: data,
		MIMEType:   mimeTypeFor(imagePath),
		UnitLabel:  label,
	})
	if err != nil {
		a.logger.Error("extract.recognize_failed", "unit", label, "error", err)
		return fallbackRecord("", fmt.Sprintf("recognition request failed: %v", err)), false
	}

	rec, ok := ParseReply(raw)
	if !ok {
		a.logger.Warn("extract.unparseable_reply", "unit", label, "bytes", len(raw))
		return rec, false
	}
	a.logger.Info("extract.ok", "unit", label, "id_number", rec.IDNumber)
	return rec, true
}

// ParseReply locates the first '{' and the last '}' in the service's free
// text and parses the substring. When no JSON object can be recovered, the
// raw text is preserved under other markings with an explicit note so the
// data survives for manual review.
func ParseReply(raw string) (UnitRecord, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		rec := fallbackRecord(raw, "reply contained no JSON object, raw text preserved")
		rec.IDNumber = constants.IDNotFound
		return rec, false
	}

	var rec UnitRecord
	if err := json.Unmarshal([]byte(raw[start:end+1]), &rec); err != nil {
		fb := fallbackRecord(raw, "JSON parsing failed, raw text preserved")
		fb.IDNumber = constants.IDParsingError
		return fb, false
	}
	if strings.TrimSpace(rec.IDNumber) == "" {
		rec.IDNumber = constants.IDNotFound
	}
	return rec, true
}

func fallbackRecord(rawText, note string) UnitRecord {
	rec := UnitRecord{
		IDNumber:        constants.IDNotFound,
		ExtractionNotes: note,
	}
	if rawText != "" {
		rec.Metadata.OtherMarkings = []string{rawText}
	}
	return rec
}

// BatchResult summarizes one extraction run over a processed tree.
type BatchResult struct {
	Total     int
	Processed int
	Fallbacks int
}

// ProcessBackImages finds every classified back image under root and writes
// one extraction document per unit, named after the unit directory.
func (a *Adapter) ProcessBackImages(ctx context.Context, root string) (BatchResult, error) {
	backs, err := findBackImages(root)
	if err != nil {
		return BatchResult{}, err
	}
	if len(backs) == 0 {
		return BatchResult{}, fmt.Errorf("no back images (stem ending %q) under %s", constants.BackSuffix, root)
	}

	res := BatchResult{Total: len(backs)}
	for _, back := range backs {
		label := filepath.Base(filepath.Dir(back))
		rec, clean, err := a.extractUnit(ctx, back, label)
		if err != nil {
			return res, err
		}
		if !clean {
			res.Fallbacks++
		}

		docPath := filepath.Join(filepath.Dir(back), label+".json")
		if err := writeRecord(docPath, rec); err != nil {
			return res, fmt.Errorf("write record for unit %s: %w", label, err)
		}
		res.Processed++
	}
	return res, nil
}

func writeRecord(path string, rec UnitRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func findBackImages(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read root: %w", err)
	}
	var backs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		unitDir := filepath.Join(root, e.Name())
		files, err := os.ReadDir(unitDir)
		if err != nil {
			return nil, fmt.Errorf("read unit dir %s: %w", e.Name(), err)
		}
		for _, f := range files {
			if f.IsDir() || !constants.IsImageFile(f.Name()) {
				continue
			}
			s := strings.TrimSuffix(f.Name(), filepath.Ext(f.Name()))
			if strings.HasSuffix(s, constants.BackSuffix) {
				backs = append(backs, filepath.Join(unitDir, f.Name()))
			}
		}
	}
	return backs, nil
}

func mimeTypeFor(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "image/jpeg"
}
