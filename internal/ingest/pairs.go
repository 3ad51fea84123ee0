package ingest

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var digitRun = regexp.MustCompile(`\d+`)

// Formatter arranges a flat set of numbered scan images into unit
// directories, two consecutive images per unit.
type Formatter struct {
	logger *slog.Logger
}

func NewFormatter(logger *slog.Logger) *Formatter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Formatter{logger: logger}
}

// FormatResult summarizes one formatting run.
type FormatResult struct {
	ImagesFound  int
	PairsCreated int
	Skipped      []string
}

// Format extracts zipPath into a scratch directory under outputDir, sorts the
// images by their embedded sequence number, and copies each consecutive pair
// into a unit directory. An odd trailing image is skipped with a warning.
func (f *Formatter) Format(zipPath, outputDir string) (FormatResult, error) {
	if ext := strings.ToLower(filepath.Ext(zipPath)); ext != ".zip" {
		return FormatResult{}, fmt.Errorf("archive must be a .zip file, got %q", ext)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return FormatResult{}, fmt.Errorf("create output dir: %w", err)
	}

	tempDir, err := os.MkdirTemp(outputDir, "extract-*")
	if err != nil {
		return FormatResult{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	if _, err := ExtractArchive(zipPath, tempDir); err != nil {
		return FormatResult{}, err
	}

	images, err := CollectImages(tempDir)
	if err != nil {
		return FormatResult{}, err
	}
	if len(images) < 2 {
		return FormatResult{}, fmt.Errorf("need at least 2 images, found %d", len(images))
	}
	SortBySequence(images)

	res := FormatResult{ImagesFound: len(images)}
	for i := 0; i+1 < len(images); i += 2 {
		first, second := images[i], images[i+1]
		unitDir := filepath.Join(outputDir, UnitLabel(filepath.Base(first)))
		if err := os.MkdirAll(unitDir, 0o755); err != nil {
			return res, fmt.Errorf("create unit dir: %w", err)
		}
		if err := copyFile(first, filepath.Join(unitDir, filepath.Base(first))); err != nil {
			return res, err
		}
		if err := copyFile(second, filepath.Join(unitDir, filepath.Base(second))); err != nil {
			return res, err
		}
		res.PairsCreated++
	}
	if len(images)%2 != 0 {
		last := filepath.Base(images[len(images)-1])
		res.Skipped = append(res.Skipped, last)
		f.logger.Warn("ingest.odd_image_skipped", "image", last)
	}

	f.logger.Info("ingest.formatted",
		"images", res.ImagesFound,
		"pairs", res.PairsCreated,
		"skipped", len(res.Skipped),
	)
	return res, nil
}

// SortBySequence orders image paths by the numeric value of the longest digit
// run in each stem; images without digits sort last, by lowercase stem.
func SortBySequence(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		ni, oki := sequenceNumber(paths[i])
		nj, okj := sequenceNumber(paths[j])
		switch {
		case oki && okj:
			return ni < nj
		case oki:
			return true
		case okj:
			return false
		default:
			return strings.ToLower(stem(paths[i])) < strings.ToLower(stem(paths[j]))
		}
	})
}

func sequenceNumber(path string) (int, bool) {
	runs := digitRun.FindAllString(stem(path), -1)
	if len(runs) == 0 {
		return 0, false
	}
	longest := runs[0]
	for _, r := range runs[1:] {
		if len(r) > len(longest) {
			longest = r
		}
	}
	n, err := strconv.Atoi(longest)
	if err != nil {
		return 0, false
	}
	return n, true
}

// UnitLabel derives the unit directory name from a filename: the first digit
// run zero-padded to three places, or the raw stem when no digits exist.
func UnitLabel(filename string) string {
	if run := digitRun.FindString(stem(filename)); run != "" {
		if n, err := strconv.Atoi(run); err == nil {
			return fmt.Sprintf("%03d", n)
		}
	}
	return stem(filename)
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return nil
}
