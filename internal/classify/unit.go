package classify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/archivescan/pipeline/constants"
)

// UnitResult describes one unit directory's classification outcome.
type UnitResult struct {
	Directory     string `json:"directory"`
	FrontOriginal string `json:"front_original,omitempty"`
	BackOriginal  string `json:"back_original,omitempty"`
	FrontNew      string `json:"front_new,omitempty"`
	BackNew       string `json:"back_new,omitempty"`
	Reasoning     string `json:"reasoning,omitempty"`
	Renamed       bool   `json:"renamed"`
	Err           string `json:"error,omitempty"`
}

// BatchResult aggregates classification over all unit directories.
type BatchResult struct {
	Total      int
	Succeeded  int
	Failed     int
	Unresolved int
	Units      []UnitResult
}

// Batch classifies and renames image pairs across unit directories.
type Batch struct {
	logger  *slog.Logger
	weights Weights
	dryRun  bool
}

type BatchOption func(*Batch)

// WithWeights overrides the default scoring weights.
func WithWeights(w Weights) BatchOption {
	return func(b *Batch) { b.weights = w }
}

// WithDryRun computes decisions without touching any file.
func WithDryRun(v bool) BatchOption {
	return func(b *Batch) { b.dryRun = v }
}

func NewBatch(logger *slog.Logger, opts ...BatchOption) *Batch {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Batch{logger: logger, weights: DefaultWeights()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// ProcessUnit classifies the two images in dir and renames them with the
// canonical front/back suffixes. A metric failure on either image returns an
// error and leaves the unit untouched; a rename failure is reported on the
// result instead so the batch keeps going.
func (b *Batch) ProcessUnit(ctx context.Context, dir string) (UnitResult, error) {
	res := UnitResult{Directory: filepath.Base(dir)}

	images, err := listImages(dir)
	if err != nil {
		return res, err
	}
	if len(images) != 2 {
		return res, fmt.Errorf("expected 2 images in %s, found %d", filepath.Base(dir), len(images))
	}
	sort.Strings(images)

	var m1, m2 Metrics
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		m1, err = Analyze(filepath.Join(dir, images[0]))
		return err
	})
	g.Go(func() error {
		var err error
		m2, err = Analyze(filepath.Join(dir, images[1]))
		return err
	})
	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("analyze pair: %w", err)
	}

	decision := b.weights.ClassifyPair(
		Candidate{Name: images[0], Metrics: m1},
		Candidate{Name: images[1], Metrics: m2},
	)
	res.Reasoning = decision.Reasoning
	res.FrontOriginal = decision.FrontName
	res.BackOriginal = decision.BackName
	res.FrontNew = suffixedName(decision.FrontName, constants.FrontSuffix)
	res.BackNew = suffixedName(decision.BackName, constants.BackSuffix)

	b.logger.Info("classify.pair",
		"directory", res.Directory,
		"back", decision.BackName,
		"score", decision.BackScore,
	)

	if b.dryRun {
		return res, nil
	}

	if err := renameTo(dir, decision.FrontName, res.FrontNew); err != nil {
		res.Err = fmt.Sprintf("rename front: %v", err)
		return res, nil
	}
	if err := renameTo(dir, decision.BackName, res.BackNew); err != nil {
		res.Err = fmt.Sprintf("rename back: %v", err)
		return res, nil
	}
	res.Renamed = true
	return res, nil
}

// ProcessAll walks every unit directory under root. Units that cannot be
// classified are skipped and counted; the batch itself only fails when no
// unit directory exists at all.
func (b *Batch) ProcessAll(ctx context.Context, root string) (BatchResult, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return BatchResult{}, fmt.Errorf("read root: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		imgs, err := listImages(filepath.Join(root, e.Name()))
		if err == nil && len(imgs) == 2 {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		} else if err == nil && len(imgs) > 0 {
			b.logger.Warn("classify.unit_skipped", "directory", e.Name(), "images", len(imgs))
		}
	}
	if len(dirs) == 0 {
		return BatchResult{}, fmt.Errorf("no unit directories with exactly 2 images under %s", root)
	}
	sort.Strings(dirs)

	out := BatchResult{Total: len(dirs)}
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := b.ProcessUnit(ctx, dir)
		if err != nil {
			out.Failed++
			out.Unresolved++
			res.Err = err.Error()
			b.logger.Error("classify.unit_failed", "directory", filepath.Base(dir), "error", err)
		} else if res.Err != "" {
			out.Failed++
			b.logger.Error("classify.rename_failed", "directory", res.Directory, "error", res.Err)
		} else {
			out.Succeeded++
		}
		out.Units = append(out.Units, res)
	}
	return out, nil
}

// suffixedName strips any existing front/back marker from the stem and
// appends the new one.
func suffixedName(name, suffix string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	stem = strings.TrimRight(stem, constants.FrontSuffix+constants.BackSuffix)
	return stem + suffix + ext
}

func renameTo(dir, oldName, newName string) error {
	if oldName == newName {
		return nil
	}
	oldPath := filepath.Join(dir, oldName)
	newPath := filepath.Join(dir, newName)
	if _, err := os.Stat(newPath); err == nil {
		if err := os.Remove(newPath); err != nil {
			return fmt.Errorf("remove existing %s: %w", newName, err)
		}
	}
	return os.Rename(oldPath, newPath)
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var images []string
	for _, e := range entries {
		if !e.IsDir() && constants.IsImageFile(e.Name()) {
			images = append(images, e.Name())
		}
	}
	return images, nil
}
