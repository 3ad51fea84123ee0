package table

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/archivescan/pipeline/constants"
	"github.com/archivescan/pipeline/internal/extract"
)

// Row is one line of the summary table, flattened for tabular export.
type Row struct {
	Directory        string   `json:"directory"`
	IDNumber         string   `json:"id_number"`
	FrontImagePath   string   `json:"front_image_path"`
	BackImagePath    string   `json:"back_image_path"`
	ExtractionNotes  string   `json:"extraction_notes"`
	HandwrittenNotes string   `json:"handwritten_notes"`
	PrintedLabels    string   `json:"printed_labels"`
	Addresses        string   `json:"addresses"`
	OtherMarkings    string   `json:"other_markings"`
	ProcessedAt      string   `json:"processed_at"`
	ModelUsed        string   `json:"model_used"`
	HasError         bool     `json:"has_error"`
	ErrorMessage     string   `json:"error_message"`
	Flags            []string `json:"flags"`
}

// HasFlag reports whether the row carries the given flag.
func (r Row) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Stats aggregates counters across one table build.
type Stats struct {
	TotalItems       int    `json:"total_items"`
	Duplicates       int    `json:"duplicates"`
	QualityIssues    int    `json:"quality_issues"`
	ProcessingErrors int    `json:"processing_errors"`
	MissingIDs       int    `json:"missing_ids"`
	GeneratedAt      string `json:"generated_at"`
}

// Generator builds the summary table from a processed unit tree.
type Generator struct {
	logger *slog.Logger
	schema map[string]any
	now    func() time.Time
}

func NewGenerator(logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		logger: logger,
		schema: extract.BuildUnitRecordJSONSchema(),
		now:    time.Now,
	}
}

// BuildTable walks root for per-unit extraction documents and produces one
// row per document. A document that cannot be read, parsed, or validated
// still yields a row, marked with IDNumber "ERROR" and a processing_error
// flag, so nothing silently drops out of the table.
func (g *Generator) BuildTable(root string) ([]Row, Stats, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, Stats{}, fmt.Errorf("processed tree: %w", err)
	}

	var docs []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".json") {
			docs = append(docs, path)
		}
		return nil
	})
	if err != nil {
		return nil, Stats{}, fmt.Errorf("walk processed tree: %w", err)
	}
	sort.Strings(docs)

	var rows []Row
	stats := Stats{GeneratedAt: g.now().UTC().Format("2006-01-02 15:04:05")}

	for _, doc := range docs {
		row := g.buildRow(root, doc)

		if row.HasFlag(FlagQualityIssue) {
			stats.QualityIssues++
		}
		if row.HasError {
			stats.ProcessingErrors++
		}
		if constants.IsSentinelID(row.IDNumber) || strings.TrimSpace(row.IDNumber) == "" {
			stats.MissingIDs++
		}
		rows = append(rows, row)
		stats.TotalItems++
	}

	flagDuplicates(rows, &stats)

	g.logger.Info("table.built",
		"rows", stats.TotalItems,
		"duplicates", stats.Duplicates,
		"quality_issues", stats.QualityIssues,
		"processing_errors", stats.ProcessingErrors,
		"missing_ids", stats.MissingIDs,
	)
	return rows, stats, nil
}

func (g *Generator) buildRow(root, docPath string) Row {
	dir := filepath.Dir(docPath)
	row := Row{Directory: filepath.Base(dir)}
	row.FrontImagePath, row.BackImagePath = findUnitImages(root, dir)

	data, err := os.ReadFile(docPath)
	if err == nil {
		err = extract.ValidateJSONAgainstSchema(g.schema, data)
	}
	var rec extract.UnitRecord
	if err == nil {
		err = json.Unmarshal(data, &rec)
	}
	if err != nil {
		g.logger.Error("table.document_unusable", "path", docPath, "error", err)
		row.IDNumber = constants.IDError
		row.ExtractionNotes = fmt.Sprintf("failed to process document: %v", err)
		row.HasError = true
		row.ErrorMessage = err.Error()
		row.Flags = []string{FlagProcessingError}
		return row
	}

	row.IDNumber = rec.IDNumber
	row.ExtractionNotes = rec.ExtractionNotes
	row.HandwrittenNotes = strings.Join(rec.Metadata.HandwrittenNotes, ", ")
	row.PrintedLabels = strings.Join(rec.Metadata.PrintedLabels, ", ")
	row.Addresses = strings.Join(rec.Metadata.Addresses, ", ")
	row.OtherMarkings = strings.Join(rec.Metadata.OtherMarkings, ", ")
	row.ProcessedAt = rec.Processing.ProcessedAt
	row.ModelUsed = rec.Processing.ModelUsed
	row.Flags = ExtractIssueFlags(rec.ExtractionNotes)
	return row
}

// flagDuplicates is the global second pass: ids shared by two or more rows
// get a duplicate_id flag on every member. Sentinel ids never group.
func flagDuplicates(rows []Row, stats *Stats) {
	byID := make(map[string][]int)
	for i, row := range rows {
		id := strings.TrimSpace(row.IDNumber)
		if id == "" || constants.IsSentinelID(id) {
			continue
		}
		byID[id] = append(byID[id], i)
	}
	for _, members := range byID {
		if len(members) < 2 {
			continue
		}
		for _, i := range members {
			if !rows[i].HasFlag(FlagDuplicateID) {
				rows[i].Flags = append(rows[i].Flags, FlagDuplicateID)
			}
		}
		stats.Duplicates += len(members)
	}
}

func findUnitImages(root, unitDir string) (front, back string) {
	entries, err := os.ReadDir(unitDir)
	if err != nil {
		return "", ""
	}
	for _, e := range entries {
		if e.IsDir() || !constants.IsImageFile(e.Name()) {
			continue
		}
		rel, err := filepath.Rel(root, filepath.Join(unitDir, e.Name()))
		if err != nil {
			continue
		}
		s := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		switch {
		case strings.HasSuffix(s, constants.FrontSuffix):
			front = rel
		case strings.HasSuffix(s, constants.BackSuffix):
			back = rel
		}
	}
	return front, back
}
