package table

import (
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Output file names inside a session's processed directory.
const (
	WorkbookName = "processing_summary.xlsx"
	ReportName   = "processing_summary.html"
)

// Result reports where the rendered artifacts landed.
type Result struct {
	Rows         []Row
	Stats        Stats
	WorkbookPath string
	ReportPath   string
}

// Generate builds the table from root and renders both artifacts into
// outputDir (root itself when outputDir is empty).
func (g *Generator) Generate(root, outputDir string) (Result, error) {
	start := time.Now()
	if outputDir == "" {
		outputDir = root
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("output dir: %w", err)
	}

	rows, stats, err := g.BuildTable(root)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Rows:         rows,
		Stats:        stats,
		WorkbookPath: filepath.Join(outputDir, WorkbookName),
		ReportPath:   filepath.Join(outputDir, ReportName),
	}
	if err := g.writeWorkbook(rows, res.WorkbookPath); err != nil {
		return Result{}, fmt.Errorf("write workbook: %w", err)
	}
	if err := writeReport(rows, stats, res.ReportPath); err != nil {
		return Result{}, fmt.Errorf("write report: %w", err)
	}

	g.logger.Info("table.rendered",
		"workbook", res.WorkbookPath,
		"report", res.ReportPath,
		"rows", len(rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (g *Generator) writeWorkbook(rows []Row, path string) error {
	f := excelize.NewFile()
	const sheet = "Summary"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	if index, _ := f.GetSheetIndex("Sheet1"); index != -1 {
		_ = f.DeleteSheet("Sheet1")
	}

	headers := []string{
		"Directory",
		"ID Number",
		"Front Image",
		"Back Image",
		"Extraction Notes",
		"Handwritten Notes",
		"Printed Labels",
		"Addresses",
		"Other Markings",
		"Processed At",
		"Model",
		"Flags",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	duplicateStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FFEBEE"}},
	})
	if err != nil {
		return err
	}
	qualityStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FFF3E0"}},
	})
	if err != nil {
		return err
	}
	errorStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FCE4EC"}},
	})
	if err != nil {
		return err
	}

	rowNum := 2
	for _, r := range rows {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, rowNum)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, r.Directory)
		write(2, r.IDNumber)
		write(3, r.FrontImagePath)
		write(4, r.BackImagePath)
		write(5, r.ExtractionNotes)
		write(6, r.HandwrittenNotes)
		write(7, r.PrintedLabels)
		write(8, r.Addresses)
		write(9, r.OtherMarkings)
		write(10, r.ProcessedAt)
		write(11, r.ModelUsed)
		write(12, strings.Join(r.Flags, ", "))

		// Duplicate beats quality beats error when several flags apply.
		style := -1
		switch {
		case r.HasFlag(FlagDuplicateID):
			style = duplicateStyle
		case r.HasFlag(FlagQualityIssue):
			style = qualityStyle
		case r.HasError:
			style = errorStyle
		}
		if style != -1 {
			first, _ := excelize.CoordinatesToCellName(1, rowNum)
			last, _ := excelize.CoordinatesToCellName(len(headers), rowNum)
			_ = f.SetCellStyle(sheet, first, last, style)
		}
		rowNum++
	}

	_ = f.SetColWidth(sheet, "A", "B", 12)
	_ = f.SetColWidth(sheet, "C", "D", 28)
	_ = f.SetColWidth(sheet, "E", "E", 48)
	_ = f.SetColWidth(sheet, "F", "I", 32)
	_ = f.SetColWidth(sheet, "J", "J", 20)
	_ = f.SetColWidth(sheet, "K", "L", 16)

	return f.SaveAs(path)
}

var reportTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"rowClass":   rowClass,
	"badgeClass": badgeClass,
	"badgeText":  badgeText,
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Processing Results Summary</title>
<style>
body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; margin: 20px; background-color: #f5f5f5; }
.header, .legend { background: white; padding: 20px; border-radius: 10px; margin-bottom: 20px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
.stats-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(150px, 1fr)); gap: 15px; margin-top: 15px; }
.stat-item { background: #f8f9fa; padding: 15px; border-radius: 8px; text-align: center; border-left: 4px solid #007bff; }
.stat-number { font-size: 2rem; font-weight: bold; color: #333; }
.table-container { background: white; border-radius: 10px; overflow-x: auto; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
table { width: 100%; border-collapse: collapse; }
th { background-color: #343a40; color: white; padding: 12px 8px; text-align: left; font-weight: 600; }
td { padding: 10px 8px; border-bottom: 1px solid #dee2e6; max-width: 240px; overflow: hidden; text-overflow: ellipsis; }
tr:hover { background-color: #f8f9fa; }
.row-duplicate { background-color: #ffebee; border-left: 4px solid #f44336; }
.row-quality { background-color: #fff3e0; border-left: 4px solid #ff9800; }
.row-error { background-color: #fce4ec; border-left: 4px solid #e91e63; }
.flag-badge { display: inline-block; padding: 2px 6px; border-radius: 12px; font-size: 0.75rem; font-weight: 600; margin-right: 4px; }
.flag-duplicate { background-color: #ffcdd2; color: #d32f2f; }
.flag-quality { background-color: #ffe0b2; color: #f57c00; }
.flag-error { background-color: #f8bbd9; color: #c2185b; }
.flag-notext { background-color: #e0e0e0; color: #424242; }
.image-path { font-family: monospace; font-size: 0.85rem; color: #666; }
.legend-item { display: flex; align-items: center; margin: 8px 0; }
.legend-color { width: 20px; height: 20px; border-radius: 4px; margin-right: 10px; }
</style>
</head>
<body>
<div class="header">
<h1>Processing Results Summary</h1>
<p>Generated on: {{.Stats.GeneratedAt}}</p>
<div class="stats-grid">
<div class="stat-item"><div class="stat-number">{{.Stats.TotalItems}}</div><div>Total Items</div></div>
<div class="stat-item"><div class="stat-number" style="color: #f44336;">{{.Stats.Duplicates}}</div><div>Duplicate IDs</div></div>
<div class="stat-item"><div class="stat-number" style="color: #ff9800;">{{.Stats.QualityIssues}}</div><div>Quality Issues</div></div>
<div class="stat-item"><div class="stat-number" style="color: #e91e63;">{{.Stats.ProcessingErrors}}</div><div>Processing Errors</div></div>
<div class="stat-item"><div class="stat-number">{{.Stats.MissingIDs}}</div><div>Missing IDs</div></div>
</div>
</div>
<div class="table-container">
<table>
<thead><tr>
<th>Directory</th><th>ID Number</th><th>Front Image</th><th>Back Image</th>
<th>Extraction Notes</th><th>Handwritten Notes</th><th>Printed Labels</th>
<th>Addresses</th><th>Processed At</th><th>Flags</th>
</tr></thead>
<tbody>
{{range .Rows}}<tr class="{{rowClass .}}">
<td><strong>{{.Directory}}</strong></td>
<td><strong>{{.IDNumber}}</strong></td>
<td class="image-path">{{.FrontImagePath}}</td>
<td class="image-path">{{.BackImagePath}}</td>
<td>{{.ExtractionNotes}}</td>
<td>{{.HandwrittenNotes}}</td>
<td>{{.PrintedLabels}}</td>
<td>{{.Addresses}}</td>
<td>{{.ProcessedAt}}</td>
<td>{{range .Flags}}<span class="flag-badge {{badgeClass .}}">{{badgeText .}}</span>{{end}}</td>
</tr>
{{end}}</tbody>
</table>
</div>
<div class="legend">
<h3>Legend</h3>
<div class="legend-item"><div class="legend-color" style="background-color: #ffebee; border-left: 4px solid #f44336;"></div><span><strong>Red rows:</strong> Duplicate ID numbers found</span></div>
<div class="legend-item"><div class="legend-color" style="background-color: #fff3e0; border-left: 4px solid #ff9800;"></div><span><strong>Orange rows:</strong> Text quality issues (faint, unreadable, etc.)</span></div>
<div class="legend-item"><div class="legend-color" style="background-color: #fce4ec; border-left: 4px solid #e91e63;"></div><span><strong>Pink rows:</strong> Processing errors occurred</span></div>
</div>
</body>
</html>
`))

type reportData struct {
	Stats Stats
	Rows  []Row
}

func writeReport(rows []Row, stats Stats, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := reportTmpl.Execute(f, reportData{Stats: stats, Rows: rows}); err != nil {
		return err
	}
	return f.Sync()
}

func rowClass(r Row) string {
	var classes []string
	if r.HasFlag(FlagDuplicateID) {
		classes = append(classes, "row-duplicate")
	}
	if r.HasFlag(FlagQualityIssue) {
		classes = append(classes, "row-quality")
	}
	if r.HasError {
		classes = append(classes, "row-error")
	}
	return strings.Join(classes, " ")
}

func badgeClass(flag string) string {
	switch flag {
	case FlagDuplicateID:
		return "flag-duplicate"
	case FlagQualityIssue:
		return "flag-quality"
	case FlagProcessingError:
		return "flag-error"
	case FlagNoText:
		return "flag-notext"
	}
	return ""
}

func badgeText(flag string) string {
	switch flag {
	case FlagDuplicateID:
		return "DUPLICATE"
	case FlagQualityIssue:
		return "QUALITY"
	case FlagProcessingError:
		return "ERROR"
	case FlagNoText:
		return "NO TEXT"
	}
	return strings.ToUpper(flag)
}
