package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/archivescan/pipeline/internal/table"
)

func main() {
	output := flag.String("output", "", "directory for the workbook and report (default: the input directory)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <processed-dir>\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Regenerates the summary workbook and HTML report from the")
		fmt.Fprintln(os.Stderr, "extraction documents under the given directory.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	root := flag.Arg(0)
	outDir := *output
	if outDir == "" {
		outDir = root
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	gen := table.NewGenerator(logger)
	res, err := gen.Generate(root, outDir)
	if err != nil {
		logger.Error("table generation failed", "error", err)
		os.Exit(1)
	}

	st := res.Stats
	fmt.Printf("items: %d  duplicates: %d  quality issues: %d  errors: %d  missing ids: %d\n",
		st.TotalItems, st.Duplicates, st.QualityIssues, st.ProcessingErrors, st.MissingIDs)
	fmt.Printf("workbook: %s\nreport:   %s\n", res.WorkbookPath, res.ReportPath)
}
