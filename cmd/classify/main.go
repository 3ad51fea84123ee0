package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/archivescan/pipeline/internal/classify"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "analyze pairs without renaming files")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <processed-dir>\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Classifies the front/back image pair in each unit directory and")
		fmt.Fprintln(os.Stderr, "renames the files with A (front) and B (back) suffixes.")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	root := flag.Arg(0)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	batch := classify.NewBatch(logger, classify.WithDryRun(*dryRun))
	res, err := batch.ProcessAll(ctx, root)
	if err != nil {
		logger.Error("classification failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("units: %d  succeeded: %d  failed: %d  unresolved: %d\n",
		res.Total, res.Succeeded, res.Failed, res.Unresolved)
	if res.Failed > 0 {
		os.Exit(1)
	}
}
