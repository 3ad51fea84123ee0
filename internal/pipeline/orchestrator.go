package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

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

// Extractor is the extraction surface the orchestrator drives. Satisfied by
// *extract.Adapter; tests substitute their own.
type Extractor interface {
	ProcessBackImages(ctx context.Context, root string) (extract.BatchResult, error)
}

// Options wires the orchestrator's collaborators. Records, Semantic and
// Staging are optional; when nil the import stage skips that target.
type Options struct {
	Sessions   *session.Manager
	Formatter  *ingest.Formatter
	Classifier *classify.Batch
	Extractor  Extractor
	Tables     *table.Generator
	Records    record.Store
	Semantic   *semantic.Client
	Staging    *staging.Store

	Collection   string
	StageTimeout time.Duration
	Logger       *slog.Logger
}

// Orchestrator runs a session through the stage sequence, persisting
// progress before and after every stage so a crash is visible in metadata.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Collection == "" {
		opts.Collection = "Pipeline Results"
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 30 * time.Minute
	}
	return &Orchestrator{opts: opts, logger: opts.Logger}
}

// Run executes the full pipeline for a session whose uploaded archive sits
// at zipPath. Stage failures are terminal except inside database_import,
// whose per-target failures are absorbed into stats.
func (o *Orchestrator) Run(ctx context.Context, s *session.Session, zipPath string) error {
	o.logger.Info("pipeline.run.start", "session_id", s.ID, "zip", zipPath)
	start := time.Now()

	// The archive is already on disk when Run begins.
	s.SetStage(constants.StageUploading)
	s.CompleteStage(constants.StageUploading)
	if err := o.opts.Sessions.Save(s); err != nil {
		return o.fail(s, constants.StageUploading, err)
	}

	var tableResult table.Result

	stages := []struct {
		stage constants.Stage
		run   func(context.Context) error
	}{
		{constants.StageScanFormatting, func(ctx context.Context) error {
			res, err := o.opts.Formatter.Format(zipPath, s.ProcessedDir())
			if err != nil {
				return err
			}
			s.SetStat("images_found", res.ImagesFound)
			s.SetStat("pairs_created", res.PairsCreated)
			if len(res.Skipped) > 0 {
				s.SetStat("images_skipped", len(res.Skipped))
			}
			return nil
		}},
		{constants.StageClassifyRename, func(ctx context.Context) error {
			res, err := o.opts.Classifier.ProcessAll(ctx, s.ProcessedDir())
			if err != nil {
				return err
			}
			s.SetStat("units_classified", res.Succeeded)
			if res.Unresolved > 0 {
				s.SetStat("units_unresolved", res.Unresolved)
			}
			if res.Failed > 0 {
				s.SetStat("units_rename_failed", res.Failed)
			}
			return nil
		}},
		{constants.StageTextExtraction, func(ctx context.Context) error {
			res, err := o.opts.Extractor.ProcessBackImages(ctx, s.ProcessedDir())
			if err != nil {
				return err
			}
			s.SetStat("images_extracted", res.Processed)
			if res.Fallbacks > 0 {
				s.SetStat("extraction_fallbacks", res.Fallbacks)
			}
			return nil
		}},
		{constants.StageGenerateTable, func(ctx context.Context) error {
			res, err := o.opts.Tables.Generate(s.ProcessedDir(), "")
			if err != nil {
				return err
			}
			tableResult = res
			s.SetStat("total_items", res.Stats.TotalItems)
			s.SetStat("duplicates_found", res.Stats.Duplicates)
			s.SetStat("quality_issues", res.Stats.QualityIssues)
			s.SetStat("processing_errors", res.Stats.ProcessingErrors)
			s.SetStat("missing_ids", res.Stats.MissingIDs)
			return nil
		}},
		{constants.StageDatabaseImport, func(ctx context.Context) error {
			o.importResults(ctx, s, tableResult)
			return nil
		}},
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return o.fail(s, st.stage, err)
		}
		if err := o.runStage(ctx, s, st.stage, st.run); err != nil {
			return err
		}
	}

	s.SetStage(constants.StageAwaitingReview)
	s.SetStatus(constants.StatusReviewReady)
	if err := o.opts.Sessions.Save(s); err != nil {
		return o.fail(s, constants.StageAwaitingReview, err)
	}

	o.logger.Info("pipeline.run.done",
		"session_id", s.ID,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (o *Orchestrator) runStage(ctx context.Context, s *session.Session, stage constants.Stage, run func(context.Context) error) error {
	o.logger.Info("pipeline.stage.start", "session_id", s.ID, "stage", stage)
	start := time.Now()

	s.SetStage(stage)
	if err := o.opts.Sessions.Save(s); err != nil {
		return o.fail(s, stage, err)
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.opts.StageTimeout)
	err := run(stageCtx)
	cancel()
	if err != nil {
		return o.fail(s, stage, err)
	}

	s.CompleteStage(stage)
	if err := o.opts.Sessions.Save(s); err != nil {
		return o.fail(s, stage, err)
	}

	o.logger.Info("pipeline.stage.done",
		"session_id", s.ID,
		"stage", stage,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (o *Orchestrator) fail(s *session.Session, stage constants.Stage, err error) error {
	wrapped := fmt.Errorf("stage %s: %w", stage, err)
	s.Fail(wrapped.Error())
	if saveErr := o.opts.Sessions.Save(s); saveErr != nil {
		o.logger.Error("pipeline.fail_save_error", "session_id", s.ID, "error", saveErr)
	}
	o.logger.Error("pipeline.stage.failed",
		"session_id", s.ID,
		"stage", stage,
		"error", err,
	)
	return wrapped
}

// importResults pushes summary rows into the record store, the semantic
// index and the staging store. Every target is best-effort: failures land
// in stats, never in the stage result.
func (o *Orchestrator) importResults(ctx context.Context, s *session.Session, res table.Result) {
	recordsCreated, recordFailures := 0, 0
	indexed, indexFailures := 0, 0

	for _, row := range res.Rows {
		if row.HasFlag(table.FlagProcessingError) {
			continue
		}

		rec := record.FromRow(row, s.ID, o.opts.Collection)
		if o.opts.Records != nil {
			id, err := o.opts.Records.CreateRecord(ctx, rec)
			if err != nil {
				recordFailures++
				o.logger.Error("pipeline.import.record_failed",
					"session_id", s.ID, "directory", row.Directory, "error", err)
				continue
			}
			rec.ID = id
			recordsCreated++
		}

		if o.opts.Semantic != nil {
			// Without a record store there is no record UUID; key the
			// document on session and unit so rows never collide.
			docID := "pipeline_" + rec.ID.String()
			if rec.ID == uuid.Nil {
				docID = fmt.Sprintf("pipeline_%s_%s", s.ID, row.Directory)
			}
			err := o.opts.Semantic.AddDocument(ctx, "", docID, record.SearchText(rec), map[string]string{
				"title":            rec.Title,
				"identifier":       rec.Identifier,
				"pipeline_session": s.ID,
			})
			if err != nil {
				indexFailures++
				o.logger.Error("pipeline.import.index_failed",
					"session_id", s.ID, "directory", row.Directory, "error", err)
				continue
			}
			indexed++
		}
	}

	if o.opts.Staging != nil {
		if err := o.opts.Staging.StageRows(ctx, s.ID, res.Rows, res.Stats); err != nil {
			s.SetStat("staging_failed", true)
			o.logger.Error("pipeline.import.staging_failed", "session_id", s.ID, "error", err)
		}
	}

	if o.opts.Records != nil {
		s.SetStat("records_created", recordsCreated)
		if recordFailures > 0 {
			s.SetStat("record_failures", recordFailures)
		}
	}
	if o.opts.Semantic != nil {
		s.SetStat("documents_indexed", indexed)
		if indexFailures > 0 {
			s.SetStat("index_failures", indexFailures)
		}
	}
}
