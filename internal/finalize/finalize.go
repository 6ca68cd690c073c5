package finalize

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlservice/internal/models"
	badgerstore "github.com/ternarybob/crawlservice/internal/storage/badger"
)

// Finalizer turns a finished or cancelled job's raw output into its
// downloadable bundle.
type Finalizer struct {
	jobs      *badgerstore.JobStorage
	ipUsage   *badgerstore.IPUsageStorage
	events    *badgerstore.EventStorage
	artifacts *badgerstore.ArtifactStorage
	jobsDir   string
	minTextLength int
	logger    arbor.ILogger
}

// NewFinalizer builds a Finalizer. jobsDir is the root directory containing
// one subdirectory per job ID.
func NewFinalizer(jobs *badgerstore.JobStorage, ipUsage *badgerstore.IPUsageStorage, events *badgerstore.EventStorage, artifacts *badgerstore.ArtifactStorage, jobsDir string, minTextLength int, logger arbor.ILogger) *Finalizer {
	return &Finalizer{jobs: jobs, ipUsage: ipUsage, events: events, artifacts: artifacts, jobsDir: jobsDir, minTextLength: minTextLength, logger: logger}
}

// Finalize deduplicates a job's raw pages, writes its summary and
// knowledge-base export, registers artifacts, and transitions the job to
// DONE (or FAILED if deduplication itself errors).
func (fz *Finalizer) Finalize(jobID string) error {
	job, err := fz.jobs.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	ctx := context.Background()
	if _, err := fz.jobs.Transition(ctx, jobID, models.JobStateFinalizing, nil,
		models.JobStateRunning, models.JobStateCancelled); err != nil {
		return fmt.Errorf("mark job finalizing: %w", err)
	}

	jobDir := filepath.Join(fz.jobsDir, jobID)
	rawPath := filepath.Join(jobDir, "pages.raw.jsonl")
	finalPath := filepath.Join(jobDir, "pages.jsonl")
	summaryPath := filepath.Join(jobDir, "summary.json")
	kbDir := filepath.Join(jobDir, "kb")

	now := time.Now()

	if _, err := os.Stat(rawPath); err != nil {
		fz.writeSummaryFile(summaryPath, EmptySummary(job, now))
		if _, err := fz.jobs.Transition(ctx, jobID, models.JobStateDone, func(j *models.Job) {
			j.PagesExported = 0
			j.FinishedAt = &now
		}, models.JobStateFinalizing); err != nil {
			return fmt.Errorf("mark empty job done: %w", err)
		}
		return nil
	}

	stats, err := DeduplicatePages(rawPath, finalPath)
	if err != nil {
		_, _ = fz.jobs.Transition(ctx, jobID, models.JobStateFailed, func(j *models.Job) {
			j.FinishedAt = &now
			j.LastError = &models.LastError{Reason: models.ErrorReasonFinalizationFailed, Message: err.Error(), At: now}
		}, models.JobStateFinalizing)
		return fmt.Errorf("deduplicate pages for job %s: %w", jobID, err)
	}
	fz.logger.Info().Str("job_id", jobID).Int("raw", stats.TotalRaw).Int("deduped", stats.TotalDeduped).Msg("page deduplication complete")

	summary := GenerateSummary(job, stats, finalPath, fz.minTextLength, now)
	fz.writeSummaryFile(summaryPath, summary)

	if pages, err := GenerateKB(kbDir, finalPath, jobID, now); err != nil {
		fz.logger.Error().Err(err).Str("job_id", jobID).Msg("knowledge base generation failed")
	} else {
		fz.logger.Info().Str("job_id", jobID).Int("pages", pages).Msg("knowledge base export written")
	}

	if err := RegisterArtifacts(jobID, jobDir, fz.artifacts, now); err != nil {
		fz.logger.Error().Err(err).Str("job_id", jobID).Msg("artifact registration failed")
	}

	updated, err := fz.jobs.Transition(ctx, jobID, models.JobStateDone, func(j *models.Job) {
		j.PagesExported = stats.TotalDeduped
		j.FinishedAt = &now
	}, models.JobStateFinalizing)
	if err != nil {
		return fmt.Errorf("mark job done: %w", err)
	}

	if _, err := fz.ipUsage.Increment(updated.IPHash, -1); err != nil {
		fz.logger.Warn().Err(err).Str("job_id", jobID).Msg("decrement ip usage failed")
	}

	if err := fz.events.Append(&models.JobEvent{
		JobID: jobID, At: now, Level: models.EventLevelInfo, Type: models.EventTypeFinalize,
		Message: "job finalized",
		Payload: map[string]any{
			"pages_raw":          stats.TotalRaw,
			"pages_deduped":      stats.TotalDeduped,
			"duplicates_removed": stats.DuplicatesRemoved,
		},
	}); err != nil {
		fz.logger.Warn().Err(err).Str("job_id", jobID).Msg("append finalize event failed")
	}

	return nil
}

func (fz *Finalizer) writeSummaryFile(path string, summary *models.Summary) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		fz.logger.Error().Err(err).Msg("marshal summary failed")
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fz.logger.Error().Err(err).Str("path", path).Msg("write summary file failed")
	}
}
