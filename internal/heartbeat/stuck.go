package heartbeat

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlservice/internal/common"
	"github.com/ternarybob/crawlservice/internal/models"
	badgerstore "github.com/ternarybob/crawlservice/internal/storage/badger"
)

const maxRestarts = 2

// FinalizeFunc produces the download bundle for a job that stopped running
// without going through the normal finish path (e.g. a user cancel while
// pages were already fetched).
type FinalizeFunc func(jobID string) error

// Sweeper periodically reclaims jobs whose worker died, stalled, or never
// made progress, matching the teacher's worker main loop calling a stuck-job
// detector between poll iterations.
type Sweeper struct {
	jobs     *badgerstore.JobStorage
	ipUsage  *badgerstore.IPUsageStorage
	events   *badgerstore.EventStorage
	config   common.WorkerConfig
	finalize FinalizeFunc
	logger   arbor.ILogger
}

// NewSweeper builds a Sweeper.
func NewSweeper(jobs *badgerstore.JobStorage, ipUsage *badgerstore.IPUsageStorage, events *badgerstore.EventStorage, config common.WorkerConfig, finalize FinalizeFunc, logger arbor.ILogger) *Sweeper {
	return &Sweeper{jobs: jobs, ipUsage: ipUsage, events: events, config: config, finalize: finalize, logger: logger}
}

// Sweep runs every stuck-job handler once. Intended to be called on a timer
// from the worker main loop, between poll iterations.
func (sw *Sweeper) Sweep(now time.Time) {
	sw.handleCancelled(now)
	sw.handleOrphaned(now)
	sw.handleStalled(now)
	sw.handleHardStalled(now)
}

// handleCancelled finalizes CANCELLED jobs that already fetched pages but
// never got exported, or otherwise clears their per-IP concurrency slot.
func (sw *Sweeper) handleCancelled(now time.Time) {
	jobs, err := sw.jobs.ListJobsByState(models.JobStateCancelled)
	if err != nil {
		sw.logger.Error().Err(err).Msg("list cancelled jobs failed")
		return
	}
	for _, job := range jobs {
		switch {
		case job.PagesExported == 0 && job.PagesFetched > 0:
			if err := sw.finalize(job.ID); err != nil {
				sw.logger.Error().Err(err).Str("job_id", job.ID).Msg("finalize cancelled job failed")
				continue
			}
		case job.PagesFetched == 0:
			if _, err := sw.ipUsage.Increment(job.IPHash, -1); err != nil {
				sw.logger.Warn().Err(err).Str("job_id", job.ID).Msg("decrement ip usage for empty cancelled job failed")
			}
		}
	}
}

func (sw *Sweeper) handleOrphaned(now time.Time) {
	cutoff := now.Add(-sw.config.OrphanedThreshold)
	jobs, err := sw.jobs.FindOrphanedJobs(cutoff)
	if err != nil {
		sw.logger.Error().Err(err).Msg("find orphaned jobs failed")
		return
	}
	for _, job := range jobs {
		sw.restartOrFail(job, now, models.ErrorReasonOrphaned, "job orphaned: worker heartbeat went stale")
	}
}

func (sw *Sweeper) handleStalled(now time.Time) {
	cutoff := now.Add(-sw.config.StalledThreshold)
	jobs, err := sw.jobs.FindStalledJobs(cutoff)
	if err != nil {
		sw.logger.Error().Err(err).Msg("find stalled jobs failed")
		return
	}
	for _, job := range jobs {
		sw.restartOrFail(job, now, models.ErrorReasonStalled, "job stalled: no progress past threshold")
	}
}

// handleHardStalled fails a RUNNING job outright the first time it crosses
// the hard-stall threshold with zero pages fetched — no restart budget is
// spent on a job that has never managed to fetch anything at all.
func (sw *Sweeper) handleHardStalled(now time.Time) {
	cutoff := now.Add(-sw.config.HardStalledThreshold)
	jobs, err := sw.jobs.FindHardStalledJobs(cutoff)
	if err != nil {
		sw.logger.Error().Err(err).Msg("find hard-stalled jobs failed")
		return
	}
	for _, job := range jobs {
		sw.fail(job, now, models.ErrorReasonHardStalled, "job failed to fetch any pages")
	}
}

// restartOrFail requeues a job for another attempt if it hasn't exhausted
// its restart budget, otherwise fails it permanently.
func (sw *Sweeper) restartOrFail(job *models.Job, now time.Time, reason models.ErrorReason, message string) {
	limit := sw.config.MaxRestarts
	if limit <= 0 {
		limit = maxRestarts
	}
	if job.RestartCount < limit {
		restartCount := job.RestartCount + 1
		_, err := sw.jobs.Transition(context.Background(), job.ID, models.JobStateQueued, func(j *models.Job) {
			j.RestartCount = restartCount
		}, models.JobStateRunning, models.JobStateFinalizing)
		if err != nil {
			sw.logger.Error().Err(err).Str("job_id", job.ID).Msg("requeue stuck job failed")
			return
		}
		sw.appendEvent(job.ID, now, models.EventLevelWarn, models.EventTypeRestart, message)
		return
	}
	sw.fail(job, now, reason, message)
}

func (sw *Sweeper) fail(job *models.Job, now time.Time, reason models.ErrorReason, message string) {
	updated, err := sw.jobs.Transition(context.Background(), job.ID, models.JobStateFailed, func(j *models.Job) {
		j.FinishedAt = &now
		j.LastError = &models.LastError{Reason: reason, Message: message, At: now}
	}, models.JobStateRunning, models.JobStateFinalizing)
	if err != nil {
		sw.logger.Error().Err(err).Str("job_id", job.ID).Msg("fail stuck job failed")
		return
	}
	if _, err := sw.ipUsage.Increment(updated.IPHash, -1); err != nil {
		sw.logger.Warn().Err(err).Str("job_id", job.ID).Msg("decrement ip usage for failed job failed")
	}
	sw.appendEvent(job.ID, now, models.EventLevelError, models.EventTypeStateChange, message)
}

func (sw *Sweeper) appendEvent(jobID string, now time.Time, level models.EventLevel, typ models.EventType, message string) {
	if err := sw.events.Append(&models.JobEvent{JobID: jobID, At: now, Level: level, Type: typ, Message: message}); err != nil {
		sw.logger.Warn().Err(err).Str("job_id", jobID).Msg("append job event failed")
	}
}
