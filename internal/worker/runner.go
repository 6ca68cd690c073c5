package worker

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/crawlservice/internal/blocking"
	"github.com/ternarybob/crawlservice/internal/common"
	"github.com/ternarybob/crawlservice/internal/fetch/headless"
	"github.com/ternarybob/crawlservice/internal/heartbeat"
	"github.com/ternarybob/crawlservice/internal/models"
	"github.com/ternarybob/crawlservice/internal/pipeline"
	"github.com/ternarybob/crawlservice/internal/strategy"
)

// cancelPollInterval is how often runJob reloads a RUNNING job's own row to
// notice an out-of-band cancel request. The HTTP cancel handler only flips
// the stored State; nothing pushes that change into an in-flight fetch
// loop, so the runner has to go looking for it.
const cancelPollInterval = 2 * time.Second

// runJob drives one claimed job from RUNNING to a terminal state: it picks
// an initial fetch strategy, runs it, decides whether a single headless
// fallback is warranted, and hands off to the finalizer once fetching
// stops (for any reason other than an unrecoverable error).
func (w *Worker) runJob(ctx context.Context, job *models.Job) {
	logger := w.logger
	jobDir := jobDirOf(w.config.Storage.JobsDir, job.ID)
	rawPath := filepath.Join(jobDir, "pages.raw.jsonl")

	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		w.failJob(job, models.ErrorReasonDiskFull, "create job directory: "+err.Error())
		return
	}

	writer, err := pipeline.OpenJSONLWriter(rawPath)
	if err != nil {
		w.failJob(job, models.ErrorReasonDiskFull, "open raw output file: "+err.Error())
		return
	}
	defer writer.Close()

	tracker := blocking.NewTracker()
	pipe := pipeline.New(pipeline.Config{
		JobID:    job.ID,
		MinChars: w.config.Crawler.MinTextLength,
		Identity: pipeline.NewIdentityResolver(w.documents),
		Budget:   pipeline.NewBudgetTracker(job.MaxPages),
		Tracker:  tracker,
		Writer:   writer,
		Logger:   logger,
	})

	jobCtx, cancel := context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
	defer cancel()

	sidecar := heartbeat.NewSidecar(job.ID, rawPath, w.config.Worker, w.jobs, logger)
	heartbeatCtx, stopHeartbeat := context.WithCancel(jobCtx)
	common.SafeGoWithContext(heartbeatCtx, logger, "heartbeat:"+job.ID, func() {
		sidecar.Run(heartbeatCtx)
	})
	defer stopHeartbeat()

	cancelWatchCtx, stopCancelWatch := context.WithCancel(jobCtx)
	defer stopCancelWatch()
	common.SafeGoWithContext(cancelWatchCtx, logger, "cancel-watch:"+job.ID, func() {
		w.watchForCancel(cancelWatchCtx, job.ID, cancel)
	})

	choice := strategy.SelectInitial(job.SeedURL, job.UseJS)
	job.CrawlerStrategy = choice.Strategy
	if choice.Reason != "" {
		w.appendEvent(job.ID, models.EventLevelInfo, models.EventTypeStateChange, "auto-selected headless strategy: "+choice.Reason)
	}
	_ = w.jobs.UpdateJob(job)

	var result struct {
		PagesFetched int
		StoppedEarly bool
	}
	var runErr error

	if choice.UseHeadless {
		fetcher, perr := w.ensureHeadlessFetcher()
		if perr != nil {
			w.failJob(job, models.ErrorReasonUnknown, "headless pool unavailable: "+perr.Error())
			return
		}
		r, e := fetcher.Run(jobCtx, job, pipe)
		result.PagesFetched, result.StoppedEarly, runErr = r.PagesFetched, r.StoppedEarly, e
	} else {
		r, e := w.staticFetcher.Run(jobCtx, job, pipe)
		result.PagesFetched, result.StoppedEarly, runErr = r.PagesFetched, r.StoppedEarly, e

		if jobCtx.Err() == nil {
			w.maybeFallback(jobCtx, job, pipe, tracker, &result, &runErr)
		}
	}

	stopHeartbeat()
	stopCancelWatch()

	classification := blocking.Classify(tracker.Evidence(), blocking.Thresholds{
		Rate429:   w.config.Blocking.Rate429Threshold,
		Rate403:   w.config.Blocking.Rate403Threshold,
		Duplicate: w.config.Blocking.DuplicateHashThreshold,
	})
	job.SiteStatus = classification.SiteStatus
	job.BlockEvidence = classification.Evidence.ToModel()
	job.PagesFetched = result.PagesFetched
	_ = w.jobs.UpdateJob(job)

	current, reloadErr := w.jobs.GetJob(job.ID)
	if reloadErr == nil && current.State == models.JobStateCancelled {
		if err := w.finalizer.Finalize(job.ID); err != nil {
			logger.Error().Err(err).Str("job_id", job.ID).Msg("finalize cancelled job failed")
		}
		return
	}

	if runErr != nil && jobCtx.Err() == nil {
		w.failJob(job, models.ErrorReasonUnknown, runErr.Error())
		return
	}
	if result.PagesFetched == 0 {
		reason := models.ErrorReasonUnknown
		switch job.SiteStatus {
		case models.SiteStatusBlocked:
			reason = models.ErrorReasonBlocked
		case models.SiteStatusLoginRequired:
			reason = models.ErrorReasonLoginRequired
		case models.SiteStatusThrottled:
			reason = models.ErrorReasonRateLimited
		}
		if reason == models.ErrorReasonUnknown && job.FallbackRetryCount >= 1 {
			reason = models.ErrorReasonBlocked
		}
		w.failJob(job, reason, "crawl fetched zero pages")
		return
	}

	if err := w.finalizer.Finalize(job.ID); err != nil {
		logger.Error().Err(err).Str("job_id", job.ID).Msg("finalize job failed")
	}
}

// maybeFallback retries a static attempt through the headless fetcher when
// the post-attempt blocking analysis warrants it. A job gets at most one
// fallback attempt, mirroring the restart budget the original reference
// implementation enforced on the very same decision.
func (w *Worker) maybeFallback(ctx context.Context, job *models.Job, pipe *pipeline.Pipeline, tracker *blocking.Tracker, result *struct {
	PagesFetched int
	StoppedEarly bool
}, runErr *error) {
	if job.FallbackRetryCount >= 1 {
		return
	}

	classification := blocking.Classify(tracker.Evidence(), blocking.Thresholds{
		Rate429:   w.config.Blocking.Rate429Threshold,
		Rate403:   w.config.Blocking.Rate403Threshold,
		Duplicate: w.config.Blocking.DuplicateHashThreshold,
	})
	decision := strategy.DecideFallback(result.PagesFetched, classification.SiteStatus, string(classification.Signal))
	if !decision.ShouldFallback {
		return
	}

	fetcher, err := w.ensureHeadlessFetcher()
	if err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("headless fallback unavailable")
		return
	}

	job.FallbackRetryCount++
	job.CrawlerStrategy = strategy.FallbackStrategy()
	w.appendEvent(job.ID, models.EventLevelWarn, models.EventType("fallback_triggered"), "falling back to headless fetch: "+decision.Reason)
	_ = w.jobs.UpdateJob(job)

	r, e := fetcher.Run(ctx, job, pipe)
	result.PagesFetched += r.PagesFetched
	result.StoppedEarly = result.StoppedEarly || r.StoppedEarly
	*runErr = e
}

// watchForCancel reloads the job row every cancelPollInterval and cancels
// the run's context the moment it observes a CANCELLED state, so an
// in-flight fetch loop's own ctx.Done() check picks it up promptly instead
// of running out its full timeout.
func (w *Worker) watchForCancel(ctx context.Context, jobID string, cancel context.CancelFunc) {
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := w.jobs.GetJob(jobID)
			if err != nil {
				continue
			}
			if job.State == models.JobStateCancelled {
				cancel()
				return
			}
		}
	}
}

// ensureHeadlessFetcher lazily starts the shared Chrome pool on first use.
// The worker has a single poller, so no locking is needed around init.
func (w *Worker) ensureHeadlessFetcher() (*headless.Fetcher, error) {
	if !w.headlessReady {
		if err := w.headlessPool.Init(w.config.Headless); err != nil {
			return nil, err
		}
		w.headlessReady = true
	}
	return headless.NewFetcher(w.headlessPool, w.config.Headless), nil
}

// failJob marks job FAILED, frees its per-IP concurrency slot, and records
// the failure — the runner's own equivalent of the stuck-job sweeper's fail
// path, since the sweeper only watches jobs out-of-band on a timer.
func (w *Worker) failJob(job *models.Job, reason models.ErrorReason, message string) {
	now := time.Now()
	updated, err := w.jobs.Transition(context.Background(), job.ID, models.JobStateFailed, func(j *models.Job) {
		j.FinishedAt = &now
		j.LastError = &models.LastError{Reason: reason, Message: message, At: now}
	}, models.JobStateRunning)
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("mark job failed failed")
		return
	}
	if _, err := w.ipUsage.Increment(updated.IPHash, -1); err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("decrement ip usage for failed job failed")
	}
	w.appendEvent(job.ID, models.EventLevelError, models.EventTypeStateChange, message)
}

func (w *Worker) appendEvent(jobID string, level models.EventLevel, typ models.EventType, message string) {
	if err := w.events.Append(&models.JobEvent{JobID: jobID, At: time.Now(), Level: level, Type: typ, Message: message}); err != nil {
		w.logger.Warn().Err(err).Str("job_id", jobID).Msg("append job event failed")
	}
}
