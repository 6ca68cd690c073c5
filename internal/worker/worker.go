// Package worker runs the poll loop that claims queued jobs, drives their
// crawl to completion, and sweeps for stuck or expired jobs between polls.
package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlservice/internal/common"
	"github.com/ternarybob/crawlservice/internal/finalize"
	"github.com/ternarybob/crawlservice/internal/fetch/headless"
	"github.com/ternarybob/crawlservice/internal/fetch/static"
	"github.com/ternarybob/crawlservice/internal/heartbeat"
	"github.com/ternarybob/crawlservice/internal/models"
	badgerstore "github.com/ternarybob/crawlservice/internal/storage/badger"
	"github.com/timshannon/badgerhold/v4"
)

// Worker owns exactly one poller: it claims the oldest QUEUED job, runs it
// to completion in-process, then claims the next. Heavy concurrency isn't
// the goal here — a handful of jobs sharing one throttle/breaker pair per
// domain and one small Chrome pool is the expected scale for this service.
type Worker struct {
	config    *common.Config
	logger    arbor.ILogger
	jobs      *badgerstore.JobStorage
	ipUsage   *badgerstore.IPUsageStorage
	events    *badgerstore.EventStorage
	artifacts *badgerstore.ArtifactStorage
	documents *badgerstore.DocumentStorage

	staticFetcher *static.Fetcher
	headlessPool  *headless.Pool
	headlessReady bool

	finalizer *finalize.Finalizer
	sweeper   *heartbeat.Sweeper
}

// New builds a Worker over the given storage handles. The headless Chrome
// pool is constructed but not started — Init only runs the first time a job
// actually needs it, so a box with no Chrome available can still serve
// static-only jobs.
func New(config *common.Config, logger arbor.ILogger, jobs *badgerstore.JobStorage, ipUsage *badgerstore.IPUsageStorage, events *badgerstore.EventStorage, artifacts *badgerstore.ArtifactStorage, documents *badgerstore.DocumentStorage) *Worker {
	finalizer := finalize.NewFinalizer(jobs, ipUsage, events, artifacts, config.Storage.JobsDir, config.Crawler.MinTextLength, logger)

	w := &Worker{
		config:        config,
		logger:        logger,
		jobs:          jobs,
		ipUsage:       ipUsage,
		events:        events,
		artifacts:     artifacts,
		documents:     documents,
		staticFetcher: static.NewFetcher(config.Crawler, logger),
		headlessPool:  headless.NewPool(config.Headless, config.Headless.PoolSize, config.Crawler.UserAgent, logger),
		finalizer:     finalizer,
	}
	w.sweeper = heartbeat.NewSweeper(jobs, ipUsage, events, config.Worker, finalizer.Finalize, logger)
	return w
}

// Run polls for queued jobs and runs the stuck-job and expiry sweeps until
// ctx is cancelled. Intended to be launched via common.SafeGoWithContext
// from main.
func (w *Worker) Run(ctx context.Context) {
	pollInterval := w.config.Worker.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	sweepInterval := w.config.Worker.HeartbeatInterval
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	stuckSweep := time.NewTicker(sweepInterval)
	defer stuckSweep.Stop()

	expiryInterval := w.config.Retention.SweepInterval
	if expiryInterval <= 0 {
		expiryInterval = 15 * time.Minute
	}
	expirySweep := newExpiryScheduler(w.config.Schedules.ExpirySweep, expiryInterval, w.logger)
	defer expirySweep.Stop()

	w.logger.Info().
		Dur("poll_interval", pollInterval).
		Dur("stuck_sweep_interval", sweepInterval).
		Str("expiry_sweep_schedule", expirySweep.describe()).
		Msg("worker loop starting")

	for {
		select {
		case <-ctx.Done():
			if w.headlessReady {
				w.headlessPool.Shutdown()
			}
			w.logger.Info().Msg("worker loop stopped")
			return
		case <-poll.C:
			w.pollOnce(ctx)
		case <-stuckSweep.C:
			w.sweeper.Sweep(time.Now())
		case <-expirySweep.C():
			w.sweepExpired(time.Now())
			expirySweep.Reset()
		}
	}
}

// pollOnce claims and runs at most one queued job per tick. The job runs on
// the loop's own goroutine, so the stuck and expiry sweeps wait until it
// returns.
func (w *Worker) pollOnce(ctx context.Context) {
	job, err := w.jobs.NextQueuedJob(time.Now())
	if err != nil {
		if err != badgerhold.ErrNotFound {
			w.logger.Error().Err(err).Msg("poll for queued job failed")
		}
		return
	}
	w.runJob(ctx, job)
}

// sweepExpired reclaims every job whose ExpiresAt has passed: non-terminal
// jobs are cut short (freeing their per-IP concurrency slot), and terminal
// jobs past their expiry have their on-disk bundle and secondary records
// removed so completed jobs don't accumulate on disk forever.
func (w *Worker) sweepExpired(now time.Time) {
	expired, err := w.jobs.ListExpiredJobs(now)
	if err != nil {
		w.logger.Error().Err(err).Msg("list expired jobs failed")
		return
	}
	for _, job := range expired {
		if job.State.IsTerminal() {
			w.purgeJob(job)
			continue
		}
		w.expireActiveJob(job, now)
	}
}

func (w *Worker) expireActiveJob(job *models.Job, now time.Time) {
	updated, err := w.jobs.Transition(context.Background(), job.ID, models.JobStateExpired, func(j *models.Job) {
		j.FinishedAt = &now
	}, models.JobStateQueued, models.JobStateRunning, models.JobStateFinalizing)
	if err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("expire active job failed")
		return
	}
	if _, err := w.ipUsage.Increment(updated.IPHash, -1); err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("decrement ip usage for expired job failed")
	}
	if err := w.events.Append(&models.JobEvent{
		JobID: job.ID, At: now, Level: models.EventLevelInfo, Type: models.EventTypeStateChange,
		Message: "job expired before completion",
	}); err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("append expiry event failed")
	}
}

// expiryScheduler drives the expiry-sweep tick either from a cron expression
// (validated at config load time by common.ValidateJobSchedule) or, when none
// is configured, a plain fixed interval. A cron schedule's next fire time is
// recomputed after every tick rather than reusing a ticker, matching how
// robfig/cron's own Schedule.Next contract is meant to be driven.
type expiryScheduler struct {
	schedule cron.Schedule
	interval time.Duration
	timer    *time.Timer
}

func newExpiryScheduler(cronExpr string, fallback time.Duration, logger arbor.ILogger) *expiryScheduler {
	es := &expiryScheduler{interval: fallback}
	if cronExpr != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		schedule, err := parser.Parse(cronExpr)
		if err != nil {
			logger.Warn().Err(err).Str("schedule", cronExpr).Msg("invalid expiry sweep schedule, falling back to fixed interval")
		} else {
			es.schedule = schedule
		}
	}
	es.timer = time.NewTimer(es.next(time.Now()))
	return es
}

func (es *expiryScheduler) next(now time.Time) time.Duration {
	if es.schedule != nil {
		return es.schedule.Next(now).Sub(now)
	}
	return es.interval
}

func (es *expiryScheduler) describe() string {
	if es.schedule != nil {
		return "cron"
	}
	return "fixed:" + es.interval.String()
}

func (es *expiryScheduler) C() <-chan time.Time {
	return es.timer.C
}

func (es *expiryScheduler) Reset() {
	es.timer.Reset(es.next(time.Now()))
}

func (es *expiryScheduler) Stop() {
	es.timer.Stop()
}

func (w *Worker) purgeJob(job *models.Job) {
	jobDir := jobDirOf(w.config.Storage.JobsDir, job.ID)
	if err := removeJobDir(jobDir); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("remove expired job directory failed")
		return
	}
	if err := w.documents.DeleteByJob(job.ID); err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("delete documents for expired job failed")
	}
	if err := w.artifacts.DeleteByJob(job.ID); err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("delete artifacts for expired job failed")
	}
	if err := w.events.DeleteByJob(job.ID); err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("delete events for expired job failed")
	}
	if err := w.jobs.DeleteJob(job.ID); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("delete expired job row failed")
		return
	}
	w.logger.Info().Str("job_id", job.ID).Msg("expired job purged")
}
