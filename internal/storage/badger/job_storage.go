package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlservice/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ErrInvalidTransition is returned by Transition when a job's currently
// persisted state isn't one of the caller's expected source states — most
// often because it already reached a TERMINAL state through another path.
var ErrInvalidTransition = errors.New("job is not in an expected source state for this transition")

// JobStorage persists Job aggregates.
type JobStorage struct {
	db     *DB
	logger arbor.ILogger

	// mu serializes state-changing writes (Transition, NextQueuedJob) so the
	// worker's runner, the stuck-job sweeper, and the HTTP cancel handler
	// can't race each other the way a bare read-then-write would. BadgerHold
	// has no row-level compare-and-swap of its own; see UpdateJobProgress's
	// reliance on the same read-modify-write idiom for counters that don't
	// need this guard.
	mu sync.Mutex
}

// NewJobStorage constructs a JobStorage over db.
func NewJobStorage(db *DB, logger arbor.ILogger) *JobStorage {
	return &JobStorage{db: db, logger: logger}
}

// SaveJob inserts or overwrites a job by its ID.
func (s *JobStorage) SaveJob(job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob loads a job by ID. Returns badgerhold.ErrNotFound if absent.
func (s *JobStorage) GetJob(jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateJob is an alias of SaveJob for call-site clarity at mutation points.
func (s *JobStorage) UpdateJob(job *models.Job) error {
	return s.SaveJob(job)
}

// Transition performs a guarded state change: it loads the job, rejects the
// write with ErrInvalidTransition unless the job's persisted state is one of
// expectedStates, applies patch, sets State to newState, and saves. Callers
// never list a TERMINAL state among expectedStates, which is what keeps a
// late-arriving sweeper or handler from clobbering a job that already
// finished — the concrete failure this closes is the stuck-job sweeper
// reviving a job the runner already marked DONE in the window between the
// sweeper's scan and its write.
func (s *JobStorage) Transition(ctx context.Context, jobID string, newState models.JobState, patch func(job *models.Job), expectedStates ...models.JobState) (*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.GetJob(jobID)
	if err != nil {
		return nil, err
	}

	matched := false
	for _, st := range expectedStates {
		if job.State == st {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: job %s is %s, expected one of %v", ErrInvalidTransition, jobID, job.State, expectedStates)
	}

	if patch != nil {
		patch(job)
	}
	job.State = newState
	if err := s.SaveJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateJobProgress bumps progress counters and the heartbeat timestamp.
// LastProgressAt only advances when pagesFetched actually increased — the
// stuck-job sweep depends on it staying still while a job is merely quiet,
// as opposed to RunnerHeartbeatAt which proves the worker is still alive.
// Callers should serialize calls per job (the runner owns exactly one
// goroutine per job), so a read-modify-write is safe.
func (s *JobStorage) UpdateJobProgress(jobID string, pagesFetched, pagesExported, errorsCount int, now time.Time) error {
	job, err := s.GetJob(jobID)
	if err != nil {
		return err
	}
	if pagesFetched > job.PagesFetched {
		job.LastProgressAt = &now
	}
	job.PagesFetched = pagesFetched
	job.PagesExported = pagesExported
	job.ErrorsCount = errorsCount
	job.RunnerHeartbeatAt = &now
	return s.SaveJob(job)
}

// UpdateHeartbeat stamps RunnerHeartbeatAt without touching progress counters.
func (s *JobStorage) UpdateHeartbeat(jobID string, now time.Time) error {
	job, err := s.GetJob(jobID)
	if err != nil {
		return err
	}
	job.RunnerHeartbeatAt = &now
	return s.SaveJob(job)
}

// SetLastError records the most recent failure against a job.
func (s *JobStorage) SetLastError(jobID string, lastErr *models.LastError) error {
	job, err := s.GetJob(jobID)
	if err != nil {
		return err
	}
	job.LastError = lastErr
	return s.SaveJob(job)
}

// ListJobsByState returns jobs in state, oldest first.
func (s *JobStorage) ListJobsByState(state models.JobState) ([]*models.Job, error) {
	var jobs []*models.Job
	query := badgerhold.Where("State").Eq(state).SortBy("CreatedAt")
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("list jobs by state %s: %w", state, err)
	}
	return jobs, nil
}

// ListActiveJobsByIPHash returns non-terminal jobs submitted by a hashed IP.
// Admission control counts them with CountActiveJobsByIPHash instead.
func (s *JobStorage) ListActiveJobsByIPHash(ipHash string) ([]*models.Job, error) {
	var jobs []*models.Job
	query := badgerhold.Where("IPHash").Eq(ipHash).And("State").In(
		models.JobStateQueued, models.JobStateRunning, models.JobStateFinalizing,
	)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("list active jobs by ip: %w", err)
	}
	return jobs, nil
}

// CountActiveJobsByIPHash is the admission-control fast path: count rather
// than materialize the matching job set.
func (s *JobStorage) CountActiveJobsByIPHash(ipHash string) (int, error) {
	query := badgerhold.Where("IPHash").Eq(ipHash).And("State").In(
		models.JobStateQueued, models.JobStateRunning, models.JobStateFinalizing,
	)
	n, err := s.db.Store().Count(&models.Job{}, query)
	if err != nil {
		return 0, fmt.Errorf("count active jobs by ip: %w", err)
	}
	return n, nil
}

// ListStaleRunningJobs returns RUNNING jobs whose heartbeat is older than
// cutoff — candidates for the stuck-job detector.
func (s *JobStorage) ListStaleRunningJobs(cutoff time.Time) ([]*models.Job, error) {
	var jobs []*models.Job
	query := badgerhold.Where("State").Eq(models.JobStateRunning).
		And("RunnerHeartbeatAt").Lt(&cutoff)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("list stale running jobs: %w", err)
	}
	return jobs, nil
}

// ListExpiredJobs returns every job whose ExpiresAt has passed, whatever its
// state.
func (s *JobStorage) ListExpiredJobs(now time.Time) ([]*models.Job, error) {
	var jobs []*models.Job
	query := badgerhold.Where("ExpiresAt").Lt(now)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}
	return jobs, nil
}

// NextQueuedJob claims the oldest QUEUED job by transitioning it to RUNNING,
// or returns badgerhold.ErrNotFound if the queue is empty. StartedAt is only
// stamped on first entry — a job reclaimed after the stuck-job sweeper
// requeued it keeps its original StartedAt, so a restarted job's exported
// duration still reflects true end-to-end elapsed time rather than resetting
// on every restart.
func (s *JobStorage) NextQueuedJob(now time.Time) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []*models.Job
	query := badgerhold.Where("State").Eq(models.JobStateQueued).SortBy("CreatedAt").Limit(1)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("find next queued job: %w", err)
	}
	if len(jobs) == 0 {
		return nil, badgerhold.ErrNotFound
	}
	job := jobs[0]
	job.State = models.JobStateRunning
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.RunnerHeartbeatAt = &now
	job.LastProgressAt = &now
	if err := s.SaveJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// FindOrphanedJobs returns RUNNING/FINALIZING jobs whose heartbeat hasn't
// been touched since cutoff — the worker process behind them likely died.
func (s *JobStorage) FindOrphanedJobs(cutoff time.Time) ([]*models.Job, error) {
	var jobs []*models.Job
	query := badgerhold.Where("State").In(models.JobStateRunning, models.JobStateFinalizing).
		And("RunnerHeartbeatAt").Lt(&cutoff)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("find orphaned jobs: %w", err)
	}
	return jobs, nil
}

// FindStalledJobs returns RUNNING jobs that have fetched at least one page
// but made no further progress since cutoff.
func (s *JobStorage) FindStalledJobs(cutoff time.Time) ([]*models.Job, error) {
	var jobs []*models.Job
	query := badgerhold.Where("State").Eq(models.JobStateRunning).
		And("LastProgressAt").Lt(&cutoff)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("find stalled jobs: %w", err)
	}
	filtered := jobs[:0]
	for _, j := range jobs {
		if j.PagesFetched > 0 {
			filtered = append(filtered, j)
		}
	}
	return filtered, nil
}

// FindHardStalledJobs returns RUNNING jobs that never fetched a single page
// and whose LastProgressAt is before cutoff. NextQueuedJob stamps
// LastProgressAt on every claim, so for such a job it is the time of its
// latest claim; StartedAt is not consulted.
func (s *JobStorage) FindHardStalledJobs(cutoff time.Time) ([]*models.Job, error) {
	var jobs []*models.Job
	query := badgerhold.Where("State").Eq(models.JobStateRunning).
		And("LastProgressAt").Lt(&cutoff)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("find hard-stalled jobs: %w", err)
	}
	filtered := jobs[:0]
	for _, j := range jobs {
		if j.PagesFetched == 0 {
			filtered = append(filtered, j)
		}
	}
	return filtered, nil
}

// DeleteJob removes a job record. Used only by retention cleanup after its
// artifacts have been removed from disk.
func (s *JobStorage) DeleteJob(jobID string) error {
	if err := s.db.Store().Delete(jobID, &models.Job{}); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}

// CountJobsByState returns the number of jobs currently in state.
func (s *JobStorage) CountJobsByState(state models.JobState) (int, error) {
	n, err := s.db.Store().Count(&models.Job{}, badgerhold.Where("State").Eq(state))
	if err != nil {
		return 0, fmt.Errorf("count jobs by state: %w", err)
	}
	return n, nil
}
