package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/crawlservice/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

func testJob(id string, state models.JobState, createdAt time.Time) *models.Job {
	return &models.Job{
		ID:         id,
		TokenHash:  "hash-" + id,
		IPHash:     "ip-" + id,
		SeedURL:    "https://example.com",
		State:      state,
		CreatedAt:  createdAt,
		ExpiresAt:  createdAt.Add(24 * time.Hour),
		SiteStatus: models.SiteStatusUnknown,
	}
}

func TestJobStorageSaveAndGet(t *testing.T) {
	db := openTestDB(t)
	s := NewJobStorage(db, nil)

	job := testJob("job-1", models.JobStateQueued, time.Now())
	if err := s.SaveJob(job); err != nil {
		t.Fatalf("SaveJob() error = %v", err)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if got.SeedURL != job.SeedURL {
		t.Errorf("GetJob().SeedURL = %q, want %q", got.SeedURL, job.SeedURL)
	}
}

func TestJobStorageGetMissingReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	s := NewJobStorage(db, nil)
	_, err := s.GetJob("does-not-exist")
	if err != badgerhold.ErrNotFound {
		t.Errorf("GetJob() error = %v, want badgerhold.ErrNotFound", err)
	}
}

func TestNextQueuedJobClaimsOldestAndTransitionsToRunning(t *testing.T) {
	db := openTestDB(t)
	s := NewJobStorage(db, nil)

	older := testJob("job-old", models.JobStateQueued, time.Now().Add(-time.Hour))
	newer := testJob("job-new", models.JobStateQueued, time.Now())
	if err := s.SaveJob(older); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveJob(newer); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.NextQueuedJob(time.Now())
	if err != nil {
		t.Fatalf("NextQueuedJob() error = %v", err)
	}
	if claimed.ID != "job-old" {
		t.Errorf("NextQueuedJob() claimed %q, want job-old (oldest first)", claimed.ID)
	}
	if claimed.State != models.JobStateRunning {
		t.Errorf("NextQueuedJob() state = %v, want RUNNING", claimed.State)
	}
	if claimed.StartedAt == nil {
		t.Error("NextQueuedJob() should stamp StartedAt")
	}
}

func TestNextQueuedJobReclaimPreservesOriginalStartedAt(t *testing.T) {
	db := openTestDB(t)
	s := NewJobStorage(db, nil)

	job := testJob("job-1", models.JobStateQueued, time.Now().Add(-time.Hour))
	if err := s.SaveJob(job); err != nil {
		t.Fatal(err)
	}

	firstClaim, err := s.NextQueuedJob(time.Now())
	if err != nil {
		t.Fatalf("NextQueuedJob() first claim error = %v", err)
	}
	if firstClaim.StartedAt == nil {
		t.Fatal("first claim should stamp StartedAt")
	}
	originalStartedAt := *firstClaim.StartedAt

	// Simulate the stuck-job sweeper requeuing the job after a restart.
	if _, err := s.Transition(context.Background(), job.ID, models.JobStateQueued, func(j *models.Job) {
		j.RestartCount++
	}, models.JobStateRunning); err != nil {
		t.Fatalf("requeue via Transition() error = %v", err)
	}

	reclaimed, err := s.NextQueuedJob(time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("NextQueuedJob() reclaim error = %v", err)
	}
	if reclaimed.StartedAt == nil || !reclaimed.StartedAt.Equal(originalStartedAt) {
		t.Errorf("reclaimed job StartedAt = %v, want preserved original %v", reclaimed.StartedAt, originalStartedAt)
	}
}

func TestTransitionRejectsUnexpectedSourceState(t *testing.T) {
	db := openTestDB(t)
	s := NewJobStorage(db, nil)

	job := testJob("job-1", models.JobStateDone, time.Now())
	if err := s.SaveJob(job); err != nil {
		t.Fatal(err)
	}

	_, err := s.Transition(context.Background(), job.ID, models.JobStateQueued, nil, models.JobStateRunning)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Transition() out of a terminal state error = %v, want ErrInvalidTransition", err)
	}

	got, getErr := s.GetJob(job.ID)
	if getErr != nil {
		t.Fatal(getErr)
	}
	if got.State != models.JobStateDone {
		t.Errorf("job State = %v after rejected transition, want unchanged DONE", got.State)
	}
}

func TestTransitionAppliesPatchAndNewState(t *testing.T) {
	db := openTestDB(t)
	s := NewJobStorage(db, nil)

	job := testJob("job-1", models.JobStateRunning, time.Now())
	if err := s.SaveJob(job); err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	updated, err := s.Transition(context.Background(), job.ID, models.JobStateFailed, func(j *models.Job) {
		j.FinishedAt = &now
		j.LastError = &models.LastError{Reason: models.ErrorReasonUnknown, Message: "boom", At: now}
	}, models.JobStateRunning)
	if err != nil {
		t.Fatalf("Transition() error = %v", err)
	}
	if updated.State != models.JobStateFailed {
		t.Errorf("Transition() State = %v, want FAILED", updated.State)
	}
	if updated.LastError == nil || updated.LastError.Message != "boom" {
		t.Errorf("Transition() did not apply patch, LastError = %v", updated.LastError)
	}
}

func TestNextQueuedJobEmptyQueueReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	s := NewJobStorage(db, nil)
	_, err := s.NextQueuedJob(time.Now())
	if err != badgerhold.ErrNotFound {
		t.Errorf("NextQueuedJob() on empty queue error = %v, want badgerhold.ErrNotFound", err)
	}
}

func TestUpdateJobProgressOnlyAdvancesLastProgressOnIncrease(t *testing.T) {
	db := openTestDB(t)
	s := NewJobStorage(db, nil)

	job := testJob("job-1", models.JobStateRunning, time.Now())
	if err := s.SaveJob(job); err != nil {
		t.Fatal(err)
	}

	t1 := time.Now()
	if err := s.UpdateJobProgress("job-1", 3, 0, 0, t1); err != nil {
		t.Fatalf("UpdateJobProgress() error = %v", err)
	}
	got, _ := s.GetJob("job-1")
	if got.LastProgressAt == nil || !got.LastProgressAt.Equal(t1) {
		t.Errorf("LastProgressAt = %v, want %v", got.LastProgressAt, t1)
	}

	t2 := t1.Add(time.Minute)
	if err := s.UpdateJobProgress("job-1", 3, 0, 0, t2); err != nil {
		t.Fatalf("UpdateJobProgress() error = %v", err)
	}
	got, _ = s.GetJob("job-1")
	if !got.LastProgressAt.Equal(t1) {
		t.Errorf("LastProgressAt advanced on unchanged PagesFetched: got %v, want unchanged %v", got.LastProgressAt, t1)
	}
	if got.RunnerHeartbeatAt == nil || !got.RunnerHeartbeatAt.Equal(t2) {
		t.Errorf("RunnerHeartbeatAt = %v, want %v (heartbeat proves liveness regardless of progress)", got.RunnerHeartbeatAt, t2)
	}
}

func TestListExpiredJobs(t *testing.T) {
	db := openTestDB(t)
	s := NewJobStorage(db, nil)

	now := time.Now()
	expired := testJob("job-expired", models.JobStateRunning, now.Add(-48*time.Hour))
	expired.ExpiresAt = now.Add(-time.Hour)
	fresh := testJob("job-fresh", models.JobStateRunning, now)

	if err := s.SaveJob(expired); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveJob(fresh); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListExpiredJobs(now)
	if err != nil {
		t.Fatalf("ListExpiredJobs() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "job-expired" {
		t.Errorf("ListExpiredJobs() = %v, want only job-expired", got)
	}
}

func TestFindStalledAndHardStalledJobs(t *testing.T) {
	db := openTestDB(t)
	s := NewJobStorage(db, nil)

	cutoff := time.Now()
	old := cutoff.Add(-time.Hour)

	stalled := testJob("job-stalled", models.JobStateRunning, old)
	stalled.PagesFetched = 5
	stalled.LastProgressAt = &old

	hardStalled := testJob("job-hard-stalled", models.JobStateRunning, old)
	hardStalled.PagesFetched = 0
	hardStalled.LastProgressAt = &old

	for _, j := range []*models.Job{stalled, hardStalled} {
		if err := s.SaveJob(j); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.FindStalledJobs(cutoff)
	if err != nil {
		t.Fatalf("FindStalledJobs() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "job-stalled" {
		t.Errorf("FindStalledJobs() = %v, want only job-stalled", got)
	}

	gotHard, err := s.FindHardStalledJobs(cutoff)
	if err != nil {
		t.Fatalf("FindHardStalledJobs() error = %v", err)
	}
	if len(gotHard) != 1 || gotHard[0].ID != "job-hard-stalled" {
		t.Errorf("FindHardStalledJobs() = %v, want only job-hard-stalled", gotHard)
	}
}

func TestCountActiveJobsByIPHash(t *testing.T) {
	db := openTestDB(t)
	s := NewJobStorage(db, nil)

	j1 := testJob("job-1", models.JobStateRunning, time.Now())
	j1.IPHash = "shared-ip"
	j2 := testJob("job-2", models.JobStateQueued, time.Now())
	j2.IPHash = "shared-ip"
	j3 := testJob("job-3", models.JobStateDone, time.Now())
	j3.IPHash = "shared-ip"

	for _, j := range []*models.Job{j1, j2, j3} {
		if err := s.SaveJob(j); err != nil {
			t.Fatal(err)
		}
	}

	count, err := s.CountActiveJobsByIPHash("shared-ip")
	if err != nil {
		t.Fatalf("CountActiveJobsByIPHash() error = %v", err)
	}
	if count != 2 {
		t.Errorf("CountActiveJobsByIPHash() = %d, want 2 (DONE excluded)", count)
	}
}
