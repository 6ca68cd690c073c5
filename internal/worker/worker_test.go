package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlservice/internal/common"
	"github.com/ternarybob/crawlservice/internal/models"
	badgerstore "github.com/ternarybob/crawlservice/internal/storage/badger"
)

func newTestWorker(t *testing.T) (*Worker, string) {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := badgerstore.NewDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	jobs := badgerstore.NewJobStorage(db, logger)
	ipUsage := badgerstore.NewIPUsageStorage(db)
	events, err := badgerstore.NewEventStorage(db)
	if err != nil {
		t.Fatalf("NewEventStorage() error = %v", err)
	}
	artifacts := badgerstore.NewArtifactStorage(db)
	documents := badgerstore.NewDocumentStorage(db)

	jobsDir := t.TempDir()
	cfg := &common.Config{Storage: common.StorageConfig{JobsDir: jobsDir}}

	w := &Worker{
		config:    cfg,
		logger:    logger,
		jobs:      jobs,
		ipUsage:   ipUsage,
		events:    events,
		artifacts: artifacts,
		documents: documents,
	}
	return w, jobsDir
}

func TestSweepExpiredExpiresNonTerminalJobAndFreesIPSlot(t *testing.T) {
	w, _ := newTestWorker(t)

	job := &models.Job{
		ID: "job-1", IPHash: "ip-1", State: models.JobStateRunning,
		CreatedAt: time.Now().Add(-time.Hour), ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := w.jobs.SaveJob(job); err != nil {
		t.Fatal(err)
	}
	if _, err := w.ipUsage.Increment("ip-1", 1); err != nil {
		t.Fatal(err)
	}

	w.sweepExpired(time.Now())

	got, err := w.jobs.GetJob("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.JobStateExpired {
		t.Errorf("State = %v, want EXPIRED", got.State)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}

	count, err := w.ipUsage.Get("ip-1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("ip usage = %d, want 0 (freed on expiry)", count)
	}
}

func TestSweepExpiredPurgesTerminalJobAndItsWorkingDir(t *testing.T) {
	w, jobsDir := newTestWorker(t)

	job := &models.Job{
		ID: "job-2", IPHash: "ip-2", State: models.JobStateDone,
		CreatedAt: time.Now().Add(-time.Hour), ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := w.jobs.SaveJob(job); err != nil {
		t.Fatal(err)
	}

	jobDir := filepath.Join(jobsDir, "job-2")
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(jobDir, "pages.jsonl"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := w.events.Append(&models.JobEvent{JobID: "job-2", At: time.Now(), Level: models.EventLevelInfo, Type: models.EventTypeStateChange, Message: "done"}); err != nil {
		t.Fatal(err)
	}

	w.sweepExpired(time.Now())

	if _, err := w.jobs.GetJob("job-2"); err == nil {
		t.Error("job row should have been deleted")
	}
	if _, err := os.Stat(jobDir); !os.IsNotExist(err) {
		t.Error("job working directory should have been removed")
	}
	evts, err := w.events.ListByJob("job-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 0 {
		t.Errorf("events for the purged job should be gone, got %d", len(evts))
	}
}

func TestSweepExpiredLeavesUnexpiredJobsUntouched(t *testing.T) {
	w, _ := newTestWorker(t)

	job := &models.Job{
		ID: "job-3", IPHash: "ip-3", State: models.JobStateRunning,
		CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := w.jobs.SaveJob(job); err != nil {
		t.Fatal(err)
	}

	w.sweepExpired(time.Now())

	got, err := w.jobs.GetJob("job-3")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.JobStateRunning {
		t.Errorf("State = %v, want unchanged RUNNING", got.State)
	}
}
