package finalize

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlservice/internal/common"
	"github.com/ternarybob/crawlservice/internal/models"
	badgerstore "github.com/ternarybob/crawlservice/internal/storage/badger"
)

func newTestFinalizer(t *testing.T, jobsDir string) (*Finalizer, *badgerstore.JobStorage, *badgerstore.IPUsageStorage) {
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

	fz := NewFinalizer(jobs, ipUsage, events, artifacts, jobsDir, 10, logger)
	return fz, jobs, ipUsage
}

func TestFinalizeWithRawPagesProducesFullBundle(t *testing.T) {
	jobsDir := t.TempDir()
	jobDir := filepath.Join(jobsDir, "job-1")
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeRawLines(t, filepath.Join(jobDir, "pages.raw.jsonl"), []*models.RawPageRecord{
		{URL: "https://example.com/a", CanonicalURL: "https://example.com/a", StatusCode: 200, Title: "A", Markdown: "content a"},
		{URL: "https://example.com/b", CanonicalURL: "https://example.com/b", StatusCode: 200, Title: "B", Markdown: "content b"},
	})

	fz, jobs, ipUsage := newTestFinalizer(t, jobsDir)

	job := &models.Job{ID: "job-1", IPHash: "ip-1", SeedURL: "https://example.com", State: models.JobStateRunning, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}
	if err := jobs.SaveJob(job); err != nil {
		t.Fatal(err)
	}
	if _, err := ipUsage.Increment("ip-1", 1); err != nil {
		t.Fatal(err)
	}

	if err := fz.Finalize("job-1"); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	got, err := jobs.GetJob("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.JobStateDone {
		t.Errorf("State = %v, want DONE", got.State)
	}
	if got.PagesExported != 2 {
		t.Errorf("PagesExported = %d, want 2", got.PagesExported)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}

	if _, err := os.Stat(filepath.Join(jobDir, "pages.jsonl")); err != nil {
		t.Error("pages.jsonl should have been written")
	}
	if _, err := os.Stat(filepath.Join(jobDir, "summary.json")); err != nil {
		t.Error("summary.json should have been written")
	}
	if _, err := os.Stat(filepath.Join(jobDir, "kb", "manifest.json")); err != nil {
		t.Error("kb/manifest.json should have been written")
	}

	count, err := ipUsage.Get("ip-1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("ip usage = %d, want 0 (decremented on finalize)", count)
	}
}

func TestFinalizeWithoutRawPagesWritesEmptySummaryAndMarksDone(t *testing.T) {
	jobsDir := t.TempDir()
	jobDir := filepath.Join(jobsDir, "job-1")
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		t.Fatal(err)
	}

	fz, jobs, _ := newTestFinalizer(t, jobsDir)
	job := &models.Job{ID: "job-1", IPHash: "ip-1", SeedURL: "https://example.com", State: models.JobStateCancelled, CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}
	if err := jobs.SaveJob(job); err != nil {
		t.Fatal(err)
	}

	if err := fz.Finalize("job-1"); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	got, err := jobs.GetJob("job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != models.JobStateDone {
		t.Errorf("State = %v, want DONE", got.State)
	}
	if got.PagesExported != 0 {
		t.Errorf("PagesExported = %d, want 0", got.PagesExported)
	}

	data, err := os.ReadFile(filepath.Join(jobDir, "summary.json"))
	if err != nil {
		t.Fatalf("read summary.json error = %v", err)
	}
	var summary models.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatal(err)
	}
	if summary.PagesFetched != 0 {
		t.Errorf("summary.PagesFetched = %d, want 0", summary.PagesFetched)
	}
}

func TestFinalizeMissingJobReturnsError(t *testing.T) {
	jobsDir := t.TempDir()
	fz, _, _ := newTestFinalizer(t, jobsDir)

	if err := fz.Finalize("does-not-exist"); err == nil {
		t.Error("Finalize() for a missing job should return an error")
	}
}
