package finalize

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/crawlservice/internal/models"
)

func TestGenerateSummaryComputesDistributionsAndRates(t *testing.T) {
	dir := t.TempDir()
	finalPath := filepath.Join(dir, "pages.jsonl")

	writeRawLines(t, finalPath, []*models.RawPageRecord{
		{URL: "https://example.com/a", StatusCode: 200, ExtractionMode: models.ExtractionModePrimary, Text: "0123456789"},
		{URL: "https://example.com/b", StatusCode: 200, ExtractionMode: models.ExtractionModeFallback, Text: "short"},
		{URL: "https://example.com/c", StatusCode: 404, Error: "not found"},
	})

	started := time.Now().Add(-time.Minute)
	job := &models.Job{
		ID:              "job-1",
		StartedAt:       &started,
		CrawlerStrategy: models.StrategyStatic,
		SiteStatus:      models.SiteStatusNormal,
	}

	now := time.Now()
	summary := GenerateSummary(job, DedupStats{TotalRaw: 4, TotalDeduped: 3}, finalPath, 10, now)

	if summary.PagesFetched != 4 {
		t.Errorf("PagesFetched = %d, want 4", summary.PagesFetched)
	}
	if summary.PagesExported != 3 {
		t.Errorf("PagesExported = %d, want 3", summary.PagesExported)
	}
	if summary.StatusCodeDistribution[200] != 2 {
		t.Errorf("StatusCodeDistribution[200] = %d, want 2", summary.StatusCodeDistribution[200])
	}
	if summary.StatusCodeDistribution[404] != 1 {
		t.Errorf("StatusCodeDistribution[404] = %d, want 1", summary.StatusCodeDistribution[404])
	}
	if summary.ExtractionModeDist["primary"] != 1 || summary.ExtractionModeDist["fallback"] != 1 {
		t.Errorf("ExtractionModeDist = %v, want primary=1 fallback=1", summary.ExtractionModeDist)
	}
	if summary.ExtractionSuccessRate != round3(1.0/3.0) {
		t.Errorf("ExtractionSuccessRate = %v, want %v (only the 10-char record clears min_text_length=10)", summary.ExtractionSuccessRate, round3(1.0/3.0))
	}
	if len(summary.LastErrors) != 1 || summary.LastErrors[0] != "https://example.com/c: not found" {
		t.Errorf("LastErrors = %v, want one entry for the failed fetch", summary.LastErrors)
	}
	if summary.DurationSeconds <= 0 {
		t.Errorf("DurationSeconds = %v, want > 0 since StartedAt is set", summary.DurationSeconds)
	}
}

func TestGenerateSummaryCapsLastErrorsAtTen(t *testing.T) {
	dir := t.TempDir()
	finalPath := filepath.Join(dir, "pages.jsonl")

	var records []*models.RawPageRecord
	for i := 0; i < 15; i++ {
		records = append(records, &models.RawPageRecord{URL: "https://example.com/x", StatusCode: 500, Error: "boom"})
	}
	writeRawLines(t, finalPath, records)

	job := &models.Job{ID: "job-1"}
	summary := GenerateSummary(job, DedupStats{TotalRaw: 15, TotalDeduped: 15}, finalPath, 10, time.Now())
	if len(summary.LastErrors) != 10 {
		t.Errorf("LastErrors len = %d, want capped at 10", len(summary.LastErrors))
	}
}

func TestGenerateSummaryMissingFinalFileStillReturnsSummary(t *testing.T) {
	job := &models.Job{ID: "job-1"}
	summary := GenerateSummary(job, DedupStats{}, filepath.Join(t.TempDir(), "missing.jsonl"), 10, time.Now())
	if summary.JobID != "job-1" {
		t.Errorf("JobID = %q, want job-1", summary.JobID)
	}
	if summary.PagesFetched != 0 {
		t.Errorf("PagesFetched = %d, want 0", summary.PagesFetched)
	}
}

func TestEmptySummaryCarriesJobMetadataOnly(t *testing.T) {
	job := &models.Job{
		ID:                 "job-1",
		CrawlerStrategy:    models.StrategyHeadless,
		FallbackRetryCount: 2,
		SiteStatus:         models.SiteStatusBlocked,
		RestartCount:       1,
	}
	summary := EmptySummary(job, time.Now())
	if summary.JobID != "job-1" {
		t.Errorf("JobID = %q, want job-1", summary.JobID)
	}
	if !summary.FallbackOccurred {
		t.Error("FallbackOccurred should be true when FallbackRetryCount > 0")
	}
	if summary.PagesFetched != 0 {
		t.Errorf("PagesFetched = %d, want 0 (no raw file was ever produced)", summary.PagesFetched)
	}
}
