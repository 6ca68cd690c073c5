package pipeline

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlservice/internal/blocking"
)

func newTestPipeline(t *testing.T, maxPages int) *Pipeline {
	t.Helper()
	writer, err := OpenJSONLWriter(filepath.Join(t.TempDir(), "pages.raw.jsonl"))
	if err != nil {
		t.Fatalf("OpenJSONLWriter() error = %v", err)
	}
	t.Cleanup(func() { writer.Close() })

	return New(Config{
		JobID:    "job-1",
		MinChars: 50,
		Identity: NewIdentityResolver(newTestDocumentStorage(t)),
		Budget:   NewBudgetTracker(maxPages),
		Tracker:  blocking.NewTracker(),
		Writer:   writer,
		Logger:   arbor.NewLogger(),
	})
}

const goodArticleHTML = `<html><head><title>A Real Article</title></head><body>
<article><p>` + articleFiller + `</p></article>
</body></html>`

const articleFiller = `This is a long, substantive article about Go concurrency patterns and how to build
reliable crawling pipelines. It walks through the extraction cascade, the quality gate, and the
budget tracker in enough detail to comfortably clear the minimum character threshold used in tests.
Readers will come away understanding how content identity and deduplication fit into the picture.`

func TestPipelineProcessGoodPageCountsTowardBudget(t *testing.T) {
	p := newTestPipeline(t, 5)

	record, stopCrawl, err := p.Process(FetchResult{
		URL:        "https://example.com/article",
		StatusCode: 200,
		HTML:       goodArticleHTML,
		FetchedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if !record.QualityPassed {
		t.Errorf("record.QualityPassed = false, want true; reasons=%v", record.QualityReasons)
	}
	if !record.CountsTowardBudget {
		t.Error("record.CountsTowardBudget = false, want true for a first-seen quality page")
	}
	if stopCrawl {
		t.Error("Process() stopCrawl = true, want false (budget of 5 not yet reached)")
	}
}

func TestPipelineProcessDuplicatePageDoesNotCountTwice(t *testing.T) {
	p := newTestPipeline(t, 5)

	if _, _, err := p.Process(FetchResult{URL: "https://example.com/a", StatusCode: 200, HTML: goodArticleHTML, FetchedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	record, _, err := p.Process(FetchResult{URL: "https://example.com/a-mirror", StatusCode: 200, HTML: goodArticleHTML, FetchedAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if !record.IsDuplicate {
		t.Error("second page with identical content should be flagged IsDuplicate")
	}
	if record.CountsTowardBudget {
		t.Error("duplicate page should not count toward budget")
	}
}

func TestPipelineProcessStopsCrawlOnceBudgetReached(t *testing.T) {
	p := newTestPipeline(t, 1)

	_, stopCrawl, err := p.Process(FetchResult{URL: "https://example.com/a", StatusCode: 200, HTML: goodArticleHTML, FetchedAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if !stopCrawl {
		t.Error("Process() stopCrawl = false, want true once budget of 1 quality page is reached")
	}
}

func TestPipelineProcessFetchErrorWritesErrorRecordWithoutExtraction(t *testing.T) {
	p := newTestPipeline(t, 5)

	record, stopCrawl, err := p.Process(FetchResult{
		URL:        "https://example.com/broken",
		StatusCode: 500,
		Error:      "connection reset",
		FetchedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if record.Error != "connection reset" {
		t.Errorf("record.Error = %q, want %q", record.Error, "connection reset")
	}
	if record.Text != "" {
		t.Errorf("record.Text = %q, want empty for a fetch error", record.Text)
	}
	if stopCrawl {
		t.Error("a fetch error should never itself trigger stopCrawl")
	}
}

func TestPipelineProcessLowQualityPageDoesNotCountTowardBudget(t *testing.T) {
	p := newTestPipeline(t, 5)

	record, _, err := p.Process(FetchResult{
		URL:        "https://example.com/thin",
		StatusCode: 200,
		HTML:       "<html><body><p>too short</p></body></html>",
		FetchedAt:  time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if record.QualityPassed {
		t.Error("record.QualityPassed = true, want false for thin content")
	}
	if record.CountsTowardBudget {
		t.Error("record.CountsTowardBudget = true, want false for a page that fails the quality gate")
	}
}
