package pipeline

import (
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlservice/internal/blocking"
	"github.com/ternarybob/crawlservice/internal/models"
)

// FetchResult is what a fetcher hands the pipeline for one attempted page.
type FetchResult struct {
	URL          string
	CanonicalURL string
	StatusCode   int
	ContentType  string
	HTML         string
	LocationHeader string
	Depth        int
	OutlinksCount int
	FetchedAt    time.Time
	Error        string
}

// Pipeline runs every fetched page through the fixed extraction/quality/
// cleanup/identity/budget/markdown stage order and writes the result to
// pages.raw.jsonl. One Pipeline instance belongs to exactly one job.
type Pipeline struct {
	logger     arbor.ILogger
	identity   *IdentityResolver
	budget     *BudgetTracker
	tracker    *blocking.Tracker
	writer     *JSONLWriter
	jobID      string
	minChars   int
}

// Config bundles the fixed, per-job inputs a Pipeline needs.
type Config struct {
	JobID    string
	MinChars int
	Identity *IdentityResolver
	Budget   *BudgetTracker
	Tracker  *blocking.Tracker
	Writer   *JSONLWriter
	Logger   arbor.ILogger
}

// New constructs a Pipeline for one job.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		logger:   cfg.Logger,
		identity: cfg.Identity,
		budget:   cfg.Budget,
		tracker:  cfg.Tracker,
		writer:   cfg.Writer,
		jobID:    cfg.JobID,
		minChars: cfg.MinChars,
	}
}

// Process runs one fetched page through every stage in order:
//
//  1. Text extraction (cascade, picks extraction_mode)
//  2. Quality scoring (with a single re-extraction retry on a marginal score)
//  3. Content cleanup (applied to both text and markdown)
//  4. Document identity (content-hash dedup, alias tracking)
//  5. Budget control (counts_toward_budget)
//  6. Markdown + section/breadcrumb/last-modified extraction
//  7. Blocking-signal tracking
//  8. JSONL write
//
// It returns the stopCrawl signal: true once the job's quality-page budget
// has been reached, meaning the caller's fetch loop should stop scheduling
// new work for this job.
func (p *Pipeline) Process(fr FetchResult) (record *models.RawPageRecord, stopCrawl bool, err error) {
	if fr.Error != "" {
		record = &models.RawPageRecord{
			URL: fr.URL, CanonicalURL: fr.CanonicalURL, FetchedAt: fr.FetchedAt,
			StatusCode: fr.StatusCode, Depth: fr.Depth, Error: fr.Error,
		}
		p.tracker.Record(fr.URL, fr.StatusCode, "", fr.LocationHeader, "")
		writeErr := p.writer.Write(record)
		return record, false, writeErr
	}

	extraction := ExtractText(fr.HTML, p.minChars)
	quality := ScoreContent(extraction.Text, fr.HTML, extraction.Title, p.minChars)

	if ShouldRetryExtraction(quality) && extraction.Mode == models.ExtractionModePrimary {
		if alt := ExtractBodyOnly(fr.HTML, p.minChars); alt.Text != "" {
			altQuality := ScoreContent(alt.Text, fr.HTML, extraction.Title, p.minChars)
			if altQuality.Score > quality.Score {
				extraction = alt
				quality = altQuality
			}
		}
	}

	cleanedText := CleanContent(extraction.Text)

	documentID, isDuplicate, idErr := p.identity.Resolve(p.jobID, fr.URL, extraction.TextHash, extraction.Title, fr.FetchedAt)
	if idErr != nil {
		p.logger.Warn().Err(idErr).Str("url", fr.URL).Msg("document identity resolution failed")
	}

	countsTowardBudget := p.budget.Record(quality.Passed, isDuplicate)

	markdown, sections, mdErr := ExtractMarkdown(fr.HTML, fr.URL)
	if mdErr != nil {
		p.logger.Warn().Err(mdErr).Str("url", fr.URL).Msg("markdown extraction failed")
		markdown = cleanedText
	}
	markdown = CleanContent(markdown)
	breadcrumbs := ExtractBreadcrumbs(fr.HTML)
	lastModified := ExtractLastModified(fr.HTML)

	p.tracker.Record(fr.URL, fr.StatusCode, fr.HTML, fr.LocationHeader, extraction.TextHash)

	record = &models.RawPageRecord{
		URL:                fr.URL,
		CanonicalURL:       fr.CanonicalURL,
		FetchedAt:          fr.FetchedAt,
		StatusCode:         fr.StatusCode,
		ContentType:        fr.ContentType,
		Title:              extraction.Title,
		Text:               cleanedText,
		Markdown:           markdown,
		TextHash:           extraction.TextHash,
		ExtractionMode:     extraction.Mode,
		Depth:              fr.Depth,
		OutlinksCount:       fr.OutlinksCount,
		Sections:           sections,
		Breadcrumbs:        breadcrumbs,
		LastModified:       lastModified,
		QualityScore:       quality.Score,
		QualityPassed:      quality.Passed,
		QualityReasons:     quality.Reasons,
		DocumentID:         documentID,
		IsDuplicate:        isDuplicate,
		CountsTowardBudget: countsTowardBudget,
	}

	if writeErr := p.writer.Write(record); writeErr != nil {
		return record, false, writeErr
	}

	return record, p.budget.BudgetReached(), nil
}
