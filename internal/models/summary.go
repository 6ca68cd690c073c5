package models

import "time"

// Summary is the content of summary.json, produced by the finalizer.
type Summary struct {
	JobID                   string         `json:"job_id"`
	GeneratedAt             time.Time      `json:"generated_at"`
	DurationSeconds         float64        `json:"duration_seconds"`
	PagesFetched            int            `json:"pages_fetched"`
	PagesExported           int            `json:"pages_exported"`
	StatusCodeDistribution  map[int]int    `json:"status_code_distribution"`
	ExtractionModeDist      map[string]int `json:"extraction_mode_distribution"`
	ExtractionSuccessRate   float64        `json:"extraction_success_rate"`
	AvgTextLength           float64        `json:"avg_text_length"`
	CrawlerStrategy         CrawlerStrategy `json:"crawler_strategy"`
	FallbackOccurred        bool           `json:"fallback_occurred"`
	SiteStatus              SiteStatus     `json:"site_status"`
	BlockEvidence           *BlockEvidence `json:"block_evidence,omitempty"`
	RestartCount            int            `json:"restart_count"`
	LastErrors              []string       `json:"last_errors,omitempty"`
}

// KBManifestPage is one entry in kb/manifest.json.
type KBManifestPage struct {
	ID           string     `json:"id"`
	Filename     string     `json:"filename"`
	SourceURL    string     `json:"source_url"`
	Title        string     `json:"title"`
	Breadcrumbs  []string   `json:"breadcrumbs,omitempty"`
	Sections     []Section  `json:"sections,omitempty"`
	LastModified *time.Time `json:"last_modified,omitempty"`
	FetchedAt    time.Time  `json:"fetched_at"`
	TextLength   int        `json:"text_length"`
}

// KBManifest is the content of kb/manifest.json.
type KBManifest struct {
	JobID         string           `json:"job_id"`
	GeneratedAt   time.Time        `json:"generated_at"`
	FormatVersion string           `json:"format_version"`
	TotalPages    int              `json:"total_pages"`
	Pages         []KBManifestPage `json:"pages"`
}
