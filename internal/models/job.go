// Package models defines the persistent entities the crawl service stores in
// BadgerDB via badgerhold.
package models

import "time"

// JobState is the authoritative lifecycle state of a Job.
type JobState string

const (
	JobStateQueued     JobState = "QUEUED"
	JobStateRunning    JobState = "RUNNING"
	JobStateFinalizing JobState = "FINALIZING"
	JobStateDone       JobState = "DONE"
	JobStateFailed     JobState = "FAILED"
	JobStateExpired    JobState = "EXPIRED"
	JobStateCancelled  JobState = "CANCELLED"
)

// IsTerminal reports whether a job in this state will never transition again
// through the normal worker lifecycle.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateDone, JobStateFailed, JobStateExpired, JobStateCancelled:
		return true
	}
	return false
}

// ErrorReason classifies why a job or page failed, mirroring the taxonomy the
// worker and finalizer report through.
type ErrorReason string

const (
	ErrorReasonOrphaned            ErrorReason = "orphaned"
	ErrorReasonStalled             ErrorReason = "stalled"
	ErrorReasonHardStalled         ErrorReason = "hard_stalled"
	ErrorReasonRateLimited         ErrorReason = "rate_limited"
	ErrorReasonBlocked             ErrorReason = "blocked"
	ErrorReasonCaptchaDetected     ErrorReason = "captcha_detected"
	ErrorReasonLoginRequired       ErrorReason = "login_required"
	ErrorReasonRobotsDenied        ErrorReason = "robots_denied"
	ErrorReasonDNSFailure          ErrorReason = "dns_failure"
	ErrorReasonConnectionError     ErrorReason = "connection_error"
	ErrorReasonTimeout             ErrorReason = "timeout"
	ErrorReasonDiskFull            ErrorReason = "disk_full"
	ErrorReasonUnknown             ErrorReason = "unknown"
	ErrorReasonFinalizationFailed  ErrorReason = "finalization_failed"
)

// SiteStatus summarizes the blocking classification of a crawl target.
type SiteStatus string

const (
	SiteStatusNormal       SiteStatus = "NORMAL"
	SiteStatusThrottled    SiteStatus = "THROTTLED"
	SiteStatusBlocked      SiteStatus = "BLOCKED"
	SiteStatusRobotsDenied SiteStatus = "ROBOTS_DENIED"
	SiteStatusLoginRequired SiteStatus = "LOGIN_REQUIRED"
	SiteStatusUnknown      SiteStatus = "UNKNOWN"
)

// CrawlerStrategy records which fetcher produced the job's output.
type CrawlerStrategy string

const (
	StrategyStatic            CrawlerStrategy = "static"
	StrategyHeadless           CrawlerStrategy = "headless"
	StrategyHeadlessPreflight  CrawlerStrategy = "headless_preflight"
	StrategyStaticFallbackJS   CrawlerStrategy = "static_fallback_js"
)

// LastError is the most recent failure recorded against a job.
type LastError struct {
	Reason  ErrorReason `json:"reason"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}

// BlockEvidence is the structured evidence a job accumulates about blocking,
// persisted on the job record (see internal/blocking); it is not written to
// a separate per-job file.
type BlockEvidence struct {
	TotalResponses  int            `json:"total_responses"`
	StatusCodes     map[int]int    `json:"status_codes"`
	CaptchaHits     int            `json:"captcha_hits"`
	WAFHits         int            `json:"waf_hits"`
	LoginRedirects  int            `json:"login_redirects"`
	DuplicateRatio  float64        `json:"duplicate_ratio"`
	SampleURLs      []string       `json:"sample_urls"`
	SignatureHits   map[string]int `json:"signature_hits"`
}

// Job is the primary aggregate: a single submitted crawl.
type Job struct {
	ID string `badgerhold:"key"`

	TokenHash string `badgerholdIndex:"TokenHash"`
	IPHash    string `badgerholdIndex:"IPHash"`

	SeedURL           string   `json:"seed_url"`
	AllowedHost       string   `json:"allowed_host"`
	MaxPages          int      `json:"max_pages"`
	TimeoutSeconds    int      `json:"timeout_seconds"`
	IgnorePathPrefixes []string `json:"ignore_path_prefixes"`
	UseJS             bool     `json:"use_js"`

	State JobState `badgerholdIndex:"State"`

	PagesFetched  int `json:"pages_fetched"`
	PagesExported int `json:"pages_exported"`
	ErrorsCount   int `json:"errors_count"`

	RestartCount        int `json:"restart_count"`
	FallbackRetryCount  int `json:"fallback_retry_count"`

	RunnerHeartbeatAt *time.Time `json:"runner_heartbeat_at,omitempty"`
	LastProgressAt    *time.Time `json:"last_progress_at,omitempty"`

	CreatedAt  time.Time  `badgerholdIndex:"CreatedAt"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	ExpiresAt  time.Time  `badgerholdIndex:"ExpiresAt"`

	SiteStatus      SiteStatus       `json:"site_status"`
	CrawlerStrategy CrawlerStrategy  `json:"crawler_strategy"`
	LastError       *LastError       `json:"last_error,omitempty"`
	BlockEvidence   *BlockEvidence   `json:"block_evidence,omitempty"`
}

// DownloadReady reports whether the job has a completed, downloadable bundle.
func (j *Job) DownloadReady() bool {
	return j.State == JobStateDone
}

// IPUsage tracks the number of concurrently active jobs per hashed requester IP.
type IPUsage struct {
	IPHash string `badgerhold:"key"`
	Count  int    `json:"count"`
}
