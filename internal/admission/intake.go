package admission

import (
	"fmt"
	"time"

	"github.com/ternarybob/crawlservice/internal/common"
	"github.com/ternarybob/crawlservice/internal/models"
)

// JobRequest is the decoded body of POST /v1/jobs before validation.
type JobRequest struct {
	URL                string   `json:"start_url" validate:"required"`
	MaxPages           *int     `json:"max_pages,omitempty"`
	TimeoutSeconds     *int     `json:"timeout_seconds,omitempty"`
	IgnorePathPrefixes []string `json:"ignore_path_prefixes,omitempty"`
	UseJS              bool     `json:"use_js,omitempty"`
}

// Submission is the validated, ready-to-persist result of intake: the new
// Job plus the plaintext token that must be returned to the caller exactly
// once and never stored.
type Submission struct {
	Job   *models.Job
	Token string
}

// Intake validates req and the admitting client address against cfg,
// returning a ready-to-persist Job and its one-time bearer token. It does
// not touch storage; callers must still run the per-IP concurrency check
// against the current job table before persisting.
func Intake(req JobRequest, clientIP string, cfg *common.AdmissionConfig, expiryHours int, now time.Time) (*Submission, error) {
	hostname, err := ValidateURL(req.URL)
	if err != nil {
		return nil, err
	}

	maxPages := ClampInt(req.MaxPages, cfg.DefaultMaxPages, cfg.MinPages, cfg.MaxPages)
	timeout := ClampInt(req.TimeoutSeconds, cfg.DefaultTimeoutSecs, cfg.MinTimeoutSecs, cfg.MaxTimeoutSecs)
	ignorePrefixes := NormalizeIgnorePrefixes(req.IgnorePathPrefixes)

	token := common.NewToken(cfg.TokenLengthBytes)

	job := &models.Job{
		ID:                 common.NewJobID(),
		TokenHash:          common.HashHex(token),
		IPHash:             common.HashHex(clientIP),
		SeedURL:            req.URL,
		AllowedHost:        hostname,
		MaxPages:           maxPages,
		TimeoutSeconds:     timeout,
		IgnorePathPrefixes: ignorePrefixes,
		UseJS:              req.UseJS,
		State:              models.JobStateQueued,
		SiteStatus:         models.SiteStatusUnknown,
		CreatedAt:          now,
		ExpiresAt:          now.Add(time.Duration(expiryHours) * time.Hour),
	}

	return &Submission{Job: job, Token: token}, nil
}

// CheckConcurrency returns an error if ipHash is already at or above the
// per-IP concurrency ceiling. Callers must call this while holding whatever
// serialization they use around job creation, since badgerhold does not
// offer cross-key transactions.
func CheckConcurrency(activeCount int, cfg *common.AdmissionConfig) error {
	if activeCount >= cfg.ConcurrentJobsPerIP {
		return fmt.Errorf("too many concurrent jobs for this client: limit is %d", cfg.ConcurrentJobsPerIP)
	}
	return nil
}
