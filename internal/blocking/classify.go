package blocking

import "github.com/ternarybob/crawlservice/internal/models"

// Signal names the specific evidence that drove a classification.
type Signal string

const (
	SignalCaptcha        Signal = "captcha_or_waf"
	SignalLoginRedirect  Signal = "login_redirect"
	SignalExcessive429   Signal = "excessive_429"
	SignalExcessive403   Signal = "excessive_403"
	SignalDuplicateContent Signal = "duplicate_content"
)

// Classification is the result of analyzing one job's accumulated Tracker
// evidence: the resulting site status, the signal that produced it (empty
// for NORMAL), and the evidence to persist alongside the job.
type Classification struct {
	SiteStatus models.SiteStatus
	Signal     Signal
	Evidence   Evidence
}

// Thresholds holds the configurable classification cutoffs.
type Thresholds struct {
	Rate429    float64
	Rate403    float64
	Duplicate  float64
}

// Classify applies the fixed-order classification table to a job's
// accumulated evidence: captcha/WAF first, then majority login redirects,
// then excessive 429s, then excessive 403s, then duplicate content, else
// NORMAL. Evidence with no recorded responses classifies as UNKNOWN. Order matters — captcha/WAF always wins over a high 403 rate that
// a WAF challenge page itself would also produce.
func Classify(ev Evidence, t Thresholds) Classification {
	if ev.TotalResponses == 0 {
		return Classification{SiteStatus: models.SiteStatusUnknown, Evidence: ev}
	}

	rate429 := float64(ev.StatusCodes[429]) / float64(ev.TotalResponses)
	rate403 := float64(ev.StatusCodes[403]) / float64(ev.TotalResponses)

	switch {
	case ev.CaptchaHits > 0 || ev.WAFHits > 0:
		return Classification{SiteStatus: models.SiteStatusBlocked, Signal: SignalCaptcha, Evidence: ev}
	case float64(ev.LoginRedirects) > float64(ev.TotalResponses)*0.5:
		return Classification{SiteStatus: models.SiteStatusLoginRequired, Signal: SignalLoginRedirect, Evidence: ev}
	case rate429 >= t.Rate429:
		return Classification{SiteStatus: models.SiteStatusThrottled, Signal: SignalExcessive429, Evidence: ev}
	case rate403 >= t.Rate403:
		return Classification{SiteStatus: models.SiteStatusBlocked, Signal: SignalExcessive403, Evidence: ev}
	case ev.DuplicateRatio >= t.Duplicate:
		return Classification{SiteStatus: models.SiteStatusBlocked, Signal: SignalDuplicateContent, Evidence: ev}
	default:
		return Classification{SiteStatus: models.SiteStatusNormal, Evidence: ev}
	}
}

// ShouldStopCrawl reports whether site_status warrants aborting further
// fetches for the job.
func ShouldStopCrawl(status models.SiteStatus) bool {
	return status == models.SiteStatusBlocked || status == models.SiteStatusLoginRequired
}

// ToModel converts an Evidence snapshot into the persisted BlockEvidence shape.
func (ev Evidence) ToModel() *models.BlockEvidence {
	signatureHits := make(map[string]int, len(ev.SignatureHits))
	for _, sig := range ev.SignatureHits {
		signatureHits[sig]++
	}
	return &models.BlockEvidence{
		TotalResponses: ev.TotalResponses,
		StatusCodes:    ev.StatusCodes,
		CaptchaHits:    ev.CaptchaHits,
		WAFHits:        ev.WAFHits,
		LoginRedirects: ev.LoginRedirects,
		DuplicateRatio: ev.DuplicateRatio,
		SampleURLs:     ev.SampleURLs,
		SignatureHits:  signatureHits,
	}
}
