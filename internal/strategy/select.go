package strategy

import "github.com/ternarybob/crawlservice/internal/models"

// Choice is the outcome of initial fetcher selection for a job.
type Choice struct {
	Strategy models.CrawlerStrategy
	UseHeadless bool
	Reason   string // empty unless auto-detected
}

// SelectInitial picks the fetcher a job should start with: an explicit
// use_js request always wins, then auto-detection against the JS-heavy
// domain table, and otherwise the static fetcher (cheaper and faster for
// ordinary server-rendered HTML).
func SelectInitial(seedURL string, useJSRequested bool) Choice {
	if useJSRequested {
		return Choice{Strategy: models.StrategyHeadlessPreflight, UseHeadless: true}
	}
	if reason := DetectedReason(seedURL); reason != "" {
		return Choice{Strategy: models.StrategyHeadlessPreflight, UseHeadless: true, Reason: reason}
	}
	return Choice{Strategy: models.StrategyStatic, UseHeadless: false}
}

// FallbackDecision is the outcome of post-static-attempt analysis.
type FallbackDecision struct {
	ShouldFallback bool
	Reason         string
}

// DecideFallback inspects the static fetcher's outcome and decides whether
// to retry the job with the headless fetcher. Zero pages fetched is the
// strongest signal (near-certainly a JS-rendered shell); BLOCKED and
// THROTTLED site statuses also warrant a retry, since a headless browser's
// full request fingerprint sometimes clears a block a bare HTTP client
// trips. LOGIN_REQUIRED never triggers a fallback: a browser cannot pass an
// authentication wall it wasn't given credentials for.
func DecideFallback(pagesFetched int, siteStatus models.SiteStatus, signal string) FallbackDecision {
	if pagesFetched == 0 {
		return FallbackDecision{ShouldFallback: true, Reason: "zero_pages"}
	}
	switch siteStatus {
	case models.SiteStatusBlocked:
		reason := "blocked"
		if signal != "" {
			reason = "blocked:" + signal
		}
		return FallbackDecision{ShouldFallback: true, Reason: reason}
	case models.SiteStatusThrottled:
		return FallbackDecision{ShouldFallback: true, Reason: "throttled"}
	default:
		return FallbackDecision{ShouldFallback: false}
	}
}

// FallbackStrategy returns the CrawlerStrategy to record when a fallback is
// actually executed.
func FallbackStrategy() models.CrawlerStrategy {
	return models.StrategyStaticFallbackJS
}
