// Package static fetches pages with a plain HTTP client driven through
// colly, the cheap default strategy for ordinary server-rendered sites.
package static

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlservice/internal/common"
)

// PageResult is the outcome of fetching exactly one URL.
type PageResult struct {
	URL            string
	StatusCode     int
	ContentType    string
	HTML           string
	LocationHeader string
	Links          []string
	Err            error
}

// contextAwareTransport aborts in-flight requests as soon as ctx is
// cancelled, so a job's timeout or a cancel request stops network I/O
// promptly instead of waiting out colly's own request timeout.
type contextAwareTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	select {
	case <-t.ctx.Done():
		return nil, t.ctx.Err()
	default:
	}
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// Fetcher scrapes individual pages for one job, sharing a throttle and
// circuit breaker across every domain it touches during the job's run.
type Fetcher struct {
	config    common.CrawlerConfig
	logger    arbor.ILogger
	throttle  *throttle
	breaker   *circuitBreaker
	retry     *retryPolicy
	userAgent string
}

// NewFetcher builds a Fetcher for a single job run.
func NewFetcher(config common.CrawlerConfig, logger arbor.ILogger) *Fetcher {
	return &Fetcher{
		config: config,
		logger: logger,
		throttle: newThrottle(
			config.ThrottleInitial, config.ThrottleCeiling,
			config.ThrottleFactor, config.ThrottleRecovery,
		),
		breaker:   newCircuitBreaker(config.BreakerTripAfter, config.BreakerOpenFor),
		retry:     newRetryPolicy(),
		userAgent: config.UserAgent,
	}
}

var fileDownloadExtensions = map[string]bool{
	".pdf": true, ".zip": true, ".tar": true, ".gz": true, ".rar": true,
	".exe": true, ".dmg": true, ".pkg": true, ".deb": true, ".rpm": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true,
	".mp3": true, ".mp4": true, ".avi": true, ".mov": true, ".mkv": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".svg": true, ".webp": true,
}

func isFileDownload(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for ext := range fileDownloadExtensions {
		if strings.HasSuffix(p, ext) {
			return true
		}
	}
	return false
}

// ScrapeURL fetches exactly one URL, running it through a dedicated
// single-use collector so per-request callback state never leaks across
// requests the way it would on a shared, long-lived collector.
func (f *Fetcher) ScrapeURL(ctx context.Context, targetURL string) PageResult {
	domain := hostOf(targetURL)

	if !f.breaker.allow(domain) {
		return PageResult{URL: targetURL, Err: fmt.Errorf("circuit open for domain %s", domain)}
	}
	if err := f.throttle.wait(ctx, domain); err != nil {
		return PageResult{URL: targetURL, Err: err}
	}

	result := PageResult{URL: targetURL}

	statusCode, err := f.retry.executeWithRetry(ctx, f.logger, func() (int, error) {
		return f.attempt(ctx, targetURL, &result)
	})
	result.StatusCode = statusCode
	result.Err = err

	if err != nil || statusCode >= 500 || statusCode == 429 {
		f.breaker.recordFailure(domain)
	} else {
		f.breaker.recordSuccess(domain)
		f.throttle.recoverOne(domain)
	}
	if statusCode == 429 || statusCode == 503 {
		f.throttle.backoff(domain, 0)
	}

	return result
}

func (f *Fetcher) attempt(ctx context.Context, targetURL string, result *PageResult) (int, error) {
	c := colly.NewCollector(
		colly.UserAgent(f.userAgent),
		colly.MaxDepth(1),
	)
	c.SetRequestTimeout(f.config.RequestTimeout)
	if f.config.MaxOutputBytes > 0 {
		c.MaxBodySize = int(f.config.MaxOutputBytes)
	}
	c.IgnoreRobotsTxt = !f.config.FollowRobotsTxt
	extensions.RandomUserAgent(c)
	extensions.Referer(c)

	transport := &contextAwareTransport{ctx: ctx, base: http.DefaultTransport}
	c.WithTransport(transport)

	statusCode := 0
	var fetchErr error

	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		statusCode = r.StatusCode
		result.LocationHeader = r.Headers.Get("Location")
	})

	c.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		result.ContentType = r.Headers.Get("Content-Type")
		result.LocationHeader = r.Headers.Get("Location")
	})

	c.OnHTML("html", func(e *colly.HTMLElement) {
		html, htmlErr := e.DOM.Html()
		if htmlErr == nil {
			result.HTML = html
		}
		result.Links = extractLinks(e, targetURL)
	})

	if err := c.Visit(targetURL); err != nil {
		if fetchErr == nil {
			fetchErr = err
		}
	}
	c.Wait()

	return statusCode, fetchErr
}

func extractLinks(e *colly.HTMLElement, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var links []string
	e.ForEach("a[href]", func(_ int, el *colly.HTMLElement) {
		href := strings.TrimSpace(el.Attr("href"))
		if href == "" {
			return
		}
		if strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		resolved.Fragment = ""
		normalized := resolved.String()
		if isFileDownload(normalized) {
			return
		}
		if seen[normalized] {
			return
		}
		seen[normalized] = true
		links = append(links, normalized)
	})
	return links
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
