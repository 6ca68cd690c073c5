// Package blocking detects and classifies site-side blocking during a crawl:
// captcha/WAF challenge pages, forced login redirects, and excessive
// 429/403 responses or duplicate content that indicate the target is
// pushing back rather than serving real pages.
package blocking

import (
	"regexp"
	"strings"
)

var captchaPatterns = compilePatterns([]string{
	`cf-browser-verification`, `cf-challenge`, `cloudflare`,
	`checking\s+your\s+browser`, `please\s+wait.*redirect`,
	`g-recaptcha`, `recaptcha/api`, `hcaptcha`, `challenge-platform`,
	`verify\s+you\s+are\s+(human|not\s+a\s+robot)`,
	`please\s+complete\s+the\s+security\s+check`,
	`access\s+denied`, `blocked\s+by.*firewall`,
})

var wafPatterns = compilePatterns([]string{
	`blocked\s+by\s+mod_security`, `web\s+application\s+firewall`,
	`request\s+blocked`, `sucuri`, `incapsula`, `akamai`, `imperva`,
})

var loginRedirectPatterns = []string{
	"/login", "/signin", "/sign-in", "/auth", "/authenticate",
	"/sso", "/oauth", "/account/login", "/user/login",
}

var metaRefreshPattern = regexp.MustCompile(`(?i)<meta[^>]+http-equiv=["']?refresh["']?[^>]+content=["']?\d+;\s*url=([^"'>\s]+)`)

func compilePatterns(exprs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile("(?i)"+e))
	}
	return out
}

// DetectCaptcha reports whether html contains a captcha/challenge signature,
// along with which patterns matched.
func DetectCaptcha(html string) (bool, []string) {
	return matchAny(html, captchaPatterns)
}

// DetectWAF reports whether html contains a WAF-block signature.
func DetectWAF(html string) (bool, []string) {
	return matchAny(html, wafPatterns)
}

func matchAny(html string, patterns []*regexp.Regexp) (bool, []string) {
	if html == "" {
		return false, nil
	}
	var matched []string
	for _, re := range patterns {
		if re.MatchString(html) {
			matched = append(matched, re.String())
		}
	}
	return len(matched) > 0, matched
}

// DetectLoginRedirect reports whether a URL or redirect Location header
// points at a login endpoint. locationHeader takes priority when non-empty.
func DetectLoginRedirect(url, locationHeader string) bool {
	check := locationHeader
	if check == "" {
		check = url
	}
	if check == "" {
		return false
	}
	check = strings.ToLower(check)
	for _, p := range loginRedirectPatterns {
		if strings.Contains(check, p) {
			return true
		}
	}
	return false
}

// DetectMetaRefreshLogin reports whether html contains a meta-refresh
// redirect to a login endpoint.
func DetectMetaRefreshLogin(html string) bool {
	if html == "" {
		return false
	}
	m := metaRefreshPattern.FindStringSubmatch(html)
	if m == nil {
		return false
	}
	return DetectLoginRedirect(m[1], "")
}

// Tracker accumulates blocking evidence over the lifetime of a single job's
// crawl. It is not safe for concurrent use by multiple goroutines; callers
// fetching with a worker pool must serialize calls to Record.
type Tracker struct {
	statusCodes    map[int]int
	totalResponses int
	captchaHits    int
	wafHits        int
	loginRedirects int
	textHashes     map[string]int
	sampleURLs     []string
	signatureHits  []string
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		statusCodes: make(map[int]int),
		textHashes:  make(map[string]int),
	}
}

// Record folds one fetch response into the tracker's running evidence.
func (t *Tracker) Record(url string, statusCode int, html, locationHeader, textHash string) {
	t.totalResponses++
	t.statusCodes[statusCode]++

	if html != "" {
		if isCaptcha, patterns := DetectCaptcha(html); isCaptcha {
			t.captchaHits++
			t.signatureHits = append(t.signatureHits, patterns...)
			t.addSample(url)
		}
		if isWAF, patterns := DetectWAF(html); isWAF {
			t.wafHits++
			t.signatureHits = append(t.signatureHits, patterns...)
		}
		if DetectMetaRefreshLogin(html) {
			t.loginRedirects++
		}
	}

	if locationHeader != "" && DetectLoginRedirect("", locationHeader) {
		t.loginRedirects++
		t.addSample(url)
	}

	if textHash != "" {
		t.textHashes[textHash]++
	}
}

func (t *Tracker) addSample(url string) {
	if len(t.sampleURLs) < 5 {
		t.sampleURLs = append(t.sampleURLs, url)
	}
}

// StatusCodeRatio returns the fraction of recorded responses with the given
// status code.
func (t *Tracker) StatusCodeRatio(statusCode int) float64 {
	if t.totalResponses == 0 {
		return 0
	}
	return float64(t.statusCodes[statusCode]) / float64(t.totalResponses)
}

// DuplicateRatio returns 1 - (unique text hashes / total recorded hashes).
func (t *Tracker) DuplicateRatio() float64 {
	if len(t.textHashes) == 0 {
		return 0
	}
	total := 0
	for _, n := range t.textHashes {
		total += n
	}
	if total == 0 {
		return 0
	}
	return 1.0 - float64(len(t.textHashes))/float64(total)
}

// TotalResponses returns the number of responses recorded so far.
func (t *Tracker) TotalResponses() int {
	return t.totalResponses
}

// Evidence snapshots the tracker's running state, capping sample URLs at 5
// and signature hits at 10 deduplicated entries.
func (t *Tracker) Evidence() Evidence {
	return Evidence{
		TotalResponses: t.totalResponses,
		StatusCodes:    copyIntMap(t.statusCodes),
		CaptchaHits:    t.captchaHits,
		WAFHits:        t.wafHits,
		LoginRedirects: t.loginRedirects,
		DuplicateRatio: round3(t.DuplicateRatio()),
		SampleURLs:     capStrings(t.sampleURLs, 5),
		SignatureHits:  dedupCap(t.signatureHits, 10),
	}
}

func copyIntMap(m map[int]int) map[int]int {
	out := make(map[int]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func capStrings(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func dedupCap(s []string, n int) []string {
	seen := make(map[string]struct{}, len(s))
	out := make([]string, 0, n)
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
		if len(out) >= n {
			break
		}
	}
	return out
}

func round3(f float64) float64 {
	return float64(int(f*1000+0.5)) / 1000
}

// Evidence is the immutable snapshot reported to the job record and to the
// finalizer's summary.
type Evidence struct {
	TotalResponses int
	StatusCodes    map[int]int
	CaptchaHits    int
	WAFHits        int
	LoginRedirects int
	DuplicateRatio float64
	SampleURLs     []string
	SignatureHits  []string
}
