// Package urlcanon canonicalizes URLs and decides whether a discovered link
// is in scope for a crawl job. The normalization rules, tracking-parameter
// set, and deny-pattern lists are the closed lists a documentation crawler
// needs to avoid inflating its page budget on non-content URLs.
package urlcanon

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// TrackingParams is the closed set of query keys stripped during
// canonicalization because they vary per-visitor without changing content.
var TrackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {}, "utm_content": {}, "utm_id": {},
	"gclid": {}, "gclsrc": {}, "dclid": {},
	"fbclid": {}, "fb_action_ids": {}, "fb_action_types": {}, "fb_source": {},
	"msclkid": {}, "twclid": {}, "li_fat_id": {}, "igshid": {}, "mc_cid": {}, "mc_eid": {},
	"ref": {}, "ref_src": {}, "ref_url": {}, "referrer": {}, "source": {},
	"_ga": {}, "_gl": {}, "_hsenc": {}, "_hsmi": {}, "hsCtaTracking": {},
	"sessionid": {}, "clickid": {}, "affiliate_id": {}, "partner_id": {},
	"return_to": {}, "locale": {}, "locale_id": {},
}

// denyPathPatterns matches path segments that indicate non-content endpoints
// (auth, search, community, print/export, tag indexes).
var denyPathPatterns = compilePatterns([]string{
	`(?i)/login`, `(?i)/signin`, `(?i)/sign-in`, `(?i)/signup`, `(?i)/sign-up`,
	`(?i)/logout`, `(?i)/auth`, `(?i)/account`, `(?i)/register`,
	`(?i)/search`, `(?i)/filter`,
	`(?i)/comments?`, `(?i)/forum`, `(?i)/community`, `(?i)/discuss`,
	`(?i)/subscribe`, `(?i)/contact`, `(?i)/vote`,
	`(?i)/print`, `(?i)/export`,
	`(?i)/tags?/`, `(?i)/label/`,
	`(?i)/cart`, `(?i)/checkout`,
})

// denyExternalPatterns matches whole URLs pointing at share/social/deep-link
// destinations rather than crawlable content.
var denyExternalPatterns = compilePatterns([]string{
	`(?i)facebook\.com/sharer`, `(?i)twitter\.com/intent`, `(?i)x\.com/intent`,
	`(?i)linkedin\.com/share`, `(?i)pinterest\.com/pin`, `(?i)reddit\.com/submit`,
	`(?i)wa\.me/`, `(?i)t\.me/`,
	`(?i)^mailto:`, `(?i)^tel:`,
	`(?i)docs\.google\.com/forms`, `(?i)calendly\.com`, `(?i)typeform\.com`,
})

// ExcludedExtensions are file extensions that never yield crawlable content.
var ExcludedExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".ico": {}, ".webp": {}, ".bmp": {},
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".rar": {}, ".7z": {},
	".css": {}, ".js": {}, ".json": {}, ".xml": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {}, ".otf": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {}, ".webm": {},
	".exe": {}, ".dmg": {}, ".pkg": {}, ".deb": {}, ".rpm": {},
}

func compilePatterns(exprs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

// Canonicalize normalizes rawURL: lowercases scheme/host, strips the default
// port, collapses repeated slashes, maps index.html/index.htm to the
// directory form, strips a non-root trailing slash, drops the fragment, and
// removes tracking query parameters. Canonicalize is idempotent:
// Canonicalize(Canonicalize(u)) == Canonicalize(u).
func Canonicalize(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = stripDefaultPort(u.Scheme, u.Host)
	u.Fragment = ""

	u.Path = collapseSlashes(u.Path)
	u.Path = stripIndexSuffix(u.Path)
	if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	u.RawQuery = stripTrackingParams(u.RawQuery)

	return u.String(), nil
}

func stripDefaultPort(scheme, host string) string {
	if strings.HasSuffix(host, ":80") && scheme == "http" {
		return strings.TrimSuffix(host, ":80")
	}
	if strings.HasSuffix(host, ":443") && scheme == "https" {
		return strings.TrimSuffix(host, ":443")
	}
	return host
}

func collapseSlashes(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

func stripIndexSuffix(p string) string {
	base := path.Base(p)
	if base == "index.html" || base == "index.htm" {
		dir := path.Dir(p)
		if dir == "." {
			return "/"
		}
		if !strings.HasSuffix(dir, "/") {
			dir += "/"
		}
		return dir
	}
	return p
}

// stripTrackingParams removes TrackingParams keys (matched case-insensitively)
// from a raw query string, keeping the values of the remaining keys; those
// keys are re-encoded sorted by key.
func stripTrackingParams(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return rawQuery
	}
	kept := url.Values{}
	for k, vs := range values {
		if _, tracked := TrackingParams[strings.ToLower(k)]; tracked {
			continue
		}
		kept[k] = vs
	}
	return kept.Encode()
}

// ExtractHostname returns the lowercased hostname of rawURL, or "" on error.
func ExtractHostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// IsSameHost reports whether rawURL's host equals allowedHost exactly
// (no subdomain inclusion).
func IsSameHost(rawURL, allowedHost string) bool {
	return ExtractHostname(rawURL) == strings.ToLower(allowedHost)
}

// HasExcludedExtension reports whether the URL's path ends in a non-content
// file extension.
func HasExcludedExtension(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	_, excluded := ExcludedExtensions[ext]
	return excluded
}

// MatchesIgnorePrefix reports whether the URL's path begins with one of the
// job's configured ignore prefixes (each normalized to a leading "/").
func MatchesIgnorePrefix(rawURL string, ignorePrefixes []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := u.Path
	for _, prefix := range ignorePrefixes {
		prefix = normalizePrefix(prefix)
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func normalizePrefix(prefix string) string {
	if prefix == "" {
		return prefix
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

// MatchesDenyPattern reports whether rawURL matches one of the closed
// deny-path or deny-external pattern sets.
func MatchesDenyPattern(rawURL string) bool {
	for _, re := range denyExternalPatterns {
		if re.MatchString(rawURL) {
			return true
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for _, re := range denyPathPatterns {
		if re.MatchString(u.Path) {
			return true
		}
	}
	return false
}

// InScope reports whether rawURL should be crawled for a job whose seed host
// is allowedHost and whose ignore prefixes are ignorePrefixes. InScope is a
// pure function of its arguments: no global or mutable state is consulted.
func InScope(rawURL, allowedHost string, ignorePrefixes []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !IsSameHost(rawURL, allowedHost) {
		return false
	}
	if MatchesIgnorePrefix(rawURL, ignorePrefixes) {
		return false
	}
	if HasExcludedExtension(rawURL) {
		return false
	}
	if MatchesDenyPattern(rawURL) {
		return false
	}
	return true
}
