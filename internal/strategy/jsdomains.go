// Package strategy selects a job's fetcher (static vs headless) up front and
// decides, after a static attempt, whether a fallback to the headless
// fetcher is warranted.
package strategy

import (
	"net/url"
	"path"
	"strings"
)

// jsHeavyDomainPatterns is the closed glob list of hosts known to require
// JavaScript rendering — help-desk platforms, documentation SaaS, and common
// SPA-hosting domains.
var jsHeavyDomainPatterns = []string{
	"*.zendesk.com", "*.freshdesk.com", "*.intercom.help", "*.helpscoutdocs.com",
	"*.helpjuice.com", "*.document360.io",
	"*.gitbook.io", "*.readme.io", "*.notion.site", "*.slite.com",
	"*.archbee.io", "*.mintlify.app", "*.docusaurus.io",
	"*.vercel.app", "*.netlify.app", "*.pages.dev",
	"help-center.talenta.co",
}

func matchesPattern(hostname, pattern string) bool {
	switch {
	case strings.HasPrefix(pattern, "*."):
		base := pattern[2:]
		return hostname == base || strings.HasSuffix(hostname, "."+base)
	case strings.HasSuffix(pattern, ".*"):
		base := pattern[:len(pattern)-2]
		return hostname == base || strings.HasPrefix(hostname, base+".")
	case strings.Contains(pattern, "*"):
		ok, _ := path.Match(pattern, hostname)
		return ok
	default:
		return hostname == pattern
	}
}

// IsJSHeavyDomain reports whether rawURL's host matches a known JS-heavy
// domain pattern.
func IsJSHeavyDomain(rawURL string) bool {
	return DetectedReason(rawURL) != ""
}

// DetectedReason returns the matching pattern that classified rawURL as
// JS-heavy, or "" if none matched.
func DetectedReason(rawURL string) string {
	hostname := hostnameOf(rawURL)
	if hostname == "" {
		return ""
	}
	for _, pattern := range jsHeavyDomainPatterns {
		if matchesPattern(hostname, pattern) {
			return "domain_pattern:" + pattern
		}
	}
	return ""
}

func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
