package pipeline

import (
	"regexp"
	"strings"
)

var cleanupPatterns = compileCleanup([]string{
	`^share this (article|page|post)`,
	`^share on (facebook|twitter|linkedin|email)`,
	`^tweet\s*$`, `^like\s*$`, `^pin it\s*$`,
	`^(previous|next) (article|page|post)`,
	`^back to (top|home|list)`,
	`^skip to (main )?content`,
	`^table of contents\s*$`, `^on this page\s*$`,
	`^we use cookies`, `^accept (all )?cookies`, `^cookie (policy|settings)`,
	`^\s*©\s*\d{4}`, `^all rights reserved`,
	`^subscribe to`, `^sign up for`, `^newsletter`,
	`^loading\.{3,}`, `^please wait`,
	`^#{1,6}\s*$`,
	`^[-=_]{5,}$`,
})

func compileCleanup(exprs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile("(?i)"+e))
	}
	return out
}

// CleanContent removes boilerplate lines, collapses consecutive duplicate
// lines, and trims leading/trailing blank lines. It is applied to both the
// extracted plain text and the extracted markdown.
func CleanContent(content string) string {
	if content == "" {
		return content
	}

	lines := strings.Split(content, "\n")
	cleaned := make([]string, 0, len(lines))
	prevStripped := ""
	prevWasBlank := false

	for _, line := range lines {
		stripped := strings.TrimSpace(line)

		if stripped == "" {
			if !prevWasBlank {
				cleaned = append(cleaned, "")
			}
			prevWasBlank = true
			prevStripped = ""
			continue
		}
		prevWasBlank = false

		if matchesAny(stripped) {
			continue
		}

		if stripped == prevStripped && len(stripped) > 20 {
			continue
		}

		cleaned = append(cleaned, line)
		prevStripped = stripped
	}

	for len(cleaned) > 0 && strings.TrimSpace(cleaned[len(cleaned)-1]) == "" {
		cleaned = cleaned[:len(cleaned)-1]
	}
	for len(cleaned) > 0 && strings.TrimSpace(cleaned[0]) == "" {
		cleaned = cleaned[1:]
	}

	return strings.Join(cleaned, "\n")
}

func matchesAny(stripped string) bool {
	for _, re := range cleanupPatterns {
		if re.MatchString(stripped) {
			return true
		}
	}
	return false
}
