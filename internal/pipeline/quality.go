package pipeline

import (
	"math"
	"regexp"
	"strings"
)

var boilerplatePatterns = compileBoilerplate([]string{
	`page is loading`, `please wait`, `loading\.\.\.`,
	`halaman ini sedang dimuat`, `enable javascript`, `javascript is required`,
	`please enable cookies`,
	`^search$`, `^menu$`, `^navigation$`, `^skip to (main )?content`,
	`^back to top`, `^table of contents`,
	`share this (article|page)`, `share on (facebook|twitter|linkedin)`,
	`follow us on`, `subscribe to our`,
	`we use cookies`, `cookie (policy|settings|preferences)`,
	`accept (all )?cookies`, `privacy (policy|notice)`,
	`all rights reserved`, `terms (of service|and conditions)`,
	`contact us`, `powered by`,
})

var linkTagPattern = regexp.MustCompile(`(?i)<a\s`)

func compileBoilerplate(exprs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile("(?im)"+e))
	}
	return out
}

// QualityScore is the scored assessment of one extracted page's text.
type QualityScore struct {
	Score   float64
	Passed  bool
	Reasons []string
	Metrics map[string]float64
}

// CountBoilerplateMatches counts how many of the fixed boilerplate phrase
// patterns appear anywhere in text (case-insensitive).
func CountBoilerplateMatches(text string) int {
	textLower := strings.ToLower(text)
	count := 0
	for _, re := range boilerplatePatterns {
		if re.MatchString(textLower) {
			count++
		}
	}
	return count
}

// LinkDensity estimates the fraction of text that is link text, from the
// count of <a tags in html and an average-link-text-length heuristic.
func LinkDensity(text, html string) float64 {
	if len(text) < 10 {
		return 1.0
	}
	linkCount := len(linkTagPattern.FindAllString(html, -1))
	estimatedLinkChars := float64(linkCount * 20)
	return math.Min(1.0, estimatedLinkChars/float64(len(text)))
}

// TextDensity is the ratio of extracted text length to raw HTML length.
func TextDensity(text, html string) float64 {
	if len(html) < 10 {
		return 0
	}
	return math.Min(1.0, float64(len(text))/float64(len(html)))
}

// DetectDuplicateLines counts consecutive-duplicate non-blank lines longer
// than 10 characters, returning (duplicateCount, totalLines).
func DetectDuplicateLines(text string) (int, int) {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) < 2 {
		return 0, len(lines)
	}
	duplicates := 0
	prev := ""
	for _, line := range lines {
		if line == prev && len(line) > 10 {
			duplicates++
		}
		prev = line
	}
	return duplicates, len(lines)
}

// ScoreContent scores extracted text on a 0-1 scale against the fixed
// deduction table: text length, boilerplate density, link density,
// duplicate-line ratio, text/HTML ratio, and title presence.
func ScoreContent(text, html, title string, minChars int) QualityScore {
	var reasons []string
	metrics := make(map[string]float64)
	score := 1.0

	textLen := len(text)
	metrics["text_length"] = float64(textLen)

	if textLen < minChars {
		score -= 0.4
		reasons = append(reasons, "text_too_short")
	} else if textLen < minChars*2 {
		score -= 0.1
	}

	if text != "" {
		boilerplateCount := CountBoilerplateMatches(text)
		boilerplateDensity := float64(boilerplateCount) / math.Max(1, float64(textLen)/500)
		metrics["boilerplate_count"] = float64(boilerplateCount)
		metrics["boilerplate_density"] = round3(boilerplateDensity)

		if boilerplateDensity > 0.3 {
			score -= 0.3
			reasons = append(reasons, "high_boilerplate")
		} else if boilerplateDensity > 0.15 {
			score -= 0.1
		}
	}

	if html != "" {
		linkDensity := LinkDensity(text, html)
		metrics["link_density"] = round3(linkDensity)
		if linkDensity > 0.5 {
			score -= 0.3
			reasons = append(reasons, "high_link_density")
		} else if linkDensity > 0.35 {
			score -= 0.1
		}
	}

	if text != "" {
		dupCount, totalLines := DetectDuplicateLines(text)
		dupRatio := float64(dupCount) / math.Max(1, float64(totalLines))
		metrics["duplicate_lines"] = float64(dupCount)
		metrics["duplicate_ratio"] = round3(dupRatio)
		if dupRatio > 0.2 {
			score -= 0.2
			reasons = append(reasons, "duplicate_lines")
		}
	}

	if html != "" {
		textDensity := TextDensity(text, html)
		metrics["text_density"] = round3(textDensity)
		if textDensity < 0.05 {
			score -= 0.2
			reasons = append(reasons, "low_text_density")
		}
	}

	if len(strings.TrimSpace(title)) < 3 {
		score -= 0.1
		reasons = append(reasons, "missing_title")
	}

	score = math.Max(0, math.Min(1, score))
	passed := score >= 0.5 && textLen >= minChars

	if !passed && len(reasons) == 0 {
		reasons = append(reasons, "score_below_threshold")
	}

	return QualityScore{
		Score:   round3(score),
		Passed:  passed,
		Reasons: reasons,
		Metrics: metrics,
	}
}

// ShouldRetryExtraction reports whether a marginal or specifically-flawed
// score warrants re-running the text-extraction cascade with a different
// extractor, keeping whichever result scores higher.
func ShouldRetryExtraction(q QualityScore) bool {
	if q.Score >= 0.3 && q.Score < 0.5 {
		return true
	}
	for _, r := range q.Reasons {
		if r == "text_too_short" || r == "high_boilerplate" {
			return true
		}
	}
	return false
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
