package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/crawlservice/internal/models"
)

// removableTags are stripped before any extraction attempt: they never
// contribute article text.
var removableTags = "script, style, nav, footer, aside, noscript, form, header"

// primaryContentSelectors mirrors the teacher's main-content heuristic: try
// increasingly generic containers until one yields text.
var primaryContentSelectors = []string{
	"article", "main", "[role='main']", ".content", ".main-content",
	"#content", "#main", ".post-content", ".entry-content",
}

// ExtractionResult is the outcome of running the text-extraction cascade
// against one page's HTML.
type ExtractionResult struct {
	Text     string
	Title    string
	Mode     models.ExtractionMode
	TextHash string
}

// ExtractText runs the extraction cascade: a primary content-container
// selector pass, a secondary looser pass over <body>, and a plain-text
// fallback. The first result whose stripped length reaches minChars wins.
func ExtractText(html string, minChars int) ExtractionResult {
	return extractText(html, minChars, true)
}

// ExtractBodyOnly skips the primary content-selector pass and starts the
// cascade from the <body> tier. Used for the quality-gate retry: re-running
// the full cascade on the same HTML would just pick the same primary
// selector match again, so trying a genuinely different tier requires
// skipping straight past it.
func ExtractBodyOnly(html string, minChars int) ExtractionResult {
	return extractText(html, minChars, false)
}

func extractText(html string, minChars int, tryPrimary bool) ExtractionResult {
	if html == "" {
		return ExtractionResult{Mode: models.ExtractionModeFallback, TextHash: computeTextHash("")}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ExtractionResult{Mode: models.ExtractionModeFallback, TextHash: computeTextHash("")}
	}

	doc.Find(removableTags).Remove()
	title := extractTitle(doc)

	if tryPrimary {
		if text := extractFromSelectors(doc, primaryContentSelectors); len(strings.TrimSpace(text)) >= minChars {
			return ExtractionResult{Text: text, Title: title, Mode: models.ExtractionModePrimary, TextHash: computeTextHash(text)}
		}
	}

	if text := strings.TrimSpace(doc.Find("body").Text()); len(text) >= minChars {
		return ExtractionResult{Text: collapseWhitespace(text), Title: title, Mode: models.ExtractionModeSecondary, TextHash: computeTextHash(text)}
	}

	text := collapseWhitespace(strings.TrimSpace(doc.Text()))
	return ExtractionResult{Text: text, Title: title, Mode: models.ExtractionModeFallback, TextHash: computeTextHash(text)}
}

func extractFromSelectors(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		text := collapseWhitespace(strings.TrimSpace(node.Text()))
		if text != "" {
			return text
		}
	}
	return ""
}

func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if ogTitle, exists := doc.Find("meta[property='og:title']").Attr("content"); exists && strings.TrimSpace(ogTitle) != "" {
		return strings.TrimSpace(ogTitle)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return ""
}

var whitespaceRun = regexp.MustCompile(`[ \t]+`)
var blankLineRun = regexp.MustCompile(`\n{3,}`)

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = whitespaceRun.ReplaceAllString(strings.TrimRight(l, " \t"), " ")
	}
	joined := strings.Join(lines, "\n")
	return blankLineRun.ReplaceAllString(joined, "\n\n")
}

// computeTextHash returns "sha256:<hex>" of the lowercased,
// whitespace-collapsed-to-single-space normalization of text.
func computeTextHash(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return "sha256:" + hex.EncodeToString(sum[:])
}
