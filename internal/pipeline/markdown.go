package pipeline

import (
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/crawlservice/internal/models"
)

var headingSelector = "h1, h2, h3, h4, h5, h6"

// ExtractMarkdown converts html to Markdown (via html-to-markdown, with the
// table plugin enabled since documentation pages frequently use tables) and
// returns the page's heading outline as Sections.
func ExtractMarkdown(html, sourceURL string) (string, []models.Section, error) {
	if html == "" {
		return "", nil, nil
	}

	converter := md.NewConverter(sourceURL, true, nil)
	converter.Use(plugin.GitHubFlavored())

	markdown, err := converter.ConvertString(html)
	if err != nil {
		return "", nil, err
	}

	doc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(html))
	if parseErr != nil {
		return markdown, nil, nil
	}

	var sections []models.Section
	doc.Find(headingSelector).Each(func(_ int, s *goquery.Selection) {
		level := int(s.Get(0).Data[1] - '0')
		title := strings.TrimSpace(s.Text())
		if title == "" {
			return
		}
		anchor, _ := s.Attr("id")
		if anchor == "" {
			anchor = slugify(title)
		}
		sections = append(sections, models.Section{Level: level, Title: title, Anchor: anchor})
	})

	return markdown, sections, nil
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(title string) string {
	s := strings.ToLower(title)
	s = nonSlugChars.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ExtractBreadcrumbs reads a common breadcrumb navigation pattern
// (nav[aria-label='breadcrumb'], .breadcrumb, .breadcrumbs) into an ordered
// list of labels.
func ExtractBreadcrumbs(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	selectors := []string{"nav[aria-label='breadcrumb'] a", "nav[aria-label='Breadcrumb'] a", ".breadcrumb a", ".breadcrumbs a"}
	for _, sel := range selectors {
		var crumbs []string
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if text := strings.TrimSpace(s.Text()); text != "" {
				crumbs = append(crumbs, text)
			}
		})
		if len(crumbs) > 0 {
			return crumbs
		}
	}
	return nil
}

// ExtractLastModified reads a last-modified timestamp from the document's
// <meta> tags (article:modified_time, og:updated_time) or a <time> element's
// datetime attribute, in that order of preference.
func ExtractLastModified(html string) *time.Time {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	metaNames := []string{"article:modified_time", "og:updated_time"}
	for _, name := range metaNames {
		if content, exists := doc.Find("meta[property='" + name + "']").Attr("content"); exists {
			if t, ok := parseTimestamp(content); ok {
				return &t
			}
		}
	}

	if datetime, exists := doc.Find("time[datetime]").First().Attr("datetime"); exists {
		if t, ok := parseTimestamp(datetime); ok {
			return &t
		}
	}

	return nil
}

func parseTimestamp(s string) (time.Time, bool) {
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
