package finalize

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/crawlservice/internal/models"
)

const kbManifestFormatVersion = "1.0"

var nonFilenameChars = regexp.MustCompile(`[^\w\-/]`)
var repeatedUnderscores = regexp.MustCompile(`_+`)

// urlToFilename derives a readable markdown filename from everything after a
// URL's host: an empty path becomes "index", characters other than word
// characters, '-' and '/' become underscores, '/' becomes '_', and runs of
// underscores collapse to one. Distinct URLs can map to the same filename
// (any all-punctuation path yields "_.md"); the page-index name is used only
// if nothing is left, which the "index" default prevents.
func urlToFilename(rawURL string, index int) string {
	path := rawURL
	if idx := strings.Index(rawURL, "://"); idx >= 0 {
		path = rawURL[idx+3:]
		if slash := strings.Index(path, "/"); slash >= 0 {
			path = path[slash+1:]
		} else {
			path = ""
		}
	}
	path = strings.Trim(path, "/")
	if path == "" {
		path = "index"
	}
	path = nonFilenameChars.ReplaceAllString(path, "_")
	path = strings.ReplaceAll(path, "/", "_")
	path = repeatedUnderscores.ReplaceAllString(path, "_")
	if len(path) > 80 {
		path = path[:80]
	}
	if path == "" {
		path = fmt.Sprintf("page_%04d", index)
	}
	return path + ".md"
}

// GenerateKB reads finalPath (the deduplicated page file) and writes
// kbDir/pages/*.md plus kbDir/manifest.json.
func GenerateKB(kbDir, finalPath, jobID string, now time.Time) (int, error) {
	pagesDir := filepath.Join(kbDir, "pages")
	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		return 0, fmt.Errorf("create kb pages directory: %w", err)
	}

	f, err := os.Open(finalPath)
	if err != nil {
		if err := writeManifest(kbDir, jobID, nil, now); err != nil {
			return 0, err
		}
		return 0, nil
	}
	defer f.Close()

	var manifestPages []models.KBManifestPage
	count := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record models.RawPageRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		count++

		filename := urlToFilename(record.URL, count)
		if err := writeMarkdownFile(filepath.Join(pagesDir, filename), &record); err != nil {
			return count, fmt.Errorf("write markdown file for %s: %w", record.URL, err)
		}

		text := record.Markdown
		if text == "" {
			text = record.Text
		}
		manifestPages = append(manifestPages, models.KBManifestPage{
			ID:           fmt.Sprintf("page_%04d", count),
			Filename:     "pages/" + filename,
			SourceURL:    record.URL,
			Title:        record.Title,
			Breadcrumbs:  record.Breadcrumbs,
			Sections:     record.Sections,
			LastModified: record.LastModified,
			FetchedAt:    record.FetchedAt,
			TextLength:   len(text),
		})
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("read final page file: %w", err)
	}

	if err := writeManifest(kbDir, jobID, manifestPages, now); err != nil {
		return count, err
	}
	return count, nil
}

func writeMarkdownFile(path string, record *models.RawPageRecord) error {
	title := record.Title
	if title == "" {
		title = "Untitled"
	}
	markdown := record.Markdown
	if markdown == "" {
		markdown = record.Text
	}

	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "source_url: %q\n", record.URL)
	fmt.Fprintf(&b, "title: %q\n", title)

	if len(record.Breadcrumbs) > 0 {
		fmt.Fprintf(&b, "breadcrumbs: %q\n", strings.Join(record.Breadcrumbs, " > "))
	}
	if len(record.Sections) > 0 {
		b.WriteString("sections:\n")
		sections := record.Sections
		if len(sections) > 20 {
			sections = sections[:20]
		}
		for _, s := range sections {
			fmt.Fprintf(&b, "  - title: %q\n", s.Title)
			fmt.Fprintf(&b, "    anchor: %q\n", s.Anchor)
			fmt.Fprintf(&b, "    level: %d\n", s.Level)
		}
	}
	if record.LastModified != nil {
		fmt.Fprintf(&b, "last_modified: %q\n", record.LastModified.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "fetched_at: %q\n", record.FetchedAt.Format(time.RFC3339))
	b.WriteString("---\n\n")

	if !strings.HasPrefix(strings.TrimSpace(markdown), "#") {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}
	b.WriteString(markdown)
	b.WriteString("\n\n---\n")
	fmt.Fprintf(&b, "*Source: [%s](%s)*", record.URL, record.URL)

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeManifest(kbDir, jobID string, pages []models.KBManifestPage, now time.Time) error {
	if err := os.MkdirAll(kbDir, 0o755); err != nil {
		return fmt.Errorf("create kb directory: %w", err)
	}
	manifest := models.KBManifest{
		JobID:         jobID,
		GeneratedAt:   now,
		FormatVersion: kbManifestFormatVersion,
		TotalPages:    len(pages),
		Pages:         pages,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal kb manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(kbDir, "manifest.json"), data, 0o644)
}
