// Package finalize turns a job's raw page records into the downloadable
// bundle: a deduplicated page file, a run summary, a knowledge-base
// markdown export, and the artifact registrations that make them
// downloadable.
package finalize

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/crawlservice/internal/models"
	"github.com/ternarybob/crawlservice/internal/urlcanon"
)

// DedupStats summarizes one deduplication pass.
type DedupStats struct {
	TotalRaw         int
	TotalDeduped     int
	DuplicatesRemoved int
}

// DeduplicatePages reads rawPath (pages.raw.jsonl) and writes finalPath
// (pages.jsonl), keeping only the last record seen per canonical URL — a
// page visited twice in one crawl (e.g. reached via two different link
// paths before both were marked visited) keeps its most recent fetch.
func DeduplicatePages(rawPath, finalPath string) (DedupStats, error) {
	in, err := os.Open(rawPath)
	if err != nil {
		return DedupStats{}, fmt.Errorf("open raw page file: %w", err)
	}
	defer in.Close()

	byCanonical := make(map[string]string)
	order := make([]string, 0)
	totalRaw := 0

	scanner := bufio.NewScanner(in)
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
		canonical := record.CanonicalURL
		if canonical == "" {
			canonical, err = urlcanon.Canonicalize(record.URL)
			if err != nil {
				canonical = record.URL
			}
		}
		if _, exists := byCanonical[canonical]; !exists {
			order = append(order, canonical)
		}
		byCanonical[canonical] = line
		totalRaw++
	}
	if err := scanner.Err(); err != nil {
		return DedupStats{}, fmt.Errorf("read raw page file: %w", err)
	}

	out, err := os.Create(finalPath)
	if err != nil {
		return DedupStats{}, fmt.Errorf("create final page file: %w", err)
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	for _, canonical := range order {
		if _, err := w.WriteString(byCanonical[canonical]); err != nil {
			return DedupStats{}, err
		}
		if err := w.WriteByte('\n'); err != nil {
			return DedupStats{}, err
		}
	}
	if err := w.Flush(); err != nil {
		return DedupStats{}, err
	}

	totalDeduped := len(order)
	return DedupStats{
		TotalRaw:          totalRaw,
		TotalDeduped:       totalDeduped,
		DuplicatesRemoved: totalRaw - totalDeduped,
	}, nil
}
