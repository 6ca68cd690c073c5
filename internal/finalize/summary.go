package finalize

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/crawlservice/internal/models"
)

// GenerateSummary builds the content of summary.json by scanning the final
// (deduplicated) page file for status-code and extraction-mode
// distributions, text-length statistics, and the most recent errors.
func GenerateSummary(job *models.Job, stats DedupStats, finalPath string, minTextLength int, now time.Time) *models.Summary {
	statusCodes := make(map[int]int)
	extractionModes := make(map[string]int)
	var textLengths []int
	var errors []string

	if f, err := os.Open(finalPath); err == nil {
		defer f.Close()
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
			statusCodes[record.StatusCode]++
			mode := string(record.ExtractionMode)
			if mode == "" {
				mode = "unknown"
			}
			extractionModes[mode]++
			textLengths = append(textLengths, len(record.Text))
			if record.Error != "" {
				errors = append(errors, record.URL+": "+record.Error)
			}
		}
	}

	successful := 0
	totalLen := 0
	for _, l := range textLengths {
		totalLen += l
		if l >= minTextLength {
			successful++
		}
	}
	var successRate, avgLen float64
	if len(textLengths) > 0 {
		successRate = round3(float64(successful) / float64(len(textLengths)))
		avgLen = round3(float64(totalLen) / float64(len(textLengths)))
	}

	var duration float64
	if job.StartedAt != nil {
		duration = now.Sub(*job.StartedAt).Seconds()
	}

	lastErrors := errors
	if len(lastErrors) > 10 {
		lastErrors = lastErrors[len(lastErrors)-10:]
	}

	return &models.Summary{
		JobID:                  job.ID,
		GeneratedAt:            now,
		DurationSeconds:        round3(duration),
		PagesFetched:           stats.TotalRaw,
		PagesExported:          stats.TotalDeduped,
		StatusCodeDistribution: statusCodes,
		ExtractionModeDist:     extractionModes,
		ExtractionSuccessRate:  successRate,
		AvgTextLength:          avgLen,
		CrawlerStrategy:        job.CrawlerStrategy,
		FallbackOccurred:       job.FallbackRetryCount > 0,
		SiteStatus:             job.SiteStatus,
		BlockEvidence:          job.BlockEvidence,
		RestartCount:           job.RestartCount,
		LastErrors:             lastErrors,
	}
}

// EmptySummary is written when a job finishes (or is cancelled) without
// ever producing a raw page file.
func EmptySummary(job *models.Job, now time.Time) *models.Summary {
	return &models.Summary{
		JobID:           job.ID,
		GeneratedAt:     now,
		CrawlerStrategy: job.CrawlerStrategy,
		FallbackOccurred: job.FallbackRetryCount > 0,
		SiteStatus:      job.SiteStatus,
		BlockEvidence:   job.BlockEvidence,
		RestartCount:    job.RestartCount,
	}
}

func round3(f float64) float64 {
	const scale = 1000.0
	return float64(int(f*scale+0.5)) / scale
}
