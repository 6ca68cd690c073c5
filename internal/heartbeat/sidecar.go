// Package heartbeat runs a per-job heartbeat sidecar that reports progress
// while a crawl is in flight, and a periodic sweep that reclaims jobs whose
// heartbeat or progress has gone stale.
package heartbeat

import (
	"bufio"
	"context"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlservice/internal/common"
	badgerstore "github.com/ternarybob/crawlservice/internal/storage/badger"
)

// Sidecar periodically updates a single job's heartbeat and page count for
// as long as the job's crawl is running. One Sidecar belongs to exactly one
// job; the worker loop starts it alongside the fetch and stops it (via ctx
// cancellation) when the crawl finishes.
type Sidecar struct {
	jobID    string
	rawPath  string
	interval time.Duration
	jobs     *badgerstore.JobStorage
	logger   arbor.ILogger
}

// NewSidecar builds a Sidecar for jobID, counting lines in rawPath (the
// job's pages.raw.jsonl) on each tick.
func NewSidecar(jobID, rawPath string, config common.WorkerConfig, jobs *badgerstore.JobStorage, logger arbor.ILogger) *Sidecar {
	interval := config.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sidecar{jobID: jobID, rawPath: rawPath, interval: interval, jobs: jobs, logger: logger}
}

// Run ticks until ctx is cancelled. Intended to be launched via
// common.SafeGoWithContext so a panic inside one job's sidecar can't take
// down the worker process.
func (s *Sidecar) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.tick(); err != nil {
				s.logger.Error().Err(err).Str("job_id", s.jobID).Msg("heartbeat update failed")
			}
		}
	}
}

func (s *Sidecar) tick() error {
	job, err := s.jobs.GetJob(s.jobID)
	if err != nil {
		return err
	}
	pages := countLines(s.rawPath)
	return s.jobs.UpdateJobProgress(s.jobID, pages, job.PagesExported, job.ErrorsCount, time.Now())
}

func countLines(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		count++
	}
	return count
}
