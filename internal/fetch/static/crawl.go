package static

import (
	"context"
	"time"

	"github.com/ternarybob/crawlservice/internal/models"
	"github.com/ternarybob/crawlservice/internal/pipeline"
	"github.com/ternarybob/crawlservice/internal/urlcanon"
)

// frontierEntry is one pending crawl target.
type frontierEntry struct {
	url   string
	depth int
}

// Result summarizes one static crawl run.
type Result struct {
	PagesFetched int
	StoppedEarly bool // true once the pipeline's page budget was reached
}

// Run drives a breadth-first crawl of job starting at job.SeedURL, staying
// within job.AllowedHost and job.IgnorePathPrefixes, pushing every fetched
// page through pipe, and stopping as soon as the page budget is reached, the
// frontier runs dry, or ctx is cancelled (job timeout or a cancel request).
func (f *Fetcher) Run(ctx context.Context, job *models.Job, pipe *pipeline.Pipeline) (Result, error) {
	seed, err := urlcanon.Canonicalize(job.SeedURL)
	if err != nil {
		return Result{}, err
	}

	visited := map[string]bool{seed: true}
	queue := []frontierEntry{{url: seed, depth: 0}}

	var result Result

	for len(queue) > 0 {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if result.PagesFetched >= job.MaxPages {
			break
		}

		entry := queue[0]
		queue = queue[1:]

		page := f.ScrapeURL(ctx, entry.url)
		fetchedAt := time.Now()

		fr := pipeline.FetchResult{
			URL:           entry.url,
			CanonicalURL:  entry.url,
			StatusCode:    page.StatusCode,
			ContentType:   page.ContentType,
			HTML:          page.HTML,
			LocationHeader: page.LocationHeader,
			Depth:         entry.depth,
			OutlinksCount: len(page.Links),
			FetchedAt:     fetchedAt,
		}
		if page.Err != nil {
			fr.Error = page.Err.Error()
		}

		_, stopCrawl, procErr := pipe.Process(fr)
		result.PagesFetched++
		if procErr != nil {
			return result, procErr
		}
		if stopCrawl {
			result.StoppedEarly = true
			break
		}
		if f.config.DepthLimit > 0 && entry.depth >= f.config.DepthLimit {
			continue
		}

		for _, link := range page.Links {
			canon, err := urlcanon.Canonicalize(link)
			if err != nil {
				continue
			}
			if visited[canon] {
				continue
			}
			if !urlcanon.InScope(canon, job.AllowedHost, job.IgnorePathPrefixes) {
				continue
			}
			visited[canon] = true
			queue = append(queue, frontierEntry{url: canon, depth: entry.depth + 1})
		}
	}

	return result, nil
}
