package headless

import (
	"context"
	"time"

	"github.com/ternarybob/crawlservice/internal/models"
	"github.com/ternarybob/crawlservice/internal/pipeline"
	"github.com/ternarybob/crawlservice/internal/urlcanon"
)

type frontierEntry struct {
	url   string
	depth int
}

// Result summarizes one headless crawl run.
type Result struct {
	PagesFetched int
	StoppedEarly bool
}

// Run drives the same frontier as the static fetcher's Run, but depth-first
// (the most recently discovered URL is fetched next), and renders every page
// through a pooled Chrome tab instead of a bare HTTP client. Used both as the primary strategy for known JS-heavy domains
// and as the static fetcher's fallback.
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

		entry := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		page := f.ScrapeURL(ctx, entry.url)
		fetchedAt := time.Now()

		fr := pipeline.FetchResult{
			URL:            entry.url,
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
