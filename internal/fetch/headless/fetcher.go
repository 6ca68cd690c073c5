package headless

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/crawlservice/internal/common"
)

// PageResult is the outcome of rendering exactly one URL.
type PageResult struct {
	URL            string
	StatusCode     int
	ContentType    string
	HTML           string
	LocationHeader string
	Links          []string
	Err            error
}

// Fetcher renders pages through a shared Pool, waiting for the page to
// settle (config.SettleDelay) before reading back the rendered DOM, since
// scripted content can still be streaming in immediately after the load
// event fires.
type Fetcher struct {
	pool   *Pool
	config common.HeadlessConfig
}

// NewFetcher builds a Fetcher over an already-initialized Pool.
func NewFetcher(pool *Pool, config common.HeadlessConfig) *Fetcher {
	return &Fetcher{pool: pool, config: config}
}

// ScrapeURL navigates to targetURL in a pooled browser tab, waits for the
// page to settle, and reads back its rendered HTML, status code, and
// outbound links.
func (f *Fetcher) ScrapeURL(ctx context.Context, targetURL string) PageResult {
	result := PageResult{URL: targetURL}

	browserCtx, err := f.pool.Acquire()
	if err != nil {
		result.Err = err
		return result
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()

	timeout := f.config.NavigateTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navCtx, navCancel := context.WithTimeout(tabCtx, timeout)
	defer navCancel()

	var mu sync.Mutex
	chromedp.ListenTarget(navCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		result.StatusCode = int(resp.Response.Status)
		result.ContentType = resp.Response.MIMEType
		if loc, ok := resp.Response.Headers["location"]; ok {
			if s, ok := loc.(string); ok {
				result.LocationHeader = s
			}
		}
	})

	settle := f.config.SettleDelay
	if settle <= 0 {
		settle = time.Second
	}

	var html string
	var rawLinks []interface{}
	err = chromedp.Run(navCtx,
		network.Enable(),
		chromedp.Navigate(targetURL),
		chromedp.Sleep(settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Evaluate(linkExtractionScript, &rawLinks),
	)
	if err != nil {
		result.Err = fmt.Errorf("headless navigate %s: %w", targetURL, err)
		return result
	}

	result.HTML = html
	result.Links = resolveLinks(rawLinks, f.config.MaxLinksPerPage)
	return result
}

// linkExtractionScript collects every anchor href in document order, letting
// the browser's own URL resolution turn relative hrefs into absolute ones.
const linkExtractionScript = `
Array.from(document.querySelectorAll('a[href]')).map(function(a) { return a.href; })
`

func resolveLinks(raw []interface{}, maxLinks int) []string {
	seen := make(map[string]bool)
	var links []string
	for _, v := range raw {
		href, ok := v.(string)
		if !ok || href == "" {
			continue
		}
		if strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			continue
		}
		u, err := url.Parse(href)
		if err != nil {
			continue
		}
		u.Fragment = ""
		normalized := u.String()
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		links = append(links, normalized)
		if maxLinks > 0 && len(links) >= maxLinks {
			break
		}
	}
	return links
}
