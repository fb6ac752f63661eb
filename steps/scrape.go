package steps

import (
	"context"

	"github.com/dshills/chatpipe/chat"
	"github.com/dshills/chatpipe/pipeline"
)

// scrapeTargets returns the distinct URLs of the candidates, in first-seen order.
// Map links carry coordinates rather than page content and are skipped.
func scrapeTargets(candidates []Candidate) []string {
	seen := make(map[string]bool)
	urls := []string{}
	for _, c := range candidates {
		for _, u := range c.URLs {
			if seen[u] || chat.ClassifyURL(u) == chat.URLGoogleMaps {
				continue
			}
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}

func (d Deps) runScrape(ctx context.Context, sc *pipeline.StepContext) (any, error) {
	return pipeline.CachedWithMarker(ctx, sc, StageScrapes, func(ctx context.Context) ([]ScrapeResult, ScrapeStats, error) {
		candidates, err := pipeline.Await[[]Candidate](ctx, sc, StepScan)
		if err != nil {
			return nil, ScrapeStats{}, err
		}
		urls := scrapeTargets(candidates)

		// A page that cannot be fetched is recorded, not fatal.
		res := pipeline.RunPool(ctx, urls, func(ctx context.Context, url string, _ int) (ScrapeResult, error) {
			page, err := d.Scraper.Scrape(ctx, url)
			if err != nil {
				return ScrapeResult{}, err
			}
			return ScrapeResult{URL: url, Page: &page}, nil
		}, pipeline.PoolOptionsFor[string, ScrapeResult](sc.Pool, StepScrape))
		if err := ctx.Err(); err != nil {
			return nil, ScrapeStats{}, err
		}

		results := make([]ScrapeResult, len(urls))
		for i, url := range urls {
			if r, ok := res.Result(i); ok {
				results[i] = r
				continue
			}
			results[i] = ScrapeResult{URL: url}
		}
		for _, te := range res.Errors {
			results[te.Index].Error = te.Err.Error()
		}

		return results, ScrapeStats{
			URLs:      len(urls),
			Succeeded: res.SuccessCount,
			Failed:    res.ErrorCount,
		}, nil
	})
}

// pagesByURL indexes successful scrape results.
func pagesByURL(results []ScrapeResult) map[string]ScrapeResult {
	out := make(map[string]ScrapeResult, len(results))
	for _, r := range results {
		if r.Page != nil {
			out[r.URL] = r
		}
	}
	return out
}
