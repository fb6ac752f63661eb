package steps

import (
	"context"
	"sync"

	"github.com/dshills/chatpipe/pipeline"
)

func (d Deps) runFetchImages(ctx context.Context, sc *pipeline.StepContext) (any, error) {
	return pipeline.CachedWithMarker(ctx, sc, StageImages, func(ctx context.Context) ([]ActivityImage, ImageStats, error) {
		var (
			wg         sync.WaitGroup
			classified []Classification
			geocoded   []Geocoding
			scraped    []ScrapeResult

			errClass, errGeo, errScrape error
		)
		// geocode also needs classify; the runner shares the single execution.
		wg.Add(3)
		go func() {
			defer wg.Done()
			classified, errClass = pipeline.Await[[]Classification](ctx, sc, StepClassify)
		}()
		go func() {
			defer wg.Done()
			geocoded, errGeo = pipeline.Await[[]Geocoding](ctx, sc, StepGeocode)
		}()
		go func() {
			defer wg.Done()
			scraped, errScrape = pipeline.Await[[]ScrapeResult](ctx, sc, StepScrape)
		}()
		wg.Wait()
		for _, err := range []error{errClass, errGeo, errScrape} {
			if err != nil {
				return nil, ImageStats{}, err
			}
		}
		candidates, err := pipeline.Await[[]Candidate](ctx, sc, StepScan)
		if err != nil {
			return nil, ImageStats{}, err
		}

		acts := activities(classified)
		locs := geocodingsByID(geocoded)
		pages := pagesByURL(scraped)
		byID := candidatesByID(candidates)
		stats := ImageStats{Activities: len(acts)}

		out := make([]ActivityImage, len(acts))
		var targets []int
		for i, a := range acts {
			out[i] = ActivityImage{MessageID: a.MessageID, Activity: a.Activity, Location: locs[a.MessageID]}
			for _, u := range byID[a.MessageID].URLs {
				if p, ok := pages[u]; ok && p.Page.ImageURL != "" {
					out[i].ImageURL = p.Page.ImageURL
					break
				}
			}
			if out[i].ImageURL == "" {
				stats.NoImage++
				continue
			}
			targets = append(targets, i)
		}

		res := pipeline.RunPool(ctx, targets, func(ctx context.Context, i int, _ int) (ActivityImage, error) {
			img, err := d.ImageFetcher.FetchImage(ctx, out[i].ImageURL)
			if err != nil {
				return ActivityImage{}, err
			}
			a := out[i]
			a.Image = &img
			return a, nil
		}, pipeline.PoolOptionsFor[int, ActivityImage](sc.Pool, StepFetchImages))
		if err := ctx.Err(); err != nil {
			return nil, ImageStats{}, err
		}

		for j, i := range targets {
			if a, ok := res.Result(j); ok {
				out[i] = a
				stats.Fetched++
			}
		}
		for _, te := range res.Errors {
			out[targets[te.Index]].Error = te.Err.Error()
			stats.Failed++
		}
		return out, stats, nil
	})
}
