package steps

import (
	"context"

	"github.com/dshills/chatpipe/chat"
	"github.com/dshills/chatpipe/fetch"
	"github.com/dshills/chatpipe/pipeline"
)

// mapsLocation returns the first Google Maps link of c that carries coordinates.
func mapsLocation(c Candidate) (*Location, bool) {
	for _, u := range c.URLs {
		if chat.ClassifyURL(u) != chat.URLGoogleMaps {
			continue
		}
		if coords, ok := fetch.ParseMapsURL(u); ok {
			return &Location{Lat: coords.Lat, Lng: coords.Lng, FormattedAddress: coords.PlaceName}, true
		}
	}
	return nil, false
}

func (d Deps) runGeocode(ctx context.Context, sc *pipeline.StepContext) (any, error) {
	return pipeline.CachedWithMarker(ctx, sc, StageGeocodings, func(ctx context.Context) ([]Geocoding, GeocodeStats, error) {
		classified, err := pipeline.Await[[]Classification](ctx, sc, StepClassify)
		if err != nil {
			return nil, GeocodeStats{}, err
		}
		candidates, err := pipeline.Await[[]Candidate](ctx, sc, StepScan)
		if err != nil {
			return nil, GeocodeStats{}, err
		}
		acts := activities(classified)
		byID := candidatesByID(candidates)
		stats := GeocodeStats{Activities: len(acts)}

		// Links with coordinates are resolved locally; the rest go to the
		// geocoder through the pool.
		out := make([]Geocoding, len(acts))
		var queries []int
		for i, a := range acts {
			out[i] = Geocoding{MessageID: a.MessageID, Query: a.Location}
			if loc, ok := mapsLocation(byID[a.MessageID]); ok {
				out[i].Source = SourceMapsURL
				out[i].Location = loc
				stats.FromURL++
				continue
			}
			if a.Location == "" {
				stats.Skipped++
				continue
			}
			queries = append(queries, i)
		}

		res := pipeline.RunPool(ctx, queries, func(ctx context.Context, i int, _ int) (Location, error) {
			return d.Geocoder.Geocode(ctx, out[i].Query)
		}, pipeline.PoolOptionsFor[int, Location](sc.Pool, StepGeocode))
		if err := ctx.Err(); err != nil {
			return nil, GeocodeStats{}, err
		}

		for j, i := range queries {
			if loc, ok := res.Result(j); ok {
				out[i].Source = SourceGeocoder
				out[i].Location = &loc
				stats.Geocoded++
			}
		}
		for _, te := range res.Errors {
			out[queries[te.Index]].Error = te.Err.Error()
			stats.Failed++
		}
		return out, stats, nil
	})
}

func geocodingsByID(gs []Geocoding) map[int]*Location {
	out := make(map[int]*Location, len(gs))
	for _, g := range gs {
		if g.Location != nil {
			out[g.MessageID] = g.Location
		}
	}
	return out
}
