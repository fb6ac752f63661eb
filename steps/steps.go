// Package steps defines the chat-to-activities pipeline on top of the
// pipeline engine.
//
// The graph is:
//
//	parse -> scan -> scrape
//	           \---> classify -> geocode
//	                     \          \
//	                      +----------+--> fetchImages (also reads scrape)
//
// parse and scan are built in. The remaining steps call external
// collaborators (an LLM classifier, a geocoding API, a web scraper, an image
// fetcher) through the narrow interfaces in this package, and are registered
// only when the collaborator is supplied.
package steps

import (
	"context"
	"errors"

	"github.com/dshills/chatpipe/fetch"
	"github.com/dshills/chatpipe/pipeline"
)

// Step names.
const (
	StepParse       = "parse"
	StepScan        = "scan"
	StepScrape      = "scrape"
	StepClassify    = "classify"
	StepGeocode     = "geocode"
	StepFetchImages = "fetchImages"
)

// Stage names. Bulk stages are guarded by store.MarkerName(stage).
const (
	StageMessages        = "messages"
	StageScan            = "scan"
	StageScrapes         = "scrapes"
	StageClassifications = "classifications"
	StageGeocodings      = "geocodings"
	StageImages          = "images"
)

// MarkedStages are the bulk stages written with a completion marker. Pass
// them to store.WithMarkedStages so HasStage reports a stage without its
// marker as absent.
var MarkedStages = []string{StageScan, StageScrapes, StageClassifications, StageGeocodings, StageImages}

// DefaultBatchSize is the number of candidates sent to the classifier per call.
const DefaultBatchSize = 20

// DefaultContextWindow is the number of messages on each side of a candidate
// sent to the classifier with it.
const DefaultContextWindow = 2

// Classifier decides which candidates are suggestions of things to do.
// It must return one Classification per input, in any order.
type Classifier interface {
	Classify(ctx context.Context, batch []ClassifyInput) ([]Classification, error)
}

// Geocoder turns a free-text place into coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (Location, error)
}

// Scraper fetches page metadata for a URL. *fetch.Client implements it.
type Scraper interface {
	Scrape(ctx context.Context, url string) (fetch.Page, error)
}

// ImageFetcher downloads a preview image. *fetch.Client implements it.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url string) (fetch.Image, error)
}

// ErrNoLocation is returned by a Geocoder that found nothing for a query.
var ErrNoLocation = errors.New("no location found")

// Deps carries the collaborators for the optional steps.
type Deps struct {
	Classifier   Classifier
	Geocoder     Geocoder
	Scraper      Scraper
	ImageFetcher ImageFetcher

	// BatchSize overrides DefaultBatchSize when positive.
	BatchSize int

	// ContextWindow is the number of neighbouring messages on each side
	// handed to the classifier with a candidate. Zero uses DefaultContextWindow.
	ContextWindow int
}

func (d Deps) batchSize() int {
	if d.BatchSize > 0 {
		return d.BatchSize
	}
	return DefaultBatchSize
}

func (d Deps) contextWindow() int {
	if d.ContextWindow > 0 {
		return d.ContextWindow
	}
	return DefaultContextWindow
}

// Register adds every step whose collaborators are present to r.
//
//	parse, scan          always
//	scrape               Scraper
//	classify             Classifier
//	geocode              Classifier, Geocoder
//	fetchImages          Classifier, Geocoder, Scraper, ImageFetcher
func Register(r *pipeline.Runner, d Deps) error {
	defs := []pipeline.Step{
		{Name: StepParse, Run: runParse},
		{Name: StepScan, Deps: []string{StepParse}, Run: runScan},
	}
	if d.Scraper != nil {
		defs = append(defs, pipeline.Step{Name: StepScrape, Deps: []string{StepScan}, Run: d.runScrape})
	}
	if d.Classifier != nil {
		defs = append(defs, pipeline.Step{Name: StepClassify, Deps: []string{StepParse, StepScan}, Run: d.runClassify})
		if d.Geocoder != nil {
			defs = append(defs, pipeline.Step{Name: StepGeocode, Deps: []string{StepScan, StepClassify}, Run: d.runGeocode})
			if d.Scraper != nil && d.ImageFetcher != nil {
				defs = append(defs, pipeline.Step{
					Name: StepFetchImages,
					Deps: []string{StepClassify, StepGeocode, StepScrape},
					Run:  d.runFetchImages,
				})
			}
		}
	}

	for _, s := range defs {
		if err := r.Register(s); err != nil {
			return err
		}
	}
	return r.Validate()
}
