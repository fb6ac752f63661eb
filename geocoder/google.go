// Package geocoder resolves free-text places to coordinates with the Google
// Geocoding API.
package geocoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dshills/chatpipe/steps"
)

// DefaultEndpoint is the Geocoding API JSON endpoint.
const DefaultEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"

// DefaultTimeout bounds one lookup when the caller's context has no deadline.
const DefaultTimeout = 10 * time.Second

// Bounds is a latitude/longitude rectangle.
type Bounds struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// Contains reports whether the point lies inside b.
func (b Bounds) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// NewZealand covers the main islands.
var NewZealand = Bounds{MinLat: -47.5, MaxLat: -34.0, MinLng: 166.0, MaxLng: 179.0}

// APIError is a non-OK status other than ZERO_RESULTS.
type APIError struct {
	Status  string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "geocode: " + e.Status
	}
	return "geocode: " + e.Status + ": " + e.Message
}

// Google implements steps.Geocoder.
type Google struct {
	client   *http.Client
	endpoint string
	apiKey   string
	timeout  time.Duration
	region   string
	suffix   string
	bounds   *Bounds
}

// Option configures a Google geocoder.
type Option func(*Google)

// WithEndpoint overrides DefaultEndpoint.
func WithEndpoint(endpoint string) Option {
	return func(g *Google) {
		if endpoint != "" {
			g.endpoint = endpoint
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *Google) {
		if hc != nil {
			g.client = hc
		}
	}
}

// WithTimeout sets the per-request timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(g *Google) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithRegion biases results toward a country. name is appended to queries
// that do not mention it, region is the ccTLD sent to the API, and results
// outside bounds are treated as not found.
func WithRegion(name, region string, bounds Bounds) Option {
	return func(g *Google) {
		g.suffix = name
		g.region = region
		g.bounds = &bounds
	}
}

// NewGoogle creates a geocoder using apiKey.
func NewGoogle(apiKey string, opts ...Option) (*Google, error) {
	if apiKey == "" {
		return nil, errors.New("google maps api key is required")
	}
	g := &Google{
		client:   &http.Client{},
		endpoint: DefaultEndpoint,
		apiKey:   apiKey,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type response struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode returns the first result for query. It returns
// steps.ErrNoLocation when the API finds nothing or the match falls outside
// the configured region.
func (g *Google) Geocode(ctx context.Context, query string) (steps.Location, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return steps.Location{}, steps.ErrNoLocation
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.requestURL(query), nil)
	if err != nil {
		return steps.Location{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return steps.Location{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusBadRequest {
		return steps.Location{}, &APIError{Status: resp.Status}
	}

	var body response
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return steps.Location{}, fmt.Errorf("failed to decode geocode response: %w", err)
	}
	switch body.Status {
	case "OK":
	case "ZERO_RESULTS":
		return steps.Location{}, steps.ErrNoLocation
	default:
		return steps.Location{}, &APIError{Status: body.Status, Message: body.ErrorMessage}
	}
	if len(body.Results) == 0 {
		return steps.Location{}, steps.ErrNoLocation
	}

	first := body.Results[0]
	loc := steps.Location{
		Lat:              first.Geometry.Location.Lat,
		Lng:              first.Geometry.Location.Lng,
		FormattedAddress: first.FormattedAddress,
	}
	if g.bounds != nil && !g.bounds.Contains(loc.Lat, loc.Lng) {
		return steps.Location{}, steps.ErrNoLocation
	}
	return loc, nil
}

func (g *Google) requestURL(query string) string {
	address := query
	if g.suffix != "" && !strings.Contains(strings.ToLower(query), strings.ToLower(g.suffix)) {
		address = query + ", " + g.suffix
	}
	params := url.Values{}
	params.Set("address", address)
	params.Set("key", g.apiKey)
	if g.region != "" {
		params.Set("region", g.region)
	}
	return g.endpoint + "?" + params.Encode()
}
