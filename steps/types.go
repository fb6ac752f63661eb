package steps

import (
	"time"

	"github.com/dshills/chatpipe/chat"
	"github.com/dshills/chatpipe/fetch"
)

// Candidate is a message that may suggest something to do.
type Candidate struct {
	MessageID  int       `json:"message_id"`
	Sender     string    `json:"sender"`
	Timestamp  time.Time `json:"timestamp"`
	Content    string    `json:"content"`
	URLs       []string  `json:"urls,omitempty"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
}

// ScanStats is the completion marker of the scan stage.
type ScanStats struct {
	Messages   int `json:"messages"`
	Candidates int `json:"candidates"`
	Regex      int `json:"regex"`
	URL        int `json:"url"`
	Excluded   int `json:"excluded"`
}

// ScrapeResult is the outcome of scraping one URL.
type ScrapeResult struct {
	URL   string      `json:"url"`
	Page  *fetch.Page `json:"page,omitempty"`
	Error string      `json:"error,omitempty"`
}

// ScrapeStats is the completion marker of the scrapes stage.
type ScrapeStats struct {
	URLs      int `json:"urls"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ClassifyInput is one candidate plus the surrounding conversation.
type ClassifyInput struct {
	Candidate Candidate      `json:"candidate"`
	Context   []chat.Message `json:"context,omitempty"`
}

// Classification is the classifier's verdict on one candidate.
type Classification struct {
	MessageID  int     `json:"message_id"`
	IsActivity bool    `json:"is_activity"`
	Activity   string  `json:"activity,omitempty"`
	Location   string  `json:"location,omitempty"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ClassifyStats is the completion marker of the classifications stage.
type ClassifyStats struct {
	Candidates int `json:"candidates"`
	Batches    int `json:"batches"`
	Activities int `json:"activities"`
}

// Location is a geocoded point.
type Location struct {
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	FormattedAddress string  `json:"formatted_address,omitempty"`
}

// Geocode sources.
const (
	SourceMapsURL  = "maps_url"
	SourceGeocoder = "geocoder"
)

// Geocoding is the location found for one activity.
type Geocoding struct {
	MessageID int       `json:"message_id"`
	Query     string    `json:"query,omitempty"`
	Source    string    `json:"source,omitempty"`
	Location  *Location `json:"location,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// GeocodeStats is the completion marker of the geocodings stage.
type GeocodeStats struct {
	Activities int `json:"activities"`
	FromURL    int `json:"from_url"`
	Geocoded   int `json:"geocoded"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// ActivityImage is the preview image chosen for one activity.
type ActivityImage struct {
	MessageID int          `json:"message_id"`
	Activity  string       `json:"activity"`
	Location  *Location    `json:"location,omitempty"`
	ImageURL  string       `json:"image_url"`
	Image     *fetch.Image `json:"image,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// ImageStats is the completion marker of the images stage.
type ImageStats struct {
	Activities int `json:"activities"`
	Fetched    int `json:"fetched"`
	Failed     int `json:"failed"`
	NoImage    int `json:"no_image"`
}
