// Package chat parses WhatsApp chat exports into messages.
//
// Supported input is the iOS export format, one message per line with
// continuation lines for multi-line messages:
//
//	[3/14/24, 7:05:12 PM] Alice: we should try this place
//	https://maps.app.goo.gl/abc
//
// Exports may be the plain _chat.txt or the zip archive WhatsApp produces.
package chat

import (
	"regexp"
	"strings"
	"time"
)

// Message is one chat message.
type Message struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	HasMedia  bool      `json:"has_media,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
	URLs      []string  `json:"urls,omitempty"`
}

// URL categories returned by ClassifyURL.
const (
	URLTikTok      = "tiktok"
	URLYouTube     = "youtube"
	URLInstagram   = "instagram"
	URLGoogleMaps  = "google_maps"
	URLTradeMe     = "trademe"
	URLAirbnb      = "airbnb"
	URLBooking     = "booking"
	URLTripAdvisor = "tripadvisor"
	URLEvent       = "event"
	URLWebsite     = "website"
)

var urlPattern = regexp.MustCompile(`(?i)https?://[^\s<>"')\]]+`)

// ExtractURLs returns the http(s) URLs in text with trailing punctuation removed.
func ExtractURLs(text string) []string {
	var urls []string
	for _, u := range urlPattern.FindAllString(text, -1) {
		u = strings.TrimRight(u, ".,;:!?")
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// ClassifyURL buckets a URL by the site it points to.
func ClassifyURL(url string) string {
	u := strings.ToLower(url)
	switch {
	case strings.Contains(u, "tiktok.com"):
		return URLTikTok
	case strings.Contains(u, "youtube.com"), strings.Contains(u, "youtu.be"):
		return URLYouTube
	case strings.Contains(u, "instagram.com"):
		return URLInstagram
	case strings.Contains(u, "maps.google"), strings.Contains(u, "goo.gl/maps"), strings.Contains(u, "maps.app.goo.gl"):
		return URLGoogleMaps
	case strings.Contains(u, "trademe.co.nz"):
		return URLTradeMe
	case strings.Contains(u, "airbnb"):
		return URLAirbnb
	case strings.Contains(u, "booking.com"):
		return URLBooking
	case strings.Contains(u, "tripadvisor"):
		return URLTripAdvisor
	case strings.Contains(u, "eventfinda"), strings.Contains(u, "ticketmaster"), strings.Contains(u, "eventbrite"):
		return URLEvent
	default:
		return URLWebsite
	}
}
