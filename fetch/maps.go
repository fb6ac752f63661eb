package fetch

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Coordinates is a point parsed out of a Google Maps link.
type Coordinates struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	PlaceName string  `json:"place_name,omitempty"`
}

var (
	queryCoords = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?),\s*(-?\d+(?:\.\d+)?)`)
	pathCoords  = regexp.MustCompile(`@(-?\d+(?:\.\d+)?),(-?\d+(?:\.\d+)?)`)
	placeName   = regexp.MustCompile(`/place/([^/@]+)`)
)

// ParseMapsURL extracts coordinates from a Google Maps URL without any
// network access. It understands ?q=lat,lng and /place/Name/@lat,lng links.
// Short links (maps.app.goo.gl) must be resolved first; see Client.Resolve.
func ParseMapsURL(raw string) (Coordinates, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return Coordinates{}, false
	}
	if q := u.Query().Get("q"); q != "" {
		if m := queryCoords.FindStringSubmatch(q); m != nil {
			return coords(m[1], m[2], "")
		}
	}
	path := u.EscapedPath()
	if m := pathCoords.FindStringSubmatch(path); m != nil {
		name := ""
		if p := placeName.FindStringSubmatch(path); p != nil {
			name = strings.ReplaceAll(p[1], "+", " ")
			if unescaped, err := url.PathUnescape(name); err == nil {
				name = unescaped
			}
		}
		return coords(m[1], m[2], name)
	}
	return Coordinates{}, false
}

func coords(lat, lng, name string) (Coordinates, bool) {
	la, err1 := strconv.ParseFloat(lat, 64)
	ln, err2 := strconv.ParseFloat(lng, 64)
	if err1 != nil || err2 != nil || la < -90 || la > 90 || ln < -180 || ln > 180 {
		return Coordinates{}, false
	}
	return Coordinates{Lat: la, Lng: ln, PlaceName: name}, true
}
