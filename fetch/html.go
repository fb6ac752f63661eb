package fetch

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Metadata is what ExtractMetadata finds in an HTML document.
type Metadata struct {
	Title       string
	Description string
	Image       string
	SiteName    string
}

// ExtractMetadata tokenizes an HTML document and collects its title,
// description, preview image and site name.
//
// <title> and <meta name="description"> win over their Open Graph
// counterparts; og:title and og:description are fallbacks. Tokenizing stops
// at <body> because everything of interest lives in <head>.
func ExtractMetadata(r io.Reader) (Metadata, error) {
	var (
		meta    Metadata
		ogTitle string
		ogDesc  string
		inTitle bool
		title   strings.Builder
	)

	z := html.NewTokenizer(r)
loop:
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return Metadata{}, err
			}
			break loop
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Body:
				break loop
			case atom.Title:
				inTitle = true
			case atom.Meta:
				key, content := metaPair(tok)
				switch key {
				case "description":
					if meta.Description == "" {
						meta.Description = content
					}
				case "og:title":
					ogTitle = content
				case "og:description":
					ogDesc = content
				case "og:image", "og:image:url", "twitter:image":
					if meta.Image == "" {
						meta.Image = content
					}
				case "og:site_name":
					meta.SiteName = content
				}
			}
		case html.TextToken:
			if inTitle {
				title.Write(z.Text())
			}
		case html.EndTagToken:
			if tok := z.Token(); tok.DataAtom == atom.Title {
				inTitle = false
			}
		}
	}

	meta.Title = collapse(title.String())
	if meta.Title == "" {
		meta.Title = ogTitle
	}
	if meta.Description == "" {
		meta.Description = ogDesc
	}
	return meta, nil
}

// metaPair returns the lower-cased name/property of a <meta> tag and its content.
func metaPair(tok html.Token) (string, string) {
	var key, content string
	for _, a := range tok.Attr {
		switch strings.ToLower(a.Key) {
		case "name", "property":
			if key == "" {
				key = strings.ToLower(strings.TrimSpace(a.Val))
			}
		case "content":
			content = collapse(a.Val)
		}
	}
	return key, content
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resolveRef makes ref absolute against base. Unparseable refs are returned as-is.
func resolveRef(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}
