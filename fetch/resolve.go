package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxImage caps the size of a downloaded image.
const maxImage = 10 << 20

// Image describes a downloaded preview image.
type Image struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Resolve follows redirects from a short link and returns the final URL.
func (c *Client) Resolve(ctx context.Context, url string) (string, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp.Request.URL.String(), nil
}

// FetchImage downloads url and verifies it is an image.
func (c *Client) FetchImage(ctx context.Context, url string) (Image, error) {
	resp, err := c.get(ctx, url)
	if err != nil {
		return Image{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusBadRequest {
		return Image{}, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(strings.ToLower(ct), "image/") {
		return Image{}, fmt.Errorf("fetch %s: not an image (%s)", url, ct)
	}
	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxImage+1))
	if err != nil {
		return Image{}, fmt.Errorf("failed to read image %s: %w", url, err)
	}
	if n > maxImage {
		return Image{}, fmt.Errorf("fetch %s: image exceeds %d bytes", url, maxImage)
	}
	return Image{URL: resp.Request.URL.String(), ContentType: ct, Size: int(n)}, nil
}
