// Package fetch performs the plain GET requests used to load external text
// sources and image attachments.
package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

// MaxBodySize caps every body read by the client.
const MaxBodySize = 20 << 20

// HTTPError is returned for non-2xx answers.
type HTTPError struct {
	Status     int
	StatusText string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.StatusText)
}

type Client struct {
	http *http.Client
}

func New(hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{http: hc}
}

// Resource is a fully read GET response.
type Resource struct {
	Body        []byte
	ContentType string
}

// MediaType returns the content type without parameters, lowercased.
func (r Resource) MediaType() string {
	mt, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(r.ContentType, ";", 2)[0]))
	}
	return mt
}

func (c *Client) Get(ctx context.Context, url string) (Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Resource{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.http.Do(req)
	if err != nil {
		return Resource{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return Resource{}, &HTTPError{Status: resp.StatusCode, StatusText: StatusText(resp), URL: url}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		return Resource{}, fmt.Errorf("read response body: %w", err)
	}
	return Resource{Body: b, ContentType: resp.Header.Get("Content-Type")}, nil
}

// Text loads url as text.
func (c *Client) Text(ctx context.Context, url string) (string, error) {
	res, err := c.Get(ctx, url)
	if err != nil {
		return "", err
	}
	return string(res.Body), nil
}

// StatusText is the reason phrase of resp without the numeric code.
func StatusText(resp *http.Response) string {
	code := fmt.Sprintf("%d ", resp.StatusCode)
	if txt := strings.TrimPrefix(resp.Status, code); txt != resp.Status && txt != "" {
		return txt
	}
	return http.StatusText(resp.StatusCode)
}

// IsHTTPURL reports whether path is an absolute http(s) URL.
func IsHTTPURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}
