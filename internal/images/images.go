// Package images turns image URLs and local files into message attachments
// carried as base64 data URLs.
package images

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"llmtester/internal/fetch"
)

type Kind string

const (
	KindURL  Kind = "url"
	KindFile Kind = "file"
)

var ErrNotImage = errors.New("not an image")

// MessageImage is one attachment. URL images keep their origin in URL and the
// last fetched snapshot in Base64; file images only carry Base64 and Name.
type MessageImage struct {
	ID       string `json:"id"`
	Type     Kind   `json:"type"`
	URL      string `json:"url,omitempty"`
	Base64   string `json:"base64,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

// File is a picked local file with its declared content type.
type File struct {
	Name string
	Type string
	Data []byte
}

type Builder struct {
	fetcher     *fetch.Client
	now         func() time.Time
	newID       func() string
	concurrency int
	onFailure   func(MessageImage, error)
}

type Option func(*Builder)

func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

func WithIDs(newID func() string) Option {
	return func(b *Builder) { b.newID = newID }
}

// WithReloadFailure is called for every url image ReloadAll could not refresh.
func WithReloadFailure(fn func(MessageImage, error)) Option {
	return func(b *Builder) { b.onFailure = fn }
}

func NewBuilder(fetcher *fetch.Client, opts ...Option) *Builder {
	b := &Builder{
		fetcher:     fetcher,
		now:         time.Now,
		newID:       uuid.NewString,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// FromURL fetches url (cache-busted) and returns a url-typed attachment that
// remembers the original url.
func (b *Builder) FromURL(ctx context.Context, url string) (MessageImage, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return MessageImage{}, fmt.Errorf("image url is empty")
	}
	data, mimeType, err := b.fetchDataURL(ctx, url)
	if err != nil {
		return MessageImage{}, err
	}
	return MessageImage{
		ID:       b.newID(),
		Type:     KindURL,
		URL:      url,
		Base64:   data,
		MimeType: mimeType,
	}, nil
}

func (b *Builder) FromFile(f File) (MessageImage, error) {
	mt := normalizeMediaType(f.Type)
	if !strings.HasPrefix(mt, "image/") {
		return MessageImage{}, fmt.Errorf("%s: %w", f.Name, ErrNotImage)
	}
	return MessageImage{
		ID:       b.newID(),
		Type:     KindFile,
		Base64:   DataURL(mt, f.Data),
		MimeType: mt,
		Name:     f.Name,
	}, nil
}

// FromPath reads a local file, deriving its declared type from the extension
// and falling back to content sniffing.
func (b *Builder) FromPath(path string) (MessageImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return MessageImage{}, fmt.Errorf("read image file: %w", err)
	}
	mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	return b.FromFile(File{Name: filepath.Base(path), Type: mt, Data: data})
}

// ReloadAll refreshes every url image. Failures leave that image unchanged;
// file images pass through. Order and ids are preserved.
func (b *Builder) ReloadAll(ctx context.Context, imgs []MessageImage) []MessageImage {
	if len(imgs) == 0 {
		return imgs
	}
	out := make([]MessageImage, len(imgs))
	copy(out, imgs)

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i := range out {
		img := out[i]
		if img.Type != KindURL || img.URL == "" {
			continue
		}
		g.Go(func() error {
			data, mimeType, err := b.fetchDataURL(ctx, img.URL)
			if err != nil {
				if b.onFailure != nil {
					b.onFailure(img, err)
				}
				return nil
			}
			img.Base64 = data
			img.MimeType = mimeType
			out[i] = img
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (b *Builder) fetchDataURL(ctx context.Context, url string) (string, string, error) {
	res, err := b.fetcher.Get(ctx, AddCacheBust(url, b.now()))
	if err != nil {
		return "", "", fmt.Errorf("fetch image: %w", err)
	}
	mt := res.MediaType()
	if !strings.HasPrefix(mt, "image/") {
		return "", "", fmt.Errorf("url is not an image (%s): %w", res.ContentType, ErrNotImage)
	}
	return DataURL(mt, res.Body), mt, nil
}

// AddCacheBust appends a _t=<unix ms> query parameter.
func AddCacheBust(url string, now time.Time) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if strings.Contains(url, "?") {
		return url + "&_t=" + ms
	}
	return url + "?_t=" + ms
}

func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func normalizeMediaType(v string) string {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return mt
}
