package images

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"llmtester/internal/fetch"
)

func fixedClock() time.Time { return time.UnixMilli(1700000000000) }

func TestAddCacheBust(t *testing.T) {
	now := fixedClock()
	if got := AddCacheBust("https://x/a.png", now); got != "https://x/a.png?_t=1700000000000" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := AddCacheBust("https://x/a.png?s=1", now); got != "https://x/a.png?s=1&_t=1700000000000" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestFromURLKeepsOriginalURL(t *testing.T) {
	var seenQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer srv.Close()

	b := NewBuilder(fetch.New(srv.Client()), WithClock(fixedClock), WithIDs(func() string { return "img-1" }))
	img, err := b.FromURL(context.Background(), srv.URL+"/cat.png")
	if err != nil {
		t.Fatalf("from url: %v", err)
	}
	if seenQuery != "_t=1700000000000" {
		t.Fatalf("expected cache bust query, got %q", seenQuery)
	}
	if img.URL != srv.URL+"/cat.png" || img.Type != KindURL || img.ID != "img-1" {
		t.Fatalf("unexpected image %+v", img)
	}
	if !strings.HasPrefix(img.Base64, "data:image/png;base64,") {
		t.Fatalf("unexpected data url %q", img.Base64)
	}
}

func TestFromURLRejectsNonImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	_, err := NewBuilder(fetch.New(srv.Client())).FromURL(context.Background(), srv.URL)
	if !errors.Is(err, ErrNotImage) {
		t.Fatalf("expected ErrNotImage, got %v", err)
	}
}

func TestFromFileRejectsNonImage(t *testing.T) {
	b := NewBuilder(fetch.New(nil))
	if _, err := b.FromFile(File{Name: "a.txt", Type: "text/plain", Data: []byte("x")}); !errors.Is(err, ErrNotImage) {
		t.Fatalf("expected ErrNotImage, got %v", err)
	}
	img, err := b.FromFile(File{Name: "a.jpg", Type: "image/jpeg", Data: []byte("jpg")})
	if err != nil {
		t.Fatalf("from file: %v", err)
	}
	if img.Type != KindFile || img.Name != "a.jpg" || img.Base64 != "data:image/jpeg;base64,anBn" {
		t.Fatalf("unexpected image %+v", img)
	}
}

func TestReloadAllKeepsOrderAndFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if strings.HasPrefix(r.URL.Path, "/broken") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/gif")
		_, _ = w.Write([]byte("new"))
	}))
	defer srv.Close()

	in := []MessageImage{
		{ID: "a", Type: KindURL, URL: srv.URL + "/ok.gif", Base64: "data:image/gif;base64,old"},
		{ID: "b", Type: KindFile, Base64: "data:image/png;base64,file", Name: "f.png"},
		{ID: "c", Type: KindURL, URL: srv.URL + "/broken.gif", Base64: "data:image/gif;base64,stale"},
	}
	var failed atomic.Value
	b := NewBuilder(fetch.New(srv.Client()), WithReloadFailure(func(img MessageImage, _ error) {
		failed.Store(img.ID)
	}))
	out := b.ReloadAll(context.Background(), in)

	if len(out) != 3 || out[0].ID != "a" || out[1].ID != "b" || out[2].ID != "c" {
		t.Fatalf("order or ids changed: %+v", out)
	}
	if out[0].Base64 != "data:image/gif;base64,bmV3" {
		t.Fatalf("expected refreshed data, got %q", out[0].Base64)
	}
	if out[1] != in[1] {
		t.Fatalf("file image must pass through")
	}
	if out[2].Base64 != "data:image/gif;base64,stale" {
		t.Fatalf("failed reload must keep previous data, got %q", out[2].Base64)
	}
	if id, _ := failed.Load().(string); id != "c" {
		t.Fatalf("expected failure callback for c, got %q", id)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 fetches, got %d", calls.Load())
	}
	if in[0].Base64 != "data:image/gif;base64,old" {
		t.Fatalf("input slice must not be mutated")
	}
}
