package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTextReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cache-Control") != "no-store" {
			t.Errorf("expected no-store cache header")
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("prompt from url"))
	}))
	defer srv.Close()

	got, err := New(srv.Client()).Text(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if got != "prompt from url" {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestGetNon2xxIsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New(srv.Client()).Get(context.Background(), srv.URL)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.Status != http.StatusNotFound || httpErr.Error() != "HTTP 404: Not Found" {
		t.Fatalf("unexpected error %q", httpErr.Error())
	}
}

func TestMediaTypeStripsParams(t *testing.T) {
	r := Resource{ContentType: "Image/PNG; charset=binary"}
	if got := r.MediaType(); got != "image/png" {
		t.Fatalf("unexpected media type %q", got)
	}
}

func TestIsHTTPURL(t *testing.T) {
	cases := map[string]bool{
		"https://x/a.txt": true,
		"http://x":        true,
		"/tmp/a.txt":      false,
		"ftp://x":         false,
	}
	for in, want := range cases {
		if got := IsHTTPURL(in); got != want {
			t.Fatalf("IsHTTPURL(%q)=%v, want %v", in, got, want)
		}
	}
}
