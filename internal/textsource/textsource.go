// Package textsource decides which text a prompt slot sends: inline text,
// the last loaded external value, or a fresh reload from a URL or local file.
package textsource

import (
	"context"
	"errors"
	"strings"

	"llmtester/internal/fetch"
)

var (
	ErrNoHandle         = errors.New("no file selected for this source, pick the file again")
	ErrPermissionDenied = errors.New("file read permission denied, pick the file again")
	ErrReadFailed       = errors.New("file can no longer be read, pick the file again")
)

type Config struct {
	Enabled         bool
	Path            string
	AutoReload      bool
	FromLocalFile   bool
	LoadedContent   string
	FallbackContent string
}

// Sources are the reload capabilities. Warn receives every degraded reload.
type Sources struct {
	HTTP  func(ctx context.Context, url string) (string, error)
	Local func(ctx context.Context) (string, error)
	Warn  func(err error)
}

type Result struct {
	Text string
	// LoadedContent is the cache value after resolution; Updated is set when
	// it changed.
	LoadedContent string
	Updated       bool
}

// Resolve never fails. Reload errors degrade to the cached or inline text and
// are reported through src.Warn.
func Resolve(ctx context.Context, cfg Config, src Sources) Result {
	cached := Result{Text: cfg.LoadedContent, LoadedContent: cfg.LoadedContent}
	if cached.Text == "" {
		cached.Text = cfg.FallbackContent
	}

	path := strings.TrimSpace(cfg.Path)
	if !cfg.Enabled || path == "" {
		return Result{Text: cfg.FallbackContent, LoadedContent: cfg.LoadedContent}
	}
	if !cfg.AutoReload {
		return cached
	}

	var (
		text string
		err  error
	)
	switch {
	case fetch.IsHTTPURL(path) && src.HTTP != nil:
		text, err = src.HTTP(ctx, path)
	case cfg.FromLocalFile && src.Local != nil:
		text, err = src.Local(ctx)
	default:
		return cached
	}
	if err != nil {
		if src.Warn != nil {
			src.Warn(err)
		}
		return cached
	}
	return Result{Text: text, LoadedContent: text, Updated: text != cfg.LoadedContent}
}

// Preload runs when the toggle or path changes. An http source that is not
// file backed is fetched eagerly; a disabled source drops its cache. The
// returned bool reports whether a held file handle should be released.
func Preload(ctx context.Context, cfg Config, readHTTP func(context.Context, string) (string, error)) (Config, bool, error) {
	if !cfg.Enabled {
		release := cfg.FromLocalFile
		cfg.LoadedContent = ""
		cfg.FromLocalFile = false
		return cfg, release, nil
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" || cfg.FromLocalFile || !fetch.IsHTTPURL(path) || readHTTP == nil {
		return cfg, false, nil
	}
	text, err := readHTTP(ctx, path)
	if err != nil {
		cfg.LoadedContent = ""
		return cfg, false, err
	}
	cfg.LoadedContent = text
	return cfg, false, nil
}
