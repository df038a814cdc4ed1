package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"llmtester/internal/fetch"
)

// Service translates English text to Chinese.
type Service interface {
	Name() string
	Translate(ctx context.Context, text string) (string, error)
}

var (
	errQuota = errors.New("quota exhausted")
	errEmpty = errors.New("empty translation")
)

const (
	DefaultMyMemoryURL       = "https://api.mymemory.translated.net/get"
	DefaultLibreTranslateURL = "https://libretranslate.de/translate"
	DefaultGoogleURL         = "https://translate.googleapis.com/translate_a/single"
)

func doJSON(client *http.Client, req *http.Request, dst any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return errQuota
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &fetch.HTTPError{Status: resp.StatusCode, StatusText: fetch.StatusText(resp), URL: req.URL.String()}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, fetch.MaxBodySize))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type MyMemory struct {
	URL    string
	Client *http.Client
}

func (m *MyMemory) Name() string { return "mymemory" }

func (m *MyMemory) Translate(ctx context.Context, text string) (string, error) {
	q := url.Values{}
	q.Set("q", text)
	q.Set("langpair", "en|zh-CN")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	var out struct {
		ResponseStatus any `json:"responseStatus"`
		ResponseData   struct {
			TranslatedText string `json:"translatedText"`
		} `json:"responseData"`
	}
	if err := doJSON(m.Client, req, &out); err != nil {
		return "", err
	}
	if status, ok := out.ResponseStatus.(float64); ok && status == http.StatusTooManyRequests {
		return "", errQuota
	}
	translated := out.ResponseData.TranslatedText
	if strings.Contains(translated, "MYMEMORY WARNING") {
		return "", errQuota
	}
	if translated == "" {
		return "", errEmpty
	}
	return translated, nil
}

type LibreTranslate struct {
	URL    string
	Client *http.Client
}

func (l *LibreTranslate) Name() string { return "libretranslate" }

func (l *LibreTranslate) Translate(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"q":      text,
		"source": "en",
		"target": "zh",
		"format": "text",
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	var out struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := doJSON(l.Client, req, &out); err != nil {
		return "", err
	}
	if out.TranslatedText == "" {
		return "", errEmpty
	}
	return out.TranslatedText, nil
}

type Google struct {
	URL    string
	Client *http.Client
}

func (g *Google) Name() string { return "google" }

func (g *Google) Translate(ctx context.Context, text string) (string, error) {
	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", "en")
	q.Set("tl", "zh-CN")
	q.Set("dt", "t")
	q.Set("q", text)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.URL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	// [[["译文","source",...],...],...]
	var out []json.RawMessage
	if err := doJSON(g.Client, req, &out); err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", errEmpty
	}
	var sentences [][]any
	if err := json.Unmarshal(out[0], &sentences); err != nil {
		return "", fmt.Errorf("decode sentences: %w", err)
	}
	var sb strings.Builder
	for _, s := range sentences {
		if len(s) == 0 {
			continue
		}
		if part, ok := s[0].(string); ok {
			sb.WriteString(part)
		}
	}
	if sb.Len() == 0 {
		return "", errEmpty
	}
	return sb.String(), nil
}
