// Package openai_compat posts chat-completion style requests and hands back
// the raw answer without interpreting it.
package openai_compat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"llmtester/internal/fetch"
)

var (
	// ErrTimeout is the cancel cause of a request that ran out of time.
	ErrTimeout = errors.New("request timed out")
	// ErrInterrupted is the cancel cause of a user abort.
	ErrInterrupted = errors.New("request interrupted")
)

const maxResponseBody = 16 << 20

type Config struct {
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 400 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{cfg: cfg}
}

type Request struct {
	URL    string
	APIKey string
	Body   []byte
}

// RawResponse is a fully buffered provider answer of any status.
type RawResponse struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
}

func (r RawResponse) OK() bool {
	return r.Status >= 200 && r.Status <= 299
}

// IsJSON reports whether the answer declares a JSON content type.
func (r RawResponse) IsJSON() bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// Send posts req.Body. Network failures, 429 and 5xx are retried while
// retries remain; the last answer is returned whatever its status. When ctx
// ends, the error wraps the context cause (ErrTimeout or ErrInterrupted when
// the caller set one).
func (c *Client) Send(ctx context.Context, req Request) (RawResponse, error) {
	if strings.TrimSpace(req.URL) == "" {
		return RawResponse{}, fmt.Errorf("request url is empty")
	}

	var (
		last    RawResponse
		lastErr error
	)
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		resp, retry, err := c.callOnce(ctx, req)
		if err != nil {
			lastErr = err
		} else {
			last, lastErr = resp, nil
		}
		if !retry || attempt == c.cfg.MaxRetries {
			break
		}
		backoff := c.cfg.BackoffBase * (1 << attempt)
		select {
		case <-ctx.Done():
			return RawResponse{}, causeErr(ctx)
		case <-time.After(backoff):
		}
	}
	if lastErr != nil {
		return RawResponse{}, lastErr
	}
	return last, nil
}

func (c *Client) callOnce(ctx context.Context, req Request) (RawResponse, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return RawResponse{}, false, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := c.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return RawResponse{}, false, causeErr(ctx)
		}
		return RawResponse{}, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		if ctx.Err() != nil {
			return RawResponse{}, false, causeErr(ctx)
		}
		return RawResponse{}, false, fmt.Errorf("read response body: %w", err)
	}

	out := RawResponse{
		Status:     resp.StatusCode,
		StatusText: fetch.StatusText(resp),
		Header:     resp.Header.Clone(),
		Body:       body,
	}
	retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return out, retry, nil
}

func causeErr(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrTimeout) || errors.Is(cause, ErrInterrupted) {
		return cause
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, cause)
	}
	return fmt.Errorf("%w: %w", ErrInterrupted, cause)
}
