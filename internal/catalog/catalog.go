// Package catalog fetches the public model lists shown in the model picker.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"llmtester/internal/cache"
	"llmtester/internal/fetch"
)

const DefaultBaseURL = "https://models.xiechengqi.top"

// ImageGenerationTask marks ModelScope models that produce images.
const ImageGenerationTask = "生成图片"

type Source string

const (
	OpenRouter Source = "openrouter"
	Cerebras   Source = "cerebras"
	ModelScope Source = "modelscope"
)

func (s Source) Valid() bool {
	return s == OpenRouter || s == Cerebras || s == ModelScope
}

type Architecture struct {
	InputModalities  []string `json:"input_modalities,omitempty"`
	OutputModalities []string `json:"output_modalities,omitempty"`
	Modality         string   `json:"modality,omitempty"`
	Tokenizer        string   `json:"tokenizer,omitempty"`
	InstructType     *string  `json:"instruct_type,omitempty"`
}

// Model is the union of the three catalog record layouts.
type Model struct {
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	Provider      string         `json:"provider,omitempty"`
	Description   string         `json:"description,omitempty"`
	Link          string         `json:"link,omitempty"`
	PubDate       string         `json:"pub_date,omitempty"`
	Time          string         `json:"time,omitempty"`
	ContextLength int64          `json:"context_length,omitempty"`
	Architecture  *Architecture  `json:"architecture,omitempty"`
	Pricing       map[string]any `json:"pricing,omitempty"`
	Created       int64          `json:"created,omitempty"`
	TaskTypes     *TaskTypes     `json:"task_types,omitempty"`
	Downloads     int64          `json:"downloads,omitempty"`
	Stars         int64          `json:"stars,omitempty"`
}

// TaskTypes is either a single string or a list, kept in the form received.
type TaskTypes struct {
	Text string
	List []string
}

func (t *TaskTypes) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = TaskTypes{Text: s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("task_types: %w", err)
	}
	*t = TaskTypes{List: list}
	return nil
}

func (t TaskTypes) MarshalJSON() ([]byte, error) {
	if t.List != nil {
		return json.Marshal(t.List)
	}
	return json.Marshal(t.Text)
}

func (t TaskTypes) String() string {
	if t.List != nil {
		return strings.Join(t.List, ", ")
	}
	return t.Text
}

// IsImageGenerationModel reports whether a ModelScope model generates images.
// A list must contain the task exactly; a string only needs to mention it.
func IsImageGenerationModel(m Model) bool {
	if m.TaskTypes == nil {
		return false
	}
	if m.TaskTypes.List != nil {
		for _, t := range m.TaskTypes.List {
			if t == ImageGenerationTask {
				return true
			}
		}
		return false
	}
	return strings.Contains(m.TaskTypes.Text, ImageGenerationTask)
}

// Normalize accepts a bare array, {"models": [...]} or {"data": [...]}.
// Anything else, and records that do not decode, yield nothing.
func Normalize(raw []byte) []Model {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		var obj struct {
			Models json.RawMessage `json:"models"`
			Data   json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return []Model{}
		}
		if json.Unmarshal(obj.Models, &items) != nil || items == nil {
			items = nil
			if json.Unmarshal(obj.Data, &items) != nil {
				items = nil
			}
		}
	}

	out := make([]Model, 0, len(items))
	for _, it := range items {
		var m Model
		if err := json.Unmarshal(it, &m); err != nil || m.ID == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Cache      *cache.Cache
	Logger     zerolog.Logger
}

type Catalog struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	cache   *cache.Cache
	logger  zerolog.Logger
}

func New(cfg Config) *Catalog {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	// hand the last answer back so a non-2xx status can be reported
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Catalog{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    retryClient.StandardClient(),
		cache:   cfg.Cache,
		logger:  cfg.Logger,
	}
}

func (c *Catalog) url(src Source) string {
	return c.baseURL + "/" + string(src) + ".json"
}

// Models returns the catalog of src, from the cache when possible.
func (c *Catalog) Models(ctx context.Context, src Source) ([]Model, error) {
	if !src.Valid() {
		return nil, fmt.Errorf("unknown catalog %q", src)
	}
	key := "catalog:" + string(src)

	var cached []Model
	if ok, err := c.cache.Get(ctx, key, &cached); err != nil {
		c.logger.Warn().Err(err).Str("catalog", string(src)).Msg("catalog cache read failed")
	} else if ok {
		return cached, nil
	}

	models, err := c.fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, models); err != nil {
		c.logger.Warn().Err(err).Str("catalog", string(src)).Msg("catalog cache write failed")
	}
	return models, nil
}

func (c *Catalog) fetch(ctx context.Context, src Source) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.url(src)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s catalog: %w", src, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &fetch.HTTPError{Status: resp.StatusCode, StatusText: fetch.StatusText(resp), URL: url}
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, fetch.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read %s catalog: %w", src, err)
	}
	return Normalize(raw), nil
}

// ImageGenerationModels returns the ids of ModelScope models that generate
// images.
func (c *Catalog) ImageGenerationModels(ctx context.Context) (map[string]bool, error) {
	models, err := c.Models(ctx, ModelScope)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, m := range models {
		if IsImageGenerationModel(m) {
			out[m.ID] = true
		}
	}
	return out, nil
}
