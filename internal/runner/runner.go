// Package runner drives test and probe requests: it resolves text sources and
// images, builds and sends the request, normalizes the answer and records it
// in history. Persistence runs behind the caller on a single ordered queue.
package runner

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"llmtester/internal/fetch"
	"llmtester/internal/history"
	"llmtester/internal/images"
	"llmtester/internal/metrics"
	"llmtester/internal/providers/openai_compat"
	"llmtester/internal/providers/registry"
	"llmtester/internal/state"
	"llmtester/internal/textsource"
)

var ErrMissingAPIKey = errors.New("please provide an API key")

// Persistence is the storage the runner writes behind itself. Failures are
// logged and never returned to the caller.
type Persistence interface {
	SaveSettings(ctx context.Context, s state.SettingsState) error
	InsertHistory(ctx context.Context, it history.Item) error
	DeleteHistoryItem(ctx context.Context, it history.Item) error
	ClearAllHistory(ctx context.Context) error
	SaveResponseImages(ctx context.Context, timestamp int64, urls []string) error
	SaveModelHistory(ctx context.Context, items []history.ModelItem) error
	SaveImages(ctx context.Context, imgs []images.MessageImage) error
	ClearImages(ctx context.Context) error
}

// ImageModels reports the ModelScope models that generate images.
type ImageModels interface {
	ImageGenerationModels(ctx context.Context) (map[string]bool, error)
}

type Config struct {
	Settings     state.SettingsState
	History      []history.Item
	ModelHistory []history.ModelItem
	Images       []images.MessageImage

	Store       Persistence
	Handles     *textsource.Handles
	Providers   *registry.Registry
	ImageModels ImageModels
	Transport   *openai_compat.Client
	HTTPClient  *http.Client

	TestTimeout   time.Duration
	ProbeTimeout  time.Duration
	ProbeDebounce time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

type Runner struct {
	settings *state.Store[state.SettingsState]
	run      *state.Store[state.RunState]
	history  *history.Log
	models   *history.ModelLog

	imgMu  sync.Mutex
	images []images.MessageImage

	store       Persistence
	handles     *textsource.Handles
	providers   *registry.Registry
	imageModels ImageModels
	transport   *openai_compat.Client
	fetcher     *fetch.Client
	builder     *images.Builder

	testTimeout  time.Duration
	probeTimeout time.Duration

	inflightMu sync.Mutex
	inflight   map[uint64]context.CancelCauseFunc
	nextID     uint64

	debouncer *Debouncer
	timer     *Timer
	queue     *persistQueue

	baseCtx    context.Context
	baseCancel context.CancelFunc

	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

func New(cfg Config) *Runner {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Transport == nil {
		cfg.Transport = openai_compat.New(openai_compat.Config{})
	}
	if cfg.TestTimeout <= 0 {
		cfg.TestTimeout = 60 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.ProbeDebounce <= 0 {
		cfg.ProbeDebounce = 5 * time.Second
	}
	if cfg.Handles == nil {
		cfg.Handles = textsource.NewHandles(nil)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	fetcher := fetch.New(cfg.HTTPClient)
	baseCtx, baseCancel := context.WithCancel(context.Background())

	r := &Runner{
		settings:     state.NewSettingsStore(cfg.Settings),
		run:          state.NewRunStore(state.DefaultRun()),
		history:      history.NewLog(cfg.History),
		models:       history.NewModelLog(cfg.ModelHistory),
		images:       append([]images.MessageImage(nil), cfg.Images...),
		store:        cfg.Store,
		handles:      cfg.Handles,
		providers:    cfg.Providers,
		imageModels:  cfg.ImageModels,
		transport:    cfg.Transport,
		fetcher:      fetcher,
		testTimeout:  cfg.TestTimeout,
		probeTimeout: cfg.ProbeTimeout,
		inflight:     map[uint64]context.CancelCauseFunc{},
		baseCtx:      baseCtx,
		baseCancel:   baseCancel,
		logger:       cfg.Logger,
		metrics:      m,
		now:          cfg.Now,
		newID:        cfg.NewID,
	}
	r.builder = images.NewBuilder(fetcher,
		images.WithClock(cfg.Now),
		images.WithIDs(cfg.NewID),
		images.WithReloadFailure(func(img images.MessageImage, err error) {
			r.metrics.SourceFailures.WithLabelValues("image_url").Inc()
			r.logger.Warn().Err(err).Str("image", img.ID).Msg("image reload failed, keeping previous snapshot")
		}),
	)
	r.queue = newPersistQueue(cfg.Logger)
	r.debouncer = NewDebouncer(cfg.ProbeDebounce, func() {
		if _, err := r.ProbeCurrent(r.baseCtx); err != nil && !errors.Is(err, ErrMissingAPIKey) {
			r.logger.Warn().Err(err).Msg("auto probe failed")
		}
	})
	r.timer = NewTimer()

	r.settings.Subscribe(r.onSettingsChange)
	return r
}

func (r *Runner) Settings() state.SettingsState { return r.settings.Get() }
func (r *Runner) RunState() state.RunState      { return r.run.Get() }
func (r *Runner) History() *history.Log         { return r.history }
func (r *Runner) ModelHistory() *history.ModelLog {
	return r.models
}

// onSettingsChange persists every change and restarts the probe debounce when
// the key, model or endpoint moved.
func (r *Runner) onSettingsChange(prev, next state.SettingsState) {
	r.persist("settings", func(ctx context.Context) error {
		return r.store.SaveSettings(ctx, r.settings.Get())
	})
	if prev.APIKey != next.APIKey || prev.Model != next.Model ||
		prev.BaseURL != next.BaseURL || prev.APIPath != next.APIPath || prev.Provider != next.Provider {
		r.debouncer.Trigger()
	}
	if prev.TimerEnabled && !next.TimerEnabled {
		r.StopTimer()
	}
}

func (r *Runner) persist(what string, fn func(ctx context.Context) error) {
	if r.store == nil {
		return
	}
	r.queue.enqueue(what, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && what == "history" {
			r.metrics.HistoryPersistFailures.Inc()
		}
		return err
	})
}

// Flush waits until every persistence job queued so far has run.
func (r *Runner) Flush() {
	r.queue.flush()
}

// Close stops the timer and the pending probe, aborts running tests and
// drains the persistence queue.
func (r *Runner) Close() {
	r.StopTimer()
	r.debouncer.Stop()
	r.Abort()
	r.baseCancel()
	r.queue.close()
}

// saveModelHistory and saveImages read the current value when the job runs,
// so the last queued job always stores the latest state.
func (r *Runner) saveModelHistory() {
	r.persist("model history", func(ctx context.Context) error {
		return r.store.SaveModelHistory(ctx, r.models.Items())
	})
}

func (r *Runner) saveImages() {
	r.persist("images", func(ctx context.Context) error {
		return r.store.SaveImages(ctx, r.Images())
	})
}

func (r *Runner) nowMillis() int64 {
	return r.now().UnixMilli()
}
