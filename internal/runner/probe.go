package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"llmtester/internal/history"
	"llmtester/internal/providers"
	"llmtester/internal/providers/openai_compat"
	"llmtester/internal/request"
	"llmtester/internal/state"
)

// ProbeTarget is the configuration a probe checks.
type ProbeTarget struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	APIPath  string
}

type ProbeResult struct {
	Status   history.Status `json:"status"`
	Duration *int64         `json:"duration,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// ProbeCurrent probes the active settings.
func (r *Runner) ProbeCurrent(ctx context.Context) (ProbeResult, error) {
	s := r.settings.Get()
	return r.Probe(ctx, ProbeTarget{
		Provider: s.Provider,
		Model:    s.Model,
		APIKey:   s.APIKey,
		BaseURL:  s.BaseURL,
		APIPath:  s.APIPath,
	})
}

// ProbeModel re-probes a remembered model history entry.
func (r *Runner) ProbeModel(ctx context.Context, id string) (ProbeResult, error) {
	it, ok := r.models.Get(id)
	if !ok {
		return ProbeResult{}, fmt.Errorf("model history %q: %w", id, ErrNotFound)
	}
	return r.Probe(ctx, ProbeTarget{
		Provider: it.Provider,
		Model:    it.Model,
		APIKey:   it.APIKey,
		BaseURL:  it.BaseURL,
		APIPath:  it.APIPath,
	})
}

// Probe sends the minimal request for target. A probe only succeeds on a 2xx
// JSON answer. Every completed probe replaces the model history entry of its
// provider, model and key.
func (r *Runner) Probe(ctx context.Context, target ProbeTarget) (ProbeResult, error) {
	if strings.TrimSpace(target.APIKey) == "" {
		return ProbeResult{Status: history.StatusIdle}, ErrMissingAPIKey
	}
	if strings.TrimSpace(target.Model) == "" {
		return ProbeResult{Status: history.StatusIdle}, errors.New("model is empty")
	}

	log := r.logger.With().Str("provider", target.Provider).Str("model", target.Model).Logger()

	endpoint := providers.ResolveEndpoint(
		providers.Config{ID: target.Provider, BaseURL: target.BaseURL, APIPath: target.APIPath},
		r.isImageModel(ctx, target.Provider, target.Model),
	)
	built, err := request.BuildProbe(request.ProbeInput{
		Provider:        target.Provider,
		URL:             endpoint.URL,
		APIKey:          target.APIKey,
		Model:           target.Model,
		SystemText:      r.settings.Get().SystemPrompt,
		ImageGeneration: endpoint.ImageGeneration,
	})
	if err != nil {
		return ProbeResult{Status: history.StatusIdle}, err
	}

	r.run.Dispatch(state.StartProbe())

	probeCtx, cancel := context.WithTimeoutCause(ctx, r.probeTimeout, openai_compat.ErrTimeout)
	defer cancel()

	start := r.now()
	resp, err := r.transport.Send(probeCtx, openai_compat.Request{URL: endpoint.URL, APIKey: target.APIKey, Body: built.JSON})
	elapsed := r.now().Sub(start)
	r.metrics.RequestDuration.WithLabelValues("probe").Observe(elapsed.Seconds())
	duration := elapsed.Milliseconds()

	res := ProbeResult{Status: history.StatusSuccess, Duration: &duration}
	switch {
	case err != nil:
		res.Status = history.StatusError
		res.Error = err.Error()
	case !resp.OK():
		res.Status = history.StatusError
		res.Error = fmt.Sprintf("HTTP %d: %s", resp.Status, resp.StatusText)
	case !resp.IsJSON():
		res.Status = history.StatusError
		res.Error = "response is not JSON"
	}

	probeStatus := state.ProbeSuccess
	if res.Status != history.StatusSuccess {
		probeStatus = state.ProbeError
		r.metrics.Probes.WithLabelValues("error").Inc()
		log.Warn().Str("reason", res.Error).Int64("duration_ms", duration).Msg("probe failed")
	} else {
		r.metrics.Probes.WithLabelValues("success").Inc()
		log.Info().Int64("duration_ms", duration).Msg("probe succeeded")
	}
	r.run.Dispatch(state.FinishProbe(probeStatus, &duration))
	r.recordModel(target.Provider, target.Model, target.APIKey, target.BaseURL, target.APIPath, res.Status, &duration)
	return res, nil
}

// Debouncer runs fn once after the last Trigger within delay.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	fn    func()
	timer *time.Timer
}

func NewDebouncer(delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{delay: delay, fn: fn}
}

func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

// Stop drops a pending call.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
