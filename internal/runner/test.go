package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"llmtester/internal/history"
	"llmtester/internal/images"
	"llmtester/internal/providers"
	"llmtester/internal/providers/openai_compat"
	"llmtester/internal/request"
	"llmtester/internal/response"
	"llmtester/internal/state"
	"llmtester/internal/textsource"
)

// TestResult is what one test invocation produced. Item is nil when nothing
// was recorded.
type TestResult struct {
	Outcome  state.Outcome `json:"outcome"`
	Item     *history.Item `json:"item,omitempty"`
	Error    string        `json:"error,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

// RunTest performs one full test with the current settings. The returned
// error is only set for problems found before any network call; failures of
// the call itself are reported in TestResult and recorded in history.
func (r *Runner) RunTest(ctx context.Context) (TestResult, error) {
	s := r.settings.Get()
	if strings.TrimSpace(s.APIKey) == "" {
		r.run.Dispatch(state.SetError(ErrMissingAPIKey.Error()))
		return TestResult{Outcome: state.OutcomeError, Error: ErrMissingAPIKey.Error()}, ErrMissingAPIKey
	}

	log := r.logger.With().Str("provider", s.Provider).Str("model", s.Model).Logger()

	var warnings []string
	warn := func(source string) func(error) {
		return func(err error) {
			msg := err.Error()
			warnings = append(warnings, msg)
			r.metrics.SourceFailures.WithLabelValues(source).Inc()
			r.run.Dispatch(state.Warn(msg))
			log.Warn().Err(err).Str("source", source).Msg("text source reload failed, using cached text")
		}
	}

	userText := r.resolveText(ctx, s, false, warn)
	systemText := r.resolveText(ctx, s, true, warn)

	imgs := r.Images()
	if s.AutoReloadImages && len(imgs) > 0 {
		imgs = r.mergeReloaded(r.builder.ReloadAll(ctx, imgs))
	}

	endpoint := r.endpoint(ctx, s)
	built, err := request.Build(request.Input{
		Provider: s.Provider,
		URL:      endpoint.URL,
		APIKey:   s.APIKey,
		Params: request.Params{
			Model:            s.Model,
			MaxTokens:        s.MaxTokens,
			Temperature:      s.Temperature,
			TopP:             s.TopP,
			FrequencyPenalty: s.FrequencyPenalty,
			PresencePenalty:  s.PresencePenalty,
			Stream:           s.Stream,
		},
		SystemText:      systemText,
		UserText:        userText,
		Images:          imgs,
		ImageGeneration: endpoint.ImageGeneration,
	})
	if err != nil {
		r.run.Dispatch(state.SetError(err.Error()))
		return TestResult{Outcome: state.OutcomeError, Error: err.Error()}, fmt.Errorf("build request: %w", err)
	}

	r.run.Dispatch(state.StartTest(built.Curl))

	callCtx, id := r.startCall(ctx)
	defer r.endCall(id)

	start := r.now()
	resp, err := r.transport.Send(callCtx, openai_compat.Request{URL: endpoint.URL, APIKey: s.APIKey, Body: built.JSON})
	elapsed := r.now().Sub(start)
	r.metrics.RequestDuration.WithLabelValues("test").Observe(elapsed.Seconds())

	if err != nil {
		return r.failTest(s, err, warnings, log), nil
	}
	return r.finishTest(s, built, resp, elapsed, warnings, log), nil
}

func (r *Runner) resolveText(ctx context.Context, s state.SettingsState, system bool, warn func(string) func(error)) string {
	cfg := textsource.Config{
		Enabled:         s.EnablePromptFile,
		Path:            s.PromptFilePath,
		AutoReload:      s.AutoReloadPrompt,
		FromLocalFile:   s.IsPromptFromLocalFile,
		LoadedContent:   s.PromptLoadedContent,
		FallbackContent: s.Prompt,
	}
	slot := textsource.SlotPrompt
	if system {
		cfg = textsource.Config{
			Enabled:         s.EnableSystemPromptFile,
			Path:            s.SystemPromptFilePath,
			AutoReload:      s.AutoReloadSystemPrompt,
			FromLocalFile:   s.IsSystemPromptFromLocalFile,
			LoadedContent:   s.SystemPromptLoadedContent,
			FallbackContent: s.SystemPrompt,
		}
		slot = textsource.SlotSystemPrompt
	}

	source := "text_http"
	if cfg.FromLocalFile {
		source = "text_local"
	}
	res := textsource.Resolve(ctx, cfg, textsource.Sources{
		HTTP:  r.fetcher.Text,
		Local: r.handles.Local(slot),
		Warn:  warn(source),
	})
	if res.Updated {
		r.settings.Dispatch(state.SetLoadedContent(system, res.LoadedContent))
	}
	return res.Text
}

// endpoint resolves the request URL, routing ModelScope image models to the
// generation endpoint.
func (r *Runner) endpoint(ctx context.Context, s state.SettingsState) providers.Endpoint {
	return providers.ResolveEndpoint(
		providers.Config{ID: s.Provider, BaseURL: s.BaseURL, APIPath: s.APIPath},
		r.isImageModel(ctx, s.Provider, s.Model),
	)
}

func (r *Runner) isImageModel(ctx context.Context, provider, model string) bool {
	if provider != providers.ModelScope || r.imageModels == nil || model == "" {
		return false
	}
	ids, err := r.imageModels.ImageGenerationModels(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Str("model", model).Msg("model catalog unavailable, assuming chat model")
		return false
	}
	return ids[model]
}

func (r *Runner) startCall(ctx context.Context) (context.Context, uint64) {
	ctx, cancel := context.WithCancelCause(ctx)
	timeoutCtx, timeoutCancel := context.WithTimeoutCause(ctx, r.testTimeout, openai_compat.ErrTimeout)

	r.inflightMu.Lock()
	r.nextID++
	id := r.nextID
	r.inflight[id] = func(cause error) {
		cancel(cause)
		timeoutCancel()
	}
	r.inflightMu.Unlock()
	return timeoutCtx, id
}

func (r *Runner) endCall(id uint64) {
	r.inflightMu.Lock()
	cancel, ok := r.inflight[id]
	delete(r.inflight, id)
	r.inflightMu.Unlock()
	if ok {
		cancel(context.Canceled)
	}
}

// Abort interrupts every running test and reports whether there was one.
func (r *Runner) Abort() bool {
	r.inflightMu.Lock()
	cancels := make([]context.CancelCauseFunc, 0, len(r.inflight))
	for _, c := range r.inflight {
		cancels = append(cancels, c)
	}
	r.inflightMu.Unlock()

	for _, c := range cancels {
		c(openai_compat.ErrInterrupted)
	}
	return len(cancels) > 0
}

func (r *Runner) failTest(s state.SettingsState, err error, warnings []string, log zerolog.Logger) TestResult {
	if errors.Is(err, openai_compat.ErrInterrupted) {
		r.metrics.Tests.WithLabelValues("interrupted").Inc()
		r.run.Dispatch(state.Interrupt())
		log.Info().Msg("test interrupted")
		return TestResult{Outcome: state.OutcomeInterrupted, Warnings: warnings}
	}

	var msg, cause string
	if errors.Is(err, openai_compat.ErrTimeout) {
		r.metrics.Tests.WithLabelValues("timeout").Inc()
		cause = openai_compat.ErrTimeout.Error()
		msg = fmt.Sprintf("请求超时 (%d秒)", int(r.testTimeout/time.Second))
	} else {
		r.metrics.Tests.WithLabelValues("error").Inc()
		cause = err.Error()
		msg = "Request failed: " + cause
	}
	log.Error().Err(err).Msg("test request failed")

	raw := response.FormatError(cause)
	item := history.Item{
		ID:          r.newID(),
		Timestamp:   r.nowMillis(),
		Model:       s.Model,
		ResponseRaw: raw,
	}
	r.recordHistory(item, nil)
	r.recordModel(s.Provider, s.Model, s.APIKey, s.BaseURL, s.APIPath, history.StatusError, nil)
	r.run.Dispatch(state.FinishTest(raw, msg, nil))
	return TestResult{Outcome: state.OutcomeError, Item: &item, Error: msg, Warnings: warnings}
}

func (r *Runner) finishTest(s state.SettingsState, built request.Built, resp openai_compat.RawResponse, elapsed time.Duration, warnings []string, log zerolog.Logger) TestResult {
	duration := elapsed.Milliseconds()
	parsed := response.Parse(resp.Body, r.now())
	display := response.FormatForDisplay(resp.Status, resp.StatusText, resp.Header, resp.Body)

	item := history.Item{
		ID:              r.newID(),
		Timestamp:       r.nowMillis(),
		Duration:        &duration,
		Model:           s.Model,
		RequestContent:  built.Content,
		RequestRaw:      built.Curl,
		ResponseContent: parsed.Content,
		ResponseRaw:     display,
	}
	r.recordHistory(item, parsed.Images)

	status := history.StatusSuccess
	errMsg := ""
	if !resp.OK() {
		status = history.StatusError
		errMsg = fmt.Sprintf("API Error: %d - %s", resp.Status, response.ErrorMessage(resp.Body, resp.StatusText))
		r.metrics.Tests.WithLabelValues("error").Inc()
		log.Warn().Int("status", resp.Status).Msg("provider returned an error status")
	} else {
		r.metrics.Tests.WithLabelValues("success").Inc()
		log.Info().Int("status", resp.Status).Int64("duration_ms", duration).Msg("test completed")
	}
	r.recordModel(s.Provider, s.Model, s.APIKey, s.BaseURL, s.APIPath, status, &duration)
	r.run.Dispatch(state.FinishTest(display, errMsg, &duration))

	outcome := state.OutcomeSuccess
	if errMsg != "" {
		outcome = state.OutcomeError
	}
	return TestResult{Outcome: outcome, Item: &item, Error: errMsg, Warnings: warnings}
}

// recordHistory prepends in memory first; storage follows in the background.
func (r *Runner) recordHistory(item history.Item, generated []images.MessageImage) {
	r.history.Prepend(item)
	r.persist("history", func(ctx context.Context) error {
		return r.store.InsertHistory(ctx, item)
	})
	if len(generated) == 0 {
		return
	}
	urls := make([]string, 0, len(generated))
	for _, img := range generated {
		urls = append(urls, img.URL)
	}
	r.persist("response images", func(ctx context.Context) error {
		return r.store.SaveResponseImages(ctx, item.Timestamp, urls)
	})
}

func (r *Runner) recordModel(provider, model, apiKey, baseURL, apiPath string, status history.Status, duration *int64) {
	r.models.Upsert(history.ModelItem{
		ID:        r.newID(),
		Timestamp: r.nowMillis(),
		Provider:  provider,
		Model:     model,
		APIKey:    apiKey,
		BaseURL:   baseURL,
		APIPath:   apiPath,
		Status:    status,
		Duration:  duration,
	})
	r.saveModelHistory()
}
