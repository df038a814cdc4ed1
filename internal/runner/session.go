package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"llmtester/internal/fetch"
	"llmtester/internal/history"
	"llmtester/internal/images"
	"llmtester/internal/state"
	"llmtester/internal/textsource"
)

var ErrNotFound = errors.New("not found")

// PatchSettings applies a JSON object of user edits. Changing a text source
// toggle or path preloads it.
func (r *Runner) PatchSettings(ctx context.Context, raw []byte) (state.SettingsState, error) {
	update, err := state.DecodePatch(raw)
	if err != nil {
		return r.settings.Get(), err
	}
	prev := r.settings.Get()
	next := r.settings.Dispatch(update)
	r.preloadChanged(ctx, prev, next, false)
	r.preloadChanged(ctx, prev, next, true)
	return r.settings.Get(), nil
}

func (r *Runner) preloadChanged(ctx context.Context, prev, next state.SettingsState, system bool) {
	prevCfg, nextCfg := sourceConfig(prev, system), sourceConfig(next, system)
	if prevCfg.Enabled == nextCfg.Enabled && prevCfg.Path == nextCfg.Path {
		return
	}
	slot := slotOf(system)

	// a typed path replaces a picked file
	if prevCfg.Path != nextCfg.Path && nextCfg.FromLocalFile {
		if _, ok := r.handles.Get(slot); ok {
			if err := r.handles.Release(ctx, slot); err != nil {
				r.logger.Error().Err(err).Str("slot", string(slot)).Msg("failed to release file handle")
			}
		}
		nextCfg.FromLocalFile = false
		nextCfg.LoadedContent = ""
	}

	cfg, release, err := textsource.Preload(ctx, nextCfg, r.fetcher.Text)
	if release {
		if err := r.handles.Release(ctx, slot); err != nil {
			r.logger.Error().Err(err).Str("slot", string(slot)).Msg("failed to release file handle")
		}
	}
	if err != nil {
		r.metrics.SourceFailures.WithLabelValues("text_http").Inc()
		r.run.Dispatch(state.Warn(err.Error()))
		r.logger.Warn().Err(err).Str("slot", string(slot)).Msg("text source preload failed")
	}
	r.settings.Dispatch(state.SetTextSource(system, nextCfg.Path, cfg.FromLocalFile, cfg.LoadedContent))
}

func sourceConfig(s state.SettingsState, system bool) textsource.Config {
	if system {
		return textsource.Config{
			Enabled:         s.EnableSystemPromptFile,
			Path:            s.SystemPromptFilePath,
			AutoReload:      s.AutoReloadSystemPrompt,
			FromLocalFile:   s.IsSystemPromptFromLocalFile,
			LoadedContent:   s.SystemPromptLoadedContent,
			FallbackContent: s.SystemPrompt,
		}
	}
	return textsource.Config{
		Enabled:         s.EnablePromptFile,
		Path:            s.PromptFilePath,
		AutoReload:      s.AutoReloadPrompt,
		FromLocalFile:   s.IsPromptFromLocalFile,
		LoadedContent:   s.PromptLoadedContent,
		FallbackContent: s.Prompt,
	}
}

func slotOf(system bool) textsource.Slot {
	if system {
		return textsource.SlotSystemPrompt
	}
	return textsource.SlotPrompt
}

// SelectProvider switches to a builtin or custom provider and loads its
// endpoint defaults.
func (r *Runner) SelectProvider(id string) (state.SettingsState, error) {
	if r.providers == nil {
		return r.settings.Get(), fmt.Errorf("provider %q: %w", id, ErrNotFound)
	}
	p, ok := r.providers.Lookup(id)
	if !ok {
		return r.settings.Get(), fmt.Errorf("provider %q: %w", id, ErrNotFound)
	}
	return r.settings.Dispatch(state.SelectProvider(p.ID, p.BaseURL, p.APIPath)), nil
}

// ApplyModelHistory restores the configuration of a model history entry.
func (r *Runner) ApplyModelHistory(id string) (state.SettingsState, error) {
	it, ok := r.models.Get(id)
	if !ok {
		return r.settings.Get(), fmt.Errorf("model history %q: %w", id, ErrNotFound)
	}
	return r.settings.Dispatch(state.ApplyModelHistory(it.Provider, it.Model, it.APIKey, it.BaseURL, it.APIPath)), nil
}

// ResetSettings returns to defaults and drops attached images and held files.
func (r *Runner) ResetSettings(ctx context.Context) state.SettingsState {
	r.StopTimer()
	next := r.settings.Dispatch(state.Reset())

	r.imgMu.Lock()
	r.images = nil
	r.imgMu.Unlock()
	r.persist("images", func(ctx context.Context) error {
		return r.store.ClearImages(ctx)
	})

	for _, slot := range []textsource.Slot{textsource.SlotPrompt, textsource.SlotSystemPrompt} {
		if err := r.handles.Release(ctx, slot); err != nil {
			r.logger.Error().Err(err).Str("slot", string(slot)).Msg("failed to release file handle")
		}
	}
	return next
}

// PickFile retains path as the local file of a text slot and loads it.
func (r *Runner) PickFile(ctx context.Context, system bool, path string) (string, error) {
	handle, text, err := r.handles.Pick(ctx, slotOf(system), path)
	if err != nil {
		r.metrics.SourceFailures.WithLabelValues("text_local").Inc()
		return "", err
	}
	r.settings.Dispatch(state.SetTextSource(system, handle.Path(), true, text))
	return text, nil
}

// ReloadSource re-reads a slot's external text on demand. Unlike a test, a
// failure is returned.
func (r *Runner) ReloadSource(ctx context.Context, system bool) (string, error) {
	cfg := sourceConfig(r.settings.Get(), system)
	path := strings.TrimSpace(cfg.Path)

	var (
		text   string
		err    error
		source string
	)
	switch {
	case cfg.FromLocalFile:
		source = "text_local"
		text, err = r.handles.Reload(ctx, slotOf(system))
		if errors.Is(err, textsource.ErrPermissionDenied) || errors.Is(err, textsource.ErrReadFailed) || errors.Is(err, textsource.ErrNoHandle) {
			r.settings.Dispatch(state.SetTextSource(system, cfg.Path, false, cfg.LoadedContent))
		}
	case fetch.IsHTTPURL(path):
		source = "text_http"
		text, err = r.fetcher.Text(ctx, path)
	default:
		return "", errors.New("text source has no url or file")
	}
	if err != nil {
		r.metrics.SourceFailures.WithLabelValues(source).Inc()
		return "", err
	}
	r.settings.Dispatch(state.SetLoadedContent(system, text))
	return text, nil
}

// Images returns a copy of the attachments.
func (r *Runner) Images() []images.MessageImage {
	r.imgMu.Lock()
	defer r.imgMu.Unlock()
	return append([]images.MessageImage(nil), r.images...)
}

// mergeReloaded copies refreshed content onto the attachments that still
// exist. Images removed or added while the reload ran are left as they are.
func (r *Runner) mergeReloaded(reloaded []images.MessageImage) []images.MessageImage {
	byID := make(map[string]images.MessageImage, len(reloaded))
	for _, img := range reloaded {
		byID[img.ID] = img
	}
	r.imgMu.Lock()
	for i, img := range r.images {
		if fresh, ok := byID[img.ID]; ok {
			r.images[i] = fresh
		}
	}
	current := append([]images.MessageImage(nil), r.images...)
	r.imgMu.Unlock()
	r.saveImages()
	return current
}

func (r *Runner) addImage(img images.MessageImage) images.MessageImage {
	r.imgMu.Lock()
	r.images = append(r.images, img)
	r.imgMu.Unlock()
	r.saveImages()
	return img
}

func (r *Runner) AddImageURL(ctx context.Context, url string) (images.MessageImage, error) {
	img, err := r.builder.FromURL(ctx, strings.TrimSpace(url))
	if err != nil {
		r.metrics.SourceFailures.WithLabelValues("image_url").Inc()
		return images.MessageImage{}, err
	}
	return r.addImage(img), nil
}

func (r *Runner) AddImageFile(f images.File) (images.MessageImage, error) {
	img, err := r.builder.FromFile(f)
	if err != nil {
		return images.MessageImage{}, err
	}
	return r.addImage(img), nil
}

func (r *Runner) RemoveImage(id string) bool {
	r.imgMu.Lock()
	idx := -1
	for i, img := range r.images {
		if img.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.imgMu.Unlock()
		return false
	}
	r.images = append(r.images[:idx:idx], r.images[idx+1:]...)
	r.imgMu.Unlock()
	r.saveImages()
	return true
}

// ReloadImages refreshes every url image now.
func (r *Runner) ReloadImages(ctx context.Context) []images.MessageImage {
	return r.mergeReloaded(r.builder.ReloadAll(ctx, r.Images()))
}

func (r *Runner) HistoryPage(page, size int) history.Page[history.Item] {
	if size <= 0 {
		size = r.settings.Get().PageSize
	}
	return r.history.Page(page, size)
}

func (r *Runner) DeleteHistory(id string) bool {
	it, ok := r.history.Delete(id)
	if !ok {
		return false
	}
	r.persist("history", func(ctx context.Context) error {
		return r.store.DeleteHistoryItem(ctx, it)
	})
	return true
}

func (r *Runner) ClearHistory() {
	r.history.Clear()
	r.persist("history", func(ctx context.Context) error {
		return r.store.ClearAllHistory(ctx)
	})
}

func (r *Runner) HistoryCSV(withRaw bool, loc *time.Location) string {
	return history.HistoryCSV(r.history.Items(), withRaw, loc)
}

func (r *Runner) DeleteModelHistory(id string) bool {
	if !r.models.Delete(id) {
		return false
	}
	r.saveModelHistory()
	return true
}

func (r *Runner) ClearModelHistory() {
	r.models.Clear()
	r.saveModelHistory()
}

func (r *Runner) ModelHistoryCSV(loc *time.Location) string {
	return history.ModelHistoryCSV(r.models.Items(), loc)
}
