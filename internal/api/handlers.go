package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"llmtester/internal/catalog"
	"llmtester/internal/history"
	"llmtester/internal/images"
	"llmtester/internal/providers"
	"llmtester/internal/response"
	"llmtester/internal/runner"
	"llmtester/internal/translate"
)

func (s *Service) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Settings())
}

func (s *Service) patchSettings(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	next, err := s.runner.PatchSettings(r.Context(), raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (s *Service) resetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.ResetSettings(r.Context()))
}

func (s *Service) selectProvider(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	next, err := s.runner.SelectProvider(strings.TrimSpace(body.ID))
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (s *Service) listProviders(w http.ResponseWriter, _ *http.Request) {
	out := providerList{Providers: providers.Builtins(), Custom: []providers.Config{}}
	if s.providers != nil {
		out.Providers = s.providers.List()
		out.Custom = s.providers.Custom()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) saveProvider(w http.ResponseWriter, r *http.Request) {
	if s.providers == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("custom providers are not available"))
		return
	}
	var c providers.Config
	if !decodeJSON(w, r, &c) {
		return
	}
	c.ID = r.PathValue("id")
	if err := s.providers.SaveCustom(r.Context(), c); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	saved, _ := s.providers.Lookup(strings.TrimSpace(c.ID))
	writeJSON(w, http.StatusOK, saved)
}

func (s *Service) deleteProvider(w http.ResponseWriter, r *http.Request) {
	if s.providers == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("custom providers are not available"))
		return
	}
	if err := s.providers.DeleteCustom(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) getState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.RunState())
}

// runTest is detached from the HTTP request: a closed connection does not
// stop the test, /api/abort does.
func (s *Service) runTest(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.RunTest(context.WithoutCancel(r.Context()))
	if err != nil {
		writeJSON(w, statusOf(err), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) abort(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"aborted": s.runner.Abort()})
}

func (s *Service) probe(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.ProbeCurrent(r.Context())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) startTimer(w http.ResponseWriter, _ *http.Request) {
	if err := s.runner.StartTimer(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.runner.RunState())
}

func (s *Service) stopTimer(w http.ResponseWriter, _ *http.Request) {
	s.runner.StopTimer()
	writeJSON(w, http.StatusOK, s.runner.RunState())
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return n
}

func (s *Service) historyPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.HistoryPage(queryInt(r, "page", 1), queryInt(r, "size", 0)))
}

func (s *Service) historyCSV(w http.ResponseWriter, r *http.Request) {
	withRaw, _ := strconv.ParseBool(r.URL.Query().Get("raw"))
	writeCSV(w, csvName("test_history"), s.runner.HistoryCSV(withRaw, s.location))
}

type historyDisplay struct {
	Item           history.Item `json:"item"`
	RequestText    string       `json:"requestText"`
	RequestImages  []string     `json:"requestImages"`
	ResponseImages []string     `json:"responseImages"`
}

func (s *Service) historyDisplay(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var (
		item  history.Item
		found bool
	)
	for _, it := range s.runner.History().Items() {
		if it.ID == id {
			item, found = it, true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("history %q: %w", id, runner.ErrNotFound))
		return
	}

	var saved []string
	if s.respImages != nil {
		imgs, err := s.respImages.LoadResponseImages(r.Context(), item.Timestamp)
		if err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("failed to load response images")
		}
		saved = imgs
	}
	writeJSON(w, http.StatusOK, historyDisplay{
		Item:           item,
		RequestText:    response.FormatRequestContentForDisplay(item.RequestContent),
		RequestImages:  nonNil(response.ExtractImagesFromRequestContent(item.RequestContent)),
		ResponseImages: nonNil(response.ExtractImagesFromResponseContent(item.ResponseContent, item.ResponseRaw, saved)),
	})
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func (s *Service) deleteHistory(w http.ResponseWriter, r *http.Request) {
	if !s.runner.DeleteHistory(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, runner.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) clearHistory(w http.ResponseWriter, _ *http.Request) {
	s.runner.ClearHistory()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) modelHistory(w http.ResponseWriter, _ *http.Request) {
	items := s.runner.ModelHistory().Items()
	if items == nil {
		items = []history.ModelItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Service) modelHistoryCSV(w http.ResponseWriter, _ *http.Request) {
	writeCSV(w, csvName("model_history"), s.runner.ModelHistoryCSV(s.location))
}

func (s *Service) applyModelHistory(w http.ResponseWriter, r *http.Request) {
	next, err := s.runner.ApplyModelHistory(r.PathValue("id"))
	if err != nil {
		writeError(w, statusOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (s *Service) probeModel(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.ProbeModel(r.Context(), r.PathValue("id"))
	if err != nil {
		status := statusOf(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) deleteModelHistory(w http.ResponseWriter, r *http.Request) {
	if !s.runner.DeleteModelHistory(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, runner.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) clearModelHistory(w http.ResponseWriter, _ *http.Request) {
	s.runner.ClearModelHistory()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) listImages(w http.ResponseWriter, _ *http.Request) {
	imgs := s.runner.Images()
	if imgs == nil {
		imgs = []images.MessageImage{}
	}
	writeJSON(w, http.StatusOK, imgs)
}

func (s *Service) addImageURL(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	img, err := s.runner.AddImageURL(r.Context(), body.URL)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusCreated, img)
}

type uploadResult struct {
	Added    []images.MessageImage `json:"added"`
	Rejected []string              `json:"rejected"`
}

// uploadImages accepts any number of "file" parts. Non-image files are
// reported and skipped.
func (s *Service) uploadImages(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out := uploadResult{Added: []images.MessageImage{}, Rejected: []string{}}
	for _, fh := range r.MultipartForm.File["file"] {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		img, err := s.runner.AddImageFile(images.File{Name: fh.Filename, Type: fh.Header.Get("Content-Type"), Data: data})
		if errors.Is(err, images.ErrNotImage) {
			out.Rejected = append(out.Rejected, fh.Filename)
			continue
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		out.Added = append(out.Added, img)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) reloadImages(w http.ResponseWriter, r *http.Request) {
	imgs := s.runner.ReloadImages(r.Context())
	if imgs == nil {
		imgs = []images.MessageImage{}
	}
	writeJSON(w, http.StatusOK, imgs)
}

func (s *Service) removeImage(w http.ResponseWriter, r *http.Request) {
	if !s.runner.RemoveImage(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, runner.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// slotParam reads {slot}: "prompt" or "system".
func slotParam(w http.ResponseWriter, r *http.Request) (system bool, ok bool) {
	switch r.PathValue("slot") {
	case "prompt":
		return false, true
	case "system":
		return true, true
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown text source %q", r.PathValue("slot")))
		return false, false
	}
}

type sourceText struct {
	Text string `json:"text"`
}

func (s *Service) pickFile(w http.ResponseWriter, r *http.Request) {
	system, ok := slotParam(w, r)
	if !ok {
		return
	}
	var body struct {
		Path string `json:"path"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	text, err := s.runner.PickFile(r.Context(), system, body.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, sourceText{Text: text})
}

func (s *Service) reloadSource(w http.ResponseWriter, r *http.Request) {
	system, ok := slotParam(w, r)
	if !ok {
		return
	}
	text, err := s.runner.ReloadSource(r.Context(), system)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, sourceText{Text: text})
}

func (s *Service) listCatalog(w http.ResponseWriter, r *http.Request) {
	src := catalog.Source(r.PathValue("source"))
	if !src.Valid() {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown catalog %q", src))
		return
	}
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("model catalog is not available"))
		return
	}
	models, err := s.catalog.Models(r.Context(), src)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if models == nil {
		models = []catalog.Model{}
	}
	writeJSON(w, http.StatusOK, models)
}

type translation struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func (s *Service) translate(w http.ResponseWriter, r *http.Request) {
	if s.translator == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("translation is not available"))
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	out, err := s.translator.Translate(r.Context(), body.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, translation{Text: out})
	case errors.Is(err, translate.ErrPartial):
		writeJSON(w, http.StatusOK, translation{Text: out, Error: err.Error()})
	case errors.Is(err, translate.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err)
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}
