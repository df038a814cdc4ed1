// Package api exposes the tester as a loopback JSON API, one route per user
// action. It is a single-user adapter: every call acts on the one runner.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"llmtester/internal/catalog"
	"llmtester/internal/metrics"
	"llmtester/internal/providers"
	"llmtester/internal/providers/registry"
	"llmtester/internal/runner"
)

const maxBodyBytes = 32 << 20

// Catalog lists the models of one catalog source.
type Catalog interface {
	Models(ctx context.Context, src catalog.Source) ([]catalog.Model, error)
}

type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// ResponseImages reads the generated images saved for a history timestamp.
type ResponseImages interface {
	LoadResponseImages(ctx context.Context, timestamp int64) ([]string, error)
}

type Service struct {
	runner     *runner.Runner
	providers  *registry.Registry
	catalog    Catalog
	translator Translator
	respImages ResponseImages
	location   *time.Location
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

type Config struct {
	Runner         *runner.Runner
	Providers      *registry.Registry
	Catalog        Catalog
	Translator     Translator
	ResponseImages ResponseImages
	// Location is used for CSV timestamps. Defaults to time.Local.
	Location *time.Location
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
}

func NewService(cfg Config) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	return &Service{
		runner:     cfg.Runner,
		providers:  cfg.Providers,
		catalog:    cfg.Catalog,
		translator: cfg.Translator,
		respImages: cfg.ResponseImages,
		location:   cfg.Location,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Register mounts every route on mux.
func (s *Service) Register(mux *http.ServeMux) {
	s.handle(mux, "GET /api/settings", s.getSettings)
	s.handle(mux, "PATCH /api/settings", s.patchSettings)
	s.handle(mux, "POST /api/settings/reset", s.resetSettings)
	s.handle(mux, "POST /api/settings/provider", s.selectProvider)

	s.handle(mux, "GET /api/providers", s.listProviders)
	s.handle(mux, "PUT /api/providers/{id}", s.saveProvider)
	s.handle(mux, "DELETE /api/providers/{id}", s.deleteProvider)

	s.handle(mux, "GET /api/state", s.getState)
	s.handle(mux, "POST /api/test", s.runTest)
	s.handle(mux, "POST /api/abort", s.abort)
	s.handle(mux, "POST /api/probe", s.probe)
	s.handle(mux, "POST /api/timer/start", s.startTimer)
	s.handle(mux, "POST /api/timer/stop", s.stopTimer)

	s.handle(mux, "GET /api/history", s.historyPage)
	s.handle(mux, "GET /api/history/export.csv", s.historyCSV)
	s.handle(mux, "GET /api/history/{id}/display", s.historyDisplay)
	s.handle(mux, "DELETE /api/history/{id}", s.deleteHistory)
	s.handle(mux, "DELETE /api/history", s.clearHistory)

	s.handle(mux, "GET /api/model-history", s.modelHistory)
	s.handle(mux, "GET /api/model-history/export.csv", s.modelHistoryCSV)
	s.handle(mux, "POST /api/model-history/{id}/apply", s.applyModelHistory)
	s.handle(mux, "POST /api/model-history/{id}/probe", s.probeModel)
	s.handle(mux, "DELETE /api/model-history/{id}", s.deleteModelHistory)
	s.handle(mux, "DELETE /api/model-history", s.clearModelHistory)

	s.handle(mux, "GET /api/images", s.listImages)
	s.handle(mux, "POST /api/images/url", s.addImageURL)
	s.handle(mux, "POST /api/images/upload", s.uploadImages)
	s.handle(mux, "POST /api/images/reload", s.reloadImages)
	s.handle(mux, "DELETE /api/images/{id}", s.removeImage)

	s.handle(mux, "POST /api/sources/{slot}/pick", s.pickFile)
	s.handle(mux, "POST /api/sources/{slot}/reload", s.reloadSource)

	s.handle(mux, "GET /api/catalog/{source}", s.listCatalog)
	s.handle(mux, "POST /api/translate", s.translate)
}

// handle wraps h with request logging and the per-route counter.
func (s *Service) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.metrics.APIRequests.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
		s.logger.Debug().
			Str("route", pattern).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("api request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return false
	}
	return true
}

func writeCSV(w http.ResponseWriter, name, body string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	_, _ = w.Write([]byte(body))
}

func csvName(prefix string) string {
	return prefix + "_" + time.Now().Format("2006-01-02") + ".csv"
}

// statusOf maps domain errors onto HTTP codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, runner.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, runner.ErrMissingAPIKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type providerList struct {
	Providers []providers.Config `json:"providers"`
	Custom    []providers.Config `json:"custom"`
}
