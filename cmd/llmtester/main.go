package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"llmtester/internal/api"
	"llmtester/internal/cache"
	"llmtester/internal/catalog"
	"llmtester/internal/config"
	"llmtester/internal/metrics"
	"llmtester/internal/providers/openai_compat"
	"llmtester/internal/providers/registry"
	"llmtester/internal/runner"
	"llmtester/internal/secrets"
	"llmtester/internal/storage"
	"llmtester/internal/textsource"
	"llmtester/internal/translate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("db_driver", cfg.DB.Driver).
		Bool("redis", cfg.Redis.Enabled()).
		Bool("sealed_keys", cfg.Secrets.Enabled()).
		Msg("starting llmtester")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	if cfg.Secrets.Enabled() {
		keys, err := secrets.ParseKeys(cfg.Secrets.Keys)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to parse SECRETS_KEYS")
		}
		sealer, err := secrets.NewSealer(cfg.Secrets.CurrentKeyID, keys)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize secrets sealer")
		}
		store.WithSealer(sealer)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
	}
	resultCache := cache.New(rdb, cfg.Redis.CacheTTL)

	m := metrics.Global()

	presets, err := config.LoadProviderPresets(cfg.ProvidersFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load provider presets")
	}
	reg, err := registry.New(ctx, store, presets)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load providers")
	}

	handles := textsource.NewHandles(store)
	if err := handles.Restore(ctx); err != nil {
		log.Error().Err(err).Msg("failed to restore file handles")
	}

	models := catalog.New(catalog.Config{
		Timeout:    cfg.Catalog.Timeout,
		MaxRetries: cfg.HTTP.MaxRetries,
		Cache:      resultCache,
		Logger:     log.Logger.With().Str("component", "catalog").Logger(),
	})
	translator := translate.New(translate.Config{
		Cache:   resultCache,
		Limiter: cache.NewHourlyLimiter(rdb, "translate", cfg.Catalog.TranslatePerHour),
		Logger:  log.Logger.With().Str("component", "translate").Logger(),
	})

	rc := runner.Bootstrap(ctx, store, log.Logger).Config()
	rc.Store = store
	rc.Handles = handles
	rc.Providers = reg
	rc.ImageModels = models
	rc.Transport = openai_compat.New(openai_compat.Config{
		MaxRetries:  cfg.HTTP.MaxRetries,
		BackoffBase: cfg.HTTP.BackoffBase,
	})
	rc.TestTimeout = cfg.Run.TestTimeout
	rc.ProbeTimeout = cfg.Run.ProbeTimeout
	rc.ProbeDebounce = cfg.Run.ProbeDebounce
	rc.Logger = log.Logger.With().Str("component", "runner").Logger()
	rc.Metrics = m
	run := runner.New(rc)
	defer run.Close()

	service := api.NewService(api.Config{
		Runner:         run,
		Providers:      reg,
		Catalog:        models,
		Translator:     translator,
		ResponseImages: store,
		Logger:         log.Logger.With().Str("component", "api").Logger(),
		Metrics:        m,
	})

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.HTTP.HealthPath, func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle(cfg.HTTP.MetricsPath, promhttp.Handler())
	service.Register(mux)

	errCh := make(chan error, 1)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	run.StopTimer()
	run.Abort()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
