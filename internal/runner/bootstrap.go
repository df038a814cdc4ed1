package runner

import (
	"context"

	"github.com/rs/zerolog"

	"llmtester/internal/history"
	"llmtester/internal/images"
	"llmtester/internal/state"
)

// Source is the storage read once at startup.
type Source interface {
	LoadSettings(ctx context.Context) ([]byte, error)
	MigrateLegacyHistory(ctx context.Context) (int, error)
	ListHistory(ctx context.Context) ([]history.Item, error)
	LoadModelHistory(ctx context.Context) ([]history.ModelItem, error)
	LoadImages(ctx context.Context) ([]images.MessageImage, error)
}

type Snapshot struct {
	Settings     state.SettingsState
	History      []history.Item
	ModelHistory []history.ModelItem
	Images       []images.MessageImage
}

// Bootstrap loads the persisted state. Every part that fails to load is
// logged and falls back to its empty value.
func Bootstrap(ctx context.Context, src Source, logger zerolog.Logger) Snapshot {
	snap := Snapshot{Settings: state.DefaultSettings()}

	if raw, err := src.LoadSettings(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to load settings")
	} else {
		snap.Settings = state.ReduceSettings(snap.Settings, state.PatchFromStorage(raw))
	}

	if n, err := src.MigrateLegacyHistory(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to migrate legacy history")
	} else if n > 0 {
		logger.Info().Int("items", n).Msg("migrated legacy history")
	}

	if items, err := src.ListHistory(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to load history")
	} else {
		snap.History = items
	}

	if items, err := src.LoadModelHistory(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to load model history")
	} else {
		snap.ModelHistory = items
	}

	if imgs, err := src.LoadImages(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to load images")
	} else {
		snap.Images = imgs
	}
	return snap
}

// Config returns a runner configuration seeded with the snapshot.
func (s Snapshot) Config() Config {
	return Config{
		Settings:     s.Settings,
		History:      s.History,
		ModelHistory: s.ModelHistory,
		Images:       s.Images,
	}
}
