package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	sq "github.com/Masterminds/squirrel"

	"llmtester/internal/history"
	"llmtester/internal/images"
	"llmtester/internal/providers"
	"llmtester/internal/state"
)

func (s *Store) getSealed(ctx context.Context, key string) (string, error) {
	v, err := s.GetValue(ctx, key)
	if err != nil {
		return "", err
	}
	plain, err := s.sealer.Open(v)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", key, err)
	}
	return plain, nil
}

func (s *Store) setSealed(ctx context.Context, key string, value []byte) error {
	sealed, err := s.sealer.Seal(string(value))
	if err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	return s.SetValue(ctx, key, sealed)
}

// LoadSettings returns the raw settings blob, or nil when nothing is saved.
func (s *Store) LoadSettings(ctx context.Context) ([]byte, error) {
	v, err := s.getSealed(ctx, KeySettings)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(v), nil
}

func (s *Store) SaveSettings(ctx context.Context, st state.SettingsState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return s.setSealed(ctx, KeySettings, b)
}

func (s *Store) LoadModelHistory(ctx context.Context) ([]history.ModelItem, error) {
	v, err := s.getSealed(ctx, KeyModelHistory)
	if errors.Is(err, ErrNotFound) {
		return []history.ModelItem{}, nil
	}
	if err != nil {
		return nil, err
	}
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(v), &raw); err != nil {
		return []history.ModelItem{}, nil
	}
	out := make([]history.ModelItem, 0, len(raw))
	for _, r := range raw {
		var it history.ModelItem
		if err := json.Unmarshal(r, &it); err != nil {
			continue
		}
		if it.ID == "" || it.Provider == "" || it.Model == "" || !it.Status.Valid() {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *Store) SaveModelHistory(ctx context.Context, items []history.ModelItem) error {
	if items == nil {
		items = []history.ModelItem{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode model history: %w", err)
	}
	return s.setSealed(ctx, KeyModelHistory, b)
}

func (s *Store) LoadCustomProviders(ctx context.Context) ([]providers.Config, error) {
	v, err := s.getSealed(ctx, KeyCustomProviders)
	if errors.Is(err, ErrNotFound) {
		return []providers.Config{}, nil
	}
	if err != nil {
		return nil, err
	}
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(v), &raw); err != nil {
		return []providers.Config{}, nil
	}
	out := make([]providers.Config, 0, len(raw))
	for _, r := range raw {
		var c providers.Config
		if err := json.Unmarshal(r, &c); err != nil {
			continue
		}
		if c.ID == "" || c.DisplayName == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) SaveCustomProviders(ctx context.Context, cs []providers.Config) error {
	if cs == nil {
		cs = []providers.Config{}
	}
	b, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("encode custom providers: %w", err)
	}
	return s.setSealed(ctx, KeyCustomProviders, b)
}

// SaveImages replaces the stored message images, keeping their order.
func (s *Store) SaveImages(ctx context.Context, imgs []images.MessageImage) error {
	entries := make([]Blob, 0, len(imgs))
	for _, img := range imgs {
		b, err := json.Marshal(img)
		if err != nil {
			return fmt.Errorf("encode image %s: %w", img.ID, err)
		}
		entries = append(entries, Blob{Key: img.ID, Value: b})
	}
	return s.ReplaceBucket(ctx, BucketImages, entries)
}

func (s *Store) LoadImages(ctx context.Context) ([]images.MessageImage, error) {
	blobs, err := s.ListBlobs(ctx, BucketImages)
	if err != nil {
		return nil, err
	}
	out := make([]images.MessageImage, 0, len(blobs))
	for _, b := range blobs {
		var img images.MessageImage
		if err := json.Unmarshal(b.Value, &img); err != nil || img.ID == "" {
			continue
		}
		out = append(out, img)
	}
	return out, nil
}

func (s *Store) ClearImages(ctx context.Context) error {
	return s.ClearBucket(ctx, BucketImages)
}

// Response images are keyed by the timestamp of the history item they belong to.

func (s *Store) SaveResponseImages(ctx context.Context, timestamp int64, urls []string) error {
	b, err := json.Marshal(urls)
	if err != nil {
		return fmt.Errorf("encode response images: %w", err)
	}
	return s.PutBlob(ctx, BucketResponseImages, strconv.FormatInt(timestamp, 10), b)
}

func (s *Store) LoadResponseImages(ctx context.Context, timestamp int64) ([]string, error) {
	b, err := s.GetBlob(ctx, BucketResponseImages, strconv.FormatInt(timestamp, 10))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var urls []string
	if err := json.Unmarshal(b, &urls); err != nil {
		return nil, nil
	}
	return urls, nil
}

func (s *Store) DeleteResponseImages(ctx context.Context, timestamp int64) error {
	return s.DeleteBlob(ctx, BucketResponseImages, strconv.FormatInt(timestamp, 10))
}

func (s *Store) ClearResponseImages(ctx context.Context) error {
	return s.ClearBucket(ctx, BucketResponseImages)
}

func (s *Store) SaveFileHandle(ctx context.Context, slot, path string) error {
	return s.PutBlob(ctx, BucketFileHandles, slot, []byte(path))
}

func (s *Store) DeleteFileHandle(ctx context.Context, slot string) error {
	return s.DeleteBlob(ctx, BucketFileHandles, slot)
}

func (s *Store) LoadFileHandles(ctx context.Context) (map[string]string, error) {
	blobs, err := s.ListBlobs(ctx, BucketFileHandles)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(blobs))
	for _, b := range blobs {
		out[b.Key] = string(b.Value)
	}
	return out, nil
}

func (s *Store) ClearFileHandles(ctx context.Context) error {
	return s.ClearBucket(ctx, BucketFileHandles)
}

// DeleteHistoryItem removes the item and its generated images.
func (s *Store) DeleteHistoryItem(ctx context.Context, it history.Item) error {
	if err := s.DeleteHistory(ctx, it.ID); err != nil {
		return err
	}
	return s.DeleteResponseImages(ctx, it.Timestamp)
}

// ClearAllHistory removes every history item and every generated image.
func (s *Store) ClearAllHistory(ctx context.Context) error {
	if err := s.ClearHistory(ctx); err != nil {
		return err
	}
	return s.ClearResponseImages(ctx)
}

// MigrateLegacyHistory copies the old key/value history into the history
// table when the table is still empty, then drops the old key. It returns the
// number of copied items.
func (s *Store) MigrateLegacyHistory(ctx context.Context) (int, error) {
	v, err := s.GetValue(ctx, KeyLegacyHistory)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := s.CountHistory(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(v), &raw); err != nil {
		raw = nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin legacy migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	copied := 0
	for i, r := range raw {
		var it history.Item
		if err := json.Unmarshal(r, &it); err != nil || it.ID == "" || it.Timestamp <= 0 {
			continue
		}
		// the legacy list is newest first; keep that order on equal timestamps
		if err := s.insertHistory(ctx, tx, it, int64(len(raw)-i)); err != nil {
			return 0, err
		}
		copied++
	}
	if err := s.exec(ctx, tx, s.sql.Delete("kv").Where(sq.Eq{"key": KeyLegacyHistory}), "delete legacy history"); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit legacy migration: %w", err)
	}
	return copied, nil
}
