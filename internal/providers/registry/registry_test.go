package registry

import (
	"context"
	"testing"

	"llmtester/internal/config"
	"llmtester/internal/providers"
)

type memStore struct {
	saved []providers.Config
}

func (m *memStore) LoadCustomProviders(context.Context) ([]providers.Config, error) {
	return m.saved, nil
}

func (m *memStore) SaveCustomProviders(_ context.Context, cs []providers.Config) error {
	m.saved = cs
	return nil
}

func TestNewMergesPresetsSavedWin(t *testing.T) {
	store := &memStore{saved: []providers.Config{{ID: "gw", DisplayName: "Saved", BaseURL: "https://saved"}}}
	r, err := New(context.Background(), store, []config.ProviderPreset{
		{ID: "gw", Name: "Preset", BaseURL: "https://preset"},
		{ID: "local", Name: "Local", BaseURL: "http://127.0.0.1:8000", APIPath: "/v1/chat/completions"},
		{ID: "openai", Name: "Shadow"},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	gw, ok := r.Lookup("gw")
	if !ok || gw.BaseURL != "https://saved" {
		t.Fatalf("saved provider must win, got %+v", gw)
	}
	if _, ok := r.Lookup("local"); !ok {
		t.Fatalf("preset missing")
	}
	openai, _ := r.Lookup("openai")
	if openai.DisplayName != "OpenAI" {
		t.Fatalf("builtin must not be shadowed, got %+v", openai)
	}
	if len(r.Custom()) != 2 {
		t.Fatalf("expected 2 custom providers, got %d", len(r.Custom()))
	}
}

func TestSaveAndDeleteCustom(t *testing.T) {
	store := &memStore{}
	r, err := New(context.Background(), store, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := r.SaveCustom(context.Background(), providers.Config{ID: "openrouter"}); err == nil {
		t.Fatalf("expected reserved id error")
	}
	if err := r.SaveCustom(context.Background(), providers.Config{ID: "mine", BaseURL: "https://a"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := r.SaveCustom(context.Background(), providers.Config{ID: "mine", BaseURL: "https://b"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(store.saved) != 1 || store.saved[0].BaseURL != "https://b" || store.saved[0].DisplayName != "mine" {
		t.Fatalf("unexpected saved list %+v", store.saved)
	}
	if err := r.DeleteCustom(context.Background(), "mine"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := r.Lookup("mine"); ok {
		t.Fatalf("provider should be gone")
	}
}
