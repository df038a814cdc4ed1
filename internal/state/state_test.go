package state

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestClampOnLimitChange(t *testing.T) {
	s := DefaultSettings()
	if s.MaxTokens != 4096 {
		t.Fatalf("unexpected default %d", s.MaxTokens)
	}
	s = ReduceSettings(s, SetMaxTokensLimit(2000))
	if s.MaxTokens != 2000 || s.MaxTokensLimit != 2000 {
		t.Fatalf("expected clamp to 2000, got %d/%d", s.MaxTokens, s.MaxTokensLimit)
	}
	s = ReduceSettings(s, SetMaxTokensLimit(9000))
	if s.MaxTokens != 2000 {
		t.Fatalf("raising the limit must not change max tokens, got %d", s.MaxTokens)
	}
	s = ReduceSettings(s, SetMaxTokens(9500))
	if s.MaxTokens != 9000 {
		t.Fatalf("max tokens above limit must clamp, got %d", s.MaxTokens)
	}
}

func TestLimitFlooredAtOne(t *testing.T) {
	for _, lim := range []int{0, -5} {
		s := ReduceSettings(DefaultSettings(), SetMaxTokensLimit(lim))
		if s.MaxTokensLimit != 1 || s.MaxTokens != 1 {
			t.Fatalf("limit %d: got limit=%d maxTokens=%d", lim, s.MaxTokensLimit, s.MaxTokens)
		}

		store := NewSettingsStore(DefaultSettings())
		patch, err := DecodePatch([]byte(fmt.Sprintf(`{"maxTokensLimit":%d}`, lim)))
		if err != nil {
			t.Fatalf("decode patch: %v", err)
		}
		got := store.Dispatch(patch)
		if got.MaxTokensLimit != 1 || got.MaxTokens > got.MaxTokensLimit {
			t.Fatalf("patched limit %d: got limit=%d maxTokens=%d", lim, got.MaxTokensLimit, got.MaxTokens)
		}

		loaded := ReduceSettings(DefaultSettings(), PatchFromStorage([]byte(fmt.Sprintf(`{"maxTokensLimit":%d,"maxTokens":4096}`, lim))))
		if loaded.MaxTokens > loaded.MaxTokensLimit {
			t.Fatalf("stored limit %d: maxTokens %d above limit %d", lim, loaded.MaxTokens, loaded.MaxTokensLimit)
		}
	}
}

func TestSettingsStoreClampsEveryDispatch(t *testing.T) {
	store := NewSettingsStore(DefaultSettings())
	var seen []int
	store.Subscribe(func(prev, next SettingsState) { seen = append(seen, next.MaxTokens) })

	store.Dispatch(SetMaxTokensLimit(100))
	store.Dispatch(SetMaxTokens(50))
	if got := store.Get().MaxTokens; got != 50 {
		t.Fatalf("unexpected max tokens %d", got)
	}
	if !reflect.DeepEqual(seen, []int{100, 50}) {
		t.Fatalf("unexpected notifications %v", seen)
	}
}

func TestPatchFromStorageTypedFieldsOnly(t *testing.T) {
	raw := []byte(`{
		"provider": "cerebras",
		"model": "",
		"apiKey": 42,
		"maxTokens": 1024,
		"temperature": "hot",
		"enablePromptFile": true,
		"selectedInputModalities": ["text", 3, "image"],
		"systemPrompt": "",
		"pageSize": null,
		"unknownField": "x"
	}`)
	s := ReduceSettings(DefaultSettings(), PatchFromStorage(raw))
	if s.Provider != "cerebras" {
		t.Fatalf("provider not applied")
	}
	if s.Model != "" || s.APIKey != "" {
		t.Fatalf("empty or mistyped strings must be ignored: %+v", s)
	}
	if s.MaxTokens != 1024 || s.Temperature != 1 || !s.EnablePromptFile {
		t.Fatalf("unexpected numeric/bool fields %+v", s)
	}
	if !reflect.DeepEqual(s.SelectedInputModalities, []string{"text", "image"}) {
		t.Fatalf("unexpected modalities %v", s.SelectedInputModalities)
	}
	if s.PageSize != 10 {
		t.Fatalf("null must be ignored, got page size %d", s.PageSize)
	}
}

func TestPatchFromStorageBrokenBlob(t *testing.T) {
	if PatchFromStorage([]byte("{not json")) != nil {
		t.Fatalf("broken blob must yield no patch")
	}
	if PatchFromStorage(nil) != nil {
		t.Fatalf("missing blob must yield no patch")
	}
	s := ReduceSettings(DefaultSettings(), PatchFromStorage([]byte("[1,2]")))
	if s.Provider != "openrouter" {
		t.Fatalf("non-object blob must not change settings")
	}
}

func TestDecodePatchAllowsClearing(t *testing.T) {
	u, err := DecodePatch([]byte(`{"apiKey":""}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	start := DefaultSettings()
	start.APIKey = "sk"
	if got := ReduceSettings(start, u); got.APIKey != "" {
		t.Fatalf("user edits may clear the key")
	}
}

func TestRunTransitions(t *testing.T) {
	r := ReduceRun(DefaultRun(), StartTest("curl ..."))
	if !r.Loading || r.Outcome != OutcomeLoading || r.RequestData != "curl ..." {
		t.Fatalf("unexpected loading state %+v", r)
	}
	d := int64(12)
	ok := ReduceRun(r, FinishTest("{}", "", &d))
	if ok.Loading || ok.Outcome != OutcomeSuccess || *ok.ResponseDuration != 12 {
		t.Fatalf("unexpected success state %+v", ok)
	}
	failed := ReduceRun(r, FinishTest("{}", "API Error: 500 - boom", nil))
	if failed.Outcome != OutcomeError || failed.Error == "" {
		t.Fatalf("unexpected error state %+v", failed)
	}
	aborted := ReduceRun(r, Interrupt())
	if aborted.Loading || aborted.Outcome != OutcomeInterrupted || aborted.Error != "" {
		t.Fatalf("unexpected interrupted state %+v", aborted)
	}
}

func TestStoreConcurrentDispatch(t *testing.T) {
	store := NewRunStore(DefaultRun())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Dispatch(Warn("w"))
		}()
	}
	wg.Wait()
	if got := len(store.Get().Warnings); got != 50 {
		t.Fatalf("expected 50 warnings, got %d", got)
	}
}

func TestUserMessageAliasesPrompt(t *testing.T) {
	u, err := DecodePatch([]byte(`{"userMessage":"from alias"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	s := ReduceSettings(DefaultSettings(), u)
	if s.Prompt != "from alias" || s.UserMessage != "from alias" {
		t.Fatalf("alias not applied: prompt=%q userMessage=%q", s.Prompt, s.UserMessage)
	}

	u, err = DecodePatch([]byte(`{"userMessage":"ignored","prompt":"wins"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	s = ReduceSettings(DefaultSettings(), u)
	if s.Prompt != "wins" || s.UserMessage != "wins" {
		t.Fatalf("prompt must win over its alias: prompt=%q userMessage=%q", s.Prompt, s.UserMessage)
	}

	s = ReduceSettings(DefaultSettings(), PatchFromStorage([]byte(`{"userMessage":"stored"}`)))
	if s.Prompt != "stored" {
		t.Fatalf("stored alias not loaded: %q", s.Prompt)
	}
}
