package request

import (
	"encoding/json"
	"strings"
	"testing"

	"llmtester/internal/images"
)

func TestBuildOrdersUserBeforeSystem(t *testing.T) {
	built, err := Build(Input{
		Provider:   "openai",
		URL:        "https://api.openai.com/v1/chat/completions",
		APIKey:     "sk-test",
		Params:     Params{Model: "gpt-3.5-turbo", MaxTokens: 100, Temperature: 0.7, TopP: 1},
		SystemText: "be brief",
		UserText:   "Hello",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(built.Messages) != 2 || built.Messages[0].Role != "user" || built.Messages[1].Role != "system" {
		t.Fatalf("unexpected messages %+v", built.Messages)
	}

	var payload map[string]any
	if err := json.Unmarshal(built.JSON, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"model", "max_tokens", "temperature", "top_p", "frequency_penalty", "presence_penalty", "stream", "messages"} {
		if _, ok := payload[k]; !ok {
			t.Fatalf("missing %q in body %s", k, built.JSON)
		}
	}
	if _, ok := payload["prompt"]; ok {
		t.Fatalf("prompt must be absent for chat targets")
	}
	if payload["stream"] != false {
		t.Fatalf("expected stream=false, got %#v", payload["stream"])
	}
	if built.Content != `[{"role":"user","content":"Hello"},{"role":"system","content":"be brief"}]` {
		t.Fatalf("unexpected content %s", built.Content)
	}
}

func TestBuildWithImagesSkipsEmptyData(t *testing.T) {
	built, err := Build(Input{
		Params:   Params{Model: "m"},
		UserText: "describe",
		Images: []images.MessageImage{
			{ID: "1", Type: images.KindURL, URL: "https://x/a.png", Base64: "data:image/png;base64,AAA"},
			{ID: "2", Type: images.KindURL, URL: "https://x/b.png"},
		},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	parts, ok := built.Messages[0].Content.([]ContentPart)
	if !ok {
		t.Fatalf("expected content parts, got %T", built.Messages[0].Content)
	}
	if len(parts) != 2 || parts[0].Type != "text" || parts[0].Text != "describe" {
		t.Fatalf("unexpected parts %+v", parts)
	}
	if parts[1].ImageURL == nil || parts[1].ImageURL.URL != "data:image/png;base64,AAA" {
		t.Fatalf("unexpected image part %+v", parts[1])
	}
}

func TestBuildImageGenerationUsesPrompt(t *testing.T) {
	built, err := Build(Input{
		Params:          Params{Model: "flux"},
		UserText:        "a cat",
		SystemText:      "sys",
		ImageGeneration: true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(built.JSON, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["prompt"] != "a cat" {
		t.Fatalf("expected prompt, got %#v", payload["prompt"])
	}
	if _, ok := payload["messages"]; ok {
		t.Fatalf("messages must be replaced by prompt")
	}
	if len(built.Messages) != 2 {
		t.Fatalf("messages are still reported for display")
	}
}

func TestCurlRendering(t *testing.T) {
	built, err := Build(Input{
		URL:      "https://api.example.com/v1/chat/completions",
		APIKey:   "sk-1",
		Params:   Params{Model: "m"},
		UserText: "it's <b>",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []string{
		"curl https://api.example.com/v1/chat/completions \\\n",
		"  -X POST \\\n",
		"  -H \"Content-Type: application/json\" \\\n",
		"  -H \"Authorization: Bearer sk-1\" \\\n",
		"  -d '{\n  \"model\": \"m\",",
	}
	for _, w := range want {
		if !strings.Contains(built.Curl, w) {
			t.Fatalf("curl missing %q:\n%s", w, built.Curl)
		}
	}
	if !strings.Contains(built.Curl, `it'\''s <b>`) {
		t.Fatalf("expected escaped quote and raw html:\n%s", built.Curl)
	}
	if !strings.HasSuffix(built.Curl, "}'") {
		t.Fatalf("curl must end with closing quote:\n%s", built.Curl)
	}
}

func TestBuildProbe(t *testing.T) {
	built, err := BuildProbe(ProbeInput{URL: "https://x", APIKey: "k", Model: "m", SystemText: "sys"})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	b := built.Body
	if b.MaxTokens != 100 || b.Temperature != 1 || b.TopP != 1 || b.FrequencyPenalty != 0 || b.PresencePenalty != 0 {
		t.Fatalf("unexpected probe sampling %+v", b)
	}
	if b.Stream != nil {
		t.Fatalf("probe must not send stream")
	}
	if len(b.Messages) != 2 || b.Messages[1].Content != "hello" {
		t.Fatalf("unexpected probe messages %+v", b.Messages)
	}

	gen, err := BuildProbe(ProbeInput{Model: "m", ImageGeneration: true})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if gen.Body.Prompt == nil || *gen.Body.Prompt != "hello" || gen.Body.Messages != nil {
		t.Fatalf("unexpected image probe %+v", gen.Body)
	}
}
