package providers

import (
	"strings"
)

const (
	OpenAI     = "openai"
	Anthropic  = "anthropic"
	Gemini     = "gemini"
	DeepSeek   = "deepseek"
	XAI        = "xai"
	OpenRouter = "openrouter"
	Cerebras   = "cerebras"
	ModelScope = "modelscope"
	Custom     = "custom"
)

// ModelScopeImageGenerationURL replaces the chat endpoint for ModelScope
// models whose task types include image generation.
const ModelScopeImageGenerationURL = "https://api-inference.modelscope.cn/v1/images/generations"

// Config is one provider's connection settings.
type Config struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	BaseURL     string `json:"baseURL"`
	APIPath     string `json:"apiPath"`
	APIKey      string `json:"apiKey,omitempty"`
}

var builtins = []Config{
	{ID: OpenAI, DisplayName: "OpenAI", BaseURL: "https://api.openai.com", APIPath: "/v1/chat/completions"},
	{ID: Anthropic, DisplayName: "Anthropic", BaseURL: "https://api.anthropic.com", APIPath: "/v1/messages"},
	{ID: Gemini, DisplayName: "Gemini", BaseURL: "https://generativelanguage.googleapis.com", APIPath: "/v1beta/openai/chat/completions"},
	{ID: DeepSeek, DisplayName: "DeepSeek", BaseURL: "https://api.deepseek.com", APIPath: "/v1/chat/completions"},
	{ID: XAI, DisplayName: "xAI", BaseURL: "https://api.x.ai", APIPath: "/v1/chat/completions"},
	{ID: OpenRouter, DisplayName: "OpenRouter", BaseURL: "https://openrouter.ai/api", APIPath: "/v1/chat/completions"},
	{ID: Cerebras, DisplayName: "Cerebras", BaseURL: "https://api.cerebras.ai", APIPath: "/v1/chat/completions"},
	{ID: ModelScope, DisplayName: "ModelScope", BaseURL: "https://api-inference.modelscope.cn", APIPath: "/v1/chat/completions"},
	{ID: Custom, DisplayName: "Custom"},
}

// Builtins returns a copy of the well-known provider table.
func Builtins() []Config {
	out := make([]Config, len(builtins))
	copy(out, builtins)
	return out
}

// Builtin looks up a well-known provider by id.
func Builtin(id string) (Config, bool) {
	for _, c := range builtins {
		if c.ID == id {
			return c, true
		}
	}
	return Config{}, false
}

func IsBuiltin(id string) bool {
	_, ok := Builtin(id)
	return ok
}

// JoinURL concatenates base and path after stripping one trailing slash from base.
func JoinURL(base, path string) string {
	return strings.TrimSuffix(strings.TrimSpace(base), "/") + strings.TrimSpace(path)
}

// Endpoint is the resolved target of one request.
type Endpoint struct {
	URL             string
	ImageGeneration bool
}

// ResolveEndpoint picks the request URL. imageGeneration is the caller's
// catalog lookup for the active model; only ModelScope routes on it.
func ResolveEndpoint(cfg Config, imageGeneration bool) Endpoint {
	if cfg.ID == ModelScope && imageGeneration {
		return Endpoint{URL: ModelScopeImageGenerationURL, ImageGeneration: true}
	}
	return Endpoint{URL: JoinURL(cfg.BaseURL, cfg.APIPath)}
}
