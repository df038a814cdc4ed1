// Package request assembles chat request bodies and their curl rendering.
package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"llmtester/internal/images"
)

const (
	RoleUser   = "user"
	RoleSystem = "system"

	ProbeText      = "hello"
	ProbeMaxTokens = 100
)

// Params are the sampling settings copied into the body.
type Params struct {
	Model            string
	MaxTokens        int
	Temperature      float64
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	Stream           bool
}

// Message content is either a string or a []ContentPart.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// Body is the JSON sent to the provider. Field order is the wire order.
type Body struct {
	Model            string    `json:"model"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	TopP             float64   `json:"top_p"`
	FrequencyPenalty float64   `json:"frequency_penalty"`
	PresencePenalty  float64   `json:"presence_penalty"`
	Stream           *bool     `json:"stream,omitempty"`
	Prompt           *string   `json:"prompt,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
}

type Input struct {
	Provider        string
	URL             string
	APIKey          string
	Params          Params
	SystemText      string
	UserText        string
	Images          []images.MessageImage
	ImageGeneration bool
}

type Built struct {
	Messages []Message
	Body     Body
	// JSON is the exact payload to POST.
	JSON    []byte
	Curl    string
	Content string
}

// UserContent returns userText alone, or a text part followed by one
// image_url part per image that carries data.
func UserContent(userText string, imgs []images.MessageImage) any {
	if len(imgs) == 0 {
		return userText
	}
	parts := []ContentPart{{Type: "text", Text: userText}}
	for _, img := range imgs {
		if img.Base64 == "" {
			continue
		}
		parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: img.Base64}})
	}
	return parts
}

// Messages is always [user, system].
func Messages(systemText string, userContent any) []Message {
	return []Message{
		{Role: RoleUser, Content: userContent},
		{Role: RoleSystem, Content: systemText},
	}
}

func Build(in Input) (Built, error) {
	messages := Messages(in.SystemText, UserContent(in.UserText, in.Images))
	stream := in.Params.Stream
	body := Body{
		Model:            in.Params.Model,
		MaxTokens:        in.Params.MaxTokens,
		Temperature:      in.Params.Temperature,
		TopP:             in.Params.TopP,
		FrequencyPenalty: in.Params.FrequencyPenalty,
		PresencePenalty:  in.Params.PresencePenalty,
		Stream:           &stream,
	}
	if in.ImageGeneration {
		prompt := in.UserText
		body.Prompt = &prompt
	} else {
		body.Messages = messages
	}

	raw, err := marshal(body)
	if err != nil {
		return Built{}, fmt.Errorf("marshal request body: %w", err)
	}
	content, err := marshal(messages)
	if err != nil {
		return Built{}, fmt.Errorf("marshal request content: %w", err)
	}
	curl, err := Curl(in.URL, in.APIKey, body)
	if err != nil {
		return Built{}, err
	}
	return Built{Messages: messages, Body: body, JSON: raw, Curl: curl, Content: string(content)}, nil
}

type ProbeInput struct {
	Provider        string
	URL             string
	APIKey          string
	Model           string
	SystemText      string
	ImageGeneration bool
}

// BuildProbe builds the minimal connectivity request. Its messages are
// system first, unlike Build.
func BuildProbe(in ProbeInput) (Built, error) {
	body := Body{
		Model:            in.Model,
		MaxTokens:        ProbeMaxTokens,
		Temperature:      1,
		TopP:             1,
		FrequencyPenalty: 0,
		PresencePenalty:  0,
	}
	if in.ImageGeneration {
		prompt := ProbeText
		body.Prompt = &prompt
	} else {
		body.Messages = []Message{
			{Role: RoleSystem, Content: in.SystemText},
			{Role: RoleUser, Content: ProbeText},
		}
	}
	raw, err := marshal(body)
	if err != nil {
		return Built{}, fmt.Errorf("marshal probe body: %w", err)
	}
	curl, err := Curl(in.URL, in.APIKey, body)
	if err != nil {
		return Built{}, err
	}
	return Built{Messages: body.Messages, Body: body, JSON: raw, Curl: curl}, nil
}

// Curl renders body as a multi-line shell command. The key is included as is.
func Curl(url, apiKey string, body any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(body); err != nil {
		return "", fmt.Errorf("render curl body: %w", err)
	}
	pretty := strings.TrimSuffix(buf.String(), "\n")

	var b strings.Builder
	fmt.Fprintf(&b, "curl %s \\\n", url)
	b.WriteString("  -X POST \\\n")
	b.WriteString("  -H \"Content-Type: application/json\" \\\n")
	fmt.Fprintf(&b, "  -H \"Authorization: Bearer %s\" \\\n", apiKey)
	fmt.Fprintf(&b, "  -d '%s'", shellQuote(pretty))
	return b.String(), nil
}

func shellQuote(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
