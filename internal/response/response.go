// Package response turns raw provider answers into display text, generated
// image attachments and a formatted HTTP dump.
package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"llmtester/internal/images"
)

// Shape is the recognized layout of a response body.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeImageGeneration
	ShapeChat
	ShapeChatReasoning
	ShapeAnthropic
)

func (s Shape) String() string {
	switch s {
	case ShapeImageGeneration:
		return "image_generation"
	case ShapeChat:
		return "chat"
	case ShapeChatReasoning:
		return "chat_reasoning"
	case ShapeAnthropic:
		return "anthropic"
	default:
		return "unknown"
	}
}

type Result struct {
	Shape   Shape
	Content string
	Images  []images.MessageImage
}

// body holds the fields that decide the shape. Raw sub-documents are kept so
// fallbacks can be re-emitted in their original key order.
type body struct {
	raw     []byte
	images  []json.RawMessage
	message map[string]json.RawMessage
	rawMsg  json.RawMessage
	text    string
}

// Parse extracts the primary content from a response body. A body that is
// not JSON is returned as is.
func Parse(raw []byte, now time.Time) Result {
	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) {
		return Result{Shape: ShapeUnknown, Content: string(raw)}
	}
	b := decode(trimmed)
	shape := detect(b)
	switch shape {
	case ShapeImageGeneration:
		return parseImageGeneration(b, now)
	case ShapeChat, ShapeChatReasoning:
		return parseChat(b, shape)
	case ShapeAnthropic:
		return Result{Shape: ShapeAnthropic, Content: b.text}
	default:
		return Result{Shape: ShapeUnknown, Content: compact(b.raw)}
	}
}

func decode(raw []byte) body {
	b := body{raw: raw}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return b
	}
	_ = json.Unmarshal(top["images"], &b.images)

	var choices []struct {
		Message json.RawMessage `json:"message"`
	}
	if json.Unmarshal(top["choices"], &choices) == nil && len(choices) > 0 && !isNull(choices[0].Message) {
		b.rawMsg = choices[0].Message
		_ = json.Unmarshal(choices[0].Message, &b.message)
	}

	var blocks []struct {
		Text any `json:"text"`
	}
	if json.Unmarshal(top["content"], &blocks) == nil && len(blocks) > 0 {
		if s, ok := blocks[0].Text.(string); ok {
			b.text = s
		}
	}
	return b
}

func detect(b body) Shape {
	switch {
	case len(b.images) > 0:
		return ShapeImageGeneration
	case b.rawMsg != nil:
		if reasoningOf(b.message) != "" {
			return ShapeChatReasoning
		}
		return ShapeChat
	case b.text != "":
		return ShapeAnthropic
	default:
		return ShapeUnknown
	}
}

func parseImageGeneration(b body, now time.Time) Result {
	var urls []string
	for _, item := range b.images {
		var img struct {
			URL any `json:"url"`
		}
		if json.Unmarshal(item, &img) != nil {
			continue
		}
		if u, ok := img.URL.(string); ok && isHTTP(u) {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return Result{Shape: ShapeImageGeneration, Content: compact(b.raw)}
	}
	ms := now.UnixMilli()
	out := make([]images.MessageImage, len(urls))
	for i, u := range urls {
		out[i] = images.MessageImage{
			ID:   fmt.Sprintf("response-%d-%d", ms, i),
			Type: images.KindURL,
			URL:  u,
		}
	}
	return Result{Shape: ShapeImageGeneration, Content: strings.Join(urls, "\n"), Images: out}
}

func parseChat(b body, shape Shape) Result {
	content := textOf(b.message["content"])
	reasoning := reasoningOf(b.message)
	switch {
	case reasoning != "" && content != "":
		content = fmt.Sprintf("<Thinking>\n%s\n</Thinking>\n\n%s", reasoning, content)
	case reasoning != "":
		content = reasoning
	case content == "":
		content = compact(b.rawMsg)
	}
	return Result{Shape: shape, Content: content}
}

// reasoningOf prefers reasoning_details[0].text over reasoning_content and
// reasoning.
func reasoningOf(msg map[string]json.RawMessage) string {
	if msg == nil {
		return ""
	}
	var details []struct {
		Text any `json:"text"`
	}
	if json.Unmarshal(msg["reasoning_details"], &details) == nil && len(details) > 0 {
		if s, ok := details[0].Text.(string); ok && s != "" {
			return s
		}
	}
	if s := stringOf(msg["reasoning_content"]); s != "" {
		return s
	}
	return stringOf(msg["reasoning"])
}

// textOf accepts a string or an array of parts and returns their text.
func textOf(raw json.RawMessage) string {
	if s := stringOf(raw); s != "" {
		return s
	}
	var parts []map[string]any
	if json.Unmarshal(raw, &parts) != nil {
		return ""
	}
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if s, ok := p["text"].(string); ok {
			texts = append(texts, s)
		}
	}
	return strings.Join(texts, "\n")
}

func stringOf(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func isHTTP(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func compact(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// ErrorMessage returns error.message from a JSON error body, falling back to
// statusText.
func ErrorMessage(raw []byte, statusText string) string {
	var e struct {
		Error struct {
			Message any `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil {
		if s, ok := e.Error.Message.(string); ok && s != "" {
			return s
		}
	}
	return statusText
}

type envelope struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       any               `json:"body"`
}

// FormatForDisplay renders status, headers and body as pretty JSON. Bodies
// that are not JSON are embedded as a string.
func FormatForDisplay(status int, statusText string, header http.Header, raw []byte) string {
	env := envelope{
		Status:     status,
		StatusText: statusText,
		Headers:    flattenHeaders(header),
		Body:       string(raw),
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && json.Valid(trimmed) {
		env.Body = json.RawMessage(trimmed)
	}
	return prettyJSON(env)
}

// FormatError renders a transport failure the way it is stored in history.
func FormatError(msg string) string {
	return prettyJSON(map[string]string{"error": msg})
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lk := strings.ToLower(k)
		if prev, ok := out[lk]; ok {
			out[lk] = prev + ", " + strings.Join(h[k], ", ")
			continue
		}
		out[lk] = strings.Join(h[k], ", ")
	}
	return out
}

func prettyJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
