package response

import (
	"encoding/json"
	"strings"
)

type displayPart struct {
	Type     string `json:"type"`
	Text     any    `json:"text"`
	ImageURL *struct {
		URL any `json:"url"`
	} `json:"image_url"`
}

type displayMessage struct {
	Content json.RawMessage `json:"content"`
}

// ExtractImagesFromRequestContent lists the image_url parts of a stored
// messages array.
func ExtractImagesFromRequestContent(requestContent string) []string {
	if strings.TrimSpace(requestContent) == "" {
		return nil
	}
	var msgs []displayMessage
	if json.Unmarshal([]byte(requestContent), &msgs) != nil {
		return nil
	}
	var out []string
	for _, m := range msgs {
		var parts []displayPart
		if json.Unmarshal(m.Content, &parts) != nil {
			continue
		}
		for _, p := range parts {
			if p.Type != "image_url" || p.ImageURL == nil {
				continue
			}
			if u, ok := p.ImageURL.URL.(string); ok && (strings.HasPrefix(u, "data:image/") || isHTTP(u)) {
				out = append(out, u)
			}
		}
	}
	return out
}

// ExtractImagesFromResponseContent returns the images to show for a history
// entry. Saved generated images win, then data URLs in the content itself,
// then image urls found in the stored HTTP dump.
func ExtractImagesFromResponseContent(content, raw string, saved []string) []string {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if len(saved) > 0 {
		return saved
	}
	if strings.HasPrefix(content, "data:image") {
		return []string{content}
	}
	if strings.Contains(content, "\n") {
		lines := strings.Split(content, "\n")
		all := true
		for _, l := range lines {
			if !strings.HasPrefix(l, "data:image") {
				all = false
				break
			}
		}
		if all {
			return lines
		}
	}

	var dump map[string]json.RawMessage
	if json.Unmarshal([]byte(raw), &dump) != nil {
		return nil
	}
	bodyRaw := json.RawMessage(raw)
	if b, ok := dump["body"]; ok && len(b) > 0 && b[0] == '{' {
		bodyRaw = b
	}
	var body struct {
		Images []struct {
			URL any `json:"url"`
		} `json:"images"`
		Choices []struct {
			Message *struct {
				Images []struct {
					ImageURL *struct {
						URL any `json:"url"`
					} `json:"image_url"`
				} `json:"images"`
			} `json:"message"`
		} `json:"choices"`
	}
	if json.Unmarshal(bodyRaw, &body) != nil {
		return nil
	}
	var out []string
	for _, img := range body.Images {
		if u, ok := img.URL.(string); ok && isHTTP(u) {
			out = append(out, u)
		}
	}
	for _, c := range body.Choices {
		if c.Message == nil {
			continue
		}
		for _, img := range c.Message.Images {
			if img.ImageURL == nil {
				continue
			}
			if u, ok := img.ImageURL.URL.(string); ok && (strings.HasPrefix(u, "data:image") || isHTTP(u)) {
				out = append(out, u)
			}
		}
	}
	return out
}

// FormatRequestContentForDisplay joins the text of a stored messages array.
// Anything else is returned unchanged.
func FormatRequestContentForDisplay(requestContent string) string {
	var msgs []displayMessage
	if json.Unmarshal([]byte(requestContent), &msgs) != nil {
		return requestContent
	}
	var texts []string
	for _, m := range msgs {
		if s := stringOf(m.Content); s != "" {
			texts = append(texts, s)
			continue
		}
		var parts []displayPart
		if json.Unmarshal(m.Content, &parts) != nil {
			continue
		}
		for _, p := range parts {
			if p.Type == "text" {
				s, _ := p.Text.(string)
				texts = append(texts, s)
			}
		}
	}
	return strings.Join(texts, "\n")
}
