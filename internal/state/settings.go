// Package state holds the settings and run state as immutable values updated
// through pure reducers.
package state

import (
	"encoding/json"
	"fmt"
)

// SettingsKey is the storage key of the persisted settings blob.
const SettingsKey = "llm-api-test-settings"

type SettingsState struct {
	Provider                    string   `json:"provider"`
	Model                       string   `json:"model"`
	APIKey                      string   `json:"apiKey"`
	BaseURL                     string   `json:"baseURL"`
	APIPath                     string   `json:"apiPath"`
	SystemPrompt                string   `json:"systemPrompt"`
	UserMessage                 string   `json:"userMessage"` // mirrors Prompt
	PromptFilePath              string   `json:"promptFilePath"`
	EnablePromptFile            bool     `json:"enablePromptFile"`
	SystemPromptFilePath        string   `json:"systemPromptFilePath"`
	EnableSystemPromptFile      bool     `json:"enableSystemPromptFile"`
	AutoReloadPrompt            bool     `json:"autoReloadPrompt"`
	AutoReloadSystemPrompt      bool     `json:"autoReloadSystemPrompt"`
	AutoReloadImages            bool     `json:"autoReloadImages"`
	MaxTokens                   int      `json:"maxTokens"`
	Temperature                 float64  `json:"temperature"`
	TopP                        float64  `json:"topP"`
	FrequencyPenalty            float64  `json:"frequencyPenalty"`
	PresencePenalty             float64  `json:"presencePenalty"`
	Stream                      bool     `json:"stream"`
	ShowRawColumns              bool     `json:"showRawColumns"`
	ExpandRequestContent        bool     `json:"expandRequestContent"`
	ExpandResponseContent       bool     `json:"expandResponseContent"`
	TimerEnabled                bool     `json:"timerEnabled"`
	TimerInterval               int      `json:"timerInterval"`
	MaxTokensLimit              int      `json:"maxTokensLimit"`
	PageSize                    int      `json:"pageSize"`
	Prompt                      string   `json:"prompt"`
	IsParametersExpanded        bool     `json:"isParametersExpanded"`
	IsPromptFromLocalFile       bool     `json:"isPromptFromLocalFile"`
	IsSystemPromptFromLocalFile bool     `json:"isSystemPromptFromLocalFile"`
	PromptLoadedContent         string   `json:"promptLoadedContent"`
	SystemPromptLoadedContent   string   `json:"systemPromptLoadedContent"`
	SelectedInputModalities     []string `json:"selectedInputModalities"`
	SelectedOutputModalities    []string `json:"selectedOutputModalities"`
	ModelSearchQuery            string   `json:"modelSearchQuery"`
	AvailableInputModalities    []string `json:"availableInputModalities"`
	AvailableOutputModalities   []string `json:"availableOutputModalities"`
	ImageURL                    string   `json:"imageUrl"`
	ShowImageURLInput           bool     `json:"showImageUrlInput"`
	IsAddingImageURL            bool     `json:"isAddingImageUrl"`
}

// DefaultSettings is the state of a fresh install.
func DefaultSettings() SettingsState {
	return SettingsState{
		Provider:                  "openrouter",
		BaseURL:                   "https://openrouter.ai/api",
		APIPath:                   "/v1/chat/completions",
		UserMessage:               "Hello, how are you?",
		Prompt:                    "Hello, how are you?",
		MaxTokens:                 4096,
		Temperature:               1,
		TopP:                      1,
		TimerInterval:             60,
		MaxTokensLimit:            8192,
		PageSize:                  10,
		IsParametersExpanded:      true,
		SelectedInputModalities:   []string{},
		SelectedOutputModalities:  []string{},
		AvailableInputModalities:  []string{},
		AvailableOutputModalities: []string{},
	}
}

// SettingsUpdate is one pure change to the settings.
type SettingsUpdate func(SettingsState) SettingsState

// ReduceSettings applies updates in order and then re-establishes the
// max tokens clamp.
func ReduceSettings(s SettingsState, updates ...SettingsUpdate) SettingsState {
	for _, u := range updates {
		if u != nil {
			s = u(s)
		}
	}
	return clampMaxTokens(s)
}

// MinMaxTokensLimit is the lowest limit the settings accept.
const MinMaxTokensLimit = 1

func clampMaxTokens(s SettingsState) SettingsState {
	s.MaxTokensLimit = max(s.MaxTokensLimit, MinMaxTokensLimit)
	if s.MaxTokens > s.MaxTokensLimit {
		s.MaxTokens = s.MaxTokensLimit
	}
	return s
}

func SetMaxTokensLimit(limit int) SettingsUpdate {
	return func(s SettingsState) SettingsState {
		s.MaxTokensLimit = max(limit, MinMaxTokensLimit)
		return s
	}
}

func SetMaxTokens(n int) SettingsUpdate {
	return func(s SettingsState) SettingsState {
		s.MaxTokens = n
		return s
	}
}

// SelectProvider switches provider and loads its endpoint defaults.
func SelectProvider(id, baseURL, apiPath string) SettingsUpdate {
	return func(s SettingsState) SettingsState {
		s.Provider = id
		s.BaseURL = baseURL
		s.APIPath = apiPath
		return s
	}
}

// ApplyModelHistory restores a remembered configuration.
func ApplyModelHistory(provider, model, apiKey, baseURL, apiPath string) SettingsUpdate {
	return func(s SettingsState) SettingsState {
		s.Provider = provider
		s.Model = model
		s.APIKey = apiKey
		s.BaseURL = baseURL
		s.APIPath = apiPath
		return s
	}
}

// SetLoadedContent caches the last loaded external text for a slot.
func SetLoadedContent(system bool, text string) SettingsUpdate {
	return func(s SettingsState) SettingsState {
		if system {
			s.SystemPromptLoadedContent = text
		} else {
			s.PromptLoadedContent = text
		}
		return s
	}
}

// SetTextSource records where a slot's external text comes from and what
// was last loaded from it.
func SetTextSource(system bool, path string, fromLocalFile bool, loaded string) SettingsUpdate {
	return func(s SettingsState) SettingsState {
		if system {
			s.SystemPromptFilePath = path
			s.IsSystemPromptFromLocalFile = fromLocalFile
			s.SystemPromptLoadedContent = loaded
		} else {
			s.PromptFilePath = path
			s.IsPromptFromLocalFile = fromLocalFile
			s.PromptLoadedContent = loaded
		}
		return s
	}
}

// Reset returns to a fresh install.
func Reset() SettingsUpdate {
	return func(SettingsState) SettingsState {
		return DefaultSettings()
	}
}

// fieldSetter applies one typed field. allowEmpty lets required strings be
// cleared, which only user edits may do.
type fieldSetter func(s *SettingsState, raw json.RawMessage, allowEmpty bool) bool

func str(dst func(*SettingsState) *string, nonEmpty bool) fieldSetter {
	return func(s *SettingsState, raw json.RawMessage, allowEmpty bool) bool {
		var v string
		if json.Unmarshal(raw, &v) != nil || (nonEmpty && !allowEmpty && v == "") {
			return false
		}
		*dst(s) = v
		return true
	}
}

func boolean(dst func(*SettingsState) *bool) fieldSetter {
	return func(s *SettingsState, raw json.RawMessage, _ bool) bool {
		var v bool
		if json.Unmarshal(raw, &v) != nil {
			return false
		}
		*dst(s) = v
		return true
	}
}

func number(dst func(*SettingsState) *float64) fieldSetter {
	return func(s *SettingsState, raw json.RawMessage, _ bool) bool {
		var v float64
		if json.Unmarshal(raw, &v) != nil {
			return false
		}
		*dst(s) = v
		return true
	}
}

func integer(dst func(*SettingsState) *int) fieldSetter {
	return func(s *SettingsState, raw json.RawMessage, _ bool) bool {
		var v float64
		if json.Unmarshal(raw, &v) != nil {
			return false
		}
		*dst(s) = int(v)
		return true
	}
}

// tokenLimit is an integer floored at MinMaxTokensLimit.
func tokenLimit(dst func(*SettingsState) *int) fieldSetter {
	set := integer(dst)
	return func(s *SettingsState, raw json.RawMessage, allowEmpty bool) bool {
		if !set(s, raw, allowEmpty) {
			return false
		}
		*dst(s) = max(*dst(s), MinMaxTokensLimit)
		return true
	}
}

// userText sets Prompt and its alias UserMessage together.
func userText(s *SettingsState, raw json.RawMessage, _ bool) bool {
	var v string
	if json.Unmarshal(raw, &v) != nil {
		return false
	}
	s.Prompt, s.UserMessage = v, v
	return true
}

// settingsAliases maps alternate keys onto their field. The canonical key wins
// when a patch carries both.
var settingsAliases = map[string]string{
	"userMessage": "prompt",
}

// stringList keeps only the string members of an array.
func stringList(dst func(*SettingsState) *[]string) fieldSetter {
	return func(s *SettingsState, raw json.RawMessage, _ bool) bool {
		var items []any
		if json.Unmarshal(raw, &items) != nil || items == nil {
			return false
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			if v, ok := it.(string); ok {
				out = append(out, v)
			}
		}
		*dst(s) = out
		return true
	}
}

var settingsFields = map[string]fieldSetter{
	"provider":                    str(func(s *SettingsState) *string { return &s.Provider }, true),
	"model":                       str(func(s *SettingsState) *string { return &s.Model }, true),
	"apiKey":                      str(func(s *SettingsState) *string { return &s.APIKey }, true),
	"baseURL":                     str(func(s *SettingsState) *string { return &s.BaseURL }, true),
	"apiPath":                     str(func(s *SettingsState) *string { return &s.APIPath }, true),
	"systemPrompt":                str(func(s *SettingsState) *string { return &s.SystemPrompt }, false),
	"promptFilePath":              str(func(s *SettingsState) *string { return &s.PromptFilePath }, false),
	"enablePromptFile":            boolean(func(s *SettingsState) *bool { return &s.EnablePromptFile }),
	"systemPromptFilePath":        str(func(s *SettingsState) *string { return &s.SystemPromptFilePath }, false),
	"enableSystemPromptFile":      boolean(func(s *SettingsState) *bool { return &s.EnableSystemPromptFile }),
	"autoReloadPrompt":            boolean(func(s *SettingsState) *bool { return &s.AutoReloadPrompt }),
	"autoReloadSystemPrompt":      boolean(func(s *SettingsState) *bool { return &s.AutoReloadSystemPrompt }),
	"autoReloadImages":            boolean(func(s *SettingsState) *bool { return &s.AutoReloadImages }),
	"maxTokens":                   integer(func(s *SettingsState) *int { return &s.MaxTokens }),
	"temperature":                 number(func(s *SettingsState) *float64 { return &s.Temperature }),
	"topP":                        number(func(s *SettingsState) *float64 { return &s.TopP }),
	"frequencyPenalty":            number(func(s *SettingsState) *float64 { return &s.FrequencyPenalty }),
	"presencePenalty":             number(func(s *SettingsState) *float64 { return &s.PresencePenalty }),
	"stream":                      boolean(func(s *SettingsState) *bool { return &s.Stream }),
	"showRawColumns":              boolean(func(s *SettingsState) *bool { return &s.ShowRawColumns }),
	"expandRequestContent":        boolean(func(s *SettingsState) *bool { return &s.ExpandRequestContent }),
	"expandResponseContent":       boolean(func(s *SettingsState) *bool { return &s.ExpandResponseContent }),
	"timerEnabled":                boolean(func(s *SettingsState) *bool { return &s.TimerEnabled }),
	"timerInterval":               integer(func(s *SettingsState) *int { return &s.TimerInterval }),
	"maxTokensLimit":              tokenLimit(func(s *SettingsState) *int { return &s.MaxTokensLimit }),
	"pageSize":                    integer(func(s *SettingsState) *int { return &s.PageSize }),
	"prompt":                      userText,
	"isParametersExpanded":        boolean(func(s *SettingsState) *bool { return &s.IsParametersExpanded }),
	"isPromptFromLocalFile":       boolean(func(s *SettingsState) *bool { return &s.IsPromptFromLocalFile }),
	"isSystemPromptFromLocalFile": boolean(func(s *SettingsState) *bool { return &s.IsSystemPromptFromLocalFile }),
	"promptLoadedContent":         str(func(s *SettingsState) *string { return &s.PromptLoadedContent }, false),
	"systemPromptLoadedContent":   str(func(s *SettingsState) *string { return &s.SystemPromptLoadedContent }, false),
	"selectedInputModalities":     stringList(func(s *SettingsState) *[]string { return &s.SelectedInputModalities }),
	"selectedOutputModalities":    stringList(func(s *SettingsState) *[]string { return &s.SelectedOutputModalities }),
	"modelSearchQuery":            str(func(s *SettingsState) *string { return &s.ModelSearchQuery }, false),
	"availableInputModalities":    stringList(func(s *SettingsState) *[]string { return &s.AvailableInputModalities }),
	"availableOutputModalities":   stringList(func(s *SettingsState) *[]string { return &s.AvailableOutputModalities }),
	"imageUrl":                    str(func(s *SettingsState) *string { return &s.ImageURL }, false),
	"showImageUrlInput":           boolean(func(s *SettingsState) *bool { return &s.ShowImageURLInput }),
	"isAddingImageUrl":            boolean(func(s *SettingsState) *bool { return &s.IsAddingImageURL }),
}

// DecodePatch turns a JSON object of user edits into an update that touches
// only the well-typed known fields. Unknown or mistyped fields are ignored.
func DecodePatch(raw []byte) (SettingsUpdate, error) {
	return decodePatch(raw, true)
}

// PatchFromStorage is the loader for the persisted blob: required strings
// must be non-empty, and a missing or broken blob yields a no-op.
func PatchFromStorage(raw []byte) SettingsUpdate {
	if len(raw) == 0 {
		return nil
	}
	u, err := decodePatch(raw, false)
	if err != nil {
		return nil
	}
	return u
}

func decodePatch(raw []byte, allowEmpty bool) (SettingsUpdate, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode settings patch: %w", err)
	}
	return func(s SettingsState) SettingsState {
		for key, value := range obj {
			if string(value) == "null" {
				continue
			}
			if canonical, ok := settingsAliases[key]; ok {
				if _, both := obj[canonical]; both {
					continue
				}
				key = canonical
			}
			if set, ok := settingsFields[key]; ok {
				set(&s, value, allowEmpty)
			}
		}
		return s
	}, nil
}
