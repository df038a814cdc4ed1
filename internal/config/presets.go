package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ProviderPreset is one custom provider declared in PROVIDERS_FILE.
type ProviderPreset struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	APIPath string `yaml:"api_path"`
	APIKey  string `yaml:"api_key,omitempty"`
}

type presetFile struct {
	Providers []ProviderPreset `yaml:"providers"`
}

// LoadProviderPresets reads the YAML preset file. An empty path yields no presets.
func LoadProviderPresets(path string) ([]ProviderPreset, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}
	return ParseProviderPresets(raw)
}

func ParseProviderPresets(raw []byte) ([]ProviderPreset, error) {
	var f presetFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}
	out := make([]ProviderPreset, 0, len(f.Providers))
	seen := map[string]bool{}
	for i, p := range f.Providers {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("providers[%d]: id is required", i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("providers[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		if strings.TrimSpace(p.Name) == "" {
			p.Name = p.ID
		}
		out = append(out, p)
	}
	return out, nil
}
