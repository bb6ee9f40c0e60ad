package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Catalog is an optional YAML file declaring extra providers or overriding
// the settings of the built-in ones.
//
//	providers:
//	  - id: derm-finetune
//	    kind: runpod
//	    capabilities: [text, image]
//	    base_url: https://api.runpod.ai/v2/xyz/openai/v1
//	    api_key_env: DERM_FINETUNE_KEY
//	    timeout: 45s
//	    similar_score_scale: percent
type Catalog struct {
	Providers []CatalogEntry `yaml:"providers"`
}

// CatalogEntry is one provider declaration. Zero values inherit the global
// LLM settings.
type CatalogEntry struct {
	ID                string        `yaml:"id"`
	Kind              string        `yaml:"kind"`
	Capabilities      []string      `yaml:"capabilities"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Timeout           time.Duration `yaml:"timeout"`
	Temperature       *float64      `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	ImageTimeout      time.Duration `yaml:"image_timeout"`
	ImageTemperature  *float64      `yaml:"image_temperature"`
	ImageMaxTokens    int           `yaml:"image_max_tokens"`
	SimilarScoreScale string        `yaml:"similar_score_scale"`
}

// APIKey resolves the entry's API key from the environment variable it names.
func (e CatalogEntry) APIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.APIKeyEnv)
}

// LoadCatalog reads and validates a provider catalog. An empty path yields
// an empty catalog.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return Catalog{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("reading provider catalog: %w", err)
	}
	return parseCatalog(data)
}

func parseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parsing provider catalog: %w", err)
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, e := range c.Providers {
		if e.ID == "" {
			return Catalog{}, fmt.Errorf("provider catalog entry %d: id is required", i)
		}
		if seen[e.ID] {
			return Catalog{}, fmt.Errorf("provider catalog: duplicate id %q", e.ID)
		}
		seen[e.ID] = true
		if e.Kind == "" {
			return Catalog{}, fmt.Errorf("provider catalog entry %q: kind is required", e.ID)
		}
		if e.Temperature != nil && (*e.Temperature < 0 || *e.Temperature > 2) {
			return Catalog{}, fmt.Errorf("provider catalog entry %q: temperature %v out of range [0,2]", e.ID, *e.Temperature)
		}
	}
	return c, nil
}
