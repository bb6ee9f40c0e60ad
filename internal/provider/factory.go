package provider

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/dermadx/internal/config"
	"github.com/kalambet/dermadx/internal/ollama"
	"github.com/kalambet/dermadx/internal/openai"
)

// FromConfig builds the registry described by cfg and the optional provider
// catalog. Built-in providers are registered only when usable: openai needs
// an API key, runpod a base URL, and ollama must be enabled. Catalog entries
// add providers or override fields of built-in ones.
func FromConfig(cfg config.Config, catalog config.Catalog, health *Health, logger *slog.Logger) (*Registry, error) {
	type pending struct {
		desc   Descriptor
		apiKey string
	}

	imageTimeout := cfg.LLM.ImageTimeout
	if imageTimeout <= 0 {
		imageTimeout = defaultImageTimeout
	}

	base := func(id string, kind Kind, baseURL, model string) Descriptor {
		return Descriptor{
			ID:               id,
			Kind:             kind,
			Capabilities:     []Purpose{PurposeText, PurposeImage},
			BaseURL:          baseURL,
			Model:            model,
			Timeout:          cfg.LLM.RequestTimeout,
			Temperature:      cfg.LLM.Temperature,
			MaxTokens:        cfg.LLM.MaxTokens,
			ImageTimeout:     imageTimeout,
			ImageTemperature: defaultImageTemperature,
			ImageMaxTokens:   defaultImageMaxTokens,
		}
	}

	var order []string
	byID := make(map[string]*pending)
	add := func(p pending) {
		order = append(order, p.desc.ID)
		byID[p.desc.ID] = &p
	}

	if cfg.RunPod.BaseURL != "" {
		add(pending{base("runpod", KindRunPod, cfg.RunPod.BaseURL, cfg.RunPod.Model), cfg.RunPod.APIKey})
	}
	if cfg.OpenAI.APIKey != "" {
		add(pending{base("openai", KindOpenAI, cfg.OpenAI.BaseURL, cfg.OpenAI.Model), cfg.OpenAI.APIKey})
	}
	if cfg.Ollama.Enabled {
		add(pending{base("ollama", KindOllama, cfg.Ollama.BaseURL, cfg.Ollama.Model), ""})
	}

	for _, e := range catalog.Providers {
		p, exists := byID[e.ID]
		if !exists {
			add(pending{desc: base(e.ID, Kind(e.Kind), "", "")})
			p = byID[e.ID]
		}
		if err := applyCatalogEntry(&p.desc, e); err != nil {
			return nil, err
		}
		if key := e.APIKey(); key != "" {
			p.apiKey = key
		}
	}

	entries := make([]Entry, 0, len(order))
	for _, id := range order {
		p := byID[id]
		b, err := newBackend(p.desc, p.apiKey)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Descriptor: p.desc, Backend: b})
	}

	return NewRegistry(RegistryConfig{
		TextProvider:      cfg.Diagnosis.TextProvider,
		ImageProvider:     cfg.Diagnosis.ImageProvider,
		TextFallback:      cfg.Diagnosis.TextFallback,
		ImageFallback:     cfg.Diagnosis.ImageFallback,
		RefineProvider:    cfg.Diagnosis.RefineProvider,
		Default:           cfg.Providers.Default,
		FallbackEnabled:   cfg.LLM.FallbackEnabled,
		FallbackThreshold: cfg.LLM.FallbackThreshold,
	}, entries, health, logger)
}

func applyCatalogEntry(d *Descriptor, e config.CatalogEntry) error {
	if e.Kind != "" {
		d.Kind = Kind(e.Kind)
	}
	if len(e.Capabilities) > 0 {
		d.Capabilities = d.Capabilities[:0:0]
		for _, c := range e.Capabilities {
			p := Purpose(c)
			if p != PurposeText && p != PurposeImage {
				return &ConfigurationError{Reason: fmt.Sprintf("provider %q: unknown capability %q", e.ID, c)}
			}
			d.Capabilities = append(d.Capabilities, p)
		}
	}
	if e.BaseURL != "" {
		d.BaseURL = e.BaseURL
	}
	if e.Model != "" {
		d.Model = e.Model
	}
	setDuration(&d.Timeout, e.Timeout)
	setDuration(&d.ImageTimeout, e.ImageTimeout)
	if e.Temperature != nil {
		d.Temperature = *e.Temperature
	}
	if e.ImageTemperature != nil {
		d.ImageTemperature = *e.ImageTemperature
	}
	if e.MaxTokens > 0 {
		d.MaxTokens = e.MaxTokens
	}
	if e.ImageMaxTokens > 0 {
		d.ImageMaxTokens = e.ImageMaxTokens
	}
	if e.SimilarScoreScale != "" {
		d.SimilarScale = e.SimilarScoreScale
	}
	return nil
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

func newBackend(d Descriptor, apiKey string) (Backend, error) {
	switch d.Kind {
	case KindOpenAI, KindRunPod:
		if d.BaseURL == "" {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("provider %q: base_url is required", d.ID)}
		}
		return NewOpenAIBackend(openai.NewClient(apiKey, d.BaseURL)), nil
	case KindOllama:
		if d.BaseURL == "" {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("provider %q: base_url is required", d.ID)}
		}
		return NewOllamaBackend(ollama.New(d.BaseURL)), nil
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("provider %q: unknown kind %q", d.ID, d.Kind)}
	}
}
