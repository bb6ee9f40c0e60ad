package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "DERMADX_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "DERMADX_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_connections", typ: kInt, env: "DERMADX_SERVER_MAX_CONNECTIONS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConnections = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConnections },
	},
	{
		key: "server.api_token", typ: kString, env: "DERMADX_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "DERMADX_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "DERMADX_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "llm.request_timeout", typ: kDuration, env: "DERMADX_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.RequestTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.RequestTimeout },
	},
	{
		key: "llm.image_timeout", typ: kDuration, env: "DERMADX_IMAGE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.ImageTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.ImageTimeout },
	},
	{
		key: "llm.max_tokens", typ: kInt, env: "DERMADX_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxTokens },
	},
	{
		key: "llm.temperature", typ: kFloat, env: "DERMADX_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.Temperature },
	},
	{
		key: "llm.max_retries", typ: kInt, env: "DERMADX_LLM_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxRetries },
	},
	{
		key: "llm.retry_base_delay", typ: kDuration, env: "DERMADX_LLM_RETRY_BASE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.LLM.RetryBaseDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.RetryBaseDelay },
	},
	{
		key: "llm.fallback_enabled", typ: kBool, env: "DERMADX_LLM_FALLBACK_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.LLM.FallbackEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.LLM.FallbackEnabled },
	},
	{
		key: "llm.fallback_threshold", typ: kInt, env: "DERMADX_LLM_FALLBACK_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.LLM.FallbackThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.FallbackThreshold },
	},
	{
		key: "diagnosis.text_provider", typ: kString, env: "DERMADX_TEXT_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Diagnosis.TextProvider = v.(string) },
		extract: func(cfg Config) any { return cfg.Diagnosis.TextProvider },
	},
	{
		key: "diagnosis.image_provider", typ: kString, env: "DERMADX_IMAGE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Diagnosis.ImageProvider = v.(string) },
		extract: func(cfg Config) any { return cfg.Diagnosis.ImageProvider },
	},
	{
		key: "diagnosis.text_fallback", typ: kString, env: "DERMADX_TEXT_FALLBACK_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Diagnosis.TextFallback = v.(string) },
		extract: func(cfg Config) any { return cfg.Diagnosis.TextFallback },
	},
	{
		key: "diagnosis.image_fallback", typ: kString, env: "DERMADX_IMAGE_FALLBACK_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Diagnosis.ImageFallback = v.(string) },
		extract: func(cfg Config) any { return cfg.Diagnosis.ImageFallback },
	},
	{
		key: "diagnosis.refine_provider", typ: kString, env: "DERMADX_REFINE_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Diagnosis.RefineProvider = v.(string) },
		extract: func(cfg Config) any { return cfg.Diagnosis.RefineProvider },
	},
	{
		key: "providers.default", typ: kString, env: "DERMADX_DEFAULT_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Providers.Default = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.Default },
	},
	{
		key: "providers.catalog_file", typ: kString, env: "DERMADX_PROVIDER_CATALOG",
		apply:   func(cfg *Config, v any) { cfg.Providers.CatalogFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.CatalogFile },
	},
	{
		key: "openai.api_key", typ: kString, env: "DERMADX_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.base_url", typ: kString, env: "DERMADX_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.model", typ: kString, env: "DERMADX_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.Model },
	},
	{
		key: "runpod.api_key", typ: kString, env: "DERMADX_RUNPOD_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.RunPod.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.RunPod.APIKey },
	},
	{
		key: "runpod.base_url", typ: kString, env: "DERMADX_RUNPOD_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.RunPod.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.RunPod.BaseURL },
	},
	{
		key: "runpod.model", typ: kString, env: "DERMADX_RUNPOD_MODEL",
		apply:   func(cfg *Config, v any) { cfg.RunPod.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.RunPod.Model },
	},
	{
		key: "ollama.enabled", typ: kBool, env: "DERMADX_OLLAMA_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Ollama.Enabled },
	},
	{
		key: "ollama.base_url", typ: kString, env: "DERMADX_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "DERMADX_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "hospital.enabled", typ: kBool, env: "DERMADX_HOSPITAL_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Hospital.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Hospital.Enabled },
	},
	{
		key: "hospital.base_url", typ: kString, env: "DERMADX_HOSPITAL_BACKEND_URL",
		apply:   func(cfg *Config, v any) { cfg.Hospital.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Hospital.BaseURL },
	},
	{
		key: "hospital.timeout", typ: kDuration, env: "DERMADX_HOSPITAL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Hospital.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Hospital.Timeout },
	},
	{
		key: "chatbot.enabled", typ: kBool, env: "DERMADX_CHATBOT_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Chatbot.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Chatbot.Enabled },
	},
	{
		key: "chatbot.base_url", typ: kString, env: "DERMADX_CHATBOT_BACKEND_URL",
		apply:   func(cfg *Config, v any) { cfg.Chatbot.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Chatbot.BaseURL },
	},
	{
		key: "chatbot.timeout", typ: kDuration, env: "DERMADX_CHATBOT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Chatbot.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Chatbot.Timeout },
	},
}

// parseDuration accepts Go duration strings ("750ms", "1m") and bare numbers,
// which are read as seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f < 0 {
			return 0, fmt.Errorf("negative duration %q", s)
		}
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// parseValue converts raw into the Go type for typ.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return parseDuration(raw)
	default:
		return raw, nil
	}
}

func typeName(typ keyType) string {
	switch typ {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			parsed, err := parseValue(s.typ, v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", typeName(s.typ), s.key, v, err)
				continue
			}
			s.apply(cfg, parsed)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", typeName(s.typ), s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
