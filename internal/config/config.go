package config

import (
	"os"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	LLM       LLMConfig
	Diagnosis DiagnosisConfig
	Providers ProvidersConfig
	OpenAI    OpenAIConfig
	RunPod    RunPodConfig
	Ollama    OllamaConfig
	Hospital  SinkConfig
	Chatbot   SinkConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	MaxConnections int
	APIToken       string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// LLMConfig holds the invocation policy shared by all providers.
// RequestTimeout bounds text calls and ImageTimeout bounds image calls.
type LLMConfig struct {
	RequestTimeout    time.Duration
	ImageTimeout      time.Duration
	MaxTokens         int
	Temperature       float64
	MaxRetries        int
	RetryBaseDelay    time.Duration
	FallbackEnabled   bool
	FallbackThreshold int
}

// DiagnosisConfig names the provider backing each purpose. An empty
// RefineProvider follows the text route.
type DiagnosisConfig struct {
	TextProvider   string
	ImageProvider  string
	TextFallback   string
	ImageFallback  string
	RefineProvider string
}

type ProvidersConfig struct {
	Default     string
	CatalogFile string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type RunPodConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type OllamaConfig struct {
	Enabled bool
	BaseURL string
	Model   string
}

// SinkConfig describes one downstream notification target.
type SinkConfig struct {
	Enabled bool
	BaseURL string
	Timeout time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8000,
			MaxConnections: 256,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		LLM: LLMConfig{
			RequestTimeout:    30 * time.Second,
			ImageTimeout:      20 * time.Second,
			MaxTokens:         1000,
			Temperature:       0.3,
			MaxRetries:        2,
			RetryBaseDelay:    500 * time.Millisecond,
			FallbackEnabled:   true,
			FallbackThreshold: 3,
		},
		Diagnosis: DiagnosisConfig{
			TextProvider:  "runpod",
			ImageProvider: "runpod",
			TextFallback:  "openai",
			ImageFallback: "openai",
		},
		Providers: ProvidersConfig{
			Default: "runpod",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llava",
		},
		Hospital: SinkConfig{
			Enabled: true,
			BaseURL: "http://localhost:8002",
			Timeout: 30 * time.Second,
		},
		Chatbot: SinkConfig{
			Enabled: true,
			BaseURL: "http://localhost:8003",
			Timeout: 15 * time.Second,
		},
	}
}

// Load reads configuration from the JSON file backend, a .env file in the
// working directory, environment variables, and the local secrets file.
//
// The backend is a JSON file at $XDG_CONFIG_HOME/dermadx/config.json.
// Environment variables (DERMADX_*) override backend values. API keys may be
// kept out of the config file entirely, either in the environment or in
// $XDG_DATA_HOME/dermadx/secrets.json.
func Load() (Config, error) {
	envFile := os.Getenv("DERMADX_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	loadDotEnv(envFile)
	return loadWith(newFileBackend(configFilePath()), secretsFile{path: secretsFilePath()})
}

// secretReader abstracts the secrets store for testing.
type secretReader interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, sec secretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, sec)

	return cfg, nil
}

// applySecrets fills secret keys that are still empty from the secrets store.
func applySecrets(cfg *Config, sec secretReader) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v, _ := s.extract(*cfg).(string); v != "" {
			continue
		}
		if v, err := sec.Get("dermadx", s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
