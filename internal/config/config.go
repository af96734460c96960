// Package config provides configuration for the mnemo server. Settings come
// from three layers: built-in defaults, an optional YAML config file, and
// environment variables with the MNEMO_ prefix. Later layers win, so an
// environment variable always overrides the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all settings for the mnemo server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	LLM      LLMConfig      `yaml:"llm"`
	Memory   MemoryConfig   `yaml:"memory"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"` // default: 127.0.0.1
	Port int    `yaml:"port"` // default: 7070
}

// StorageConfig selects and configures the graph store backend.
type StorageConfig struct {
	// Engine is the backend type: "sqlite" or "postgres" (default: sqlite).
	Engine string `yaml:"engine"`

	// DataPath is the directory holding the SQLite database and pipeline
	// manifests (default: ./data).
	DataPath string `yaml:"data_path"`

	// PostgresDSN is the connection string used when Engine is "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`
}

// LLMConfig configures the embedding and completion providers.
type LLMConfig struct {
	Provider        string `yaml:"provider"`         // "ollama" or "openai" (default: ollama)
	OllamaURL       string `yaml:"ollama_url"`       // default: http://localhost:11434
	CompletionModel string `yaml:"completion_model"` // provider default when empty
	EmbeddingModel  string `yaml:"embedding_model"`  // provider default when empty
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
}

// MemoryConfig tunes the memory service.
type MemoryConfig struct {
	// EmbedAllSpaces controls whether a write populates all four embedding
	// spaces (true, the default) or only the Content space.
	EmbedAllSpaces bool `yaml:"embed_all_spaces"`
}

// PipelineConfig tunes the pipeline executor.
type PipelineConfig struct {
	// ManifestPath is the directory holding pipeline manifest files
	// (default: <data_path>/pipelines).
	ManifestPath string `yaml:"manifest_path"`

	// RunTimeout bounds one pipeline run end to end (default: 5m). A run
	// that exceeds it terminates with a Failed status.
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// SecurityConfig contains authentication settings.
type SecurityConfig struct {
	Mode     string `yaml:"mode"`      // "development" (no auth) or "production"
	APIToken string `yaml:"api_token"` // bearer token required in production mode
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Pipeline.ManifestPath == "" {
		cfg.Pipeline.ManifestPath = cfg.Storage.DataPath + "/pipelines"
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7070,
		},
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		LLM: LLMConfig{
			Provider:  "ollama",
			OllamaURL: "http://localhost:11434",
		},
		Memory: MemoryConfig{
			EmbedAllSpaces: true,
		},
		Pipeline: PipelineConfig{
			RunTimeout: 5 * time.Minute,
		},
		Security: SecurityConfig{
			Mode: "development",
		},
	}
}

// applyEnv overlays MNEMO_-prefixed environment variables onto cfg.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "MNEMO_HOST")
	setInt(&cfg.Server.Port, "MNEMO_PORT")

	setString(&cfg.Storage.Engine, "MNEMO_STORAGE_ENGINE")
	setString(&cfg.Storage.DataPath, "MNEMO_DATA_PATH")
	setString(&cfg.Storage.PostgresDSN, "MNEMO_POSTGRES_DSN")

	setString(&cfg.LLM.Provider, "MNEMO_LLM_PROVIDER")
	setString(&cfg.LLM.OllamaURL, "MNEMO_OLLAMA_URL")
	setString(&cfg.LLM.CompletionModel, "MNEMO_COMPLETION_MODEL")
	setString(&cfg.LLM.EmbeddingModel, "MNEMO_EMBEDDING_MODEL")
	setString(&cfg.LLM.OpenAIAPIKey, "MNEMO_OPENAI_API_KEY")
	setString(&cfg.LLM.OpenAIBaseURL, "MNEMO_OPENAI_BASE_URL")

	setBool(&cfg.Memory.EmbedAllSpaces, "MNEMO_EMBED_ALL_SPACES")

	setString(&cfg.Pipeline.ManifestPath, "MNEMO_MANIFEST_PATH")
	setDuration(&cfg.Pipeline.RunTimeout, "MNEMO_RUN_TIMEOUT")

	setString(&cfg.Security.Mode, "MNEMO_SECURITY_MODE")
	setString(&cfg.Security.APIToken, "MNEMO_API_TOKEN")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		switch v {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			*dst = true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			*dst = false
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
