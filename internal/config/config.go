package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	LLM       LLMConfig       `json:"llm"`
	Embedding EmbeddingConfig `json:"embedding"`
	Memory    MemoryConfig    `json:"memory"`
	Database  DatabaseConfig  `json:"database"`
	Gateway   GatewayConfig   `json:"gateway"`
}

type ServerConfig struct {
	Port                  int    `json:"port"`
	LogLevel              string `json:"log_level"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// LLMConfig controls the optional language-model collaborator. When Enabled
// is false or no provider has an API key the service runs on rules alone.
type LLMConfig struct {
	Enabled        bool             `json:"enabled"`
	TimeoutSeconds int              `json:"timeout_seconds"`
	Providers      []ProviderConfig `json:"providers"`
}

type ProviderConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"` // "openai" or "anthropic"
	Name     string            `json:"name"`
	Endpoint string            `json:"endpoint"`
	APIKey   string            `json:"api_key"`
	Models   []string          `json:"models,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // api, local, hash or none
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
	CacheSize int    `json:"cache_size"`
	Workers   int    `json:"workers"`
}

type MemoryConfig struct {
	SnapshotPath  string `json:"snapshot_path"`
	DefaultTopK   int    `json:"default_top_k"`
	MaxConcurrent int    `json:"max_concurrent"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN        string `json:"dsn"`
	Migrations string `json:"migrations"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type RedisConfig struct {
	URL    string `json:"url"`
	Stream string `json:"stream"`
}

type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack"`
	Discord DiscordGatewayConfig `json:"discord"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8000, LogLevel: "info", RequestTimeoutSeconds: 60},
		LLM: LLMConfig{
			Enabled:        true,
			TimeoutSeconds: 30,
			Providers: []ProviderConfig{{
				ID:       "groq",
				Type:     "openai",
				Name:     "Groq",
				Endpoint: "https://api.groq.com/openai/v1",
				Models:   []string{"llama-3.1-8b-instant"},
			}},
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Dimension: 384,
			CacheSize: 4096,
			Workers:   4,
		},
		Memory: MemoryConfig{DefaultTopK: 5, MaxConcurrent: 16},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{Migrations: "migrations"},
			Redis:    RedisConfig{Stream: "mnemo:memory"},
			Qdrant:   QdrantConfig{Port: 6334, Collection: "mnemo_memory"},
		},
	}
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
// A missing file yields Default with environment overrides applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		cfg.ApplyEnv()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	cfg := Default()
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overlays the well-known environment variables on top of the
// file configuration. GROQ_* names are accepted as aliases.
func (c *Config) ApplyEnv() {
	if v := firstEnv("ENABLE_LLM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.LLM.Enabled = b
		}
	}
	key := firstEnv("LLM_API_KEY", "GROQ_API_KEY")
	model := firstEnv("LLM_MODEL", "GROQ_MODEL")
	kind := firstEnv("LLM_PROVIDER")
	if len(c.LLM.Providers) > 0 {
		p := &c.LLM.Providers[0]
		if key != "" {
			p.APIKey = key
		}
		if model != "" {
			p.Models = append([]string{model}, without(p.Models, model)...)
		}
		if kind != "" {
			p.Type = strings.ToLower(kind)
		}
	}
	if v := firstEnv("EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = strings.ToLower(v)
	}
	if v := firstEnv("EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
}

// LLMReady reports whether at least one provider can be called.
func (c *Config) LLMReady() bool {
	if !c.LLM.Enabled {
		return false
	}
	for _, p := range c.LLM.Providers {
		if p.APIKey != "" {
			return true
		}
	}
	return false
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func without(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
