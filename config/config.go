// Package config loads friday's settings from a YAML file. Every field has a
// default, so an empty or missing file yields a working local setup: an
// in-memory chromem index, a ristretto cache, and Ollama for both
// embeddings and chat.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/becomeliminal/friday/memory"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Backend names accepted by the Store, Cache, Embedder and LLM sections.
const (
	StoreChromem = "chromem"
	StoreSQLite  = "sqlite"

	CacheRistretto = "ristretto"
	CacheRedis     = "redis"

	EmbedderOpenAI = "openai"
	EmbedderGemini = "gemini"
	EmbedderONNX   = "onnx"
	EmbedderMock   = "mock"

	LLMOpenAI    = "openai"
	LLMAnthropic = "anthropic"
)

// DefaultPersona is the system line placed at the top of every chat prompt.
const DefaultPersona = "You are Friday, a concise and friendly personal assistant. " +
	"Use the relevant memory when it helps and never invent facts about the user."

type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Cache    CacheConfig    `yaml:"cache"`
	Embedder EmbedderConfig `yaml:"embedder"`
	LLM      LLMConfig      `yaml:"llm"`
	Memory   MemoryConfig   `yaml:"memory"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Persona  string         `yaml:"persona"`
}

type StoreConfig struct {
	Type string `yaml:"type"`
	// Path is a directory for chromem or a database file for sqlite. Empty
	// keeps chromem in memory and opens sqlite in memory.
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	Compress   bool   `yaml:"compress"`
}

type CacheConfig struct {
	Type     string `yaml:"type"`
	RedisURL string `yaml:"redis_url"`
	RedisKey string `yaml:"redis_key"`
}

type EmbedderConfig struct {
	Type       string `yaml:"type"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Dimensions int    `yaml:"dimensions"`

	// ONNX only.
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`
	LibraryPath   string `yaml:"library_path"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Temperature float64       `yaml:"temperature"`
	TopP        float64       `yaml:"top_p"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

type MemoryConfig struct {
	Enabled             bool          `yaml:"enabled"`
	TopK                int           `yaml:"top_k"`
	ChatTopK            int           `yaml:"chat_top_k"`
	CandidateMultiplier int           `yaml:"candidate_multiplier"`
	CandidateLimit      int           `yaml:"candidate_limit"`
	ForgetTopK          int           `yaml:"forget_top_k"`
	CompactionWindow    int           `yaml:"compaction_window"`
	CompactEvery        int           `yaml:"compact_every"`
	MaxGoals            int           `yaml:"max_goals"`
	EmbedTimeout        time.Duration `yaml:"embed_timeout"`
	SummarizeTimeout    time.Duration `yaml:"summarize_timeout"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	mem := memory.DefaultConfig
	return &Config{
		Store: StoreConfig{
			Type:       StoreChromem,
			Collection: "friday_memory",
		},
		Cache: CacheConfig{
			Type:     CacheRistretto,
			RedisURL: "redis://localhost:6379/0",
			RedisKey: "friday:embeddings",
		},
		Embedder: EmbedderConfig{
			Type:       EmbedderOpenAI,
			Model:      "all-minilm",
			BaseURL:    "http://localhost:11434/v1",
			Dimensions: 384,
		},
		LLM: LLMConfig{
			Provider:    LLMOpenAI,
			Model:       "llama3.1",
			BaseURL:     "http://localhost:11434/v1",
			Temperature: 0.3,
			TopP:        0.92,
			MaxTokens:   512,
			Timeout:     30 * time.Second,
		},
		Memory: MemoryConfig{
			Enabled:             mem.Enabled,
			TopK:                mem.TopK,
			ChatTopK:            2,
			CandidateMultiplier: mem.CandidateMultiplier,
			CandidateLimit:      mem.CandidateLimit,
			ForgetTopK:          mem.ForgetTopK,
			CompactionWindow:    mem.CompactionWindow,
			CompactEvery:        mem.CompactEvery,
			MaxGoals:            mem.MaxGoals,
			EmbedTimeout:        mem.EmbedTimeout,
			SummarizeTimeout:    mem.SummarizeTimeout,
		},
		Server: ServerConfig{
			Addr:     ":8080",
			GRPCAddr: ":8081",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Persona: DefaultPersona,
	}
}

// Load reads path on top of Default. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown backend names and non-positive sizes.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case StoreChromem, StoreSQLite:
	default:
		return goerr.New("unknown store type", goerr.V("type", c.Store.Type))
	}
	switch c.Cache.Type {
	case CacheRistretto, CacheRedis:
	default:
		return goerr.New("unknown cache type", goerr.V("type", c.Cache.Type))
	}
	switch c.Embedder.Type {
	case EmbedderOpenAI, EmbedderGemini, EmbedderONNX, EmbedderMock:
	default:
		return goerr.New("unknown embedder type", goerr.V("type", c.Embedder.Type))
	}
	switch c.LLM.Provider {
	case LLMOpenAI, LLMAnthropic:
	default:
		return goerr.New("unknown llm provider", goerr.V("provider", c.LLM.Provider))
	}
	if c.Embedder.Dimensions <= 0 {
		return goerr.New("embedder dimensions must be positive", goerr.V("dimensions", c.Embedder.Dimensions))
	}
	if c.Memory.TopK <= 0 || c.Memory.ChatTopK <= 0 {
		return goerr.New("top_k must be positive", goerr.V("top_k", c.Memory.TopK), goerr.V("chat_top_k", c.Memory.ChatTopK))
	}
	return nil
}

// EmbeddingCacheKey is the Redis hash holding cached embeddings, namespaced
// by embedder backend, model and size so processes running different models
// never read each other's vectors.
func (c *Config) EmbeddingCacheKey() string {
	e := c.Embedder
	return fmt.Sprintf("%s:%s:%s:%d", c.Cache.RedisKey, e.Type, e.Model, e.Dimensions)
}

// ManagerConfig converts the memory section into the manager's tunables.
func (c *Config) ManagerConfig() *memory.Config {
	m := c.Memory
	return &memory.Config{
		Enabled:             m.Enabled,
		TopK:                m.TopK,
		CandidateMultiplier: m.CandidateMultiplier,
		CandidateLimit:      m.CandidateLimit,
		ForgetTopK:          m.ForgetTopK,
		CompactionWindow:    m.CompactionWindow,
		CompactEvery:        m.CompactEvery,
		MaxGoals:            m.MaxGoals,
		EmbedTimeout:        m.EmbedTimeout,
		SummarizeTimeout:    m.SummarizeTimeout,
	}
}
