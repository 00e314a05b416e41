package main

import (
	"context"
	"os"

	"github.com/becomeliminal/friday/config"
	"github.com/becomeliminal/friday/engine"
	"github.com/becomeliminal/friday/llm"
	"github.com/becomeliminal/friday/llm/anthropic"
	"github.com/becomeliminal/friday/llm/openai"
	"github.com/becomeliminal/friday/logging"
	"github.com/becomeliminal/friday/memory"
	rediscache "github.com/becomeliminal/friday/memory/cache/redis"
	"github.com/becomeliminal/friday/memory/embedder/gemini"
	"github.com/becomeliminal/friday/memory/embedder/mock"
	openaiembed "github.com/becomeliminal/friday/memory/embedder/openai"
	"github.com/becomeliminal/friday/memory/store/chromem"
	"github.com/becomeliminal/friday/memory/store/sqlite"
	"github.com/becomeliminal/friday/telemetry"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// flags holds global flag values. Empty values leave the config file or
// its defaults in place.
type flags struct {
	configPath   string
	store        string
	storePath    string
	cache        string
	redisURL     string
	embedder     string
	embedModel   string
	embedURL     string
	embedKey     string
	llm          string
	model        string
	llmURL       string
	llmKey       string
	persona      string
	logLevel     string
	logFormat    string
	noMemory     bool
	anthropicKey string
	geminiKey    string
}

func globalFlags(f *flags) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "YAML configuration file",
			Value:       "friday.yaml",
			Sources:     cli.EnvVars("FRIDAY_CONFIG"),
			Destination: &f.configPath,
		},
		&cli.StringFlag{
			Name:        "store",
			Usage:       "Vector index: chromem or sqlite",
			Sources:     cli.EnvVars("FRIDAY_STORE"),
			Destination: &f.store,
		},
		&cli.StringFlag{
			Name:        "store-path",
			Usage:       "Directory (chromem) or database file (sqlite); empty keeps memory in RAM",
			Sources:     cli.EnvVars("FRIDAY_STORE_PATH"),
			Destination: &f.storePath,
		},
		&cli.StringFlag{
			Name:        "cache",
			Usage:       "Embedding cache: ristretto or redis",
			Sources:     cli.EnvVars("FRIDAY_CACHE"),
			Destination: &f.cache,
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Usage:       "Redis URL for the redis cache",
			Sources:     cli.EnvVars("FRIDAY_REDIS_URL", "REDIS_URL"),
			Destination: &f.redisURL,
		},
		&cli.StringFlag{
			Name:        "embedder",
			Usage:       "Embedding backend: openai, gemini, onnx or mock",
			Sources:     cli.EnvVars("FRIDAY_EMBEDDER"),
			Destination: &f.embedder,
		},
		&cli.StringFlag{
			Name:        "embed-model",
			Usage:       "Embedding model name",
			Sources:     cli.EnvVars("FRIDAY_EMBED_MODEL"),
			Destination: &f.embedModel,
		},
		&cli.StringFlag{
			Name:        "embed-url",
			Usage:       "Base URL of an OpenAI-compatible embeddings API",
			Sources:     cli.EnvVars("FRIDAY_EMBED_URL"),
			Destination: &f.embedURL,
		},
		&cli.StringFlag{
			Name:        "embed-api-key",
			Usage:       "API key for the embeddings API",
			Sources:     cli.EnvVars("FRIDAY_EMBED_API_KEY", "OPENAI_API_KEY"),
			Destination: &f.embedKey,
		},
		&cli.StringFlag{
			Name:        "llm",
			Usage:       "Completion provider: openai or anthropic",
			Sources:     cli.EnvVars("FRIDAY_LLM"),
			Destination: &f.llm,
		},
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "Completion model name",
			Sources:     cli.EnvVars("FRIDAY_MODEL"),
			Destination: &f.model,
		},
		&cli.StringFlag{
			Name:        "llm-url",
			Usage:       "Base URL of the completion API",
			Sources:     cli.EnvVars("FRIDAY_LLM_URL"),
			Destination: &f.llmURL,
		},
		&cli.StringFlag{
			Name:        "llm-api-key",
			Usage:       "API key for the completion API",
			Sources:     cli.EnvVars("FRIDAY_LLM_API_KEY"),
			Destination: &f.llmKey,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &f.anthropicKey,
		},
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key",
			Sources:     cli.EnvVars("GEMINI_API_KEY", "GOOGLE_API_KEY"),
			Destination: &f.geminiKey,
		},
		&cli.StringFlag{
			Name:        "persona",
			Usage:       "System line placed at the top of every prompt",
			Sources:     cli.EnvVars("FRIDAY_PERSONA"),
			Destination: &f.persona,
		},
		&cli.BoolFlag{
			Name:        "no-memory",
			Usage:       "Answer without reading or writing memory",
			Sources:     cli.EnvVars("FRIDAY_NO_MEMORY"),
			Destination: &f.noMemory,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "debug, info, warn or error",
			Sources:     cli.EnvVars("FRIDAY_LOG_LEVEL"),
			Destination: &f.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "console or json",
			Sources:     cli.EnvVars("FRIDAY_LOG_FORMAT"),
			Destination: &f.logFormat,
		},
	}
}

// loadConfig reads the config file and applies flag overrides.
func (f *flags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Store.Type, f.store)
	override(&cfg.Store.Path, f.storePath)
	override(&cfg.Cache.Type, f.cache)
	override(&cfg.Cache.RedisURL, f.redisURL)
	override(&cfg.Embedder.Type, f.embedder)
	override(&cfg.Embedder.Model, f.embedModel)
	override(&cfg.Embedder.BaseURL, f.embedURL)
	override(&cfg.Embedder.APIKey, f.embedKey)
	override(&cfg.LLM.Provider, f.llm)
	override(&cfg.LLM.Model, f.model)
	override(&cfg.LLM.BaseURL, f.llmURL)
	override(&cfg.LLM.APIKey, f.llmKey)
	override(&cfg.Persona, f.persona)
	override(&cfg.Log.Level, f.logLevel)
	override(&cfg.Log.Format, f.logFormat)
	if f.noMemory {
		cfg.Memory.Enabled = false
	}

	if cfg.LLM.Provider == config.LLMAnthropic && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = f.anthropicKey
	}
	if cfg.Embedder.Type == config.EmbedderGemini && cfg.Embedder.APIKey == "" {
		cfg.Embedder.APIKey = f.geminiKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runtime is the wired application.
type runtime struct {
	config  *config.Config
	memory  *memory.Manager
	engine  *engine.Engine
	closers []func(context.Context) error
}

// open loads configuration and wires every component. The returned context
// carries the process logger.
func (f *flags) open(ctx context.Context) (context.Context, *runtime, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return ctx, nil, err
	}

	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	logging.SetDefault(logger)
	ctx = logging.With(ctx, logger)

	rt := &runtime{config: cfg}
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.DefaultServiceName, telemetry.NewLogExporter(logger))
	if err != nil {
		return ctx, nil, err
	}
	rt.closers = append(rt.closers, shutdownTracing)

	store, err := newStore(ctx, cfg)
	if err != nil {
		rt.close(ctx)
		return ctx, nil, err
	}

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		_ = store.Close()
		rt.close(ctx)
		return ctx, nil, err
	}

	completer, err := newCompleter(cfg)
	if err != nil {
		_ = store.Close()
		rt.close(ctx)
		return ctx, nil, err
	}

	opts := []memory.Option{
		memory.WithConfig(cfg.ManagerConfig()),
		memory.WithSummarizer(memory.NewLLMSummarizer(completer)),
	}
	if cfg.Cache.Type == config.CacheRedis {
		cache, err := rediscache.New(ctx, rediscache.Config{URL: cfg.Cache.RedisURL, Key: cfg.EmbeddingCacheKey()})
		if err != nil {
			_ = store.Close()
			rt.close(ctx)
			return ctx, nil, err
		}
		opts = append(opts, memory.WithCache(cache))
		rt.closers = append(rt.closers, func(context.Context) error { return cache.Close() })
	}

	manager, err := memory.NewManager(store, embedder, opts...)
	if err != nil {
		_ = store.Close()
		rt.close(ctx)
		return ctx, nil, err
	}
	// Closed first: it flushes the store before the cache goes away.
	rt.closers = append([]func(context.Context) error{func(context.Context) error { return manager.Close() }}, rt.closers...)
	if c, ok := embedder.(interface{ Close() error }); ok {
		rt.closers = append(rt.closers, func(context.Context) error { return c.Close() })
	}

	rt.memory = manager
	rt.engine = engine.New(completer,
		engine.WithMemory(manager),
		engine.WithPersona(cfg.Persona),
		engine.WithChatTopK(cfg.Memory.ChatTopK),
	)

	logger.Debug("friday configured",
		"store", cfg.Store.Type,
		"cache", cfg.Cache.Type,
		"embedder", cfg.Embedder.Type,
		"llm", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
	)
	return ctx, rt, nil
}

func (rt *runtime) close(ctx context.Context) {
	for _, c := range rt.closers {
		if err := c(ctx); err != nil {
			logging.From(ctx).Warn("shutdown step failed", "error", err)
		}
	}
	rt.closers = nil
}

func newStore(ctx context.Context, cfg *config.Config) (memory.Store, error) {
	switch cfg.Store.Type {
	case config.StoreSQLite:
		path := cfg.Store.Path
		if path == "" {
			path = ":memory:"
		}
		store, err := sqlite.New(ctx, sqlite.Config{Path: path, Dimensions: cfg.Embedder.Dimensions})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := chromem.New(chromem.Config{
			Path:       cfg.Store.Path,
			Compress:   cfg.Store.Compress,
			Collection: cfg.Store.Collection,
			Dimensions: cfg.Embedder.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func newEmbedder(ctx context.Context, cfg *config.Config) (memory.Embedder, error) {
	ec := cfg.Embedder
	switch ec.Type {
	case config.EmbedderGemini:
		e, err := gemini.New(ctx, gemini.Config{APIKey: ec.APIKey, Model: ec.Model, Dimensions: ec.Dimensions})
		if err != nil {
			return nil, err
		}
		return e, nil
	case config.EmbedderONNX:
		return newONNXEmbedder(ec)
	case config.EmbedderMock:
		return mock.New(mock.WithDimensions(ec.Dimensions)), nil
	case config.EmbedderOpenAI:
		return openaiembed.New(openaiembed.Config{
			APIKey:     ec.APIKey,
			BaseURL:    ec.BaseURL,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
		}), nil
	}
	return nil, goerr.New("unknown embedder", goerr.V("type", ec.Type))
}

func newCompleter(cfg *config.Config) (llm.Completer, error) {
	lc := cfg.LLM
	opts := llm.Options{
		Model:       lc.Model,
		Temperature: lc.Temperature,
		TopP:        lc.TopP,
		MaxTokens:   lc.MaxTokens,
		Timeout:     lc.Timeout,
	}

	switch lc.Provider {
	case config.LLMAnthropic:
		// The defaults point at a local Ollama server; leave them to the
		// Anthropic client.
		defaults := config.Default().LLM
		if lc.Model == defaults.Model {
			opts.Model = ""
		}
		baseURL := lc.BaseURL
		if baseURL == defaults.BaseURL {
			baseURL = ""
		}
		c, err := anthropic.New(anthropic.Config{APIKey: lc.APIKey, BaseURL: baseURL, Options: opts})
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.LLMOpenAI:
		return openai.New(openai.Config{APIKey: lc.APIKey, BaseURL: lc.BaseURL, Options: opts}), nil
	}
	return nil, goerr.New("unknown llm provider", goerr.V("provider", lc.Provider))
}
