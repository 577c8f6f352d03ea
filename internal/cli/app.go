package cli

import (
	"context"
	"fmt"
	"os"

	"ragkb/internal/chunker"
	"ragkb/internal/config"
	"ragkb/internal/domain"
	"ragkb/internal/embedding/hashing"
	"ragkb/internal/embedding/openai"
	"ragkb/internal/llm/huggingface"
	"ragkb/internal/llm/ollama"
	"ragkb/internal/logger"
	"ragkb/internal/service"
	"ragkb/internal/vectorstore"
	"ragkb/internal/vectorstore/memory"
	"ragkb/internal/vectorstore/qdrant"
	"ragkb/internal/vectorstore/sqlite"
)

// app holds the components one command invocation works with.
type app struct {
	cfg      *config.AppConfig
	log      *logger.Logger
	store    *vectorstore.Store
	pipeline *service.Pipeline
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	var cfg *config.AppConfig
	var err error
	if configPath == "" {
		cfg, configPath, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	ch, err := chunker.NewWordChunker(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	emb, err := buildEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	st, err := buildStorage(ctx, cfg.VectorStore)
	if err != nil {
		return nil, err
	}
	gen, err := buildGenerator(cfg.LLM)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	log.Debug("configuration loaded",
		"config", configPath,
		"embedder", emb.Name(),
		"vector_store", cfg.VectorStore.Type,
		"collection", cfg.VectorStore.Collection,
		"generator", gen.Name(),
	)

	store := vectorstore.NewStore(emb, st, cfg.VectorStore.Collection)
	pipeline := service.NewPipeline(ch, store, gen, log, service.Options{
		TopK:          cfg.Retrieval.TopK,
		ReplaceSource: cfg.Ingest.ReplaceSourceEnabled(),
	})
	return &app{cfg: cfg, log: log, store: store, pipeline: pipeline}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("close vector store", "error", err)
	}
	a.log.Sync()
}

func buildEmbedder(cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "hashing", "":
		dim := hashing.DefaultDimension
		if cfg.Hashing != nil && cfg.Hashing.Dimension > 0 {
			dim = cfg.Hashing.Dimension
		}
		return hashing.NewEmbedder(dim), nil
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("%w: openai embedder config missing", domain.ErrInvalidConfig)
		}
		client, err := openai.NewClient(openai.Config{
			BaseURL:   cfg.OpenAI.BaseURL,
			APIKeyEnv: cfg.OpenAI.APIKeyEnv,
			Model:     cfg.OpenAI.Model,
			Timeout:   config.Seconds(cfg.OpenAI.TimeoutSecs),
			BatchSize: cfg.OpenAI.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unknown embedder %q", domain.ErrInvalidConfig, cfg.Type)
	}
}

func buildStorage(ctx context.Context, cfg config.VectorStoreConfig) (vectorstore.Storage, error) {
	switch cfg.Type {
	case "memory":
		return memory.NewStorage(), nil
	case "sqlite", "":
		if cfg.SQLite == nil || cfg.SQLite.Path == "" {
			return nil, fmt.Errorf("%w: sqlite path missing", domain.ErrInvalidConfig)
		}
		st, err := sqlite.Open(ctx, cfg.SQLite.Path, cfg.Collection)
		if err != nil {
			return nil, fmt.Errorf("%w: open %s: %v", domain.ErrStoreUnavailable, cfg.SQLite.Path, err)
		}
		return st, nil
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, fmt.Errorf("%w: qdrant config missing", domain.ErrInvalidConfig)
		}
		apiKey := cfg.Qdrant.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("QDRANT_API_KEY")
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     apiKey,
			Collection: cfg.Collection,
			VectorDim:  cfg.Qdrant.VectorDim,
			Timeout:    config.Seconds(cfg.Qdrant.TimeoutSecs),
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown vector store %q", domain.ErrInvalidConfig, cfg.Type)
	}
}

func buildGenerator(cfg config.LLMConfig) (domain.Generator, error) {
	switch cfg.Provider {
	case "ollama":
		c := config.OllamaConfig{}
		if cfg.Ollama != nil {
			c = *cfg.Ollama
		}
		return ollama.New(ollama.Config{BaseURL: c.BaseURL, Model: c.Model, Timeout: config.Seconds(c.TimeoutSecs)}), nil
	case "huggingface", "":
		c := config.HuggingFaceConfig{}
		if cfg.HuggingFace != nil {
			c = *cfg.HuggingFace
		}
		return huggingface.New(huggingface.Config{
			APIURL:     c.APIURL,
			APIKey:     c.APIKey,
			Timeout:    config.Seconds(c.TimeoutSecs),
			RetryDelay: config.Seconds(c.RetryDelaySecs),
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", domain.ErrInvalidConfig, cfg.Provider)
	}
}
