package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ragkb/internal/domain"
)

// HashingEmbedderConfig configures the local feature-hashing embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type    string                 `yaml:"type"`
	Hashing *HashingEmbedderConfig `yaml:"hashing,omitempty"`
	OpenAI  *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

const (
	defaultChunkSize    = 512
	defaultChunkOverlap = 50
)

// UnmarshalYAML derives an unset chunk_overlap from chunk_size, so a file
// that only shrinks chunk_size still validates.
func (c *ChunkerConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		ChunkSize    *int `yaml:"chunk_size"`
		ChunkOverlap *int `yaml:"chunk_overlap"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.ChunkSize != nil {
		c.ChunkSize = *raw.ChunkSize
	}
	switch {
	case raw.ChunkOverlap != nil:
		c.ChunkOverlap = *raw.ChunkOverlap
	case raw.ChunkSize != nil:
		c.ChunkOverlap = overlapFor(c.ChunkSize)
	}
	return nil
}

// overlapFor is the default overlap for a chunk size: 50 words, capped at a
// tenth of the chunk.
func overlapFor(size int) int {
	return max(0, min(defaultChunkOverlap, size/10))
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type       string        `yaml:"type"`
	Collection string        `yaml:"collection"`
	SQLite     *SQLiteConfig `yaml:"sqlite,omitempty"`
	Qdrant     *QdrantConfig `yaml:"qdrant,omitempty"`
}

// SQLiteConfig points at the database file of the sqlite vector store.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	VectorDim   int    `yaml:"vector_dim"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// LLMConfig selects the answer generator.
type LLMConfig struct {
	Provider    string             `yaml:"provider"`
	Ollama      *OllamaConfig      `yaml:"ollama,omitempty"`
	HuggingFace *HuggingFaceConfig `yaml:"huggingface,omitempty"`
}

type OllamaConfig struct {
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type HuggingFaceConfig struct {
	APIURL         string `yaml:"api_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSecs    int    `yaml:"timeout_secs"`
	RetryDelaySecs int    `yaml:"retry_delay_secs"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// IngestConfig controls where uploads land and how re-ingestion behaves.
type IngestConfig struct {
	DocsDir string `yaml:"docs_dir"`
	// ReplaceSource removes chunks a re-ingested file no longer produces.
	// Unset means true.
	ReplaceSource *bool `yaml:"replace_source,omitempty"`
}

// ReplaceSourceEnabled reports the effective replace_source setting.
func (c IngestConfig) ReplaceSourceEnabled() bool {
	return c.ReplaceSource == nil || *c.ReplaceSource
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port for the HTTP listener.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type LogConfig struct {
	Mode  string `yaml:"mode"`
	Level string `yaml:"level"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	LLM         LLMConfig         `yaml:"llm"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied and the result is validated.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		data = nil
	}
	cfg := defaultConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return finish(cfg)
}

// LoadDefault tries ./config.yaml first, then ~/.config/ragkb/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragkb/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	if err := Save(userPath, defaultConfig()); err != nil {
		return nil, "", err
	}
	cfg, err := finish(defaultConfig())
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate rejects settings the pipeline cannot run with.
func (c *AppConfig) Validate() error {
	var problems []string
	if c.Chunker.ChunkSize <= 0 {
		problems = append(problems, "chunker.chunk_size must be positive")
	}
	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		problems = append(problems, fmt.Sprintf("chunker.chunk_overlap %d must be in [0, chunk_size %d)", c.Chunker.ChunkOverlap, c.Chunker.ChunkSize))
	}
	if c.Retrieval.TopK <= 0 {
		problems = append(problems, "retrieval.top_k must be positive")
	}
	switch c.Embedder.Type {
	case "hashing", "openai":
	default:
		problems = append(problems, fmt.Sprintf("unknown embedder %q", c.Embedder.Type))
	}
	switch c.VectorStore.Type {
	case "memory", "sqlite", "qdrant":
	default:
		problems = append(problems, fmt.Sprintf("unknown vector store %q", c.VectorStore.Type))
	}
	switch c.LLM.Provider {
	case "ollama", "huggingface":
	default:
		problems = append(problems, fmt.Sprintf("unknown llm provider %q", c.LLM.Provider))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Seconds converts a *_secs setting to a duration; zero keeps the client default.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func finish(cfg *AppConfig) (*AppConfig, error) {
	applyConfigDefaults(cfg)
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragkb", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Embedder:    EmbedderConfig{Type: "hashing", Hashing: &HashingEmbedderConfig{Dimension: 384}},
		Chunker:     ChunkerConfig{ChunkSize: defaultChunkSize, ChunkOverlap: defaultChunkOverlap},
		VectorStore: VectorStoreConfig{Type: "sqlite", Collection: "rag_kb", SQLite: &SQLiteConfig{Path: filepath.Join("data", "ragkb.db")}},
		LLM:         LLMConfig{Provider: "huggingface"},
		Retrieval:   RetrievalConfig{TopK: 5},
		Ingest:      IngestConfig{DocsDir: "docs"},
		Server:      ServerConfig{Host: "0.0.0.0", Port: 8000},
		Log:         LogConfig{Mode: "dev", Level: "info"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.Type == "hashing" {
		if cfg.Embedder.Hashing == nil {
			cfg.Embedder.Hashing = &HashingEmbedderConfig{}
		}
		if cfg.Embedder.Hashing.Dimension == 0 {
			cfg.Embedder.Hashing.Dimension = 384
		}
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.BatchSize == 0 {
			cfg.Embedder.OpenAI.BatchSize = 32
		}
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = defaultChunkSize
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "sqlite"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "rag_kb"
	}
	if cfg.VectorStore.Type == "sqlite" {
		if cfg.VectorStore.SQLite == nil {
			cfg.VectorStore.SQLite = &SQLiteConfig{}
		}
		if cfg.VectorStore.SQLite.Path == "" {
			cfg.VectorStore.SQLite.Path = filepath.Join("data", "ragkb.db")
		}
	}
	if cfg.VectorStore.Type == "qdrant" {
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		if cfg.VectorStore.Qdrant.URL == "" {
			cfg.VectorStore.Qdrant.URL = "http://localhost:6333"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "huggingface"
	}
	if cfg.LLM.Ollama == nil {
		cfg.LLM.Ollama = &OllamaConfig{}
	}
	if cfg.LLM.Ollama.BaseURL == "" {
		cfg.LLM.Ollama.BaseURL = "http://localhost:11434"
	}
	if cfg.LLM.Ollama.Model == "" {
		cfg.LLM.Ollama.Model = "llama3.1:8b"
	}
	if cfg.LLM.Ollama.TimeoutSecs == 0 {
		cfg.LLM.Ollama.TimeoutSecs = 120
	}
	if cfg.LLM.HuggingFace == nil {
		cfg.LLM.HuggingFace = &HuggingFaceConfig{}
	}
	if cfg.LLM.HuggingFace.APIURL == "" {
		cfg.LLM.HuggingFace.APIURL = "https://api-inference.huggingface.co/models/mistralai/Mistral-7B-Instruct-v0.2"
	}
	if cfg.LLM.HuggingFace.TimeoutSecs == 0 {
		cfg.LLM.HuggingFace.TimeoutSecs = 60
	}
	if cfg.LLM.HuggingFace.RetryDelaySecs == 0 {
		cfg.LLM.HuggingFace.RetryDelaySecs = 10
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}
	if cfg.Ingest.DocsDir == "" {
		cfg.Ingest.DocsDir = "docs"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Log.Mode == "" {
		cfg.Log.Mode = "dev"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// applyEnv lets the deployment environment override the file. PORT wins over
// API_PORT, as hosting platforms set it.
func applyEnv(cfg *AppConfig) error {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.LLM.Ollama.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.LLM.Ollama.Model = v
	}
	if v := os.Getenv("HF_API_URL"); v != "" {
		cfg.LLM.HuggingFace.APIURL = v
	}
	if v := os.Getenv("HF_API_KEY"); v != "" {
		cfg.LLM.HuggingFace.APIKey = v
	}
	if v := os.Getenv("API_HOST"); v != "" {
		cfg.Server.Host = v
	}
	for _, name := range []string{"API_PORT", "PORT"} {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a port", domain.ErrInvalidConfig, name, v)
		}
		cfg.Server.Port = port
	}
	return nil
}
