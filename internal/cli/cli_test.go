package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"ragkb/internal/config"
	"ragkb/internal/domain"
	"ragkb/internal/embedding/hashing"
	"ragkb/internal/embedding/openai"
	"ragkb/internal/llm/huggingface"
	"ragkb/internal/llm/ollama"
	"ragkb/internal/logger"
	"ragkb/internal/vectorstore/memory"
	"ragkb/internal/vectorstore/qdrant"
	"ragkb/internal/vectorstore/sqlite"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LLM_PROVIDER", "OLLAMA_BASE_URL", "OLLAMA_MODEL", "HF_API_URL", "HF_API_KEY", "API_HOST", "API_PORT", "PORT"} {
		t.Setenv(k, "")
	}
}

// setup writes a config using sqlite under a temp dir and an Ollama fake.
func setup(t *testing.T) (configPath, dir string, prompts *[]string) {
	t.Helper()
	clearEnv(t)
	dir = t.TempDir()
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		seen = append(seen, req.Prompt)
		_, _ = w.Write([]byte(`{"response":"Gophers dig tunnels [Document 1].","done":true}`))
	}))
	t.Cleanup(srv.Close)

	cfg := fmt.Sprintf(`
chunker:
  chunk_size: 20
  chunk_overlap: 5
vector_store:
  type: sqlite
  sqlite:
    path: %s
llm:
  provider: ollama
  ollama:
    base_url: %s
ingest:
  docs_dir: %s
log:
  level: error
`, filepath.Join(dir, "kb.db"), srv.URL, filepath.Join(dir, "docs"))
	configPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))
	return configPath, dir, &seen
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngestQueryStatsReset(t *testing.T) {
	cfgPath, dir, prompts := setup(t)
	doc := filepath.Join(dir, "gophers.txt")
	require.NoError(t, os.WriteFile(doc, []byte(strings.Repeat("gophers dig tunnels under the garden ", 10)), 0o644))

	out, err := run(t, "--config", cfgPath, "ingest", doc)
	require.NoError(t, err, out)
	assert.Contains(t, out, "[OK]")
	assert.Contains(t, out, "gophers.txt")

	out, err = run(t, "--config", cfgPath, "--json", "stats")
	require.NoError(t, err, out)
	var stats domain.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 4, stats.Count)
	assert.Equal(t, []string{"gophers.txt"}, stats.Sources)

	out, err = run(t, "--config", cfgPath, "query", "what", "do", "gophers", "dig?", "--top-k", "2")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Gophers dig tunnels [Document 1].")
	assert.Contains(t, out, "gophers.txt")
	require.Len(t, *prompts, 1)
	assert.Contains(t, (*prompts)[0], "Question: what do gophers dig?")
	assert.NotContains(t, (*prompts)[0], "[Document 3]")

	out, err = run(t, "--config", cfgPath, "--json", "query", "gophers", "--source", "other.pdf")
	require.NoError(t, err, out)
	var res domain.QueryResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "No relevant documents found in the knowledge base.", res.Answer)
	assert.Len(t, *prompts, 1)

	_, err = run(t, "--config", cfgPath, "reset")
	assert.Error(t, err)

	out, err = run(t, "--config", cfgPath, "reset", "--yes")
	require.NoError(t, err, out)
	out, err = run(t, "--config", cfgPath, "--json", "stats")
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Zero(t, stats.Count)
}

func TestIngest_ReportsFailures(t *testing.T) {
	cfgPath, dir, _ := setup(t)
	good := filepath.Join(dir, "ok.md")
	require.NoError(t, os.WriteFile(good, []byte("some words here"), 0o644))

	out, err := run(t, "--config", cfgPath, "ingest", good, filepath.Join(dir, "slides.pptx"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 files failed")
	assert.Contains(t, out, "[OK]")
	assert.Contains(t, out, "[ERROR]")
}

func TestIndexDir(t *testing.T) {
	cfgPath, dir, _ := setup(t)
	docs := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "a.txt"), []byte("alpha beta gamma"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "b.md"), []byte("delta epsilon"), 0o644))

	out, err := run(t, "--config", cfgPath, "index-dir")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Found 2 document(s)")
	assert.Contains(t, out, "Total chunks in knowledge base: 2")

	empty := t.TempDir()
	out, err = run(t, "--config", cfgPath, "index-dir", empty)
	require.NoError(t, err, out)
	assert.Contains(t, out, "No documents found")
}

func TestBuildComponents(t *testing.T) {
	clearEnv(t)
	ctx := context.Background()

	emb, err := buildEmbedder(config.EmbedderConfig{Type: "hashing", Hashing: &config.HashingEmbedderConfig{Dimension: 64}})
	require.NoError(t, err)
	assert.IsType(t, &hashing.Embedder{}, emb)
	assert.Equal(t, 64, emb.Dimension())

	emb, err = buildEmbedder(config.EmbedderConfig{Type: "openai", OpenAI: &config.OpenAIEmbedderConfig{BaseURL: "http://localhost:11434/v1", Model: "nomic-embed-text"}})
	require.NoError(t, err)
	assert.IsType(t, &openai.Client{}, emb)

	_, err = buildEmbedder(config.EmbedderConfig{Type: "bert"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	st, err := buildStorage(ctx, config.VectorStoreConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &memory.Storage{}, st)

	st, err = buildStorage(ctx, config.VectorStoreConfig{Type: "sqlite", SQLite: &config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "x.db")}})
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Storage{}, st)
	require.NoError(t, st.Close())

	st, err = buildStorage(ctx, config.VectorStoreConfig{Type: "qdrant", Qdrant: &config.QdrantConfig{URL: "http://localhost:6333"}})
	require.NoError(t, err)
	assert.IsType(t, &qdrant.Storage{}, st)

	_, err = buildStorage(ctx, config.VectorStoreConfig{Type: "chroma"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	gen, err := buildGenerator(config.LLMConfig{Provider: "ollama"})
	require.NoError(t, err)
	assert.IsType(t, &ollama.Generator{}, gen)

	gen, err = buildGenerator(config.LLMConfig{Provider: "huggingface"})
	require.NoError(t, err)
	assert.IsType(t, &huggingface.Generator{}, gen)

	_, err = buildGenerator(config.LLMConfig{Provider: "gpt"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCheckGenerator(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer up.Close()
	checkGenerator(ctx, config.LLMConfig{Provider: "ollama"}, ollama.New(ollama.Config{BaseURL: up.URL}), log)
	assert.Empty(t, logs.TakeAll())

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()
	checkGenerator(ctx, config.LLMConfig{Provider: "ollama"}, ollama.New(ollama.Config{BaseURL: down.URL}), log)
	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	assert.Equal(t, "llm backend unreachable", entries[0].Message)

	hf := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"generated_text":"ok"}]`))
	}))
	defer hf.Close()
	hfCfg := config.LLMConfig{Provider: "huggingface", HuggingFace: &config.HuggingFaceConfig{APIURL: hf.URL}}
	checkGenerator(ctx, hfCfg, huggingface.New(huggingface.Config{APIURL: hf.URL}), log)
	entries = logs.TakeAll()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "HF_API_KEY")

	hfCfg.HuggingFace.APIKey = "hf_x"
	checkGenerator(ctx, hfCfg, huggingface.New(huggingface.Config{APIURL: hf.URL, APIKey: "hf_x"}), log)
	assert.Empty(t, logs.TakeAll())
}
