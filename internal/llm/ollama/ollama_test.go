package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragkb/internal/domain"
)

func TestGenerate(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(generateResponse{Response: "Paris [Document 1]", Done: true})
	}))
	defer srv.Close()

	g := New(Config{BaseURL: srv.URL + "/", Model: "tiny"})
	answer, err := g.Generate(context.Background(), "Capital of France?", []string{"Paris is the capital of France."})
	require.NoError(t, err)

	assert.Equal(t, "Paris [Document 1]", answer)
	assert.Equal(t, "tiny", got.Model)
	assert.False(t, got.Stream)
	assert.Contains(t, got.Prompt, "[Document 1]: Paris is the capital of France.")
	assert.Contains(t, got.Prompt, "Question: Capital of France?")
	assert.Equal(t, "ollama:tiny", g.Name())
}

func TestGenerate_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(Config{BaseURL: srv.URL}).Generate(context.Background(), "q", []string{"c"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGeneration)
	assert.Contains(t, err.Error(), "model not found")
}

func TestGenerate_Unreachable(t *testing.T) {
	_, err := New(Config{BaseURL: "http://127.0.0.1:1"}).Generate(context.Background(), "q", nil)
	assert.ErrorIs(t, err, domain.ErrGeneration)
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()
	assert.NoError(t, New(Config{BaseURL: srv.URL}).Ping(context.Background()))
}
