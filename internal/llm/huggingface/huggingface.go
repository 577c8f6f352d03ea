// Package huggingface generates answers with the Hugging Face Inference API.
package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ragkb/internal/domain"
	"ragkb/internal/llm"
)

var _ domain.Generator = (*Generator)(nil)

const (
	DefaultAPIURL     = "https://api-inference.huggingface.co/models/mistralai/Mistral-7B-Instruct-v0.2"
	DefaultTimeout    = 60 * time.Second
	DefaultRetryDelay = 10 * time.Second

	maxNewTokens = 512
	temperature  = 0.7
	pingTimeout  = 10 * time.Second
)

type Config struct {
	APIURL  string
	APIKey  string
	Timeout time.Duration
	// RetryDelay is the wait before the single retry after a 503 while the
	// model is loading.
	RetryDelay time.Duration
}

// Generator posts prompts to a text-generation inference endpoint. A cold
// model answers 503; the request is then repeated once after RetryDelay.
type Generator struct {
	client     *http.Client
	apiURL     string
	apiKey     string
	retryDelay time.Duration
}

type parameters struct {
	MaxNewTokens   int     `json:"max_new_tokens"`
	Temperature    float64 `json:"temperature,omitempty"`
	ReturnFullText *bool   `json:"return_full_text,omitempty"`
}

type request struct {
	Inputs     string     `json:"inputs"`
	Parameters parameters `json:"parameters"`
}

func New(cfg Config) *Generator {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Generator{
		client:     &http.Client{Timeout: cfg.Timeout},
		apiURL:     cfg.APIURL,
		apiKey:     cfg.APIKey,
		retryDelay: cfg.RetryDelay,
	}
}

func (g *Generator) Name() string { return "huggingface" }

func (g *Generator) Generate(ctx context.Context, question string, context []string) (string, error) {
	fullText := false
	body, err := json.Marshal(request{
		Inputs: llm.BuildPrompt(question, context),
		Parameters: parameters{
			MaxNewTokens:   maxNewTokens,
			Temperature:    temperature,
			ReturnFullText: &fullText,
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", domain.ErrGeneration, err)
	}

	status, raw, err := g.post(ctx, body)
	if err != nil {
		return "", err
	}
	if status == http.StatusServiceUnavailable {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", domain.ErrGeneration, ctx.Err())
		case <-time.After(g.retryDelay):
		}
		status, raw, err = g.post(ctx, body)
		if err != nil {
			return "", err
		}
	}
	switch {
	case status == http.StatusServiceUnavailable:
		return "", fmt.Errorf("%w: hugging face model is loading, free tier models may take 20-30 seconds to wake up, try again shortly", domain.ErrGeneration)
	case status < 200 || status >= 300:
		return "", fmt.Errorf("%w: hugging face error (status %d): %s", domain.ErrGeneration, status, truncate(raw))
	}
	return parseGenerated(raw)
}

// Ping sends a one-token request. A loading model (503) still counts as
// reachable.
func (g *Generator) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	body, _ := json.Marshal(request{Inputs: "test", Parameters: parameters{MaxNewTokens: 1}})
	status, _, err := g.post(ctx, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusServiceUnavailable {
		return fmt.Errorf("hugging face: API returned status %d", status)
	}
	return nil
}

func (g *Generator) post(ctx context.Context, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: create request: %v", domain.ErrGeneration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: error calling hugging face API: %v", domain.ErrGeneration, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %v", domain.ErrGeneration, err)
	}
	return resp.StatusCode, raw, nil
}

// parseGenerated accepts the shapes the inference API answers with:
// [{"generated_text": ...}], {"generated_text": ...}, or either with "text".
func parseGenerated(raw []byte) (string, error) {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", domain.ErrGeneration, err)
	}
	switch v := decoded.(type) {
	case []any:
		if len(v) == 0 {
			return "", nil
		}
		if obj, ok := v[0].(map[string]any); ok {
			return textField(obj, ""), nil
		}
		return fmt.Sprint(v[0]), nil
	case map[string]any:
		if msg, ok := v["error"].(string); ok && msg != "" {
			return "", fmt.Errorf("%w: hugging face: %s", domain.ErrGeneration, msg)
		}
		return textField(v, string(raw)), nil
	case string:
		return v, nil
	default:
		return string(raw), nil
	}
}

func textField(obj map[string]any, fallback string) string {
	if s, ok := obj["generated_text"].(string); ok {
		return s
	}
	if s, ok := obj["text"].(string); ok {
		return s
	}
	return fallback
}

func truncate(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 512 {
		return s[:512] + "..."
	}
	return s
}
