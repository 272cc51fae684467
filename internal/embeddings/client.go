// Package embeddings turns prompt text into fixed-length vectors. The
// index depends only on the Provider interface; concrete providers talk
// to Ollama, to any OpenAI-compatible /embeddings endpoint, or hash
// features locally with no external service at all.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/nugget/shippopotamus/internal/httpkit"
)

// Provider generates an embedding for one text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name identifies the provider ("ollama", "openai", "hashing").
	Name() string

	// Model identifies the vector space. Vectors from different models
	// are never compared.
	Model() string
}

// Provider names accepted by New.
const (
	ProviderNone    = "none"
	ProviderOllama  = "ollama"
	ProviderOpenAI  = "openai"
	ProviderHashing = "hashing"
)

// Config selects and configures a provider.
type Config struct {
	Provider   string        // One of the Provider* names
	BaseURL    string        // Ollama or OpenAI-compatible base URL
	Model      string        // Embedding model name
	APIKey     string        // OpenAI-compatible only; falls back to OPENAI_API_KEY
	Dimensions int           // Requested vector size (OpenAI-compatible, hashing)
	Timeout    time.Duration // Per-request timeout; zero uses 30s
}

// New builds the provider cfg names. ProviderNone (or an empty name)
// returns a nil Provider and no error: semantic search is then
// unavailable and callers fall back to lexical matching.
func New(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderNone:
		return nil, nil
	case ProviderOllama:
		return NewOllama(cfg), nil
	case ProviderOpenAI:
		return NewOpenAI(cfg), nil
	case ProviderHashing:
		return NewHashing(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q (valid: none, ollama, openai, hashing)", cfg.Provider)
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return httpkit.NewClient(httpkit.Config{
		Timeout: timeout,
		Retries: 2,
	})
}

// Ollama generates embeddings using Ollama's embedding API.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates an Ollama embedding provider.
func NewOllama(cfg Config) *Ollama {
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	return &Ollama{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  newHTTPClient(cfg.Timeout),
	}
}

// Name implements Provider.
func (c *Ollama) Name() string { return ProviderOllama }

// Model implements Provider.
func (c *Ollama) Model() string { return c.model }

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements Provider.
func (c *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, errBody)
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding for model %s", c.model)
	}
	return out.Embedding, nil
}

// OpenAI generates embeddings from any OpenAI-compatible /embeddings
// endpoint (OpenAI, Voyage, Mistral, LM Studio, vLLM).
type OpenAI struct {
	baseURL    string
	model      string
	apiKey     string
	dimensions int
	client     *http.Client
}

// NewOpenAI creates an OpenAI-compatible embedding provider.
func NewOpenAI(cfg Config) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return &OpenAI{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		dimensions: cfg.Dimensions,
		client:     newHTTPClient(cfg.Timeout),
	}
}

// Name implements Provider.
func (c *OpenAI) Name() string { return ProviderOpenAI }

// Model implements Provider.
func (c *OpenAI) Model() string { return c.model }

type openAIRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed implements Provider.
func (c *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.apiKey == "" && strings.Contains(c.baseURL, "api.openai.com") {
		return nil, fmt.Errorf("openai: no API key configured")
	}

	body, err := json.Marshal(openAIRequest{
		Model:      c.model,
		Input:      []string{text},
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("openai returned status %d: %s", resp.StatusCode, errBody)
	}

	var out openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("openai: %s", out.Error.Message)
	}
	for _, d := range out.Data {
		if d.Index == 0 && len(d.Embedding) > 0 {
			return d.Embedding, nil
		}
	}
	return nil, fmt.Errorf("openai returned no embedding for model %s", c.model)
}

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched lengths and zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
	// Rounding can push identical vectors a hair past 1.
	return max(-1, min(1, sim))
}
