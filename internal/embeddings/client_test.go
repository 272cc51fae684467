package embeddings

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1.0},
		{"scaled", []float32{1, 2, 3}, []float32{2, 4, 6}, 1.0},
		{"mismatched length", []float32{1}, []float32{1, 2}, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if math.Abs(float64(got-tc.expected)) > 0.0001 {
				t.Errorf("got %f, want %f", got, tc.expected)
			}
			if got > 1 || got < -1 {
				t.Errorf("got %f, outside [-1, 1]", got)
			}
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		provider string
		wantName string
		wantErr  bool
	}{
		{"", "", false},
		{"none", "", false},
		{"ollama", ProviderOllama, false},
		{"OpenAI", ProviderOpenAI, false},
		{"hashing", ProviderHashing, false},
		{"word2vec", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			p, err := New(Config{Provider: tt.provider})
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%q) err = %v, wantErr %v", tt.provider, err, tt.wantErr)
			}
			if tt.wantName == "" {
				if p != nil {
					t.Errorf("New(%q) = %v, want nil provider", tt.provider, p)
				}
				return
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.wantName)
			}
		})
	}
}

func TestOllama_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model != "nomic-embed-text" || req.Prompt != "hello" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c := NewOllama(Config{BaseURL: srv.URL + "/"})
	if c.Model() != "nomic-embed-text" {
		t.Errorf("Model() = %q", c.Model())
	}
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[2] != 0.3 {
		t.Errorf("vec = %v", vec)
	}
}

func TestOllama_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantMsg string
	}{
		{"status", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `model "nomic-embed-text" not found`, http.StatusNotFound)
		}, "status 404"},
		{"empty", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"embedding":[]}`))
		}, "empty embedding"},
		{"garbage", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}, "decode response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewOllama(Config{BaseURL: srv.URL}).Embed(context.Background(), "x")
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %v, want containing %q", err, tt.wantMsg)
			}
		})
	}
}

func TestOpenAI_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			http.Error(w, "bad auth "+got, http.StatusUnauthorized)
			return
		}
		var req openAIRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 1 || req.Dimensions != 8 {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0,0]}]}`))
	}))
	defer srv.Close()

	c := NewOpenAI(Config{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "m", Dimensions: 8})
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 1 {
		t.Errorf("vec = %v", vec)
	}
}

func TestOpenAI_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI(Config{BaseURL: srv.URL, APIKey: "k"}).Embed(context.Background(), "x")
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("err = %v", err)
	}
}

func TestOllama_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := NewOllama(Config{BaseURL: url}).Embed(context.Background(), "x"); err == nil {
		t.Error("expected error from closed server")
	}
}
