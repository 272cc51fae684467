// Package config handles shippopotamus configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget/shippopotamus/internal/embeddings"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/shippopotamus/config.yaml,
// /etc/shippopotamus/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "shippopotamus", "config.yaml"))
	}

	paths = append(paths, "/etc/shippopotamus/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all shippopotamus configuration.
type Config struct {
	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json

	Workspace  WorkspaceConfig   `yaml:"workspace"`
	Paths      map[string]string `yaml:"paths"` // Named prefixes for file: references
	Catalog    CatalogConfig     `yaml:"catalog"`
	Embeddings EmbeddingsConfig  `yaml:"embeddings"`
	Search     SearchConfig      `yaml:"search"`
	Discovery  DiscoveryConfig   `yaml:"discovery"`
	Compose    ComposeConfig     `yaml:"compose"`
}

// WorkspaceConfig defines where relative file: references resolve.
type WorkspaceConfig struct {
	// Path is the root for relative paths. Empty means the working
	// directory.
	Path string `yaml:"path"`
}

// CatalogConfig controls the built-in prompt catalog.
type CatalogConfig struct {
	// Dir holds markdown prompts that extend or override the embedded
	// library. Optional.
	Dir string `yaml:"dir"`
	// Watch reloads the catalog when files under Dir change.
	Watch bool `yaml:"watch"`
	// Debounce is the quiet period before a reload (default 500ms).
	Debounce time.Duration `yaml:"debounce"`
}

// EmbeddingsConfig selects the embedding provider used for semantic
// search.
type EmbeddingsConfig struct {
	Provider   string        `yaml:"provider"` // none, hashing, ollama, openai
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"baseurl"`
	APIKey     string        `yaml:"api_key"`
	Dimensions int           `yaml:"dimensions"` // hashing provider only
	Timeout    time.Duration `yaml:"timeout"`
}

// SearchConfig tunes search_prompts.
type SearchConfig struct {
	TopK          int           `yaml:"top_k"`
	MinSimilarity float64       `yaml:"min_similarity"`
	QueryCacheTTL time.Duration `yaml:"query_cache_ttl"`
}

// DiscoveryConfig sets how many prompts discovery recommends and how
// many compose_smart selects.
type DiscoveryConfig struct {
	Principles      int `yaml:"principles"`
	Workflows       int `yaml:"workflows"`
	SmartPrinciples int `yaml:"smart_principles"`
	SmartWorkflows  int `yaml:"smart_workflows"`
}

// ComposeConfig sets composition defaults.
type ComposeConfig struct {
	Separator     string   `yaml:"separator"`
	BootstrapRefs []string `yaml:"bootstrap_refs"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing, and unset fields take their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a configuration that works offline: the embedded
// library, a local data directory, and the hashing embedder.
func Default() *Config {
	cfg := &Config{
		DataDir:   "~/.local/share/shippopotamus",
		LogLevel:  "info",
		LogFormat: "text",
		Embeddings: EmbeddingsConfig{
			Provider: embeddings.ProviderHashing,
		},
		Search: SearchConfig{MinSimilarity: 0.3},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Catalog.Debounce <= 0 {
		c.Catalog.Debounce = 500 * time.Millisecond
	}
	if c.Embeddings.Timeout <= 0 {
		c.Embeddings.Timeout = 30 * time.Second
	}
	if c.Embeddings.Provider == embeddings.ProviderHashing && c.Embeddings.Dimensions <= 0 {
		c.Embeddings.Dimensions = embeddings.DefaultHashingDimensions
	}
	if c.Search.TopK <= 0 {
		c.Search.TopK = 5
	}
	if c.Search.QueryCacheTTL <= 0 {
		c.Search.QueryCacheTTL = 10 * time.Minute
	}
	if c.Discovery.Principles <= 0 {
		c.Discovery.Principles = 3
	}
	if c.Discovery.Workflows <= 0 {
		c.Discovery.Workflows = 2
	}
	if c.Discovery.SmartPrinciples <= 0 {
		c.Discovery.SmartPrinciples = 2
	}
	if c.Discovery.SmartWorkflows <= 0 {
		c.Discovery.SmartWorkflows = 1
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	switch c.Embeddings.Provider {
	case "", embeddings.ProviderNone, embeddings.ProviderHashing, embeddings.ProviderOllama, embeddings.ProviderOpenAI:
	default:
		return fmt.Errorf("unknown embeddings.provider %q (valid: none, hashing, ollama, openai)", c.Embeddings.Provider)
	}
	if c.Search.MinSimilarity < -1 || c.Search.MinSimilarity > 1 {
		return fmt.Errorf("search.min_similarity must be between -1 and 1, got %v", c.Search.MinSimilarity)
	}
	for name := range c.Paths {
		if name == "" || strings.ContainsAny(name, ":/ ") {
			return fmt.Errorf("invalid path prefix name %q", name)
		}
	}
	return nil
}

// EmbeddingsProvider converts the embeddings section for
// [embeddings.New].
func (c *Config) EmbeddingsProvider() embeddings.Config {
	return embeddings.Config{
		Provider:   c.Embeddings.Provider,
		BaseURL:    c.Embeddings.BaseURL,
		Model:      c.Embeddings.Model,
		APIKey:     c.Embeddings.APIKey,
		Dimensions: c.Embeddings.Dimensions,
		Timeout:    c.Embeddings.Timeout,
	}
}

// DBPath returns the SQLite database path inside dataDir.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "shippopotamus.db")
}
