package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/nugget/shippopotamus/internal/catalog"
	"github.com/nugget/shippopotamus/internal/composer"
	"github.com/nugget/shippopotamus/internal/config"
	"github.com/nugget/shippopotamus/internal/discovery"
	"github.com/nugget/shippopotamus/internal/embeddings"
	"github.com/nugget/shippopotamus/internal/index"
	"github.com/nugget/shippopotamus/internal/paths"
	"github.com/nugget/shippopotamus/internal/registry"
	"github.com/nugget/shippopotamus/internal/resolver"
	"github.com/nugget/shippopotamus/internal/search"
	"github.com/nugget/shippopotamus/internal/tools"
	"github.com/nugget/shippopotamus/library"
)

// app holds every wired component for one process.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	paths     *paths.Resolver
	catalog   *catalog.Catalog
	registry  *registry.Registry
	resolver  *resolver.Resolver
	composer  *composer.Composer
	index     *index.Index // nil when no embedding provider is configured
	lexical   *search.Index
	discovery *discovery.Engine
	tools     *tools.Registry
}

// newApp wires the components described by cfg. The caller must Close
// the result.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	a.paths = paths.New(cfg.Workspace.Path, cfg.Paths)

	dataDir := a.paths.Resolve(cfg.DataDir)
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dataDir, err)
	}

	catalogDir := ""
	if cfg.Catalog.Dir != "" {
		catalogDir = a.paths.Resolve(cfg.Catalog.Dir)
	}
	cat, err := catalog.New(catalog.Config{
		Embedded: library.FS,
		Dir:      catalogDir,
		Debounce: cfg.Catalog.Debounce,
		Logger:   logger.With("component", "catalog"),
	})
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	a.catalog = cat

	reg, err := registry.Open(config.DBPath(dataDir), registry.Config{
		Catalog: cat,
		Paths:   a.paths,
		Logger:  logger.With("component", "registry"),
	})
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	a.registry = reg

	a.resolver = resolver.New(resolver.Config{
		Registry: reg,
		Paths:    a.paths,
		Logger:   logger.With("component", "resolver"),
	})
	a.composer = composer.New(composer.Config{
		Resolver:  a.resolver,
		Separator: cfg.Compose.Separator,
		Logger:    logger.With("component", "composer"),
	})

	provider, err := embeddings.New(cfg.EmbeddingsProvider())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	if provider != nil {
		ix, err := index.New(index.Config{
			DB:            reg.DB(),
			Corpus:        reg,
			Provider:      provider,
			QueryCacheTTL: cfg.Search.QueryCacheTTL,
			Logger:        logger.With("component", "index"),
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("embedding index: %w", err)
		}
		a.index = ix
	} else {
		logger.Info("semantic search disabled, no embedding provider configured")
	}

	a.lexical = search.New(logger.With("component", "lexical"))
	a.discovery = discovery.New(discovery.Config{
		Index:           a.index,
		Lexical:         a.lexical,
		Corpus:          reg,
		Composer:        a.composer,
		Principles:      cfg.Discovery.Principles,
		Workflows:       cfg.Discovery.Workflows,
		SmartPrinciples: cfg.Discovery.SmartPrinciples,
		SmartWorkflows:  cfg.Discovery.SmartWorkflows,
		Logger:          logger.With("component", "discovery"),
	})

	a.tools = tools.NewRegistry(tools.Deps{
		Registry:            reg,
		Resolver:            a.resolver,
		Composer:            a.composer,
		Index:               a.index,
		Discovery:           a.discovery,
		SearchTopK:          cfg.Search.TopK,
		SearchMinSimilarity: float32(cfg.Search.MinSimilarity),
		BootstrapRefs:       cfg.Compose.BootstrapRefs,
		Logger:              logger.With("component", "tools"),
	})

	return a, nil
}

// Close releases the lexical index and the database.
func (a *app) Close() error {
	var errs []error
	if a.lexical != nil {
		errs = append(errs, a.lexical.Close())
	}
	if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	return errors.Join(errs...)
}
