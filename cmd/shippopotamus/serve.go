package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nugget/shippopotamus/internal/buildinfo"
	"github.com/nugget/shippopotamus/internal/mcp"
)

// runServe serves the tool registry over MCP on stdin/stdout until the
// input closes or the process is signalled.
func runServe(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := mcp.NewServer(mcp.Config{
		Tools:    a.tools,
		Catalog:  a.catalog,
		Resolver: a.resolver,
		Logger:   logger.With("component", "mcp"),
	})
	if err != nil {
		return err
	}

	a.catalog.OnReload(srv.SyncPrompts)
	if cfg.Catalog.Watch && a.catalog.Dir() != "" {
		go func() {
			if err := a.catalog.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("catalog watch stopped", "error", err)
			}
		}()
	}

	logger.Info("serving MCP on stdio",
		"version", buildinfo.Version,
		"prompts", a.catalog.Len(),
		"semantic", a.index != nil,
	)

	err = srv.Serve(ctx, stdin, stdout)
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
