package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of filesystem events (editors often
// write a file several times per save) into one reload.
const DefaultDebounce = 500 * time.Millisecond

// Watch reloads the catalog whenever a markdown file under Dir changes.
// It blocks until ctx is cancelled. Without a Dir it returns immediately.
func (c *Catalog) Watch(ctx context.Context) error {
	d := c.debounce
	if d <= 0 {
		d = DefaultDebounce
	}
	return c.watch(ctx, d)
}

func (c *Catalog) watch(ctx context.Context, debounce time.Duration) error {
	if c.dir == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	err = filepath.WalkDir(c.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.Add(p); err != nil {
				c.logger.Warn("failed to watch catalog dir", "path", p, "error", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk catalog dir: %w", err)
	}

	c.logger.Info("watching prompt catalog", "dir", c.dir)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if c.relevant(w, event) {
				timer.Reset(debounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("catalog watcher error", "error", err)

		case <-timer.C:
			if err := c.Reload(); err != nil {
				c.logger.Error("catalog reload failed, keeping previous catalog", "error", err)
				continue
			}
			c.logger.Info("prompt catalog reloaded", "prompts", c.Len())
		}
	}
}

// relevant reports whether event can change the catalog. New
// directories are added to the watch set as a side effect.
func (c *Catalog) relevant(w *fsnotify.Watcher, event fsnotify.Event) bool {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.Add(event.Name); err != nil {
				c.logger.Warn("failed to watch new catalog dir", "path", event.Name, "error", err)
			}
			return true
		}
	}
	if event.Op == fsnotify.Chmod {
		return false
	}
	// A removed directory arrives without a .md suffix.
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		return true
	}
	return strings.HasSuffix(event.Name, ".md")
}
