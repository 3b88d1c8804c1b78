// Package explorertest builds a live cache over a temporary vault for tests
// of packages that sit on top of the explorer service.
package explorertest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/navigator/internal/appearance"
	"github.com/starford/navigator/internal/explorer"
	"github.com/starford/navigator/internal/models"
	"github.com/starford/navigator/internal/navcache"
	"github.com/starford/navigator/internal/stats"
	"github.com/starford/navigator/internal/testutil"
	"github.com/starford/navigator/internal/vault"
)

// Env is a running cache with its collaborators.
type Env struct {
	t       *testing.T
	Dir     string
	FS      *vault.FS
	Cache   *navcache.Cache
	Layer   *appearance.Layer
	Stats   *stats.Collector
	Service *explorer.Service
}

// New starts a cache over an empty temporary vault. Everything is torn
// down with the test.
func New(t *testing.T) *Env {
	t.Helper()
	dir, fs := testutil.TestVault(t)
	opts := navcache.DefaultOptions(false)
	opts.DatabaseDir = t.TempDir()
	opts.TickInterval = time.Millisecond
	opts.Content.PropertyKeys = []string{"status"}

	logger := testutil.Logger()
	cache, err := navcache.Initialize(context.Background(), "test", opts, navcache.Deps{Host: fs, Logger: logger})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = cache.Shutdown() })

	layer := appearance.New(appearance.Settings{}, nil, logger)
	collector := stats.NewCollector(cache, logger, nil)
	t.Cleanup(collector.Close)

	return &Env{
		t:       t,
		Dir:     dir,
		FS:      fs,
		Cache:   cache,
		Layer:   layer,
		Stats:   collector,
		Service: explorer.NewService(cache, layer, collector),
	}
}

// Write stores a vault file, delivers its create event and waits until the
// cache has derived its content.
func (e *Env) Write(rel, content string) {
	e.t.Helper()
	testutil.WriteFile(e.t, e.Dir, rel, content)
	st, err := e.FS.Stat(rel)
	if err != nil {
		e.t.Fatal(err)
	}
	e.Cache.HandleEvent(models.FileEvent{Kind: models.EventCreate, Path: rel, Stat: st})
	e.Idle()
}

// Remove deletes a vault file and delivers the delete event.
func (e *Env) Remove(rel string) {
	e.t.Helper()
	if err := os.Remove(filepath.Join(e.Dir, filepath.FromSlash(rel))); err != nil {
		e.t.Fatal(err)
	}
	ev := models.FileEvent{Kind: models.EventDelete, Path: rel}
	e.Cache.HandleEvent(ev)
	e.Layer.ApplyEvent(ev)
}

// Idle waits for queued regeneration to finish.
func (e *Env) Idle() {
	e.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Cache.WaitIdle(ctx); err != nil {
		e.t.Fatalf("WaitIdle: %v", err)
	}
}
