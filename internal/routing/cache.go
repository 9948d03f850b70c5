package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Cache persists route decisions keyed by fingerprint.
type Cache interface {
	Lookup(ctx context.Context, fingerprint string) (Decision, bool, error)
	Store(ctx context.Context, fingerprint string, d Decision) error
	Close() error
}

// FileCache keeps decisions in memory and rewrites a JSON file on every store.
// The file is replaced through a temp file and rename so readers never see a
// partial write. Writes are serialized and stale snapshots are dropped, so the
// file always converges to the latest in-memory state.
type FileCache struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]Decision
	version uint64

	writeMu sync.Mutex
	written uint64
}

// NewFileCache loads path if it exists. A corrupt file is logged and replaced
// on the next store.
func NewFileCache(path string, logger *slog.Logger) (*FileCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &FileCache{path: path, logger: logger, entries: map[string]Decision{}}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("read route cache: %w", err)
	}
	if len(raw) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c.entries); err != nil {
		logger.Warn("routing.cache.corrupt", "path", path, "error", err)
		c.entries = map[string]Decision{}
	}
	logger.Info("routing.cache.loaded", "path", path, "entries", len(c.entries))
	return c, nil
}

func (c *FileCache) Lookup(_ context.Context, fingerprint string) (Decision, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.entries[fingerprint]
	return d, ok, nil
}

func (c *FileCache) Store(_ context.Context, fingerprint string, d Decision) error {
	c.mu.Lock()
	c.entries[fingerprint] = d
	c.version++
	version := c.version
	snapshot, err := json.MarshalIndent(c.entries, "", "  ")
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode route cache: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if version <= c.written {
		return nil
	}
	if err := writeFileAtomic(c.path, snapshot); err != nil {
		return err
	}
	c.written = version
	return nil
}

// Len reports the number of cached decisions.
func (c *FileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *FileCache) Close() error { return nil }

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}
