package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	defaultAttempts = 3
	initialBackoff  = 2 * time.Second
)

// Cache wraps a Resolver with a permanent, file-backed mapping. A handle
// resolved once is never resolved again for the life of the process; entries
// are never invalidated. Safe for concurrent use; resolving the same handle
// twice concurrently is idempotent.
type Cache struct {
	inner    Resolver
	path     string
	attempts int
	backoff  time.Duration

	mu      sync.Mutex
	entries map[string]string
}

// NewCache creates a cache persisted at path (JSON object, handle → contact).
// A missing file starts empty; a corrupt file is an error so a bad deploy is
// noticed rather than silently re-resolving everything.
func NewCache(inner Resolver, path string) (*Cache, error) {
	c := &Cache{
		inner:    inner,
		path:     path,
		attempts: defaultAttempts,
		backoff:  initialBackoff,
		entries:  make(map[string]string),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// first run
		case err != nil:
			return nil, fmt.Errorf("read resolver cache: %w", err)
		default:
			if err := json.Unmarshal(data, &c.entries); err != nil {
				return nil, fmt.Errorf("parse resolver cache %s: %w", path, err)
			}
		}
	}

	return c, nil
}

// Resolve returns the cached mapping or asks the inner resolver, retrying
// transient failures with backoff. ErrNotFound is definitive and returned
// without retry.
func (c *Cache) Resolve(ctx context.Context, participant string) (string, error) {
	c.mu.Lock()
	if contact, ok := c.entries[participant]; ok {
		c.mu.Unlock()
		return contact, nil
	}
	c.mu.Unlock()

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		contact, err := c.inner.Resolve(ctx, participant)
		if err == nil {
			c.store(participant, contact)
			return contact, nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) {
			return "", err
		}

		lastErr = err
		slog.Warn("contact resolution attempt failed", "participant", participant, "attempt", attempt+1, "error", err)
	}

	return "", fmt.Errorf("resolve %s: %w", participant, lastErr)
}

func (c *Cache) store(participant, contact string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[participant]; ok {
		return // concurrent resolution won the race; mappings are immutable
	}
	c.entries[participant] = contact

	if c.path == "" {
		return
	}
	if err := c.save(); err != nil {
		// Persistence is best effort; the in-memory entry stands.
		slog.Warn("resolver cache save failed", "error", err)
	}
}

// save writes the cache atomically: temp file, then rename.
func (c *Cache) save() error {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, "lidmap-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, c.path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
