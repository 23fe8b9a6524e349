// Package replied tracks message ids an operator has already acted on.
//
// The set is persisted as an append-only log, one message id per line.
// Appends go through O_APPEND so concurrent writers interleave whole lines
// instead of racing a load-mutate-rewrite cycle; membership is monotonic for
// the life of the file.
package replied

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store is a durable, append-only set of message id strings.
// Safe for concurrent use from multiple sessions.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore creates a store backed by the given log file. The parent
// directory is created if missing; the file itself is created on first Mark.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("replied store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create replied store dir: %w", err)
	}
	return &Store{path: path}, nil
}

// Mark records a message id as replied. Idempotent: marking an id that is
// already present leaves the set unchanged.
func (s *Store) Mark(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("empty message id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.load()
	if err != nil {
		// Degraded read: fall through and append anyway so the mark is not lost.
		slog.Warn("replied store read failed, appending blind", "error", err)
		set = map[string]struct{}{}
	}
	if _, ok := set[id]; ok {
		return nil
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open replied store: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(id + "\n"); err != nil {
		return fmt.Errorf("append replied id: %w", err)
	}
	return f.Sync()
}

// Snapshot loads the current set from disk. Each relevance evaluation takes
// one snapshot up front and uses it consistently. A read failure degrades to
// an empty set rather than failing the evaluation.
func (s *Store) Snapshot() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.load()
	if err != nil {
		slog.Warn("replied store read failed, using empty set", "error", err)
		return map[string]struct{}{}
	}
	return set
}

// Contains reports whether id is in the current on-disk set.
func (s *Store) Contains(id string) bool {
	_, ok := s.Snapshot()[id]
	return ok
}

func (s *Store) load() (map[string]struct{}, error) {
	set := make(map[string]struct{})

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			set[line] = struct{}{}
		}
	}
	return set, scanner.Err()
}
