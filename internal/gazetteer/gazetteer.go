// Package gazetteer holds the locality reference list used by the relevance
// filter. Each canonical place name carries alias spellings (transliteration
// variants, local-script forms) so "Kyiv", "kiev" and "київ" all resolve to
// the same place.
package gazetteer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Gazetteer maps canonical locality names to their alias spellings.
// Safe for concurrent use; Watch reloads the backing file on change.
type Gazetteer struct {
	mu      sync.RWMutex
	path    string
	aliases map[string][]string // canonical (lowercase) → alias spellings (lowercase)
}

// defaults cover the localities the operators work with out of the box.
// A config file extends or replaces them.
var defaults = map[string][]string{
	"kyiv":    {"kiev", "київ", "киев"},
	"kharkiv": {"kharkov", "харків", "харьков"},
	"lviv":    {"lvov", "львів", "львов"},
	"odesa":   {"odessa", "одеса", "одесса"},
	"dnipro":  {"dnepr", "дніпро", "днепр"},
}

// New creates a gazetteer. If path is empty or the file is missing, the
// built-in defaults are used.
func New(path string) (*Gazetteer, error) {
	g := &Gazetteer{path: path, aliases: defaults}
	if path == "" {
		return g, nil
	}
	if err := g.reload(); err != nil {
		if os.IsNotExist(err) {
			slog.Info("gazetteer file missing, using defaults", "path", path)
			return g, nil
		}
		return nil, err
	}
	return g, nil
}

// Spellings returns every accepted spelling for a locality, canonical form
// first. Lookup accepts the canonical name or any alias, case-insensitive.
// Unknown localities return just the query itself so free-text localities
// still match literally.
func (g *Gazetteer) Spellings(name string) []string {
	query := strings.ToLower(strings.TrimSpace(name))
	if query == "" {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if aliases, ok := g.aliases[query]; ok {
		return append([]string{query}, aliases...)
	}
	for canonical, aliases := range g.aliases {
		for _, a := range aliases {
			if a == query {
				return append([]string{canonical}, aliases...)
			}
		}
	}
	return []string{query}
}

// Watch reloads the gazetteer whenever the backing file changes. Blocks
// until done is closed; callers run it in its own goroutine. No-op when the
// gazetteer has no backing file.
func (g *Gazetteer) Watch(done <-chan struct{}) error {
	if g.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("gazetteer watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(g.path); err != nil {
		return fmt.Errorf("watch gazetteer %s: %w", g.path, err)
	}

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := g.reload(); err != nil {
				slog.Warn("gazetteer reload failed", "error", err)
				continue
			}
			slog.Info("gazetteer reloaded", "path", g.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("gazetteer watch error", "error", err)
		}
	}
}

func (g *Gazetteer) reload() error {
	data, err := os.ReadFile(g.path)
	if err != nil {
		return err
	}

	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse gazetteer %s: %w", g.path, err)
	}

	normalized := make(map[string][]string, len(raw))
	for canonical, aliases := range raw {
		lowered := make([]string, 0, len(aliases))
		for _, a := range aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				lowered = append(lowered, a)
			}
		}
		normalized[strings.ToLower(strings.TrimSpace(canonical))] = lowered
	}

	g.mu.Lock()
	g.aliases = normalized
	g.mu.Unlock()
	return nil
}
