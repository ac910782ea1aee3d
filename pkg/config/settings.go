package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/cuemby/actyx/pkg/log"
)

// Settings is the runtime-parameter JSON tree persisted at
// <data-dir>/settings. It is intentionally a loose map —
// components read the keys they care about and ignore the rest, so
// adding a setting never requires a schema migration.
type Settings map[string]interface{}

// Get looks up a dotted path ("swarm.gossipIntervalMs") in the tree.
func (s Settings) Get(path string) (interface{}, bool) {
	cur := map[string]interface{}(s)
	parts := splitPath(path)
	for i, p := range parts {
		v, ok := cur[p]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			return v, true
		}
		next, ok := v.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

// Set writes a dotted path, creating intermediate maps as needed.
func (s Settings) Set(path string, value interface{}) error {
	parts := splitPath(path)
	if len(parts) == 0 {
		return fmt.Errorf("settings: empty path")
	}
	cur := map[string]interface{}(s)
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
	return nil
}

// Unset removes a dotted path. Missing paths are a no-op.
func (s Settings) Unset(path string) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return
	}
	cur := map[string]interface{}(s)
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

// SettingsStore loads, persists, and hot-reloads the settings tree.
type SettingsStore struct {
	mu       sync.RWMutex
	path     string
	current  Settings
	watcher  *fsnotify.Watcher
	watchers []chan Settings
}

// NewSettingsStore loads (or creates) the settings file at dataDir/settings.
func NewSettingsStore(dataDir string) (*SettingsStore, error) {
	path := filepath.Join(dataDir, "settings")
	s := &SettingsStore{path: path, current: Settings{}}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := s.persist(); err != nil {
			return nil, fmt.Errorf("failed to initialize settings: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read settings: %w", err)
	default:
		var tree Settings
		if err := json.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("failed to parse settings: %w", err)
		}
		s.current = tree
	}

	return s, nil
}

// Snapshot returns a copy of the current tree.
func (s *SettingsStore) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Settings, len(s.current))
	for k, v := range s.current {
		out[k] = v
	}
	return out
}

// Update applies fn to a copy of the tree and persists the result.
func (s *SettingsStore) Update(fn func(Settings) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(Settings, len(s.current))
	for k, v := range s.current {
		next[k] = v
	}
	if err := fn(next); err != nil {
		return err
	}
	s.current = next
	if err := s.persist(); err != nil {
		return err
	}
	s.notifyLocked()
	return nil
}

func (s *SettingsStore) persist() error {
	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}
	return os.WriteFile(s.path, data, 0o600)
}

// Subscribe returns a channel receiving the full tree whenever it
// changes, either via Update or an external edit picked up by Watch.
func (s *SettingsStore) Subscribe() <-chan Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Settings, 1)
	s.watchers = append(s.watchers, ch)
	return ch
}

func (s *SettingsStore) notifyLocked() {
	for _, ch := range s.watchers {
		select {
		case ch <- s.current:
		default:
		}
	}
}

// Watch starts an fsnotify watch on the settings file so edits made
// outside this process (an operator using the CLI against a stopped
// node, or a config-management tool) are picked up without a restart.
// It runs until ctxDone is closed.
func (s *SettingsStore) Watch(ctxDone <-chan struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create settings watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch settings dir: %w", err)
	}
	s.watcher = w

	l := log.WithComponent("config")
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctxDone:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.reload(); err != nil {
					l.Error().Err(err).Msg("failed to reload settings after external edit")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.Error().Err(err).Msg("settings watcher error")
			}
		}
	}()
	return nil
}

func (s *SettingsStore) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var tree Settings
	if err := json.Unmarshal(data, &tree); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = tree
	s.notifyLocked()
	s.mu.Unlock()
	return nil
}

// Close stops the fsnotify watch, if any.
func (s *SettingsStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
