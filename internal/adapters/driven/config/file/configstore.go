package file

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/custodia-labs/sercha-kb/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// FileName is the settings file inside the config directory.
const FileName = "config.toml"

var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigStore persists settings to a TOML file. Values are held flat
// ("vector.collection") and written as nested tables, so that key lands
// as collection under [vector]. Every Set rewrites the file.
type ConfigStore struct {
	*memory.ConfigStore

	path    string
	writeMu sync.Mutex
}

// NewConfigStore opens <configDir>/config.toml, creating the directory
// when needed. An empty configDir means ~/.sercha-kb. A missing file is an
// empty configuration; a malformed one is an error.
func NewConfigStore(configDir string) (*ConfigStore, error) {
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating home directory: %w", err)
		}
		configDir = filepath.Join(home, ".sercha-kb")
	}
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	s := &ConfigStore{
		ConfigStore: memory.NewConfigStore(),
		path:        filepath.Join(configDir, FileName),
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Set stores value and rewrites the file. When the write fails the
// previous value is restored.
func (s *ConfigStore) Set(key string, value any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev, existed := s.ConfigStore.Get(key)
	_ = s.ConfigStore.Set(key, value)
	if err := s.write(); err != nil {
		if existed {
			_ = s.ConfigStore.Set(key, prev)
		} else {
			s.ConfigStore.Delete(key)
		}
		return err
	}
	return nil
}

// Save rewrites the file from the current values.
func (s *ConfigStore) Save() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.write()
}

func (s *ConfigStore) write() error {
	data, err := toml.Marshal(nest(s.Snapshot()))
	if err != nil {
		return fmt.Errorf("encoding %s: %w", s.path, err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}

// Load replaces the values with the file's contents.
func (s *ConfigStore) Load() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.Replace(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.path, err)
	}

	var tree map[string]any
	if err := toml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("parsing %s: %w", s.path, err)
	}
	flat := make(map[string]any)
	flatten(tree, "", flat)
	s.Replace(flat)
	return nil
}

// Path returns the settings file location.
func (s *ConfigStore) Path() string {
	return s.path
}

// flatten copies the leaves of tree into out under dotted keys.
func flatten(tree map[string]any, prefix string, out map[string]any) {
	for k, v := range tree {
		if prefix != "" {
			k = prefix + "." + k
		}
		if table, ok := v.(map[string]any); ok {
			flatten(table, k, out)
			continue
		}
		out[k] = v
	}
}

// nest turns dotted keys into nested tables. Keys are placed in sorted
// order; a key whose path collides with an existing leaf is kept at the
// top level under its full dotted name.
func nest(flat map[string]any) map[string]any {
	tree := make(map[string]any, len(flat))
	for _, key := range slices.Sorted(maps.Keys(flat)) {
		if !insert(tree, strings.Split(key, "."), flat[key]) {
			tree[key] = flat[key]
		}
	}
	return tree
}

// insert places value at path inside tree, creating tables on the way.
// It reports false when a leaf already occupies part of the path.
func insert(tree map[string]any, path []string, value any) bool {
	for _, part := range path[:len(path)-1] {
		next, exists := tree[part]
		if !exists {
			table := make(map[string]any)
			tree[part] = table
			tree = table
			continue
		}
		table, ok := next.(map[string]any)
		if !ok {
			return false
		}
		tree = table
	}
	leaf := path[len(path)-1]
	if _, taken := tree[leaf]; taken {
		return false
	}
	tree[leaf] = value
	return true
}
