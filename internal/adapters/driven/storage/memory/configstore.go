package memory

import (
	"maps"
	"slices"
	"sync"

	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigStore holds flat dot-separated settings in a map. It is used
// directly in tests and as the value layer of the TOML file store.
//
// Numeric getters accept any Go or TOML number: GetInt truncates floats
// and GetFloat widens integers, so "rate = 2" reads as 2.0.
type ConfigStore struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewConfigStore returns an empty store.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{values: make(map[string]any)}
}

func (s *ConfigStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *ConfigStore) GetString(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

func (s *ConfigStore) GetBool(key string) bool {
	v, _ := s.Get(key)
	b, _ := v.(bool)
	return b
}

func (s *ConfigStore) GetInt(key string) int {
	v, _ := s.Get(key)
	f, ok := number(v)
	if !ok {
		return 0
	}
	if i, exact := v.(int64); exact {
		return int(i)
	}
	return int(f)
}

func (s *ConfigStore) GetFloat(key string) float64 {
	v, _ := s.Get(key)
	f, _ := number(v)
	return f
}

// number widens any numeric value to float64.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func (s *ConfigStore) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Delete removes key. Missing keys are ignored.
func (s *ConfigStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

func (s *ConfigStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.values))
}

// Snapshot returns a copy of every stored value.
func (s *ConfigStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// Replace swaps the stored values for a copy of values.
func (s *ConfigStore) Replace(values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = maps.Clone(values)
	if s.values == nil {
		s.values = make(map[string]any)
	}
}

// Save and Load have nothing to persist.
func (s *ConfigStore) Save() error { return nil }

func (s *ConfigStore) Load() error { return nil }

func (s *ConfigStore) Path() string { return ":memory:" }
