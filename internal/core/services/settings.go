package services

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

type settingKind int

const (
	kindString settingKind = iota
	kindInt
	kindFloat
	kindBool
	kindDuration
)

func (k settingKind) String() string {
	switch k {
	case kindInt:
		return "integer"
	case kindFloat:
		return "number"
	case kindBool:
		return "boolean"
	case kindDuration:
		return "duration"
	default:
		return "string"
	}
}

// setting binds one config key to a Settings field.
type setting struct {
	kind  settingKind
	apply func(s *domain.Settings, v any)
}

func stringSetting(set func(s *domain.Settings, v string)) setting {
	return setting{kind: kindString, apply: func(s *domain.Settings, v any) { set(s, v.(string)) }}
}

func intSetting(set func(s *domain.Settings, v int)) setting {
	return setting{kind: kindInt, apply: func(s *domain.Settings, v any) { set(s, v.(int)) }}
}

func floatSetting(set func(s *domain.Settings, v float64)) setting {
	return setting{kind: kindFloat, apply: func(s *domain.Settings, v any) { set(s, v.(float64)) }}
}

func boolSetting(set func(s *domain.Settings, v bool)) setting {
	return setting{kind: kindBool, apply: func(s *domain.Settings, v any) { set(s, v.(bool)) }}
}

func durationSetting(set func(s *domain.Settings, v time.Duration)) setting {
	return setting{kind: kindDuration, apply: func(s *domain.Settings, v any) { set(s, v.(time.Duration)) }}
}

// settingKeys maps config keys to Settings fields.
//
//nolint:gosec // G101: key names, not credentials.
var settingKeys = map[string]setting{
	"chunking.max_tokens":     intSetting(func(s *domain.Settings, v int) { s.Chunking.MaxTokens = v }),
	"chunking.overlap_tokens": intSetting(func(s *domain.Settings, v int) { s.Chunking.OverlapTokens = v }),
	"chunking.tokenizer":      stringSetting(func(s *domain.Settings, v string) { s.Chunking.Tokenizer = v }),

	"preprocess.strip_html":           boolSetting(func(s *domain.Settings, v bool) { s.Preprocess.StripHTML = v }),
	"preprocess.normalize_unicode":    boolSetting(func(s *domain.Settings, v bool) { s.Preprocess.NormalizeUnicode = v }),
	"preprocess.collapse_whitespace":  boolSetting(func(s *domain.Settings, v bool) { s.Preprocess.CollapseWhitespace = v }),
	"preprocess.preserve_line_breaks": boolSetting(func(s *domain.Settings, v bool) { s.Preprocess.PreserveLineBreaks = v }),
	"preprocess.lowercase":            boolSetting(func(s *domain.Settings, v bool) { s.Preprocess.Lowercase = v }),
	"preprocess.detect_language":      boolSetting(func(s *domain.Settings, v bool) { s.Preprocess.DetectLanguage = v }),

	"embedding.provider": stringSetting(func(s *domain.Settings, v string) {
		s.Embedding.Provider = domain.EmbeddingProvider(strings.ToLower(v))
	}),
	"embedding.model":               stringSetting(func(s *domain.Settings, v string) { s.Embedding.Model = v }),
	"embedding.base_url":            stringSetting(func(s *domain.Settings, v string) { s.Embedding.BaseURL = v }),
	"embedding.api_key":             stringSetting(func(s *domain.Settings, v string) { s.Embedding.APIKey = v }),
	"embedding.dimensions":          intSetting(func(s *domain.Settings, v int) { s.Embedding.Dimensions = v }),
	"embedding.batch_size":          intSetting(func(s *domain.Settings, v int) { s.Embedding.BatchSize = v }),
	"embedding.requests_per_second": floatSetting(func(s *domain.Settings, v float64) { s.Embedding.RequestsPerSecond = v }),
	"embedding.max_retries":         intSetting(func(s *domain.Settings, v int) { s.Embedding.MaxRetries = v }),

	"vector.provider": stringSetting(func(s *domain.Settings, v string) {
		s.Vector.Provider = domain.VectorProvider(strings.ToLower(v))
	}),
	"vector.host":       stringSetting(func(s *domain.Settings, v string) { s.Vector.Host = v }),
	"vector.port":       intSetting(func(s *domain.Settings, v int) { s.Vector.Port = v }),
	"vector.collection": stringSetting(func(s *domain.Settings, v string) { s.Vector.Collection = v }),
	"vector.distance": stringSetting(func(s *domain.Settings, v string) {
		s.Vector.Distance = domain.VectorDistance(strings.ToLower(v))
	}),
	"vector.dsn": stringSetting(func(s *domain.Settings, v string) { s.Vector.DSN = v }),

	"relational.driver": stringSetting(func(s *domain.Settings, v string) {
		s.Relational.Driver = domain.RelationalDriver(strings.ToLower(v))
	}),
	"relational.host":     stringSetting(func(s *domain.Settings, v string) { s.Relational.Host = v }),
	"relational.port":     intSetting(func(s *domain.Settings, v int) { s.Relational.Port = v }),
	"relational.database": stringSetting(func(s *domain.Settings, v string) { s.Relational.Database = v }),
	"relational.user":     stringSetting(func(s *domain.Settings, v string) { s.Relational.User = v }),
	"relational.password": stringSetting(func(s *domain.Settings, v string) { s.Relational.Password = v }),

	"audit.enabled":    boolSetting(func(s *domain.Settings, v bool) { s.Audit.Enabled = v }),
	"audit.output_dir": stringSetting(func(s *domain.Settings, v string) { s.Audit.OutputDir = v }),

	"retrieval.default_limit":   intSetting(func(s *domain.Settings, v int) { s.Retrieval.DefaultLimit = v }),
	"retrieval.max_limit":       intSetting(func(s *domain.Settings, v int) { s.Retrieval.MaxLimit = v }),
	"retrieval.list_scan_limit": intSetting(func(s *domain.Settings, v int) { s.Retrieval.ListScanLimit = v }),

	"timeouts.embedding":  durationSetting(func(s *domain.Settings, v time.Duration) { s.Timeouts.Embedding = v }),
	"timeouts.vector":     durationSetting(func(s *domain.Settings, v time.Duration) { s.Timeouts.Vector = v }),
	"timeouts.relational": durationSetting(func(s *domain.Settings, v time.Duration) { s.Timeouts.Relational = v }),

	"scheduler.enabled": boolSetting(func(s *domain.Settings, v bool) { s.Scheduler.Enabled = v }),
	"scheduler.reindex_interval": durationSetting(func(s *domain.Settings, v time.Duration) {
		cfg := s.Scheduler.Task(domain.TaskIDReindexPending)
		cfg.Interval = v
		s.Scheduler.SetTask(domain.TaskIDReindexPending, cfg)
	}),
}

// envOverrides maps environment variables to the keys they override.
//
//nolint:gosec // G101: variable names, not credentials.
var envOverrides = []struct {
	env string
	key string
}{
	{"QDRANT_HOST", "vector.host"},
	{"QDRANT_PORT", "vector.port"},
	{"POSTGRES_HOST", "relational.host"},
	{"POSTGRES_PORT", "relational.port"},
	{"POSTGRES_DB", "relational.database"},
	{"POSTGRES_USER", "relational.user"},
	{"POSTGRES_PASSWORD", "relational.password"},
	{"OPENAI_API_KEY", "embedding.api_key"},
	{"SERCHA_KB_EMBEDDING_PROVIDER", "embedding.provider"},
}

// SettingsService manages application settings. Values resolve from the
// environment, then the .env file, then the config store, then defaults.
type SettingsService struct {
	configStore driven.ConfigStore
	lookupEnv   func(string) (string, bool)
	dotenv      map[string]string
}

// SettingsOption configures a SettingsService.
type SettingsOption func(*SettingsService)

// WithDotEnv overlays the variables of a .env file. A missing file is ignored.
func WithDotEnv(path string) SettingsOption {
	return func(s *SettingsService) {
		vars, err := godotenv.Read(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Warn("reading %s: %v", path, err)
			}
			return
		}
		s.dotenv = vars
	}
}

// WithEnvLookup replaces os.LookupEnv.
func WithEnvLookup(lookup func(string) (string, bool)) SettingsOption {
	return func(s *SettingsService) {
		if lookup != nil {
			s.lookupEnv = lookup
		}
	}
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore, opts ...SettingsOption) *SettingsService {
	s := &SettingsService{
		configStore: configStore,
		lookupEnv:   os.LookupEnv,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the effective settings. Stored values that do not parse are
// skipped with a warning; the merged result must pass validation.
func (s *SettingsService) Get() (*domain.Settings, error) {
	settings := s.resolve()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Set validates and stores one key.
func (s *SettingsService) Set(key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	def, ok := settingKeys[key]
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}
	parsed, err := parseSetting(def.kind, strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%w: %s expects a %s: %w", domain.ErrInvalidInput, key, def.kind, err)
	}
	if n, isInt := parsed.(int); isInt && n < 0 {
		return fmt.Errorf("%w: %s must not be negative", domain.ErrInvalidInput, key)
	}

	settings := s.resolve()
	def.apply(&settings, parsed)
	if err := settings.Validate(); err != nil {
		return err
	}

	stored := parsed
	if d, isDuration := parsed.(time.Duration); isDuration {
		stored = d.String()
	}
	return s.configStore.Set(key, stored)
}

// Keys returns the recognised setting keys, sorted.
func (s *SettingsService) Keys() []string {
	keys := make([]string, 0, len(settingKeys))
	for k := range settingKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.Settings {
	return domain.DefaultSettings()
}

// resolve merges every source over the defaults without validating.
func (s *SettingsService) resolve() domain.Settings {
	settings := domain.DefaultSettings()
	for _, key := range s.Keys() {
		def := settingKeys[key]
		raw, ok := s.configStore.Get(key)
		if !ok {
			continue
		}
		v, err := parseSetting(def.kind, raw)
		if err != nil {
			logger.Warn("ignoring %s in %s: %v", key, s.configStore.Path(), err)
			continue
		}
		def.apply(&settings, v)
	}

	for _, o := range envOverrides {
		raw, ok := s.env(o.env)
		if !ok || raw == "" {
			continue
		}
		def := settingKeys[o.key]
		v, err := parseSetting(def.kind, raw)
		if err != nil {
			logger.Warn("ignoring %s: %v", o.env, err)
			continue
		}
		def.apply(&settings, v)
	}
	return settings
}

// env reads the process environment first, then the .env overlay.
func (s *SettingsService) env(name string) (string, bool) {
	if v, ok := s.lookupEnv(name); ok {
		return v, true
	}
	v, ok := s.dotenv[name]
	return v, ok
}

// parseSetting converts a stored or typed value to the Go type of kind.
func parseSetting(kind settingKind, raw any) (any, error) {
	switch kind {
	case kindString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case fmt.Stringer:
			return v.String(), nil
		default:
			return fmt.Sprint(v), nil
		}
	case kindInt:
		if str, ok := raw.(string); ok {
			return strconv.Atoi(str)
		}
		f, ok := floatValue(raw)
		if !ok || f != float64(int(f)) {
			return nil, fmt.Errorf("invalid integer %v", raw)
		}
		return int(f), nil
	case kindFloat:
		f, ok := floatValue(raw)
		if !ok {
			return nil, fmt.Errorf("invalid number %v", raw)
		}
		return f, nil
	case kindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(v)
		default:
			return nil, fmt.Errorf("invalid boolean %v", raw)
		}
	case kindDuration:
		switch v := raw.(type) {
		case time.Duration:
			return v, nil
		case string:
			return time.ParseDuration(v)
		default:
			return nil, fmt.Errorf("invalid duration %v", raw)
		}
	default:
		return nil, fmt.Errorf("unsupported setting kind %d", kind)
	}
}
