package driving

import "github.com/custodia-labs/sercha-kb/internal/core/domain"

// SettingsService manages application settings.
type SettingsService interface {
	// Get returns stored settings merged over the defaults.
	Get() (*domain.Settings, error)

	// Set validates and stores one key.
	Set(key, value string) error

	// Keys returns the recognised setting keys.
	Keys() []string

	// GetDefaults returns default settings.
	GetDefaults() domain.Settings
}
