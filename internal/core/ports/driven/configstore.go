package driven

// ConfigStore holds user settings under flat dotted keys such as
// "vector.collection". Typed getters return the zero value when a key is
// missing or holds another type.
type ConfigStore interface {
	Get(key string) (any, bool)
	GetString(key string) string
	GetInt(key string) int
	GetFloat(key string) float64
	GetBool(key string) bool

	// Set stores value and persists it before returning.
	Set(key string, value any) error

	// Keys lists the stored keys in sorted order.
	Keys() []string

	// Save writes every value to the backing storage.
	Save() error

	// Load replaces the values with those in the backing storage.
	Load() error

	// Path locates the backing storage for display.
	Path() string
}
