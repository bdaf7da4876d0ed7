package domain

// PreprocessOptions switches individual cleaning steps.
type PreprocessOptions struct {
	StripHTML          bool
	NormalizeUnicode   bool
	CollapseWhitespace bool
	PreserveLineBreaks bool
	Lowercase          bool
	DetectLanguage     bool
}

// DefaultPreprocessOptions returns the defaults: everything on except lowercasing.
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		StripHTML:          true,
		NormalizeUnicode:   true,
		CollapseWhitespace: true,
		PreserveLineBreaks: true,
		Lowercase:          false,
		DetectLanguage:     true,
	}
}

// Preprocessed is the output of the preprocessor.
type Preprocessed struct {
	Text string

	// Language is an ISO 639-1 code, empty when detection failed or was off.
	Language string

	// Metadata is a copy of the input metadata with char_length and
	// language added when the caller did not set them.
	Metadata map[string]any
}
