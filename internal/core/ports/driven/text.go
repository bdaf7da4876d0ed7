package driven

// HTMLStripper removes markup and decodes entities.
// Script, style and similar non-text elements are removed with their content.
type HTMLStripper interface {
	Strip(text string) string
}

// LanguageDetector guesses the language of a text.
// It never fails: ok is false when no language could be determined.
type LanguageDetector interface {
	Detect(text string) (code string, ok bool)
}

// Tokenizer encodes text to token ids and back.
type Tokenizer interface {
	// Name returns the encoding name (e.g., cl100k_base).
	Name() string

	Encode(text string) []int
	Decode(tokens []int) string
}
