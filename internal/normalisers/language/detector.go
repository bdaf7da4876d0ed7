// Package language guesses the language of ingested text.
package language

import (
	"github.com/abadojack/whatlanggo"

	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// Ensure both detectors implement the interface.
var (
	_ driven.LanguageDetector = (*Whatlang)(nil)
	_ driven.LanguageDetector = (*Noop)(nil)
)

// DefaultMinConfidence is the confidence below which a guess is discarded.
const DefaultMinConfidence = 0.5

// Whatlang detects languages with the whatlanggo trigram model.
type Whatlang struct {
	minConfidence float64
}

// NewWhatlang creates a detector that only reports confident guesses.
func NewWhatlang(minConfidence float64) *Whatlang {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Whatlang{minConfidence: minConfidence}
}

// Detect returns the ISO 639-1 code of the text's language.
// A panic inside the model is treated as an unknown language.
func (d *Whatlang) Detect(text string) (code string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			code, ok = "", false
		}
	}()

	info := whatlanggo.Detect(text)
	if info.Lang < 0 || info.Confidence < d.minConfidence {
		return "", false
	}
	code = info.Lang.Iso6391()
	return code, code != ""
}

// Noop never detects a language.
type Noop struct{}

// Detect always reports no language.
func (Noop) Detect(string) (string, bool) {
	return "", false
}
