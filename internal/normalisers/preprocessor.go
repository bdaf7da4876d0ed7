package normalisers

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/normalisers/html"
	"github.com/custodia-labs/sercha-kb/internal/normalisers/language"
)

// languageSampleRunes is how much of the cleaned text the detector sees.
const languageSampleRunes = 1000

// Metadata keys added by the preprocessor.
const (
	MetaCharLength = "char_length"
	MetaLanguage   = "language"
)

// Preprocessor cleans text for chunking.
type Preprocessor struct {
	opts     domain.PreprocessOptions
	stripper driven.HTMLStripper
	detector driven.LanguageDetector
}

// Option configures the preprocessor.
type Option func(*Preprocessor)

// WithOptions sets which cleaning steps run.
func WithOptions(opts domain.PreprocessOptions) Option {
	return func(p *Preprocessor) {
		p.opts = opts
	}
}

// WithStripper replaces the HTML stripper.
func WithStripper(s driven.HTMLStripper) Option {
	return func(p *Preprocessor) {
		if s != nil {
			p.stripper = s
		}
	}
}

// WithDetector replaces the language detector.
func WithDetector(d driven.LanguageDetector) Option {
	return func(p *Preprocessor) {
		if d != nil {
			p.detector = d
		}
	}
}

// NewPreprocessor creates a preprocessor with the default steps, the
// tokenizer-based HTML stripper and the whatlanggo detector.
func NewPreprocessor(opts ...Option) *Preprocessor {
	p := &Preprocessor{
		opts:     domain.DefaultPreprocessOptions(),
		stripper: html.NewTokenStripper(),
		detector: language.NewWhatlang(language.DefaultMinConfidence),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run cleans text and returns it with enriched metadata.
// The input metadata map is never modified.
func (p *Preprocessor) Run(text string, metadata map[string]any) (*domain.Preprocessed, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyInput
	}

	cleaned := text
	if p.opts.StripHTML {
		cleaned = p.stripper.Strip(cleaned)
	}
	if p.opts.NormalizeUnicode {
		cleaned = norm.NFKC.String(cleaned)
	}
	if p.opts.CollapseWhitespace {
		cleaned = CollapseWhitespace(cleaned, p.opts.PreserveLineBreaks)
	}
	if p.opts.Lowercase {
		cleaned = strings.ToLower(cleaned)
	}
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil, domain.ErrEmptyInput
	}

	out := &domain.Preprocessed{
		Text:     cleaned,
		Metadata: copyMetadata(metadata),
	}

	if p.opts.DetectLanguage {
		if code, ok := p.detector.Detect(firstRunes(cleaned, languageSampleRunes)); ok {
			out.Language = code
		}
	}

	if _, exists := out.Metadata[MetaCharLength]; !exists {
		out.Metadata[MetaCharLength] = len([]rune(cleaned))
	}
	if out.Language != "" {
		if _, exists := out.Metadata[MetaLanguage]; !exists {
			out.Metadata[MetaLanguage] = out.Language
		}
	}

	return out, nil
}

// CollapseWhitespace replaces each whitespace run with a single space.
// With keepBreaks, a run holding one line break becomes "\n" and a run
// holding two or more becomes "\n\n".
func CollapseWhitespace(s string, keepBreaks bool) string {
	var b strings.Builder
	b.Grow(len(s))

	inRun := false
	breaks := 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			inRun = true
			if r == '\n' {
				breaks++
			}
			continue
		}
		if inRun {
			switch {
			case keepBreaks && breaks >= 2:
				b.WriteString("\n\n")
			case keepBreaks && breaks == 1:
				b.WriteByte('\n')
			default:
				b.WriteByte(' ')
			}
			inRun = false
			breaks = 0
		}
		b.WriteRune(r)
	}
	return b.String()
}

// firstRunes returns at most n runes of s.
func firstRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// copyMetadata creates a shallow copy of metadata, never nil.
func copyMetadata(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src)+2)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
