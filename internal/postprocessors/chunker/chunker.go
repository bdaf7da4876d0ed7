// Package chunker splits preprocessed text into token-bounded windows.
//
// With a tokenizer, windows hold at most MaxTokens tokens and consecutive
// windows of a segment share OverlapTokens tokens. Without one, windows are
// MaxTokens*4 runes with no overlap. Text is first split into segments
// according to a domain.ChunkMode; windows never cross a segment boundary.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Defaults.
const (
	DefaultMaxTokens     = 512
	DefaultOverlapTokens = 64
	DefaultTokenizer     = "cl100k_base"

	// charsPerToken sizes the character fallback windows.
	charsPerToken = 4
)

// Chunker splits text into chunks.
type Chunker struct {
	maxTokens     int
	overlapTokens int
	tokenizerName string
	tokenizer     driven.Tokenizer
	tokenizerSet  bool
}

// Option configures the chunker.
type Option func(*Chunker)

// WithMaxTokens sets the window size in tokens. Non-positive values are ignored.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithOverlapTokens sets the overlap in tokens. Negative values are ignored.
func WithOverlapTokens(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlapTokens = n
		}
	}
}

// WithTokenizerName selects the tiktoken encoding to load.
func WithTokenizerName(name string) Option {
	return func(c *Chunker) {
		if name != "" {
			c.tokenizerName = name
		}
	}
}

// WithTokenizer sets the tokenizer directly. A nil tokenizer selects the
// character fallback.
func WithTokenizer(t driven.Tokenizer) Option {
	return func(c *Chunker) {
		c.tokenizer = t
		c.tokenizerSet = true
	}
}

// New creates a chunker. Unless WithTokenizer is given, the named tiktoken
// encoding is loaded; when that fails the chunker uses character windows.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		maxTokens:     DefaultMaxTokens,
		overlapTokens: DefaultOverlapTokens,
		tokenizerName: DefaultTokenizer,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.overlapTokens >= c.maxTokens {
		c.overlapTokens = c.maxTokens / 2
	}

	if !c.tokenizerSet {
		tok, err := NewTiktoken(c.tokenizerName)
		if err != nil {
			logger.Warn("tokenizer %s unavailable, using character windows: %v", c.tokenizerName, err)
		} else {
			c.tokenizer = tok
		}
	}

	return c
}

// MaxTokens returns the window size.
func (c *Chunker) MaxTokens() int {
	return c.maxTokens
}

// OverlapTokens returns the effective overlap.
func (c *Chunker) OverlapTokens() int {
	return c.overlapTokens
}

// UsesTokenizer reports whether token windows are produced.
func (c *Chunker) UsesTokenizer() bool {
	return c.tokenizer != nil
}

// Tokenizer returns the tokenizer in use, or nil on the fallback path.
func (c *Chunker) Tokenizer() driven.Tokenizer {
	return c.tokenizer
}

// Chunk windows the whole text as a single segment.
func (c *Chunker) Chunk(text string) []domain.Chunk {
	return c.ChunkMode(text, domain.ChunkModePlain)
}

// ChunkMode segments text according to mode and windows each segment.
// Indices are dense across all segments. Empty input yields no chunks.
func (c *Chunker) ChunkMode(text string, mode domain.ChunkMode) []domain.Chunk {
	segments := Segments(text, mode)

	var chunks []domain.Chunk
	for si, segment := range segments {
		for _, w := range c.windows(segment) {
			w.Index = len(chunks)
			w.Segment = si
			chunks = append(chunks, w)
		}
	}
	return chunks
}

func (c *Chunker) windows(segment string) []domain.Chunk {
	if strings.TrimSpace(segment) == "" {
		return nil
	}
	if c.tokenizer != nil {
		return c.tokenWindows(segment)
	}
	return c.charWindows(segment)
}

// tokenWindows emits windows of at most maxTokens tokens. A window end is
// pulled back while it would split a UTF-8 sequence and the next start is
// pushed forward for the same reason, so decoding a window's token range
// always yields its text exactly.
func (c *Chunker) tokenWindows(segment string) []domain.Chunk {
	tokens := c.tokenizer.Encode(segment)
	if len(tokens) == 0 {
		return nil
	}

	var out []domain.Chunk
	start := 0
	for start < len(tokens) {
		end := min(start+c.maxTokens, len(tokens))
		text := c.tokenizer.Decode(tokens[start:end])
		for end < len(tokens) && end-start > 1 && !utf8.ValidString(text) {
			end--
			text = c.tokenizer.Decode(tokens[start:end])
		}

		if strings.TrimSpace(text) != "" {
			out = append(out, domain.Chunk{Text: text, Start: start, End: end})
		}
		if end >= len(tokens) {
			break
		}

		next := end - c.overlapTokens
		for next > start && next < end && !utf8.ValidString(c.tokenizer.Decode(tokens[next:end])) {
			next++
		}
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// charWindows emits rune windows of maxTokens*4 with no overlap.
func (c *Chunker) charWindows(segment string) []domain.Chunk {
	size := c.maxTokens * charsPerToken
	if size <= 0 {
		size = DefaultMaxTokens
	}

	runes := []rune(segment)
	var out []domain.Chunk
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		text := string(runes[start:end])
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, domain.Chunk{Text: text, Start: start, End: end})
	}
	return out
}
