package domain

// ChunkMode selects how text is segmented before windowing.
type ChunkMode string

// Available chunk modes.
const (
	// ChunkModePlain windows the whole text as one segment.
	ChunkModePlain ChunkMode = "plain"

	// ChunkModeParagraph windows each blank-line separated paragraph.
	ChunkModeParagraph ChunkMode = "paragraph"

	// ChunkModeTopic groups paragraphs until a heading line.
	ChunkModeTopic ChunkMode = "topic"

	// ChunkModeChat splits at speaker prefixes such as "alice:".
	ChunkModeChat ChunkMode = "chat"
)

// IsValid returns true if the mode is recognised.
func (m ChunkMode) IsValid() bool {
	switch m {
	case ChunkModePlain, ChunkModeParagraph, ChunkModeTopic, ChunkModeChat:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (m ChunkMode) String() string {
	return string(m)
}

// DocumentType returns the audit record type for the mode.
func (m ChunkMode) DocumentType() string {
	if m == ChunkModeChat {
		return "chat"
	}
	return "document"
}

// Chunk is a window produced by the chunker.
type Chunk struct {
	// Index is 0-based and dense across the whole text.
	Index int

	// Text is the window content.
	Text string

	// Start and End are token offsets within the segment on the tokenizer
	// path, rune offsets on the character fallback.
	Start int
	End   int

	// Segment is the ordinal of the paragraph, topic or turn the window came from.
	Segment int
}
