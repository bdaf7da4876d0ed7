package chunker

import (
	"regexp"
	"strings"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

var (
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
	headingPrefix  = regexp.MustCompile(`^(?:#{1,6}\s+|\d+\.\s+|[-*+]\s+)`)
	speakerPrefix  = regexp.MustCompile(`^\s*[^:：]+[:：]`)
)

// Segments splits text into the units the chunker windows independently.
// Unknown modes behave like plain. Blank segments are dropped.
func Segments(text string, mode domain.ChunkMode) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	switch mode {
	case domain.ChunkModeParagraph:
		return paragraphs(text)
	case domain.ChunkModeTopic:
		return topics(text)
	case domain.ChunkModeChat:
		return turns(text)
	default:
		return []string{text}
	}
}

// paragraphs splits on blank lines and joins the lines of each paragraph
// with a single space.
func paragraphs(text string) []string {
	var out []string
	for _, block := range paragraphBreak.Split(text, -1) {
		lines := strings.Split(block, "\n")
		parts := make([]string, 0, len(lines))
		for _, line := range lines {
			if line = strings.TrimSpace(line); line != "" {
				parts = append(parts, line)
			}
		}
		if len(parts) > 0 {
			out = append(out, strings.Join(parts, " "))
		}
	}
	return out
}

// topics groups paragraphs; a heading paragraph closes the current group
// and opens the next one.
func topics(text string) []string {
	var (
		out     []string
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			out = append(out, strings.Join(current, "\n\n"))
			current = nil
		}
	}

	for _, p := range paragraphs(text) {
		if headingPrefix.MatchString(p) {
			flush()
		}
		current = append(current, p)
	}
	flush()
	return out
}

// turns groups lines into speaker turns. Lines without a speaker prefix
// continue the buffered turn.
func turns(text string) []string {
	var (
		out     []string
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			out = append(out, strings.Join(current, "\n"))
			current = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if speakerPrefix.MatchString(line) {
			flush()
		}
		current = append(current, line)
	}
	flush()
	return out
}
