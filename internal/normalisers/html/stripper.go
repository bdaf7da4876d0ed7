// Package html removes markup from ingested text.
//
// TokenStripper walks the input with the golang.org/x/net/html tokenizer and
// is the default. RegexStripper is the fallback used when tokenizing is
// switched off; both drop script-like elements with their content, turn
// block elements into line breaks and decode entities.
package html

import (
	"bytes"
	"errors"
	"html"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/custodia-labs/sercha-kb/internal/core/ports/driven"
)

// Ensure both strippers implement the interface.
var (
	_ driven.HTMLStripper = (*TokenStripper)(nil)
	_ driven.HTMLStripper = (*RegexStripper)(nil)
)

// skipped elements are removed together with their content.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
}

// block elements are rendered as line breaks.
var block = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Hr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Ul: true, atom.Ol: true, atom.Tr: true, atom.Table: true,
	atom.Blockquote: true, atom.Pre: true, atom.Section: true, atom.Article: true,
	atom.Header: true, atom.Footer: true, atom.Title: true,
}

// looksLikeMarkup is a cheap pre-check so plain prose skips tokenizing.
func looksLikeMarkup(text string) bool {
	return strings.ContainsAny(text, "<&")
}

// TokenStripper strips markup with the x/net/html tokenizer.
type TokenStripper struct{}

// NewTokenStripper creates the tokenizer-based stripper.
func NewTokenStripper() *TokenStripper {
	return &TokenStripper{}
}

// Strip returns the text content of the input.
func (s *TokenStripper) Strip(text string) string {
	if !looksLikeMarkup(text) {
		return text
	}

	var b bytes.Buffer
	z := nethtml.NewTokenizer(strings.NewReader(text))
	depth := 0
	for {
		tt := z.Next()
		switch tt {
		case nethtml.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return b.String()
			}
			// Malformed input: fall back to the regex stripper.
			return NewRegexStripper().Strip(text)
		case nethtml.TextToken:
			if depth == 0 {
				b.Write(z.Text())
			}
		case nethtml.StartTagToken, nethtml.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipped[a] && tt == nethtml.StartTagToken {
				depth++
			}
			if block[a] && depth == 0 {
				b.WriteByte('\n')
			}
		case nethtml.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if skipped[a] && depth > 0 {
				depth--
				continue
			}
			if block[a] && depth == 0 {
				b.WriteByte('\n')
			}
		}
	}
}

// Pre-compiled regular expressions for the fallback stripper.
var (
	titleTag          = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	scriptTag         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	noscriptTag       = regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`)
	templateTag       = regexp.MustCompile(`(?is)<template[^>]*>.*?</template>`)
	svgTag            = regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`)
	htmlComments      = regexp.MustCompile(`(?s)<!--.*?-->`)
	closeBlockElement = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|ul|ol|tr|table|blockquote|pre|section|article|header|footer|title)>`)
	openBlockElement  = regexp.MustCompile(`(?i)<(p|div|h[1-6]|li|ul|ol|tr|table|blockquote|pre|section|article|header|footer|title)(\s[^>]*)?>`)
	breakTags         = regexp.MustCompile(`(?i)<(br|hr)\s*/?>`)
	allTags           = regexp.MustCompile(`<[^>]+>`)
)

// RegexStripper strips markup with regular expressions.
type RegexStripper struct{}

// NewRegexStripper creates the regex-based fallback stripper.
func NewRegexStripper() *RegexStripper {
	return &RegexStripper{}
}

// Strip returns the text content of the input.
func (s *RegexStripper) Strip(text string) string {
	if !looksLikeMarkup(text) {
		return text
	}

	for _, re := range []*regexp.Regexp{scriptTag, styleTag, noscriptTag, templateTag, svgTag, htmlComments} {
		text = re.ReplaceAllString(text, "")
	}
	text = openBlockElement.ReplaceAllString(text, "\n")
	text = closeBlockElement.ReplaceAllString(text, "\n")
	text = breakTags.ReplaceAllString(text, "\n")
	text = allTags.ReplaceAllString(text, "")

	return html.UnescapeString(text)
}

// ExtractTitle returns the <title> of a page, or a title derived from the
// file name when the page has none.
func ExtractTitle(content, path string) string {
	if matches := titleTag.FindStringSubmatch(content); len(matches) > 1 {
		if title := strings.TrimSpace(html.UnescapeString(matches[1])); title != "" {
			return title
		}
	}

	filename := filepath.Base(path)
	filename = strings.TrimSuffix(filename, filepath.Ext(filename))
	filename = strings.ReplaceAll(filename, "_", " ")
	return strings.ReplaceAll(filename, "-", " ")
}
